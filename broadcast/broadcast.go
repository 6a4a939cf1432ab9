// Package broadcast implements the optional cross-process invalidation transport: a Redis pub/sub channel
// that fans out dbver bumps to sibling processes sharing the same backend, alongside the in-memory
// catalog.Subscriber notification the Database Registry already performs within one process.
package broadcast

import (
	"context"
	"encoding/json"

	"github.com/nebuladb/nebula-core/catalog"
	"github.com/nebuladb/nebula-core/logging"
	"github.com/nebuladb/nebula-core/redis"
	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const channelName = "nebula:dbver"

// invalidation is the JSON payload published on commit: the database whose schema changed and the dbver
// it changed to, so a receiver can ignore stale or duplicate notifications.
type invalidation struct {
	Database string `json:"database"`
	DBVer    uint64 `json:"dbver"`
}

// Publisher publishes a commit's dbver bump to every subscribed sibling process. A nil Publisher's Publish
// is a no-op, matching a deployment with the Redis path disabled.
type Publisher struct {
	client *redis.Client
	logger *logging.Logger
}

// NewPublisher returns a Publisher broadcasting over client, or nil if client is nil, so callers can
// construct one unconditionally from an optional configuration value.
func NewPublisher(client *redis.Client, logger *logging.Logger) *Publisher {
	if client == nil {
		return nil
	}

	return &Publisher{client: client, logger: logger}
}

// Publish announces that database has committed DDL, bumping its schema version to dbver. Errors are
// logged, not returned: a broadcast failure must never fail the commit it is reporting.
func (p *Publisher) Publish(ctx context.Context, database string, dbver uint64) {
	if p == nil {
		return
	}

	payload, err := json.Marshal(invalidation{Database: database, DBVer: dbver})
	if err != nil {
		p.logger.Errorw("Can't marshal dbver invalidation", "database", database, "error", err)
		return
	}

	cmd := p.client.Publish(ctx, channelName, payload)
	if err := redis.WrapCmdErr(cmd); err != nil {
		p.logger.Warnw("Can't publish dbver invalidation", "database", database, "error", err)
	}
}

// Subscriber listens for invalidations published by sibling processes and drops the named database from
// the local registry's purview, forcing the next Lookup to rebuild compiled-query state from scratch by
// discarding its cached namespaces.
type Subscriber struct {
	client   *redis.Client
	registry *catalog.Registry
	logger   *logging.Logger
}

// NewSubscriber returns a Subscriber that, once Run, invalidates registry's databases on every remote
// commit notification received over client's pub/sub channel.
func NewSubscriber(client *redis.Client, registry *catalog.Registry, logger *logging.Logger) *Subscriber {
	return &Subscriber{client: client, registry: registry, logger: logger}
}

// Run subscribes to the invalidation channel and processes messages until ctx is canceled or the
// subscription's channel closes, whichever happens first. It is safe to run in its own goroutine for the
// lifetime of the process.
func (s *Subscriber) Run(ctx context.Context) error {
	sub := s.client.Subscribe(ctx, channelName)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return errors.Wrap(err, "can't subscribe to dbver invalidation channel")
	}

	g, ctx := errgroup.WithContext(ctx)
	ch := sub.Channel()

	g.Go(func() error {
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return nil
				}

				s.handle(msg)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	return g.Wait()
}

func (s *Subscriber) handle(msg *goredis.Message) {
	var inv invalidation
	if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
		s.logger.Warnw("Can't unmarshal dbver invalidation", "error", err)
		return
	}

	// Dropping the Database handle outright is coarser than the in-process Subscriber.InvalidateNamespace
	// path (which targets one namespace), but correct: the next Lookup recreates it empty, and every
	// connection view sharing the old handle was already notified in-process when it committed locally.
	s.registry.Drop(inv.Database)
}
