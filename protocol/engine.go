package protocol

import (
	"context"
	"io"
	"net"
	"sync"

	"github.com/nebuladb/nebula-core/auth"
	"github.com/nebuladb/nebula-core/broadcast"
	"github.com/nebuladb/nebula-core/catalog"
	"github.com/nebuladb/nebula-core/exec"
	"github.com/nebuladb/nebula-core/frame"
	"github.com/nebuladb/nebula-core/logging"
)

// Config bounds the Engine's protocol negotiation and default session behavior.
type Config struct {
	// MinProtocol and MaxProtocol are the inclusive protocol version range this Engine supports.
	MinProtocol ProtocolVersion
	MaxProtocol ProtocolVersion

	// SystemDatabases names databases a client may never connect to directly (refused with AccessError).
	SystemDatabases []string

	// DefaultCapabilities is the capability mask a newly authenticated connection's View starts with,
	// absent an ALLOW_CAPABILITIES header narrowing a particular request further.
	DefaultCapabilities catalog.Capability

	// QueryCacheEnabled controls whether new connections' compiled-query cache lookups are active.
	QueryCacheEnabled bool
}

// Engine is the process-wide Protocol Engine: one instance serves every accepted connection, each on its
// own goroutine, sharing the catalog.Registry, Compiler, backend Pool, and auth Method passed in at
// construction (no package-level globals, per the Design Notes).
type Engine struct {
	cfg      Config
	registry *catalog.Registry
	compiler Compiler
	pool     exec.Pool
	authMethod auth.Method
	logger   *logging.Logger

	// publisher fans out schema-changing commits to sibling processes. A nil publisher (the default,
	// and what Publish on a nil *broadcast.Publisher safely no-ops for) simply skips cross-process
	// invalidation, matching a deployment with the Redis path disabled.
	publisher *broadcast.Publisher

	// dumpRestorer backs the Dump and Restore frames. A nil dumpRestorer (the default) fails every Dump
	// and Restore request closed with UnsupportedFeatureError instead of silently producing nothing.
	dumpRestorer DumpRestorer

	wg sync.WaitGroup
}

// SetPublisher installs pub as this Engine's cross-process invalidation publisher. It must be called
// before Serve is invoked for the first connection; it is not safe for concurrent use with Serve.
func (e *Engine) SetPublisher(pub *broadcast.Publisher) {
	e.publisher = pub
}

// SetDumpRestorer installs dr as this Engine's Dump/Restore subsystem. It must be called before Serve is
// invoked for the first connection; it is not safe for concurrent use with Serve.
func (e *Engine) SetDumpRestorer(dr DumpRestorer) {
	e.dumpRestorer = dr
}

// NewEngine builds an Engine from its explicit collaborators.
func NewEngine(cfg Config, registry *catalog.Registry, compiler Compiler, pool exec.Pool, authMethod auth.Method, logger *logging.Logger) *Engine {
	return &Engine{
		cfg:        cfg,
		registry:   registry,
		compiler:   compiler,
		pool:       pool,
		authMethod: authMethod,
		logger:     logger,
	}
}

// Serve drives one accepted connection end to end: handshake, authentication, and the main loop, until
// the client terminates, an unrecoverable error occurs, or ctx is canceled. It always closes netConn.
func (e *Engine) Serve(ctx context.Context, netConn net.Conn) error {
	e.wg.Add(1)
	defer e.wg.Done()
	defer netConn.Close()

	c := &connState{
		engine: e,
		r:      frame.NewReader(netConn),
		w:      frame.NewWriter(netConn),
	}

	err := c.run(ctx)
	if err != nil && err != io.EOF {
		e.logger.Debugf("connection %s closed: %v", netConn.RemoteAddr(), err)
	}

	return err
}

// Shutdown blocks until every in-flight Serve call has returned, or ctx is canceled.
func (e *Engine) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
