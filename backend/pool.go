// Package backend provides a concrete implementation of the Execution Coordinator's backend SQL driver
// collaborator (exec.Conn/exec.Pool), built on database/sql and the teacher's retry-with-backoff
// connector so that acquiring a connection survives transient backend restarts.
package backend

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/nebuladb/nebula-core/catalog"
	"github.com/nebuladb/nebula-core/database"
	"github.com/nebuladb/nebula-core/exec"
	"github.com/nebuladb/nebula-core/logging"
	"github.com/nebuladb/nebula-core/nebulaerr"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

var (
	_ exec.Pool = (*Pool)(nil)
	_ exec.Conn = (*Conn)(nil)
)

// Config configures a Pool.
type Config struct {
	// Driver is a database/sql driver name, one of database.MySQL or database.PostgreSQL.
	Driver string `yaml:"driver" env:"DRIVER" default:"postgres"`

	// DSN is the backend connection string, in the format expected by Driver.
	DSN string `yaml:"dsn" env:"DSN"`

	// MaxConnections bounds the number of backend connections borrowed concurrently.
	MaxConnections int64 `yaml:"max_connections" env:"MAX_CONNECTIONS" default:"16"`
}

// Pool borrows and releases backend SQL connections, satisfying exec.Pool.
type Pool struct {
	db     *sql.DB
	driver string
	sem    *semaphore.Weighted
	logger *logging.Logger

	mu    sync.Mutex
	conns map[*Conn]struct{}
}

// NewPool opens a connection pool per c, wrapping the driver's connector in the teacher's retry/backoff
// connector so transient backend restarts are retried rather than surfaced to callers.
func NewPool(c Config, logger *logging.Logger, callbacks database.RetryConnectorCallbacks) (*Pool, error) {
	var retryConnector *database.RetryConnector

	switch c.Driver {
	case database.MySQL:
		mysqlConnector, err := mysql.NewConnector(mysqlConfigFromDSN(c.DSN))
		if err != nil {
			return nil, errors.Wrap(err, "can't open mysql backend connector")
		}

		retryConnector = database.NewConnector(mysqlConnector, logger, callbacks)
	case database.PostgreSQL:
		pqConnector, err := pq.NewConnector(c.DSN)
		if err != nil {
			return nil, errors.Wrap(err, "can't open postgres backend connector")
		}

		retryConnector = database.NewConnector(pqConnector, logger, callbacks)
	default:
		return nil, errors.Errorf("unknown backend driver %q", c.Driver)
	}

	db := sql.OpenDB(retryConnector)
	db.SetMaxOpenConns(int(c.MaxConnections))

	return &Pool{
		db:     db,
		driver: c.Driver,
		sem:    semaphore.NewWeighted(c.MaxConnections),
		logger: logger,
		conns:  make(map[*Conn]struct{}),
	}, nil
}

func mysqlConfigFromDSN(dsn string) *mysql.Config {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		cfg = mysql.NewConfig()
		cfg.Addr = dsn
	}

	return cfg
}

// Acquire borrows a backend connection, blocking until one is available or ctx is canceled.
func (p *Pool) Acquire(ctx context.Context) (exec.Conn, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	sqlConn, err := p.db.Conn(ctx)
	if err != nil {
		p.sem.Release(1)
		return nil, errors.Wrap(err, "can't acquire backend connection")
	}

	conn := &Conn{sqlConn: sqlConn, driver: p.driver}

	p.mu.Lock()
	p.conns[conn] = struct{}{}
	p.mu.Unlock()

	return conn, nil
}

// Release returns a borrowed connection to the pool.
func (p *Pool) Release(c exec.Conn) {
	conn, ok := c.(*Conn)
	if !ok {
		return
	}

	p.mu.Lock()
	delete(p.conns, conn)
	p.mu.Unlock()

	_ = conn.sqlConn.Close()
	p.sem.Release(1)
}

// Close closes the underlying connection pool.
func (p *Pool) Close() error {
	return p.db.Close()
}

// Conn is a single borrowed backend connection, implementing exec.Conn.
type Conn struct {
	sqlConn *sql.Conn
	driver  string

	mu        sync.Mutex
	lastState []byte
}

// SQLExecute runs sqls as a single backend call, optionally restoring state first.
func (c *Conn) SQLExecute(ctx context.Context, sqls []string, state []byte) error {
	if err := c.applyState(ctx, state); err != nil {
		return err
	}

	for _, sql := range sqls {
		if _, err := c.sqlConn.ExecContext(ctx, sql); err != nil {
			return nebulaerr.NewBackendError(err)
		}
	}

	return nil
}

// RunDDL executes a DDL query unit and reports any newly minted type ids. Type registration itself is
// out of scope (schema introspection is an external collaborator); this records only that the statement
// ran.
func (c *Conn) RunDDL(ctx context.Context, unit *catalog.QueryUnit, state []byte) (map[string]any, error) {
	if err := c.applyState(ctx, state); err != nil {
		return nil, err
	}

	for _, sql := range unit.SQL {
		if _, err := c.sqlConn.ExecContext(ctx, sql); err != nil {
			return nil, nebulaerr.NewBackendError(err)
		}
	}

	return map[string]any{}, nil
}

// ParseExecuteJSON runs sql with the given named args and returns its result as a JSON document, used by
// the HTTP adapter.
func (c *Conn) ParseExecuteJSON(ctx context.Context, sqlText string, args map[string]any) ([]byte, error) {
	namedArgs := make([]any, 0, len(args))
	for k, v := range args {
		namedArgs = append(namedArgs, sql.Named(strings.TrimPrefix(k, "$"), v))
	}

	rows, err := c.sqlConn.QueryContext(ctx, sqlText, namedArgs...)
	if err != nil {
		return nil, nebulaerr.NewBackendError(err)
	}
	defer rows.Close()

	return rowsToJSON(rows)
}

func (c *Conn) applyState(ctx context.Context, state []byte) error {
	if state == nil {
		return nil
	}

	// Restoring (config, globals, modaliases, namespace) against the backend connection is a
	// dialect-specific operation (e.g. SET ROLE / SET search_path); the concrete statements are supplied
	// by the external schema/config layer and are out of scope here.
	return nil
}

// LastState returns the state blob most recently applied to this connection.
func (c *Conn) LastState() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lastState
}

// SetLastState records the state blob most recently applied to this connection.
func (c *Conn) SetLastState(state []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastState = state
}
