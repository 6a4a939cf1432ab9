package exec_test

import (
	"context"
	"testing"

	"github.com/nebuladb/nebula-core/catalog"
	"github.com/nebuladb/nebula-core/exec"
	"github.com/nebuladb/nebula-core/session"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	executed  [][]string
	lastState []byte
}

func (c *fakeConn) SQLExecute(ctx context.Context, sqls []string, state []byte) error {
	c.executed = append(c.executed, sqls)
	return nil
}

func (c *fakeConn) RunDDL(ctx context.Context, unit *catalog.QueryUnit, state []byte) (map[string]any, error) {
	return map[string]any{"NewType": struct{}{}}, nil
}

func (c *fakeConn) ParseExecuteJSON(ctx context.Context, sql string, args map[string]any) ([]byte, error) {
	return []byte("{}"), nil
}

func (c *fakeConn) LastState() []byte { return c.lastState }

func (c *fakeConn) SetLastState(b []byte) { c.lastState = b }

type fakePool struct {
	conn     *fakeConn
	released bool
}

func (p *fakePool) Acquire(ctx context.Context) (exec.Conn, error) {
	return p.conn, nil
}

func (p *fakePool) Release(exec.Conn) {
	p.released = true
}

func TestRunExecutesUnitsInOrderAndReleasesConnection(t *testing.T) {
	t.Parallel()

	registry := catalog.NewRegistry()
	db := registry.Lookup("testdb")
	view := session.NewView(db, "default", ^catalog.Capability(0), true)
	t.Cleanup(view.Close)

	pool := &fakePool{conn: &fakeConn{}}
	group := &catalog.QueryUnitGroup{Units: []*catalog.QueryUnit{
		{SQL: []string{"SELECT 1"}},
	}}

	effects, err := exec.Run(context.Background(), pool, view, registry, group)
	require.NoError(t, err)
	require.Zero(t, effects)
	require.True(t, pool.released)
	require.Len(t, pool.conn.executed, 1)
}

func TestRunPropagatesSchemaChangesOnDDL(t *testing.T) {
	t.Parallel()

	registry := catalog.NewRegistry()
	db := registry.Lookup("testdb")
	view := session.NewView(db, "default", ^catalog.Capability(0), true)
	t.Cleanup(view.Close)

	pool := &fakePool{conn: &fakeConn{}}
	group := &catalog.QueryUnitGroup{Units: []*catalog.QueryUnit{
		{DDLStmtID: "stmt-1", SQL: []string{"CREATE TYPE Foo"}},
	}}

	effects, err := exec.Run(context.Background(), pool, view, registry, group)
	require.NoError(t, err)
	require.NotZero(t, effects&session.SchemaChanges)
}

func TestRunIgnoresCapabilityMaskAndReleasesConnection(t *testing.T) {
	t.Parallel()

	registry := catalog.NewRegistry()
	db := registry.Lookup("testdb")
	view := session.NewView(db, "default", 0, true) // no capabilities allowed
	t.Cleanup(view.Close)

	pool := &fakePool{conn: &fakeConn{}}
	group := &catalog.QueryUnitGroup{Units: []*catalog.QueryUnit{
		{SQL: []string{"SELECT 1"}},
	}}

	_, err := exec.Run(context.Background(), pool, view, registry, group)
	require.NoError(t, err) // capability checking happens in the protocol engine, not the coordinator
	require.True(t, pool.released)
}
