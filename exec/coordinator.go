// Package exec implements the Execution Coordinator: given a compiled query unit group, bound arguments,
// a session view, and a borrowed backend connection, it drives per-unit SQL execution, DDL bookkeeping,
// and config-op side effects.
package exec

import (
	"context"

	"github.com/nebuladb/nebula-core/catalog"
	"github.com/nebuladb/nebula-core/nebulaerr"
	"github.com/nebuladb/nebula-core/session"
)

// Conn is the out-of-scope backend SQL driver collaborator, referenced only by interface.
type Conn interface {
	// SQLExecute runs one or more non-DDL SQL statements as a single backend call,
	// applying state on the first statement if state is non-nil.
	SQLExecute(ctx context.Context, sqls []string, state []byte) error

	// RunDDL runs a DDL statement, returning any newly minted backend type ids.
	RunDDL(ctx context.Context, unit *catalog.QueryUnit, state []byte) (newTypes map[string]any, err error)

	// ParseExecuteJSON runs a unit whose result must be produced as a JSON document, used by the HTTP
	// adapter's thin EdgeQL-equivalent path.
	ParseExecuteJSON(ctx context.Context, sql string, args map[string]any) ([]byte, error)

	// LastState returns the state blob most recently applied to this connection, or nil if none has
	// been applied yet.
	LastState() []byte

	// SetLastState records the state blob most recently applied to this connection.
	SetLastState([]byte)
}

// Pool borrows and releases backend connections for the duration of one unit group's execution.
type Pool interface {
	Acquire(ctx context.Context) (Conn, error)
	Release(Conn)
}

// Run drives group's units against a connection borrowed from pool, applying view state and propagating
// SideEffects. It always releases the borrowed connection, on every exit path.
func Run(ctx context.Context, pool Pool, view *session.View, registry *catalog.Registry, group *catalog.QueryUnitGroup) (session.SideEffects, error) {
	var totalEffects session.SideEffects

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return 0, nebulaerr.NewBackendError(err)
	}
	defer pool.Release(conn)

	var state []byte
	if serialized := view.SerializeState(); string(conn.LastState()) != string(serialized) {
		state = serialized
	}

	for _, unit := range group.Units {
		if view.InTxError() && !unit.TxRollback && !unit.TxSavepointRollback {
			return totalEffects, nebulaerr.NewTransactionError("current transaction is aborted, commands ignored until end of transaction block")
		}

		if err := view.Start(unit); err != nil {
			return totalEffects, err
		}

		newTypes, runErr := runUnit(ctx, conn, unit, state)
		state = nil // state is only ever applied to the first SQL statement issued for the group

		if runErr != nil {
			view.OnError(backendLeftTransaction(runErr))
			return totalEffects, runErr
		}

		effects, err := view.OnSuccess(unit, newTypes)
		if err != nil {
			return totalEffects, err
		}

		totalEffects |= effects

		view.AfterDropDatabase(unit, registry)
		view.AfterDropNamespace(unit)
	}

	if !view.InTx() {
		conn.SetLastState(view.SerializeState())
	}

	return totalEffects, nil
}

func runUnit(ctx context.Context, conn Conn, unit *catalog.QueryUnit, state []byte) (map[string]any, error) {
	switch {
	case unit.IsDDL():
		return conn.RunDDL(ctx, unit, state)
	case unit.IsTransactional:
		return nil, conn.SQLExecute(ctx, unit.SQL, state)
	default:
		for i, sql := range unit.SQL {
			var s []byte
			if i == 0 {
				s = state
			}

			if err := conn.SQLExecute(ctx, []string{sql}, s); err != nil {
				return nil, err
			}
		}

		return nil, nil
	}
}

// backendLeftTransaction reports whether err indicates the backend connection has already exited its
// SQL-level transaction, e.g. a failed COMMIT, meaning the view must abort its own frame rather than
// merely flag it errored.
func backendLeftTransaction(err error) bool {
	_, isBackend := nebulaerr.AsKind(err).(*nebulaerr.BackendError)
	return isBackend
}
