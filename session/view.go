// Package session implements the Connection View: a connection's mutable session state, its transaction
// stack, and its compiled-query cache lookups against the shared catalog.
package session

import (
	"crypto/sha256"
	"sync"

	"github.com/nebuladb/nebula-core/catalog"
	"github.com/nebuladb/nebula-core/nebulaerr"
)

// SideEffects is a bitmask of mutations published by a committed transaction frame, returned from
// OnSuccess so callers can react (e.g. invalidate a backend type-id cache) without re-deriving them.
type SideEffects uint8

const (
	SchemaChanges SideEffects = 1 << iota
	DatabaseConfigChanges
	InstanceConfigChanges
	RoleChanges
	GlobalSchemaChanges
)

// Savepoint is one entry of a transaction frame's savepoint stack.
type Savepoint struct {
	Name       string
	UserSchema any
}

// TransactionFrame is the scoped record of mutations pending commit, created at BEGIN or at the first
// unit of an implicit transaction and discarded on COMMIT/ROLLBACK/abort.
type TransactionFrame struct {
	TxID         string
	DBConfig     map[string]any
	Savepoints   []Savepoint
	UserSchema   any
	BaseUserSchema any
	SchemaMutation bool
	GlobalSchema any
	NewTypes     map[string]any

	WithDDL        bool
	WithRoleDDL    bool
	WithSysConfig  bool
	WithDBConfig   bool
	WithSet        bool

	TxError bool

	// implicit is true for a transaction frame opened implicitly around a single non-tx unit, rather
	// than by an explicit BEGIN.
	implicit bool
}

// NonTxState is the session-visible state that applies outside of any transaction frame.
type NonTxState struct {
	Config         map[string]any
	Globals        map[string]any
	ModAliases     map[string]string
	StateSerializer uint8
}

func newNonTxState() NonTxState {
	return NonTxState{
		Config:     make(map[string]any),
		Globals:    make(map[string]any),
		ModAliases: make(map[string]string),
	}
}

// View is a connection's session state: protocol version, current namespace, capability mask, non-tx
// state, and an optional in-flight transaction frame.
//
// View is owned by exactly one connection goroutine and is not safe for concurrent use, except for the
// InvalidateNamespace callback invoked by the catalog Registry from another connection's goroutine, which
// only ever sets the mutex-guarded stale flag rather than touching other View state.
type View struct {
	mu sync.Mutex

	ProtocolVersion [2]uint16
	Database        *catalog.Database
	NamespaceName   string
	CapabilityMask  catalog.Capability

	nonTx NonTxState
	tx    *TransactionFrame

	queryCacheEnabled bool

	stale bool
}

// NewView creates a View bound to db, with the given namespace, capability mask, and whether this
// connection's compiled-query cache lookups are enabled at all.
func NewView(db *catalog.Database, namespaceName string, capabilities catalog.Capability, queryCacheEnabled bool) *View {
	v := &View{
		Database:          db,
		NamespaceName:     namespaceName,
		CapabilityMask:    capabilities,
		nonTx:             newNonTxState(),
		queryCacheEnabled: queryCacheEnabled,
	}

	db.Subscribe(v)

	return v
}

// Close unsubscribes the View from its Database's schema-change notifications. Called on connection
// teardown.
func (v *View) Close() {
	v.Database.Unsubscribe(v)
}

// InvalidateNamespace implements catalog.Subscriber. It is called from another connection's goroutine
// after that connection committed DDL on the same database; it only flags the View as stale so the next
// LookupCompiledQuery call (on the View's own goroutine) treats any already-cached handle as invalid.
func (v *View) InvalidateNamespace(dbName, nsName string) {
	if dbName != v.Database.Name || nsName != v.NamespaceName {
		return
	}

	v.mu.Lock()
	v.stale = true
	v.mu.Unlock()
}

// InTx reports whether a transaction frame is currently open.
func (v *View) InTx() bool {
	return v.tx != nil
}

// InTxError reports whether the current transaction frame has a prior unit error pending rollback.
func (v *View) InTxError() bool {
	return v.tx != nil && v.tx.TxError
}

// namespace returns this View's current Namespace handle.
func (v *View) namespace() *catalog.Namespace {
	return v.Database.Namespace(v.NamespaceName)
}

// Start applies the intended state changes of unit to the current or a newly-opened transaction frame.
// Per spec, a unit whose TxSavepointRollback is set, or one that errors, toggles TxError; every
// subsequent non-rollback unit then fails with TransactionError until the frame is discarded.
func (v *View) Start(unit *catalog.QueryUnit) error {
	if v.tx != nil && v.tx.TxError && !unit.TxRollback && !unit.TxSavepointRollback {
		return nebulaerr.NewTransactionError("current transaction is aborted, commands ignored until end of transaction block")
	}

	opened := false
	if v.tx == nil {
		v.tx = &TransactionFrame{
			UserSchema:     v.namespace().UserSchema(),
			BaseUserSchema: v.namespace().UserSchema(),
			DBConfig:       make(map[string]any),
			NewTypes:       make(map[string]any),
			implicit:       !isBegin(unit),
		}
		opened = true
	}

	if unit.DDLStmtID != "" {
		v.tx.WithDDL = true
		if unit.CreateDB != "" || unit.DropDB != "" {
			v.tx.WithRoleDDL = true
		}
	}

	if len(unit.SystemConfig) > 0 {
		v.tx.WithSysConfig = true
	}

	for _, op := range unit.ConfigOps {
		switch op.Scope {
		case catalog.ConfigScopeDatabase:
			v.tx.WithDBConfig = true
		case catalog.ConfigScopeSession:
			v.tx.WithSet = true
		}
	}

	_ = opened
	return nil
}

// LookupCompiledQuery returns a cached compilation of fp, if query caching is enabled for this
// connection, no DDL is pending in the current transaction frame (compilation must observe uncommitted
// schema while with_ddl is set), and no cross-connection invalidation has made the View's view of the
// namespace stale.
func (v *View) LookupCompiledQuery(fp catalog.Fingerprint) (*catalog.QueryUnitGroup, bool) {
	if !v.queryCacheEnabled {
		return nil, false
	}

	if v.tx != nil && v.tx.WithDDL {
		return nil, false
	}

	v.mu.Lock()
	stale := v.stale
	v.stale = false
	v.mu.Unlock()

	if stale {
		return nil, false
	}

	return v.namespace().Lookup(fp)
}

// CacheCompiledQuery installs group under fp in the current namespace's compiled cache.
func (v *View) CacheCompiledQuery(fp catalog.Fingerprint, group *catalog.QueryUnitGroup) {
	if !v.queryCacheEnabled {
		return
	}

	v.namespace().Cache(fp, group)
}

// OnSuccess applies unit's committed side effects. If the unit ends the transaction (explicit COMMIT or
// end of an implicit frame), mutations are published to the Database: the namespace's user schema is
// installed, new_types are registered, and the compiled cache is invalidated per the DDL rules enforced
// by catalog.Database.CommitDDL. Of unit's config_ops, only session-scoped ones are applied (to the
// View's non-transaction config); database- and system-scoped ones are not applied anywhere.
func (v *View) OnSuccess(unit *catalog.QueryUnit, newTypes map[string]any) (SideEffects, error) {
	if v.tx == nil {
		return 0, nebulaerr.NewInternalServerError(errNoOpenFrame)
	}

	for k, val := range newTypes {
		v.tx.NewTypes[k] = val
	}

	ends := unit.TxRollback == false && (isCommit(unit) || v.tx.implicit)
	if !ends {
		return 0, nil
	}

	var effects SideEffects

	if v.tx.WithDDL {
		ns := v.namespace()
		if err := v.Database.AcquireIntrospection(contextBackground()); err != nil {
			return 0, nebulaerr.NewInternalServerError(err)
		}

		err := v.Database.CommitDDL(contextBackground(), ns, v.tx.UserSchema, v.tx.NewTypes, v)
		v.Database.ReleaseIntrospection()
		if err != nil {
			return 0, err
		}

		effects |= SchemaChanges
	}

	if v.tx.WithRoleDDL {
		effects |= RoleChanges
	}

	if v.tx.WithSysConfig {
		effects |= InstanceConfigChanges
	}

	if v.tx.WithDBConfig {
		effects |= DatabaseConfigChanges
	}

	if v.tx.GlobalSchema != nil {
		effects |= GlobalSchemaChanges
	}

	v.applyConfigOps(unit.ConfigOps)

	v.tx = nil

	return effects, nil
}

// OnError marks the current transaction frame as errored. If the backend has already left the
// transaction (e.g. a failed COMMIT), it also discards the frame outright via AbortTx.
func (v *View) OnError(backendLeftTx bool) {
	if v.tx == nil {
		return
	}

	v.tx.TxError = true

	if backendLeftTx {
		v.AbortTx()
	}
}

// AbortTx discards the current transaction frame unconditionally.
func (v *View) AbortTx() {
	v.tx = nil
}

// RollbackToSavepoint pops every savepoint above and including name, preserving the frame and clearing
// TxError.
func (v *View) RollbackToSavepoint(name string) error {
	if v.tx == nil {
		return nebulaerr.NewTransactionError("savepoint rollback outside of a transaction")
	}

	idx := -1
	for i, sp := range v.tx.Savepoints {
		if sp.Name == name {
			idx = i
			break
		}
	}

	if idx < 0 {
		return nebulaerr.NewTransactionError("savepoint " + name + " does not exist")
	}

	restored := v.tx.Savepoints[idx]
	v.tx.Savepoints = v.tx.Savepoints[:idx]
	v.tx.UserSchema = restored.UserSchema
	v.tx.TxError = false

	return nil
}

// SerializeState produces an opaque byte blob summarizing non-tx session config, globals, modaliases, and
// namespace, stable for equal states and compared by equality against a backend connection's last applied
// state.
func (v *View) SerializeState() []byte {
	h := sha256.New()
	h.Write([]byte(v.NamespaceName))

	for _, m := range []map[string]any{v.nonTx.Config, v.nonTx.Globals} {
		for _, k := range sortedKeys(m) {
			h.Write([]byte(k))
			writeAny(h, m[k])
		}
	}

	for _, k := range sortedStringKeys(v.nonTx.ModAliases) {
		h.Write([]byte(k))
		h.Write([]byte(v.nonTx.ModAliases[k]))
	}

	return h.Sum(nil)
}

// AfterDropDatabase is invoked by the Execution Coordinator after a query unit whose DropDB names a
// database that has just been dropped. Guarded by its own field, independent of AfterDropNamespace,
// resolving the upstream implementation's conflation of the two conditions.
func (v *View) AfterDropDatabase(unit *catalog.QueryUnit, registry *catalog.Registry) {
	if unit.DropDB == "" {
		return
	}

	registry.Drop(unit.DropDB)
}

// AfterDropNamespace is invoked by the Execution Coordinator after a query unit whose DropNS names a
// namespace that has just been dropped, guarded by its own field. If the dropped namespace was this
// View's current one, the View falls back to "default".
func (v *View) AfterDropNamespace(unit *catalog.QueryUnit) {
	if unit.DropNS == "" {
		return
	}

	if unit.DropNS == v.NamespaceName {
		v.NamespaceName = "default"
	}
}

func (v *View) applyConfigOps(ops []catalog.ConfigOp) {
	for _, op := range ops {
		switch op.Scope {
		case catalog.ConfigScopeSession:
			v.nonTx.Config[op.Name] = op.Value
		case catalog.ConfigScopeDatabase, catalog.ConfigScopeSystem:
			// Database- and system-scoped config is not applied; a database-scoped op is only reflected
			// as DatabaseConfigChanges via the frame's WithDBConfig flag set in Start.
		}
	}
}

func isCommit(unit *catalog.QueryUnit) bool {
	return unit.TxSavepointRollback == false && unit.SPName == "" && !unit.IsDDL() && len(unit.SQL) == 1 &&
		len(unit.SQL[0]) >= len("COMMIT") && unit.SQL[0][:len("COMMIT")] == "COMMIT"
}

// isBegin reports whether unit is an explicit BEGIN, opening a transaction frame that stays open across
// every subsequent unit until a matching COMMIT — as opposed to the frame Start opens implicitly around a
// single standalone unit, which closes itself immediately after that unit succeeds.
func isBegin(unit *catalog.QueryUnit) bool {
	return !unit.IsDDL() && len(unit.SQL) == 1 &&
		len(unit.SQL[0]) >= len("BEGIN") && unit.SQL[0][:len("BEGIN")] == "BEGIN"
}
