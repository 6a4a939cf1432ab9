package catalog

import (
	"context"
	"sync"

	"github.com/nebuladb/nebula-core/cache"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ErrUnknownDatabase reports a database name with no registered Database. Registry.Lookup does not
// return it: Lookup creates and registers a Database for an unknown name.
var ErrUnknownDatabase = errors.New("catalog: unknown database")

const defaultCompiledCacheSize = 4096

// Subscriber is notified when a Database it holds a handle to has schema changes committed by another
// connection, so it can drop or revalidate any cached handles of its own. Implemented by session.View.
type Subscriber interface {
	// InvalidateNamespace is called after ns's compiled cache has already been cleared and dbver bumped.
	InvalidateNamespace(dbName, nsName string)
}

// Namespace is a named sub-scope of a Database with its own schema view and compiled-query cache.
type Namespace struct {
	Name string

	mu             sync.RWMutex
	userSchema     any
	reflectionCache any
	backendIDs     map[string]any
	extensions     []string
	compiledCache  *cache.LRU[Fingerprint, *QueryUnitGroup]
}

func newNamespace(name string) *Namespace {
	return &Namespace{
		Name:          name,
		backendIDs:    make(map[string]any),
		compiledCache: cache.New[Fingerprint, *QueryUnitGroup](defaultCompiledCacheSize),
	}
}

// Lookup returns a cached compilation for fingerprint, if one is present and still valid.
func (ns *Namespace) Lookup(fp Fingerprint) (*QueryUnitGroup, bool) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	return ns.compiledCache.Get(fp)
}

// Cache installs a compilation for fingerprint.
func (ns *Namespace) Cache(fp Fingerprint, group *QueryUnitGroup) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	ns.compiledCache.Put(fp, group)
	if ns.compiledCache.NeedsCleanup() {
		ns.compiledCache.CleanupOne()
	}
}

// UserSchema returns the namespace's currently installed user schema handle.
func (ns *Namespace) UserSchema() any {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	return ns.userSchema
}

// invalidate clears the compiled cache and installs a new user schema, called under the owning
// Database's introspection lock.
func (ns *Namespace) invalidate(userSchema any, backendIDs map[string]any) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	ns.userSchema = userSchema
	ns.compiledCache.Clear()

	for k, v := range backendIDs {
		ns.backendIDs[k] = v
	}
}

// Database is a process-wide, named database: its namespaces, monotonic schema version, introspection
// lock, and the set of connection views currently subscribed to its schema-change notifications.
type Database struct {
	Name string

	mu         sync.RWMutex
	dbver      uint64
	namespaces map[string]*Namespace
	globalSchema any

	introspection *semaphore.Weighted

	subMu       sync.Mutex
	subscribers map[Subscriber]struct{}
}

func newDatabase(name string) *Database {
	return &Database{
		Name:          name,
		namespaces:    make(map[string]*Namespace),
		introspection: semaphore.NewWeighted(1),
		subscribers:   make(map[Subscriber]struct{}),
	}
}

// DBVer returns the database's current schema version.
func (db *Database) DBVer() uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.dbver
}

// Namespace returns the named namespace, creating it on first use.
func (db *Database) Namespace(name string) *Namespace {
	db.mu.Lock()
	defer db.mu.Unlock()

	ns, ok := db.namespaces[name]
	if !ok {
		ns = newNamespace(name)
		db.namespaces[name] = ns
	}

	return ns
}

// Subscribe registers sub to receive InvalidateNamespace notifications for this database.
func (db *Database) Subscribe(sub Subscriber) {
	db.subMu.Lock()
	defer db.subMu.Unlock()

	db.subscribers[sub] = struct{}{}
}

// Unsubscribe removes sub, typically called on connection close.
func (db *Database) Unsubscribe(sub Subscriber) {
	db.subMu.Lock()
	defer db.subMu.Unlock()

	delete(db.subscribers, sub)
}

// AcquireIntrospection blocks until this database's single-writer introspection lock is held, or ctx is
// canceled. The caller must call ReleaseIntrospection when done.
func (db *Database) AcquireIntrospection(ctx context.Context) error {
	return db.introspection.Acquire(ctx, 1)
}

// ReleaseIntrospection releases the introspection lock acquired via AcquireIntrospection.
func (db *Database) ReleaseIntrospection() {
	db.introspection.Release(1)
}

// CommitDDL atomically installs a new user schema for ns, registers newBackendIDs, bumps dbver, and
// notifies every subscriber other than the committing view so they drop or revalidate cached handles.
// The caller must already hold the introspection lock.
func (db *Database) CommitDDL(ctx context.Context, ns *Namespace, userSchema any, newBackendIDs map[string]any, committer Subscriber) error {
	db.mu.Lock()
	db.dbver++
	newVer := db.dbver
	db.mu.Unlock()

	ns.invalidate(userSchema, newBackendIDs)

	db.subMu.Lock()
	subs := make([]Subscriber, 0, len(db.subscribers))
	for sub := range db.subscribers {
		if sub == committer {
			continue
		}

		subs = append(subs, sub)
	}
	db.subMu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, sub := range subs {
		sub := sub
		g.Go(func() error {
			sub.InvalidateNamespace(db.Name, ns.Name)
			return gctx.Err()
		})
	}

	_ = newVer
	return g.Wait()
}

// Registry is the process-wide set of named databases.
type Registry struct {
	mu   sync.RWMutex
	dbs  map[string]*Database
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{dbs: make(map[string]*Database)}
}

// Lookup returns the named Database, registering it on first use so the Registry behaves like a set of
// lazily created, process-lifetime handles.
func (r *Registry) Lookup(name string) *Database {
	r.mu.RLock()
	db, ok := r.dbs[name]
	r.mu.RUnlock()
	if ok {
		return db
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if db, ok := r.dbs[name]; ok {
		return db
	}

	db = newDatabase(name)
	r.dbs[name] = db

	return db
}

// Databases returns the names of every database currently registered.
func (r *Registry) Databases() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.dbs))
	for name := range r.dbs {
		names = append(names, name)
	}

	return names
}

// Drop removes a database from the registry, e.g. after a DROP DATABASE commits.
func (r *Registry) Drop(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.dbs, name)
}
