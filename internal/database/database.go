// Package database wires the engine, generations, readers, gc and cursor
// packages into the single entry point spec.md §6 describes: one Database
// per open store, exposing every collection-scoped operation a client can
// call, and owning restart recovery (spec.md's deletion-resume and
// meta-rehydration ordering).
//
// Modeled on steveyegge-beads's top-level Manager (cmd/bd/manager.go): a
// single struct holding one handle to each subordinate actor/coordinator,
// with every exported method a thin validate-then-delegate wrapper, rather
// than any of those actors reaching sideways into one another.
package database

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/anfivewer/diffbelt-sub000/internal/cursor"
	"github.com/anfivewer/diffbelt-sub000/internal/engine"
	"github.com/anfivewer/diffbelt-sub000/internal/errs"
	"github.com/anfivewer/diffbelt-sub000/internal/gc"
	"github.com/anfivewer/diffbelt-sub000/internal/generations"
	"github.com/anfivewer/diffbelt-sub000/internal/readers"
	"github.com/anfivewer/diffbelt-sub000/internal/store"
)

// dbMetaCollection is a reserved pseudo-collection name holding the
// Database-level meta table of spec.md §3 (`collection:<name>`,
// `deleteCollection:<name>`): store.Store scopes every bucket by a plain
// collection-name string, so Database-level bookkeeping reuses that same
// mechanism under a name no real collection can claim, rather than
// teaching store.go a second kind of bucket root. The leading NUL can
// never appear in a client-supplied collection name (ValidateCollectionName
// below rejects it), so it can never collide with a real collection.
const dbMetaCollection = "\x00db"

const (
	metaCollectionPrefix       = "collection:"
	metaDeleteCollectionPrefix = "deleteCollection:"
)

// Options configures tunables spec.md §4.5/§4.6/§4.8 leave to
// configuration rather than fixing as constants. Zero values fall back to
// the same defaults their owning package already applies.
type Options struct {
	MaxCursorsPerCollection int
	AutoCommitDelay         time.Duration
	GCLimits                gc.Limits
	DiffChangesLimit        uint32
	PackLimit               int
	RecordsToViewLimit      int
	Log                     *slog.Logger
}

const (
	defaultMaxCursorsPerCollection = 16
	defaultDiffChangesLimit        = 4096
	defaultPackLimit               = 1000
	defaultRecordsToViewLimit      = 10000
)

func (o *Options) fillDefaults() {
	if o.MaxCursorsPerCollection <= 0 {
		o.MaxCursorsPerCollection = defaultMaxCursorsPerCollection
	}
	if o.DiffChangesLimit <= 0 {
		o.DiffChangesLimit = defaultDiffChangesLimit
	}
	if o.PackLimit <= 0 {
		o.PackLimit = defaultPackLimit
	}
	if o.RecordsToViewLimit <= 0 {
		o.RecordsToViewLimit = defaultRecordsToViewLimit
	}
	if o.Log == nil {
		o.Log = slog.New(slog.DiscardHandler)
	}
}

// collectionCursors is the pair of per-kind cursor registries one
// collection's query and diff cursors live in.
type collectionCursors struct {
	query *cursor.Registry[cursor.QueryCursorData]
	diff  *cursor.Registry[*engine.DiffState]
}

// Database is the single handle a server binds every client request
// against. All of its methods are safe for concurrent use.
type Database struct {
	store   *store.Store
	gens    *generations.Coordinator
	readers *readers.Registry
	gcCoord *gc.Coordinator
	opts    Options

	cancelGC context.CancelFunc

	mu       sync.Mutex
	cursors  map[string]*collectionCursors
	gidFloor map[string][]byte // collection -> lowest GID a reader may still be pointed at

	getGroup singleflight.Group
}

// Open opens (creating if absent) the bbolt file at path and runs restart
// recovery: finishing any collection deletion a prior process started but
// didn't complete, then rehydrating every surviving collection's
// generations/readers/gc state, per spec.md §6's recovery ordering.
func Open(path string, opts Options) (*Database, error) {
	opts.fillDefaults()

	backend, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	if err := backend.EnsureCollectionBuckets(dbMetaCollection); err != nil {
		_ = backend.Close()
		return nil, errs.WrapStore("database.open", err)
	}

	gcCtx, cancelGC := context.WithCancel(context.Background())
	db := &Database{
		store:    backend,
		gens:     generations.New(backend, opts.AutoCommitDelay, opts.Log),
		readers:  readers.New(backend),
		gcCoord:  gc.New(gcCtx, backend, opts.GCLimits, opts.Log),
		opts:     opts,
		cancelGC: cancelGC,
		cursors:  make(map[string]*collectionCursors),
		gidFloor: make(map[string][]byte),
	}

	if err := db.recover(); err != nil {
		db.readers.Shutdown()
		cancelGC()
		_ = db.gcCoord.Wait()
		_ = backend.Close()
		return nil, err
	}

	return db, nil
}

// Close stops the readers registry and the gc coordinator, then closes the
// underlying store. It does not wait for a generation commit already in
// progress, and it does not stop the generations coordinator's pending
// auto-commit timers (generations.Coordinator.Drop would, per collection).
func (db *Database) Close() error {
	db.readers.Shutdown()
	db.cancelGC()
	if err := db.gcCoord.Wait(); err != nil {
		db.opts.Log.Error("gc coordinator wait failed", "error", err)
	}
	return db.store.Close()
}

func (db *Database) collectionCursorsFor(name string) *collectionCursors {
	db.mu.Lock()
	defer db.mu.Unlock()
	cc, ok := db.cursors[name]
	if !ok {
		cc = &collectionCursors{
			query: cursor.NewRegistry[cursor.QueryCursorData](cursor.QueryAdapter{}, db.opts.MaxCursorsPerCollection),
			diff:  cursor.NewRegistry[*engine.DiffState](cursor.DiffAdapter{}, db.opts.MaxCursorsPerCollection),
		}
		db.cursors[name] = cc
	}
	return cc
}

func (db *Database) dropCollectionCursors(name string) {
	db.mu.Lock()
	delete(db.cursors, name)
	db.mu.Unlock()
}

func (db *Database) setGIDFloor(name string, gid []byte) {
	db.mu.Lock()
	db.gidFloor[name] = gid
	db.mu.Unlock()
}

func (db *Database) getGIDFloor(name string) []byte {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.gidFloor[name]
}

func (db *Database) dropGIDFloor(name string) {
	db.mu.Lock()
	delete(db.gidFloor, name)
	db.mu.Unlock()
}

// forwardMinGIDUpdates feeds every MinGIDUpdate the readers registry
// returns into the garbage collector and this Database's own floor, so
// CreateReader/UpdateReader's ErrGenerationIdLessThanMinimum check (spec.md
// §4.7, grounded on original_source's update_reader.rs
// generation_is_less_than_minimum) always reflects the same threshold the
// gc package is currently collecting up to.
func (db *Database) forwardMinGIDUpdates(updates []readers.MinGIDUpdate) {
	for _, u := range updates {
		if u.MinGID == nil {
			continue
		}
		db.setGIDFloor(u.Target, u.MinGID)
		db.gcCoord.UpdateMinimumGID(u.Target, u.MinGID)
	}
}
