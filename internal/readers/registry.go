// Package readers implements the readers registry (spec.md §4.7): an
// in-memory index of every named reader across every collection,
// rebuilt at open time from each collection's `reader:*` meta entries,
// that tracks which target collection's minimum reader GID may have
// dropped and hands that minimum to the garbage collector.
//
// Modeled on steveyegge-beads's FlushManager (cmd/bd/flush_manager.go): a
// single background goroutine owns every mutable field and callers only
// ever send typed events over channels, so there is no mutex and no
// data race to reason about — spec.md §9's "control loops ... are each
// single-task: they own their state exclusively and communicate by
// mailbox."
package readers

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/anfivewer/diffbelt-sub000/internal/errs"
	"github.com/anfivewer/diffbelt-sub000/internal/generations"
	"github.com/anfivewer/diffbelt-sub000/internal/keycodec"
	"github.com/anfivewer/diffbelt-sub000/internal/store"
)

// Entry is one reader record: a named, durable pointer owned by one
// collection into another (or its own) generation axis.
type Entry struct {
	Owner  string
	Name   string
	Target string // empty means "points at Owner"
	GID    []byte
}

func (e Entry) effectiveTarget() string {
	if e.Target == "" {
		return e.Owner
	}
	return e.Target
}

// MinGIDUpdate names a target collection whose minimum reader GID may
// have moved; the garbage collector uses it to decide what it may now
// prune (spec.md §4.8's "triggered by the readers registry with
// minimum_gid = G").
type MinGIDUpdate struct {
	Target string
	MinGID []byte // nil: target currently has no readers, nothing to prune against
}

type entryKey struct {
	owner, name string
}

// Registry is the single actor owning every reader across every
// collection of one Database.
type Registry struct {
	backend *store.Store

	createCh chan createCmd
	updateCh chan updateCmd
	deleteCh chan deleteCmd
	listCh   chan listCmd
	applyCh  chan applyCmd
	loadCh   chan loadCmd
	dropCh   chan dropCmd

	shutdownCh   chan chan struct{}
	shutdownOnce sync.Once
}

type createCmd struct {
	owner, name, target string
	gid                 []byte
	reply               chan error
}

type updateCmd struct {
	owner, name string
	gid         []byte
	reply       chan updateResult
}

type updateResult struct {
	update MinGIDUpdate
	err    error
}

type deleteCmd struct {
	owner, name string
	reply       chan updateResult
}

type listCmd struct {
	owner string
	reply chan []Entry
}

type applyCmd struct {
	owner   string
	updates []generations.ReaderUpdate
	reply   chan []MinGIDUpdate
}

type loadCmd struct {
	owner string
	reply chan error
}

type dropCmd struct {
	owner string
	reply chan struct{}
}

// New starts the registry's background goroutine. backend is used only
// by standalone create/update/delete (reader updates folded into a
// generation commit are already persisted by the generations coordinator
// before ApplyCommitted is called).
func New(backend *store.Store) *Registry {
	r := &Registry{
		backend:    backend,
		createCh:   make(chan createCmd),
		updateCh:   make(chan updateCmd),
		deleteCh:   make(chan deleteCmd),
		listCh:     make(chan listCmd),
		applyCh:    make(chan applyCmd),
		loadCh:     make(chan loadCmd),
		dropCh:     make(chan dropCmd),
		shutdownCh: make(chan chan struct{}),
	}
	go r.run()
	return r
}

// Shutdown stops the background goroutine. Idempotent.
func (r *Registry) Shutdown() {
	r.shutdownOnce.Do(func() {
		done := make(chan struct{})
		r.shutdownCh <- done
		<-done
	})
}

// LoadCollection rehydrates owner's readers from its persisted
// `reader:*` meta entries, per spec.md §6's restart-recovery ordering
// (called once per collection at Database.Open, after deletion markers
// have been finished).
func (r *Registry) LoadCollection(owner string) error {
	reply := make(chan error, 1)
	r.loadCh <- loadCmd{owner: owner, reply: reply}
	return <-reply
}

// CreateReader persists and registers a new reader. Returns
// ErrReaderAlreadyExists if owner already has a reader named name.
func (r *Registry) CreateReader(ctx context.Context, owner, name, target string, gid []byte) error {
	reply := make(chan error, 1)
	select {
	case r.createCh <- createCmd{owner: owner, name: name, target: target, gid: gid, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-reply
}

// UpdateReader persists and advances an existing reader's GID. Returns
// ErrNoSuchReader if it doesn't exist; otherwise returns the target
// collection's minimum reader GID after the update.
func (r *Registry) UpdateReader(ctx context.Context, owner, name string, gid []byte) (MinGIDUpdate, error) {
	reply := make(chan updateResult, 1)
	select {
	case r.updateCh <- updateCmd{owner: owner, name: name, gid: gid, reply: reply}:
	case <-ctx.Done():
		return MinGIDUpdate{}, ctx.Err()
	}
	res := <-reply
	return res.update, res.err
}

// DeleteReader persists the removal and drops the reader from the
// in-memory index. Returns ErrNoSuchReader if it doesn't exist.
func (r *Registry) DeleteReader(ctx context.Context, owner, name string) (MinGIDUpdate, error) {
	reply := make(chan updateResult, 1)
	select {
	case r.deleteCh <- deleteCmd{owner: owner, name: name, reply: reply}:
	case <-ctx.Done():
		return MinGIDUpdate{}, ctx.Err()
	}
	res := <-reply
	return res.update, res.err
}

// ListReaders returns every reader owner currently has, sorted by name
// (original_source's list_readers.rs: a prefix scan over `reader:`..
// `reader;` already comes back in name order; the registry's in-memory
// map does not, so it is sorted explicitly here).
func (r *Registry) ListReaders(owner string) []Entry {
	reply := make(chan []Entry, 1)
	r.listCh <- listCmd{owner: owner, reply: reply}
	return <-reply
}

// ApplyCommitted updates the in-memory index for reader changes a
// generation commit already persisted atomically (spec.md §4.6 op 3's
// update_readers), and returns one MinGIDUpdate per distinct target
// collection those changes touched.
func (r *Registry) ApplyCommitted(owner string, updates []generations.ReaderUpdate) []MinGIDUpdate {
	if len(updates) == 0 {
		return nil
	}
	reply := make(chan []MinGIDUpdate, 1)
	r.applyCh <- applyCmd{owner: owner, updates: updates, reply: reply}
	return <-reply
}

// DropCollection forgets every reader owner owns (collection deletion);
// readers elsewhere that point AT owner are left as-is, since a stale
// target is a query-time NoSuchCollection, not a registry concern.
func (r *Registry) DropCollection(owner string) {
	done := make(chan struct{})
	r.dropCh <- dropCmd{owner: owner, reply: done}
	<-done
}

func (r *Registry) run() {
	all := make(map[entryKey]Entry)
	pointingTo := make(map[string]map[entryKey]struct{})

	addIndex := func(e Entry) {
		all[entryKey{e.Owner, e.Name}] = e
		t := e.effectiveTarget()
		if pointingTo[t] == nil {
			pointingTo[t] = make(map[entryKey]struct{})
		}
		pointingTo[t][entryKey{e.Owner, e.Name}] = struct{}{}
	}
	removeIndex := func(k entryKey) {
		old, ok := all[k]
		if !ok {
			return
		}
		delete(all, k)
		t := old.effectiveTarget()
		delete(pointingTo[t], k)
		if len(pointingTo[t]) == 0 {
			delete(pointingTo, t)
		}
	}
	minimumFor := func(target string) MinGIDUpdate {
		owners := pointingTo[target]
		if len(owners) == 0 {
			return MinGIDUpdate{Target: target, MinGID: nil}
		}
		var min []byte
		first := true
		for k := range owners {
			gid := all[k].GID
			if first || bytes.Compare(gid, min) < 0 {
				min = gid
				first = false
			}
		}
		return MinGIDUpdate{Target: target, MinGID: min}
	}

	for {
		select {
		case cmd := <-r.loadCh:
			cmd.reply <- r.loadLocked(cmd.owner, addIndex)

		case cmd := <-r.createCh:
			k := entryKey{cmd.owner, cmd.name}
			if _, exists := all[k]; exists {
				cmd.reply <- errs.ErrReaderAlreadyExists
				continue
			}
			entry := Entry{Owner: cmd.owner, Name: cmd.name, Target: cmd.target, GID: cmd.gid}
			if err := r.persist(entry); err != nil {
				cmd.reply <- err
				continue
			}
			addIndex(entry)
			cmd.reply <- nil

		case cmd := <-r.updateCh:
			k := entryKey{cmd.owner, cmd.name}
			old, exists := all[k]
			if !exists {
				cmd.reply <- updateResult{err: errs.ErrNoSuchReader}
				continue
			}
			updated := old
			updated.GID = cmd.gid
			if err := r.persist(updated); err != nil {
				cmd.reply <- updateResult{err: err}
				continue
			}
			addIndex(updated)
			cmd.reply <- updateResult{update: minimumFor(updated.effectiveTarget())}

		case cmd := <-r.deleteCh:
			k := entryKey{cmd.owner, cmd.name}
			old, exists := all[k]
			if !exists {
				cmd.reply <- updateResult{err: errs.ErrNoSuchReader}
				continue
			}
			if err := r.persistDelete(cmd.owner, cmd.name); err != nil {
				cmd.reply <- updateResult{err: err}
				continue
			}
			removeIndex(k)
			cmd.reply <- updateResult{update: minimumFor(old.effectiveTarget())}

		case cmd := <-r.listCh:
			var out []Entry
			for k, e := range all {
				if k.owner == cmd.owner {
					out = append(out, e)
				}
			}
			sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
			cmd.reply <- out

		case cmd := <-r.applyCh:
			dirty := make(map[string]struct{}, len(cmd.updates))
			for _, ru := range cmd.updates {
				entry := Entry{Owner: cmd.owner, Name: ru.Name, Target: ru.Target, GID: ru.GID}
				dirty[entry.effectiveTarget()] = struct{}{}
				if old, exists := all[entryKey{cmd.owner, ru.Name}]; exists {
					dirty[old.effectiveTarget()] = struct{}{}
				}
				addIndex(entry)
			}
			out := make([]MinGIDUpdate, 0, len(dirty))
			for t := range dirty {
				out = append(out, minimumFor(t))
			}
			sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
			cmd.reply <- out

		case cmd := <-r.dropCh:
			for k, e := range all {
				if k.owner == cmd.owner {
					removeIndex(entryKey{e.Owner, e.Name})
				}
			}
			close(cmd.reply)

		case done := <-r.shutdownCh:
			close(done)
			return
		}
	}
}

func (r *Registry) loadLocked(owner string, addIndex func(Entry)) error {
	lower := []byte(keycodec.MetaKeyReaderPrefix)
	upper := append(append([]byte{}, lower...))
	upper[len(upper)-1]++

	return r.backend.View(func(txn *store.Txn) error {
		it := txn.NewIterator(owner, store.CFMeta, store.IteratorOptions{
			Direction:  store.Forward,
			LowerBound: lower,
			UpperBound: upper,
		})
		defer it.Close()
		for it.Valid() {
			key := it.Key()
			name := string(key[len(lower):])
			target, gid, err := keycodec.DecodeReaderRecord(it.Value())
			if err != nil {
				return fmt.Errorf("readers: decode %s/%s: %w", owner, name, err)
			}
			addIndex(Entry{Owner: owner, Name: name, Target: target, GID: gid})
			it.Next()
		}
		return nil
	})
}

func (r *Registry) persist(e Entry) error {
	return errs.WrapStore("readers.persist", r.backend.Update(func(txn *store.Txn) error {
		key := []byte(keycodec.MetaKeyReader(e.Name))
		return txn.Put(e.Owner, store.CFMeta, key, keycodec.EncodeReaderRecord(e.Target, e.GID))
	}))
}

func (r *Registry) persistDelete(owner, name string) error {
	return errs.WrapStore("readers.persistDelete", r.backend.Update(func(txn *store.Txn) error {
		key := []byte(keycodec.MetaKeyReader(name))
		return txn.Delete(owner, store.CFMeta, key)
	}))
}
