package generations

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/anfivewer/diffbelt-sub000/internal/errs"
	"github.com/anfivewer/diffbelt-sub000/internal/keycodec"
	"github.com/anfivewer/diffbelt-sub000/internal/store"
)

// DefaultAutoCommitDelay is the debounce window spec.md §4.6 op 5 names:
// a non-manual collection's next generation is committed 50ms after the
// last release that asked for a reschedule, coalescing a burst of writers
// into one generation boundary.
const DefaultAutoCommitDelay = 50 * time.Millisecond

// updateRetryMaxElapsed bounds how long updateWithRetry keeps retrying a
// failing backend.Update, the same small-bound idea
// internal/storage/dolt/store.go's own second, narrower backoff.Retry use
// applies to a local race condition rather than a network call: this store
// is local bbolt, not a remote server, so a few milliseconds of backoff
// already covers the kind of transient I/O hiccup worth absorbing, and
// anything still failing after that is a real error the caller should see.
const updateRetryMaxElapsed = 500 * time.Millisecond

func newUpdateBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Millisecond
	bo.MaxElapsedTime = updateRetryMaxElapsed
	return bo
}

// updateWithRetry runs fn against the backend, retrying with a bounded
// exponential backoff so a transient bbolt I/O error doesn't fail the
// generation op outright. ctx still bounds the overall wait: a cancelled ctx
// stops retrying immediately regardless of how much of the backoff budget
// is left.
func (c *Coordinator) updateWithRetry(ctx context.Context, fn func(txn *store.Txn) error) error {
	return backoff.Retry(func() error {
		return c.backend.Update(fn)
	}, backoff.WithContext(newUpdateBackoff(), ctx))
}

type collectionState struct {
	mu         sync.Mutex
	isManual   bool
	currentGID []byte
	nextGID    []byte // nil: no generation open

	lock  *nextGenLock
	timer *time.Timer

	watchMu sync.Mutex
	watchCh chan struct{} // closed and replaced on every commit
}

func (cs *collectionState) snapshot() Snapshot {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return Snapshot{CurrentGID: cs.currentGID, NextGID: cs.nextGID}
}

func (cs *collectionState) broadcast() {
	cs.watchMu.Lock()
	old := cs.watchCh
	cs.watchCh = make(chan struct{})
	cs.watchMu.Unlock()
	close(old)
}

func (cs *collectionState) watchChan() chan struct{} {
	cs.watchMu.Lock()
	defer cs.watchMu.Unlock()
	return cs.watchCh
}

// Coordinator owns every collection's generation state for one Database.
// It is the single authority clients go through to lock, start, commit or
// abort a generation; per spec.md §9's cyclic-reference note, collections
// hold only a handle back to this coordinator, never the reverse.
type Coordinator struct {
	backend         *store.Store
	autoCommitDelay time.Duration
	log             *slog.Logger

	mu          sync.Mutex
	collections map[string]*collectionState
}

// New builds a coordinator bound to backend. autoCommitDelay <= 0 uses
// DefaultAutoCommitDelay. A nil logger discards output, the same
// newSilentLogger default steveyegge-beads's cmd/bd/daemon_deprecated.go
// uses.
func New(backend *store.Store, autoCommitDelay time.Duration, log *slog.Logger) *Coordinator {
	if autoCommitDelay <= 0 {
		autoCommitDelay = DefaultAutoCommitDelay
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Coordinator{
		backend:         backend,
		autoCommitDelay: autoCommitDelay,
		log:             log,
		collections:     make(map[string]*collectionState),
	}
}

// Register makes a collection known to the coordinator, rehydrating its
// in-memory state from already-persisted meta (spec.md §6's restart
// recovery, and plain collection creation). Safe to call once per
// collection's lifetime, at open/create.
func (c *Coordinator) Register(name string, isManual bool, currentGID, nextGID []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.collections[name]; exists {
		return
	}
	c.collections[name] = &collectionState{
		isManual:   isManual,
		currentGID: currentGID,
		nextGID:    nextGID,
		lock:       newNextGenLock(),
		watchCh:    make(chan struct{}),
	}
}

// Drop forgets a collection, per spec.md §9's drop-message handling for
// collection deletion. Any pending debounce timer is stopped.
func (c *Coordinator) Drop(name string) {
	c.mu.Lock()
	cs, ok := c.collections[name]
	delete(c.collections, name)
	c.mu.Unlock()
	if ok && cs.timer != nil {
		cs.timer.Stop()
	}
}

func (c *Coordinator) get(name string) (*collectionState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cs, ok := c.collections[name]
	if !ok {
		return nil, errs.ErrNoSuchCollection
	}
	return cs, nil
}

// Snapshot returns a collection's current (current_gid, next_gid) pair.
func (c *Coordinator) Snapshot(name string) (Snapshot, error) {
	cs, err := c.get(name)
	if err != nil {
		return Snapshot{}, err
	}
	return cs.snapshot(), nil
}

// Watch returns the collection's current snapshot and a channel that
// closes the next time a commit changes it (the standard Go
// close-to-broadcast idiom: callers re-call Watch after each wakeup to get
// the new snapshot and a fresh channel).
func (c *Coordinator) Watch(name string) (Snapshot, <-chan struct{}, error) {
	cs, err := c.get(name)
	if err != nil {
		return Snapshot{}, nil, err
	}
	ch := cs.watchChan()
	return cs.snapshot(), ch, nil
}

// Lock is the handle LockNextGenerationId returns; the caller releases it
// exactly once when done writing into the generation it named.
type Lock struct {
	NextGID []byte
	release func(needsReschedule bool)
}

// Release ends the hold. needsReschedule asks the coordinator to schedule
// (or re-debounce) the next auto-commit once every other holder has also
// released, for non-manual collections only — manual collections never
// auto-commit (spec.md §4.6 op 5).
func (l *Lock) Release(needsReschedule bool) {
	l.release(needsReschedule)
}

// LockNextGenerationId validates and admits a new holder into the
// collection's currently open next generation (spec.md §4.6 op 1).
func (c *Coordinator) LockNextGenerationId(ctx context.Context, collection string, callerGID []byte, isPhantom bool) (*Lock, error) {
	cs, err := c.get(collection)
	if err != nil {
		return nil, err
	}

	cs.mu.Lock()
	isManual := cs.isManual
	nextGID := cs.nextGID
	cs.mu.Unlock()

	switch {
	case callerGID != nil:
		if nextGID == nil || !bytesEqual(callerGID, nextGID) {
			return nil, errs.ErrOutdatedGeneration
		}
	case isManual && !isPhantom:
		return nil, errs.ErrCannotPutInManualCollection
	case isPhantom:
		return nil, errs.ErrPutPhantomWithoutGenerationId
	}

	release, err := cs.lock.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	// Non-manual collections always have a next generation open (created
	// at Register / after the previous commit); re-read after acquiring in
	// case a commit raced us while we waited to be admitted.
	cs.mu.Lock()
	effectiveNext := cs.nextGID
	cs.mu.Unlock()

	wrapped := func(needsReschedule bool) {
		release(needsReschedule)
		if needsReschedule && !isManual {
			c.scheduleAutoCommit(collection, cs)
		}
	}

	return &Lock{NextGID: effectiveNext, release: wrapped}, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// StartManualGenerationId opens gid as the next generation of a manual
// collection (spec.md §4.6 op 2).
//
// abort_outdated only ever overrides a *stale already-open* next
// generation (one nobody has committed yet): gid at or below the
// committed current_gid is rejected unconditionally (spec.md §8 scenario
// S3: retrying the same gid after it was committed fails whether or not
// abort_outdated is set, since the generation in question already
// committed rather than merely having been superseded by a later start).
// When an uncommitted next_gid is open under a different value, passing
// abort_outdated discards its accumulated records before opening gid.
func (c *Coordinator) StartManualGenerationId(ctx context.Context, collection string, gid []byte, abortOutdated bool) error {
	cs, err := c.get(collection)
	if err != nil {
		return err
	}
	cs.mu.Lock()
	isManual := cs.isManual
	currentGID := cs.currentGID
	staleNext := cs.nextGID
	cs.mu.Unlock()

	if !isManual {
		return fmt.Errorf("generations: %w: StartManualGenerationId on a non-manual collection", errs.ErrCannotPutInManualCollection)
	}
	if bytes.Compare(gid, currentGID) <= 0 {
		return errs.ErrOutdatedGeneration
	}
	if staleNext != nil && !bytesEqual(staleNext, gid) && !abortOutdated {
		return errs.ErrOutdatedGeneration
	}

	if err := cs.lock.BeginCommit(ctx); err != nil {
		return err
	}
	defer cs.lock.EndCommit()

	if staleNext != nil && !bytesEqual(staleNext, gid) {
		if err := c.updateWithRetry(ctx, func(txn *store.Txn) error {
			return abortGenerationRecords(txn, collection, staleNext)
		}); err != nil {
			return errs.WrapStore("generations.start", err)
		}
	}

	if err := c.updateWithRetry(ctx, func(txn *store.Txn) error {
		return txn.Put(collection, store.CFMeta, []byte(keycodec.MetaKeyNextGenerationID), gid)
	}); err != nil {
		return errs.WrapStore("generations.start", err)
	}

	cs.mu.Lock()
	cs.nextGID = gid
	cs.mu.Unlock()
	return nil
}

// CommitManualGeneration validates gid against the open next generation,
// checks whether it actually accumulated any changes, and if so commits it
// atomically along with any reader updates (spec.md §4.6 op 3).
func (c *Coordinator) CommitManualGeneration(ctx context.Context, collection string, gid []byte, updateReaders []ReaderUpdate) error {
	cs, err := c.get(collection)
	if err != nil {
		return err
	}

	cs.mu.Lock()
	if cs.nextGID == nil || !bytesEqual(gid, cs.nextGID) {
		cs.mu.Unlock()
		return errs.ErrOutdatedGeneration
	}
	isManual := cs.isManual
	cs.mu.Unlock()

	if err := cs.lock.BeginCommit(ctx); err != nil {
		return err
	}
	defer func() {
		if cs.lock.EndCommit() && !isManual {
			c.scheduleAutoCommit(collection, cs)
		}
	}()

	hasChanges, err := c.hasGenerationChanges(collection, gid)
	if err != nil {
		return err
	}
	if !hasChanges {
		return nil
	}

	var newNext []byte
	if !isManual {
		newNext = keycodec.Increment(gid)
	}

	if err := c.updateWithRetry(ctx, func(txn *store.Txn) error {
		if err := txn.Put(collection, store.CFMeta, []byte(keycodec.MetaKeyGenerationID), gid); err != nil {
			return err
		}
		if newNext != nil {
			if err := txn.Put(collection, store.CFMeta, []byte(keycodec.MetaKeyNextGenerationID), newNext); err != nil {
				return err
			}
		} else {
			if err := txn.Delete(collection, store.CFMeta, []byte(keycodec.MetaKeyNextGenerationID)); err != nil {
				return err
			}
		}
		for _, ru := range updateReaders {
			key := []byte(keycodec.MetaKeyReader(ru.Name))
			if err := txn.Put(collection, store.CFMeta, key, keycodec.EncodeReaderRecord(ru.Target, ru.GID)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return errs.WrapStore("generations.commit", err)
	}

	cs.mu.Lock()
	cs.currentGID = gid
	cs.nextGID = newNext
	cs.mu.Unlock()
	cs.broadcast()

	return nil
}

// AbortManualGeneration discards every record written at gid and closes
// the open generation without advancing current_gid (spec.md §4.6 op 4).
func (c *Coordinator) AbortManualGeneration(ctx context.Context, collection string, gid []byte) error {
	cs, err := c.get(collection)
	if err != nil {
		return err
	}

	cs.mu.Lock()
	if cs.nextGID == nil || !bytesEqual(gid, cs.nextGID) {
		cs.mu.Unlock()
		return errs.ErrOutdatedGeneration
	}
	cs.mu.Unlock()

	if err := cs.lock.BeginCommit(ctx); err != nil {
		return err
	}
	defer cs.lock.EndCommit()

	if err := c.updateWithRetry(ctx, func(txn *store.Txn) error {
		return abortGenerationRecords(txn, collection, gid)
	}); err != nil {
		return errs.WrapStore("generations.abort", err)
	}

	cs.mu.Lock()
	cs.nextGID = nil
	cs.mu.Unlock()
	return nil
}

// abortGenerationRecords deletes every record (phantom or not) written at
// gid, plus its gens/gens_size/phantoms bookkeeping, in one batch.
func abortGenerationRecords(txn *store.Txn, collection string, gid []byte) error {
	var cks [][]byte
	lower, err := keycodec.EncodeGenerationKey(gid, nil)
	if err != nil {
		return err
	}
	upperGID := keycodec.Increment(gid)
	var upper []byte
	if !bytesEqual(upperGID, gid) {
		upper, err = keycodec.EncodeGenerationKey(upperGID, nil)
		if err != nil {
			return err
		}
	}
	it := txn.NewIterator(collection, store.CFGens, store.IteratorOptions{
		Direction:  store.Forward,
		LowerBound: lower,
		UpperBound: upper,
	})
	defer it.Close()
	for it.Valid() {
		gik := keycodec.DecodeGenerationKey(it.Key())
		cks = append(cks, append([]byte(nil), gik.CK...))
		it.Next()
	}

	for _, ck := range cks {
		var pids [][]byte
		if err := txn.ForEachRecordAtGID(collection, ck, gid, func(pid, _ []byte) error {
			pids = append(pids, pid)
			return nil
		}); err != nil {
			return err
		}
		for _, pid := range pids {
			if err := txn.DeleteRecord(collection, ck, gid, pid); err != nil {
				return err
			}
			if len(pid) == 0 {
				if err := txn.MergeGenerationSize(collection, gid, ^uint32(0)); err != nil {
					return err
				}
			} else {
				if err := txn.DeletePhantomIndexEntry(collection, pid, ck, gid); err != nil {
					return err
				}
			}
		}
		if err := txn.DeleteGenerationIndexEntry(collection, gid, ck); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) hasGenerationChanges(collection string, gid []byte) (hasAny bool, err error) {
	err = c.backend.View(func(txn *store.Txn) error {
		lower, e := keycodec.EncodeGenerationKey(gid, nil)
		if e != nil {
			return e
		}
		upperGID := keycodec.Increment(gid)
		var upper []byte
		if !bytesEqual(upperGID, gid) {
			upper, e = keycodec.EncodeGenerationKey(upperGID, nil)
			if e != nil {
				return e
			}
		}
		it := txn.NewIterator(collection, store.CFGens, store.IteratorOptions{
			Direction:  store.Forward,
			LowerBound: lower,
			UpperBound: upper,
		})
		defer it.Close()
		hasAny = it.Valid()
		return nil
	})
	return hasAny, err
}

// scheduleAutoCommit (re)starts the debounce timer for a non-manual
// collection, the same debounce shape steveyegge-beads's
// cmd/bd/flush_manager.go uses: repeated calls within the delay window
// coalesce into a single eventual commit of whatever is open at the time
// the timer actually fires.
func (c *Coordinator) scheduleAutoCommit(collection string, cs *collectionState) {
	cs.mu.Lock()
	if cs.timer != nil {
		cs.timer.Stop()
	}
	cs.timer = time.AfterFunc(c.autoCommitDelay, func() {
		c.fireAutoCommit(collection, cs)
	})
	cs.mu.Unlock()
}

func (c *Coordinator) fireAutoCommit(collection string, cs *collectionState) {
	cs.mu.Lock()
	gid := cs.nextGID
	cs.mu.Unlock()
	if gid == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.CommitManualGeneration(ctx, collection, gid, nil); err != nil {
		c.log.Error("auto-commit failed", "collection", collection, "error", err)
	}
}
