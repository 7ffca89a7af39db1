package database

import (
	"context"

	"github.com/anfivewer/diffbelt-sub000/internal/engine"
	"github.com/anfivewer/diffbelt-sub000/internal/errs"
	"github.com/anfivewer/diffbelt-sub000/internal/keycodec"
	"github.com/anfivewer/diffbelt-sub000/internal/store"
)

// PutItem is one (CK, value) update within a put_many batch. An empty
// Value is a tombstone, matching the wire convention the engine package
// already uses throughout (spec.md §3). IfNotPresent asks the write to be
// skipped if CK already has a live (non-tombstone) value visible at the
// batch's target generation.
type PutItem struct {
	CK           []byte
	Value        []byte
	IfNotPresent bool
}

// PutRequest is one put/put_many call (spec.md §6). GID pins the batch to
// an already-open generation (required for manual collections and for
// phantom writes); nil lets the coordinator pick whichever generation is
// currently open for non-manual collections. PID marks every item in the
// batch as a phantom write under that phantom id.
type PutRequest struct {
	Collection string
	GID        []byte
	PID        []byte
	Items      []PutItem
}

// PutResult reports, per item, whether it was actually written (an
// IfNotPresent item that found a value already there is not).
type PutResult struct {
	GID     []byte
	Written []bool
}

// Put writes req.Items atomically into one generation, per spec.md §6's
// put/put_many. if_not_present is resolved in a single upfront pass against
// the batch's pre-write state, so scenario S2 ("two if_not_present puts to
// the same key within one batch: both pass the check, the later one's
// write wins") holds: nothing in pass two changes what pass one already
// decided, and when two items share a CK, the later PutRecord call simply
// overwrites the same on-disk slot the earlier one just wrote.
func (db *Database) Put(ctx context.Context, req PutRequest) (PutResult, error) {
	isPhantom := len(req.PID) > 0
	lock, err := db.gens.LockNextGenerationId(ctx, req.Collection, req.GID, isPhantom)
	if err != nil {
		return PutResult{}, err
	}
	targetGID := lock.NextGID
	reschedule := false
	defer func() { lock.Release(reschedule) }()

	written := make([]bool, len(req.Items))
	touchedCK := make(map[string]struct{})

	err = db.store.Update(func(txn *store.Txn) error {
		skip := make([]bool, len(req.Items))
		for i, item := range req.Items {
			if !item.IfNotPresent {
				continue
			}
			res, err := engine.Get(txn, req.Collection, item.CK, targetGID, req.PID)
			if err != nil {
				return err
			}
			if res.Found {
				skip[i] = true
			}
		}

		for i, item := range req.Items {
			if skip[i] {
				continue
			}
			if err := txn.PutRecord(req.Collection, item.CK, targetGID, req.PID, item.Value); err != nil {
				return err
			}
			written[i] = true

			if isPhantom {
				if err := txn.PutPhantomIndexEntry(req.Collection, req.PID, item.CK, targetGID); err != nil {
					return err
				}
				continue
			}

			ckKey := string(item.CK)
			if _, already := touchedCK[ckKey]; already {
				continue
			}
			touchedCK[ckKey] = struct{}{}
			if err := txn.PutGenerationIndexEntry(req.Collection, targetGID, item.CK); err != nil {
				return err
			}
			if err := txn.MergeGenerationSize(req.Collection, targetGID, 1); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return PutResult{}, errs.WrapStore("database.put", err)
	}

	reschedule = anyWritten(written) && !isPhantom
	return PutResult{GID: targetGID, Written: written}, nil
}

func anyWritten(written []bool) bool {
	for _, w := range written {
		if w {
			return true
		}
	}
	return false
}

// StartPhantom opens a fresh phantom id for a collection, incrementing the
// last one handed out (spec.md §3's prev_phantom_id / §4.6's phantom
// writes needing their own GID but never auto-committing one).
func (db *Database) StartPhantom(collection string) ([]byte, error) {
	var pid []byte
	err := db.store.Update(func(txn *store.Txn) error {
		prev, ok, err := txn.Get(collection, store.CFMeta, []byte(keycodec.MetaKeyPrevPhantomID))
		if err != nil {
			return err
		}
		if !ok {
			pid = keycodec.InitialPID()
		} else {
			pid = keycodec.Increment(prev)
		}
		return txn.Put(collection, store.CFMeta, []byte(keycodec.MetaKeyPrevPhantomID), pid)
	})
	if err != nil {
		return nil, errs.WrapStore("database.startPhantom", err)
	}
	return pid, nil
}

// AbortPhantom discards every record a phantom id wrote across the
// collection, the abort sibling of StartPhantom (grounded on
// original_source's phantom start/abort path): the phantom index names
// every (ck, gid) pair pid ever touched, so undoing it is a direct
// walk-and-delete rather than a generation-wide scan.
func (db *Database) AbortPhantom(collection string, pid []byte) error {
	err := db.store.Update(func(txn *store.Txn) error {
		var entries []struct{ ck, gid []byte }
		if err := txn.ForEachPhantomEntry(collection, pid, func(ck, gid []byte) error {
			entries = append(entries, struct{ ck, gid []byte }{
				ck:  append([]byte(nil), ck...),
				gid: append([]byte(nil), gid...),
			})
			return nil
		}); err != nil {
			return err
		}
		for _, e := range entries {
			if err := txn.DeleteRecord(collection, e.ck, e.gid, pid); err != nil {
				return err
			}
			if err := txn.DeletePhantomIndexEntry(collection, pid, e.ck, e.gid); err != nil {
				return err
			}
		}
		return nil
	})
	return errs.WrapStore("database.abortPhantom", err)
}
