package database

import (
	"errors"

	"github.com/anfivewer/diffbelt-sub000/internal/cursor"
	"github.com/anfivewer/diffbelt-sub000/internal/engine"
	"github.com/anfivewer/diffbelt-sub000/internal/errs"
	"github.com/anfivewer/diffbelt-sub000/internal/store"
)

// DiffResult is one page of a diff or read_diff_cursor response.
type DiffResult struct {
	Items    []engine.KeyValueDiff
	ToGID    []byte
	CursorID string
}

// Diff opens a new diff between fromGID (exclusive) and toGIDLoose
// (inclusive, possibly trimmed down by diff_changes_limit) and returns its
// first page (spec.md §4.4/§6's diff op). Mode selection only ever runs
// here, at open time; resumption always reuses the chosen mode and to_GID.
func (db *Database) Diff(collection string, fromGID, toGIDLoose []byte) (DiffResult, error) {
	var (
		mode        engine.DiffMode
		toGID       []byte
		found       bool
		changedKeys [][]byte
		pack        engine.DiffPackResult
		cursorID    string
	)

	err := db.store.View(func(txn *store.Txn) error {
		var e error
		mode, toGID, found, e = engine.SelectDiffMode(txn, collection, fromGID, toGIDLoose, db.opts.DiffChangesLimit)
		if e != nil {
			return e
		}
		if !found {
			toGID = fromGID
			return nil
		}
		if mode == engine.DiffModeInMemory {
			changedKeys, e = engine.CollectChangedKeys(txn, collection, fromGID, toGID)
			if e != nil {
				return e
			}
		}
		state := engine.NewDiffState(mode, fromGID, toGID, changedKeys)
		pack, e = engine.DiffPack(txn, collection, state, db.opts.PackLimit, db.opts.RecordsToViewLimit)
		if e != nil {
			return e
		}
		if !pack.Done {
			reg := db.collectionCursorsFor(collection).diff
			id, _, addErr := reg.Add(cursor.DiffAddData{State: state})
			if addErr != nil {
				return addErr
			}
			cursorID = cursor.EncodeID(id)
		}
		return nil
	})
	if err != nil {
		return DiffResult{}, errs.WrapStore("database.diff", err)
	}

	return DiffResult{Items: pack.Items, ToGID: toGID, CursorID: cursorID}, nil
}

// ReadDiffCursor fetches the next page of a previously opened diff
// (spec.md §6's read_diff_cursor). Like ReadQueryCursor, replaying an id
// that now names the "current" slot recomputes the same pack rather than
// erroring, and reports the same next id a prior call already minted.
func (db *Database) ReadDiffCursor(collection string, publicIDStr string) (DiffResult, error) {
	reg := db.collectionCursorsFor(collection).diff
	publicID, err := cursor.DecodeID(publicIDStr)
	if err != nil {
		return DiffResult{}, errs.ErrNoSuchCursor
	}

	entry, err := reg.Lookup(publicID)
	if err != nil {
		return DiffResult{}, err
	}
	if entry.Finished {
		_ = reg.FullyFinish(publicID)
		return DiffResult{ToGID: entry.ToGID}, nil
	}

	// DiffPack mutates its *engine.DiffState argument in place; clone
	// before running it so neither slot this id might currently name is
	// ever mutated directly (see cursor.DiffAdapter.FromContinuation).
	working := engine.CloneDiffState(entry.Data)

	var pack engine.DiffPackResult
	err = db.store.View(func(txn *store.Txn) error {
		var e error
		pack, e = engine.DiffPack(txn, collection, working, db.opts.PackLimit, db.opts.RecordsToViewLimit)
		return e
	})
	if err != nil {
		return DiffResult{}, errs.WrapStore("database.readDiffCursor", err)
	}

	result := DiffResult{Items: pack.Items, ToGID: entry.ToGID}
	if pack.Done {
		_, _ = reg.Finish(publicID)
		return result, nil
	}

	newID, _, err := reg.Continuation(publicID, working)
	switch {
	case err == nil:
		result.CursorID = cursor.EncodeID(newID)
		return result, nil
	case errors.Is(err, errs.ErrNoSuchCursor):
		nextID, ok := reg.NextID(publicID)
		if !ok {
			return DiffResult{}, errs.ErrNoSuchCursor
		}
		result.CursorID = cursor.EncodeID(nextID)
		return result, nil
	default:
		return DiffResult{}, err
	}
}

// AbortDiffCursor discards a diff cursor's state entirely (spec.md §6's
// abort_diff_cursor).
func (db *Database) AbortDiffCursor(collection string, publicIDStr string) error {
	reg := db.collectionCursorsFor(collection).diff
	publicID, err := cursor.DecodeID(publicIDStr)
	if err != nil {
		return errs.ErrNoSuchCursor
	}
	return reg.Abort(publicID)
}
