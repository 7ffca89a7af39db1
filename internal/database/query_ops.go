package database

import (
	"errors"

	"github.com/anfivewer/diffbelt-sub000/internal/cursor"
	"github.com/anfivewer/diffbelt-sub000/internal/engine"
	"github.com/anfivewer/diffbelt-sub000/internal/errs"
	"github.com/anfivewer/diffbelt-sub000/internal/store"
)

// QueryResult is one page of a query or read_query_cursor response
// (spec.md §6). CursorID is empty once the query is exhausted.
type QueryResult struct {
	Items    []engine.QueryItem
	CursorID string
}

// Query opens a new query over collection at (g, p) and returns its first
// page (spec.md §6's query op). g nil means the collection's current
// generation.
func (db *Database) Query(collection string, g, p []byte) (QueryResult, error) {
	g, err := db.resolveGID(collection, g)
	if err != nil {
		return QueryResult{}, err
	}

	var pack engine.QueryPackResult
	err = db.store.View(func(txn *store.Txn) error {
		var e error
		pack, e = engine.QueryPack(txn, collection, g, p, nil, db.opts.PackLimit, db.opts.RecordsToViewLimit)
		return e
	})
	if err != nil {
		return QueryResult{}, errs.WrapStore("database.query", err)
	}

	if pack.Continuation == nil {
		return QueryResult{Items: pack.Items}, nil
	}

	reg := db.collectionCursorsFor(collection).query
	firstID, _, err := reg.Add(cursor.QueryAddData{GID: g, PID: p})
	if err != nil {
		return QueryResult{}, err
	}
	nextID, _, err := reg.Continuation(firstID, pack.Continuation)
	if err != nil {
		return QueryResult{}, err
	}
	return QueryResult{Items: pack.Items, CursorID: cursor.EncodeID(nextID)}, nil
}

// ReadQueryCursor fetches the next page of a previously opened query
// (spec.md §6's read_query_cursor). Re-invoking with a public id that was
// already consumed (it now names the cursor's frozen "current" slot rather
// than its live "next" one) recomputes and returns the identical pack
// rather than erroring, per spec.md §8 testable property 6 — grounded on
// original_source/crates/diffbelt/src/collection/methods/query.rs, whose
// read_query_cursor handler always re-derives the pack from whichever slot
// the id named rather than caching the response. A replay hands back the
// same next id that the earlier call already minted; it does not mint
// another one.
func (db *Database) ReadQueryCursor(collection string, publicIDStr string) (QueryResult, error) {
	reg := db.collectionCursorsFor(collection).query
	publicID, err := cursor.DecodeID(publicIDStr)
	if err != nil {
		return QueryResult{}, errs.ErrNoSuchCursor
	}

	entry, err := reg.Lookup(publicID)
	if err != nil {
		return QueryResult{}, err
	}
	if entry.Finished {
		_ = reg.FullyFinish(publicID)
		return QueryResult{}, nil
	}

	var pack engine.QueryPackResult
	err = db.store.View(func(txn *store.Txn) error {
		var e error
		pack, e = engine.QueryPack(txn, collection, entry.Data.GID, entry.Data.PID, entry.Data.Resume, db.opts.PackLimit, db.opts.RecordsToViewLimit)
		return e
	})
	if err != nil {
		return QueryResult{}, errs.WrapStore("database.readQueryCursor", err)
	}

	if pack.Continuation == nil {
		_, _ = reg.Finish(publicID)
		return QueryResult{Items: pack.Items}, nil
	}

	newID, _, err := reg.Continuation(publicID, pack.Continuation)
	switch {
	case err == nil:
		return QueryResult{Items: pack.Items, CursorID: cursor.EncodeID(newID)}, nil
	case errors.Is(err, errs.ErrNoSuchCursor):
		// publicID named the already-superseded "current" slot: this is a
		// replay. The live next id a prior call already minted for this
		// same position is still the right thing to hand back.
		nextID, ok := reg.NextID(publicID)
		if !ok {
			return QueryResult{}, errs.ErrNoSuchCursor
		}
		return QueryResult{Items: pack.Items, CursorID: cursor.EncodeID(nextID)}, nil
	default:
		return QueryResult{}, err
	}
}

// AbortQueryCursor discards a query cursor's state entirely (spec.md §6's
// abort_query_cursor).
func (db *Database) AbortQueryCursor(collection string, publicIDStr string) error {
	reg := db.collectionCursorsFor(collection).query
	publicID, err := cursor.DecodeID(publicIDStr)
	if err != nil {
		return errs.ErrNoSuchCursor
	}
	return reg.Abort(publicID)
}
