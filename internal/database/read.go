package database

import (
	"encoding/binary"
	"strings"

	"github.com/anfivewer/diffbelt-sub000/internal/engine"
	"github.com/anfivewer/diffbelt-sub000/internal/errs"
	"github.com/anfivewer/diffbelt-sub000/internal/store"
)

// Get performs a point get (spec.md §6's get): the best-fit value visible
// for ck at (g, p), nil g meaning "the collection's current generation".
//
// Concurrent callers asking for the exact same (collection, ck, g, p) are
// coalesced through getGroup into a single store lookup: a hot key polled
// by several readers at once, or a key a GC sweep is actively rewriting
// underneath repeated reads of its current generation, would otherwise
// have every caller redo the same bbolt lookup back to back.
func (db *Database) Get(collection string, ck, g, p []byte) (engine.GetResult, error) {
	g, err := db.resolveGID(collection, g)
	if err != nil {
		return engine.GetResult{}, err
	}

	v, err, _ := db.getGroup.Do(getGroupKey(collection, ck, g, p), func() (any, error) {
		var result engine.GetResult
		err := db.store.View(func(txn *store.Txn) error {
			var e error
			result, e = engine.Get(txn, collection, ck, g, p)
			return e
		})
		return result, err
	})
	if err != nil {
		return engine.GetResult{}, errs.WrapStore("database.get", err)
	}
	return v.(engine.GetResult), nil
}

// getGroupKey builds a singleflight key unique to one (collection, ck, g,
// p) point-get: length-prefixing each component keeps a key ending "ab" +
// gid "cd" from colliding with key "abc" + gid "d".
func getGroupKey(collection string, ck, g, p []byte) string {
	var b strings.Builder
	var lenBuf [8]byte
	writeComponent := func(v []byte) {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(v)))
		b.Write(lenBuf[:])
		b.Write(v)
	}
	b.WriteString(collection)
	writeComponent(ck)
	writeComponent(g)
	writeComponent(p)
	return b.String()
}

// GetKeysAround runs get_keys_around (spec.md §6).
func (db *Database) GetKeysAround(collection string, ck, g, p []byte, limit int) (engine.KeysAroundResult, error) {
	g, err := db.resolveGID(collection, g)
	if err != nil {
		return engine.KeysAroundResult{}, err
	}

	var result engine.KeysAroundResult
	err = db.store.View(func(txn *store.Txn) error {
		var e error
		result, e = engine.KeysAround(txn, collection, ck, g, p, limit, db.opts.RecordsToViewLimit)
		return e
	})
	if err != nil {
		return engine.KeysAroundResult{}, err
	}
	return result, nil
}

// resolveGID substitutes a collection's current committed generation when
// g is nil, the "as of right now" reading spec.md §6 describes for every
// generation-scoped read op.
func (db *Database) resolveGID(collection string, g []byte) ([]byte, error) {
	if g != nil {
		return g, nil
	}
	snap, err := db.gens.Snapshot(collection)
	if err != nil {
		return nil, err
	}
	return snap.CurrentGID, nil
}
