package gc

import (
	"bytes"
	"context"

	"github.com/anfivewer/diffbelt-sub000/internal/keycodec"
	"github.com/anfivewer/diffbelt-sub000/internal/store"
	"github.com/anfivewer/diffbelt-sub000/internal/telemetry"
)

// runWorkUnit performs one bounded, atomic pass of cleanup for collection,
// deleting non-phantom record versions strictly older than target except
// the one a reader positioned exactly at target would still need. It picks
// up from cont if non-nil, and returns a new continuation whenever the
// Limits budget runs out before every key below target has been checked.
func (c *Coordinator) runWorkUnit(collection string, target []byte, cont *continuation) (finished bool, next *continuation, err error) {
	recordsLeft := c.limits.RecordsLimit
	lookupsLeft := c.limits.LookupsLimit

	err = c.backend.Update(func(txn *store.Txn) error {
		entries, e := collectGenerationIndexBelow(txn, collection, target)
		if e != nil {
			return e
		}
		order, byCK := groupByCK(entries)

		startIdx := 0
		var resumeGID []byte
		if cont != nil {
			resumeGID = cont.resumeGID
			for i, ck := range order {
				if bytes.Equal(ck, cont.ck) {
					startIdx = i
					break
				}
			}
		}

		for i := startIdx; i < len(order); i++ {
			ck := order[i]
			var seed []byte
			if i == startIdx {
				seed = resumeGID
			}
			doneCK, resumeAt, e := cleanupCK(txn, collection, ck, target, seed, &recordsLeft, &lookupsLeft)
			if e != nil {
				return e
			}
			if !doneCK {
				next = &continuation{ck: append([]byte(nil), ck...), resumeGID: resumeAt}
				return persistContinuation(txn, collection, next)
			}
			// ck's whole history below target is resolved: none of its
			// generation-index entries in that range describe anything
			// still separately reachable there, so all of them go.
			for _, gid := range byCK[string(ck)] {
				if e := txn.DeleteGenerationIndexEntry(collection, gid, ck); e != nil {
					return e
				}
			}
		}
		return persistContinuation(txn, collection, nil)
	})
	if err != nil {
		return false, nil, err
	}
	if freed := c.limits.RecordsLimit - recordsLeft; freed > 0 {
		telemetry.Engine.GCRecordsFreed.Add(context.Background(), int64(freed))
	}
	return next == nil, next, nil
}

// cleanupCK collapses ck's non-phantom record history below target to at
// most one surviving version: the greatest one strictly less than target.
// Earlier versions are deleted outright since no point-get at a gid >=
// target (which is what target, being a minimum across readers, implies
// every live reader's own position already is) can ever need them.
//
// Grounded on original_source/src/raw_db/garbage_collector/mod.rs's
// cleanup_collection_key: it walks versions in ascending gid order holding
// the previous one as a deferred-delete candidate, only actually deleting
// it once a strictly-newer version below the limit confirms it, so the run
// never deletes a version before knowing a later one (still below the
// limit) exists to replace it.
func cleanupCK(txn *store.Txn, collection string, ck, target, resumeGID []byte, recordsLeft, lookupsLeft *int) (finished bool, resumeAt []byte, err error) {
	var prevGID, prevVal []byte
	hasPrev := false
	interrupted := false

	walkErr := forEachNonPhantomRecordBelow(txn, collection, ck, target, resumeGID, func(gid, val []byte) (bool, error) {
		if *lookupsLeft <= 0 {
			interrupted = true
			resumeAt = append([]byte(nil), gid...)
			return false, nil
		}
		*lookupsLeft--
		if hasPrev {
			if *recordsLeft <= 0 {
				// Out of delete budget: stop before touching prevGID and
				// resume the scan there next time, so it is reconsidered
				// as a fresh candidate rather than being silently skipped.
				interrupted = true
				resumeAt = prevGID
				return false, nil
			}
			if e := txn.DeleteRecord(collection, ck, prevGID, keycodec.EmptyPID); e != nil {
				return false, e
			}
			if e := txn.MergeGenerationSize(collection, prevGID, ^uint32(0)); e != nil {
				return false, e
			}
			*recordsLeft--
		}
		prevGID = append([]byte(nil), gid...)
		prevVal = append([]byte(nil), val...)
		hasPrev = true
		return true, nil
	})
	if walkErr != nil {
		return false, nil, walkErr
	}
	if interrupted {
		return false, resumeAt, nil
	}

	if hasPrev && len(prevVal) == 0 {
		// The surviving version is itself a tombstone. target is the
		// minimum generation id across every reader that currently
		// matters, and prevGID < target by construction (it is the
		// version the scan kept because it is strictly below target), so
		// no reader can be positioned at or before prevGID for ck: every
		// live reader's next lookup would already resolve to "no value"
		// whether or not this tombstone record is physically present.
		// Removing it too cannot change any live reader's answer.
		if e := txn.DeleteRecord(collection, ck, prevGID, keycodec.EmptyPID); e != nil {
			return false, nil, e
		}
		if e := txn.MergeGenerationSize(collection, prevGID, ^uint32(0)); e != nil {
			return false, nil, e
		}
	}
	return true, nil, nil
}

// forEachNonPhantomRecordBelow walks ck's committed (non-phantom) record
// versions in ascending gid order, starting at resumeGID (or the beginning
// of ck's history if nil) and stopping before target, calling fn(gid,
// value) for each. fn's bool return continues or stops the walk early.
func forEachNonPhantomRecordBelow(txn *store.Txn, collection string, ck, target, resumeGID []byte, fn func(gid, val []byte) (bool, error)) error {
	lowerGID := resumeGID
	if lowerGID == nil {
		lowerGID = keycodec.ZeroGID
	}
	lower, err := keycodec.EncodeRecordKey(ck, lowerGID, keycodec.EmptyPID)
	if err != nil {
		return err
	}
	upper, err := keycodec.EncodeRecordKey(ck, target, keycodec.EmptyPID)
	if err != nil {
		return err
	}
	it := txn.NewIterator(collection, store.CFDefault, store.IteratorOptions{
		Direction:  store.Forward,
		LowerBound: lower,
		UpperBound: upper,
	})
	defer it.Close()
	for it.Valid() {
		rk := keycodec.DecodeRecordKey(it.Key())
		if len(rk.PID) == 0 {
			cont, e := fn(rk.GID, it.Value())
			if e != nil {
				return e
			}
			if !cont {
				return nil
			}
		}
		it.Next()
	}
	return nil
}

type genEntry struct {
	gid []byte
	ck  []byte
}

// collectGenerationIndexBelow returns every (gid, ck) pair the generation
// index records with gid < target, in ascending (gid, ck) order.
func collectGenerationIndexBelow(txn *store.Txn, collection string, target []byte) ([]genEntry, error) {
	upper, err := keycodec.EncodeGenerationKey(target, nil)
	if err != nil {
		return nil, err
	}
	it := txn.NewIterator(collection, store.CFGens, store.IteratorOptions{
		Direction:  store.Forward,
		UpperBound: upper,
	})
	defer it.Close()
	var out []genEntry
	for it.Valid() {
		gk := keycodec.DecodeGenerationKey(it.Key())
		out = append(out, genEntry{
			gid: append([]byte(nil), gk.GID...),
			ck:  append([]byte(nil), gk.CK...),
		})
		it.Next()
	}
	return out, nil
}

// groupByCK dedupes entries by ck while preserving first-seen order, so a
// key touched at several generations below target is processed once
// instead of once per generation-index entry that names it (which is what
// original_source/src/raw_db/garbage_collector/mod.rs does, since its outer
// loop drives directly off individual generation-index entries and simply
// tolerates the redundant re-scan of an already-cleaned key).
func groupByCK(entries []genEntry) (order [][]byte, byCK map[string][][]byte) {
	byCK = make(map[string][][]byte)
	for _, e := range entries {
		key := string(e.ck)
		if _, ok := byCK[key]; !ok {
			order = append(order, e.ck)
		}
		byCK[key] = append(byCK[key], e.gid)
	}
	return order, byCK
}
