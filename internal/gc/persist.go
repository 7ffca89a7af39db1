package gc

import (
	"github.com/anfivewer/diffbelt-sub000/internal/keycodec"
	"github.com/anfivewer/diffbelt-sub000/internal/store"
)

// persistContinuation records (or clears) where a collection's GC sweep
// should resume, in the same write transaction as the deletions that
// produced it: spec.md §4.8 op 3 requires the continuation survive a
// restart, so a crash between work units resumes instead of re-walking
// already-finished keys from scratch.
func persistContinuation(txn *store.Txn, collection string, cont *continuation) error {
	if cont == nil {
		if err := txn.Delete(collection, store.CFMeta, []byte(keycodec.MetaKeyGCContinuationCK)); err != nil {
			return err
		}
		return txn.Delete(collection, store.CFMeta, []byte(keycodec.MetaKeyGCContinuationGID))
	}
	if err := txn.Put(collection, store.CFMeta, []byte(keycodec.MetaKeyGCContinuationCK), cont.ck); err != nil {
		return err
	}
	return txn.Put(collection, store.CFMeta, []byte(keycodec.MetaKeyGCContinuationGID), cont.resumeGID)
}

// loadContinuation rehydrates t.cont from whatever a prior process last
// persisted for collection, if anything. A continuation found this way
// still only takes effect once UpdateMinimumGID sets a target: without a
// target, the loop has nothing to resume towards.
func (c *Coordinator) loadContinuation(collection string, t *task) error {
	var cont *continuation
	err := c.backend.View(func(txn *store.Txn) error {
		ck, ok, err := txn.Get(collection, store.CFMeta, []byte(keycodec.MetaKeyGCContinuationCK))
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		gid, ok, err := txn.Get(collection, store.CFMeta, []byte(keycodec.MetaKeyGCContinuationGID))
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		cont = &continuation{ck: ck, resumeGID: gid}
		return nil
	})
	if err != nil {
		return err
	}
	if cont != nil {
		t.mu.Lock()
		t.cont = cont
		t.mu.Unlock()
	}
	return nil
}
