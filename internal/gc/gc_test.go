package gc

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anfivewer/diffbelt-sub000/internal/store"
)

func openTestStore(t *testing.T, collection string) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.EnsureCollectionBuckets(collection))
	return s
}

func gid(n byte) []byte { return []byte{0x00, 0x00, 0x00, n} }

func putCommitted(t *testing.T, s *store.Store, collection string, ck []byte, g []byte, value []byte) {
	t.Helper()
	require.NoError(t, s.Update(func(txn *store.Txn) error {
		if err := txn.PutRecord(collection, ck, g, nil, value); err != nil {
			return err
		}
		if err := txn.PutGenerationIndexEntry(collection, g, ck); err != nil {
			return err
		}
		return txn.MergeGenerationSize(collection, g, 1)
	}))
}

func TestCleanupCKRetainsOnlyGreatestVersionBelowTarget(t *testing.T) {
	s := openTestStore(t, "c")
	ck := []byte("key")
	putCommitted(t, s, "c", ck, gid(1), []byte("v1"))
	putCommitted(t, s, "c", ck, gid(2), []byte("v2"))
	putCommitted(t, s, "c", ck, gid(3), []byte("v3"))

	recordsLeft, lookupsLeft := 1000, 1000
	require.NoError(t, s.Update(func(txn *store.Txn) error {
		finished, resume, err := cleanupCK(txn, "c", ck, gid(10), nil, &recordsLeft, &lookupsLeft)
		require.NoError(t, err)
		require.True(t, finished)
		require.Nil(t, resume)
		return nil
	}))

	require.NoError(t, s.View(func(txn *store.Txn) error {
		_, ok, err := txn.GetRecord("c", ck, gid(1), nil)
		require.NoError(t, err)
		require.False(t, ok)
		_, ok, err = txn.GetRecord("c", ck, gid(2), nil)
		require.NoError(t, err)
		require.False(t, ok)
		v, ok, err := txn.GetRecord("c", ck, gid(3), nil)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, []byte("v3"), v)
		return nil
	}))
}

func TestCleanupCKRemovesRetainedTombstone(t *testing.T) {
	s := openTestStore(t, "c")
	ck := []byte("key")
	putCommitted(t, s, "c", ck, gid(1), []byte("v1"))
	putCommitted(t, s, "c", ck, gid(2), []byte{}) // tombstone

	recordsLeft, lookupsLeft := 1000, 1000
	require.NoError(t, s.Update(func(txn *store.Txn) error {
		finished, resume, err := cleanupCK(txn, "c", ck, gid(10), nil, &recordsLeft, &lookupsLeft)
		require.NoError(t, err)
		require.True(t, finished)
		require.Nil(t, resume)
		return nil
	}))

	require.NoError(t, s.View(func(txn *store.Txn) error {
		_, ok, err := txn.GetRecord("c", ck, gid(1), nil)
		require.NoError(t, err)
		require.False(t, ok)
		_, ok, err = txn.GetRecord("c", ck, gid(2), nil)
		require.NoError(t, err)
		require.False(t, ok, "retained tombstone with no reader before it should be removed too")
		return nil
	}))
}

func TestCleanupCKIgnoresPhantomWrites(t *testing.T) {
	s := openTestStore(t, "c")
	ck := []byte("key")
	pid := []byte("phantom-1")
	require.NoError(t, s.Update(func(txn *store.Txn) error {
		return txn.PutRecord("c", ck, gid(1), pid, []byte("scratch"))
	}))
	putCommitted(t, s, "c", ck, gid(2), []byte("v2"))

	recordsLeft, lookupsLeft := 1000, 1000
	require.NoError(t, s.Update(func(txn *store.Txn) error {
		finished, _, err := cleanupCK(txn, "c", ck, gid(10), nil, &recordsLeft, &lookupsLeft)
		require.NoError(t, err)
		require.True(t, finished)
		return nil
	}))

	require.NoError(t, s.View(func(txn *store.Txn) error {
		v, ok, err := txn.GetRecord("c", ck, gid(1), pid)
		require.NoError(t, err)
		require.True(t, ok, "phantom writes are never collected by GC")
		require.Equal(t, []byte("scratch"), v)
		return nil
	}))
}

func TestCleanupCKPacingResumesViaContinuation(t *testing.T) {
	s := openTestStore(t, "c")
	ck := []byte("key")
	putCommitted(t, s, "c", ck, gid(1), []byte("v1"))
	putCommitted(t, s, "c", ck, gid(2), []byte("v2"))
	putCommitted(t, s, "c", ck, gid(3), []byte("v3"))

	var resume []byte
	recordsLeft, lookupsLeft := 0, 1000 // no deletion budget at all
	require.NoError(t, s.Update(func(txn *store.Txn) error {
		finished, next, err := cleanupCK(txn, "c", ck, gid(10), nil, &recordsLeft, &lookupsLeft)
		require.NoError(t, err)
		require.False(t, finished)
		require.NotNil(t, next)
		resume = next
		return nil
	}))
	require.Equal(t, gid(1), resume, "interrupted before deleting the first candidate, not after inspecting more")

	require.NoError(t, s.View(func(txn *store.Txn) error {
		_, ok, err := txn.GetRecord("c", ck, gid(1), nil)
		require.NoError(t, err)
		require.True(t, ok, "nothing deleted yet since recordsLeft never allowed a delete")
		return nil
	}))

	recordsLeft, lookupsLeft = 1000, 1000
	require.NoError(t, s.Update(func(txn *store.Txn) error {
		finished, next, err := cleanupCK(txn, "c", ck, gid(10), resume, &recordsLeft, &lookupsLeft)
		require.NoError(t, err)
		require.True(t, finished)
		require.Nil(t, next)
		return nil
	}))

	require.NoError(t, s.View(func(txn *store.Txn) error {
		_, ok, err := txn.GetRecord("c", ck, gid(1), nil)
		require.NoError(t, err)
		require.False(t, ok)
		v, ok, err := txn.GetRecord("c", ck, gid(3), nil)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, []byte("v3"), v)
		return nil
	}))
}

func TestRunWorkUnitRemovesGenerationIndexEntriesBelowTarget(t *testing.T) {
	s := openTestStore(t, "c")
	ckA, ckB := []byte("a"), []byte("b")
	putCommitted(t, s, "c", ckA, gid(1), []byte("a1"))
	putCommitted(t, s, "c", ckA, gid(2), []byte("a2"))
	putCommitted(t, s, "c", ckB, gid(3), []byte("b1"))
	putCommitted(t, s, "c", ckB, gid(9), []byte("b2")) // not below target(5): survives untouched

	c := New(context.Background(), s, Limits{RecordsLimit: 1000, LookupsLimit: 1000}, nil)
	finished, next, err := c.runWorkUnit("c", gid(5), nil)
	require.NoError(t, err)
	require.True(t, finished)
	require.Nil(t, next)

	require.NoError(t, s.View(func(txn *store.Txn) error {
		// ckA: only gid(2) survives, and its gens-index entry is gone too
		// (see the index-entry deletion loop in cleanup.go's runWorkUnit).
		v, ok, err := txn.GetRecord("c", ckA, gid(2), nil)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, []byte("a2"), v)

		it := txn.NewIterator("c", store.CFGens, store.IteratorOptions{Direction: store.Forward})
		defer it.Close()
		var cks [][]byte
		for it.Valid() {
			cks = append(cks, append([]byte(nil), it.Key()...))
			it.Next()
		}
		// Only ckB at gid(9) should remain indexed.
		require.Len(t, cks, 1)
		return nil
	}))

	require.NoError(t, s.View(func(txn *store.Txn) error {
		v, ok, err := txn.GetRecord("c", ckB, gid(9), nil)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, []byte("b2"), v)
		return nil
	}))
}

func TestUpdateMinimumGIDIsMonotonic(t *testing.T) {
	s := openTestStore(t, "c")
	ctx, cancel := context.WithCancel(context.Background())
	c := New(ctx, s, DefaultLimits, nil)
	require.NoError(t, c.Register("c"))
	defer func() {
		cancel()
		_ = c.Wait()
	}()

	c.UpdateMinimumGID("c", gid(5))
	c.UpdateMinimumGID("c", gid(2)) // must not move the threshold backward

	c.mu.Lock()
	task := c.tasks["c"]
	c.mu.Unlock()
	task.mu.Lock()
	got := task.targetGID
	task.mu.Unlock()
	require.Equal(t, gid(5), got)
}

func TestCoordinatorBackgroundLoopCollectsOnTrigger(t *testing.T) {
	s := openTestStore(t, "c")
	ck := []byte("key")
	putCommitted(t, s, "c", ck, gid(1), []byte("v1"))
	putCommitted(t, s, "c", ck, gid(2), []byte("v2"))

	ctx, cancel := context.WithCancel(context.Background())
	c := New(ctx, s, DefaultLimits, nil)
	require.NoError(t, c.Register("c"))

	c.UpdateMinimumGID("c", gid(10))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var gone bool
		_ = s.View(func(txn *store.Txn) error {
			_, ok, err := txn.GetRecord("c", ck, gid(1), nil)
			require.NoError(t, err)
			gone = !ok
			return nil
		})
		if gone {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	require.NoError(t, s.View(func(txn *store.Txn) error {
		_, ok, err := txn.GetRecord("c", ck, gid(1), nil)
		require.NoError(t, err)
		require.False(t, ok, "background loop should have collected gid(1) by the deadline")
		v, ok, err := txn.GetRecord("c", ck, gid(2), nil)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, []byte("v2"), v)
		return nil
	}))

	cancel()
	require.NoError(t, c.Wait())
}

func TestDropStopsCollectingAndIsIdempotent(t *testing.T) {
	s := openTestStore(t, "c")
	ctx, cancel := context.WithCancel(context.Background())
	c := New(ctx, s, DefaultLimits, nil)
	require.NoError(t, c.Register("c"))

	c.Drop("c")
	c.Drop("c") // must not panic or block on an already-removed task

	c.mu.Lock()
	_, exists := c.tasks["c"]
	c.mu.Unlock()
	require.False(t, exists)

	cancel()
	require.NoError(t, c.Wait())
}
