package engine

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anfivewer/diffbelt-sub000/internal/errs"
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

func putCommitted(t *testing.T, s *store.Store, collection string, ck, g, value []byte) {
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

func putPhantom(t *testing.T, s *store.Store, collection string, ck, g, pid, value []byte) {
	t.Helper()
	require.NoError(t, s.Update(func(txn *store.Txn) error {
		if err := txn.PutRecord(collection, ck, g, pid, value); err != nil {
			return err
		}
		return txn.PutPhantomIndexEntry(collection, pid, ck, g)
	}))
}

func TestGetReturnsLargestGIDNotAfterG(t *testing.T) {
	s := openTestStore(t, "c")
	ck := []byte("key")
	putCommitted(t, s, "c", ck, gid(1), []byte("v1"))
	putCommitted(t, s, "c", ck, gid(3), []byte("v3"))
	putCommitted(t, s, "c", ck, gid(5), []byte("v5"))

	require.NoError(t, s.View(func(txn *store.Txn) error {
		res, err := Get(txn, "c", ck, gid(4), nil)
		require.NoError(t, err)
		require.True(t, res.Found)
		require.Equal(t, []byte("v3"), res.Value)
		require.Equal(t, gid(3), res.FoundAtGID)
		return nil
	}))
}

func TestGetMissingKeyNotFound(t *testing.T) {
	s := openTestStore(t, "c")
	require.NoError(t, s.View(func(txn *store.Txn) error {
		res, err := Get(txn, "c", []byte("absent"), gid(9), nil)
		require.NoError(t, err)
		require.False(t, res.Found)
		require.Nil(t, res.FoundAtGID)
		return nil
	}))
}

func TestGetTombstoneIsNotFoundButReportsGID(t *testing.T) {
	s := openTestStore(t, "c")
	ck := []byte("key")
	putCommitted(t, s, "c", ck, gid(1), []byte("v1"))
	putCommitted(t, s, "c", ck, gid(2), nil) // tombstone

	require.NoError(t, s.View(func(txn *store.Txn) error {
		res, err := Get(txn, "c", ck, gid(9), nil)
		require.NoError(t, err)
		require.False(t, res.Found)
		require.True(t, res.TombstoneAtGID)
		require.Equal(t, gid(2), res.FoundAtGID)
		return nil
	}))
}

func TestGetBeforeAnyVersionIsNotFound(t *testing.T) {
	s := openTestStore(t, "c")
	ck := []byte("key")
	putCommitted(t, s, "c", ck, gid(5), []byte("v5"))

	require.NoError(t, s.View(func(txn *store.Txn) error {
		res, err := Get(txn, "c", ck, gid(1), nil)
		require.NoError(t, err)
		require.False(t, res.Found)
		require.Nil(t, res.FoundAtGID)
		return nil
	}))
}

func TestGetPhantomVersionOnlyVisibleToMatchingPID(t *testing.T) {
	s := openTestStore(t, "c")
	ck := []byte("key")
	putCommitted(t, s, "c", ck, gid(1), []byte("committed"))
	pid := []byte("writer-a")
	putPhantom(t, s, "c", ck, gid(1), pid, []byte("phantom"))

	require.NoError(t, s.View(func(txn *store.Txn) error {
		res, err := Get(txn, "c", ck, gid(1), pid)
		require.NoError(t, err)
		require.True(t, res.Found)
		require.Equal(t, []byte("phantom"), res.Value)

		res, err = Get(txn, "c", ck, gid(1), nil)
		require.NoError(t, err)
		require.True(t, res.Found)
		require.Equal(t, []byte("committed"), res.Value)

		res, err = Get(txn, "c", ck, gid(1), []byte("writer-b"))
		require.NoError(t, err)
		require.True(t, res.Found)
		require.Equal(t, []byte("committed"), res.Value, "a phantom write under another writer's pid must never leak")
		return nil
	}))
}

func TestKeysAroundRespectsLimitAndReportsHasMore(t *testing.T) {
	s := openTestStore(t, "c")
	g := gid(1)
	for i := byte(0); i < 6; i++ {
		putCommitted(t, s, "c", []byte{'0' + i}, g, []byte("v"))
	}

	require.NoError(t, s.View(func(txn *store.Txn) error {
		res, err := KeysAround(txn, "c", []byte("3"), g, nil, 100, 0)
		require.NoError(t, err)
		require.Equal(t, [][]byte{[]byte("2"), []byte("1"), []byte("0")}, res.Left)
		require.Equal(t, [][]byte{[]byte("4"), []byte("5")}, res.Right)
		require.False(t, res.HasMoreLeft)
		require.False(t, res.HasMoreRight)

		res, err = KeysAround(txn, "c", []byte("1"), g, nil, 2, 0)
		require.NoError(t, err)
		require.Equal(t, [][]byte{[]byte("0")}, res.Left)
		require.Equal(t, [][]byte{[]byte("2"), []byte("3")}, res.Right)
		require.False(t, res.HasMoreLeft)
		require.True(t, res.HasMoreRight)
		return nil
	}))
}

func TestKeysAroundMissingCenterErrors(t *testing.T) {
	s := openTestStore(t, "c")
	require.NoError(t, s.View(func(txn *store.Txn) error {
		_, err := KeysAround(txn, "c", []byte("nope"), gid(1), nil, 10, 0)
		require.ErrorIs(t, err, errs.ErrCursorDidNotFindRecord)
		return nil
	}))
}

func TestKeysAroundSkipsTombstonedNeighbors(t *testing.T) {
	s := openTestStore(t, "c")
	g := gid(1)
	putCommitted(t, s, "c", []byte("1"), g, []byte("v"))
	putCommitted(t, s, "c", []byte("2"), g, nil) // tombstone, must be skipped
	putCommitted(t, s, "c", []byte("3"), g, []byte("v"))

	require.NoError(t, s.View(func(txn *store.Txn) error {
		res, err := KeysAround(txn, "c", []byte("1"), g, nil, 10, 0)
		require.NoError(t, err)
		require.Equal(t, [][]byte{[]byte("3")}, res.Right)
		return nil
	}))
}

func TestQueryPackPaginatesAndSkipsTombstones(t *testing.T) {
	s := openTestStore(t, "c")
	g := gid(1)
	for i := byte(0); i < 5; i++ {
		putCommitted(t, s, "c", []byte{'a' + i}, g, []byte("v"))
	}
	putCommitted(t, s, "c", []byte("z-deleted"), g, nil)

	var allItems []QueryItem
	var startRK []byte
	require.NoError(t, s.View(func(txn *store.Txn) error {
		for {
			pack, err := QueryPack(txn, "c", g, nil, startRK, 2, 0)
			require.NoError(t, err)
			allItems = append(allItems, pack.Items...)
			if pack.Continuation == nil {
				break
			}
			startRK = pack.Continuation.IteratorPositionRK
			if startRK == nil {
				startRK = pack.Continuation.LastEmittedRK
			}
		}
		return nil
	}))

	require.Len(t, allItems, 5)
}

func TestSelectDiffModeInMemoryWhenUnderLimit(t *testing.T) {
	s := openTestStore(t, "c")
	require.NoError(t, s.Update(func(txn *store.Txn) error {
		require.NoError(t, txn.MergeGenerationSize("c", gid(1), 2))
		require.NoError(t, txn.MergeGenerationSize("c", gid(2), 2))
		return nil
	}))

	require.NoError(t, s.View(func(txn *store.Txn) error {
		mode, toGID, found, err := SelectDiffMode(txn, "c", []byte{}, gid(2), 10)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, DiffModeInMemory, mode)
		require.Equal(t, gid(2), toGID)
		return nil
	}))
}

func TestSelectDiffModeSingleGenerationWhenOverLimit(t *testing.T) {
	s := openTestStore(t, "c")
	require.NoError(t, s.Update(func(txn *store.Txn) error {
		return txn.MergeGenerationSize("c", gid(1), 50)
	}))

	require.NoError(t, s.View(func(txn *store.Txn) error {
		mode, toGID, found, err := SelectDiffMode(txn, "c", []byte{}, gid(1), 10)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, DiffModeSingleGeneration, mode)
		require.Equal(t, gid(1), toGID)
		return nil
	}))
}

func TestSelectDiffModeNotFoundWhenNothingChanged(t *testing.T) {
	s := openTestStore(t, "c")
	require.NoError(t, s.View(func(txn *store.Txn) error {
		_, _, found, err := SelectDiffMode(txn, "c", []byte{}, gid(9), 10)
		require.NoError(t, err)
		require.False(t, found)
		return nil
	}))
}

func TestDiffPackInMemoryResolvesFromAndTo(t *testing.T) {
	s := openTestStore(t, "c")
	ck := []byte("k")
	putCommitted(t, s, "c", ck, gid(1), []byte("old"))
	putCommitted(t, s, "c", ck, gid(2), []byte("new"))

	require.NoError(t, s.View(func(txn *store.Txn) error {
		changed, err := CollectChangedKeys(txn, "c", gid(1), gid(2))
		require.NoError(t, err)
		require.Equal(t, [][]byte{ck}, changed)

		state := NewDiffState(DiffModeInMemory, gid(1), gid(2), changed)
		pack, err := DiffPack(txn, "c", state, 10, 0)
		require.NoError(t, err)
		require.True(t, pack.Done)
		require.Len(t, pack.Items, 1)
		require.True(t, pack.Items[0].From.Present)
		require.Equal(t, []byte("old"), pack.Items[0].From.Value)
		require.True(t, pack.Items[0].To.Present)
		require.Equal(t, []byte("new"), pack.Items[0].To.Value)
		return nil
	}))
}

func TestDiffPackPackLimitPaginates(t *testing.T) {
	s := openTestStore(t, "c")
	g := gid(1)
	var cks [][]byte
	for i := byte(0); i < 4; i++ {
		ck := []byte{'k', i}
		cks = append(cks, ck)
		putCommitted(t, s, "c", ck, g, []byte{'v', i})
	}

	require.NoError(t, s.View(func(txn *store.Txn) error {
		state := NewDiffState(DiffModeInMemory, []byte{}, g, cks)
		pack, err := DiffPack(txn, "c", state, 2, 0)
		require.NoError(t, err)
		require.False(t, pack.Done)
		require.Len(t, pack.Items, 2)

		pack, err = DiffPack(txn, "c", state, 2, 0)
		require.NoError(t, err)
		require.True(t, pack.Done)
		require.Len(t, pack.Items, 2)
		return nil
	}))
}
