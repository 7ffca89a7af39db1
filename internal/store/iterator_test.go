package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anfivewer/diffbelt-sub000/internal/keycodec"
)

func openTestStore(t *testing.T, collection string) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.EnsureCollectionBuckets(collection))
	return s
}

func gidOf(n byte) []byte { return []byte{0, 0, 0, n} }

func TestRecordIteratorWalksCKThenGIDThenPIDInOrder(t *testing.T) {
	s := openTestStore(t, "c")
	require.NoError(t, s.Update(func(txn *Txn) error {
		require.NoError(t, txn.PutRecord("c", []byte("a"), gidOf(1), nil, []byte("a@1")))
		require.NoError(t, txn.PutRecord("c", []byte("a"), gidOf(2), nil, []byte("a@2")))
		require.NoError(t, txn.PutRecord("c", []byte("a"), gidOf(2), []byte("p"), []byte("a@2#p")))
		require.NoError(t, txn.PutRecord("c", []byte("b"), gidOf(1), nil, []byte("b@1")))
		return nil
	}))

	type seen struct {
		ck, gid, pid, val string
	}
	var got []seen
	require.NoError(t, s.View(func(txn *Txn) error {
		it := txn.NewIterator("c", CFDefault, IteratorOptions{Direction: Forward})
		defer it.Close()
		for it.Valid() {
			rk := keycodec.DecodeRecordKey(it.Key())
			got = append(got, seen{string(rk.CK), string(rk.GID), string(rk.PID), string(it.Value())})
			it.Next()
		}
		return nil
	}))

	require.Equal(t, []seen{
		{"a", string(gidOf(1)), "", "a@1"},
		{"a", string(gidOf(2)), "", "a@2"},
		{"a", string(gidOf(2)), "p", "a@2#p"},
		{"b", string(gidOf(1)), "", "b@1"},
	}, got)
}

func TestRecordIteratorReverseDirection(t *testing.T) {
	s := openTestStore(t, "c")
	require.NoError(t, s.Update(func(txn *Txn) error {
		require.NoError(t, txn.PutRecord("c", []byte("a"), gidOf(1), nil, []byte("v")))
		require.NoError(t, txn.PutRecord("c", []byte("a"), gidOf(2), nil, []byte("v")))
		require.NoError(t, txn.PutRecord("c", []byte("b"), gidOf(1), nil, []byte("v")))
		return nil
	}))

	var cks, gids []string
	require.NoError(t, s.View(func(txn *Txn) error {
		it := txn.NewIterator("c", CFDefault, IteratorOptions{Direction: Reverse})
		defer it.Close()
		for it.Valid() {
			rk := keycodec.DecodeRecordKey(it.Key())
			cks = append(cks, string(rk.CK))
			gids = append(gids, string(rk.GID))
			it.Next()
		}
		return nil
	}))

	require.Equal(t, []string{"b", "a", "a"}, cks)
	require.Equal(t, []string{string(gidOf(1)), string(gidOf(2)), string(gidOf(1))}, gids)
}

func TestRecordIteratorBoundsRestrictToOneCK(t *testing.T) {
	s := openTestStore(t, "c")
	require.NoError(t, s.Update(func(txn *Txn) error {
		require.NoError(t, txn.PutRecord("c", []byte("a"), gidOf(9), nil, []byte("v")))
		require.NoError(t, txn.PutRecord("c", []byte("b"), gidOf(1), nil, []byte("v")))
		require.NoError(t, txn.PutRecord("c", []byte("b"), gidOf(2), nil, []byte("v")))
		require.NoError(t, txn.PutRecord("c", []byte("c"), gidOf(1), nil, []byte("v")))
		return nil
	}))

	lower, err := keycodec.EncodeRecordKey([]byte("b"), nil, nil)
	require.NoError(t, err)
	upper, err := keycodec.EncodeRecordKey([]byte("c"), nil, nil)
	require.NoError(t, err)

	var count int
	require.NoError(t, s.View(func(txn *Txn) error {
		it := txn.NewIterator("c", CFDefault, IteratorOptions{
			Direction:  Forward,
			LowerBound: lower,
			UpperBound: upper,
		})
		defer it.Close()
		for it.Valid() {
			rk := keycodec.DecodeRecordKey(it.Key())
			require.Equal(t, "b", string(rk.CK))
			count++
			it.Next()
		}
		return nil
	}))
	require.Equal(t, 2, count)
}

func TestRecordIteratorSeekKeyPositionsMidScan(t *testing.T) {
	s := openTestStore(t, "c")
	require.NoError(t, s.Update(func(txn *Txn) error {
		for _, ck := range []string{"a", "b", "c", "d"} {
			require.NoError(t, txn.PutRecord("c", []byte(ck), gidOf(1), nil, []byte("v")))
		}
		return nil
	}))

	seekKey, err := keycodec.EncodeRecordKey([]byte("c"), nil, nil)
	require.NoError(t, err)

	var cks []string
	require.NoError(t, s.View(func(txn *Txn) error {
		it := txn.NewIterator("c", CFDefault, IteratorOptions{Direction: Forward, SeekKey: seekKey})
		defer it.Close()
		for it.Valid() {
			rk := keycodec.DecodeRecordKey(it.Key())
			cks = append(cks, string(rk.CK))
			it.Next()
		}
		return nil
	}))
	require.Equal(t, []string{"c", "d"}, cks)
}

func TestGenIndexIteratorOrdersByGIDThenCK(t *testing.T) {
	s := openTestStore(t, "c")
	require.NoError(t, s.Update(func(txn *Txn) error {
		require.NoError(t, txn.PutGenerationIndexEntry("c", gidOf(1), []byte("z")))
		require.NoError(t, txn.PutGenerationIndexEntry("c", gidOf(1), []byte("a")))
		require.NoError(t, txn.PutGenerationIndexEntry("c", gidOf(2), []byte("m")))
		return nil
	}))

	type entry struct{ gid, ck string }
	var got []entry
	require.NoError(t, s.View(func(txn *Txn) error {
		it := txn.NewIterator("c", CFGens, IteratorOptions{Direction: Forward})
		defer it.Close()
		for it.Valid() {
			gik := keycodec.DecodeGenerationKey(it.Key())
			got = append(got, entry{string(gik.GID), string(gik.CK)})
			it.Next()
		}
		return nil
	}))

	require.Equal(t, []entry{
		{string(gidOf(1)), "a"},
		{string(gidOf(1)), "z"},
		{string(gidOf(2)), "m"},
	}, got)
}

func TestGenIndexIteratorBoundsExcludeOutsideGIDRange(t *testing.T) {
	s := openTestStore(t, "c")
	require.NoError(t, s.Update(func(txn *Txn) error {
		require.NoError(t, txn.PutGenerationIndexEntry("c", gidOf(1), []byte("k1")))
		require.NoError(t, txn.PutGenerationIndexEntry("c", gidOf(2), []byte("k2")))
		require.NoError(t, txn.PutGenerationIndexEntry("c", gidOf(3), []byte("k3")))
		return nil
	}))

	// (gidOf(1), gidOf(3)]: entries at gid 2 and 3 only.
	lower, err := keycodec.EncodeGenerationKey(gidOf(1), nil)
	require.NoError(t, err)
	upperGID := keycodec.Increment(gidOf(3))
	upper, err := keycodec.EncodeGenerationKey(upperGID, nil)
	require.NoError(t, err)

	var cks []string
	require.NoError(t, s.View(func(txn *Txn) error {
		it := txn.NewIterator("c", CFGens, IteratorOptions{
			Direction:  Forward,
			LowerBound: lower,
			UpperBound: upper,
		})
		defer it.Close()
		for it.Valid() {
			gik := keycodec.DecodeGenerationKey(it.Key())
			if string(gik.GID) == string(gidOf(1)) {
				it.Next()
				continue
			}
			cks = append(cks, string(gik.CK))
			it.Next()
		}
		return nil
	}))
	require.Equal(t, []string{"k2", "k3"}, cks)
}

func TestFlatIteratorOverGensSize(t *testing.T) {
	s := openTestStore(t, "c")
	require.NoError(t, s.Update(func(txn *Txn) error {
		require.NoError(t, txn.MergeGenerationSize("c", gidOf(1), 3))
		require.NoError(t, txn.MergeGenerationSize("c", gidOf(2), 5))
		return nil
	}))

	var counts []uint32
	require.NoError(t, s.View(func(txn *Txn) error {
		it := txn.NewIterator("c", CFGensSize, IteratorOptions{Direction: Forward})
		defer it.Close()
		for it.Valid() {
			counts = append(counts, keycodec.DecodeGenerationSizeCounter(it.Value()))
			it.Next()
		}
		return nil
	}))
	require.Equal(t, []uint32{3, 5}, counts)
}

func TestDeleteGenerationIndexEntryLeavesNoEntry(t *testing.T) {
	s := openTestStore(t, "c")
	require.NoError(t, s.Update(func(txn *Txn) error {
		require.NoError(t, txn.PutGenerationIndexEntry("c", gidOf(1), []byte("k")))
		return nil
	}))
	require.NoError(t, s.Update(func(txn *Txn) error {
		return txn.DeleteGenerationIndexEntry("c", gidOf(1), []byte("k"))
	}))

	require.NoError(t, s.View(func(txn *Txn) error {
		it := txn.NewIterator("c", CFGens, IteratorOptions{Direction: Forward})
		defer it.Close()
		require.False(t, it.Valid())
		return nil
	}))
}
