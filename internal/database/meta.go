package database

import (
	"fmt"

	"github.com/anfivewer/diffbelt-sub000/internal/errs"
	"github.com/anfivewer/diffbelt-sub000/internal/store"
)

const maxCollectionNameLen = 255

// ValidateCollectionName rejects names that could collide with
// dbMetaCollection or that bbolt/keycodec can't round-trip as a bucket
// name: empty, too long, or containing the NUL byte store.go already uses
// to separate a collection name from its column-family suffix internally.
func ValidateCollectionName(name string) error {
	if len(name) == 0 || len(name) > maxCollectionNameLen {
		return errs.ErrInvalidKey
	}
	for i := 0; i < len(name); i++ {
		if name[i] == 0x00 {
			return errs.ErrInvalidKey
		}
	}
	return nil
}

func dbCollectionKey(name string) []byte {
	return []byte(metaCollectionPrefix + name)
}

func dbDeleteMarkerKey(name string) []byte {
	return []byte(metaDeleteCollectionPrefix + name)
}

// putCollectionMeta records name's existence and manual flag in the
// Database-level meta table (spec.md §3's `collection:<name>` entry).
func putCollectionMeta(txn *store.Txn, name string, isManual bool) error {
	var v byte
	if isManual {
		v = 1
	}
	return txn.Put(dbMetaCollection, store.CFMeta, dbCollectionKey(name), []byte{v})
}

func getCollectionMeta(txn *store.Txn, name string) (isManual bool, exists bool, err error) {
	v, ok, err := txn.Get(dbMetaCollection, store.CFMeta, dbCollectionKey(name))
	if err != nil || !ok {
		return false, ok, err
	}
	if len(v) != 1 {
		return false, false, fmt.Errorf("database: corrupt collection meta for %q", name)
	}
	return v[0] != 0, true, nil
}

func deleteCollectionMeta(txn *store.Txn, name string) error {
	return txn.Delete(dbMetaCollection, store.CFMeta, dbCollectionKey(name))
}

func putDeleteMarker(txn *store.Txn, name string) error {
	return txn.Put(dbMetaCollection, store.CFMeta, dbDeleteMarkerKey(name), []byte{1})
}

func deleteDeleteMarker(txn *store.Txn, name string) error {
	return txn.Delete(dbMetaCollection, store.CFMeta, dbDeleteMarkerKey(name))
}

// listMetaNames returns every name stored under a Database-level meta
// prefix (either metaCollectionPrefix or metaDeleteCollectionPrefix).
func listMetaNames(txn *store.Txn, prefix string) ([]string, error) {
	lower := []byte(prefix)
	upper := append([]byte(nil), lower...)
	upper[len(upper)-1]++

	it := txn.NewIterator(dbMetaCollection, store.CFMeta, store.IteratorOptions{
		Direction:  store.Forward,
		LowerBound: lower,
		UpperBound: upper,
	})
	defer it.Close()

	var out []string
	for it.Valid() {
		out = append(out, string(it.Key()[len(lower):]))
		it.Next()
	}
	return out, nil
}
