package database

import (
	"github.com/anfivewer/diffbelt-sub000/internal/errs"
	"github.com/anfivewer/diffbelt-sub000/internal/keycodec"
	"github.com/anfivewer/diffbelt-sub000/internal/store"
)

// CreateCollection creates a new, empty collection (spec.md §6's
// create_collection). Manual collections start with no open next
// generation; non-manual ones start with generation_id = 8 zero bytes and
// next_generation_id = its successor, ready for the first put to lock
// straight away.
func (db *Database) CreateCollection(name string, isManual bool) error {
	if err := ValidateCollectionName(name); err != nil {
		return err
	}

	currentGID := keycodec.ZeroGID
	var nextGID []byte
	if !isManual {
		currentGID = keycodec.InitialNonManualGID()
		nextGID = keycodec.Increment(currentGID)
	}

	err := db.store.Update(func(txn *store.Txn) error {
		_, exists, err := getCollectionMeta(txn, name)
		if err != nil {
			return err
		}
		if exists {
			return errs.ErrAlreadyExists
		}
		if err := putCollectionMeta(txn, name, isManual); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return errs.WrapStore("database.createCollection", err)
	}

	if err := db.store.EnsureCollectionBuckets(name); err != nil {
		return errs.WrapStore("database.createCollection", err)
	}

	err = db.store.Update(func(txn *store.Txn) error {
		if err := txn.Put(name, store.CFMeta, []byte(keycodec.MetaKeyIsManual), boolByte(isManual)); err != nil {
			return err
		}
		if err := txn.Put(name, store.CFMeta, []byte(keycodec.MetaKeyGenerationID), currentGID); err != nil {
			return err
		}
		if nextGID != nil {
			if err := txn.Put(name, store.CFMeta, []byte(keycodec.MetaKeyNextGenerationID), nextGID); err != nil {
				return err
			}
		}
		return txn.Put(name, store.CFMeta, []byte(keycodec.MetaKeySchemaVersion), []byte{keycodec.CurrentSchemaVersion})
	})
	if err != nil {
		return errs.WrapStore("database.createCollection", err)
	}

	db.gens.Register(name, isManual, currentGID, nextGID)
	if err := db.readers.LoadCollection(name); err != nil {
		return err
	}
	if err := db.gcCoord.Register(name); err != nil {
		return err
	}
	return nil
}

// checkSchemaVersion validates a collection's schema_version at open: a
// collection created by a future, on-disk incompatible version of this
// package must abort recovery rather than be silently misread. A
// collection created before this field existed has no stored value at
// all, which is treated as compatible rather than fatal.
func checkSchemaVersion(txn *store.Txn, name string) error {
	v, ok, err := txn.Get(name, store.CFMeta, []byte(keycodec.MetaKeySchemaVersion))
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if len(v) != 1 || v[0] != keycodec.CurrentSchemaVersion {
		return errs.ErrUnsupportedSchemaVersion
	}
	return nil
}

func boolByte(b bool) []byte {
	if b {
		return []byte{1}
	}
	return []byte{0}
}

// DeleteCollection removes a collection and everything it owns. It first
// persists a resumable deletion marker, so a crash mid-delete finishes on
// the next Open rather than leaving an orphaned, half-removed collection
// behind (spec.md §6's restart recovery).
func (db *Database) DeleteCollection(name string) error {
	err := db.store.Update(func(txn *store.Txn) error {
		_, exists, err := getCollectionMeta(txn, name)
		if err != nil {
			return err
		}
		if !exists {
			return errs.ErrNoSuchCollection
		}
		return putDeleteMarker(txn, name)
	})
	if err != nil {
		return errs.WrapStore("database.deleteCollection", err)
	}
	return db.finishDelete(name)
}

// finishDelete performs the actual teardown for a collection already
// carrying a `deleteCollection:<name>` marker: dropping its buckets and
// every subordinate actor's in-memory state, then clearing both meta
// entries. Idempotent and safe to call for a collection whose buckets are
// already gone (store.DropCollectionBuckets tolerates absent buckets), so
// restart recovery can call it unconditionally for every marker it finds.
func (db *Database) finishDelete(name string) error {
	db.dropCollectionCursors(name)
	db.dropGIDFloor(name)
	db.gens.Drop(name)
	db.readers.DropCollection(name)
	db.gcCoord.Drop(name)

	if err := db.store.DropCollectionBuckets(name); err != nil {
		return errs.WrapStore("database.finishDelete", err)
	}

	return errs.WrapStore("database.finishDelete", db.store.Update(func(txn *store.Txn) error {
		if err := deleteCollectionMeta(txn, name); err != nil {
			return err
		}
		return deleteDeleteMarker(txn, name)
	}))
}

// ListCollections returns every collection name not currently mid-deletion.
func (db *Database) ListCollections() ([]string, error) {
	var names []string
	err := db.store.View(func(txn *store.Txn) error {
		all, err := listMetaNames(txn, metaCollectionPrefix)
		if err != nil {
			return err
		}
		deleting, err := listMetaNames(txn, metaDeleteCollectionPrefix)
		if err != nil {
			return err
		}
		deletingSet := make(map[string]struct{}, len(deleting))
		for _, n := range deleting {
			deletingSet[n] = struct{}{}
		}
		for _, n := range all {
			if _, ok := deletingSet[n]; !ok {
				names = append(names, n)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errs.WrapStore("database.listCollections", err)
	}
	return names, nil
}

// recover runs spec.md §6's restart-recovery ordering: finish every
// collection deletion a prior process started but didn't complete, then
// rehydrate generations/readers/gc state for every collection that
// survives. Deletion markers are resolved first so a collection that was
// being deleted never gets its generation/reader state rehydrated only to
// be torn down a moment later.
func (db *Database) recover() error {
	var deleting, surviving []string

	err := db.store.View(func(txn *store.Txn) error {
		var err error
		deleting, err = listMetaNames(txn, metaDeleteCollectionPrefix)
		if err != nil {
			return err
		}
		all, err := listMetaNames(txn, metaCollectionPrefix)
		if err != nil {
			return err
		}
		deletingSet := make(map[string]struct{}, len(deleting))
		for _, n := range deleting {
			deletingSet[n] = struct{}{}
		}
		for _, n := range all {
			if _, ok := deletingSet[n]; !ok {
				surviving = append(surviving, n)
			}
		}
		return nil
	})
	if err != nil {
		return errs.WrapStore("database.recover", err)
	}

	for _, name := range deleting {
		if err := db.finishDelete(name); err != nil {
			return err
		}
	}

	for _, name := range surviving {
		if err := db.rehydrateCollection(name); err != nil {
			return err
		}
	}
	return nil
}

// rehydrateCollection re-registers a surviving collection's generations,
// readers and gc state from what was last persisted, per spec.md §6.
func (db *Database) rehydrateCollection(name string) error {
	var isManual bool
	var currentGID, nextGID []byte

	err := db.store.View(func(txn *store.Txn) error {
		v, ok, err := txn.Get(name, store.CFMeta, []byte(keycodec.MetaKeyIsManual))
		if err != nil {
			return err
		}
		if ok && len(v) == 1 {
			isManual = v[0] != 0
		}
		currentGID, _, err = txn.Get(name, store.CFMeta, []byte(keycodec.MetaKeyGenerationID))
		if err != nil {
			return err
		}
		nextGID, _, err = txn.Get(name, store.CFMeta, []byte(keycodec.MetaKeyNextGenerationID))
		if err != nil {
			return err
		}
		return checkSchemaVersion(txn, name)
	})
	if err != nil {
		return errs.WrapStore("database.rehydrateCollection", err)
	}

	db.gens.Register(name, isManual, currentGID, nextGID)
	if err := db.readers.LoadCollection(name); err != nil {
		return err
	}
	if err := db.gcCoord.Register(name); err != nil {
		return err
	}
	return nil
}
