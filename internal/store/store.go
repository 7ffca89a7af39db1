// Package store adapts go.etcd.io/bbolt into the ordered, column-family
// keyspace the engine package needs.
//
// bbolt orders keys by plain byte comparison and has no pluggable
// comparator, unlike the RocksDB-family store the record/generation/phantom
// key layouts were designed for (spec.md §4.2's "per-family user
// comparators" requirement). A flat, length-prefixed concatenation of CK,
// GID and PID (the literal §4.1 wire layout) does NOT sort correctly under
// plain byte comparison once components of different lengths are compared:
// the length prefix is compared before the content it prefixes, so a short
// component with a lexicographically large leading byte can sort before a
// long component with a small one, even though the component itself should
// sort after it.
//
// Storage here sidesteps that by nesting one bbolt bucket per key
// component instead of concatenating them: a sub-bucket name is always the
// raw, un-prefixed bytes of exactly one component, so bbolt's native byte
// ordering is correct at every level with no length-prefix ambiguity.
// RecordKey storage is CK-bucket -> GID-bucket -> PID flat key; the
// generation index is GID-bucket -> CK flat key; the phantom index is
// PID-bucket -> CK-bucket -> GID flat key. The keycodec package's
// length-prefixed encodings remain the canonical external representation
// (cursor continuation tokens, the comparator property tests) and are
// synthesized on demand by the Iterator below; they are simply not what
// goes on disk.
package store

import (
	"fmt"
	"os"

	"go.etcd.io/bbolt"

	"github.com/anfivewer/diffbelt-sub000/internal/keycodec"
)

const (
	CFDefault  = "default"
	CFGens     = "gens"
	CFGensSize = "gens_size"
	CFPhantoms = "phantoms"
	CFMeta     = "meta"
)

var allCFs = [...]string{CFDefault, CFGens, CFGensSize, CFPhantoms, CFMeta}

// tombstoneMarker is the value written for index entries that carry no
// payload of their own (generation/phantom index entries): bbolt buckets
// cannot hold a nil-valued key distinct from "absent", so presence is
// tracked with an explicit, otherwise-invalid zero-length-incompatible
// marker byte.
var tombstoneMarker = []byte{0x01}

type Store struct {
	db   *bbolt.DB
	path string
}

func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}
	return &Store{db: db, path: path}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Destroy closes and removes the database file; used by tests and by
// collection deletion when the whole on-disk file backs a single
// collection's lifecycle in isolation.
func (s *Store) Destroy() error {
	if err := s.db.Close(); err != nil {
		return err
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func bucketName(collection, cf string) []byte {
	b := make([]byte, 0, len(collection)+1+len(cf))
	b = append(b, collection...)
	b = append(b, 0x00)
	b = append(b, cf...)
	return b
}

func (s *Store) EnsureCollectionBuckets(collection string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, cf := range allCFs {
			if _, err := tx.CreateBucketIfNotExists(bucketName(collection, cf)); err != nil {
				return fmt.Errorf("store: create bucket %s/%s: %w", collection, cf, err)
			}
		}
		return nil
	})
}

func (s *Store) DropCollectionBuckets(collection string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, cf := range allCFs {
			name := bucketName(collection, cf)
			if tx.Bucket(name) == nil {
				continue
			}
			if err := tx.DeleteBucket(name); err != nil {
				return fmt.Errorf("store: drop bucket %s/%s: %w", collection, cf, err)
			}
		}
		return nil
	})
}

func (s *Store) View(fn func(txn *Txn) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return fn(&Txn{tx: tx, writable: false})
	})
}

func (s *Store) Update(fn func(txn *Txn) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return fn(&Txn{tx: tx, writable: true})
	})
}

type Txn struct {
	tx       *bbolt.Tx
	writable bool
}

func (t *Txn) topBucket(collection, cf string) *bbolt.Bucket {
	return t.tx.Bucket(bucketName(collection, cf))
}

func (t *Txn) topBucketForWrite(collection, cf string) (*bbolt.Bucket, error) {
	if !t.writable {
		return nil, fmt.Errorf("store: write attempted on read-only transaction")
	}
	return t.tx.CreateBucketIfNotExists(bucketName(collection, cf))
}

// --- flat column families (CFGensSize, CFMeta): single-component keys,
// no nesting needed since there is nothing else to disambiguate against.

func (t *Txn) Get(collection, cf string, key []byte) ([]byte, bool, error) {
	b := t.topBucket(collection, cf)
	if b == nil {
		return nil, false, nil
	}
	v := b.Get(key)
	if v == nil {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (t *Txn) Put(collection, cf string, key, value []byte) error {
	b, err := t.topBucketForWrite(collection, cf)
	if err != nil {
		return err
	}
	return b.Put(key, value)
}

func (t *Txn) Delete(collection, cf string, key []byte) error {
	b, err := t.topBucketForWrite(collection, cf)
	if err != nil {
		return err
	}
	return b.Delete(key)
}

// MergeGenerationSize applies delta to the running record count for gid in
// CFGensSize. bbolt has no associative merge operator, so the merge is
// emulated as an explicit read-modify-write inside the caller's write
// transaction.
func (t *Txn) MergeGenerationSize(collection string, gid []byte, delta uint32) error {
	b, err := t.topBucketForWrite(collection, CFGensSize)
	if err != nil {
		return err
	}
	var cur uint32
	if v := b.Get(gid); v != nil {
		cur = keycodec.DecodeGenerationSizeCounter(v)
	}
	return b.Put(gid, keycodec.EncodeGenerationSizeCounter(cur+delta))
}

// GenerationSize reads the current record-count counter for gid, or 0 if
// no generation has touched it yet.
func (t *Txn) GenerationSize(collection string, gid []byte) (uint32, error) {
	b := t.topBucket(collection, CFGensSize)
	if b == nil {
		return 0, nil
	}
	v := b.Get(gid)
	if v == nil {
		return 0, nil
	}
	return keycodec.DecodeGenerationSizeCounter(v), nil
}

// --- CFDefault: CK-bucket -> GID-bucket -> PID flat key -> value.

// pidLeafKey maps a PID to the literal bbolt key stored at the leaf of a
// GID bucket. bbolt rejects zero-length keys outright, and an empty PID
// (a non-phantom write, keycodec.EmptyPID) must still sort before every
// non-empty PID the way keycodec.CompareRecordKeys requires, so it is
// encoded as a single 0x00 byte; every other PID is stored as 0x01
// followed by its bytes, which preserves bytes.Compare ordering among
// real PIDs and keeps them all sorting after the empty one.
func pidLeafKey(pid []byte) []byte {
	if len(pid) == 0 {
		return []byte{0x00}
	}
	out := make([]byte, 0, 1+len(pid))
	out = append(out, 0x01)
	return append(out, pid...)
}

// pidFromLeafKey reverses pidLeafKey.
func pidFromLeafKey(key []byte) []byte {
	if len(key) == 0 || key[0] == 0x00 {
		return nil
	}
	return append([]byte(nil), key[1:]...)
}

func descend(parent *bbolt.Bucket, names ...[]byte) *bbolt.Bucket {
	b := parent
	for _, n := range names {
		if b == nil {
			return nil
		}
		b = b.Bucket(n)
	}
	return b
}

func descendForWrite(parent *bbolt.Bucket, names ...[]byte) (*bbolt.Bucket, error) {
	b := parent
	for _, n := range names {
		nb, err := b.CreateBucketIfNotExists(n)
		if err != nil {
			return nil, err
		}
		b = nb
	}
	return b, nil
}

func (t *Txn) GetRecord(collection string, ck, gid, pid []byte) ([]byte, bool, error) {
	top := t.topBucket(collection, CFDefault)
	gidB := descend(top, ck, gid)
	if gidB == nil {
		return nil, false, nil
	}
	v := gidB.Get(pidLeafKey(pid))
	if v == nil {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (t *Txn) PutRecord(collection string, ck, gid, pid, value []byte) error {
	top, err := t.topBucketForWrite(collection, CFDefault)
	if err != nil {
		return err
	}
	gidB, err := descendForWrite(top, ck, gid)
	if err != nil {
		return err
	}
	return gidB.Put(pidLeafKey(pid), value)
}

func (t *Txn) DeleteRecord(collection string, ck, gid, pid []byte) error {
	top, err := t.topBucketForWrite(collection, CFDefault)
	if err != nil {
		return err
	}
	ckB, err := top.CreateBucketIfNotExists(ck)
	if err != nil {
		return err
	}
	gidB, err := ckB.CreateBucketIfNotExists(gid)
	if err != nil {
		return err
	}
	if err := gidB.Delete(pidLeafKey(pid)); err != nil {
		return err
	}
	if bucketEmpty(gidB) {
		if err := ckB.DeleteBucket(gid); err != nil {
			return err
		}
	}
	if bucketEmpty(ckB) {
		if err := top.DeleteBucket(ck); err != nil {
			return err
		}
	}
	return nil
}

func bucketEmpty(b *bbolt.Bucket) bool {
	k, _ := b.Cursor().First()
	return k == nil
}

// ForEachRecordAtGID walks every (pid, value) pair stored for (ck, gid),
// in no particular order; used by generation abort to find every record
// (phantom or not) a doomed next-generation wrote for a changed key.
func (t *Txn) ForEachRecordAtGID(collection string, ck, gid []byte, fn func(pid, value []byte) error) error {
	top := t.topBucket(collection, CFDefault)
	gidB := descend(top, ck, gid)
	if gidB == nil {
		return nil
	}
	return gidB.ForEach(func(pid, value []byte) error {
		return fn(pidFromLeafKey(pid), append([]byte(nil), value...))
	})
}

// --- CFGens: GID-bucket -> CK flat key -> tombstoneMarker.

func (t *Txn) PutGenerationIndexEntry(collection string, gid, ck []byte) error {
	top, err := t.topBucketForWrite(collection, CFGens)
	if err != nil {
		return err
	}
	gidB, err := top.CreateBucketIfNotExists(gid)
	if err != nil {
		return err
	}
	return gidB.Put(ck, tombstoneMarker)
}

func (t *Txn) DeleteGenerationIndexEntry(collection string, gid, ck []byte) error {
	top, err := t.topBucketForWrite(collection, CFGens)
	if err != nil {
		return err
	}
	gidB, err := top.CreateBucketIfNotExists(gid)
	if err != nil {
		return err
	}
	if err := gidB.Delete(ck); err != nil {
		return err
	}
	if bucketEmpty(gidB) {
		return top.DeleteBucket(gid)
	}
	return nil
}

// --- CFPhantoms: PID-bucket -> CK-bucket -> GID flat key -> tombstoneMarker.

func (t *Txn) PutPhantomIndexEntry(collection string, pid, ck, gid []byte) error {
	top, err := t.topBucketForWrite(collection, CFPhantoms)
	if err != nil {
		return err
	}
	ckB, err := descendForWrite(top, pid, ck)
	if err != nil {
		return err
	}
	return ckB.Put(gid, tombstoneMarker)
}

func (t *Txn) DeletePhantomIndexEntry(collection string, pid, ck, gid []byte) error {
	top, err := t.topBucketForWrite(collection, CFPhantoms)
	if err != nil {
		return err
	}
	pidB, err := top.CreateBucketIfNotExists(pid)
	if err != nil {
		return err
	}
	ckB, err := pidB.CreateBucketIfNotExists(ck)
	if err != nil {
		return err
	}
	if err := ckB.Delete(gid); err != nil {
		return err
	}
	if bucketEmpty(ckB) {
		if err := pidB.DeleteBucket(ck); err != nil {
			return err
		}
	}
	if bucketEmpty(pidB) {
		if err := top.DeleteBucket(pid); err != nil {
			return err
		}
	}
	return nil
}

// ForEachPhantomEntry walks every (ck, gid) pair recorded for pid, in no
// particular order; used by phantom abort to undo a generation's writes.
func (t *Txn) ForEachPhantomEntry(collection string, pid []byte, fn func(ck, gid []byte) error) error {
	top := t.topBucket(collection, CFPhantoms)
	pidB := descend(top, pid)
	if pidB == nil {
		return nil
	}
	return pidB.ForEach(func(ck, _ []byte) error {
		ckB := pidB.Bucket(ck)
		if ckB == nil {
			return nil
		}
		ckCopy := append([]byte(nil), ck...)
		return ckB.ForEach(func(gid, _ []byte) error {
			return fn(ckCopy, append([]byte(nil), gid...))
		})
	})
}

type Direction int

const (
	Forward Direction = iota
	Reverse
)

// IteratorOptions bounds a scan using fully encoded, keycodec-produced
// composite keys (the same RK/GIK byte strings the engine package already
// builds). LowerBound is inclusive, UpperBound is exclusive; SeekKey, if
// set, positions a Forward iterator at the first key >= it (Reverse at the
// last key <= it), subject to the other bounds.
type IteratorOptions struct {
	Direction  Direction
	LowerBound []byte
	UpperBound []byte
	SeekKey    []byte
}
