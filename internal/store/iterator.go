package store

import (
	"bytes"

	"go.etcd.io/bbolt"

	"github.com/anfivewer/diffbelt-sub000/internal/keycodec"
)

// Iterator is a bounded, directional walk over one column family, yielding
// keys in the canonical keycodec-encoded form regardless of how the column
// family is actually laid out on disk (see store.go's package doc). It
// wraps a 3-level record walk (CFDefault), a 2-level generation-index walk
// (CFGens), or a flat single-bucket walk (CFGensSize, CFMeta); CFPhantoms
// has no iterator.
type Iterator struct {
	rec  *recordIterator
	gen  *genIndexIterator
	flat *flatIterator
}

func (t *Txn) NewIterator(collection, cf string, opts IteratorOptions) *Iterator {
	top := t.topBucket(collection, cf)
	switch cf {
	case CFDefault:
		return &Iterator{rec: newRecordIterator(top, opts)}
	case CFGens:
		return &Iterator{gen: newGenIndexIterator(top, opts)}
	case CFGensSize, CFMeta:
		return &Iterator{flat: newFlatIterator(top, opts)}
	default:
		panic("store: NewIterator: unsupported column family " + cf)
	}
}

func (it *Iterator) Valid() bool {
	switch {
	case it.rec != nil:
		return it.rec.valid
	case it.gen != nil:
		return it.gen.valid
	default:
		return it.flat.valid
	}
}

func (it *Iterator) Key() []byte {
	switch {
	case it.rec != nil:
		k, _ := keycodec.EncodeRecordKey(it.rec.ck, it.rec.gid, it.rec.pid)
		return k
	case it.gen != nil:
		k, _ := keycodec.EncodeGenerationKey(it.gen.gid, it.gen.ck)
		return k
	default:
		return it.flat.key
	}
}

func (it *Iterator) Value() []byte {
	switch {
	case it.rec != nil:
		return it.rec.val
	case it.gen != nil:
		return it.gen.val
	default:
		return it.flat.val
	}
}

func (it *Iterator) Next() {
	switch {
	case it.rec != nil:
		it.rec.Next()
	case it.gen != nil:
		it.gen.Next()
	default:
		it.flat.Next()
	}
}

// flatIterator walks a single, non-nested bucket (CFGensSize, CFMeta)
// whose keys have exactly one component, so plain bbolt byte ordering is
// always correct with no nesting or decode step required.
type flatIterator struct {
	cur        *bbolt.Cursor
	dir        Direction
	opts       IteratorOptions
	key, val   []byte
	valid      bool
}

func newFlatIterator(top *bbolt.Bucket, opts IteratorOptions) *flatIterator {
	fi := &flatIterator{dir: opts.Direction, opts: opts}
	if top == nil {
		return fi
	}
	fi.cur = top.Cursor()
	var target []byte
	hasTarget := false
	if opts.SeekKey != nil {
		target, hasTarget = opts.SeekKey, true
	} else if opts.Direction == Forward && opts.LowerBound != nil {
		target, hasTarget = opts.LowerBound, true
	} else if opts.Direction == Reverse && opts.UpperBound != nil {
		target, hasTarget = opts.UpperBound, true
	}
	k, v := seekCursor(fi.cur, fi.dir, target, hasTarget)
	fi.setPos(k, v)
	return fi
}

func (fi *flatIterator) setPos(k, v []byte) {
	if k == nil {
		fi.valid = false
		return
	}
	fi.key = append([]byte(nil), k...)
	fi.val = append([]byte(nil), v...)
	fi.valid = true
	if fi.opts.LowerBound != nil && bytes.Compare(fi.key, fi.opts.LowerBound) < 0 {
		fi.valid = false
	}
	if fi.opts.UpperBound != nil && bytes.Compare(fi.key, fi.opts.UpperBound) >= 0 {
		fi.valid = false
	}
}

func (fi *flatIterator) Next() {
	if !fi.valid {
		return
	}
	var k, v []byte
	if fi.dir == Forward {
		k, v = fi.cur.Next()
	} else {
		k, v = fi.cur.Prev()
	}
	fi.setPos(k, v)
}

// Close is a no-op: bbolt cursors need no explicit release. Kept so
// callers can defer it.Close() uniformly across the codebase.
func (it *Iterator) Close() {}

// seekCursor positions cur at the first key >= target (Forward) or the
// last key <= target (Reverse); with hasTarget false it positions at the
// natural start of the iteration direction (First for Forward, Last for
// Reverse). Works identically over buckets of sub-buckets and buckets of
// flat key/value pairs, since bbolt.Cursor treats both uniformly.
func seekCursor(cur *bbolt.Cursor, dir Direction, target []byte, hasTarget bool) (key, val []byte) {
	if dir == Forward {
		if hasTarget {
			return cur.Seek(target)
		}
		return cur.First()
	}
	if hasTarget {
		k, v := cur.Seek(target)
		if k == nil {
			return cur.Last()
		}
		if bytes.Equal(k, target) {
			return k, v
		}
		return cur.Prev()
	}
	return cur.Last()
}

// --- recordIterator: CK-bucket -> GID-bucket -> PID flat key -> value.

type recordIterator struct {
	top  *bbolt.Bucket
	dir  Direction
	opts IteratorOptions

	hasSeek, hasLower, hasUpper bool
	seek, lower, upper          keycodec.RecordKey

	ckCur     *bbolt.Cursor
	ck        []byte
	ckBucket  *bbolt.Bucket
	gidCur    *bbolt.Cursor
	gid       []byte
	gidBucket *bbolt.Bucket
	pidCur    *bbolt.Cursor
	pid, val  []byte
	valid     bool
}

func newRecordIterator(top *bbolt.Bucket, opts IteratorOptions) *recordIterator {
	ri := &recordIterator{top: top, dir: opts.Direction, opts: opts}
	if opts.SeekKey != nil {
		ri.seek = keycodec.DecodeRecordKey(opts.SeekKey)
		ri.hasSeek = true
	}
	if opts.LowerBound != nil {
		ri.lower = keycodec.DecodeRecordKey(opts.LowerBound)
		ri.hasLower = true
	}
	if opts.UpperBound != nil {
		ri.upper = keycodec.DecodeRecordKey(opts.UpperBound)
		ri.hasUpper = true
	}
	if top == nil {
		ri.valid = false
		return ri
	}
	ri.positionInitial()
	return ri
}

func (ri *recordIterator) chain() (ck keycodec.RecordKey, has bool) {
	if ri.hasSeek {
		return ri.seek, true
	}
	if ri.dir == Forward && ri.hasLower {
		return ri.lower, true
	}
	if ri.dir == Reverse && ri.hasUpper {
		return ri.upper, true
	}
	return keycodec.RecordKey{}, false
}

func (ri *recordIterator) positionInitial() {
	chain, hasChain := ri.chain()

	ri.ckCur = ri.top.Cursor()
	var ckTarget []byte
	if hasChain {
		ckTarget = chain.CK
	}
	k, _ := seekCursor(ri.ckCur, ri.dir, ckTarget, hasChain)

	for {
		if k == nil {
			ri.valid = false
			return
		}
		ri.ck = append([]byte(nil), k...)
		ri.ckBucket = ri.top.Bucket(k)
		ri.gidCur = ri.ckBucket.Cursor()

		var gidTarget []byte
		hasGIDTarget := hasChain && bytes.Equal(ri.ck, chain.CK)
		if hasGIDTarget {
			gidTarget = chain.GID
		}
		gk, _ := seekCursor(ri.gidCur, ri.dir, gidTarget, hasGIDTarget)
		if gk != nil {
			ri.gid = append([]byte(nil), gk...)
			ri.gidBucket = ri.ckBucket.Bucket(gk)
			ri.pidCur = ri.gidBucket.Cursor()

			var pidTarget []byte
			hasPIDTarget := hasGIDTarget && bytes.Equal(ri.gid, gidTarget)
			if hasPIDTarget {
				pidTarget = pidLeafKey(chain.PID)
			}
			pk, pv := seekCursor(ri.pidCur, ri.dir, pidTarget, hasPIDTarget)
			if pk != nil {
				ri.pid = pidFromLeafKey(pk)
				ri.val = append([]byte(nil), pv...)
				ri.clamp()
				return
			}
		}

		if ri.dir == Forward {
			k, _ = ri.ckCur.Next()
		} else {
			k, _ = ri.ckCur.Prev()
		}
	}
}

func (ri *recordIterator) clamp() {
	ri.valid = true
	cur, err := keycodec.EncodeRecordKey(ri.ck, ri.gid, ri.pid)
	if err != nil {
		ri.valid = false
		return
	}
	if ri.hasLower && keycodec.CompareRecordKeys(cur, ri.opts.LowerBound) < 0 {
		ri.valid = false
		return
	}
	if ri.hasUpper && keycodec.CompareRecordKeys(cur, ri.opts.UpperBound) >= 0 {
		ri.valid = false
		return
	}
}

// enterPIDFirstOrLastFresh and enterGIDFirstOrLastFresh assume a bucket
// that exists is never empty, which DeleteRecord's cascade maintains by
// removing a GID/CK bucket as soon as its last entry is deleted.
func (ri *recordIterator) enterPIDFirstOrLastFresh() bool {
	ri.pidCur = ri.gidBucket.Cursor()
	var k, v []byte
	if ri.dir == Forward {
		k, v = ri.pidCur.First()
	} else {
		k, v = ri.pidCur.Last()
	}
	if k == nil {
		return false
	}
	ri.pid = pidFromLeafKey(k)
	ri.val = append([]byte(nil), v...)
	return true
}

func (ri *recordIterator) enterGIDFirstOrLastFresh() bool {
	var k []byte
	if ri.dir == Forward {
		k, _ = ri.gidCur.First()
	} else {
		k, _ = ri.gidCur.Last()
	}
	if k == nil {
		return false
	}
	ri.gid = append([]byte(nil), k...)
	ri.gidBucket = ri.ckBucket.Bucket(k)
	return ri.enterPIDFirstOrLastFresh()
}

// advanceGIDCursor moves only the GID-level cursor to its next sibling,
// without touching the CK level; returns false once GID buckets are
// exhausted within the current CK in this direction.
func (ri *recordIterator) advanceGIDCursor() bool {
	var k []byte
	if ri.dir == Forward {
		k, _ = ri.gidCur.Next()
	} else {
		k, _ = ri.gidCur.Prev()
	}
	if k == nil {
		return false
	}
	ri.gid = append([]byte(nil), k...)
	ri.gidBucket = ri.ckBucket.Bucket(k)
	return true
}

func (ri *recordIterator) advanceCKSibling() bool {
	var k []byte
	if ri.dir == Forward {
		k, _ = ri.ckCur.Next()
	} else {
		k, _ = ri.ckCur.Prev()
	}
	if k == nil {
		return false
	}
	ri.ck = append([]byte(nil), k...)
	ri.ckBucket = ri.top.Bucket(k)
	ri.gidCur = ri.ckBucket.Cursor()
	return true
}

func (ri *recordIterator) stepInner() bool {
	var k, v []byte
	if ri.dir == Forward {
		k, v = ri.pidCur.Next()
	} else {
		k, v = ri.pidCur.Prev()
	}
	if k == nil {
		return false
	}
	ri.pid = pidFromLeafKey(k)
	ri.val = append([]byte(nil), v...)
	return true
}

func (ri *recordIterator) Next() {
	if !ri.valid {
		return
	}
	if ri.stepInner() {
		ri.clamp()
		return
	}
	for ri.advanceGIDCursor() {
		if ri.enterPIDFirstOrLastFresh() {
			ri.clamp()
			return
		}
	}
	for {
		if !ri.advanceCKSibling() {
			ri.valid = false
			return
		}
		if ri.enterGIDFirstOrLastFresh() {
			ri.clamp()
			return
		}
	}
}

// --- genIndexIterator: GID-bucket -> CK flat key -> tombstoneMarker.

type genIndexIterator struct {
	top  *bbolt.Bucket
	dir  Direction
	opts IteratorOptions

	hasSeek, hasLower, hasUpper bool
	seek, lower, upper          keycodec.GenerationKey

	gidCur    *bbolt.Cursor
	gid       []byte
	gidBucket *bbolt.Bucket
	ckCur     *bbolt.Cursor
	ck, val   []byte
	valid     bool
}

func newGenIndexIterator(top *bbolt.Bucket, opts IteratorOptions) *genIndexIterator {
	gi := &genIndexIterator{top: top, dir: opts.Direction, opts: opts}
	if opts.SeekKey != nil {
		gi.seek = keycodec.DecodeGenerationKey(opts.SeekKey)
		gi.hasSeek = true
	}
	if opts.LowerBound != nil {
		gi.lower = keycodec.DecodeGenerationKey(opts.LowerBound)
		gi.hasLower = true
	}
	if opts.UpperBound != nil {
		gi.upper = keycodec.DecodeGenerationKey(opts.UpperBound)
		gi.hasUpper = true
	}
	if top == nil {
		gi.valid = false
		return gi
	}
	gi.positionInitial()
	return gi
}

func (gi *genIndexIterator) chain() (c keycodec.GenerationKey, has bool) {
	if gi.hasSeek {
		return gi.seek, true
	}
	if gi.dir == Forward && gi.hasLower {
		return gi.lower, true
	}
	if gi.dir == Reverse && gi.hasUpper {
		return gi.upper, true
	}
	return keycodec.GenerationKey{}, false
}

func (gi *genIndexIterator) positionInitial() {
	chain, hasChain := gi.chain()

	gi.gidCur = gi.top.Cursor()
	var gidTarget []byte
	if hasChain {
		gidTarget = chain.GID
	}
	k, _ := seekCursor(gi.gidCur, gi.dir, gidTarget, hasChain)

	for {
		if k == nil {
			gi.valid = false
			return
		}
		gi.gid = append([]byte(nil), k...)
		gi.gidBucket = gi.top.Bucket(k)
		gi.ckCur = gi.gidBucket.Cursor()

		var ckTarget []byte
		hasCKTarget := hasChain && bytes.Equal(gi.gid, chain.GID)
		if hasCKTarget {
			ckTarget = chain.CK
		}
		ck, cv := seekCursor(gi.ckCur, gi.dir, ckTarget, hasCKTarget)
		if ck != nil {
			gi.ck = append([]byte(nil), ck...)
			gi.val = append([]byte(nil), cv...)
			gi.clamp()
			return
		}

		if gi.dir == Forward {
			k, _ = gi.gidCur.Next()
		} else {
			k, _ = gi.gidCur.Prev()
		}
	}
}

func (gi *genIndexIterator) clamp() {
	gi.valid = true
	cur, err := keycodec.EncodeGenerationKey(gi.gid, gi.ck)
	if err != nil {
		gi.valid = false
		return
	}
	if gi.hasLower && keycodec.CompareGenerationKeys(cur, gi.opts.LowerBound) < 0 {
		gi.valid = false
		return
	}
	if gi.hasUpper && keycodec.CompareGenerationKeys(cur, gi.opts.UpperBound) >= 0 {
		gi.valid = false
		return
	}
}

func (gi *genIndexIterator) enterCKFirstOrLastFresh() bool {
	gi.ckCur = gi.gidBucket.Cursor()
	var k, v []byte
	if gi.dir == Forward {
		k, v = gi.ckCur.First()
	} else {
		k, v = gi.ckCur.Last()
	}
	if k == nil {
		return false
	}
	gi.ck = append([]byte(nil), k...)
	gi.val = append([]byte(nil), v...)
	return true
}

// advanceGIDCursor moves only the GID-level cursor to its next sibling,
// without touching the CK level; returns false once GID buckets are
// exhausted in this direction.
func (gi *genIndexIterator) advanceGIDCursor() bool {
	var k []byte
	if gi.dir == Forward {
		k, _ = gi.gidCur.Next()
	} else {
		k, _ = gi.gidCur.Prev()
	}
	if k == nil {
		return false
	}
	gi.gid = append([]byte(nil), k...)
	gi.gidBucket = gi.top.Bucket(k)
	return true
}

func (gi *genIndexIterator) stepInner() bool {
	var k, v []byte
	if gi.dir == Forward {
		k, v = gi.ckCur.Next()
	} else {
		k, v = gi.ckCur.Prev()
	}
	if k == nil {
		return false
	}
	gi.ck = append([]byte(nil), k...)
	gi.val = append([]byte(nil), v...)
	return true
}

func (gi *genIndexIterator) Next() {
	if !gi.valid {
		return
	}
	if gi.stepInner() {
		gi.clamp()
		return
	}
	for {
		if !gi.advanceGIDCursor() {
			gi.valid = false
			return
		}
		if gi.enterCKFirstOrLastFresh() {
			gi.clamp()
			return
		}
	}
}
