package engine

import (
	"bytes"

	"github.com/anfivewer/diffbelt-sub000/internal/keycodec"
	"github.com/anfivewer/diffbelt-sub000/internal/store"
)

// ScanResult is one finalized, best-fit version for a single CK, produced
// by ScanDriver.
type ScanResult struct {
	CK        []byte
	GID       []byte
	PID       []byte
	Value     []byte
	Tombstone bool
}

type rawVersion struct {
	ck, gid, pid, value []byte
}

func cloneRaw(ck, gid, pid, value []byte) *rawVersion {
	return &rawVersion{
		ck:    append([]byte(nil), ck...),
		gid:   append([]byte(nil), gid...),
		pid:   append([]byte(nil), pid...),
		value: append([]byte(nil), value...),
	}
}

// ScanDriver implements the two-slot sliding-window algorithm of spec.md
// §4.3.1 over an already-positioned, already-bounded record iterator. For
// every CK encountered it determines the D-best version for (g, p) and,
// once that CK is finalized (the next record belongs to a different CK,
// or the iterator is exhausted), calls emit with the result. emit
// returning false stops the scan early.
//
// Phantom records whose PID is non-empty and doesn't equal p are filtered
// out unconditionally, before any CK-transition or best-fit logic — they
// never become a candidate regardless of where in a CK's run they appear.
//
// recordsToViewLimit bounds the number of raw iterator records inspected;
// 0 means unbounded. hitViewLimit reports whether the limit, not
// exhaustion, ended the scan (the pending candidate is NOT finalized in
// that case — the caller resumes from resumeFromRK, described below).
//
// If the view limit is hit mid-group (the pending candidate was never
// finalized), resumeFromRK is set to the encoded RK of that pending
// candidate: re-seeking an iterator there and calling ScanDriver again
// (with a fresh, nil initial candidate) reproduces the interrupted group's
// best-fit computation exactly, because RK ordering guarantees any later
// version of the same CK sorts after it.
func ScanDriver(it *store.Iterator, dir store.Direction, g, p []byte, recordsToViewLimit int, emit func(ScanResult) bool) (viewed int, hitViewLimit bool, resumeFromRK []byte) {
	var last *rawVersion

	finalize := func() bool {
		if last == nil {
			return true
		}
		if !isEligible(g, last.gid) {
			return true
		}
		return emit(ScanResult{
			CK:        last.ck,
			GID:       last.gid,
			PID:       last.pid,
			Value:     last.value,
			Tombstone: len(last.value) == 0,
		})
	}

	for it.Valid() {
		if recordsToViewLimit > 0 && viewed >= recordsToViewLimit {
			hitViewLimit = true
			if last != nil {
				resumeFromRK, _ = keycodec.EncodeRecordKey(last.ck, last.gid, last.pid)
			}
			return
		}
		rk := keycodec.DecodeRecordKey(it.Key())
		viewed++

		if len(rk.PID) > 0 && !bytes.Equal(rk.PID, p) {
			it.Next()
			continue
		}

		next := cloneRaw(rk.CK, rk.GID, rk.PID, it.Value())

		if last == nil {
			last = next
			it.Next()
			continue
		}

		if !bytes.Equal(next.ck, last.ck) {
			if !finalize() {
				return
			}
			last = next
			it.Next()
			continue
		}

		if betterFit(dir, g, p, next.gid, next.pid, last.gid, last.pid) {
			last = next
		}
		it.Next()
	}

	finalize()
	return
}

func isEligible(g, gid []byte) bool {
	return bytes.Compare(gid, g) <= 0
}

// betterFit implements spec.md §4.3.1's "better fit" rule: both directions
// select the largest GID ≤ g. Forward compares candidates directly; reverse
// sees GIDs in descending order, so it keeps the first one ≤ g and never
// replaces it. Ties at equal GID are broken in favor of the version whose
// PID exactly matches p.
func betterFit(dir store.Direction, g, p, nextGID, nextPID, lastGID, lastPID []byte) bool {
	if bytes.Equal(nextGID, lastGID) {
		return bytes.Equal(nextPID, p) && len(p) > 0 && !bytes.Equal(lastPID, p)
	}
	if dir == store.Forward {
		if bytes.Compare(nextGID, g) > 0 {
			return false
		}
		if bytes.Compare(lastGID, g) > 0 {
			return true
		}
		return bytes.Compare(nextGID, lastGID) > 0
	}
	// Reverse: keep descending until the first GID ≤ g; don't replace once found.
	if bytes.Compare(lastGID, g) <= 0 {
		return false
	}
	return bytes.Compare(nextGID, g) <= 0
}
