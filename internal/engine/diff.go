package engine

import (
	"bytes"
	"sort"

	"github.com/anfivewer/diffbelt-sub000/internal/keycodec"
	"github.com/anfivewer/diffbelt-sub000/internal/store"
)

// DiffMode picks how a diff materializes its changed-key set (spec.md
// §4.4): in memory when the accumulated generation range is small enough
// to bound by diff_changes_limit, or by streaming a single generation's
// own index entries when that one generation alone already exceeds it.
type DiffMode int

const (
	DiffModeInMemory DiffMode = iota
	DiffModeSingleGeneration
)

// SelectDiffMode scans gens_size ascending over (fromGID, toGIDLoose] and
// decides the diff's mode and actual (possibly earlier than toGIDLoose)
// to_GID. Mode selection runs once per diff and is never redone on
// resumption — the chosen mode and to_GID are carried in DiffState.
func SelectDiffMode(txn *store.Txn, collection string, fromGID, toGIDLoose []byte, changesLimit uint32) (mode DiffMode, toGID []byte, found bool, err error) {
	lower, err := successorBound(fromGID)
	if err != nil {
		return 0, nil, false, err
	}
	upper, err := successorBound(toGIDLoose)
	if err != nil {
		return 0, nil, false, err
	}

	it := txn.NewIterator(collection, store.CFGensSize, store.IteratorOptions{
		Direction:  store.Forward,
		LowerBound: lower,
		UpperBound: upper,
	})
	defer it.Close()

	if !it.Valid() {
		return 0, nil, false, nil
	}

	firstGID := append([]byte(nil), it.Key()...)
	firstCount := store.DecodeGenerationSizeCounter(it.Value())
	if firstCount > changesLimit {
		return DiffModeSingleGeneration, firstGID, true, nil
	}

	runningSum := firstCount
	toGID = firstGID
	it.Next()
	for it.Valid() {
		gid := append([]byte(nil), it.Key()...)
		count := store.DecodeGenerationSizeCounter(it.Value())
		if runningSum+count > changesLimit {
			break
		}
		runningSum += count
		toGID = gid
		it.Next()
	}
	return DiffModeInMemory, toGID, true, nil
}

// successorBound returns the lexicographic successor of b: appending a
// single zero byte always compares strictly greater than b and strictly
// less than any key that is itself strictly greater than b, regardless of
// relative lengths, because no byte value is less than 0x00.
func successorBound(b []byte) ([]byte, error) {
	out := make([]byte, len(b)+1)
	copy(out, b)
	return out, nil
}

// CollectChangedKeys materializes the sorted, deduplicated set of CKs
// touched by any generation in (fromGID, toGID], for in-memory mode. The
// caller is expected to only use this when the range was already bounded
// by diff_changes_limit during mode selection.
//
// store.CFGens is a nested GID-bucket -> CK index, scanned through
// genIndexIterator, which decodes its LowerBound/UpperBound as full
// keycodec GenerationKeys and compares (GID, CK) component-wise rather
// than as raw bytes. That rules out successorBound here (it only holds
// for flat, byte-compared CFs such as CFGensSize in SelectDiffMode
// above): the bounds below are built the same way
// generations.abortGenerationRecords builds its own CFGens range.
func CollectChangedKeys(txn *store.Txn, collection string, fromGID, toGID []byte) ([][]byte, error) {
	lower, err := keycodec.EncodeGenerationKey(fromGID, nil)
	if err != nil {
		return nil, err
	}
	var upper []byte
	upperGID := keycodec.Increment(toGID)
	if !bytes.Equal(upperGID, toGID) {
		upper, err = keycodec.EncodeGenerationKey(upperGID, nil)
		if err != nil {
			return nil, err
		}
	}

	seen := make(map[string]struct{})
	var out [][]byte

	it := txn.NewIterator(collection, store.CFGens, store.IteratorOptions{
		Direction:  store.Forward,
		LowerBound: lower,
		UpperBound: upper,
	})
	defer it.Close()

	for it.Valid() {
		gik := keycodec.DecodeGenerationKey(it.Key())
		if bytes.Equal(gik.GID, fromGID) {
			// lower is inclusive of fromGID itself (CK=""); skip entries
			// exactly at the boundary so the range stays (fromGID, toGID].
			it.Next()
			continue
		}
		s := string(gik.CK)
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, append([]byte(nil), gik.CK...))
		}
		it.Next()
	}

	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i], out[j]) < 0 })
	return out, nil
}

// valueLookup is the persisted state of one half (from- or to-side) of a
// single changed key's value resolution, allowing it to pause mid-scan
// when a pack call's record-view budget runs out.
type valueLookup struct {
	Done     bool
	Value    OptionalValue
	ResumeRK []byte // nil: not yet started, scan from the CK's first record
}

// DiffState is the persisted, resumable state of one diff cursor.
type DiffState struct {
	Mode    DiffMode
	FromGID []byte
	ToGID   []byte

	// In-memory mode only: the sorted changed-key set and how far into it
	// processing has advanced.
	ChangedKeys [][]byte
	NextIndex   int

	// Single-generation mode only: resume point for the gens index scan
	// restricted to GID == ToGID.
	GensSeekKey []byte
	gensDone    bool

	// The changed key currently being resolved, if its from/to lookups
	// didn't both finish within one pack call.
	PendingCK   []byte
	PendingFrom valueLookup
	PendingTo   valueLookup
}

// CloneDiffState returns a shallow copy of s as a distinct pointer. DiffPack
// mutates its *DiffState argument in place, so a cursor continuation that
// handed out the same pointer for both its "current" and "next" slots would
// let a later pack call against "next" silently corrupt the frozen snapshot
// "current" is supposed to keep; cloning at the continuation boundary keeps
// the two slots independently mutable. A shallow copy is enough: every
// field is either a value type or a slice DiffPack only ever reassigns
// wholesale (ChangedKeys, PendingCK, ...), never mutates element-wise, so
// the clone can safely share the same backing arrays.
func CloneDiffState(s *DiffState) *DiffState {
	cp := *s
	return &cp
}

// NewDiffState builds the initial state for a freshly mode-selected diff.
// For in-memory mode changedKeys must already be the full sorted set from
// CollectChangedKeys; for single-generation mode it is ignored.
func NewDiffState(mode DiffMode, fromGID, toGID []byte, changedKeys [][]byte) *DiffState {
	return &DiffState{
		Mode:        mode,
		FromGID:     fromGID,
		ToGID:       toGID,
		ChangedKeys: changedKeys,
	}
}

// DiffPackResult is one page of a diff cursor.
type DiffPackResult struct {
	Items []KeyValueDiff
	Done  bool
}

// DiffPack advances a diff cursor by up to packLimit changed keys, viewing
// at most recordsViewLimit records across the from/to point lookups; the
// changed-key enumeration itself is not counted against that budget. It
// mutates state in place so the caller can persist it verbatim for the
// next call.
func DiffPack(txn *store.Txn, collection string, state *DiffState, packLimit, recordsViewLimit int) (DiffPackResult, error) {
	var result DiffPackResult
	noLimit := recordsViewLimit <= 0
	budget := recordsViewLimit

	for len(result.Items) < packLimit {
		ck, ok, err := currentOrNextChangedKey(txn, collection, state)
		if err != nil {
			return result, err
		}
		if !ok {
			result.Done = true
			return result, nil
		}

		if !state.PendingFrom.Done {
			if !noLimit && budget <= 0 {
				state.PendingCK = ck
				return result, nil
			}
			callBudget := 0
			if !noLimit {
				callBudget = budget
			}
			viewed, hit, resume, err := resolveValue(txn, collection, ck, state.FromGID, &state.PendingFrom, callBudget)
			if err != nil {
				return result, err
			}
			budget -= viewed
			if hit {
				state.PendingCK = ck
				state.PendingFrom.ResumeRK = resume
				return result, nil
			}
		}
		if !state.PendingTo.Done {
			if !noLimit && budget <= 0 {
				state.PendingCK = ck
				return result, nil
			}
			callBudget := 0
			if !noLimit {
				callBudget = budget
			}
			viewed, hit, resume, err := resolveValue(txn, collection, ck, state.ToGID, &state.PendingTo, callBudget)
			if err != nil {
				return result, err
			}
			budget -= viewed
			if hit {
				state.PendingCK = ck
				state.PendingTo.ResumeRK = resume
				return result, nil
			}
		}

		result.Items = append(result.Items, KeyValueDiff{
			CK:   ck,
			From: state.PendingFrom.Value,
			To:   state.PendingTo.Value,
		})
		advanceChangedKey(state)
	}

	// A full pack is also the last one when no changed key is left.
	if _, ok, err := currentOrNextChangedKey(txn, collection, state); err != nil {
		return result, err
	} else if !ok {
		result.Done = true
	}
	return result, nil
}

// currentOrNextChangedKey returns the changed key currently being
// processed (if a lookup was left in progress) or advances to and returns
// the next one, per state.Mode.
func currentOrNextChangedKey(txn *store.Txn, collection string, state *DiffState) ([]byte, bool, error) {
	if state.PendingCK != nil {
		return state.PendingCK, true, nil
	}

	switch state.Mode {
	case DiffModeInMemory:
		if state.NextIndex >= len(state.ChangedKeys) {
			return nil, false, nil
		}
		ck := state.ChangedKeys[state.NextIndex]
		state.PendingCK = ck
		return ck, true, nil

	case DiffModeSingleGeneration:
		if state.gensDone {
			return nil, false, nil
		}
		lower, err := keycodec.EncodeGenerationKey(state.ToGID, nil)
		if err != nil {
			return nil, false, err
		}
		upperGID, err := successorBound(state.ToGID)
		if err != nil {
			return nil, false, err
		}
		upper, err := keycodec.EncodeGenerationKey(upperGID, nil)
		if err != nil {
			return nil, false, err
		}

		opts := store.IteratorOptions{Direction: store.Forward, LowerBound: lower, UpperBound: upper}
		if state.GensSeekKey != nil {
			opts.SeekKey = state.GensSeekKey
			opts.LowerBound = nil
		}
		it := txn.NewIterator(collection, store.CFGens, opts)
		defer it.Close()
		if !it.Valid() {
			state.gensDone = true
			return nil, false, nil
		}
		gik := keycodec.DecodeGenerationKey(it.Key())
		ck := append([]byte(nil), gik.CK...)
		state.PendingCK = ck
		return ck, true, nil

	default:
		return nil, false, nil
	}
}

// advanceChangedKey clears the in-progress changed key and moves the
// cursor past it, per state.Mode.
func advanceChangedKey(state *DiffState) {
	switch state.Mode {
	case DiffModeInMemory:
		state.NextIndex++
	case DiffModeSingleGeneration:
		// GensSeekKey is recomputed as the successor-of-CK bound on the
		// next call rather than stored directly, since it must be
		// re-derived relative to whatever CK was just consumed.
		if state.PendingCK != nil {
			succ := append(append([]byte(nil), state.PendingCK...), 0x00)
			if k, err := keycodec.EncodeGenerationKey(state.ToGID, succ); err == nil {
				state.GensSeekKey = k
			} else {
				state.gensDone = true
			}
		}
	}
	state.PendingCK = nil
	state.PendingFrom = valueLookup{}
	state.PendingTo = valueLookup{}
}

// resolveValue resolves one side (from or to) of a changed key's diff,
// continuing from lookup.ResumeRK if a previous call paused mid-scan.
func resolveValue(txn *store.Txn, collection string, ck, gid []byte, lookup *valueLookup, budget int) (viewed int, hitLimit bool, resumeRK []byte, err error) {
	lower, upper, e := ckRecordBounds(ck)
	if e != nil {
		return 0, false, nil, e
	}
	opts := store.IteratorOptions{Direction: store.Forward, LowerBound: lower, UpperBound: upper}
	if lookup.ResumeRK != nil {
		opts.SeekKey = lookup.ResumeRK
	}

	it := txn.NewIterator(collection, store.CFDefault, opts)
	defer it.Close()

	found := false
	viewed, hitLimit, resumeRK = ScanDriver(it, store.Forward, gid, keycodec.EmptyPID, budget, func(r ScanResult) bool {
		found = true
		if r.Tombstone {
			lookup.Value = None()
		} else {
			lookup.Value = Some(r.Value)
		}
		return false
	})
	if !hitLimit {
		lookup.Done = true
		if !found {
			lookup.Value = None()
		}
	}
	return viewed, hitLimit, resumeRK, nil
}
