package keycodec

// Increment returns the lexicographic successor of b, a byte array of the
// same length as b: carry propagates from the least-significant byte, and
// overflowing the most significant byte wraps the whole array back to all
// zeroes (a byte array of length L has exactly 256^L distinct values, and
// Increment is addition modulo that space). Used to advance both
// generation ids and phantom ids, which share this rule (spec.md §3).
func Increment(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	for i := len(out) - 1; i >= 0; i-- {
		out[i]++
		if out[i] != 0 {
			return out
		}
	}
	// Every byte overflowed: wraps to the zero value of the same length.
	return out
}

// ZeroGID is the empty-string GID used by manual collections with no open
// generation (spec.md §3).
var ZeroGID = []byte{}

// InitialNonManualGID is the 8-byte all-zero GID non-manual collections
// start at (spec.md §3).
func InitialNonManualGID() []byte {
	return make([]byte, 8)
}

// EmptyPID means "not a phantom write" (spec.md §3).
var EmptyPID = []byte{}

// InitialPID is the first non-empty phantom id a collection issues. Unlike
// GIDs, whose zero value is meaningful on its own (InitialNonManualGID),
// Increment cannot bootstrap a PID from EmptyPID: its carry loop never runs
// on a zero-length input, so Increment(EmptyPID) would just return EmptyPID
// unchanged, indistinguishable from "not a phantom write" (spec.md §3).
func InitialPID() []byte {
	return []byte{0}
}
