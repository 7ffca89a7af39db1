// Package keycodec implements the on-disk key layout for records,
// generation-index entries and phantom-index entries, and the comparators
// that order them.
//
// All three encodings are length-prefixed and big-endian, per the wire
// layout each Encode function documents. Note that length-prefixing alone
// does NOT make plain byte-wise comparison of the encoded bytes agree with
// the required component ordering (CK, then GID, then PID for a record
// key; GID then CK for a generation-index key; PID, CK, GID for a
// phantom-index key) once components of differing lengths are compared —
// the length byte is compared before the content it describes. The
// Compare* functions below decode both sides and compare component by
// component, which is always correct; internal/store's on-disk layout
// works around the same gap by nesting one bucket per component instead
// of concatenating them, rather than relying on either byte-wise
// comparison or a custom comparator plugin.
package keycodec

import (
	"encoding/binary"

	"github.com/anfivewer/diffbelt-sub000/internal/errs"
)

// reservedFlag is the fixed first byte of every encoded key. It never
// varies and therefore never participates in ordering.
const reservedFlag = 0x00

const (
	maxCKLen  = 1<<24 - 1
	maxGIDLen = 255
	maxPIDLen = 255
)

// ValidateCK checks the collection-key length bound (1..2^24-1 bytes).
func ValidateCK(ck []byte) error {
	if len(ck) == 0 || len(ck) > maxCKLen {
		return errs.ErrInvalidKey
	}
	return nil
}

// ValidateGID checks the generation-id length bound (0..255 bytes).
func ValidateGID(gid []byte) error {
	if len(gid) > maxGIDLen {
		return errs.ErrInvalidKey
	}
	return nil
}

// ValidatePID checks the phantom-id length bound (0..255 bytes).
func ValidatePID(pid []byte) error {
	if len(pid) > maxPIDLen {
		return errs.ErrInvalidKey
	}
	return nil
}

func putU24(dst []byte, n int) {
	dst[0] = byte(n >> 16)
	dst[1] = byte(n >> 8)
	dst[2] = byte(n)
}

func getU24(src []byte) int {
	return int(src[0])<<16 | int(src[1])<<8 | int(src[2])
}

// EncodeRecordKey encodes (CK, GID, PID) as:
// 0x00 | u24_be(len(CK)) | CK | u8(len(GID)) | GID | u8(len(PID)) | PID
func EncodeRecordKey(ck, gid, pid []byte) ([]byte, error) {
	if err := ValidateCK(ck); err != nil {
		return nil, err
	}
	if err := ValidateGID(gid); err != nil {
		return nil, err
	}
	if err := ValidatePID(pid); err != nil {
		return nil, err
	}
	out := make([]byte, 0, 1+3+len(ck)+1+len(gid)+1+len(pid))
	out = append(out, reservedFlag)
	var u24 [3]byte
	putU24(u24[:], len(ck))
	out = append(out, u24[:]...)
	out = append(out, ck...)
	out = append(out, byte(len(gid)))
	out = append(out, gid...)
	out = append(out, byte(len(pid)))
	out = append(out, pid...)
	return out, nil
}

// RecordKey is the decoded form of a record key.
type RecordKey struct {
	CK  []byte
	GID []byte
	PID []byte
}

// DecodeRecordKey parses a key encoded by EncodeRecordKey. It panics on
// malformed input: callers never feed it foreign data (§4.1).
func DecodeRecordKey(b []byte) RecordKey {
	if len(b) < 1+3+1+1 {
		panic(errs.ErrInvalidRecordKey)
	}
	off := 1
	ckLen := getU24(b[off:])
	off += 3
	ck := b[off : off+ckLen]
	off += ckLen
	gidLen := int(b[off])
	off++
	gid := b[off : off+gidLen]
	off += gidLen
	pidLen := int(b[off])
	off++
	pid := b[off : off+pidLen]
	off += pidLen
	if off != len(b) {
		panic(errs.ErrInvalidRecordKey)
	}
	return RecordKey{CK: ck, GID: gid, PID: pid}
}

// EncodeGenerationKey encodes (GID, CK) as:
// 0x00 | u8(len(GID)) | GID | u24_be(len(CK)) | CK
//
// Unlike EncodeRecordKey/EncodePhantomKey, CK here may be empty. Besides
// encoding a real generation-index entry, this is also how callers build a
// GID-only scan bound (an empty CK sorts before every real one), and a
// bound names no actual collection key, so it is exempt from ValidateCK's
// non-empty requirement.
func EncodeGenerationKey(gid, ck []byte) ([]byte, error) {
	if err := ValidateGID(gid); err != nil {
		return nil, err
	}
	if len(ck) > maxCKLen {
		return nil, errs.ErrInvalidKey
	}
	out := make([]byte, 0, 1+1+len(gid)+3+len(ck))
	out = append(out, reservedFlag)
	out = append(out, byte(len(gid)))
	out = append(out, gid...)
	var u24 [3]byte
	putU24(u24[:], len(ck))
	out = append(out, u24[:]...)
	out = append(out, ck...)
	return out, nil
}

// GenerationKey is the decoded form of a generation-index key.
type GenerationKey struct {
	GID []byte
	CK  []byte
}

// DecodeGenerationKey parses a key encoded by EncodeGenerationKey.
func DecodeGenerationKey(b []byte) GenerationKey {
	if len(b) < 1+1+3 {
		panic(errs.ErrInvalidGenerationKey)
	}
	off := 1
	gidLen := int(b[off])
	off++
	gid := b[off : off+gidLen]
	off += gidLen
	ckLen := getU24(b[off:])
	off += 3
	ck := b[off : off+ckLen]
	off += ckLen
	if off != len(b) {
		panic(errs.ErrInvalidGenerationKey)
	}
	return GenerationKey{GID: gid, CK: ck}
}

// EncodePhantomKey encodes (PID, CK, GID) as:
// 0x00 | u8(len(PID)) | PID | u24_be(len(CK)) | CK | u8(len(GID)) | GID
func EncodePhantomKey(pid, ck, gid []byte) ([]byte, error) {
	if err := ValidatePID(pid); err != nil {
		return nil, err
	}
	if err := ValidateCK(ck); err != nil {
		return nil, err
	}
	if err := ValidateGID(gid); err != nil {
		return nil, err
	}
	out := make([]byte, 0, 1+1+len(pid)+3+len(ck)+1+len(gid))
	out = append(out, reservedFlag)
	out = append(out, byte(len(pid)))
	out = append(out, pid...)
	var u24 [3]byte
	putU24(u24[:], len(ck))
	out = append(out, u24[:]...)
	out = append(out, ck...)
	out = append(out, byte(len(gid)))
	out = append(out, gid...)
	return out, nil
}

// PhantomKey is the decoded form of a phantom-index key.
type PhantomKey struct {
	PID []byte
	CK  []byte
	GID []byte
}

// DecodePhantomKey parses a key encoded by EncodePhantomKey.
func DecodePhantomKey(b []byte) PhantomKey {
	if len(b) < 1+1+3+1 {
		panic(errs.ErrInvalidKey)
	}
	off := 1
	pidLen := int(b[off])
	off++
	pid := b[off : off+pidLen]
	off += pidLen
	ckLen := getU24(b[off:])
	off += 3
	ck := b[off : off+ckLen]
	off += ckLen
	gidLen := int(b[off])
	off++
	gid := b[off : off+gidLen]
	off += gidLen
	if off != len(b) {
		panic(errs.ErrInvalidKey)
	}
	return PhantomKey{PID: pid, CK: ck, GID: gid}
}

// EncodeGenerationSizeCounter encodes the u32 big-endian delta/value stored
// in the gens_size column family, whose merge operator is associative
// addition (new = old + delta).
func EncodeGenerationSizeCounter(n uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], n)
	return b[:]
}

// DecodeGenerationSizeCounter is the inverse of EncodeGenerationSizeCounter.
func DecodeGenerationSizeCounter(b []byte) uint32 {
	if len(b) != 4 {
		panic(errs.ErrInvalidKey)
	}
	return binary.BigEndian.Uint32(b)
}
