package keycodec

import "fmt"

// MetaKeyIsManual, MetaKeyGenerationID, MetaKeyNextGenerationID and
// MetaKeyPrevPhantomID are the fixed collection meta keys of spec.md §3.
// MetaKeyReaderPrefix is prepended to a reader's name.
const (
	MetaKeyIsManual          = "is_manual"
	MetaKeyGenerationID      = "generation_id"
	MetaKeyNextGenerationID  = "next_generation_id"
	MetaKeyPrevPhantomID     = "prev_phantom_id"
	MetaKeyReaderPrefix      = "reader:"
	MetaKeyGCContinuationCK  = "gc_continuation_ck"
	MetaKeyGCContinuationGID = "gc_continuation_gid"
	MetaKeySchemaVersion     = "schema_version"
)

// CurrentSchemaVersion is written into every collection's meta at
// creation and checked at open, grounded on
// original_source/src/collection/open/mod.rs's equivalent sanity pass.
// Bump it when a future change makes an on-disk layout incompatible with
// what this package reads.
const CurrentSchemaVersion = 1

// MetaKeyReader builds the meta key for a named reader.
func MetaKeyReader(name string) string {
	return MetaKeyReaderPrefix + name
}

// EncodeReaderRecord encodes a reader's (target collection, gid) pair
// (spec.md §3's "Reader record"). An empty target means the reader points
// at its own owner collection.
func EncodeReaderRecord(target string, gid []byte) []byte {
	if len(target) > 255 {
		panic("keycodec: reader target name exceeds 255 bytes")
	}
	out := make([]byte, 0, 1+len(target)+len(gid))
	out = append(out, byte(len(target)))
	out = append(out, target...)
	out = append(out, gid...)
	return out
}

// DecodeReaderRecord parses a value produced by EncodeReaderRecord.
func DecodeReaderRecord(b []byte) (target string, gid []byte, err error) {
	if len(b) < 1 {
		return "", nil, fmt.Errorf("keycodec: reader record too short")
	}
	n := int(b[0])
	if len(b) < 1+n {
		return "", nil, fmt.Errorf("keycodec: reader record truncated")
	}
	target = string(b[1 : 1+n])
	gid = append([]byte(nil), b[1+n:]...)
	return target, gid, nil
}
