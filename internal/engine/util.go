package engine

import "github.com/anfivewer/diffbelt-sub000/internal/keycodec"

// encodeRK re-encodes a record key whose components were already decoded
// from a valid stored key, so the bound checks in EncodeRecordKey cannot
// fail; the error is intentionally discarded.
func encodeRK(ck, gid, pid []byte) ([]byte, error) {
	return keycodec.EncodeRecordKey(ck, gid, pid)
}

// ckRecordBounds returns the [lower, upper) record-key range that holds
// exactly ck's own versions. Without the upper bound, a CK scan that finds
// no eligible version would otherwise run on into the next CK's records:
// ScanDriver only stops on a CK transition once it already has a pending
// candidate to finalize.
func ckRecordBounds(ck []byte) (lower, upper []byte, err error) {
	lower, err = keycodec.EncodeRecordKey(ck, nil, nil)
	if err != nil {
		return nil, nil, err
	}
	// A max-length CK has no valid successor (it would overflow the CK
	// length bound); in that vanishingly rare case fall back to an
	// unbounded upper edge rather than failing the whole scan.
	upper, succErr := keycodec.EncodeRecordKey(append(append([]byte(nil), ck...), 0x00), nil, nil)
	if succErr != nil {
		return lower, nil, nil
	}
	return lower, upper, nil
}
