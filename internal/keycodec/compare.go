package keycodec

import "bytes"

// CompareRecordKeys orders two encoded record keys primarily by CK, then by
// GID, then by PID, ignoring the reserved flag byte. It does not match
// bytes.Compare on the encoded bytes once component lengths differ (see
// package doc). The property tests (§8 item 1) check it against a plain
// component-by-component compare.
func CompareRecordKeys(a, b []byte) int {
	ka, kb := DecodeRecordKey(a), DecodeRecordKey(b)
	if c := bytes.Compare(ka.CK, kb.CK); c != 0 {
		return c
	}
	if c := bytes.Compare(ka.GID, kb.GID); c != 0 {
		return c
	}
	return bytes.Compare(ka.PID, kb.PID)
}

// CompareGenerationKeys orders two encoded generation-index keys by GID
// then CK.
func CompareGenerationKeys(a, b []byte) int {
	ka, kb := DecodeGenerationKey(a), DecodeGenerationKey(b)
	if c := bytes.Compare(ka.GID, kb.GID); c != 0 {
		return c
	}
	return bytes.Compare(ka.CK, kb.CK)
}

// ComparePhantomKeys orders two encoded phantom-index keys by PID, then CK,
// then GID.
func ComparePhantomKeys(a, b []byte) int {
	ka, kb := DecodePhantomKey(a), DecodePhantomKey(b)
	if c := bytes.Compare(ka.PID, kb.PID); c != 0 {
		return c
	}
	if c := bytes.Compare(ka.CK, kb.CK); c != 0 {
		return c
	}
	return bytes.Compare(ka.GID, kb.GID)
}
