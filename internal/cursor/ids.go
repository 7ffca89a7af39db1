package cursor

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// newPublicID draws a random 64-bit public cursor id (spec.md §4.5). Zero is
// reserved to mean "no id" (an empty final/current slot), so it is redrawn.
func newPublicID() (uint64, error) {
	var buf [8]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, fmt.Errorf("cursor: generate public id: %w", err)
		}
		id := binary.BigEndian.Uint64(buf[:])
		if id != 0 {
			return id, nil
		}
	}
}

// EncodeID renders a public cursor id as base-62, the wire format spec.md
// §6 requires for cursor ids.
func EncodeID(id uint64) string {
	if id == 0 {
		return "0"
	}
	var buf [11]byte // ceil(64 / log2(62)) fits in 11 base-62 digits
	i := len(buf)
	for id > 0 {
		i--
		buf[i] = base62Alphabet[id%62]
		id /= 62
	}
	return string(buf[i:])
}

// DecodeID parses a base-62 public cursor id produced by EncodeID.
func DecodeID(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("cursor: empty id")
	}
	var id uint64
	for i := 0; i < len(s); i++ {
		c := s[i]
		var v uint64
		switch {
		case c >= '0' && c <= '9':
			v = uint64(c - '0')
		case c >= 'A' && c <= 'Z':
			v = uint64(c-'A') + 10
		case c >= 'a' && c <= 'z':
			v = uint64(c-'a') + 36
		default:
			return 0, fmt.Errorf("cursor: invalid id %q", s)
		}
		id = id*62 + v
	}
	return id, nil
}
