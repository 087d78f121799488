package models

import (
	"strings"

	"github.com/google/uuid"
)

// base32Alphabet mirrors the RFC 4648 alphabet without padding; chosen
// because it is filesystem- and URL-safe uppercase-insensitive and gives a
// predictable fixed-width chunk size for hierarchy directories.
const base32Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

// BlobPath builds the `record/<p1>/<p2>/.../<pD>/<tail>/` hierarchy from a
// RecordSet UUID. The depth chunks of width characters are taken in order
// from the leading characters of the base32 encoding and the rest forms the
// tail; width*depth must stay under 26 so the tail is never empty.
func BlobPath(id string, width, depth int) string {
	u, err := uuid.Parse(id)
	encoded := ""
	if err == nil {
		encoded = encodeBase32(u[:])
	} else {
		encoded = encodeBase32([]byte(id))
	}
	if len(encoded) < width*depth {
		// pad defensively; should not happen for a valid 16-byte UUID with
		// any width*depth < 26 as required by configuration validation.
		encoded = encoded + strings.Repeat("A", width*depth-len(encoded))
	}

	parts := make([]string, 0, depth+1)
	parts = append(parts, "record")
	pos := 0
	for i := 0; i < depth; i++ {
		parts = append(parts, encoded[pos:pos+width])
		pos += width
	}
	parts = append(parts, encoded[pos:])
	return strings.Join(parts, "/")
}

// encodeBase32 encodes raw bytes using base32Alphabet without padding,
// matching the bit-packing behavior of RFC 4648's base32 with trailing
// padding stripped.
func encodeBase32(b []byte) string {
	var sb strings.Builder
	var bits uint
	var value uint32
	for _, c := range b {
		value = (value << 8) | uint32(c)
		bits += 8
		for bits >= 5 {
			bits -= 5
			sb.WriteByte(base32Alphabet[(value>>bits)&0x1F])
		}
	}
	if bits > 0 {
		sb.WriteByte(base32Alphabet[(value<<(5-bits))&0x1F])
	}
	return sb.String()
}
