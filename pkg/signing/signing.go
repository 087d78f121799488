// Package signing computes and verifies backend-protocol checksums, the
// single trust mechanism shared by inbound client authentication and
// outbound node signing.
package signing

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"net/url"
	"sort"
	"strings"
)

// Algorithm is one of the four hash functions the backend protocol allows.
type Algorithm string

const (
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
	SHA384 Algorithm = "sha384"
	SHA512 Algorithm = "sha512"
)

func newHash(a Algorithm) (hash.Hash, error) {
	switch a {
	case SHA1:
		return sha1.New(), nil
	case SHA256:
		return sha256.New(), nil
	case SHA384:
		return sha512.New384(), nil
	case SHA512:
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("unsupported checksum algorithm %q", a)
	}
}

// digestLengths maps the hex digest length back to its algorithm, used for
// inbound length-dispatch. A checksumHash request parameter is not consulted.
var digestLengths = map[int]Algorithm{
	40:  SHA1,
	64:  SHA256,
	96:  SHA384,
	128: SHA512,
}

// AlgorithmByDigestLength dispatches on the hex digest length.
func AlgorithmByDigestLength(digest string) (Algorithm, bool) {
	a, ok := digestLengths[len(digest)]
	return a, ok
}

// Sign computes the canonical checksum: endpoint || urlencode(params, safe='*') || secret.
func Sign(algo Algorithm, endpoint string, encodedParams string, secret string) (string, error) {
	h, err := newHash(algo)
	if err != nil {
		return "", err
	}
	h.Write([]byte(endpoint))
	h.Write([]byte(encodedParams))
	h.Write([]byte(secret))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify checks a client-presented digest against one or more candidate
// secrets (dual-secret rotation, for in-flight secret changes), trying
// each in turn and succeeding if any matches.
func Verify(algo Algorithm, endpoint string, encodedParams string, digest string, secrets ...string) bool {
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		computed, err := Sign(algo, endpoint, encodedParams, secret)
		if err != nil {
			return false
		}
		if strings.EqualFold(computed, digest) {
			return true
		}
	}
	return false
}

// EncodeParamsExcludingChecksum re-derives the urlencode(params, safe='*')
// component from a parsed parameter map, with keys in sorted order and the
// encoded key=value pairs joined with '&'. Because the checksum covers
// this exact string, key order matters; the caller must therefore prefer the raw, byte-identical QUERY_STRING when
// verifying an inbound request, since re-encoding can alter percent-encoding
// bit patterns the checksum is sensitive to.
func EncodeParamsExcludingChecksum(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "checksum" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		for j, v := range params[k] {
			if i > 0 || j > 0 {
				sb.WriteByte('&')
			}
			sb.WriteString(encodeSafeStar(k))
			sb.WriteByte('=')
			sb.WriteString(encodeSafeStar(v))
		}
	}
	return sb.String()
}

// encodeSafeStar percent-encodes like url.QueryEscape but leaves '*'
// unescaped, matching the backend protocol's urlencode(..., safe='*')
// checksum construction.
func encodeSafeStar(s string) string {
	escaped := url.QueryEscape(s)
	return strings.ReplaceAll(escaped, "%2A", "*")
}

// StripChecksumFromRawQuery removes the checksum=<...> segment from a raw
// query string while leaving every other byte — including percent-encoding
// — untouched, since any re-encoding would change the checksum.
func StripChecksumFromRawQuery(rawQuery string) string {
	parts := strings.Split(rawQuery, "&")
	out := parts[:0]
	for _, p := range parts {
		if strings.HasPrefix(p, "checksum=") {
			continue
		}
		out = append(out, p)
	}
	return strings.Join(out, "&")
}
