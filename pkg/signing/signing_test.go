package signing

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	params := url.Values{"meetingID": {"room1"}, "name": {"Test Meeting"}}
	encoded := EncodeParamsExcludingChecksum(params)

	for _, algo := range []Algorithm{SHA1, SHA256, SHA384, SHA512} {
		digest, err := Sign(algo, "create", encoded, "s3cr3t")
		require.NoError(t, err)
		assert.True(t, Verify(algo, "create", encoded, digest, "s3cr3t"))
		assert.False(t, Verify(algo, "create", encoded, digest, "wrong"))
	}
}

func TestVerifyAcceptsEitherRotationSecret(t *testing.T) {
	encoded := EncodeParamsExcludingChecksum(url.Values{"meetingID": {"room1"}})
	digest, err := Sign(SHA256, "join", encoded, "new-secret")
	require.NoError(t, err)

	assert.True(t, Verify(SHA256, "join", encoded, digest, "old-secret", "new-secret"))
}

func TestAlgorithmByDigestLength(t *testing.T) {
	cases := map[string]Algorithm{
		"0000000000000000000000000000000000000000":                               SHA1,
		"0000000000000000000000000000000000000000000000000000000000000000":     SHA256,
	}
	for digest, want := range cases {
		got, ok := AlgorithmByDigestLength(digest)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok := AlgorithmByDigestLength("short")
	assert.False(t, ok)
}

func TestStripChecksumFromRawQuery(t *testing.T) {
	raw := "meetingID=room1&checksum=abc123&name=Test%20Room"
	assert.Equal(t, "meetingID=room1&name=Test%20Room", StripChecksumFromRawQuery(raw))
}
