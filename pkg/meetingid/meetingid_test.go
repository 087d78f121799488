package meetingid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveIsDeterministic(t *testing.T) {
	a := Derive("site", "secret-1", "ext-1")
	b := Derive("site", "secret-1", "ext-1")
	assert.Equal(t, a, b)
}

func TestDeriveDistinguishesExternalID(t *testing.T) {
	a := Derive("site", "secret-1", "ext-1")
	b := Derive("site", "secret-1", "ext-2")
	assert.NotEqual(t, a, b, "distinct external ids on the same secret must not collide")
}

func TestDeriveDistinguishesSecret(t *testing.T) {
	a := Derive("site", "secret-1", "ext-1")
	b := Derive("site", "secret-2", "ext-1")
	assert.NotEqual(t, a, b)
}

func TestDeriveProduces64CharHexDigest(t *testing.T) {
	id := Derive("site", "secret-1", "ext-1")
	assert.Len(t, id, 64)
}
