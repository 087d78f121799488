package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/de-ibh/b3lb/pkg/models"
	"github.com/de-ibh/b3lb/pkg/signing"
)

// verifyChecksum implements inbound authentication: the checksum
// query parameter is verified against the endpoint name, the raw query
// string with checksum stripped (used verbatim, not re-encoded), and
// either of the Secret's two rotation slots. The algorithm is chosen by
// the checksum's hex digest length.
func verifyChecksum(rawQueryNoChecksum, endpoint, checksum string, secret models.Secret) bool {
	algo, ok := signing.AlgorithmByDigestLength(checksum)
	if !ok {
		return false
	}
	return signing.Verify(algo, endpoint, rawQueryNoChecksum, checksum, secret.Secret, secret.Secret2)
}

// unauthorized writes the fixed 401 body used across every auth failure.
func unauthorized(c *gin.Context) {
	c.String(http.StatusUnauthorized, "Unauthorized")
}

func xmlResponse(c *gin.Context, status int, body string) {
	c.Data(status, "text/xml; charset=utf-8", []byte(body))
}
