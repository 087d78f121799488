// Package meetingid derives a Meeting's internal, cross-tenant-unique id
// from the caller-supplied external meeting id.
package meetingid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Derive computes the internal id as sha256(siteSlug \0 secretID \0 externalID \0).
// An earlier, buggy version of this derivation used a format string with only
// two placeholders for three arguments, so the external id never actually
// entered the hash — every external meeting id on a given secret collided
// to the same internal id. This derivation folds in all three components,
// so distinct external ids on the same secret get distinct internal ids.
func Derive(siteSlug, secretID, externalID string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00", siteSlug, secretID, externalID)
	return hex.EncodeToString(h.Sum(nil))
}
