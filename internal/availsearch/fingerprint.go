package availsearch

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Fingerprint computes a stable hash of the normalized candidate ID sets a
// search ran against. C9 clears its rejected-slot set whenever a session's
// fingerprint changes, so a new practitioner/location/service query never
// inherits a prior search's rejections.
func Fingerprint(criteria Criteria) string {
	h := sha256.New()
	for _, group := range [][]string{criteria.PractitionerIDs, criteria.LocationIDs, criteria.ServiceIDs} {
		sorted := append([]string(nil), group...)
		sort.Strings(sorted)
		h.Write([]byte(strings.Join(sorted, ",")))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
