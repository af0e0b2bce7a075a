package dicom

import (
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// uuidUIDRoot is the standard root for UIDs derived from a UUID.
const uuidUIDRoot = "2.25."

// GenerateUID returns a new UID under the UUID-derived root: "2.25."
// followed by the decimal rendering of a random 128-bit UUID.
func GenerateUID() string {
	u := uuid.New()
	n := new(big.Int).SetBytes(u[:])
	return uuidUIDRoot + n.String()
}

// IsValidUID reports whether s is a well-formed UID: at most 64 characters,
// dot-separated numeric components, no empty components, and no leading
// zeros except the single digit 0.
func IsValidUID(s string) bool {
	if s == "" || len(s) > 64 {
		return false
	}
	for _, comp := range strings.Split(s, ".") {
		if comp == "" {
			return false
		}
		if len(comp) > 1 && comp[0] == '0' {
			return false
		}
		for _, c := range comp {
			if c < '0' || c > '9' {
				return false
			}
		}
	}
	return true
}
