package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var addressFold = cases.Fold()

// Fingerprint returns a stable hash of the postal fields used to detect duplicate addresses.
// Label, phone and default flags are not part of the identity.
func (a Address) Fingerprint() string {
	parts := []string{
		foldAddressPart(a.Recipient),
		foldAddressPart(a.Line1),
		foldAddressPart(derefString(a.Line2)),
		foldAddressPart(a.City),
		foldAddressPart(derefString(a.State)),
		foldAddressPart(a.PostalCode),
		foldAddressPart(a.Country),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func foldAddressPart(value string) string {
	value = norm.NFKC.String(strings.TrimSpace(value))
	return strings.Join(strings.Fields(addressFold.String(value)), " ")
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
