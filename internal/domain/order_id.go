package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// OrderIDScheme describes the canonical and legacy order identifier formats.
type OrderIDScheme struct {
	Prefix       string
	LegacyMarker string
	PadLength    int
}

// DefaultOrderIDScheme issues ORD00001 style identifiers and reads legacy #123 identifiers.
var DefaultOrderIDScheme = OrderIDScheme{Prefix: "ORD", LegacyMarker: "#", PadLength: 5}

// Format renders a counter value in canonical form.
func (s OrderIDScheme) Format(seq int64) string {
	return fmt.Sprintf("%s%0*d", s.Prefix, s.padLength(), seq)
}

// MaxSequence is the largest counter value that still renders at the padded width.
func (s OrderIDScheme) MaxSequence() int64 {
	ceiling := int64(1)
	for i := 0; i < min(s.padLength(), 18); i++ {
		ceiling *= 10
	}
	return ceiling - 1
}

func (s OrderIDScheme) padLength() int {
	if s.PadLength <= 0 {
		return 5
	}
	return s.PadLength
}

// ParseCanonical extracts the counter from a canonical identifier.
func (s OrderIDScheme) ParseCanonical(id string) (int64, bool) {
	if s.Prefix == "" || !strings.HasPrefix(id, s.Prefix) {
		return 0, false
	}
	return parseDigits(strings.TrimPrefix(id, s.Prefix))
}

// ParseLegacy extracts the numeric value from a legacy marker-prefixed identifier.
func (s OrderIDScheme) ParseLegacy(id string) (int64, bool) {
	if s.LegacyMarker == "" || !strings.HasPrefix(id, s.LegacyMarker) {
		return 0, false
	}
	return parseDigits(strings.TrimPrefix(id, s.LegacyMarker))
}

// HighestSequence derives the last issued counter from identifier history. Canonical identifiers
// win; legacy values are only consulted when no canonical identifier exists yet.
func (s OrderIDScheme) HighestSequence(ids []string) int64 {
	var canonical, legacy int64
	foundCanonical := false
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if v, ok := s.ParseCanonical(id); ok {
			foundCanonical = true
			if v > canonical {
				canonical = v
			}
			continue
		}
		if v, ok := s.ParseLegacy(id); ok && v > legacy {
			legacy = v
		}
	}
	if foundCanonical {
		return canonical
	}
	return legacy
}

// NaiveNextOrderID is the scan-then-increment scheme. It is not safe under concurrent writers
// and is kept to reason about migrations and to demonstrate collisions.
func (s OrderIDScheme) NaiveNextOrderID(history []string) string {
	return s.Format(s.HighestSequence(history) + 1)
}

// LookupCandidates lists the identifier spellings an incoming order reference may match.
func (s OrderIDScheme) LookupCandidates(ref string) []string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil
	}
	candidates := []string{ref}
	if s.LegacyMarker == "" {
		return candidates
	}
	if strings.HasPrefix(ref, s.LegacyMarker) {
		stripped := strings.TrimPrefix(ref, s.LegacyMarker)
		if stripped != "" {
			candidates = append(candidates, stripped)
		}
	} else {
		candidates = append(candidates, s.LegacyMarker+ref)
	}
	return candidates
}

func parseDigits(value string) (int64, bool) {
	if value == "" {
		return 0, false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
