// Package parse holds the value parsers of the ingestion pipeline: text
// normalization, patient hashing, and the date, age, MIC and halo parsers.
// Parsers never fail loudly; bad input yields a nil value.
package parse

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalize lowercases, trims, NFD-decomposes and drops combining marks,
// and collapses internal whitespace runs to a single space. Idempotent.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	decomposed := norm.NFD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	lastSpace := false
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		if unicode.IsSpace(r) {
			if !lastSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			lastSpace = true
			continue
		}
		lastSpace = false
		b.WriteRune(r)
	}
	return strings.TrimRight(b.String(), " ")
}

// Hasher computes the pseudonymized patient hashes. The two salts come from
// the environment and are a fatal misconfiguration when absent; the
// constructor does not validate them because config already has.
type Hasher struct {
	saltPre  string
	saltPost string
}

// NewHasher builds a Hasher from the two process salts.
func NewHasher(saltPre, saltPost string) *Hasher {
	return &Hasher{saltPre: saltPre, saltPost: saltPost}
}

// HashNH returns the hex SHA-256 of the salted history number: 64 hex
// characters, deterministic for a fixed salt pair.
func (h *Hasher) HashNH(nh string) string {
	sum := sha256.Sum256([]byte(h.saltPre + nh + h.saltPost))
	return hex.EncodeToString(sum[:])
}

// FallbackHash synthesizes a 16-hex-digit patient hash for rows without a
// history number. Load timestamp, 1-based row counter and organism id make
// it unique within an ingest without revealing identity.
func FallbackHash(loadTimestamp int64, rowCounter int, organismID int64) string {
	base := fmt.Sprintf("%d_%d_%d", loadTimestamp, rowCounter, organismID)
	sum := sha256.Sum256([]byte(base))
	return hex.EncodeToString(sum[:])[:16]
}
