// Package jobs generates identifiers that correlate a request message with
// the response that resolves it.
package jobs

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/rs/zerolog/log"
)

// TransformPrefix prefixes request ids carried by TRANSFORM and its replies.
const TransformPrefix = "xfm-"

// GenerateID creates a new cryptographically random id with the given prefix.
// The prefix should include a trailing dash, e.g. "xfm-".
func GenerateID(prefix string) string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		log.Fatal().Err(err).Msgf("Failed to generate random %s request ID", prefix)
	}
	return prefix + hex.EncodeToString(b)
}

// HasPrefix reports whether id was generated with prefix and carries a
// non-empty random part.
func HasPrefix(id, prefix string) bool {
	return strings.HasPrefix(id, prefix) && len(id) > len(prefix)
}
