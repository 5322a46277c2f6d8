// Package requestid issues identifiers that tie an ops API response to its
// log lines. Callers may bring their own ID through the X-Request-ID
// header; anything unsafe for a header or a log field is stripped, and a
// random prefix keeps client-chosen IDs from colliding with each other.
package requestid

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// maxLength caps IDs at UUID length so log fields stay fixed-width.
const maxLength = 36

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9-]+`)
	hyphenRuns  = regexp.MustCompile(`-+`)
)

// New returns a request ID. A non-empty hint is sanitized to [a-zA-Z0-9-]
// and gets a random prefix; an empty or unusable hint falls back to a
// plain UUID.
func New(hint string) string {
	cleaned := unsafeChars.ReplaceAllString(strings.ReplaceAll(hint, " ", "-"), "")
	cleaned = strings.Trim(hyphenRuns.ReplaceAllString(cleaned, "-"), "-")
	if cleaned == "" {
		return uuid.New().String()
	}

	id := uuid.New().String()[:8] + "-" + cleaned
	if len(id) > maxLength {
		id = id[:maxLength]
	}
	return id
}
