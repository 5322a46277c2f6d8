// Package sessionid generates human-readable identifiers for harvest
// sessions and ops requests. An ID carries a short random prefix for
// uniqueness followed by sanitized descriptive parts, so log lines and
// session rows stay greppable: "a3f91-athome-list".
package sessionid

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	// MaxLength is the maximum total ID length (same as UUID: 36 chars)
	MaxLength = 36
	// PrefixLength is the length of the random prefix
	PrefixLength = 5
	// maxLabelLength is the max length for the sanitized descriptive
	// portion: 36 total - 5 prefix - 1 hyphen = 30
	maxLabelLength = MaxLength - PrefixLength - 1
)

var (
	// sanitizeRegex removes all characters except a-z, A-Z, 0-9, and hyphens
	sanitizeRegex = regexp.MustCompile(`[^a-zA-Z0-9-]+`)
	// consecutiveHyphensRegex matches one or more consecutive hyphens
	consecutiveHyphensRegex = regexp.MustCompile(`-+`)
)

// New creates a session ID from descriptive parts, typically the site name
// and session type. Parts are sanitized (keeping only [a-zA-Z0-9-]) and
// joined with hyphens behind a 5-character random prefix. If every part
// sanitizes away to nothing the ID falls back to a plain UUID.
func New(parts ...string) string {
	label := sanitize(strings.Join(parts, "-"))
	if label == "" {
		return uuid.New().String()
	}

	if len(label) > maxLabelLength {
		label = label[:maxLabelLength]
	}
	return randomPrefix() + "-" + label
}

func sanitize(s string) string {
	s = strings.ReplaceAll(s, " ", "-")
	s = sanitizeRegex.ReplaceAllString(s, "")
	s = consecutiveHyphensRegex.ReplaceAllString(s, "-")
	s = strings.TrimPrefix(s, "-")
	return strings.TrimSuffix(s, "-")
}

// randomPrefix creates a 5-character random hex string using crypto/rand.
func randomPrefix() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		// crypto/rand failures are effectively impossible, but a UUID
		// slice keeps the ID unique if it ever happens
		return uuid.New().String()[:PrefixLength]
	}
	return hex.EncodeToString(bytes)[:PrefixLength]
}
