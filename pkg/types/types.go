// Package types contains shared domain types for the SECCAMP harvesting
// substrate: page classifications, request outcomes, compression algorithms
// and the extended Duration type used across configuration files.
package types

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// PageType classifies a harvested document and selects its cache lifetime.
type PageType string

const (
	// PageTypeList is a search-result or listing index page. These churn
	// quickly, so they get the shortest lifetime.
	PageTypeList PageType = "list"
	// PageTypeDetail is a single property page.
	PageTypeDetail PageType = "detail"
	// PageTypeImage is a binary asset referenced from a detail page.
	PageTypeImage PageType = "image"
)

// Valid reports whether p is one of the known page types.
func (p PageType) Valid() bool {
	switch p {
	case PageTypeList, PageTypeDetail, PageTypeImage:
		return true
	}
	return false
}

// DefaultTTL returns the built-in cache lifetime for a page type. Listing
// pages expire in hours, detail pages in days, images in weeks. Unknown page
// types fall back to the listing lifetime, the most conservative choice.
func (p PageType) DefaultTTL() time.Duration {
	switch p {
	case PageTypeDetail:
		return 7 * 24 * time.Hour
	case PageTypeImage:
		return 30 * 24 * time.Hour
	default:
		return 6 * time.Hour
	}
}

// RequestStatus is the recorded outcome of a single fetch attempt.
type RequestStatus string

const (
	StatusSuccess RequestStatus = "success"
	StatusFailed  RequestStatus = "failed"
	StatusTimeout RequestStatus = "timeout"
)

// SessionType describes what a harvest session set out to collect.
type SessionType string

const (
	SessionTypeList   SessionType = "list"
	SessionTypeDetail SessionType = "detail"
	SessionTypeImage  SessionType = "image"
	SessionTypeFull   SessionType = "full"
)

// SessionStatus is the lifecycle state of a harvest session row.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// Compression algorithm identifiers as stored on cache content rows.
const (
	CompressionNone   = "none"
	CompressionSnappy = "snappy"
	CompressionLZ4    = "lz4"
)

// File extensions appended to blob filenames when compressed.
const (
	ExtSnappy = ".snappy"
	ExtLZ4    = ".lz4"
)

// CompressionMinSize is the threshold in bytes below which bodies are stored
// uncompressed. Small payloads compress poorly and the extra extension churn
// is not worth it.
const CompressionMinSize = 1024

// ValidCompression reports whether algorithm is a known compression name.
func ValidCompression(algorithm string) bool {
	switch algorithm {
	case CompressionNone, CompressionSnappy, CompressionLZ4, "":
		return true
	}
	return false
}

// Duration wraps time.Duration with extended YAML parsing support for days
// and weeks, so cache lifetimes can be written as "7d" or "2w".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for extended duration formats
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	// Standard parsing first (handles: ns, us, ms, s, m, h)
	dur, err := time.ParseDuration(s)
	if err == nil {
		*d = Duration(dur)
		return nil
	}

	dur, err = parseExtendedDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalJSON implements json.Unmarshaler for Duration.
// Accepts both numbers (nanoseconds) and strings ("15s", "24h", "30d", "2w").
func (d *Duration) UnmarshalJSON(data []byte) error {
	var ns int64
	if err := json.Unmarshal(data, &ns); err == nil {
		*d = Duration(ns)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string or number, got %s", string(data))
	}

	dur, err := time.ParseDuration(s)
	if err == nil {
		*d = Duration(dur)
		return nil
	}

	dur, err = parseExtendedDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalJSON implements json.Marshaler for Duration.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// ToDuration converts types.Duration to time.Duration
func (d Duration) ToDuration() time.Duration {
	return time.Duration(d)
}

// String implements fmt.Stringer for Duration
func (d Duration) String() string {
	return time.Duration(d).String()
}

var extendedDurationRe = regexp.MustCompile(`^(-?)(\d+(?:\.\d+)?)(d|w)$`)

// parseExtendedDuration parses duration strings with extended suffixes:
// d (days), w (weeks). Examples: "30d", "2w", "1.5d"
func parseExtendedDuration(s string) (time.Duration, error) {
	matches := extendedDurationRe.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("invalid format, expected format like '30d' or '2w'")
	}

	value, err := strconv.ParseFloat(matches[2], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric value: %w", err)
	}
	if matches[1] == "-" {
		value = -value
	}

	switch matches[3] {
	case "d":
		return time.Duration(value * float64(24*time.Hour)), nil
	case "w":
		return time.Duration(value * float64(7*24*time.Hour)), nil
	}
	return 0, fmt.Errorf("unsupported suffix %q", matches[3])
}
