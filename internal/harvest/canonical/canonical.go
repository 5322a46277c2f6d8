// Package canonical reduces listing URLs to a stable canonical form so that
// alias URLs (tracking parameters, case differences, trailing slashes)
// collapse onto a single cache identity.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// DefaultKeepParams is the query allow-list applied when a site has neither
// a configured list nor a built-in one.
var DefaultKeepParams = []string{"id", "page"}

// builtinKeepParams covers the listing sites the harvester ships support
// for. A keep_params list in the site config overrides these.
var builtinKeepParams = map[string][]string{
	"athome":      {"bukkenNo", "id"},
	"suumo":       {"bc", "id"},
	"ieichiba":    {"id"},
	"zero_estate": {"id"},
	"jmty":        {"id"},
	"homes":       {"id"},
	"rakuten":     {"id"},
}

// ParamSource supplies per-site query parameter allow-lists. The second
// return value reports whether the site is known at all.
type ParamSource interface {
	KeepParams(site string) ([]string, bool)
}

// StaticParams is a fixed ParamSource for tests and tools.
type StaticParams map[string][]string

func (s StaticParams) KeepParams(site string) ([]string, bool) {
	params, ok := s[site]
	return params, ok
}

// Result is the outcome of canonicalizing one URL.
type Result struct {
	OriginalURL   string
	NormalizedURL string
	// URLHash is the lowercase hex SHA-256 of NormalizedURL and the
	// primary cache key everywhere else in the system.
	URLHash string
	// DroppedParams lists query keys removed by the allow-list, for
	// debug logging.
	DroppedParams []string
}

// Canonicalizer normalizes URLs using per-site parameter allow-lists.
type Canonicalizer struct {
	params ParamSource
	logger *zap.Logger
}

// New creates a Canonicalizer. params may be nil, in which case sites fall
// back to their built-in allow-list or DefaultKeepParams.
func New(params ParamSource, logger *zap.Logger) *Canonicalizer {
	return &Canonicalizer{
		params: params,
		logger: logger,
	}
}

// Canonicalize normalizes rawURL for the given site. It never fails: input
// that cannot be parsed is hashed as-is so the caller still gets a usable
// cache key.
//
// Normalization steps:
//   - scheme and host lowercased, default ports removed
//   - trailing slashes stripped from the path (path case is preserved)
//   - fragment dropped
//   - query reduced to the site's allow-list, keys sorted, value order
//     within a key and blank values preserved
func (c *Canonicalizer) Canonicalize(rawURL, site string) Result {
	trimmed := strings.TrimSpace(rawURL)

	withScheme := trimmed
	if !strings.Contains(withScheme, "://") {
		withScheme = "https://" + withScheme
	}

	u, err := url.Parse(withScheme)
	if err != nil || u.Host == "" {
		c.logger.Debug("URL not canonicalizable, hashing raw input",
			zap.String("url", rawURL),
			zap.String("site", site))
		return Result{
			OriginalURL:   rawURL,
			NormalizedURL: trimmed,
			URLHash:       hashString(trimmed),
		}
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = normalizeHost(strings.ToLower(u.Host), u.Scheme)

	u.Path = strings.TrimRight(u.Path, "/")
	if u.RawPath != "" {
		u.RawPath = strings.TrimRight(u.RawPath, "/")
	}

	u.Fragment = ""
	u.RawFragment = ""

	query, dropped := filterQuery(u.RawQuery, c.keepListFor(site))
	u.RawQuery = query

	normalized := u.String()
	return Result{
		OriginalURL:   rawURL,
		NormalizedURL: normalized,
		URLHash:       hashString(normalized),
		DroppedParams: dropped,
	}
}

// Fingerprint returns a cheap 64-bit fingerprint of a normalized URL. The
// crawler uses it for its in-memory seen-set; the durable cache key stays
// the SHA-256 URLHash.
func Fingerprint(normalizedURL string) uint64 {
	return xxhash.Sum64String(normalizedURL)
}

func (c *Canonicalizer) keepListFor(site string) []string {
	if c.params != nil {
		if params, ok := c.params.KeepParams(site); ok && params != nil {
			return params
		}
	}
	if params, ok := builtinKeepParams[site]; ok {
		return params
	}
	return DefaultKeepParams
}

// normalizeHost strips a trailing root-label dot and the default port for
// the scheme.
func normalizeHost(host, scheme string) string {
	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}
	return strings.TrimSuffix(host, ".")
}

// filterQuery keeps only allow-listed keys and re-encodes deterministically:
// keys sorted lexicographically, original value order preserved within a
// key, blank values encoded as the bare key. Returns the encoded query and
// the sorted list of dropped keys.
func filterQuery(rawQuery string, keep []string) (string, []string) {
	if rawQuery == "" {
		return "", nil
	}

	// Best effort: ParseQuery fills what it understood even on error.
	parsed, _ := url.ParseQuery(rawQuery)
	if len(parsed) == 0 {
		return "", nil
	}

	keepSet := make(map[string]bool, len(keep))
	for _, k := range keep {
		keepSet[k] = true
	}

	var kept, dropped []string
	for key := range parsed {
		if keepSet[key] {
			kept = append(kept, key)
		} else {
			dropped = append(dropped, key)
		}
	}
	sort.Strings(kept)
	sort.Strings(dropped)

	var b strings.Builder
	for _, key := range kept {
		for _, value := range parsed[key] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			if value == "" {
				b.WriteString(url.QueryEscape(key))
				continue
			}
			b.WriteString(url.QueryEscape(key))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(value))
		}
	}
	return b.String(), dropped
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
