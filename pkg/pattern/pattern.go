// Package pattern matches URLs against the patterns site configs use to
// classify links. One grammar covers detail pages, pagination links and
// photo URLs:
//
//   - No prefix: case-insensitive exact match.
//     "https://www.athome.co.jp/pickup/today" matches only that URL.
//
//   - Wildcard (*): case-insensitive, * spans any characters.
//     "*.jpg" matches every URL ending in .jpg or .JPG.
//
//   - Regexp (~): case-sensitive regular expression.
//     "~/kodate/[0-9]+/" matches detail paths like /kodate/6974000123/.
//
//   - Regexp (~*): case-insensitive regular expression.
//     "~*\.(jpe?g|png)$" matches photo URLs in either case.
package pattern

import (
	"fmt"
	"regexp"
	"strings"
)

// PatternType tells how a pattern string is interpreted.
type PatternType int

const (
	PatternTypeWildcard PatternType = iota
	PatternTypeRegexp
	PatternTypeExact
)

// Pattern is a compiled pattern ready for matching.
type Pattern struct {
	Original        string
	Type            PatternType
	CleanPattern    string // prefix stripped for regexp forms
	CaseInsensitive bool
	compiledRegexp  *regexp.Regexp
}

// DetectPatternType classifies a raw pattern string. It returns the type,
// the pattern with any prefix removed, and whether matching ignores case.
func DetectPatternType(raw string) (PatternType, string, bool) {
	if strings.HasPrefix(raw, "~*") {
		return PatternTypeRegexp, raw[2:], true
	}
	if strings.HasPrefix(raw, "~") {
		return PatternTypeRegexp, raw[1:], false
	}
	if strings.Contains(raw, "*") {
		return PatternTypeWildcard, raw, false
	}
	return PatternTypeExact, raw, false
}

// Compile prepares a pattern for matching. Site configs compile their
// patterns once at load time; an empty pattern is an error so a blank
// config field fails fast instead of silently matching nothing.
func Compile(raw string) (*Pattern, error) {
	if raw == "" {
		return nil, fmt.Errorf("pattern cannot be empty")
	}

	patternType, clean, caseInsensitive := DetectPatternType(raw)

	p := &Pattern{
		Original:        raw,
		Type:            patternType,
		CleanPattern:    clean,
		CaseInsensitive: caseInsensitive,
	}

	if patternType == PatternTypeRegexp {
		expr := clean
		if caseInsensitive {
			expr = "(?i)" + clean
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid regexp pattern '%s': %w", raw, err)
		}
		p.compiledRegexp = re
	}

	return p, nil
}

// Match reports whether input matches the pattern. A nil Pattern matches
// nothing, so optional site patterns can simply stay nil.
func (p *Pattern) Match(input string) bool {
	if p == nil {
		return false
	}

	switch p.Type {
	case PatternTypeRegexp:
		if p.compiledRegexp == nil {
			return false
		}
		return p.compiledRegexp.MatchString(input)

	case PatternTypeWildcard:
		return MatchWildcard(strings.ToLower(input), strings.ToLower(p.CleanPattern))

	case PatternTypeExact:
		return strings.EqualFold(input, p.CleanPattern)

	default:
		return false
	}
}

// MatchWildcard matches text against a wildcard pattern without compiling
// first. The * spans any run of characters, path separators included, and
// a pattern may carry several:
//
//	MatchWildcard("/photos/123/main.jpg", "*.jpg")  → true
//	MatchWildcard("/kodate/123/gallery", "/kodate/*")  → true
//	MatchWildcard("anything", "*")  → true
func MatchWildcard(text, pattern string) bool {
	if !strings.Contains(pattern, "*") {
		return text == pattern
	}

	parts := strings.Split(pattern, "*")

	if !strings.HasPrefix(text, parts[0]) {
		return false
	}
	text = text[len(parts[0]):]

	if !strings.HasSuffix(text, parts[len(parts)-1]) {
		return false
	}
	text = text[:len(text)-len(parts[len(parts)-1])]

	// Middle fragments must appear in order.
	for i := 1; i < len(parts)-1; i++ {
		if parts[i] == "" {
			continue
		}
		idx := strings.Index(text, parts[i])
		if idx == -1 {
			return false
		}
		text = text[idx+len(parts[i]):]
	}

	return true
}
