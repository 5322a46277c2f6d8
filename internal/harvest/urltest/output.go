package urltest

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// Print writes a human-readable report of a URL test to w.
func Print(w io.Writer, res *Result) {
	if !res.IsAbsolute {
		fmt.Fprintf(w, "\nTesting path %s against %d site(s)\n", res.URL, len(res.Sites))
	}
	for i := range res.Sites {
		printSite(w, &res.Sites[i])
	}
}

func printSite(w io.Writer, sr *SiteResult) {
	fmt.Fprintf(w, "\n=== Site: %s ===\n", sr.Site)
	fmt.Fprintf(w, "URL:            %s\n", sr.OriginalURL)
	fmt.Fprintf(w, "Normalized URL: %s\n", sr.NormalizedURL)
	fmt.Fprintf(w, "URL hash:       %s\n", sr.URLHash)
	if len(sr.DroppedParams) > 0 {
		fmt.Fprintf(w, "Dropped params: %s\n", strings.Join(sr.DroppedParams, ", "))
	}
	fmt.Fprintln(w)

	if sr.PatternField != "" {
		fmt.Fprintf(w, "Classified as:  %s page (%s)\n", sr.PageType, sr.PatternField)
	} else {
		fmt.Fprintf(w, "Classified as:  %s page (no pattern matched)\n", sr.PageType)
	}
	if sr.FetchMode != "" {
		fmt.Fprintf(w, "Fetch mode:     %s\n", sr.FetchMode)
	}
	fmt.Fprintf(w, "Cache TTL:      %s\n", formatTTL(sr.TTL))

	if sr.RateLimit != nil {
		fmt.Fprintf(w, "Rate limit:     %d requests / %s\n",
			sr.RateLimit.Requests, sr.RateLimit.Period.ToDuration())
	} else {
		fmt.Fprintf(w, "Rate limit:     stored budget (no config override)\n")
	}
}

// formatTTL renders whole days as "Nd", everything else in Go notation.
func formatTTL(d time.Duration) string {
	if d >= 24*time.Hour && d%(24*time.Hour) == 0 {
		return fmt.Sprintf("%dd", int(d/(24*time.Hour)))
	}
	return d.String()
}
