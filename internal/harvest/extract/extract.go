// Package extract pulls harvestable links out of fetched pages. List pages
// yield property detail links and the next page of results; detail pages
// yield image URLs. Site configs supply the patterns that decide which
// links matter, so the walker itself knows nothing about any particular
// site.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/xyshyniaphy/SECCAMP/internal/common/urlutil"
	"github.com/xyshyniaphy/SECCAMP/pkg/pattern"
)

// Rules are the compiled per-site link patterns. A nil pattern never
// matches, so a site without images simply leaves the image pattern empty.
type Rules struct {
	Detail   *pattern.Pattern
	NextPage *pattern.Pattern
	Image    *pattern.Pattern
}

// CompileRules compiles the raw patterns from site config. Empty strings
// compile to nil.
func CompileRules(detail, nextPage, image string) (Rules, error) {
	var rules Rules
	var err error

	if detail != "" {
		if rules.Detail, err = pattern.Compile(detail); err != nil {
			return Rules{}, fmt.Errorf("detail pattern: %w", err)
		}
	}
	if nextPage != "" {
		if rules.NextPage, err = pattern.Compile(nextPage); err != nil {
			return Rules{}, fmt.Errorf("next page pattern: %w", err)
		}
	}
	if image != "" {
		if rules.Image, err = pattern.Compile(image); err != nil {
			return Rules{}, fmt.Errorf("image pattern: %w", err)
		}
	}
	return rules, nil
}

// PageLinks are the absolute URLs extracted from one page, deduplicated in
// document order. NextPage holds the first pagination link found; list
// pages repeat it top and bottom, and the copies are the same URL.
type PageLinks struct {
	Details  []string
	NextPage string
	Images   []string
}

// Links parses the page and collects every link the rules care about.
// Patterns match against the resolved absolute URL, so relative and
// absolute hrefs behave the same. Parsing is best-effort: malformed markup
// yields whatever links the parser could see, never an error.
func Links(body []byte, pageURL string, rules Rules) PageLinks {
	var links PageLinks

	base, err := url.Parse(pageURL)
	if err != nil {
		return links
	}

	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		// html.Parse recovers from bad markup on its own; an error here
		// means the reader failed, which bytes.Reader never does.
		return links
	}

	seenDetails := make(map[string]struct{})
	seenImages := make(map[string]struct{})

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "a":
				if abs := resolveRef(base, attrVal(n, "href")); abs != "" {
					collectNav(&links, seenDetails, abs, pageURL, rules)
				}
			case "img":
				if abs := resolveRef(base, attrVal(n, "src")); abs != "" {
					collectImage(&links, seenImages, abs, rules)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	return links
}

// collectNav files a navigation link as a detail or next-page hit.
// Navigation stays on the site being harvested; ads and social links that
// happen to match a pattern are rejected by origin. A link matching both
// patterns counts as a detail.
func collectNav(links *PageLinks, seen map[string]struct{}, abs, pageURL string, rules Rules) {
	if !urlutil.SameOriginURLs(pageURL, abs) {
		return
	}

	if rules.Detail.Match(abs) {
		if _, dup := seen[abs]; !dup {
			seen[abs] = struct{}{}
			links.Details = append(links.Details, abs)
		}
		return
	}

	if links.NextPage == "" && rules.NextPage.Match(abs) {
		links.NextPage = abs
	}
}

// collectImage files an image link. Images may live on a CDN, so there is
// no origin filter; the pattern is the only gate.
func collectImage(links *PageLinks, seen map[string]struct{}, abs string, rules Rules) {
	if !rules.Image.Match(abs) {
		return
	}
	if _, dup := seen[abs]; !dup {
		seen[abs] = struct{}{}
		links.Images = append(links.Images, abs)
	}
}

// resolveRef resolves a raw href or src against the page URL and normalizes
// it for matching. Non-HTTP schemes, unparseable refs, and links back to
// the page itself (empty href, bare fragments) resolve to "".
func resolveRef(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}

	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}

	abs := base.ResolveReference(parsed)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	abs.Fragment = ""

	resolved := abs.String()
	self := *base
	self.Fragment = ""
	if resolved == self.String() {
		return ""
	}
	return resolved
}

func attrVal(n *html.Node, name string) string {
	for _, attr := range n.Attr {
		if strings.EqualFold(attr.Key, name) {
			return attr.Val
		}
	}
	return ""
}
