// Package urltest answers "how would the harvester treat this URL": which
// site claims it, what it canonicalizes to, how the link patterns classify
// it and which cache and rate-limit settings would then apply. harvestctl
// exposes it so a config change can be checked before a crawl runs on it.
package urltest

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/xyshyniaphy/SECCAMP/internal/common/configtypes"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/cache"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/canonical"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/extract"
	"github.com/xyshyniaphy/SECCAMP/pkg/types"
)

// Result is the outcome of testing one URL against the configuration.
type Result struct {
	URL        string
	IsAbsolute bool
	Sites      []SiteResult
}

// SiteResult describes how one site would treat the URL.
type SiteResult struct {
	Site          string
	OriginalURL   string
	NormalizedURL string
	URLHash       string
	DroppedParams []string
	PageType      types.PageType
	// PatternField names the site config field that classified the URL,
	// or "" when nothing matched and the URL defaults to a list page.
	PatternField string
	FetchMode    string
	TTL          time.Duration
	RateLimit    *configtypes.SiteRateLimit
}

// TestURL resolves rawURL against the configuration. With siteName set the
// URL is tested against that site alone. Otherwise an absolute URL is
// matched to sites by entry URL host, and a relative path is resolved
// against every site's first entry URL.
func TestURL(cfgMgr configtypes.ConfigManager, canon *canonical.Canonicalizer, rawURL, siteName string) (*Result, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	res := &Result{
		URL:        rawURL,
		IsAbsolute: parsed.Host != "",
	}

	if siteName != "" {
		site := cfgMgr.GetSiteByName(siteName)
		if site == nil {
			return nil, fmt.Errorf("site %q is not configured (configured sites: %s)",
				siteName, strings.Join(siteNames(cfgMgr.GetSites()), ", "))
		}
		testURL := rawURL
		if !res.IsAbsolute {
			testURL, err = resolveAgainstEntry(site, rawURL)
			if err != nil {
				return nil, err
			}
		}
		sr, err := testAgainstSite(cfgMgr, canon, testURL, site)
		if err != nil {
			return nil, err
		}
		res.Sites = []SiteResult{sr}
		return res, nil
	}

	sites := cfgMgr.GetSites()
	if res.IsAbsolute {
		return testAbsolute(cfgMgr, canon, res, parsed, sites)
	}
	return testRelative(cfgMgr, canon, res, sites)
}

// testAbsolute matches the URL's host against each site's entry URL hosts.
func testAbsolute(cfgMgr configtypes.ConfigManager, canon *canonical.Canonicalizer, res *Result, parsed *url.URL, sites []configtypes.SiteConfig) (*Result, error) {
	for i := range sites {
		if !siteOwnsHost(&sites[i], parsed.Host) {
			continue
		}
		sr, err := testAgainstSite(cfgMgr, canon, res.URL, &sites[i])
		if err != nil {
			return nil, err
		}
		res.Sites = append(res.Sites, sr)
	}

	if len(res.Sites) == 0 {
		var hosts []string
		for i := range sites {
			for _, entry := range sites[i].EntryURLs {
				if u, err := url.Parse(entry); err == nil && u.Host != "" {
					hosts = append(hosts, fmt.Sprintf("%s (%s)", u.Host, sites[i].Name))
				}
			}
		}
		return nil, fmt.Errorf("no configured site covers host %q\nConfigured hosts:\n  - %s",
			parsed.Host, strings.Join(hosts, "\n  - "))
	}
	return res, nil
}

// testRelative resolves a bare path against every site's first entry URL.
func testRelative(cfgMgr configtypes.ConfigManager, canon *canonical.Canonicalizer, res *Result, sites []configtypes.SiteConfig) (*Result, error) {
	for i := range sites {
		site := &sites[i]
		full, err := resolveAgainstEntry(site, res.URL)
		if err != nil {
			continue
		}
		sr, err := testAgainstSite(cfgMgr, canon, full, site)
		if err != nil {
			return nil, err
		}
		res.Sites = append(res.Sites, sr)
	}

	if len(res.Sites) == 0 {
		return nil, fmt.Errorf("no sites configured")
	}
	return res, nil
}

func testAgainstSite(cfgMgr configtypes.ConfigManager, canon *canonical.Canonicalizer, testURL string, site *configtypes.SiteConfig) (SiteResult, error) {
	rules, err := extract.CompileRules(site.DetailPattern, site.NextPagePattern, site.ImagePattern)
	if err != nil {
		return SiteResult{}, fmt.Errorf("site %s: %w", site.Name, err)
	}

	norm := canon.Canonicalize(testURL, site.Name)
	pageType, field := classify(testURL, rules)

	return SiteResult{
		Site:          site.Name,
		OriginalURL:   testURL,
		NormalizedURL: norm.NormalizedURL,
		URLHash:       norm.URLHash,
		DroppedParams: norm.DroppedParams,
		PageType:      pageType,
		PatternField:  field,
		FetchMode:     site.FetchMode,
		TTL:           cache.TTLFor(cfgMgr.GetConfig().Cache, pageType),
		RateLimit:     site.RateLimit,
	}, nil
}

// classify mirrors link extraction, which matches patterns against the
// absolute URL before canonicalization: a detail match wins over everything
// else, images come next, and a pagination match or no match at all is
// treated as a list page.
func classify(absURL string, rules extract.Rules) (types.PageType, string) {
	switch {
	case rules.Detail.Match(absURL):
		return types.PageTypeDetail, "detail_pattern"
	case rules.Image.Match(absURL):
		return types.PageTypeImage, "image_pattern"
	case rules.NextPage.Match(absURL):
		return types.PageTypeList, "next_page_pattern"
	default:
		return types.PageTypeList, ""
	}
}

// resolveAgainstEntry turns a bare path into an absolute URL on the site's
// first entry URL origin.
func resolveAgainstEntry(site *configtypes.SiteConfig, path string) (string, error) {
	if len(site.EntryURLs) == 0 {
		return "", fmt.Errorf("site %s has no entry URLs to resolve %q against", site.Name, path)
	}
	base, err := url.Parse(site.EntryURLs[0])
	if err != nil || base.Host == "" {
		return "", fmt.Errorf("site %s has no usable entry URL to resolve %q against", site.Name, path)
	}
	return fmt.Sprintf("%s://%s%s", base.Scheme, base.Host, path), nil
}

// siteOwnsHost reports whether any of the site's entry URLs lives on host.
func siteOwnsHost(site *configtypes.SiteConfig, host string) bool {
	for _, entry := range site.EntryURLs {
		u, err := url.Parse(entry)
		if err != nil {
			continue
		}
		if strings.EqualFold(u.Host, host) {
			return true
		}
	}
	return false
}

func siteNames(sites []configtypes.SiteConfig) []string {
	names := make([]string, 0, len(sites))
	for i := range sites {
		names = append(names, sites[i].Name)
	}
	return names
}
