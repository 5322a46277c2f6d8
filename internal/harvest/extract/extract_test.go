package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func athomeRules(t *testing.T) Rules {
	t.Helper()
	rules, err := CompileRules(`~/kodate/\d+/`, `~[?&]page=\d+`, `~\.jpg$`)
	require.NoError(t, err)
	return rules
}

func TestLinksExtractsDetailURLs(t *testing.T) {
	body := []byte(`<html><body>
		<div class="property-list">
			<a href="/kodate/6974000123/">戸建 A</a>
			<a href="/kodate/6974000123/"><img src="/thumb/1.png"></a>
			<a href="https://www.athome.co.jp/kodate/6974000456/?DOWN=1">戸建 B</a>
			<a href="https://ads.example.com/kodate/999/">ad</a>
			<a href="/mansion/about/">not a listing</a>
		</div>
	</body></html>`)

	links := Links(body, "https://www.athome.co.jp/kodate/list/tokyo/", athomeRules(t))

	assert.Equal(t, []string{
		"https://www.athome.co.jp/kodate/6974000123/",
		"https://www.athome.co.jp/kodate/6974000456/?DOWN=1",
	}, links.Details, "relative hrefs resolved, duplicates and off-site links dropped")
}

func TestLinksFindsNextPage(t *testing.T) {
	body := []byte(`<html><body>
		<a href="?page=2">次へ</a>
		<a href="?page=3">3</a>
		<a href="#page-top">top</a>
	</body></html>`)

	links := Links(body, "https://www.athome.co.jp/kodate/list/tokyo/", athomeRules(t))

	assert.Equal(t, "https://www.athome.co.jp/kodate/list/tokyo/?page=2", links.NextPage,
		"first pagination link in document order wins")
	assert.Empty(t, links.Details)
}

func TestLinksDetailBeatsNextPage(t *testing.T) {
	rules, err := CompileRules(`~/kodate/\d+/`, `~/kodate/`, "")
	require.NoError(t, err)

	body := []byte(`<a href="/kodate/123/">both patterns match this</a>`)
	links := Links(body, "https://www.athome.co.jp/list/", rules)

	assert.Equal(t, []string{"https://www.athome.co.jp/kodate/123/"}, links.Details)
	assert.Empty(t, links.NextPage)
}

func TestLinksExtractsImages(t *testing.T) {
	body := []byte(`<html><body>
		<img src="https://cdn.athome.example/photos/123/main.jpg">
		<img src="/photos/123/floorplan.jpg">
		<img src="/photos/123/floorplan.jpg">
		<img src="/icons/logo.svg">
		<img src="data:image/gif;base64,R0lGOD">
	</body></html>`)

	links := Links(body, "https://www.athome.co.jp/kodate/123/", athomeRules(t))

	assert.Equal(t, []string{
		"https://cdn.athome.example/photos/123/main.jpg",
		"https://www.athome.co.jp/photos/123/floorplan.jpg",
	}, links.Images, "CDN hosts allowed for images, non-matching and data URIs dropped")
}

func TestLinksSurvivesMalformedHTML(t *testing.T) {
	body := []byte(`<div><a href="/kodate/42/">unclosed<table><a href="/kodate/43/"`)

	links := Links(body, "https://www.athome.co.jp/", athomeRules(t))

	assert.Contains(t, links.Details, "https://www.athome.co.jp/kodate/42/")
}

func TestLinksIgnoresNonHTTPSchemes(t *testing.T) {
	rules, err := CompileRules(`~.`, "", "")
	require.NoError(t, err)

	body := []byte(`<body>
		<a href="javascript:void(0)">js</a>
		<a href="mailto:info@athome.co.jp">mail</a>
		<a href="tel:0312345678">tel</a>
		<a href="">empty</a>
		<a href="#top">fragment</a>
	</body>`)

	links := Links(body, "https://www.athome.co.jp/", rules)

	assert.Empty(t, links.Details)
	assert.Empty(t, links.NextPage)
}

func TestLinksSelfLinkNeverPaginates(t *testing.T) {
	// The page's own URL matches the pagination pattern; bare fragments
	// must not turn it into its own next page.
	body := []byte(`<a href="#top">top</a><a href="?page=3">next</a>`)

	links := Links(body, "https://www.athome.co.jp/list/?page=2", athomeRules(t))

	assert.Equal(t, "https://www.athome.co.jp/list/?page=3", links.NextPage)
}

func TestLinksBadPageURL(t *testing.T) {
	links := Links([]byte(`<a href="/kodate/1/">x</a>`), "://not-a-url", athomeRules(t))
	assert.Empty(t, links.Details)
}

func TestLinksWildcardAndExactPatterns(t *testing.T) {
	rules, err := CompileRules(
		"https://www.athome.co.jp/pickup/today",
		"",
		"*.jpg")
	require.NoError(t, err)

	body := []byte(`<body>
		<a href="/pickup/today">pinned</a>
		<a href="/pickup/today/archive">not pinned</a>
		<img src="/photos/1/main.JPG">
		<img src="/photos/1/plan.png">
	</body>`)

	links := Links(body, "https://www.athome.co.jp/", rules)

	assert.Equal(t, []string{"https://www.athome.co.jp/pickup/today"}, links.Details,
		"a pattern without wildcards or a regex prefix pins one exact URL")
	assert.Equal(t, []string{"https://www.athome.co.jp/photos/1/main.JPG"}, links.Images,
		"wildcard matching ignores case")
}

func TestCompileRules(t *testing.T) {
	rules, err := CompileRules("", "", "")
	require.NoError(t, err)
	assert.Nil(t, rules.Detail)
	assert.Nil(t, rules.NextPage)
	assert.Nil(t, rules.Image)

	_, err = CompileRules(`~[unclosed`, "", "")
	assert.Error(t, err)

	_, err = CompileRules("", `~(bad`, "")
	assert.Error(t, err)
}
