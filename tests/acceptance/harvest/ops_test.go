package harvest_test

import (
	"net/url"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/xyshyniaphy/SECCAMP/tests/testhelpers"
)

var _ = Describe("Ops HTTP surface", func() {
	var env *HarvestTestEnvironment

	BeforeEach(func() {
		var err error
		env, err = NewHarvestTestEnvironment()
		Expect(err).ToNot(HaveOccurred())

		Expect(env.StartDaemon()).To(Succeed())
	})

	AfterEach(func() {
		env.Stop()
	})

	// The daemon runs its first crawl pass right after start, so most
	// specs wait for the fake site to stop receiving traffic before
	// asserting on stats.
	waitForInitialPass := func() {
		Eventually(env.TotalHits, "30s", "200ms").Should(Equal(9),
			"Initial crawl pass should fetch the whole fake site")
	}

	Describe("Health endpoint", func() {
		It("reports a healthy database and cache root", func() {
			resp := testhelpers.Get(env.OpsURL("/healthz"), env.AuthHeaders())
			data := testhelpers.ExpectSuccess(resp)

			Expect(data["status"]).To(Equal("ok"))
			Expect(data["database"]).To(Equal("ok"))
			Expect(data["cache_root"]).To(Equal("ok"))
		})

		It("rejects requests without the auth key", func() {
			resp := testhelpers.Get(env.OpsURL("/healthz"), nil)
			testhelpers.ExpectStatus(resp, 401)

			resp = testhelpers.Get(env.OpsURL("/healthz"),
				map[string]string{"X-Internal-Auth": "wrong-key"})
			testhelpers.ExpectStatus(resp, 401)
		})
	})

	Describe("Cache statistics", func() {
		It("counts the entries written by the initial pass", func() {
			waitForInitialPass()

			Eventually(func() float64 {
				resp := testhelpers.Get(env.OpsURL("/stats/cache"), env.AuthHeaders())
				if resp.Err != nil || resp.Envelope == nil {
					return -1
				}
				data, _ := resp.Envelope.Data.(map[string]interface{})
				entries, _ := data["total_entries"].(float64)
				return entries
			}, "10s", "200ms").Should(Equal(float64(9)))
		})
	})

	Describe("Rate limit statistics", func() {
		It("reports the configured budget for the site", func() {
			waitForInitialPass()

			resp := testhelpers.Get(env.OpsURL("/stats/ratelimit?site=localsite"), env.AuthHeaders())
			data := testhelpers.ExpectSuccess(resp)

			Expect(data["site"]).To(Equal("localsite"))
			Expect(data["budget"]).To(Equal(float64(1000)))
		})

		It("rejects a missing site parameter and an unknown site", func() {
			resp := testhelpers.Get(env.OpsURL("/stats/ratelimit"), env.AuthHeaders())
			testhelpers.ExpectFailure(resp, 400, "missing site parameter")

			resp = testhelpers.Get(env.OpsURL("/stats/ratelimit?site=nowhere"), env.AuthHeaders())
			testhelpers.ExpectFailure(resp, 404, "no rate limit for site")
		})
	})

	Describe("Session history", func() {
		It("lists the completed crawl session", func() {
			waitForInitialPass()

			Eventually(func() bool {
				resp := testhelpers.Get(env.OpsURL("/sessions"), env.AuthHeaders())
				if resp.Err != nil || resp.Envelope == nil {
					return false
				}
				rows, _ := resp.Envelope.Data.([]interface{})
				if len(rows) == 0 {
					return false
				}
				row, _ := rows[0].(map[string]interface{})
				return row["site"] == "localsite" &&
					row["type"] == "full" &&
					row["status"] == "completed"
			}, "10s", "200ms").Should(BeTrue(), "Session row should flip to completed")
		})
	})

	Describe("Cache invalidation", func() {
		It("invalidates an entry once and reports missing on repeat", func() {
			waitForInitialPass()

			target := env.OpsURL("/cache/invalidate?site=localsite&url=" +
				url.QueryEscape(env.SiteURL+"/house/102/"))

			resp := testhelpers.Post(target, env.AuthHeaders())
			testhelpers.ExpectSuccess(resp)

			resp = testhelpers.Post(target, env.AuthHeaders())
			testhelpers.ExpectFailure(resp, 404, "no cache entry")
		})
	})

	Describe("On-demand cleanup", func() {
		It("runs a cleanup pass and reports its counters", func() {
			waitForInitialPass()

			resp := testhelpers.Post(env.OpsURL("/cleanup/run"), env.AuthHeaders())
			data := testhelpers.ExpectSuccess(resp)

			Expect(data).To(HaveKey("entries_invalidated"))
			Expect(data).To(HaveKey("files_deleted"))
		})
	})
})
