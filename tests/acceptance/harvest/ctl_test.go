package harvest_test

import (
	"os/exec"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// harvestctl works directly against the store, so every spec here runs
// with the daemon down: one -once pass seeds the state, then the CLI
// reads it.
var _ = Describe("harvestctl", func() {
	var env *HarvestTestEnvironment

	BeforeEach(func() {
		var err error
		env, err = NewHarvestTestEnvironment()
		Expect(err).ToNot(HaveOccurred())

		Expect(env.RunHarvestPass()).To(Succeed())
	})

	AfterEach(func() {
		env.Stop()
	})

	It("prints cache statistics", func() {
		out, err := env.RunCtl("stats")
		Expect(err).ToNot(HaveOccurred(), out)

		Expect(out).To(ContainSubstring("Cache entries:   9"))
		Expect(out).To(ContainSubstring("Blob files:      9"))
	})

	It("prints the session history", func() {
		out, err := env.RunCtl("sessions")
		Expect(err).ToNot(HaveOccurred(), out)

		Expect(out).To(ContainSubstring("SITE"))
		Expect(out).To(ContainSubstring("localsite"))
		Expect(out).To(ContainSubstring("completed"))
	})

	It("reports a healthy store and cache root", func() {
		out, err := env.RunCtl("health")
		Expect(err).ToNot(HaveOccurred(), out)

		Expect(out).To(ContainSubstring("database:   ok"))
		Expect(out).To(ContainSubstring("cache root: ok"))
	})

	It("prints the rate limit window for a site", func() {
		out, err := env.RunCtl("ratelimit", "--site", "localsite")
		Expect(err).ToNot(HaveOccurred(), out)

		Expect(out).To(ContainSubstring("localsite"))
		Expect(out).To(ContainSubstring("1000 requests"))
	})

	It("fails for a site without a rate limit", func() {
		out, err := env.RunCtl("ratelimit", "--site", "nowhere")
		Expect(err).To(HaveOccurred())
		Expect(out).To(ContainSubstring("no rate limit configured"))
	})

	It("invalidates an entry and reports missing on repeat", func() {
		out, err := env.RunCtl("invalidate", "--url", env.SiteURL+"/house/103/", "--site", "localsite")
		Expect(err).ToNot(HaveOccurred(), out)
		Expect(out).To(ContainSubstring("invalidated"))

		out, err = env.RunCtl("invalidate", "--url", env.SiteURL+"/house/103/", "--site", "localsite")
		Expect(err).To(HaveOccurred())
		Expect(out).To(ContainSubstring("no cache entry"))
	})

	It("runs a cleanup pass", func() {
		out, err := env.RunCtl("cleanup")
		Expect(err).ToNot(HaveOccurred(), out)

		Expect(out).To(ContainSubstring("Entries invalidated:"))
		Expect(out).To(ContainSubstring("Files deleted:"))
	})

	It("dry-runs a URL through the site config", func() {
		out, err := env.RunCtl("testurl", "--url", env.SiteURL+"/house/101/")
		Expect(err).ToNot(HaveOccurred(), out)

		Expect(out).To(ContainSubstring("=== Site: localsite ==="))
		Expect(out).To(ContainSubstring("Classified as:  detail page (detail_pattern)"))
		Expect(out).To(ContainSubstring("Rate limit:     1000 requests"))
	})

	It("classifies pagination URLs as list pages", func() {
		out, err := env.RunCtl("testurl", "--url", "/?page=2", "--site", "localsite")
		Expect(err).ToNot(HaveOccurred(), out)

		Expect(out).To(ContainSubstring("Classified as:  list page (next_page_pattern)"))
	})

	It("rejects a URL for an unconfigured host", func() {
		out, err := env.RunCtl("testurl", "--url", "https://elsewhere.example.com/house/1/")
		Expect(err).To(HaveOccurred())
		Expect(out).To(ContainSubstring("Configured hosts:"))
	})

	It("exits non-zero when the config file does not exist", func() {
		cmd := exec.Command("../../../bin/harvestctl", "-c", "/nonexistent/harvester.yaml", "stats")
		out, err := cmd.CombinedOutput()
		Expect(err).To(HaveOccurred(), string(out))
	})
})
