package harvest_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Harvest crawl passes", func() {
	var env *HarvestTestEnvironment

	BeforeEach(func() {
		var err error
		env, err = NewHarvestTestEnvironment()
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		env.Stop()
	})

	Describe("First pass over an empty cache", func() {
		It("fetches every list page, detail page and photo exactly once", func() {
			Expect(env.RunHarvestPass()).To(Succeed())

			Expect(env.Hits("/list")).To(Equal(1))
			Expect(env.Hits("/list?page=2")).To(Equal(1))
			Expect(env.Hits("/house/101/")).To(Equal(1), "Repeat link on page two should be deduplicated")
			Expect(env.Hits("/house/102/")).To(Equal(1))
			Expect(env.Hits("/house/103/")).To(Equal(1))
			Expect(env.Hits("/photos/101-1.jpg")).To(Equal(1))
			Expect(env.Hits("/photos/101-2.jpg")).To(Equal(1))
			Expect(env.Hits("/photos/102-1.jpg")).To(Equal(1))
			Expect(env.Hits("/photos/103-1.jpg")).To(Equal(1))
			Expect(env.TotalHits()).To(Equal(9))

			Expect(env.BlobFileCount()).To(Equal(9), "Every fetched page should have a blob on disk")
		})
	})

	Describe("Second pass within the cache TTL", func() {
		It("serves everything from cache without touching the site", func() {
			Expect(env.RunHarvestPass()).To(Succeed())
			Expect(env.RunHarvestPass()).To(Succeed())

			Expect(env.TotalHits()).To(Equal(9), "Second pass should not hit the site at all")
			Expect(env.BlobFileCount()).To(Equal(9), "Cached pass should not write new blobs")
		})
	})

	Describe("Invalidation followed by a new pass", func() {
		It("refetches only the invalidated page", func() {
			Expect(env.RunHarvestPass()).To(Succeed())

			out, err := env.RunCtl("invalidate", "--url", env.SiteURL+"/house/101/", "--site", "localsite")
			Expect(err).ToNot(HaveOccurred(), out)
			Expect(out).To(ContainSubstring("invalidated"))

			Expect(env.RunHarvestPass()).To(Succeed())

			Expect(env.Hits("/house/101/")).To(Equal(2), "Invalidated page should be refetched")
			Expect(env.Hits("/house/102/")).To(Equal(1), "Other pages stay cached")
			Expect(env.Hits("/house/103/")).To(Equal(1))
			Expect(env.Hits("/photos/101-1.jpg")).To(Equal(1), "Photos of the refetched page stay cached")
			Expect(env.TotalHits()).To(Equal(10))
		})
	})
})
