package crawler

// frontier is a FIFO of URLs with a fingerprint seen-set. A fingerprint is
// accepted once in the frontier's lifetime, so pages that link in circles
// cannot loop a crawl. limit bounds how many URLs are ever accepted; zero
// means unbounded.
type frontier struct {
	queue    []string
	seen     map[uint64]struct{}
	limit    int
	accepted int
}

func newFrontier(limit int) *frontier {
	return &frontier{
		seen:  make(map[uint64]struct{}),
		limit: limit,
	}
}

// Push accepts the URL if its fingerprint is new and the limit allows.
func (f *frontier) Push(url string, fp uint64) bool {
	if f.limit > 0 && f.accepted >= f.limit {
		return false
	}
	if _, dup := f.seen[fp]; dup {
		return false
	}
	f.seen[fp] = struct{}{}
	f.accepted++
	f.queue = append(f.queue, url)
	return true
}

// Pop removes and returns the oldest queued URL.
func (f *frontier) Pop() (string, bool) {
	if len(f.queue) == 0 {
		return "", false
	}
	url := f.queue[0]
	f.queue = f.queue[1:]
	return url, true
}

// Drain empties the queue and returns the URLs in arrival order. The
// seen-set stays, so drained URLs cannot be re-accepted.
func (f *frontier) Drain() []string {
	urls := f.queue
	f.queue = nil
	return urls
}

func (f *frontier) Len() int {
	return len(f.queue)
}
