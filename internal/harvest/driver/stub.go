package driver

import (
	"context"
	"fmt"
	"sync"
)

// Stub is a scripted driver for tests. Responses and errors are keyed by
// URL; every fetch is recorded so tests can assert what went to the origin.
type Stub struct {
	mu        sync.Mutex
	responses map[string]*Result
	errors    map[string]error
	calls     []string

	// Default is returned for URLs with no scripted response. When nil,
	// unscripted fetches fail loudly.
	Default *Result
}

func NewStub() *Stub {
	return &Stub{
		responses: make(map[string]*Result),
		errors:    make(map[string]error),
	}
}

// On scripts a response for a URL.
func (s *Stub) On(url string, result *Result) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[url] = result
	return s
}

// OnHTML scripts a plain 200 HTML response for a URL.
func (s *Stub) OnHTML(url, html string) *Stub {
	return s.On(url, &Result{StatusCode: 200, Body: []byte(html), FinalURL: url})
}

// Fail scripts an error for a URL.
func (s *Stub) Fail(url string, err error) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors[url] = err
	return s
}

func (s *Stub) Fetch(ctx context.Context, url string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, url)

	if err, ok := s.errors[url]; ok {
		return nil, err
	}
	if result, ok := s.responses[url]; ok {
		return result, nil
	}
	if s.Default != nil {
		return s.Default, nil
	}
	return nil, fmt.Errorf("no scripted response for %s", url)
}

// Calls returns every fetched URL in order.
func (s *Stub) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// CallCount returns how many times a URL was fetched.
func (s *Stub) CallCount(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == url {
			n++
		}
	}
	return n
}
