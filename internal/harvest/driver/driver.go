// Package driver fetches pages from origin sites. Listing sites that
// assemble their markup in JavaScript go through a pooled headless Chrome;
// everything else, images in particular, goes through a plain fasthttp
// client. Callers never talk to a concrete driver, only to the interface.
package driver

import (
	"context"
	"errors"
	"time"
)

// Result is what a driver brings back from the origin. The coordinator
// decides what to do with non-2xx statuses; drivers just report them.
type Result struct {
	StatusCode int
	Body       []byte
	FinalURL   string
	Duration   time.Duration
}

// Driver fetches a single URL. Implementations must honor context
// cancellation and report deadline overruns as ErrTimeout.
type Driver interface {
	Fetch(ctx context.Context, url string) (*Result, error)
}

// Fetch errors
var (
	ErrTimeout          = errors.New("fetch timed out")
	ErrTooManyRedirects = errors.New("too many redirects")
	ErrStatusCapture    = errors.New("status capture failed")
	ErrExtractHTML      = errors.New("HTML extraction failed")
)

// Pool errors - returned during Chrome instance management
var (
	ErrPoolShutdown  = errors.New("pool is shutting down")
	ErrInstanceDead  = errors.New("chrome instance is dead")
	ErrRestartFailed = errors.New("chrome restart failed")
)
