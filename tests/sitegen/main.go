// sitegen serves a synthetic real-estate listing site for harvester
// development. Point a site config at it and watch what the crawler
// actually does: request rates, gaps between requests and which page
// types it asks for.
//
// The site is deterministic for a given -seed, so repeat runs produce
// identical listing IDs, photo counts and markup.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"
)

type Config struct {
	Addr      string
	Listings  int
	PageSize  int
	Seed      int64
	Latency   time.Duration
	Jitter    time.Duration
	ErrorRate float64
	Churn     time.Duration
}

func main() {
	addr := flag.String("addr", "127.0.0.1:8900", "Listen address")
	listings := flag.Int("listings", 500, "Number of house listings in the inventory")
	pageSize := flag.Int("page-size", 20, "Listings per list page")
	seed := flag.Int64("seed", 1, "Inventory seed (same seed, same site)")
	latency := flag.Duration("latency", 0, "Base response delay (e.g. 200ms)")
	jitter := flag.Duration("jitter", 0, "Extra random delay on top of -latency")
	errorRate := flag.Float64("error-rate", 0, "Fraction of requests answered with 503 + Retry-After (0..1)")
	churn := flag.Duration("churn", 0, "Interval at which one listing changes content (0 disables)")

	flag.Parse()

	config, err := validateParameters(*addr, *listings, *pageSize, *seed, *latency, *jitter, *errorRate, *churn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}

	site := NewSite(config)
	stats := NewGlobalStats()

	fmt.Printf("Synthetic Listing Site - Configuration\n")
	fmt.Printf("Address:   http://%s\n", config.Addr)
	fmt.Printf("Inventory: %d listings, %d per page (%d list pages)\n",
		config.Listings, config.PageSize, site.PageCount())
	fmt.Printf("Entry URL: http://%s/list\n", config.Addr)
	if config.Latency > 0 || config.Jitter > 0 {
		fmt.Printf("Latency:   %s base + up to %s jitter\n", config.Latency, config.Jitter)
	}
	if config.ErrorRate > 0 {
		fmt.Printf("Errors:    %.1f%% of requests get 503 with Retry-After\n", config.ErrorRate*100)
	}
	if config.Churn > 0 {
		fmt.Printf("Churn:     one listing changes every %s\n", config.Churn)
	}
	fmt.Printf("\n")

	ln, err := net.Listen("tcp", config.Addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: listen on %s: %v\n", config.Addr, err)
		os.Exit(1)
	}

	server := &fasthttp.Server{
		Handler:          site.Handler(stats),
		ReadTimeout:      30 * time.Second,
		WriteTimeout:     30 * time.Second,
		DisableKeepalive: false,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(ln)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if config.Churn > 0 {
		go site.churnLoop(ctx, config.Churn, stats)
	}
	go realTimeReporter(ctx, stats)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		fmt.Print("\033[2J\033[H")
		fmt.Println("Shutdown signal received...")
	case err := <-serveErr:
		fmt.Fprintf(os.Stderr, "Error: server stopped: %v\n", err)
	}

	cancel()
	server.Shutdown()

	duration := time.Since(stats.startTime)
	printFinalReport(stats, duration)
}

func validateParameters(addr string, listings, pageSize int, seed int64, latency, jitter time.Duration, errorRate float64, churn time.Duration) (*Config, error) {
	if addr == "" {
		return nil, fmt.Errorf("missing required parameter: -addr")
	}

	if listings <= 0 {
		return nil, fmt.Errorf("listings must be greater than 0")
	}

	if pageSize <= 0 {
		return nil, fmt.Errorf("page-size must be greater than 0")
	}

	if latency < 0 || jitter < 0 {
		return nil, fmt.Errorf("latency and jitter must not be negative")
	}

	if errorRate < 0 || errorRate >= 1 {
		return nil, fmt.Errorf("error-rate must be in [0, 1)")
	}

	if churn < 0 {
		return nil, fmt.Errorf("churn must not be negative")
	}

	return &Config{
		Addr:      addr,
		Listings:  listings,
		PageSize:  pageSize,
		Seed:      seed,
		Latency:   latency,
		Jitter:    jitter,
		ErrorRate: errorRate,
		Churn:     churn,
	}, nil
}
