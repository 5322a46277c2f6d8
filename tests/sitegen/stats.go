package main

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

type pageKind int

const (
	pageList pageKind = iota
	pageDetail
	pageImage
	pageInjected
	pageOther
)

// GlobalStats tracks what the crawler on the other end is doing. The
// gap histogram is the politeness signal: with a rate limit of N
// requests per period the p50 gap should sit near period/N.
type GlobalStats struct {
	TotalRequests int64
	ListPages     int64
	DetailPages   int64
	ImageHits     int64
	NotModified   int64
	NotFound      int64
	Injected503   int64
	OtherPages    int64

	TotalBytes  int64
	ChurnEvents int64

	inFlight         int64
	lastArrivalNanos int64

	RequestGaps *hdrhistogram.Histogram
	histogramMu sync.Mutex

	AgentStats map[string]int64
	agentMu    sync.Mutex

	startTime    time.Time
	lastRPSCheck time.Time
	lastRPSCount int64
	currentRPS   float64
	rpsMu        sync.Mutex
}

func NewGlobalStats() *GlobalStats {
	return &GlobalStats{
		RequestGaps:  hdrhistogram.New(1, 300000, 3),
		AgentStats:   make(map[string]int64),
		startTime:    time.Now(),
		lastRPSCheck: time.Now(),
	}
}

// RecordArrival marks a request hitting the server and measures the gap
// since the previous one.
func (s *GlobalStats) RecordArrival() {
	atomic.AddInt64(&s.inFlight, 1)

	now := time.Now().UnixNano()
	prev := atomic.SwapInt64(&s.lastArrivalNanos, now)
	if prev == 0 {
		return
	}

	gapMs := (now - prev) / int64(time.Millisecond)
	if gapMs < 1 {
		gapMs = 1
	}
	if gapMs > 300000 {
		gapMs = 300000
	}

	s.histogramMu.Lock()
	s.RequestGaps.RecordValue(gapMs)
	s.histogramMu.Unlock()
}

func (s *GlobalStats) RequestDone() {
	atomic.AddInt64(&s.inFlight, -1)
}

func (s *GlobalStats) RecordRequest(kind pageKind, status, bytes int, userAgent string) {
	atomic.AddInt64(&s.TotalRequests, 1)
	atomic.AddInt64(&s.TotalBytes, int64(bytes))

	switch {
	case status == 304:
		atomic.AddInt64(&s.NotModified, 1)
	case status == 404:
		atomic.AddInt64(&s.NotFound, 1)
	case kind == pageList:
		atomic.AddInt64(&s.ListPages, 1)
	case kind == pageDetail:
		atomic.AddInt64(&s.DetailPages, 1)
	case kind == pageImage:
		atomic.AddInt64(&s.ImageHits, 1)
	case kind == pageInjected:
		atomic.AddInt64(&s.Injected503, 1)
	default:
		atomic.AddInt64(&s.OtherPages, 1)
	}

	if userAgent == "" {
		userAgent = "(no user agent)"
	}
	s.agentMu.Lock()
	s.AgentStats[userAgent]++
	s.agentMu.Unlock()
}

func (s *GlobalStats) RecordChurn() {
	atomic.AddInt64(&s.ChurnEvents, 1)
}

func (s *GlobalStats) GetInFlight() int64 {
	return atomic.LoadInt64(&s.inFlight)
}

// UpdateRPS recomputes the rolling requests-per-second figure from the
// delta since the last reporter tick.
func (s *GlobalStats) UpdateRPS() {
	s.rpsMu.Lock()
	defer s.rpsMu.Unlock()

	now := time.Now()
	count := atomic.LoadInt64(&s.TotalRequests)

	elapsed := now.Sub(s.lastRPSCheck).Seconds()
	if elapsed >= 1.0 {
		s.currentRPS = float64(count-s.lastRPSCount) / elapsed
		s.lastRPSCheck = now
		s.lastRPSCount = count
	}
}

func (s *GlobalStats) GetCurrentRPS() float64 {
	s.rpsMu.Lock()
	defer s.rpsMu.Unlock()
	return s.currentRPS
}

type agentCount struct {
	agent string
	count int64
}

// TopAgents returns the busiest user agents, busiest first.
func (s *GlobalStats) TopAgents(limit int) []agentCount {
	s.agentMu.Lock()
	agents := make([]agentCount, 0, len(s.AgentStats))
	for agent, count := range s.AgentStats {
		agents = append(agents, agentCount{agent: agent, count: count})
	}
	s.agentMu.Unlock()

	sort.Slice(agents, func(i, j int) bool {
		return agents[i].count > agents[j].count
	})
	if len(agents) > limit {
		agents = agents[:limit]
	}
	return agents
}
