// Package opsserver exposes the operations API of a running harvester:
// health, cache and rate-limit statistics, recent sessions, cache
// invalidation and a manual cleanup run. It binds to its own listener and
// stays off unless the configuration names one.
package opsserver

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/xyshyniaphy/SECCAMP/internal/common/configtypes"
	"github.com/xyshyniaphy/SECCAMP/internal/common/httputil"
	"github.com/xyshyniaphy/SECCAMP/internal/common/requestid"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/cache"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/cleanup"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/ratelimit"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/session"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/store"
)

// Ops endpoint paths.
const (
	PathHealthz         = "/healthz"
	PathCacheStats      = "/stats/cache"
	PathRateLimitStats  = "/stats/ratelimit"
	PathSessions        = "/sessions"
	PathCacheInvalidate = "/cache/invalidate"
	PathCleanupRun      = "/cleanup/run"
)

const authHeader = "X-Internal-Auth"

// Deps are the harvester components the ops API reads from and pokes at.
type Deps struct {
	Store     *store.Store
	Cache     *cache.Cache
	Limiter   *ratelimit.Limiter
	Sessions  *session.Recorder
	Cleaner   *cleanup.Worker
	CacheRoot string
}

// Server is the operations HTTP server.
type Server struct {
	cfg  configtypes.OpsConfig
	deps Deps

	routes    map[string]map[string]fasthttp.RequestHandler // method -> path -> handler
	server    *fasthttp.Server
	listener  net.Listener
	logger    *zap.Logger
	startTime time.Time
}

// New creates the ops server with all endpoints registered.
func New(cfg configtypes.OpsConfig, deps Deps, logger *zap.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		deps:      deps,
		routes:    make(map[string]map[string]fasthttp.RequestHandler),
		logger:    logger,
		startTime: time.Now().UTC(),
	}

	s.register(fasthttp.MethodGet, PathHealthz, s.handleHealthz)
	s.register(fasthttp.MethodGet, PathCacheStats, s.handleCacheStats)
	s.register(fasthttp.MethodGet, PathRateLimitStats, s.handleRateLimitStats)
	s.register(fasthttp.MethodGet, PathSessions, s.handleSessions)
	s.register(fasthttp.MethodPost, PathCacheInvalidate, s.handleCacheInvalidate)
	s.register(fasthttp.MethodPost, PathCleanupRun, s.handleCleanupRun)

	return s
}

func (s *Server) register(method, path string, handler fasthttp.RequestHandler) {
	if s.routes[method] == nil {
		s.routes[method] = make(map[string]fasthttp.RequestHandler)
	}
	s.routes[method][path] = handler
}

// Start begins serving on the configured address and blocks until the
// server shuts down.
func (s *Server) Start() error {
	s.server = &fasthttp.Server{
		Handler: s.Handler(),
		Name:    "SECCAMP-Ops",
	}

	listener, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}
	s.listener = listener

	s.logger.Info("Ops server started",
		zap.String("address", listener.Addr().String()),
		zap.Bool("authenticated", s.cfg.AuthKey != ""))

	return s.server.Serve(listener)
}

// Shutdown stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("Shutting down ops server")
	return s.server.ShutdownWithContext(ctx)
}

// Addr returns the bound address, useful when listening on port 0.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Listen
}

// Handler returns the routing handler. Every response carries an
// X-Request-ID so a response can be matched to its log lines.
func (s *Server) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id := requestid.New(string(ctx.Request.Header.Peek("X-Request-ID")))
		httputil.SetRequestID(ctx, id)

		if !s.authenticate(ctx) {
			return
		}

		method := string(ctx.Method())
		path := string(ctx.Path())

		if handler, ok := s.routes[method][path]; ok {
			handler(ctx)
			return
		}

		// Path registered under another method gets 405, not 404.
		for _, methodRoutes := range s.routes {
			if _, ok := methodRoutes[path]; ok {
				httputil.JSONError(ctx, "method not allowed", fasthttp.StatusMethodNotAllowed)
				return
			}
		}

		httputil.JSONError(ctx, "not found", fasthttp.StatusNotFound)
	}
}

// authenticate checks X-Internal-Auth. A server configured without an auth
// key is open, which only makes sense on a loopback listener.
func (s *Server) authenticate(ctx *fasthttp.RequestCtx) bool {
	if s.cfg.AuthKey == "" {
		return true
	}

	header := string(ctx.Request.Header.Peek(authHeader))
	if header != s.cfg.AuthKey {
		s.logger.Warn("Rejected ops request",
			zap.String("remote_addr", ctx.RemoteAddr().String()),
			zap.String("path", string(ctx.Path())),
			zap.Bool("header_present", header != ""))
		httputil.JSONError(ctx, "unauthorized", fasthttp.StatusUnauthorized)
		return false
	}

	return true
}
