package driver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/xyshyniaphy/SECCAMP/internal/common/urlutil"
)

const (
	defaultFetchTimeout = 30 * time.Second
	defaultMaxRedirects = 5
	dialTimeout         = 10 * time.Second
)

// HTTPConfig configures the fasthttp driver.
type HTTPConfig struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRedirects int

	// AllowPrivateHosts disables the private-address guard. Only local
	// test environments should set it.
	AllowPrivateHosts bool
}

// HTTPDriver fetches pages with a shared fasthttp client. Redirects are
// followed manually so the hop count and every intermediate target stay
// under our control.
type HTTPDriver struct {
	cfg    HTTPConfig
	client *fasthttp.Client
	logger *zap.Logger
}

func NewHTTPDriver(cfg HTTPConfig, logger *zap.Logger) *HTTPDriver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultFetchTimeout
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = defaultMaxRedirects
	}

	client := &fasthttp.Client{
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	}

	// Block DNS rebinding to loopback and RFC1918 targets unless the
	// config explicitly allows them.
	if !cfg.AllowPrivateHosts {
		client.Dial = guardedDial
	}

	return &HTTPDriver{
		cfg:    cfg,
		client: client,
		logger: logger,
	}
}

func (d *HTTPDriver) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	start := time.Now()
	deadline := start.Add(d.cfg.Timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	target := rawURL
	for redirects := 0; ; redirects++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req.Reset()
		resp.Reset()
		req.SetRequestURI(target)
		req.Header.SetMethod(fasthttp.MethodGet)
		req.Header.SetUserAgent(d.cfg.UserAgent)

		if err := d.client.DoDeadline(req, resp, deadline); err != nil {
			duration := time.Since(start)
			if errors.Is(err, fasthttp.ErrTimeout) || errors.Is(err, fasthttp.ErrDialTimeout) {
				return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, target, duration.Round(time.Millisecond))
			}
			return nil, fmt.Errorf("fetch %s: %w", target, err)
		}

		status := resp.StatusCode()
		if status < 300 || status >= 400 {
			return &Result{
				StatusCode: status,
				Body:       append([]byte(nil), resp.Body()...),
				FinalURL:   target,
				Duration:   time.Since(start),
			}, nil
		}

		location := string(resp.Header.Peek(fasthttp.HeaderLocation))
		if location == "" {
			// A 3xx without Location is not followable; report it as-is.
			return &Result{
				StatusCode: status,
				Body:       append([]byte(nil), resp.Body()...),
				FinalURL:   target,
				Duration:   time.Since(start),
			}, nil
		}
		if redirects >= d.cfg.MaxRedirects {
			return nil, fmt.Errorf("%w: %s", ErrTooManyRedirects, rawURL)
		}

		next, err := resolveRedirect(target, location)
		if err != nil {
			return nil, fmt.Errorf("redirect from %s: %w", target, err)
		}
		d.logger.Debug("Following redirect",
			zap.String("from", target),
			zap.String("to", next),
			zap.Int("status_code", status))
		target = next
	}
}

func resolveRedirect(base, location string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	locationURL, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(locationURL).String(), nil
}

// guardedDial resolves the hostname, validates all IPs are public, then
// connects. Prevents DNS rebinding where a listing domain resolves to a
// private IP.
func guardedDial(addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", addr, err)
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, fmt.Errorf("DNS resolution failed for %q: %w", host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no IP addresses found for %q", host)
	}

	for _, ip := range ips {
		if err := urlutil.ValidateResolvedIP(ip); err != nil {
			return nil, fmt.Errorf("private address guard for %q: %w", host, err)
		}
	}

	// All IPs validated as public; connect to the first one
	return fasthttp.DialTimeout(net.JoinHostPort(ips[0].String(), port), dialTimeout)
}
