package harvest_test

import (
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/xyshyniaphy/SECCAMP/tests/testhelpers"
)

const opsAuthKey = "acceptance-auth-key"

// HarvestTestEnvironment runs a synthetic listing site and points the
// harvester binaries at it. Every test gets a fresh work directory, so
// database and cache state never leak between specs.
type HarvestTestEnvironment struct {
	SiteURL string

	WorkDir    string
	DBPath     string
	CacheRoot  string
	ConfigPath string
	OpsPort    int

	siteServer *fasthttp.Server
	siteLn     net.Listener

	hitsMu sync.Mutex
	hits   map[string]int

	daemonCmd *exec.Cmd
}

func NewHarvestTestEnvironment() (*HarvestTestEnvironment, error) {
	env := &HarvestTestEnvironment{hits: make(map[string]int)}

	workDir, err := os.MkdirTemp("", "harvest-acceptance-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	env.WorkDir = workDir
	env.DBPath = filepath.Join(workDir, "harvester.db")
	env.CacheRoot = filepath.Join(workDir, "cache")
	env.ConfigPath = filepath.Join(workDir, "harvester.yaml")

	// The fake site keeps its listener, so the port is known before the
	// config is written.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		os.RemoveAll(workDir)
		return nil, fmt.Errorf("failed to listen for fake site: %w", err)
	}
	env.siteLn = ln
	env.SiteURL = "http://" + ln.Addr().String()

	env.siteServer = &fasthttp.Server{
		Handler:      env.siteHandler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	go env.siteServer.Serve(ln)

	opsPort, err := freePort()
	if err != nil {
		env.Stop()
		return nil, err
	}
	env.OpsPort = opsPort

	if err := env.writeConfig(); err != nil {
		env.Stop()
		return nil, err
	}
	return env, nil
}

// siteHandler serves a two-page listing walk: page one links two houses
// and the next page, page two links a third house plus a repeat of the
// first. Every house page carries one or two photos.
func (env *HarvestTestEnvironment) siteHandler(ctx *fasthttp.RequestCtx) {
	key := string(ctx.Path())
	if args := ctx.QueryArgs().String(); args != "" {
		key += "?" + args
	}

	env.hitsMu.Lock()
	env.hits[key]++
	env.hitsMu.Unlock()

	switch key {
	case "/list":
		serveHTML(ctx, `<html><body>
<a href="/house/101/">House 101</a>
<a href="/house/102/">House 102</a>
<a href="/list?page=2">Next page</a>
</body></html>`)
	case "/list?page=2":
		serveHTML(ctx, `<html><body>
<a href="/house/103/">House 103</a>
<a href="/house/101/">House 101 again</a>
</body></html>`)
	case "/house/101/":
		serveHTML(ctx, `<html><body><h1>House 101</h1>
<img src="/photos/101-1.jpg"><img src="/photos/101-2.jpg">
</body></html>`)
	case "/house/102/":
		serveHTML(ctx, `<html><body><h1>House 102</h1>
<img src="/photos/102-1.jpg">
</body></html>`)
	case "/house/103/":
		serveHTML(ctx, `<html><body><h1>House 103</h1>
<img src="/photos/103-1.jpg">
</body></html>`)
	default:
		if filepath.Ext(key) == ".jpg" {
			ctx.SetContentType("image/jpeg")
			ctx.SetBodyString("\xff\xd8\xffJPEG-BYTES")
			return
		}
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

func serveHTML(ctx *fasthttp.RequestCtx, body string) {
	ctx.SetContentType("text/html; charset=utf-8")
	ctx.SetBodyString(body)
}

// Hits reports how many times the fake site served a path. Cache-hit
// specs assert that repeat passes leave these counters alone.
func (env *HarvestTestEnvironment) Hits(key string) int {
	env.hitsMu.Lock()
	defer env.hitsMu.Unlock()
	return env.hits[key]
}

func (env *HarvestTestEnvironment) TotalHits() int {
	env.hitsMu.Lock()
	defer env.hitsMu.Unlock()
	total := 0
	for _, n := range env.hits {
		total += n
	}
	return total
}

func (env *HarvestTestEnvironment) writeConfig() error {
	config := fmt.Sprintf(`storage:
  db_path: %s

cache:
  root: %s
  compression: snappy
  ttl:
    list: 12h
    detail: 24h
    image: 24h

harvest:
  workers: 2
  interval: 6h
  user_agent: "harvest-acceptance"
  fetch_timeout: 10s
  allow_private_hosts: true

chrome:
  enabled: false

sites:
  - name: localsite
    entry_urls:
      - %s/list
    fetch_mode: http
    keep_params: [page]
    detail_pattern: '~/house/\d+/'
    next_page_pattern: '~[?&]page=\d+'
    image_pattern: '*.jpg'
    max_pages: 5
    max_details: 50
    max_images_per_page: 10
    rate_limit:
      requests: 1000
      period: 1m
      concurrent: 4

ops:
  enabled: true
  listen: "127.0.0.1:%d"
  auth_key: "%s"

log:
  level: info
  console:
    enabled: true
    format: console
  file:
    enabled: false

metrics:
  enabled: false
`, env.DBPath, env.CacheRoot, env.SiteURL, env.OpsPort, opsAuthKey)

	return os.WriteFile(env.ConfigPath, []byte(config), 0o644)
}

// RunHarvestPass runs harvestd -once and waits for it to exit.
func (env *HarvestTestEnvironment) RunHarvestPass() error {
	cmd := exec.Command("../../../bin/harvestd", "-c", env.ConfigPath, "-once")
	wireOutput(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start harvest pass: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("harvest pass failed: %w", err)
		}
		return nil
	case <-time.After(60 * time.Second):
		cmd.Process.Kill()
		<-done
		return fmt.Errorf("harvest pass did not finish within 60s")
	}
}

// StartDaemon launches harvestd in daemon mode and waits for the ops
// endpoint to come up.
func (env *HarvestTestEnvironment) StartDaemon() error {
	cmd := exec.Command("../../../bin/harvestd", "-c", env.ConfigPath)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	wireOutput(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	env.daemonCmd = cmd

	addr := fmt.Sprintf("127.0.0.1:%d", env.OpsPort)
	if err := testhelpers.WaitForTCP(addr, 10*time.Second); err != nil {
		env.StopDaemon()
		return fmt.Errorf("ops endpoint never came up: %w", err)
	}
	return nil
}

// StopDaemon sends SIGTERM and escalates to SIGKILL when the process
// lingers past the grace period.
func (env *HarvestTestEnvironment) StopDaemon() {
	if env.daemonCmd == nil || env.daemonCmd.Process == nil {
		return
	}

	pgid, err := syscall.Getpgid(env.daemonCmd.Process.Pid)
	if err == nil {
		syscall.Kill(-pgid, syscall.SIGTERM)
	} else {
		env.daemonCmd.Process.Signal(os.Interrupt)
	}

	done := make(chan error, 1)
	go func() { done <- env.daemonCmd.Wait() }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		if pgid, err := syscall.Getpgid(env.daemonCmd.Process.Pid); err == nil {
			syscall.Kill(-pgid, syscall.SIGKILL)
		} else {
			env.daemonCmd.Process.Kill()
		}
		<-done
	}
	env.daemonCmd = nil
}

// RunCtl runs a harvestctl command against the environment's config and
// returns combined output.
func (env *HarvestTestEnvironment) RunCtl(args ...string) (string, error) {
	full := append([]string{"-c", env.ConfigPath}, args...)
	cmd := exec.Command("../../../bin/harvestctl", full...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

func (env *HarvestTestEnvironment) OpsURL(path string) string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", env.OpsPort, path)
}

func (env *HarvestTestEnvironment) AuthHeaders() map[string]string {
	return map[string]string{"X-Internal-Auth": opsAuthKey}
}

// BlobFileCount counts the stored blob files under the cache root.
func (env *HarvestTestEnvironment) BlobFileCount() int {
	count := 0
	filepath.WalkDir(env.CacheRoot, func(path string, d fs.DirEntry, err error) error {
		if err == nil && d.Type().IsRegular() {
			count++
		}
		return nil
	})
	return count
}

// Stop tears the environment down: daemon, fake site, work directory.
func (env *HarvestTestEnvironment) Stop() {
	env.StopDaemon()

	if env.siteServer != nil {
		env.siteServer.Shutdown()
	}

	if env.WorkDir != "" {
		os.RemoveAll(env.WorkDir)
	}
}

func freePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("failed to find available port: %w", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port, nil
}

func wireOutput(cmd *exec.Cmd) {
	if os.Getenv("DEBUG") != "" || os.Getenv("VERBOSE") != "" {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	} else {
		cmd.Stdout = io.Discard
		cmd.Stderr = io.Discard
	}
}
