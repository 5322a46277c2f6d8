package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xyshyniaphy/SECCAMP/internal/common/clock"
	"github.com/xyshyniaphy/SECCAMP/internal/common/config"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/cache"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/canonical"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/cleanup"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/ratelimit"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/store"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/urltest"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "harvestctl",
		Short:         "Operations CLI for the harvester",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/harvester.yaml", "path to configuration file")

	root.AddCommand(
		newStatsCmd(),
		newRateLimitCmd(),
		newSessionsCmd(),
		newHealthCmd(),
		newInvalidateCmd(),
		newCleanupCmd(),
		newTestURLCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// env opens the same store and cache the daemon uses. The CLI works
// directly against them, so it keeps working while the daemon is down.
type env struct {
	cfgMgr *config.Manager
	cfg    *config.HarvesterConfig
	store  *store.Store
	clk    clock.Clock
	logger *zap.Logger
}

func openEnv(ctx context.Context) (*env, error) {
	logger := zap.NewNop()

	cfgMgr, err := config.NewManager(configPath, logger)
	if err != nil {
		return nil, err
	}
	cfg := cfgMgr.GetConfig()

	st, err := store.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}

	return &env{
		cfgMgr: cfgMgr,
		cfg:    cfg,
		store:  st,
		clk:    clock.New(),
		logger: logger,
	}, nil
}

func (e *env) Close() {
	e.store.Close()
}

func (e *env) cache() (*cache.Cache, error) {
	blobs, err := cache.NewBlobStore(e.cfg.Cache.Root, e.logger)
	if err != nil {
		return nil, err
	}
	canon := canonical.New(e.cfgMgr, e.logger)
	return cache.New(e.store, blobs, canon, e.clk, e.cfg.Cache, e.logger), nil
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			c, err := e.cache()
			if err != nil {
				return err
			}
			stats, err := c.Stats(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("Cache entries:   %d\n", stats.TotalEntries)
			fmt.Printf("Blob files:      %d (%s)\n", stats.FileCount, humanBytes(stats.FileBytes))
			fmt.Printf("Today's lookups: %d (%d hits, %d misses, %.1f%% hit rate)\n",
				stats.TodayRequests, stats.TodayHits, stats.TodayMisses, stats.HitRate*100)
			return nil
		},
	}
}

func newRateLimitCmd() *cobra.Command {
	var site string
	cmd := &cobra.Command{
		Use:   "ratelimit",
		Short: "Show the rate limit window for a site",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			lim := ratelimit.New(e.store, e.clk, e.logger)
			stats, err := lim.Stats(ctx, site)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("no rate limit configured for site %q", site)
			}
			if err != nil {
				return err
			}

			fmt.Printf("Site:       %s\n", stats.Site)
			fmt.Printf("Budget:     %d requests / %s\n", stats.Budget, stats.Period)
			fmt.Printf("In window:  %d (%d remaining)\n", stats.InWindow, stats.Remaining)
			fmt.Printf("Failed:     %d\n", stats.Failed)
			fmt.Printf("From cache: %d\n", stats.CachedInWindow)
			fmt.Printf("Avg fetch:  %.0f ms\n", stats.AvgResponseMs)
			return nil
		},
	}
	cmd.Flags().StringVar(&site, "site", "", "site name")
	cmd.MarkFlagRequired("site")
	return cmd
}

func newSessionsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recent harvest sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			rows, err := e.store.RecentSessions(ctx, limit)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Println("No sessions recorded")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tSITE\tTYPE\tSTATUS\tFETCHED\tCACHED\tFAILED")
			for _, row := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
					time.UnixMilli(row.StartedAt).UTC().Format(time.RFC3339),
					row.SiteName,
					row.SessionType,
					row.Status,
					row.PagesFetched,
					row.PagesFromCache,
					row.PagesFailed)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of sessions to show")
	return cmd
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check database and cache root health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			failed := false

			if err := e.store.Ping(ctx); err != nil {
				fmt.Printf("database:   FAILED (%v)\n", err)
				failed = true
			} else {
				fmt.Println("database:   ok")
			}

			if err := probeWritable(e.cfg.Cache.Root); err != nil {
				fmt.Printf("cache root: FAILED (%v)\n", err)
				failed = true
			} else {
				fmt.Println("cache root: ok")
			}

			if entries, err := e.store.CountValidEntries(ctx); err == nil {
				fmt.Printf("entries:    %d valid\n", entries)
			}
			if bytes, err := e.store.TotalContentBytes(ctx); err == nil {
				fmt.Printf("content:    %s referenced\n", humanBytes(bytes))
			}

			if failed {
				return errors.New("health check failed")
			}
			return nil
		},
	}
}

func newInvalidateCmd() *cobra.Command {
	var rawURL, site string
	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Invalidate the cache entry for a URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			c, err := e.cache()
			if err != nil {
				return err
			}
			found, err := c.Invalidate(ctx, rawURL, site)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("no cache entry for %s", rawURL)
			}
			fmt.Printf("invalidated %s\n", rawURL)
			return nil
		},
	}
	cmd.Flags().StringVar(&rawURL, "url", "", "URL to invalidate")
	cmd.Flags().StringVar(&site, "site", "", "site name")
	cmd.MarkFlagRequired("url")
	cmd.MarkFlagRequired("site")
	return cmd
}

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Run a cache cleanup pass now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			c, err := e.cache()
			if err != nil {
				return err
			}

			// Metrics go to a private registry; a one-shot CLI has no
			// scrape endpoint.
			cm := cleanup.NewCleanupMetricsWithRegistry(
				e.cfg.Metrics.Namespace, prometheus.NewRegistry(), e.logger)
			worker := cleanup.NewWorker(e.cfg.Cache.Cleanup, c, e.store, e.clk, e.logger, cm)

			result, err := worker.RunOnce(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("Entries invalidated: %d\n", result.EntriesInvalidated)
			fmt.Printf("Files deleted:       %d\n", result.FilesDeleted)
			fmt.Printf("Bytes freed:         %s\n", humanBytes(result.BytesFreed))
			fmt.Printf("Rows compacted:      %d\n", result.RowsCompacted)
			return nil
		},
	}
}

func newTestURLCmd() *cobra.Command {
	var rawURL, site string
	cmd := &cobra.Command{
		Use:   "testurl",
		Short: "Show how a URL would be canonicalized, classified and cached",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Pure config inspection; the store stays untouched.
			logger := zap.NewNop()
			cfgMgr, err := config.NewManager(configPath, logger)
			if err != nil {
				return err
			}

			canon := canonical.New(cfgMgr, logger)
			res, err := urltest.TestURL(cfgMgr, canon, rawURL, site)
			if err != nil {
				return err
			}
			urltest.Print(os.Stdout, res)
			return nil
		},
	}
	cmd.Flags().StringVar(&rawURL, "url", "", "URL or path to test")
	cmd.Flags().StringVar(&site, "site", "", "test against this site only")
	cmd.MarkFlagRequired("url")
	return cmd
}

func probeWritable(root string) error {
	f, err := os.CreateTemp(root, ".health-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
