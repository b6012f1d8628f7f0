package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jgoulah/pseusage/internal/api"
	"github.com/jgoulah/pseusage/internal/metrics"
	"github.com/jgoulah/pseusage/internal/refresh"
	"github.com/jgoulah/pseusage/internal/scraper"
	"github.com/jgoulah/pseusage/pkg/models"
)

var serveForceRefresh bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the refresh loop and the read API",
	Long: `Restores the cached snapshot, refreshes it from pse.com whenever it expires and
answers read queries on the configured address until interrupted.

Routes: /, /electricity/latest, /natural_gas/latest, /metrics`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveForceRefresh, "force-refresh", false, "Refresh on start even if the cached snapshot is fresh")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, closer, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	c := restoreCache(cfg, logger)
	if _, ok := c.Read(); ok {
		m.SetCacheExpiry(c.ExpireAt())
	}

	opts := []refresh.Option{
		refresh.WithPeriod(cfg.GetRefreshPeriod()),
		refresh.WithFetchTimeout(cfg.GetFetchTimeout()),
		refresh.WithForceFirstRefresh(serveForceRefresh),
		refresh.WithLogger(logger),
		refresh.WithMetrics(m),
	}

	if cfg.HomeAssistant.Enabled || cfg.MQTT.Enabled {
		pub, cleanup, err := newPublisher(cfg, logger, m, true)
		if err != nil {
			return err
		}
		defer cleanup()

		opts = append(opts, refresh.WithOnRefresh(func(ctx context.Context, usage models.EnergyUsage) {
			if _, err := pub.PublishLatest(ctx, usage); err != nil {
				logger.WithError(err).Warn("Publishing after refresh failed")
			}
		}))
	}

	fetcher := scraper.NewPSEFetcher(cfg.Credentials, cfg.Cookies, cfg.Visible, logger)
	r := refresh.New(c, fetcher, scraper.NewExtractor(logger), opts...)
	srv := api.NewServer(c, m, logger)

	logger.Info("Running")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.Run(gctx)
	})
	g.Go(func() error {
		return srv.ListenAndServe(gctx, cfg.GetListenAddress())
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("Service execution failure")
		return err
	}
	logger.Info("Terminated")
	return nil
}
