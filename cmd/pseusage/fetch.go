package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jgoulah/pseusage/internal/refresh"
	"github.com/jgoulah/pseusage/internal/scraper"
	"github.com/jgoulah/pseusage/pkg/models"
)

var (
	fetchVisible bool
	fetchPublish bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download a fresh usage export now",
	Long: `Logs into pse.com, downloads the usage export and replaces the cached snapshot,
regardless of whether the current snapshot has expired.`,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().BoolVar(&fetchVisible, "visible", false, "Show browser window (for debugging)")
	fetchCmd.Flags().BoolVar(&fetchPublish, "publish", false, "Publish the latest complete days after fetching")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	fmt.Printf("=== Fetch started at %s ===\n", time.Now().Format("2006-01-02 15:04:05 MST"))

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if len(cfg.Cookies) == 0 && (cfg.Credentials.Username == "" || cfg.Credentials.Password == "") {
		return fmt.Errorf("no authentication configured. Add credentials to config.yaml, set PSE_USERNAME/PSE_PASSWORD or run 'pseusage login'")
	}

	logger, closer, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	opts := []refresh.Option{
		refresh.WithFetchTimeout(cfg.GetFetchTimeout()),
		refresh.WithLogger(logger),
	}
	if fetchPublish {
		pub, cleanup, err := newPublisher(cfg, logger, nil, true)
		if err != nil {
			return err
		}
		defer cleanup()

		opts = append(opts, refresh.WithOnRefresh(func(ctx context.Context, usage models.EnergyUsage) {
			sent, err := pub.PublishLatest(ctx, usage)
			if err != nil {
				fmt.Printf("⚠ Publishing failed: %v\n", err)
				return
			}
			fmt.Printf("✓ Published %d readings\n", sent)
		}))
	}

	c := restoreCache(cfg, logger)
	fetcher := scraper.NewPSEFetcher(cfg.Credentials, cfg.Cookies, cfg.Visible || fetchVisible, logger)
	r := refresh.New(c, fetcher, scraper.NewExtractor(logger), opts...)

	outcome := r.Refresh(cmd.Context())
	switch outcome {
	case refresh.OutcomeRefreshed:
		usage, _ := c.Read()
		fmt.Printf("✓ Cached %d electricity days and %d natural gas days\n", len(usage.Electricity), len(usage.NaturalGas))
		fmt.Printf("  Expires at %s\n", c.ExpireAt().Format("2006-01-02 15:04:05 MST"))
		return nil
	case refresh.OutcomePersistFailed:
		fmt.Printf("⚠ Data was fetched but could not be written to %s\n", c.Path())
		return fmt.Errorf("refresh %s", outcome)
	default:
		return fmt.Errorf("refresh %s (see log for details)", outcome)
	}
}
