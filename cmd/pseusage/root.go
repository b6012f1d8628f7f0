package main

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jgoulah/pseusage/internal/cache"
	"github.com/jgoulah/pseusage/internal/config"
	"github.com/jgoulah/pseusage/internal/database"
	"github.com/jgoulah/pseusage/internal/logging"
	"github.com/jgoulah/pseusage/internal/metrics"
	"github.com/jgoulah/pseusage/internal/publisher"
	"github.com/jgoulah/pseusage/pkg/models"
)

var (
	cfgFile string
	dbPath  string
)

var rootCmd = &cobra.Command{
	Use:   "pseusage",
	Short: "Collect daily electricity and natural gas usage from PSE",
	Long: `pseusage downloads the usage export from pse.com, consolidates it into one
reading per day for electricity and natural gas, caches the latest snapshot on disk
and serves it over a small JSON API.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "publish ledger database (default is <data_dir>/published.db)")
}

// getConfigPath returns the config file path
func getConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

// getDBPath returns the publish ledger path
func getDBPath(cfg *config.Config) string {
	if dbPath != "" {
		return dbPath
	}
	return filepath.Join(cfg.GetDataDir(), database.FileName)
}

// loadConfig loads the configuration file
func loadConfig() (*config.Config, error) {
	return config.Load(getConfigPath())
}

// saveConfig saves the configuration file
func saveConfig(cfg *config.Config) error {
	return config.Save(getConfigPath(), cfg)
}

// openDB opens the publish ledger
func openDB(cfg *config.Config) (*database.DB, error) {
	return database.New(getDBPath(cfg))
}

// newLogger builds the configured logger
func newLogger(cfg *config.Config) (*logrus.Logger, io.Closer, error) {
	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("setting up logging: %w", err)
	}
	return logger, closer, nil
}

// restoreCache opens the persisted snapshot
func restoreCache(cfg *config.Config, logger logrus.FieldLogger) *cache.Cache {
	c := cache.New(cfg.GetDataDir(), cfg.GetCacheDuration(), cache.WithLogger(logger))
	c.Restore()
	return c
}

// newPublisher connects the configured publish targets. The returned cleanup closes the
// ledger and the MQTT connection.
func newPublisher(cfg *config.Config, logger logrus.FieldLogger, m *metrics.Metrics, useLedger bool) (*publisher.Publisher, func(), error) {
	opts := []publisher.Option{publisher.WithLogger(logger), publisher.WithMetrics(m)}

	var db *database.DB
	if useLedger {
		var err error
		db, err = openDB(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("opening database: %w", err)
		}
		opts = append(opts, publisher.WithLedger(db))
	}

	pub, err := publisher.New(cfg.MQTT, cfg.HomeAssistant, cfg.GetTopicPrefix(), opts...)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, nil, fmt.Errorf("creating publisher: %w", err)
	}

	return pub, func() {
		pub.Close()
		if db != nil {
			db.Close()
		}
	}, nil
}

// parseCommodities resolves a --commodity flag; empty means both
func parseCommodities(s string) ([]models.Commodity, error) {
	switch models.Commodity(s) {
	case "":
		return []models.Commodity{models.Electricity, models.NaturalGas}, nil
	case models.Electricity, models.NaturalGas:
		return []models.Commodity{models.Commodity(s)}, nil
	default:
		return nil, fmt.Errorf("unknown commodity: %s (available: %s, %s)", s, models.Electricity, models.NaturalGas)
	}
}

// printRecords prints one commodity's records as a table
func printRecords(commodity models.Commodity, records []models.UsageRecord) {
	if len(records) == 0 {
		fmt.Printf("No data found for %s\n", commodity)
		return
	}

	fmt.Printf("\n%s usage:\n", commodity)
	fmt.Println("----------------------------------------------")
	fmt.Printf("%-12s  %10s  %-5s  %8s\n", "Date", "Usage", "Unit", "Minutes")
	fmt.Println("----------------------------------------------")

	var total float64
	for _, r := range records {
		marker := ""
		if !r.IsCompleteDay() {
			marker = " (partial)"
		}
		fmt.Printf("%-12s  %10.2f  %-5s  %8d%s\n", r.Date, r.Value, r.Unit, r.MinutesIncluded, marker)
		total += r.Value
	}

	fmt.Println("----------------------------------------------")
	fmt.Printf("Total: %.2f %s (%d days)\n", models.Round2(total), records[0].Unit, len(records))
}
