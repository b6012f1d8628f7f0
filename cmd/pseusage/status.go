package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jgoulah/pseusage/internal/config"
	"github.com/jgoulah/pseusage/internal/logging"
	"github.com/jgoulah/pseusage/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the cached snapshot",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	c := restoreCache(cfg, logging.Discard())
	fmt.Printf("Cache file: %s\n", c.Path())

	usage, ok := c.Read()
	if !ok {
		fmt.Println("Status:     NOT_AVAILABLE")
		return nil
	}

	fmt.Printf("Updated:    %s (%s)\n", usage.UpdateTimestamp.Local().Format("2006-01-02 15:04 MST"), humanize.Time(usage.UpdateTimestamp))
	if remaining, ok := c.RemainingUntilExpiration(); ok {
		fmt.Printf("Expires:    %s (in %s)\n", c.ExpireAt().Local().Format("2006-01-02 15:04 MST"), remaining.Round(time.Minute))
	} else {
		fmt.Printf("Expires:    expired %s, will refresh on next check\n", humanize.Time(c.ExpireAt()))
	}

	for _, commodity := range []models.Commodity{models.Electricity, models.NaturalGas} {
		records := usage.Records(commodity)
		latest, ok := models.LatestCompleteDay(records)
		if !ok {
			fmt.Printf("%-12s NO_DATA (%d days cached)\n", commodity, len(records))
			continue
		}
		fmt.Printf("%-12s %s: %.2f %s (%d days cached)\n", commodity, latest.Date, latest.Value, latest.Unit, len(records))
	}

	return printLastPublished(cfg)
}

// printLastPublished reports the newest ledger entry per commodity, if a ledger exists
func printLastPublished(cfg *config.Config) error {
	if _, err := os.Stat(getDBPath(cfg)); os.IsNotExist(err) {
		return nil
	}

	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	fmt.Println()
	for _, commodity := range []models.Commodity{models.Electricity, models.NaturalGas} {
		pubs, err := db.ListPublished(commodity)
		if err != nil {
			return err
		}
		if len(pubs) == 0 {
			fmt.Printf("Published:  %-12s never\n", commodity)
			continue
		}
		fmt.Printf("Published:  %-12s %s (%s)\n", commodity, pubs[0].Date, humanize.Time(pubs[0].PublishedAt))
	}
	return nil
}
