package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jgoulah/pseusage/internal/logging"
	"github.com/jgoulah/pseusage/pkg/models"
)

var publishForce bool

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish the latest complete days to Home Assistant and/or MQTT",
	Long: `Reads the cached snapshot and publishes the latest complete day of each commodity.
Days already published are skipped unless --force is given.`,
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().BoolVar(&publishForce, "force", false, "Publish even if the day was already published")
	rootCmd.AddCommand(publishCmd)
}

func runPublish(cmd *cobra.Command, args []string) error {
	fmt.Printf("=== Publish started at %s ===\n", time.Now().Format("2006-01-02 15:04:05 MST"))

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if !cfg.HomeAssistant.Enabled && !cfg.MQTT.Enabled {
		return fmt.Errorf("neither Home Assistant nor MQTT is enabled in config")
	}

	logger, closer, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	c := restoreCache(cfg, logging.Discard())
	usage, ok := c.Read()
	if !ok {
		return fmt.Errorf("no cached data in %s. Run 'pseusage fetch' first", c.Path())
	}

	pub, cleanup, err := newPublisher(cfg, logger, nil, !publishForce)
	if err != nil {
		return err
	}
	defer cleanup()

	for _, commodity := range []models.Commodity{models.Electricity, models.NaturalGas} {
		if latest, ok := models.LatestCompleteDay(usage.Records(commodity)); ok {
			fmt.Printf("%s: %s %.2f %s\n", commodity, latest.Date, latest.Value, latest.Unit)
		} else {
			fmt.Printf("%s: no complete day\n", commodity)
		}
	}

	sent, err := pub.PublishLatest(cmd.Context(), usage)
	if err != nil {
		fmt.Printf("⚠ Some readings failed: %v\n", err)
	}
	fmt.Printf("\nTotal readings published: %d\n", sent)
	return err
}
