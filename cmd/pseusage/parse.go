package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jgoulah/pseusage/internal/logging"
	"github.com/jgoulah/pseusage/internal/scraper"
)

var (
	parseCommodity string
	parseVerbose   bool
)

var parseCmd = &cobra.Command{
	Use:   "parse <archive>",
	Short: "Extract usage from a downloaded export archive",
	Long: `Runs the extractor on a local ZIP export (as downloaded from pse.com) and prints
the consolidated daily records. The cache is not touched.`,
	Args: cobra.ExactArgs(1),
	RunE: runParse,
}

func init() {
	parseCmd.Flags().StringVar(&parseCommodity, "commodity", "", "Only print electricity or natural_gas")
	parseCmd.Flags().BoolVarP(&parseVerbose, "verbose", "v", false, "Log skipped rows")
	rootCmd.AddCommand(parseCmd)
}

func runParse(cmd *cobra.Command, args []string) error {
	commodities, err := parseCommodities(parseCommodity)
	if err != nil {
		return err
	}

	logger := logging.Discard()
	if parseVerbose {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		l, closer, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer closer.Close()
		logger = l
	}

	usage, err := scraper.NewExtractor(logger).ExtractEnergyUsage(args[0], time.Now())
	if err != nil {
		return fmt.Errorf("extracting %s: %w", args[0], err)
	}

	for _, commodity := range commodities {
		printRecords(commodity, usage.Records(commodity))
	}
	return nil
}
