package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jgoulah/pseusage/internal/database"
	"github.com/jgoulah/pseusage/internal/logging"
	"github.com/jgoulah/pseusage/pkg/models"
)

var (
	listCommodity string
	listPublished bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached usage data",
	Long: `Displays the daily records of the cached snapshot, including partial days.

With --published, lists the days already sent to Home Assistant or MQTT instead.`,
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVar(&listCommodity, "commodity", "", "Filter by commodity (electricity or natural_gas)")
	listCmd.Flags().BoolVar(&listPublished, "published", false, "List published days from the ledger")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	commodities, err := parseCommodities(listCommodity)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if listPublished {
		db, err := openDB(cfg)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()

		for _, commodity := range commodities {
			pubs, err := db.ListPublished(commodity)
			if err != nil {
				return err
			}
			printPublications(os.Stdout, commodity, pubs)
		}
		return nil
	}

	c := restoreCache(cfg, logging.Discard())
	usage, ok := c.Read()
	if !ok {
		fmt.Printf("No cached data in %s. Run 'pseusage fetch' first.\n", c.Path())
		return nil
	}

	for _, commodity := range commodities {
		printRecords(commodity, usage.Records(commodity))
	}
	return nil
}

// printPublications prints one commodity's ledger entries, newest first
func printPublications(w io.Writer, commodity models.Commodity, pubs []database.Publication) {
	if len(pubs) == 0 {
		fmt.Fprintf(w, "Nothing published for %s\n", commodity)
		return
	}

	fmt.Fprintf(w, "\n%s published:\n", commodity)
	fmt.Fprintln(w, "----------------------------------------------")
	fmt.Fprintf(w, "%-12s  %10s  %-5s  %s\n", "Date", "Usage", "Unit", "Published")
	fmt.Fprintln(w, "----------------------------------------------")
	for _, p := range pubs {
		fmt.Fprintf(w, "%-12s  %10.2f  %-5s  %s\n", p.Date, p.Value, p.Unit, p.PublishedAt.Local().Format("2006-01-02 15:04"))
	}
}
