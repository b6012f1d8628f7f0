package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/spf13/cobra"

	"github.com/jgoulah/pseusage/internal/scraper"
)

var (
	debugVisible bool
	debugOutput  string
)

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Check the usage page for the elements the export flow needs",
	Long: `Opens the usage page with the saved cookies and reports whether each element
clicked during an export is present. Use it when fetch starts failing after a site change.

Flags:
  --visible    Open visible browser and pause for inspection
  --output     Save HTML to file`,
	Args: cobra.NoArgs,
	RunE: runDebug,
}

func init() {
	debugCmd.Flags().BoolVar(&debugVisible, "visible", false, "Open visible browser and pause")
	debugCmd.Flags().StringVar(&debugOutput, "output", "", "Save HTML to this file")
	rootCmd.AddCommand(debugCmd)
}

func runDebug(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if len(cfg.Cookies) == 0 {
		return fmt.Errorf("no cookies found. Run 'pseusage login' first")
	}

	browserCtx, cancel := scraper.NewBrowser(cmd.Context(), debugVisible)
	defer cancel()

	browserCtx, cancelTimeout := context.WithTimeout(browserCtx, 5*time.Minute)
	defer cancelTimeout()

	if err := scraper.SetCookies(browserCtx, cfg.Cookies); err != nil {
		return fmt.Errorf("setting cookies: %w", err)
	}

	fmt.Printf("Navigating to %s...\n", scraper.UsageURL)
	var currentURL string
	if err := chromedp.Run(browserCtx,
		chromedp.Navigate(scraper.UsageURL),
		chromedp.WaitReady(`body`, chromedp.ByQuery),
		chromedp.Sleep(3*time.Second),
		chromedp.Location(&currentURL),
	); err != nil {
		return fmt.Errorf("navigating: %w", err)
	}
	fmt.Printf("Current URL: %s\n", currentURL)

	missing := 0
	for _, sel := range scraper.UsageSelectors {
		var count int
		if err := chromedp.Run(browserCtx,
			chromedp.Evaluate(fmt.Sprintf(`document.querySelectorAll(%q).length`, sel), &count),
		); err != nil {
			return fmt.Errorf("querying %s: %w", sel, err)
		}
		if count == 0 {
			missing++
			fmt.Printf("⚠ %-50s not found\n", sel)
		} else {
			fmt.Printf("✓ %-50s %d match(es)\n", sel, count)
		}
	}
	if missing > 0 {
		fmt.Println("  Elements after the first are only shown once the previous one is clicked")
	}

	if debugOutput != "" {
		var html string
		if err := chromedp.Run(browserCtx, chromedp.OuterHTML(`html`, &html, chromedp.ByQuery)); err != nil {
			return fmt.Errorf("getting HTML: %w", err)
		}
		if err := os.WriteFile(debugOutput, []byte(html), 0644); err != nil {
			return fmt.Errorf("writing HTML: %w", err)
		}
		fmt.Printf("✓ Saved HTML to %s\n", debugOutput)
	}

	if debugVisible {
		fmt.Println("\nBrowser is open for inspection. Press Enter to close...")
		fmt.Scanln()
	}

	return nil
}
