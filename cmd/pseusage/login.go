package main

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/spf13/cobra"

	"github.com/jgoulah/pseusage/internal/config"
	"github.com/jgoulah/pseusage/internal/scraper"
)

const pseLoginURL = "https://www.pse.com/"

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Login to pse.com and save cookies",
	Long: `Opens a browser window for you to login manually.
After successful login, cookies will be extracted and saved to the config file
and reused by fetch and serve before falling back to the configured credentials.`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	fmt.Println("Opening browser for PSE login...")
	fmt.Println("Please log in manually in the browser window.")
	fmt.Println("Then press Enter here to save...")

	ctx, cancel := scraper.NewBrowser(cmd.Context(), true)
	defer cancel()

	// Set a longer timeout for user to login
	ctx, cancelTimeout := context.WithTimeout(ctx, 10*time.Minute)
	defer cancelTimeout()

	if err := chromedp.Run(ctx, chromedp.Navigate(pseLoginURL)); err != nil {
		return fmt.Errorf("navigating to login page: %w", err)
	}

	// Wait for user to press Enter
	fmt.Scanln()

	fmt.Println("Extracting cookies...")
	cookies, err := scraper.ExtractCookies(ctx)
	if err != nil {
		return fmt.Errorf("extracting cookies: %w", err)
	}

	if len(cookies) == 0 {
		return fmt.Errorf("no cookies found - make sure you're logged in")
	}

	// Environment overrides must not end up in the file
	cfg, err := config.LoadFile(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfg.Cookies = cookies
	if err := saveConfig(cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("✓ Successfully saved %d cookies to %s\n", len(cookies), getConfigPath())
	return nil
}
