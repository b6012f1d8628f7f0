package scraper

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/jgoulah/pseusage/internal/config"
)

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// NewBrowser starts a Chrome instance and returns its context. The cancel func shuts it down.
func NewBrowser(ctx context.Context, visible bool) (context.Context, context.CancelFunc) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", !visible),
		chromedp.Flag("no-sandbox", true),            // Required for running as root on Linux
		chromedp.Flag("disable-gpu", true),           // Recommended for headless Linux
		chromedp.Flag("disable-dev-shm-usage", true), // Avoid /dev/shm issues in containers
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(userAgent),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	return browserCtx, func() {
		cancelBrowser()
		cancelAlloc()
	}
}

// ExtractCookies extracts all cookies from the current browser context
func ExtractCookies(ctx context.Context) ([]config.Cookie, error) {
	var cookies []*network.Cookie

	if err := chromedp.Run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = network.GetCookies().Do(ctx)
			return err
		}),
	); err != nil {
		return nil, fmt.Errorf("getting cookies: %w", err)
	}

	return fromNetworkCookies(cookies), nil
}

func fromNetworkCookies(cookies []*network.Cookie) []config.Cookie {
	result := make([]config.Cookie, 0, len(cookies))
	for _, c := range cookies {
		result = append(result, config.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: c.SameSite.String(),
		})
	}
	return result
}

// SetCookies sets cookies in the browser context
func SetCookies(ctx context.Context, cookies []config.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}

	for _, c := range cookies {
		expr := network.SetCookie(c.Name, c.Value).
			WithDomain(c.Domain).
			WithPath(c.Path).
			WithHTTPOnly(c.HTTPOnly).
			WithSecure(c.Secure)

		if err := chromedp.Run(ctx,
			chromedp.ActionFunc(func(ctx context.Context) error {
				return expr.Do(ctx)
			}),
		); err != nil {
			return fmt.Errorf("setting cookie %s: %w", c.Name, err)
		}
	}

	return nil
}
