package scraper

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"

	"github.com/jgoulah/pseusage/internal/config"
)

const (
	pseHomeURL = "https://www.pse.com/"

	// UsageURL is the page offering the usage export
	UsageURL = "https://www.pse.com/account-and-billing/my-usage/view-my-usage"

	usernameSelector     = `#Username`
	passwordSelector     = `#Password`
	signInSelector       = `#signin-btn`
	exportSelector       = `.green-button`
	billPeriodSelector   = `#period-bill-radio-container`
	exportSubmitSelector = `.usage-export-submit-container button.primary`

	archiveExt = ".zip"
)

// UsageSelectors lists the elements the export flow clicks, in order
var UsageSelectors = []string{exportSelector, billPeriodSelector, exportSubmitSelector}

// AuthError represents an authentication failure
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}

// PSEFetcher downloads the usage export archive from pse.com with a browser
type PSEFetcher struct {
	credentials config.Credentials
	cookies     []config.Cookie
	visible     bool
	logger      logrus.FieldLogger
}

// NewPSEFetcher creates a fetcher. Saved cookies are applied before logging in.
func NewPSEFetcher(credentials config.Credentials, cookies []config.Cookie, visible bool, logger logrus.FieldLogger) *PSEFetcher {
	return &PSEFetcher{
		credentials: credentials,
		cookies:     cookies,
		visible:     visible,
		logger:      logger,
	}
}

// Fetch logs in, requests the billing-period export and waits for it to land in dir.
// It returns the path of the downloaded archive.
func (f *PSEFetcher) Fetch(ctx context.Context, dir string) (string, error) {
	if len(f.cookies) == 0 && (f.credentials.Username == "" || f.credentials.Password == "") {
		return "", &AuthError{Message: "no credentials or saved cookies configured"}
	}

	browserCtx, cancel := NewBrowser(ctx, f.visible)
	defer cancel()

	tracker := newDownloadTracker()
	chromedp.ListenTarget(browserCtx, tracker.handle)

	if err := chromedp.Run(browserCtx,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(dir).
			WithEventsEnabled(true),
	); err != nil {
		return "", fmt.Errorf("setting download behavior: %w", err)
	}

	if err := SetCookies(browserCtx, f.cookies); err != nil {
		return "", fmt.Errorf("setting cookies: %w", err)
	}

	if err := f.login(browserCtx); err != nil {
		return "", err
	}

	f.logger.Info("Downloading usage file")
	if err := chromedp.Run(browserCtx,
		chromedp.Navigate(UsageURL),
		chromedp.WaitVisible(exportSelector, chromedp.ByQuery),
		chromedp.Click(exportSelector, chromedp.ByQuery),
		chromedp.WaitVisible(billPeriodSelector, chromedp.ByQuery),
		chromedp.Click(billPeriodSelector, chromedp.ByQuery),
		chromedp.Sleep(500*time.Millisecond),
		chromedp.Click(exportSubmitSelector, chromedp.ByQuery),
	); err != nil {
		return "", fmt.Errorf("requesting usage export: %w", err)
	}

	guid, err := tracker.wait(browserCtx)
	if err != nil {
		return "", err
	}

	// Downloads are saved under their GUID
	path := filepath.Join(dir, guid)
	archive := path + archiveExt
	if err := os.Rename(path, archive); err != nil {
		return "", fmt.Errorf("renaming download: %w", err)
	}

	f.logger.WithField("archive", archive).Info("Usage file downloaded")
	return archive, nil
}

// login signs in unless the saved cookies already carry a session
func (f *PSEFetcher) login(ctx context.Context) error {
	var needsLogin bool
	if err := chromedp.Run(ctx,
		chromedp.Navigate(pseHomeURL),
		chromedp.WaitReady(`body`, chromedp.ByQuery),
		chromedp.Evaluate(fmt.Sprintf(`document.querySelector('%s') !== null`, usernameSelector), &needsLogin),
	); err != nil {
		return fmt.Errorf("loading home page: %w", err)
	}

	if !needsLogin {
		f.logger.Debug("Reusing saved session")
		return nil
	}
	if f.credentials.Username == "" || f.credentials.Password == "" {
		return &AuthError{Message: "saved session expired and no credentials are configured"}
	}

	f.logger.Info("Logging into the website")
	if err := chromedp.Run(ctx,
		chromedp.WaitVisible(usernameSelector, chromedp.ByQuery),
		chromedp.SendKeys(usernameSelector, f.credentials.Username, chromedp.ByQuery),
		chromedp.SendKeys(passwordSelector, f.credentials.Password, chromedp.ByQuery),
		chromedp.Click(signInSelector, chromedp.ByQuery),
		chromedp.Sleep(5*time.Second), // Wait for login to process
	); err != nil {
		return fmt.Errorf("submitting login form: %w", err)
	}

	var stillOnLogin bool
	if err := chromedp.Run(ctx,
		chromedp.Evaluate(fmt.Sprintf(`document.querySelector('%s') !== null`, signInSelector), &stillOnLogin),
	); err != nil {
		return fmt.Errorf("checking login: %w", err)
	}
	if stillOnLogin {
		return &AuthError{Message: "login failed: sign-in form is still shown"}
	}

	return nil
}

// downloadTracker follows browser download events until the first download ends
type downloadTracker struct {
	once   sync.Once
	result chan downloadResult
}

type downloadResult struct {
	guid string
	err  error
}

func newDownloadTracker() *downloadTracker {
	return &downloadTracker{result: make(chan downloadResult, 1)}
}

func (t *downloadTracker) handle(ev interface{}) {
	progress, ok := ev.(*browser.EventDownloadProgress)
	if !ok {
		return
	}

	switch progress.State {
	case browser.DownloadProgressStateCompleted:
		t.finish(downloadResult{guid: progress.GUID})
	case browser.DownloadProgressStateCanceled:
		t.finish(downloadResult{err: fmt.Errorf("download %s was canceled", progress.GUID)})
	}
}

func (t *downloadTracker) finish(r downloadResult) {
	t.once.Do(func() {
		t.result <- r
	})
}

// wait blocks until the download ends or ctx is done
func (t *downloadTracker) wait(ctx context.Context) (string, error) {
	select {
	case r := <-t.result:
		return r.guid, r.err
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for download: %w", ctx.Err())
	}
}
