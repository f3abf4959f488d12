// Package browser provides a Fetcher backed by headless Chrome for sources
// whose pages are rendered by JavaScript.
package browser

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"estate-harvester/scraper"
	"estate-harvester/utils"
)

// DefaultSettleDelay is how long a page may run scripts after load before
// its HTML is captured.
const DefaultSettleDelay = 2 * time.Second

// Options configures a Fetcher.
type Options struct {
	// ChromeBin overrides binary discovery.
	ChromeBin   string
	UserAgent   string
	SettleDelay time.Duration
	Logger      utils.Logger
}

// Fetcher renders pages in one shared browser, one tab per Fetch.
type Fetcher struct {
	opts Options

	once       sync.Once
	initErr    error
	browserCtx context.Context
	cancel     context.CancelFunc
}

// New creates a Fetcher. The browser is started on first use.
func New(opts Options) *Fetcher {
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.Logger == nil {
		opts.Logger = utils.NewNopLogger()
	}
	return &Fetcher{opts: opts}
}

func (f *Fetcher) start() error {
	f.once.Do(func() {
		chromeBin := f.opts.ChromeBin
		if chromeBin == "" {
			chromeBin = FindChromeBinary()
		}
		f.opts.Logger.Info("Starting headless browser", utils.String("binary", chromeBin))

		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
		if f.opts.UserAgent != "" {
			opts = append(opts, chromedp.UserAgent(f.opts.UserAgent))
		}
		if chromeBin != "" {
			opts = append(opts, chromedp.ExecPath(chromeBin))
		}

		allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
		// Suppress chromedp log noise
		browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...any) {}))

		if err := chromedp.Run(browserCtx); err != nil {
			cancelBrowser()
			cancelAlloc()
			f.initErr = fmt.Errorf("start browser: %w", err)
			return
		}

		f.browserCtx = browserCtx
		f.cancel = func() {
			cancelBrowser()
			cancelAlloc()
		}
	})
	return f.initErr
}

// Fetch implements scraper.Fetcher. The rendered document's outer HTML is
// returned.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if err := f.start(); err != nil {
		return nil, &scraper.FetchError{URL: url, Err: err}
	}

	tabCtx, cancelTab := chromedp.NewContext(f.browserCtx)
	defer cancelTab()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelTimeout context.CancelFunc
		tabCtx, cancelTimeout = context.WithDeadline(tabCtx, deadline)
		defer cancelTimeout()
	}
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	var html string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.opts.SettleDelay),

		// Scroll to trigger lazy-loaded content
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.Sleep(f.opts.SettleDelay/2),

		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &scraper.FetchError{URL: url, Err: ctxErr}
		}
		if tabErr := tabCtx.Err(); tabErr != nil {
			return nil, &scraper.FetchError{URL: url, Err: tabErr}
		}
		return nil, &scraper.FetchError{URL: url, Err: fmt.Errorf("chromedp: %w", err)}
	}
	return []byte(html), nil
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	if f.cancel != nil {
		f.cancel()
	}
}

// FindChromeBinary locates a Chrome/Chromium binary, preferring CHROME_BIN.
// It returns "" when none is found, letting chromedp use its own lookup.
func FindChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
