package services

import (
	"context"
	"errors"
	"time"

	"estate-harvester/metrics"
	"estate-harvester/scraper"
	"estate-harvester/utils"
)

// FetchGate is the Fetcher handed to a source's adapter. Every attempt
// waits for the source's rate limit and concurrency slot, then for a
// process-wide slot, and runs under its own timeout. Transient failures are
// retried; slots are released before each back-off.
type FetchGate struct {
	base      scraper.Fetcher
	source    string
	perSource *utils.Limiter
	global    *utils.Limiter
	retry     utils.RetryConfig
	timeout   time.Duration
	metrics   *metrics.Metrics
}

// FetchGateConfig bundles the parameters of a FetchGate.
type FetchGateConfig struct {
	Source    string
	PerSource *utils.Limiter
	Global    *utils.Limiter
	Retry     utils.RetryConfig
	Timeout   time.Duration
	Metrics   *metrics.Metrics
}

// NewFetchGate wraps base.
func NewFetchGate(base scraper.Fetcher, cfg FetchGateConfig) *FetchGate {
	retry := cfg.Retry
	retry.Retryable = scraper.IsRetryable
	return &FetchGate{
		base:      base,
		source:    cfg.Source,
		perSource: cfg.PerSource,
		global:    cfg.Global,
		retry:     retry,
		timeout:   cfg.Timeout,
		metrics:   cfg.Metrics,
	}
}

// Fetch implements scraper.Fetcher.
func (g *FetchGate) Fetch(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := g.retry.Do(ctx, "fetch "+url, func(ctx context.Context) error {
		b, err := g.attempt(ctx, url)
		switch {
		case err == nil:
			g.metrics.Fetch(g.source, metrics.FetchOK)
			body = b
		case scraper.IsRetryable(err):
			g.metrics.Fetch(g.source, metrics.FetchRetry)
		default:
			g.metrics.Fetch(g.source, metrics.FetchError)
		}
		return err
	})
	return body, err
}

func (g *FetchGate) attempt(ctx context.Context, url string) ([]byte, error) {
	if g.perSource != nil {
		release, err := g.perSource.Acquire(ctx)
		if err != nil {
			return nil, &scraper.FetchError{URL: url, Err: err}
		}
		defer release()
	}
	if g.global != nil {
		release, err := g.global.Acquire(ctx)
		if err != nil {
			return nil, &scraper.FetchError{URL: url, Err: err}
		}
		defer release()
	}

	g.metrics.InFlight(1)
	defer g.metrics.InFlight(-1)

	fctx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	body, err := g.base.Fetch(fctx, url)
	if err != nil {
		var fe *scraper.FetchError
		if !errors.As(err, &fe) {
			err = &scraper.FetchError{URL: url, Err: err}
		}
		return nil, err
	}
	return body, nil
}
