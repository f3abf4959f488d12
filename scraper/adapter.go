// Package scraper defines the seam between the ingestion core and the
// per-source code that knows how to list and read a website.
package scraper

//go:generate mockgen -destination=mocks/mock_scraper.go -package=mocks estate-harvester/scraper Adapter,Fetcher

import (
	"context"

	"estate-harvester/models"
)

// Fetcher loads the raw body of one page. Failures must be *FetchError.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url string) ([]byte, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}

// Adapter enumerates one source's catalogue and reads its detail pages.
type Adapter interface {
	// EnumerateCandidates pushes candidates to emit one at a time, in list
	// order. emit may block; a non-nil error from emit stops enumeration and
	// is returned.
	EnumerateCandidates(ctx context.Context, emit func(models.RawCandidate) error) error
	// FetchDetail loads and parses one candidate. Failures are *FetchError
	// or *ParseError.
	FetchDetail(ctx context.Context, candidate models.RawCandidate) (*models.NormalizedListing, error)
}
