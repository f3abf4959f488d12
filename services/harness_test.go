package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"estate-harvester/locks"
	"estate-harvester/models"
	"estate-harvester/scraper"
	"estate-harvester/scraper/jsonfeed"
	"estate-harvester/storage"
	"estate-harvester/utils"
)

const fakeKind = "fake"

// catalogAdapter serves a fixed catalogue from memory.
type catalogAdapter struct {
	mu       sync.Mutex
	listings []*models.NormalizedListing

	detailErr map[string]error
	// enumErr is returned once enumErrAt candidates were emitted.
	enumErr   error
	enumErrAt int
	// block, when set, holds every FetchDetail until closed or cancelled.
	block chan struct{}

	detailCalls atomic.Int32
	active      atomic.Int32
	peak        atomic.Int32
}

func newCatalog(listings ...*models.NormalizedListing) *catalogAdapter {
	return &catalogAdapter{listings: listings, detailErr: map[string]error{}}
}

func (a *catalogAdapter) set(listings ...*models.NormalizedListing) {
	a.mu.Lock()
	a.listings = listings
	a.mu.Unlock()
}

func (a *catalogAdapter) EnumerateCandidates(ctx context.Context, emit func(models.RawCandidate) error) error {
	n := a.active.Add(1)
	defer a.active.Add(-1)
	for {
		old := a.peak.Load()
		if n <= old || a.peak.CompareAndSwap(old, n) {
			break
		}
	}

	a.mu.Lock()
	listings := slices.Clone(a.listings)
	a.mu.Unlock()

	for i, l := range listings {
		if a.enumErr != nil && i == a.enumErrAt {
			return a.enumErr
		}
		if err := emit(models.RawCandidate{ExternalID: l.ExternalID, DetailURL: l.URL}); err != nil {
			return err
		}
	}
	if a.enumErr != nil && a.enumErrAt >= len(listings) {
		return a.enumErr
	}
	return nil
}

func (a *catalogAdapter) FetchDetail(ctx context.Context, c models.RawCandidate) (*models.NormalizedListing, error) {
	a.detailCalls.Add(1)
	if a.block != nil {
		select {
		case <-a.block:
		case <-ctx.Done():
			return nil, &scraper.FetchError{URL: c.DetailURL, Err: ctx.Err()}
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err, ok := a.detailErr[c.ExternalID]; ok {
		return nil, err
	}
	for _, l := range a.listings {
		if l.ExternalID == c.ExternalID {
			cp := *l
			cp.Photos = slices.Clone(l.Photos)
			return &cp, nil
		}
	}
	return nil, &scraper.FetchError{URL: c.DetailURL, StatusCode: 404}
}

func offer(id string, price float64, photos ...string) *models.NormalizedListing {
	return &models.NormalizedListing{
		ExternalID:   id,
		URL:          "https://reality.example/detail/" + id,
		Title:        "Rodinný dům " + id,
		Description:  "Dům se zahradou",
		District:     "Znojmo",
		PropertyType: models.PropertyHouse,
		Price:        price,
		Currency:     "CZK",
		Photos:       photos,
	}
}

type recordedRejections struct {
	mu   sync.Mutex
	rows []storage.Rejection
}

func (r *recordedRejections) Record(rej storage.Rejection) error {
	r.mu.Lock()
	r.rows = append(r.rows, rej)
	r.mu.Unlock()
	return nil
}

type harnessOptions struct {
	maxSources  int
	ceilings    map[string]float64
	areas       []string
	globalLimit int
	// fetcher is the base fetcher behind every gate; jsonfeed sources read
	// through it.
	fetcher scraper.Fetcher
}

type harness struct {
	store      *storage.Memory
	locker     *locks.MemoryLocker
	rejections *recordedRejections
	runner     *SourceRunner
	orch       *Orchestrator

	mu       sync.Mutex
	adapters map[string]scraper.Adapter
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	if opts.maxSources == 0 {
		opts.maxSources = 4
	}
	if opts.globalLimit == 0 {
		opts.globalLimit = 8
	}
	if opts.fetcher == nil {
		opts.fetcher = scraper.FetcherFunc(func(context.Context, string) ([]byte, error) { return nil, nil })
	}
	logger := newTestLogger()
	h := &harness{
		store:      storage.NewMemory(),
		locker:     locks.NewMemoryLocker(),
		rejections: &recordedRejections{},
		adapters:   map[string]scraper.Adapter{},
	}

	registry := scraper.NewRegistry()
	registry.Register(fakeKind, func(src models.Source, _ scraper.Fetcher) (scraper.Adapter, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		a, ok := h.adapters[src.Code]
		if !ok {
			return nil, errors.New("adapter not configured")
		}
		return a, nil
	})
	registry.Register(jsonfeed.Kind, jsonfeed.New)

	h.runner = NewSourceRunner(SourceRunnerConfig{
		Store:                h.store,
		Registry:             registry,
		Fetchers:             map[string]scraper.Fetcher{models.FetchModeHTTP: opts.fetcher},
		Cleaner:              NewCleaner(logger),
		Filter:               DefaultFilterPipeline(opts.areas, opts.ceilings),
		Reconciler:           NewReconciler(h.store, 5, time.Millisecond, logger),
		Locker:               h.locker,
		Rejections:           h.rejections,
		GlobalLimiter:        utils.NewLimiter(opts.globalLimit, 0),
		PerSourceConcurrency: 3,
		Retry:                fastRetry(2),
		FetchTimeout:         time.Second,
		Logger:               logger,
	})
	h.orch = NewOrchestrator(h.store, h.runner, opts.maxSources, nil, logger)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.orch.Shutdown(ctx)
	})
	return h
}

func (h *harness) addSource(t *testing.T, code string, adapter scraper.Adapter) models.Source {
	t.Helper()
	src := &models.Source{Code: code, Name: code, BaseURL: "https://reality.example", Kind: fakeKind, Active: true}
	require.NoError(t, h.store.UpsertSource(context.Background(), src))
	if adapter != nil {
		h.mu.Lock()
		h.adapters[code] = adapter
		h.mu.Unlock()
	}
	return *src
}

// addFeedSource registers a jsonfeed source reading the catalogue that
// feedFetcher.publish serves for code. Calling it again updates options.
func (h *harness) addFeedSource(t *testing.T, code string, extra models.JSONMap) models.Source {
	t.Helper()
	opts := models.JSONMap{"list_url": feedHost + "/" + code + "/list?page={page}", "currency": "CZK"}
	for k, v := range extra {
		opts[k] = v
	}
	src := &models.Source{Code: code, Name: code, BaseURL: feedHost, Kind: jsonfeed.Kind, Options: opts, Active: true}
	require.NoError(t, h.store.UpsertSource(context.Background(), src))
	return *src
}

func (h *harness) run(t *testing.T, full bool, codes ...string) *models.JobSnapshot {
	t.Helper()
	id, err := h.orch.StartJob(context.Background(), JobRequest{SourceCodes: codes, FullRescan: full})
	require.NoError(t, err)
	return h.wait(t, id)
}

func (h *harness) wait(t *testing.T, id string) *models.JobSnapshot {
	t.Helper()
	var snap *models.JobSnapshot
	require.Eventually(t, func() bool {
		s, err := h.orch.GetJobStatus(context.Background(), id)
		if err != nil {
			return false
		}
		snap = s
		return s.Job.Status.IsTerminal()
	}, 5*time.Second, 5*time.Millisecond, "job %s did not finish", id)
	return snap
}

func (h *harness) listing(t *testing.T, sourceID int64, id string) *models.NormalizedListing {
	t.Helper()
	l, err := h.store.GetListing(context.Background(), models.ListingKey{SourceID: sourceID, ExternalID: id})
	require.NoError(t, err, fmt.Sprintf("listing %d/%s", sourceID, id))
	return l
}

func runFor(t *testing.T, snap *models.JobSnapshot, code string) models.RunRecord {
	t.Helper()
	for _, r := range snap.Runs {
		if r.SourceCode == code {
			return r
		}
	}
	t.Fatalf("no run record for %s", code)
	return models.RunRecord{}
}

const feedHost = "https://feed.example"

// feedFetcher serves in-memory jsonfeed documents and tracks how many
// fetches are in flight at once.
type feedFetcher struct {
	delay time.Duration

	mu   sync.Mutex
	docs map[string][]byte

	active atomic.Int32
	peak   atomic.Int32
	calls  atomic.Int32
}

func newFeedFetcher(delay time.Duration) *feedFetcher {
	return &feedFetcher{delay: delay, docs: map[string][]byte{}}
}

// publish serves the given pages of item ids for code; every page but the
// last reports has_more.
func (f *feedFetcher) publish(t *testing.T, code string, pages ...[]string) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, ids := range pages {
		items := make([]map[string]string, 0, len(ids))
		for _, id := range ids {
			itemURL := fmt.Sprintf("%s/%s/item/%s", feedHost, code, id)
			items = append(items, map[string]string{"id": id, "url": itemURL})
			doc, err := json.Marshal(map[string]any{
				"id":            id,
				"title":         "Rodinný dům " + id,
				"description":   "Dům se zahradou",
				"district":      "Znojmo",
				"property_type": "rodinný dům",
				"price":         "2 500 000 Kč",
			})
			require.NoError(t, err)
			f.docs[itemURL] = doc
		}
		page, err := json.Marshal(map[string]any{"items": items, "has_more": i < len(pages)-1})
		require.NoError(t, err)
		f.docs[fmt.Sprintf("%s/%s/list?page=%d", feedHost, code, i+1)] = page
	}
}

func (f *feedFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.calls.Add(1)
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		old := f.peak.Load()
		if n <= old || f.peak.CompareAndSwap(old, n) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, &scraper.FetchError{URL: url, Err: ctx.Err()}
		}
	}

	f.mu.Lock()
	doc, ok := f.docs[url]
	f.mu.Unlock()
	if !ok {
		return nil, &scraper.FetchError{URL: url, StatusCode: 404}
	}
	return doc, nil
}
