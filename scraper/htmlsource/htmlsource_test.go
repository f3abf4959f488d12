package htmlsource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estate-harvester/models"
	"estate-harvester/scraper"
)

const listPage1 = `<html><body>
<div class="result"><a href="/detail/101">Dům Znojmo</a></div>
<div class="result"><a href="/detail/102">Pozemek Znojmo</a></div>
</body></html>`

const listPage2 = `<html><body>
<div class="result"><a href="/detail/103">Byt Brno</a></div>
</body></html>`

const detailPage = `<html><head>
<meta property="og:image" content="/img/og.jpg">
</head><body>
<h1 class="title">Prodej rodinného domu 5+1</h1>
<div class="params">
  <span class="type">Rodinný dům</span>
  <span class="offer">Prodej</span>
  <span class="price">4 990 000 Kč</span>
  <span class="area">142 m²</span>
  <span class="land">610 m²</span>
  <span class="rooms">5+1</span>
  <span class="condition">Po rekonstrukci</span>
  <span class="construction">Cihlová</span>
</div>
<p class="locality">Hrušovany nad Jevišovkou, okres Znojmo</p>
<div class="gallery">
  <img src="/img/1.jpg">
  <img data-src="/img/2.jpg">
</div>
</body></html>`

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/list", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "1":
			fmt.Fprint(w, listPage1)
		case "2":
			fmt.Fprint(w, listPage2)
		default:
			// Stale pagination repeats the last page.
			fmt.Fprint(w, listPage2)
		}
	})
	mux.HandleFunc("/detail/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/404") {
			fmt.Fprint(w, "<html><body><p>gone</p></body></html>")
			return
		}
		fmt.Fprint(w, detailPage)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newAdapter(t *testing.T, srv *httptest.Server, extra map[string]any) scraper.Adapter {
	t.Helper()
	opts := models.JSONMap{
		"list_url":            srv.URL + "/list?page={page}",
		"item_selector":       "div.result a",
		"external_id_pattern": `/detail/(\d+)`,
		"currency":            "CZK",
		"fields": map[string]any{
			"title":         "h1.title",
			"property_type": ".params .type",
			"offer_type":    ".params .offer",
			"price":         ".params .price",
			"floor_area":    ".params .area",
			"land_area":     ".params .land",
			"rooms":         ".params .rooms",
			"condition":     ".params .condition",
			"construction":  ".params .construction",
			"location":      "p.locality",
			"photos":        ".gallery img",
		},
	}
	for k, v := range extra {
		opts[k] = v
	}
	src := models.Source{ID: 1, Code: "demo", Kind: Kind, BaseURL: srv.URL, Options: opts}
	a, err := New(src, scraper.NewHTTPFetcher(srv.Client(), "test-agent"))
	require.NoError(t, err)
	return a
}

func TestEnumerateStopsWhenPageHasNothingNew(t *testing.T) {
	srv := testServer(t)
	a := newAdapter(t, srv, nil)

	var got []models.RawCandidate
	err := a.EnumerateCandidates(context.Background(), func(c models.RawCandidate) error {
		got = append(got, c)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.Equal(t, "101", got[0].ExternalID)
	assert.Equal(t, srv.URL+"/detail/101", got[0].DetailURL)
	assert.Equal(t, "demo", got[0].SourceCode)
	assert.Equal(t, "103", got[2].ExternalID)
}

func TestEnumerateReportsTruncationAtMaxPages(t *testing.T) {
	srv := testServer(t)
	a := newAdapter(t, srv, map[string]any{"max_pages": "1"})

	count := 0
	err := a.EnumerateCandidates(context.Background(), func(models.RawCandidate) error {
		count++
		return nil
	})
	assert.ErrorIs(t, err, scraper.ErrTruncated)
	assert.Equal(t, 2, count)
}

func TestEnumerateTreatsNotFoundPastFirstPageAsEnd(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/list", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "1" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, listPage1)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	a := newAdapter(t, srv, nil)

	count := 0
	err := a.EnumerateCandidates(context.Background(), func(models.RawCandidate) error {
		count++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestEnumerateNotFoundOnFirstPageFails(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	a := newAdapter(t, srv, nil)

	err := a.EnumerateCandidates(context.Background(), func(models.RawCandidate) error { return nil })
	assert.True(t, scraper.IsNotFound(err))
}

func TestEnumerateStopsOnEmitError(t *testing.T) {
	srv := testServer(t)
	a := newAdapter(t, srv, nil)
	stop := errors.New("stop")

	count := 0
	err := a.EnumerateCandidates(context.Background(), func(models.RawCandidate) error {
		count++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, count)
}

func TestEnumerateCacheBustAddsQueryParam(t *testing.T) {
	var seen []string
	fetcher := scraper.FetcherFunc(func(_ context.Context, u string) ([]byte, error) {
		seen = append(seen, u)
		return []byte("<html></html>"), nil
	})
	src := models.Source{Code: "demo", Kind: Kind, Options: models.JSONMap{
		"list_url":      "https://example.test/list?page={page}",
		"item_selector": "a",
		"cache_bust":    true,
		"fields":        map[string]any{"title": "h1"},
	}}
	a, err := New(src, fetcher)
	require.NoError(t, err)

	require.NoError(t, a.EnumerateCandidates(context.Background(), func(models.RawCandidate) error { return nil }))
	require.Len(t, seen, 1)
	assert.Contains(t, seen[0], "page=1&_hv=")
}

func TestFetchDetailParsesListing(t *testing.T) {
	srv := testServer(t)
	a := newAdapter(t, srv, nil)

	l, err := a.FetchDetail(context.Background(), models.RawCandidate{
		SourceCode: "demo",
		DetailURL:  srv.URL + "/detail/101",
	})
	require.NoError(t, err)

	assert.Equal(t, "101", l.ExternalID)
	assert.Equal(t, "Prodej rodinného domu 5+1", l.Title)
	assert.Equal(t, models.PropertyHouse, l.PropertyType)
	assert.Equal(t, models.OfferSale, l.OfferType)
	assert.InDelta(t, 4990000, l.Price, 0.01)
	assert.Equal(t, "CZK", l.Currency)
	assert.InDelta(t, 142, l.FloorArea, 0.01)
	assert.InDelta(t, 610, l.LandArea, 0.01)
	assert.Equal(t, 5, l.Rooms)
	assert.Equal(t, models.ConditionVeryGood, l.Condition)
	assert.Equal(t, models.ConstructionBrick, l.Construction)
	assert.Contains(t, l.LocationText, "okres Znojmo")
	assert.Equal(t, []string{srv.URL + "/img/1.jpg", srv.URL + "/img/2.jpg"}, l.Photos)
}

func TestFetchDetailAttributeSelector(t *testing.T) {
	srv := testServer(t)
	a := newAdapter(t, srv, map[string]any{
		"fields": map[string]any{
			"title":      "h1.title",
			"photos":     "meta[property='og:image']",
			"photo_attr": "content",
		},
	})

	l, err := a.FetchDetail(context.Background(), models.RawCandidate{DetailURL: srv.URL + "/detail/7"})
	require.NoError(t, err)
	assert.Equal(t, []string{srv.URL + "/img/og.jpg"}, l.Photos)
}

func TestFetchDetailMissingTitleIsParseError(t *testing.T) {
	srv := testServer(t)
	a := newAdapter(t, srv, nil)

	_, err := a.FetchDetail(context.Background(), models.RawCandidate{DetailURL: srv.URL + "/detail/404"})
	var pe *scraper.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "parse", scraper.ErrorClass(err))
	assert.False(t, scraper.IsRetryable(err))
}

func TestExtractAttribute(t *testing.T) {
	srv := testServer(t)
	a := newAdapter(t, srv, map[string]any{
		"fields": map[string]any{
			"title":       "h1.title",
			"external_id": "meta[property='og:image']@content",
		},
	})

	l, err := a.FetchDetail(context.Background(), models.RawCandidate{DetailURL: srv.URL + "/detail/9"})
	require.NoError(t, err)
	assert.Equal(t, "/img/og.jpg", l.ExternalID)
}

func TestNewValidatesOptions(t *testing.T) {
	tests := []struct {
		name string
		opts models.JSONMap
		want string
	}{
		{"missing list url", models.JSONMap{"item_selector": "a", "fields": map[string]any{"title": "h1"}}, "list_url"},
		{"missing item selector", models.JSONMap{"list_url": "x", "fields": map[string]any{"title": "h1"}}, "item_selector"},
		{"missing title", models.JSONMap{"list_url": "x", "item_selector": "a"}, "fields.title"},
		{"bad pattern", models.JSONMap{"list_url": "x", "item_selector": "a", "external_id_pattern": "(", "fields": map[string]any{"title": "h1"}}, "external_id_pattern"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(models.Source{Code: "demo", Options: tt.opts}, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
