// Package jsonfeed implements a source adapter for sites that expose their
// catalogue as a paginated JSON API.
//
// A list page has the shape
//
//	{"items": [{"id": "123", "url": "https://…/api/estate/123"}], "has_more": true}
//
// and each item URL returns a flat JSON object describing one listing. Field
// values are decoded weakly, so "4 990 000 Kč" and 4990000 are both accepted
// for a price.
package jsonfeed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"

	"estate-harvester/models"
	"estate-harvester/scraper"
	"estate-harvester/utils"
)

// Kind is the registry key of this adapter.
const Kind = "jsonfeed"

const defaultMaxPages = 500

// Config is decoded from the source's options.
type Config struct {
	ListURL string `mapstructure:"list_url"`
	// DetailURL builds an item URL from its id ("{id}") when the list omits it.
	DetailURL string `mapstructure:"detail_url"`
	MaxPages  int    `mapstructure:"max_pages"`
	CacheBust bool   `mapstructure:"cache_bust"`
	Currency  string `mapstructure:"currency"`
}

type listPage struct {
	Items   []listItem `json:"items"`
	HasMore bool       `json:"has_more"`
}

type listItem struct {
	ID  any    `json:"id"`
	URL string `json:"url"`
}

// externalID accepts both string and numeric ids.
func (i listItem) externalID() string {
	switch v := i.ID.(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

type detail struct {
	ID           string   `mapstructure:"id"`
	Title        string   `mapstructure:"title"`
	Description  string   `mapstructure:"description"`
	Location     string   `mapstructure:"location"`
	District     string   `mapstructure:"district"`
	Municipality string   `mapstructure:"municipality"`
	Region       string   `mapstructure:"region"`
	PropertyType string   `mapstructure:"property_type"`
	OfferType    string   `mapstructure:"offer_type"`
	Price        float64  `mapstructure:"price"`
	Currency     string   `mapstructure:"currency"`
	FloorArea    float64  `mapstructure:"floor_area"`
	LandArea     float64  `mapstructure:"land_area"`
	Rooms        string   `mapstructure:"rooms"`
	Condition    string   `mapstructure:"condition"`
	Construction string   `mapstructure:"construction"`
	Photos       []string `mapstructure:"photos"`
}

// Adapter reads one JSON feed source.
type Adapter struct {
	source  models.Source
	cfg     Config
	fetcher scraper.Fetcher
	bust    int64
}

// New is the scraper.Factory for jsonfeed sources.
func New(source models.Source, fetcher scraper.Fetcher) (scraper.Adapter, error) {
	var cfg Config
	if err := decode(source.Options, &cfg); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	if cfg.ListURL == "" {
		return nil, errors.New("list_url is required")
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	return &Adapter{source: source, cfg: cfg, fetcher: fetcher}, nil
}

// EnumerateCandidates follows has_more until the feed is exhausted. A feed
// still reporting has_more at max_pages yields scraper.ErrTruncated.
func (a *Adapter) EnumerateCandidates(ctx context.Context, emit func(models.RawCandidate) error) error {
	paginated := strings.Contains(a.cfg.ListURL, "{page}")

	for page := 1; page <= a.cfg.MaxPages; page++ {
		pageURL := a.pageURL(page)
		body, err := a.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			// Many sites answer past the last page with 404.
			if page > 1 && scraper.IsNotFound(err) {
				return nil
			}
			return fmt.Errorf("list page %d: %w", page, err)
		}

		var lp listPage
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		if err := dec.Decode(&lp); err != nil {
			return &scraper.ParseError{URL: pageURL, Reason: err.Error()}
		}

		for _, item := range lp.Items {
			id := item.externalID()
			detailURL := item.URL
			if detailURL == "" && a.cfg.DetailURL != "" && id != "" {
				detailURL = strings.ReplaceAll(a.cfg.DetailURL, "{id}", url.PathEscape(id))
			}
			if detailURL == "" {
				continue
			}
			if err := emit(models.RawCandidate{
				SourceCode: a.source.Code,
				ExternalID: id,
				DetailURL:  resolve(pageURL, detailURL),
			}); err != nil {
				return err
			}
		}

		if !lp.HasMore || len(lp.Items) == 0 || !paginated {
			return nil
		}
	}
	return fmt.Errorf("%w: stopped after %d pages", scraper.ErrTruncated, a.cfg.MaxPages)
}

// FetchDetail loads one item document.
func (a *Adapter) FetchDetail(ctx context.Context, c models.RawCandidate) (*models.NormalizedListing, error) {
	body, err := a.fetcher.Fetch(ctx, c.DetailURL)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &scraper.ParseError{URL: c.DetailURL, Reason: err.Error()}
	}
	var d detail
	if err := decode(raw, &d); err != nil {
		return nil, &scraper.ParseError{URL: c.DetailURL, Reason: err.Error()}
	}
	if strings.TrimSpace(d.Title) == "" {
		return nil, &scraper.ParseError{URL: c.DetailURL, Reason: "missing title"}
	}

	externalID := d.ID
	if externalID == "" {
		externalID = c.ExternalID
	}
	currency := d.Currency
	if currency == "" {
		currency = a.cfg.Currency
	}

	return &models.NormalizedListing{
		ExternalID:   externalID,
		URL:          c.DetailURL,
		Title:        d.Title,
		Description:  d.Description,
		LocationText: d.Location,
		District:     d.District,
		Municipality: d.Municipality,
		Region:       d.Region,
		PropertyType: models.ParsePropertyType(d.PropertyType),
		OfferType:    models.ParseOfferType(d.OfferType),
		Price:        d.Price,
		Currency:     currency,
		FloorArea:    d.FloorArea,
		LandArea:     d.LandArea,
		Rooms:        utils.ParseCount(d.Rooms),
		Condition:    models.ParseCondition(d.Condition),
		Construction: models.ParseConstruction(d.Construction),
		Photos:       d.Photos,
	}, nil
}

func (a *Adapter) pageURL(page int) string {
	u := strings.ReplaceAll(a.cfg.ListURL, "{page}", strconv.Itoa(page))
	if a.cfg.CacheBust {
		a.bust++
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + "_hv=" + strconv.FormatInt(a.bust, 10)
	}
	return u
}

// decode maps a generic JSON object onto out. Strings holding formatted
// amounts are accepted for float fields.
func decode(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.DecodeHookFuncType(amountHook),
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

func amountHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Float64 {
		return data, nil
	}
	return utils.ParseAmount(reflect.ValueOf(data).String()), nil
}

func resolve(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
