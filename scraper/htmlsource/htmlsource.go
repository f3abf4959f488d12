// Package htmlsource implements a source adapter driven by CSS selectors, so
// a new website can be added by configuration rather than code.
package htmlsource

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mitchellh/mapstructure"

	"estate-harvester/models"
	"estate-harvester/scraper"
	"estate-harvester/utils"
)

// Kind is the registry key of this adapter.
const Kind = "html"

const (
	pagePlaceholder = "{page}"
	// defaultMaxPages stops runaway pagination when max_pages is not set.
	defaultMaxPages = 500
)

// Config is decoded from the source's options.
type Config struct {
	ListURL           string `mapstructure:"list_url"`
	MaxPages          int    `mapstructure:"max_pages"`
	CacheBust         bool   `mapstructure:"cache_bust"`
	ItemSelector      string `mapstructure:"item_selector"`
	ItemIDAttr        string `mapstructure:"item_id_attr"`
	ExternalIDPattern string `mapstructure:"external_id_pattern"`
	Currency          string `mapstructure:"currency"`
	Fields            Fields `mapstructure:"fields"`
}

// Fields holds one selector per listing attribute. A selector may end in
// "@attr" to read an attribute instead of the element text.
type Fields struct {
	ExternalID   string `mapstructure:"external_id"`
	Title        string `mapstructure:"title"`
	Description  string `mapstructure:"description"`
	Location     string `mapstructure:"location"`
	District     string `mapstructure:"district"`
	Municipality string `mapstructure:"municipality"`
	Region       string `mapstructure:"region"`
	Price        string `mapstructure:"price"`
	FloorArea    string `mapstructure:"floor_area"`
	LandArea     string `mapstructure:"land_area"`
	Rooms        string `mapstructure:"rooms"`
	PropertyType string `mapstructure:"property_type"`
	OfferType    string `mapstructure:"offer_type"`
	Condition    string `mapstructure:"condition"`
	Construction string `mapstructure:"construction"`
	Photos       string `mapstructure:"photos"`
	PhotoAttr    string `mapstructure:"photo_attr"`
}

// Adapter lists and parses one HTML source.
type Adapter struct {
	source  models.Source
	cfg     Config
	idRe    *regexp.Regexp
	fetcher scraper.Fetcher
	now     func() time.Time
}

// New is the scraper.Factory for html sources.
func New(source models.Source, fetcher scraper.Fetcher) (scraper.Adapter, error) {
	var cfg Config
	if err := decodeOptions(source.Options, &cfg); err != nil {
		return nil, err
	}
	if cfg.ListURL == "" {
		return nil, errors.New("list_url is required")
	}
	if cfg.ItemSelector == "" {
		return nil, errors.New("item_selector is required")
	}
	if cfg.Fields.Title == "" {
		return nil, errors.New("fields.title is required")
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.Fields.PhotoAttr == "" {
		cfg.Fields.PhotoAttr = "src"
	}

	a := &Adapter{source: source, cfg: cfg, fetcher: fetcher, now: time.Now}
	if cfg.ExternalIDPattern != "" {
		re, err := regexp.Compile(cfg.ExternalIDPattern)
		if err != nil {
			return nil, fmt.Errorf("external_id_pattern: %w", err)
		}
		a.idRe = re
	}
	return a, nil
}

func decodeOptions(options map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(options); err != nil {
		return fmt.Errorf("decode options: %w", err)
	}
	return nil
}

// EnumerateCandidates walks list pages until one yields no unseen item or
// answers 404. Reaching max_pages with new items still coming returns
// scraper.ErrTruncated.
func (a *Adapter) EnumerateCandidates(ctx context.Context, emit func(models.RawCandidate) error) error {
	seen := utils.NewKeySet()
	paginated := strings.Contains(a.cfg.ListURL, pagePlaceholder)

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
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			return &scraper.ParseError{URL: pageURL, Reason: err.Error()}
		}

		fresh := 0
		var emitErr error
		doc.Find(a.cfg.ItemSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			href, ok := s.Attr("href")
			if !ok {
				href, _ = s.Find("a[href]").First().Attr("href")
			}
			detailURL := resolve(pageURL, href)
			if detailURL == "" || !seen.Add(detailURL) {
				return true
			}
			fresh++

			externalID := ""
			if a.cfg.ItemIDAttr != "" {
				externalID, _ = s.Attr(a.cfg.ItemIDAttr)
			}
			if externalID == "" {
				externalID = a.idFromURL(detailURL)
			}

			emitErr = emit(models.RawCandidate{
				SourceCode: a.source.Code,
				ExternalID: strings.TrimSpace(externalID),
				DetailURL:  detailURL,
			})
			return emitErr == nil
		})
		if emitErr != nil {
			return emitErr
		}
		if fresh == 0 || !paginated {
			return nil
		}
	}
	return fmt.Errorf("%w: stopped after %d pages", scraper.ErrTruncated, a.cfg.MaxPages)
}

// FetchDetail loads and parses one detail page.
func (a *Adapter) FetchDetail(ctx context.Context, c models.RawCandidate) (*models.NormalizedListing, error) {
	body, err := a.fetcher.Fetch(ctx, c.DetailURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &scraper.ParseError{URL: c.DetailURL, Reason: err.Error()}
	}

	f := a.cfg.Fields
	title := extract(doc, f.Title)
	if title == "" {
		return nil, &scraper.ParseError{URL: c.DetailURL, Reason: "title selector matched nothing"}
	}

	externalID := extract(doc, f.ExternalID)
	if externalID == "" {
		externalID = c.ExternalID
	}
	if externalID == "" {
		externalID = a.idFromURL(c.DetailURL)
	}

	listing := &models.NormalizedListing{
		ExternalID:   externalID,
		URL:          c.DetailURL,
		Title:        title,
		Description:  extract(doc, f.Description),
		LocationText: extract(doc, f.Location),
		District:     extract(doc, f.District),
		Municipality: extract(doc, f.Municipality),
		Region:       extract(doc, f.Region),
		PropertyType: models.ParsePropertyType(extract(doc, f.PropertyType)),
		OfferType:    models.ParseOfferType(extract(doc, f.OfferType)),
		Price:        utils.ParseAmount(extract(doc, f.Price)),
		Currency:     a.cfg.Currency,
		FloorArea:    utils.ParseAmount(extract(doc, f.FloorArea)),
		LandArea:     utils.ParseAmount(extract(doc, f.LandArea)),
		Rooms:        utils.ParseCount(extract(doc, f.Rooms)),
		Condition:    models.ParseCondition(extract(doc, f.Condition)),
		Construction: models.ParseConstruction(extract(doc, f.Construction)),
	}

	if f.Photos != "" {
		doc.Find(f.Photos).Each(func(_ int, s *goquery.Selection) {
			src, ok := s.Attr(f.PhotoAttr)
			if !ok || src == "" {
				src, _ = s.Attr("data-src")
			}
			if u := resolve(c.DetailURL, src); u != "" {
				listing.Photos = append(listing.Photos, u)
			}
		})
	}
	return listing, nil
}

func (a *Adapter) pageURL(page int) string {
	u := strings.ReplaceAll(a.cfg.ListURL, pagePlaceholder, strconv.Itoa(page))
	if a.cfg.CacheBust {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + "_hv=" + strconv.FormatInt(a.now().UnixNano(), 36)
	}
	return u
}

func (a *Adapter) idFromURL(u string) string {
	if a.idRe == nil {
		return ""
	}
	m := a.idRe.FindStringSubmatch(u)
	switch {
	case len(m) > 1:
		return m[1]
	case len(m) == 1:
		return m[0]
	default:
		return ""
	}
}

// extract returns the trimmed text (or "@attr" value) of the first match.
func extract(doc *goquery.Document, selector string) string {
	if selector == "" {
		return ""
	}
	attr := ""
	if i := strings.LastIndex(selector, "@"); i > 0 {
		selector, attr = selector[:i], selector[i+1:]
	}
	sel := doc.Find(selector).First()
	if attr != "" {
		v, _ := sel.Attr(attr)
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(sel.Text())
}

func resolve(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return b.ResolveReference(r).String()
}
