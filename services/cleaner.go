package services

import (
	"net/url"
	"strings"

	"estate-harvester/models"
	"estate-harvester/utils"
)

// Cleaner normalises listings coming out of adapters into the canonical
// shape the filter pipeline and the store expect.
type Cleaner struct {
	logger utils.Logger
}

// NewCleaner creates a Cleaner with the given logger.
func NewCleaner(logger utils.Logger) *Cleaner {
	return &Cleaner{logger: logger}
}

// Clean normalises l in place for source. It returns false when the
// listing has neither an external id nor a URL and so cannot be keyed.
func (c *Cleaner) Clean(source models.Source, l *models.NormalizedListing) bool {
	l.SourceID = source.ID

	l.URL = resolveURL(source.BaseURL, l.URL)
	l.ExternalID = strings.TrimSpace(l.ExternalID)
	if l.ExternalID == "" {
		l.ExternalID = l.URL
	}
	if l.ExternalID == "" {
		c.logger.Warn("Dropping listing without identity",
			utils.String("source", source.Code), utils.String("title", l.Title))
		return false
	}

	l.Title = utils.NormaliseText(l.Title)
	l.Description = utils.NormaliseText(l.Description)
	l.LocationText = utils.NormaliseText(l.LocationText)
	l.District = utils.NormaliseText(l.District)
	l.Municipality = utils.NormaliseText(l.Municipality)
	l.Region = utils.NormaliseText(l.Region)
	l.Currency = strings.ToUpper(strings.TrimSpace(l.Currency))

	l.PropertyType = models.ParsePropertyType(string(l.PropertyType))
	l.OfferType = models.ParseOfferType(string(l.OfferType))
	l.Condition = models.ParseCondition(string(l.Condition))
	l.Construction = models.ParseConstruction(string(l.Construction))

	if l.FloorArea < 0 {
		l.FloorArea = 0
	}
	if l.LandArea < 0 {
		l.LandArea = 0
	}
	if l.Rooms < 0 {
		l.Rooms = 0
	}

	l.Photos = c.cleanPhotos(l.URL, l.Photos)
	return true
}

// cleanPhotos resolves relative URLs and drops empty and duplicate entries,
// preserving order.
func (c *Cleaner) cleanPhotos(base string, photos []string) []string {
	if len(photos) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(photos))
	out := make([]string, 0, len(photos))
	for _, p := range photos {
		p = resolveURL(base, p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			c.logger.Debug("Duplicate photo skipped", utils.String("url", p))
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func resolveURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || base == "" {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil || r.IsAbs() {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
