package services

import (
	"strings"

	"estate-harvester/models"
)

// Rejection reasons, one per stage.
const (
	ReasonGeo     = "geo"
	ReasonQuality = "quality"
	ReasonPrice   = "price"
)

// NoPriceCeiling disables the price check for a property type. Any
// ceiling at or below it does the same.
const NoPriceCeiling = 0.0

// Stage is one admission predicate of the filter pipeline.
type Stage interface {
	Name() string
	Admit(l *models.NormalizedListing) bool
}

// FilterPipeline runs stages in order and stops at the first rejection.
type FilterPipeline struct {
	stages []Stage
}

// NewFilterPipeline builds a pipeline from explicit stages.
func NewFilterPipeline(stages ...Stage) *FilterPipeline {
	return &FilterPipeline{stages: stages}
}

// DefaultFilterPipeline is geo → quality → price.
func DefaultFilterPipeline(areas []string, ceilings map[string]float64) *FilterPipeline {
	return NewFilterPipeline(NewGeoStage(areas), QualityStage{}, NewPriceStage(ceilings))
}

// Evaluate returns whether l is admitted and, if not, the name of the
// rejecting stage.
func (p *FilterPipeline) Evaluate(l *models.NormalizedListing) (admitted bool, reason string) {
	for _, s := range p.stages {
		if !s.Admit(l) {
			return false, s.Name()
		}
	}
	return true, ""
}

// GeoStage admits listings whose location mentions a target area.
type GeoStage struct {
	keywords []string
}

// NewGeoStage creates a GeoStage. With no keywords every listing passes.
func NewGeoStage(areas []string) *GeoStage {
	g := &GeoStage{}
	for _, a := range areas {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			g.keywords = append(g.keywords, a)
		}
	}
	return g
}

func (g *GeoStage) Name() string { return ReasonGeo }

func (g *GeoStage) Admit(l *models.NormalizedListing) bool {
	if len(g.keywords) == 0 {
		return true
	}
	for _, field := range []string{l.LocationText, l.District, l.Municipality, l.Region} {
		field = strings.ToLower(field)
		if field == "" {
			continue
		}
		for _, kw := range g.keywords {
			if strings.Contains(field, kw) {
				return true
			}
		}
	}
	return false
}

// QualityStage rejects listings that cannot be displayed meaningfully.
type QualityStage struct{}

func (QualityStage) Name() string { return ReasonQuality }

func (QualityStage) Admit(l *models.NormalizedListing) bool {
	return strings.TrimSpace(l.Title) != "" &&
		strings.TrimSpace(l.Description) != "" &&
		l.Price > 0
}

// PriceStage rejects listings above the ceiling for their property type.
type PriceStage struct {
	ceilings map[models.PropertyType]float64
}

// NewPriceStage creates a PriceStage from ceilings keyed by property type
// name.
func NewPriceStage(ceilings map[string]float64) *PriceStage {
	p := &PriceStage{ceilings: make(map[models.PropertyType]float64, len(ceilings))}
	for k, v := range ceilings {
		p.ceilings[models.ParsePropertyType(k)] = v
	}
	return p
}

func (p *PriceStage) Name() string { return ReasonPrice }

func (p *PriceStage) Admit(l *models.NormalizedListing) bool {
	ceiling, ok := p.ceilings[l.PropertyType]
	if !ok || ceiling <= NoPriceCeiling {
		return true
	}
	return l.Price <= ceiling
}
