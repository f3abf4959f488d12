package models

import (
	"strings"
	"time"
)

// RawCandidate is a provisionally identified listing produced while
// enumerating a source's list pages. It is never persisted.
type RawCandidate struct {
	SourceCode string
	// ExternalID is source-scoped and may be empty when the list page does
	// not expose one.
	ExternalID string
	DetailURL  string
}

// NormalizedListing is the canonical record for one listing, keyed by
// (SourceID, ExternalID).
type NormalizedListing struct {
	ID           int64        `db:"id" json:"id"`
	SourceID     int64        `db:"source_id" json:"sourceId"`
	ExternalID   string       `db:"external_id" json:"externalId"`
	URL          string       `db:"url" json:"url"`
	Title        string       `db:"title" json:"title"`
	Description  string       `db:"description" json:"description"`
	LocationText string       `db:"location_text" json:"locationText"`
	District     string       `db:"district" json:"district"`
	Municipality string       `db:"municipality" json:"municipality"`
	Region       string       `db:"region" json:"region"`
	PropertyType PropertyType `db:"property_type" json:"propertyType"`
	OfferType    OfferType    `db:"offer_type" json:"offerType"`
	Price        float64      `db:"price" json:"price"`
	Currency     string       `db:"currency" json:"currency"`
	FloorArea    float64      `db:"floor_area" json:"floorArea"`
	LandArea     float64      `db:"land_area" json:"landArea"`
	Rooms        int          `db:"rooms" json:"rooms"`
	Condition    Condition    `db:"condition" json:"condition"`
	Construction Construction `db:"construction" json:"construction"`
	Photos       []string     `db:"-" json:"photos"`
	FirstSeenAt  time.Time    `db:"first_seen_at" json:"firstSeenAt"`
	LastSeenAt   time.Time    `db:"last_seen_at" json:"lastSeenAt"`
	IsActive     bool         `db:"is_active" json:"isActive"`
}

// ListingKey is the natural key of a listing.
type ListingKey struct {
	SourceID   int64
	ExternalID string
}

// Key returns the listing's natural key.
func (l *NormalizedListing) Key() ListingKey {
	return ListingKey{SourceID: l.SourceID, ExternalID: l.ExternalID}
}

// Photo is one entry of a listing's ordered photo set.
type Photo struct {
	ListingID int64  `db:"listing_id"`
	Position  int    `db:"position"`
	URL       string `db:"url"`
}

// UpsertOutcome reports which branch a reconciliation took.
type UpsertOutcome int

const (
	Inserted UpsertOutcome = iota + 1
	Updated
)

func (o UpsertOutcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	default:
		return "unknown"
	}
}

type PropertyType string

const (
	PropertyHouse      PropertyType = "house"
	PropertyApartment  PropertyType = "apartment"
	PropertyLand       PropertyType = "land"
	PropertyCommercial PropertyType = "commercial"
	PropertyOther      PropertyType = "other"
)

type OfferType string

const (
	OfferSale OfferType = "sale"
	OfferRent OfferType = "rent"
)

type Condition string

const (
	ConditionNew             Condition = "new"
	ConditionVeryGood        Condition = "very_good"
	ConditionGood            Condition = "good"
	ConditionNeedsRenovation Condition = "needs_renovation"
	ConditionUnknown         Condition = "unknown"
)

type Construction string

const (
	ConstructionBrick   Construction = "brick"
	ConstructionPanel   Construction = "panel"
	ConstructionWood    Construction = "wood"
	ConstructionMixed   Construction = "mixed"
	ConstructionOther   Construction = "other"
	ConstructionUnknown Construction = "unknown"
)

// Sources label the same thing in Czech and English, sometimes with
// diacritics stripped; the first synonym contained in the text wins.
var (
	propertySynonyms = []synonym[PropertyType]{
		{PropertyApartment, []string{"apartment", "flat", "byt"}},
		{PropertyHouse, []string{"house", "rodinný dům", "rodinny dum", "dům", "dum", "chalupa", "chata", "villa", "vila"}},
		{PropertyLand, []string{"land", "plot", "pozemek", "parcela"}},
		{PropertyCommercial, []string{"commercial", "office", "komerční", "komercni", "kancelář", "obchod"}},
	}
	offerSynonyms = []synonym[OfferType]{
		{OfferRent, []string{"rent", "lease", "pronájem", "pronajem"}},
		{OfferSale, []string{"sale", "sell", "prodej"}},
	}
	conditionSynonyms = []synonym[Condition]{
		{ConditionNeedsRenovation, []string{"renovation", "před rekonstrukcí", "pred rekonstrukci", "špatný", "spatny"}},
		{ConditionNew, []string{"new", "novostavba", "nový", "novy"}},
		{ConditionVeryGood, []string{"very good", "velmi dobrý", "velmi dobry", "po rekonstrukci"}},
		{ConditionGood, []string{"good", "dobrý", "dobry"}},
	}
	constructionSynonyms = []synonym[Construction]{
		{ConstructionBrick, []string{"brick", "cihl"}},
		{ConstructionPanel, []string{"panel"}},
		{ConstructionWood, []string{"wood", "dřev", "drev"}},
		{ConstructionMixed, []string{"mixed", "smíšen", "smisen"}},
	}
)

type synonym[T ~string] struct {
	value T
	words []string
}

func matchSynonym[T ~string](raw string, table []synonym[T], fallback T) T {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return fallback
	}
	for _, entry := range table {
		if string(entry.value) == s {
			return entry.value
		}
	}
	for _, entry := range table {
		for _, w := range entry.words {
			if strings.Contains(s, w) {
				return entry.value
			}
		}
	}
	return fallback
}

// ParsePropertyType maps free text onto a PropertyType.
func ParsePropertyType(raw string) PropertyType {
	return matchSynonym(raw, propertySynonyms, PropertyOther)
}

// ParseOfferType maps free text onto an OfferType, defaulting to sale.
func ParseOfferType(raw string) OfferType {
	return matchSynonym(raw, offerSynonyms, OfferSale)
}

// ParseCondition maps free text onto a Condition.
func ParseCondition(raw string) Condition {
	return matchSynonym(raw, conditionSynonyms, ConditionUnknown)
}

// ParseConstruction maps free text onto a Construction.
func ParseConstruction(raw string) Construction {
	if s := strings.ToLower(strings.TrimSpace(raw)); s == "" || s == string(ConstructionUnknown) {
		return ConstructionUnknown
	}
	return matchSynonym(raw, constructionSynonyms, ConstructionOther)
}
