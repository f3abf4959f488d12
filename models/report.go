package models

// InsightReport holds the computed analytics over the canonical listing set.
type InsightReport struct {
	TotalListings    int
	ActiveListings   int
	InactiveListings int
	BySource         map[int64]int
	PriceByType      map[PropertyType]PriceStats
	MostExpensive    *NormalizedListing
}

// PriceStats summarises the prices of active listings of one property type.
type PriceStats struct {
	Count   int
	Min     float64
	Max     float64
	Average float64
}
