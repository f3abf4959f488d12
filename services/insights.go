package services

import (
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"estate-harvester/models"
	"estate-harvester/utils"
)

type InsightService struct {
	logger utils.Logger
}

func NewInsightService(logger utils.Logger) *InsightService {
	return &InsightService{logger: logger}
}

// Generate computes the report over the canonical listing set. Price
// statistics and the most expensive listing consider active listings only.
func (s *InsightService) Generate(listings []*models.NormalizedListing) *models.InsightReport {
	report := &models.InsightReport{
		BySource:    make(map[int64]int),
		PriceByType: make(map[models.PropertyType]models.PriceStats),
	}
	if len(listings) == 0 {
		return report
	}

	report.TotalListings = len(listings)
	totals := make(map[models.PropertyType]float64)

	for _, l := range listings {
		report.BySource[l.SourceID]++
		if !l.IsActive {
			report.InactiveListings++
			continue
		}
		report.ActiveListings++

		if l.Price <= 0 {
			continue
		}
		st, ok := report.PriceByType[l.PropertyType]
		if !ok {
			st.Min, st.Max = l.Price, l.Price
		}
		st.Count++
		st.Min = min(st.Min, l.Price)
		st.Max = max(st.Max, l.Price)
		totals[l.PropertyType] += l.Price
		report.PriceByType[l.PropertyType] = st

		if report.MostExpensive == nil || l.Price > report.MostExpensive.Price {
			report.MostExpensive = l
		}
	}

	for pt, st := range report.PriceByType {
		st.Average = round2(totals[pt] / float64(st.Count))
		report.PriceByType[pt] = st
	}

	s.logger.Debug("Insight report generated",
		utils.Int("total", report.TotalListings),
		utils.Int("active", report.ActiveListings))
	return report
}

// Render writes the report as tables. sourceNames maps source ids to
// display codes; unknown ids are printed numerically.
func (s *InsightService) Render(w io.Writer, r *models.InsightReport, sourceNames map[int64]string) {
	overview := newTable(w)
	overview.SetTitle("Listings")
	overview.AppendHeader(table.Row{"Total", "Active", "Inactive"})
	overview.AppendRow(table.Row{r.TotalListings, r.ActiveListings, r.InactiveListings})
	overview.Render()

	bySource := newTable(w)
	bySource.SetTitle("By source")
	bySource.AppendHeader(table.Row{"Source", "Listings"})
	ids := make([]int64, 0, len(r.BySource))
	for id := range r.BySource {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return r.BySource[ids[i]] > r.BySource[ids[j]] })
	for _, id := range ids {
		name, ok := sourceNames[id]
		if !ok {
			name = fmt.Sprintf("#%d", id)
		}
		bySource.AppendRow(table.Row{name, r.BySource[id]})
	}
	bySource.AppendFooter(table.Row{"Total", r.TotalListings})
	bySource.Render()

	prices := newTable(w)
	prices.SetTitle("Active prices by property type")
	prices.AppendHeader(table.Row{"Type", "Count", "Min", "Average", "Max"})
	types := make([]string, 0, len(r.PriceByType))
	for pt := range r.PriceByType {
		types = append(types, string(pt))
	}
	sort.Strings(types)
	for _, pt := range types {
		st := r.PriceByType[models.PropertyType(pt)]
		prices.AppendRow(table.Row{pt, st.Count, formatPrice(st.Min), formatPrice(st.Average), formatPrice(st.Max)})
	}
	prices.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})
	prices.Render()

	if r.MostExpensive != nil {
		l := r.MostExpensive
		top := newTable(w)
		top.SetTitle("Most expensive active listing")
		top.AppendRows([]table.Row{
			{"Title", truncate(l.Title, 60)},
			{"Location", truncate(l.LocationText, 60)},
			{"Price", fmt.Sprintf("%s %s", formatPrice(l.Price), l.Currency)},
			{"URL", l.URL},
		})
		top.Render()
	}
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func formatPrice(p float64) string {
	return fmt.Sprintf("%.2f", p)
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
