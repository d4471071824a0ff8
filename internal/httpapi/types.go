// Package httpapi provides the HTTP JSON API behind the download dashboard,
// serving the ledger aggregations of package dashboard.
package httpapi

import (
	"time"

	"downloadreport/internal/dashboard"
	"downloadreport/internal/domain"
)

// RowJSON is one ledger row.
type RowJSON struct {
	ReportDate    string `json:"reportDate"`
	IngestionDate string `json:"ingestionDate"`
	Platform      string `json:"platform"`
	Name          string `json:"name"`
	Daily         int    `json:"daily"`
	Total         int    `json:"total"`
}

// CardJSON is one headline card.
type CardJSON struct {
	Platform  string `json:"platform,omitempty"`
	Name      string `json:"name"`
	Daily     int    `json:"daily"`
	Delta     *int   `json:"delta,omitempty"`
	DeltaText string `json:"deltaText"`
	Total     int    `json:"total"`
	TotalText string `json:"totalText"`
}

// HeroResponse holds the headline numbers of the latest day.
type HeroResponse struct {
	LatestDate string     `json:"latestDate,omitempty"`
	Cards      []CardJSON `json:"cards"`
	Combined   CardJSON   `json:"combined"`
	Avg7       float64    `json:"avg7"`
	Avg30      float64    `json:"avg30"`
	Avg7Text   string     `json:"avg7Text"`
	Avg30Text  string     `json:"avg30Text"`
	VsAvg7     float64    `json:"vsAvg7"`
	BestDay    int        `json:"bestDay"`
}

// DailyPointJSON is one day of the stacked daily chart.
type DailyPointJSON struct {
	Date       string         `json:"date"`
	ByPlatform map[string]int `json:"byPlatform"`
	Combined   int            `json:"combined"`
}

// DailyResponse is the stacked daily chart.
type DailyResponse struct {
	Points []DailyPointJSON `json:"points"`
}

// PointJSON is one point of a line chart.
type PointJSON struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// SeriesJSON is one named line.
type SeriesJSON struct {
	Platform string      `json:"platform,omitempty"`
	Name     string      `json:"name"`
	Points   []PointJSON `json:"points"`
}

// SeriesResponse holds the lines of a chart.
type SeriesResponse struct {
	Series []SeriesJSON `json:"series"`
}

// ShareJSON is one slice of the platform split.
type ShareJSON struct {
	Platform  string  `json:"platform"`
	Name      string  `json:"name"`
	Downloads int     `json:"downloads"`
	Fraction  float64 `json:"fraction"`
	ShareText string  `json:"shareText"`
}

// SplitResponse is the platform split.
type SplitResponse struct {
	Grand  int         `json:"grand"`
	Shares []ShareJSON `json:"shares"`
}

// RowsResponse is the history table, newest first.
type RowsResponse struct {
	Rows []RowJSON `json:"rows"`
}

// LatestResponse is the latest row per platform plus snapshot metadata.
type LatestResponse struct {
	Version    uint64    `json:"version"`
	UpdatedAt  string    `json:"updatedAt,omitempty"`
	Latest     []RowJSON `json:"latest"`
	GrandTotal int       `json:"grandTotal"`
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(domain.DateLayout)
}

func convertRow(r domain.LedgerRow) RowJSON {
	return RowJSON{
		ReportDate:    formatDate(r.ReportDate),
		IngestionDate: formatDate(r.IngestionDate),
		Platform:      string(r.Platform),
		Name:          r.Platform.DisplayName(),
		Daily:         r.DailyDownloads,
		Total:         r.CumulativeTotal,
	}
}

func convertCard(c dashboard.Card) CardJSON {
	out := CardJSON{
		Platform:  string(c.Platform),
		Name:      "Combined",
		Daily:     c.Daily,
		Delta:     c.Delta,
		DeltaText: "--",
		Total:     c.Total,
		TotalText: dashboard.FormatInt(c.Total),
	}
	if c.Platform != "" {
		out.Name = c.Platform.DisplayName()
	}
	if c.Delta != nil {
		out.DeltaText = dashboard.FormatDelta(*c.Delta) + " vs yesterday"
	}
	return out
}

func convertHero(h dashboard.Hero) HeroResponse {
	out := HeroResponse{
		LatestDate: formatDate(h.LatestDate),
		Cards:      make([]CardJSON, 0, len(h.Cards)),
		Combined:   convertCard(h.Combined),
		Avg7:       h.Avg7,
		Avg30:      h.Avg30,
		Avg7Text:   dashboard.FormatAverage(h.Avg7),
		Avg30Text:  dashboard.FormatAverage(h.Avg30),
		VsAvg7:     h.VsAvg7,
		BestDay:    h.BestDay,
	}
	for _, c := range h.Cards {
		out.Cards = append(out.Cards, convertCard(c))
	}
	return out
}

func convertSeries(series []dashboard.Series) SeriesResponse {
	out := SeriesResponse{Series: make([]SeriesJSON, 0, len(series))}
	for _, s := range series {
		js := SeriesJSON{Platform: string(s.Platform), Name: "Combined", Points: make([]PointJSON, 0, len(s.Points))}
		if s.Platform != "" {
			js.Name = s.Platform.DisplayName()
		}
		for _, p := range s.Points {
			js.Points = append(js.Points, PointJSON{Date: formatDate(p.Date), Value: p.Value})
		}
		out.Series = append(out.Series, js)
	}
	return out
}
