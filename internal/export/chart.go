package export

import (
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"spread-scanner/internal/spread"
)

// ErrNotEnoughData is returned when a chart would have no drawable range.
var ErrNotEnoughData = errors.New("not enough data to render chart")

// HistoryPoint summarises one persisted cycle for the history chart.
type HistoryPoint struct {
	At            time.Time
	BestNetPct    decimal.Decimal
	Opportunities int
}

// WriteRankedPNG renders the net spread of each ranked opportunity as bars.
func WriteRankedPNG(w io.Writer, results []spread.Result) error {
	if len(results) == 0 {
		return ErrNotEnoughData
	}
	bars := make([]chart.Value, 0, len(results))
	for _, r := range results {
		bars = append(bars, chart.Value{
			Label: fmt.Sprintf("%s %s>%s", r.Symbol, r.BuyVenue, r.SellVenue),
			Value: r.NetSpreadPct.InexactFloat64(),
		})
	}
	graph := chart.BarChart{
		Title:    "Net spread (%)",
		Width:    max(640, 90*len(bars)),
		Height:   512,
		BarWidth: 60,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Bottom: 40},
		},
		YAxis: chart.YAxis{
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.3f")
			},
		},
		Bars: bars,
	}
	return graph.Render(chart.PNG, w)
}

// WriteHistoryPNG renders the best net spread per cycle over time with the
// number of ranked opportunities on the secondary axis.
func WriteHistoryPNG(w io.Writer, points []HistoryPoint) error {
	if len(points) < 2 {
		return ErrNotEnoughData
	}
	x := make([]time.Time, len(points))
	best := make([]float64, len(points))
	count := make([]float64, len(points))
	for i, p := range points {
		x[i] = p.At
		best[i] = p.BestNetPct.InexactFloat64()
		count[i] = float64(p.Opportunities)
	}

	pctFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.3f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Best net spread (%)",
			ValueFormatter: pctFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name: "Opportunities",
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Best net %",
				XValues: x,
				YValues: best,
			},
			chart.TimeSeries{
				Name:    "Opportunities",
				XValues: x,
				YValues: count,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}
	return graph.Render(chart.PNG, w)
}

// Downsample keeps at most limit evenly spaced items, always including the
// first and last.
func Downsample[T any](items []T, limit int) []T {
	if limit <= 0 || len(items) <= limit {
		return items
	}
	if limit == 1 {
		return items[len(items)-1:]
	}
	out := make([]T, 0, limit)
	step := float64(len(items)-1) / float64(limit-1)
	for i := 0; i < limit; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(items) {
			idx = len(items) - 1
		}
		out = append(out, items[idx])
	}
	return out
}
