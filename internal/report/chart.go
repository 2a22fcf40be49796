package report

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	"github.com/shopspring/decimal"

	"github.com/raphalvezz/loocac/internal/demand"
	"github.com/raphalvezz/loocac/internal/scenario"
)

const (
	colorConversions = "#3b82f6"
	colorProfit      = "#34d399"

	chartWidthPx  = 720
	chartHeightPx = 380
	gridPoints    = 40
)

// WriteChart renders one demand curve per row: conversions and expected
// profit against price, with the recommended and analytic prices marked.
func WriteChart(w io.Writer, rows []Row) error {
	if len(rows) == 0 {
		return fmt.Errorf("report: no rows to chart")
	}
	page := components.NewPage()
	page.PageTitle = "LOCAC demand curves"
	page.SetLayout(components.PageFlexLayout)
	for _, r := range rows {
		page.AddCharts(demandChart(r))
	}
	return page.Render(w)
}

func demandChart(r Row) *charts.Line {
	s := r.Scenario
	marks := []float64{r.AnalyticPrice}
	if r.Result != nil {
		marks = append(marks, r.Result.Price)
	}
	grid := priceGrid(s, marks...)

	xAxis := make([]string, len(grid))
	conv := make([]opts.LineData, len(grid))
	profit := make([]opts.LineData, len(grid))
	for i, p := range grid {
		xAxis[i] = label(p)
		conv[i] = opts.LineData{Value: round2(demand.Conversions(s, p))}
		profit[i] = opts.LineData{Value: round2(demand.ExpectedProfit(s, p))}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:  types.ThemeWesteros,
			Width:  fmt.Sprintf("%dpx", chartWidthPx),
			Height: fmt.Sprintf("%dpx", chartHeightPx),
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("%s (%s)", r.Name, s.Tier),
			Subtitle: subtitle(r),
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "price", Type: "category"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "conversions", Scale: opts.Bool(true)}),
	)
	line.SetXAxis(xAxis)

	convOpts := []charts.SeriesOpts{
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorConversions, Width: 2}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithMarkLineNameXAxisItemOpts(opts.MarkLineNameXAxisItem{Name: "optimum", XAxis: label(r.AnalyticPrice)}),
	}
	if r.Result != nil {
		convOpts = append(convOpts,
			charts.WithMarkPointNameCoordItemOpts(opts.MarkPointNameCoordItem{
				Name:       "recommended",
				Coordinate: []interface{}{label(r.Result.Price), round2(demand.Conversions(s, r.Result.Price))},
				Symbol:     "pin",
			}),
		)
	}
	line.AddSeries("conversions", conv, convOpts...)
	line.AddSeries("expected profit", profit,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorProfit, Width: 1, Opacity: opts.Float(0.6)}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	return line
}

// priceGrid spans [0.5*price_min, price_max] evenly and includes every
// extra price so marks land on a category.
func priceGrid(s scenario.Scenario, extra ...float64) []float64 {
	lo, hi := 0.5*s.PriceMin, s.PriceMax
	step := (hi - lo) / float64(gridPoints-1)
	seen := make(map[string]bool, gridPoints+len(extra))
	out := make([]float64, 0, gridPoints+len(extra))
	add := func(p float64) {
		if k := label(p); !seen[k] {
			seen[k] = true
			out = append(out, p)
		}
	}
	for i := 0; i < gridPoints; i++ {
		add(lo + float64(i)*step)
	}
	for _, p := range extra {
		add(p)
	}
	sort.Float64s(out)
	return out
}

func subtitle(r Row) string {
	if r.Result == nil {
		return fmt.Sprintf("budget $%.0f, optimum $%.2f, %s", r.Scenario.Budget, r.AnalyticPrice, r.Error)
	}
	return fmt.Sprintf("budget $%.0f, optimum $%.2f, recommended $%.2f", r.Scenario.Budget, r.AnalyticPrice, r.Result.Price)
}

func label(p float64) string { return strconv.FormatFloat(p, 'f', 2, 64) }

func round2(v float64) float64 { return decimal.NewFromFloat(v).Round(2).InexactFloat64() }
