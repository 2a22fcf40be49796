// Package report evaluates the served policy on a fixed scenario table and
// renders the results as a text table and an HTML demand chart.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/raphalvezz/loocac/internal/demand"
	"github.com/raphalvezz/loocac/internal/generator"
	"github.com/raphalvezz/loocac/internal/recommend"
	"github.com/raphalvezz/loocac/internal/scenario"
)

// Recommender is the slice of recommend.Service used here.
type Recommender interface {
	Recommend(ctx context.Context, regime generator.Regime, req recommend.Request) (recommend.Recommendation, error)
}

// Row is one evaluated scenario.
type Row struct {
	Name           string                    `json:"name"`
	Scenario       scenario.Scenario         `json:"scenario"`
	AnalyticPrice  float64                   `json:"analytic_price"`
	AnalyticProfit float64                   `json:"analytic_profit"`
	Result         *recommend.Recommendation `json:"result,omitempty"`
	Error          string                    `json:"error,omitempty"`
}

// Options hold the ceteris-paribus context shared by every row.
type Options struct {
	Regime   generator.Regime
	Region   string
	Platform string
}

func (o Options) withDefaults() Options {
	if o.Regime == "" {
		o.Regime = generator.RegimeOneShot
	}
	if o.Region == "" {
		o.Region = generator.DefaultRegions[0]
	}
	if o.Platform == "" {
		o.Platform = generator.DefaultPlatforms[0]
	}
	return o
}

// Build asks rec for a price on every scenario of catalog. A failing row is
// recorded, not fatal, unless no release is loaded at all.
func Build(ctx context.Context, rec Recommender, catalog *scenario.Catalog, opts Options) ([]Row, error) {
	if catalog == nil || catalog.Len() == 0 {
		return nil, fmt.Errorf("%w: empty scenario catalog", scenario.ErrConfiguration)
	}
	opts = opts.withDefaults()
	list := catalog.Scenarios()
	rows := make([]Row, 0, len(list))
	for i, s := range list {
		price, profit := demand.AnalyticOptimum(s)
		row := Row{
			Name:           fmt.Sprintf("Scenario %d", i+1),
			Scenario:       s,
			AnalyticPrice:  price,
			AnalyticProfit: profit,
		}
		out, err := rec.Recommend(ctx, opts.Regime, requestFor(s, opts))
		switch {
		case err == nil:
			row.Result = &out
		case recommend.Code(err) == recommend.CodeNotConfigured:
			return nil, err
		case errors.Is(err, context.Canceled):
			return rows, err
		default:
			row.Error = fmt.Sprintf("%s: %v", recommend.Code(err), err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func requestFor(s scenario.Scenario, opts Options) recommend.Request {
	fc := generator.FixedContext
	return recommend.Request{
		Region:          opts.Region,
		Platform:        opts.Platform,
		Tier:            string(s.Tier),
		Budget:          s.Budget,
		AgeBand:         fc.AgeBand,
		Gender:          fc.Gender,
		ContentType:     fc.ContentType,
		ProductType:     fc.ProductType,
		BillingModel:    fc.BillingModel,
		OfferComplexity: fc.OfferComplexity,
		AvgPrice90d:     s.PriceMin,
	}
}

// WriteTable prints rows as an aligned text table.
func WriteTable(w io.Writer, rows []Row) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(tw, "SCENARIO\tTIER\tBUDGET\tOPTIMAL PRICE\tRECOMMENDED\tEXPECTED PROFIT\tVAR 5%\tCVAR 5%\t")
	for _, r := range rows {
		if r.Result == nil {
			fmt.Fprintf(tw, "%s\t%s\t$%.0f\t$%.2f\t%s\t\t\t\t\n", r.Name, r.Scenario.Tier, r.Scenario.Budget, r.AnalyticPrice, r.Error)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t$%.0f\t$%.2f\t$%.2f\t$%.2f\t$%.2f\t$%.2f\t\n",
			r.Name, r.Scenario.Tier, r.Scenario.Budget, r.AnalyticPrice,
			r.Result.Price, r.Result.ExpectedProfit, r.Result.VaR5, r.Result.CVaR5)
	}
	return tw.Flush()
}
