// Package generator draws synthetic campaign interactions from the scenario
// catalog and emits the two transition sets plus the supervised dataset.
package generator

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"math"
	"math/rand/v2"
	"time"

	"github.com/raphalvezz/loocac/internal/demand"
	"github.com/raphalvezz/loocac/internal/logger"
	"github.com/raphalvezz/loocac/internal/scenario"
)

const (
	DefaultSamplesPerScenario = 5000
	DefaultSeed               = 42

	mockDaysSinceInteraction = 30
	mockCLVPercentile        = 0.5
	mockPriceVolatility      = 1.0

	cancelCheckEvery = 1024
)

type Options struct {
	SamplesPerScenario int
	Seed               uint64
	// Balanced walks the table in order instead of sampling scenarios.
	Balanced  bool
	Regions   []string
	Platforms []string
	Context   Context
}

func (o Options) withDefaults() Options {
	if o.SamplesPerScenario <= 0 {
		o.SamplesPerScenario = DefaultSamplesPerScenario
	}
	if len(o.Regions) == 0 {
		o.Regions = DefaultRegions
	}
	if len(o.Platforms) == 0 {
		o.Platforms = DefaultPlatforms
	}
	if o.Context == (Context{}) {
		o.Context = FixedContext
	}
	return o
}

// Dataset is everything one generation run produces.
type Dataset struct {
	Seed         uint64
	OneShot      []Transition
	Subscription []Transition
	Supervised   []SupervisedRow
	Fingerprint  string
}

func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.OneShot)
}

type Generator struct {
	catalog *scenario.Catalog
	opts    Options
}

func New(catalog *scenario.Catalog, opts Options) (*Generator, error) {
	if catalog == nil || catalog.Len() == 0 {
		return nil, fmt.Errorf("%w: generator needs a non-empty catalog", scenario.ErrConfiguration)
	}
	return &Generator{catalog: catalog, opts: opts.withDefaults()}, nil
}

// Generate is deterministic for a given seed, catalog and sample count.
func (g *Generator) Generate(ctx context.Context) (*Dataset, error) {
	start := time.Now()
	opts := g.opts
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	table := g.catalog.Scenarios()
	total := opts.SamplesPerScenario * len(table)

	ds := &Dataset{
		Seed:         opts.Seed,
		OneShot:      make([]Transition, 0, total),
		Subscription: make([]Transition, 0, total),
		Supervised:   make([]SupervisedRow, 0, total),
	}
	fp := sha256.New()
	for i := 0; i < total; i++ {
		if i%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		var sc scenario.Scenario
		if opts.Balanced {
			sc = table[i/opts.SamplesPerScenario]
		} else {
			var err error
			if sc, err = g.catalog.Sample(rng); err != nil {
				return nil, err
			}
		}
		base := CampaignState{
			Region:          opts.Regions[rng.IntN(len(opts.Regions))],
			Platform:        opts.Platforms[rng.IntN(len(opts.Platforms))],
			Tier:            sc.Tier,
			AgeBand:         opts.Context.AgeBand,
			Gender:          opts.Context.Gender,
			ContentType:     opts.Context.ContentType,
			ProductType:     opts.Context.ProductType,
			BillingModel:    opts.Context.BillingModel,
			OfferComplexity: opts.Context.OfferComplexity,
			Budget:          sc.Budget,
		}
		price, cost := demand.SamplePriceAndCost(sc, rng)
		profit := demand.OneShotReward(sc, price, cost)
		ltv := demand.LifetimeValueReward(price, cost)

		sub := base
		sub.Memory = Memory{
			DaysSinceLastInteraction: mockDaysSinceInteraction,
			CLVPercentile:            mockCLVPercentile,
			AvgPrice90d:              sc.PriceMin,
			PriceVolatility30d:       mockPriceVolatility,
		}

		ds.OneShot = append(ds.OneShot, Transition{Observation: base, Action: price, Reward: profit})
		ds.Subscription = append(ds.Subscription, Transition{Observation: sub, Action: price, Reward: ltv})
		ds.Supervised = append(ds.Supervised, SupervisedRow{
			State:           base,
			SampledPrice:    price,
			AcquisitionCost: cost,
			RealizedProfit:  profit,
		})
		writeSample(fp, base, price, cost, profit, ltv)
	}
	ds.Fingerprint = hex.EncodeToString(fp.Sum(nil))
	logger.Infof("generator: %d samples over %d scenarios seed=%d in %s fingerprint=%s",
		total, len(table), opts.Seed, time.Since(start).Round(time.Millisecond), ds.Fingerprint[:12])
	return ds, nil
}

func writeSample(h hash.Hash, s CampaignState, values ...float64) {
	for _, v := range []string{s.Region, s.Platform, string(s.Tier)} {
		h.Write([]byte(v))
		h.Write([]byte{0})
	}
	var buf [8]byte
	for _, v := range append([]float64{s.Budget}, values...) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
}
