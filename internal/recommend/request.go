package recommend

import (
	"strings"

	"github.com/raphalvezz/loocac/internal/generator"
	"github.com/raphalvezz/loocac/internal/scenario"
)

// Request is a campaign description. Memory fields are only read by the
// subscription regime; absent means zero (no history).
type Request struct {
	Region          string  `json:"region"`
	Platform        string  `json:"platform"`
	Tier            string  `json:"tier"`
	Budget          float64 `json:"budget"`
	AgeBand         string  `json:"age_band"`
	Gender          string  `json:"gender"`
	ContentType     string  `json:"content_type"`
	ProductType     string  `json:"product_type,omitempty"`
	BillingModel    string  `json:"billing_model,omitempty"`
	OfferComplexity string  `json:"offer_complexity,omitempty"`

	DaysSinceLastInteraction float64 `json:"days_since_last_interaction,omitempty"`
	CLVPercentile            float64 `json:"clv_percentile,omitempty"`
	AvgPrice90d              float64 `json:"avg_price_90d,omitempty"`
	PriceVolatility30d       float64 `json:"price_volatility_30d,omitempty"`
}

// State converts the request into the observation the encoder expects.
// Unrecognised tiers are passed through verbatim so they encode as unseen.
func (r Request) State() generator.CampaignState {
	tier, err := scenario.ParseTier(r.Tier)
	if err != nil {
		tier = scenario.Tier(strings.TrimSpace(r.Tier))
	}
	return generator.CampaignState{
		Region:          strings.TrimSpace(r.Region),
		Platform:        strings.TrimSpace(r.Platform),
		Tier:            tier,
		AgeBand:         strings.TrimSpace(r.AgeBand),
		Gender:          strings.TrimSpace(r.Gender),
		ContentType:     strings.TrimSpace(r.ContentType),
		ProductType:     orDefault(r.ProductType, generator.FixedContext.ProductType),
		BillingModel:    orDefault(r.BillingModel, generator.FixedContext.BillingModel),
		OfferComplexity: orDefault(r.OfferComplexity, generator.FixedContext.OfferComplexity),
		Budget:          r.Budget,
		Memory: generator.Memory{
			DaysSinceLastInteraction: r.DaysSinceLastInteraction,
			CLVPercentile:            r.CLVPercentile,
			AvgPrice90d:              r.AvgPrice90d,
			PriceVolatility30d:       r.PriceVolatility30d,
		},
	}
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}

// Recommendation is the priced answer for one request.
type Recommendation struct {
	ModelName           string           `json:"model_name"`
	Regime              generator.Regime `json:"regime"`
	ReleaseID           string           `json:"release_id"`
	Price               float64          `json:"recommended_price"`
	ExpectedProfit      float64          `json:"estimated_profit"`
	PolicyExpectedValue float64          `json:"policy_expected_value"`
	VaR5                float64          `json:"var_5_percent"`
	CVaR5               float64          `json:"cvar_5_percent"`
	LatencyMS           float64          `json:"latency_ms"`
}

// ModelName labels responses per regime.
func ModelName(regime generator.Regime) string {
	if regime == generator.RegimeSubscription {
		return "RL (Subscription) LTV"
	}
	return "RL (One-Shot) Dynamic"
}
