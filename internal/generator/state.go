package generator

import "github.com/raphalvezz/loocac/internal/scenario"

// Field names as they appear in the feature schema.
const (
	FieldRegion          = "region"
	FieldPlatform        = "platform"
	FieldTier            = "tier"
	FieldAgeBand         = "age_band"
	FieldGender          = "gender"
	FieldContentType     = "content_type"
	FieldProductType     = "product_type"
	FieldBillingModel    = "billing_model"
	FieldOfferComplexity = "offer_complexity"

	FieldBudget = "budget"

	FieldDaysSinceLastInteraction = "days_since_last_interaction"
	FieldCLVPercentile            = "clv_percentile"
	FieldAvgPrice90d              = "avg_price_90d"
	FieldPriceVolatility30d       = "price_volatility_30d"
)

var (
	CategoricalFields = []string{
		FieldRegion, FieldPlatform, FieldTier, FieldAgeBand, FieldGender,
		FieldContentType, FieldProductType, FieldBillingModel, FieldOfferComplexity,
	}
	BaseNumericFields = []string{FieldBudget}
	MemoryFields      = []string{
		FieldDaysSinceLastInteraction, FieldCLVPercentile,
		FieldAvgPrice90d, FieldPriceVolatility30d,
	}
)

// Memory holds the subscription-only history features. The zero value
// means no history.
type Memory struct {
	DaysSinceLastInteraction float64 `json:"days_since_last_interaction"`
	CLVPercentile            float64 `json:"clv_percentile"`
	AvgPrice90d              float64 `json:"avg_price_90d"`
	PriceVolatility30d       float64 `json:"price_volatility_30d"`
}

// CampaignState is the flat observation the policy sees.
type CampaignState struct {
	Region          string        `json:"region"`
	Platform        string        `json:"platform"`
	Tier            scenario.Tier `json:"tier"`
	AgeBand         string        `json:"age_band"`
	Gender          string        `json:"gender"`
	ContentType     string        `json:"content_type"`
	ProductType     string        `json:"product_type"`
	BillingModel    string        `json:"billing_model"`
	OfferComplexity string        `json:"offer_complexity"`
	Budget          float64       `json:"budget"`
	Memory          Memory        `json:"memory"`
}

// Categorical returns the value of a categorical field.
func (c CampaignState) Categorical(field string) (string, bool) {
	switch field {
	case FieldRegion:
		return c.Region, true
	case FieldPlatform:
		return c.Platform, true
	case FieldTier:
		return string(c.Tier), true
	case FieldAgeBand:
		return c.AgeBand, true
	case FieldGender:
		return c.Gender, true
	case FieldContentType:
		return c.ContentType, true
	case FieldProductType:
		return c.ProductType, true
	case FieldBillingModel:
		return c.BillingModel, true
	case FieldOfferComplexity:
		return c.OfferComplexity, true
	}
	return "", false
}

// Numeric returns the value of a base or memory numeric field.
func (c CampaignState) Numeric(field string) (float64, bool) {
	switch field {
	case FieldBudget:
		return c.Budget, true
	case FieldDaysSinceLastInteraction:
		return c.Memory.DaysSinceLastInteraction, true
	case FieldCLVPercentile:
		return c.Memory.CLVPercentile, true
	case FieldAvgPrice90d:
		return c.Memory.AvgPrice90d, true
	case FieldPriceVolatility30d:
		return c.Memory.PriceVolatility30d, true
	}
	return 0, false
}

// Context is the set of categorical fields not driven by the scenario.
type Context struct {
	AgeBand         string `json:"age_band" yaml:"age_band"`
	Gender          string `json:"gender" yaml:"gender"`
	ContentType     string `json:"content_type" yaml:"content_type"`
	ProductType     string `json:"product_type" yaml:"product_type"`
	BillingModel    string `json:"billing_model" yaml:"billing_model"`
	OfferComplexity string `json:"offer_complexity" yaml:"offer_complexity"`
}

// FixedContext is held constant across generated samples; requests that
// omit product, billing or complexity fall back to it.
var FixedContext = Context{
	AgeBand:         "25-34",
	Gender:          "Female",
	ContentType:     "Video",
	ProductType:     "InfoProduto",
	BillingModel:    "Venda Unica",
	OfferComplexity: "Media",
}

var (
	DefaultRegions   = []string{"North America", "Europe", "Asia", "South America"}
	DefaultPlatforms = []string{"Instagram", "Facebook", "LinkedIn"}
)

// Regime selects the reward definition and the feature schema.
type Regime string

const (
	RegimeOneShot      Regime = "one_shot"
	RegimeSubscription Regime = "subscription"
)

func (r Regime) Valid() bool {
	return r == RegimeOneShot || r == RegimeSubscription
}

// Transition is one step of the synthetic episode. Terminal is always false.
type Transition struct {
	Observation CampaignState
	Action      float64
	Reward      float64
	Terminal    bool
}

// SupervisedRow is one line of the tabular profit dataset. Memory is not
// part of it.
type SupervisedRow struct {
	State           CampaignState
	SampledPrice    float64
	AcquisitionCost float64
	RealizedProfit  float64
}
