package sim

import "errors"

var ErrInvalidRound = errors.New("round must be >= 1")

type Region string

const (
	RegionLatam  Region = "latam"
	RegionEurope Region = "europe"
	RegionApac   Region = "apac"
)

// AllRegions is the canonical evaluation order.
var AllRegions = []Region{RegionLatam, RegionEurope, RegionApac}

func (r Region) Valid() bool {
	switch r {
	case RegionLatam, RegionEurope, RegionApac:
		return true
	}
	return false
}

type ChannelType string

const (
	ChannelShowroom ChannelType = "showroom"
	ChannelRetail   ChannelType = "retail"
	ChannelOnline   ChannelType = "online"
)

// Weights is a segment's benefit-preference profile. Each weight is an
// independent multiplier in [0,1].
type Weights struct {
	PriceSensitivity float64 `json:"price_sensitivity"`
	Performance      float64 `json:"performance"`
	Durability       float64 `json:"durability"`
	Style            float64 `json:"style"`
	Comfort          float64 `json:"comfort"`
	Lightweight      float64 `json:"lightweight"`
	Customization    float64 `json:"customization"`
}

type Segment struct {
	Name       string           `json:"name"`
	Potential  map[Region]int64 `json:"potential"`
	GrowthRate float64          `json:"growth_rate"`
	MinPrice   float64          `json:"min_price"`
	MaxPrice   float64          `json:"max_price"`
	Weights    Weights          `json:"weights"`
}

// Components are the eight component-quality ratings of a brand, each 0..5.
// Electronics may be 0, meaning the brand has none.
type Components struct {
	Frame       int `json:"frame"`
	Wheels      int `json:"wheels"`
	Drivetrain  int `json:"drivetrain"`
	Brakes      int `json:"brakes"`
	Suspension  int `json:"suspension"`
	Seat        int `json:"seat"`
	Handlebars  int `json:"handlebars"`
	Electronics int `json:"electronics"`
}

type Brand struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	TargetSegment  string     `json:"target_segment,omitempty"`
	Components     Components `json:"components"`
	RDInvestment   int64      `json:"rd_investment"`
	OverallQuality float64    `json:"overall_quality"`
	UnitCost       int64      `json:"unit_cost"`
}

// Team is the engine's view of a competitor: its active brands plus the
// running state carried between rounds.
type Team struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Brands           []Brand `json:"brands"`
	Cash             int64   `json:"cash"`
	CumulativeProfit int64   `json:"cumulative_profit"`
	TotalInvestment  int64   `json:"total_investment"`
}

type Pricing struct {
	ByBrand map[string]int64 `json:"by_brand,omitempty"`
	Default int64            `json:"default,omitempty"`
}

type AdSpend struct {
	Spend         int64  `json:"spend"`
	TargetSegment string `json:"target_segment,omitempty"`
}

// InternetMarketing holds unit counts for the four online channels.
type InternetMarketing struct {
	WebPages    int64 `json:"web_pages,omitempty"`
	SEO         int64 `json:"seo,omitempty"`
	PaidSearch  int64 `json:"paid_search,omitempty"`
	SocialMedia int64 `json:"social_media,omitempty"`
}

type SalesForce struct {
	Headcount    int64 `json:"headcount"`
	Compensation int64 `json:"compensation,omitempty"` // annual, per head
	Training     int64 `json:"training,omitempty"`
}

type Distribution struct {
	Outlets int64       `json:"outlets"`
	Channel ChannelType `json:"channel,omitempty"`
}

// Decision is one team's submission for one round. The zero value is a
// valid "do nothing" decision.
type Decision struct {
	Pricing      Pricing                 `json:"pricing"`
	Advertising  map[Region]AdSpend      `json:"advertising,omitempty"`
	Internet     InternetMarketing       `json:"internet"`
	SalesForce   map[Region]SalesForce   `json:"sales_force,omitempty"`
	Distribution map[Region]Distribution `json:"distribution,omitempty"`
	RDBudget     int64                   `json:"rd_budget,omitempty"`
	Dividend     int64                   `json:"dividend,omitempty"`
}

type RoundInput struct {
	Round     int                 `json:"round"`
	Teams     []Team              `json:"teams"`
	Segments  []Segment           `json:"segments"`
	Decisions map[string]Decision `json:"decisions"`
	// Regions restricts evaluation to a subset; empty means AllRegions.
	Regions []Region `json:"regions,omitempty"`
}

type RoundOutput struct {
	Results        map[string]RoundResult `json:"results"`
	MarketResearch MarketResearch         `json:"market_research"`
}

type RoundResult struct {
	TeamID string `json:"team_id"`
	Round  int    `json:"round"`

	TotalDemand          int64            `json:"total_demand"`
	UnitsSold            int64            `json:"units_sold"`
	DemandBySegment      map[string]int64 `json:"demand_by_segment"`
	MarketSharePrimary   float64          `json:"market_share_primary"`
	MarketShareSecondary float64          `json:"market_share_secondary"`

	Revenue             int64 `json:"revenue"`
	CostOfGoods         int64 `json:"cost_of_goods"`
	GrossProfit         int64 `json:"gross_profit"`
	AdvertisingExpense  int64 `json:"advertising_expense"`
	SalesForceExpense   int64 `json:"sales_force_expense"`
	DistributionExpense int64 `json:"distribution_expense"`
	InternetExpense     int64 `json:"internet_expense"`
	RDExpense           int64 `json:"rd_expense"`
	AdminExpense        int64 `json:"admin_expense"`
	TotalExpenses       int64 `json:"total_expenses"`
	OperatingProfit     int64 `json:"operating_profit"`
	NetIncome           int64 `json:"net_income"`
	Dividend            int64 `json:"dividend"`
	BeginningCash       int64 `json:"beginning_cash"`
	EndingCash          int64 `json:"ending_cash"`
	Investment          int64 `json:"investment"`

	Satisfaction Satisfaction `json:"satisfaction"`
	Scorecard    Scorecard    `json:"scorecard"`
}

type Satisfaction struct {
	Brand   float64 `json:"brand"`
	Ad      float64 `json:"ad"`
	Price   float64 `json:"price"`
	Overall float64 `json:"overall"`
}

// Scorecard components are the normalized inputs; Balanced is the 0-100
// composite.
type Scorecard struct {
	FinancialPerformance   float64 `json:"financial_performance"`
	MarketPerformance      float64 `json:"market_performance"`
	MarketingEffectiveness float64 `json:"marketing_effectiveness"`
	InvestmentInFuture     float64 `json:"investment_in_future"`
	CreationOfWealth       float64 `json:"creation_of_wealth"`
	Balanced               float64 `json:"balanced"`
}

type MarketResearch struct {
	Round            int                             `json:"round"`
	SegmentDemands   map[string]map[Region]int64     `json:"segment_demands"`
	CompetitorPrices map[string]CompetitorPriceTable `json:"competitor_prices"`
	BrandJudgments   map[string]BrandJudgment        `json:"brand_judgments"`
	AdJudgments      map[string]float64              `json:"ad_judgments"`
	Trends           MarketTrends                    `json:"market_trends"`
}

type CompetitorPriceTable struct {
	TeamName string       `json:"team_name"`
	Brands   []BrandPrice `json:"brands"`
	Default  int64        `json:"default,omitempty"`
}

type BrandPrice struct {
	BrandID       string `json:"brand_id"`
	BrandName     string `json:"brand_name"`
	TargetSegment string `json:"target_segment,omitempty"`
	Price         int64  `json:"price"`
}

type BrandJudgment struct {
	TeamName            string  `json:"team_name"`
	BrandSatisfaction   float64 `json:"brand_satisfaction"`
	OverallSatisfaction float64 `json:"overall_satisfaction"`
}

type MarketTrends struct {
	Round               int     `json:"round"`
	TotalIndustryDemand int64   `json:"total_industry_demand"`
	AveragePrice        float64 `json:"average_price"`
	GrowthRate          float64 `json:"growth_rate"`
}
