package sim

const (
	taxRate          = 0.25
	adminRevenueRate = 0.08
	adminOverhead    = 50_000
)

// Quarterly cost per outlet by channel.
var outletCost = map[ChannelType]float64{
	ChannelShowroom: 75_000,
	ChannelRetail:   50_000,
	ChannelOnline:   25_000,
}

// Quarterly cost per internet marketing unit.
const (
	webPageCost     = 5_000
	seoCost         = 3_000
	paidSearchCost  = 8_000
	socialMediaCost = 6_000
)

// teamSales is a team's realized demand gathered from every cell.
type teamSales struct {
	units         int64
	revenue       float64
	cogs          float64
	bySegment     map[string]int64
	segmentDemand map[string]int64
}

func collectSales(teamIdx int, cells []Cell) teamSales {
	s := teamSales{bySegment: map[string]int64{}, segmentDemand: map[string]int64{}}
	for _, cell := range cells {
		s.segmentDemand[cell.Segment] += cell.TotalDemand
		e := cell.Entries[teamIdx]
		if _, ok := s.bySegment[cell.Segment]; !ok {
			s.bySegment[cell.Segment] = 0
		}
		if e.Demand <= 0 || e.Fit == nil {
			continue
		}
		s.units += e.Demand
		s.bySegment[cell.Segment] += e.Demand
		s.revenue += float64(e.Demand) * e.Price
		s.cogs += float64(e.Demand) * resolveUnitCost(e.Fit.Brand)
	}
	return s
}

// Expenses itemizes a decision's quarterly operating costs before admin.
type Expenses struct {
	Advertising  int64
	SalesForce   int64
	Distribution int64
	Internet     int64
	RD           int64
}

func (e Expenses) Total() int64 {
	return e.Advertising + e.SalesForce + e.Distribution + e.Internet + e.RD
}

// DecisionExpenses prices a decision. Amounts in every region are charged,
// whether or not the region is evaluated for demand.
func DecisionExpenses(d Decision) Expenses {
	var ad, sf, dist float64
	for _, a := range d.Advertising {
		ad += float64(nonNegative(a.Spend))
	}
	for _, s := range d.SalesForce {
		if s.Headcount <= 0 {
			sf += float64(nonNegative(s.Training))
			continue
		}
		sf += float64(s.Headcount)*ResolveCompensation(s)/4 + float64(nonNegative(s.Training))
	}
	for _, o := range d.Distribution {
		dist += float64(nonNegative(o.Outlets)) * outletCost[ResolveChannel(o)]
	}
	im := d.Internet
	internet := float64(nonNegative(im.WebPages))*webPageCost +
		float64(nonNegative(im.SEO))*seoCost +
		float64(nonNegative(im.PaidSearch))*paidSearchCost +
		float64(nonNegative(im.SocialMedia))*socialMediaCost
	return Expenses{
		Advertising:  money(ad),
		SalesForce:   money(sf),
		Distribution: money(dist),
		Internet:     money(internet),
		RD:           boundedAmount(d.RDBudget),
	}
}

// statement fills the financial lines of r from realized sales.
func statement(r *RoundResult, t Team, d Decision, s teamSales) {
	exp := DecisionExpenses(d)

	r.UnitsSold = s.units
	r.TotalDemand = s.units
	r.DemandBySegment = s.bySegment
	r.Revenue = money(s.revenue)
	r.CostOfGoods = money(s.cogs)
	r.GrossProfit = r.Revenue - r.CostOfGoods

	r.AdvertisingExpense = exp.Advertising
	r.SalesForceExpense = exp.SalesForce
	r.DistributionExpense = exp.Distribution
	r.InternetExpense = exp.Internet
	r.RDExpense = exp.RD

	admin := float64(r.Revenue) * adminRevenueRate
	if exp.Total() > 0 || s.units > 0 {
		admin += adminOverhead
	}
	r.AdminExpense = money(admin)

	r.TotalExpenses = exp.Total() + r.AdminExpense
	r.OperatingProfit = r.GrossProfit - r.TotalExpenses
	r.NetIncome = money(float64(r.OperatingProfit) * (1 - taxRate))
	r.Dividend = boundedAmount(d.Dividend)
	r.BeginningCash = t.Cash
	r.EndingCash = r.BeginningCash + r.NetIncome - r.Dividend
	r.Investment = r.RDExpense
}
