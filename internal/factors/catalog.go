// Package factors implements the vectorised factor engine: a catalogue of
// named per-stock daily features, three equivalent computation backends, and
// the dependency analyser that narrows computation to the factors a strategy
// actually references.
package factors

import "sort"

// Family groups factors that share inputs; the compute mask skips whole
// families whose members are all unreferenced.
type Family string

const (
	FamilyValuation     Family = "valuation"
	FamilyProfitability Family = "profitability"
	FamilyGrowth        Family = "growth"
	FamilyMomentum      Family = "momentum"
	FamilyVolatility    Family = "volatility"
	FamilyLiquidity     Family = "liquidity"
	FamilyTechnical     Family = "technical"
	FamilyQuality       Family = "quality"
	FamilyDividend      Family = "dividend"
)

// Meta describes one catalogue entry, served by the factor catalogue endpoint.
type Meta struct {
	Name        string  `json:"name"`
	Family      Family  `json:"category"`
	Description string  `json:"description"`
	RecommendOp string  `json:"recommended_operator"`
	TypicalMin  float64 `json:"typical_min"`
	TypicalMax  float64 `json:"typical_max"`
}

// Factor name constants. Strings are the wire vocabulary; conditions reference
// factors by these names.
const (
	// Valuation
	PER           = "PER"
	PBR           = "PBR"
	PSR           = "PSR"
	PCR           = "PCR"
	PEG           = "PEG"
	EVEBITDA      = "EV_EBITDA"
	EVSales       = "EV_SALES"
	EarningsYield = "EARNINGS_YIELD"
	FCFYield      = "FCF_YIELD"
	BookToMarket  = "BOOK_TO_MARKET"
	PTBV          = "PTBV"
	CAPERatio     = "CAPE_RATIO"

	// Profitability
	ROE             = "ROE"
	ROA             = "ROA"
	ROIC            = "ROIC"
	GPM             = "GPM"
	OPM             = "OPM"
	NPM             = "NPM"
	OperatingMargin = "OPERATING_MARGIN"
	NetMargin       = "NET_MARGIN"

	// Growth
	RevenueGrowth1Y   = "REVENUE_GROWTH_1Y"
	RevenueGrowth3Y   = "REVENUE_GROWTH_3Y"
	RevenueGrowthYoY  = "REVENUE_GROWTH_YOY"
	RevenueGrowthQoQ  = "REVENUE_GROWTH_QOQ"
	EarningsGrowth1Y  = "EARNINGS_GROWTH_1Y"
	EarningsGrowth3Y  = "EARNINGS_GROWTH_3Y"
	EarningsGrowthYoY = "EARNINGS_GROWTH_YOY"
	OCFGrowth1Y       = "OCF_GROWTH_1Y"
	AssetGrowth1Y     = "ASSET_GROWTH_1Y"
	BookValueGrowth1Y = "BOOK_VALUE_GROWTH_1Y"
	SustainableGrowth = "SUSTAINABLE_GROWTH_RATE"

	// Momentum
	Momentum1M      = "MOMENTUM_1M"
	Momentum3M      = "MOMENTUM_3M"
	Momentum6M      = "MOMENTUM_6M"
	Momentum12M     = "MOMENTUM_12M"
	Return1M        = "RETURN_1M"
	Return3M        = "RETURN_3M"
	Return6M        = "RETURN_6M"
	Return12M       = "RETURN_12M"
	DistFrom52WHigh = "DISTANCE_FROM_52W_HIGH"
	DistFrom52WLow  = "DISTANCE_FROM_52W_LOW"
	RelStrength     = "RELATIVE_STRENGTH"
	VolumeMomentum  = "VOLUME_MOMENTUM"
	ChangeRate      = "CHANGE_RATE"

	// Volatility / risk
	Volatility         = "VOLATILITY"
	Volatility20D      = "VOLATILITY_20D"
	Volatility60D      = "VOLATILITY_60D"
	Volatility90D      = "VOLATILITY_90D"
	DownsideVolatility = "DOWNSIDE_VOLATILITY"
	Beta               = "BETA"
	MaxDrawdown        = "MAX_DRAWDOWN"
	SharpeRatio        = "SHARPE_RATIO"

	// Liquidity
	AvgTradingValue = "AVG_TRADING_VALUE"
	TurnoverRate    = "TURNOVER_RATE"

	// Technical
	BollingerPosition = "BOLLINGER_POSITION"
	BollingerWidth    = "BOLLINGER_WIDTH"
	RSI14             = "RSI_14"
	MACD              = "MACD"
	MACDSignal        = "MACD_SIGNAL"
	MACDHistogram     = "MACD_HISTOGRAM"
	MA5               = "MA_5"
	MA10              = "MA_10"
	MA20              = "MA_20"
	MA60              = "MA_60"
	MA120             = "MA_120"
	MA250             = "MA_250"
	Stochastic14      = "STOCHASTIC_14"

	// Quality / stability
	CurrentRatio     = "CURRENT_RATIO"
	QuickRatio       = "QUICK_RATIO"
	CashRatio        = "CASH_RATIO"
	DebtToEquity     = "DEBT_TO_EQUITY"
	DebtRatio        = "DEBT_RATIO"
	InterestCoverage = "INTEREST_COVERAGE"
	PiotroskiFScore  = "PIOTROSKI_F_SCORE"
	AltmanZScore     = "ALTMAN_Z_SCORE"
	EarningsQuality  = "EARNINGS_QUALITY"
	AccrualsRatio    = "ACCRUALS_RATIO"

	// Dividend
	DividendYield    = "DIVIDEND_YIELD"
	DividendPayout   = "DIVIDEND_PAYOUT_RATIO"
	DividendGrowth1Y = "DIVIDEND_GROWTH_1Y"
)

var catalog = []Meta{
	{PER, FamilyValuation, "Price to earnings (market cap / trailing net income)", "<", 0, 100},
	{PBR, FamilyValuation, "Price to book (market cap / total equity)", "<", 0, 10},
	{PSR, FamilyValuation, "Price to sales (market cap / trailing revenue)", "<", 0, 20},
	{PCR, FamilyValuation, "Price to cash flow (market cap / operating cash flow)", "<", 0, 30},
	{PEG, FamilyValuation, "PER divided by 1Y earnings growth rate", "<", 0, 3},
	{EVEBITDA, FamilyValuation, "Enterprise value / EBITDA", "<", 0, 30},
	{EVSales, FamilyValuation, "Enterprise value / revenue", "<", 0, 20},
	{EarningsYield, FamilyValuation, "Trailing net income / market cap, percent", ">", -50, 50},
	{FCFYield, FamilyValuation, "Free cash flow / market cap, percent", ">", -50, 50},
	{BookToMarket, FamilyValuation, "Total equity / market cap", ">", 0, 5},
	{PTBV, FamilyValuation, "Market cap / tangible book value", "<", 0, 15},
	{CAPERatio, FamilyValuation, "Market cap / mean of up to 10 annual net incomes", "<", 0, 100},

	{ROE, FamilyProfitability, "Return on equity, percent", ">", -50, 50},
	{ROA, FamilyProfitability, "Return on assets, percent", ">", -30, 30},
	{ROIC, FamilyProfitability, "Return on invested capital, percent", ">", -30, 30},
	{GPM, FamilyProfitability, "Gross profit margin, percent", ">", 0, 100},
	{OPM, FamilyProfitability, "Operating profit margin, percent", ">", -50, 50},
	{NPM, FamilyProfitability, "Net profit margin, percent", ">", -50, 50},
	{OperatingMargin, FamilyProfitability, "Alias of OPM", ">", -50, 50},
	{NetMargin, FamilyProfitability, "Alias of NPM", ">", -50, 50},

	{RevenueGrowth1Y, FamilyGrowth, "Annual revenue growth, percent", ">", -100, 200},
	{RevenueGrowth3Y, FamilyGrowth, "3-year revenue CAGR, percent", ">", -100, 100},
	{RevenueGrowthYoY, FamilyGrowth, "Revenue growth vs same report a year earlier, percent", ">", -100, 200},
	{RevenueGrowthQoQ, FamilyGrowth, "Revenue growth vs previous quarterly report, percent", ">", -100, 200},
	{EarningsGrowth1Y, FamilyGrowth, "Annual net income growth, percent", ">", -200, 300},
	{EarningsGrowth3Y, FamilyGrowth, "3-year net income CAGR, percent", ">", -100, 100},
	{EarningsGrowthYoY, FamilyGrowth, "Net income growth vs same report a year earlier, percent", ">", -200, 300},
	{OCFGrowth1Y, FamilyGrowth, "Annual operating cash flow growth, percent", ">", -200, 300},
	{AssetGrowth1Y, FamilyGrowth, "Annual total asset growth, percent", ">", -50, 100},
	{BookValueGrowth1Y, FamilyGrowth, "Annual book value growth, percent", ">", -50, 100},
	{SustainableGrowth, FamilyGrowth, "ROE x retention ratio, percent", ">", -50, 50},

	{Momentum1M, FamilyMomentum, "20-trading-day price momentum, fraction", ">", -1, 2},
	{Momentum3M, FamilyMomentum, "60-trading-day price momentum, fraction", ">", -1, 3},
	{Momentum6M, FamilyMomentum, "120-trading-day price momentum, fraction", ">", -1, 5},
	{Momentum12M, FamilyMomentum, "240-trading-day price momentum, fraction", ">", -1, 10},
	{Return1M, FamilyMomentum, "20-trading-day return, percent", ">", -100, 200},
	{Return3M, FamilyMomentum, "60-trading-day return, percent", ">", -100, 300},
	{Return6M, FamilyMomentum, "120-trading-day return, percent", ">", -100, 500},
	{Return12M, FamilyMomentum, "240-trading-day return, percent", ">", -100, 1000},
	{DistFrom52WHigh, FamilyMomentum, "Distance below 52-week high, percent (non-positive)", ">", -100, 0},
	{DistFrom52WLow, FamilyMomentum, "Distance above 52-week low, percent (non-negative)", ">", 0, 500},
	{RelStrength, FamilyMomentum, "60-day return minus universe mean 60-day return, percent", ">", -100, 100},
	{VolumeMomentum, FamilyMomentum, "5-day average volume / 20-day average volume", ">", 0, 10},
	{ChangeRate, FamilyMomentum, "Day-over-day close change, percent", ">", -30, 30},

	{Volatility, FamilyVolatility, "Annualised 60-day return stdev, percent", "<", 0, 150},
	{Volatility20D, FamilyVolatility, "Annualised 20-day return stdev, percent", "<", 0, 150},
	{Volatility60D, FamilyVolatility, "Annualised 60-day return stdev, percent", "<", 0, 150},
	{Volatility90D, FamilyVolatility, "Annualised 90-day return stdev, percent", "<", 0, 150},
	{DownsideVolatility, FamilyVolatility, "Annualised stdev of negative 60-day returns, percent", "<", 0, 150},
	{Beta, FamilyVolatility, "60-day beta against the equal-weight universe index", "<", -2, 3},
	{MaxDrawdown, FamilyVolatility, "Max drawdown over trailing 252 days, percent", "<", 0, 100},
	{SharpeRatio, FamilyVolatility, "Annualised 60-day mean/stdev of daily returns", ">", -3, 3},

	{AvgTradingValue, FamilyLiquidity, "20-day mean daily trading value", ">", 0, 1e12},
	{TurnoverRate, FamilyLiquidity, "20-day mean volume / shares outstanding, percent", ">", 0, 50},

	{BollingerPosition, FamilyTechnical, "(close - MA20) / (2 x 20-day stdev)", "<", -2, 2},
	{BollingerWidth, FamilyTechnical, "4 x 20-day stdev / MA20, percent", "<", 0, 50},
	{RSI14, FamilyTechnical, "14-day Wilder relative strength index", "<", 0, 100},
	{MACD, FamilyTechnical, "EMA12 - EMA26 of close", ">", -1e6, 1e6},
	{MACDSignal, FamilyTechnical, "EMA9 of MACD", ">", -1e6, 1e6},
	{MACDHistogram, FamilyTechnical, "MACD - signal", ">", -1e6, 1e6},
	{MA5, FamilyTechnical, "5-day simple moving average of close", ">", 0, 1e7},
	{MA10, FamilyTechnical, "10-day simple moving average of close", ">", 0, 1e7},
	{MA20, FamilyTechnical, "20-day simple moving average of close", ">", 0, 1e7},
	{MA60, FamilyTechnical, "60-day simple moving average of close", ">", 0, 1e7},
	{MA120, FamilyTechnical, "120-day simple moving average of close", ">", 0, 1e7},
	{MA250, FamilyTechnical, "250-day simple moving average of close", ">", 0, 1e7},
	{Stochastic14, FamilyTechnical, "14-day stochastic %K", "<", 0, 100},

	{CurrentRatio, FamilyQuality, "Current assets / current liabilities, percent", ">", 0, 500},
	{QuickRatio, FamilyQuality, "(Current assets - inventory) / current liabilities, percent", ">", 0, 500},
	{CashRatio, FamilyQuality, "Cash / current liabilities, percent", ">", 0, 300},
	{DebtToEquity, FamilyQuality, "Total liabilities / total equity, percent", "<", 0, 500},
	{DebtRatio, FamilyQuality, "Total liabilities / total assets, percent", "<", 0, 100},
	{InterestCoverage, FamilyQuality, "Operating profit / interest expense", ">", -10, 100},
	{PiotroskiFScore, FamilyQuality, "Piotroski F-score, 0-9", ">", 0, 9},
	{AltmanZScore, FamilyQuality, "Altman Z-score", ">", -5, 10},
	{EarningsQuality, FamilyQuality, "Operating cash flow / net income", ">", -5, 5},
	{AccrualsRatio, FamilyQuality, "(Net income - OCF) / total assets, percent", "<", -50, 50},

	{DividendYield, FamilyDividend, "Trailing dividends paid / market cap, percent", ">", 0, 15},
	{DividendPayout, FamilyDividend, "Dividends paid / net income, percent", "<", 0, 100},
	{DividendGrowth1Y, FamilyDividend, "Annual growth of dividends paid, percent", ">", -100, 200},
}

var (
	byName   map[string]Meta
	byFamily map[Family][]string
	names    []string
)

func init() {
	byName = make(map[string]Meta, len(catalog))
	byFamily = make(map[Family][]string)
	for _, m := range catalog {
		byName[m.Name] = m
		byFamily[m.Family] = append(byFamily[m.Family], m.Name)
		names = append(names, m.Name)
	}
	sort.Strings(names)
}

// Catalog returns the full factor vocabulary with metadata.
func Catalog() []Meta {
	out := make([]Meta, len(catalog))
	copy(out, catalog)
	return out
}

// Names returns every factor name, sorted.
func Names() []string {
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// Lookup returns catalogue metadata for name.
func Lookup(name string) (Meta, bool) {
	m, ok := byName[name]
	return m, ok
}

// IsKnown reports whether name is part of the documented vocabulary.
func IsKnown(name string) bool {
	_, ok := byName[name]
	return ok
}

// FamilyOf returns the family of a known factor.
func FamilyOf(name string) (Family, bool) {
	m, ok := byName[name]
	return m.Family, ok
}

// FamilyMembers returns the factor names of a family.
func FamilyMembers(f Family) []string {
	out := make([]string, len(byFamily[f]))
	copy(out, byFamily[f])
	return out
}

// Families lists every family.
func Families() []Family {
	return []Family{
		FamilyValuation, FamilyProfitability, FamilyGrowth, FamilyMomentum,
		FamilyVolatility, FamilyLiquidity, FamilyTechnical, FamilyQuality,
		FamilyDividend,
	}
}
