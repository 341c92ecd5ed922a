package factors

import (
	"math"
	"sort"
	"time"

	"github.com/crucial-sub/stocklab/internal/domain"
)

// stockSeries is the price history of one stock restricted to
// [calcDate-LookbackDays, calcDate], with the last element at calcDate.
type stockSeries struct {
	stock    string
	closes   []float64
	highs    []float64
	lows     []float64
	volumes  []float64
	values   []float64 // trading value
	bar      domain.PriceBar
	hasToday bool
}

// buildSeries extracts the lookback window for stock. hasToday is false when
// the stock has no bar on calcDate (suspended or truncated), in which case
// every factor is null.
func buildSeries(frame *domain.PriceFrame, stock string, calcDate time.Time) stockSeries {
	start := calcDate.AddDate(0, 0, -LookbackDays)
	window := frame.Window(stock, start, calcDate)
	s := stockSeries{stock: stock}
	for _, b := range window {
		if !b.Valid() {
			continue
		}
		s.closes = append(s.closes, b.Close)
		s.highs = append(s.highs, b.High)
		s.lows = append(s.lows, b.Low)
		s.volumes = append(s.volumes, b.Volume)
		s.values = append(s.values, b.TradingValue)
	}
	if bar, ok := frame.Bar(stock, calcDate); ok && bar.Valid() {
		s.bar = bar
		s.hasToday = true
	}
	return s
}

// momentumN computes P_t/P_{t-n} - 1 over trading days.
func (s stockSeries) momentumN(n int) float64 {
	if len(s.closes) < n+1 {
		return math.NaN()
	}
	base := s.closes[len(s.closes)-1-n]
	if base <= 0 {
		return math.NaN()
	}
	return s.closes[len(s.closes)-1]/base - 1
}

// computeMomentum fills the momentum family for one stock. The universe mean
// 60-day return is supplied for RELATIVE_STRENGTH.
func computeMomentum(s stockSeries, universeMeanRet60 float64, out map[string]float64) {
	out[Momentum1M] = s.momentumN(20)
	out[Momentum3M] = s.momentumN(60)
	out[Momentum6M] = s.momentumN(120)
	out[Momentum12M] = s.momentumN(240)
	out[Return1M] = s.momentumN(20) * 100
	out[Return3M] = s.momentumN(60) * 100
	out[Return6M] = s.momentumN(120) * 100
	out[Return12M] = s.momentumN(240) * 100

	if w := tail(s.closes, 252); w != nil {
		high, low := w[0], w[0]
		for _, c := range w {
			if c > high {
				high = c
			}
			if c < low {
				low = c
			}
		}
		close := s.closes[len(s.closes)-1]
		out[DistFrom52WHigh] = safeDiv(close-high, high, true) * 100
		out[DistFrom52WLow] = safeDiv(close-low, low, true) * 100
	} else {
		out[DistFrom52WHigh] = math.NaN()
		out[DistFrom52WLow] = math.NaN()
	}

	ret60 := s.momentumN(60) * 100
	if math.IsNaN(ret60) || math.IsNaN(universeMeanRet60) {
		out[RelStrength] = math.NaN()
	} else {
		out[RelStrength] = ret60 - universeMeanRet60
	}

	v5, v20 := tail(s.volumes, 5), tail(s.volumes, 20)
	if v5 == nil || v20 == nil {
		out[VolumeMomentum] = math.NaN()
	} else {
		out[VolumeMomentum] = safeDiv(mean(v5), mean(v20), true)
	}

	if len(s.closes) >= 2 {
		out[ChangeRate] = growthPct(s.closes[len(s.closes)-1], s.closes[len(s.closes)-2])
	} else {
		out[ChangeRate] = math.NaN()
	}
}

// computeVolatility fills the volatility/risk family. indexRets is the
// equal-weight universe index daily return series aligned to the trailing
// trading days.
func computeVolatility(s stockSeries, indexRets []float64, out map[string]float64) {
	rets := dailyReturns(s.closes)

	vol := func(n int) float64 {
		w := tail(rets, n)
		if w == nil {
			return math.NaN()
		}
		return annualisedVolPct(w)
	}
	out[Volatility] = vol(60)
	out[Volatility20D] = vol(20)
	out[Volatility60D] = vol(60)
	out[Volatility90D] = vol(90)

	if w := tail(rets, 60); w != nil {
		var downside []float64
		for _, r := range w {
			if r < 0 {
				downside = append(downside, r)
			}
		}
		if len(downside) >= 2 {
			out[DownsideVolatility] = annualisedVolPct(downside)
		} else {
			out[DownsideVolatility] = math.NaN()
		}
		m := mean(w)
		sd := stddevSample(w)
		if sd > 0 {
			out[SharpeRatio] = m / sd * math.Sqrt(252)
		} else {
			out[SharpeRatio] = math.NaN()
		}
	} else {
		out[DownsideVolatility] = math.NaN()
		out[SharpeRatio] = math.NaN()
	}

	if w := tail(rets, 60); w != nil && len(indexRets) >= 60 {
		out[Beta] = betaAgainst(w, indexRets[len(indexRets)-60:])
	} else {
		out[Beta] = math.NaN()
	}

	if w := tail(s.closes, 252); w != nil {
		out[MaxDrawdown] = maxDrawdownPct(w)
	} else if len(s.closes) > 1 {
		out[MaxDrawdown] = maxDrawdownPct(s.closes)
	} else {
		out[MaxDrawdown] = math.NaN()
	}
}

// computeLiquidity fills AVG_TRADING_VALUE and TURNOVER_RATE.
func computeLiquidity(s stockSeries, out map[string]float64) {
	if w := tail(s.values, 20); w != nil {
		out[AvgTradingValue] = mean(w)
	} else {
		out[AvgTradingValue] = math.NaN()
	}
	w := tail(s.volumes, 20)
	if w == nil || !s.hasToday || s.bar.SharesOutstanding <= 0 {
		out[TurnoverRate] = math.NaN()
		return
	}
	out[TurnoverRate] = mean(w) / s.bar.SharesOutstanding * 100
}

// computeTechnical fills the technical family with hand-rolled math matching
// talib conventions. The native backend substitutes talib for this family.
func computeTechnical(s stockSeries, out map[string]float64) {
	closes := s.closes
	last := math.NaN()
	if len(closes) > 0 {
		last = closes[len(closes)-1]
	}

	maPeriods := map[string]int{MA5: 5, MA10: 10, MA20: 20, MA60: 60, MA120: 120, MA250: 250}
	for name, n := range maPeriods {
		if w := tail(closes, n); w != nil {
			out[name] = mean(w)
		} else {
			out[name] = math.NaN()
		}
	}

	if w := tail(closes, 20); w != nil {
		ma20 := mean(w)
		sd20 := stddevPop(w)
		if sd20 > 0 {
			out[BollingerPosition] = (last - ma20) / (2 * sd20)
		} else {
			out[BollingerPosition] = math.NaN()
		}
		out[BollingerWidth] = safeDiv(4*sd20, ma20, true) * 100
	} else {
		out[BollingerPosition] = math.NaN()
		out[BollingerWidth] = math.NaN()
	}

	out[RSI14] = rsiWilder(closes, 14)

	// MACD is reported only once the signal line exists (34 bars), matching
	// talib's lookback so the native backend agrees on short series.
	macd, signal, hist := macdSeries(closes)
	n := len(closes)
	if n > 0 && !math.IsNaN(signal[n-1]) {
		out[MACD] = macd[n-1]
		out[MACDSignal] = signal[n-1]
		out[MACDHistogram] = hist[n-1]
	} else {
		out[MACD], out[MACDSignal], out[MACDHistogram] = math.NaN(), math.NaN(), math.NaN()
	}

	if len(s.highs) >= 14 && len(s.lows) >= 14 {
		h14 := tail(s.highs, 14)
		l14 := tail(s.lows, 14)
		hi, lo := h14[0], l14[0]
		for i := 0; i < 14; i++ {
			if h14[i] > hi {
				hi = h14[i]
			}
			if l14[i] < lo {
				lo = l14[i]
			}
		}
		if hi > lo {
			out[Stochastic14] = (last - lo) / (hi - lo) * 100
		} else {
			out[Stochastic14] = math.NaN()
		}
	} else {
		out[Stochastic14] = math.NaN()
	}
}

// computeValuation fills valuation + dividend families from the latest
// point-in-time record paired with the calc-date market cap.
func computeValuation(s stockSeries, fs *FundamentalSet, calcDate time.Time, out map[string]float64) {
	nan := func(names ...string) {
		for _, n := range names {
			out[n] = math.NaN()
		}
	}
	if !s.hasToday || s.bar.MarketCap <= 0 {
		nan(PER, PBR, PSR, PCR, PEG, EVEBITDA, EVSales, EarningsYield, FCFYield,
			BookToMarket, PTBV, CAPERatio, DividendYield, DividendPayout, DividendGrowth1Y)
		return
	}
	mc := s.bar.MarketCap
	rec, ok := fs.LatestAsOf(s.stock, calcDate)
	if !ok {
		nan(PER, PBR, PSR, PCR, PEG, EVEBITDA, EVSales, EarningsYield, FCFYield,
			BookToMarket, PTBV, CAPERatio, DividendYield, DividendPayout, DividendGrowth1Y)
		return
	}
	acct := func(name string) float64 {
		if v, ok := Account(rec, name); ok {
			return v
		}
		return math.NaN()
	}

	ni := acct(AccNetIncome)
	equity := acct(AccTotalEquity)
	revenue := acct(AccRevenue)
	ocf := acct(AccOperatingCashFlow)
	liabilities := acct(AccTotalLiabilities)
	cash := acct(AccCash)
	ebitda := acct(AccEBITDA)
	capex := acct(AccCapex)
	dividends := math.Abs(acct(AccDividendsPaid))
	intangibles := acct(AccIntangibleAssets)

	out[PER] = safeDiv(mc, ni, true)
	out[PBR] = safeDiv(mc, equity, true)
	out[PSR] = safeDiv(mc, revenue, true)
	out[PCR] = safeDiv(mc, ocf, true)
	out[EarningsYield] = safeDiv(ni, mc, true) * 100
	out[BookToMarket] = safeDiv(equity, mc, true)

	tangible := equity
	if !math.IsNaN(intangibles) {
		tangible = equity - intangibles
	}
	out[PTBV] = safeDiv(mc, tangible, true)

	if math.IsNaN(ocf) || math.IsNaN(capex) {
		out[FCFYield] = math.NaN()
	} else {
		out[FCFYield] = (ocf - capex) / mc * 100
	}

	ev := mc
	if !math.IsNaN(liabilities) {
		ev += liabilities
	}
	if !math.IsNaN(cash) {
		ev -= cash
	}
	out[EVEBITDA] = safeDiv(ev, ebitda, true)
	out[EVSales] = safeDiv(ev, revenue, true)

	// PEG pairs PER with 1Y earnings growth.
	annuals := fs.AnnualSeriesAsOf(s.stock, calcDate)
	if len(annuals) >= 2 {
		curNI, ok1 := Account(annuals[0], AccNetIncome)
		prevNI, ok2 := Account(annuals[1], AccNetIncome)
		if ok1 && ok2 {
			g := growthPct(curNI, prevNI)
			if g > 0 && !math.IsNaN(out[PER]) {
				out[PEG] = out[PER] / g
			} else {
				out[PEG] = math.NaN()
			}
		} else {
			out[PEG] = math.NaN()
		}
	} else {
		out[PEG] = math.NaN()
	}

	// CAPE over up to 10 annual net incomes.
	var nis []float64
	for i, a := range annuals {
		if i >= 10 {
			break
		}
		if v, ok := Account(a, AccNetIncome); ok {
			nis = append(nis, v)
		}
	}
	if len(nis) > 0 {
		out[CAPERatio] = safeDiv(mc, mean(nis), true)
	} else {
		out[CAPERatio] = math.NaN()
	}

	if math.IsNaN(dividends) {
		out[DividendYield] = math.NaN()
		out[DividendPayout] = math.NaN()
	} else {
		out[DividendYield] = dividends / mc * 100
		out[DividendPayout] = safeDiv(dividends, ni, true) * 100
	}
	if len(annuals) >= 2 {
		curD, ok1 := Account(annuals[0], AccDividendsPaid)
		prevD, ok2 := Account(annuals[1], AccDividendsPaid)
		if ok1 && ok2 {
			out[DividendGrowth1Y] = growthPct(math.Abs(curD), math.Abs(prevD))
		} else {
			out[DividendGrowth1Y] = math.NaN()
		}
	} else {
		out[DividendGrowth1Y] = math.NaN()
	}
}

// computeProfitability fills the profitability family.
func computeProfitability(s stockSeries, fs *FundamentalSet, calcDate time.Time, out map[string]float64) {
	rec, ok := fs.LatestAsOf(s.stock, calcDate)
	if !ok {
		for _, n := range []string{ROE, ROA, ROIC, GPM, OPM, NPM, OperatingMargin, NetMargin} {
			out[n] = math.NaN()
		}
		return
	}
	acct := func(name string) float64 {
		if v, ok := Account(rec, name); ok {
			return v
		}
		return math.NaN()
	}
	ni := acct(AccNetIncome)
	equity := acct(AccTotalEquity)
	assets := acct(AccTotalAssets)
	revenue := acct(AccRevenue)
	gp := acct(AccGrossProfit)
	op := acct(AccOperatingProfit)
	curLiab := acct(AccCurrentLiabilities)
	liabilities := acct(AccTotalLiabilities)

	out[ROE] = safeDiv(ni, equity, true) * 100
	out[ROA] = safeDiv(ni, assets, true) * 100

	// NOPAT over invested capital (equity + non-current liabilities).
	invested := math.NaN()
	if !math.IsNaN(equity) && !math.IsNaN(liabilities) && !math.IsNaN(curLiab) {
		invested = equity + liabilities - curLiab
	}
	if !math.IsNaN(op) {
		out[ROIC] = safeDiv(op*0.75, invested, true) * 100
	} else {
		out[ROIC] = math.NaN()
	}

	out[GPM] = safeDiv(gp, revenue, true) * 100
	out[OPM] = safeDiv(op, revenue, true) * 100
	out[NPM] = safeDiv(ni, revenue, true) * 100
	out[OperatingMargin] = out[OPM]
	out[NetMargin] = out[NPM]
}

// computeGrowth fills the growth family from point-in-time report series.
func computeGrowth(s stockSeries, fs *FundamentalSet, calcDate time.Time, out map[string]float64) {
	for _, n := range []string{
		RevenueGrowth1Y, RevenueGrowth3Y, RevenueGrowthYoY, RevenueGrowthQoQ,
		EarningsGrowth1Y, EarningsGrowth3Y, EarningsGrowthYoY,
		OCFGrowth1Y, AssetGrowth1Y, BookValueGrowth1Y, SustainableGrowth,
	} {
		out[n] = math.NaN()
	}

	annuals := fs.AnnualSeriesAsOf(s.stock, calcDate)
	annualGrowth := func(account string) float64 {
		if len(annuals) < 2 {
			return math.NaN()
		}
		cur, ok1 := Account(annuals[0], account)
		prev, ok2 := Account(annuals[1], account)
		if !ok1 || !ok2 {
			return math.NaN()
		}
		return growthPct(cur, prev)
	}
	annualCAGR3 := func(account string) float64 {
		if len(annuals) < 4 {
			return math.NaN()
		}
		cur, ok1 := Account(annuals[0], account)
		base, ok2 := Account(annuals[3], account)
		if !ok1 || !ok2 {
			return math.NaN()
		}
		return cagrPct(cur, base, 3)
	}

	out[RevenueGrowth1Y] = annualGrowth(AccRevenue)
	out[RevenueGrowth3Y] = annualCAGR3(AccRevenue)
	out[EarningsGrowth1Y] = annualGrowth(AccNetIncome)
	out[EarningsGrowth3Y] = annualCAGR3(AccNetIncome)
	out[OCFGrowth1Y] = annualGrowth(AccOperatingCashFlow)
	out[AssetGrowth1Y] = annualGrowth(AccTotalAssets)
	out[BookValueGrowth1Y] = annualGrowth(AccTotalEquity)

	rec, ok := fs.LatestAsOf(s.stock, calcDate)
	if ok {
		if prior, found := fs.SameReportYearAgo(s.stock, rec, calcDate); found {
			if cur, ok1 := Account(rec, AccRevenue); ok1 {
				if prev, ok2 := Account(prior, AccRevenue); ok2 {
					out[RevenueGrowthYoY] = growthPct(cur, prev)
				}
			}
			if cur, ok1 := Account(rec, AccNetIncome); ok1 {
				if prev, ok2 := Account(prior, AccNetIncome); ok2 {
					out[EarningsGrowthYoY] = growthPct(cur, prev)
				}
			}
		}
		if prior, found := fs.PrevReport(s.stock, rec, calcDate); found {
			if cur, ok1 := Account(rec, AccRevenue); ok1 {
				if prev, ok2 := Account(prior, AccRevenue); ok2 {
					out[RevenueGrowthQoQ] = growthPct(cur, prev)
				}
			}
		}
		// Sustainable growth = ROE x (1 - payout ratio).
		ni, ok1 := Account(rec, AccNetIncome)
		equity, ok2 := Account(rec, AccTotalEquity)
		if ok1 && ok2 && ni > 0 && equity > 0 {
			roe := ni / equity * 100
			retention := 1.0
			if div, okd := Account(rec, AccDividendsPaid); okd && ni > 0 {
				retention = 1 - math.Abs(div)/ni
			}
			out[SustainableGrowth] = roe * retention
		}
	}
}

// computeQuality fills the quality/stability family.
func computeQuality(s stockSeries, fs *FundamentalSet, calcDate time.Time, out map[string]float64) {
	for _, n := range []string{
		CurrentRatio, QuickRatio, CashRatio, DebtToEquity, DebtRatio,
		InterestCoverage, PiotroskiFScore, AltmanZScore, EarningsQuality, AccrualsRatio,
	} {
		out[n] = math.NaN()
	}
	rec, ok := fs.LatestAsOf(s.stock, calcDate)
	if !ok {
		return
	}
	acct := func(r domain.FundamentalRecord, name string) float64 {
		if v, ok := Account(r, name); ok {
			return v
		}
		return math.NaN()
	}
	ca := acct(rec, AccCurrentAssets)
	cl := acct(rec, AccCurrentLiabilities)
	inv := acct(rec, AccInventory)
	cash := acct(rec, AccCash)
	tl := acct(rec, AccTotalLiabilities)
	eq := acct(rec, AccTotalEquity)
	ta := acct(rec, AccTotalAssets)
	op := acct(rec, AccOperatingProfit)
	ie := acct(rec, AccInterestExpense)
	ni := acct(rec, AccNetIncome)
	ocf := acct(rec, AccOperatingCashFlow)
	re := acct(rec, AccRetainedEarnings)
	rev := acct(rec, AccRevenue)

	out[CurrentRatio] = safeDiv(ca, cl, true) * 100
	if !math.IsNaN(inv) {
		out[QuickRatio] = safeDiv(ca-inv, cl, true) * 100
	}
	out[CashRatio] = safeDiv(cash, cl, true) * 100
	out[DebtToEquity] = safeDiv(tl, eq, true) * 100
	out[DebtRatio] = safeDiv(tl, ta, true) * 100
	out[InterestCoverage] = safeDiv(op, ie, true)
	out[EarningsQuality] = safeDiv(ocf, ni, true)
	if !math.IsNaN(ni) && !math.IsNaN(ocf) {
		out[AccrualsRatio] = safeDiv(ni-ocf, ta, true) * 100
	}

	// Altman Z with market cap as the equity term.
	if s.hasToday && s.bar.MarketCap > 0 && !math.IsNaN(ta) && ta > 0 {
		z := 0.0
		valid := true
		if !math.IsNaN(ca) && !math.IsNaN(cl) {
			z += 1.2 * (ca - cl) / ta
		} else {
			valid = false
		}
		if !math.IsNaN(re) {
			z += 1.4 * re / ta
		} else {
			valid = false
		}
		if !math.IsNaN(op) {
			z += 3.3 * op / ta
		} else {
			valid = false
		}
		if !math.IsNaN(tl) && tl > 0 {
			z += 0.6 * s.bar.MarketCap / tl
		} else {
			valid = false
		}
		if !math.IsNaN(rev) {
			z += 1.0 * rev / ta
		} else {
			valid = false
		}
		if valid {
			out[AltmanZScore] = z
		}
	}

	// Piotroski F-score against the prior annual report.
	annuals := fs.AnnualSeriesAsOf(s.stock, calcDate)
	if len(annuals) >= 2 {
		cur, prev := annuals[0], annuals[1]
		score := 0.0
		check := func(cond bool) {
			if cond {
				score++
			}
		}
		cNI, cTA := acct(cur, AccNetIncome), acct(cur, AccTotalAssets)
		pNI, pTA := acct(prev, AccNetIncome), acct(prev, AccTotalAssets)
		cOCF := acct(cur, AccOperatingCashFlow)
		check(cNI > 0)
		check(cOCF > 0)
		if cTA > 0 && pTA > 0 {
			check(cNI/cTA > pNI/pTA)
		}
		check(!math.IsNaN(cOCF) && !math.IsNaN(cNI) && cOCF > cNI)
		cTL, pTL := acct(cur, AccTotalLiabilities), acct(prev, AccTotalLiabilities)
		if cTA > 0 && pTA > 0 && !math.IsNaN(cTL) && !math.IsNaN(pTL) {
			check(cTL/cTA < pTL/pTA)
		}
		cCA, cCL := acct(cur, AccCurrentAssets), acct(cur, AccCurrentLiabilities)
		pCA, pCL := acct(prev, AccCurrentAssets), acct(prev, AccCurrentLiabilities)
		if cCL > 0 && pCL > 0 && !math.IsNaN(cCA) && !math.IsNaN(pCA) {
			check(cCA/cCL > pCA/pCL)
		}
		cGP, pGP := acct(cur, AccGrossProfit), acct(prev, AccGrossProfit)
		cRev, pRev := acct(cur, AccRevenue), acct(prev, AccRevenue)
		if cRev > 0 && pRev > 0 && !math.IsNaN(cGP) && !math.IsNaN(pGP) {
			check(cGP/cRev > pGP/pRev)
		}
		if cTA > 0 && pTA > 0 && !math.IsNaN(cRev) && !math.IsNaN(pRev) {
			check(cRev/cTA > pRev/pTA)
		}
		out[PiotroskiFScore] = score
	}
}

// universeAggregates holds cross-sectional inputs shared by all stocks on one
// calc date: the equal-weight index daily returns and the mean 60-day return.
type universeAggregates struct {
	indexRets []float64
	meanRet60 float64
}

// buildUniverseAggregates computes the equal-weight index return series over
// the lookback window and the universe mean 60-day return.
func buildUniverseAggregates(frame *domain.PriceFrame, universe []string, calcDate time.Time) universeAggregates {
	start := calcDate.AddDate(0, 0, -LookbackDays)
	sumByDate := make(map[time.Time]float64)
	cntByDate := make(map[time.Time]int)
	var ret60s []float64

	for _, stock := range universe {
		window := frame.Window(stock, start, calcDate)
		var closes []float64
		var dates []time.Time
		for _, b := range window {
			if !b.Valid() {
				continue
			}
			closes = append(closes, b.Close)
			dates = append(dates, b.Date)
		}
		for i := 1; i < len(closes); i++ {
			if closes[i-1] <= 0 {
				continue
			}
			sumByDate[dates[i]] += closes[i]/closes[i-1] - 1
			cntByDate[dates[i]]++
		}
		if len(closes) >= 61 && closes[len(closes)-61] > 0 {
			ret60s = append(ret60s, (closes[len(closes)-1]/closes[len(closes)-61]-1)*100)
		}
	}

	var agg universeAggregates
	dates := make([]time.Time, 0, len(sumByDate))
	for d := range sumByDate {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	for _, d := range dates {
		agg.indexRets = append(agg.indexRets, sumByDate[d]/float64(cntByDate[d]))
	}
	if len(ret60s) > 0 {
		agg.meanRet60 = mean(ret60s)
	} else {
		agg.meanRet60 = math.NaN()
	}
	return agg
}
