package factors

import (
	"math"
)

// Rolling-series primitives shared by the frame and columnar backends. The
// EMA/RSI conventions deliberately match go-talib (SMA seeding, Wilder
// smoothing) so the native backend produces pointwise-equal output.

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddevPop is the population standard deviation (divide by N), the
// convention talib's BBands uses.
func stddevPop(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	m := mean(xs)
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}

// stddevSample is the sample standard deviation (divide by N-1), used for
// return volatility.
func stddevSample(xs []float64) float64 {
	if len(xs) < 2 {
		return math.NaN()
	}
	m := mean(xs)
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}

// tail returns the last n elements of xs, or nil if fewer are present.
func tail(xs []float64, n int) []float64 {
	if len(xs) < n {
		return nil
	}
	return xs[len(xs)-n:]
}

// dailyReturns computes close-to-close simple returns.
func dailyReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, closes[i]/closes[i-1]-1)
	}
	return out
}

// emaSeries computes an exponential moving average seeded with the SMA of the
// first period values (talib convention). Output is aligned to the input; the
// first period-1 entries are NaN.
func emaSeries(xs []float64, period int) []float64 {
	out := make([]float64, len(xs))
	for i := range out {
		out[i] = math.NaN()
	}
	if len(xs) < period {
		return out
	}
	seed := mean(xs[:period])
	out[period-1] = seed
	k := 2.0 / float64(period+1)
	prev := seed
	for i := period; i < len(xs); i++ {
		prev = (xs[i]-prev)*k + prev
		out[i] = prev
	}
	return out
}

// macdSeries returns the MACD line (EMA12-EMA26), its 9-period signal and the
// histogram, aligned to the input.
func macdSeries(closes []float64) (macd, signal, hist []float64) {
	n := len(closes)
	macd = make([]float64, n)
	signal = make([]float64, n)
	hist = make([]float64, n)
	for i := 0; i < n; i++ {
		macd[i], signal[i], hist[i] = math.NaN(), math.NaN(), math.NaN()
	}
	if n < 26 {
		return
	}
	e12 := emaSeries(closes, 12)
	e26 := emaSeries(closes, 26)
	valid := make([]float64, 0, n)
	first := -1
	for i := 0; i < n; i++ {
		if !math.IsNaN(e12[i]) && !math.IsNaN(e26[i]) {
			macd[i] = e12[i] - e26[i]
			if first < 0 {
				first = i
			}
			valid = append(valid, macd[i])
		}
	}
	if len(valid) < 9 {
		return
	}
	sig := emaSeries(valid, 9)
	for j, v := range sig {
		if !math.IsNaN(v) {
			signal[first+j] = v
			hist[first+j] = macd[first+j] - v
		}
	}
	return
}

// rsiWilder computes the Wilder-smoothed RSI for the last bar, matching
// talib.Rsi. Needs at least period+1 closes.
func rsiWilder(closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return math.NaN()
	}
	gains, losses := 0.0, 0.0
	for i := 1; i <= period; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gains += d
		} else {
			losses -= d
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	for i := period + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
	}
	if avgGain+avgLoss == 0 {
		// Flat series; talib returns 0 here, keep parity.
		return 0
	}
	return 100 * avgGain / (avgGain + avgLoss)
}

// maxDrawdownPct returns the maximum peak-to-trough decline in percent.
func maxDrawdownPct(closes []float64) float64 {
	if len(closes) == 0 {
		return math.NaN()
	}
	peak := closes[0]
	mdd := 0.0
	for _, c := range closes {
		if c > peak {
			peak = c
		}
		if peak > 0 {
			dd := (peak - c) / peak * 100
			if dd > mdd {
				mdd = dd
			}
		}
	}
	return mdd
}

// betaAgainst computes the OLS slope of stock returns on index returns.
func betaAgainst(stockRets, indexRets []float64) float64 {
	n := len(stockRets)
	if n < 2 || n != len(indexRets) {
		return math.NaN()
	}
	ms, mi := mean(stockRets), mean(indexRets)
	cov, varI := 0.0, 0.0
	for i := 0; i < n; i++ {
		cov += (stockRets[i] - ms) * (indexRets[i] - mi)
		varI += (indexRets[i] - mi) * (indexRets[i] - mi)
	}
	if varI == 0 {
		return math.NaN()
	}
	return cov / varI
}

// safeDiv divides, yielding NaN for zero or negative denominators when
// requirePositive is set (ratio semantics of the factor engine).
func safeDiv(num, den float64, requirePositive bool) float64 {
	if den == 0 || (requirePositive && den <= 0) {
		return math.NaN()
	}
	return num / den
}

// growthPct computes (cur/prev - 1) x 100, NaN unless prev is positive.
func growthPct(cur, prev float64) float64 {
	if prev <= 0 {
		return math.NaN()
	}
	return (cur/prev - 1) * 100
}

// cagrPct computes the compound annual growth rate over years, in percent.
// NaN for non-positive endpoints.
func cagrPct(cur, base float64, years float64) float64 {
	if base <= 0 || cur <= 0 || years <= 0 {
		return math.NaN()
	}
	return (math.Pow(cur/base, 1/years) - 1) * 100
}

// annualisedVolPct scales a daily-return stdev to annual percent.
func annualisedVolPct(rets []float64) float64 {
	sd := stddevSample(rets)
	if math.IsNaN(sd) {
		return math.NaN()
	}
	return sd * math.Sqrt(252) * 100
}
