package factors

import (
	"math"
	"time"

	talib "github.com/markcheno/go-talib"
)

// nativeBackend is the columnar backend with the technical family delegated
// to go-talib's C-derived kernels. Fastest option; output is pointwise equal
// to the hand-rolled kernels because those follow talib's conventions (SMA
// seeding for EMA, Wilder smoothing for RSI, population stddev for bands).
type nativeBackend struct{}

// NewNativeBackend returns the talib-accelerated backend.
func NewNativeBackend() Backend { return nativeBackend{} }

func (nativeBackend) Name() string { return "native" }

func (nativeBackend) Compute(in Inputs, calcDate time.Time, mask ComputeMask) (*Table, error) {
	return computeColumnar(in, calcDate, mask, talibTechnical)
}

// talibTechnical fills the technical family using go-talib. go-talib
// zero-fills the warm-up region of its outputs, so every read is guarded by
// an explicit minimum-length check and degrades to null.
func talibTechnical(s stockSeries, out map[string]float64) {
	closes := s.closes
	n := len(closes)
	last := func(xs []float64) float64 {
		if len(xs) == 0 {
			return math.NaN()
		}
		return xs[len(xs)-1]
	}

	maPeriods := map[string]int{MA5: 5, MA10: 10, MA20: 20, MA60: 60, MA120: 120, MA250: 250}
	for name, p := range maPeriods {
		if n >= p {
			out[name] = last(talib.Sma(closes, p))
		} else {
			out[name] = math.NaN()
		}
	}

	if n >= 20 {
		upper, middle, _ := talib.BBands(closes, 20, 2, 2, talib.SMA)
		up, mid := last(upper), last(middle)
		if up > mid {
			out[BollingerPosition] = (closes[n-1] - mid) / (up - mid)
		} else {
			out[BollingerPosition] = math.NaN()
		}
		out[BollingerWidth] = safeDiv(2*(up-mid), mid, true) * 100
	} else {
		out[BollingerPosition] = math.NaN()
		out[BollingerWidth] = math.NaN()
	}

	if n >= 15 {
		out[RSI14] = last(talib.Rsi(closes, 14))
	} else {
		out[RSI14] = math.NaN()
	}

	// talib's MACD lookback is slow+signal-2 = 33 bars; below that every
	// output is in the zero-filled warm-up region.
	if n >= 34 {
		macd, signal, hist := talib.Macd(closes, 12, 26, 9)
		out[MACD] = last(macd)
		out[MACDSignal] = last(signal)
		out[MACDHistogram] = last(hist)
	} else {
		out[MACD] = math.NaN()
		out[MACDSignal] = math.NaN()
		out[MACDHistogram] = math.NaN()
	}

	if len(s.highs) >= 14 && len(s.lows) >= 14 && n >= 14 {
		fastK, _ := talib.StochF(s.highs, s.lows, closes, 14, 1, talib.SMA)
		out[Stochastic14] = last(fastK)
	} else {
		out[Stochastic14] = math.NaN()
	}
}
