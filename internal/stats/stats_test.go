package stats

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crucial-sub/stocklab/internal/domain"
)

func snap(d time.Time, value, initial float64, prev float64) domain.Snapshot {
	dr := 0.0
	if prev > 0 {
		dr = (value - prev) / prev * 100
	}
	return domain.Snapshot{
		Date:             d,
		PortfolioValue:   value,
		Cash:             value,
		DailyReturn:      dr,
		CumulativeReturn: (value - initial) / initial * 100,
	}
}

func historyFrom(start time.Time, initial float64, values []float64) []domain.Snapshot {
	var history []domain.Snapshot
	prev := initial
	d := start
	for _, v := range values {
		for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			d = d.AddDate(0, 0, 1)
		}
		history = append(history, snap(d, v, initial, prev))
		prev = v
		d = d.AddDate(0, 0, 1)
	}
	return history
}

func sellTrade(retPct float64, factors map[string]float64) domain.Trade {
	pnl := retPct * 1000
	hold := 5
	return domain.Trade{
		Side:           domain.SideSell,
		ReturnPct:      &retPct,
		RealisedPnL:    &pnl,
		HoldDays:       &hold,
		FactorSnapshot: factors,
	}
}

func TestAggregateReturns(t *testing.T) {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	history := historyFrom(start, 1_000_000, []float64{1_010_000, 1_020_000, 990_000, 1_050_000})

	s := Aggregate(history, nil, 1_000_000)
	assert.InDelta(t, 5.0, s.TotalReturn, 1e-9)
	assert.Equal(t, 1_050_000.0, s.FinalValue)
	assert.Equal(t, 4, s.TradingDays)

	wantAnnualised := (math.Pow(1.05, 252.0/4) - 1) * 100
	assert.InDelta(t, wantAnnualised, s.AnnualisedReturn, 1e-9)
	assert.Greater(t, s.Volatility, 0.0)
}

func TestMaxDrawdownAndPeriods(t *testing.T) {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	// Peak 1.02M, trough 0.918M (-10%), recovery, then an open drawdown.
	history := historyFrom(start, 1_000_000,
		[]float64{1_020_000, 969_000, 918_000, 1_030_000, 1_009_400})

	s := Aggregate(history, nil, 1_000_000)
	assert.InDelta(t, 10.0, s.MaxDrawdown, 1e-9)

	require.Len(t, s.DrawdownPeriods, 2)
	first := s.DrawdownPeriods[0]
	assert.True(t, first.Recovered)
	require.NotNil(t, first.End)
	assert.InDelta(t, 10.0, first.DrawdownPct, 1e-9)
	assert.Equal(t, 918_000.0, first.Trough)

	second := s.DrawdownPeriods[1]
	assert.False(t, second.Recovered)
	assert.Nil(t, second.End)
	assert.InDelta(t, 2.0, second.DrawdownPct, 1e-9)
}

func TestZeroDenominatorsYieldZeroRatios(t *testing.T) {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	// Flat equity curve: zero volatility, zero drawdown.
	history := historyFrom(start, 1_000_000, []float64{1_000_000, 1_000_000, 1_000_000})

	s := Aggregate(history, nil, 1_000_000)
	assert.Zero(t, s.Sharpe)
	assert.Zero(t, s.Sortino)
	assert.Zero(t, s.Calmar)
	assert.Zero(t, s.MaxDrawdown)
}

func TestEmptyHistory(t *testing.T) {
	s := Aggregate(nil, nil, 1_000_000)
	assert.Zero(t, s.TotalReturn)
	assert.Zero(t, s.TotalTrades)
}

func TestTradeStats(t *testing.T) {
	trades := []domain.Trade{
		{Side: domain.SideBuy}, // buys are not closed trades
		sellTrade(10, nil),
		sellTrade(6, nil),
		sellTrade(-4, nil),
	}
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	history := historyFrom(start, 1_000_000, []float64{1_010_000, 1_020_000})

	s := Aggregate(history, trades, 1_000_000)
	assert.Equal(t, 3, s.TotalTrades)
	assert.Equal(t, 2, s.WinningTrades)
	assert.Equal(t, 1, s.LosingTrades)
	assert.InDelta(t, 66.666, s.WinRate, 0.01)
	assert.InDelta(t, 8.0, s.AvgWin, 1e-9)
	assert.InDelta(t, -4.0, s.AvgLoss, 1e-9)
	assert.InDelta(t, 2.0, s.PLRatio, 1e-9)
}

func TestMonthlyAndYearlyAggregates(t *testing.T) {
	initial := 1_000_000.0
	var history []domain.Snapshot
	prev := initial
	add := func(d time.Time, v float64) {
		history = append(history, snap(d, v, initial, prev))
		prev = v
	}
	add(time.Date(2023, 12, 28, 0, 0, 0, 0, time.UTC), 1_010_000)
	add(time.Date(2023, 12, 29, 0, 0, 0, 0, time.UTC), 1_030_000)
	add(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), 1_040_000)
	add(time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), 1_080_000)

	s := Aggregate(history, nil, initial)
	require.Len(t, s.Monthly, 2)
	assert.Equal(t, 2023, s.Monthly[0].Year)
	assert.Equal(t, 12, s.Monthly[0].Month)
	assert.InDelta(t, 2.0, s.Monthly[0].Return, 1e-9) // 1.0% -> 3.0%
	assert.InDelta(t, 4.0, s.Monthly[1].Return, 1e-9) // 4.0% -> 8.0%

	require.Len(t, s.Yearly, 2)
	assert.Equal(t, 2023, s.Yearly[0].Year)
	assert.Equal(t, 2024, s.Yearly[1].Year)
}

func TestFactorContributions(t *testing.T) {
	trades := []domain.Trade{
		sellTrade(10, map[string]float64{"PER": 5, "ROE": 12}),
		sellTrade(4, map[string]float64{"PER": 7}),
		sellTrade(-2, map[string]float64{"ROE": 8}),
	}
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	history := historyFrom(start, 1_000_000, []float64{1_010_000, 1_020_000})

	s := Aggregate(history, trades, 1_000_000)
	require.Len(t, s.FactorContributions, 2)

	top := s.FactorContributions[0]
	assert.Equal(t, "PER", top.Factor)
	assert.Equal(t, 1, top.ImportanceRank)
	assert.Equal(t, 2, top.TradeCount)
	assert.Equal(t, 2, top.WinCount)
	assert.InDelta(t, 100.0, top.WinRate, 1e-9)
	assert.InDelta(t, 7.0, top.AvgReturn, 1e-9)
	assert.InDelta(t, 700.0, top.Score, 1e-9)

	roe := s.FactorContributions[1]
	assert.Equal(t, "ROE", roe.Factor)
	assert.Equal(t, 2, roe.ImportanceRank)
	assert.InDelta(t, 50.0, roe.WinRate, 1e-9)
	assert.InDelta(t, 4.0, roe.AvgReturn, 1e-9)
	assert.InDelta(t, 200.0, roe.Score, 1e-9)
}
