// Package stats derives performance statistics from a finished simulation:
// returns, risk ratios, drawdown periods, periodic aggregates and per-factor
// trade attribution.
package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/crucial-sub/stocklab/internal/domain"
)

const tradingDaysPerYear = 252

// Statistics is the full result block returned by the API and persisted with
// the session.
type Statistics struct {
	TotalReturn      float64 `json:"total_return"`
	AnnualisedReturn float64 `json:"annualised_return"`
	Volatility       float64 `json:"volatility"`
	DownsideVol      float64 `json:"downside_volatility"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	Sharpe           float64 `json:"sharpe_ratio"`
	Sortino          float64 `json:"sortino_ratio"`
	Calmar           float64 `json:"calmar_ratio"`

	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	AvgWin        float64 `json:"avg_win"`
	AvgLoss       float64 `json:"avg_loss"`
	PLRatio       float64 `json:"profit_loss_ratio"`

	FinalValue     float64 `json:"final_value"`
	InitialCapital float64 `json:"initial_capital"`
	TradingDays    int     `json:"trading_days"`

	Monthly             []PeriodReturn       `json:"monthly_performance"`
	Yearly              []PeriodReturn       `json:"yearly_performance"`
	DrawdownPeriods     []DrawdownPeriod     `json:"drawdown_periods"`
	FactorContributions []FactorContribution `json:"factor_contributions"`
}

// PeriodReturn is one month's or year's change in cumulative return,
// expressed in percentage points.
type PeriodReturn struct {
	Year   int     `json:"year"`
	Month  int     `json:"month,omitempty"`
	Return float64 `json:"return"`
}

// DrawdownPeriod is one contiguous run of positive drawdown.
type DrawdownPeriod struct {
	Start       domain.Date  `json:"start_date"`
	TroughDate  domain.Date  `json:"trough_date"`
	End         *domain.Date `json:"end_date,omitempty"`
	Peak        float64      `json:"peak_value"`
	Trough      float64      `json:"trough_value"`
	DrawdownPct float64      `json:"drawdown_pct"`
	Recovered   bool         `json:"recovered"`
}

// FactorContribution attributes closed trades to the factors present in
// their entry snapshots.
type FactorContribution struct {
	Factor         string  `json:"factor"`
	TradeCount     int     `json:"trade_count"`
	WinCount       int     `json:"win_count"`
	WinRate        float64 `json:"win_rate"`
	AvgReturn      float64 `json:"avg_return"`
	Score          float64 `json:"contribution_score"`
	ImportanceRank int     `json:"importance_rank"`
}

// Aggregate derives statistics from the daily history and trade log.
// Empty-trade and zero-denominator cases zero the dependent ratios instead
// of failing.
func Aggregate(history []domain.Snapshot, trades []domain.Trade, initialCapital float64) Statistics {
	s := Statistics{InitialCapital: initialCapital, TradingDays: len(history)}
	if len(history) == 0 {
		return s
	}

	final := history[len(history)-1].PortfolioValue
	s.FinalValue = final
	s.TotalReturn = (final - initialCapital) / initialCapital * 100

	growth := final / initialCapital
	if growth > 0 && len(history) > 0 {
		s.AnnualisedReturn = (math.Pow(growth, tradingDaysPerYear/float64(len(history))) - 1) * 100
	}

	daily := make([]float64, len(history))
	var downside []float64
	for i, snap := range history {
		daily[i] = snap.DailyReturn / 100
		if daily[i] < 0 {
			downside = append(downside, daily[i])
		}
	}
	if len(daily) > 1 {
		s.Volatility = math.Sqrt(stat.Variance(daily, nil)) * math.Sqrt(tradingDaysPerYear) * 100
	}
	if len(downside) > 1 {
		s.DownsideVol = math.Sqrt(stat.Variance(downside, nil)) * math.Sqrt(tradingDaysPerYear) * 100
	}

	s.MaxDrawdown = maxDrawdown(history)
	s.Sharpe = safeRatio(s.AnnualisedReturn, s.Volatility)
	s.Sortino = safeRatio(s.AnnualisedReturn, s.DownsideVol)
	s.Calmar = safeRatio(s.AnnualisedReturn, s.MaxDrawdown)

	s.aggregateTrades(trades)
	s.Monthly, s.Yearly = periodReturns(history)
	s.DrawdownPeriods = drawdownPeriods(history)
	s.FactorContributions = factorContributions(trades)
	return s
}

func safeRatio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

func maxDrawdown(history []domain.Snapshot) float64 {
	peak := 0.0
	mdd := 0.0
	for _, snap := range history {
		if snap.PortfolioValue > peak {
			peak = snap.PortfolioValue
		}
		if peak > 0 {
			dd := (peak - snap.PortfolioValue) / peak * 100
			if dd > mdd {
				mdd = dd
			}
		}
	}
	return mdd
}

func (s *Statistics) aggregateTrades(trades []domain.Trade) {
	var wins, losses []float64
	for _, tr := range trades {
		if tr.Side != domain.SideSell || tr.ReturnPct == nil {
			continue
		}
		s.TotalTrades++
		if *tr.ReturnPct > 0 {
			wins = append(wins, *tr.ReturnPct)
		} else {
			losses = append(losses, *tr.ReturnPct)
		}
	}
	s.WinningTrades = len(wins)
	s.LosingTrades = len(losses)
	if s.TotalTrades > 0 {
		s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades) * 100
	}
	if len(wins) > 0 {
		s.AvgWin = stat.Mean(wins, nil)
	}
	if len(losses) > 0 {
		s.AvgLoss = stat.Mean(losses, nil)
	}
	if s.AvgLoss != 0 {
		s.PLRatio = math.Abs(s.AvgWin / s.AvgLoss)
	}
}

// periodReturns groups snapshots by month and year; a period's return is the
// change of cumulative return across the group, in percentage points.
func periodReturns(history []domain.Snapshot) (monthly, yearly []PeriodReturn) {
	type span struct{ first, last float64 }
	months := make(map[[2]int]*span)
	years := make(map[int]*span)
	var monthKeys [][2]int
	var yearKeys []int

	for _, snap := range history {
		mk := [2]int{snap.Date.Year(), int(snap.Date.Month())}
		if sp, ok := months[mk]; ok {
			sp.last = snap.CumulativeReturn
		} else {
			months[mk] = &span{first: snap.CumulativeReturn, last: snap.CumulativeReturn}
			monthKeys = append(monthKeys, mk)
		}
		yk := snap.Date.Year()
		if sp, ok := years[yk]; ok {
			sp.last = snap.CumulativeReturn
		} else {
			years[yk] = &span{first: snap.CumulativeReturn, last: snap.CumulativeReturn}
			yearKeys = append(yearKeys, yk)
		}
	}
	for _, mk := range monthKeys {
		sp := months[mk]
		monthly = append(monthly, PeriodReturn{Year: mk[0], Month: mk[1], Return: sp.last - sp.first})
	}
	for _, yk := range yearKeys {
		sp := years[yk]
		yearly = append(yearly, PeriodReturn{Year: yk, Return: sp.last - sp.first})
	}
	return monthly, yearly
}

func drawdownPeriods(history []domain.Snapshot) []DrawdownPeriod {
	var periods []DrawdownPeriod
	var cur *DrawdownPeriod
	peak := 0.0
	for _, snap := range history {
		if snap.PortfolioValue >= peak {
			peak = snap.PortfolioValue
			if cur != nil {
				end := snap.Date
				cur.End = &end
				cur.Recovered = true
				periods = append(periods, *cur)
				cur = nil
			}
			continue
		}
		dd := (peak - snap.PortfolioValue) / peak * 100
		if cur == nil {
			cur = &DrawdownPeriod{
				Start:       snap.Date,
				TroughDate:  snap.Date,
				Peak:        peak,
				Trough:      snap.PortfolioValue,
				DrawdownPct: dd,
			}
			continue
		}
		if snap.PortfolioValue < cur.Trough {
			cur.Trough = snap.PortfolioValue
			cur.TroughDate = snap.Date
			cur.DrawdownPct = dd
		}
	}
	if cur != nil {
		periods = append(periods, *cur) // still underwater at window end
	}
	return periods
}

// factorContributions scores each factor seen in entry snapshots of closed
// trades by win_rate x avg_return and ranks them by score.
func factorContributions(trades []domain.Trade) []FactorContribution {
	type acc struct {
		count int
		wins  int
		total float64
	}
	byFactor := make(map[string]*acc)
	for _, tr := range trades {
		if tr.Side != domain.SideSell || tr.ReturnPct == nil {
			continue
		}
		for factor := range tr.FactorSnapshot {
			a, ok := byFactor[factor]
			if !ok {
				a = &acc{}
				byFactor[factor] = a
			}
			a.count++
			a.total += *tr.ReturnPct
			if *tr.ReturnPct > 0 {
				a.wins++
			}
		}
	}

	out := make([]FactorContribution, 0, len(byFactor))
	for factor, a := range byFactor {
		winRate := float64(a.wins) / float64(a.count) * 100
		avgRet := a.total / float64(a.count)
		out = append(out, FactorContribution{
			Factor:     factor,
			TradeCount: a.count,
			WinCount:   a.wins,
			WinRate:    winRate,
			AvgReturn:  avgRet,
			Score:      winRate * avgRet,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Factor < out[j].Factor
	})
	for i := range out {
		out[i].ImportanceRank = i + 1
	}
	return out
}
