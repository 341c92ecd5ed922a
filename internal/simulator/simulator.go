// Package simulator walks calendar time day by day, applying exit rules,
// rebalance entries and cash accounting for one backtest. A simulator is
// single-goroutine by contract; snapshots it emits are immutable values.
package simulator

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/crucial-sub/stocklab/internal/conditions"
	"github.com/crucial-sub/stocklab/internal/domain"
	"github.com/crucial-sub/stocklab/internal/errs"
	"github.com/crucial-sub/stocklab/internal/factors"
)

// Simulator holds the mutable portfolio state of one run.
type Simulator struct {
	strat   *domain.Strategy
	frame   *domain.PriceFrame
	cal     *domain.Calendar
	actions map[string]domain.CorporateAction
	buy     *conditions.Evaluator
	sell    *conditions.Evaluator
	log     zerolog.Logger

	cash     float64
	holdings map[string]*domain.Position
	applied  map[string]bool
	history  []domain.Snapshot
	trades   []domain.Trade
	peak     float64
	prevVal  float64
}

// New builds a simulator. sell may be nil when the strategy has no sell
// expression. actions is the corporate-action event map keyed by stock.
func New(strat *domain.Strategy, frame *domain.PriceFrame, cal *domain.Calendar,
	actions map[string]domain.CorporateAction, buy, sell *conditions.Evaluator,
	log zerolog.Logger) *Simulator {
	return &Simulator{
		strat:    strat,
		frame:    frame,
		cal:      cal,
		actions:  actions,
		buy:      buy,
		sell:     sell,
		log:      log.With().Str("component", "simulator").Logger(),
		cash:     strat.InitialCapital,
		holdings: make(map[string]*domain.Position),
		applied:  make(map[string]bool),
		peak:     strat.InitialCapital,
		prevVal:  strat.InitialCapital,
	}
}

// Accessors for the finished run.

func (s *Simulator) History() []domain.Snapshot           { return s.history }
func (s *Simulator) Trades() []domain.Trade               { return s.trades }
func (s *Simulator) Cash() float64                        { return s.cash }
func (s *Simulator) Holdings() map[string]domain.Position {
	out := make(map[string]domain.Position, len(s.holdings))
	for k, v := range s.holdings {
		out[k] = *v
	}
	return out
}

// blocked reports whether stock is barred from new entries on day d.
func (s *Simulator) blocked(stock string, d time.Time) bool {
	ev, ok := s.actions[stock]
	return ok && !ev.EventDate.After(d)
}

// Step processes one trading day and returns its end-of-day snapshot.
// isFinal marks the last day of the window, which liquidates everything at
// close with reason FINAL after the normal pipeline.
func (s *Simulator) Step(d time.Time, table *factors.Table, isFinal bool) (domain.Snapshot, error) {
	buyCount, sellCount := 0, 0
	soldToday := make(map[string]bool)

	// 1. Advance hold days.
	for _, pos := range s.holdings {
		pos.HoldDays++
	}

	// 2. Forced liquidation on corporate actions, at the last clean close.
	for _, stock := range s.heldStocks() {
		ev, ok := s.actions[stock]
		if !ok || ev.EventDate.After(d) || s.applied[stock] {
			continue
		}
		s.applied[stock] = true
		bar, ok := s.frame.BarOrBefore(stock, d)
		if !ok {
			return domain.Snapshot{}, errs.New(errs.KindInternal,
				"no clean bar to liquidate %s before corporate action on %s", stock, d.Format("2006-01-02"))
		}
		s.sellPosition(d, stock, bar.Close, domain.SellCorporateAction)
		sellCount++
		soldToday[stock] = true
		s.log.Warn().Str("stock", stock).Time("event_date", ev.EventDate).
			Msg("position force-liquidated on corporate action")
	}

	// 3. Exit rules, first match wins per position.
	for _, stock := range s.heldStocks() {
		pos, held := s.holdings[stock]
		if !held {
			continue
		}
		bar, ok := s.frame.Bar(stock, d)
		if !ok {
			continue // no bar today, valued by carry-forward below
		}
		if pos.HoldDays < s.strat.HoldRules.MinHoldDays {
			continue
		}
		retPct := (bar.Close - pos.EntryPrice) / pos.EntryPrice * 100

		switch {
		case s.strat.TargetAndLoss.StopLoss > 0 && retPct <= -s.strat.TargetAndLoss.StopLoss:
			s.sellPosition(d, stock, s.exitPrice(d, bar), domain.SellStopLoss)
		case s.strat.TargetAndLoss.TargetGain > 0 && retPct >= s.strat.TargetAndLoss.TargetGain:
			s.sellPosition(d, stock, s.exitPrice(d, bar), domain.SellTargetGain)
		case s.strat.HoldRules.MaxHoldDays > 0 && pos.HoldDays >= s.strat.HoldRules.MaxHoldDays:
			s.sellPosition(d, stock, bar.Close, domain.SellMaxHold)
		case s.sell != nil:
			hit, err := s.sell.MatchesStock(table, stock)
			if err != nil {
				return domain.Snapshot{}, err
			}
			if !hit {
				continue
			}
			s.sellPosition(d, stock, s.exitPrice(d, bar), domain.SellCondition)
		default:
			continue
		}
		sellCount++
		soldToday[stock] = true
	}

	// 4-6. Rebalance gate, rebalance exits, entries.
	if s.cal.IsRebalanceDay(d, s.strat.Rebalance) {
		matched, err := s.buy.Matches(table)
		if err != nil {
			return domain.Snapshot{}, err
		}
		matchedSet := make(map[string]bool, len(matched))
		for _, stock := range matched {
			matchedSet[stock] = true
		}

		// 5. Holdings that dropped out of the buy set are sold.
		for _, stock := range s.heldStocks() {
			if matchedSet[stock] {
				continue
			}
			bar, ok := s.frame.Bar(stock, d)
			if !ok {
				continue
			}
			s.sellPosition(d, stock, bar.Close, domain.SellRebalance)
			sellCount++
			soldToday[stock] = true
		}

		// 6. Ranked entries up to capacity.
		bought, err := s.enterPositions(d, table, matched, soldToday)
		if err != nil {
			return domain.Snapshot{}, err
		}
		buyCount += bought
	}

	// Final-day liquidation.
	if isFinal {
		for _, stock := range s.heldStocks() {
			bar, ok := s.frame.BarOrBefore(stock, d)
			if !ok {
				return domain.Snapshot{}, errs.New(errs.KindInternal, "no bar to finalise %s", stock)
			}
			s.sellPosition(d, stock, bar.Close, domain.SellFinal)
			sellCount++
		}
	}

	// 7. Mark to market.
	snap, err := s.markToMarket(d, buyCount, sellCount)
	if err != nil {
		return domain.Snapshot{}, err
	}
	s.history = append(s.history, snap)
	return snap, nil
}

// exitPrice resolves the configured sell price basis for stop-loss, take-
// profit and condition sells, with the optional fractional offset applied.
func (s *Simulator) exitPrice(d time.Time, bar domain.PriceBar) float64 {
	base := bar.Close
	switch s.strat.HoldRules.SellPriceBasis {
	case domain.BasisOpen:
		base = bar.Open
	case domain.BasisPrevClose:
		if prev, ok := s.cal.Prev(d); ok {
			if pb, ok := s.frame.Bar(bar.Stock, prev); ok {
				base = pb.Close
			}
		}
	}
	return base * (1 + s.strat.HoldRules.SellPriceOffset)
}

func (s *Simulator) heldStocks() []string {
	stocks := make([]string, 0, len(s.holdings))
	for stock := range s.holdings {
		stocks = append(stocks, stock)
	}
	sort.Strings(stocks)
	return stocks
}

// sellPosition executes a full exit. Net proceeds fold commission and tax
// into realised PnL; gross price difference would overstate returns.
func (s *Simulator) sellPosition(d time.Time, stock string, price float64, reason domain.SellReason) {
	pos := s.holdings[stock]
	amount := price * float64(pos.Quantity)
	commission := amount * s.strat.CommissionRate
	tax := amount * s.strat.TaxRate
	net := amount - commission - tax
	cost := pos.EntryPrice * float64(pos.Quantity)
	realised := net - cost
	retPct := realised / cost * 100
	holdDays := pos.HoldDays

	s.cash += net
	delete(s.holdings, stock)

	s.trades = append(s.trades, domain.Trade{
		Date:           d,
		Side:           domain.SideSell,
		Stock:          stock,
		Quantity:       pos.Quantity,
		Price:          price,
		Amount:         amount,
		Commission:     commission,
		Tax:            tax,
		RealisedPnL:    &realised,
		ReturnPct:      &retPct,
		HoldDays:       &holdDays,
		FactorSnapshot: pos.EntrySnapshot,
		SellReason:     reason,
	})
}

// enterPositions buys ranked candidates into open slots. Budgets divide the
// free cash by the chosen sizing model; quantity flooring accounts for the
// buy commission so a full-budget fill can never drive cash negative.
func (s *Simulator) enterPositions(d time.Time, table *factors.Table, matched []string, soldToday map[string]bool) (int, error) {
	slots := s.strat.MaxPositions - len(s.holdings)
	if slots <= 0 {
		return 0, nil
	}

	ranked := conditions.Rank(table, matched, s.strat.PriorityFactor, s.strat.PriorityOrder)
	var candidates []string
	for _, stock := range ranked {
		if len(candidates) == slots {
			break
		}
		if _, held := s.holdings[stock]; held {
			continue
		}
		if soldToday[stock] || s.blocked(stock, d) {
			continue
		}
		bar, ok := s.frame.Bar(stock, d)
		if !ok || !bar.Valid() {
			continue
		}
		candidates = append(candidates, stock)
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	weights := s.weights(d, table, candidates)
	budgetBase := s.cash
	bought := 0
	for i, stock := range candidates {
		bar, _ := s.frame.Bar(stock, d)
		execPrice := bar.Open * (1 + s.strat.Slippage)
		budget := budgetBase * weights[i]
		qty := int64(math.Floor(budget / (execPrice * (1 + s.strat.CommissionRate))))
		if qty < 1 {
			continue
		}
		amount := execPrice * float64(qty)
		commission := amount * s.strat.CommissionRate
		if s.cash-amount-commission < 0 {
			continue
		}
		s.cash -= amount + commission

		entrySnap := table.Row(stock)
		if pos, held := s.holdings[stock]; held {
			pos.AddLot(execPrice, qty)
		} else {
			s.holdings[stock] = &domain.Position{
				Stock:         stock,
				EntryDate:     d,
				EntryPrice:    execPrice,
				Quantity:      qty,
				EntrySnapshot: entrySnap,
			}
		}
		s.trades = append(s.trades, domain.Trade{
			Date:           d,
			Side:           domain.SideBuy,
			Stock:          stock,
			Quantity:       qty,
			Price:          execPrice,
			Amount:         amount,
			Commission:     commission,
			FactorSnapshot: entrySnap,
		})
		bought++
	}
	return bought, nil
}

// weights returns per-candidate allocation fractions summing to <= 1.
func (s *Simulator) weights(d time.Time, table *factors.Table, candidates []string) []float64 {
	n := len(candidates)
	weights := make([]float64, n)
	switch s.strat.Sizing {
	case domain.SizingMarketCap:
		var total float64
		caps := make([]float64, n)
		for i, stock := range candidates {
			if bar, ok := s.frame.Bar(stock, d); ok && bar.MarketCap > 0 {
				caps[i] = bar.MarketCap
				total += bar.MarketCap
			}
		}
		if total > 0 {
			for i := range weights {
				weights[i] = caps[i] / total
			}
			return weights
		}
	case domain.SizingRiskParity:
		var total float64
		inv := make([]float64, n)
		for i, stock := range candidates {
			if vol, ok := table.Value(stock, factors.Volatility); ok && vol > 0 {
				inv[i] = 1 / vol
				total += inv[i]
			}
		}
		if total > 0 {
			for i := range weights {
				weights[i] = inv[i] / total
			}
			return weights
		}
	}
	for i := range weights {
		weights[i] = 1 / float64(n)
	}
	return weights
}

// markToMarket values the portfolio at d's close and enforces the cash and
// identity invariants.
func (s *Simulator) markToMarket(d time.Time, buyCount, sellCount int) (domain.Snapshot, error) {
	if s.cash < 0 {
		return domain.Snapshot{}, errs.New(errs.KindInternal, "cash went negative: %.4f on %s", s.cash, d.Format("2006-01-02"))
	}
	invested := 0.0
	for _, stock := range s.heldStocks() {
		pos := s.holdings[stock]
		bar, ok := s.frame.BarOrBefore(stock, d)
		if !ok {
			return domain.Snapshot{}, errs.New(errs.KindInternal, "no price to value %s on %s", stock, d.Format("2006-01-02"))
		}
		invested += pos.Value(bar.Close)
	}
	value := s.cash + invested
	if value > s.peak {
		s.peak = value
	}
	dailyRet := 0.0
	if s.prevVal > 0 {
		dailyRet = (value - s.prevVal) / s.prevVal * 100
	}
	s.prevVal = value

	snap := domain.Snapshot{
		Date:             d,
		PortfolioValue:   value,
		Cash:             s.cash,
		Invested:         invested,
		DailyReturn:      dailyRet,
		CumulativeReturn: (value - s.strat.InitialCapital) / s.strat.InitialCapital * 100,
		Drawdown:         (s.peak - value) / s.peak * 100,
		BuyCount:         buyCount,
		SellCount:        sellCount,
	}
	return snap, nil
}
