package live

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/crucial-sub/stocklab/internal/cache"
	"github.com/crucial-sub/stocklab/internal/conditions"
	"github.com/crucial-sub/stocklab/internal/dataload"
	"github.com/crucial-sub/stocklab/internal/domain"
	"github.com/crucial-sub/stocklab/internal/errs"
	"github.com/crucial-sub/stocklab/internal/factors"
	"github.com/crucial-sub/stocklab/internal/metrics"
	"github.com/crucial-sub/stocklab/internal/persistence"
)

const (
	selectionSchedule = "0 7 * * MON-FRI"
	executionSchedule = "0 9 * * MON-FRI"
	jobTimeout        = 30 * time.Minute
)

// Trader runs one strategy live: selection before the open from the latest
// complete trading day, execution at the open through the broker. Jobs for a
// strategy never overlap.
type Trader struct {
	strategyID string
	strat      *domain.Strategy
	store      dataload.Store
	loader     *dataload.Loader
	factors    *factors.Engine
	cache      *cache.Cache
	repo       persistence.LiveRepo
	broker     Broker
	log        zerolog.Logger

	buy  *conditions.Evaluator
	sell *conditions.Evaluator
	mask factors.ComputeMask
	hash string

	loc  *time.Location
	cron *cron.Cron
	mu   sync.Mutex
	now  func() time.Time
}

// NewTrader validates and compiles the strategy once, at wiring time.
func NewTrader(strategyID string, strat *domain.Strategy, store dataload.Store,
	loader *dataload.Loader, fe *factors.Engine, c *cache.Cache,
	repo persistence.LiveRepo, broker Broker, log zerolog.Logger) (*Trader, error) {
	if err := strat.Validate(); err != nil {
		return nil, err
	}
	strat.HoldRules.SellPriceBasis = domain.NormalizePriceBasis(string(strat.HoldRules.SellPriceBasis))

	hash, err := domain.StrategyHash(strat)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "hash strategy")
	}
	buy, err := conditions.Compile(strat.BuyExpression, strat.BuyConditions)
	if err != nil {
		return nil, err
	}
	var sell *conditions.Evaluator
	if strat.ConditionSell != nil || len(strat.SellConditions) > 0 {
		if sell, err = conditions.Compile(strat.ConditionSell, strat.SellConditions); err != nil {
			return nil, err
		}
	}
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "load KST location")
	}
	return &Trader{
		strategyID: strategyID,
		strat:      strat,
		store:      store,
		loader:     loader,
		factors:    fe,
		cache:      c,
		repo:       repo,
		broker:     broker,
		log:        log.With().Str("component", "live_trader").Str("strategy", strategyID).Logger(),
		buy:        buy,
		sell:       sell,
		mask:       factors.Analyse(strat),
		hash:       hash,
		loc:        loc,
		now:        time.Now,
	}, nil
}

// Start registers the KST cron jobs and starts the scheduler.
func (t *Trader) Start() error {
	t.cron = cron.New(cron.WithLocation(t.loc))
	if _, err := t.cron.AddFunc(selectionSchedule, t.job("selection", t.RunSelection)); err != nil {
		return errs.Wrap(errs.KindInternal, err, "register selection job")
	}
	if _, err := t.cron.AddFunc(executionSchedule, t.job("execution", t.RunExecution)); err != nil {
		return errs.Wrap(errs.KindInternal, err, "register execution job")
	}
	t.cron.Start()
	t.log.Info().Str("selection", selectionSchedule).Str("execution", executionSchedule).
		Msg("live trader scheduled")
	return nil
}

// Stop halts the scheduler and waits for a running job to finish.
func (t *Trader) Stop() {
	if t.cron != nil {
		<-t.cron.Stop().Done()
	}
}

func (t *Trader) job(name string, fn func(context.Context) error) func() {
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		started := t.now()
		if err := fn(ctx); err != nil {
			t.log.Error().Err(err).Str("job", name).Msg("live job failed")
			return
		}
		t.log.Info().Str("job", name).Dur("elapsed", t.now().Sub(started)).Msg("live job finished")
	}
}

func (t *Trader) today() time.Time {
	return domain.Day(t.now().In(t.loc))
}

// RunSelection decides today's trades from the latest complete trading day
// and persists them as a rebalance preview for the execution job.
func (t *Trader) RunSelection(ctx context.Context) error {
	dataDate, err := t.store.LatestUniverseDate(ctx)
	if err != nil {
		return err
	}
	ds, err := t.loader.Load(ctx, dataload.Request{
		Start:     dataDate,
		End:       dataDate,
		Themes:    t.strat.TargetThemes,
		Stocks:    t.strat.TargetStocks,
		Universes: t.strat.TargetUniverses,
		Accounts:  factors.AllAccounts,
	})
	if err != nil {
		return err
	}
	table, err := t.tableFor(ctx, ds, dataDate)
	if err != nil {
		return err
	}

	positions, err := t.repo.LoadPositions(ctx, t.strategyID)
	if err != nil {
		return err
	}
	// Hold days are recomputed absolutely from the entry date, so a missed
	// selection run never desynchronises the counter.
	for stock, pos := range positions {
		pos.HoldDays = domain.BusinessDaysBetween(pos.EntryDate, dataDate)
		positions[stock] = pos
	}

	sells := t.selectSells(ds.Frame, table, positions, dataDate)
	buys, err := t.selectBuys(table, positions, sells)
	if err != nil {
		return err
	}

	preview := persistence.RebalancePreview{
		StrategyID: t.strategyID,
		TradeDate:  t.today(),
		Sells:      sells,
		Buys:       buys,
		CreatedAt:  t.now().UTC(),
	}
	if err := t.repo.SavePreview(ctx, preview); err != nil {
		return err
	}
	if err := t.repo.SavePositions(ctx, t.strategyID, positions); err != nil {
		return err
	}
	t.log.Info().
		Time("data_date", dataDate).
		Strs("sells", sells).
		Strs("buys", buys).
		Msg("rebalance preview saved")
	return nil
}

// selectSells applies the backtest exit rules to live positions using the
// latest close. Order and precedence match the simulator.
func (t *Trader) selectSells(frame *domain.PriceFrame, table *factors.Table,
	positions map[string]domain.Position, dataDate time.Time) []string {
	held := make([]string, 0, len(positions))
	for stock := range positions {
		held = append(held, stock)
	}
	sort.Strings(held)

	var sells []string
	for _, stock := range held {
		pos := positions[stock]
		bar, ok := frame.BarOrBefore(stock, dataDate)
		if !ok || pos.EntryPrice <= 0 {
			continue
		}
		if pos.HoldDays < t.strat.HoldRules.MinHoldDays {
			continue
		}
		retPct := (bar.Close - pos.EntryPrice) / pos.EntryPrice * 100

		switch {
		case t.strat.TargetAndLoss.StopLoss > 0 && retPct <= -t.strat.TargetAndLoss.StopLoss:
		case t.strat.TargetAndLoss.TargetGain > 0 && retPct >= t.strat.TargetAndLoss.TargetGain:
		case t.strat.HoldRules.MaxHoldDays > 0 && pos.HoldDays >= t.strat.HoldRules.MaxHoldDays:
		case t.sell != nil:
			hit, err := t.sell.MatchesStock(table, stock)
			if err != nil || !hit {
				continue
			}
		default:
			continue
		}
		sells = append(sells, stock)
	}
	return sells
}

// selectBuys ranks the matched candidates and fills the remaining capacity,
// skipping stocks already held.
func (t *Trader) selectBuys(table *factors.Table, positions map[string]domain.Position,
	sells []string) ([]string, error) {
	matched, err := t.buy.Matches(table)
	if err != nil {
		return nil, err
	}
	selling := make(map[string]bool, len(sells))
	for _, stock := range sells {
		selling[stock] = true
	}
	remaining := 0
	for stock := range positions {
		if !selling[stock] {
			remaining++
		}
	}
	slots := t.strat.MaxPositions - remaining
	if slots <= 0 {
		return nil, nil
	}

	ranked := conditions.Rank(table, matched, t.strat.PriorityFactor, t.strat.PriorityOrder)
	var buys []string
	for _, stock := range ranked {
		if len(buys) >= slots {
			break
		}
		if _, held := positions[stock]; held || selling[stock] {
			continue
		}
		buys = append(buys, stock)
	}
	return buys, nil
}

// tableFor serves the factor table for one date, cache first.
func (t *Trader) tableFor(ctx context.Context, ds *dataload.Dataset, date time.Time) (*factors.Table, error) {
	key := cache.FactorKey(date, t.strat.UniverseKey(), t.hash)
	if t.cache != nil {
		if found, _ := t.cache.GetTables(ctx, []string{key}, t.mask.Key()); len(found) == 1 {
			return found[key], nil
		}
	}
	in := factors.Inputs{Frame: ds.Frame, Fundamentals: ds.Fundamentals, Universe: ds.Universe}
	table, err := t.factors.ComputeDate(ctx, in, date, t.mask)
	if err != nil {
		return nil, err
	}
	if t.cache != nil {
		t.cache.PutTables(ctx, map[string]*factors.Table{key: table}, t.mask.Key())
	}
	return table, nil
}

// RunExecution submits the day's preview through the broker, sells first so
// the freed cash funds the buys. A missing preview is not an error.
func (t *Trader) RunExecution(ctx context.Context) error {
	today := t.today()
	preview, err := t.repo.GetPreview(ctx, t.strategyID, today)
	if err != nil {
		return err
	}
	if preview == nil {
		t.log.Warn().Time("trade_date", today).Msg("no rebalance preview, skipping execution")
		return nil
	}

	positions, err := t.repo.LoadPositions(ctx, t.strategyID)
	if err != nil {
		return err
	}

	for _, stock := range preview.Sells {
		pos, held := positions[stock]
		if !held {
			continue
		}
		if err := t.submit(ctx, OrderRequest{
			Stock:    stock,
			Side:     domain.SideSell,
			Quantity: pos.Quantity,
		}); err != nil {
			continue
		}
		delete(positions, stock)
	}

	if len(preview.Buys) > 0 {
		cash, err := t.broker.CashBalance(ctx)
		if err != nil {
			return err
		}
		budget := cash / float64(len(preview.Buys))
		for _, stock := range preview.Buys {
			price, err := t.broker.CurrentPrice(ctx, stock)
			if err != nil || price <= 0 {
				t.log.Error().Err(err).Str("stock", stock).Msg("price lookup failed, skipping buy")
				continue
			}
			qty := int64(math.Floor(budget / (price * (1 + t.strat.CommissionRate))))
			if qty < 1 {
				t.log.Warn().Str("stock", stock).Float64("budget", budget).
					Float64("price", price).Msg("budget below one share, skipping buy")
				continue
			}
			if err := t.submit(ctx, OrderRequest{
				Stock:    stock,
				Side:     domain.SideBuy,
				Quantity: qty,
			}); err != nil {
				continue
			}
			positions[stock] = domain.Position{
				Stock:      stock,
				EntryDate:  today,
				EntryPrice: price,
				Quantity:   qty,
			}
		}
	}

	if err := t.repo.SavePositions(ctx, t.strategyID, positions); err != nil {
		return err
	}
	return t.recordPerformance(ctx, today, positions)
}

// submit places one order, persists its outcome and counts it.
func (t *Trader) submit(ctx context.Context, req OrderRequest) error {
	ref, err := t.broker.PlaceOrder(ctx, req)
	order := persistence.LiveOrder{
		ID:         uuid.New().String(),
		StrategyID: t.strategyID,
		Stock:      req.Stock,
		Side:       req.Side,
		Quantity:   req.Quantity,
		Price:      req.Price,
		Status:     "submitted",
		CreatedAt:  t.now().UTC(),
	}
	if err != nil {
		order.Status = "rejected"
		metrics.LiveOrders.WithLabelValues(string(req.Side), "rejected").Inc()
		t.log.Error().Err(err).Str("stock", req.Stock).Str("side", string(req.Side)).
			Msg("order rejected")
	} else {
		order.BrokerRef = &ref
		metrics.LiveOrders.WithLabelValues(string(req.Side), "submitted").Inc()
	}
	if serr := t.repo.SaveOrder(ctx, order); serr != nil {
		t.log.Error().Err(serr).Str("stock", req.Stock).Msg("failed to persist order")
	}
	return err
}

func (t *Trader) recordPerformance(ctx context.Context, today time.Time,
	positions map[string]domain.Position) error {
	cash, err := t.broker.CashBalance(ctx)
	if err != nil {
		return err
	}
	invested := 0.0
	for stock, pos := range positions {
		price, perr := t.broker.CurrentPrice(ctx, stock)
		if perr != nil || price <= 0 {
			price = pos.EntryPrice
		}
		invested += pos.Value(price)
	}
	total := cash + invested
	snap := domain.Snapshot{
		Date:             today,
		PortfolioValue:   total,
		Cash:             cash,
		Invested:         invested,
		CumulativeReturn: (total - t.strat.InitialCapital) / t.strat.InitialCapital * 100,
	}
	return t.repo.SaveDailyPerformance(ctx, t.strategyID, snap)
}
