// Package engine orchestrates one backtest end to end: validation, data
// loading, corporate-action scanning, factor materialisation through the
// cache, day-by-day simulation, statistics and persistence. Progress is
// streamed to hub subscribers as it happens.
package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/crucial-sub/stocklab/internal/cache"
	"github.com/crucial-sub/stocklab/internal/conditions"
	"github.com/crucial-sub/stocklab/internal/dataload"
	"github.com/crucial-sub/stocklab/internal/domain"
	"github.com/crucial-sub/stocklab/internal/errs"
	"github.com/crucial-sub/stocklab/internal/factors"
	"github.com/crucial-sub/stocklab/internal/metrics"
	"github.com/crucial-sub/stocklab/internal/persistence"
	"github.com/crucial-sub/stocklab/internal/simulator"
	"github.com/crucial-sub/stocklab/internal/stats"
	"github.com/crucial-sub/stocklab/internal/stream"
)

// Engine wires the backtest pipeline. cache, sessions and hub are optional;
// a nil cache computes everything, a nil sessions repo skips persistence and
// a nil hub streams to nobody.
type Engine struct {
	loader    *dataload.Loader
	cache     *cache.Cache
	factors   *factors.Engine
	sessions  persistence.SessionRepo
	hub       *stream.Hub
	threshold float64
	log       zerolog.Logger
}

// New assembles an engine. thresholdPct <= 0 uses the corporate-action
// detector default.
func New(loader *dataload.Loader, c *cache.Cache, fe *factors.Engine,
	sessions persistence.SessionRepo, hub *stream.Hub, thresholdPct float64,
	log zerolog.Logger) *Engine {
	return &Engine{
		loader:    loader,
		cache:     c,
		factors:   fe,
		sessions:  sessions,
		hub:       hub,
		threshold: thresholdPct,
		log:       log.With().Str("component", "engine").Logger(),
	}
}

// Run executes one backtest identified by id. On any failure the session row
// is marked failed with a stable error code and an error event terminates the
// stream. A cancelled run persists no result.
func (e *Engine) Run(ctx context.Context, id string, strat *domain.Strategy) (*persistence.Result, error) {
	started := time.Now()
	result, err := e.run(ctx, id, strat)

	status := "completed"
	if err != nil {
		status = "failed"
		if errs.IsCancelled(err) {
			status = "cancelled"
		}
	}
	metrics.BacktestSeconds.WithLabelValues(status).Observe(time.Since(started).Seconds())

	if err != nil {
		code := errs.KindOf(err).Code()
		if errs.IsCancelled(err) {
			code = errs.KindCancelled.Code()
		}
		if e.sessions != nil {
			// The run context may already be dead; the row update gets its own.
			failCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if ferr := e.sessions.Fail(failCtx, id, code); ferr != nil {
				e.log.Error().Err(ferr).Str("id", id).Msg("failed to mark session failed")
			}
		}
		e.publish(id, stream.Event{Type: stream.EventError, Data: stream.ErrorPayload{
			Code:    code,
			Message: err.Error(),
		}})
		e.log.Error().Err(err).Str("id", id).Str("status", status).Msg("backtest did not complete")
		return nil, err
	}

	e.log.Info().
		Str("id", id).
		Dur("elapsed", time.Since(started)).
		Float64("total_return", result.Statistics.TotalReturn).
		Int("trades", len(result.Trades)).
		Msg("backtest completed")
	return result, nil
}

func (e *Engine) run(ctx context.Context, id string, strat *domain.Strategy) (*persistence.Result, error) {
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
	mask := factors.Analyse(strat)

	session := persistence.Session{
		ID:             id,
		StrategyHash:   hash,
		StartDate:      strat.StartDate,
		EndDate:        strat.EndDate,
		InitialCapital: strat.InitialCapital,
		Status:         "running",
		CreatedAt:      time.Now().UTC(),
	}
	if e.sessions != nil {
		raw, merr := json.Marshal(strat)
		if merr != nil {
			return nil, errs.Wrap(errs.KindInternal, merr, "marshal strategy")
		}
		session.StrategyJSON = raw
		if err := e.sessions.Create(ctx, session); err != nil {
			return nil, errs.Wrap(errs.KindExternalFailure, err, "create session")
		}
	}

	e.stage(id, 1, "load", "loading dataset")
	ds, err := e.loader.Load(ctx, dataload.Request{
		Start:     strat.StartDate,
		End:       strat.EndDate,
		Themes:    strat.TargetThemes,
		Stocks:    strat.TargetStocks,
		Universes: strat.TargetUniverses,
		Accounts:  factors.AllAccounts,
	})
	if err != nil {
		return nil, err
	}

	// The calendar is fixed before corporate-action truncation so event days
	// remain addressable during simulation.
	cal := domain.NewCalendar(ds.Frame.Dates())
	days := cal.Days(strat.StartDate, strat.EndDate)
	if len(days) == 0 {
		return nil, errs.New(errs.KindDataUnavailable, "no trading days between %s and %s",
			strat.StartDate.Format("2006-01-02"), strat.EndDate.Format("2006-01-02"))
	}

	e.stage(id, 2, "corporate_actions", "scanning corporate actions")
	actions := domain.DetectCorporateActions(ds.Frame, e.threshold)

	e.stage(id, 3, "factors", "materialising factor tables")
	tables, err := e.factorTables(ctx, ds, days, mask, strat.UniverseKey(), hash)
	if err != nil {
		return nil, err
	}

	e.stage(id, 4, "simulation", "simulating")
	sim := simulator.New(strat, ds.Frame, cal, actions, buy, sell, e.log)
	enc := stream.NewDeltaEncoder()
	published := 0
	for i, d := range days {
		if cerr := ctx.Err(); cerr != nil {
			return nil, errs.Wrap(errs.KindCancelled, cerr, "backtest cancelled on %s", d.Format("2006-01-02"))
		}
		snap, serr := sim.Step(d, tables[d], i == len(days)-1)
		if serr != nil {
			return nil, serr
		}
		trades := sim.Trades()
		for _, tr := range trades[published:] {
			e.publish(id, stream.Event{Type: stream.EventTrade, Data: stream.NewTradePayload(tr)})
		}
		published = len(trades)
		e.publish(id, enc.Encode(stream.NewProgressPayload(snap, float64(i+1)/float64(len(days))*100)))
	}

	st := stats.Aggregate(sim.History(), sim.Trades(), strat.InitialCapital)
	result := &persistence.Result{
		Session:    session,
		Statistics: st,
		Snapshots:  sim.History(),
		Trades:     sim.Trades(),
		Holdings:   sim.Holdings(),
	}
	if e.sessions != nil {
		if err := e.sessions.Complete(ctx, *result); err != nil {
			return nil, errs.Wrap(errs.KindExternalFailure, err, "persist result")
		}
	}
	e.publish(id, stream.Event{Type: stream.EventCompleted, Data: st})
	return result, nil
}

// factorTables serves one table per trading day, cache first, computing and
// backfilling whatever is missing.
func (e *Engine) factorTables(ctx context.Context, ds *dataload.Dataset, days []time.Time,
	mask factors.ComputeMask, universeKey, hash string) (map[time.Time]*factors.Table, error) {
	keyFor := make(map[time.Time]string, len(days))
	dateFor := make(map[string]time.Time, len(days))
	keys := make([]string, 0, len(days))
	for _, d := range days {
		k := cache.FactorKey(d, universeKey, hash)
		keyFor[d] = k
		dateFor[k] = d
		keys = append(keys, k)
	}

	out := make(map[time.Time]*factors.Table, len(days))
	missing := days
	if e.cache != nil {
		found, missingKeys := e.cache.GetTables(ctx, keys, mask.Key())
		for k, t := range found {
			out[dateFor[k]] = t
		}
		missing = make([]time.Time, 0, len(missingKeys))
		for _, k := range missingKeys {
			missing = append(missing, dateFor[k])
		}
	}
	if len(missing) == 0 {
		e.log.Debug().Int("days", len(days)).Msg("factor tables fully cached")
		return out, nil
	}

	in := factors.Inputs{Frame: ds.Frame, Fundamentals: ds.Fundamentals, Universe: ds.Universe}
	computed, err := e.factors.ComputeDates(ctx, in, missing, mask)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		put := make(map[string]*factors.Table, len(computed))
		for d, t := range computed {
			put[keyFor[d]] = t
		}
		e.cache.PutTables(ctx, put, mask.Key())
	}
	for d, t := range computed {
		out[d] = t
	}
	e.log.Info().
		Int("cached", len(days)-len(missing)).
		Int("computed", len(missing)).
		Msg("factor tables materialised")
	return out, nil
}

func (e *Engine) stage(id string, n int, name, msg string) {
	e.publish(id, stream.Event{Type: stream.EventPreparation, Data: stream.PreparationPayload{
		Stage:       name,
		StageNumber: n,
		TotalStages: stream.TotalPreparationStages,
		Message:     msg,
	}})
}

func (e *Engine) publish(id string, ev stream.Event) {
	if e.hub != nil {
		e.hub.Publish(id, ev)
	}
}
