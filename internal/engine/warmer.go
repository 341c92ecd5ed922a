package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/crucial-sub/stocklab/internal/dataload"
	"github.com/crucial-sub/stocklab/internal/domain"
	"github.com/crucial-sub/stocklab/internal/errs"
	"github.com/crucial-sub/stocklab/internal/factors"
)

// Warmer precomputes factor tables for a set of frequently run strategies so
// their first interactive run hits a warm cache. The window is the trailing
// year ending at the latest fully populated universe date.
type Warmer struct {
	engine *Engine
	store  dataload.Store
	log    zerolog.Logger
}

// NewWarmer wires a warmer onto an engine that carries a cache.
func NewWarmer(e *Engine, store dataload.Store, log zerolog.Logger) *Warmer {
	return &Warmer{
		engine: e,
		store:  store,
		log:    log.With().Str("component", "cache_warmer").Logger(),
	}
}

// Warm materialises tables for every strategy. A failing strategy is logged
// and skipped; cancellation stops the whole pass.
func (w *Warmer) Warm(ctx context.Context, strategies []domain.Strategy) error {
	if w.engine.cache == nil {
		return errs.New(errs.KindValidation, "cache warmer requires a cache")
	}
	end, err := w.store.LatestUniverseDate(ctx)
	if err != nil {
		return err
	}
	start := end.AddDate(-1, 0, 0)

	started := time.Now()
	warmed := 0
	for i := range strategies {
		strat := strategies[i]
		strat.StartDate, strat.EndDate = start, end
		if err := w.warmOne(ctx, &strat); err != nil {
			if errs.IsCancelled(err) {
				return err
			}
			w.log.Error().Err(err).Int("strategy", i).Msg("warm pass failed for strategy")
			continue
		}
		warmed++
	}
	w.log.Info().
		Int("strategies", len(strategies)).
		Int("warmed", warmed).
		Time("window_start", start).
		Time("window_end", end).
		Dur("elapsed", time.Since(started)).
		Msg("cache warm pass finished")
	return nil
}

func (w *Warmer) warmOne(ctx context.Context, strat *domain.Strategy) error {
	if err := strat.Validate(); err != nil {
		return err
	}
	// Hash inputs must match what Run hashes, basis normalisation included.
	strat.HoldRules.SellPriceBasis = domain.NormalizePriceBasis(string(strat.HoldRules.SellPriceBasis))
	hash, err := domain.StrategyHash(strat)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "hash strategy")
	}
	mask := factors.Analyse(strat)

	ds, err := w.engine.loader.Load(ctx, dataload.Request{
		Start:     strat.StartDate,
		End:       strat.EndDate,
		Themes:    strat.TargetThemes,
		Stocks:    strat.TargetStocks,
		Universes: strat.TargetUniverses,
		Accounts:  factors.AllAccounts,
	})
	if err != nil {
		return err
	}

	cal := domain.NewCalendar(ds.Frame.Dates())
	days := cal.Days(strat.StartDate, strat.EndDate)
	if len(days) == 0 {
		return errs.New(errs.KindDataUnavailable, "no trading days in warm window")
	}

	// Truncation must match what a real run would compute from, otherwise the
	// warmed tables would differ from the run's.
	domain.DetectCorporateActions(ds.Frame, w.engine.threshold)

	_, err = w.engine.factorTables(ctx, ds, days, mask, strat.UniverseKey(), hash)
	return err
}
