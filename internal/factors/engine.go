package factors

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Backend computes one date's factor table. All backends must produce
// pointwise-equal tables; equivalence is a tested property, not an aspiration.
type Backend interface {
	Name() string
	Compute(in Inputs, calcDate time.Time, mask ComputeMask) (*Table, error)
}

// BackendByName resolves a configured backend name. Empty selects the
// default (native, the fastest available).
func BackendByName(name string) (Backend, error) {
	switch name {
	case "", "native":
		return NewNativeBackend(), nil
	case "columnar":
		return NewColumnarBackend(), nil
	case "frame":
		return NewFrameBackend(), nil
	default:
		return nil, fmt.Errorf("unknown factor backend %q", name)
	}
}

// Engine drives a backend across calc dates, parallelising independent dates
// when the cache is cold.
type Engine struct {
	backend Backend
	workers int
	log     zerolog.Logger
}

// NewEngine wraps a backend. workers <= 0 uses GOMAXPROCS.
func NewEngine(backend Backend, workers int, log zerolog.Logger) *Engine {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Engine{
		backend: backend,
		workers: workers,
		log:     log.With().Str("component", "factor_engine").Str("backend", backend.Name()).Logger(),
	}
}

// Backend returns the wrapped backend.
func (e *Engine) Backend() Backend { return e.backend }

// ComputeDate computes the factor table for a single calc date.
func (e *Engine) ComputeDate(ctx context.Context, in Inputs, calcDate time.Time, mask ComputeMask) (*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	table, err := e.backend.Compute(in, calcDate, mask)
	if err != nil {
		return nil, fmt.Errorf("compute factors for %s: %w", calcDate.Format("2006-01-02"), err)
	}
	e.log.Debug().
		Time("calc_date", calcDate).
		Int("stocks", len(in.Universe)).
		Int("factors", len(table.Columns)).
		Dur("elapsed", time.Since(start)).
		Msg("factor table computed")
	return table, nil
}

// ComputeDates computes tables for every date, bounded-parallel. Results map
// is keyed by date.
func (e *Engine) ComputeDates(ctx context.Context, in Inputs, dates []time.Time, mask ComputeMask) (map[time.Time]*Table, error) {
	results := make([]*Table, len(dates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, d := range dates {
		i, d := i, d
		g.Go(func() error {
			table, err := e.ComputeDate(gctx, in, d, mask)
			if err != nil {
				return err
			}
			results[i] = table
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(map[time.Time]*Table, len(dates))
	for i, d := range dates {
		out[d] = results[i]
	}
	return out, nil
}
