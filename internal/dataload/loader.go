package dataload

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/crucial-sub/stocklab/internal/cache"
	"github.com/crucial-sub/stocklab/internal/domain"
	"github.com/crucial-sub/stocklab/internal/errs"
	"github.com/crucial-sub/stocklab/internal/factors"
)

// Request describes one backtest's data needs. Universes names market-cap
// buckets (KOSPI_MEGA ... KOSDAQ_SMALL); when set, the request is narrowed to
// their member stocks before anything is loaded.
type Request struct {
	Start     time.Time
	End       time.Time
	Themes    []string
	Stocks    []string
	Universes []string
	Accounts  []string
	StartYear int
	EndYear   int
}

// Dataset is everything the engine needs in memory: the price frame (with
// lookback history), the anti-look-ahead fundamental set, latest share counts
// and the resolved universe.
type Dataset struct {
	Frame        *domain.PriceFrame
	Fundamentals *factors.FundamentalSet
	Shares       map[string]float64
	Universe     []string
}

// Loader runs the three independent loads in parallel. The sqlx pool hands
// each goroutine its own session, so observed latency is roughly the slowest
// of the three. Price windows are cached whole.
type Loader struct {
	store Store
	cache *cache.Cache
	log   zerolog.Logger
}

// NewLoader wires a loader; cache may be nil.
func NewLoader(store Store, c *cache.Cache, log zerolog.Logger) *Loader {
	return &Loader{
		store: store,
		cache: c,
		log:   log.With().Str("component", "dataload").Logger(),
	}
}

// Load assembles the dataset for req. Fiscal year bounds default to covering
// the price window plus five years of history for growth factors.
func (l *Loader) Load(ctx context.Context, req Request) (*Dataset, error) {
	startYear := req.StartYear
	if startYear == 0 {
		startYear = req.Start.Year() - 6
	}
	endYear := req.EndYear
	if endYear == 0 {
		endYear = req.End.Year()
	}

	if len(req.Universes) > 0 {
		resolved, err := l.resolveUniverses(ctx, req.Universes, req.Stocks)
		if err != nil {
			return nil, err
		}
		req.Stocks = resolved
	}

	started := time.Now()
	var (
		bars    []domain.PriceBar
		records []domain.FundamentalRecord
		shares  map[string]float64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		bars, err = l.loadPricesCached(gctx, req)
		return err
	})
	g.Go(func() error {
		var err error
		records, err = l.store.LoadFundamentals(gctx, startYear, endYear, req.Accounts, req.Stocks)
		return err
	})
	g.Go(func() error {
		var err error
		shares, err = l.store.LoadSharesOutstanding(gctx, req.Start, req.End, req.Stocks)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	frame := domain.NewPriceFrame(bars)
	universe := frame.Stocks()
	sort.Strings(universe)

	l.log.Info().
		Int("bars", len(bars)).
		Int("fundamental_records", len(records)).
		Int("stocks", len(universe)).
		Dur("elapsed", time.Since(started)).
		Msg("dataset loaded")

	return &Dataset{
		Frame:        frame,
		Fundamentals: factors.NewFundamentalSet(records),
		Shares:       shares,
		Universe:     universe,
	}, nil
}

// resolveUniverses turns bucket ids into the member stock list from the
// latest universe snapshot. An explicit stock list intersects with the
// buckets; both constraints apply.
func (l *Loader) resolveUniverses(ctx context.Context, ids, stocks []string) ([]string, error) {
	date, snapshot, err := l.store.UniverseSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	wanted := make(map[domain.UniverseID]bool, len(ids))
	for _, id := range ids {
		if !domain.KnownUniverse(id) {
			return nil, errs.Validation("unknown universe id %q", id)
		}
		wanted[domain.UniverseID(id)] = true
	}

	var explicit map[string]bool
	if len(stocks) > 0 {
		explicit = make(map[string]bool, len(stocks))
		for _, s := range stocks {
			explicit[s] = true
		}
	}

	var members []string
	for stock, bucket := range domain.AssignUniverses(snapshot) {
		if !wanted[bucket] {
			continue
		}
		if explicit != nil && !explicit[stock] {
			continue
		}
		members = append(members, stock)
	}
	if len(members) == 0 {
		return nil, errs.New(errs.KindDataUnavailable, "no stocks in universes %v on %s",
			ids, date.Format("2006-01-02"))
	}
	sort.Strings(members)
	l.log.Info().
		Strs("universes", ids).
		Int("stocks", len(members)).
		Str("snapshot_date", date.Format("2006-01-02")).
		Msg("universes resolved")
	return members, nil
}

func (l *Loader) loadPricesCached(ctx context.Context, req Request) ([]domain.PriceBar, error) {
	key := cache.PriceKey(req.Start, req.End, req.Themes, req.Stocks)
	if l.cache != nil {
		if bars, ok := l.cache.GetPrices(ctx, key); ok {
			l.log.Debug().Str("key", key).Int("bars", len(bars)).Msg("price window served from cache")
			return bars, nil
		}
	}
	bars, err := l.store.LoadPrices(ctx, req.Start, req.End, req.Themes, req.Stocks)
	if err != nil {
		return nil, err
	}
	if l.cache != nil {
		l.cache.PutPrices(ctx, key, bars)
	}
	return bars, nil
}
