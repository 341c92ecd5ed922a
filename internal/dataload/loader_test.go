package dataload

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crucial-sub/stocklab/internal/domain"
	"github.com/crucial-sub/stocklab/internal/errs"
)

type fakeStore struct {
	bars        []domain.PriceBar
	records     []domain.FundamentalRecord
	shares      map[string]float64
	snapshot    []domain.UniverseStock
	priceErr    error
	fundErr     error
	priceCalls  int
	priceStocks []string
}

func (f *fakeStore) LoadPrices(ctx context.Context, start, end time.Time, themes, stocks []string) ([]domain.PriceBar, error) {
	f.priceCalls++
	f.priceStocks = stocks
	if len(stocks) > 0 {
		allowed := map[string]bool{}
		for _, s := range stocks {
			allowed[s] = true
		}
		var out []domain.PriceBar
		for _, b := range f.bars {
			if allowed[b.Stock] {
				out = append(out, b)
			}
		}
		return out, f.priceErr
	}
	return f.bars, f.priceErr
}

func (f *fakeStore) LoadFundamentals(ctx context.Context, startYear, endYear int, accounts, stocks []string) ([]domain.FundamentalRecord, error) {
	return f.records, f.fundErr
}

func (f *fakeStore) LoadSharesOutstanding(ctx context.Context, start, end time.Time, stocks []string) (map[string]float64, error) {
	return f.shares, nil
}

func (f *fakeStore) LatestUniverseDate(ctx context.Context) (time.Time, error) {
	return time.Time{}, nil
}

func (f *fakeStore) UniverseSnapshot(ctx context.Context) (time.Time, []domain.UniverseStock, error) {
	return time.Date(2024, 8, 23, 0, 0, 0, 0, time.UTC), f.snapshot, nil
}

func bar(stock string, date time.Time, close float64) domain.PriceBar {
	return domain.PriceBar{
		Stock: stock, Date: date,
		Open: close, High: close, Low: close, Close: close,
		Volume: 1000, MarketCap: close * 1e6, SharesOutstanding: 1e6,
	}
}

func TestLoaderAssemblesDataset(t *testing.T) {
	d1 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{
		bars: []domain.PriceBar{
			bar("000200", d1, 200),
			bar("000100", d1, 100),
		},
		records: []domain.FundamentalRecord{{
			Stock: "000100", FiscalYear: 2023, ReportCode: domain.ReportAnnual,
			ReportDate: time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
			Accounts:   map[string]float64{"net_income": 1e8},
		}},
		shares: map[string]float64{"000100": 1e6, "000200": 5e5},
	}

	loader := NewLoader(store, nil, zerolog.Nop())
	ds, err := loader.Load(context.Background(), Request{Start: d1, End: d1})
	require.NoError(t, err)

	assert.Equal(t, []string{"000100", "000200"}, ds.Universe, "universe is sorted")
	_, ok := ds.Frame.Bar("000100", d1)
	assert.True(t, ok)
	assert.Equal(t, store.shares, ds.Shares)

	_, found := ds.Fundamentals.LatestAsOf("000100", time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC))
	assert.True(t, found)
	assert.Equal(t, 1, store.priceCalls)
}

func TestLoaderPropagatesErrors(t *testing.T) {
	d1 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{
		bars:    []domain.PriceBar{bar("000100", d1, 100)},
		fundErr: errors.New("connection reset"),
	}
	loader := NewLoader(store, nil, zerolog.Nop())
	_, err := loader.Load(context.Background(), Request{Start: d1, End: d1})
	assert.Error(t, err)
}

func TestLoaderResolvesUniverseBuckets(t *testing.T) {
	d1 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{
		bars: []domain.PriceBar{
			bar("000100", d1, 100),
			bar("000200", d1, 200),
			bar("035720", d1, 50),
		},
		snapshot: []domain.UniverseStock{
			{Stock: "000100", Market: domain.MarketKOSPI, MarketCap: 2e12},
			{Stock: "000200", Market: domain.MarketKOSPI, MarketCap: 1e12},
			{Stock: "035720", Market: domain.MarketKOSDAQ, MarketCap: 5e11},
		},
	}
	loader := NewLoader(store, nil, zerolog.Nop())

	ds, err := loader.Load(context.Background(), Request{
		Start: d1, End: d1, Universes: []string{"KOSPI_MEGA"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"000100", "000200"}, ds.Universe)
	assert.Equal(t, []string{"000100", "000200"}, store.priceStocks,
		"store queries are narrowed to bucket members")
}

func TestLoaderIntersectsUniversesWithExplicitStocks(t *testing.T) {
	d1 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{
		bars: []domain.PriceBar{bar("000100", d1, 100), bar("000200", d1, 200)},
		snapshot: []domain.UniverseStock{
			{Stock: "000100", Market: domain.MarketKOSPI, MarketCap: 2e12},
			{Stock: "000200", Market: domain.MarketKOSPI, MarketCap: 1e12},
		},
	}
	loader := NewLoader(store, nil, zerolog.Nop())

	ds, err := loader.Load(context.Background(), Request{
		Start: d1, End: d1,
		Universes: []string{"KOSPI_MEGA"},
		Stocks:    []string{"000200"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"000200"}, ds.Universe)
}

func TestLoaderEmptyUniverseIsDataUnavailable(t *testing.T) {
	d1 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{
		bars: []domain.PriceBar{bar("000100", d1, 100)},
		snapshot: []domain.UniverseStock{
			{Stock: "000100", Market: domain.MarketKOSPI, MarketCap: 2e12},
		},
	}
	loader := NewLoader(store, nil, zerolog.Nop())

	_, err := loader.Load(context.Background(), Request{
		Start: d1, End: d1, Universes: []string{"KOSDAQ_MEGA"},
	})
	require.Error(t, err)
	assert.Equal(t, errs.KindDataUnavailable, errs.KindOf(err))
}
