// Package dataload reads price, fundamental and share data from Postgres and
// assembles the in-memory dataset a backtest runs against.
package dataload

import (
	"context"
	"time"

	"github.com/crucial-sub/stocklab/internal/domain"
)

// LookbackDays is how far the price window is extended behind the requested
// start so momentum and volatility factors have full history on day one.
const LookbackDays = 300

// MinUniverseRows is the market-cap row count a trade date needs before it
// counts as a fully populated universe date.
const MinUniverseRows = 2000

// Store is the read side of the market database.
type Store interface {
	// LoadPrices returns daily bars between start and end, with the window
	// silently extended LookbackDays calendar days behind start. Empty
	// themes and stocks mean the whole market.
	LoadPrices(ctx context.Context, start, end time.Time, themes, stocks []string) ([]domain.PriceBar, error)

	// LoadFundamentals returns filed reports for fiscal years in
	// [startYear, endYear], pivoted to one record per report with the
	// requested accounts. Empty accounts loads every account.
	LoadFundamentals(ctx context.Context, startYear, endYear int, accounts, stocks []string) ([]domain.FundamentalRecord, error)

	// LoadSharesOutstanding returns the latest share count per stock as of
	// end.
	LoadSharesOutstanding(ctx context.Context, start, end time.Time, stocks []string) (map[string]float64, error)

	// LatestUniverseDate returns the most recent trade date carrying at
	// least MinUniverseRows market-cap rows.
	LatestUniverseDate(ctx context.Context) (time.Time, error)

	// UniverseSnapshot returns that date plus every stock's market listing
	// and market cap on it, the raw material for the size buckets.
	UniverseSnapshot(ctx context.Context) (time.Time, []domain.UniverseStock, error)
}
