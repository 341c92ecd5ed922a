package dataload

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crucial-sub/stocklab/internal/domain"
	"github.com/crucial-sub/stocklab/internal/errs"
)

func newMockStore(t *testing.T) (Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(sqlx.NewDb(db, "sqlmock"), time.Minute), mock
}

func priceColumns() []string {
	return []string{"stock_code", "trade_date", "open", "high", "low", "close",
		"volume", "trading_value", "market_cap", "shares_outstanding"}
}

func TestLoadPricesExtendsWindow(t *testing.T) {
	store, mock := newMockStore(t)
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(priceColumns()).
		AddRow("000100", start, 100.0, 110.0, 95.0, 105.0, 1000.0, 105000.0, 1e11, 1e6)
	mock.ExpectQuery("SELECT (.+) FROM daily_prices").
		WithArgs(start.AddDate(0, 0, -LookbackDays), end).
		WillReturnRows(rows)

	bars, err := store.LoadPrices(context.Background(), start, end, nil, nil)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, "000100", bars[0].Stock)
	assert.Equal(t, 105.0, bars[0].Close)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadPricesFiltersThemesAndStocks(t *testing.T) {
	store, mock := newMockStore(t)
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(priceColumns()).
		AddRow("000100", start, 100.0, 110.0, 95.0, 105.0, 1000.0, 105000.0, 1e11, 1e6)
	mock.ExpectQuery("SELECT (.+) JOIN stock_themes (.+)").
		WithArgs(start.AddDate(0, 0, -LookbackDays), end, "semiconductor", "000100", "000200").
		WillReturnRows(rows)

	bars, err := store.LoadPrices(context.Background(), start, end,
		[]string{"semiconductor"}, []string{"000100", "000200"})
	require.NoError(t, err)
	assert.Len(t, bars, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadPricesEmptyIsDataUnavailable(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM daily_prices").
		WillReturnRows(sqlmock.NewRows(priceColumns()))

	_, err := store.LoadPrices(context.Background(),
		time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), nil, nil)
	require.Error(t, err)
	assert.Equal(t, errs.KindDataUnavailable, errs.KindOf(err))
}

func TestLoadFundamentalsPivots(t *testing.T) {
	store, mock := newMockStore(t)
	reportDate := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"stock_code", "fiscal_year", "report_code",
		"report_date", "account_name", "account_value"}).
		AddRow("000100", 2023, "11011", reportDate, "net_income", 1.5e8).
		AddRow("000100", 2023, "11011", reportDate, "total_equity", 2.5e9).
		AddRow("000100", 2023, "11011", reportDate, "capex", nil).
		AddRow("000200", 2023, "11013", reportDate, "net_income", 2e8)
	mock.ExpectQuery("SELECT (.+) FROM fundamentals").
		WithArgs(2018, 2023).
		WillReturnRows(rows)

	records, err := store.LoadFundamentals(context.Background(), 2018, 2023, nil, nil)
	require.NoError(t, err)
	require.Len(t, records, 2, "rows must pivot to one record per report")

	first := records[0]
	assert.Equal(t, "000100", first.Stock)
	assert.Equal(t, domain.ReportAnnual, first.ReportCode)
	assert.Equal(t, 1.5e8, first.Accounts["net_income"])
	assert.Equal(t, 2.5e9, first.Accounts["total_equity"])
	_, hasCapex := first.Accounts["capex"]
	assert.False(t, hasCapex, "null account values are dropped")
	// Annual report filed 2024-03-31 publishes 90 days later.
	assert.Equal(t, time.Date(2024, 6, 29, 0, 0, 0, 0, time.UTC), first.AvailableDate)

	// Q1 reports publish after 45 days.
	assert.Equal(t, time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC), records[1].AvailableDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadSharesOutstanding(t *testing.T) {
	store, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{"stock_code", "shares_outstanding"}).
		AddRow("000100", 1e6).
		AddRow("000200", 5e5)
	mock.ExpectQuery("SELECT DISTINCT ON \\(stock_code\\)").WillReturnRows(rows)

	shares, err := store.LoadSharesOutstanding(context.Background(),
		time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"000100": 1e6, "000200": 5e5}, shares)
}

func TestLatestUniverseDate(t *testing.T) {
	store, mock := newMockStore(t)
	latest := time.Date(2024, 8, 23, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT trade_date").
		WithArgs(MinUniverseRows).
		WillReturnRows(sqlmock.NewRows([]string{"trade_date"}).AddRow(latest))

	got, err := store.LatestUniverseDate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, latest, got)
}

func TestUniverseSnapshot(t *testing.T) {
	store, mock := newMockStore(t)
	latest := time.Date(2024, 8, 23, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT trade_date").
		WithArgs(MinUniverseRows).
		WillReturnRows(sqlmock.NewRows([]string{"trade_date"}).AddRow(latest))
	mock.ExpectQuery("SELECT (.+) JOIN stocks (.+)").
		WithArgs(latest).
		WillReturnRows(sqlmock.NewRows([]string{"stock_code", "market", "market_cap"}).
			AddRow("005930", "KOSPI", 4e14).
			AddRow("035720", "KOSDAQ", 2e13))

	date, snapshot, err := store.UniverseSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, latest, date)
	require.Len(t, snapshot, 2)
	assert.Equal(t, domain.UniverseStock{Stock: "005930", Market: "KOSPI", MarketCap: 4e14}, snapshot[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}
