package dataload

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver

	"github.com/crucial-sub/stocklab/internal/domain"
	"github.com/crucial-sub/stocklab/internal/errs"
)

// postgresStore implements Store against the market database.
type postgresStore struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPostgresStore wraps an existing sqlx pool. timeout <= 0 uses 60s.
func NewPostgresStore(db *sqlx.DB, timeout time.Duration) Store {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &postgresStore{db: db, timeout: timeout}
}

func (s *postgresStore) LoadPrices(ctx context.Context, start, end time.Time, themes, stocks []string) ([]domain.PriceBar, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	extStart := start.AddDate(0, 0, -LookbackDays)
	query := `
		SELECT p.stock_code, p.trade_date, p.open, p.high, p.low, p.close,
		       p.volume, p.trading_value, p.market_cap, p.shares_outstanding
		FROM daily_prices p`
	args := []interface{}{extStart, end}
	where := ` WHERE p.trade_date >= ? AND p.trade_date <= ?`
	if len(themes) > 0 {
		query += ` JOIN stock_themes t ON t.stock_code = p.stock_code`
		where += ` AND t.theme IN (?)`
		args = append(args, themes)
	}
	if len(stocks) > 0 {
		where += ` AND p.stock_code IN (?)`
		args = append(args, stocks)
	}
	query += where + ` ORDER BY p.stock_code, p.trade_date`

	query, inArgs, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("build price query: %w", err)
	}
	var bars []domain.PriceBar
	if err := s.db.SelectContext(ctx, &bars, s.db.Rebind(query), inArgs...); err != nil {
		return nil, errs.Wrap(errs.KindDataUnavailable, err, "load prices")
	}
	if len(bars) == 0 {
		return nil, errs.New(errs.KindDataUnavailable, "no price rows for requested window")
	}
	return bars, nil
}

func (s *postgresStore) LoadFundamentals(ctx context.Context, startYear, endYear int, accounts, stocks []string) ([]domain.FundamentalRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT stock_code, fiscal_year, report_code, report_date, account_name, account_value
		FROM fundamentals
		WHERE fiscal_year >= ? AND fiscal_year <= ?`
	args := []interface{}{startYear, endYear}
	if len(accounts) > 0 {
		query += ` AND account_name IN (?)`
		args = append(args, accounts)
	}
	if len(stocks) > 0 {
		query += ` AND stock_code IN (?)`
		args = append(args, stocks)
	}
	query += ` ORDER BY stock_code, fiscal_year, report_code`

	query, inArgs, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("build fundamentals query: %w", err)
	}
	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(query), inArgs...)
	if err != nil {
		return nil, errs.Wrap(errs.KindDataUnavailable, err, "load fundamentals")
	}
	defer rows.Close()

	type reportKey struct {
		stock string
		year  int
		code  domain.ReportCode
	}
	pivot := make(map[reportKey]*domain.FundamentalRecord)
	var order []reportKey
	for rows.Next() {
		var (
			stock, account string
			year           int
			code           string
			reportDate     time.Time
			value          sql.NullFloat64
		)
		if err := rows.Scan(&stock, &year, &code, &reportDate, &account, &value); err != nil {
			return nil, fmt.Errorf("scan fundamental row: %w", err)
		}
		key := reportKey{stock: stock, year: year, code: domain.ReportCode(code)}
		rec, ok := pivot[key]
		if !ok {
			rec = &domain.FundamentalRecord{
				Stock:      stock,
				FiscalYear: year,
				ReportCode: key.code,
				ReportDate: domain.Day(reportDate),
				Accounts:   make(map[string]float64),
			}
			pivot[key] = rec
			order = append(order, key)
		}
		if value.Valid {
			rec.Accounts[account] = value.Float64
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fundamental rows: %w", err)
	}

	records := make([]domain.FundamentalRecord, 0, len(order))
	for _, key := range order {
		records = append(records, pivot[key].WithAvailableDate())
	}
	return records, nil
}

func (s *postgresStore) LoadSharesOutstanding(ctx context.Context, start, end time.Time, stocks []string) (map[string]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT DISTINCT ON (stock_code) stock_code, shares_outstanding
		FROM daily_prices
		WHERE trade_date >= ? AND trade_date <= ? AND shares_outstanding > 0`
	args := []interface{}{start, end}
	if len(stocks) > 0 {
		query += ` AND stock_code IN (?)`
		args = append(args, stocks)
	}
	query += ` ORDER BY stock_code, trade_date DESC`

	query, inArgs, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("build shares query: %w", err)
	}
	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(query), inArgs...)
	if err != nil {
		return nil, errs.Wrap(errs.KindDataUnavailable, err, "load shares outstanding")
	}
	defer rows.Close()

	shares := make(map[string]float64)
	for rows.Next() {
		var stock string
		var count float64
		if err := rows.Scan(&stock, &count); err != nil {
			return nil, fmt.Errorf("scan shares row: %w", err)
		}
		shares[stock] = count
	}
	return shares, rows.Err()
}

func (s *postgresStore) LatestUniverseDate(ctx context.Context) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT trade_date
		FROM daily_prices
		WHERE market_cap > 0
		GROUP BY trade_date
		HAVING COUNT(*) >= $1
		ORDER BY trade_date DESC
		LIMIT 1`
	var date time.Time
	if err := s.db.GetContext(ctx, &date, query, MinUniverseRows); err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, errs.New(errs.KindDataUnavailable, "no fully populated universe date")
		}
		return time.Time{}, errs.Wrap(errs.KindDataUnavailable, err, "latest universe date")
	}
	return domain.Day(date), nil
}

func (s *postgresStore) UniverseSnapshot(ctx context.Context) (time.Time, []domain.UniverseStock, error) {
	date, err := s.LatestUniverseDate(ctx)
	if err != nil {
		return time.Time{}, nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT p.stock_code, st.market, p.market_cap
		FROM daily_prices p
		JOIN stocks st ON st.stock_code = p.stock_code
		WHERE p.trade_date = $1 AND p.market_cap > 0
		ORDER BY p.stock_code`
	var rows []domain.UniverseStock
	if err := s.db.SelectContext(ctx, &rows, query, date); err != nil {
		return time.Time{}, nil, errs.Wrap(errs.KindDataUnavailable, err, "universe snapshot")
	}
	return date, rows, nil
}
