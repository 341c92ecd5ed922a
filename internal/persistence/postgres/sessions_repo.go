// Package postgres implements the persistence interfaces against the result
// database.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/crucial-sub/stocklab/internal/persistence"
)

type sessionsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSessionsRepo creates the postgres-backed session store.
func NewSessionsRepo(db *sqlx.DB, timeout time.Duration) persistence.SessionRepo {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &sessionsRepo{db: db, timeout: timeout}
}

func (r *sessionsRepo) Create(ctx context.Context, session persistence.Session) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO backtest_sessions
			(id, strategy_hash, strategy, start_date, end_date, initial_capital,
			 status, live_mode, live_account_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.db.ExecContext(ctx, query,
		session.ID, session.StrategyHash, session.StrategyJSON,
		session.StartDate, session.EndDate, session.InitialCapital,
		"running", session.LiveMode, session.LiveAccountID, session.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *sessionsRepo) Complete(ctx context.Context, result persistence.Result) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin result transaction: %w", err)
	}
	defer tx.Rollback()

	id := result.Session.ID
	if err := insertStatistics(ctx, tx, id, result); err != nil {
		return err
	}
	if err := insertSnapshots(ctx, tx, id, result); err != nil {
		return err
	}
	if err := insertTrades(ctx, tx, id, result); err != nil {
		return err
	}
	if err := insertHoldings(ctx, tx, id, result); err != nil {
		return err
	}
	if err := insertDrawdownPeriods(ctx, tx, id, result); err != nil {
		return err
	}
	if err := insertFactorContributions(ctx, tx, id, result); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE backtest_sessions
		SET status = 'completed', completed_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	return tx.Commit()
}

func insertStatistics(ctx context.Context, tx *sqlx.Tx, id string, result persistence.Result) error {
	s := result.Statistics
	monthly, err := json.Marshal(s.Monthly)
	if err != nil {
		return fmt.Errorf("marshal monthly performance: %w", err)
	}
	yearly, err := json.Marshal(s.Yearly)
	if err != nil {
		return fmt.Errorf("marshal yearly performance: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO backtest_statistics
			(session_id, total_return, annualised_return, volatility,
			 downside_volatility, max_drawdown, sharpe_ratio, sortino_ratio,
			 calmar_ratio, total_trades, winning_trades, losing_trades,
			 win_rate, avg_win, avg_loss, profit_loss_ratio, final_value,
			 monthly_performance, yearly_performance)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19)`,
		id, s.TotalReturn, s.AnnualisedReturn, s.Volatility,
		s.DownsideVol, s.MaxDrawdown, s.Sharpe, s.Sortino,
		s.Calmar, s.TotalTrades, s.WinningTrades, s.LosingTrades,
		s.WinRate, s.AvgWin, s.AvgLoss, s.PLRatio, s.FinalValue,
		monthly, yearly)
	if err != nil {
		return fmt.Errorf("insert statistics: %w", err)
	}
	return nil
}

func insertSnapshots(ctx context.Context, tx *sqlx.Tx, id string, result persistence.Result) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_daily_snapshots
			(session_id, snapshot_date, portfolio_value, cash, position_value,
			 daily_return, cumulative_return, drawdown, buy_count, sell_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`)
	if err != nil {
		return fmt.Errorf("prepare snapshot insert: %w", err)
	}
	defer stmt.Close()
	for _, snap := range result.Snapshots {
		_, err := stmt.ExecContext(ctx, id, snap.Date, snap.PortfolioValue,
			snap.Cash, snap.Invested, snap.DailyReturn, snap.CumulativeReturn,
			snap.Drawdown, snap.BuyCount, snap.SellCount)
		if err != nil {
			return fmt.Errorf("insert snapshot %s: %w", snap.Date.Format("2006-01-02"), err)
		}
	}
	return nil
}

func insertTrades(ctx context.Context, tx *sqlx.Tx, id string, result persistence.Result) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_trades
			(session_id, trade_date, side, stock_code, quantity, price, amount,
			 commission, tax, realised_pnl, return_pct, hold_days, sell_reason,
			 factor_snapshot)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`)
	if err != nil {
		return fmt.Errorf("prepare trade insert: %w", err)
	}
	defer stmt.Close()
	for _, tr := range result.Trades {
		snapshot, err := json.Marshal(tr.FactorSnapshot)
		if err != nil {
			return fmt.Errorf("marshal factor snapshot: %w", err)
		}
		var reason sql.NullString
		if tr.SellReason != "" {
			reason = sql.NullString{String: string(tr.SellReason), Valid: true}
		}
		_, err = stmt.ExecContext(ctx, id, tr.Date, tr.Side, tr.Stock,
			tr.Quantity, tr.Price, tr.Amount, tr.Commission, tr.Tax,
			tr.RealisedPnL, tr.ReturnPct, tr.HoldDays, reason, snapshot)
		if err != nil {
			return fmt.Errorf("insert trade %s/%s: %w", tr.Stock, tr.Date.Format("2006-01-02"), err)
		}
	}
	return nil
}

func insertHoldings(ctx context.Context, tx *sqlx.Tx, id string, result persistence.Result) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_holdings
			(session_id, stock_code, entry_date, entry_price, quantity, hold_days)
		VALUES ($1, $2, $3, $4, $5, $6)`)
	if err != nil {
		return fmt.Errorf("prepare holding insert: %w", err)
	}
	defer stmt.Close()
	for stock, pos := range result.Holdings {
		_, err := stmt.ExecContext(ctx, id, stock, pos.EntryDate, pos.EntryPrice,
			pos.Quantity, pos.HoldDays)
		if err != nil {
			return fmt.Errorf("insert holding %s: %w", stock, err)
		}
	}
	return nil
}

func insertDrawdownPeriods(ctx context.Context, tx *sqlx.Tx, id string, result persistence.Result) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_drawdown_periods
			(session_id, start_date, trough_date, end_date, peak_value,
			 trough_value, drawdown_pct, recovered)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`)
	if err != nil {
		return fmt.Errorf("prepare drawdown insert: %w", err)
	}
	defer stmt.Close()
	for _, p := range result.Statistics.DrawdownPeriods {
		_, err := stmt.ExecContext(ctx, id, p.Start, p.TroughDate, p.End,
			p.Peak, p.Trough, p.DrawdownPct, p.Recovered)
		if err != nil {
			return fmt.Errorf("insert drawdown period: %w", err)
		}
	}
	return nil
}

func insertFactorContributions(ctx context.Context, tx *sqlx.Tx, id string, result persistence.Result) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_factor_contributions
			(session_id, factor, trade_count, win_count, win_rate, avg_return,
			 contribution_score, importance_rank)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`)
	if err != nil {
		return fmt.Errorf("prepare contribution insert: %w", err)
	}
	defer stmt.Close()
	for _, fc := range result.Statistics.FactorContributions {
		_, err := stmt.ExecContext(ctx, id, fc.Factor, fc.TradeCount,
			fc.WinCount, fc.WinRate, fc.AvgReturn, fc.Score, fc.ImportanceRank)
		if err != nil {
			return fmt.Errorf("insert factor contribution %s: %w", fc.Factor, err)
		}
	}
	return nil
}

func (r *sessionsRepo) Fail(ctx context.Context, id, errorCode string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		UPDATE backtest_sessions
		SET status = 'failed', error_code = $2, completed_at = NOW()
		WHERE id = $1`, id, errorCode)
	if err != nil {
		return fmt.Errorf("fail session: %w", err)
	}
	return nil
}

func (r *sessionsRepo) Get(ctx context.Context, id string) (*persistence.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var session persistence.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT id, strategy_hash, strategy, start_date, end_date,
		       initial_capital, status, error_code, live_mode, live_account_id,
		       created_at, completed_at
		FROM backtest_sessions
		WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &session, nil
}
