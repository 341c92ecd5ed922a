package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/crucial-sub/stocklab/internal/domain"
	"github.com/crucial-sub/stocklab/internal/persistence"
)

type liveRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewLiveRepo creates the postgres-backed live trading store.
func NewLiveRepo(db *sqlx.DB, timeout time.Duration) persistence.LiveRepo {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &liveRepo{db: db, timeout: timeout}
}

func (r *liveRepo) SavePreview(ctx context.Context, preview persistence.RebalancePreview) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO live_rebalance_previews
			(strategy_id, trade_date, sells, buys, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (strategy_id, trade_date)
		DO UPDATE SET sells = EXCLUDED.sells, buys = EXCLUDED.buys,
		              created_at = EXCLUDED.created_at`,
		preview.StrategyID, preview.TradeDate,
		pq.Array(preview.Sells), pq.Array(preview.Buys), preview.CreatedAt)
	if err != nil {
		return fmt.Errorf("save rebalance preview: %w", err)
	}
	return nil
}

func (r *liveRepo) GetPreview(ctx context.Context, strategyID string, tradeDate time.Time) (*persistence.RebalancePreview, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var preview persistence.RebalancePreview
	var sells, buys pq.StringArray
	err := r.db.QueryRowxContext(ctx, `
		SELECT strategy_id, trade_date, sells, buys, created_at
		FROM live_rebalance_previews
		WHERE strategy_id = $1 AND trade_date = $2`, strategyID, tradeDate).
		Scan(&preview.StrategyID, &preview.TradeDate, &sells, &buys, &preview.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rebalance preview: %w", err)
	}
	preview.Sells = sells
	preview.Buys = buys
	return &preview, nil
}

func (r *liveRepo) SaveOrder(ctx context.Context, order persistence.LiveOrder) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO live_orders
			(id, strategy_id, stock_code, side, quantity, price, status,
			 broker_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		order.ID, order.StrategyID, order.Stock, order.Side, order.Quantity,
		order.Price, order.Status, order.BrokerRef, order.CreatedAt)
	if err != nil {
		return fmt.Errorf("save live order: %w", err)
	}
	return nil
}

func (r *liveRepo) SavePositions(ctx context.Context, strategyID string, positions map[string]domain.Position) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin positions transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM live_positions WHERE strategy_id = $1`, strategyID); err != nil {
		return fmt.Errorf("clear live positions: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO live_positions
			(strategy_id, stock_code, entry_date, entry_price, quantity, hold_days)
		VALUES ($1, $2, $3, $4, $5, $6)`)
	if err != nil {
		return fmt.Errorf("prepare position insert: %w", err)
	}
	defer stmt.Close()
	for stock, pos := range positions {
		_, err := stmt.ExecContext(ctx, strategyID, stock, pos.EntryDate,
			pos.EntryPrice, pos.Quantity, pos.HoldDays)
		if err != nil {
			return fmt.Errorf("insert live position %s: %w", stock, err)
		}
	}
	return tx.Commit()
}

func (r *liveRepo) LoadPositions(ctx context.Context, strategyID string) (map[string]domain.Position, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx, `
		SELECT stock_code, entry_date, entry_price, quantity, hold_days
		FROM live_positions
		WHERE strategy_id = $1`, strategyID)
	if err != nil {
		return nil, fmt.Errorf("load live positions: %w", err)
	}
	defer rows.Close()

	positions := make(map[string]domain.Position)
	for rows.Next() {
		var pos domain.Position
		if err := rows.Scan(&pos.Stock, &pos.EntryDate, &pos.EntryPrice,
			&pos.Quantity, &pos.HoldDays); err != nil {
			return nil, fmt.Errorf("scan live position: %w", err)
		}
		positions[pos.Stock] = pos
	}
	return positions, rows.Err()
}

func (r *liveRepo) SaveDailyPerformance(ctx context.Context, strategyID string, snap domain.Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO live_daily_performance
			(strategy_id, trade_date, portfolio_value, cash, position_value,
			 daily_return, cumulative_return, drawdown)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (strategy_id, trade_date)
		DO UPDATE SET portfolio_value = EXCLUDED.portfolio_value,
		              cash = EXCLUDED.cash,
		              position_value = EXCLUDED.position_value,
		              daily_return = EXCLUDED.daily_return,
		              cumulative_return = EXCLUDED.cumulative_return,
		              drawdown = EXCLUDED.drawdown`,
		strategyID, snap.Date, snap.PortfolioValue, snap.Cash, snap.Invested,
		snap.DailyReturn, snap.CumulativeReturn, snap.Drawdown)
	if err != nil {
		return fmt.Errorf("save daily performance: %w", err)
	}
	return nil
}
