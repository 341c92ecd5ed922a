// Package persistence defines the result-store interfaces and row shapes for
// finished backtests and the live paper-trading loop.
package persistence

import (
	"context"
	"time"

	"github.com/crucial-sub/stocklab/internal/domain"
	"github.com/crucial-sub/stocklab/internal/stats"
)

// Session is the single persisted backtest session row. Live-mode fields are
// nullable; batch backtests leave them empty.
type Session struct {
	ID             string     `json:"id" db:"id"`
	StrategyHash   string     `json:"strategy_hash" db:"strategy_hash"`
	StrategyJSON   []byte     `json:"strategy" db:"strategy"`
	StartDate      time.Time  `json:"start_date" db:"start_date"`
	EndDate        time.Time  `json:"end_date" db:"end_date"`
	InitialCapital float64    `json:"initial_capital" db:"initial_capital"`
	Status         string     `json:"status" db:"status"` // running | completed | failed
	ErrorCode      *string    `json:"error_code,omitempty" db:"error_code"`
	LiveMode       bool       `json:"live_mode" db:"live_mode"`
	LiveAccountID  *string    `json:"live_account_id,omitempty" db:"live_account_id"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// Result bundles everything persisted for one completed run.
type Result struct {
	Session    Session
	Statistics stats.Statistics
	Snapshots  []domain.Snapshot
	Trades     []domain.Trade
	Holdings   map[string]domain.Position
}

// RebalancePreview is the selection the live 07:00 job persists for the
// 09:00 execution job.
type RebalancePreview struct {
	StrategyID string    `json:"strategy_id" db:"strategy_id"`
	TradeDate  time.Time `json:"trade_date" db:"trade_date"`
	Sells      []string  `json:"sells"`
	Buys       []string  `json:"buys"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// LiveOrder is one submitted live order with its broker outcome.
type LiveOrder struct {
	ID         string      `json:"id" db:"id"`
	StrategyID string      `json:"strategy_id" db:"strategy_id"`
	Stock      string      `json:"stock" db:"stock_code"`
	Side       domain.Side `json:"side" db:"side"`
	Quantity   int64       `json:"quantity" db:"quantity"`
	Price      float64     `json:"price" db:"price"`
	Status     string      `json:"status" db:"status"` // submitted | filled | rejected
	BrokerRef  *string     `json:"broker_ref,omitempty" db:"broker_ref"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
}

// SessionRepo stores backtest sessions and their full results. Complete is
// all-or-nothing: cancelled runs never reach it.
type SessionRepo interface {
	// Create inserts the session row in running state.
	Create(ctx context.Context, session Session) error

	// Complete writes the full result and flips the session to completed,
	// in one transaction.
	Complete(ctx context.Context, result Result) error

	// Fail records a terminal error code on the session row.
	Fail(ctx context.Context, id, errorCode string) error

	// Get returns one session row, nil when absent.
	Get(ctx context.Context, id string) (*Session, error)
}

// LiveRepo stores the live loop's previews, orders and daily performance.
type LiveRepo interface {
	SavePreview(ctx context.Context, preview RebalancePreview) error
	GetPreview(ctx context.Context, strategyID string, tradeDate time.Time) (*RebalancePreview, error)
	SaveOrder(ctx context.Context, order LiveOrder) error
	SavePositions(ctx context.Context, strategyID string, positions map[string]domain.Position) error
	LoadPositions(ctx context.Context, strategyID string) (map[string]domain.Position, error)
	SaveDailyPerformance(ctx context.Context, strategyID string, snap domain.Snapshot) error
}

// Repository groups the concrete repos an application wires at startup.
type Repository struct {
	Sessions SessionRepo
	Live     LiveRepo
}
