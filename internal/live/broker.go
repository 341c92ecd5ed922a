// Package live runs a strategy against the real market on paper: a 07:00 KST
// selection job decides the day's trades from yesterday's data, a 09:00 KST
// execution job submits them through the broker.
package live

import (
	"context"

	"github.com/crucial-sub/stocklab/internal/domain"
)

// OrderRequest is one order for the broker. Price 0 submits at market.
type OrderRequest struct {
	Stock    string
	Side     domain.Side
	Quantity int64
	Price    float64
}

// Broker is the minimal surface the execution job needs. Implementations must
// be safe for sequential use from one goroutine.
type Broker interface {
	// CurrentPrice returns the latest traded price for the stock.
	CurrentPrice(ctx context.Context, stock string) (float64, error)

	// PlaceOrder submits an order and returns the broker's order reference.
	PlaceOrder(ctx context.Context, req OrderRequest) (string, error)

	// CashBalance returns the account's available cash in KRW.
	CashBalance(ctx context.Context) (float64, error)
}
