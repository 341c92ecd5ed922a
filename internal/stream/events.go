// Package stream fans backtest progress out to SSE and websocket consumers.
// The hub is push-only: a slow consumer loses intermediate events but always
// receives the terminal one.
package stream

import (
	"github.com/crucial-sub/stocklab/internal/domain"
)

// EventType tags a progress stream message.
type EventType string

const (
	EventPreparation EventType = "preparation"
	EventProgress    EventType = "progress"
	EventDelta       EventType = "delta"
	EventTrade       EventType = "trade"
	EventCompleted   EventType = "completed"
	EventError       EventType = "error"
)

// Event is one wire message. Data marshals to the JSON body.
type Event struct {
	Type EventType   `json:"type"`
	Data interface{} `json:"data"`
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventCompleted || e.Type == EventError
}

// PreparationPayload announces a pipeline stage (1=load, 2=corporate
// actions, 3=factors, 4=simulation).
type PreparationPayload struct {
	Stage       string `json:"stage"`
	StageNumber int    `json:"stage_number"`
	TotalStages int    `json:"total_stages"`
	Message     string `json:"message"`
}

// TotalPreparationStages is the stage count clients render progress against.
const TotalPreparationStages = 4

// ProgressPayload is the full per-day snapshot on the wire.
type ProgressPayload struct {
	Date             string  `json:"date"`
	PortfolioValue   float64 `json:"portfolio_value"`
	Cash             float64 `json:"cash"`
	PositionValue    float64 `json:"position_value"`
	DailyReturn      float64 `json:"daily_return"`
	CumulativeReturn float64 `json:"cumulative_return"`
	ProgressPercent  float64 `json:"progress_percent"`
	CurrentMDD       float64 `json:"current_mdd"`
	BuyCount         int     `json:"buy_count"`
	SellCount        int     `json:"sell_count"`
}

// NewProgressPayload converts a simulator snapshot for the wire.
func NewProgressPayload(snap domain.Snapshot, progressPct float64) ProgressPayload {
	return ProgressPayload{
		Date:             snap.Date.Format("2006-01-02"),
		PortfolioValue:   snap.PortfolioValue,
		Cash:             snap.Cash,
		PositionValue:    snap.Invested,
		DailyReturn:      snap.DailyReturn,
		CumulativeReturn: snap.CumulativeReturn,
		ProgressPercent:  progressPct,
		CurrentMDD:       snap.Drawdown,
		BuyCount:         snap.BuyCount,
		SellCount:        snap.SellCount,
	}
}

// ErrorPayload carries a stable code plus a human message.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// TradePayload mirrors domain.Trade with a wire-format date.
type TradePayload struct {
	Date       string            `json:"trade_date"`
	Side       domain.Side       `json:"side"`
	Stock      string            `json:"stock"`
	Quantity   int64             `json:"quantity"`
	Price      float64           `json:"price"`
	SellReason domain.SellReason `json:"sell_reason,omitempty"`
}

// NewTradePayload converts a trade for the wire.
func NewTradePayload(tr domain.Trade) TradePayload {
	return TradePayload{
		Date:       tr.Date.Format("2006-01-02"),
		Side:       tr.Side,
		Stock:      tr.Stock,
		Quantity:   tr.Quantity,
		Price:      tr.Price,
		SellReason: tr.SellReason,
	}
}
