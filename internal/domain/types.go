// Package domain holds the core data model of the backtest engine: price
// bars, fundamentals, strategy specifications, positions, trades and daily
// snapshots.
package domain

import (
	"time"
)

// Date is a trading date at day resolution. Always UTC midnight.
type Date = time.Time

// Day truncates t to day resolution.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// PriceBar is one daily OHLCV row for a stock.
type PriceBar struct {
	Stock             string    `json:"stock" db:"stock_code"`
	Date              time.Time `json:"date" db:"trade_date"`
	Open              float64   `json:"open" db:"open"`
	High              float64   `json:"high" db:"high"`
	Low               float64   `json:"low" db:"low"`
	Close             float64   `json:"close" db:"close"`
	Volume            float64   `json:"volume" db:"volume"`
	TradingValue      float64   `json:"trading_value" db:"trading_value"`
	MarketCap         float64   `json:"market_cap" db:"market_cap"`
	SharesOutstanding float64   `json:"shares_outstanding" db:"shares_outstanding"`
}

// Valid reports whether the bar is usable for entry decisions. Zero or
// negative price fields mark a corporate-action blackout row.
func (b PriceBar) Valid() bool {
	return b.Open > 0 && b.High > 0 && b.Low > 0 && b.Close > 0 && b.Volume >= 0
}

// ReportCode identifies the fiscal report a fundamental row belongs to.
type ReportCode string

const (
	ReportAnnual     ReportCode = "11011"
	ReportSemiAnnual ReportCode = "11012"
	ReportQ1         ReportCode = "11013"
	ReportQ3         ReportCode = "11014"
)

// PublicationDelay returns the statutory filing delay for the report code.
func (rc ReportCode) PublicationDelay() time.Duration {
	switch rc {
	case ReportAnnual:
		return 90 * 24 * time.Hour
	case ReportSemiAnnual:
		return 60 * 24 * time.Hour
	default:
		return 45 * 24 * time.Hour
	}
}

// FundamentalRecord is one filed report for a stock with its account values.
// AvailableDate is the earliest simulated day the record may influence
// decisions (report date plus publication delay).
type FundamentalRecord struct {
	Stock         string             `json:"stock" db:"stock_code"`
	FiscalYear    int                `json:"fiscal_year" db:"fiscal_year"`
	ReportCode    ReportCode         `json:"report_code" db:"report_code"`
	ReportDate    time.Time          `json:"report_date" db:"report_date"`
	AvailableDate time.Time          `json:"available_date" db:"available_date"`
	Accounts      map[string]float64 `json:"accounts"`
}

// WithAvailableDate returns a copy with AvailableDate derived from the report
// date and the report code's publication delay.
func (f FundamentalRecord) WithAvailableDate() FundamentalRecord {
	f.AvailableDate = Day(f.ReportDate.Add(f.ReportCode.PublicationDelay()))
	return f
}

// Side of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// SellReason records why a position was closed, with the precedence order the
// simulator applies.
type SellReason string

const (
	SellTargetGain      SellReason = "TARGET_GAIN"
	SellStopLoss        SellReason = "STOP_LOSS"
	SellMinHold         SellReason = "MIN_HOLD"
	SellMaxHold         SellReason = "MAX_HOLD"
	SellCondition       SellReason = "CONDITION"
	SellRebalance       SellReason = "REBALANCE"
	SellCorporateAction SellReason = "CORPORATE_ACTION"
	SellFinal           SellReason = "FINAL"
)

// Position is an open holding. EntryPrice is the FIFO average executed price
// across lots; EntrySnapshot keeps the factor row at entry for attribution.
type Position struct {
	Stock         string             `json:"stock"`
	EntryDate     time.Time          `json:"entry_date"`
	EntryPrice    float64            `json:"entry_price"`
	Quantity      int64              `json:"quantity"`
	HoldDays      int                `json:"hold_days"`
	EntrySnapshot map[string]float64 `json:"entry_factor_snapshot,omitempty"`
	BuyReason     string             `json:"buy_reason,omitempty"`
}

// Value returns the position marked at price.
func (p Position) Value(price float64) float64 {
	return price * float64(p.Quantity)
}

// AddLot folds another fill into the FIFO average price.
func (p *Position) AddLot(price float64, qty int64) {
	total := p.EntryPrice*float64(p.Quantity) + price*float64(qty)
	p.Quantity += qty
	p.EntryPrice = total / float64(p.Quantity)
}

// Trade is one executed fill, buy or sell. Sell-only fields are pointers so
// buys serialise without them.
type Trade struct {
	Date           time.Time          `json:"trade_date"`
	Side           Side               `json:"side"`
	Stock          string             `json:"stock"`
	Quantity       int64              `json:"quantity"`
	Price          float64            `json:"price"`
	Amount         float64            `json:"amount"`
	Commission     float64            `json:"commission"`
	Tax            float64            `json:"tax"`
	RealisedPnL    *float64           `json:"realised_pnl,omitempty"`
	ReturnPct      *float64           `json:"return_pct,omitempty"`
	HoldDays       *int               `json:"hold_days,omitempty"`
	FactorSnapshot map[string]float64 `json:"factor_snapshot,omitempty"`
	SellReason     SellReason         `json:"sell_reason,omitempty"`
}

// Snapshot is the end-of-day portfolio state emitted to the progress stream
// and persisted as daily performance.
type Snapshot struct {
	Date             time.Time `json:"date"`
	PortfolioValue   float64   `json:"portfolio_value"`
	Cash             float64   `json:"cash"`
	Invested         float64   `json:"position_value"`
	DailyReturn      float64   `json:"daily_return"`
	CumulativeReturn float64   `json:"cumulative_return"`
	Drawdown         float64   `json:"drawdown"`
	BuyCount         int       `json:"buy_count"`
	SellCount        int       `json:"sell_count"`
}

// CorporateActionType classifies a detected unadjusted corporate action.
type CorporateActionType string

const (
	ActionBonusSplit    CorporateActionType = "bonus_split"
	ActionConsolidation CorporateActionType = "consolidation"
)

// CorporateAction is a detected unadjusted split/bonus or consolidation event.
// The simulator force-liquidates at the bar before EventDate and blocks the
// stock for new entries from EventDate on.
type CorporateAction struct {
	Stock      string              `json:"stock"`
	EventDate  time.Time           `json:"event_date"`
	PrevClose  float64             `json:"prev_close"`
	NewClose   float64             `json:"new_close"`
	ChangeRate float64             `json:"change_rate"`
	Type       CorporateActionType `json:"action_type"`
}
