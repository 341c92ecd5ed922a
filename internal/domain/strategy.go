package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/crucial-sub/stocklab/internal/errs"
)

// RebalanceFrequency controls which trading days allow new entries.
type RebalanceFrequency string

const (
	RebalanceDaily     RebalanceFrequency = "DAILY"
	RebalanceWeekly    RebalanceFrequency = "WEEKLY"
	RebalanceMonthly   RebalanceFrequency = "MONTHLY"
	RebalanceQuarterly RebalanceFrequency = "QUARTERLY"
)

// PositionSizing selects the allocation model for new entries.
type PositionSizing string

const (
	SizingEqualWeight PositionSizing = "EQUAL_WEIGHT"
	SizingMarketCap   PositionSizing = "MARKET_CAP"
	SizingRiskParity  PositionSizing = "RISK_PARITY"
)

// PriceBasis selects the reference price for stop-loss / condition sells.
type PriceBasis string

const (
	BasisClose     PriceBasis = "CLOSE"
	BasisOpen      PriceBasis = "OPEN"
	BasisPrevClose PriceBasis = "PREV_CLOSE"
)

// NormalizePriceBasis canonicalises the basis vocabulary. The upstream API
// historically accepted mixed-case values and Korean literals.
func NormalizePriceBasis(s string) PriceBasis {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "OPEN", "시가":
		return BasisOpen
	case "PREV_CLOSE", "PREVCLOSE", "전일 종가", "전일종가":
		return BasisPrevClose
	default:
		return BasisClose
	}
}

// Condition is one atomic predicate: factor op value.
type Condition struct {
	ID       string      `json:"id" yaml:"id"`
	Factor   string      `json:"factor" yaml:"factor"`
	Operator string      `json:"operator" yaml:"operator"`
	Value    interface{} `json:"value" yaml:"value"`
	// ExpLeftSide optionally carries a free-form left side with {FACTOR}
	// markers; the dependency analyser scans it for factor names.
	ExpLeftSide string `json:"exp_left_side,omitempty" yaml:"exp_left_side,omitempty"`
}

// Expression is a boolean combination of condition ids, e.g. "(A and B) or C".
type Expression struct {
	Expression string      `json:"expression" yaml:"expression"`
	Conditions []Condition `json:"conditions" yaml:"conditions"`
}

// TargetAndLoss configures take-profit / stop-loss percentages. Zero disables.
type TargetAndLoss struct {
	TargetGain float64 `json:"target_gain" yaml:"target_gain"`
	StopLoss   float64 `json:"stop_loss" yaml:"stop_loss"`
}

// HoldDays configures holding-period rules and the sell price basis.
type HoldDays struct {
	MinHoldDays     int        `json:"min_hold_days" yaml:"min_hold_days"`
	MaxHoldDays     int        `json:"max_hold_days" yaml:"max_hold_days"`
	SellPriceBasis  PriceBasis `json:"sell_price_basis" yaml:"sell_price_basis"`
	SellPriceOffset float64    `json:"sell_price_offset" yaml:"sell_price_offset"`
}

// Strategy is the full user-supplied backtest specification. Numeric fields
// are canonical float64; the hash normalisation relies on this.
type Strategy struct {
	BuyConditions  []Condition `json:"buy_conditions,omitempty"`
	BuyExpression  *Expression `json:"buy_expression,omitempty"`
	SellConditions []Condition `json:"sell_conditions,omitempty"`
	ConditionSell  *Expression `json:"condition_sell,omitempty"`

	TargetAndLoss TargetAndLoss `json:"target_and_loss"`
	HoldRules     HoldDays      `json:"hold_days"`

	StartDate      time.Time          `json:"start_date"`
	EndDate        time.Time          `json:"end_date"`
	InitialCapital float64            `json:"initial_capital"`
	Rebalance      RebalanceFrequency `json:"rebalance_frequency"`
	MaxPositions   int                `json:"max_positions"`
	Sizing         PositionSizing     `json:"position_sizing"`
	CommissionRate float64            `json:"commission_rate"`
	TaxRate        float64            `json:"tax_rate"`
	Slippage       float64            `json:"slippage"`

	TargetThemes    []string `json:"target_themes,omitempty"`
	TargetStocks    []string `json:"target_stocks,omitempty"`
	TargetUniverses []string `json:"target_universes,omitempty"`

	PriorityFactor string `json:"priority_factor,omitempty"`
	PriorityOrder  string `json:"priority_order,omitempty"` // asc | desc
}

// DefaultTaxRate is the Korean securities transaction tax applied to sells.
const DefaultTaxRate = 0.0023

// Validate checks request shape before any work is done.
func (s *Strategy) Validate() error {
	if s.BuyExpression == nil && len(s.BuyConditions) == 0 {
		return errs.Validation("either buy_expression or buy_conditions is required")
	}
	if s.StartDate.IsZero() || s.EndDate.IsZero() {
		return errs.Validation("start_date and end_date are required")
	}
	if !s.EndDate.After(s.StartDate) {
		return errs.Validation("end_date %s must be after start_date %s",
			s.EndDate.Format("2006-01-02"), s.StartDate.Format("2006-01-02"))
	}
	if s.InitialCapital <= 0 {
		return errs.Validation("initial_capital must be positive")
	}
	if s.MaxPositions < 1 || s.MaxPositions > 100 {
		return errs.Validation("max_positions %d out of range [1,100]", s.MaxPositions)
	}
	if s.CommissionRate < 0 || s.CommissionRate > 0.01 {
		return errs.Validation("commission_rate %f out of range [0,0.01]", s.CommissionRate)
	}
	if s.Slippage < 0 || s.Slippage > 0.1 {
		return errs.Validation("slippage %f out of range [0,0.1]", s.Slippage)
	}
	switch s.Rebalance {
	case RebalanceDaily, RebalanceWeekly, RebalanceMonthly, RebalanceQuarterly:
	default:
		return errs.Validation("unknown rebalance_frequency %q", s.Rebalance)
	}
	switch s.Sizing {
	case SizingEqualWeight, SizingMarketCap, SizingRiskParity:
	default:
		return errs.Validation("unknown position_sizing %q", s.Sizing)
	}
	if s.PriorityOrder != "" && s.PriorityOrder != "asc" && s.PriorityOrder != "desc" {
		return errs.Validation("priority_order must be asc or desc, got %q", s.PriorityOrder)
	}
	for _, id := range s.TargetUniverses {
		if !KnownUniverse(id) {
			return errs.Validation("unknown universe id %q", id)
		}
	}
	if s.TaxRate == 0 {
		s.TaxRate = DefaultTaxRate
	}
	return nil
}

// UniverseKey is the cache key component identifying the stock universe:
// the sorted comma-joined theme list, or "all".
func (s *Strategy) UniverseKey() string {
	if len(s.TargetThemes) == 0 {
		return "all"
	}
	themes := append([]string(nil), s.TargetThemes...)
	sort.Strings(themes)
	return strings.Join(themes, ",")
}
