package stream

// DeltaEncoder turns a progress snapshot series into delta events: the first
// snapshot is emitted in full, later ones carry only the changed fields plus
// the date. Terminal events are always full and bypass the encoder.
//
// One encoder serves one session and is driven by the single simulator
// goroutine, so it needs no locking.
type DeltaEncoder struct {
	last map[string]interface{}
}

// NewDeltaEncoder creates an encoder with no prior snapshot.
func NewDeltaEncoder() *DeltaEncoder {
	return &DeltaEncoder{}
}

func payloadFields(p ProgressPayload) map[string]interface{} {
	return map[string]interface{}{
		"date":              p.Date,
		"portfolio_value":   p.PortfolioValue,
		"cash":              p.Cash,
		"position_value":    p.PositionValue,
		"daily_return":      p.DailyReturn,
		"cumulative_return": p.CumulativeReturn,
		"progress_percent":  p.ProgressPercent,
		"current_mdd":       p.CurrentMDD,
		"buy_count":         p.BuyCount,
		"sell_count":        p.SellCount,
	}
}

// Encode returns the next wire event for p: a full progress event for the
// first snapshot, a delta afterwards.
func (e *DeltaEncoder) Encode(p ProgressPayload) Event {
	fields := payloadFields(p)
	if e.last == nil {
		e.last = fields
		return Event{Type: EventProgress, Data: p}
	}
	delta := map[string]interface{}{"date": fields["date"]}
	for k, v := range fields {
		if e.last[k] != v {
			delta[k] = v
		}
	}
	e.last = fields
	return Event{Type: EventDelta, Data: delta}
}

// ApplyDelta folds a delta body onto a previously reconstructed snapshot
// map. Used by consumers (and the delta-correctness tests) to rebuild the
// full series.
func ApplyDelta(base map[string]interface{}, delta map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range delta {
		out[k] = v
	}
	return out
}
