package domain

import (
	"math"

	"github.com/rs/zerolog/log"
)

// DefaultActionThresholdPct is the one-day absolute return that marks an
// unadjusted split/bonus event. Heuristic with no calibration data behind it,
// therefore configurable.
const DefaultActionThresholdPct = 50.0

// DetectCorporateActions scans every per-stock series for the earliest day
// whose close-to-close move exceeds threshold (absolute percent). Offending
// stocks have their post-event rows dropped from the frame so no contaminated
// bar leaks into factor computation or simulation.
func DetectCorporateActions(frame *PriceFrame, thresholdPct float64) map[string]CorporateAction {
	if thresholdPct <= 0 {
		thresholdPct = DefaultActionThresholdPct
	}
	events := make(map[string]CorporateAction)
	for _, stock := range frame.Stocks() {
		series := frame.Series[stock]
		for i := 1; i < len(series); i++ {
			prev, cur := series[i-1], series[i]
			if prev.Close <= 0 {
				continue
			}
			change := (cur.Close - prev.Close) / prev.Close * 100
			if math.Abs(change) < thresholdPct {
				continue
			}
			actionType := ActionConsolidation
			if change > 0 {
				actionType = ActionBonusSplit
			}
			events[stock] = CorporateAction{
				Stock:      stock,
				EventDate:  cur.Date,
				PrevClose:  prev.Close,
				NewClose:   cur.Close,
				ChangeRate: change,
				Type:       actionType,
			}
			log.Warn().
				Str("stock", stock).
				Time("event_date", cur.Date).
				Float64("change_pct", change).
				Str("type", string(actionType)).
				Msg("corporate action detected, truncating series")
			break
		}
	}
	for stock, ev := range events {
		frame.Truncate(stock, ev.EventDate)
	}
	return events
}
