package domain

import (
	"sort"
	"time"
)

// PriceFrame holds per-stock daily bars sorted by date. It is the in-memory
// working set for one backtest; the engine owns it for the run's duration.
type PriceFrame struct {
	Series map[string][]PriceBar `json:"series"`
}

// NewPriceFrame groups bars by stock and sorts each series by date.
func NewPriceFrame(bars []PriceBar) *PriceFrame {
	f := &PriceFrame{Series: make(map[string][]PriceBar)}
	for _, b := range bars {
		b.Date = Day(b.Date)
		f.Series[b.Stock] = append(f.Series[b.Stock], b)
	}
	for code := range f.Series {
		s := f.Series[code]
		sort.Slice(s, func(i, j int) bool { return s[i].Date.Before(s[j].Date) })
	}
	return f
}

// Stocks returns the stock codes in the frame, sorted ascending.
func (f *PriceFrame) Stocks() []string {
	out := make([]string, 0, len(f.Series))
	for code := range f.Series {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// Dates returns every distinct trade date present in the frame.
func (f *PriceFrame) Dates() []time.Time {
	seen := make(map[time.Time]struct{})
	var out []time.Time
	for _, series := range f.Series {
		for _, b := range series {
			if _, ok := seen[b.Date]; !ok {
				seen[b.Date] = struct{}{}
				out = append(out, b.Date)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Bar returns the bar for stock on date.
func (f *PriceFrame) Bar(stock string, date time.Time) (PriceBar, bool) {
	date = Day(date)
	s := f.Series[stock]
	i := sort.Search(len(s), func(i int) bool { return !s[i].Date.Before(date) })
	if i < len(s) && s[i].Date.Equal(date) {
		return s[i], true
	}
	return PriceBar{}, false
}

// BarOrBefore returns the latest bar for stock with date <= date. Used for
// forward-filled holdings valuation, never for entry decisions.
func (f *PriceFrame) BarOrBefore(stock string, date time.Time) (PriceBar, bool) {
	date = Day(date)
	s := f.Series[stock]
	i := sort.Search(len(s), func(i int) bool { return s[i].Date.After(date) })
	if i == 0 {
		return PriceBar{}, false
	}
	return s[i-1], true
}

// Window returns the bars for stock within [start, end] inclusive.
func (f *PriceFrame) Window(stock string, start, end time.Time) []PriceBar {
	start, end = Day(start), Day(end)
	s := f.Series[stock]
	lo := sort.Search(len(s), func(i int) bool { return !s[i].Date.Before(start) })
	hi := sort.Search(len(s), func(i int) bool { return s[i].Date.After(end) })
	return s[lo:hi]
}

// Truncate drops all bars for stock with date >= cutoff, in place.
func (f *PriceFrame) Truncate(stock string, cutoff time.Time) {
	cutoff = Day(cutoff)
	s := f.Series[stock]
	i := sort.Search(len(s), func(i int) bool { return !s[i].Date.Before(cutoff) })
	f.Series[stock] = s[:i]
}
