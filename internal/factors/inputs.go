package factors

import (
	"sort"
	"time"

	"github.com/crucial-sub/stocklab/internal/domain"
)

// LookbackDays is how far behind the first calc date the price window must
// extend: 12-month momentum needs 240 trading days, which ~300 calendar days
// of history covers.
const LookbackDays = 300

// Inputs bundles the source data one backend run computes from. The frame is
// read-only for the duration of a computation.
type Inputs struct {
	Frame        *domain.PriceFrame
	Fundamentals *FundamentalSet
	Universe     []string
}

// FundamentalSet indexes fundamental records per stock for point-in-time
// lookups. Records are sorted by report date.
type FundamentalSet struct {
	byStock map[string][]domain.FundamentalRecord
}

// NewFundamentalSet builds the index. Records missing an available date get
// one derived from their report code's publication delay.
func NewFundamentalSet(records []domain.FundamentalRecord) *FundamentalSet {
	fs := &FundamentalSet{byStock: make(map[string][]domain.FundamentalRecord)}
	for _, r := range records {
		if r.AvailableDate.IsZero() {
			r = r.WithAvailableDate()
		}
		fs.byStock[r.Stock] = append(fs.byStock[r.Stock], r)
	}
	for stock := range fs.byStock {
		recs := fs.byStock[stock]
		sort.Slice(recs, func(i, j int) bool { return recs[i].ReportDate.Before(recs[j].ReportDate) })
	}
	return fs
}

// LatestAsOf returns the most recent record whose available date is on or
// before calcDate. This is the anti-look-ahead gate: a filing influences
// decisions only after its publication delay has elapsed.
func (fs *FundamentalSet) LatestAsOf(stock string, calcDate time.Time) (domain.FundamentalRecord, bool) {
	var best domain.FundamentalRecord
	found := false
	for _, r := range fs.byStock[stock] {
		if r.AvailableDate.After(calcDate) {
			continue
		}
		if !found || r.ReportDate.After(best.ReportDate) {
			best = r
			found = true
		}
	}
	return best, found
}

// AnnualSeriesAsOf returns the annual reports available at calcDate, newest
// first. Growth factors walk this series.
func (fs *FundamentalSet) AnnualSeriesAsOf(stock string, calcDate time.Time) []domain.FundamentalRecord {
	var out []domain.FundamentalRecord
	for _, r := range fs.byStock[stock] {
		if r.ReportCode == domain.ReportAnnual && !r.AvailableDate.After(calcDate) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiscalYear > out[j].FiscalYear })
	return out
}

// SameReportYearAgo returns the record with the same report code from the
// previous fiscal year, if available at calcDate.
func (fs *FundamentalSet) SameReportYearAgo(stock string, ref domain.FundamentalRecord, calcDate time.Time) (domain.FundamentalRecord, bool) {
	for _, r := range fs.byStock[stock] {
		if r.FiscalYear == ref.FiscalYear-1 && r.ReportCode == ref.ReportCode && !r.AvailableDate.After(calcDate) {
			return r, true
		}
	}
	return domain.FundamentalRecord{}, false
}

// PrevReport returns the record filed immediately before ref (by report
// date), if available at calcDate. Used for quarter-over-quarter growth.
func (fs *FundamentalSet) PrevReport(stock string, ref domain.FundamentalRecord, calcDate time.Time) (domain.FundamentalRecord, bool) {
	var best domain.FundamentalRecord
	found := false
	for _, r := range fs.byStock[stock] {
		if !r.ReportDate.Before(ref.ReportDate) || r.AvailableDate.After(calcDate) {
			continue
		}
		if !found || r.ReportDate.After(best.ReportDate) {
			best = r
			found = true
		}
	}
	return best, found
}

// Account reads a named account from a record; ok is false when absent.
func Account(r domain.FundamentalRecord, name string) (float64, bool) {
	v, ok := r.Accounts[name]
	return v, ok
}
