package factors

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crucial-sub/stocklab/internal/domain"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// syntheticFrame builds n weekdays of deterministic but non-trivial bars for
// the given stocks ending at the returned last date.
func syntheticFrame(stocks []string, n int) (*domain.PriceFrame, time.Time) {
	var bars []domain.PriceBar
	var last time.Time
	for si, stock := range stocks {
		price := 10000.0 + float64(si)*500
		date := day(2023, 1, 2)
		count := 0
		for count < n {
			if date.Weekday() != time.Saturday && date.Weekday() != time.Sunday {
				// Deterministic pseudo-walk with stock-specific drift.
				wave := math.Sin(float64(count)/7+float64(si)) * 0.02
				drift := 0.0004 * float64(si+1)
				price *= 1 + wave + drift
				bars = append(bars, domain.PriceBar{
					Stock:             stock,
					Date:              date,
					Open:              price * 0.995,
					High:              price * 1.01,
					Low:               price * 0.99,
					Close:             price,
					Volume:            float64(100000 + count*37 + si*1000),
					TradingValue:      price * float64(100000+count*37),
					MarketCap:         price * 1e6,
					SharesOutstanding: 1e6,
				})
				last = date
				count++
			}
			date = date.AddDate(0, 0, 1)
		}
	}
	return domain.NewPriceFrame(bars), last
}

func syntheticFundamentals(stocks []string) *FundamentalSet {
	var recs []domain.FundamentalRecord
	for si, stock := range stocks {
		for year := 2018; year <= 2022; year++ {
			base := float64(year-2017) * (1 + float64(si)*0.2)
			recs = append(recs, domain.FundamentalRecord{
				Stock:      stock,
				FiscalYear: year,
				ReportCode: domain.ReportAnnual,
				ReportDate: day(year+1, 3, 31),
				Accounts: map[string]float64{
					AccRevenue:            1e9 * base,
					AccGrossProfit:        4e8 * base,
					AccOperatingProfit:    2e8 * base,
					AccNetIncome:          1.5e8 * base,
					AccTotalAssets:        5e9 * base,
					AccTotalEquity:        2.5e9 * base,
					AccTotalLiabilities:   2.5e9 * base,
					AccCurrentAssets:      1.5e9 * base,
					AccCurrentLiabilities: 1e9 * base,
					AccInventory:          3e8 * base,
					AccCash:               5e8 * base,
					AccOperatingCashFlow:  1.8e8 * base,
					AccCapex:              0.5e8 * base,
					AccEBITDA:             2.5e8 * base,
					AccInterestExpense:    0.2e8 * base,
					AccDividendsPaid:      0.4e8 * base,
					AccRetainedEarnings:   1e9 * base,
					AccIntangibleAssets:   1e8 * base,
				},
			})
		}
	}
	return NewFundamentalSet(recs)
}

func TestBackendEquivalence(t *testing.T) {
	stocks := []string{"000100", "000200", "000300"}
	frame, calcDate := syntheticFrame(stocks, 300)
	in := Inputs{Frame: frame, Fundamentals: syntheticFundamentals(stocks), Universe: stocks}

	backends := []Backend{NewFrameBackend(), NewColumnarBackend(), NewNativeBackend()}
	tables := make([]*Table, len(backends))
	for i, b := range backends {
		table, err := b.Compute(in, calcDate, nil)
		require.NoError(t, err, b.Name())
		tables[i] = table
	}

	ref := tables[0]
	for _, name := range Names() {
		refCol, ok := ref.Columns[name]
		require.True(t, ok, "reference backend missing %s", name)
		for bi := 1; bi < len(tables); bi++ {
			col, ok := tables[bi].Columns[name]
			require.True(t, ok, "%s missing %s", backends[bi].Name(), name)
			for row := range stocks {
				a, b := float64(refCol[row]), float64(col[row])
				if math.IsNaN(a) && math.IsNaN(b) {
					continue
				}
				require.False(t, math.IsNaN(a) != math.IsNaN(b),
					"%s/%s row %d: null mismatch (%v vs %v)", backends[bi].Name(), name, row, a, b)
				tol := 1e-4 * math.Max(math.Abs(a), 1)
				assert.InDelta(t, a, b, tol, "%s/%s row %d", backends[bi].Name(), name, row)
			}
		}
	}
}

func TestAntiLookAhead(t *testing.T) {
	stocks := []string{"000100"}
	frame, _ := syntheticFrame(stocks, 300)

	// A 2023 annual report filed 2024-03-31 becomes available 2024-06-29.
	sentinel := domain.FundamentalRecord{
		Stock:      "000100",
		FiscalYear: 2023,
		ReportCode: domain.ReportAnnual,
		ReportDate: day(2024, 3, 31),
		Accounts:   map[string]float64{AccNetIncome: 9.9e12, AccTotalEquity: 1e9},
	}
	older := domain.FundamentalRecord{
		Stock:      "000100",
		FiscalYear: 2022,
		ReportCode: domain.ReportAnnual,
		ReportDate: day(2023, 3, 31),
		Accounts:   map[string]float64{AccNetIncome: 1e8, AccTotalEquity: 1e9},
	}
	fs := NewFundamentalSet([]domain.FundamentalRecord{sentinel, older})

	calcDate := day(2024, 2, 1) // a Thursday well before the sentinel publishes
	_, ok := frame.Bar("000100", calcDate)
	require.True(t, ok, "calc date must be a trading day in the synthetic frame")

	rec, found := fs.LatestAsOf("000100", calcDate)
	require.True(t, found)
	assert.Equal(t, 2022, rec.FiscalYear, "sentinel record must not be visible before its available date")

	// With the sentinel removed, the visible record is identical.
	fsWithout := NewFundamentalSet([]domain.FundamentalRecord{older})
	rec2, found := fsWithout.LatestAsOf("000100", calcDate)
	require.True(t, found)
	assert.Equal(t, rec, rec2)

	// After the available date the sentinel takes over.
	rec3, found := fs.LatestAsOf("000100", day(2024, 6, 29))
	require.True(t, found)
	assert.Equal(t, 2023, rec3.FiscalYear)
}

func TestComputeMaskSkipsFamilies(t *testing.T) {
	stocks := []string{"000100", "000200"}
	frame, calcDate := syntheticFrame(stocks, 300)
	in := Inputs{Frame: frame, Fundamentals: syntheticFundamentals(stocks), Universe: stocks}

	mask := ComputeMask{Momentum1M: true, PER: true}
	table, err := NewColumnarBackend().Compute(in, calcDate, mask)
	require.NoError(t, err)

	assert.Contains(t, table.Columns, Momentum1M)
	assert.Contains(t, table.Columns, PER)
	assert.NotContains(t, table.Columns, RSI14)
	assert.NotContains(t, table.Columns, ROE)
	assert.NotContains(t, table.Columns, CurrentRatio)
}

func TestMaskKeyStable(t *testing.T) {
	a := ComputeMask{PER: true, ROE: true}
	b := ComputeMask{ROE: true, PER: true}
	assert.Equal(t, a.Key(), b.Key())
	assert.Len(t, a.Key(), 8)
	assert.Equal(t, "full", ComputeMask{}.Key())
	assert.NotEqual(t, a.Key(), ComputeMask{PER: true}.Key())
}

func TestAnalyse(t *testing.T) {
	s := &domain.Strategy{
		BuyConditions: []domain.Condition{
			{ID: "A", Factor: "PER", Operator: "<", Value: 10.0},
			{ID: "B", ExpLeftSide: "{ROE} - {ROA}"},
		},
		SellConditions: []domain.Condition{
			{ID: "S", Factor: "RSI_14", Operator: ">", Value: 70.0},
		},
		BuyExpression: &domain.Expression{
			Expression: "A and B",
			Conditions: []domain.Condition{{ID: "C", Factor: "UNKNOWN_FACTOR_X"}},
		},
		PriorityFactor: "MOMENTUM_3M",
	}
	mask := Analyse(s)
	for _, want := range []string{"PER", "ROE", "ROA", "RSI_14", "UNKNOWN_FACTOR_X", "MOMENTUM_3M"} {
		assert.True(t, mask.Wants(want), want)
	}
	assert.False(t, mask["MACD"])
}

func TestMarkerFactorsSkipsKeywords(t *testing.T) {
	got := markerFactors("PER AND NOT ROE OR TRUE FALSE MA_20")
	assert.ElementsMatch(t, []string{"PER", "ROE", "MA_20"}, got)
}

func TestEngineComputeDates(t *testing.T) {
	stocks := []string{"000100", "000200"}
	frame, last := syntheticFrame(stocks, 310)
	in := Inputs{Frame: frame, Fundamentals: syntheticFundamentals(stocks), Universe: stocks}

	cal := domain.NewCalendar(frame.Dates())
	all := cal.All()
	dates := all[len(all)-5:]
	require.Equal(t, last, dates[len(dates)-1])

	eng := NewEngine(NewColumnarBackend(), 4, zerolog.Nop())
	tables, err := eng.ComputeDates(context.Background(), in, dates, ComputeMask{Momentum1M: true})
	require.NoError(t, err)
	require.Len(t, tables, 5)
	for _, d := range dates {
		require.NotNil(t, tables[d], d)
		assert.Contains(t, tables[d].Columns, Momentum1M)
	}
}

func TestEngineCancellation(t *testing.T) {
	stocks := []string{"000100"}
	frame, last := syntheticFrame(stocks, 60)
	in := Inputs{Frame: frame, Fundamentals: NewFundamentalSet(nil), Universe: stocks}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	eng := NewEngine(NewColumnarBackend(), 1, zerolog.Nop())
	_, err := eng.ComputeDates(ctx, in, []time.Time{last}, nil)
	assert.Error(t, err)
}

func TestNullPropagation_NoFundamentals(t *testing.T) {
	stocks := []string{"000100"}
	frame, calcDate := syntheticFrame(stocks, 100)
	in := Inputs{Frame: frame, Fundamentals: NewFundamentalSet(nil), Universe: stocks}

	table, err := NewColumnarBackend().Compute(in, calcDate, nil)
	require.NoError(t, err)

	_, ok := table.Value("000100", PER)
	assert.False(t, ok, "PER must be null without fundamentals")
	_, ok = table.Value("000100", ROE)
	assert.False(t, ok)
	// Price factors still compute.
	v, ok := table.Value("000100", Momentum1M)
	assert.True(t, ok)
	assert.False(t, math.IsNaN(v))
}

func TestCatalogIntegrity(t *testing.T) {
	seen := map[string]bool{}
	for _, m := range Catalog() {
		assert.False(t, seen[m.Name], "duplicate %s", m.Name)
		seen[m.Name] = true
		assert.NotEmpty(t, m.Description)
		assert.NotEmpty(t, m.Family)
	}
	assert.GreaterOrEqual(t, len(Catalog()), 80)
	assert.True(t, IsKnown(MA10))
	fam, ok := FamilyOf("PER")
	require.True(t, ok)
	assert.Equal(t, FamilyValuation, fam)
	assert.True(t, IsKnown("RSI_14"))
	assert.False(t, IsKnown("NOT_A_FACTOR"))
}
