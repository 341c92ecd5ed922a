package factors

import (
	"time"
)

// columnarBackend computes family by family, filling whole columns per pass
// so the per-family input extraction is amortised across the universe. This
// is the default backend.
type columnarBackend struct{}

// NewColumnarBackend returns the vectorised columnar backend.
func NewColumnarBackend() Backend { return columnarBackend{} }

func (columnarBackend) Name() string { return "columnar" }

func (columnarBackend) Compute(in Inputs, calcDate time.Time, mask ComputeMask) (*Table, error) {
	return computeColumnar(in, calcDate, mask, computeTechnical)
}

// computeColumnar is shared with the native backend, which swaps in a
// talib-based technical kernel.
func computeColumnar(in Inputs, calcDate time.Time, mask ComputeMask, technical func(stockSeries, map[string]float64)) (*Table, error) {
	table := NewTable(calcDate, in.Universe)

	var agg universeAggregates
	if mask.WantsFamily(FamilyMomentum) || mask.WantsFamily(FamilyVolatility) {
		agg = buildUniverseAggregates(in.Frame, in.Universe, calcDate)
	}

	// One series build per stock, reused by every family pass.
	seriesByRow := make([]stockSeries, len(in.Universe))
	for i, stock := range in.Universe {
		seriesByRow[i] = buildSeries(in.Frame, stock, calcDate)
	}

	cols := make(map[string][]float32)
	store := func(i int, row map[string]float64) {
		for name, v := range row {
			if !mask.Wants(name) {
				continue
			}
			col, ok := cols[name]
			if !ok {
				col = table.EmptyColumn()
				cols[name] = col
			}
			col[i] = float32(v)
		}
	}

	type familyPass struct {
		family Family
		run    func(i int, row map[string]float64)
	}
	passes := []familyPass{
		{FamilyMomentum, func(i int, row map[string]float64) { computeMomentum(seriesByRow[i], agg.meanRet60, row) }},
		{FamilyVolatility, func(i int, row map[string]float64) { computeVolatility(seriesByRow[i], agg.indexRets, row) }},
		{FamilyLiquidity, func(i int, row map[string]float64) { computeLiquidity(seriesByRow[i], row) }},
		{FamilyTechnical, func(i int, row map[string]float64) { technical(seriesByRow[i], row) }},
		{FamilyValuation, func(i int, row map[string]float64) { computeValuation(seriesByRow[i], in.Fundamentals, calcDate, row) }},
		{FamilyProfitability, func(i int, row map[string]float64) { computeProfitability(seriesByRow[i], in.Fundamentals, calcDate, row) }},
		{FamilyGrowth, func(i int, row map[string]float64) { computeGrowth(seriesByRow[i], in.Fundamentals, calcDate, row) }},
		{FamilyQuality, func(i int, row map[string]float64) { computeQuality(seriesByRow[i], in.Fundamentals, calcDate, row) }},
	}

	for _, pass := range passes {
		wanted := mask.WantsFamily(pass.family)
		// The dividend family rides on the valuation pass.
		if pass.family == FamilyValuation {
			wanted = wanted || mask.WantsFamily(FamilyDividend)
		}
		if !wanted {
			continue
		}
		for i := range in.Universe {
			row := make(map[string]float64)
			pass.run(i, row)
			store(i, row)
		}
	}

	for name, col := range cols {
		table.AddColumn(name, col)
	}
	return table, nil
}
