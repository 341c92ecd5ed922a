package factors

import (
	"time"
)

// frameBackend is the straightforward reference implementation: one pass per
// stock computing every requested family row by row. Slowest, simplest,
// the yardstick the other backends are tested against.
type frameBackend struct{}

// NewFrameBackend returns the row-oriented reference backend.
func NewFrameBackend() Backend { return frameBackend{} }

func (frameBackend) Name() string { return "frame" }

func (frameBackend) Compute(in Inputs, calcDate time.Time, mask ComputeMask) (*Table, error) {
	table := NewTable(calcDate, in.Universe)

	var agg universeAggregates
	needAgg := mask.Wants(RelStrength) || mask.Wants(Beta) || mask.WantsFamily(FamilyMomentum) || mask.WantsFamily(FamilyVolatility)
	if needAgg {
		agg = buildUniverseAggregates(in.Frame, in.Universe, calcDate)
	}

	cols := make(map[string][]float32)
	ensure := func(name string) []float32 {
		if c, ok := cols[name]; ok {
			return c
		}
		c := table.EmptyColumn()
		cols[name] = c
		return c
	}

	for i, stock := range in.Universe {
		series := buildSeries(in.Frame, stock, calcDate)
		row := make(map[string]float64)

		if mask.WantsFamily(FamilyMomentum) {
			computeMomentum(series, agg.meanRet60, row)
		}
		if mask.WantsFamily(FamilyVolatility) {
			computeVolatility(series, agg.indexRets, row)
		}
		if mask.WantsFamily(FamilyLiquidity) {
			computeLiquidity(series, row)
		}
		if mask.WantsFamily(FamilyTechnical) {
			computeTechnical(series, row)
		}
		if mask.WantsFamily(FamilyValuation) || mask.WantsFamily(FamilyDividend) {
			computeValuation(series, in.Fundamentals, calcDate, row)
		}
		if mask.WantsFamily(FamilyProfitability) {
			computeProfitability(series, in.Fundamentals, calcDate, row)
		}
		if mask.WantsFamily(FamilyGrowth) {
			computeGrowth(series, in.Fundamentals, calcDate, row)
		}
		if mask.WantsFamily(FamilyQuality) {
			computeQuality(series, in.Fundamentals, calcDate, row)
		}

		for name, v := range row {
			if !mask.Wants(name) {
				continue
			}
			ensure(name)[i] = float32(v)
		}
	}

	for name, col := range cols {
		table.AddColumn(name, col)
	}
	return table, nil
}
