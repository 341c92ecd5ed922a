package factors

import (
	"math"
	"time"
)

// Table is one date's factor values laid out columnar: Stocks is the row
// axis, Columns maps factor name to a value column of equal length. Values
// are float32; NaN encodes "undefined for this stock on this day".
type Table struct {
	Date    time.Time            `msgpack:"date" json:"date"`
	Stocks  []string             `msgpack:"stocks" json:"stocks"`
	Columns map[string][]float32 `msgpack:"columns" json:"columns"`

	index map[string]int
}

// NewTable allocates a table for the given stocks with no columns yet.
func NewTable(date time.Time, stocks []string) *Table {
	return &Table{
		Date:    date,
		Stocks:  stocks,
		Columns: make(map[string][]float32),
	}
}

// Null is the column value for "undefined".
var Null = float32(math.NaN())

// IsNull reports whether v encodes an undefined factor value.
func IsNull(v float32) bool { return v != v }

// AddColumn installs a column; the slice length must equal len(t.Stocks).
func (t *Table) AddColumn(factor string, col []float32) {
	t.Columns[factor] = col
}

// EmptyColumn returns a new all-null column sized to the table.
func (t *Table) EmptyColumn() []float32 {
	col := make([]float32, len(t.Stocks))
	for i := range col {
		col[i] = Null
	}
	return col
}

// RowIndex returns the row position of stock.
func (t *Table) RowIndex(stock string) (int, bool) {
	if t.index == nil {
		t.index = make(map[string]int, len(t.Stocks))
		for i, s := range t.Stocks {
			t.index[s] = i
		}
	}
	i, ok := t.index[stock]
	return i, ok
}

// Value returns the factor value for stock as float64; ok is false when the
// factor column is absent, the stock is unknown, or the value is null.
func (t *Table) Value(stock, factor string) (float64, bool) {
	col, ok := t.Columns[factor]
	if !ok {
		return 0, false
	}
	i, ok := t.RowIndex(stock)
	if !ok || i >= len(col) {
		return 0, false
	}
	v := col[i]
	if IsNull(v) {
		return 0, false
	}
	return float64(v), true
}

// Row returns the non-null factor values of stock as a map, for trade
// snapshots and attribution.
func (t *Table) Row(stock string) map[string]float64 {
	i, ok := t.RowIndex(stock)
	if !ok {
		return nil
	}
	row := make(map[string]float64, len(t.Columns))
	for factor, col := range t.Columns {
		if i < len(col) && !IsNull(col[i]) {
			row[factor] = float64(col[i])
		}
	}
	return row
}

// HasColumns reports whether every named factor has a column.
func (t *Table) HasColumns(factors []string) bool {
	for _, f := range factors {
		if _, ok := t.Columns[f]; !ok {
			return false
		}
	}
	return true
}
