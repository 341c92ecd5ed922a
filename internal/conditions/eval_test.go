package conditions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crucial-sub/stocklab/internal/domain"
	"github.com/crucial-sub/stocklab/internal/factors"
)

func testTable() *factors.Table {
	t := factors.NewTable(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		[]string{"000100", "000200", "000300", "000400"})
	t.AddColumn("PER", []float32{5, 15, 8, factors.Null})
	t.AddColumn("ROE", []float32{12, 20, 3, 25})
	t.AddColumn("MOMENTUM_3M", []float32{0.1, factors.Null, 0.3, 0.2})
	return t
}

func cond(id, factor, op string, value interface{}) domain.Condition {
	return domain.Condition{ID: id, Factor: factor, Operator: op, Value: value}
}

func TestParseRejectsUnsafe(t *testing.T) {
	bad := []string{
		"A + B",
		"A.and(B)",
		"f(A)",
		"A and",
		"(A or B",
		"A B",
		"A == B",
		"",
		"A; drop",
	}
	for _, expr := range bad {
		_, err := Parse(expr)
		assert.Error(t, err, expr)
	}
}

func TestParseGrammar(t *testing.T) {
	good := []string{"A", "A and B", "(A and B) or C", "not A", "not (A or B) and C", "1 and 2"}
	for _, expr := range good {
		_, err := Parse(expr)
		assert.NoError(t, err, expr)
	}
}

func TestMatchesExpression(t *testing.T) {
	eval, err := Compile(&domain.Expression{
		Expression: "(A and B) or C",
		Conditions: []domain.Condition{
			cond("A", "PER", "<", 10.0),
			cond("B", "ROE", ">", 10.0),
			cond("C", "MOMENTUM_3M", ">=", 0.25),
		},
	}, nil)
	require.NoError(t, err)

	got, err := eval.Matches(testTable())
	require.NoError(t, err)
	// 000100: A(5<10) and B(12>10) -> true.
	// 000200: A false -> C null -> false.
	// 000300: A true, B false; C(0.3>=0.25) -> true.
	// 000400: A null -> false; C(0.2) false.
	assert.Equal(t, []string{"000100", "000300"}, got)
}

func TestNullFailsAtomUnderNot(t *testing.T) {
	// not A over a null PER: the atom is false, so "not A" is true.
	eval, err := Compile(&domain.Expression{
		Expression: "not A",
		Conditions: []domain.Condition{cond("A", "PER", ">", 0.0)},
	}, nil)
	require.NoError(t, err)
	got, err := eval.Matches(testTable())
	require.NoError(t, err)
	assert.Equal(t, []string{"000400"}, got)
}

func TestFlatConditionsAreANDJoined(t *testing.T) {
	eval, err := Compile(nil, []domain.Condition{
		cond("A", "PER", "<", 10.0),
		cond("B", "ROE", ">", 10.0),
	})
	require.NoError(t, err)
	got, err := eval.Matches(testTable())
	require.NoError(t, err)
	assert.Equal(t, []string{"000100"}, got)
}

func TestOperators(t *testing.T) {
	table := testTable()
	tests := []struct {
		c    domain.Condition
		want []string
	}{
		{cond("X", "PER", "BETWEEN", []interface{}{5.0, 8.0}), []string{"000100", "000300"}},
		{cond("X", "PER", "IN", []interface{}{5.0, 15.0}), []string{"000100", "000200"}},
		{cond("X", "PER", "NOT_IN", []interface{}{5.0}), []string{"000200", "000300"}}, // null still fails
		{cond("X", "PER", "==", 8.0), []string{"000300"}},
		{cond("X", "PER", "!=", 8.0), []string{"000100", "000200"}},
		{cond("X", "PER", "<=", 8.0), []string{"000100", "000300"}},
	}
	for _, tt := range tests {
		eval, err := Compile(nil, []domain.Condition{tt.c})
		require.NoError(t, err)
		got, err := eval.Matches(table)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s %v", tt.c.Operator, tt.c.Value)
	}
}

func TestCompileErrors(t *testing.T) {
	_, err := Compile(nil, nil)
	assert.Error(t, err)

	_, err = Compile(&domain.Expression{Expression: "A and Z",
		Conditions: []domain.Condition{cond("A", "PER", "<", 1.0)}}, nil)
	assert.Error(t, err, "unknown id must be rejected")

	_, err = Compile(nil, []domain.Condition{cond("A", "PER", "~~", 1.0)})
	assert.Error(t, err)

	_, err = Compile(nil, []domain.Condition{cond("A", "PER", "BETWEEN", []interface{}{1.0})})
	assert.Error(t, err)
}

func TestMatchesStock(t *testing.T) {
	eval, err := Compile(nil, []domain.Condition{cond("A", "ROE", ">", 15.0)})
	require.NoError(t, err)
	table := testTable()

	got, err := eval.MatchesStock(table, "000200")
	require.NoError(t, err)
	assert.True(t, got)

	got, err = eval.MatchesStock(table, "000100")
	require.NoError(t, err)
	assert.False(t, got)

	got, err = eval.MatchesStock(table, "999999")
	require.NoError(t, err)
	assert.False(t, got, "unknown stock fails quietly")
}

func TestRank(t *testing.T) {
	table := testTable()
	cands := []string{"000400", "000300", "000200", "000100"}

	asc := Rank(table, cands, "PER", "asc")
	// PER: 000100=5, 000300=8, 000200=15, 000400=null(last)
	assert.Equal(t, []string{"000100", "000300", "000200", "000400"}, asc)

	desc := Rank(table, cands, "PER", "desc")
	assert.Equal(t, []string{"000200", "000300", "000100", "000400"}, desc)

	byCode := Rank(table, cands, "", "")
	assert.Equal(t, []string{"000100", "000200", "000300", "000400"}, byCode)
}

func TestRankTieBreaksByCode(t *testing.T) {
	table := factors.NewTable(time.Now(), []string{"B", "A", "C"})
	table.AddColumn("ROE", []float32{10, 10, 10})
	got := Rank(table, []string{"B", "A", "C"}, "ROE", "desc")
	assert.Equal(t, []string{"A", "B", "C"}, got)
}

func TestEvaluatorFactors(t *testing.T) {
	eval, err := Compile(nil, []domain.Condition{
		cond("A", "PER", "<", 1.0),
		cond("B", "ROE", ">", 1.0),
		cond("C", "PER", ">", 0.0),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"PER", "ROE"}, eval.Factors())
}
