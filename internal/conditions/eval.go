package conditions

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/crucial-sub/stocklab/internal/domain"
	"github.com/crucial-sub/stocklab/internal/errs"
	"github.com/crucial-sub/stocklab/internal/factors"
)

// Evaluator is a compiled selection predicate: a parsed expression over
// atomic conditions, evaluated vectorised against a factor table.
type Evaluator struct {
	tree  Node
	conds map[string]domain.Condition
	preds map[string]predicate
}

// Compile builds an evaluator from either an expression object or a flat
// condition list (flat lists are AND-joined, matching legacy requests).
func Compile(expr *domain.Expression, flat []domain.Condition) (*Evaluator, error) {
	conds := make(map[string]domain.Condition)
	var tree Node

	switch {
	case expr != nil:
		for _, c := range expr.Conditions {
			conds[c.ID] = c
		}
		parsed, err := Parse(expr.Expression)
		if err != nil {
			return nil, err
		}
		for _, id := range Idents(parsed) {
			if _, ok := conds[id]; !ok {
				return nil, errs.Validation("expression references unknown condition id %q", id)
			}
		}
		tree = parsed
	case len(flat) > 0:
		children := make([]Node, 0, len(flat))
		for i, c := range flat {
			if c.ID == "" {
				c.ID = fmt.Sprintf("c%d", i)
			}
			conds[c.ID] = c
			children = append(children, identNode{id: c.ID})
		}
		if len(children) == 1 {
			tree = children[0]
		} else {
			tree = andNode{children: children}
		}
	default:
		return nil, errs.Validation("no conditions supplied")
	}

	preds := make(map[string]predicate, len(conds))
	for id, c := range conds {
		if c.Factor == "" {
			return nil, errs.Validation("condition %q has no factor", id)
		}
		pred, err := compileOp(c)
		if err != nil {
			return nil, err
		}
		preds[id] = pred
	}
	return &Evaluator{tree: tree, conds: conds, preds: preds}, nil
}

// predicate tests one factor value. Null (NaN) values fail every operator.
type predicate func(v float64) bool

func compileOp(c domain.Condition) (predicate, error) {
	op := strings.ToUpper(strings.TrimSpace(c.Operator))
	switch op {
	case "<", "<=", ">", ">=", "==", "!=":
		val, err := toFloat(c.Value)
		if err != nil {
			return nil, errs.Validation("condition %q: %v", c.ID, err)
		}
		switch op {
		case "<":
			return func(v float64) bool { return v < val }, nil
		case "<=":
			return func(v float64) bool { return v <= val }, nil
		case ">":
			return func(v float64) bool { return v > val }, nil
		case ">=":
			return func(v float64) bool { return v >= val }, nil
		case "==":
			return func(v float64) bool { return v == val }, nil
		default:
			return func(v float64) bool { return v != val }, nil
		}
	case "BETWEEN":
		bounds, err := toFloatList(c.Value)
		if err != nil || len(bounds) != 2 {
			return nil, errs.Validation("condition %q: BETWEEN needs a 2-element list", c.ID)
		}
		lo, hi := bounds[0], bounds[1]
		return func(v float64) bool { return v >= lo && v <= hi }, nil
	case "IN", "NOT_IN":
		vals, err := toFloatList(c.Value)
		if err != nil {
			return nil, errs.Validation("condition %q: %s needs a list", c.ID, op)
		}
		in := func(v float64) bool {
			for _, x := range vals {
				if v == x {
					return true
				}
			}
			return false
		}
		if op == "IN" {
			return in, nil
		}
		return func(v float64) bool { return !in(v) }, nil
	default:
		return nil, errs.Validation("condition %q: unknown operator %q", c.ID, c.Operator)
	}
}

func toFloat(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, fmt.Errorf("non-numeric value %q", t)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("non-numeric value %v", v)
	}
}

func toFloatList(v interface{}) ([]float64, error) {
	list, ok := v.([]interface{})
	if !ok {
		if fl, ok := v.([]float64); ok {
			return fl, nil
		}
		return nil, fmt.Errorf("expected list, got %T", v)
	}
	out := make([]float64, 0, len(list))
	for _, item := range list {
		f, err := toFloat(item)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// Matches evaluates the expression for every row of the table and returns the
// stocks where it holds. Each atomic condition becomes a boolean column
// computed in one pass; the tree then reduces the columns row by row.
func (e *Evaluator) Matches(table *factors.Table) ([]string, error) {
	nRows := len(table.Stocks)
	atomCols := make(map[string][]bool, len(e.conds))
	for id, c := range e.conds {
		pred := e.preds[id]
		col := make([]bool, nRows)
		factorCol, hasFactor := table.Columns[c.Factor]
		if hasFactor {
			for i := 0; i < nRows; i++ {
				v := factorCol[i]
				if factors.IsNull(v) {
					continue // null fails the atom
				}
				col[i] = pred(float64(v))
			}
		}
		atomCols[id] = col
	}

	var out []string
	for i := 0; i < nRows; i++ {
		ok := e.tree.eval(func(id string) bool {
			col, present := atomCols[id]
			return present && col[i]
		})
		if ok {
			out = append(out, table.Stocks[i])
		}
	}
	return out, nil
}

// MatchesStock evaluates the expression for a single held stock (sell-
// condition path).
func (e *Evaluator) MatchesStock(table *factors.Table, stock string) (bool, error) {
	if _, ok := table.RowIndex(stock); !ok {
		return false, nil
	}
	result := e.tree.eval(func(id string) bool {
		c, present := e.conds[id]
		if !present {
			return false
		}
		v, ok := table.Value(stock, c.Factor)
		if !ok {
			return false
		}
		return e.preds[id](v)
	})
	return result, nil
}

// Factors returns the factor names the evaluator's conditions reference.
func (e *Evaluator) Factors() []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range e.conds {
		if !seen[c.Factor] {
			seen[c.Factor] = true
			out = append(out, c.Factor)
		}
	}
	sort.Strings(out)
	return out
}

// Rank orders candidates by the priority factor. Ascending puts smaller
// values first; null priority values rank last; ties break by stock code.
// An empty priority factor sorts by stock code alone.
func Rank(table *factors.Table, candidates []string, priorityFactor, order string) []string {
	ranked := append([]string(nil), candidates...)
	desc := order == "desc"
	sort.SliceStable(ranked, func(i, j int) bool {
		if priorityFactor == "" {
			return ranked[i] < ranked[j]
		}
		vi, oki := table.Value(ranked[i], priorityFactor)
		vj, okj := table.Value(ranked[j], priorityFactor)
		if oki != okj {
			return oki // non-null before null
		}
		if !oki {
			return ranked[i] < ranked[j]
		}
		if vi == vj || math.IsNaN(vi) || math.IsNaN(vj) {
			return ranked[i] < ranked[j]
		}
		if desc {
			return vi > vj
		}
		return vi < vj
	})
	return ranked
}
