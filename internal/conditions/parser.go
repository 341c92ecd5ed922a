// Package conditions compiles user-supplied boolean factor expressions into
// selection predicates evaluated over per-date factor tables.
//
// Grammar (whitelist, everything else is rejected):
//
//	Expr := Or
//	Or   := And ('or' And)*
//	And  := Not ('and' Not)*
//	Not  := 'not' Not | Atom
//	Atom := IDENT | '(' Expr ')'
package conditions

import (
	"strings"
	"unicode"

	"github.com/crucial-sub/stocklab/internal/errs"
)

// Node is a parsed expression tree node.
type Node interface {
	eval(binding func(id string) bool) bool
}

type identNode struct{ id string }
type notNode struct{ child Node }
type andNode struct{ children []Node }
type orNode struct{ children []Node }

func (n identNode) eval(b func(string) bool) bool { return b(n.id) }
func (n notNode) eval(b func(string) bool) bool   { return !n.child.eval(b) }

func (n andNode) eval(b func(string) bool) bool {
	for _, c := range n.children {
		if !c.eval(b) {
			return false
		}
	}
	return true
}

func (n orNode) eval(b func(string) bool) bool {
	for _, c := range n.children {
		if c.eval(b) {
			return true
		}
	}
	return false
}

type token struct {
	kind string // ident, lparen, rparen, and, or, not
	text string
}

func tokenize(expr string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(expr) {
		c := rune(expr[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(':
			toks = append(toks, token{kind: "lparen"})
			i++
		case c == ')':
			toks = append(toks, token{kind: "rparen"})
			i++
		case unicode.IsLetter(c) || c == '_':
			j := i
			for j < len(expr) && (isIdentRune(rune(expr[j]))) {
				j++
			}
			word := expr[i:j]
			switch strings.ToLower(word) {
			case "and":
				toks = append(toks, token{kind: "and"})
			case "or":
				toks = append(toks, token{kind: "or"})
			case "not":
				toks = append(toks, token{kind: "not"})
			default:
				toks = append(toks, token{kind: "ident", text: word})
			}
			i = j
		case unicode.IsDigit(c):
			// Condition ids may be plain numbers ("1 and 2").
			j := i
			for j < len(expr) && isIdentRune(rune(expr[j])) {
				j++
			}
			toks = append(toks, token{kind: "ident", text: expr[i:j]})
			i = j
		default:
			// Arithmetic, attribute access, calls: all outside the grammar.
			return nil, errs.Validation("invalid character %q in expression", string(c))
		}
	}
	return toks, nil
}

func isIdentRune(c rune) bool {
	return unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_'
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) next() (token, bool) {
	t, ok := p.peek()
	if ok {
		p.pos++
	}
	return t, ok
}

// Parse compiles an expression into a Node, rejecting anything outside the
// grammar with a VALIDATION error.
func Parse(expr string) (Node, error) {
	toks, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, errs.Validation("empty expression")
	}
	p := &parser{toks: toks}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t, ok := p.peek(); ok {
		return nil, errs.Validation("unexpected token %q after expression", tokenText(t))
	}
	return node, nil
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	children := []Node{left}
	for {
		t, ok := p.peek()
		if !ok || t.kind != "or" {
			break
		}
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		children = append(children, right)
	}
	if len(children) == 1 {
		return left, nil
	}
	return orNode{children: children}, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	children := []Node{left}
	for {
		t, ok := p.peek()
		if !ok || t.kind != "and" {
			break
		}
		p.pos++
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		children = append(children, right)
	}
	if len(children) == 1 {
		return left, nil
	}
	return andNode{children: children}, nil
}

func (p *parser) parseNot() (Node, error) {
	if t, ok := p.peek(); ok && t.kind == "not" {
		p.pos++
		child, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return notNode{child: child}, nil
	}
	return p.parseAtom()
}

func (p *parser) parseAtom() (Node, error) {
	t, ok := p.next()
	if !ok {
		return nil, errs.Validation("unexpected end of expression")
	}
	switch t.kind {
	case "ident":
		return identNode{id: t.text}, nil
	case "lparen":
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		closing, ok := p.next()
		if !ok || closing.kind != "rparen" {
			return nil, errs.Validation("missing closing parenthesis")
		}
		return inner, nil
	default:
		return nil, errs.Validation("unexpected token %q", tokenText(t))
	}
}

func tokenText(t token) string {
	if t.text != "" {
		return t.text
	}
	switch t.kind {
	case "lparen":
		return "("
	case "rparen":
		return ")"
	default:
		return t.kind
	}
}

// Idents returns the condition ids referenced by the tree.
func Idents(n Node) []string {
	seen := map[string]bool{}
	var out []string
	var walk func(Node)
	walk = func(n Node) {
		switch t := n.(type) {
		case identNode:
			if !seen[t.id] {
				seen[t.id] = true
				out = append(out, t.id)
			}
		case notNode:
			walk(t.child)
		case andNode:
			for _, c := range t.children {
				walk(c)
			}
		case orNode:
			for _, c := range t.children {
				walk(c)
			}
		}
	}
	walk(n)
	return out
}
