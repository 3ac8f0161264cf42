package dsp

import (
	"strconv"
	"strings"

	"github.com/patrickmn/go-cache"
)

// exprCache holds compiled disable-expressions keyed by their source
// text, so a description shared across many devices (or re-parsed across
// graph mutations) only pays the parse cost once per distinct
// expression. No expiration: the set of distinct expressions in any one
// description is small and fixed for the process lifetime.
var exprCache = cache.New(cache.NoExpiration, 0)

// exprKind distinguishes the small set of node shapes the disable
// language supports.
type exprKind int

const (
	exprIdent exprKind = iota
	exprNumber
	exprNot
	exprCmp
	exprAnd
	exprOr
)

// expr is a tiny boolean/comparison expression tree over scalar
// environment variables (§4.D: "evaluate its disable-expression against
// the current expression-environment (scalar key → value)").
type expr struct {
	kind  exprKind
	ident string
	num   float64
	op    string // for exprCmp: =="=="|"!="|"<"|">"|"<="|">="
	a, b  *expr
}

// compileDisable parses and caches p.Disable, or returns nil if the
// plugin has no disable-expression (always enabled).
func compileDisable(text string) *expr {
	if text == "" {
		return nil
	}
	if cached, ok := exprCache.Get(text); ok {
		return cached.(*expr)
	}
	e := parseExpr(text)
	exprCache.Set(text, e, cache.NoExpiration)
	return e
}

// eval evaluates e against env, treating any identifier missing from env
// as false (0), per the open design decision to never hard-fail a block
// on an unset scalar.
func (e *expr) eval(env map[string]float64) bool {
	if e == nil {
		return false
	}
	switch e.kind {
	case exprIdent:
		return env[e.ident] != 0
	case exprNumber:
		return e.num != 0
	case exprNot:
		return !e.a.eval(env)
	case exprAnd:
		return e.a.eval(env) && e.b.eval(env)
	case exprOr:
		return e.a.eval(env) || e.b.eval(env)
	case exprCmp:
		return evalCmp(e.op, e.a.value(env), e.b.value(env))
	}
	return false
}

// value returns a leaf node's numeric value, 0 for an unset identifier.
func (e *expr) value(env map[string]float64) float64 {
	switch e.kind {
	case exprIdent:
		return env[e.ident]
	case exprNumber:
		return e.num
	default:
		if e.eval(env) {
			return 1
		}
		return 0
	}
}

func evalCmp(op string, a, b float64) bool {
	switch op {
	case "==":
		return a == b
	case "!=":
		return a != b
	case "<":
		return a < b
	case ">":
		return a > b
	case "<=":
		return a <= b
	case ">=":
		return a >= b
	default:
		return false
	}
}

// parseExpr is a small recursive-descent parser for:
//
//	expr := or
//	or    := and ('||' and)*
//	and   := cmp ('&&' cmp)*
//	cmp   := unary (('=='|'!='|'<='|'>='|'<'|'>') unary)?
//	unary := '!' unary | primary
//	primary := NUMBER | IDENT | '(' expr ')'
//
// A malformed expression degrades to a single identifier read from the
// raw text (still a valid, if probably-false, leaf), since a disable-
// expression is data supplied by a description file, not a failure path
// worth propagating an error through the plugin graph for.
func parseExpr(text string) *expr {
	p := &exprParser{toks: tokenize(text)}
	e := p.parseOr()
	return e
}

type exprParser struct {
	toks []string
	pos  int
}

func (p *exprParser) peek() string {
	if p.pos >= len(p.toks) {
		return ""
	}
	return p.toks[p.pos]
}

func (p *exprParser) next() string {
	t := p.peek()
	p.pos++
	return t
}

func (p *exprParser) parseOr() *expr {
	left := p.parseAnd()
	for p.peek() == "||" {
		p.next()
		right := p.parseAnd()
		left = &expr{kind: exprOr, a: left, b: right}
	}
	return left
}

func (p *exprParser) parseAnd() *expr {
	left := p.parseCmp()
	for p.peek() == "&&" {
		p.next()
		right := p.parseCmp()
		left = &expr{kind: exprAnd, a: left, b: right}
	}
	return left
}

func (p *exprParser) parseCmp() *expr {
	left := p.parseUnary()
	switch p.peek() {
	case "==", "!=", "<", ">", "<=", ">=":
		op := p.next()
		right := p.parseUnary()
		return &expr{kind: exprCmp, op: op, a: left, b: right}
	}
	return left
}

func (p *exprParser) parseUnary() *expr {
	if p.peek() == "!" {
		p.next()
		return &expr{kind: exprNot, a: p.parseUnary()}
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() *expr {
	tok := p.next()
	if tok == "(" {
		e := p.parseOr()
		if p.peek() == ")" {
			p.next()
		}
		return e
	}
	if n, err := strconv.ParseFloat(tok, 64); err == nil {
		return &expr{kind: exprNumber, num: n}
	}
	return &expr{kind: exprIdent, ident: tok}
}

// tokenize splits a disable-expression into identifiers, numbers, and
// the small fixed operator set, treating any run of non-space,
// non-operator characters as a single identifier token.
func tokenize(text string) []string {
	var toks []string
	i := 0
	runes := []rune(text)
	two := map[string]bool{"==": true, "!=": true, "<=": true, ">=": true, "&&": true, "||": true}
	for i < len(runes) {
		c := runes[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case strings.ContainsRune("()!<>=&|", c):
			if i+1 < len(runes) && two[string(runes[i:i+2])] {
				toks = append(toks, string(runes[i:i+2]))
				i += 2
			} else {
				toks = append(toks, string(c))
				i++
			}
		default:
			j := i
			for j < len(runes) && !strings.ContainsRune(" \t()!<>=&|", runes[j]) {
				j++
			}
			toks = append(toks, string(runes[i:j]))
			i = j
		}
	}
	return toks
}
