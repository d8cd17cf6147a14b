// Package expr implements the formula language used by expression
// variables: arithmetic over named inputs with a small set of unary
// math functions.
//
// Formulas are parsed once at validation time into an Expr tree and
// evaluated per tick against a bindings map. Evaluation is pure: the
// same bindings always produce the same result.
package expr

import (
	"fmt"
	"strconv"
)

// Operator precedence levels, lowest first.
const (
	precLowest  = iota
	precSum     // + -
	precProduct // * /
	precPrefix  // -x
	precPower   // ^ (right-associative)
	precCall    // fn(x)
)

var precedences = map[TokenType]int{
	tokenPlus:     precSum,
	tokenMinus:    precSum,
	tokenAsterisk: precProduct,
	tokenSlash:    precProduct,
	tokenCaret:    precPower,
	tokenLParen:   precCall,
}

// node is one vertex of a parsed formula tree.
type node struct {
	kind  nodeKind
	num   float64 // literal
	name  string  // identifier or function name
	op    TokenType
	left  *node
	right *node
	arg   *node // call argument
}

type nodeKind int

const (
	nodeNumber nodeKind = iota
	nodeIdent
	nodePrefix
	nodeInfix
	nodeCall
)

// Expr is a compiled formula ready for repeated evaluation.
type Expr struct {
	src  string
	root *node
	vars []string
}

// String returns the original formula source.
func (e *Expr) String() string { return e.src }

// Vars returns the identifiers referenced by the formula, in first-use
// order. Function names are not included.
func (e *Expr) Vars() []string { return e.vars }

// Parse compiles a formula. It fails with *Error (code SyntaxError) on
// malformed input; unknown symbols and functions are only detectable at
// evaluation time, when bindings are known.
func Parse(formula string) (*Expr, error) {
	p := &parser{l: NewLexer(formula)}
	p.advance()
	p.advance()

	root := p.parseExpression(precLowest)
	if p.err != nil {
		return nil, p.err
	}
	if p.cur.Type != tokenEOF {
		return nil, &Error{Code: SyntaxError, Pos: p.cur.Pos, Message: fmt.Sprintf("unexpected %q", p.cur.Literal)}
	}

	e := &Expr{src: formula, root: root}
	collectVars(root, &e.vars, map[string]bool{})
	return e, nil
}

type parser struct {
	l    *Lexer
	cur  Token
	peek Token
	err  *Error
}

func (p *parser) advance() {
	p.cur = p.peek
	p.peek = p.l.NextToken()
}

func (p *parser) fail(pos int, format string, args ...any) *node {
	if p.err == nil {
		p.err = &Error{Code: SyntaxError, Pos: pos, Message: fmt.Sprintf(format, args...)}
	}
	return nil
}

func (p *parser) parseExpression(precedence int) *node {
	left := p.parsePrefix()
	if left == nil {
		return nil
	}

	for p.err == nil && precedence < p.curPrecedence() {
		left = p.parseInfix(left)
		if left == nil {
			return nil
		}
	}
	return left
}

func (p *parser) parsePrefix() *node {
	switch p.cur.Type {
	case tokenNumber:
		v, err := strconv.ParseFloat(p.cur.Literal, 64)
		if err != nil {
			return p.fail(p.cur.Pos, "bad number %q", p.cur.Literal)
		}
		n := &node{kind: nodeNumber, num: v}
		p.advance()
		return n

	case tokenIdent:
		name := p.cur.Literal
		pos := p.cur.Pos
		p.advance()
		if p.cur.Type == tokenLParen {
			return p.parseCall(name, pos)
		}
		return &node{kind: nodeIdent, name: name}

	case tokenMinus:
		p.advance()
		operand := p.parseExpression(precPrefix)
		if operand == nil {
			return nil
		}
		return &node{kind: nodePrefix, op: tokenMinus, right: operand}

	case tokenLParen:
		p.advance()
		inner := p.parseExpression(precLowest)
		if inner == nil {
			return nil
		}
		if p.cur.Type != tokenRParen {
			return p.fail(p.cur.Pos, "expected ), got %q", p.cur.Literal)
		}
		p.advance()
		return inner

	case tokenEOF:
		return p.fail(p.cur.Pos, "unexpected end of formula")

	default:
		return p.fail(p.cur.Pos, "unexpected %q", p.cur.Literal)
	}
}

func (p *parser) parseInfix(left *node) *node {
	op := p.cur.Type
	prec := p.curPrecedence()
	p.advance()

	// Exponentiation binds right: a^b^c == a^(b^c).
	if op == tokenCaret {
		prec--
	}

	right := p.parseExpression(prec)
	if right == nil {
		return nil
	}
	return &node{kind: nodeInfix, op: op, left: left, right: right}
}

func (p *parser) parseCall(name string, pos int) *node {
	// cur is "(" on entry.
	p.advance()
	arg := p.parseExpression(precLowest)
	if arg == nil {
		return nil
	}
	if p.cur.Type != tokenRParen {
		return p.fail(p.cur.Pos, "expected ) after argument of %s", name)
	}
	p.advance()

	if _, ok := functions[name]; !ok {
		return p.fail(pos, "unknown function %q", name)
	}
	return &node{kind: nodeCall, name: name, arg: arg}
}

func (p *parser) curPrecedence() int {
	if prec, ok := precedences[p.cur.Type]; ok {
		return prec
	}
	return precLowest
}

func collectVars(n *node, out *[]string, seen map[string]bool) {
	if n == nil {
		return
	}
	if n.kind == nodeIdent && !seen[n.name] {
		seen[n.name] = true
		*out = append(*out, n.name)
	}
	collectVars(n.left, out, seen)
	collectVars(n.right, out, seen)
	collectVars(n.arg, out, seen)
}
