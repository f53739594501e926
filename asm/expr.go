// Copyright 2014-2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package asm

import (
	"errors"
	"fmt"
)

//
// exprOp
//

type exprOp byte

const (
	// attribute operations, applied to a symbol name
	opOffset exprOp = iota
	opSeg
	opType
	opLength
	opSize

	// unary operations
	opUnaryMinus
	opUnaryPlus
	opNot

	// binary operations
	opMultiply
	opDivide
	opModulo
	opShiftLeft
	opShiftRight
	opAdd
	opSubtract
	opAnd
	opXor
	opOr

	// value "operations"
	opNumber
	opIdentifier
	opLocation

	// pseudo-operations (used only during parsing but not stored in expr's)
	opLeftParen
	opRightParen
)

type opdata struct {
	precedence byte
	binary     bool
	symbol     string
	eval       func(a, b int) int
}

var ops = []opdata{
	{9, false, "OFFSET", nil},
	{9, false, "SEG", nil},
	{9, false, "TYPE", nil},
	{9, false, "LENGTH", nil},
	{9, false, "SIZE", nil},

	{8, false, "-", func(a, b int) int { return -a }},
	{8, false, "+", func(a, b int) int { return a }},
	{5, false, "NOT", func(a, b int) int { return ^a }},

	{7, true, "*", func(a, b int) int { return a * b }},
	{7, true, "/", func(a, b int) int { return a / b }},
	{7, true, "MOD", func(a, b int) int { return a % b }},
	{7, true, "SHL", func(a, b int) int { return a << uint(b&31) }},
	{7, true, "SHR", func(a, b int) int { return int(uint32(a) >> uint(b&31)) }},
	{6, true, "+", func(a, b int) int { return a + b }},
	{6, true, "-", func(a, b int) int { return a - b }},
	{4, true, "AND", func(a, b int) int { return a & b }},
	{3, true, "XOR", func(a, b int) int { return a ^ b }},
	{3, true, "OR", func(a, b int) int { return a | b }},

	{0, false, "", nil}, // number
	{0, false, "", nil}, // identifier
	{0, false, "$", nil}, // location

	{0, false, "", nil}, // lparen
	{0, false, "", nil}, // rparen
}

var opWords = map[string]exprOp{
	"OFFSET": opOffset,
	"SEG":    opSeg,
	"TYPE":   opType,
	"LENGTH": opLength,
	"SIZE":   opSize,
	"NOT":    opNot,
	"*":      opMultiply,
	"/":      opDivide,
	"MOD":    opModulo,
	"SHL":    opShiftLeft,
	"SHR":    opShiftRight,
	"AND":    opAnd,
	"XOR":    opXor,
	"OR":     opOr,
}

func (op exprOp) isBinary() bool {
	return ops[op].binary
}

func (op exprOp) isAttribute() bool {
	return op <= opSize
}

func (op exprOp) symbol() string {
	return ops[op].symbol
}

func (op exprOp) isCollapsible() bool {
	return ops[op].precedence > 0
}

// Compare the precedence of 'op' to 'other'. Return true if the shunting
// yard algorithm should cause an expression node collapse. All binary
// operators are left-associative.
func (op exprOp) collapses(other exprOp) bool {
	return ops[op].precedence <= ops[other].precedence
}

//
// expr
//

// An expr represents a single node in an expression tree. The root node
// represents an entire expression.
type expr struct {
	op     exprOp
	number int
	ident  Token
	child0 *expr
	child1 *expr
}

// Return the expression as a postfix notation string.
func (e *expr) String() string {
	switch {
	case e.op == opNumber:
		return fmt.Sprintf("%d", e.number)
	case e.op == opIdentifier:
		return e.ident.Text
	case e.op == opLocation:
		return "$"
	case e.op.isBinary():
		return fmt.Sprintf("%s %s %s", e.child0.String(), e.child1.String(), e.op.symbol())
	default:
		return fmt.Sprintf("%s [%s]", e.child0.String(), e.op.symbol())
	}
}

// An exprEnv supplies symbol values while an expression is evaluated.
type exprEnv interface {
	lookup(name Token) (int, error)
	attribute(op exprOp, name Token) (int, error)
	location() (int, error)
}

var errDivideByZero = errors.New("division by zero in expression")

// Evaluate the expression tree.
func (e *expr) eval(env exprEnv) (int, error) {
	switch {
	case e.op == opNumber:
		return e.number, nil
	case e.op == opIdentifier:
		return env.lookup(e.ident)
	case e.op == opLocation:
		return env.location()
	case e.op.isAttribute():
		return env.attribute(e.op, e.child0.ident)
	}

	a, err := e.child0.eval(env)
	if err != nil {
		return 0, err
	}
	if !e.op.isBinary() {
		return ops[e.op].eval(a, 0), nil
	}

	b, err := e.child1.eval(env)
	if err != nil {
		return 0, err
	}
	if (e.op == opDivide || e.op == opModulo) && b == 0 {
		return 0, errDivideByZero
	}
	return ops[e.op].eval(a, b), nil
}

//
// exprParser
//

type exprParser struct {
	operandStack  exprStack
	operatorStack opStack
	parenCounter  int
	prevValue     bool // previous token was a value or ')'
}

// Parse an expression from a token sequence using Dijkstra's
// shunting-yard algorithm.
func parseExpr(toks []Token) (*expr, *Error) {
	var p exprParser
	return p.parse(toks)
}

func (p *exprParser) parse(toks []Token) (*expr, *Error) {
	if len(toks) == 0 {
		return nil, &Error{Kind: ParseError, Message: "missing expression"}
	}

	for _, t := range toks {
		if err := p.parseToken(t); err != nil {
			return nil, err
		}
	}

	last := toks[len(toks)-1]
	if p.parenCounter > 0 {
		return nil, exprError(last, "mismatched parentheses")
	}

	// Collapse any operators (and operands) remaining on the stack
	for !p.operatorStack.empty() {
		if err := p.operandStack.collapse(p.operatorStack.pop()); err != nil {
			return nil, exprError(last, "expression syntax error")
		}
	}

	if len(p.operandStack.data) != 1 {
		return nil, exprError(toks[0], "expression syntax error")
	}
	return p.operandStack.peek(), nil
}

func (p *exprParser) parseToken(t Token) *Error {
	switch {
	case t.Kind == Number:
		v, err := t.Number()
		if err != nil {
			return exprError(t, "%v", err)
		}
		return p.pushValue(t, &expr{op: opNumber, number: v})

	case t.Kind == String:
		if len(t.Text) == 0 || len(t.Text) > 2 {
			return exprError(t, "string '%s' cannot be used as a number", t.Text)
		}
		v := 0
		for i := 0; i < len(t.Text); i++ {
			v = v<<8 | int(t.Text[i])
		}
		return p.pushValue(t, &expr{op: opNumber, number: v})

	case t.Kind == Identifier:
		return p.pushValue(t, &expr{op: opIdentifier, ident: t})

	case t.IsOp("$"):
		return p.pushValue(t, &expr{op: opLocation})

	case t.IsOp("("):
		if p.prevValue {
			return exprError(t, "expression syntax error")
		}
		p.parenCounter++
		p.operatorStack.push(opLeftParen)
		return nil

	case t.IsOp(")"):
		if p.parenCounter == 0 {
			return exprError(t, "mismatched parentheses")
		}
		p.parenCounter--
		for {
			op := p.operatorStack.pop()
			if op == opLeftParen {
				break
			}
			if err := p.operandStack.collapse(op); err != nil {
				return exprError(t, "expression syntax error")
			}
		}
		p.prevValue = true
		return nil

	case t.IsOp("+") || t.IsOp("-"):
		switch {
		case p.prevValue && t.Text == "+":
			return p.pushOp(t, opAdd)
		case p.prevValue:
			return p.pushOp(t, opSubtract)
		case t.Text == "+":
			return p.pushOp(t, opUnaryPlus)
		default:
			return p.pushOp(t, opUnaryMinus)
		}

	case t.Kind == Operator || t.Kind == Mnemonic:
		if op, ok := opWords[t.Upper()]; ok {
			return p.pushOp(t, op)
		}
	}

	if t.Kind == Register {
		return exprError(t, "register '%s' cannot be used in an expression", t.Text)
	}
	return exprError(t, "unexpected '%s' in expression", t.Text)
}

func (p *exprParser) pushValue(t Token, e *expr) *Error {
	if p.prevValue {
		return exprError(t, "expression syntax error")
	}
	p.operandStack.push(e)
	p.prevValue = true
	return nil
}

func (p *exprParser) pushOp(t Token, op exprOp) *Error {
	if op.isBinary() {
		if !p.prevValue {
			return exprError(t, "expression syntax error")
		}
		for !p.operatorStack.empty() && op.collapses(p.operatorStack.peek()) {
			if err := p.operandStack.collapse(p.operatorStack.pop()); err != nil {
				return exprError(t, "expression syntax error")
			}
		}
	} else if p.prevValue {
		return exprError(t, "expression syntax error")
	}
	p.operatorStack.push(op)
	p.prevValue = false
	return nil
}

func exprError(t Token, format string, args ...any) *Error {
	return &Error{
		Kind:    ParseError,
		Line:    t.Line,
		Column:  t.Column,
		Message: fmt.Sprintf(format, args...),
	}
}

//
// exprStack
//

type exprStack struct {
	data []*expr
}

func (s *exprStack) empty() bool {
	return len(s.data) == 0
}

func (s *exprStack) push(e *expr) {
	s.data = append(s.data, e)
}

func (s *exprStack) pop() *expr {
	l := len(s.data)
	e := s.data[l-1]
	s.data = s.data[:l-1]
	return e
}

func (s *exprStack) peek() *expr {
	if len(s.data) == 0 {
		return nil
	}
	return s.data[len(s.data)-1]
}

// Collapse one or more expression nodes on the top of the stack into a
// combined expression node, and push the combined node back onto the
// stack.
func (s *exprStack) collapse(op exprOp) error {
	switch {
	case !op.isCollapsible():
		return errParse
	case op.isBinary():
		if len(s.data) < 2 {
			return errParse
		}
		s.push(&expr{op: op, child1: s.pop(), child0: s.pop()})
	case op.isAttribute():
		if s.empty() || s.peek().op != opIdentifier {
			return errParse
		}
		s.push(&expr{op: op, child0: s.pop()})
	default:
		if s.empty() {
			return errParse
		}
		s.push(&expr{op: op, child0: s.pop()})
	}
	return nil
}

//
// opStack
//

type opStack struct {
	data []exprOp
}

func (s *opStack) push(op exprOp) {
	s.data = append(s.data, op)
}

func (s *opStack) pop() exprOp {
	op := s.data[len(s.data)-1]
	s.data = s.data[0 : len(s.data)-1]
	return op
}

func (s *opStack) empty() bool {
	return len(s.data) == 0
}

func (s *opStack) peek() exprOp {
	return s.data[len(s.data)-1]
}
