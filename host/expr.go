// Copyright 2018-2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package host

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/beevik/go8086/cpu"
)

var (
	errExprParse    = errors.New("expression syntax error")
	errDivideByZero = errors.New("division by zero")
)

type opType byte

const (
	opNil opType = iota
	opMultiply
	opDivide
	opModulo
	opAdd
	opSubtract
	opShiftLeft
	opShiftRight
	opBitwiseAnd
	opBitwiseXor
	opBitwiseOr
	opSegment
	opBitwiseNot
	opUnaryMinus
	opUnaryPlus
)

type associativity byte

const (
	left associativity = iota
	right
)

type op struct {
	Symbol     string
	Precedence byte
	Assoc      associativity
	Args       byte
	UnaryOp    opType
	Eval       func(a, b int64) (int64, error)
}

// Indexed by opType. The segment operator binds loosest, so "DS:BX+2"
// addresses DS:(BX+2).
var ops = [...]op{
	opNil:        {},
	opMultiply:   {"*", 7, left, 2, opNil, func(a, b int64) (int64, error) { return a * b, nil }},
	opDivide:     {"/", 7, left, 2, opNil, divide},
	opModulo:     {"%", 7, left, 2, opNil, modulo},
	opAdd:        {"+", 6, left, 2, opUnaryPlus, func(a, b int64) (int64, error) { return a + b, nil }},
	opSubtract:   {"-", 6, left, 2, opUnaryMinus, func(a, b int64) (int64, error) { return a - b, nil }},
	opShiftLeft:  {"<<", 5, left, 2, opNil, func(a, b int64) (int64, error) { return a << uint32(b), nil }},
	opShiftRight: {">>", 5, left, 2, opNil, func(a, b int64) (int64, error) { return a >> uint32(b), nil }},
	opBitwiseAnd: {"&", 4, left, 2, opNil, func(a, b int64) (int64, error) { return a & b, nil }},
	opBitwiseXor: {"^", 3, left, 2, opNil, func(a, b int64) (int64, error) { return a ^ b, nil }},
	opBitwiseOr:  {"|", 2, left, 2, opNil, func(a, b int64) (int64, error) { return a | b, nil }},
	opSegment:    {":", 1, left, 2, opNil, segmentAddress},
	opBitwiseNot: {"~", 8, right, 1, opNil, func(a, _ int64) (int64, error) { return ^a, nil }},
	opUnaryMinus: {"-", 8, right, 1, opNil, func(a, _ int64) (int64, error) { return -a, nil }},
	opUnaryPlus:  {"+", 8, right, 1, opNil, func(a, _ int64) (int64, error) { return a, nil }},
}

func divide(a, b int64) (int64, error) {
	if b == 0 {
		return 0, errDivideByZero
	}
	return a / b, nil
}

func modulo(a, b int64) (int64, error) {
	if b == 0 {
		return 0, errDivideByZero
	}
	return a % b, nil
}

func segmentAddress(seg, off int64) (int64, error) {
	return int64(cpu.Linear(uint16(seg), uint16(off))), nil
}

type tokenType byte

const (
	tokenNone tokenType = iota
	tokenValue
	tokenOp
	tokenLParen
	tokenRParen
)

type token struct {
	typ   tokenType
	value int64
	op    *op
}

type resolver interface {
	resolveIdentifier(s string) (int64, error)
}

// An exprParser evaluates debugger expressions. Numbers are decimal unless
// written with a trailing H, a leading $ or a 0x prefix. In hex mode every
// number is hexadecimal. Identifiers are handed to a resolver.
//
// Evaluation happens while parsing: operands collect on a value stack and
// each operator is applied once a lower-precedence operator, a closing
// parenthesis or the end of the expression makes it final.
type exprParser struct {
	hexMode bool

	src    string
	pos    int
	prev   tokenType
	values stack[int64]
	ops    stack[*op] // nil marks an open parenthesis
}

func newExprParser() *exprParser {
	return &exprParser{}
}

// Parse evaluates the expression.
func (p *exprParser) Parse(expr string, r resolver) (int64, error) {
	p.src, p.pos, p.prev = expr, 0, tokenNone
	p.values, p.ops = p.values[:0], p.ops[:0]

	for {
		tok, err := p.next(r)
		if err != nil {
			return 0, err
		}
		if tok.typ == tokenNone {
			break
		}

		switch tok.typ {
		case tokenValue:
			p.values.push(tok.value)

		case tokenLParen:
			p.ops.push(nil)

		case tokenRParen:
			for len(p.ops) > 0 && p.ops.top() != nil {
				if err := p.reduce(); err != nil {
					return 0, err
				}
			}
			if len(p.ops) == 0 {
				return 0, p.syntaxError()
			}
			p.ops.pop()

		case tokenOp:
			o := tok.op
			if o.UnaryOp != opNil && p.prev != tokenValue && p.prev != tokenRParen {
				o = &ops[o.UnaryOp]
			}
			for p.collapsible(o) {
				if err := p.reduce(); err != nil {
					return 0, err
				}
			}
			p.ops.push(o)
		}

		p.prev = tok.typ
	}

	for len(p.ops) > 0 {
		if p.ops.top() == nil {
			return 0, p.syntaxError()
		}
		if err := p.reduce(); err != nil {
			return 0, err
		}
	}

	if len(p.values) != 1 {
		return 0, p.syntaxError()
	}
	return p.values.pop(), nil
}

// Return true if the operator on top of the stack must be applied before
// o is pushed.
func (p *exprParser) collapsible(o *op) bool {
	if len(p.ops) == 0 || o.Args == 1 {
		return false
	}
	top := p.ops.top()
	if top == nil {
		return false
	}
	return top.Precedence > o.Precedence ||
		(top.Precedence == o.Precedence && o.Assoc == left)
}

// Apply the operator on top of the stack to the values it takes.
func (p *exprParser) reduce() error {
	o := p.ops.pop()
	if len(p.values) < int(o.Args) {
		return p.syntaxError()
	}

	var a, b int64
	if o.Args == 2 {
		b = p.values.pop()
	}
	a = p.values.pop()

	v, err := o.Eval(a, b)
	if err != nil {
		return err
	}
	p.values.push(v)
	return nil
}

func (p *exprParser) syntaxError() error {
	return fmt.Errorf("%w at column %d", errExprParse, p.pos+1)
}

// Scan the next token. Identifiers are resolved to values as they are
// scanned.
func (p *exprParser) next(r resolver) (token, error) {
	for p.pos < len(p.src) && whitespace(p.src[p.pos]) {
		p.pos++
	}
	if p.pos >= len(p.src) {
		return token{}, nil
	}

	c := p.src[p.pos]
	switch {
	case c == '(':
		p.pos++
		return token{typ: tokenLParen}, nil
	case c == ')':
		p.pos++
		return token{typ: tokenRParen}, nil
	case c == '\'' || c == '"':
		return p.scanChar()
	case decimal(c) || c == '$':
		return p.scanNumber()
	case identifier(c):
		return p.scanIdentifier(r)
	}

	for _, t := range [...]opType{opShiftLeft, opShiftRight} {
		if s := ops[t].Symbol; len(p.src)-p.pos >= 2 && p.src[p.pos:p.pos+2] == s {
			p.pos += 2
			return token{typ: tokenOp, op: &ops[t]}, nil
		}
	}
	for t := opMultiply; t <= opBitwiseNot; t++ {
		if s := ops[t].Symbol; len(s) == 1 && s[0] == c {
			p.pos++
			return token{typ: tokenOp, op: &ops[t]}, nil
		}
	}
	return token{}, p.syntaxError()
}

func (p *exprParser) scanChar() (token, error) {
	s := p.src[p.pos:]
	if len(s) < 3 || s[2] != s[0] {
		return token{}, p.syntaxError()
	}
	p.pos += 3
	return token{typ: tokenValue, value: int64(s[1])}, nil
}

func (p *exprParser) scanNumber() (token, error) {
	s := p.src[p.pos:]

	// MASM style: hex digits followed by H.
	if n := scanWhile(s, hexadecimal); n > 0 && n < len(s) && (s[n] == 'H' || s[n] == 'h') {
		return p.number(s[:n], 16, n+1)
	}

	base, digits, skip := 10, decimal, 0
	if p.hexMode {
		base, digits = 16, hexadecimal
	}
	switch {
	case s[0] == '$':
		base, digits, skip = 16, hexadecimal, 1
	case len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X'):
		base, digits, skip = 16, hexadecimal, 2
	}

	n := scanWhile(s[skip:], digits)
	if n == 0 {
		return token{}, p.syntaxError()
	}
	end := skip + n

	// A trailing B or D suffix selects binary or decimal.
	if !p.hexMode && base == 10 && end < len(s) {
		switch s[end] {
		case 'b', 'B':
			return p.number(s[:end], 2, end+1)
		case 'd', 'D':
			return p.number(s[:end], 10, end+1)
		}
	}
	return p.number(s[skip:end], base, end)
}

// Convert digits to a value token spanning length bytes of the source.
func (p *exprParser) number(digits string, base, length int) (token, error) {
	if rest := p.src[p.pos+length:]; len(rest) > 0 && identifier(rest[0]) {
		return token{}, p.syntaxError()
	}
	v, err := strconv.ParseInt(digits, base, 64)
	if err != nil {
		return token{}, p.syntaxError()
	}
	p.pos += length
	return token{typ: tokenValue, value: v}, nil
}

func (p *exprParser) scanIdentifier(r resolver) (token, error) {
	s := p.src[p.pos:]
	id := s[:scanWhile(s, identifier)]

	// In hex mode, words like BEEF are numbers but register names win.
	if _, isReg := cpu.LookupReg(id); p.hexMode && !isReg && hexadecimal(id[0]) {
		if tok, err := p.scanNumber(); err == nil {
			return tok, nil
		}
	}

	v, err := r.resolveIdentifier(id)
	if err != nil {
		return token{}, err
	}
	p.pos += len(id)
	return token{typ: tokenValue, value: v}, nil
}

type stack[T any] []T

func (s *stack[T]) push(v T) {
	*s = append(*s, v)
}

func (s *stack[T]) pop() T {
	top := len(*s) - 1
	v := (*s)[top]
	*s = (*s)[:top]
	return v
}

func (s stack[T]) top() T {
	return s[len(s)-1]
}

func scanWhile(s string, fn func(c byte) bool) int {
	i := 0
	for ; i < len(s) && fn(s[i]); i++ {
	}
	return i
}

func whitespace(c byte) bool {
	return c == ' ' || c == '\t'
}

func decimal(c byte) bool {
	return c >= '0' && c <= '9'
}

func hexadecimal(c byte) bool {
	return decimal(c) || (c >= 'A' && c <= 'F') || (c >= 'a' && c <= 'f')
}

func identifier(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || decimal(c) ||
		c == '_' || c == '.' || c == '?' || c == '@'
}
