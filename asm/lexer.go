// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package asm

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/beevik/go8086/cpu"
)

// TokenKind identifies the lexical class of a token.
type TokenKind byte

// Token kinds.
const (
	Label      TokenKind = iota // NAME: at the start of a line
	Mnemonic                    // instruction mnemonic
	Register                    // register name
	Directive                   // assembler directive
	Number                      // numeric literal
	String                      // quoted string literal (unescaped)
	Comma                       // ,
	Colon                       // :
	Bracket                     // [ or ]
	Operator                    // arithmetic symbol or operator keyword
	Identifier                  // any other name
	Comment                     // ; to end of line
	EOL                         // end of line
)

var tokenKindNames = []string{
	"Label", "Mnemonic", "Register", "Directive", "Number", "String",
	"Comma", "Colon", "Bracket", "Operator", "Identifier", "Comment", "EOL",
}

func (k TokenKind) String() string {
	return tokenKindNames[k]
}

// A Token is a single lexical element of a source line. Text preserves the
// original case; keyword comparisons are case-insensitive.
type Token struct {
	Kind   TokenKind
	Text   string
	Line   int // 1-based line number
	Column int // 1-based column
}

// Upper returns the token text in upper case.
func (t Token) Upper() string {
	return strings.ToUpper(t.Text)
}

// Is returns true if the token has the given kind and, ignoring case, the
// given text.
func (t Token) Is(kind TokenKind, text string) bool {
	return t.Kind == kind && strings.EqualFold(t.Text, text)
}

// IsOp returns true if the token is the operator symbol or keyword 'text'.
func (t Token) IsOp(text string) bool {
	return t.Is(Operator, text)
}

// Number returns the value of a numeric literal.
func (t Token) Number() (int, error) {
	return parseNumber(t.Text)
}

// Parse a MASM numeric literal. The radix is selected by suffix: H for
// hexadecimal, B for binary, O or Q for octal, and D or none for decimal.
func parseNumber(s string) (int, error) {
	u := strings.ToUpper(s)
	base := 10
	switch u[len(u)-1] {
	case 'H':
		base, u = 16, u[:len(u)-1]
	case 'B':
		base, u = 2, u[:len(u)-1]
	case 'O', 'Q':
		base, u = 8, u[:len(u)-1]
	case 'D':
		u = u[:len(u)-1]
	}
	if u == "" {
		return 0, fmt.Errorf("invalid number '%s'", s)
	}
	v, err := strconv.ParseUint(u, base, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid number '%s'", s)
	}
	return int(v), nil
}

var directives = map[string]bool{
	"SEGMENT": true, "ENDS": true, "ASSUME": true, "DB": true, "DW": true,
	"DD": true, "PROC": true, "ENDP": true, "EQU": true, "END": true,
	"TITLE": true, "PAGE": true, "ORG": true, "EVEN": true,
	".MODEL": true, ".STACK": true, ".DATA": true, ".CODE": true,
	".STARTUP": true, ".EXIT": true, ".8086": true,
	".186": true, ".286": true, ".386": true, ".486": true,
	"PUBLIC": true, "EXTRN": true, "INCLUDE": true, "MACRO": true,
	"ENDM": true, "STRUC": true,
}

var operatorWords = map[string]bool{
	"DUP": true, "PTR": true, "OFFSET": true, "SEG": true, "TYPE": true,
	"LENGTH": true, "SIZE": true, "MOD": true, "BYTE": true, "WORD": true,
	"DWORD": true, "SHORT": true, "NEAR": true, "FAR": true,
}

func classifyWord(w string) TokenKind {
	u := strings.ToUpper(w)
	switch {
	case directives[u]:
		return Directive
	case operatorWords[u]:
		return Operator
	case cpu.LookupMnemonic(u) != nil || cpu.IsUnsupported(u):
		return Mnemonic
	}
	if r, ok := cpu.LookupReg(u); ok && r != cpu.IP {
		return Register
	}
	return Identifier
}

// A Lexer produces tokens from MASM source text one line at a time. A
// lexical error affects only the line on which it occurs.
type Lexer struct {
	lines []string
	row   int
}

// Tokenize creates a lexer over the source text.
func Tokenize(src string) *Lexer {
	src = strings.ReplaceAll(src, "\r\n", "\n")
	lines := strings.Split(src, "\n")
	if n := len(lines); n > 1 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return &Lexer{lines: lines}
}

// Line returns the tokens of the next source line, terminated by an EOL
// token. It returns io.EOF when no lines remain. On a lexical error the
// returned error is an *Error and the line's tokens are discarded.
func (lx *Lexer) Line() ([]Token, error) {
	if lx.row >= len(lx.lines) {
		return nil, io.EOF
	}
	lx.row++
	return TokenizeLine(lx.lines[lx.row-1], lx.row)
}

// Row returns the 1-based number of the most recently returned line.
func (lx *Lexer) Row() int {
	return lx.row
}

// Source returns the text of the 1-based source line.
func (lx *Lexer) Source(row int) string {
	if row < 1 || row > len(lx.lines) {
		return ""
	}
	return lx.lines[row-1]
}

// Lines returns the number of source lines.
func (lx *Lexer) Lines() int {
	return len(lx.lines)
}

// Reset restarts the lexer at the first line.
func (lx *Lexer) Reset() {
	lx.row = 0
}

// TokenizeLine splits a single source line into tokens.
func TokenizeLine(text string, row int) ([]Token, error) {
	var toks []Token
	l := newFstring(row, text)

	emit := func(kind TokenKind, s fstring) {
		toks = append(toks, Token{Kind: kind, Text: s.str, Line: row, Column: s.column + 1})
	}

	for {
		l = l.consumeWhitespace()
		if l.isEmpty() {
			break
		}

		c := l.str[0]
		switch {
		case c == ';':
			emit(Comment, l)
			l = l.consume(len(l.str))

		case stringQuote(c):
			start := l
			s, remain, ok := l.consumeString()
			if !ok {
				return nil, &Error{
					Kind:    LexError,
					Line:    row,
					Column:  start.column + 1,
					Message: "unterminated string literal",
				}
			}
			toks = append(toks, Token{Kind: String, Text: s, Line: row, Column: start.column + 1})
			l = remain

		case decimal(c):
			var w fstring
			w, l = l.consumeWhile(alphanumeric)
			emit(Number, w)

		case identifierStartChar(c):
			rest := l.consume(1)
			n := 1 + rest.scanWhile(identifierChar)
			w := l.trunc(n)
			l = l.consume(n)
			kind := classifyWord(w.str)
			if kind == Identifier && len(toks) == 0 && l.startsWithChar(':') {
				emit(Label, w)
				l = l.consume(1)
				continue
			}
			emit(kind, w)

		case c == ',':
			emit(Comma, l.trunc(1))
			l = l.consume(1)

		case c == ':':
			emit(Colon, l.trunc(1))
			l = l.consume(1)

		case c == '[' || c == ']':
			emit(Bracket, l.trunc(1))
			l = l.consume(1)

		default:
			emit(Operator, l.trunc(1))
			l = l.consume(1)
		}
	}

	toks = append(toks, Token{Kind: EOL, Line: row, Column: len(text) + 1})
	return toks, nil
}
