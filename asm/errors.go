// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package asm

import (
	"errors"
	"fmt"
)

var (
	// ErrAssembly is returned by Assemble when one or more errors were
	// collected. The individual errors are available in Assembly.Errors.
	ErrAssembly = errors.New("assembly failed")

	errParse = errors.New("parse error")
	errFatal = errors.New("fatal parse error")
)

// ErrorKind classifies an assembly error.
type ErrorKind byte

// Error kinds.
const (
	LexError ErrorKind = iota
	ParseError
	SemanticError
	UnsupportedFeature
)

var errorKindNames = []string{
	"LexError",
	"ParseError",
	"SemanticError",
	"UnsupportedFeature",
}

func (k ErrorKind) String() string {
	return errorKindNames[k]
}

// An Error describes a problem found while assembling source code. Line is
// 1-based and Column is 1-based; either may be zero when unknown.
type Error struct {
	Kind    ErrorKind
	Line    int
	Column  int
	Message string
}

func (e *Error) Error() string {
	if e.Column > 0 {
		return fmt.Sprintf("%s in line %d, col %d: %s", e.Kind, e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("%s in line %d: %s", e.Kind, e.Line, e.Message)
}

// An errorList collects the errors produced by an assembly pass.
type errorList []*Error

func (l *errorList) add(kind ErrorKind, t Token, format string, args ...any) {
	*l = append(*l, &Error{
		Kind:    kind,
		Line:    t.Line,
		Column:  t.Column,
		Message: fmt.Sprintf(format, args...),
	})
}

func (l *errorList) addLine(kind ErrorKind, line int, format string, args ...any) {
	*l = append(*l, &Error{
		Kind:    kind,
		Line:    line,
		Message: fmt.Sprintf(format, args...),
	})
}
