// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cpu

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrHalted     = errors.New("cpu is halted")
	ErrNoProgram  = errors.New("no program loaded")
	ErrBadProgram = errors.New("program entry point out of range")
)

// ErrorKind classifies a RuntimeError.
type ErrorKind byte

// Runtime error kinds.
const (
	DivisionByZero ErrorKind = iota
	DivideOverflow
	SegmentationFault
	StackOverflow
	StackUnderflow
	InvalidReturn
	UnsupportedFeature
	StepLimitExceeded
)

var errorKindNames = []string{
	"DivisionByZero",
	"DivideOverflow",
	"SegmentationFault",
	"StackOverflow",
	"StackUnderflow",
	"InvalidReturn",
	"UnsupportedFeature",
	"StepLimitExceeded",
}

func (k ErrorKind) String() string {
	if int(k) < len(errorKindNames) {
		return errorKindNames[k]
	}
	return "Unknown"
}

// A RuntimeError describes a failure that stops execution. Index and Line
// identify the instruction that was executing, or -1 when the failure is
// not tied to an instruction.
type RuntimeError struct {
	Kind        ErrorKind
	Address     uint32 // linear address involved, if any
	Index       int    // instruction index
	Line        int    // source line
	Instruction string // source text of the instruction
	Message     string
}

func (e *RuntimeError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("RuntimeError: %s at line %d: %s", e.Kind, e.Line, e.Message)
	}
	return fmt.Sprintf("RuntimeError: %s: %s", e.Kind, e.Message)
}

func runtimeErrorf(kind ErrorKind, format string, args ...any) *RuntimeError {
	return &RuntimeError{Kind: kind, Index: -1, Message: fmt.Sprintf(format, args...)}
}
