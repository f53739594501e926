// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sim

// Names of the events produced by Stream.
const (
	EventStatus           = "status"
	EventSymbols          = "symbols"
	EventCompilationError = "compilation-error"
	EventStep             = "step"
	EventComplete         = "complete"
	EventError            = "error"
)

// Stages reported by status events.
const (
	StageParsing   = "parsing"
	StageBuilding  = "building"
	StageExecuting = "executing"
)

// An Event is a single progress notification. Data holds one of the
// *Event types below and marshals to the event's JSON payload.
type Event struct {
	Name string
	Data any
}

// StatusEvent announces a new stage of the run.
type StatusEvent struct {
	Stage    string `json:"stage"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
}

// SymbolsEvent carries the symbol table and initial memory.
type SymbolsEvent struct {
	Symbols       []Symbol     `json:"symbols"`
	InitialMemory []MemoryCell `json:"initialMemory"`
	Progress      int          `json:"progress"`
}

// CompilationErrorEvent ends a stream whose program failed to assemble.
type CompilationErrorEvent struct {
	Errors   []CompilationError `json:"errors"`
	Progress int                `json:"progress"`
}

// StepEvent carries one executed step. Steps arrive in program order and
// are never revised.
type StepEvent struct {
	Step       *Step `json:"step"`
	StepNumber int   `json:"stepNumber"`
	Progress   int   `json:"progress"`
}

// CompleteEvent ends a stream whose program ran.
type CompleteEvent struct {
	Status      string       `json:"status"`
	FinalState  FinalState   `json:"finalState"`
	FinalMemory []MemoryCell `json:"finalMemory"`
	Output      string       `json:"output"`
	Error       *RunError    `json:"error,omitempty"`
	TotalSteps  int          `json:"totalSteps"`
	Summary     string       `json:"summary"`
	Progress    int          `json:"progress"`
}

// ErrorEvent reports a failure that prevented the run from completing.
type ErrorEvent struct {
	Message string `json:"message"`
}
