// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package grade runs a submitted program against a list of test cases and
// scores it. Each test case gets its own simulated machine, and test cases
// run concurrently.
package grade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/go8086/asm"
	"github.com/beevik/go8086/cpu"
	"github.com/beevik/go8086/sim"
	"golang.org/x/sync/errgroup"
)

// A TestCase describes the expected final state of a run. Every expectation
// that is present must hold for the test case to pass.
type TestCase struct {
	Name              string              `json:"name,omitempty"`
	ExpectedOutput    string              `json:"expectedOutput,omitempty"`
	ExpectedRegisters map[string]string   `json:"expectedRegisters,omitempty"`
	ExpectedFlags     map[string]Bit      `json:"expectedFlags,omitempty"`
	ExpectedMemory    []MemoryExpectation `json:"expectedMemory,omitempty"`
	Script            string              `json:"script,omitempty"` // Lua check
	MaxSteps          int                 `json:"maxSteps,omitempty"`
	Points            int                 `json:"points"`
}

// A MemoryExpectation is the expected value of a byte or word. Offset may
// be a "DS:0000" style address, a "0700:0010" paragraph address, a
// variable name with an optional byte index such as "ARRAY[2]", or a
// linear hex address.
type MemoryExpectation struct {
	Offset string `json:"offset"`
	Value  string `json:"value"`
}

// A Bit is an expected flag state. It unmarshals from a JSON boolean, a
// number, or a string such as "1" or "true".
type Bit bool

// UnmarshalJSON implements json.Unmarshaler.
func (b *Bit) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case bool:
		*b = Bit(v)
	case float64:
		*b = v != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "set":
			*b = true
		case "0", "false", "clear", "":
			*b = false
		default:
			return fmt.Errorf("invalid flag value %q", v)
		}
	default:
		return fmt.Errorf("invalid flag value %s", data)
	}
	return nil
}

// A TestResult is the outcome of one test case.
type TestResult struct {
	TestCaseIndex   int    `json:"testCaseIndex"`
	Name            string `json:"name,omitempty"`
	Passed          bool   `json:"passed"`
	PointsEarned    int    `json:"pointsEarned"`
	Error           string `json:"error,omitempty"`
	ExecutionOutput string `json:"executionOutput,omitempty"`
}

// A Report holds the results of every test case, in test case order.
type Report struct {
	TestResults []TestResult `json:"testResults"`
	TotalScore  int          `json:"totalScore"`
	MaxScore    int          `json:"maxScore"`
}

// Failure messages.
const (
	msgOutput    = "Output does not match expected output"
	msgRegisters = "Register values do not match expected values"
	msgFlags     = "Flag values do not match expected values"
	msgMemory    = "Memory values do not match expected values"
	msgScript    = "Script check failed"
)

// Grade runs the code once per test case and scores the results. An error
// is returned only if the context ends before every test case has run.
func Grade(ctx context.Context, code string, cases []TestCase, opts sim.Options) (*Report, error) {
	report := &Report{TestResults: make([]TestResult, len(cases))}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range cases {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			report.TestResults[i] = runCase(ctx, code, i, &cases[i], opts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range cases {
		report.MaxScore += cases[i].Points
		report.TotalScore += report.TestResults[i].PointsEarned
	}
	return report, nil
}

func runCase(ctx context.Context, code string, index int, tc *TestCase, opts sim.Options) TestResult {
	res := TestResult{TestCaseIndex: index, Name: tc.Name}

	if tc.MaxSteps > 0 {
		opts.MaxSteps = tc.MaxSteps
	}
	opts.Log = nil
	run, _ := sim.Simulate(ctx, code, opts, nil)

	if err := check(ctx, run, tc, opts.Timeout); err != nil {
		res.Error = err.Error()
	} else {
		res.Passed = true
		res.PointsEarned = tc.Points
	}
	if e := run.Result.Execution; e != nil {
		res.ExecutionOutput = e.Output
	}
	return res
}

// Check every expectation of a test case against a finished run.
func check(ctx context.Context, run *sim.Run, tc *TestCase, timeout time.Duration) error {
	r := run.Result
	if r.Compilation.Status != sim.StatusSuccess {
		msg := "unknown error"
		if len(r.Compilation.Errors) > 0 {
			e := r.Compilation.Errors[0]
			msg = fmt.Sprintf("line %d: %s", e.Line, e.Message)
		}
		return fmt.Errorf("Compilation failed: %s", msg)
	}
	if r.Execution == nil {
		return errors.New("Execution failed")
	}
	if e := r.Execution.Error; e != nil {
		return fmt.Errorf("Execution failed: %s: %s", e, e.Message)
	}

	checks := []func(run *sim.Run, tc *TestCase) error{
		checkOutput,
		checkRegisters,
		checkFlags,
		checkMemory,
	}
	for _, c := range checks {
		if err := c(run, tc); err != nil {
			return err
		}
	}

	if tc.Script != "" {
		if timeout <= 0 {
			timeout = sim.DefaultTimeout
		}
		return runScript(ctx, run, tc.Script, timeout)
	}
	return nil
}

func normalizeOutput(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func checkOutput(run *sim.Run, tc *TestCase) error {
	if tc.ExpectedOutput == "" {
		return nil
	}
	if !strings.Contains(normalizeOutput(run.CPU.Output()), normalizeOutput(tc.ExpectedOutput)) {
		return errors.New(msgOutput)
	}
	return nil
}

func checkRegisters(run *sim.Run, tc *TestCase) error {
	for _, name := range sortedKeys(tc.ExpectedRegisters) {
		r, ok := cpu.LookupReg(name)
		if !ok {
			return fmt.Errorf("%s: unknown register '%s'", msgRegisters, name)
		}
		exp, err := parseHex(tc.ExpectedRegisters[name])
		if err != nil {
			return fmt.Errorf("%s: %s: %v", msgRegisters, name, err)
		}
		if got := run.CPU.Reg.Get(r); uint32(got) != exp {
			return fmt.Errorf("%s (%s: expected %s, got %s)", msgRegisters, r, hexWidth(exp, r.Size()), hexWidth(uint32(got), r.Size()))
		}
	}
	return nil
}

func checkFlags(run *sim.Run, tc *TestCase) error {
	for _, name := range sortedKeys(tc.ExpectedFlags) {
		f, ok := cpu.LookupFlag(name)
		if !ok {
			return fmt.Errorf("%s: unknown flag '%s'", msgFlags, name)
		}
		if exp, got := bool(tc.ExpectedFlags[name]), run.CPU.Reg.Flag(f); exp != got {
			return fmt.Errorf("%s (%s: expected %d, got %d)", msgFlags, f, b2i(exp), b2i(got))
		}
	}
	return nil
}

func checkMemory(run *sim.Run, tc *TestCase) error {
	for _, m := range tc.ExpectedMemory {
		addr, err := resolveAddress(run, m.Offset)
		if err != nil {
			return fmt.Errorf("%s: %v", msgMemory, err)
		}
		exp, err := parseHex(m.Value)
		if err != nil {
			return fmt.Errorf("%s: %s: %v", msgMemory, m.Offset, err)
		}
		size := 1
		if len(strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(m.Value)), "H")) > 2 {
			size = 2
		}
		got, err := loadMemory(run.CPU, addr, size)
		if err != nil {
			return fmt.Errorf("%s: %s: %v", msgMemory, m.Offset, err)
		}
		if got != exp {
			return fmt.Errorf("%s (%s: expected %s, got %s)", msgMemory, m.Offset, hexWidth(exp, size), hexWidth(got, size))
		}
	}
	return nil
}

func loadMemory(c *cpu.CPU, addr uint32, size int) (uint32, error) {
	var v uint32
	for i := size - 1; i >= 0; i-- {
		b, err := c.Mem.LoadByte((addr + uint32(i)) & (cpu.MemorySize - 1))
		if err != nil {
			return 0, err
		}
		v = v<<8 | uint32(b)
	}
	return v, nil
}

// Resolve a memory location written as "SEG:OFF", "NAME", "NAME[n]",
// "NAME+n" or a linear hex address. A segment register prefix uses the
// register's final value.
func resolveAddress(run *sim.Run, s string) (uint32, error) {
	s = strings.ToUpper(strings.TrimSpace(s))

	if seg, off, ok := strings.Cut(s, ":"); ok {
		o, err := parseHex(off)
		if err != nil || o > 0xffff {
			return 0, fmt.Errorf("invalid offset in '%s'", s)
		}
		if r, ok := cpu.LookupReg(seg); ok && r.IsSegment() {
			return cpu.Linear(run.CPU.Reg.Get(r), uint16(o)), nil
		}
		p, err := parseHex(seg)
		if err != nil || p > 0xffff {
			return 0, fmt.Errorf("invalid segment in '%s'", s)
		}
		return cpu.Linear(uint16(p), uint16(o)), nil
	}

	name, index := s, uint32(0)
	if i := strings.IndexAny(s, "[+"); i > 0 {
		name = strings.TrimSpace(s[:i])
		n, err := parseNumber(strings.Trim(s[i:], "[]+ "))
		if err != nil {
			return 0, fmt.Errorf("invalid index in '%s'", s)
		}
		index = n
	}
	if st := run.Assembly.Symbols; st != nil {
		if sym := st.Lookup(name); sym != nil && sym.Segment != nil && sym.Kind != asm.SegmentSymbol {
			return cpu.Linear(sym.Segment.Base, sym.Offset+uint16(index)), nil
		}
	}

	a, err := parseHex(s)
	if err != nil || a >= cpu.MemorySize {
		return 0, fmt.Errorf("unknown location '%s'", s)
	}
	return a, nil
}

// Parse a hex value, with or without a trailing H.
func parseHex(s string) (uint32, error) {
	s = strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(s)), "H")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid hex value '%s'", s)
	}
	return uint32(v), nil
}

// Parse an index: decimal, or hex with a trailing H.
func parseNumber(s string) (uint32, error) {
	if strings.HasSuffix(s, "H") {
		return parseHex(s)
	}
	v, err := strconv.ParseUint(s, 10, 16)
	return uint32(v), err
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}

func hexWidth(v uint32, size int) string {
	return fmt.Sprintf("%0*XH", size*2, v)
}

func b2i(v bool) int {
	if v {
		return 1
	}
	return 0
}
