// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package trace records the effect of each executed instruction as a list
// of register, flag and memory changes.
package trace

import (
	"github.com/beevik/go8086/cpu"
	"github.com/beevik/go8086/disasm"
)

// TraceRegs lists the registers a trace reports, in display order.
var TraceRegs = []cpu.Reg{
	cpu.AX, cpu.BX, cpu.CX, cpu.DX, cpu.SI, cpu.DI, cpu.SP, cpu.BP,
	cpu.CS, cpu.DS, cpu.ES, cpu.SS, cpu.IP,
}

// A Snapshot holds the register and flag state of a CPU at one moment.
// Memory is not copied; memory changes come from the CPU's write journal.
type Snapshot struct {
	Regs  [cpu.NumWordRegs]uint16
	Flags uint16
}

// Capture copies the registers and flags of the CPU.
func Capture(c *cpu.CPU) Snapshot {
	return CaptureRegisters(&c.Reg)
}

// CaptureRegisters copies a register file.
func CaptureRegisters(r *cpu.Registers) Snapshot {
	var s Snapshot
	for _, reg := range TraceRegs {
		s.Regs[reg] = r.Get(reg)
	}
	s.Flags = r.Flags()
	return s
}

// Get returns the value of a 16-bit register in the snapshot.
func (s *Snapshot) Get(r cpu.Reg) uint16 {
	return s.Regs[r]
}

// Flag returns the state of a flag in the snapshot.
func (s *Snapshot) Flag(f cpu.Flag) bool {
	return s.Flags&uint16(f) != 0
}

// A RegisterChange records a register whose value an instruction changed.
type RegisterChange struct {
	Reg    cpu.Reg
	Before uint16
	After  uint16
}

// A FlagChange records a flag whose state an instruction changed.
type FlagChange struct {
	Flag   cpu.Flag
	Before bool
	After  bool
}

// A MemoryChange records a byte whose value an instruction changed.
type MemoryChange struct {
	Address uint32 // linear address
	Before  byte
	After   byte
}

// A Step describes one executed instruction and its effects.
type Step struct {
	Number      int    // 1-based step number
	Index       int    // instruction index
	Line        int    // source line
	Instruction string // source text of the instruction
	Canonical   string // canonical rendering of the decoded instruction
	Description string
	Registers   Snapshot // state after the instruction
	RegChanges  []RegisterChange
	FlagChanges []FlagChange
	MemChanges  []MemoryChange
}

// Record builds the trace step for an instruction from the machine state
// before and after it executed and the bytes it stored. Only values that
// actually changed are reported, and IP is always left out since every
// instruction changes it.
func Record(number int, inst *cpu.Instruction, before, after Snapshot, writes []cpu.MemoryWrite) Step {
	s := Step{
		Number:      number,
		Index:       inst.Index,
		Line:        inst.Line,
		Instruction: inst.Source,
		Canonical:   disasm.Format(inst),
		Description: disasm.Describe(inst),
		Registers:   after,
	}

	for _, r := range TraceRegs {
		if r == cpu.IP {
			continue
		}
		if b, a := before.Get(r), after.Get(r); b != a {
			s.RegChanges = append(s.RegChanges, RegisterChange{Reg: r, Before: b, After: a})
		}
	}

	for _, f := range cpu.AllFlags {
		if b, a := before.Flag(f), after.Flag(f); b != a {
			s.FlagChanges = append(s.FlagChanges, FlagChange{Flag: f, Before: b, After: a})
		}
	}

	s.MemChanges = collapse(writes)
	return s
}

// Merge repeated writes to the same address into one change and drop
// writes that left a byte unchanged.
func collapse(writes []cpu.MemoryWrite) []MemoryChange {
	var changes []MemoryChange
	seen := make(map[uint32]int, len(writes))
	for _, w := range writes {
		if i, ok := seen[w.Address]; ok {
			changes[i].After = w.After
			continue
		}
		seen[w.Address] = len(changes)
		changes = append(changes, MemoryChange{Address: w.Address, Before: w.Before, After: w.After})
	}

	out := changes[:0]
	for _, c := range changes {
		if c.Before != c.After {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// A Sink receives each step as soon as it is recorded. Returning an error
// stops execution.
type Sink func(s *Step) error

// A Recorder is a cpu.Tracer that keeps an append-only log of steps and
// passes each one to an optional sink, in program order.
type Recorder struct {
	Steps []Step
	sink  Sink
	keep  bool
}

// NewRecorder creates a recorder. If keep is false the steps are passed
// to the sink but not retained.
func NewRecorder(sink Sink, keep bool) *Recorder {
	return &Recorder{sink: sink, keep: keep}
}

// OnStep records an executed instruction. It implements cpu.Tracer.
func (r *Recorder) OnStep(c *cpu.CPU, inst *cpu.Instruction, before cpu.Registers, writes []cpu.MemoryWrite) error {
	s := Record(int(c.Steps), inst, CaptureRegisters(&before), Capture(c), writes)
	if r.keep {
		r.Steps = append(r.Steps, s)
	}
	if r.sink != nil {
		return r.sink(&s)
	}
	return nil
}

// Len returns the number of retained steps.
func (r *Recorder) Len() int {
	return len(r.Steps)
}
