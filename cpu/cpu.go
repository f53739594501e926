// Copyright 2014-2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cpu implements an 8086 real-mode instruction set simulator that
// executes decoded instructions produced by the assembler.
package cpu

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// State describes where the CPU is in its lifecycle.
type State byte

// CPU states.
const (
	NotStarted State = iota
	Running
	Halted
	Faulted
)

var stateNames = []string{"NotStarted", "Running", "Halted", "Faulted"}

func (s State) String() string {
	return stateNames[s]
}

// A Tracer receives a notification after every successfully executed
// instruction. 'before' holds the registers as they were before the
// instruction ran, and 'writes' lists every byte it stored.
type Tracer interface {
	OnStep(cpu *CPU, inst *Instruction, before Registers, writes []MemoryWrite) error
}

// CPU represents a single 8086 CPU executing a decoded program. It
// contains a pointer to the memory associated with the CPU.
type CPU struct {
	Reg       Registers // CPU registers
	Mem       Memory    // assigned memory
	State     State     // lifecycle state
	Index     int       // index of the next instruction to execute
	LastIndex int       // index of the most recently executed instruction
	Steps     uint64    // number of executed instructions
	Fault     error     // error that moved the CPU to the Faulted state
	Exited    bool      // program terminated through INT 21H function 4CH
	ExitCode  byte      // exit code passed to INT 21H function 4CH
	program   *Program
	next      int
	stackTop  uint32
	journal   []MemoryWrite
	output    []byte
	outWriter io.Writer
	debugger  *Debugger
	tracer    Tracer
	storeByte func(cpu *CPU, addr uint32, v byte) error
}

// NewCPU creates an emulated 8086 CPU bound to the specified memory.
func NewCPU(m Memory) *CPU {
	cpu := &CPU{
		Mem:       m,
		LastIndex: -1,
		storeByte: (*CPU).storeByteNormal,
	}
	cpu.Reg.Init()
	return cpu
}

// Load copies the program image into memory and sets up the initial
// machine state: every register is zero except CS:IP, which address the
// entry instruction, and SS:SP, which address the top of the stack. DS and
// ES are left at zero for the program to initialize.
func (cpu *CPU) Load(p *Program) error {
	if p == nil {
		return ErrNoProgram
	}
	if p.Entry < 0 || p.Entry > len(p.Instructions) {
		return ErrBadProgram
	}

	for _, b := range p.Image {
		if err := cpu.Mem.StoreBytes(b.Addr, b.Bytes); err != nil {
			return fmt.Errorf("loading program image: %w", err)
		}
	}

	cpu.program = p
	cpu.Reg.Init()
	cpu.Reg.Set(CS, p.CodeSegment)
	cpu.Reg.Set(SS, p.StackSegment)
	cpu.Reg.Set(SP, p.StackPointer)
	cpu.setStackTop(p.StackPointer)

	cpu.Index = p.Entry
	cpu.LastIndex = -1
	cpu.Steps = 0
	cpu.Fault = nil
	cpu.Exited = false
	cpu.ExitCode = 0
	cpu.output = nil
	cpu.journal = cpu.journal[:0]

	if cpu.Index < len(p.Instructions) {
		cpu.Reg.Set(IP, p.Instructions[cpu.Index].Offset)
		cpu.State = NotStarted
	} else {
		cpu.State = Halted
	}
	return nil
}

// Program returns the currently loaded program.
func (cpu *CPU) Program() *Program {
	return cpu.program
}

// Instruction returns the instruction at index i, or nil if there is
// none.
func (cpu *CPU) Instruction(i int) *Instruction {
	if cpu.program == nil || i < 0 || i >= len(cpu.program.Instructions) {
		return nil
	}
	return &cpu.program.Instructions[i]
}

// NextInstruction returns the instruction that the next call to Step will
// execute, or nil if the CPU is halted.
func (cpu *CPU) NextInstruction() *Instruction {
	return cpu.Instruction(cpu.Index)
}

// Output returns everything the program has written through DOS output
// functions.
func (cpu *CPU) Output() string {
	return string(cpu.output)
}

// AttachOutput echoes program output to w as it is produced.
func (cpu *CPU) AttachOutput(w io.Writer) {
	cpu.outWriter = w
}

// AttachTracer attaches a tracer that is notified after every executed
// instruction.
func (cpu *CPU) AttachTracer(t Tracer) {
	cpu.tracer = t
}

// AttachDebugger attaches a debugger to the CPU. The debugger receives
// notifications whenever the CPU executes an instruction or stores a byte
// to memory.
func (cpu *CPU) AttachDebugger(debugger *Debugger) {
	cpu.debugger = debugger
	cpu.storeByte = (*CPU).storeByteDebugger
}

// DetachDebugger detaches the currently debugger from the CPU.
func (cpu *CPU) DetachDebugger() {
	cpu.debugger = nil
	cpu.storeByte = (*CPU).storeByteNormal
}

// Step the cpu by one instruction. If the instruction fails, every change
// it made is undone, the CPU moves to the Faulted state and the returned
// error is a *RuntimeError.
func (cpu *CPU) Step() error {
	switch cpu.State {
	case Halted:
		return ErrHalted
	case Faulted:
		return cpu.Fault
	}
	if cpu.program == nil {
		return ErrNoProgram
	}

	insts := cpu.program.Instructions
	if cpu.Index >= len(insts) {
		cpu.State = Halted
		return ErrHalted
	}

	cpu.State = Running
	inst := &insts[cpu.Index]
	before := cpu.Reg
	cpu.journal = cpu.journal[:0]
	cpu.next = cpu.Index + 1

	if err := inst.Mnemonic.fn(cpu, inst); err != nil {
		return cpu.fault(inst, before, err)
	}

	cpu.LastIndex = cpu.Index
	cpu.Index = cpu.next
	if cpu.Index < len(insts) {
		cpu.Reg.Set(IP, insts[cpu.Index].Offset)
	} else {
		cpu.Reg.Set(IP, inst.Offset+uint16(inst.Length))
		cpu.State = Halted
	}
	cpu.Steps++

	if cpu.tracer != nil {
		if err := cpu.tracer.OnStep(cpu, inst, before, cpu.journal); err != nil {
			return err
		}
	}

	// Update the debugger so it can handle breakpoints.
	if cpu.debugger != nil {
		cpu.debugger.onUpdateIP(cpu, cpu.Reg.Get(IP))
	}
	return nil
}

// Run steps the CPU until it halts, faults, executes maxSteps
// instructions, or the context is done. Hitting the step ceiling or the
// context deadline is reported as a StepLimitExceeded runtime error. A
// maxSteps value of zero or less means no ceiling.
func (cpu *CPU) Run(ctx context.Context, maxSteps int) error {
	for n := 0; cpu.State != Halted; n++ {
		if cpu.State == Faulted {
			return cpu.Fault
		}
		if maxSteps > 0 && n >= maxSteps {
			return cpu.stopRun(fmt.Sprintf("step limit of %d exceeded", maxSteps))
		}
		if err := ctx.Err(); err != nil {
			return cpu.stopRun(fmt.Sprintf("execution cancelled: %v", err))
		}
		if err := cpu.Step(); err != nil {
			if errors.Is(err, ErrHalted) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (cpu *CPU) stopRun(msg string) error {
	e := &RuntimeError{Kind: StepLimitExceeded, Index: cpu.Index, Message: msg}
	if inst := cpu.NextInstruction(); inst != nil {
		e.Line, e.Instruction = inst.Line, inst.Source
	}
	cpu.State = Faulted
	cpu.Fault = e
	return e
}

// Roll back a failed instruction and move to the Faulted state.
func (cpu *CPU) fault(inst *Instruction, before Registers, err error) error {
	for i := len(cpu.journal) - 1; i >= 0; i-- {
		w := cpu.journal[i]
		cpu.Mem.StoreByte(w.Address, w.Before)
	}
	cpu.journal = cpu.journal[:0]
	cpu.Reg = before

	var rt *RuntimeError
	if !errors.As(err, &rt) {
		rt = &RuntimeError{Kind: UnsupportedFeature, Message: err.Error()}
	}
	rt.Index, rt.Line, rt.Instruction = inst.Index, inst.Line, inst.Source

	cpu.State = Faulted
	cpu.Fault = rt
	return rt
}

func (cpu *CPU) halt() {
	cpu.next = len(cpu.program.Instructions)
}

func (cpu *CPU) setStackTop(sp uint16) {
	if sp == 0 {
		cpu.stackTop = 0x10000
	} else {
		cpu.stackTop = uint32(sp)
	}
}

//
// Memory and operand access
//

func (cpu *CPU) storeByteNormal(addr uint32, v byte) error {
	before, err := cpu.Mem.LoadByte(addr)
	if err != nil {
		return err
	}
	if err := cpu.Mem.StoreByte(addr, v); err != nil {
		return err
	}
	cpu.journal = append(cpu.journal, MemoryWrite{Address: addr, Before: before, After: v})
	return nil
}

func (cpu *CPU) storeByteDebugger(addr uint32, v byte) error {
	if err := cpu.storeByteNormal(addr, v); err != nil {
		return err
	}
	cpu.debugger.onDataStore(cpu, addr, v)
	return nil
}

// LoadMem reads a byte or little-endian word at seg:off. The second byte
// of a word wraps within the segment.
func (cpu *CPU) LoadMem(seg, off uint16, size int) (uint16, error) {
	lo, err := cpu.Mem.LoadByte(Linear(seg, off))
	if err != nil {
		return 0, err
	}
	if size == 1 {
		return uint16(lo), nil
	}
	hi, err := cpu.Mem.LoadByte(Linear(seg, off+1))
	if err != nil {
		return 0, err
	}
	return uint16(lo) | uint16(hi)<<8, nil
}

func (cpu *CPU) storeMem(seg, off uint16, size int, v uint16) error {
	if err := cpu.storeByte(cpu, Linear(seg, off), byte(v)); err != nil {
		return err
	}
	if size == 2 {
		return cpu.storeByte(cpu, Linear(seg, off+1), byte(v>>8))
	}
	return nil
}

// EffectiveAddress returns the segment and offset addressed by a memory
// operand using the current register values.
func (cpu *CPU) EffectiveAddress(op *Operand) (seg, off uint16) {
	off = op.Disp
	if op.Base != RegNone {
		off += cpu.Reg.Get(op.Base)
	}
	if op.Index != RegNone {
		off += cpu.Reg.Get(op.Index)
	}
	return cpu.Reg.Get(op.Seg), off
}

func (cpu *CPU) load(op *Operand) (uint16, error) {
	switch op.Kind {
	case RegisterOperand:
		return cpu.Reg.Get(op.Reg), nil
	case ImmediateOperand:
		return op.Imm, nil
	case MemoryOperand:
		seg, off := cpu.EffectiveAddress(op)
		return cpu.LoadMem(seg, off, op.Size)
	default:
		return 0, runtimeErrorf(UnsupportedFeature, "operand cannot be read")
	}
}

func (cpu *CPU) store(op *Operand, v uint16) error {
	switch op.Kind {
	case RegisterOperand:
		cpu.Reg.Set(op.Reg, v)
		return nil
	case MemoryOperand:
		seg, off := cpu.EffectiveAddress(op)
		return cpu.storeMem(seg, off, op.Size, v)
	default:
		return runtimeErrorf(UnsupportedFeature, "operand cannot be written")
	}
}

func (cpu *CPU) pushWord(v uint16) error {
	sp := cpu.Reg.Get(SP)
	if sp < 2 {
		return runtimeErrorf(StackOverflow, "stack overflow (SP=%04X)", sp)
	}
	sp -= 2
	if err := cpu.storeMem(cpu.Reg.Get(SS), sp, 2, v); err != nil {
		return err
	}
	cpu.Reg.Set(SP, sp)
	return nil
}

func (cpu *CPU) popWord() (uint16, error) {
	sp := cpu.Reg.Get(SP)
	if uint32(sp)+2 > cpu.stackTop {
		return 0, runtimeErrorf(StackUnderflow, "stack underflow (SP=%04X)", sp)
	}
	v, err := cpu.LoadMem(cpu.Reg.Get(SS), sp, 2)
	if err != nil {
		return 0, err
	}
	cpu.Reg.Set(SP, sp+2)
	return v, nil
}

func (cpu *CPU) write(b ...byte) {
	cpu.output = append(cpu.output, b...)
	if cpu.outWriter != nil {
		cpu.outWriter.Write(b)
	}
}

//
// Data movement
//

func (cpu *CPU) mov(inst *Instruction) error {
	v, err := cpu.load(&inst.Operands[1])
	if err != nil {
		return err
	}
	dst := &inst.Operands[0]
	if err := cpu.store(dst, v); err != nil {
		return err
	}
	if dst.Kind == RegisterOperand && dst.Reg == SP {
		cpu.setStackTop(v)
	}
	return nil
}

func (cpu *CPU) xchg(inst *Instruction) error {
	a, b := &inst.Operands[0], &inst.Operands[1]
	va, err := cpu.load(a)
	if err != nil {
		return err
	}
	vb, err := cpu.load(b)
	if err != nil {
		return err
	}
	if err := cpu.store(a, vb); err != nil {
		return err
	}
	return cpu.store(b, va)
}

func (cpu *CPU) lea(inst *Instruction) error {
	_, off := cpu.EffectiveAddress(&inst.Operands[1])
	return cpu.store(&inst.Operands[0], off)
}

func (cpu *CPU) push(inst *Instruction) error {
	v, err := cpu.load(&inst.Operands[0])
	if err != nil {
		return err
	}
	return cpu.pushWord(v)
}

func (cpu *CPU) pop(inst *Instruction) error {
	v, err := cpu.popWord()
	if err != nil {
		return err
	}
	return cpu.store(&inst.Operands[0], v)
}

func (cpu *CPU) pushf(inst *Instruction) error {
	return cpu.pushWord(cpu.Reg.Flags())
}

func (cpu *CPU) popf(inst *Instruction) error {
	v, err := cpu.popWord()
	if err != nil {
		return err
	}
	cpu.Reg.SetFlags(v)
	return nil
}

// LAHF and SAHF move SF, ZF, AF, PF and CF between AH and FLAGS.
const lahfMask = uint16(SF | ZF | AF | PF | CF)

func (cpu *CPU) lahf(inst *Instruction) error {
	cpu.Reg.SetByte(AH, byte(cpu.Reg.Flags()&lahfMask|0x02))
	return nil
}

func (cpu *CPU) sahf(inst *Instruction) error {
	f := cpu.Reg.Flags()&^lahfMask | uint16(cpu.Reg.GetByte(AH))&lahfMask
	cpu.Reg.SetFlags(f)
	return nil
}

func (cpu *CPU) xlat(inst *Instruction) error {
	off := cpu.Reg.Get(BX) + uint16(cpu.Reg.GetByte(AL))
	v, err := cpu.LoadMem(cpu.Reg.Get(DS), off, 1)
	if err != nil {
		return err
	}
	cpu.Reg.SetByte(AL, byte(v))
	return nil
}

func (cpu *CPU) cbw(inst *Instruction) error {
	cpu.Reg.Set(AX, uint16(int16(int8(cpu.Reg.GetByte(AL)))))
	return nil
}

func (cpu *CPU) cwd(inst *Instruction) error {
	if cpu.Reg.Get(AX)&0x8000 != 0 {
		cpu.Reg.Set(DX, 0xffff)
	} else {
		cpu.Reg.Set(DX, 0)
	}
	return nil
}

func (cpu *CPU) nop(inst *Instruction) error {
	return nil
}

//
// Arithmetic
//

// All two-operand arithmetic shares this core. 'fn' computes the result
// and updates flags; the result is stored only if 'store' is true.
func (cpu *CPU) binary(inst *Instruction, store bool, fn func(a, b uint16, size int) uint16) error {
	dst, src := &inst.Operands[0], &inst.Operands[1]
	a, err := cpu.load(dst)
	if err != nil {
		return err
	}
	b, err := cpu.load(src)
	if err != nil {
		return err
	}
	r := fn(a, b, dst.Size)
	if store {
		return cpu.store(dst, r)
	}
	return nil
}

func (cpu *CPU) add(inst *Instruction) error {
	return cpu.binary(inst, true, func(a, b uint16, size int) uint16 {
		return cpu.Reg.Add(a, b, 0, size)
	})
}

func (cpu *CPU) adc(inst *Instruction) error {
	carry := boolToUint16(cpu.Reg.Flag(CF))
	return cpu.binary(inst, true, func(a, b uint16, size int) uint16 {
		return cpu.Reg.Add(a, b, carry, size)
	})
}

func (cpu *CPU) sub(inst *Instruction) error {
	return cpu.binary(inst, true, func(a, b uint16, size int) uint16 {
		return cpu.Reg.Sub(a, b, 0, size)
	})
}

func (cpu *CPU) sbb(inst *Instruction) error {
	borrow := boolToUint16(cpu.Reg.Flag(CF))
	return cpu.binary(inst, true, func(a, b uint16, size int) uint16 {
		return cpu.Reg.Sub(a, b, borrow, size)
	})
}

func (cpu *CPU) cmp(inst *Instruction) error {
	return cpu.binary(inst, false, func(a, b uint16, size int) uint16 {
		return cpu.Reg.Sub(a, b, 0, size)
	})
}

// One-operand read-modify-write core.
func (cpu *CPU) unary(inst *Instruction, fn func(v uint16, size int) uint16) error {
	op := &inst.Operands[0]
	v, err := cpu.load(op)
	if err != nil {
		return err
	}
	return cpu.store(op, fn(v, op.Size))
}

func (cpu *CPU) inc(inst *Instruction) error {
	return cpu.unary(inst, func(v uint16, size int) uint16 {
		cf := cpu.Reg.Flag(CF)
		r := cpu.Reg.Add(v, 1, 0, size)
		cpu.Reg.SetFlag(CF, cf)
		return r
	})
}

func (cpu *CPU) dec(inst *Instruction) error {
	return cpu.unary(inst, func(v uint16, size int) uint16 {
		cf := cpu.Reg.Flag(CF)
		r := cpu.Reg.Sub(v, 1, 0, size)
		cpu.Reg.SetFlag(CF, cf)
		return r
	})
}

func (cpu *CPU) neg(inst *Instruction) error {
	return cpu.unary(inst, func(v uint16, size int) uint16 {
		return cpu.Reg.Sub(0, v, 0, size)
	})
}

// MUL and IMUL set CF and OF when the upper half of the product is
// significant. ZF, SF and PF follow the lower half and AF is cleared.
func (cpu *CPU) mul(inst *Instruction) error {
	src := &inst.Operands[0]
	v, err := cpu.load(src)
	if err != nil {
		return err
	}
	var hi, lo uint16
	if src.Size == 1 {
		p := uint16(cpu.Reg.GetByte(AL)) * (v & 0xff)
		cpu.Reg.Set(AX, p)
		hi, lo = p>>8, p&0xff
	} else {
		p := uint32(cpu.Reg.Get(AX)) * uint32(v)
		cpu.Reg.Set(AX, uint16(p))
		cpu.Reg.Set(DX, uint16(p>>16))
		hi, lo = uint16(p>>16), uint16(p)
	}
	cpu.mulFlags(hi != 0, lo, src.Size)
	return nil
}

func (cpu *CPU) imul(inst *Instruction) error {
	src := &inst.Operands[0]
	v, err := cpu.load(src)
	if err != nil {
		return err
	}
	var overflow bool
	var lo uint16
	if src.Size == 1 {
		p := int16(int8(cpu.Reg.GetByte(AL))) * int16(int8(v))
		cpu.Reg.Set(AX, uint16(p))
		overflow = p != int16(int8(p))
		lo = uint16(p) & 0xff
	} else {
		p := int32(int16(cpu.Reg.Get(AX))) * int32(int16(v))
		cpu.Reg.Set(AX, uint16(p))
		cpu.Reg.Set(DX, uint16(uint32(p)>>16))
		overflow = p != int32(int16(p))
		lo = uint16(p)
	}
	cpu.mulFlags(overflow, lo, src.Size)
	return nil
}

func (cpu *CPU) mulFlags(upper bool, lo uint16, size int) {
	cpu.Reg.SetFlag(CF, upper)
	cpu.Reg.SetFlag(OF, upper)
	cpu.Reg.SetFlag(AF, false)
	cpu.Reg.setSZP(lo, size)
}

// DIV and IDIV leave the flags unchanged.
func (cpu *CPU) div(inst *Instruction) error {
	src := &inst.Operands[0]
	v, err := cpu.load(src)
	if err != nil {
		return err
	}
	if v == 0 {
		return runtimeErrorf(DivisionByZero, "division by zero")
	}
	if src.Size == 1 {
		n := cpu.Reg.Get(AX)
		q, r := n/v, n%v
		if q > 0xff {
			return runtimeErrorf(DivideOverflow, "quotient %04X does not fit in AL", q)
		}
		cpu.Reg.SetByte(AL, byte(q))
		cpu.Reg.SetByte(AH, byte(r))
	} else {
		n := uint32(cpu.Reg.Get(DX))<<16 | uint32(cpu.Reg.Get(AX))
		q, r := n/uint32(v), n%uint32(v)
		if q > 0xffff {
			return runtimeErrorf(DivideOverflow, "quotient %08X does not fit in AX", q)
		}
		cpu.Reg.Set(AX, uint16(q))
		cpu.Reg.Set(DX, uint16(r))
	}
	return nil
}

func (cpu *CPU) idiv(inst *Instruction) error {
	src := &inst.Operands[0]
	v, err := cpu.load(src)
	if err != nil {
		return err
	}
	if src.Size == 1 {
		d := int32(int8(v))
		if d == 0 {
			return runtimeErrorf(DivisionByZero, "division by zero")
		}
		n := int32(int16(cpu.Reg.Get(AX)))
		q, r := n/d, n%d
		// The 8086 faults on a quotient of 80H; later processors accept it.
		if q > 127 || q < -127 {
			return runtimeErrorf(DivideOverflow, "quotient %d does not fit in AL", q)
		}
		cpu.Reg.SetByte(AL, byte(int8(q)))
		cpu.Reg.SetByte(AH, byte(int8(r)))
	} else {
		d := int64(int16(v))
		if d == 0 {
			return runtimeErrorf(DivisionByZero, "division by zero")
		}
		n := int64(int32(uint32(cpu.Reg.Get(DX))<<16 | uint32(cpu.Reg.Get(AX))))
		q, r := n/d, n%d
		if q > 32767 || q < -32767 {
			return runtimeErrorf(DivideOverflow, "quotient %d does not fit in AX", q)
		}
		cpu.Reg.Set(AX, uint16(int16(q)))
		cpu.Reg.Set(DX, uint16(int16(r)))
	}
	return nil
}

//
// Logic
//

func (cpu *CPU) and(inst *Instruction) error {
	return cpu.binary(inst, true, func(a, b uint16, size int) uint16 {
		return cpu.Reg.Logic(a&b, size)
	})
}

func (cpu *CPU) or(inst *Instruction) error {
	return cpu.binary(inst, true, func(a, b uint16, size int) uint16 {
		return cpu.Reg.Logic(a|b, size)
	})
}

func (cpu *CPU) xor(inst *Instruction) error {
	return cpu.binary(inst, true, func(a, b uint16, size int) uint16 {
		return cpu.Reg.Logic(a^b, size)
	})
}

func (cpu *CPU) test(inst *Instruction) error {
	return cpu.binary(inst, false, func(a, b uint16, size int) uint16 {
		return cpu.Reg.Logic(a&b, size)
	})
}

// NOT affects no flags.
func (cpu *CPU) not(inst *Instruction) error {
	return cpu.unary(inst, func(v uint16, size int) uint16 {
		return ^v
	})
}

//
// Shifts and rotates
//

func (cpu *CPU) shiftBy(inst *Instruction, op shiftOp) error {
	dst := &inst.Operands[0]
	count, err := cpu.load(&inst.Operands[1])
	if err != nil {
		return err
	}
	v, err := cpu.load(dst)
	if err != nil {
		return err
	}
	return cpu.store(dst, cpu.Reg.shift(op, v, byte(count), dst.Size))
}

func (cpu *CPU) shl(inst *Instruction) error { return cpu.shiftBy(inst, shiftSHL) }
func (cpu *CPU) shr(inst *Instruction) error { return cpu.shiftBy(inst, shiftSHR) }
func (cpu *CPU) sar(inst *Instruction) error { return cpu.shiftBy(inst, shiftSAR) }
func (cpu *CPU) rol(inst *Instruction) error { return cpu.shiftBy(inst, shiftROL) }
func (cpu *CPU) ror(inst *Instruction) error { return cpu.shiftBy(inst, shiftROR) }
func (cpu *CPU) rcl(inst *Instruction) error { return cpu.shiftBy(inst, shiftRCL) }
func (cpu *CPU) rcr(inst *Instruction) error { return cpu.shiftBy(inst, shiftRCR) }

//
// Control flow
//

func jcc(cond func(r *Registers) bool) instfunc {
	return func(cpu *CPU, inst *Instruction) error {
		if cond(&cpu.Reg) {
			cpu.next = inst.Operands[0].Target
		}
		return nil
	}
}

func (cpu *CPU) jcxz(inst *Instruction) error {
	if cpu.Reg.Get(CX) == 0 {
		cpu.next = inst.Operands[0].Target
	}
	return nil
}

// LOOP decrements CX without touching flags and branches while CX is
// non-zero and the condition holds. A loop entered with CX=0 wraps to
// 0xFFFF and runs 65536 times.
func loop(cond func(r *Registers) bool) instfunc {
	return func(cpu *CPU, inst *Instruction) error {
		cx := cpu.Reg.Get(CX) - 1
		cpu.Reg.Set(CX, cx)
		if cx != 0 && cond(&cpu.Reg) {
			cpu.next = inst.Operands[0].Target
		}
		return nil
	}
}

func (cpu *CPU) call(inst *Instruction) error {
	ret := inst.Offset + uint16(inst.Length)
	if err := cpu.pushWord(ret); err != nil {
		return err
	}
	cpu.next = inst.Operands[0].Target
	return nil
}

func (cpu *CPU) ret(inst *Instruction) error {
	addr, err := cpu.popWord()
	if err != nil {
		return err
	}
	if len(inst.Operands) > 0 {
		cpu.Reg.Set(SP, cpu.Reg.Get(SP)+inst.Operands[0].Imm)
	}
	i := cpu.program.IndexOf(addr)
	if i < 0 {
		return runtimeErrorf(InvalidReturn, "return to %04X, which is not the start of an instruction", addr)
	}
	cpu.next = i
	return nil
}

//
// Flags
//

func (cpu *CPU) clc(inst *Instruction) error { cpu.Reg.SetFlag(CF, false); return nil }
func (cpu *CPU) stc(inst *Instruction) error { cpu.Reg.SetFlag(CF, true); return nil }
func (cpu *CPU) cmc(inst *Instruction) error { cpu.Reg.SetFlag(CF, !cpu.Reg.Flag(CF)); return nil }
func (cpu *CPU) cld(inst *Instruction) error { cpu.Reg.SetFlag(DF, false); return nil }
func (cpu *CPU) std(inst *Instruction) error { cpu.Reg.SetFlag(DF, true); return nil }
func (cpu *CPU) cli(inst *Instruction) error { cpu.Reg.SetFlag(IF, false); return nil }
func (cpu *CPU) sti(inst *Instruction) error { cpu.Reg.SetFlag(IF, true); return nil }

//
// Interrupts and halting
//

// Maximum length of a '$'-terminated string printed by INT 21H/09H.
const maxDOSString = 4096

func (cpu *CPU) int(inst *Instruction) error {
	n := inst.Operands[0].Imm
	switch n {
	case 0x20:
		cpu.Exited = true
		cpu.halt()
		return nil
	case 0x21:
		return cpu.dos()
	default:
		return runtimeErrorf(UnsupportedFeature, "interrupt %02XH is not supported", n)
	}
}

// Handle the DOS services the simulator understands.
func (cpu *CPU) dos() error {
	fn := cpu.Reg.GetByte(AH)
	switch fn {
	case 0x4c:
		cpu.Exited = true
		cpu.ExitCode = cpu.Reg.GetByte(AL)
		cpu.halt()
		return nil

	case 0x02:
		cpu.write(cpu.Reg.GetByte(DL))
		return nil

	case 0x09:
		ds, off := cpu.Reg.Get(DS), cpu.Reg.Get(DX)
		var s []byte
		for i := 0; i < maxDOSString; i++ {
			v, err := cpu.LoadMem(ds, off+uint16(i), 1)
			if err != nil {
				return err
			}
			if v == '$' {
				cpu.write(s...)
				return nil
			}
			s = append(s, byte(v))
		}
		return runtimeErrorf(UnsupportedFeature, "string at %04X:%04X is not terminated by '$'", ds, off)

	default:
		return runtimeErrorf(UnsupportedFeature, "INT 21H function %02XH is not supported", fn)
	}
}

func (cpu *CPU) hlt(inst *Instruction) error {
	cpu.halt()
	return nil
}
