// Copyright 2014-2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cpu_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/bits"
	"strings"
	"testing"

	"github.com/beevik/go8086/asm"
	"github.com/beevik/go8086/cpu"
)

func assemble(t *testing.T, code string) *cpu.Program {
	t.Helper()
	a, _, err := asm.Assemble(strings.NewReader(code), "test.asm", nil, 0)
	if err != nil {
		for _, e := range a.Errors {
			t.Error(e)
		}
		t.Fatalf("assembly failed: %v", err)
	}
	return a.Program
}

func loadCPU(t *testing.T, code string) *cpu.CPU {
	t.Helper()
	c := cpu.NewCPU(cpu.NewFlatMemory())
	if err := c.Load(assemble(t, code)); err != nil {
		t.Fatal(err)
	}
	return c
}

func runCPU(t *testing.T, code string) (*cpu.CPU, error) {
	t.Helper()
	c := loadCPU(t, code)
	err := c.Run(context.Background(), 1000000)
	return c, err
}

func runOK(t *testing.T, code string) *cpu.CPU {
	t.Helper()
	c, err := runCPU(t, code)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	return c
}

func expectReg(t *testing.T, c *cpu.CPU, r cpu.Reg, v uint16) {
	t.Helper()
	if got := c.Reg.Get(r); got != v {
		t.Errorf("%s incorrect. exp: %04X, got: %04X", r, v, got)
	}
}

func expectFlag(t *testing.T, c *cpu.CPU, f cpu.Flag, v bool) {
	t.Helper()
	if got := c.Reg.Flag(f); got != v {
		t.Errorf("%s incorrect. exp: %v, got: %v", f, v, got)
	}
}

func expectRuntimeError(t *testing.T, err error, kind cpu.ErrorKind, line int) *cpu.RuntimeError {
	t.Helper()
	var rt *cpu.RuntimeError
	if !errors.As(err, &rt) {
		t.Fatalf("expected a runtime error, got: %v", err)
	}
	if rt.Kind != kind || rt.Line != line {
		t.Errorf("runtime error incorrect. exp: %v line %d, got: %v line %d", kind, line, rt.Kind, rt.Line)
	}
	return rt
}

func TestAddByte(t *testing.T) {
	c := runOK(t, "MOV AL,20H\nADD AL,30H\nMOV AH,4CH\nINT 21H")
	expectReg(t, c, cpu.AL, 0x50)
	expectFlag(t, c, cpu.ZF, false)
	expectFlag(t, c, cpu.CF, false)
	if !c.Exited || c.State != cpu.Halted || c.Steps != 4 {
		t.Errorf("termination incorrect. exited=%v state=%v steps=%d", c.Exited, c.State, c.Steps)
	}
}

func TestByteRegisterAliasing(t *testing.T) {
	c := runOK(t, "MOV AX,1234H\nMOV AL,00H")
	expectReg(t, c, cpu.AX, 0x1200)

	c = runOK(t, "MOV BX,1234H\nMOV BH,0ABH")
	expectReg(t, c, cpu.BX, 0xab34)
	expectReg(t, c, cpu.BL, 0x34)
}

func TestInitialState(t *testing.T) {
	c := loadCPU(t, "NOP")
	expectReg(t, c, cpu.CS, asm.LoadSegment)
	expectReg(t, c, cpu.SS, asm.LoadSegment+1)
	expectReg(t, c, cpu.SP, 0x100)
	expectReg(t, c, cpu.IP, 0)
	expectReg(t, c, cpu.DS, 0)
	if c.State != cpu.NotStarted {
		t.Errorf("state incorrect. exp: NotStarted, got: %v", c.State)
	}
	if f := c.Reg.Flags(); f != 0xf002 {
		t.Errorf("FLAGS incorrect. exp: F002, got: %04X", f)
	}
}

func TestFallOffEnd(t *testing.T) {
	c := loadCPU(t, "NOP\nNOP")
	for i := 0; i < 2; i++ {
		if err := c.Step(); err != nil {
			t.Fatal(err)
		}
	}
	if c.State != cpu.Halted {
		t.Errorf("state incorrect. exp: Halted, got: %v", c.State)
	}
	expectReg(t, c, cpu.IP, 2)
	if err := c.Step(); !errors.Is(err, cpu.ErrHalted) {
		t.Errorf("expected ErrHalted, got: %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	c := cpu.NewCPU(cpu.NewFlatMemory())
	if err := c.Load(nil); !errors.Is(err, cpu.ErrNoProgram) {
		t.Errorf("expected ErrNoProgram, got: %v", err)
	}
	if err := c.Step(); !errors.Is(err, cpu.ErrNoProgram) {
		t.Errorf("expected ErrNoProgram, got: %v", err)
	}
	if err := c.Load(&cpu.Program{Entry: 3}); !errors.Is(err, cpu.ErrBadProgram) {
		t.Errorf("expected ErrBadProgram, got: %v", err)
	}
}

func TestFlagsAdd(t *testing.T) {
	cases := []struct {
		a, b   uint16
		size   int
		result uint16
		cf, zf bool
		sf, of bool
		pf, af bool
	}{
		{0x0000, 0x0000, 2, 0x0000, false, true, false, false, true, false},
		{0x0001, 0x0001, 2, 0x0002, false, false, false, false, false, false},
		{0x7fff, 0x0001, 2, 0x8000, false, false, true, true, true, true},
		{0x8000, 0x8000, 2, 0x0000, true, true, false, true, true, false},
		{0xffff, 0x0001, 2, 0x0000, true, true, false, false, true, true},
		{0x20, 0x30, 1, 0x50, false, false, false, false, true, false},
		{0x7f, 0x01, 1, 0x80, false, false, true, true, false, true},
		{0xff, 0x01, 1, 0x00, true, true, false, false, true, true},
	}

	for _, c := range cases {
		var r cpu.Registers
		got := r.Add(c.a, c.b, 0, c.size)
		if got != c.result {
			t.Errorf("%04X+%04X result incorrect. exp: %04X, got: %04X", c.a, c.b, c.result, got)
		}
		checkFlags(t, &r, "add", c.cf, c.zf, c.sf, c.of, c.pf, c.af)
	}
}

func TestFlagsSub(t *testing.T) {
	cases := []struct {
		a, b   uint16
		size   int
		result uint16
		cf, zf bool
		sf, of bool
		pf, af bool
	}{
		{0x0000, 0x0001, 2, 0xffff, true, false, true, false, true, true},
		{0x8000, 0x0001, 2, 0x7fff, false, false, false, true, true, true},
		{0x7fff, 0xffff, 2, 0x8000, true, false, true, true, true, false},
		{0x0005, 0x0005, 2, 0x0000, false, true, false, false, true, false},
		{0x0003, 0x0005, 2, 0xfffe, true, false, true, false, false, true},
		{0x80, 0x01, 1, 0x7f, false, false, false, true, false, true},
	}

	for _, c := range cases {
		var r cpu.Registers
		got := r.Sub(c.a, c.b, 0, c.size)
		if got != c.result {
			t.Errorf("%04X-%04X result incorrect. exp: %04X, got: %04X", c.a, c.b, c.result, got)
		}
		checkFlags(t, &r, "sub", c.cf, c.zf, c.sf, c.of, c.pf, c.af)
	}
}

func checkFlags(t *testing.T, r *cpu.Registers, op string, cf, zf, sf, of, pf, af bool) {
	t.Helper()
	exp := []bool{cf, zf, sf, of, pf, af}
	flags := []cpu.Flag{cpu.CF, cpu.ZF, cpu.SF, cpu.OF, cpu.PF, cpu.AF}
	for i, f := range flags {
		if r.Flag(f) != exp[i] {
			t.Errorf("%s: %s incorrect. exp: %v, got: %v", op, f, exp[i], r.Flag(f))
		}
	}
}

// Reference flags for a 16-bit add or subtract, computed from the wide
// unsigned and signed results.
type flagResult struct {
	res                    uint16
	cf, zf, sf, of, pf, af bool
}

func refFlags(u, s int, nibble int) flagResult {
	res := uint16(u)
	return flagResult{
		res: res,
		cf:  u < 0 || u > 0xffff,
		zf:  res == 0,
		sf:  res&0x8000 != 0,
		of:  s < -0x8000 || s > 0x7fff,
		pf:  bits.OnesCount8(uint8(res))%2 == 0,
		af:  nibble < 0 || nibble > 0xf,
	}
}

func refAdd(a, b, c uint16) flagResult {
	return refFlags(int(a)+int(b)+int(c), int(int16(a))+int(int16(b))+int(c),
		int(a&0xf)+int(b&0xf)+int(c))
}

func refSub(a, b, c uint16) flagResult {
	return refFlags(int(a)-int(b)-int(c), int(int16(a))-int(int16(b))-int(c),
		int(a&0xf)-int(b&0xf)-int(c))
}

func TestFlagGrid(t *testing.T) {
	values := []uint16{0x0000, 0x0001, 0x7fff, 0x8000, 0xffff}
	setCarry := []string{"CLC", "STC"}

	binary := []struct {
		op    string
		ref   func(a, b, c uint16) flagResult
		carry bool // carry-in participates
		store bool // result written to AX
	}{
		{"ADD", refAdd, false, true},
		{"ADC", refAdd, true, true},
		{"SUB", refSub, false, true},
		{"SBB", refSub, true, true},
		{"CMP", refSub, false, false},
	}
	for _, bin := range binary {
		for _, a := range values {
			for _, b := range values {
				for cin := uint16(0); cin < 2; cin++ {
					code := fmt.Sprintf("MOV AX,0%04XH\nMOV BX,0%04XH\n%s\n%s AX,BX", a, b, setCarry[cin], bin.op)
					c := runOK(t, code)
					var exp flagResult
					if bin.carry {
						exp = bin.ref(a, b, cin)
					} else {
						exp = bin.ref(a, b, 0)
					}
					if !bin.store {
						exp.res = a
					}
					name := fmt.Sprintf("%s %04X,%04X cf=%d", bin.op, a, b, cin)
					expectReg(t, c, cpu.AX, exp.res)
					checkFlags(t, &c.Reg, name, exp.cf, exp.zf, exp.sf, exp.of, exp.pf, exp.af)
				}
			}
		}
	}

	unary := []struct {
		op  string
		ref func(a uint16) flagResult
		cf  bool // CF comes from the operation rather than carry-in
	}{
		{"NEG", func(a uint16) flagResult { return refSub(0, a, 0) }, true},
		{"INC", func(a uint16) flagResult { return refAdd(a, 1, 0) }, false},
		{"DEC", func(a uint16) flagResult { return refSub(a, 1, 0) }, false},
	}
	for _, un := range unary {
		for _, a := range values {
			for cin := uint16(0); cin < 2; cin++ {
				code := fmt.Sprintf("MOV AX,0%04XH\n%s\n%s AX", a, setCarry[cin], un.op)
				c := runOK(t, code)
				exp := un.ref(a)
				if !un.cf {
					exp.cf = cin == 1
				}
				name := fmt.Sprintf("%s %04X cf=%d", un.op, a, cin)
				expectReg(t, c, cpu.AX, exp.res)
				checkFlags(t, &c.Reg, name, exp.cf, exp.zf, exp.sf, exp.of, exp.pf, exp.af)
			}
		}
	}
}

func TestIncPreservesCarry(t *testing.T) {
	c := runOK(t, "STC\nMOV AX, 0FFFFH\nINC AX")
	expectReg(t, c, cpu.AX, 0)
	expectFlag(t, c, cpu.CF, true)
	expectFlag(t, c, cpu.ZF, true)
}

func TestLogic(t *testing.T) {
	c := runOK(t, "STC\nMOV AX, 0F0F0H\nAND AX, 8080H")
	expectReg(t, c, cpu.AX, 0x8080)
	expectFlag(t, c, cpu.CF, false)
	expectFlag(t, c, cpu.SF, true)

	c = runOK(t, "MOV AL, 0FH\nNOT AL\nXOR BX, BX")
	expectReg(t, c, cpu.AL, 0xf0)
	expectReg(t, c, cpu.BX, 0)
	expectFlag(t, c, cpu.ZF, true)
}

func TestShifts(t *testing.T) {
	c := runOK(t, "MOV AL, 81H\nSHL AL, 1")
	expectReg(t, c, cpu.AL, 0x02)
	expectFlag(t, c, cpu.CF, true)
	expectFlag(t, c, cpu.OF, true)

	c = runOK(t, "MOV AX, 1\nMOV CL, 4\nSHL AX, CL")
	expectReg(t, c, cpu.AX, 0x10)

	c = runOK(t, "MOV AL, 80H\nSAR AL, 1")
	expectReg(t, c, cpu.AL, 0xc0)
	expectFlag(t, c, cpu.CF, false)

	c = runOK(t, "MOV AL, 1\nROR AL, 1")
	expectReg(t, c, cpu.AL, 0x80)
	expectFlag(t, c, cpu.CF, true)

	c = runOK(t, "STC\nMOV AL, 0\nRCL AL, 1")
	expectReg(t, c, cpu.AL, 0x01)
	expectFlag(t, c, cpu.CF, false)
}

func TestMultiplyDivide(t *testing.T) {
	c := runOK(t, "MOV AL, 10H\nMOV BL, 20H\nMUL BL")
	expectReg(t, c, cpu.AX, 0x0200)
	expectFlag(t, c, cpu.CF, true)

	c = runOK(t, "MOV AX, 1000H\nMOV BX, 10H\nMUL BX")
	expectReg(t, c, cpu.AX, 0x0000)
	expectReg(t, c, cpu.DX, 0x0001)

	c = runOK(t, "MOV AL, -2\nMOV BL, 3\nIMUL BL")
	expectReg(t, c, cpu.AX, 0xfffa)
	expectFlag(t, c, cpu.CF, false)

	c = runOK(t, "MOV AX, 100\nMOV BL, 7\nDIV BL")
	expectReg(t, c, cpu.AL, 14)
	expectReg(t, c, cpu.AH, 2)

	c = runOK(t, "MOV AX, -7\nMOV BL, 2\nIDIV BL")
	expectReg(t, c, cpu.AL, 0xfd)
	expectReg(t, c, cpu.AH, 0xff)
}

func TestDivisionByZero(t *testing.T) {
	c, err := runCPU(t, "MOV AX,5\nMOV BX,0\nDIV BX\nMOV CX,1")
	rt := expectRuntimeError(t, err, cpu.DivisionByZero, 3)
	if rt.Index != 2 || rt.Instruction != "DIV BX" {
		t.Errorf("runtime error location incorrect. got: %d %q", rt.Index, rt.Instruction)
	}
	if rt.Error() != "RuntimeError: DivisionByZero at line 3: division by zero" {
		t.Errorf("error string incorrect. got: %s", rt.Error())
	}
	if c.State != cpu.Faulted || c.Steps != 2 {
		t.Errorf("state incorrect. got: %v after %d steps", c.State, c.Steps)
	}
	expectReg(t, c, cpu.AX, 5)
	if err := c.Step(); err != c.Fault {
		t.Errorf("a faulted CPU should keep returning its fault, got: %v", err)
	}
}

func TestDivideOverflow(t *testing.T) {
	_, err := runCPU(t, "MOV AX, 1000H\nMOV BL, 2\nDIV BL")
	expectRuntimeError(t, err, cpu.DivideOverflow, 3)

	// Quotients of 80H and 8000H overflow on the 8086.
	_, err = runCPU(t, "MOV AX, -128\nMOV BL, 1\nIDIV BL")
	expectRuntimeError(t, err, cpu.DivideOverflow, 3)

	_, err = runCPU(t, "MOV DX, 0FFFFH\nMOV AX, 8000H\nMOV BX, 1\nIDIV BX")
	expectRuntimeError(t, err, cpu.DivideOverflow, 4)

	c := runOK(t, "MOV AX, -127\nMOV BL, 1\nIDIV BL")
	expectReg(t, c, cpu.AL, 0x81)
	expectReg(t, c, cpu.AH, 0)

	c = runOK(t, "MOV DX, 0FFFFH\nMOV AX, 8001H\nMOV BX, 1\nIDIV BX")
	expectReg(t, c, cpu.AX, 0x8001)
	expectReg(t, c, cpu.DX, 0)
}

func TestStepLimit(t *testing.T) {
	c := loadCPU(t, "again: JMP again")
	err := c.Run(context.Background(), 10000)
	expectRuntimeError(t, err, cpu.StepLimitExceeded, 1)
	if c.Steps != 10000 {
		t.Errorf("steps incorrect. exp: 10000, got: %d", c.Steps)
	}
}

func TestRunCancelled(t *testing.T) {
	c := loadCPU(t, "again: JMP again")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Run(ctx, 0)
	expectRuntimeError(t, err, cpu.StepLimitExceeded, 1)
	if c.Steps != 0 {
		t.Errorf("steps incorrect. exp: 0, got: %d", c.Steps)
	}
}

func TestConditionalJumps(t *testing.T) {
	code := `
	MOV AX, %s
	CMP AX, 3
	%s YES
	MOV BX, 1
	HLT
YES: MOV BX, 2
	HLT`

	cases := []struct {
		value string
		jump  string
		taken bool
	}{
		{"5", "JG", true},
		{"5", "JA", true},
		{"5", "JB", false},
		{"3", "JE", true},
		{"3", "JNE", false},
		{"-1", "JL", true},
		{"-1", "JB", false},
		{"-1", "JA", true},
		{"2", "JLE", true},
		{"2", "JGE", false},
	}

	for _, tc := range cases {
		src := strings.Replace(strings.Replace(code, "%s", tc.value, 1), "%s", tc.jump, 1)
		c := runOK(t, src)
		exp := uint16(1)
		if tc.taken {
			exp = 2
		}
		if got := c.Reg.Get(cpu.BX); got != exp {
			t.Errorf("%s with AX=%s incorrect. exp: BX=%d, got: BX=%d", tc.jump, tc.value, exp, got)
		}
	}
}

func TestLoop(t *testing.T) {
	c := runOK(t, "MOV CX, 3\nMOV AX, 0\nL1: INC AX\nLOOP L1")
	expectReg(t, c, cpu.AX, 3)
	expectReg(t, c, cpu.CX, 0)
}

func TestLoopWraparound(t *testing.T) {
	c := runOK(t, "MOV CX, 0\nMOV BX, 0\nL1: INC BX\nLOOP L1")
	expectReg(t, c, cpu.BX, 0)
	expectReg(t, c, cpu.CX, 0)
	if c.Steps != 2+65536*2 {
		t.Errorf("steps incorrect. exp: %d, got: %d", 2+65536*2, c.Steps)
	}
}

func TestJcxz(t *testing.T) {
	c := runOK(t, "MOV CX, 0\nJCXZ DONE\nMOV AX, 1\nDONE: NOP")
	expectReg(t, c, cpu.AX, 0)
}

func TestPushPop(t *testing.T) {
	c := runOK(t, "MOV AX, 1234H\nPUSH AX\nPOP BX\nPUSHF\nPOP CX")
	expectReg(t, c, cpu.BX, 0x1234)
	expectReg(t, c, cpu.CX, 0xf002)
	expectReg(t, c, cpu.SP, 0x100)
}

func TestCallReturn(t *testing.T) {
	code := `
	MOV AX, 1
	CALL DOUBLE
	MOV BX, AX
	HLT
DOUBLE PROC
	ADD AX, AX
	RET
DOUBLE ENDP`

	c := loadCPU(t, code)
	for i := 0; i < 2; i++ {
		if err := c.Step(); err != nil {
			t.Fatal(err)
		}
	}
	expectReg(t, c, cpu.SP, 0xfe)
	expectReg(t, c, cpu.IP, 9)
	ret, _ := c.LoadMem(c.Reg.Get(cpu.SS), 0xfe, 2)
	if ret != 6 {
		t.Errorf("return address incorrect. exp: 0006, got: %04X", ret)
	}

	if err := c.Run(context.Background(), 100); err != nil {
		t.Fatal(err)
	}
	expectReg(t, c, cpu.AX, 2)
	expectReg(t, c, cpu.BX, 2)
	expectReg(t, c, cpu.SP, 0x100)
}

func TestStackErrors(t *testing.T) {
	_, err := runCPU(t, "POP AX")
	expectRuntimeError(t, err, cpu.StackUnderflow, 1)

	_, err = runCPU(t, "MOV AX, 1\nPUSH AX\nRET")
	expectRuntimeError(t, err, cpu.InvalidReturn, 3)

	_, err = runCPU(t, "MOV SP, 1\nPUSH AX")
	expectRuntimeError(t, err, cpu.StackOverflow, 2)
}

func TestRollback(t *testing.T) {
	p := assemble(t, "MOV AX, 07FFH\nMOV DS, AX\nMOV WORD PTR [000FH], 1234H")
	mem := cpu.NewFlatMemorySize(0x8000)
	mem.StoreByte(0x7fff, 0xaa)

	c := cpu.NewCPU(mem)
	if err := c.Load(p); err != nil {
		t.Fatal(err)
	}
	err := c.Run(context.Background(), 10)
	expectRuntimeError(t, err, cpu.SegmentationFault, 3)

	if b, _ := mem.LoadByte(0x7fff); b != 0xaa {
		t.Errorf("memory was not rolled back. exp: AA, got: %02X", b)
	}
	expectReg(t, c, cpu.IP, 5)
	expectReg(t, c, cpu.DS, 0x07ff)
}

func TestDOSOutput(t *testing.T) {
	code := `.MODEL SMALL
.STACK 100H
.DATA
MSG DB 'Hello$'
.CODE
START:
	MOV AX, @DATA
	MOV DS, AX
	MOV AH, 9
	LEA DX, MSG
	INT 21H
	MOV AH, 2
	MOV DL, '!'
	INT 21H
	MOV AX, 4C03H
	INT 21H
	MOV AX, 1
END START`

	c := loadCPU(t, code)
	var buf bytes.Buffer
	c.AttachOutput(&buf)
	if err := c.Run(context.Background(), 100); err != nil {
		t.Fatal(err)
	}
	if c.Output() != "Hello!" || buf.String() != "Hello!" {
		t.Errorf("output incorrect. exp: Hello!, got: %q / %q", c.Output(), buf.String())
	}
	if !c.Exited || c.ExitCode != 3 {
		t.Errorf("exit incorrect. got: exited=%v code=%d", c.Exited, c.ExitCode)
	}
	expectReg(t, c, cpu.AX, 0x4c03)
}

func TestUnsupportedInterrupt(t *testing.T) {
	_, err := runCPU(t, "INT 10H")
	rt := expectRuntimeError(t, err, cpu.UnsupportedFeature, 1)
	if rt.Message != "interrupt 10H is not supported" {
		t.Errorf("message incorrect. got: %s", rt.Message)
	}
}

type breakpointRecorder struct {
	code []uint16
	data []uint32
}

func (r *breakpointRecorder) OnBreakpoint(c *cpu.CPU, b *cpu.Breakpoint) {
	r.code = append(r.code, b.Address)
}

func (r *breakpointRecorder) OnDataBreakpoint(c *cpu.CPU, b *cpu.DataBreakpoint) {
	r.data = append(r.data, b.Address)
}

func TestDebugger(t *testing.T) {
	c := loadCPU(t, "MOV AX, 1234H\nMOV BX, 2\nPUSH AX\nPUSH BX")

	rec := &breakpointRecorder{}
	d := cpu.NewDebugger(rec)
	d.AddBreakpoint(3)
	d.AddStepOverBreakpoint(6)
	top := cpu.Linear(c.Reg.Get(cpu.SS), 0xfe)
	d.AddConditionalDataBreakpoint(top, 0x34)
	d.AddDataBreakpoint(top - 2)
	c.AttachDebugger(d)

	if err := c.Run(context.Background(), 10); err != nil {
		t.Fatal(err)
	}
	if len(rec.code) != 2 || rec.code[0] != 3 || rec.code[1] != 6 {
		t.Errorf("code breakpoints incorrect. got: %v", rec.code)
	}
	if len(rec.data) != 2 || rec.data[0] != top || rec.data[1] != top-2 {
		t.Errorf("data breakpoints incorrect. got: %v", rec.data)
	}
	if d.GetBreakpoint(6) != nil {
		t.Errorf("step-over breakpoint was not removed")
	}
	if bps := d.GetBreakpoints(); len(bps) != 1 || bps[0].Address != 3 {
		t.Errorf("breakpoint list incorrect. got: %v", bps)
	}
}

type stepCounter struct {
	steps  int
	writes int
}

func (s *stepCounter) OnStep(c *cpu.CPU, inst *cpu.Instruction, before cpu.Registers, writes []cpu.MemoryWrite) error {
	s.steps++
	s.writes += len(writes)
	return nil
}

func TestTracer(t *testing.T) {
	c := loadCPU(t, "MOV AX, 1\nPUSH AX\nPOP BX")
	tr := &stepCounter{}
	c.AttachTracer(tr)
	if err := c.Run(context.Background(), 10); err != nil {
		t.Fatal(err)
	}
	if tr.steps != 3 || tr.writes != 2 {
		t.Errorf("tracer incorrect. exp: 3 steps 2 writes, got: %d steps %d writes", tr.steps, tr.writes)
	}
}
