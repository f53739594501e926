// Copyright 2014-2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package asm

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/beevik/go8086/cpu"
)

func assemble(code string) (*Assembly, error) {
	r := bytes.NewReader([]byte(code))
	assembly, _, err := Assemble(r, "test", nil, 0)
	return assembly, err
}

func assembleOK(t *testing.T, code string) *Assembly {
	t.Helper()
	a, err := assemble(code)
	if err != nil {
		for _, e := range a.Errors {
			t.Error(e)
		}
		t.Fatalf("assembly failed: %v", err)
	}
	return a
}

func checkASMError(t *testing.T, code string, kind ErrorKind, line int, msg string) {
	t.Helper()
	a, err := assemble(code)
	if !errors.Is(err, ErrAssembly) {
		t.Errorf("Expected error on %q, didn't get one", code)
		return
	}
	if len(a.Errors) == 0 {
		t.Errorf("Expected errors to be listed for %q", code)
		return
	}
	e := a.Errors[0]
	if e.Kind != kind || e.Line != line || e.Message != msg {
		t.Errorf("error incorrect.\nexp: %v line %d: %s\ngot: %v line %d: %s", kind, line, msg, e.Kind, e.Line, e.Message)
	}
}

func checkOffsets(t *testing.T, a *Assembly, exp []uint16) {
	t.Helper()
	insts := a.Program.Instructions
	if len(insts) != len(exp) {
		t.Errorf("instruction count incorrect. exp: %d, got: %d", len(exp), len(insts))
		return
	}
	for i, inst := range insts {
		if inst.Offset != exp[i] {
			t.Errorf("%s: offset incorrect. exp: %04X, got: %04X", inst.Source, exp[i], inst.Offset)
		}
	}
}

func checkBytes(t *testing.T, what string, got, exp []byte) {
	t.Helper()
	if !bytes.Equal(got, exp) {
		t.Errorf("%s incorrect.\nexp: %s\ngot: %s", what, byteString(exp), byteString(got))
	}
}

const program = `TITLE test
DATA SEGMENT
ARRAY  DB 10H,20H,30H
COUNT  DW 3
MSG    DB 'HI$'
MSGLEN EQU $-MSG
BUF    DB 4 DUP(?)
DATA ENDS

STACK SEGMENT STACK
       DW 64 DUP(?)
STACK ENDS

CODE SEGMENT
       ASSUME CS:CODE, DS:DATA, SS:STACK
MAIN PROC
START: MOV AX, DATA
       MOV DS, AX
       MOV AL, ARRAY[1]
       MOV BX, COUNT
       CALL HELPER
       MOV AH, 4CH
       INT 21H
MAIN ENDP
HELPER PROC
       INC BX
       RET
HELPER ENDP
CODE ENDS
       END START`

func TestSnippet(t *testing.T) {
	a := assembleOK(t, "MOV AL,20H\nADD AL,30H\nMOV AH,4CH\nINT 21H")
	checkOffsets(t, a, []uint16{0, 2, 5, 7})

	p := a.Program
	if p.CodeSegment != LoadSegment || p.StackSegment != LoadSegment+1 || p.StackPointer != 0x100 {
		t.Errorf("layout incorrect. got: CS=%04X SS=%04X SP=%04X", p.CodeSegment, p.StackSegment, p.StackPointer)
	}
	if len(a.Warnings) != 1 || !strings.Contains(a.Warnings[0], "default 256-byte stack") {
		t.Errorf("warnings incorrect. got: %v", a.Warnings)
	}

	op := p.Instructions[1].Operands
	if op[0].Kind != cpu.RegisterOperand || op[0].Reg != cpu.AL || op[0].Size != 1 {
		t.Errorf("ADD destination incorrect. got: %+v", op[0])
	}
	if op[1].Kind != cpu.ImmediateOperand || op[1].Imm != 0x30 || op[1].Size != 1 {
		t.Errorf("ADD source incorrect. got: %+v", op[1])
	}
}

func TestProgramLayout(t *testing.T) {
	a := assembleOK(t, program)
	checkOffsets(t, a, []uint16{0, 3, 5, 9, 13, 16, 18, 20, 21})

	data, stack, code := a.IR.Segment("DATA"), a.IR.Segment("STACK"), a.IR.Segment("CODE")
	if data.Kind != DataSegment || stack.Kind != StackSegment || code.Kind != CodeSegment {
		t.Errorf("segment kinds incorrect. got: %v %v %v", data.Kind, stack.Kind, code.Kind)
	}
	if data.Base != 0x0700 || stack.Base != 0x0701 || code.Base != 0x0709 {
		t.Errorf("segment bases incorrect. got: %04X %04X %04X", data.Base, stack.Base, code.Base)
	}
	if data.Size != 12 || stack.Size != 128 || code.Size != 22 {
		t.Errorf("segment sizes incorrect. got: %d %d %d", data.Size, stack.Size, code.Size)
	}
	checkBytes(t, "data segment", data.Bytes,
		[]byte{0x10, 0x20, 0x30, 0x03, 0x00, 'H', 'I', '$', 0, 0, 0, 0})

	p := a.Program
	if p.Entry != 0 || p.CodeSegment != 0x0709 || p.StackSegment != 0x0701 || p.StackPointer != 0x80 {
		t.Errorf("program incorrect. got: entry=%d CS=%04X SS=%04X SP=%04X",
			p.Entry, p.CodeSegment, p.StackSegment, p.StackPointer)
	}
	if len(a.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", a.Warnings)
	}
}

func TestSymbols(t *testing.T) {
	a := assembleOK(t, program)
	st := a.Symbols

	cases := []struct {
		name   string
		kind   SymbolKind
		offset uint16
		size   int
	}{
		{"ARRAY", VariableSymbol, 0, 3},
		{"count", VariableSymbol, 3, 2},
		{"MSG", VariableSymbol, 5, 3},
		{"BUF", VariableSymbol, 8, 4},
		{"MAIN", ProcedureSymbol, 0, 0},
		{"START", LabelSymbol, 0, 0},
		{"HELPER", ProcedureSymbol, 20, 0},
	}
	for _, c := range cases {
		s := st.Lookup(c.name)
		if s == nil {
			t.Errorf("symbol %s not found", c.name)
			continue
		}
		if s.Kind != c.kind || s.Offset != c.offset || s.Size != c.size {
			t.Errorf("%s incorrect. exp: %v %04X %d, got: %v %04X %d",
				c.name, c.kind, c.offset, c.size, s.Kind, s.Offset, s.Size)
		}
	}

	checkBytes(t, "ARRAY init", st.Lookup("ARRAY").Init, []byte{0x10, 0x20, 0x30})
	if st.Lookup("BUF").Init != nil {
		t.Errorf("BUF should be uninitialized")
	}
	if s := st.Lookup("MSGLEN"); s == nil || s.Kind != ConstantSymbol || s.Value != 3 {
		t.Errorf("MSGLEN incorrect. got: %+v", s)
	}
	if s := st.Lookup("HELPER"); s.Index != 7 {
		t.Errorf("HELPER index incorrect. exp: 7, got: %d", s.Index)
	}
	if st.Lookup("DATA").Value != 0x0700 {
		t.Errorf("DATA paragraph incorrect. got: %04X", st.Lookup("DATA").Value)
	}
	if v := st.Variable(a.IR.Segment("DATA"), 6); v == nil || v.Name != "MSG" {
		t.Errorf("Variable lookup incorrect. got: %v", v)
	}
}

func TestOperands(t *testing.T) {
	a := assembleOK(t, program)
	insts := a.Program.Instructions

	if op := insts[0].Operands[1]; op.Kind != cpu.ImmediateOperand || op.Imm != 0x0700 {
		t.Errorf("MOV AX, DATA source incorrect. got: %+v", op)
	}

	op := insts[2].Operands[1]
	if op.Kind != cpu.MemoryOperand || op.Disp != 1 || op.Size != 1 || op.Seg != cpu.DS ||
		op.Base != cpu.RegNone || op.Index != cpu.RegNone || op.Symbol != "ARRAY" {
		t.Errorf("ARRAY[1] incorrect. got: %+v", op)
	}

	if op := insts[3].Operands[1]; op.Kind != cpu.MemoryOperand || op.Disp != 3 || op.Size != 2 {
		t.Errorf("COUNT incorrect. got: %+v", op)
	}

	if op := insts[4].Operands[0]; op.Kind != cpu.TargetOperand || op.Target != 7 {
		t.Errorf("CALL target incorrect. got: %+v", op)
	}
}

func TestAddressing(t *testing.T) {
	a := assembleOK(t, `
	MOV AX, [BP+2]
	MOV AL, ES:[BX+SI]
	MOV BYTE PTR [DI], 5
	MOV DX, [BX][DI]-1`)
	insts := a.Program.Instructions

	op := insts[0].Operands[1]
	if op.Base != cpu.BP || op.Index != cpu.RegNone || op.Disp != 2 || op.Seg != cpu.SS || op.Size != 2 {
		t.Errorf("[BP+2] incorrect. got: %+v", op)
	}

	op = insts[1].Operands[1]
	if op.Base != cpu.BX || op.Index != cpu.SI || op.Seg != cpu.ES || !op.Override || op.Size != 1 {
		t.Errorf("ES:[BX+SI] incorrect. got: %+v", op)
	}

	dst, src := insts[2].Operands[0], insts[2].Operands[1]
	if dst.Kind != cpu.MemoryOperand || dst.Index != cpu.DI || dst.Size != 1 || dst.Seg != cpu.DS {
		t.Errorf("BYTE PTR [DI] incorrect. got: %+v", dst)
	}
	if src.Kind != cpu.ImmediateOperand || src.Imm != 5 || src.Size != 1 {
		t.Errorf("immediate incorrect. got: %+v", src)
	}

	op = insts[3].Operands[1]
	if op.Base != cpu.BX || op.Index != cpu.DI || op.Disp != 0xffff {
		t.Errorf("[BX][DI]-1 incorrect. got: %+v", op)
	}
}

func TestData(t *testing.T) {
	a := assembleOK(t, `.MODEL SMALL
.DATA
W DW 1234H, 'AB'
B DB -1
D DD 12345678H
R DB 2 DUP(1,2)
.CODE
	MOV AX, @DATA
END`)
	checkBytes(t, "data", a.IR.Segment("_DATA").Bytes, []byte{
		0x34, 0x12, 0x42, 0x41,
		0xff,
		0x78, 0x56, 0x34, 0x12,
		0x01, 0x02, 0x01, 0x02,
	})
	if op := a.Program.Instructions[0].Operands[1]; op.Imm != 0x0700 {
		t.Errorf("@DATA incorrect. got: %04X", op.Imm)
	}
	if s := a.Symbols.Lookup("R"); s.Count != 4 || s.Unit != 1 {
		t.Errorf("R incorrect. got: count=%d unit=%d", s.Count, s.Unit)
	}
}

func TestEquates(t *testing.T) {
	a := assembleOK(t, `
N EQU 10
K = 5
K = 7
PX EQU [BX]
	MOV CX, N*2
	MOV AX, K
	MOV AX, PX`)
	insts := a.Program.Instructions
	if op := insts[0].Operands[1]; op.Kind != cpu.ImmediateOperand || op.Imm != 20 {
		t.Errorf("N*2 incorrect. got: %+v", op)
	}
	if op := insts[1].Operands[1]; op.Imm != 7 {
		t.Errorf("K incorrect. exp: 7, got: %d", op.Imm)
	}
	if op := insts[2].Operands[1]; op.Kind != cpu.MemoryOperand || op.Base != cpu.BX {
		t.Errorf("textual equate incorrect. got: %+v", op)
	}
}

func TestSizeMismatchWarning(t *testing.T) {
	a := assembleOK(t, "VAL DW 5\nMOV AL, VAL")
	found := false
	for _, w := range a.Warnings {
		if w == "line 2: operand size mismatch in MOV; using BYTE" {
			found = true
		}
	}
	if !found {
		t.Errorf("size mismatch warning missing. got: %v", a.Warnings)
	}
	if op := a.Program.Instructions[0].Operands[1]; op.Size != 1 {
		t.Errorf("size incorrect. exp: 1, got: %d", op.Size)
	}
}

func TestErrors(t *testing.T) {
	checkASMError(t, "MOV AX,UNDEFINED", SemanticError, 1, "undefined symbol 'UNDEFINED' at line 1")
	checkASMError(t, "NOP\nJMP NOWHERE", SemanticError, 2, "undefined symbol 'NOWHERE' at line 2")
	checkASMError(t, "MOVV AX, 1", ParseError, 1, "unknown instruction 'MOVV'; did you mean 'MOV'?")
	checkASMError(t, "MOVSB", UnsupportedFeature, 1, "instruction MOVSB is not supported")
	checkASMError(t, "A DW 1\nB DW 2\nMOV A, B", SemanticError, 3, "memory-to-memory MOV is not allowed")
	checkASMError(t, "MOV DS, 1234H", SemanticError, 1, "a segment register cannot be loaded with an immediate value")
	checkASMError(t, "MOV CS, AX", SemanticError, 1, "CS cannot be the destination of MOV")
	checkASMError(t, "MOV 5, AX", SemanticError, 1, "an immediate value cannot be the destination of MOV")
	checkASMError(t, "MOV AX, BL", SemanticError, 1, "operand size mismatch between AX and BL")
	checkASMError(t, "MOV [BX], 5", SemanticError, 1, "operand size of MOV is unknown; use BYTE PTR or WORD PTR")
	checkASMError(t, "MOV AX, [BX+BP]", SemanticError, 1, "invalid base/index combination: BX and BP")
	checkASMError(t, "MOV AX, [CX]", SemanticError, 1, "register CX cannot be used as a base or index")
	checkASMError(t, "SHL AX, 2", UnsupportedFeature, 1, "shift count must be 1 or CL on the 8086")
	checkASMError(t, "ADD AX", SemanticError, 1, "ADD expects 2 operands, got 1")
	checkASMError(t, "X DB 256", SemanticError, 1, "value 256 does not fit in a byte")
	checkASMError(t, "A: NOP\nA: NOP", SemanticError, 2, "symbol 'A' is already defined at line 1")
	checkASMError(t, "CODE SEGMENT\nNOP\nCODE ENDS", ParseError, 3, "missing END directive")
	checkASMError(t, "CODE SEGMENT\nNOP\nEND", ParseError, 3, "segment 'CODE' has no ENDS")
	checkASMError(t, "CODE SEGMENT\nP PROC\nNOP\nCODE ENDS\nEND", ParseError, 4, "procedure 'P' has no ENDP")
	checkASMError(t, "MOV AL, 'abc", LexError, 1, "unterminated string literal")
}

func TestErrorString(t *testing.T) {
	e := &Error{Kind: SemanticError, Line: 4, Column: 9, Message: "oops"}
	if e.Error() != "SemanticError in line 4, col 9: oops" {
		t.Errorf("error string incorrect. got: %s", e.Error())
	}
	e.Column = 0
	if e.Error() != "SemanticError in line 4: oops" {
		t.Errorf("error string incorrect. got: %s", e.Error())
	}
}

func TestSourceMap(t *testing.T) {
	_, sm, err := Assemble(strings.NewReader(program), "prog.asm", nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if line := sm.Search(9); line != 20 {
		t.Errorf("Search incorrect. exp: 20, got: %d", line)
	}
	if line := sm.Search(10); line != -1 {
		t.Errorf("Search incorrect. exp: -1, got: %d", line)
	}
	if l, ok := sm.Find(24); !ok || l.Line != 26 || l.Index != 7 {
		t.Errorf("Find incorrect. got: %+v %v", l, ok)
	}
	if e, ok := sm.Export("helper"); !ok || e.Offset != 20 || e.Segment != "CODE" {
		t.Errorf("Export incorrect. got: %+v %v", e, ok)
	}

	var buf bytes.Buffer
	if _, err := sm.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	var sm2 SourceMap
	if _, err := sm2.ReadFrom(&buf); err != nil {
		t.Fatal(err)
	}
	if sm2.File != "prog.asm" || len(sm2.Lines) != len(sm.Lines) {
		t.Errorf("source map round trip incorrect. got: %+v", sm2)
	}
}

func TestVerbose(t *testing.T) {
	var out bytes.Buffer
	_, _, err := Assemble(strings.NewReader(program), "prog.asm", &out, Verbose)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range []string{"-- Parsing assembly code --", "-- Building symbol table --", "-- Resolving operands --", "-- Linking --"} {
		if !strings.Contains(out.String(), s) {
			t.Errorf("verbose output is missing %q", s)
		}
	}
}
