// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sim

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
)

const program = `DATA SEGMENT
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

func execute(code string, maxSteps int) *Result {
	return Execute(context.Background(), code, Options{MaxSteps: maxSteps})
}

func checkExecution(t *testing.T, r *Result, status string) *Execution {
	t.Helper()
	if r.Compilation.Status != StatusSuccess {
		t.Fatalf("compilation failed: %+v", r.Compilation.Errors)
	}
	e := r.Execution
	if e == nil {
		t.Fatal("execution missing")
	}
	if e.Status != status {
		t.Errorf("execution status incorrect. exp: %s, got: %s (%+v)", status, e.Status, e.Error)
	}
	return e
}

func expectValue(t *testing.T, what, got, exp string) {
	t.Helper()
	if got != exp {
		t.Errorf("%s incorrect. exp: %s, got: %s", what, exp, got)
	}
}

func TestAddAndExit(t *testing.T) {
	r := execute("MOV AL,20H\nADD AL,30H\nMOV AH,4CH\nINT 21H", 0)
	e := checkExecution(t, r, StatusSuccess)

	expectValue(t, "AX", e.FinalState.Registers.AX, "4C50")
	expectValue(t, "ZF", e.FinalState.Flags.ZF, "0")
	expectValue(t, "CF", e.FinalState.Flags.CF, "0")
	if len(e.Steps) != 4 || e.TotalSteps != 4 {
		t.Errorf("step count incorrect. exp: 4, got: %d", len(e.Steps))
	}
	if e.ExitCode == nil || *e.ExitCode != 0x50 {
		t.Errorf("exit code incorrect. got: %v", e.ExitCode)
	}
	expectValue(t, "summary", r.Summary, "Program exited with code 80 after 4 steps.")

	s := e.Steps[1]
	if s.Step != 2 || s.Line != 2 || s.Instruction != "ADD AL,30H" || s.Description != "Add 30H to AL" {
		t.Errorf("step incorrect. got: %+v", s)
	}
	if len(s.RegisterChanges) != 1 || s.RegisterChanges[0] != (RegisterChange{"AX", "0020", "0050"}) {
		t.Errorf("register changes incorrect. got: %+v", s.RegisterChanges)
	}
}

func TestUndefinedSymbol(t *testing.T) {
	r := execute("MOV AX,UNDEFINED\nHLT", 0)
	if r.Compilation.Status != StatusError {
		t.Fatalf("compilation should fail")
	}
	if len(r.Compilation.Errors) != 1 {
		t.Fatalf("error count incorrect. exp: 1, got: %+v", r.Compilation.Errors)
	}
	if e := r.Compilation.Errors[0]; e.Line != 1 || e.Kind != "SemanticError" || !strings.Contains(e.Message, "UNDEFINED") {
		t.Errorf("error incorrect. got: %+v", e)
	}
	if r.Execution != nil {
		t.Errorf("execution should be absent")
	}
	expectValue(t, "summary", r.Summary, "Assembly failed with 1 error.")

	b, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(b, []byte(`"execution"`)) {
		t.Errorf("execution should be omitted from JSON: %s", b)
	}
}

func TestDuplicateVariable(t *testing.T) {
	for _, code := range []string{
		"DATA SEGMENT\nX DB 1\nX DB 2\nDATA ENDS\nCODE SEGMENT\nHLT\nCODE ENDS\nEND",
		"X DB 1\nX DB 2\nHLT",
	} {
		r := execute(code, 0)
		if r.Compilation.Status != StatusError {
			t.Errorf("%q: compilation should fail", code)
			continue
		}
		if len(r.Compilation.Errors) == 0 || !strings.Contains(r.Compilation.Errors[0].Message, "already defined") {
			t.Errorf("%q: error incorrect. got: %+v", code, r.Compilation.Errors)
		}
		if r.Execution != nil {
			t.Errorf("%q: execution should be absent", code)
		}
	}
}

func TestDivisionByZero(t *testing.T) {
	r := execute("MOV BX,0\nDIV BX\nHLT", 0)
	e := checkExecution(t, r, StatusError)
	if len(e.Steps) != 1 || e.Steps[0].Line != 1 {
		t.Errorf("steps should stop before the faulting instruction. got: %+v", e.Steps)
	}
	if e.Error == nil || e.Error.String() != "RuntimeError: DivisionByZero" || e.Error.Line != 2 {
		t.Errorf("error incorrect. got: %+v", e.Error)
	}
	if e.Error != nil && e.Error.Instruction != "DIV BX" {
		t.Errorf("error instruction incorrect. got: %q", e.Error.Instruction)
	}
}

func TestStepLimit(t *testing.T) {
	r := execute("AGAIN: JMP AGAIN", 10000)
	e := checkExecution(t, r, StatusError)
	if len(e.Steps) != 10000 {
		t.Errorf("partial trace length incorrect. exp: 10000, got: %d", len(e.Steps))
	}
	if e.Error == nil || e.Error.Kind != "StepLimitExceeded" {
		t.Errorf("error incorrect. got: %+v", e.Error)
	}
}

func TestTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := Execute(ctx, "AGAIN: JMP AGAIN", Options{})
	e := checkExecution(t, r, StatusError)
	if e.Error == nil || e.Error.Kind != "StepLimitExceeded" || len(e.Steps) != 0 {
		t.Errorf("cancelled run incorrect. got: %+v, %d steps", e.Error, len(e.Steps))
	}
}

func TestByteAliasing(t *testing.T) {
	r := execute("MOV AX,1234H\nMOV AL,00H\nHLT", 0)
	e := checkExecution(t, r, StatusSuccess)
	expectValue(t, "AX", e.FinalState.Registers.AX, "1200")
	expectValue(t, "summary", r.Summary, "Program halted after 3 steps.")
}

func TestLiteralStore(t *testing.T) {
	r := execute("MOV AL,05H\nMOV [0010H],AL\nMOV AH,4CH\nINT 21H", 0)
	checkExecution(t, r, StatusSuccess)

	exp := []MemoryCell{{Offset: "0000:0010", Value: "05"}}
	if !reflect.DeepEqual(r.FinalMemory, exp) {
		t.Errorf("final memory incorrect. exp: %+v, got: %+v", exp, r.FinalMemory)
	}
	if len(r.InitialMemory) != 0 {
		t.Errorf("initial memory should be empty. got: %+v", r.InitialMemory)
	}

	m := r.Execution.Steps[1].MemoryChanges
	if len(m) != 1 || m[0] != (MemoryChange{Address: "0000:0010", Before: "00", After: "05"}) {
		t.Errorf("memory changes incorrect. got: %+v", m)
	}
}

func TestProgram(t *testing.T) {
	r := execute(program, 0)
	e := checkExecution(t, r, StatusSuccess)

	if len(e.Steps) != 9 {
		t.Errorf("step count incorrect. exp: 9, got: %d", len(e.Steps))
	}
	expectValue(t, "AX", e.FinalState.Registers.AX, "4C20")
	expectValue(t, "BX", e.FinalState.Registers.BX, "0004")
	expectValue(t, "DS", e.FinalState.Registers.DS, "0700")
	expectValue(t, "SP", e.FinalState.Registers.SP, "0080")

	symbols := map[string]Symbol{}
	for _, s := range r.SymbolTable {
		symbols[s.Label] = s
	}
	expSymbols := []Symbol{
		{"ARRAY", "DATA", "Variable", "DB×3", "10H,20H,30H"},
		{"COUNT", "DATA", "Variable", "DW", "0003H"},
		{"MSG", "DATA", "Variable", "DB×3", "48H,49H,24H"},
		{"BUF", "DATA", "Variable", "DB×4", "?"},
		{"MSGLEN", "", "Constant", "EQU", "0003H"},
		{"MAIN", "CODE", "Procedure", "NEAR", "0000H"},
		{"HELPER", "CODE", "Procedure", "NEAR", "0014H"},
		{"DATA", "DATA", "Segment", "12 bytes", "0700H"},
	}
	for _, exp := range expSymbols {
		if got := symbols[exp.Label]; got != exp {
			t.Errorf("symbol incorrect.\nexp: %+v\ngot: %+v", exp, got)
		}
	}

	if len(r.InitialMemory) != 12 {
		t.Fatalf("initial memory size incorrect. exp: 12, got: %d", len(r.InitialMemory))
	}
	expCells := map[int]MemoryCell{
		0:  {"DS:0000", "10", "ARRAY[0]"},
		3:  {"DS:0003", "03", "COUNT[0]"},
		7:  {"DS:0007", "24", "MSG[2]"},
		11: {"DS:000B", "00", "BUF[3]"},
	}
	for i, exp := range expCells {
		if r.InitialMemory[i] != exp {
			t.Errorf("initial memory %d incorrect. exp: %+v, got: %+v", i, exp, r.InitialMemory[i])
		}
	}

	// The stack writes made by CALL are not part of the final memory.
	if !reflect.DeepEqual(r.FinalMemory, r.InitialMemory) {
		t.Errorf("final memory should match initial memory.\ngot: %+v", r.FinalMemory)
	}
	if m := e.Steps[4].MemoryChanges; len(m) != 1 || m[0].Address != "SS:007E" || m[0].After != "10" {
		t.Errorf("CALL memory changes incorrect. got: %+v", m)
	}
}

func TestOutput(t *testing.T) {
	code := `DATA SEGMENT
MSG DB 'Hello$'
DATA ENDS
CODE SEGMENT
     ASSUME CS:CODE, DS:DATA
START:
     MOV AX, DATA
     MOV DS, AX
     LEA DX, MSG
     MOV AH, 09H
     INT 21H
     MOV DL, '!'
     MOV AH, 02H
     INT 21H
     MOV AX, 4C00H
     INT 21H
CODE ENDS
     END START`
	r := execute(code, 0)
	e := checkExecution(t, r, StatusSuccess)
	expectValue(t, "output", e.Output, "Hello!")
	if e.ExitCode == nil || *e.ExitCode != 0 {
		t.Errorf("exit code incorrect. got: %v", e.ExitCode)
	}
}

func TestIdempotent(t *testing.T) {
	a, err := json.Marshal(execute(program, 0))
	if err != nil {
		t.Fatal(err)
	}
	b, err := json.Marshal(execute(program, 0))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Errorf("results of identical runs differ")
	}
}

func TestJSON(t *testing.T) {
	r := execute("MOV AX,1\nHLT", 0)
	var buf bytes.Buffer
	if _, err := r.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}

	var doc map[string]any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"symbolTable", "initialMemory", "compilation", "execution", "finalMemory", "summary"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("result is missing %q", key)
		}
	}

	exec := doc["execution"].(map[string]any)
	regs := exec["finalState"].(map[string]any)["registers"].(map[string]any)
	if len(regs) != 13 || regs["AX"] != "0001" {
		t.Errorf("final registers incorrect. got: %v", regs)
	}
	step := exec["steps"].([]any)[0].(map[string]any)
	for _, key := range []string{"step", "line", "instruction", "description", "registers", "registerChanges", "flagChanges", "memoryChanges"} {
		if _, ok := step[key]; !ok {
			t.Errorf("step is missing %q", key)
		}
	}
}

func TestStream(t *testing.T) {
	var names []string
	var steps []int
	emit := func(ev Event) error {
		names = append(names, ev.Name)
		if s, ok := ev.Data.(StepEvent); ok {
			steps = append(steps, s.StepNumber)
		}
		return nil
	}

	r, err := Stream(context.Background(), "MOV AX,1\nMOV BX,2\nHLT", Options{}, emit)
	if err != nil {
		t.Fatal(err)
	}
	exp := []string{
		EventStatus, EventStatus, EventSymbols, EventStatus,
		EventStep, EventStep, EventStep, EventComplete,
	}
	if !reflect.DeepEqual(names, exp) {
		t.Errorf("events incorrect.\nexp: %v\ngot: %v", exp, names)
	}
	if !reflect.DeepEqual(steps, []int{1, 2, 3}) {
		t.Errorf("step order incorrect. got: %v", steps)
	}
	if r.Execution.TotalSteps != 3 {
		t.Errorf("total steps incorrect. got: %d", r.Execution.TotalSteps)
	}
}

func TestStreamCompilationError(t *testing.T) {
	var last Event
	_, err := Stream(context.Background(), "MOV AX,", Options{}, func(ev Event) error {
		last = ev
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if last.Name != EventCompilationError {
		t.Errorf("last event incorrect. exp: %s, got: %s", EventCompilationError, last.Name)
	}
}

func TestStreamAbort(t *testing.T) {
	errGone := errors.New("client gone")
	n := 0
	_, err := Stream(context.Background(), "AGAIN: JMP AGAIN", Options{}, func(ev Event) error {
		if ev.Name == EventStep {
			n++
			if n == 5 {
				return errGone
			}
		}
		return nil
	})
	if !errors.Is(err, errGone) {
		t.Errorf("emit error not returned. got: %v", err)
	}
	if n != 5 {
		t.Errorf("stream did not stop. got %d steps", n)
	}
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	Execute(context.Background(), "NOP\nHLT", Options{Log: &buf, Filename: "a.asm"})
	expectValue(t, "log", buf.String(), "sim: a.asm: success, 2 steps\n")
}
