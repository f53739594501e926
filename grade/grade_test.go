// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package grade

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/beevik/go8086/sim"
)

const program = `DATA SEGMENT
ARRAY  DB 10H,20H,30H
COUNT  DW 3
MSG    DB 'Sum ok$'
DATA ENDS

STACK SEGMENT STACK
       DW 64 DUP(?)
STACK ENDS

CODE SEGMENT
       ASSUME CS:CODE, DS:DATA, SS:STACK
START: MOV AX, DATA
       MOV DS, AX
       LEA DX, MSG
       MOV AH, 09H
       INT 21H
       MOV AL, ARRAY[1]
       MOV BX, COUNT
       INC BX
       MOV AH, 4CH
       INT 21H
CODE ENDS
       END START`

func grade(t *testing.T, code string, cases ...TestCase) *Report {
	t.Helper()
	r, err := Grade(context.Background(), code, cases, sim.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(r.TestResults) != len(cases) {
		t.Fatalf("result count incorrect. exp: %d, got: %d", len(cases), len(r.TestResults))
	}
	return r
}

func expectPass(t *testing.T, r TestResult) {
	t.Helper()
	if !r.Passed {
		t.Errorf("test case %d should pass. got error: %s", r.TestCaseIndex, r.Error)
	}
}

func expectFail(t *testing.T, r TestResult, msg string) {
	t.Helper()
	if r.Passed {
		t.Errorf("test case %d should fail", r.TestCaseIndex)
		return
	}
	if !strings.HasPrefix(r.Error, msg) {
		t.Errorf("test case %d error incorrect.\nexp: %s...\ngot: %s", r.TestCaseIndex, msg, r.Error)
	}
	if r.PointsEarned != 0 {
		t.Errorf("failed test case %d earned %d points", r.TestCaseIndex, r.PointsEarned)
	}
}

func TestRegisters(t *testing.T) {
	r := grade(t, program,
		TestCase{ExpectedRegisters: map[string]string{"AX": "4C20H", "bx": "4", "AL": "20"}, Points: 2},
		TestCase{ExpectedRegisters: map[string]string{"BX": "0005"}, Points: 3},
		TestCase{ExpectedRegisters: map[string]string{"QX": "0"}, Points: 1},
	)
	expectPass(t, r.TestResults[0])
	expectFail(t, r.TestResults[1], "Register values do not match expected values (BX: expected 0005H, got 0004H)")
	expectFail(t, r.TestResults[2], "Register values do not match expected values: unknown register 'QX'")
	if r.TotalScore != 2 || r.MaxScore != 6 {
		t.Errorf("score incorrect. exp: 2/6, got: %d/%d", r.TotalScore, r.MaxScore)
	}
}

func TestFlags(t *testing.T) {
	r := grade(t, program,
		TestCase{ExpectedFlags: map[string]Bit{"ZF": false, "cf": false}, Points: 1},
		TestCase{ExpectedFlags: map[string]Bit{"ZF": true}, Points: 1},
	)
	expectPass(t, r.TestResults[0])
	expectFail(t, r.TestResults[1], "Flag values do not match expected values (ZF: expected 1, got 0)")
}

func TestMemory(t *testing.T) {
	r := grade(t, program,
		TestCase{ExpectedMemory: []MemoryExpectation{
			{Offset: "DS:0001", Value: "20"},
			{Offset: "ARRAY[2]", Value: "30H"},
			{Offset: "ARRAY+0", Value: "10"},
			{Offset: "COUNT", Value: "0003"},
			{Offset: "0700:0003", Value: "03"},
			{Offset: "7000", Value: "10"},
		}, Points: 1},
		TestCase{ExpectedMemory: []MemoryExpectation{{Offset: "COUNT", Value: "0004"}}, Points: 1},
		TestCase{ExpectedMemory: []MemoryExpectation{{Offset: "NOWHERE", Value: "00"}}, Points: 1},
	)
	expectPass(t, r.TestResults[0])
	expectFail(t, r.TestResults[1], "Memory values do not match expected values (COUNT: expected 0004H, got 0003H)")
	expectFail(t, r.TestResults[2], "Memory values do not match expected values: unknown location 'NOWHERE'")
}

func TestOutput(t *testing.T) {
	r := grade(t, program,
		TestCase{ExpectedOutput: "  SUM   OK ", Points: 1},
		TestCase{ExpectedOutput: "sum bad", Points: 1},
	)
	expectPass(t, r.TestResults[0])
	expectFail(t, r.TestResults[1], "Output does not match expected output")
	if r.TestResults[1].ExecutionOutput != "Sum ok" {
		t.Errorf("execution output incorrect. got: %q", r.TestResults[1].ExecutionOutput)
	}
}

func TestScript(t *testing.T) {
	r := grade(t, program,
		TestCase{Script: `return reg.BX == 4 and reg.AL == 0x20 and not flag.ZF
			and mem("ARRAY[1]") == 0x20 and memw(sym("COUNT")) == 3
			and mem(0x7002) == 0x30 and output == "Sum ok"
			and steps == 10 and exitcode == 0x20`, Points: 5},
		TestCase{Script: "return reg.BX == 5", Points: 1},
		TestCase{Script: "return mem('NOWHERE')", Points: 1},
		TestCase{Script: "return (", Points: 1},
	)
	expectPass(t, r.TestResults[0])
	expectFail(t, r.TestResults[1], "Script check failed")
	expectFail(t, r.TestResults[2], "Script error")
	expectFail(t, r.TestResults[3], "Script error")
	if r.TotalScore != 5 {
		t.Errorf("score incorrect. exp: 5, got: %d", r.TotalScore)
	}
}

func TestScriptSandbox(t *testing.T) {
	r := grade(t, program,
		TestCase{Script: `return type(dofile) == "nil" and type(loadfile) == "nil"
			and type(load) == "nil" and type(require) == "nil"`, Points: 1},
		TestCase{Script: `return dofile("/etc/passwd")`, Points: 1},
	)
	expectPass(t, r.TestResults[0])
	expectFail(t, r.TestResults[1], "Script error")
}

func TestScriptTimeout(t *testing.T) {
	cases := []TestCase{{Script: "while true do end", Points: 1}}
	start := time.Now()
	r, err := Grade(context.Background(), program, cases, sim.Options{Timeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	expectFail(t, r.TestResults[0], "Script error")
	if d := time.Since(start); d > 5*time.Second {
		t.Errorf("script ran too long: %v", d)
	}
}

func TestFailedRuns(t *testing.T) {
	r := grade(t, "MOV AX,UNDEFINED\nHLT", TestCase{Points: 1})
	expectFail(t, r.TestResults[0], "Compilation failed: line 1: undefined symbol 'UNDEFINED'")

	r = grade(t, "MOV BX,0\nDIV BX\nHLT", TestCase{Points: 1})
	expectFail(t, r.TestResults[0], "Execution failed: RuntimeError: DivisionByZero")

	r = grade(t, "AGAIN: JMP AGAIN", TestCase{MaxSteps: 50, Points: 1})
	expectFail(t, r.TestResults[0], "Execution failed: RuntimeError: StepLimitExceeded")

	r = grade(t, "X DB 1\nX DB 2\nHLT", TestCase{Points: 1})
	expectFail(t, r.TestResults[0], "Compilation failed: line 2: symbol 'X' is already defined")
}

func TestCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Grade(ctx, program, []TestCase{{Points: 1}}, sim.Options{}); err == nil {
		t.Errorf("expected an error from a cancelled context")
	}
}

func TestDecode(t *testing.T) {
	const doc = `[{
		"name": "sum",
		"expectedRegisters": {"BX": "0004H"},
		"expectedFlags": {"ZF": 0, "CF": "0", "SF": false},
		"expectedMemory": [{"offset": "DS:0000", "value": "10"}],
		"points": 4
	}]`
	var cases []TestCase
	if err := json.Unmarshal([]byte(doc), &cases); err != nil {
		t.Fatal(err)
	}
	r := grade(t, program, cases...)
	expectPass(t, r.TestResults[0])
	if r.TestResults[0].Name != "sum" || r.TotalScore != 4 {
		t.Errorf("result incorrect. got: %+v", r.TestResults[0])
	}

	var b Bit
	if err := json.Unmarshal([]byte(`"maybe"`), &b); err == nil {
		t.Errorf("expected an error for an invalid flag value")
	}
}
