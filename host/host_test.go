// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package host

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSource(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prog.asm")
	if err := os.WriteFile(path, []byte(src), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func runScript(t *testing.T, h *Host, script string) string {
	t.Helper()
	var out bytes.Buffer
	h.RunCommands(strings.NewReader(script), &out, false)
	return out.String()
}

func expectOutput(t *testing.T, out string, exp ...string) {
	t.Helper()
	for _, e := range exp {
		if !strings.Contains(out, e) {
			t.Errorf("output missing %q:\n%s", e, out)
		}
	}
}

func TestLoadAndRun(t *testing.T) {
	path := writeSource(t, "MOV BX,3\nMOV AX,4C00H\nINT 21H\n")

	h := New()
	out := runScript(t, h, "load "+path+"\nrun\nregister\nevaluate BX*2\nquit\n")
	expectOutput(t, out,
		"Loaded 'prog.asm': 3 instructions",
		"Program exited with code 0 after 3 steps.",
		"AX=4C00",
		"BX=0003",
		"6 (6H)",
	)
}

func TestLoadFailure(t *testing.T) {
	path := writeSource(t, "MOV AX,\n")

	h := New()
	out := runScript(t, h, "load "+path+"\nrun\n")
	expectOutput(t, out,
		"Failed to assemble 'prog.asm'.",
		"No program loaded.",
	)
}

func TestStepAndReset(t *testing.T) {
	path := writeSource(t, "MOV AX,1\nMOV BX,2\nHLT\n")

	h := New()
	out := runScript(t, h, "load "+path+"\nstep in 2\nevaluate AX+BX\nstep in\nstep in\nreset\nevaluate AX\n")
	expectOutput(t, out,
		"3 (3H)",
		"Program halted after 3 steps.",
		"Program has ended. Use reset to restart it.",
		"Program reset.",
		"0 (0H)",
	)
}

func TestBreakpoint(t *testing.T) {
	path := writeSource(t, "MOV AX,1\nMOV BX,2\nMOV CX,3\nHLT\n")

	h := New()
	out := runScript(t, h, "load "+path+"\nbreakpoint add 3\nrun\nevaluate BX\nbreakpoint list\n")
	expectOutput(t, out,
		"Breakpoint added at 0003H.",
		"Breakpoint hit at 0003H.",
		"2 (2H)",
	)
	if h.cpu.Index != 1 {
		t.Errorf("instruction index: exp 1, got %d", h.cpu.Index)
	}
}

func TestMemorySet(t *testing.T) {
	h := New()
	out := runScript(t, h, "memory set 1000H:0 41H 42H\nmemory dump 10000H 2\n")
	expectOutput(t, out, "10000  41 42", "AB")

	b, _ := h.mem.LoadByte(0x10001)
	if b != 0x42 {
		t.Errorf("memory: exp 42H, got %02XH", b)
	}
}

func TestSettings(t *testing.T) {
	h := New()
	out := runScript(t, h, "set hexmode true\nset disasm 5\nset memdump 0\nset hexmode\nset bogus 1\n")
	expectOutput(t, out,
		"MemDumpBytes must be at least 1",
		"HexMode = on",
		"setting 'bogus' not found",
	)
	if !h.settings.HexMode || !h.exprParser.hexMode {
		t.Error("hex mode not set")
	}
	if h.settings.DisasmLines != 5 {
		t.Errorf("disasm lines: exp 5, got %d", h.settings.DisasmLines)
	}
}

func TestIndentWrap(t *testing.T) {
	got := indentWrap(3, strings.Repeat("word ", 20))
	for _, l := range strings.Split(got, "\n") {
		if len(l) > 80 || !strings.HasPrefix(l, "   word") {
			t.Errorf("bad line %q", l)
		}
	}
}
