// Copyright 2018-2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package host

import (
	"fmt"
	"strings"

	"github.com/beevik/go8086/cpu"
)

func stringToBool(s string) (bool, error) {
	s = strings.ToLower(s)
	switch s {
	case "0", "false", "off":
		return false, nil
	case "1", "true", "on":
		return true, nil
	default:
		return false, fmt.Errorf("invalid bool value '%s'", s)
	}
}

var hexString = "0123456789ABCDEF"

func addrToBuf(addr uint32, b []byte) {
	for i := 4; i >= 0; i-- {
		b[i] = hexString[addr&0xf]
		addr >>= 4
	}
}

func byteToBuf(v byte, b []byte) {
	b[0] = hexString[(v>>4)&0xf]
	b[1] = hexString[v&0xf]
}

func toPrintableChar(v byte) byte {
	if v >= 32 && v < 127 {
		return v
	}
	return '.'
}

// Registers shown on the debugger's status line.
var displayRegs = []cpu.Reg{
	cpu.AX, cpu.BX, cpu.CX, cpu.DX, cpu.SI, cpu.DI, cpu.BP, cpu.SP,
	cpu.DS, cpu.ES, cpu.SS,
}

// Return a compact rendering of the registers and flags, with set flags in
// upper case.
func registerString(r *cpu.Registers) string {
	var b strings.Builder
	for i, reg := range displayRegs {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%04X", reg, r.Get(reg))
	}
	b.WriteByte(' ')
	for _, f := range cpu.AllFlags {
		name := f.String()[:1]
		if !r.Flag(f) {
			name = strings.ToLower(name)
		}
		b.WriteString(name)
	}
	return b.String()
}

func b2i(v bool) int {
	if v {
		return 1
	}
	return 0
}

// A writerFunc adapts a function to the io.Writer interface.
type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) {
	return f(p)
}
