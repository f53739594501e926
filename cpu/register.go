// Copyright 2014-2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cpu

import "strings"

// A Reg identifies one of the 8086 registers. The first 13 values name the
// 16-bit registers stored in the register file. The byte registers that
// follow are views onto the low and high halves of AX, BX, CX and DX.
type Reg byte

// 16-bit registers, in display order.
const (
	AX Reg = iota
	BX
	CX
	DX
	SI
	DI
	SP
	BP
	CS
	DS
	ES
	SS
	IP

	// 8-bit register views
	AL
	AH
	BL
	BH
	CL
	CH
	DL
	DH

	// RegNone marks an absent base or index register.
	RegNone Reg = 0xff
)

// NumWordRegs is the number of 16-bit registers held in the register file.
const NumWordRegs = int(IP) + 1

var regNames = []string{
	"AX", "BX", "CX", "DX", "SI", "DI", "SP", "BP",
	"CS", "DS", "ES", "SS", "IP",
	"AL", "AH", "BL", "BH", "CL", "CH", "DL", "DH",
}

// For each byte register, the word register holding it and whether it is
// the high half.
var byteRegs = [...]struct {
	word Reg
	high bool
}{
	AL - AL: {AX, false},
	AH - AL: {AX, true},
	BL - AL: {BX, false},
	BH - AL: {BX, true},
	CL - AL: {CX, false},
	CH - AL: {CX, true},
	DL - AL: {DX, false},
	DH - AL: {DX, true},
}

var regLookup = func() map[string]Reg {
	m := make(map[string]Reg, len(regNames))
	for i, n := range regNames {
		m[n] = Reg(i)
	}
	return m
}()

// LookupReg returns the register with the given case-insensitive name.
func LookupReg(name string) (Reg, bool) {
	r, ok := regLookup[strings.ToUpper(name)]
	return r, ok
}

func (r Reg) String() string {
	if int(r) < len(regNames) {
		return regNames[r]
	}
	return "?"
}

// Size returns the width of the register in bytes.
func (r Reg) Size() int {
	if r >= AL && r <= DH {
		return 1
	}
	return 2
}

// IsSegment returns true for CS, DS, ES and SS.
func (r Reg) IsSegment() bool {
	return r >= CS && r <= SS
}

// IsGeneral returns true for the registers an instruction operand may
// name directly (everything except IP).
func (r Reg) IsGeneral() bool {
	return r != IP && int(r) < len(regNames)
}

// A Flag is a single bit in the FLAGS register.
type Flag uint16

// FLAGS bits as laid out by the 8086.
const (
	CF Flag = 1 << 0
	PF Flag = 1 << 2
	AF Flag = 1 << 4
	ZF Flag = 1 << 6
	SF Flag = 1 << 7
	TF Flag = 1 << 8
	IF Flag = 1 << 9
	DF Flag = 1 << 10
	OF Flag = 1 << 11
)

// AllFlags lists every modeled flag in display order.
var AllFlags = []Flag{CF, ZF, SF, OF, PF, AF, IF, DF, TF}

const definedFlags = CF | PF | AF | ZF | SF | TF | IF | DF | OF

var flagNames = map[Flag]string{
	CF: "CF", PF: "PF", AF: "AF", ZF: "ZF", SF: "SF",
	TF: "TF", IF: "IF", DF: "DF", OF: "OF",
}

func (f Flag) String() string {
	return flagNames[f]
}

// LookupFlag returns the flag with the given case-insensitive name.
func LookupFlag(name string) (Flag, bool) {
	name = strings.ToUpper(name)
	for f, n := range flagNames {
		if n == name {
			return f, true
		}
	}
	return 0, false
}

// Registers contains the 8086 register file and FLAGS. Byte registers are
// never stored; they are always derived from the word that holds them.
type Registers struct {
	words [NumWordRegs]uint16
	flags Flag
}

// Get returns the value of a register. Byte registers are zero-extended.
func (r *Registers) Get(reg Reg) uint16 {
	if reg.Size() == 1 {
		return uint16(r.GetByte(reg))
	}
	return r.words[reg]
}

// Set stores a value into a register. Only the low byte of v is used for
// byte registers, and the other half of the word is preserved.
func (r *Registers) Set(reg Reg, v uint16) {
	if reg.Size() == 1 {
		r.SetByte(reg, byte(v))
		return
	}
	r.words[reg] = v
}

// GetByte returns the value of a byte register.
func (r *Registers) GetByte(reg Reg) byte {
	b := byteRegs[reg-AL]
	if b.high {
		return byte(r.words[b.word] >> 8)
	}
	return byte(r.words[b.word])
}

// SetByte stores v into a byte register.
func (r *Registers) SetByte(reg Reg, v byte) {
	b := byteRegs[reg-AL]
	w := r.words[b.word]
	if b.high {
		w = w&0x00ff | uint16(v)<<8
	} else {
		w = w&0xff00 | uint16(v)
	}
	r.words[b.word] = w
}

// Flag returns the state of a single flag.
func (r *Registers) Flag(f Flag) bool {
	return r.flags&f != 0
}

// SetFlag sets or clears a single flag.
func (r *Registers) SetFlag(f Flag, v bool) {
	if v {
		r.flags |= f
	} else {
		r.flags &^= f
	}
}

// Flags returns the FLAGS register as the 8086 would push it.
func (r *Registers) Flags() uint16 {
	return uint16(r.flags) | 0xf002
}

// SetFlags loads FLAGS from a word, ignoring reserved bits.
func (r *Registers) SetFlags(v uint16) {
	r.flags = Flag(v) & definedFlags
}

// Init clears every register and flag.
func (r *Registers) Init() {
	*r = Registers{}
}

func boolToUint16(v bool) uint16 {
	if v {
		return 1
	}
	return 0
}
