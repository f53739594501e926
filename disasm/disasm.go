// Copyright 2014-2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package disasm renders decoded 8086 instructions back into canonical
// MASM text and short human-readable descriptions.
package disasm

import (
	"fmt"
	"strings"

	"github.com/beevik/go8086/cpu"
)

var hex = "0123456789ABCDEF"

// Return a MASM hexadecimal literal for a value of the given byte size.
// Literals that would start with a letter get a leading zero.
func hexLiteral(v uint16, size int) string {
	digits := 4
	if size == 1 {
		digits = 2
		v &= 0xff
	}
	b := make([]byte, 0, digits+2)
	for i := digits - 1; i >= 0; i-- {
		b = append(b, hex[(v>>(4*uint(i)))&0xf])
	}
	if b[0] >= 'A' {
		b = append([]byte{'0'}, b...)
	}
	return string(append(b, 'H'))
}

// Operand formats the operand as MASM source text. 'ptr' requests a size
// prefix on memory operands, which is needed when no other operand fixes
// the size.
func Operand(op *cpu.Operand, ptr bool) string {
	switch op.Kind {
	case cpu.RegisterOperand:
		return op.Reg.String()

	case cpu.ImmediateOperand:
		return hexLiteral(op.Imm, op.Size)

	case cpu.TargetOperand:
		if op.Symbol != "" {
			return op.Symbol
		}
		return fmt.Sprintf("#%d", op.Target)

	case cpu.MemoryOperand:
		var b strings.Builder
		if ptr {
			switch op.Size {
			case 1:
				b.WriteString("BYTE PTR ")
			case 2:
				b.WriteString("WORD PTR ")
			}
		}
		if op.Override {
			b.WriteString(op.Seg.String())
			b.WriteByte(':')
		}
		b.WriteByte('[')
		var terms []string
		if op.Base != cpu.RegNone {
			terms = append(terms, op.Base.String())
		}
		if op.Index != cpu.RegNone {
			terms = append(terms, op.Index.String())
		}
		if op.Disp != 0 || len(terms) == 0 {
			terms = append(terms, hexLiteral(op.Disp, 2))
		}
		b.WriteString(strings.Join(terms, "+"))
		b.WriteByte(']')
		return b.String()
	}
	return "?"
}

// Format returns the canonical text of an instruction, for example
// "MOV WORD PTR [BX+0004H], 0012H".
func Format(inst *cpu.Instruction) string {
	if len(inst.Operands) == 0 {
		return inst.Name
	}

	ptr := true
	for i := range inst.Operands {
		if inst.Operands[i].Kind == cpu.RegisterOperand {
			ptr = false
		}
	}

	ops := make([]string, len(inst.Operands))
	for i := range inst.Operands {
		ops[i] = Operand(&inst.Operands[i], ptr)
	}
	return inst.Name + " " + strings.Join(ops, ", ")
}

// Disassemble returns the canonical text of the instruction at index i in
// the CPU's loaded program and the index of the instruction that follows
// it. An index past the end of the program yields an empty line.
func Disassemble(c *cpu.CPU, i int) (line string, next int) {
	inst := c.Instruction(i)
	if inst == nil {
		return "", i
	}
	return Format(inst), i + 1
}

// Descriptions for each mnemonic. %[1]s is the first operand and %[2]s the
// second.
var descriptions = map[string]string{
	"MOV":    "Copy %[2]s into %[1]s",
	"XCHG":   "Exchange %[1]s and %[2]s",
	"LEA":    "Load the offset of %[2]s into %[1]s",
	"PUSH":   "Push %[1]s onto the stack",
	"POP":    "Pop the top of the stack into %[1]s",
	"PUSHF":  "Push FLAGS onto the stack",
	"POPF":   "Pop the top of the stack into FLAGS",
	"LAHF":   "Load the low byte of FLAGS into AH",
	"SAHF":   "Store AH into the low byte of FLAGS",
	"XLAT":   "Translate AL through the table at DS:BX",
	"XLATB":  "Translate AL through the table at DS:BX",
	"CBW":    "Sign-extend AL into AX",
	"CWD":    "Sign-extend AX into DX:AX",
	"NOP":    "Do nothing",
	"ADD":    "Add %[2]s to %[1]s",
	"ADC":    "Add %[2]s and the carry to %[1]s",
	"SUB":    "Subtract %[2]s from %[1]s",
	"SBB":    "Subtract %[2]s and the borrow from %[1]s",
	"CMP":    "Compare %[1]s with %[2]s",
	"INC":    "Increment %[1]s",
	"DEC":    "Decrement %[1]s",
	"NEG":    "Negate %[1]s",
	"MUL":    "Unsigned multiply by %[1]s",
	"IMUL":   "Signed multiply by %[1]s",
	"DIV":    "Unsigned divide by %[1]s",
	"IDIV":   "Signed divide by %[1]s",
	"AND":    "Bitwise AND %[2]s into %[1]s",
	"OR":     "Bitwise OR %[2]s into %[1]s",
	"XOR":    "Bitwise XOR %[2]s into %[1]s",
	"NOT":    "Invert the bits of %[1]s",
	"TEST":   "Test the bits of %[1]s against %[2]s",
	"SHL":    "Shift %[1]s left by %[2]s",
	"SAL":    "Shift %[1]s left by %[2]s",
	"SHR":    "Shift %[1]s right by %[2]s",
	"SAR":    "Arithmetic shift %[1]s right by %[2]s",
	"ROL":    "Rotate %[1]s left by %[2]s",
	"ROR":    "Rotate %[1]s right by %[2]s",
	"RCL":    "Rotate %[1]s left through carry by %[2]s",
	"RCR":    "Rotate %[1]s right through carry by %[2]s",
	"JMP":    "Jump to %[1]s",
	"JCXZ":   "Jump to %[1]s if CX is zero",
	"LOOP":   "Decrement CX and loop to %[1]s",
	"LOOPE":  "Decrement CX and loop to %[1]s while equal",
	"LOOPZ":  "Decrement CX and loop to %[1]s while zero",
	"LOOPNE": "Decrement CX and loop to %[1]s while not equal",
	"LOOPNZ": "Decrement CX and loop to %[1]s while not zero",
	"CALL":   "Call %[1]s",
	"RET":    "Return from procedure",
	"RETN":   "Return from procedure",
	"CLC":    "Clear the carry flag",
	"STC":    "Set the carry flag",
	"CMC":    "Complement the carry flag",
	"CLD":    "Clear the direction flag",
	"STD":    "Set the direction flag",
	"CLI":    "Disable interrupts",
	"STI":    "Enable interrupts",
	"HLT":    "Halt the processor",
}

// Conditions tested by the conditional jumps.
var jumpConditions = map[string]string{
	"JE": "equal", "JZ": "zero", "JNE": "not equal", "JNZ": "not zero",
	"JG": "greater", "JNLE": "greater", "JGE": "greater or equal",
	"JNL": "greater or equal", "JL": "less", "JNGE": "less",
	"JLE": "less or equal", "JNG": "less or equal", "JA": "above",
	"JNBE": "above", "JAE": "above or equal", "JNB": "above or equal",
	"JNC": "no carry", "JB": "below", "JNAE": "below", "JC": "carry",
	"JBE": "below or equal", "JNA": "below or equal", "JO": "overflow",
	"JNO": "no overflow", "JS": "sign", "JNS": "no sign", "JP": "parity",
	"JPE": "parity even", "JNP": "no parity", "JPO": "parity odd",
}

// Describe returns a short description of what the instruction does.
func Describe(inst *cpu.Instruction) string {
	args := make([]any, 2)
	for i := range args {
		args[i] = ""
		if i < len(inst.Operands) {
			args[i] = describeOperand(&inst.Operands[i])
		}
	}

	if cond, ok := jumpConditions[inst.Name]; ok {
		return fmt.Sprintf("Jump to %s if %s", args[0], cond)
	}

	switch inst.Name {
	case "INT":
		return describeInterrupt(inst)
	case "RET", "RETN":
		if len(inst.Operands) > 0 {
			return fmt.Sprintf("Return and release %d bytes of arguments", inst.Operands[0].Imm)
		}
	}

	if format, ok := descriptions[inst.Name]; ok {
		return fmt.Sprintf(format, args...)
	}
	return Format(inst)
}

// Name memory operands by their variable where possible.
func describeOperand(op *cpu.Operand) string {
	if op.Kind == cpu.MemoryOperand && op.Symbol != "" && op.Base == cpu.RegNone && op.Index == cpu.RegNone {
		return op.Symbol
	}
	return Operand(op, false)
}

func describeInterrupt(inst *cpu.Instruction) string {
	switch inst.Operands[0].Imm {
	case 0x20:
		return "Terminate the program"
	case 0x21:
		return "Call DOS service in AH"
	}
	return fmt.Sprintf("Software interrupt %s", hexLiteral(inst.Operands[0].Imm, 1))
}
