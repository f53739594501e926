// Copyright 2014-2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cpu

import (
	"sort"
	"strings"
)

// An opsym is an internal symbol used to associate a mnemonic with its
// implementation. Aliases (JE and JZ, for example) share an opsym.
type opsym byte

const (
	symMOV opsym = iota
	symXCHG
	symLEA
	symPUSH
	symPOP
	symPUSHF
	symPOPF
	symLAHF
	symSAHF
	symXLAT
	symCBW
	symCWD
	symNOP
	symADD
	symADC
	symSUB
	symSBB
	symCMP
	symINC
	symDEC
	symNEG
	symMUL
	symIMUL
	symDIV
	symIDIV
	symAND
	symOR
	symXOR
	symNOT
	symTEST
	symSHL
	symSHR
	symSAR
	symROL
	symROR
	symRCL
	symRCR
	symJMP
	symJCC
	symJCXZ
	symLOOP
	symLOOPE
	symLOOPNE
	symCALL
	symRET
	symCLC
	symSTC
	symCMC
	symCLD
	symSTD
	symCLI
	symSTI
	symINT
	symHLT
)

// A Form describes the operand shapes an instruction accepts. The
// assembler uses it to validate operands before execution.
type Form byte

// Operand forms.
const (
	FormNone      Form = iota // no operands
	FormMove                  // MOV dst, src
	FormBinary                // dst, src arithmetic and logic
	FormExchange              // XCHG a, b
	FormLoadAddr              // LEA reg16, mem
	FormUnary                 // single reg/mem operand
	FormMulDiv                // MUL/DIV family: reg/mem source
	FormShift                 // dst, 1 | CL
	FormPush                  // reg16, segment register or mem16
	FormPop                   // reg16, segment register (not CS) or mem16
	FormBranch                // code label
	FormCall                  // code label
	FormReturn                // optional stack adjustment
	FormInterrupt             // interrupt number
)

type instfunc func(c *CPU, inst *Instruction) error

// A Mnemonic describes one supported instruction mnemonic and the
// implementation used to execute it.
type Mnemonic struct {
	Name string // upper-case mnemonic
	Form Form   // accepted operand shape
	sym  opsym
	fn   instfunc
}

// Condition tests for conditional jumps.
func condZ(r *Registers) bool   { return r.Flag(ZF) }
func condNZ(r *Registers) bool  { return !r.Flag(ZF) }
func condC(r *Registers) bool   { return r.Flag(CF) }
func condNC(r *Registers) bool  { return !r.Flag(CF) }
func condS(r *Registers) bool   { return r.Flag(SF) }
func condNS(r *Registers) bool  { return !r.Flag(SF) }
func condO(r *Registers) bool   { return r.Flag(OF) }
func condNO(r *Registers) bool  { return !r.Flag(OF) }
func condP(r *Registers) bool   { return r.Flag(PF) }
func condNP(r *Registers) bool  { return !r.Flag(PF) }
func condA(r *Registers) bool   { return !r.Flag(CF) && !r.Flag(ZF) }
func condBE(r *Registers) bool  { return r.Flag(CF) || r.Flag(ZF) }
func condL(r *Registers) bool   { return r.Flag(SF) != r.Flag(OF) }
func condGE(r *Registers) bool  { return r.Flag(SF) == r.Flag(OF) }
func condG(r *Registers) bool   { return !r.Flag(ZF) && r.Flag(SF) == r.Flag(OF) }
func condLE(r *Registers) bool  { return r.Flag(ZF) || r.Flag(SF) != r.Flag(OF) }
func condAny(r *Registers) bool { return true }

var impl = []Mnemonic{
	{"MOV", FormMove, symMOV, (*CPU).mov},
	{"XCHG", FormExchange, symXCHG, (*CPU).xchg},
	{"LEA", FormLoadAddr, symLEA, (*CPU).lea},
	{"PUSH", FormPush, symPUSH, (*CPU).push},
	{"POP", FormPop, symPOP, (*CPU).pop},
	{"PUSHF", FormNone, symPUSHF, (*CPU).pushf},
	{"POPF", FormNone, symPOPF, (*CPU).popf},
	{"LAHF", FormNone, symLAHF, (*CPU).lahf},
	{"SAHF", FormNone, symSAHF, (*CPU).sahf},
	{"XLAT", FormNone, symXLAT, (*CPU).xlat},
	{"XLATB", FormNone, symXLAT, (*CPU).xlat},
	{"CBW", FormNone, symCBW, (*CPU).cbw},
	{"CWD", FormNone, symCWD, (*CPU).cwd},
	{"NOP", FormNone, symNOP, (*CPU).nop},

	{"ADD", FormBinary, symADD, (*CPU).add},
	{"ADC", FormBinary, symADC, (*CPU).adc},
	{"SUB", FormBinary, symSUB, (*CPU).sub},
	{"SBB", FormBinary, symSBB, (*CPU).sbb},
	{"CMP", FormBinary, symCMP, (*CPU).cmp},
	{"INC", FormUnary, symINC, (*CPU).inc},
	{"DEC", FormUnary, symDEC, (*CPU).dec},
	{"NEG", FormUnary, symNEG, (*CPU).neg},
	{"MUL", FormMulDiv, symMUL, (*CPU).mul},
	{"IMUL", FormMulDiv, symIMUL, (*CPU).imul},
	{"DIV", FormMulDiv, symDIV, (*CPU).div},
	{"IDIV", FormMulDiv, symIDIV, (*CPU).idiv},

	{"AND", FormBinary, symAND, (*CPU).and},
	{"OR", FormBinary, symOR, (*CPU).or},
	{"XOR", FormBinary, symXOR, (*CPU).xor},
	{"NOT", FormUnary, symNOT, (*CPU).not},
	{"TEST", FormBinary, symTEST, (*CPU).test},

	{"SHL", FormShift, symSHL, (*CPU).shl},
	{"SAL", FormShift, symSHL, (*CPU).shl},
	{"SHR", FormShift, symSHR, (*CPU).shr},
	{"SAR", FormShift, symSAR, (*CPU).sar},
	{"ROL", FormShift, symROL, (*CPU).rol},
	{"ROR", FormShift, symROR, (*CPU).ror},
	{"RCL", FormShift, symRCL, (*CPU).rcl},
	{"RCR", FormShift, symRCR, (*CPU).rcr},

	{"JMP", FormBranch, symJMP, jcc(condAny)},
	{"JE", FormBranch, symJCC, jcc(condZ)},
	{"JZ", FormBranch, symJCC, jcc(condZ)},
	{"JNE", FormBranch, symJCC, jcc(condNZ)},
	{"JNZ", FormBranch, symJCC, jcc(condNZ)},
	{"JG", FormBranch, symJCC, jcc(condG)},
	{"JNLE", FormBranch, symJCC, jcc(condG)},
	{"JGE", FormBranch, symJCC, jcc(condGE)},
	{"JNL", FormBranch, symJCC, jcc(condGE)},
	{"JL", FormBranch, symJCC, jcc(condL)},
	{"JNGE", FormBranch, symJCC, jcc(condL)},
	{"JLE", FormBranch, symJCC, jcc(condLE)},
	{"JNG", FormBranch, symJCC, jcc(condLE)},
	{"JA", FormBranch, symJCC, jcc(condA)},
	{"JNBE", FormBranch, symJCC, jcc(condA)},
	{"JAE", FormBranch, symJCC, jcc(condNC)},
	{"JNB", FormBranch, symJCC, jcc(condNC)},
	{"JNC", FormBranch, symJCC, jcc(condNC)},
	{"JB", FormBranch, symJCC, jcc(condC)},
	{"JNAE", FormBranch, symJCC, jcc(condC)},
	{"JC", FormBranch, symJCC, jcc(condC)},
	{"JBE", FormBranch, symJCC, jcc(condBE)},
	{"JNA", FormBranch, symJCC, jcc(condBE)},
	{"JO", FormBranch, symJCC, jcc(condO)},
	{"JNO", FormBranch, symJCC, jcc(condNO)},
	{"JS", FormBranch, symJCC, jcc(condS)},
	{"JNS", FormBranch, symJCC, jcc(condNS)},
	{"JP", FormBranch, symJCC, jcc(condP)},
	{"JPE", FormBranch, symJCC, jcc(condP)},
	{"JNP", FormBranch, symJCC, jcc(condNP)},
	{"JPO", FormBranch, symJCC, jcc(condNP)},
	{"JCXZ", FormBranch, symJCXZ, (*CPU).jcxz},
	{"LOOP", FormBranch, symLOOP, loop(condAny)},
	{"LOOPE", FormBranch, symLOOPE, loop(condZ)},
	{"LOOPZ", FormBranch, symLOOPE, loop(condZ)},
	{"LOOPNE", FormBranch, symLOOPNE, loop(condNZ)},
	{"LOOPNZ", FormBranch, symLOOPNE, loop(condNZ)},
	{"CALL", FormCall, symCALL, (*CPU).call},
	{"RET", FormReturn, symRET, (*CPU).ret},
	{"RETN", FormReturn, symRET, (*CPU).ret},

	{"CLC", FormNone, symCLC, (*CPU).clc},
	{"STC", FormNone, symSTC, (*CPU).stc},
	{"CMC", FormNone, symCMC, (*CPU).cmc},
	{"CLD", FormNone, symCLD, (*CPU).cld},
	{"STD", FormNone, symSTD, (*CPU).std},
	{"CLI", FormNone, symCLI, (*CPU).cli},
	{"STI", FormNone, symSTI, (*CPU).sti},
	{"INT", FormInterrupt, symINT, (*CPU).int},
	{"HLT", FormNone, symHLT, (*CPU).hlt},
}

// 8086 mnemonics that are recognized but not simulated. Using one of these
// produces an UnsupportedFeature error rather than an unknown-instruction
// error.
var unsupported = []string{
	"AAA", "AAD", "AAM", "AAS", "DAA", "DAS",
	"CMPS", "CMPSB", "CMPSW", "LODS", "LODSB", "LODSW",
	"MOVS", "MOVSB", "MOVSW", "SCAS", "SCASB", "SCASW",
	"STOS", "STOSB", "STOSW", "REP", "REPE", "REPZ", "REPNE", "REPNZ",
	"IN", "OUT", "INTO", "IRET", "LDS", "LES", "LOCK", "WAIT", "ESC",
	"RETF", "JMPF", "CALLF", "PUSHA", "POPA", "ENTER", "LEAVE",
}

var (
	mnemonics      map[string]*Mnemonic
	unsupportedSet map[string]bool
)

func init() {
	mnemonics = make(map[string]*Mnemonic, len(impl))
	for i := range impl {
		mnemonics[impl[i].Name] = &impl[i]
	}
	unsupportedSet = make(map[string]bool, len(unsupported))
	for _, n := range unsupported {
		unsupportedSet[n] = true
	}
}

// LookupMnemonic returns the supported mnemonic with the given name, or
// nil if the mnemonic is not supported.
func LookupMnemonic(name string) *Mnemonic {
	return mnemonics[strings.ToUpper(name)]
}

// IsUnsupported returns true if name is a real 8086 mnemonic that the
// simulator does not implement.
func IsUnsupported(name string) bool {
	return unsupportedSet[strings.ToUpper(name)]
}

// MnemonicNames returns the sorted names of all supported mnemonics.
func MnemonicNames() []string {
	names := make([]string, 0, len(impl))
	for _, m := range impl {
		names = append(names, m.Name)
	}
	sort.Strings(names)
	return names
}

// IsCall returns true if the mnemonic pushes a return address.
func (m *Mnemonic) IsCall() bool {
	return m.sym == symCALL
}

// IsReturn returns true if the mnemonic pops a return address.
func (m *Mnemonic) IsReturn() bool {
	return m.sym == symRET
}

// OperandKind identifies the variant held by an Operand.
type OperandKind byte

// Operand kinds.
const (
	RegisterOperand OperandKind = iota + 1
	ImmediateOperand
	MemoryOperand
	TargetOperand
)

// An Operand is a fully resolved instruction operand.
type Operand struct {
	Kind     OperandKind
	Size     int    // operand width in bytes (1 or 2); 0 for targets
	Reg      Reg    // RegisterOperand
	Imm      uint16 // ImmediateOperand
	Base     Reg    // MemoryOperand base register or RegNone
	Index    Reg    // MemoryOperand index register or RegNone
	Disp     uint16 // MemoryOperand displacement
	Seg      Reg    // MemoryOperand segment register
	Override bool   // segment register was given explicitly
	Symbol   string // symbol referenced by the operand, if any
	Target   int    // TargetOperand instruction index
}

// An Instruction is one decoded source instruction, ready to execute.
type Instruction struct {
	Mnemonic *Mnemonic
	Name     string    // mnemonic as written, upper case
	Operands []Operand // resolved operands
	Index    int       // position in the program's instruction list
	Line     int       // 1-based source line
	Source   string    // source text of the statement
	Offset   uint16    // offset within the code segment
	Length   int       // estimated encoded length in bytes
}

// A Block is a run of bytes loaded into memory before execution starts.
type Block struct {
	Addr  uint32
	Bytes []byte
}

// A Program contains everything the CPU needs to start executing.
type Program struct {
	Instructions []Instruction
	Entry        int    // index of the first instruction to execute
	CodeSegment  uint16 // paragraph of the code segment
	StackSegment uint16 // paragraph of the stack segment
	StackPointer uint16 // initial SP (top of stack segment)
	Image        []Block
}

// IndexOf returns the index of the instruction at the given code segment
// offset, or -1 if no instruction starts there.
func (p *Program) IndexOf(offset uint16) int {
	i := sort.Search(len(p.Instructions), func(i int) bool {
		return p.Instructions[i].Offset >= offset
	})
	if i < len(p.Instructions) && p.Instructions[i].Offset == offset {
		return i
	}
	return -1
}
