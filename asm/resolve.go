// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package asm

import (
	"fmt"

	"github.com/beevik/go8086/cpu"
)

// The resolver is a state object used while turning parsed statements
// into executable instructions.
type resolver struct {
	*logger
	prog     *Program
	st       *SymbolTable
	code     *Segment
	loc      int
	insts    []cpu.Instruction
	warnings []string
	errors   errorList
}

// Resolve classifies and checks the operands of every statement in the
// code segment and returns the decoded instruction list. Warnings describe
// questionable but accepted constructs such as operand size mismatches.
func Resolve(p *Program, st *SymbolTable) ([]cpu.Instruction, []string, []*Error) {
	r := newResolver(p, st, nil)
	r.resolve()
	return r.insts, r.warnings, r.errors
}

func newResolver(p *Program, st *SymbolTable, l *logger) *resolver {
	return &resolver{logger: l, prog: p, st: st}
}

func (r *resolver) resolve() error {
	r.logSection("Resolving operands")

	r.code = r.prog.SegmentOfKind(CodeSegment)
	if r.code == nil {
		return nil
	}
	for _, it := range r.code.Items {
		s, ok := it.(*Statement)
		if !ok {
			continue
		}
		r.loc = int(s.offset)
		inst, err := r.statement(s)
		if err != nil {
			r.errors = append(r.errors, err)
			continue
		}
		r.insts = append(r.insts, inst)
		r.log("%04X  %-24s %v", inst.Offset, inst.Source, inst.Operands)
	}

	if len(r.errors) > 0 {
		return errParse
	}
	return nil
}

func (r *resolver) warn(line int, format string, args ...any) {
	r.warnings = append(r.warnings, warnf(line, format, args...))
}

// Number of operands accepted by each form.
var formOperands = []struct{ min, max int }{
	cpu.FormNone:      {0, 0},
	cpu.FormMove:      {2, 2},
	cpu.FormBinary:    {2, 2},
	cpu.FormExchange:  {2, 2},
	cpu.FormLoadAddr:  {2, 2},
	cpu.FormUnary:     {1, 1},
	cpu.FormMulDiv:    {1, 1},
	cpu.FormShift:     {2, 2},
	cpu.FormPush:      {1, 1},
	cpu.FormPop:       {1, 1},
	cpu.FormBranch:    {1, 1},
	cpu.FormCall:      {1, 1},
	cpu.FormReturn:    {0, 1},
	cpu.FormInterrupt: {1, 1},
}

func (r *resolver) statement(s *Statement) (cpu.Instruction, *Error) {
	mn := s.Mnemonic
	m := cpu.LookupMnemonic(mn.Text)
	inst := cpu.Instruction{
		Mnemonic: m,
		Name:     mn.Upper(),
		Index:    s.index,
		Line:     mn.Line,
		Source:   s.Source,
		Offset:   s.offset,
		Length:   s.length,
	}

	// XLAT may name its table, which only documents the instruction.
	ops := s.Operands
	if m.Form == cpu.FormNone && len(ops) == 1 && (inst.Name == "XLAT" || inst.Name == "XLATB") {
		ops = nil
	}

	n := formOperands[m.Form]
	if len(ops) < n.min || len(ops) > n.max {
		return inst, semErrorf(mn, "%s expects %s, got %d", inst.Name, operandCount(n.min, n.max), len(ops))
	}

	var err *Error
	switch m.Form {
	case cpu.FormNone:
	case cpu.FormBranch, cpu.FormCall:
		inst.Operands, err = r.target(inst.Name, ops[0])
	case cpu.FormReturn:
		if len(ops) == 1 {
			inst.Operands, err = r.immediateOnly(ops[0], 2, 0, 0xffff)
		}
	case cpu.FormInterrupt:
		inst.Operands, err = r.immediateOnly(ops[0], 1, 0, 0xff)
	default:
		inst.Operands, err = r.dataOperands(inst.Name, m.Form, mn, ops)
	}
	return inst, err
}

func operandCount(min, max int) string {
	switch {
	case min == max && min == 1:
		return "1 operand"
	case min == max:
		return fmt.Sprintf("%d operands", min)
	default:
		return fmt.Sprintf("%d to %d operands", min, max)
	}
}

func semErrorf(t Token, format string, args ...any) *Error {
	return &Error{Kind: SemanticError, Line: t.Line, Column: t.Column, Message: fmt.Sprintf(format, args...)}
}

func unsupportedf(t Token, format string, args ...any) *Error {
	return &Error{Kind: UnsupportedFeature, Line: t.Line, Column: t.Column, Message: fmt.Sprintf(format, args...)}
}

// Resolve the target of a jump, loop or call to an instruction index.
func (r *resolver) target(name string, toks []Token) ([]cpu.Operand, *Error) {
	pos := toks[0]
	switch {
	case len(toks) >= 1 && toks[0].IsOp("SHORT"):
		toks = toks[1:]
	case len(toks) >= 2 && toks[0].IsOp("NEAR") && toks[1].IsOp("PTR"):
		toks = toks[2:]
	case len(toks) >= 2 && toks[0].IsOp("FAR") && toks[1].IsOp("PTR"):
		return nil, unsupportedf(pos, "far %s is not supported", name)
	}

	if len(toks) != 1 || toks[0].Kind != Identifier {
		for _, t := range toks {
			if t.Kind == Register || t.Kind == Bracket {
				return nil, unsupportedf(pos, "indirect %s is not supported", name)
			}
		}
		return nil, semErrorf(pos, "%s requires a code label", name)
	}

	t := toks[0]
	s := r.st.Lookup(t.Text)
	switch {
	case s == nil:
		return nil, semErrorf(t, "undefined symbol '%s' at line %d", t.Text, t.Line)
	case !s.IsCode() || s.Segment.Kind != CodeSegment:
		return nil, semErrorf(t, "'%s' is not a code label", t.Text)
	}
	return []cpu.Operand{{Kind: cpu.TargetOperand, Target: s.Index, Symbol: s.Name}}, nil
}

// Resolve an operand that must be a constant expression within a range.
func (r *resolver) immediateOnly(toks []Token, size, min, max int) ([]cpu.Operand, *Error) {
	op, err := r.operand(toks)
	if err != nil {
		return nil, err
	}
	if op.Kind != cpu.ImmediateOperand {
		return nil, semErrorf(toks[0], "operand must be a constant")
	}
	if op.value < min || op.value > max {
		return nil, semErrorf(toks[0], "value %d is out of range", op.value)
	}
	op.Size = size
	return []cpu.Operand{op.Operand}, nil
}

// Resolve and check the operands of data-manipulating instructions.
func (r *resolver) dataOperands(name string, form cpu.Form, mn Token, toks [][]Token) ([]cpu.Operand, *Error) {
	ops := make([]operand, len(toks))
	for i, t := range toks {
		var err *Error
		ops[i], err = r.operand(t)
		if err != nil {
			return nil, err
		}
	}

	dst := &ops[0]
	if dst.Kind == cpu.ImmediateOperand {
		switch form {
		case cpu.FormPush:
			return nil, unsupportedf(dst.pos, "PUSH of an immediate value requires an 80186")
		case cpu.FormUnary, cpu.FormMulDiv, cpu.FormPop:
			return nil, semErrorf(dst.pos, "%s cannot take an immediate operand", name)
		default:
			return nil, semErrorf(dst.pos, "an immediate value cannot be the destination of %s", name)
		}
	}
	if dst.Kind == cpu.RegisterOperand && dst.Reg == cpu.CS && form != cpu.FormPush {
		return nil, semErrorf(dst.pos, "CS cannot be the destination of %s", name)
	}

	switch form {
	case cpu.FormMove:
		src := &ops[1]
		switch {
		case dst.Kind == cpu.MemoryOperand && src.Kind == cpu.MemoryOperand:
			return nil, semErrorf(src.pos, "memory-to-memory MOV is not allowed")
		case dst.isSegment() && src.Kind == cpu.ImmediateOperand:
			return nil, semErrorf(src.pos, "a segment register cannot be loaded with an immediate value")
		case dst.isSegment() && src.isSegment():
			return nil, semErrorf(src.pos, "segment register to segment register MOV is not allowed")
		}
		if err := r.matchSizes(name, mn, dst, src); err != nil {
			return nil, err
		}

	case cpu.FormBinary, cpu.FormExchange:
		src := &ops[1]
		switch {
		case dst.Kind == cpu.MemoryOperand && src.Kind == cpu.MemoryOperand:
			return nil, semErrorf(src.pos, "%s cannot have two memory operands", name)
		case dst.isSegment() || src.isSegment():
			return nil, semErrorf(mn, "%s cannot use a segment register", name)
		case form == cpu.FormExchange && src.Kind == cpu.ImmediateOperand:
			return nil, semErrorf(src.pos, "XCHG requires register or memory operands")
		}
		if err := r.matchSizes(name, mn, dst, src); err != nil {
			return nil, err
		}

	case cpu.FormLoadAddr:
		src := &ops[1]
		if dst.Kind != cpu.RegisterOperand || dst.Size != 2 || dst.isSegment() {
			return nil, semErrorf(dst.pos, "LEA requires a 16-bit general register destination")
		}
		if src.Kind != cpu.MemoryOperand {
			return nil, semErrorf(src.pos, "LEA requires a memory source")
		}
		src.Size = 2

	case cpu.FormUnary, cpu.FormMulDiv:
		if dst.isSegment() {
			return nil, semErrorf(dst.pos, "%s cannot use a segment register", name)
		}
		if err := r.requireSize(name, dst); err != nil {
			return nil, err
		}

	case cpu.FormShift:
		src := &ops[1]
		if dst.isSegment() {
			return nil, semErrorf(dst.pos, "%s cannot use a segment register", name)
		}
		switch {
		case src.Kind == cpu.RegisterOperand && src.Reg == cpu.CL:
		case src.Kind == cpu.ImmediateOperand && src.value == 1:
			src.Size = 1
		case src.Kind == cpu.ImmediateOperand:
			return nil, unsupportedf(src.pos, "shift count must be 1 or CL on the 8086")
		default:
			return nil, semErrorf(src.pos, "shift count must be 1 or CL")
		}
		if err := r.requireSize(name, dst); err != nil {
			return nil, err
		}

	case cpu.FormPush, cpu.FormPop:
		switch {
		case dst.Kind == cpu.RegisterOperand && dst.Size != 2:
			return nil, semErrorf(dst.pos, "%s requires a 16-bit operand", name)
		case dst.Kind == cpu.MemoryOperand && dst.Size == 1:
			return nil, semErrorf(dst.pos, "%s requires a 16-bit operand", name)
		}
		dst.Size = 2
	}

	out := make([]cpu.Operand, len(ops))
	for i := range ops {
		out[i] = ops[i].Operand
	}
	return out, nil
}

// Settle the size of a two-operand instruction. The destination register
// wins a register/memory disagreement, which is reported as a warning.
func (r *resolver) matchSizes(name string, mn Token, dst, src *operand) *Error {
	switch {
	case src.Kind == cpu.ImmediateOperand:
		if err := r.requireSize(name, dst); err != nil {
			return err
		}
		return src.fit(dst.Size)

	case dst.Size == 0 && src.Size == 0:
		return semErrorf(mn, "operand size of %s is unknown; use BYTE PTR or WORD PTR", name)
	case dst.Size == 0:
		dst.Size = src.Size
	case src.Size == 0:
		src.Size = dst.Size

	case dst.Size != src.Size:
		if dst.Kind == cpu.RegisterOperand && src.Kind == cpu.RegisterOperand {
			return semErrorf(mn, "operand size mismatch between %s and %s", dst.Reg, src.Reg)
		}
		r.warn(mn.Line, "operand size mismatch in %s; using %s", name, sizeName(regSide(dst, src).Size))
		size := regSide(dst, src).Size
		dst.Size, src.Size = size, size
	}
	if dst.Size > 2 {
		return unsupportedf(mn, "32-bit operands are not supported")
	}
	return nil
}

func regSide(a, b *operand) *operand {
	if a.Kind == cpu.RegisterOperand {
		return a
	}
	return b
}

func (r *resolver) requireSize(name string, op *operand) *Error {
	switch op.Size {
	case 0:
		return semErrorf(op.pos, "operand size of %s is unknown; use BYTE PTR or WORD PTR", name)
	case 4:
		return unsupportedf(op.pos, "32-bit operands are not supported")
	}
	return nil
}

func sizeName(size int) string {
	switch size {
	case 1:
		return "BYTE"
	case 2:
		return "WORD"
	default:
		return "DWORD"
	}
}

//
// Operand classification
//

// An operand is a cpu.Operand plus the information needed to check it.
type operand struct {
	cpu.Operand
	pos   Token
	value int // signed immediate value before truncation
}

func (o *operand) isSegment() bool {
	return o.Kind == cpu.RegisterOperand && o.Reg.IsSegment()
}

// Check that an immediate fits in 'size' bytes and store it.
func (o *operand) fit(size int) *Error {
	if !fits(o.value, size) {
		return semErrorf(o.pos, "value %d does not fit in %s", o.value, unitName(size))
	}
	o.Size = size
	if size == 1 {
		o.Imm = uint16(byte(o.value))
	} else {
		o.Imm = uint16(o.value)
	}
	return nil
}

// A term of a memory operand: a sign and the tokens between separators.
type term struct {
	neg  bool
	toks []Token
}

// Classify a single operand.
func (r *resolver) operand(toks []Token) (operand, *Error) {
	o := operand{pos: toks[0], value: -1}
	o.Base, o.Index, o.Seg = cpu.RegNone, cpu.RegNone, cpu.DS

	// Size overrides and segment prefixes may appear in either order.
	for len(toks) >= 2 {
		switch {
		case toks[1].IsOp("PTR"):
			o.Size = ptrSize(toks[0])
			if o.Size == 0 {
				return o, semErrorf(toks[0], "invalid size '%s'", toks[0].Text)
			}
			toks = toks[2:]
			continue
		case toks[0].Kind == Register && toks[1].Kind == Colon:
			reg, _ := cpu.LookupReg(toks[0].Text)
			if !reg.IsSegment() {
				return o, semErrorf(toks[0], "'%s' is not a segment register", toks[0].Text)
			}
			o.Seg, o.Override = reg, true
			toks = toks[2:]
			continue
		}
		break
	}
	if len(toks) == 0 {
		return o, semErrorf(o.pos, "missing operand")
	}

	if len(toks) == 1 && toks[0].Kind == Register {
		if o.Override {
			return o, semErrorf(toks[0], "a segment override requires a memory operand")
		}
		reg, _ := cpu.LookupReg(toks[0].Text)
		o.Kind, o.Reg = cpu.RegisterOperand, reg
		if o.Size != 0 && o.Size != reg.Size() {
			return o, semErrorf(toks[0], "%s PTR does not match register %s", sizeName(o.Size), reg)
		}
		o.Size = reg.Size()
		return o, nil
	}

	if r.isMemory(toks) || o.Override {
		err := r.memory(&o, toks)
		return o, err
	}

	v, err := r.eval(toks)
	if err != nil {
		return o, err
	}
	o.Kind, o.value, o.Imm = cpu.ImmediateOperand, v, uint16(v)
	if s := r.namedSymbol(toks); s != nil {
		o.Symbol = s.Name
	}
	if o.Size == 4 {
		return o, unsupportedf(o.pos, "32-bit operands are not supported")
	}
	return o, nil
}

// An operand refers to memory if it contains brackets or names a variable
// or label without taking its OFFSET.
func (r *resolver) isMemory(toks []Token) bool {
	for i, t := range toks {
		switch t.Kind {
		case Bracket:
			return true
		case Identifier:
			if i > 0 && (toks[i-1].IsOp("OFFSET") || toks[i-1].IsOp("SEG") ||
				toks[i-1].IsOp("TYPE") || toks[i-1].IsOp("LENGTH") || toks[i-1].IsOp("SIZE")) {
				continue
			}
			if s := r.st.Lookup(t.Text); s != nil && (s.Kind == VariableSymbol || s.IsCode()) {
				return true
			}
		}
	}
	return false
}

// The first variable or label named directly by the operand.
func (r *resolver) namedSymbol(toks []Token) *Symbol {
	for _, t := range toks {
		if t.Kind == Identifier {
			if s := r.st.Lookup(t.Text); s != nil && s.Kind != ConstantSymbol {
				return s
			}
		}
	}
	return nil
}

// Split a memory operand into base and index registers and a displacement
// expression. Brackets act as '+'.
func (r *resolver) memory(o *operand, toks []Token) *Error {
	o.Kind = cpu.MemoryOperand

	var terms []term
	cur := term{}
	depth := 0
	flush := func() {
		if len(cur.toks) > 0 {
			terms = append(terms, cur)
		}
		cur = term{}
	}

	for _, t := range toks {
		switch {
		case t.Is(Bracket, "["):
			flush()
		case t.Is(Bracket, "]"):
			flush()
		case t.IsOp("("):
			depth++
			cur.toks = append(cur.toks, t)
		case t.IsOp(")"):
			depth--
			cur.toks = append(cur.toks, t)
		case depth == 0 && (t.IsOp("+") || t.IsOp("-")) && len(cur.toks) > 0 && !endsWithOperator(cur.toks):
			flush()
			cur.neg = t.Text == "-"
		case depth == 0 && (t.IsOp("+") || t.IsOp("-")) && len(cur.toks) == 0:
			if t.Text == "-" {
				cur.neg = !cur.neg
			}
		default:
			cur.toks = append(cur.toks, t)
		}
	}
	flush()

	var disp []Token
	for _, tm := range terms {
		if len(tm.toks) == 1 && tm.toks[0].Kind == Register {
			if err := o.addRegister(tm); err != nil {
				return err
			}
			continue
		}
		for _, t := range tm.toks {
			if t.Kind == Register {
				return semErrorf(t, "register '%s' cannot be used in an address expression", t.Text)
			}
		}
		sign := Token{Kind: Operator, Text: "+", Line: tm.toks[0].Line, Column: tm.toks[0].Column}
		if tm.neg {
			sign.Text = "-"
		}
		if len(disp) > 0 || tm.neg {
			disp = append(disp, sign)
		}
		disp = append(disp, Token{Kind: Operator, Text: "(", Line: sign.Line, Column: sign.Column})
		disp = append(disp, tm.toks...)
		disp = append(disp, Token{Kind: Operator, Text: ")", Line: sign.Line, Column: sign.Column})
	}

	if len(disp) > 0 {
		v, err := r.eval(disp)
		if err != nil {
			return err
		}
		o.Disp = uint16(v)
	}

	if s := r.namedSymbol(disp); s != nil {
		o.Symbol = s.Name
		if o.Size == 0 && s.Kind == VariableSymbol {
			o.Size = s.Unit
		}
		if !o.Override {
			o.Seg = r.segmentFor(s.Segment)
		}
	}
	if !o.Override && o.Base == cpu.BP {
		o.Seg = cpu.SS
	}
	return nil
}

func endsWithOperator(toks []Token) bool {
	last := toks[len(toks)-1]
	return last.Kind == Operator && !last.IsOp(")")
}

func (o *operand) addRegister(tm term) *Error {
	t := tm.toks[0]
	reg, _ := cpu.LookupReg(t.Text)
	if tm.neg {
		return semErrorf(t, "register '%s' cannot be subtracted in an address", t.Text)
	}
	switch reg {
	case cpu.BX, cpu.BP:
		if o.Base != cpu.RegNone {
			return semErrorf(t, "invalid base/index combination: %s and %s", o.Base, reg)
		}
		o.Base = reg
	case cpu.SI, cpu.DI:
		if o.Index != cpu.RegNone {
			return semErrorf(t, "invalid base/index combination: %s and %s", o.Index, reg)
		}
		o.Index = reg
	default:
		return semErrorf(t, "register %s cannot be used as a base or index", reg)
	}
	return nil
}

// Choose the segment register used to reach a variable: the register
// ASSUMEd to hold its segment, preferring DS, or DS if none is.
func (r *resolver) segmentFor(seg *Segment) cpu.Reg {
	if seg == nil {
		return cpu.DS
	}
	for _, reg := range []cpu.Reg{cpu.DS, cpu.ES, cpu.SS, cpu.CS} {
		if name, ok := r.prog.Assume[reg]; ok && name == seg.Name {
			return reg
		}
	}
	return cpu.DS
}

func (r *resolver) eval(toks []Token) (int, *Error) {
	e, perr := parseExpr(toks)
	if perr != nil {
		return 0, perr
	}
	v, err := e.eval(&evaluator{st: r.st, seg: r.code, loc: r.loc})
	if err != nil {
		if ae, ok := err.(*Error); ok {
			return 0, ae
		}
		return 0, semanticError(toks[0], err)
	}
	return v, nil
}
