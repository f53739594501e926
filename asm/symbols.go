// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package asm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/go8086/cpu"
)

// SymbolKind identifies what a symbol names.
type SymbolKind byte

// Symbol kinds.
const (
	VariableSymbol SymbolKind = iota
	LabelSymbol
	ConstantSymbol
	ProcedureSymbol
	SegmentSymbol
)

var symbolKindNames = []string{"Variable", "Label", "Constant", "Procedure", "Segment"}

func (k SymbolKind) String() string {
	return symbolKindNames[k]
}

// LoadSegment is the paragraph at which the first segment is placed.
const LoadSegment = 0x0700

// Size of the stack segment supplied when a program declares none.
const defaultStackSize = 256

// A Symbol is a named variable, label, procedure, constant or segment.
type Symbol struct {
	Name    string     // upper-case name
	Kind    SymbolKind // what the symbol names
	Segment *Segment   // containing segment; nil for constants
	Offset  uint16     // offset within the segment
	Unit    int        // element size of a variable: 1, 2 or 4
	Count   int        // number of elements of a variable
	Size    int        // Unit * Count
	Init    []byte     // initial bytes, or nil if every element is '?'
	Value   int        // constant value or segment paragraph
	Line    int        // line of the definition
	Index   int        // for code labels, index of the next instruction

	decl     *DataDecl
	equate   *Equate
	expr     *expr
	placed   bool
	visiting bool
	resolved bool
}

// IsCode returns true for labels and procedures.
func (s *Symbol) IsCode() bool {
	return s.Kind == LabelSymbol || s.Kind == ProcedureSymbol
}

// Contains returns true if the segment offset lies inside the variable.
func (s *Symbol) Contains(seg *Segment, off int) bool {
	return s.Kind == VariableSymbol && s.Segment == seg &&
		off >= int(s.Offset) && off < int(s.Offset)+s.Size
}

// A SymbolTable holds every symbol defined by a program. Lookups are
// case-insensitive.
type SymbolTable struct {
	symbols map[string]*Symbol
	order   []*Symbol
}

func newSymbolTable() *SymbolTable {
	return &SymbolTable{symbols: make(map[string]*Symbol)}
}

// Lookup returns the symbol with the given name, or nil. The names @DATA,
// @CODE and @STACK refer to the program's data, code and stack segments.
func (st *SymbolTable) Lookup(name string) *Symbol {
	return st.symbols[strings.ToUpper(name)]
}

// Symbols returns every symbol in definition order.
func (st *SymbolTable) Symbols() []*Symbol {
	return st.order
}

// Variable returns the variable containing the byte at the segment offset,
// or nil.
func (st *SymbolTable) Variable(seg *Segment, off int) *Symbol {
	for _, s := range st.order {
		if s.Contains(seg, off) {
			return s
		}
	}
	return nil
}

func (st *SymbolTable) add(s *Symbol) {
	st.symbols[s.Name] = s
	st.order = append(st.order, s)
}

func (st *SymbolTable) alias(name string, s *Symbol) {
	if s != nil {
		st.symbols[name] = s
	}
}

// The builder is a state object used while laying out a program and
// building its symbol table.
type builder struct {
	*logger
	prog   *Program
	st     *SymbolTable
	errors errorList
}

// BuildSymbols lays out every segment, assigns each label and variable its
// segment and offset, evaluates constants and produces the initial
// contents of every data segment.
func BuildSymbols(p *Program) (*SymbolTable, []*Error) {
	b := newBuilder(p, nil)
	b.build()
	return b.st, b.errors
}

func newBuilder(p *Program, l *logger) *builder {
	return &builder{logger: l, prog: p, st: newSymbolTable()}
}

func (b *builder) build() error {
	b.logSection("Building symbol table")

	steps := []func(b *builder) error{
		(*builder).checkSegments,
		(*builder).declare,
		(*builder).layout,
		(*builder).placeSegments,
		(*builder).evaluateConstants,
		(*builder).emitData,
	}
	for _, step := range steps {
		if err := step(b); err != nil {
			return err
		}
	}
	if len(b.errors) > 0 {
		return errParse
	}
	return nil
}

// Make sure the program has at most one code segment and exactly one stack
// segment, adding a default stack when none was declared.
func (b *builder) checkSegments() error {
	var code, stack *Segment
	for _, s := range b.prog.Segments {
		switch s.Kind {
		case CodeSegment:
			if code != nil {
				b.errors.addLine(UnsupportedFeature, s.Line,
					"segment '%s' is a second code segment; only one is supported", s.Name)
				continue
			}
			code = s
		case StackSegment:
			if stack != nil {
				b.errors.addLine(SemanticError, s.Line,
					"segment '%s' is a second stack segment", s.Name)
				continue
			}
			stack = s
		}
	}

	if stack == nil && code != nil {
		size := Token{Kind: Number, Text: fmt.Sprintf("%d", defaultStackSize), Line: code.Line}
		b.prog.Segments = append(b.prog.Segments, stackSegment(size))
		b.prog.Warnings = append(b.prog.Warnings,
			warnf(code.Line, "no stack segment declared; using a default %d-byte stack", defaultStackSize))
	}
	if len(b.errors) > 0 {
		return errParse
	}
	return nil
}

// Create a stack segment holding 'size' uninitialized bytes.
func stackSegment(size ...Token) *Segment {
	pos := size[0]
	seg := &Segment{Name: "STACK", Kind: StackSegment, Line: pos.Line, hint: StackSegment, simplified: true}
	seg.Items = append(seg.Items, &DataDecl{
		Name: Token{Kind: EOL},
		Unit: 1,
		Values: []*DataValue{{
			Kind:   ValueDup,
			Tokens: size,
			Items:  []*DataValue{{Kind: ValueUninit, Pos: pos}},
			Pos:    pos,
		}},
	})
	return seg
}

// Declare every name so that later steps can tell constants from
// locations regardless of the order of definition.
func (b *builder) declare() error {
	for _, s := range b.prog.Segments {
		b.define(&Symbol{Name: s.Name, Kind: SegmentSymbol, Segment: s, Line: s.Line}, Token{Line: s.Line})
	}
	b.st.alias("@CODE", b.st.Lookup(b.segmentName(CodeSegment)))
	b.st.alias("@DATA", b.st.Lookup(b.segmentName(DataSegment)))
	b.st.alias("@STACK", b.st.Lookup(b.segmentName(StackSegment)))

	for _, e := range b.prog.Globals {
		b.defineEquate(e)
	}

	for _, seg := range b.prog.Segments {
		for _, it := range seg.Items {
			switch it := it.(type) {
			case *LabelDef:
				kind := LabelSymbol
				if it.Proc {
					kind = ProcedureSymbol
				}
				b.define(&Symbol{Name: it.Name.Upper(), Kind: kind, Segment: seg, Line: it.Name.Line, Index: -1}, it.Name)
			case *DataDecl:
				if it.Name.Kind != EOL {
					b.define(&Symbol{
						Name:    it.Name.Upper(),
						Kind:    VariableSymbol,
						Segment: seg,
						Unit:    it.Unit,
						Line:    it.Name.Line,
						decl:    it,
					}, it.Name)
				}
			case *Equate:
				b.defineEquate(it)
			}
		}
	}
	return nil
}

func (b *builder) segmentName(kind SegmentKind) string {
	if s := b.prog.SegmentOfKind(kind); s != nil {
		return s.Name
	}
	return ""
}

func (b *builder) define(s *Symbol, pos Token) {
	if prev := b.st.Lookup(s.Name); prev != nil {
		b.errors.add(SemanticError, pos, "symbol '%s' is already defined at line %d", s.Name, prev.Line)
		return
	}
	b.st.add(s)
	b.log("define %-12s %s", s.Name, s.Kind)
}

// Define a numeric constant. Names defined with '=' may be redefined, and
// the last definition wins.
func (b *builder) defineEquate(e *Equate) {
	name := e.Name.Upper()
	if prev := b.st.Lookup(name); prev != nil && prev.Kind == ConstantSymbol && b.prog.redefinable[name] {
		prev.equate, prev.Line = e, e.Name.Line
		return
	}
	b.define(&Symbol{Name: name, Kind: ConstantSymbol, Line: e.Name.Line, equate: e}, e.Name)
}

// Assign offsets to every item in every segment. Instructions consume
// their estimated encoded length.
func (b *builder) layout() error {
	b.logSection("Assigning offsets")

	for _, seg := range b.prog.Segments {
		loc, end := 0, 0
		index := 0
		overflow := false

		for _, it := range seg.Items {
			switch it := it.(type) {
			case *LabelDef:
				if s := b.st.Lookup(it.Name.Text); s != nil && s.Segment == seg {
					s.Offset, s.placed = uint16(loc), true
					if seg.Kind == CodeSegment {
						s.Index = index
					}
				}

			case *DataDecl:
				it.offset = uint16(loc)
				it.count = b.countElements(it, seg, loc)
				it.size = it.count * it.Unit
				if it.Name.Kind != EOL {
					if s := b.st.Lookup(it.Name.Text); s != nil && s.decl == it {
						s.Offset, s.Count, s.Size, s.placed = it.offset, it.count, it.size, true
					}
				}
				loc += it.size

			case *Equate:
				it.seg, it.loc, it.placed = seg, loc, true

			case *Statement:
				if seg.Kind != CodeSegment {
					b.errors.add(SemanticError, it.Mnemonic,
						"instruction %s in segment '%s', which is not a code segment", it.Mnemonic.Upper(), seg.Name)
					continue
				}
				it.index, it.offset = index, uint16(loc)
				it.length = b.estimateLength(it)
				loc += it.length
				index++
				b.log("%04X  %-4d %s", it.offset, it.length, it.Source)

			case *orgItem:
				v, err := b.evalAt(it.tokens, seg, loc)
				if err != nil {
					b.errors = append(b.errors, err)
					continue
				}
				if v < 0 || v > 0xffff {
					b.errors.add(SemanticError, it.pos, "ORG value %d is out of range", v)
					continue
				}
				loc = v

			case *evenItem:
				loc = (loc + 1) &^ 1
			}

			if loc > end {
				end = loc
			}
			if end > 0x10000 && !overflow {
				b.errors.addLine(SemanticError, it.line(), "segment '%s' exceeds 64K", seg.Name)
				overflow = true
			}
		}
		seg.Size = end
		seg.Bytes = make([]byte, seg.Size)
		b.log("segment %-8s size=%d", seg.Name, seg.Size)
	}

	if len(b.errors) > 0 {
		return errParse
	}
	return nil
}

// Assign consecutive paragraph-aligned bases to the segments.
func (b *builder) placeSegments() error {
	base := LoadSegment
	for _, seg := range b.prog.Segments {
		seg.Base = uint16(base)
		if s := b.st.Lookup(seg.Name); s != nil && s.Kind == SegmentSymbol {
			s.Value, s.Size, s.placed = base, seg.Size, true
		}
		paragraphs := (seg.Size + 15) / 16
		if paragraphs == 0 {
			paragraphs = 1
		}
		base += paragraphs
		b.log("segment %-8s base=%04X", seg.Name, seg.Base)
	}
	if base > 0x10000 {
		b.errors.addLine(SemanticError, b.prog.Segments[len(b.prog.Segments)-1].Line,
			"program does not fit in memory")
		return errParse
	}
	return nil
}

// Evaluate every numeric constant, reporting errors once per definition.
func (b *builder) evaluateConstants() error {
	for _, s := range b.st.Symbols() {
		if s.Kind != ConstantSymbol {
			continue
		}
		v, err := b.st.constant(s)
		if err != nil {
			b.errors = append(b.errors, err)
			continue
		}
		b.log("%-12s = %d (%s)", s.Name, v, s.expr)
	}
	if len(b.errors) > 0 {
		return errParse
	}
	return nil
}

// Produce the initial contents of every segment.
func (b *builder) emitData() error {
	for _, seg := range b.prog.Segments {
		for _, it := range seg.Items {
			d, ok := it.(*DataDecl)
			if !ok {
				continue
			}
			e := &emitter{b: b, seg: seg, decl: d, loc: int(d.offset)}
			initialized := false
			for _, v := range d.Values {
				if e.value(v) {
					initialized = true
				}
			}
			if initialized {
				b.logBytes(seg, int(d.offset), seg.Bytes[d.offset:int(d.offset)+d.size])
			}
			if d.Name.Kind == EOL {
				continue
			}
			if s := b.st.Lookup(d.Name.Text); s != nil && s.decl == d && initialized {
				s.Init = seg.Bytes[d.offset : int(d.offset)+d.size]
			}
		}
	}
	if len(b.errors) > 0 {
		return errParse
	}
	return nil
}

// Count the elements of a data declaration, evaluating DUP counts.
func (b *builder) countElements(d *DataDecl, seg *Segment, loc int) int {
	n := 0
	for _, v := range d.Values {
		n += b.countValue(v, d.Unit, seg, loc)
	}
	return n
}

func (b *builder) countValue(v *DataValue, unit int, seg *Segment, loc int) int {
	switch v.Kind {
	case ValueString:
		if unit == 1 {
			return len(v.Text)
		}
		return 1
	case ValueDup:
		count, err := b.evalAt(v.Tokens, seg, loc)
		if err != nil {
			b.errors = append(b.errors, err)
			return 0
		}
		if count < 0 || count > 0x10000 {
			b.errors.add(SemanticError, v.Pos, "DUP count %d is out of range", count)
			return 0
		}
		v.count = count
		inner := 0
		for _, item := range v.Items {
			inner += b.countValue(item, unit, seg, loc)
		}
		return count * inner
	default:
		return 1
	}
}

// Evaluate an expression with the location counter at seg:loc.
func (b *builder) evalAt(toks []Token, seg *Segment, loc int) (int, *Error) {
	e, perr := parseExpr(toks)
	if perr != nil {
		return 0, perr
	}
	ev := &evaluator{st: b.st, seg: seg, loc: loc}
	v, err := e.eval(ev)
	if err != nil {
		return 0, semanticError(toks[0], err)
	}
	return v, nil
}

// An emitter writes the initial bytes of a single data declaration.
type emitter struct {
	b    *builder
	seg  *Segment
	decl *DataDecl
	loc  int
}

// Write one initializer, returning true if it produced initialized data.
func (e *emitter) value(v *DataValue) bool {
	unit := e.decl.Unit
	switch v.Kind {
	case ValueUninit:
		e.loc += unit
		return false

	case ValueString:
		if unit == 1 {
			copy(e.seg.Bytes[e.loc:], v.Text)
			e.loc += len(v.Text)
			return true
		}
		if len(v.Text) > 2 {
			e.b.errors.add(SemanticError, v.Pos, "string '%s' is too long for a %d-byte value", v.Text, unit)
			e.loc += unit
			return false
		}
		n := 0
		for i := 0; i < len(v.Text); i++ {
			n = n<<8 | int(v.Text[i])
		}
		e.put(n, unit)
		return true

	case ValueDup:
		initialized := false
		for i := 0; i < v.count; i++ {
			for _, item := range v.Items {
				if e.value(item) {
					initialized = true
				}
			}
		}
		return initialized

	default:
		n, ok := e.eval(v)
		if !ok {
			e.loc += unit
			return false
		}
		if !fits(n, unit) {
			e.b.errors.add(SemanticError, v.Pos, "value %d does not fit in %s", n, unitName(unit))
			e.loc += unit
			return false
		}
		e.put(n, unit)
		return true
	}
}

func (e *emitter) eval(v *DataValue) (int, bool) {
	x, perr := parseExpr(v.Tokens)
	if perr != nil {
		e.b.errors = append(e.b.errors, perr)
		return 0, false
	}

	// A DD initialized with a bare label or variable is a far pointer.
	if e.decl.Unit == 4 && x.op == opIdentifier {
		if s := e.b.st.Lookup(x.ident.Text); s != nil && s.Segment != nil && s.Kind != SegmentSymbol {
			return int(s.Offset) | int(s.Segment.Base)<<16, true
		}
	}

	ev := &evaluator{st: e.b.st, seg: e.seg, loc: e.loc}
	n, err := x.eval(ev)
	if err != nil {
		e.b.errors = append(e.b.errors, semanticError(v.Pos, err))
		return 0, false
	}
	return n, true
}

func (e *emitter) put(n, unit int) {
	for i := 0; i < unit; i++ {
		e.seg.Bytes[e.loc+i] = byte(n >> (8 * i))
	}
	e.loc += unit
}

func fits(n, unit int) bool {
	switch unit {
	case 1:
		return n >= -128 && n <= 0xff
	case 2:
		return n >= -32768 && n <= 0xffff
	default:
		return n >= -(1<<31) && n <= 0xffffffff
	}
}

func unitName(unit int) string {
	switch unit {
	case 1:
		return "a byte"
	case 2:
		return "a word"
	default:
		return "a doubleword"
	}
}

func semanticError(t Token, err error) *Error {
	return &Error{Kind: SemanticError, Line: t.Line, Column: t.Column, Message: err.Error()}
}

//
// Constant evaluation
//

// Return the value of a constant, evaluating it on first use.
func (st *SymbolTable) constant(s *Symbol) (int, *Error) {
	if s.resolved {
		return s.Value, nil
	}
	e := s.equate
	if s.visiting {
		return 0, &Error{Kind: SemanticError, Line: e.Name.Line, Column: e.Name.Column,
			Message: fmt.Sprintf("constant '%s' is defined in terms of itself", s.Name)}
	}

	if s.expr == nil {
		x, perr := parseExpr(e.Tokens)
		if perr != nil {
			return 0, perr
		}
		s.expr = x
	}

	s.visiting = true
	defer func() { s.visiting = false }()

	ev := &evaluator{st: st, seg: e.seg, loc: e.loc}
	v, err := s.expr.eval(ev)
	if err != nil {
		var ae *Error
		if errors.As(err, &ae) {
			return 0, ae
		}
		return 0, semanticError(e.Tokens[0], err)
	}
	s.Value, s.resolved = v, true
	return v, nil
}

// An evaluator resolves the names used by an expression against the
// symbol table. seg and loc give the location counter; seg is nil where
// '$' has no meaning.
type evaluator struct {
	st  *SymbolTable
	seg *Segment
	loc int
}

func (ev *evaluator) symbol(name Token) (*Symbol, error) {
	s := ev.st.Lookup(name.Text)
	if s == nil {
		return nil, fmt.Errorf("undefined symbol '%s' at line %d", name.Text, name.Line)
	}
	if !s.placed && s.Kind != ConstantSymbol {
		return nil, fmt.Errorf("symbol '%s' is used before its location is known", name.Text)
	}
	return s, nil
}

func (ev *evaluator) lookup(name Token) (int, error) {
	s, err := ev.symbol(name)
	if err != nil {
		return 0, err
	}
	switch s.Kind {
	case ConstantSymbol:
		v, cerr := ev.st.constant(s)
		if cerr != nil {
			return 0, cerr
		}
		return v, nil
	case SegmentSymbol:
		return s.Value, nil
	default:
		return int(s.Offset), nil
	}
}

func (ev *evaluator) attribute(op exprOp, name Token) (int, error) {
	s, err := ev.symbol(name)
	if err != nil {
		return 0, err
	}
	if s.Kind == ConstantSymbol {
		if op == opOffset {
			return ev.lookup(name)
		}
		return 0, fmt.Errorf("%s cannot be applied to constant '%s'", op.symbol(), s.Name)
	}

	switch op {
	case opOffset:
		if s.Kind == SegmentSymbol {
			return 0, nil
		}
		return int(s.Offset), nil
	case opSeg:
		if s.Kind == SegmentSymbol {
			return s.Value, nil
		}
		return int(s.Segment.Base), nil
	case opType:
		switch s.Kind {
		case VariableSymbol:
			return s.Unit, nil
		case LabelSymbol, ProcedureSymbol:
			return 0xffff, nil // NEAR
		}
		return 0, nil
	case opLength:
		if s.Kind == VariableSymbol {
			return s.Count, nil
		}
		return 1, nil
	default:
		return s.Size, nil
	}
}

func (ev *evaluator) location() (int, error) {
	if ev.seg == nil {
		return 0, fmt.Errorf("'$' cannot be used outside a segment")
	}
	return ev.loc, nil
}

//
// Instruction length estimates
//

// Estimate the encoded length of an instruction from its operand syntax,
// so that labels and IP values resemble real MASM offsets.
func (b *builder) estimateLength(s *Statement) int {
	m := cpu.LookupMnemonic(s.Mnemonic.Text)
	if m == nil {
		return 1
	}

	ops := make([]operandShape, len(s.Operands))
	for i, op := range s.Operands {
		ops[i] = b.shape(op)
	}
	prefix := 0
	for _, o := range ops {
		if o.override {
			prefix++
		}
	}

	switch m.Form {
	case cpu.FormNone:
		return 1
	case cpu.FormBranch:
		if m.Name == "JMP" && !(len(s.Operands) > 0 && s.Operands[0][0].IsOp("SHORT")) {
			return 3
		}
		return 2
	case cpu.FormCall:
		return 3
	case cpu.FormReturn:
		if len(ops) > 0 {
			return 3
		}
		return 1
	case cpu.FormInterrupt:
		return 2
	case cpu.FormPush, cpu.FormPop:
		if len(ops) > 0 && ops[0].reg {
			return 1
		}
	case cpu.FormUnary:
		if len(ops) > 0 && ops[0].reg && ops[0].size == 2 && (m.Name == "INC" || m.Name == "DEC") {
			return 1
		}
	case cpu.FormMove:
		if len(ops) == 2 && ops[0].reg && ops[1].imm {
			return 1 + ops[0].size
		}
	}

	length := 2 + prefix
	for i, o := range ops {
		length += o.disp
		if o.imm && i > 0 && m.Form != cpu.FormShift {
			size := 2
			if ops[0].size != 0 {
				size = ops[0].size
			}
			length += size
		}
	}
	return length
}

// The syntactic shape of an operand, used for length estimates.
type operandShape struct {
	reg      bool
	imm      bool
	override bool
	size     int
	disp     int
}

func (b *builder) shape(toks []Token) operandShape {
	var o operandShape

	// Size overrides and segment prefixes.
	for len(toks) >= 2 && (toks[1].IsOp("PTR") || toks[0].IsOp("SHORT")) {
		if toks[1].IsOp("PTR") {
			o.size = ptrSize(toks[0])
			toks = toks[2:]
		} else {
			toks = toks[1:]
		}
	}
	if len(toks) >= 3 && toks[0].Kind == Register && toks[1].Kind == Colon {
		o.override = true
		toks = toks[2:]
	}
	if len(toks) == 0 {
		return o
	}

	if len(toks) == 1 && toks[0].Kind == Register {
		r, _ := cpu.LookupReg(toks[0].Text)
		o.reg, o.size = true, r.Size()
		return o
	}

	memory, regs, bp, numeric, named := false, 0, false, false, false
	for _, t := range toks {
		switch t.Kind {
		case Bracket:
			memory = true
		case Register:
			regs++
			if t.Is(Register, "BP") {
				bp = true
			}
		case Number, String:
			numeric = true
		case Identifier:
			s := b.st.Lookup(t.Text)
			if s == nil || s.Kind == ConstantSymbol || s.Kind == SegmentSymbol {
				numeric = true
			} else if s.Kind == VariableSymbol {
				memory, named = true, true
				if o.size == 0 {
					o.size = s.Unit
				}
			}
		case Operator:
			if t.IsOp("OFFSET") || t.IsOp("SEG") {
				return operandShape{imm: true}
			}
		}
	}

	if !memory {
		o.imm = true
		return o
	}
	switch {
	case named || regs == 0:
		o.disp = 2
	case numeric:
		o.disp = 1
	case regs == 1 && bp:
		o.disp = 1
	}
	return o
}

func ptrSize(t Token) int {
	switch t.Upper() {
	case "BYTE":
		return 1
	case "WORD":
		return 2
	case "DWORD":
		return 4
	}
	return 0
}
