// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package asm

import (
	"errors"
	"io"
	"strings"

	"github.com/beevik/go8086/cpu"
)

// SegmentKind identifies the role of a segment.
type SegmentKind byte

// Segment kinds.
const (
	CodeSegment SegmentKind = iota
	DataSegment
	StackSegment
	ExtraSegment
	unknownSegment
)

var segmentKindNames = []string{"CODE", "DATA", "STACK", "EXTRA", "?"}

func (k SegmentKind) String() string {
	return segmentKindNames[k]
}

// A Segment is a named block of code or data declared with SEGMENT/ENDS or
// one of the simplified segment directives.
type Segment struct {
	Name  string      // upper-case segment name
	Kind  SegmentKind // role of the segment
	Line  int         // line of the opening directive
	Items []Item      // declarations, labels and statements in order

	// Assigned by BuildSymbols.
	Base  uint16 // paragraph number of the segment's first byte
	Size  int    // size in bytes
	Bytes []byte // initial contents

	hint       SegmentKind
	implicit   bool // created for code that appears outside any segment
	simplified bool // created by .CODE, .DATA or .STACK
}

// Contains returns true if the offset lies inside the segment.
func (s *Segment) Contains(off int) bool {
	return off >= 0 && off < s.Size
}

// An Item is one entry in a segment: a LabelDef, DataDecl, Equate,
// Statement or location-counter directive.
type Item interface {
	line() int
}

// A LabelDef defines a code or data label at the current location. Proc is
// set for labels introduced by PROC.
type LabelDef struct {
	Name Token
	Proc bool
}

// A DataDecl is a DB, DW or DD declaration.
type DataDecl struct {
	Name   Token // Kind is EOL for anonymous declarations
	Unit   int   // 1, 2 or 4
	Values []*DataValue
	Source string

	offset uint16
	size   int
	count  int
}

// DataValueKind identifies the kind of a data initializer.
type DataValueKind byte

// Data initializer kinds.
const (
	ValueExpr   DataValueKind = iota // numeric expression
	ValueString                      // quoted string
	ValueUninit                      // ?
	ValueDup                         // count DUP (values)
)

// A DataValue is a single initializer in a data declaration.
type DataValue struct {
	Kind   DataValueKind
	Tokens []Token      // expression (ValueExpr) or repeat count (ValueDup)
	Text   string       // ValueString contents
	Items  []*DataValue // ValueDup initializers
	Pos    Token        // first token, for error reporting

	count int // repeat count, once evaluated
}

// An Equate is a numeric constant defined with EQU or '='.
type Equate struct {
	Name   Token
	Tokens []Token

	seg    *Segment
	loc    int
	placed bool
}

// A Statement is a single instruction with unresolved operands.
type Statement struct {
	Mnemonic Token
	Operands [][]Token
	Source   string

	index  int
	offset uint16
	length int
}

type orgItem struct {
	pos    Token
	tokens []Token
}

type evenItem struct {
	pos Token
}

func (l *LabelDef) line() int  { return l.Name.Line }
func (d *DataDecl) line() int  { return d.Values[0].Pos.Line }
func (e *Equate) line() int    { return e.Name.Line }
func (s *Statement) line() int { return s.Mnemonic.Line }
func (o *orgItem) line() int   { return o.pos.Line }
func (e *evenItem) line() int  { return e.pos.Line }

// A Program is the intermediate representation produced by Parse.
type Program struct {
	Segments []*Segment
	Globals  []*Equate         // equates defined outside any segment
	Assume   map[cpu.Reg]string // segment register to segment name
	Start    Token             // END operand, Kind EOL if absent
	Model    string
	Warnings []string

	Source      *Lexer
	textEquates map[string][]Token
	redefinable map[string]bool
}

// Segment returns the segment with the given name, or nil.
func (p *Program) Segment(name string) *Segment {
	for _, s := range p.Segments {
		if strings.EqualFold(s.Name, name) {
			return s
		}
	}
	return nil
}

// SegmentOfKind returns the first segment of the requested kind, or nil.
func (p *Program) SegmentOfKind(kind SegmentKind) *Segment {
	for _, s := range p.Segments {
		if s.Kind == kind {
			return s
		}
	}
	return nil
}

// The parser is a state object used while building a Program from tokens.
type parser struct {
	*logger
	lx           *Lexer
	prog         *Program
	seg          *Segment
	procs        []Token
	errors       errorList
	ended        bool
	usedSegments bool
}

// Parse reads every line from the lexer and builds the program's
// intermediate representation. Recoverable errors are collected; an
// unbalanced SEGMENT/ENDS or PROC/ENDP or a missing END stops the pass.
func Parse(lx *Lexer) (*Program, []*Error) {
	p := newParser(lx, nil)
	p.parse()
	return p.prog, p.errors
}

func newParser(lx *Lexer, l *logger) *parser {
	return &parser{
		logger: l,
		lx:     lx,
		prog: &Program{
			Assume:      make(map[cpu.Reg]string),
			Start:       Token{Kind: EOL},
			Source:      lx,
			textEquates: make(map[string][]Token),
			redefinable: make(map[string]bool),
		},
	}
}

func (p *parser) parse() error {
	p.logSection("Parsing assembly code")
	for {
		toks, err := p.lx.Line()
		if err == io.EOF {
			break
		}
		if err != nil {
			var e *Error
			if errors.As(err, &e) {
				p.errors = append(p.errors, e)
			}
			continue
		}
		if p.ended {
			continue
		}
		if err := p.parseLine(toks); errors.Is(err, errFatal) {
			return err
		}
	}

	if err := p.finish(); err != nil {
		return err
	}
	if len(p.errors) > 0 {
		return errParse
	}
	return nil
}

// Record a fatal error and return the sentinel that stops the pass.
func (p *parser) fatal(t Token, format string, args ...any) error {
	p.errors.add(ParseError, t, format, args...)
	return errFatal
}

func (p *parser) addError(kind ErrorKind, t Token, format string, args ...any) error {
	p.errors.add(kind, t, format, args...)
	return errParse
}

// Parse a single line of tokens.
func (p *parser) parseLine(toks []Token) error {
	source := p.lx.Source(toks[0].Line)
	var code []Token
	for _, t := range toks {
		if t.Kind == Comment {
			source = source[:t.Column-1]
			break
		}
		if t.Kind != EOL {
			code = append(code, t)
		}
	}
	if len(code) == 0 {
		return nil
	}

	p.log("---")
	p.logLine(code[0], "line", source)

	// Textual equates are spliced in before anything else looks at the
	// line, except where the line redefines the name itself.
	if len(code) >= 2 && (code[1].Is(Directive, "EQU") || code[1].IsOp("=")) {
		code = append(code[:1:1], p.splice(code[1:])...)
	} else {
		code = p.splice(code)
	}

	t0 := code[0]
	if t0.Kind == Label {
		p.defineLabel(t0, false)
		code = code[1:]
		if len(code) == 0 {
			return nil
		}
		t0 = code[0]
	}

	switch {
	case len(code) >= 2 && t0.Kind == Identifier && (code[1].Kind == Directive || code[1].IsOp("=")):
		return p.parseNamedDirective(t0, code[1], code[2:], source)
	case t0.Kind == Directive:
		return p.parseDirective(t0, code[1:], source)
	case t0.Kind == Mnemonic:
		return p.parseStatement(t0, code[1:], source)
	default:
		msg := "unknown instruction '%s'"
		if s := suggestMnemonic(t0.Text); s != "" {
			msg += "; did you mean '" + s + "'?"
		}
		return p.addError(ParseError, t0, msg, t0.Text)
	}
}

// Replace every textual equate in the token list with its definition.
func (p *parser) splice(toks []Token) []Token {
	if len(p.prog.textEquates) == 0 {
		return toks
	}
	var out []Token
	for _, t := range toks {
		repl, ok := p.prog.textEquates[t.Upper()]
		if !ok || t.Kind != Identifier {
			out = append(out, t)
			continue
		}
		for _, r := range repl {
			r.Line, r.Column = t.Line, t.Column
			out = append(out, r)
		}
	}
	return out
}

func (p *parser) parseNamedDirective(name, dir Token, args []Token, source string) error {
	switch {
	case dir.IsOp("="):
		return p.parseEquate(name, dir, args, true)
	}

	switch dir.Upper() {
	case "SEGMENT":
		return p.beginSegment(name, args)
	case "ENDS":
		return p.endSegment(name)
	case "PROC":
		return p.beginProc(name, args)
	case "ENDP":
		return p.endProc(name)
	case "EQU":
		return p.parseEquate(name, dir, args, false)
	case "DB", "DW", "DD":
		return p.parseData(name, dir, args, source)
	default:
		return p.addError(ParseError, name, "directive %s cannot be preceded by a name", dir.Upper())
	}
}

func (p *parser) parseDirective(dir Token, args []Token, source string) error {
	p.logLine(dir, "directive", dir.Upper())

	switch dir.Upper() {
	case "TITLE", "PAGE", ".8086":
		return nil
	case "ASSUME":
		return p.parseAssume(dir, args)
	case "END":
		return p.parseEnd(dir, args)
	case ".MODEL":
		if len(args) > 0 {
			p.prog.Model = args[0].Upper()
		}
		return nil
	case ".STACK":
		return p.parseSimplifiedStack(dir, args)
	case ".DATA":
		return p.beginSimplified(dir, "_DATA", DataSegment)
	case ".CODE":
		return p.beginSimplified(dir, "_TEXT", CodeSegment)
	case "ORG":
		if err := p.requireSegment(dir); err != nil {
			return err
		}
		p.seg.Items = append(p.seg.Items, &orgItem{pos: dir, tokens: args})
		return nil
	case "EVEN":
		if err := p.requireSegment(dir); err != nil {
			return err
		}
		p.seg.Items = append(p.seg.Items, &evenItem{pos: dir})
		return nil
	case "DB", "DW", "DD":
		return p.parseData(Token{Kind: EOL}, dir, args, source)
	case "SEGMENT", "ENDS", "PROC", "ENDP", "EQU":
		return p.addError(ParseError, dir, "%s requires a name", dir.Upper())
	default:
		return p.addError(UnsupportedFeature, dir, "directive %s is not supported", dir.Upper())
	}
}

//
// Segments
//

func (p *parser) beginSegment(name Token, args []Token) error {
	if p.seg != nil && !p.seg.implicit && !p.seg.simplified {
		return p.fatal(name, "segment '%s' opened inside segment '%s'", name.Upper(), p.seg.Name)
	}
	p.usedSegments = true

	if s := p.prog.Segment(name.Text); s != nil {
		p.seg = s
		p.logLine(name, "segment", "reopen "+s.Name)
		return nil
	}

	seg := &Segment{Name: name.Upper(), Line: name.Line, hint: unknownSegment}
	for _, a := range args {
		switch {
		case a.Kind == String:
			switch strings.ToUpper(a.Text) {
			case "CODE":
				seg.hint = CodeSegment
			case "DATA":
				seg.hint = DataSegment
			case "STACK":
				seg.hint = StackSegment
			}
		case a.Is(Identifier, "STACK"):
			seg.hint = StackSegment
		}
	}
	p.prog.Segments = append(p.prog.Segments, seg)
	p.seg = seg
	p.logLine(name, "segment", seg.Name)
	return nil
}

func (p *parser) endSegment(name Token) error {
	if p.seg == nil || p.seg.implicit || p.seg.simplified {
		return p.fatal(name, "ENDS '%s' without matching SEGMENT", name.Upper())
	}
	if !strings.EqualFold(p.seg.Name, name.Text) {
		return p.fatal(name, "ENDS '%s' does not match SEGMENT '%s'", name.Upper(), p.seg.Name)
	}
	if len(p.procs) > 0 {
		return p.fatal(name, "procedure '%s' has no ENDP", p.procs[len(p.procs)-1].Upper())
	}
	p.seg = nil
	return nil
}

func (p *parser) beginSimplified(dir Token, name string, kind SegmentKind) error {
	if p.seg != nil && !p.seg.implicit && !p.seg.simplified {
		return p.fatal(dir, "%s inside segment '%s'", dir.Upper(), p.seg.Name)
	}
	if len(p.procs) > 0 {
		return p.fatal(dir, "procedure '%s' has no ENDP", p.procs[len(p.procs)-1].Upper())
	}
	p.usedSegments = true

	seg := p.prog.Segment(name)
	if seg == nil {
		seg = &Segment{Name: name, Line: dir.Line, hint: kind, simplified: true}
		p.prog.Segments = append(p.prog.Segments, seg)
	}
	p.seg = seg
	return nil
}

func (p *parser) parseSimplifiedStack(dir Token, args []Token) error {
	p.usedSegments = true
	if p.prog.Segment("STACK") != nil {
		return p.addError(ParseError, dir, "stack segment declared more than once")
	}

	size := []Token{{Kind: Number, Text: "1024", Line: dir.Line, Column: dir.Column}}
	if len(args) > 0 {
		size = args
	}
	seg := stackSegment(size...)
	p.prog.Segments = append(p.prog.Segments, seg)
	return nil
}

// Make sure there is a segment to add items to. Code written without any
// segment directives goes into an implicit code segment.
func (p *parser) requireSegment(t Token) error {
	if p.seg != nil {
		return nil
	}
	if p.usedSegments {
		return p.addError(ParseError, t, "statement outside of a segment")
	}
	p.seg = &Segment{Name: "CODE", Line: t.Line, hint: CodeSegment, implicit: true}
	p.prog.Segments = append(p.prog.Segments, p.seg)
	return nil
}

func (p *parser) parseAssume(dir Token, args []Token) error {
	for _, part := range splitOperands(args) {
		if len(part) != 3 || part[0].Kind != Register || part[1].Kind != Colon {
			p.addError(ParseError, dir, "invalid ASSUME operand")
			continue
		}
		reg, _ := cpu.LookupReg(part[0].Text)
		if !reg.IsSegment() {
			p.addError(ParseError, part[0], "ASSUME requires a segment register, got '%s'", part[0].Text)
			continue
		}
		if part[2].Is(Identifier, "NOTHING") {
			delete(p.prog.Assume, reg)
			continue
		}
		p.prog.Assume[reg] = part[2].Upper()
		p.logLine(part[0], "assume", reg.String()+":"+part[2].Upper())
	}
	return nil
}

func (p *parser) parseEnd(dir Token, args []Token) error {
	if len(p.procs) > 0 {
		return p.fatal(dir, "procedure '%s' has no ENDP", p.procs[len(p.procs)-1].Upper())
	}
	if p.seg != nil && !p.seg.implicit && !p.seg.simplified {
		return p.fatal(dir, "segment '%s' has no ENDS", p.seg.Name)
	}
	switch {
	case len(args) == 1 && args[0].Kind == Identifier:
		p.prog.Start = args[0]
	case len(args) > 0:
		p.addError(ParseError, args[0], "END expects a start label")
	}
	p.ended = true
	p.seg = nil
	return nil
}

// Settle each segment's kind once every ASSUME has been seen.
func (p *parser) finish() error {
	if !p.ended && p.usedSegments {
		row := p.lx.Lines()
		return p.fatal(Token{Line: row}, "missing END directive")
	}
	if len(p.procs) > 0 {
		return p.fatal(p.procs[len(p.procs)-1], "procedure '%s' has no ENDP", p.procs[len(p.procs)-1].Upper())
	}

	assumed := map[string]SegmentKind{}
	for reg, name := range p.prog.Assume {
		switch reg {
		case cpu.CS:
			assumed[name] = CodeSegment
		case cpu.DS:
			assumed[name] = DataSegment
		case cpu.SS:
			assumed[name] = StackSegment
		case cpu.ES:
			if _, ok := assumed[name]; !ok {
				assumed[name] = ExtraSegment
			}
		}
	}

	for _, s := range p.prog.Segments {
		switch {
		case s.hint != unknownSegment:
			s.Kind = s.hint
		case hasKind(assumed, s.Name):
			s.Kind = assumed[s.Name]
		default:
			s.Kind = segmentKindFromName(s)
		}
		p.log("segment %-8s kind=%s", s.Name, s.Kind)
	}
	return nil
}

func hasKind(m map[string]SegmentKind, name string) bool {
	_, ok := m[name]
	return ok
}

func segmentKindFromName(s *Segment) SegmentKind {
	n := s.Name
	switch {
	case strings.Contains(n, "CODE") || strings.Contains(n, "CSEG") || strings.Contains(n, "TEXT"):
		return CodeSegment
	case strings.Contains(n, "STACK") || strings.Contains(n, "SSEG") || strings.Contains(n, "STK"):
		return StackSegment
	case strings.Contains(n, "EXTRA") || strings.Contains(n, "ESEG"):
		return ExtraSegment
	case strings.Contains(n, "DATA") || strings.Contains(n, "DSEG"):
		return DataSegment
	}
	for _, it := range s.Items {
		if _, ok := it.(*Statement); ok {
			return CodeSegment
		}
	}
	return DataSegment
}

//
// Procedures and labels
//

func (p *parser) defineLabel(name Token, proc bool) {
	if err := p.requireSegment(name); err != nil {
		return
	}
	p.seg.Items = append(p.seg.Items, &LabelDef{Name: name, Proc: proc})
	p.logLine(name, "label", name.Upper())
}

func (p *parser) beginProc(name Token, args []Token) error {
	if err := p.requireSegment(name); err != nil {
		return err
	}
	if len(args) > 0 {
		switch {
		case args[0].IsOp("FAR"):
			p.prog.Warnings = append(p.prog.Warnings,
				warnf(name.Line, "FAR procedure '%s' is treated as NEAR", name.Upper()))
		case !args[0].IsOp("NEAR"):
			p.addError(ParseError, args[0], "invalid PROC type '%s'", args[0].Text)
		}
	}
	p.procs = append(p.procs, name)
	p.defineLabel(name, true)
	return nil
}

func (p *parser) endProc(name Token) error {
	if len(p.procs) == 0 {
		return p.fatal(name, "ENDP '%s' without matching PROC", name.Upper())
	}
	open := p.procs[len(p.procs)-1]
	if !strings.EqualFold(open.Text, name.Text) {
		return p.fatal(name, "ENDP '%s' does not match PROC '%s'", name.Upper(), open.Upper())
	}
	p.procs = p.procs[:len(p.procs)-1]
	return nil
}

//
// Equates
//

// Parse an EQU or '=' definition. Definitions that mention registers,
// brackets or PTR are textual and are substituted into later lines;
// everything else is a numeric constant evaluated after layout.
func (p *parser) parseEquate(name, dir Token, args []Token, redefinable bool) error {
	if len(args) == 0 {
		return p.addError(ParseError, dir, "missing value for '%s'", name.Upper())
	}
	key := name.Upper()

	if isTextual(args) {
		if _, ok := p.prog.textEquates[key]; ok && !redefinable {
			return p.addError(SemanticError, name, "symbol '%s' is already defined", key)
		}
		p.prog.textEquates[key] = args
		p.logLine(name, "text equate", key)
		return nil
	}

	if redefinable {
		p.prog.redefinable[key] = true
	}
	e := &Equate{Name: name, Tokens: args}
	if p.seg != nil {
		p.seg.Items = append(p.seg.Items, e)
	} else {
		p.prog.Globals = append(p.prog.Globals, e)
	}
	p.logLine(name, "equate", key)
	return nil
}

func isTextual(toks []Token) bool {
	for _, t := range toks {
		switch {
		case t.Kind == Register, t.Kind == Bracket, t.IsOp("PTR"):
			return true
		case t.Kind == String && len(t.Text) > 2:
			return true
		}
	}
	return false
}

//
// Data
//

func (p *parser) parseData(name, dir Token, args []Token, source string) error {
	if err := p.requireSegment(dir); err != nil {
		return err
	}
	if len(args) == 0 {
		return p.addError(ParseError, dir, "missing initializer")
	}

	d := &DataDecl{Name: name, Source: strings.TrimSpace(source)}
	switch dir.Upper() {
	case "DB":
		d.Unit = 1
	case "DW":
		d.Unit = 2
	default:
		d.Unit = 4
	}

	var err *Error
	d.Values, err = parseDataValues(args)
	if err != nil {
		p.errors = append(p.errors, err)
		return errParse
	}

	p.seg.Items = append(p.seg.Items, d)
	p.logLine(dir, "data", dir.Upper())
	return nil
}

func parseDataValues(toks []Token) ([]*DataValue, *Error) {
	var values []*DataValue
	for _, part := range splitOperands(toks) {
		v, err := parseDataValue(part)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	if len(values) == 0 {
		return nil, exprError(toks[0], "missing initializer")
	}
	return values, nil
}

func parseDataValue(toks []Token) (*DataValue, *Error) {
	if len(toks) == 0 {
		return nil, &Error{Kind: ParseError, Message: "missing initializer"}
	}
	pos := toks[0]

	switch {
	case len(toks) == 1 && pos.IsOp("?"):
		return &DataValue{Kind: ValueUninit, Pos: pos}, nil
	case len(toks) == 1 && pos.Kind == String:
		return &DataValue{Kind: ValueString, Text: pos.Text, Pos: pos}, nil
	}

	depth := 0
	for i, t := range toks {
		switch {
		case t.IsOp("("):
			depth++
		case t.IsOp(")"):
			depth--
		case depth == 0 && t.IsOp("DUP"):
			rest := toks[i+1:]
			if i == 0 {
				return nil, exprError(t, "DUP requires a count")
			}
			if len(rest) < 3 || !rest[0].IsOp("(") || !rest[len(rest)-1].IsOp(")") {
				return nil, exprError(t, "DUP requires a parenthesized initializer")
			}
			items, err := parseDataValues(rest[1 : len(rest)-1])
			if err != nil {
				return nil, err
			}
			return &DataValue{Kind: ValueDup, Tokens: toks[:i], Items: items, Pos: pos}, nil
		}
	}

	return &DataValue{Kind: ValueExpr, Tokens: toks, Pos: pos}, nil
}

//
// Instructions
//

func (p *parser) parseStatement(mn Token, args []Token, source string) error {
	if cpu.IsUnsupported(mn.Text) {
		return p.addError(UnsupportedFeature, mn, "instruction %s is not supported", mn.Upper())
	}
	if err := p.requireSegment(mn); err != nil {
		return err
	}

	s := &Statement{
		Mnemonic: mn,
		Source:   strings.TrimSpace(source[mn.Column-1:]),
	}
	if len(args) > 0 {
		s.Operands = splitOperands(args)
		for _, op := range s.Operands {
			if len(op) == 0 {
				return p.addError(ParseError, mn, "missing operand")
			}
		}
	}

	p.seg.Items = append(p.seg.Items, s)
	p.logLine(mn, "op", mn.Upper())
	return nil
}

// Split a token list on commas that are not nested inside brackets or
// parentheses. A list that ends in a comma yields a trailing empty
// operand.
func splitOperands(toks []Token) [][]Token {
	if len(toks) == 0 {
		return nil
	}
	var out [][]Token
	depth, start := 0, 0
	for i, t := range toks {
		switch {
		case t.Is(Bracket, "[") || t.IsOp("("):
			depth++
		case t.Is(Bracket, "]") || t.IsOp(")"):
			depth--
		case t.Kind == Comma && depth == 0:
			out = append(out, toks[start:i])
			start = i + 1
		}
	}
	return append(out, toks[start:])
}
