// Copyright 2014-2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package asm implements an assembler for the 8086 subset of MASM syntax
// understood by the simulator. Assembly produces decoded instructions and
// an initial memory image rather than machine code.
package asm

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/beevik/go8086/cpu"
)

// Option type used by the Assemble function.
type Option uint

// Options for the Assemble function.
const (
	Verbose Option = 1 << iota // verbose output during assembly
)

// Assembly contains the decoded program and everything produced while
// assembling it.
type Assembly struct {
	Program  *cpu.Program // executable program; nil if assembly failed
	IR       *Program     // parsed intermediate representation
	Symbols  *SymbolTable // symbol table; nil if parsing failed
	Errors   []*Error     // errors, ordered by line
	Warnings []string     // warnings, in the order they were found
}

// Segments returns the program's segments in declaration order.
func (a *Assembly) Segments() []*Segment {
	if a.IR == nil {
		return nil
	}
	return a.IR.Segments
}

// SegmentAt returns the segment containing the linear address and the
// offset of the address within it.
func (a *Assembly) SegmentAt(addr uint32) (*Segment, int) {
	for _, s := range a.Segments() {
		start := cpu.Linear(s.Base, 0)
		if addr >= start && addr < start+uint32(s.Size) {
			return s, int(addr - start)
		}
	}
	return nil, 0
}

// The assembler is a state object used during the assembly of an 8086
// program from MASM source code.
type assembler struct {
	*logger
	lx       *Lexer
	filename string
	prog     *Program
	st       *SymbolTable
	insts    []cpu.Instruction
	image    *cpu.Program
	warnings []string
	errors   errorList
}

// AssembleFile reads a file containing 8086 assembly code, assembles it,
// reports any errors and warnings, and writes a source map file next to
// the source.
func AssembleFile(path string, options Option, out io.Writer) (*Assembly, *SourceMap, error) {
	inFile, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer inFile.Close()

	assembly, sourceMap, err := Assemble(inFile, path, out, options)
	for _, w := range assembly.Warnings {
		fmt.Fprintf(out, "Warning: %s\n", w)
	}
	if err != nil {
		for _, e := range assembly.Errors {
			fmt.Fprintln(out, e)
		}
		return assembly, sourceMap, err
	}

	ext := filepath.Ext(path)
	mapPath := path[:len(path)-len(ext)] + ".map"
	mapFile, err := os.OpenFile(mapPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return assembly, sourceMap, err
	}
	defer mapFile.Close()

	if _, err := sourceMap.WriteTo(mapFile); err != nil {
		return assembly, sourceMap, err
	}

	fmt.Fprintf(out, "Assembled '%s' to produce '%s' (%d instructions).\n",
		filepath.Base(path), filepath.Base(mapPath), len(assembly.Program.Instructions))
	return assembly, sourceMap, nil
}

// Assemble reads MASM source code from the provided stream and decodes it
// into a program the CPU can execute. If any error is found, the returned
// error is ErrAssembly and the individual errors are listed in the
// Assembly.
func Assemble(r io.Reader, filename string, out io.Writer, options Option) (*Assembly, *SourceMap, error) {
	if out == nil {
		out = io.Discard
	}

	src, err := io.ReadAll(r)
	if err != nil {
		return &Assembly{}, nil, err
	}

	a := &assembler{
		logger:   &logger{out: out, verbose: (options & Verbose) != 0},
		lx:       Tokenize(string(src)),
		filename: filename,
	}

	// Assembly consists of the following steps
	steps := []func(a *assembler) error{
		(*assembler).parse,        // Parse lines into segments and statements
		(*assembler).buildSymbols, // Lay out segments and build the symbol table
		(*assembler).resolve,      // Classify and check instruction operands
		(*assembler).link,         // Produce the executable program
	}

	// Execute assembler steps, breaking if an error is encountered
	// in any one of them.
	for _, step := range steps {
		err = step(a)
		if err != nil {
			break
		}
		if len(a.errors) > 0 {
			err = errParse
			break
		}
	}

	sort.SliceStable(a.errors, func(i, j int) bool {
		return a.errors[i].Line < a.errors[j].Line
	})

	assembly := &Assembly{
		IR:       a.prog,
		Symbols:  a.st,
		Errors:   a.errors,
		Warnings: a.warnings,
	}
	if err != nil {
		a.logSection("Assembly failed")
		for _, e := range a.errors {
			a.log("%v", e)
		}
		return assembly, nil, ErrAssembly
	}

	assembly.Program = a.image
	return assembly, a.sourceMap(), nil
}

func (a *assembler) parse() error {
	p := newParser(a.lx, a.logger)
	err := p.parse()
	a.prog = p.prog
	a.errors = append(a.errors, p.errors...)
	a.warnings = append(a.warnings, p.prog.Warnings...)
	return err
}

func (a *assembler) buildSymbols() error {
	n := len(a.prog.Warnings)
	b := newBuilder(a.prog, a.logger)
	err := b.build()
	a.st = b.st
	a.errors = append(a.errors, b.errors...)
	a.warnings = append(a.warnings, a.prog.Warnings[n:]...)
	return err
}

func (a *assembler) resolve() error {
	r := newResolver(a.prog, a.st, a.logger)
	err := r.resolve()
	a.insts = r.insts
	a.errors = append(a.errors, r.errors...)
	a.warnings = append(a.warnings, r.warnings...)
	return err
}

// Produce the executable program: the entry point, the initial segment
// registers and the memory image.
func (a *assembler) link() error {
	a.logSection("Linking")

	p := &cpu.Program{Instructions: a.insts}

	if start := a.prog.Start; start.Kind != EOL {
		s := a.st.Lookup(start.Text)
		switch {
		case s == nil:
			a.errors.add(SemanticError, start, "undefined symbol '%s' at line %d", start.Text, start.Line)
			return errParse
		case !s.IsCode() || s.Segment.Kind != CodeSegment:
			a.errors.add(SemanticError, start, "start address '%s' is not a code label", start.Text)
			return errParse
		}
		p.Entry = s.Index
	}

	if code := a.prog.SegmentOfKind(CodeSegment); code != nil {
		p.CodeSegment = code.Base
	}
	if stack := a.prog.SegmentOfKind(StackSegment); stack != nil {
		p.StackSegment = stack.Base
		p.StackPointer = uint16(stack.Size) // 64K wraps to 0
	}

	for _, s := range a.prog.Segments {
		if s.Size == 0 {
			continue
		}
		p.Image = append(p.Image, cpu.Block{Addr: cpu.Linear(s.Base, 0), Bytes: s.Bytes})
		a.log("%-8s %04X:0000  %d bytes", s.Name, s.Base, s.Size)
	}

	a.log("entry=%d CS=%04X SS=%04X SP=%04X", p.Entry, p.CodeSegment, p.StackSegment, p.StackPointer)
	a.image = p
	return nil
}

func (a *assembler) sourceMap() *SourceMap {
	m := &SourceMap{File: a.filename}
	for _, inst := range a.insts {
		m.Lines = append(m.Lines, SourceLine{Offset: inst.Offset, Index: inst.Index, Line: inst.Line})
	}
	for _, s := range a.st.Symbols() {
		if s.Kind == ConstantSymbol {
			continue
		}
		m.Exports = append(m.Exports, Export{
			Label:   s.Name,
			Kind:    s.Kind.String(),
			Segment: s.Segment.Name,
			Offset:  s.Offset,
		})
	}
	return m
}

//
// logger
//

// A logger writes progress information when verbose output is requested.
// A nil logger discards everything.
type logger struct {
	out     io.Writer
	verbose bool
}

// In verbose mode, log a string to the output.
func (l *logger) log(format string, args ...any) {
	if l != nil && l.verbose {
		fmt.Fprintf(l.out, format, args...)
		fmt.Fprintf(l.out, "\n")
	}
}

// In verbose mode, log a detail and its associated source position.
func (l *logger) logLine(t Token, key, value string) {
	if l != nil && l.verbose {
		fmt.Fprintf(l.out, "%-3d %-3d | %-12s | %s\n", t.Line, t.Column, key, value)
	}
}

// In verbose mode, log a series of bytes with starting address.
func (l *logger) logBytes(seg *Segment, off int, b []byte) {
	if l != nil && l.verbose {
		for i, n := 0, len(b); i < n; i += 8 {
			j := i + 8
			if j > n {
				j = n
			}
			l.log("%s:%04X  %s", seg.Name, off+i, byteString(b[i:j]))
		}
	}
}

// In verbose mode, log a section header to the output.
func (l *logger) logSection(name string) {
	if l != nil && l.verbose {
		fmt.Fprintln(l.out, strings.Repeat("-", len(name)+6))
		fmt.Fprintf(l.out, "-- %s --\n", name)
		fmt.Fprintln(l.out, strings.Repeat("-", len(name)+6))
	}
}
