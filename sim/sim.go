// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sim assembles and runs a MASM program and renders everything the
// IDE panels display: the symbol table, the initial and final memory, the
// step-by-step trace and the final machine state.
package sim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/beevik/go8086/asm"
	"github.com/beevik/go8086/cpu"
	"github.com/beevik/go8086/trace"
)

// Default execution limits.
const (
	DefaultMaxSteps = 10000
	DefaultTimeout  = 5 * time.Second
)

// Options control a simulation run.
type Options struct {
	MaxSteps int           // step ceiling; DefaultMaxSteps if zero
	Timeout  time.Duration // wall-clock ceiling; DefaultTimeout if zero
	Filename string        // name used in assembly diagnostics
	Log      io.Writer     // receives one line per run; may be nil
}

func (o Options) withDefaults() Options {
	if o.MaxSteps <= 0 {
		o.MaxSteps = DefaultMaxSteps
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Filename == "" {
		o.Filename = "main.asm"
	}
	if o.Log == nil {
		o.Log = io.Discard
	}
	return o
}

// Status values used by Compilation and Execution.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// A Result is the complete outcome of a simulation run.
type Result struct {
	SymbolTable   []Symbol     `json:"symbolTable"`
	InitialMemory []MemoryCell `json:"initialMemory"`
	Compilation   Compilation  `json:"compilation"`
	Execution     *Execution   `json:"execution,omitempty"`
	FinalMemory   []MemoryCell `json:"finalMemory"`
	Summary       string       `json:"summary"`
}

// WriteTo writes the result as indented JSON.
func (r *Result) WriteTo(w io.Writer) (n int64, err error) {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return 0, err
	}
	nn, err := w.Write(append(b, '\n'))
	return int64(nn), err
}

// A Symbol is one row of the symbol table panel.
type Symbol struct {
	Label   string `json:"label"`
	Segment string `json:"segment"`
	Type    string `json:"type"`
	Size    string `json:"size"`
	Value   string `json:"value"`
}

// A MemoryCell is one byte of memory. Offset has the form "DS:0000".
type MemoryCell struct {
	Offset string `json:"offset"`
	Value  string `json:"value"`
	Symbol string `json:"symbol,omitempty"`
}

// Compilation reports the outcome of assembly.
type Compilation struct {
	Status   string             `json:"status"`
	Errors   []CompilationError `json:"errors"`
	Warnings []string           `json:"warnings"`
}

// A CompilationError is one assembly error.
type CompilationError struct {
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Execution reports the outcome of running the program.
type Execution struct {
	Status     string     `json:"status"`
	Steps      []Step     `json:"steps"`
	TotalSteps int        `json:"totalSteps"`
	FinalState FinalState `json:"finalState"`
	Output     string     `json:"output"`
	ExitCode   *int       `json:"exitCode,omitempty"`
	Error      *RunError  `json:"error,omitempty"`
}

// A Step describes one executed instruction.
type Step struct {
	Step            int              `json:"step"`
	Line            int              `json:"line"`
	Instruction     string           `json:"instruction"`
	Description     string           `json:"description"`
	Registers       Registers        `json:"registers"`
	RegisterChanges []RegisterChange `json:"registerChanges"`
	FlagChanges     []FlagChange     `json:"flagChanges"`
	MemoryChanges   []MemoryChange   `json:"memoryChanges"`
}

// Registers holds the 13 word registers as 4-digit hex strings.
type Registers struct {
	AX string `json:"AX"`
	BX string `json:"BX"`
	CX string `json:"CX"`
	DX string `json:"DX"`
	SI string `json:"SI"`
	DI string `json:"DI"`
	SP string `json:"SP"`
	BP string `json:"BP"`
	CS string `json:"CS"`
	DS string `json:"DS"`
	ES string `json:"ES"`
	SS string `json:"SS"`
	IP string `json:"IP"`
}

// Get returns the rendered value of a register by name, or "" if the name
// is not a word register.
func (r *Registers) Get(name string) string {
	switch strings.ToUpper(name) {
	case "AX":
		return r.AX
	case "BX":
		return r.BX
	case "CX":
		return r.CX
	case "DX":
		return r.DX
	case "SI":
		return r.SI
	case "DI":
		return r.DI
	case "SP":
		return r.SP
	case "BP":
		return r.BP
	case "CS":
		return r.CS
	case "DS":
		return r.DS
	case "ES":
		return r.ES
	case "SS":
		return r.SS
	case "IP":
		return r.IP
	}
	return ""
}

// Flags holds every modeled flag as "0" or "1".
type Flags struct {
	CF string `json:"CF"`
	PF string `json:"PF"`
	AF string `json:"AF"`
	ZF string `json:"ZF"`
	SF string `json:"SF"`
	TF string `json:"TF"`
	IF string `json:"IF"`
	DF string `json:"DF"`
	OF string `json:"OF"`
}

// FinalState is the machine state when execution stopped.
type FinalState struct {
	Registers Registers `json:"registers"`
	Flags     Flags     `json:"flags"`
}

// A RegisterChange is a register modified by a step.
type RegisterChange struct {
	Register string `json:"register"`
	Before   string `json:"before"`
	After    string `json:"after"`
}

// A FlagChange is a flag modified by a step.
type FlagChange struct {
	Flag   string `json:"flag"`
	Before int    `json:"before"`
	After  int    `json:"after"`
}

// A MemoryChange is a byte modified by a step.
type MemoryChange struct {
	Address string `json:"address"`
	Before  string `json:"before"`
	After   string `json:"after"`
	Label   string `json:"label,omitempty"`
}

// A RunError describes why execution stopped early.
type RunError struct {
	Type        string `json:"type"`
	Kind        string `json:"kind"`
	Message     string `json:"message"`
	Line        int    `json:"line,omitempty"`
	Instruction string `json:"instruction,omitempty"`
}

func (e *RunError) String() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Kind)
}

// A Run holds a finished simulation. CPU is nil when assembly failed.
type Run struct {
	Result   *Result
	Assembly *asm.Assembly
	CPU      *cpu.CPU
}

// Execute assembles and runs the code and returns the rendered result.
func Execute(ctx context.Context, code string, opts Options) *Result {
	run, _ := Simulate(ctx, code, opts, nil)
	return run.Result
}

// Stream is like Execute but reports progress through emit as the run
// proceeds: status changes, the symbol table, each step in program order,
// and the final state. If emit returns an error the run stops and the
// error is returned.
func Stream(ctx context.Context, code string, opts Options, emit func(Event) error) (*Result, error) {
	run, err := Simulate(ctx, code, opts, emit)
	return run.Result, err
}

// Simulate assembles and runs the code, reporting progress to emit if it
// is not nil. The returned Run is never nil. The only errors returned are
// those produced by emit; assembly and runtime failures are described in
// the result.
func Simulate(ctx context.Context, code string, opts Options, emit func(Event) error) (*Run, error) {
	opts = opts.withDefaults()
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	s := &simulator{
		ctx:  ctx,
		code: code,
		opts: opts,
		emit: emit,
		run:  &Run{Result: &Result{}},
	}

	// A simulation consists of the following steps
	steps := []func(s *simulator) error{
		(*simulator).assemble, // Assemble the source
		(*simulator).symbols,  // Render the symbol table and initial memory
		(*simulator).execute,  // Run the program, tracing every step
		(*simulator).complete, // Render the final state and memory
	}

	var err error
	for _, step := range steps {
		if err = step(s); err != nil || s.done {
			break
		}
	}

	r := s.run.Result
	status := r.Compilation.Status
	if r.Execution != nil {
		status = r.Execution.Status
	}
	fmt.Fprintf(opts.Log, "sim: %s: %s, %d steps\n", opts.Filename, status, s.stepCount())
	return s.run, err
}

// The simulator is a state object used during a single run.
type simulator struct {
	ctx     context.Context
	code    string
	opts    Options
	emit    func(Event) error
	run     *Run
	layout  *layout
	changed map[uint32]bool
	done    bool
}

func (s *simulator) send(name string, data any) error {
	if s.emit == nil {
		return nil
	}
	return s.emit(Event{Name: name, Data: data})
}

func (s *simulator) stepCount() int {
	if e := s.run.Result.Execution; e != nil {
		return e.TotalSteps
	}
	return 0
}

func (s *simulator) assemble() error {
	if err := s.send(EventStatus, StatusEvent{Stage: StageParsing, Progress: 10, Message: "Parsing assembly code..."}); err != nil {
		return err
	}

	a, _, err := asm.Assemble(strings.NewReader(s.code), s.opts.Filename, nil, 0)
	s.run.Assembly = a

	r := s.run.Result
	r.Compilation = Compilation{
		Status:   StatusSuccess,
		Errors:   []CompilationError{},
		Warnings: append([]string{}, a.Warnings...),
	}
	if err != nil {
		r.Compilation.Status = StatusError
		for _, e := range a.Errors {
			r.Compilation.Errors = append(r.Compilation.Errors, CompilationError{
				Line:    e.Line,
				Column:  e.Column,
				Kind:    e.Kind.String(),
				Message: e.Message,
			})
		}
		if len(r.Compilation.Errors) == 0 {
			r.Compilation.Errors = append(r.Compilation.Errors, CompilationError{Kind: "Error", Message: err.Error()})
		}
	}

	return s.send(EventStatus, StatusEvent{Stage: StageBuilding, Progress: 30, Message: "Building symbol table..."})
}

func (s *simulator) symbols() error {
	a, r := s.run.Assembly, s.run.Result
	s.layout = newLayout(a)
	r.SymbolTable = symbolTable(a)
	r.InitialMemory = s.layout.initialMemory()
	r.FinalMemory = []MemoryCell{}

	if len(r.SymbolTable) > 0 {
		err := s.send(EventSymbols, SymbolsEvent{Symbols: r.SymbolTable, InitialMemory: r.InitialMemory, Progress: 60})
		if err != nil {
			return err
		}
	}

	if r.Compilation.Status == StatusError {
		s.done = true
		n := len(r.Compilation.Errors)
		r.Summary = fmt.Sprintf("Assembly failed with %d %s.", n, plural(n, "error", "errors"))
		return s.send(EventCompilationError, CompilationErrorEvent{Errors: r.Compilation.Errors, Progress: 100})
	}
	return nil
}

func (s *simulator) execute() error {
	if err := s.send(EventStatus, StatusEvent{Stage: StageExecuting, Progress: 70, Message: "Executing instructions..."}); err != nil {
		return err
	}

	c := cpu.NewCPU(cpu.NewFlatMemory())
	if err := c.Load(s.run.Assembly.Program); err != nil {
		return err
	}
	s.run.CPU = c

	e := &Execution{Status: StatusSuccess, Steps: []Step{}}
	s.run.Result.Execution = e
	s.changed = make(map[uint32]bool)

	var errEmit error
	rec := trace.NewRecorder(func(ts *trace.Step) error {
		for _, m := range ts.MemChanges {
			s.changed[m.Address] = true
		}
		st := s.layout.step(ts)
		e.Steps = append(e.Steps, st)
		e.TotalSteps = len(e.Steps)
		progress := 70 + 25*ts.Number/s.opts.MaxSteps
		if err := s.send(EventStep, StepEvent{Step: &e.Steps[len(e.Steps)-1], StepNumber: ts.Number, Progress: progress}); err != nil {
			errEmit = err
			return err
		}
		return nil
	}, false)
	c.AttachTracer(rec)

	err := c.Run(s.ctx, s.opts.MaxSteps)
	if errEmit != nil {
		return errEmit
	}

	var rt *cpu.RuntimeError
	switch {
	case err == nil:
	case errors.As(err, &rt):
		e.Status = StatusError
		e.Error = &RunError{
			Type:        "RuntimeError",
			Kind:        rt.Kind.String(),
			Message:     rt.Message,
			Line:        rt.Line,
			Instruction: rt.Instruction,
		}
	default:
		e.Status = StatusError
		e.Error = &RunError{Type: "Error", Kind: "Error", Message: err.Error()}
	}
	return nil
}

func (s *simulator) complete() error {
	r, c := s.run.Result, s.run.CPU
	e := r.Execution

	e.FinalState = finalState(&c.Reg)
	e.Output = c.Output()
	if c.Exited {
		code := int(c.ExitCode)
		e.ExitCode = &code
	}
	r.FinalMemory = s.layout.finalMemory(c.Mem, s.changed)
	r.Summary = summarize(e)

	return s.send(EventComplete, CompleteEvent{
		Status:      e.Status,
		FinalState:  e.FinalState,
		FinalMemory: r.FinalMemory,
		Output:      e.Output,
		Error:       e.Error,
		TotalSteps:  e.TotalSteps,
		Summary:     r.Summary,
		Progress:    100,
	})
}

func summarize(e *Execution) string {
	n := e.TotalSteps
	steps := fmt.Sprintf("%d %s", n, plural(n, "step", "steps"))
	switch {
	case e.Error != nil:
		return fmt.Sprintf("Execution stopped after %s: %s: %s.", steps, e.Error, e.Error.Message)
	case e.ExitCode != nil:
		return fmt.Sprintf("Program exited with code %d after %s.", *e.ExitCode, steps)
	default:
		return fmt.Sprintf("Program halted after %s.", steps)
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

//
// rendering
//

func hex4(v uint16) string { return fmt.Sprintf("%04X", v) }
func hex2(v byte) string   { return fmt.Sprintf("%02X", v) }

func bit(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func registers(get func(r cpu.Reg) uint16) Registers {
	return Registers{
		AX: hex4(get(cpu.AX)), BX: hex4(get(cpu.BX)), CX: hex4(get(cpu.CX)), DX: hex4(get(cpu.DX)),
		SI: hex4(get(cpu.SI)), DI: hex4(get(cpu.DI)), SP: hex4(get(cpu.SP)), BP: hex4(get(cpu.BP)),
		CS: hex4(get(cpu.CS)), DS: hex4(get(cpu.DS)), ES: hex4(get(cpu.ES)), SS: hex4(get(cpu.SS)),
		IP: hex4(get(cpu.IP)),
	}
}

func finalState(r *cpu.Registers) FinalState {
	return FinalState{
		Registers: registers(r.Get),
		Flags: Flags{
			CF: bit(r.Flag(cpu.CF)), PF: bit(r.Flag(cpu.PF)), AF: bit(r.Flag(cpu.AF)),
			ZF: bit(r.Flag(cpu.ZF)), SF: bit(r.Flag(cpu.SF)), TF: bit(r.Flag(cpu.TF)),
			IF: bit(r.Flag(cpu.IF)), DF: bit(r.Flag(cpu.DF)), OF: bit(r.Flag(cpu.OF)),
		},
	}
}

// Render the symbol table in definition order.
func symbolTable(a *asm.Assembly) []Symbol {
	out := []Symbol{}
	if a.Symbols == nil {
		return out
	}
	for _, s := range a.Symbols.Symbols() {
		row := Symbol{Label: s.Name, Type: s.Kind.String()}
		if s.Segment != nil {
			row.Segment = s.Segment.Name
		}
		switch s.Kind {
		case asm.VariableSymbol:
			row.Size = declSize(s)
			row.Value = initValues(s)
		case asm.LabelSymbol, asm.ProcedureSymbol:
			row.Size = "NEAR"
			row.Value = hex4(s.Offset) + "H"
		case asm.ConstantSymbol:
			row.Size = "EQU"
			row.Value = hex4(uint16(s.Value)) + "H"
		case asm.SegmentSymbol:
			row.Size = fmt.Sprintf("%d bytes", s.Segment.Size)
			row.Value = hex4(s.Segment.Base) + "H"
		}
		out = append(out, row)
	}
	return out
}

// Render a variable's declaration size, for example "DB×5".
func declSize(s *asm.Symbol) string {
	d := map[int]string{1: "DB", 2: "DW", 4: "DD"}[s.Unit]
	if s.Count > 1 {
		return fmt.Sprintf("%s×%d", d, s.Count)
	}
	return d
}

// Maximum number of initial values listed for one variable.
const maxListedValues = 8

// Render a variable's initial values, for example "10H,20H,...".
func initValues(s *asm.Symbol) string {
	if s.Init == nil {
		return "?"
	}
	var vals []string
	for i := 0; i+s.Unit <= len(s.Init) && i < s.Size; i += s.Unit {
		if len(vals) == maxListedValues {
			vals = append(vals, "...")
			break
		}
		var v uint32
		for j := s.Unit - 1; j >= 0; j-- {
			v = v<<8 | uint32(s.Init[i+j])
		}
		vals = append(vals, fmt.Sprintf("%0*XH", s.Unit*2, v))
	}
	return strings.Join(vals, ",")
}

//
// layout
//

// A layout knows how the program's segments map to memory and renders
// linear addresses in segment-relative form.
type layout struct {
	asm      *asm.Assembly
	segs     []*asm.Segment
	segRegs  map[*asm.Segment]string
	listed   []uint32 // addresses shown in the memory panels
	isListed map[uint32]bool
}

func newLayout(a *asm.Assembly) *layout {
	l := &layout{
		asm:      a,
		segs:     a.Segments(),
		segRegs:  make(map[*asm.Segment]string),
		isListed: make(map[uint32]bool),
	}
	if a.IR == nil || a.Symbols == nil {
		return l
	}

	for _, seg := range l.segs {
		l.segRegs[seg] = segmentRegister(a.IR, seg)
	}

	for _, seg := range l.segs {
		if seg.Kind == asm.StackSegment {
			continue
		}
		all := seg.Kind == asm.DataSegment || seg.Kind == asm.ExtraSegment
		base := cpu.Linear(seg.Base, 0)
		for off := 0; off < seg.Size; off++ {
			if all || a.Symbols.Variable(seg, off) != nil {
				addr := base + uint32(off)
				l.listed = append(l.listed, addr)
				l.isListed[addr] = true
			}
		}
	}
	return l
}

var defaultSegRegs = map[asm.SegmentKind]string{
	asm.CodeSegment:  "CS",
	asm.DataSegment:  "DS",
	asm.StackSegment: "SS",
	asm.ExtraSegment: "ES",
}

// Return the name of the segment register that maps a segment: the one
// named by ASSUME if any, otherwise the natural register for its kind.
func segmentRegister(p *asm.Program, seg *asm.Segment) string {
	for _, r := range []cpu.Reg{cpu.DS, cpu.ES, cpu.SS, cpu.CS} {
		if name, ok := p.Assume[r]; ok && strings.EqualFold(name, seg.Name) {
			return r.String()
		}
	}
	return defaultSegRegs[seg.Kind]
}

// Render a linear address as "DS:0010", or as a raw "0000:0010" address
// when it lies outside every declared segment.
func (l *layout) address(addr uint32) string {
	if seg, off := l.asm.SegmentAt(addr); seg != nil {
		return fmt.Sprintf("%s:%04X", l.segRegs[seg], off)
	}
	return fmt.Sprintf("%04X:%04X", (addr>>16)<<12, addr&0xffff)
}

// Return the variable name for a linear address, with a byte index for
// variables larger than one byte.
func (l *layout) label(addr uint32) string {
	seg, off := l.asm.SegmentAt(addr)
	if seg == nil || l.asm.Symbols == nil {
		return ""
	}
	s := l.asm.Symbols.Variable(seg, off)
	if s == nil {
		return ""
	}
	if s.Size == 1 {
		return s.Name
	}
	return fmt.Sprintf("%s[%d]", s.Name, off-int(s.Offset))
}

func (l *layout) initialMemory() []MemoryCell {
	cells := []MemoryCell{}
	for _, addr := range l.listed {
		seg, off := l.asm.SegmentAt(addr)
		if seg == nil || off >= len(seg.Bytes) {
			continue
		}
		cells = append(cells, MemoryCell{
			Offset: l.address(addr),
			Value:  hex2(seg.Bytes[off]),
			Symbol: l.label(addr),
		})
	}
	return cells
}

// Render the final memory: every listed byte plus any other byte changed
// by the run outside the stack segment.
func (l *layout) finalMemory(m cpu.Memory, changed map[uint32]bool) []MemoryCell {
	addrs := append([]uint32{}, l.listed...)
	for addr := range changed {
		if l.isListed[addr] {
			continue
		}
		if seg, _ := l.asm.SegmentAt(addr); seg != nil && seg.Kind == asm.StackSegment {
			continue
		}
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	cells := []MemoryCell{}
	for _, addr := range addrs {
		v, err := m.LoadByte(addr)
		if err != nil {
			continue
		}
		cells = append(cells, MemoryCell{Offset: l.address(addr), Value: hex2(v), Symbol: l.label(addr)})
	}
	return cells
}

// Convert a trace step into its rendered form.
func (l *layout) step(ts *trace.Step) Step {
	st := Step{
		Step:            ts.Number,
		Line:            ts.Line,
		Instruction:     ts.Instruction,
		Description:     ts.Description,
		Registers:       registers(ts.Registers.Get),
		RegisterChanges: make([]RegisterChange, 0, len(ts.RegChanges)),
		FlagChanges:     make([]FlagChange, 0, len(ts.FlagChanges)),
		MemoryChanges:   make([]MemoryChange, 0, len(ts.MemChanges)),
	}
	for _, c := range ts.RegChanges {
		st.RegisterChanges = append(st.RegisterChanges, RegisterChange{
			Register: c.Reg.String(), Before: hex4(c.Before), After: hex4(c.After),
		})
	}
	for _, c := range ts.FlagChanges {
		st.FlagChanges = append(st.FlagChanges, FlagChange{
			Flag: c.Flag.String(), Before: b2i(c.Before), After: b2i(c.After),
		})
	}
	for _, c := range ts.MemChanges {
		st.MemoryChanges = append(st.MemoryChanges, MemoryChange{
			Address: l.address(c.Address), Before: hex2(c.Before), After: hex2(c.After), Label: l.label(c.Address),
		})
	}
	return st
}

func b2i(v bool) int {
	if v {
		return 1
	}
	return 0
}
