// Copyright 2018-2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package host allows you to create a "host" that emulates a computer system
// with an 8086 CPU, 1MB of memory, a built-in assembler, a built-in
// debugger, and other useful tools.
//
// Within the host it is possible to assemble and load programs into
// memory, debug and step through them, set code and data breakpoints, dump
// the contents of memory, disassemble the loaded program, list its source
// and symbols, manipulate CPU registers and memory, and evaluate arbitrary
// expressions.
package host

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/beevik/cmd"
	"github.com/beevik/go8086/asm"
	"github.com/beevik/go8086/cpu"
	"github.com/beevik/go8086/disasm"
	"github.com/beevik/go8086/trace"
)

var errQuit = errors.New("exiting program")

type displayFlags uint8

const (
	displayRegisters displayFlags = 1 << iota
	displaySteps
	displayAnnotations

	displayAll = displayRegisters | displaySteps | displayAnnotations
)

type state byte

const (
	stateProcessingCommands state = iota
	stateRunning
	stateBreakpoint
	stateStepOverBreakpoint
)

// A Host represents a fully emulated 8086 system, 1MB of memory, a
// built-in assembler, a built-in debugger, and other useful tools.
type Host struct {
	input       *bufio.Scanner
	output      *bufio.Writer
	interactive bool
	mem         *cpu.FlatMemory
	cpu         *cpu.CPU
	debugger    *cpu.Debugger
	lastCmd     *cmd.Selection
	state       state
	exprParser  *exprParser
	assembly    *asm.Assembly
	sourceMap   *asm.SourceMap
	source      []string
	lineOffsets map[int]uint16
	settings    *settings
	annotations map[uint16]string
}

// New creates a new 8086 host environment.
func New() *Host {
	h := &Host{
		output:      bufio.NewWriter(os.Stdout),
		state:       stateProcessingCommands,
		exprParser:  newExprParser(),
		settings:    newSettings(),
		annotations: make(map[uint16]string),
	}

	// Create a CPU debugger. It survives program reloads so breakpoints
	// persist.
	h.debugger = cpu.NewDebugger(newDebugHandler(h))
	h.newMachine()

	return h
}

// Create fresh memory and a fresh CPU attached to the debugger.
func (h *Host) newMachine() {
	h.mem = cpu.NewFlatMemory()
	h.cpu = cpu.NewCPU(h.mem)
	h.cpu.AttachDebugger(h.debugger)
	h.cpu.AttachTracer(trace.NewRecorder(h.onTrace, false))
	h.cpu.AttachOutput(writerFunc(h.writeOutput))
}

// RunCommands accepts host commands from a reader and outputs the results
// to a writer. If the commands are interactive, a prompt is displayed while
// the host waits for the the next command to be entered.
func (h *Host) RunCommands(r io.Reader, w io.Writer, interactive bool) {
	h.output = bufio.NewWriter(w)
	h.runCommands(r, interactive)
}

func (h *Host) runCommands(r io.Reader, interactive bool) error {
	h.input = bufio.NewScanner(r)
	h.interactive = interactive

	if interactive {
		h.println()
	}

	h.displayPC()

	for {
		h.prompt()

		line, err := h.getLine()
		if err != nil {
			return nil
		}

		var c cmd.Selection
		if line != "" {
			c, err = cmds.Lookup(line)
			switch {
			case err == cmd.ErrNotFound:
				h.println("Command not found.")
				continue
			case err == cmd.ErrAmbiguous:
				h.println("Command is ambiguous.")
				continue
			case err != nil:
				h.printf("ERROR: %v.\n", err)
				continue
			}
		} else if h.lastCmd != nil {
			c = *h.lastCmd
		}

		if c.Command == nil {
			continue
		}
		cm, ok := c.Command.Data.(*command)
		if !ok || cm.fn == nil {
			h.displayGroup(strings.Fields(line))
			continue
		}
		h.lastCmd = &c

		if err := cm.fn(h, c); err != nil {
			return err
		}
	}
}

// Break interrupts a running CPU.
func (h *Host) Break() {
	h.println()

	if h.state == stateRunning {
		h.displayPC()
	}
	if h.state == stateProcessingCommands {
		h.prompt()
	}
	h.state = stateProcessingCommands
}

// AssembleFile assembles a source file, reporting errors and warnings, and
// writes its source map next to it.
func (h *Host) AssembleFile(filename string) error {
	return h.assembleFile(filename, false)
}

func (h *Host) assembleFile(filename string, verbose bool) error {
	if filepath.Ext(filename) == "" {
		filename += ".asm"
	}

	var options asm.Option
	if verbose {
		options |= asm.Verbose
	}

	_, _, err := asm.AssembleFile(filename, options, h.output)
	if err != nil {
		h.printf("Failed to assemble '%s'", filepath.Base(filename))
		if !errors.Is(err, asm.ErrAssembly) {
			h.printf(": %v", err)
		}
		h.println(".")
	}
	h.flush()
	return err
}

func (h *Host) write(p []byte) (n int, err error) {
	return h.output.Write(p)
}

// Program output is echoed to the host output as it is produced.
func (h *Host) writeOutput(p []byte) (n int, err error) {
	if !h.settings.EchoOutput {
		return len(p), nil
	}
	n, err = h.write(p)
	h.flush()
	return n, err
}

func (h *Host) print(args ...any) {
	fmt.Fprint(h.output, args...)
}

func (h *Host) printf(format string, args ...any) {
	fmt.Fprintf(h.output, format, args...)
	h.flush()
}

func (h *Host) println(args ...any) {
	fmt.Fprintln(h.output, args...)
	h.flush()
}

func (h *Host) flush() {
	h.output.Flush()
}

func (h *Host) getLine() (string, error) {
	if h.input.Scan() {
		return h.input.Text(), nil
	}
	if h.input.Err() != nil {
		return "", h.input.Err()
	}
	return "", io.EOF
}

func (h *Host) prompt() {
	if h.interactive {
		h.print("* ")
		h.flush()
	}
}

func (h *Host) displayPC() {
	if !h.interactive || h.cpu.Program() == nil {
		return
	}
	if h.cpu.NextInstruction() == nil {
		h.printf("%-42s %s S=%d\n", "(end of program)", registerString(&h.cpu.Reg), h.cpu.Steps)
		return
	}
	d, _ := h.disassemble(h.cpu.Index, displayAll)
	h.println(d)
}

// Return true if the CPU can execute another instruction. Otherwise
// report why not.
func (h *Host) ready() bool {
	switch {
	case h.cpu.Program() == nil:
		h.println("No program loaded.")
		return false
	case h.cpu.State == cpu.Faulted:
		h.printf("%v\n", h.cpu.Fault)
		h.println("Use reset to restart the program.")
		return false
	case h.cpu.State == cpu.Halted:
		h.println("Program has ended. Use reset to restart it.")
		return false
	}
	return true
}

func (h *Host) cmdAnnotate(c cmd.Selection) error {
	if len(c.Args) < 1 {
		h.displayUsage(c)
		return nil
	}

	addr, err := h.parseExpr(c.Args[0])
	if err != nil {
		h.printf("%v\n", err)
		return nil
	}

	var annotation string
	if len(c.Args) >= 2 {
		annotation = strings.Join(c.Args[1:], " ")
	}

	if annotation == "" {
		delete(h.annotations, addr)
		h.printf("Annotation removed at %04XH.\n", addr)
	} else {
		h.annotations[addr] = annotation
		h.printf("Annotation added at %04XH.\n", addr)
	}

	return nil
}

func (h *Host) cmdAssembleFile(c cmd.Selection) error {
	if len(c.Args) < 1 {
		h.displayUsage(c)
		return nil
	}

	verbose := false
	if len(c.Args) >= 2 {
		v, err := stringToBool(c.Args[1])
		if err != nil {
			h.printf("%v\n", err)
			return nil
		}
		verbose = v
	}

	h.assembleFile(c.Args[0], verbose)
	return nil
}

func (h *Host) cmdBreakpointList(c cmd.Selection) error {
	h.println("Offset Line  Enabled")
	h.println("------ ----- -------")
	for _, b := range h.debugger.GetBreakpoints() {
		h.printf("%04XH  %-5s %v\n", b.Address, h.lineString(b.Address), !b.Disabled)
	}
	return nil
}

func (h *Host) cmdBreakpointAdd(c cmd.Selection) error {
	addr, ok := h.breakpointArg(c)
	if !ok {
		return nil
	}

	if h.cpu.Program() != nil && h.cpu.Program().IndexOf(addr) < 0 {
		h.printf("No instruction starts at offset %04XH.\n", addr)
		return nil
	}

	h.debugger.AddBreakpoint(addr)
	h.printf("Breakpoint added at %04XH.\n", addr)
	return nil
}

func (h *Host) cmdBreakpointRemove(c cmd.Selection) error {
	addr, ok := h.breakpointArg(c)
	if !ok {
		return nil
	}

	if h.debugger.GetBreakpoint(addr) == nil {
		h.printf("No breakpoint was set on %04XH.\n", addr)
		return nil
	}

	h.debugger.RemoveBreakpoint(addr)
	h.printf("Breakpoint at %04XH removed.\n", addr)
	return nil
}

func (h *Host) cmdBreakpointEnable(c cmd.Selection) error {
	return h.enableBreakpoint(c, true)
}

func (h *Host) cmdBreakpointDisable(c cmd.Selection) error {
	return h.enableBreakpoint(c, false)
}

func (h *Host) enableBreakpoint(c cmd.Selection, enable bool) error {
	addr, ok := h.breakpointArg(c)
	if !ok {
		return nil
	}

	b := h.debugger.GetBreakpoint(addr)
	if b == nil {
		h.printf("No breakpoint was set on %04XH.\n", addr)
		return nil
	}

	b.Disabled = !enable
	if enable {
		h.printf("Breakpoint at %04XH enabled.\n", addr)
	} else {
		h.printf("Breakpoint at %04XH disabled.\n", addr)
	}
	return nil
}

func (h *Host) breakpointArg(c cmd.Selection) (uint16, bool) {
	if len(c.Args) < 1 {
		h.displayUsage(c)
		return 0, false
	}

	addr, err := h.parseExpr(c.Args[0])
	if err != nil {
		h.printf("%v\n", err)
		return 0, false
	}
	return addr, true
}

func (h *Host) cmdDataBreakpointList(c cmd.Selection) error {
	h.println("Addr   Enabled  Value")
	h.println("------ -------  -----")
	for _, b := range h.debugger.GetDataBreakpoints() {
		if b.Conditional {
			h.printf("%05XH %-5v    %02XH\n", b.Address, !b.Disabled, b.Value)
		} else {
			h.printf("%05XH %-5v    <none>\n", b.Address, !b.Disabled)
		}
	}
	return nil
}

func (h *Host) cmdDataBreakpointAdd(c cmd.Selection) error {
	addr, ok := h.dataBreakpointArg(c)
	if !ok {
		return nil
	}

	if len(c.Args) > 1 {
		value, err := h.parseExpr(c.Args[1])
		if err != nil {
			h.printf("%v\n", err)
			return nil
		}
		h.debugger.AddConditionalDataBreakpoint(addr, byte(value))
		h.printf("Conditional data breakpoint added at %05XH for value %02XH.\n", addr, byte(value))
	} else {
		h.debugger.AddDataBreakpoint(addr)
		h.printf("Data breakpoint added at %05XH.\n", addr)
	}

	return nil
}

func (h *Host) cmdDataBreakpointRemove(c cmd.Selection) error {
	addr, ok := h.dataBreakpointArg(c)
	if !ok {
		return nil
	}

	if h.debugger.GetDataBreakpoint(addr) == nil {
		h.printf("No data breakpoint was set on %05XH.\n", addr)
		return nil
	}

	h.debugger.RemoveDataBreakpoint(addr)
	h.printf("Data breakpoint at %05XH removed.\n", addr)
	return nil
}

func (h *Host) cmdDataBreakpointEnable(c cmd.Selection) error {
	return h.enableDataBreakpoint(c, true)
}

func (h *Host) cmdDataBreakpointDisable(c cmd.Selection) error {
	return h.enableDataBreakpoint(c, false)
}

func (h *Host) enableDataBreakpoint(c cmd.Selection, enable bool) error {
	addr, ok := h.dataBreakpointArg(c)
	if !ok {
		return nil
	}

	b := h.debugger.GetDataBreakpoint(addr)
	if b == nil {
		h.printf("No data breakpoint was set on %05XH.\n", addr)
		return nil
	}

	b.Disabled = !enable
	if enable {
		h.printf("Data breakpoint at %05XH enabled.\n", addr)
	} else {
		h.printf("Data breakpoint at %05XH disabled.\n", addr)
	}
	return nil
}

func (h *Host) dataBreakpointArg(c cmd.Selection) (uint32, bool) {
	if len(c.Args) < 1 {
		h.displayUsage(c)
		return 0, false
	}

	addr, err := h.parseAddr(c.Args[0])
	if err != nil {
		h.printf("%v\n", err)
		return 0, false
	}
	return addr, true
}

func (h *Host) cmdDisassemble(c cmd.Selection) error {
	p := h.cpu.Program()
	if p == nil {
		h.println("No program loaded.")
		return nil
	}

	if len(c.Args) == 0 {
		c.Args = []string{"$"}
	}

	var index int
	switch c.Args[0] {
	case "$":
		index = h.settings.NextDisasmIndex
		if index < 0 {
			index = h.cpu.Index
		}

	case ".":
		index = h.cpu.Index

	default:
		a, err := h.parseExpr(c.Args[0])
		if err != nil {
			h.printf("%v\n", err)
			return nil
		}
		index = p.IndexOf(a)
		if index < 0 {
			h.printf("No instruction starts at offset %04XH.\n", a)
			return nil
		}
	}

	lines := h.settings.DisasmLines
	if len(c.Args) > 1 {
		l, err := h.parseExpr(c.Args[1])
		if err != nil {
			h.printf("%v\n", err)
			return nil
		}
		lines = int(l)
	}

	for i := 0; i < lines && index < len(p.Instructions); i++ {
		d, next := h.disassemble(index, displayAnnotations)
		h.println(d)
		index = next
	}

	h.settings.NextDisasmIndex = index
	h.lastCmd.Args = []string{"$", fmt.Sprintf("%d", lines)}
	return nil
}

func (h *Host) cmdEvaluate(c cmd.Selection) error {
	if len(c.Args) < 1 {
		h.displayUsage(c)
		return nil
	}

	expr := strings.Join(c.Args, " ")
	v, err := h.exprParser.Parse(expr, h)
	if err != nil {
		h.printf("%v\n", err)
		return nil
	}

	h.printf("%d (%XH)\n", v, uint32(v))
	return nil
}

func (h *Host) cmdExecute(c cmd.Selection) error {
	if len(c.Args) < 1 {
		h.displayUsage(c)
		return nil
	}

	file, err := os.Open(c.Args[0])
	if err != nil {
		h.printf("Failed to open '%s': %v\n", filepath.Base(c.Args[0]), err)
		return nil
	}
	defer file.Close()

	input, interactive, lastCmd := h.input, h.interactive, h.lastCmd
	err = h.runCommands(file, false)
	h.input, h.interactive, h.lastCmd = input, interactive, lastCmd
	return err
}

func (h *Host) cmdHelp(c cmd.Selection) error {
	if len(c.Args) == 0 {
		h.displayCommands(groups[0])
		return nil
	}

	s, err := cmds.Lookup(strings.Join(c.Args, " "))
	if err == nil && s.Command != nil {
		if cm, ok := s.Command.Data.(*command); ok && cm.fn != nil {
			if cm.usage != "" {
				h.printf("Syntax: %s\n\n", cm.usage)
			}
			switch {
			case cm.description != "":
				h.printf("Description:\n%s\n\n", indentWrap(3, cm.description))
			case cm.brief != "":
				h.printf("Description:\n%s.\n\n", indentWrap(3, cm.brief))
			}
			return nil
		}
	}

	h.displayGroup(c.Args)
	return nil
}

func (h *Host) cmdList(c cmd.Selection) error {
	if h.source == nil {
		h.println("No program loaded.")
		return nil
	}

	if len(c.Args) == 0 {
		c.Args = []string{"$"}
	}

	var line int
	switch c.Args[0] {
	case "$":
		line = h.settings.NextSourceLine

	case ".":
		if inst := h.cpu.NextInstruction(); inst != nil {
			line = inst.Line
		}

	default:
		l, err := h.exprParser.Parse(c.Args[0], h)
		if err != nil {
			h.printf("%v\n", err)
			return nil
		}
		line = int(l)
	}
	line = max(line, 1)

	lines := h.settings.SourceLines
	if len(c.Args) > 1 {
		l, err := h.parseExpr(c.Args[1])
		if err != nil {
			h.printf("%v\n", err)
			return nil
		}
		lines = int(l)
	}

	var current int
	if inst := h.cpu.NextInstruction(); inst != nil {
		current = inst.Line
	}

	for n := 0; n < lines && line <= len(h.source); n, line = n+1, line+1 {
		marker, offset := ' ', "     "
		if off, ok := h.lineOffsets[line]; ok {
			offset = fmt.Sprintf("%04X ", off)
			if h.debugger.GetBreakpoint(off) != nil {
				marker = '*'
			}
		}
		if line == current {
			marker = '>'
		}
		h.printf("%c %s%4d  %s\n", marker, offset, line, h.source[line-1])
	}

	h.settings.NextSourceLine = line
	h.lastCmd.Args = []string{"$", fmt.Sprintf("%d", lines)}
	return nil
}

func (h *Host) cmdLoad(c cmd.Selection) error {
	if len(c.Args) < 1 {
		h.displayUsage(c)
		return nil
	}

	filename := c.Args[0]
	if filepath.Ext(filename) == "" {
		filename += ".asm"
	}

	h.load(filename)
	return nil
}

func (h *Host) cmdMemoryDump(c cmd.Selection) error {
	if len(c.Args) == 0 {
		c.Args = []string{"$"}
	}

	var addr uint32
	switch c.Args[0] {
	case "$":
		addr = h.settings.NextMemDumpAddr

	default:
		a, err := h.parseAddr(c.Args[0])
		if err != nil {
			h.printf("%v\n", err)
			return nil
		}
		addr = a
	}

	n := uint32(h.settings.MemDumpBytes)
	if len(c.Args) >= 2 {
		v, err := h.parseExpr(c.Args[1])
		if err != nil {
			h.printf("%v\n", err)
			return nil
		}
		n = uint32(v)
	}

	h.dumpMemory(addr, n)

	h.settings.NextMemDumpAddr = (addr + n) & (cpu.MemorySize - 1)
	h.lastCmd.Args = []string{"$", fmt.Sprintf("%d", n)}
	return nil
}

func (h *Host) cmdMemorySet(c cmd.Selection) error {
	if len(c.Args) < 2 {
		h.displayUsage(c)
		return nil
	}

	addr, err := h.parseAddr(c.Args[0])
	if err != nil {
		h.printf("%v\n", err)
		return nil
	}

	for i, arg := range c.Args[1:] {
		v, err := h.parseExpr(arg)
		if err != nil {
			h.printf("%v\n", err)
			return nil
		}
		a := (addr + uint32(i)) & (cpu.MemorySize - 1)
		if err := h.mem.StoreByte(a, byte(v)); err != nil {
			h.printf("%v\n", err)
			return nil
		}
	}

	h.dumpMemory(addr, uint32(len(c.Args)-1))
	return nil
}

func (h *Host) cmdMemoryCopy(c cmd.Selection) error {
	if len(c.Args) < 3 {
		h.displayUsage(c)
		return nil
	}

	var addr [3]uint32
	for i := range addr {
		a, err := h.parseAddr(c.Args[i])
		if err != nil {
			h.printf("%v\n", err)
			return nil
		}
		addr[i] = a
	}

	dst, begin, end := addr[0], addr[1], addr[2]
	if end < begin {
		h.println("Source range is empty.")
		return nil
	}

	b := make([]byte, end-begin+1)
	if err := h.mem.LoadBytes(begin, b); err != nil {
		h.printf("%v\n", err)
		return nil
	}
	if err := h.mem.StoreBytes(dst, b); err != nil {
		h.printf("%v\n", err)
		return nil
	}

	h.printf("Copied %d bytes from %05XH to %05XH.\n", len(b), begin, dst)
	return nil
}

func (h *Host) cmdOutput(c cmd.Selection) error {
	out := h.cpu.Output()
	if out == "" {
		h.println("No output.")
		return nil
	}
	h.println(strings.TrimRight(out, "\r\n"))
	return nil
}

func (h *Host) cmdQuit(c cmd.Selection) error {
	return errQuit
}

func (h *Host) cmdRegister(c cmd.Selection) error {
	if len(c.Args) == 0 {
		h.displayRegisters()
		return nil
	}
	if len(c.Args) < 2 {
		h.displayUsage(c)
		return nil
	}

	name := strings.ToUpper(c.Args[0])
	v, err := h.exprParser.Parse(strings.Join(c.Args[1:], " "), h)
	if err != nil {
		h.printf("%v\n", err)
		return nil
	}

	if f, ok := cpu.LookupFlag(name); ok {
		h.cpu.Reg.SetFlag(f, v != 0)
		h.printf("Flag %s set to %d.\n", f, b2i(v != 0))
		return nil
	}

	r, ok := cpu.LookupReg(name)
	switch {
	case !ok:
		h.printf("Unknown register '%s'.\n", name)

	case r == cpu.IP:
		p := h.cpu.Program()
		if p == nil {
			h.println("No program loaded.")
			return nil
		}
		i := p.IndexOf(uint16(v))
		if i < 0 {
			h.printf("No instruction starts at offset %04XH.\n", uint16(v))
			return nil
		}
		h.cpu.Index = i
		h.cpu.Reg.Set(cpu.IP, uint16(v))
		h.printf("Register IP set to %04XH.\n", uint16(v))

	case r.Size() == 1:
		h.cpu.Reg.SetByte(r, byte(v))
		h.printf("Register %s set to %02XH.\n", r, byte(v))

	default:
		h.cpu.Reg.Set(r, uint16(v))
		h.printf("Register %s set to %04XH.\n", r, uint16(v))
	}
	return nil
}

func (h *Host) cmdReset(c cmd.Selection) error {
	if h.assembly == nil {
		h.println("No program loaded.")
		return nil
	}
	h.loadProgram()
	h.println("Program reset.")
	h.displayPC()
	return nil
}

func (h *Host) cmdRun(c cmd.Selection) error {
	if !h.ready() {
		return nil
	}

	h.printf("Running from %04X:%04X. Press ctrl-C to break.\n",
		h.cpu.Reg.Get(cpu.CS), h.cpu.Reg.Get(cpu.IP))

	h.state = stateRunning
	for n := 0; h.state == stateRunning; n++ {
		if h.settings.MaxSteps > 0 && n >= h.settings.MaxSteps {
			h.printf("Stopped after %d steps.\n", n)
			h.displayPC()
			break
		}
		h.step()
	}
	h.state = stateProcessingCommands

	h.settings.NextDisasmIndex = h.cpu.Index
	return nil
}

func (h *Host) cmdSet(c cmd.Selection) error {
	switch len(c.Args) {
	case 0:
		h.println("Variables:")
		h.settings.Display(h.output)
		h.flush()

	case 1:
		name, value, err := h.settings.Get(c.Args[0])
		if err != nil {
			h.printf("%v\n", err)
		} else {
			h.printf("%s = %s\n", name, value)
		}

	default:
		key, value := strings.ToLower(c.Args[0]), strings.Join(c.Args[1:], " ")

		var err error
		switch h.settings.Kind(key) {
		case reflect.Invalid:
			err = fmt.Errorf("setting '%s' not found", key)
		case reflect.String:
			err = h.settings.Set(key, value)
		case reflect.Bool:
			var v bool
			v, err = stringToBool(value)
			if err == nil {
				err = h.settings.Set(key, v)
			}
		default:
			var v int64
			v, err = h.exprParser.Parse(value, h)
			if err == nil {
				err = h.settings.Set(key, v)
			}
		}

		if err == nil {
			h.println("Setting updated.")
		} else {
			h.printf("%v\n", err)
		}

		h.onSettingsUpdate()
	}

	return nil
}

func (h *Host) cmdStepIn(c cmd.Selection) error {
	return h.stepCount(c, (*Host).step)
}

func (h *Host) cmdStepOver(c cmd.Selection) error {
	return h.stepCount(c, (*Host).stepOver)
}

func (h *Host) stepCount(c cmd.Selection, fn func(h *Host)) error {
	if !h.ready() {
		return nil
	}

	// Parse the number of steps.
	count := 1
	if len(c.Args) > 0 {
		n, err := h.parseExpr(c.Args[0])
		if err == nil {
			count = int(n)
		}
	}

	// Step the CPU count times.
	h.state = stateRunning
	for i := count - 1; i >= 0 && h.state == stateRunning; i-- {
		fn(h)
		switch {
		case i == h.settings.MaxStepLines:
			h.println("...")
		case i < h.settings.MaxStepLines:
			h.displayPC()
		}
	}
	h.state = stateProcessingCommands

	h.settings.NextDisasmIndex = h.cpu.Index
	return nil
}

func (h *Host) cmdStepOut(c cmd.Selection) error {
	if !h.ready() {
		return nil
	}

	// Step until a RET pops the stack above where it is now.
	sp := h.cpu.Reg.Get(cpu.SP)
	h.state = stateRunning
	for h.state == stateRunning {
		inst := h.cpu.NextInstruction()
		h.step()
		if inst != nil && strings.HasPrefix(inst.Name, "RET") && h.cpu.Reg.Get(cpu.SP) > sp {
			break
		}
	}
	h.state = stateProcessingCommands

	h.displayPC()
	h.settings.NextDisasmIndex = h.cpu.Index
	return nil
}

func (h *Host) cmdSymbols(c cmd.Selection) error {
	if h.assembly == nil || h.assembly.Symbols == nil {
		h.println("No program loaded.")
		return nil
	}

	for _, s := range h.assembly.Symbols.Symbols() {
		switch s.Kind {
		case asm.SegmentSymbol:
			h.printf("%-16s %-10s %04XH      %d bytes\n", s.Name, s.Kind, s.Segment.Base, s.Segment.Size)
		case asm.ConstantSymbol:
			h.printf("%-16s %-10s %04XH\n", s.Name, s.Kind, uint16(s.Value))
		case asm.VariableSymbol:
			h.printf("%-16s %-10s %s:%04XH  %d x %d\n", s.Name, s.Kind, s.Segment.Name, s.Offset, s.Count, s.Unit)
		default:
			h.printf("%-16s %-10s %s:%04XH\n", s.Name, s.Kind, s.Segment.Name, s.Offset)
		}
	}
	return nil
}

// Assemble a source file and load it into a fresh machine.
func (h *Host) load(filename string) {
	src, err := os.ReadFile(filename)
	if err != nil {
		h.printf("Failed to open '%s': %v\n", filepath.Base(filename), err)
		return
	}

	assembly, sourceMap, err := asm.Assemble(bytes.NewReader(src), filename, h.output, 0)
	for _, w := range assembly.Warnings {
		h.printf("Warning: %s\n", w)
	}
	if err != nil {
		h.printf("Failed to assemble '%s'.\n", filepath.Base(filename))
		for _, e := range assembly.Errors {
			h.println(e)
		}
		return
	}

	h.assembly = assembly
	h.sourceMap = sourceMap
	h.source = strings.Split(strings.ReplaceAll(string(src), "\r\n", "\n"), "\n")
	h.lineOffsets = make(map[int]uint16, len(sourceMap.Lines))
	for _, l := range sourceMap.Lines {
		h.lineOffsets[l.Line] = l.Offset
	}
	h.loadProgram()

	p := assembly.Program
	h.printf("Loaded '%s': %d instructions, entry at %04X:%04X.\n",
		filepath.Base(filename), len(p.Instructions), h.cpu.Reg.Get(cpu.CS), h.cpu.Reg.Get(cpu.IP))
	h.displayPC()
}

// Load the current program into a fresh machine.
func (h *Host) loadProgram() {
	h.newMachine()
	if err := h.cpu.Load(h.assembly.Program); err != nil {
		h.printf("Failed to load program: %v\n", err)
	}
	h.settings.NextDisasmIndex = h.cpu.Index
	h.settings.NextSourceLine = 1
	if inst := h.cpu.NextInstruction(); inst != nil {
		h.settings.NextSourceLine = inst.Line
	}
	if segs := h.assembly.Segments(); len(segs) > 0 {
		h.settings.NextMemDumpAddr = cpu.Linear(segs[0].Base, 0)
	}
}

// Execute one instruction, reporting the end of the program or a fault.
func (h *Host) step() {
	err := h.cpu.Step()
	if err == nil && h.cpu.State != cpu.Halted {
		return
	}

	h.state = stateProcessingCommands

	var re *cpu.RuntimeError
	switch {
	case errors.As(err, &re):
		h.printf("%v\n", re)
	case err != nil:
		h.printf("ERROR: %v\n", err)
	case h.cpu.Exited:
		h.printf("Program exited with code %d after %d steps.\n", h.cpu.ExitCode, h.cpu.Steps)
	default:
		h.printf("Program halted after %d steps.\n", h.cpu.Steps)
	}
}

func (h *Host) stepOver() {
	// CALL instructions need to be handled specially.
	inst := h.cpu.NextInstruction()
	next := h.cpu.Instruction(h.cpu.Index + 1)
	if inst == nil || inst.Name != "CALL" || next == nil {
		h.step()
		return
	}

	// Place a temporary breakpoint on the instruction following the CALL
	// and run until something stops the CPU.
	h.debugger.AddStepOverBreakpoint(next.Offset)
	for h.state == stateRunning {
		h.step()
	}
	h.debugger.ClearStepOverBreakpoints()

	// If we were interrupted by the temporary step-over breakpoint,
	// then continue as normal.
	if h.state == stateStepOverBreakpoint {
		h.state = stateRunning
	}
}

// Print the registers and memory changes of a step when trace mode is on.
func (h *Host) onTrace(s *trace.Step) error {
	if !h.settings.TraceMode {
		return nil
	}

	var changes []string
	for _, c := range s.RegChanges {
		changes = append(changes, fmt.Sprintf("%s=%04X", c.Reg, c.After))
	}
	for _, c := range s.FlagChanges {
		changes = append(changes, fmt.Sprintf("%s=%d", c.Flag, b2i(c.After)))
	}
	for _, c := range s.MemChanges {
		changes = append(changes, fmt.Sprintf("[%05X]=%02X", c.Address, c.After))
	}
	h.printf("  #%-5d %4d  %-26s %s\n", s.Number, s.Line, s.Canonical, strings.Join(changes, " "))
	return nil
}

func (h *Host) onSettingsUpdate() {
	h.exprParser.hexMode = h.settings.HexMode
}

func (h *Host) parseExpr(expr string) (uint16, error) {
	v, err := h.exprParser.Parse(expr, h)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

// Parse a memory address. Addresses are SEG:OFF pairs, variable names or
// linear addresses.
func (h *Host) parseAddr(expr string) (uint32, error) {
	v, err := h.exprParser.Parse(expr, h)
	if err != nil {
		return 0, err
	}
	if v < 0 || v >= cpu.MemorySize {
		return 0, fmt.Errorf("address %XH out of range", v)
	}
	return uint32(v), nil
}

func (h *Host) disassemble(i int, flags displayFlags) (str string, next int) {
	inst := h.cpu.Instruction(i)
	if inst == nil {
		return "", i
	}

	var line string
	line, next = disasm.Disassemble(h.cpu, i)
	str = fmt.Sprintf("%04X:%04X %4d  %-26s", h.cpu.Program().CodeSegment, inst.Offset, inst.Line, line)

	if (flags & displayRegisters) != 0 {
		str += " " + registerString(&h.cpu.Reg)
	}

	if (flags & displaySteps) != 0 {
		str += fmt.Sprintf(" S=%d", h.cpu.Steps)
	}

	if (flags & displayAnnotations) != 0 {
		if anno, ok := h.annotations[inst.Offset]; ok {
			str += " ; " + anno
		}
	}

	return str, next
}

func (h *Host) displayRegisters() {
	r := &h.cpu.Reg
	for i, reg := range trace.TraceRegs {
		sep := "  "
		if i%7 == 6 || i == len(trace.TraceRegs)-1 {
			sep = "\n"
		}
		h.print(fmt.Sprintf("%s=%04X", reg, r.Get(reg)), sep)
	}
	for _, f := range cpu.AllFlags {
		h.print(fmt.Sprintf("%s=%d ", f, b2i(r.Flag(f))))
	}
	h.println()
	h.displayPC()
}

// Dump memory in rows of 16 bytes aligned to 16-byte boundaries.
func (h *Host) dumpMemory(addr0, n uint32) {
	if n == 0 {
		return
	}

	addr1 := addr0 + n - 1
	if addr1 >= cpu.MemorySize {
		addr1 = cpu.MemorySize - 1
	}

	buf := []byte(strings.Repeat(" ", 72))
	for row := addr0 &^ 0xf; row <= addr1; row += 16 {
		addrToBuf(row, buf[0:5])
		for i := uint32(0); i < 16; i++ {
			a, c1, c2 := row+i, 7+3*i, 56+i
			if a >= addr0 && a <= addr1 {
				m, _ := h.mem.LoadByte(a)
				byteToBuf(m, buf[c1:c1+2])
				buf[c2] = toPrintableChar(m)
			} else {
				buf[c1], buf[c1+1], buf[c2] = ' ', ' ', ' '
			}
		}
		h.println(string(buf))
	}
}

// Return the source line of the instruction at a code offset.
func (h *Host) lineString(off uint16) string {
	if h.sourceMap != nil {
		if l := h.sourceMap.Search(off); l >= 0 {
			return fmt.Sprintf("%d", l)
		}
	}
	return "-"
}

func (h *Host) displayUsage(c cmd.Selection) {
	if cm, ok := c.Command.Data.(*command); ok && cm.usage != "" {
		h.printf("Syntax: %s\n", cm.usage)
	} else {
		h.println("<no help text>")
	}
}

func (h *Host) displayGroup(args []string) {
	if len(args) > 0 {
		if g := lookupGroup(args[0]); g != nil {
			h.displayCommands(g)
			return
		}
	}
	h.println("Command not found.")
}

func (h *Host) displayCommands(g *commandGroup) {
	h.printf("%s commands:\n", g.title)
	for _, c := range g.commands {
		if c.brief != "" {
			h.printf("    %-15s  %s\n", c.name, c.brief)
		}
	}
}

// Resolve an identifier in an expression. Registers evaluate to their
// contents, variables to their linear address, labels and procedures to
// their code offset, constants to their value, and segments to their
// paragraph.
func (h *Host) resolveIdentifier(s string) (int64, error) {
	if s == "." {
		return int64(h.cpu.Reg.Get(cpu.IP)), nil
	}
	if r, ok := cpu.LookupReg(s); ok {
		return int64(h.cpu.Reg.Get(r)), nil
	}

	if h.assembly != nil && h.assembly.Symbols != nil {
		if sym := h.assembly.Symbols.Lookup(s); sym != nil {
			switch sym.Kind {
			case asm.VariableSymbol:
				return int64(cpu.Linear(sym.Segment.Base, sym.Offset)), nil
			case asm.ConstantSymbol:
				return int64(sym.Value), nil
			case asm.SegmentSymbol:
				return int64(sym.Segment.Base), nil
			default:
				return int64(sym.Offset), nil
			}
		}
	}

	return 0, fmt.Errorf("identifier '%s' not found", s)
}

func (h *Host) onBreakpoint(c *cpu.CPU, b *cpu.Breakpoint) {
	if b.StepOver {
		h.state = stateStepOverBreakpoint
	} else {
		h.state = stateBreakpoint
		h.printf("Breakpoint hit at %04XH.\n", b.Address)
		h.displayPC()
	}
}

func (h *Host) onDataBreakpoint(c *cpu.CPU, b *cpu.DataBreakpoint) {
	h.printf("Data breakpoint hit on address %05XH.\n", b.Address)
	h.state = stateBreakpoint
}

// Wrap text to 80 columns with every line indented.
func indentWrap(indent int, s string) string {
	const width = 80
	pad := strings.Repeat(" ", indent)

	var b strings.Builder
	col := 0
	for _, w := range strings.Fields(s) {
		switch {
		case col == 0:
			b.WriteString(pad)
			col = indent
		case col+1+len(w) > width:
			b.WriteString("\n" + pad)
			col = indent
		default:
			b.WriteByte(' ')
			col++
		}
		b.WriteString(w)
		col += len(w)
	}
	return b.String()
}
