// Copyright 2018-2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package host

import (
	"strings"

	"github.com/beevik/cmd"
)

// A command is the data stored with each entry in the command tree.
type command struct {
	name        string
	brief       string
	description string
	usage       string
	fn          func(h *Host, c cmd.Selection) error
}

// A commandGroup lists the commands of one tree for the help display.
type commandGroup struct {
	name     string
	title    string
	commands []*command
}

// A treeBuilder adds commands to a command tree and its help group
// together.
type treeBuilder struct {
	tree  *cmd.Tree
	group *commandGroup
}

var (
	cmds   *cmd.Tree
	groups []*commandGroup
)

func newTreeBuilder(t *cmd.Tree, name, title string) treeBuilder {
	g := &commandGroup{name: name, title: title}
	groups = append(groups, g)
	return treeBuilder{tree: t, group: g}
}

func (b treeBuilder) add(fn func(h *Host, c cmd.Selection) error, d cmd.CommandDescriptor) {
	c := &command{
		name:        d.Name,
		brief:       d.Brief,
		description: d.Description,
		usage:       d.Usage,
		fn:          fn,
	}
	d.Data = c
	b.tree.AddCommand(d)
	b.group.commands = append(b.group.commands, c)
}

func (b treeBuilder) subtree(name, brief string) treeBuilder {
	t := b.tree.AddSubtree(cmd.TreeDescriptor{Name: name, Brief: brief})
	b.group.commands = append(b.group.commands, &command{name: name, brief: brief})
	return newTreeBuilder(t, name, brief)
}

// Find the help group whose name starts with the prefix, if exactly one
// does.
func lookupGroup(prefix string) *commandGroup {
	var found *commandGroup
	for _, g := range groups[1:] {
		if strings.HasPrefix(g.name, strings.ToLower(prefix)) {
			if found != nil {
				return nil
			}
			found = g
		}
	}
	return found
}

func init() {
	root := cmd.NewTree(cmd.TreeDescriptor{Name: "go8086"})
	rb := newTreeBuilder(root, "", "go8086")

	rb.add((*Host).cmdHelp, cmd.CommandDescriptor{
		Name:        "help",
		Description: "Display help for a command.",
		Usage:       "help [<command>]",
	})
	rb.add((*Host).cmdAnnotate, cmd.CommandDescriptor{
		Name:  "annotate",
		Brief: "Annotate a code offset",
		Description: "Provide a code annotation at a code segment offset." +
			" When disassembling code at this offset, the annotation will" +
			" be displayed. Omit the string to remove the annotation.",
		Usage: "annotate <offset> [<string>]",
	})

	// Assemble commands
	ab := rb.subtree("assemble", "Assemble commands")
	ab.add((*Host).cmdAssembleFile, cmd.CommandDescriptor{
		Name:  "file",
		Brief: "Assemble a source file and save its source map",
		Description: "Run the assembler on the specified file, reporting" +
			" errors and warnings, and write a source map file next to it" +
			" if successful. If you want verbose output, specify true as a" +
			" second parameter.",
		Usage: "assemble file <filename> [<verbose>]",
	})

	// Breakpoint commands
	bb := rb.subtree("breakpoint", "Breakpoint commands")
	bb.add((*Host).cmdBreakpointList, cmd.CommandDescriptor{
		Name:        "list",
		Brief:       "List breakpoints",
		Description: "List all current breakpoints.",
		Usage:       "breakpoint list",
	})
	bb.add((*Host).cmdBreakpointAdd, cmd.CommandDescriptor{
		Name:  "add",
		Brief: "Add a breakpoint",
		Description: "Add a breakpoint at the specified code offset. A" +
			" label may be used in place of the offset. The breakpoint" +
			" starts enabled.",
		Usage: "breakpoint add <offset>",
	})
	bb.add((*Host).cmdBreakpointRemove, cmd.CommandDescriptor{
		Name:        "remove",
		Brief:       "Remove a breakpoint",
		Description: "Remove a breakpoint at the specified code offset.",
		Usage:       "breakpoint remove <offset>",
	})
	bb.add((*Host).cmdBreakpointEnable, cmd.CommandDescriptor{
		Name:        "enable",
		Brief:       "Enable a breakpoint",
		Description: "Enable a previously added breakpoint.",
		Usage:       "breakpoint enable <offset>",
	})
	bb.add((*Host).cmdBreakpointDisable, cmd.CommandDescriptor{
		Name:  "disable",
		Brief: "Disable a breakpoint",
		Description: "Disable a previously added breakpoint. This" +
			" prevents the breakpoint from being hit when running the" +
			" CPU.",
		Usage: "breakpoint disable <offset>",
	})

	// Data breakpoint commands
	db := rb.subtree("databreakpoint", "Data breakpoint commands")
	db.add((*Host).cmdDataBreakpointList, cmd.CommandDescriptor{
		Name:        "list",
		Brief:       "List data breakpoints",
		Description: "List all current data breakpoints.",
		Usage:       "databreakpoint list",
	})
	db.add((*Host).cmdDataBreakpointAdd, cmd.CommandDescriptor{
		Name:  "add",
		Brief: "Add a data breakpoint",
		Description: "Add a new data breakpoint at the specified" +
			" memory address. When the CPU stores data at this address," +
			" the breakpoint will stop the CPU. Optionally, a byte" +
			" value may be specified, and the CPU will stop only" +
			" when this value is stored. Addresses may be written as" +
			" SEG:OFF, as a variable name, or as a linear address.",
		Usage: "databreakpoint add <address> [<value>]",
	})
	db.add((*Host).cmdDataBreakpointRemove, cmd.CommandDescriptor{
		Name:  "remove",
		Brief: "Remove a data breakpoint",
		Description: "Remove a previously added data breakpoint at" +
			" the specified memory address.",
		Usage: "databreakpoint remove <address>",
	})
	db.add((*Host).cmdDataBreakpointEnable, cmd.CommandDescriptor{
		Name:        "enable",
		Brief:       "Enable a data breakpoint",
		Description: "Enable a previously added data breakpoint.",
		Usage:       "databreakpoint enable <address>",
	})
	db.add((*Host).cmdDataBreakpointDisable, cmd.CommandDescriptor{
		Name:        "disable",
		Brief:       "Disable a data breakpoint",
		Description: "Disable a previously added data breakpoint.",
		Usage:       "databreakpoint disable <address>",
	})

	rb.add((*Host).cmdDisassemble, cmd.CommandDescriptor{
		Name:  "disassemble",
		Brief: "Disassemble code",
		Description: "Disassemble instructions starting at the requested" +
			" code offset. The number of instruction lines to disassemble" +
			" may be specified as an option. If no offset is specified, the" +
			" disassembly continues from where the last disassembly left off.",
		Usage: "disassemble [<offset>] [<lines>]",
	})
	rb.add((*Host).cmdEvaluate, cmd.CommandDescriptor{
		Name:  "evaluate",
		Brief: "Evaluate an expression",
		Description: "Evaluate a mathematical expression. Registers and" +
			" symbols may appear in the expression, and SEG:OFF computes a" +
			" linear address.",
		Usage: "evaluate <expression>",
	})
	rb.add((*Host).cmdExecute, cmd.CommandDescriptor{
		Name:  "execute",
		Brief: "Execute a go8086 script file",
		Description: "Load a go8086 script file from disk and execute the" +
			" commands it contains.",
		Usage: "execute <filename>",
	})
	rb.add((*Host).cmdList, cmd.CommandDescriptor{
		Name:  "list",
		Brief: "List source code lines",
		Description: "List the source code of the loaded program starting" +
			" at the specified line. Lines that produced an instruction show" +
			" its code offset. If no line is specified, the listing continues" +
			" from where the last one left off.",
		Usage: "list [<line>] [<lines>]",
	})
	rb.add((*Host).cmdLoad, cmd.CommandDescriptor{
		Name:  "load",
		Brief: "Assemble and load a source file",
		Description: "Assemble a source file and load the resulting program" +
			" into a freshly cleared machine, ready to run from its entry" +
			" point.",
		Usage: "load <filename>",
	})

	// Memory commands
	mb := rb.subtree("memory", "Memory commands")
	mb.add((*Host).cmdMemoryDump, cmd.CommandDescriptor{
		Name:  "dump",
		Brief: "Dump memory at address",
		Description: "Dump the contents of memory starting from the" +
			" specified address. The number of bytes to dump may be" +
			" specified as an option. If no address is specified, the" +
			" memory dump continues from where the last dump left off.",
		Usage: "memory dump [<address>] [<bytes>]",
	})
	mb.add((*Host).cmdMemorySet, cmd.CommandDescriptor{
		Name:  "set",
		Brief: "Set memory at address",
		Description: "Set the contents of memory starting from the specified" +
			" address. The values to assign should be a series of" +
			" space-separated byte values. You may use an expression for each" +
			" byte value.",
		Usage: "memory set <address> <byte> [<byte> ...]",
	})
	mb.add((*Host).cmdMemoryCopy, cmd.CommandDescriptor{
		Name:  "copy",
		Brief: "Copy memory",
		Description: "Copy memory from one range of addresses to another. You" +
			" must specify the destination address, the first byte of the source" +
			" address, and the last byte of the source address.",
		Usage: "memory copy <dst addr> <src addr begin> <src addr end>",
	})

	rb.add((*Host).cmdOutput, cmd.CommandDescriptor{
		Name:        "output",
		Brief:       "Display program output",
		Description: "Display everything the program has written so far.",
		Usage:       "output",
	})
	rb.add((*Host).cmdQuit, cmd.CommandDescriptor{
		Name:        "quit",
		Brief:       "Quit the program",
		Description: "Quit the program.",
		Usage:       "quit",
	})
	rb.add((*Host).cmdRegister, cmd.CommandDescriptor{
		Name:  "register",
		Brief: "View or change register values",
		Description: "When used without arguments, this command displays the current" +
			" contents of the CPU registers. When used with arguments, this" +
			" command changes the value of a register or one of the CPU's status" +
			" flags. Allowed register names include AX through DX, their byte" +
			" halves, SI, DI, BP, SP and the segment registers. Allowed flag" +
			" names are CF, PF, AF, ZF, SF, TF, IF, DF and OF.",
		Usage: "register [<name> <value>]",
	})
	rb.add((*Host).cmdReset, cmd.CommandDescriptor{
		Name:  "reset",
		Brief: "Restart the loaded program",
		Description: "Clear memory, reload the current program and reset the" +
			" registers so the program can run again from its entry point.",
		Usage: "reset",
	})
	rb.add((*Host).cmdRun, cmd.CommandDescriptor{
		Name:  "run",
		Brief: "Run the CPU",
		Description: "Run the CPU until the program ends, a breakpoint is hit," +
			" or the user types Ctrl-C.",
		Usage: "run",
	})
	rb.add((*Host).cmdSet, cmd.CommandDescriptor{
		Name:  "set",
		Brief: "Set a configuration variable",
		Description: "Set the value of a configuration variable. To see the" +
			" current values of all configuration variables, type set" +
			" without any arguments.",
		Usage: "set [<var> [<value>]]",
	})

	// Step commands
	sb := rb.subtree("step", "Step the debugger")
	sb.add((*Host).cmdStepIn, cmd.CommandDescriptor{
		Name:  "in",
		Brief: "Step into next instruction",
		Description: "Step the CPU by a single instruction. If the" +
			" instruction is a procedure call, step into the procedure." +
			" The number of steps may be specified as an option.",
		Usage: "step in [<count>]",
	})
	sb.add((*Host).cmdStepOver, cmd.CommandDescriptor{
		Name:  "over",
		Brief: "Step over next instruction",
		Description: "Step the CPU by a single instruction. If the" +
			" instruction is a procedure call, step over the procedure." +
			" The number of steps may be specified as an option.",
		Usage: "step over [<count>]",
	})
	sb.add((*Host).cmdStepOut, cmd.CommandDescriptor{
		Name:  "out",
		Brief: "Step out of the current procedure",
		Description: "Step the CPU until it executes a RET instruction that" +
			" leaves the currently running procedure.",
		Usage: "step out",
	})

	rb.add((*Host).cmdSymbols, cmd.CommandDescriptor{
		Name:  "symbols",
		Brief: "List program symbols",
		Description: "Display the symbol table of the loaded program:" +
			" segments, variables, labels, procedures and constants.",
		Usage: "symbols",
	})

	// Add command shortcuts.
	root.AddShortcut("a", "assemble file")
	root.AddShortcut("b", "breakpoint")
	root.AddShortcut("bp", "breakpoint")
	root.AddShortcut("ba", "breakpoint add")
	root.AddShortcut("br", "breakpoint remove")
	root.AddShortcut("bl", "breakpoint list")
	root.AddShortcut("be", "breakpoint enable")
	root.AddShortcut("bd", "breakpoint disable")
	root.AddShortcut("d", "disassemble")
	root.AddShortcut("db", "databreakpoint")
	root.AddShortcut("dbp", "databreakpoint")
	root.AddShortcut("dbl", "databreakpoint list")
	root.AddShortcut("dba", "databreakpoint add")
	root.AddShortcut("dbr", "databreakpoint remove")
	root.AddShortcut("dbe", "databreakpoint enable")
	root.AddShortcut("dbd", "databreakpoint disable")
	root.AddShortcut("e", "evaluate")
	root.AddShortcut("l", "list")
	root.AddShortcut("m", "memory dump")
	root.AddShortcut("mc", "memory copy")
	root.AddShortcut("ms", "memory set")
	root.AddShortcut("r", "register")
	root.AddShortcut("s", "step over")
	root.AddShortcut("si", "step in")
	root.AddShortcut("so", "step out")
	root.AddShortcut("?", "help")
	root.AddShortcut(".", "register")

	cmds = root
}
