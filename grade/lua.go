// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package grade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/beevik/go8086/cpu"
	"github.com/beevik/go8086/sim"
	lua "github.com/yuin/gopher-lua"
)

// Registers visible to check scripts.
var scriptRegs = []cpu.Reg{
	cpu.AX, cpu.BX, cpu.CX, cpu.DX, cpu.SI, cpu.DI, cpu.SP, cpu.BP,
	cpu.CS, cpu.DS, cpu.ES, cpu.SS, cpu.IP,
	cpu.AL, cpu.AH, cpu.BL, cpu.BH, cpu.CL, cpu.CH, cpu.DL, cpu.DH,
}

// Run a Lua check script against the final state of a run. The script
// sees the globals below and passes by returning true.
//
//	reg.AX, reg.AL, ...   register values
//	flag.ZF, ...          flag states as booleans
//	mem(loc)              byte at a linear address or location string
//	memw(loc)             word at a linear address or location string
//	sym(name)             linear address of a variable or label, or nil
//	output                program output
//	steps                 number of executed instructions
//	exitcode              INT 21H/4CH exit code, or nil
//
// Scripts cannot reach the file system and are cancelled after timeout.
func runScript(ctx context.Context, run *sim.Run, script string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	L.SetContext(ctx)

	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range []string{"dofile", "loadfile", "load", "require"} {
		L.SetGlobal(name, lua.LNil)
	}

	c := run.CPU

	regs := L.NewTable()
	for _, r := range scriptRegs {
		regs.RawSetString(r.String(), lua.LNumber(c.Reg.Get(r)))
	}
	L.SetGlobal("reg", regs)

	flags := L.NewTable()
	for _, f := range cpu.AllFlags {
		flags.RawSetString(f.String(), lua.LBool(c.Reg.Flag(f)))
	}
	L.SetGlobal("flag", flags)

	L.SetGlobal("mem", L.NewFunction(memFunc(run, 1)))
	L.SetGlobal("memw", L.NewFunction(memFunc(run, 2)))
	L.SetGlobal("sym", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		s := run.Assembly.Symbols.Lookup(name)
		if s == nil || s.Segment == nil {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LNumber(cpu.Linear(s.Segment.Base, s.Offset)))
		return 1
	}))
	L.SetGlobal("output", lua.LString(c.Output()))
	L.SetGlobal("steps", lua.LNumber(c.Steps))
	if c.Exited {
		L.SetGlobal("exitcode", lua.LNumber(c.ExitCode))
	}

	fn, err := L.LoadString(script)
	if err != nil {
		return fmt.Errorf("Script error: %v", err)
	}
	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		return fmt.Errorf("Script error: %v", err)
	}
	ret := L.Get(-1)
	L.Pop(1)

	if !lua.LVAsBool(ret) {
		return errors.New(msgScript)
	}
	return nil
}

// Return a Lua function that reads a byte or word of memory. The location
// is a linear address or any string accepted by resolveAddress.
func memFunc(run *sim.Run, size int) lua.LGFunction {
	return func(L *lua.LState) int {
		var addr uint32
		switch v := L.CheckAny(1).(type) {
		case lua.LNumber:
			addr = uint32(v)
		case lua.LString:
			a, err := resolveAddress(run, string(v))
			if err != nil {
				L.RaiseError("%v", err)
				return 0
			}
			addr = a
		default:
			L.ArgError(1, "address expected")
			return 0
		}
		v, err := loadMemory(run.CPU, addr&(cpu.MemorySize-1), size)
		if err != nil {
			L.RaiseError("%v", err)
			return 0
		}
		L.Push(lua.LNumber(v))
		return 1
	}
}
