// Copyright 2018-2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package host

import "github.com/beevik/go8086/cpu"

// A debugHandler forwards cpu debugger notifications to host callbacks.
type debugHandler struct {
	code func(c *cpu.CPU, b *cpu.Breakpoint)
	data func(c *cpu.CPU, b *cpu.DataBreakpoint)
}

func newDebugHandler(h *Host) *debugHandler {
	return &debugHandler{code: h.onBreakpoint, data: h.onDataBreakpoint}
}

func (d *debugHandler) OnBreakpoint(c *cpu.CPU, b *cpu.Breakpoint) {
	d.code(c, b)
}

func (d *debugHandler) OnDataBreakpoint(c *cpu.CPU, b *cpu.DataBreakpoint) {
	d.data(c, b)
}
