// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cpu

import "math/bits"

// Return the value mask and sign bit for an operand size.
func sizeMasks(size int) (mask, sign uint32) {
	if size == 1 {
		return 0xff, 0x80
	}
	return 0xffff, 0x8000
}

// Parity returns true if the low byte of v has an even number of set bits.
func Parity(v uint16) bool {
	return bits.OnesCount8(uint8(v))%2 == 0
}

// Update ZF, SF and PF from a result of the given size.
func (r *Registers) setSZP(v uint16, size int) {
	mask, sign := sizeMasks(size)
	v &= uint16(mask)
	r.SetFlag(ZF, v == 0)
	r.SetFlag(SF, uint32(v)&sign != 0)
	r.SetFlag(PF, Parity(v))
}

// Add computes a + b + carry at the given size and updates CF, OF, AF, ZF,
// SF and PF.
func (r *Registers) Add(a, b, carry uint16, size int) uint16 {
	mask, sign := sizeMasks(size)
	ua, ub := uint32(a)&mask, uint32(b)&mask
	sum := ua + ub + uint32(carry&1)
	res := sum & mask
	r.SetFlag(CF, sum > mask)
	r.SetFlag(AF, (ua^ub^res)&0x10 != 0)
	r.SetFlag(OF, ^(ua^ub)&(ua^res)&sign != 0)
	r.setSZP(uint16(res), size)
	return uint16(res)
}

// Sub computes a - b - borrow at the given size and updates CF, OF, AF,
// ZF, SF and PF.
func (r *Registers) Sub(a, b, borrow uint16, size int) uint16 {
	mask, sign := sizeMasks(size)
	ua, ub := uint32(a)&mask, uint32(b)&mask
	res := (ua - ub - uint32(borrow&1)) & mask
	r.SetFlag(CF, ua < ub+uint32(borrow&1))
	r.SetFlag(AF, (ua^ub^res)&0x10 != 0)
	r.SetFlag(OF, (ua^ub)&(ua^res)&sign != 0)
	r.setSZP(uint16(res), size)
	return uint16(res)
}

// Logic updates flags after AND, OR, XOR and TEST: CF, OF and AF are
// cleared and ZF, SF and PF follow the result.
func (r *Registers) Logic(v uint16, size int) uint16 {
	mask, _ := sizeMasks(size)
	v &= uint16(mask)
	r.SetFlag(CF, false)
	r.SetFlag(OF, false)
	r.SetFlag(AF, false)
	r.setSZP(v, size)
	return v
}

// Shift operations. Each returns the shifted value and updates flags the
// way the 8086 does. A count of zero leaves every flag unchanged.

type shiftOp byte

const (
	shiftSHL shiftOp = iota
	shiftSHR
	shiftSAR
	shiftROL
	shiftROR
	shiftRCL
	shiftRCR
)

func (r *Registers) shift(op shiftOp, v uint16, count byte, size int) uint16 {
	if count == 0 {
		return v
	}

	mask, sign := sizeMasks(size)
	x := uint32(v) & mask
	cf := r.Flag(CF)
	orig := x

	for i := byte(0); i < count; i++ {
		switch op {
		case shiftSHL:
			cf = x&sign != 0
			x = (x << 1) & mask
		case shiftSHR:
			cf = x&1 != 0
			x >>= 1
		case shiftSAR:
			cf = x&1 != 0
			x = x>>1 | x&sign
		case shiftROL:
			cf = x&sign != 0
			x = (x<<1)&mask | uint32(boolToUint16(cf))
		case shiftROR:
			cf = x&1 != 0
			x >>= 1
			if cf {
				x |= sign
			}
		case shiftRCL:
			out := x&sign != 0
			x = (x<<1)&mask | uint32(boolToUint16(cf))
			cf = out
		case shiftRCR:
			out := x&1 != 0
			x >>= 1
			if cf {
				x |= sign
			}
			cf = out
		}
	}

	r.SetFlag(CF, cf)

	msb := x&sign != 0
	switch op {
	case shiftSHL, shiftROL, shiftRCL:
		r.SetFlag(OF, msb != cf)
	case shiftSHR:
		r.SetFlag(OF, orig&sign != 0)
	case shiftSAR:
		r.SetFlag(OF, false)
	case shiftROR, shiftRCR:
		r.SetFlag(OF, msb != (x&(sign>>1) != 0))
	}

	switch op {
	case shiftSHL, shiftSHR, shiftSAR:
		r.SetFlag(AF, false)
		r.setSZP(uint16(x), size)
	}
	return uint16(x)
}
