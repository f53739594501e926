// Copyright 2014-2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cpu

// MemorySize is the size of the 8086 real-mode address space.
const MemorySize = 1 << 20

// The Memory interface presents an interface to the CPU through which all
// memory accesses occur. Addresses are linear 20-bit addresses; accesses
// outside the memory return a SegmentationFault.
type Memory interface {
	// LoadByte loads a single byte from the address and returns it.
	LoadByte(addr uint32) (byte, error)

	// LoadBytes loads multiple bytes from the address and stores them into
	// the buffer 'b'.
	LoadBytes(addr uint32, b []byte) error

	// StoreByte stores a byte to the requested address.
	StoreByte(addr uint32, v byte) error

	// StoreBytes stores multiple bytes to the requested address.
	StoreBytes(addr uint32, b []byte) error

	// Size returns the number of addressable bytes.
	Size() int
}

// FlatMemory represents the address space as a single byte buffer.
type FlatMemory struct {
	b []byte
}

// NewFlatMemory creates a new 1MB memory space.
func NewFlatMemory() *FlatMemory {
	return NewFlatMemorySize(MemorySize)
}

// NewFlatMemorySize creates a memory space of the requested size. Sizes
// above 1MB are clamped.
func NewFlatMemorySize(size int) *FlatMemory {
	if size <= 0 || size > MemorySize {
		size = MemorySize
	}
	return &FlatMemory{b: make([]byte, size)}
}

// Size returns the number of bytes in the memory.
func (m *FlatMemory) Size() int {
	return len(m.b)
}

func (m *FlatMemory) check(addr uint32, n int) error {
	if int(addr)+n > len(m.b) {
		return &RuntimeError{
			Kind:    SegmentationFault,
			Address: addr,
			Message: "memory access out of bounds",
		}
	}
	return nil
}

// LoadByte loads a single byte from the address and returns it.
func (m *FlatMemory) LoadByte(addr uint32) (byte, error) {
	if err := m.check(addr, 1); err != nil {
		return 0, err
	}
	return m.b[addr], nil
}

// LoadBytes loads multiple bytes from the address.
func (m *FlatMemory) LoadBytes(addr uint32, b []byte) error {
	if err := m.check(addr, len(b)); err != nil {
		return err
	}
	copy(b, m.b[addr:])
	return nil
}

// StoreByte stores a byte at the requested address.
func (m *FlatMemory) StoreByte(addr uint32, v byte) error {
	if err := m.check(addr, 1); err != nil {
		return err
	}
	m.b[addr] = v
	return nil
}

// StoreBytes stores multiple bytes to the requested address.
func (m *FlatMemory) StoreBytes(addr uint32, b []byte) error {
	if err := m.check(addr, len(b)); err != nil {
		return err
	}
	copy(m.b[addr:], b)
	return nil
}

// Linear converts a segment:offset pair into a 20-bit linear address,
// wrapping at 1MB the way the 8086 does.
func Linear(seg, off uint16) uint32 {
	return (uint32(seg)<<4 + uint32(off)) & (MemorySize - 1)
}

// A MemoryWrite records a single byte store performed by an instruction.
type MemoryWrite struct {
	Address uint32
	Before  byte
	After   byte
}
