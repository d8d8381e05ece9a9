// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package modbus

import (
	"fmt"
	"sync"
)

// Sizes holds the item count of each table.
type Sizes struct {
	Coils            int
	DiscreteInputs   int
	InputRegisters   int
	HoldingRegisters int
}

// DefaultSizes gives every table the full 65536-item address space.
func DefaultSizes() Sizes {
	return Sizes{MaxTableSize, MaxTableSize, MaxTableSize, MaxTableSize}
}

// Of returns the size of table t.
func (s Sizes) Of(t Table) int {
	switch t {
	case Coils:
		return s.Coils
	case DiscreteInputs:
		return s.DiscreteInputs
	case InputRegisters:
		return s.InputRegisters
	default:
		return s.HoldingRegisters
	}
}

// DeviceMemory is a thread-safe in-memory image of the four tables of one
// device. It implements Handler, ignoring the unit ID, so the same image can
// be read and written locally and served over TCP at the same time.
//
// Unlike a Modbus client, local callers may write the input tables too:
// the device side is what produces discrete inputs and input registers.
type DeviceMemory struct {
	mu    sync.RWMutex
	sizes Sizes
	bits  map[Table][]bool
	regs  map[Table][]uint16
}

// NewDeviceMemory allocates a memory image. Sizes above 65536 are clamped,
// negative sizes are treated as zero.
func NewDeviceMemory(sizes Sizes) *DeviceMemory {
	clamp := func(n int) int { return max(0, min(n, MaxTableSize)) }
	sizes = Sizes{
		Coils:            clamp(sizes.Coils),
		DiscreteInputs:   clamp(sizes.DiscreteInputs),
		InputRegisters:   clamp(sizes.InputRegisters),
		HoldingRegisters: clamp(sizes.HoldingRegisters),
	}
	return &DeviceMemory{
		sizes: sizes,
		bits: map[Table][]bool{
			Coils:          make([]bool, sizes.Coils),
			DiscreteInputs: make([]bool, sizes.DiscreteInputs),
		},
		regs: map[Table][]uint16{
			InputRegisters:   make([]uint16, sizes.InputRegisters),
			HoldingRegisters: make([]uint16, sizes.HoldingRegisters),
		},
	}
}

// Sizes returns the table sizes.
func (m *DeviceMemory) Sizes() Sizes {
	return m.sizes
}

// Count returns the number of items in a table.
func (m *DeviceMemory) Count(t Table) int {
	return m.sizes.Of(t)
}

func (m *DeviceMemory) bounds(t Table, addr uint16, n int, fc FunctionCode) error {
	if n < 1 {
		return fmt.Errorf("%w: empty range", ErrInvalidQuantity)
	}
	if int(addr)+n > m.sizes.Of(t) {
		return NewModbusError(fc, ExceptionIllegalDataAddress)
	}
	return nil
}

// GetBits copies qty bits starting at addr.
func (m *DeviceMemory) GetBits(t Table, addr, qty uint16) ([]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src, ok := m.bits[t]
	if !ok {
		return nil, fmt.Errorf("modbus: %s is not a bit table", t)
	}
	if err := m.bounds(t, addr, int(qty), ReadFunction(t)); err != nil {
		return nil, err
	}
	return append([]bool(nil), src[addr:int(addr)+int(qty)]...), nil
}

// SetBits stores values starting at addr.
func (m *DeviceMemory) SetBits(t Table, addr uint16, values []bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dst, ok := m.bits[t]
	if !ok {
		return fmt.Errorf("modbus: %s is not a bit table", t)
	}
	if err := m.bounds(t, addr, len(values), FuncWriteMultipleCoils); err != nil {
		return err
	}
	copy(dst[addr:], values)
	return nil
}

// GetRegisters copies qty registers starting at addr.
func (m *DeviceMemory) GetRegisters(t Table, addr, qty uint16) ([]uint16, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src, ok := m.regs[t]
	if !ok {
		return nil, fmt.Errorf("modbus: %s is not a register table", t)
	}
	if err := m.bounds(t, addr, int(qty), ReadFunction(t)); err != nil {
		return nil, err
	}
	return append([]uint16(nil), src[addr:int(addr)+int(qty)]...), nil
}

// SetRegisters stores values starting at addr.
func (m *DeviceMemory) SetRegisters(t Table, addr uint16, values []uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dst, ok := m.regs[t]
	if !ok {
		return fmt.Errorf("modbus: %s is not a register table", t)
	}
	if err := m.bounds(t, addr, len(values), FuncWriteMultipleRegisters); err != nil {
		return err
	}
	copy(dst[addr:], values)
	return nil
}

// ReadBits implements Handler.
func (m *DeviceMemory) ReadBits(_ UnitID, t Table, addr, qty uint16) ([]bool, error) {
	return m.GetBits(t, addr, qty)
}

// WriteBits implements Handler. Only coils are writable over the wire.
func (m *DeviceMemory) WriteBits(_ UnitID, t Table, addr uint16, values []bool) error {
	if !t.Writable() {
		return NewModbusError(FuncWriteMultipleCoils, ExceptionIllegalFunction)
	}
	return m.SetBits(t, addr, values)
}

// ReadRegisters implements Handler.
func (m *DeviceMemory) ReadRegisters(_ UnitID, t Table, addr, qty uint16) ([]uint16, error) {
	return m.GetRegisters(t, addr, qty)
}

// WriteRegisters implements Handler. Only holding registers are writable
// over the wire.
func (m *DeviceMemory) WriteRegisters(_ UnitID, t Table, addr uint16, values []uint16) error {
	if !t.Writable() {
		return NewModbusError(FuncWriteMultipleRegisters, ExceptionIllegalFunction)
	}
	return m.SetRegisters(t, addr, values)
}
