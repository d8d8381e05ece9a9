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

package mbscript

import (
	"context"

	"github.com/edgeo-scada/mbscript/modbus"
)

// BitRegion is a bank of single-bit items: coils (0x) or discrete inputs (1x).
type BitRegion interface {
	Table() modbus.Table
	Count() int
	Get(ctx context.Context, addr uint16) (bool, error)
	Set(ctx context.Context, addr uint16, value bool) error
	Read(ctx context.Context, addr, count uint16) ([]bool, error)
	Write(ctx context.Context, addr uint16, values []bool) error
}

// RegisterRegion is a bank of 16-bit registers: input registers (3x) or
// holding registers (4x).
type RegisterRegion interface {
	Table() modbus.Table
	Count() int
	Get(ctx context.Context, addr uint16) (uint16, error)
	Set(ctx context.Context, addr uint16, value uint16) error
	Read(ctx context.Context, addr, count uint16) ([]uint16, error)
	Write(ctx context.Context, addr uint16, values []uint16) error
}

// TypedRegisters reads and writes multi-register values in a register order.
type TypedRegisters struct {
	Region RegisterRegion
	Order  modbus.RegisterOrder
}

// Typed wraps r for typed access.
func Typed(r RegisterRegion, order modbus.RegisterOrder) TypedRegisters {
	return TypedRegisters{Region: r, Order: order}
}

func (t TypedRegisters) Int16(ctx context.Context, addr uint16) (int16, error) {
	v, err := t.Region.Get(ctx, addr)
	return int16(v), err
}

func (t TypedRegisters) SetInt16(ctx context.Context, addr uint16, v int16) error {
	return t.Region.Set(ctx, addr, uint16(v))
}

func (t TypedRegisters) Uint32(ctx context.Context, addr uint16) (uint32, error) {
	regs, err := t.Region.Read(ctx, addr, 2)
	if err != nil {
		return 0, err
	}
	return modbus.RegistersToUint32(regs, t.Order), nil
}

func (t TypedRegisters) SetUint32(ctx context.Context, addr uint16, v uint32) error {
	return t.Region.Write(ctx, addr, modbus.Uint32ToRegisters(v, t.Order))
}

func (t TypedRegisters) Int32(ctx context.Context, addr uint16) (int32, error) {
	v, err := t.Uint32(ctx, addr)
	return int32(v), err
}

func (t TypedRegisters) SetInt32(ctx context.Context, addr uint16, v int32) error {
	return t.Region.Write(ctx, addr, modbus.Int32ToRegisters(v, t.Order))
}

func (t TypedRegisters) Float32(ctx context.Context, addr uint16) (float32, error) {
	regs, err := t.Region.Read(ctx, addr, 2)
	if err != nil {
		return 0, err
	}
	return modbus.RegistersToFloat32(regs, t.Order), nil
}

func (t TypedRegisters) SetFloat32(ctx context.Context, addr uint16, v float32) error {
	return t.Region.Write(ctx, addr, modbus.Float32ToRegisters(v, t.Order))
}

func (t TypedRegisters) Uint64(ctx context.Context, addr uint16) (uint64, error) {
	regs, err := t.Region.Read(ctx, addr, 4)
	if err != nil {
		return 0, err
	}
	return modbus.RegistersToUint64(regs, t.Order), nil
}

func (t TypedRegisters) SetUint64(ctx context.Context, addr uint16, v uint64) error {
	return t.Region.Write(ctx, addr, modbus.Uint64ToRegisters(v, t.Order))
}

func (t TypedRegisters) Float64(ctx context.Context, addr uint16) (float64, error) {
	regs, err := t.Region.Read(ctx, addr, 4)
	if err != nil {
		return 0, err
	}
	return modbus.RegistersToFloat64(regs, t.Order), nil
}

func (t TypedRegisters) SetFloat64(ctx context.Context, addr uint16, v float64) error {
	return t.Region.Write(ctx, addr, modbus.Float64ToRegisters(v, t.Order))
}

// String reads count registers as a zero-terminated byte string.
func (t TypedRegisters) String(ctx context.Context, addr, count uint16) (string, error) {
	regs, err := t.Region.Read(ctx, addr, count)
	if err != nil {
		return "", err
	}
	return modbus.RegistersToString(regs), nil
}

// SetString writes s, zero padded to an even length.
func (t TypedRegisters) SetString(ctx context.Context, addr uint16, s string) error {
	if s == "" {
		return nil
	}
	return t.Region.Write(ctx, addr, modbus.StringToRegisters(s))
}
