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

// Package modbus implements the Modbus TCP data-access subset used by
// script devices: the four memory tables over MBAP framing.
package modbus

import (
	"time"
)

// UnitID represents the Modbus unit identifier (slave address).
type UnitID uint8

// FunctionCode represents a Modbus function code.
type FunctionCode uint8

// Data-access function codes.
const (
	FuncReadCoils              FunctionCode = 0x01
	FuncReadDiscreteInputs     FunctionCode = 0x02
	FuncReadHoldingRegisters   FunctionCode = 0x03
	FuncReadInputRegisters     FunctionCode = 0x04
	FuncWriteSingleCoil        FunctionCode = 0x05
	FuncWriteSingleRegister    FunctionCode = 0x06
	FuncWriteMultipleCoils     FunctionCode = 0x0F
	FuncWriteMultipleRegisters FunctionCode = 0x10
)

// String returns the function name.
func (fc FunctionCode) String() string {
	switch fc {
	case FuncReadCoils:
		return "ReadCoils"
	case FuncReadDiscreteInputs:
		return "ReadDiscreteInputs"
	case FuncReadHoldingRegisters:
		return "ReadHoldingRegisters"
	case FuncReadInputRegisters:
		return "ReadInputRegisters"
	case FuncWriteSingleCoil:
		return "WriteSingleCoil"
	case FuncWriteSingleRegister:
		return "WriteSingleRegister"
	case FuncWriteMultipleCoils:
		return "WriteMultipleCoils"
	case FuncWriteMultipleRegisters:
		return "WriteMultipleRegisters"
	default:
		return "Unknown"
	}
}

// Protocol constants.
const (
	// MaxQuantityBits is the maximum number of coils or discrete inputs per read.
	MaxQuantityBits = 2000

	// MaxQuantityWriteBits is the maximum number of coils per write.
	MaxQuantityWriteBits = 1968

	// MaxQuantityRegisters is the maximum number of registers per read.
	MaxQuantityRegisters = 125

	// MaxQuantityWriteRegisters is the maximum number of registers per write.
	MaxQuantityWriteRegisters = 123

	// MaxTableSize is the number of addressable items in each table.
	MaxTableSize = 65536

	// MBAPHeaderSize is the size of the MBAP header in bytes.
	MBAPHeaderSize = 7

	// MaxPDUSize is the largest PDU a Modbus TCP frame may carry.
	MaxPDUSize = 253

	// ProtocolID is the Modbus protocol identifier (always 0 for Modbus TCP).
	ProtocolID = 0

	// DefaultTimeout is the default timeout for Modbus operations.
	DefaultTimeout = 5 * time.Second

	// DefaultPort is the default Modbus TCP port.
	DefaultPort = 502
)

// Coil values on the wire for single coil writes.
const (
	CoilOn  uint16 = 0xFF00
	CoilOff uint16 = 0x0000
)

// Table identifies one of the four Modbus memory tables.
type Table uint8

// Memory tables, named by their classic address prefix.
const (
	Coils            Table = 0
	DiscreteInputs   Table = 1
	InputRegisters   Table = 3
	HoldingRegisters Table = 4
)

// String returns the table name.
func (t Table) String() string {
	switch t {
	case Coils:
		return "coils"
	case DiscreteInputs:
		return "discrete-inputs"
	case InputRegisters:
		return "input-registers"
	case HoldingRegisters:
		return "holding-registers"
	default:
		return "unknown"
	}
}

// IsBit reports whether the table holds single-bit values.
func (t Table) IsBit() bool {
	return t == Coils || t == DiscreteInputs
}

// Writable reports whether a Modbus client may write the table.
func (t Table) Writable() bool {
	return t == Coils || t == HoldingRegisters
}

// Handler serves the four memory tables on the server side.
type Handler interface {
	ReadBits(unitID UnitID, table Table, addr, qty uint16) ([]bool, error)
	WriteBits(unitID UnitID, table Table, addr uint16, values []bool) error
	ReadRegisters(unitID UnitID, table Table, addr, qty uint16) ([]uint16, error)
	WriteRegisters(unitID UnitID, table Table, addr uint16, values []uint16) error
}

// ConnectionState represents the state of a client connection.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

// String returns the string representation of the connection state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}
