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
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"
)

// MBAPHeader is the Modbus Application Protocol header for TCP.
type MBAPHeader struct {
	TransactionID uint16
	ProtocolID    uint16
	Length        uint16 // unit ID + PDU
	UnitID        UnitID
}

// Encode encodes the MBAP header to bytes.
func (h *MBAPHeader) Encode() []byte {
	buf := make([]byte, MBAPHeaderSize)
	binary.BigEndian.PutUint16(buf[0:2], h.TransactionID)
	binary.BigEndian.PutUint16(buf[2:4], h.ProtocolID)
	binary.BigEndian.PutUint16(buf[4:6], h.Length)
	buf[6] = byte(h.UnitID)
	return buf
}

// Decode decodes the MBAP header from bytes.
func (h *MBAPHeader) Decode(data []byte) error {
	if len(data) < MBAPHeaderSize {
		return fmt.Errorf("%w: MBAP header too short", ErrInvalidFrame)
	}
	h.TransactionID = binary.BigEndian.Uint16(data[0:2])
	h.ProtocolID = binary.BigEndian.Uint16(data[2:4])
	h.Length = binary.BigEndian.Uint16(data[4:6])
	h.UnitID = UnitID(data[6])
	return nil
}

// TransactionIDGenerator hands out transaction IDs, wrapping at 65535.
type TransactionIDGenerator struct {
	counter uint32
}

// Next returns the next transaction ID.
func (g *TransactionIDGenerator) Next() uint16 {
	return uint16(atomic.AddUint32(&g.counter, 1))
}

// Frame is a complete Modbus TCP frame.
type Frame struct {
	Header MBAPHeader
	PDU    []byte
}

// Encode fills in the length field and encodes the frame.
func (f *Frame) Encode() []byte {
	f.Header.Length = uint16(len(f.PDU) + 1)
	buf := make([]byte, 0, MBAPHeaderSize+len(f.PDU))
	buf = append(buf, f.Header.Encode()...)
	return append(buf, f.PDU...)
}

// Decode decodes a frame from bytes.
func (f *Frame) Decode(data []byte) error {
	if err := f.Header.Decode(data); err != nil {
		return err
	}
	pduLen := int(f.Header.Length) - 1
	if pduLen < 0 {
		return fmt.Errorf("%w: invalid length field", ErrInvalidFrame)
	}
	if len(data) < MBAPHeaderSize+pduLen {
		return fmt.Errorf("%w: incomplete frame", ErrInvalidFrame)
	}
	f.PDU = append([]byte(nil), data[MBAPHeaderSize:MBAPHeaderSize+pduLen]...)
	return nil
}

// ReadFrame reads one complete frame from r.
func ReadFrame(r io.Reader) (*Frame, error) {
	header := make([]byte, MBAPHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	var f Frame
	if err := f.Header.Decode(header); err != nil {
		return nil, err
	}
	if f.Header.ProtocolID != ProtocolID {
		return nil, fmt.Errorf("%w: invalid protocol ID %d", ErrInvalidFrame, f.Header.ProtocolID)
	}

	pduLen := int(f.Header.Length) - 1
	if pduLen < 1 || pduLen > MaxPDUSize {
		return nil, fmt.Errorf("%w: invalid PDU length %d", ErrInvalidFrame, pduLen)
	}
	f.PDU = make([]byte, pduLen)
	if _, err := io.ReadFull(r, f.PDU); err != nil {
		return nil, err
	}
	return &f, nil
}

// PackBits packs bools LSB-first into bytes, as coils travel on the wire.
func PackBits(values []bool) []byte {
	out := make([]byte, (len(values)+7)/8)
	for i, v := range values {
		if v {
			out[i/8] |= 1 << (i % 8)
		}
	}
	return out
}

// UnpackBits is the inverse of PackBits for the first count bits.
func UnpackBits(data []byte, count int) []bool {
	out := make([]bool, count)
	for i := range out {
		out[i] = data[i/8]&(1<<(i%8)) != 0
	}
	return out
}

func checkRange(addr, qty uint16, max int) error {
	if qty < 1 || int(qty) > max {
		return fmt.Errorf("%w: quantity must be 1-%d", ErrInvalidQuantity, max)
	}
	if int(addr)+int(qty) > MaxTableSize {
		return fmt.Errorf("%w: address range exceeds 65535", ErrInvalidAddress)
	}
	return nil
}

// ReadFunction returns the read function code for a table.
func ReadFunction(t Table) FunctionCode {
	switch t {
	case Coils:
		return FuncReadCoils
	case DiscreteInputs:
		return FuncReadDiscreteInputs
	case InputRegisters:
		return FuncReadInputRegisters
	default:
		return FuncReadHoldingRegisters
	}
}

// BuildReadPDU builds a read request (FC01-FC04) for a table.
func BuildReadPDU(t Table, addr, qty uint16) ([]byte, error) {
	max := MaxQuantityRegisters
	if t.IsBit() {
		max = MaxQuantityBits
	}
	if err := checkRange(addr, qty, max); err != nil {
		return nil, err
	}
	pdu := make([]byte, 5)
	pdu[0] = byte(ReadFunction(t))
	binary.BigEndian.PutUint16(pdu[1:3], addr)
	binary.BigEndian.PutUint16(pdu[3:5], qty)
	return pdu, nil
}

// BuildWriteSingleCoilPDU builds a write single coil request (FC05).
func BuildWriteSingleCoilPDU(addr uint16, value bool) []byte {
	v := CoilOff
	if value {
		v = CoilOn
	}
	return buildSingle(FuncWriteSingleCoil, addr, v)
}

// BuildWriteSingleRegisterPDU builds a write single register request (FC06).
func BuildWriteSingleRegisterPDU(addr, value uint16) []byte {
	return buildSingle(FuncWriteSingleRegister, addr, value)
}

func buildSingle(fc FunctionCode, addr, value uint16) []byte {
	pdu := make([]byte, 5)
	pdu[0] = byte(fc)
	binary.BigEndian.PutUint16(pdu[1:3], addr)
	binary.BigEndian.PutUint16(pdu[3:5], value)
	return pdu
}

// BuildWriteMultipleCoilsPDU builds a write multiple coils request (FC15).
func BuildWriteMultipleCoilsPDU(addr uint16, values []bool) ([]byte, error) {
	if len(values) > MaxQuantityWriteBits {
		return nil, fmt.Errorf("%w: quantity must be 1-%d", ErrInvalidQuantity, MaxQuantityWriteBits)
	}
	qty := uint16(len(values))
	if err := checkRange(addr, qty, MaxQuantityWriteBits); err != nil {
		return nil, err
	}
	packed := PackBits(values)
	pdu := make([]byte, 6, 6+len(packed))
	pdu[0] = byte(FuncWriteMultipleCoils)
	binary.BigEndian.PutUint16(pdu[1:3], addr)
	binary.BigEndian.PutUint16(pdu[3:5], qty)
	pdu[5] = byte(len(packed))
	return append(pdu, packed...), nil
}

// BuildWriteMultipleRegistersPDU builds a write multiple registers request (FC16).
func BuildWriteMultipleRegistersPDU(addr uint16, values []uint16) ([]byte, error) {
	if len(values) > MaxQuantityWriteRegisters {
		return nil, fmt.Errorf("%w: quantity must be 1-%d", ErrInvalidQuantity, MaxQuantityWriteRegisters)
	}
	qty := uint16(len(values))
	if err := checkRange(addr, qty, MaxQuantityWriteRegisters); err != nil {
		return nil, err
	}
	pdu := make([]byte, 6+2*len(values))
	pdu[0] = byte(FuncWriteMultipleRegisters)
	binary.BigEndian.PutUint16(pdu[1:3], addr)
	binary.BigEndian.PutUint16(pdu[3:5], qty)
	pdu[5] = byte(2 * len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(pdu[6+2*i:], v)
	}
	return pdu, nil
}

// ParseBitsResponse parses a FC01/FC02 response carrying qty bits.
func ParseBitsResponse(pdu []byte, qty uint16) ([]bool, error) {
	if len(pdu) < 2 {
		return nil, fmt.Errorf("%w: response too short", ErrInvalidResponse)
	}
	byteCount := int(pdu[1])
	if byteCount != (int(qty)+7)/8 || len(pdu) < 2+byteCount {
		return nil, fmt.Errorf("%w: invalid byte count", ErrInvalidResponse)
	}
	return UnpackBits(pdu[2:], int(qty)), nil
}

// ParseRegistersResponse parses a FC03/FC04 response carrying qty registers.
func ParseRegistersResponse(pdu []byte, qty uint16) ([]uint16, error) {
	if len(pdu) < 2 {
		return nil, fmt.Errorf("%w: response too short", ErrInvalidResponse)
	}
	byteCount := int(pdu[1])
	if byteCount != 2*int(qty) || len(pdu) < 2+byteCount {
		return nil, fmt.Errorf("%w: invalid byte count", ErrInvalidResponse)
	}
	values := make([]uint16, qty)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(pdu[2+2*i:])
	}
	return values, nil
}

// ParseEchoResponse validates a write response, which echoes address and
// either the written value (FC05/FC06) or the quantity (FC15/FC16).
func ParseEchoResponse(pdu []byte, addr, second uint16) error {
	if len(pdu) < 5 {
		return fmt.Errorf("%w: response too short", ErrInvalidResponse)
	}
	if got := binary.BigEndian.Uint16(pdu[1:3]); got != addr {
		return fmt.Errorf("%w: address mismatch (expected %d, got %d)", ErrInvalidResponse, addr, got)
	}
	if got := binary.BigEndian.Uint16(pdu[3:5]); got != second {
		return fmt.Errorf("%w: value mismatch (expected %d, got %d)", ErrInvalidResponse, second, got)
	}
	return nil
}

// IsExceptionResponse checks if the PDU is an exception response.
func IsExceptionResponse(pdu []byte) bool {
	return len(pdu) > 0 && pdu[0]&0x80 != 0
}

// ParseExceptionResponse parses an exception response.
func ParseExceptionResponse(pdu []byte) error {
	if len(pdu) < 2 {
		return fmt.Errorf("%w: truncated exception", ErrInvalidResponse)
	}
	return NewModbusError(FunctionCode(pdu[0]&0x7F), ExceptionCode(pdu[1]))
}
