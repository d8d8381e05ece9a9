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
	"bytes"
	"errors"
	"testing"
)

func TestMBAPHeader_Encode(t *testing.T) {
	header := MBAPHeader{
		TransactionID: 0x0001,
		ProtocolID:    0x0000,
		Length:        0x0006,
		UnitID:        0x01,
	}

	expected := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x01}
	if result := header.Encode(); !bytes.Equal(result, expected) {
		t.Errorf("Expected %x, got %x", expected, result)
	}
}

func TestMBAPHeader_Decode_TooShort(t *testing.T) {
	var header MBAPHeader
	if err := header.Decode([]byte{0x00, 0x01}); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("Expected ErrInvalidFrame, got %v", err)
	}
}

func TestFrame_EncodeSetsLength(t *testing.T) {
	f := Frame{
		Header: MBAPHeader{TransactionID: 7, UnitID: 3},
		PDU:    []byte{0x03, 0x00, 0x00, 0x00, 0x02},
	}
	data := f.Encode()

	expected := []byte{0x00, 0x07, 0x00, 0x00, 0x00, 0x06, 0x03, 0x03, 0x00, 0x00, 0x00, 0x02}
	if !bytes.Equal(data, expected) {
		t.Errorf("Expected %x, got %x", expected, data)
	}

	var decoded Frame
	if err := decoded.Decode(data); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(decoded.PDU, f.PDU) {
		t.Errorf("PDU: expected %x, got %x", f.PDU, decoded.PDU)
	}
}

func TestFrame_DecodeIncomplete(t *testing.T) {
	data := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x01, 0x03}
	var f Frame
	if err := f.Decode(data); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("Expected ErrInvalidFrame, got %v", err)
	}
}

func TestReadFrame(t *testing.T) {
	data := []byte{0x00, 0x09, 0x00, 0x00, 0x00, 0x03, 0x02, 0x81, 0x02}
	f, err := ReadFrame(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if f.Header.TransactionID != 9 || f.Header.UnitID != 2 {
		t.Errorf("Unexpected header %+v", f.Header)
	}
	if !bytes.Equal(f.PDU, []byte{0x81, 0x02}) {
		t.Errorf("PDU: got %x", f.PDU)
	}
}

func TestReadFrame_BadProtocol(t *testing.T) {
	data := []byte{0x00, 0x01, 0x00, 0x05, 0x00, 0x02, 0x01, 0x03}
	if _, err := ReadFrame(bytes.NewReader(data)); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("Expected ErrInvalidFrame, got %v", err)
	}
}

func TestPackUnpackBits(t *testing.T) {
	values := []bool{true, false, true, true, false, false, false, false, true}
	packed := PackBits(values)

	expected := []byte{0x0D, 0x01}
	if !bytes.Equal(packed, expected) {
		t.Fatalf("PackBits: expected %x, got %x", expected, packed)
	}

	unpacked := UnpackBits(packed, len(values))
	for i := range values {
		if unpacked[i] != values[i] {
			t.Errorf("Bit %d: expected %v, got %v", i, values[i], unpacked[i])
		}
	}
}

func TestBuildReadPDU(t *testing.T) {
	tests := []struct {
		table Table
		fc    byte
	}{
		{Coils, 0x01},
		{DiscreteInputs, 0x02},
		{HoldingRegisters, 0x03},
		{InputRegisters, 0x04},
	}

	for _, tt := range tests {
		t.Run(tt.table.String(), func(t *testing.T) {
			pdu, err := BuildReadPDU(tt.table, 0x006B, 3)
			if err != nil {
				t.Fatalf("BuildReadPDU failed: %v", err)
			}
			expected := []byte{tt.fc, 0x00, 0x6B, 0x00, 0x03}
			if !bytes.Equal(pdu, expected) {
				t.Errorf("Expected %x, got %x", expected, pdu)
			}
		})
	}
}

func TestBuildReadPDU_Limits(t *testing.T) {
	if _, err := BuildReadPDU(HoldingRegisters, 0, 0); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("qty 0: expected ErrInvalidQuantity, got %v", err)
	}
	if _, err := BuildReadPDU(HoldingRegisters, 0, MaxQuantityRegisters+1); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("qty 126: expected ErrInvalidQuantity, got %v", err)
	}
	if _, err := BuildReadPDU(Coils, 0, MaxQuantityBits); err != nil {
		t.Errorf("qty 2000 coils should be accepted: %v", err)
	}
	if _, err := BuildReadPDU(HoldingRegisters, 65535, 2); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("overflow: expected ErrInvalidAddress, got %v", err)
	}
}

func TestBuildWriteSingleCoilPDU(t *testing.T) {
	on := BuildWriteSingleCoilPDU(0x00AC, true)
	if !bytes.Equal(on, []byte{0x05, 0x00, 0xAC, 0xFF, 0x00}) {
		t.Errorf("On: got %x", on)
	}
	off := BuildWriteSingleCoilPDU(0x00AC, false)
	if !bytes.Equal(off, []byte{0x05, 0x00, 0xAC, 0x00, 0x00}) {
		t.Errorf("Off: got %x", off)
	}
}

func TestBuildWriteMultipleCoilsPDU(t *testing.T) {
	values := []bool{true, false, true, true, false, false, true, true, true, false}
	pdu, err := BuildWriteMultipleCoilsPDU(0x0013, values)
	if err != nil {
		t.Fatalf("BuildWriteMultipleCoilsPDU failed: %v", err)
	}
	expected := []byte{0x0F, 0x00, 0x13, 0x00, 0x0A, 0x02, 0xCD, 0x01}
	if !bytes.Equal(pdu, expected) {
		t.Errorf("Expected %x, got %x", expected, pdu)
	}

	if _, err := BuildWriteMultipleCoilsPDU(0, nil); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("empty: expected ErrInvalidQuantity, got %v", err)
	}
}

func TestBuildWriteMultipleRegistersPDU(t *testing.T) {
	pdu, err := BuildWriteMultipleRegistersPDU(0x0001, []uint16{0x000A, 0x0102})
	if err != nil {
		t.Fatalf("BuildWriteMultipleRegistersPDU failed: %v", err)
	}
	expected := []byte{0x10, 0x00, 0x01, 0x00, 0x02, 0x04, 0x00, 0x0A, 0x01, 0x02}
	if !bytes.Equal(pdu, expected) {
		t.Errorf("Expected %x, got %x", expected, pdu)
	}

	if _, err := BuildWriteMultipleRegistersPDU(0, make([]uint16, MaxQuantityWriteRegisters+1)); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("too many: expected ErrInvalidQuantity, got %v", err)
	}
}

func TestParseRegistersResponse(t *testing.T) {
	values, err := ParseRegistersResponse([]byte{0x03, 0x04, 0x02, 0x2B, 0x00, 0x64}, 2)
	if err != nil {
		t.Fatalf("ParseRegistersResponse failed: %v", err)
	}
	if values[0] != 0x022B || values[1] != 0x0064 {
		t.Errorf("Unexpected values %v", values)
	}

	if _, err := ParseRegistersResponse([]byte{0x03, 0x02, 0x00, 0x01}, 2); !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("bad byte count: expected ErrInvalidResponse, got %v", err)
	}
}

func TestParseEchoResponse(t *testing.T) {
	pdu := []byte{0x06, 0x00, 0x01, 0x00, 0x03}
	if err := ParseEchoResponse(pdu, 1, 3); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if err := ParseEchoResponse(pdu, 2, 3); !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("address mismatch: expected ErrInvalidResponse, got %v", err)
	}
}

func TestParseExceptionResponse(t *testing.T) {
	pdu := []byte{0x83, 0x02}
	if !IsExceptionResponse(pdu) {
		t.Fatal("Expected exception response")
	}
	err := ParseExceptionResponse(pdu)
	if !IsIllegalDataAddress(err) {
		t.Errorf("Expected illegal data address, got %v", err)
	}
	var me *ModbusError
	if !errors.As(err, &me) || me.FunctionCode != FuncReadHoldingRegisters {
		t.Errorf("Expected FC 03, got %v", err)
	}
	if !errors.Is(err, NewModbusError(FuncReadCoils, ExceptionIllegalDataAddress)) {
		t.Error("errors.Is should match on exception code")
	}
}
