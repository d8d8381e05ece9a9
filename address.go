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
	"fmt"
	"strconv"
	"strings"

	"github.com/edgeo-scada/mbscript/modbus"
)

// Address identifies one item of device memory.
type Address struct {
	Table  modbus.Table
	Offset uint16
}

var iecPrefixes = []struct {
	prefix string
	table  modbus.Table
}{
	// Longest first so that %IW is not read as %I.
	{"%MW", modbus.HoldingRegisters},
	{"%IW", modbus.InputRegisters},
	{"%Q", modbus.Coils},
	{"%I", modbus.DiscreteInputs},
}

// ParseAddress parses an address in Modbus notation ("400001", 1-based,
// first digit selects the table) or IEC 61131 notation ("%MW0", 0-based,
// optional "h" suffix for hexadecimal offsets).
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "%") {
		return parseIEC(s)
	}
	return parseModbus(s)
}

func parseModbus(s string) (Address, error) {
	if len(s) < 2 {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}

	var table modbus.Table
	switch s[0] {
	case '0':
		table = modbus.Coils
	case '1':
		table = modbus.DiscreteInputs
	case '3':
		table = modbus.InputRegisters
	case '4':
		table = modbus.HoldingRegisters
	default:
		return Address{}, fmt.Errorf("%w: %q: unknown memory type %c", ErrInvalidAddress, s, s[0])
	}

	n, err := strconv.ParseUint(s[1:], 10, 32)
	if err != nil || n < 1 || n > modbus.MaxTableSize {
		return Address{}, fmt.Errorf("%w: %q: offset must be 1-%d", ErrInvalidAddress, s, modbus.MaxTableSize)
	}
	return Address{Table: table, Offset: uint16(n - 1)}, nil
}

func parseIEC(s string) (Address, error) {
	upper := strings.ToUpper(s)
	for _, p := range iecPrefixes {
		if !strings.HasPrefix(upper, p.prefix) {
			continue
		}
		digits, base := upper[len(p.prefix):], 10
		if strings.HasSuffix(digits, "H") {
			digits, base = strings.TrimSuffix(digits, "H"), 16
		}
		n, err := strconv.ParseUint(digits, base, 16)
		if err != nil {
			return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
		}
		return Address{Table: p.table, Offset: uint16(n)}, nil
	}
	return Address{}, fmt.Errorf("%w: %q: unknown IEC 61131 prefix", ErrInvalidAddress, s)
}

// String formats the address in 6-digit Modbus notation.
func (a Address) String() string {
	return fmt.Sprintf("%d%05d", uint8(a.Table), int(a.Offset)+1)
}

// IEC61131 formats the address in IEC 61131 notation.
func (a Address) IEC61131() string {
	for _, p := range iecPrefixes {
		if p.table == a.Table {
			return fmt.Sprintf("%s%d", p.prefix, a.Offset)
		}
	}
	return a.String()
}
