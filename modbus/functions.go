package modbus

import (
	"fmt"
	"math"
	"strings"
)

// RegisterOrder describes how the 16-bit words of a multi-register value
// are laid out across consecutive registers. The name lists, for each
// register from the lowest address up, which word of the value it holds;
// R0 is the least significant word.
type RegisterOrder uint8

const (
	R0R1R2R3 RegisterOrder = iota
	R3R2R1R0
	R1R0R3R2
	R2R3R0R1
)

func (o RegisterOrder) String() string {
	switch o {
	case R0R1R2R3:
		return "R0R1R2R3"
	case R3R2R1R0:
		return "R3R2R1R0"
	case R1R0R3R2:
		return "R1R0R3R2"
	case R2R3R0R1:
		return "R2R3R0R1"
	default:
		return fmt.Sprintf("RegisterOrder(%d)", uint8(o))
	}
}

// ParseRegisterOrder parses a register order name, case-insensitively.
// An empty string yields R0R1R2R3.
func ParseRegisterOrder(s string) (RegisterOrder, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "R0R1R2R3":
		return R0R1R2R3, nil
	case "R3R2R1R0":
		return R3R2R1R0, nil
	case "R1R0R3R2":
		return R1R0R3R2, nil
	case "R2R3R0R1":
		return R2R3R0R1, nil
	}
	return 0, fmt.Errorf("modbus: unknown register order %q", s)
}

// mostSignificantFirst reports whether a two-register value puts its high
// word in the first register under this order.
func (o RegisterOrder) mostSignificantFirst() bool {
	return o == R3R2R1R0 || o == R1R0R3R2
}

// permutation returns, for each register index, the word index it holds.
func (o RegisterOrder) permutation(n int) []int {
	p := make([]int, n)
	if n == 2 {
		if o.mostSignificantFirst() {
			p[0], p[1] = 1, 0
		} else {
			p[0], p[1] = 0, 1
		}
		return p
	}
	switch o {
	case R3R2R1R0:
		copy(p, []int{3, 2, 1, 0})
	case R1R0R3R2:
		copy(p, []int{1, 0, 3, 2})
	case R2R3R0R1:
		copy(p, []int{2, 3, 0, 1})
	default:
		copy(p, []int{0, 1, 2, 3})
	}
	return p
}

func wordsToRegisters(v uint64, n int, order RegisterOrder) []uint16 {
	regs := make([]uint16, n)
	for i, w := range order.permutation(n) {
		regs[i] = uint16(v >> (16 * w))
	}
	return regs
}

func registersToWords(regs []uint16, order RegisterOrder) uint64 {
	var v uint64
	for i, w := range order.permutation(len(regs)) {
		v |= uint64(regs[i]) << (16 * w)
	}
	return v
}

// Uint32ToRegisters converts a uint32 to two registers.
func Uint32ToRegisters(u uint32, order RegisterOrder) []uint16 {
	return wordsToRegisters(uint64(u), 2, order)
}

// RegistersToUint32 converts two registers to a uint32.
func RegistersToUint32(regs []uint16, order RegisterOrder) uint32 {
	return uint32(registersToWords(regs[:2], order))
}

// Int32ToRegisters converts an int32 to two registers.
func Int32ToRegisters(i int32, order RegisterOrder) []uint16 {
	return Uint32ToRegisters(uint32(i), order)
}

// RegistersToInt32 converts two registers to an int32.
func RegistersToInt32(regs []uint16, order RegisterOrder) int32 {
	return int32(RegistersToUint32(regs, order))
}

// Float32ToRegisters converts a float32 to two registers.
func Float32ToRegisters(f float32, order RegisterOrder) []uint16 {
	return Uint32ToRegisters(math.Float32bits(f), order)
}

// RegistersToFloat32 converts two registers to a float32.
func RegistersToFloat32(regs []uint16, order RegisterOrder) float32 {
	return math.Float32frombits(RegistersToUint32(regs, order))
}

// Uint64ToRegisters converts a uint64 to four registers.
func Uint64ToRegisters(u uint64, order RegisterOrder) []uint16 {
	return wordsToRegisters(u, 4, order)
}

// RegistersToUint64 converts four registers to a uint64.
func RegistersToUint64(regs []uint16, order RegisterOrder) uint64 {
	return registersToWords(regs[:4], order)
}

// Float64ToRegisters converts a float64 to four registers.
func Float64ToRegisters(f float64, order RegisterOrder) []uint16 {
	return Uint64ToRegisters(math.Float64bits(f), order)
}

// RegistersToFloat64 converts four registers to a float64.
func RegistersToFloat64(regs []uint16, order RegisterOrder) float64 {
	return math.Float64frombits(RegistersToUint64(regs, order))
}

// StringToRegisters packs s into registers, two bytes per register with the
// first byte in the low half. Odd lengths are zero padded.
func StringToRegisters(s string) []uint16 {
	regs := make([]uint16, (len(s)+1)/2)
	for i := 0; i < len(s); i++ {
		regs[i/2] |= uint16(s[i]) << (8 * (i % 2))
	}
	return regs
}

// RegistersToString unpacks registers written by StringToRegisters, stopping
// at the first zero byte.
func RegistersToString(regs []uint16) string {
	var b strings.Builder
	for _, r := range regs {
		for _, c := range [2]byte{byte(r), byte(r >> 8)} {
			if c == 0 {
				return b.String()
			}
			b.WriteByte(c)
		}
	}
	return b.String()
}
