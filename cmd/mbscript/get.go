package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"

	"github.com/edgeo-scada/mbscript"
)

var getFormat string

var getCmd = &cobra.Command{
	Use:     "get <address> [count]",
	Aliases: []string{"read", "r"},
	Short:   "Read device memory",
	Long: `Read coils, discrete inputs, input registers or holding registers from the
head's device. The table is selected by the address.

For registers, count is the number of values of the -f/--format type:
  uint16  - Unsigned 16-bit integer (default)
  int16   - Signed 16-bit integer
  hex     - 16-bit hexadecimal
  binary  - 16-bit binary
  uint32  - Unsigned 32-bit integer (2 registers)
  int32   - Signed 32-bit integer (2 registers)
  float32 - 32-bit floating point (2 registers)
  uint64  - Unsigned 64-bit integer (4 registers)
  float64 - 64-bit floating point (4 registers)
  string  - ASCII string over count registers

Multi-register values use the project register order.`,
	Example: `  mbscript get 000001 8 -i plc
  mbscript get %MW10 2 -f float32 -prj plant.yaml -i boiler
  mbscript r 300001 20 -f string -i tcp://192.168.1.10`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runGet,
}

func init() {
	getCmd.Flags().StringVarP(&getFormat, "format", "f", "uint16", "Register format: uint16, int16, hex, binary, uint32, int32, float32, uint64, float64, string")
}

func parseCount(args []string) (int, error) {
	if len(args) < 2 {
		return 1, nil
	}
	n, err := cast.ToIntE(args[1])
	if err != nil {
		return 0, fmt.Errorf("invalid count %q: %w", args[1], err)
	}
	if n < 1 {
		return 0, fmt.Errorf("invalid count %d", n)
	}
	return n, nil
}

func runGet(cmd *cobra.Command, args []string) error {
	addr, err := mbscript.ParseAddress(args[0])
	if err != nil {
		return err
	}
	count, err := parseCount(args)
	if err != nil {
		return err
	}

	h, err := openHead(cmd)
	if err != nil {
		return err
	}
	defer h.Close()

	return readAndPrint(cmd.Context(), cmd.OutOrStdout(), h, addr, count, getFormat)
}

// readAndPrint reads count values at addr and prints them.
func readAndPrint(ctx context.Context, w io.Writer, h *mbscript.Head, addr mbscript.Address, count int, format string) error {
	if addr.Table.IsBit() {
		values, err := readBits(ctx, h, addr, count)
		if err != nil {
			return err
		}
		return outputBits(w, addr, values)
	}

	results, err := readValues(ctx, h, addr, count, format)
	if err != nil {
		return err
	}
	return outputRegisters(w, addr, results)
}

func readBits(ctx context.Context, h *mbscript.Head, addr mbscript.Address, count int) ([]bool, error) {
	region := bitRegion(h, addr)
	if err := checkRange(addr, count); err != nil {
		return nil, err
	}
	return region.Read(ctx, addr.Offset, uint16(count))
}

func readValues(ctx context.Context, h *mbscript.Head, addr mbscript.Address, count int, format string) ([]RegisterResult, error) {
	width, err := formatWidth(format)
	if err != nil {
		return nil, err
	}
	if width == 0 {
		width = 1
	}
	if err := checkRange(addr, count*width); err != nil {
		return nil, err
	}

	region := registerRegion(h, addr)
	regs, err := region.Read(ctx, addr.Offset, uint16(count*width))
	if err != nil {
		return nil, err
	}
	return decodeRegisters(addr, regs, format, h.Registers(region).Order)
}

func checkRange(addr mbscript.Address, n int) error {
	if int(addr.Offset)+n > 65536 {
		return fmt.Errorf("%w: %s + %d exceeds the table", mbscript.ErrInvalidAddress, addr, n)
	}
	return nil
}

func bitRegion(h *mbscript.Head, addr mbscript.Address) mbscript.BitRegion {
	if addr.Table == h.Mem1x.Table() {
		return h.Mem1x
	}
	return h.Mem0x
}

func registerRegion(h *mbscript.Head, addr mbscript.Address) mbscript.RegisterRegion {
	if addr.Table == h.Mem3x.Table() {
		return h.Mem3x
	}
	return h.Mem4x
}
