package main

import (
	"github.com/spf13/cobra"

	"github.com/edgeo-scada/mbscript"
)

var setFormat string

var setCmd = &cobra.Command{
	Use:     "set <address> <value...>",
	Aliases: []string{"write", "w"},
	Short:   "Write device memory",
	Long: `Write coils or registers starting at address. Bits accept 1/0, true/false
and on/off. Register values are encoded with -f/--format in the project
register order; the string format joins all values with spaces.

Remote devices refuse writes to discrete inputs (1x) and input registers
(3x); local memory accepts them so scripts can simulate inputs.`,
	Example: `  mbscript set 000001 on off on -i plc
  mbscript set 400001 1234 -i tcp://192.168.1.10
  mbscript set %MW10 21.5 -f float32 -prj plant.yaml -i boiler
  mbscript set 400100 pump-1 -f string -i plc`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSet,
}

func init() {
	setCmd.Flags().StringVarP(&setFormat, "format", "f", "uint16", "Register format: uint16, int16, hex, binary, uint32, int32, float32, uint64, float64, string")
}

func runSet(cmd *cobra.Command, args []string) error {
	addr, err := mbscript.ParseAddress(args[0])
	if err != nil {
		return err
	}

	h, err := openHead(cmd)
	if err != nil {
		return err
	}
	defer h.Close()

	ctx := cmd.Context()
	w := cmd.OutOrStdout()

	if addr.Table.IsBit() {
		bits, err := parseBits(args[1:])
		if err != nil {
			return err
		}
		if err := checkRange(addr, len(bits)); err != nil {
			return err
		}
		if err := bitRegion(h, addr).Write(ctx, addr.Offset, bits); err != nil {
			return err
		}
		outputSuccess(w, "wrote %d bit(s) at %s", len(bits), addr)
		return nil
	}

	region := registerRegion(h, addr)
	regs, err := encodeValues(args[1:], setFormat, h.Registers(region).Order)
	if err != nil {
		return err
	}
	if err := checkRange(addr, len(regs)); err != nil {
		return err
	}
	if err := region.Write(ctx, addr.Offset, regs); err != nil {
		return err
	}
	outputSuccess(w, "wrote %d register(s) at %s", len(regs), addr)
	return nil
}
