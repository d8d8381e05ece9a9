package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cast"

	"github.com/edgeo-scada/mbscript"
	"github.com/edgeo-scada/mbscript/modbus"
)

var (
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	onStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	offStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	changedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	titleStyle   = lipgloss.NewStyle().Bold(true)
)

func styled(s lipgloss.Style, text string) string {
	if noColor {
		return text
	}
	return s.Render(text)
}

func outputSuccess(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, styled(okStyle, "OK")+" "+fmt.Sprintf(format, args...))
}

func outputError(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, styled(errorStyle, "ERROR")+" "+fmt.Sprintf(format, args...))
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	if noColor {
		t.SetStyle(table.StyleLight)
	} else {
		t.SetStyle(table.StyleColoredDark)
	}
	return t
}

// BitResult is one coil or discrete input.
type BitResult struct {
	Address string `json:"address"`
	IEC     string `json:"iec"`
	Value   bool   `json:"value"`
}

// RegisterResult is one decoded value spanning one or more registers.
type RegisterResult struct {
	Address string   `json:"address"`
	IEC     string   `json:"iec"`
	Raw     []uint16 `json:"raw"`
	Value   any      `json:"value"`
	Format  string   `json:"format"`
}

func bitResults(start mbscript.Address, values []bool) []BitResult {
	results := make([]BitResult, len(values))
	for i, v := range values {
		a := mbscript.Address{Table: start.Table, Offset: start.Offset + uint16(i)}
		results[i] = BitResult{Address: a.String(), IEC: a.IEC61131(), Value: v}
	}
	return results
}

func outputBits(w io.Writer, start mbscript.Address, values []bool) error {
	results := bitResults(start, values)
	if outputFmt == "json" {
		return outputJSON(w, results)
	}

	fmt.Fprintf(w, "%s (%s, count %d)\n", styled(titleStyle, start.Table.String()), start, len(values))
	t := newTable(w)
	t.AppendHeader(table.Row{"Address", "IEC", "Value", "Status"})
	for _, r := range results {
		status := styled(offStyle, "OFF")
		if r.Value {
			status = styled(onStyle, "ON")
		}
		t.AppendRow(table.Row{r.Address, r.IEC, boolDigit(r.Value), status})
	}
	t.Render()
	return nil
}

func outputRegisters(w io.Writer, start mbscript.Address, results []RegisterResult) error {
	if outputFmt == "json" {
		return outputJSON(w, results)
	}

	fmt.Fprintf(w, "%s (%s, count %d)\n", styled(titleStyle, start.Table.String()), start, len(results))
	t := newTable(w)
	t.AppendHeader(table.Row{"Address", "IEC", "Value", "Hex", "Format"})
	for _, r := range results {
		t.AppendRow(table.Row{r.Address, r.IEC, r.Value, hexWords(r.Raw), r.Format})
	}
	t.Render()
	return nil
}

func boolDigit(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func hexWords(regs []uint16) string {
	parts := make([]string, len(regs))
	for i, v := range regs {
		parts[i] = fmt.Sprintf("%04X", v)
	}
	return strings.Join(parts, " ")
}

// formatWidth returns the number of registers one value of format spans.
// The string format spans the whole requested range.
func formatWidth(format string) (int, error) {
	switch format {
	case "uint16", "int16", "hex", "binary":
		return 1, nil
	case "uint32", "int32", "float32":
		return 2, nil
	case "uint64", "float64":
		return 4, nil
	case "string":
		return 0, nil
	default:
		return 0, fmt.Errorf("unknown format %q", format)
	}
}

// decodeRegisters splits regs into values of format.
func decodeRegisters(start mbscript.Address, regs []uint16, format string, order modbus.RegisterOrder) ([]RegisterResult, error) {
	width, err := formatWidth(format)
	if err != nil {
		return nil, err
	}
	if width == 0 {
		width = max(len(regs), 1)
	}

	results := make([]RegisterResult, 0, len(regs)/width)
	for i := 0; i+width <= len(regs); i += width {
		raw := regs[i : i+width]
		a := mbscript.Address{Table: start.Table, Offset: start.Offset + uint16(i)}
		results = append(results, RegisterResult{
			Address: a.String(),
			IEC:     a.IEC61131(),
			Raw:     raw,
			Value:   decodeValue(raw, format, order),
			Format:  format,
		})
	}
	return results, nil
}

func decodeValue(raw []uint16, format string, order modbus.RegisterOrder) any {
	switch format {
	case "int16":
		return int16(raw[0])
	case "hex":
		return fmt.Sprintf("0x%04X", raw[0])
	case "binary":
		return fmt.Sprintf("%016b", raw[0])
	case "uint32":
		return modbus.RegistersToUint32(raw, order)
	case "int32":
		return modbus.RegistersToInt32(raw, order)
	case "float32":
		return modbus.RegistersToFloat32(raw, order)
	case "uint64":
		return modbus.RegistersToUint64(raw, order)
	case "float64":
		return modbus.RegistersToFloat64(raw, order)
	case "string":
		return modbus.RegistersToString(raw)
	default:
		return raw[0]
	}
}

// encodeValues converts command line values to registers.
func encodeValues(values []string, format string, order modbus.RegisterOrder) ([]uint16, error) {
	if format == "string" {
		return modbus.StringToRegisters(strings.Join(values, " ")), nil
	}

	var regs []uint16
	for _, s := range values {
		encoded, err := encodeValue(s, format, order)
		if err != nil {
			return nil, fmt.Errorf("value %q: %w", s, err)
		}
		regs = append(regs, encoded...)
	}
	return regs, nil
}

// encodeValue parses integers as decimal only, except for the hex and
// binary formats, and rejects values that do not fit the format width.
func encodeValue(s, format string, order modbus.RegisterOrder) ([]uint16, error) {
	switch format {
	case "uint16":
		v, err := strconv.ParseUint(s, 10, 16)
		if err != nil {
			return nil, err
		}
		return []uint16{uint16(v)}, nil
	case "hex":
		v, err := strconv.ParseUint(trimPrefixFold(s, "0x"), 16, 16)
		if err != nil {
			return nil, err
		}
		return []uint16{uint16(v)}, nil
	case "binary":
		v, err := strconv.ParseUint(trimPrefixFold(strings.ReplaceAll(s, "_", ""), "0b"), 2, 16)
		if err != nil {
			return nil, err
		}
		return []uint16{uint16(v)}, nil
	case "int16":
		v, err := strconv.ParseInt(s, 10, 16)
		if err != nil {
			return nil, err
		}
		return []uint16{uint16(int16(v))}, nil
	case "uint32":
		v, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return nil, err
		}
		return modbus.Uint32ToRegisters(uint32(v), order), nil
	case "int32":
		v, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return nil, err
		}
		return modbus.Int32ToRegisters(int32(v), order), nil
	case "float32":
		v, err := cast.ToFloat32E(s)
		if err != nil {
			return nil, err
		}
		return modbus.Float32ToRegisters(v, order), nil
	case "uint64":
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, err
		}
		return modbus.Uint64ToRegisters(v, order), nil
	case "float64":
		v, err := cast.ToFloat64E(s)
		if err != nil {
			return nil, err
		}
		return modbus.Float64ToRegisters(v, order), nil
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

func trimPrefixFold(s, prefix string) string {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):]
	}
	return s
}

// parseBits converts command line values to coil states.
func parseBits(values []string) ([]bool, error) {
	bits := make([]bool, len(values))
	for i, s := range values {
		switch strings.ToLower(s) {
		case "on":
			bits[i] = true
		case "off":
			bits[i] = false
		default:
			v, err := cast.ToBoolE(s)
			if err != nil {
				return nil, fmt.Errorf("value %q: %w", s, err)
			}
			bits[i] = v
		}
	}
	return bits, nil
}
