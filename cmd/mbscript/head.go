package main

import (
	"fmt"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/edgeo-scada/mbscript"
)

var headCmd = &cobra.Command{
	Use:   "head",
	Short: "Run the script head and show its bindings",
	Long: `Run the bootstrap a script would run and print what it is bound to:
the search path, the project, the device and the four memory regions.`,
	Example: `  mbscript head
  mbscript head -prj plant.yaml -imp "lib;shared" -i boiler -p 250
  mbscript head -i tcp://192.168.1.10:502/1 -o json`,
	Args: cobra.NoArgs,
	RunE: runHead,
}

// HeadInfo describes a bootstrapped head.
type HeadInfo struct {
	ID            string            `json:"id"`
	Project       string            `json:"project"`
	ProjectPath   string            `json:"project_path,omitempty"`
	ImportPath    string            `json:"importpath"`
	SearchPath    []string          `json:"search_path"`
	MemID         string            `json:"memid"`
	Device        string            `json:"device"`
	Endpoint      string            `json:"endpoint,omitempty"`
	Period        int               `json:"period_ms"`
	PeriodSeconds float64           `json:"period_seconds"`
	RegisterOrder string            `json:"register_order"`
	Regions       map[string]int    `json:"regions"`
	Modules       map[string]string `json:"modules,omitempty"`
}

func describeHead(h *mbscript.Head) HeadInfo {
	info := HeadInfo{
		ID:            h.ID,
		Project:       h.Params.Project,
		ImportPath:    h.Params.ImportPath,
		SearchPath:    h.SearchPath.Dirs(),
		MemID:         h.Params.MemID,
		Device:        "local",
		Period:        h.Params.Period,
		PeriodSeconds: h.PeriodSeconds,
		RegisterOrder: h.Registers(h.Mem4x).Order.String(),
		Regions: map[string]int{
			"mem0x": h.Mem0x.Count(),
			"mem1x": h.Mem1x.Count(),
			"mem3x": h.Mem3x.Count(),
			"mem4x": h.Mem4x.Count(),
		},
		Modules: h.Modules,
	}
	if h.Project != nil {
		info.ProjectPath = h.Project.Path
	}
	if remote, ok := h.Device.(*mbscript.RemoteDevice); ok {
		info.Device = "remote"
		info.Endpoint = remote.Endpoint().String()
	}
	return info
}

func runHead(cmd *cobra.Command, args []string) error {
	h, err := openHead(cmd)
	if err != nil {
		return err
	}
	defer h.Close()

	info := describeHead(h)
	w := cmd.OutOrStdout()
	if outputFmt == "json" {
		return outputJSON(w, info)
	}

	fmt.Fprintln(w, styled(titleStyle, "Script head "+info.ID))
	t := newTable(w)
	t.AppendHeader(table.Row{"Binding", "Value"})
	t.AppendRows([]table.Row{
		{"project", info.Project},
		{"project path", info.ProjectPath},
		{"importpath", info.ImportPath},
		{"search path", h.SearchPath.String()},
		{"memid", info.MemID},
		{"device", info.Device},
	})
	if info.Endpoint != "" {
		t.AppendRow(table.Row{"endpoint", info.Endpoint})
	}
	t.AppendRows([]table.Row{
		{"period", fmt.Sprintf("%d ms (%g s)", info.Period, info.PeriodSeconds)},
		{"register order", info.RegisterOrder},
		{"mem0x", fmt.Sprintf("coils, %d", info.Regions["mem0x"])},
		{"mem1x", fmt.Sprintf("discrete inputs, %d", info.Regions["mem1x"])},
		{"mem3x", fmt.Sprintf("input registers, %d", info.Regions["mem3x"])},
		{"mem4x", fmt.Sprintf("holding registers, %d", info.Regions["mem4x"])},
	})

	names := make([]string, 0, len(info.Modules))
	for name := range info.Modules {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t.AppendRow(table.Row{"module " + name, info.Modules[name]})
	}
	t.Render()
	return nil
}
