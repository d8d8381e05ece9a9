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

package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/edgeo-scada/mbscript"
)

var (
	watchCount      int
	watchIterations int
	watchFormat     string
	watchShowDiff   bool
	watchLogFile    string
)

var watchCmd = &cobra.Command{
	Use:   "watch <address>",
	Short: "Continuously poll device memory at the head period",
	Long: `Poll coils, discrete inputs or registers at the script period (-p, in
milliseconds), the same loop a script runs under.

Features:
  - Change highlighting (--diff)
  - Logging to CSV (--log)
  - Bounded runs (-n)`,
	Example: `  # Poll 5 holding registers every second
  mbscript watch 400001 -c 5 -p 1000 -i tcp://192.168.1.100

  # Poll coils with change highlighting, 10 cycles
  mbscript watch %Q0 -c 8 --diff -n 10 -i plc

  # Log float values to a file
  mbscript watch 300001 -c 2 -f float32 --log data.csv -i plc`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().IntVarP(&watchCount, "count", "c", 1, "Number of values to read")
	watchCmd.Flags().IntVarP(&watchIterations, "iterations", "n", 0, "Number of cycles (0 = until interrupted)")
	watchCmd.Flags().StringVarP(&watchFormat, "format", "f", "uint16", "Register format")
	watchCmd.Flags().BoolVar(&watchShowDiff, "diff", false, "Highlight changed values")
	watchCmd.Flags().StringVar(&watchLogFile, "log", "", "Log values to file (CSV format)")
}

type watchState struct {
	w     io.Writer
	head  *mbscript.Head
	addr  mbscript.Address
	count int

	prev      []string
	cycles    int
	successes int
	errors    int
	startTime time.Time

	log *csv.Writer
}

func runWatch(cmd *cobra.Command, args []string) error {
	addr, err := mbscript.ParseAddress(args[0])
	if err != nil {
		return err
	}
	if watchCount < 1 {
		return fmt.Errorf("invalid count %d", watchCount)
	}
	if !addr.Table.IsBit() {
		if _, err := formatWidth(watchFormat); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := openHead(cmd)
	if err != nil {
		return err
	}
	defer h.Close()

	s := &watchState{
		w:         cmd.OutOrStdout(),
		head:      h,
		addr:      addr,
		count:     watchCount,
		startTime: time.Now(),
	}
	if watchLogFile != "" {
		f, err := os.Create(watchLogFile)
		if err != nil {
			return fmt.Errorf("failed to create log file: %w", err)
		}
		defer f.Close()
		s.log = csv.NewWriter(f)
		defer s.log.Flush()
	}

	if err := h.Loop(ctx, s.cycle); err != nil {
		return err
	}
	if outputFmt != "json" {
		s.printSummary()
	}
	return nil
}

// cycle reads once and prints. Read errors are counted, not fatal.
func (s *watchState) cycle(ctx context.Context) error {
	s.cycles++
	if err := s.readAndDisplay(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.errors++
		logger.Warn("read failed", slog.Int("cycle", s.cycles), slog.String("error", err.Error()))
	} else {
		s.successes++
	}

	if watchIterations > 0 && s.cycles >= watchIterations {
		return mbscript.ErrStop
	}
	return nil
}

// watchSample is one cycle in JSON output.
type watchSample struct {
	Timestamp string   `json:"timestamp"`
	Cycle     int      `json:"cycle"`
	Address   string   `json:"start_address"`
	Values    []string `json:"values"`
}

func (s *watchState) readAndDisplay(ctx context.Context) error {
	addrs, values, err := s.read(ctx)
	if err != nil {
		return err
	}
	now := time.Now()

	if s.log != nil {
		s.logValues(now, addrs, values)
	}

	if outputFmt == "json" {
		s.prev = values
		return outputJSON(s.w, watchSample{
			Timestamp: now.Format(time.RFC3339Nano),
			Cycle:     s.cycles,
			Address:   s.addr.String(),
			Values:    values,
		})
	}

	fmt.Fprintf(s.w, "%s %s | memid %q | period %s | cycle %d",
		styled(titleStyle, "WATCH"), s.addr.Table, s.head.Params.MemID,
		s.head.Period(), s.cycles)
	if watchIterations > 0 {
		fmt.Fprintf(s.w, "/%d", watchIterations)
	}
	fmt.Fprintf(s.w, " | %s\n", now.Format("15:04:05.000"))

	t := newTable(s.w)
	t.AppendHeader(table.Row{"Address", "Value", "Change"})
	for i, v := range values {
		change := ""
		if watchShowDiff && i < len(s.prev) && s.prev[i] != v {
			change = styled(changedStyle, s.prev[i]+" -> "+v)
		}
		t.AppendRow(table.Row{addrs[i], v, change})
	}
	t.Render()

	s.prev = values
	return nil
}

// read returns the addresses and printable values of one poll.
func (s *watchState) read(ctx context.Context) ([]string, []string, error) {
	if s.addr.Table.IsBit() {
		bits, err := readBits(ctx, s.head, s.addr, s.count)
		if err != nil {
			return nil, nil, err
		}
		results := bitResults(s.addr, bits)
		addrs := make([]string, len(results))
		values := make([]string, len(results))
		for i, r := range results {
			addrs[i], values[i] = r.Address, boolDigit(r.Value)
		}
		return addrs, values, nil
	}

	results, err := readValues(ctx, s.head, s.addr, s.count, watchFormat)
	if err != nil {
		return nil, nil, err
	}
	addrs := make([]string, len(results))
	values := make([]string, len(results))
	for i, r := range results {
		addrs[i], values[i] = r.Address, fmt.Sprint(r.Value)
	}
	return addrs, values, nil
}

func (s *watchState) logValues(ts time.Time, addrs, values []string) {
	if s.successes == 0 {
		s.log.Write(append([]string{"timestamp"}, addrs...))
	}
	s.log.Write(append([]string{ts.Format(time.RFC3339)}, values...))
	s.log.Flush()
}

func (s *watchState) printSummary() {
	duration := time.Since(s.startTime)
	fmt.Fprintln(s.w)
	fmt.Fprintln(s.w, styled(titleStyle, "Watch Summary"))
	t := newTable(s.w)
	t.AppendRows([]table.Row{
		{"Duration", duration.Round(time.Millisecond)},
		{"Cycles", s.cycles},
		{"Success", s.successes},
		{"Errors", s.errors},
	})
	if s.cycles > 0 && duration > 0 {
		t.AppendRow(table.Row{"Avg Rate", strconv.FormatFloat(float64(s.cycles)/duration.Seconds(), 'f', 2, 64) + " reads/sec"})
	}
	t.Render()
}
