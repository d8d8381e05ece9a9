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

// Package mbscript is the head of a Modbus device script. It parses the
// script parameters, builds the search path, opens the device memory and
// exposes the four memory regions and the polling period to the script.
package mbscript

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/xid"
	"github.com/spf13/afero"
	"github.com/tebeka/atexit"

	"github.com/edgeo-scada/mbscript/modbus"
)

// Head holds everything a script needs after bootstrap. Fields are set by
// New and must not be modified.
type Head struct {
	// ID identifies this head instance in logs.
	ID string

	Params     Params
	SearchPath *SearchPath
	Project    *Project
	Device     Device

	Mem0x BitRegion
	Mem1x BitRegion
	Mem3x RegisterRegion
	Mem4x RegisterRegion

	// PeriodSeconds is Params.Period / 1000.
	PeriodSeconds float64

	// Modules maps each project script module to its resolved path.
	Modules map[string]string

	order  modbus.RegisterOrder
	logger *slog.Logger
}

// New parses args (without the program name) and runs the bootstrap.
func New(ctx context.Context, args []string, opts ...Option) (*Head, error) {
	p, err := ParseParams(args)
	if err != nil {
		return nil, err
	}
	return NewFromParams(ctx, p, opts...)
}

// NewFromParams runs the bootstrap with already parsed parameters.
func NewFromParams(ctx context.Context, p Params, opts ...Option) (*Head, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	o := applyOptions(opts)

	h := &Head{
		ID:            xid.New().String(),
		Params:        p,
		PeriodSeconds: p.PeriodSeconds(),
	}
	h.logger = o.logger.With(slog.String("head", h.ID))

	h.SearchPath = NewSearchPath(o.fs)
	h.SearchPath.Insert(0, o.resolveScriptDir())
	h.SearchPath.Extend(p.ImportPaths()...)

	if p.Project != "" {
		prj, err := findProject(o.fs, h.SearchPath, p.Project)
		if err != nil {
			return nil, err
		}
		h.Project = prj
		if h.order, err = prj.Order(); err != nil {
			return nil, err
		}
		if h.Modules, err = resolveModules(h.SearchPath, prj.ScriptModules); err != nil {
			return nil, err
		}
	}

	dev, err := OpenDevice(ctx, p.MemID, h.Project, append(opts[:len(opts):len(opts)], WithLogger(h.logger))...)
	if err != nil {
		return nil, err
	}
	h.Device = dev
	h.Mem0x = dev.Mem0x()
	h.Mem1x = dev.Mem1x()
	h.Mem3x = dev.Mem3x()
	h.Mem4x = dev.Mem4x()

	h.logger.Info("head ready",
		slog.String("project", p.Project),
		slog.String("memid", p.MemID),
		slog.Int("period_ms", p.Period),
		slog.String("path", h.SearchPath.String()))
	return h, nil
}

// findProject loads name directly if it exists, otherwise through the
// search path.
func findProject(fs afero.Fs, sp *SearchPath, name string) (*Project, error) {
	path := name
	if ok, _ := afero.Exists(fs, name); !ok {
		found, err := sp.Find(name)
		if err != nil {
			return nil, fmt.Errorf("project: %w", err)
		}
		path = found
	}
	return LoadProject(fs, path)
}

func resolveModules(sp *SearchPath, names []string) (map[string]string, error) {
	modules := make(map[string]string, len(names))
	for _, name := range names {
		path, err := sp.Find(name)
		if err != nil {
			return nil, fmt.Errorf("script module: %w", err)
		}
		modules[name] = path
	}
	return modules, nil
}

// Period returns the polling period.
func (h *Head) Period() time.Duration {
	return h.Params.PeriodDuration()
}

// Logger returns the head logger.
func (h *Head) Logger() *slog.Logger {
	return h.logger
}

// Registers wraps r for typed access in the project register order.
func (h *Head) Registers(r RegisterRegion) TypedRegisters {
	return Typed(r, h.order)
}

// Loop calls fn once immediately and then once per period until ctx is done
// or fn returns an error. ErrStop ends the loop with a nil error, as does
// cancellation of ctx. A zero period runs fn back to back.
func (h *Head) Loop(ctx context.Context, fn func(ctx context.Context) error) error {
	var tick <-chan time.Time
	if period := h.Period(); period > 0 {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		tick = ticker.C
	}

	for cycle := uint64(1); ; cycle++ {
		if ctx.Err() != nil {
			return nil
		}
		if err := fn(ctx); err != nil {
			if errors.Is(err, ErrStop) {
				h.logger.Debug("loop stopped", slog.Uint64("cycles", cycle))
				return nil
			}
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return nil
			}
			return err
		}

		if tick == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
		}
	}
}

// Close releases the device.
func (h *Head) Close() error {
	if h.Device == nil {
		return nil
	}
	h.logger.Debug("head closing")
	return h.Device.Close()
}

// Main bootstraps a head from the process arguments, runs fn and exits.
// SIGINT and SIGTERM cancel the context passed to fn. Errors are printed
// to stderr and exit with status 1.
func Main(fn func(ctx context.Context, h *Head) error, opts ...Option) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := New(ctx, os.Args[1:], opts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		atexit.Exit(1)
	}
	atexit.Register(func() { h.Close() })

	if err := fn(ctx, h); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		atexit.Exit(1)
	}
	atexit.Exit(0)
}
