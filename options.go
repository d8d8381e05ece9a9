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
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/edgeo-scada/mbscript/modbus"
)

// Option configures a Head or a device.
type Option func(*options)

type options struct {
	fs         afero.Fs
	logger     *slog.Logger
	scriptDir  string
	timeout    time.Duration
	poolSize   int
	sizes      modbus.Sizes
	clientOpts []modbus.Option
}

func defaultOptions() *options {
	return &options{
		fs:       afero.NewOsFs(),
		logger:   slog.Default(),
		timeout:  modbus.DefaultTimeout,
		poolSize: 2,
		sizes:    modbus.DefaultSizes(),
	}
}

func applyOptions(opts []Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithFs sets the filesystem used for projects and the search path.
func WithFs(fs afero.Fs) Option {
	return func(o *options) {
		o.fs = fs
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithScriptDir sets the directory placed first on the search path.
// It defaults to the directory of the running executable.
func WithScriptDir(dir string) Option {
	return func(o *options) {
		o.scriptDir = dir
	}
}

// WithTimeout sets the per-request timeout for remote devices without a
// configured timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithPoolSize sets the number of connections kept per remote device.
func WithPoolSize(n int) Option {
	return func(o *options) {
		o.poolSize = n
	}
}

// WithSizes sets the region sizes for local devices not described by the project.
func WithSizes(s modbus.Sizes) Option {
	return func(o *options) {
		o.sizes = s
	}
}

// WithClientOptions adds options for the Modbus TCP clients of remote devices.
func WithClientOptions(opts ...modbus.Option) Option {
	return func(o *options) {
		o.clientOpts = append(o.clientOpts, opts...)
	}
}

func (o *options) resolveScriptDir() string {
	if o.scriptDir != "" {
		if abs, err := filepath.Abs(o.scriptDir); err == nil {
			return abs
		}
		return filepath.Clean(o.scriptDir)
	}
	if exe, err := os.Executable(); err == nil {
		return filepath.Dir(filepath.Clean(exe))
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "."
}
