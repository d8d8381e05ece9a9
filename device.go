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
	"context"
	"fmt"
	"log/slog"
)

// Device owns the four memory regions of one Modbus device.
type Device interface {
	ID() string
	Mem0x() BitRegion
	Mem1x() BitRegion
	Mem3x() RegisterRegion
	Mem4x() RegisterRegion
	Close() error
}

// OpenDevice opens the device named by memid:
//   - a tcp://host:port/unit URL opens a remote device;
//   - an id listed in the project opens the device it describes;
//   - anything else opens local memory shared by (project, memid).
//
// Remote devices connect on first access, so OpenDevice does not block on
// the network.
func OpenDevice(ctx context.Context, memid string, prj *Project, opts ...Option) (Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o := applyOptions(opts)
	logger := o.logger.With(slog.String("memid", memid))

	if IsDeviceURL(memid) {
		ep, err := ParseEndpoint(memid)
		if err != nil {
			return nil, err
		}
		logger.Debug("opening remote device", slog.String("endpoint", ep.String()))
		return OpenRemote(memid, ep, o.sizes, o.timeout, o.poolSize, o.clientOpts...)
	}

	projectKey := ""
	if prj != nil {
		projectKey = prj.Path
		if cfg, ok := prj.Device(memid); ok {
			return openConfigured(cfg, projectKey, o, logger)
		}
	}

	logger.Debug("opening local device", slog.String("project", projectKey))
	return OpenLocal(projectKey, memid, o.sizes), nil
}

func openConfigured(cfg DeviceConfig, projectKey string, o *options, logger *slog.Logger) (Device, error) {
	if cfg.Address == "" {
		logger.Debug("opening local device", slog.String("project", projectKey))
		return OpenLocal(projectKey, cfg.ID, cfg.Sizes()), nil
	}

	ep, err := cfg.Endpoint()
	if err != nil {
		return nil, fmt.Errorf("device %q: %w", cfg.ID, err)
	}
	timeout := o.timeout
	if cfg.Timeout > 0 {
		timeout = cfg.Timeout
	}
	logger.Debug("opening remote device", slog.String("endpoint", ep.String()))
	return OpenRemote(cfg.ID, ep, cfg.Sizes(), timeout, o.poolSize, o.clientOpts...)
}
