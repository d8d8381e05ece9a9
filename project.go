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
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/edgeo-scada/mbscript/modbus"
)

// DeviceConfig describes one device of a project. A device with an address
// is remote; otherwise it is local memory with the given region sizes.
type DeviceConfig struct {
	ID               string        `mapstructure:"id"`
	Address          string        `mapstructure:"address"`
	Unit             uint8         `mapstructure:"unit"`
	Coils            int           `mapstructure:"coils"`
	DiscreteInputs   int           `mapstructure:"discrete_inputs"`
	InputRegisters   int           `mapstructure:"input_registers"`
	HoldingRegisters int           `mapstructure:"holding_registers"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// Sizes returns the configured region sizes; zero means the full table.
func (c DeviceConfig) Sizes() modbus.Sizes {
	orFull := func(n int) int {
		if n <= 0 {
			return modbus.MaxTableSize
		}
		return n
	}
	return modbus.Sizes{
		Coils:            orFull(c.Coils),
		DiscreteInputs:   orFull(c.DiscreteInputs),
		InputRegisters:   orFull(c.InputRegisters),
		HoldingRegisters: orFull(c.HoldingRegisters),
	}
}

// Endpoint returns the Modbus TCP endpoint of a remote device. A non-zero
// unit overrides the unit given in the address.
func (c DeviceConfig) Endpoint() (Endpoint, error) {
	addr := c.Address
	if !IsDeviceURL(addr) {
		addr = "tcp://" + addr
	}
	ep, err := ParseEndpoint(addr)
	if err != nil {
		return Endpoint{}, err
	}
	if c.Unit != 0 {
		ep.Unit = modbus.UnitID(c.Unit)
	}
	return ep, nil
}

// Project is a project file: the devices a script may open and the script
// modules it depends on.
type Project struct {
	// Path is the cleaned path the project was loaded from.
	Path string `mapstructure:"-"`

	Name          string         `mapstructure:"name"`
	RegisterOrder string         `mapstructure:"register_order"`
	Devices       []DeviceConfig `mapstructure:"devices"`
	ScriptModules []string       `mapstructure:"script_modules"`
}

// LoadProject reads a project file in any format viper understands.
// Files without an extension are read as YAML.
func LoadProject(fs afero.Fs, path string) (*Project, error) {
	v := viper.New()
	v.SetFs(fs)
	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("mbscript: read project %s: %w", path, err)
	}

	var p Project
	if err := v.Unmarshal(&p); err != nil {
		return nil, fmt.Errorf("mbscript: decode project %s: %w", path, err)
	}
	p.Path = filepath.Clean(path)
	if p.Name == "" {
		p.Name = trimExt(filepath.Base(path))
	}

	if _, err := p.Order(); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(p.Devices))
	for _, d := range p.Devices {
		if d.ID == "" {
			return nil, fmt.Errorf("%w: project %s: device without id", ErrInvalidDevice, path)
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("%w: project %s: duplicate device id %q", ErrInvalidDevice, path, d.ID)
		}
		seen[d.ID] = true
	}
	return &p, nil
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}

// Device returns the device with the given id.
func (p *Project) Device(id string) (DeviceConfig, bool) {
	for _, d := range p.Devices {
		if d.ID == id {
			return d, true
		}
	}
	return DeviceConfig{}, false
}

// Order returns the project register order.
func (p *Project) Order() (modbus.RegisterOrder, error) {
	return modbus.ParseRegisterOrder(p.RegisterOrder)
}
