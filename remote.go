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
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/edgeo-scada/mbscript/modbus"
)

// Endpoint is a Modbus TCP server address and unit.
type Endpoint struct {
	Address string
	Unit    modbus.UnitID
}

// IsDeviceURL reports whether s uses the tcp:// scheme.
func IsDeviceURL(s string) bool {
	return strings.HasPrefix(strings.ToLower(s), "tcp://")
}

// ParseEndpoint parses "tcp://host[:port][/unit]". The port defaults to 502
// and the unit to 1.
func ParseEndpoint(s string) (Endpoint, error) {
	u, err := url.Parse(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %v", ErrInvalidDevice, err)
	}
	if !strings.EqualFold(u.Scheme, "tcp") || u.Hostname() == "" {
		return Endpoint{}, fmt.Errorf("%w: %q: expected tcp://host:port/unit", ErrInvalidDevice, s)
	}

	port := u.Port()
	if port == "" {
		port = strconv.Itoa(modbus.DefaultPort)
	}
	ep := Endpoint{Address: net.JoinHostPort(u.Hostname(), port), Unit: 1}

	if unit := strings.Trim(u.Path, "/"); unit != "" {
		n, err := strconv.ParseUint(unit, 10, 8)
		if err != nil {
			return Endpoint{}, fmt.Errorf("%w: %q: unit must be 0-255", ErrInvalidDevice, s)
		}
		ep.Unit = modbus.UnitID(n)
	}
	return ep, nil
}

func (e Endpoint) String() string {
	return fmt.Sprintf("tcp://%s/%d", e.Address, e.Unit)
}

// RemoteDevice is a device whose memory lives on a Modbus TCP server.
// Connections are opened on first access.
type RemoteDevice struct {
	id       string
	endpoint Endpoint
	sizes    modbus.Sizes
	pool     *modbus.Pool
	closed   atomic.Bool
}

// OpenRemote creates a remote device. It does not dial.
func OpenRemote(id string, ep Endpoint, sizes modbus.Sizes, timeout time.Duration, poolSize int, clientOpts ...modbus.Option) (*RemoteDevice, error) {
	opts := append([]modbus.Option{
		modbus.WithUnitID(ep.Unit),
		modbus.WithTimeout(timeout),
		modbus.WithAutoReconnect(true),
	}, clientOpts...)

	pool, err := modbus.NewPool(ep.Address,
		modbus.WithSize(poolSize),
		modbus.WithClientOptions(opts...))
	if err != nil {
		return nil, err
	}
	return &RemoteDevice{
		id:       id,
		endpoint: ep,
		sizes:    sizes,
		pool:     pool,
	}, nil
}

func (d *RemoteDevice) ID() string { return d.id }

// Endpoint returns the server address and unit.
func (d *RemoteDevice) Endpoint() Endpoint { return d.endpoint }

// Stats returns connection pool statistics.
func (d *RemoteDevice) Stats() modbus.PoolStats { return d.pool.Stats() }

func (d *RemoteDevice) Mem0x() BitRegion { return remoteBits{d, modbus.Coils} }

func (d *RemoteDevice) Mem1x() BitRegion { return remoteBits{d, modbus.DiscreteInputs} }

func (d *RemoteDevice) Mem3x() RegisterRegion { return remoteRegisters{d, modbus.InputRegisters} }

func (d *RemoteDevice) Mem4x() RegisterRegion { return remoteRegisters{d, modbus.HoldingRegisters} }

// Close closes all connections.
func (d *RemoteDevice) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	return d.pool.Close()
}

func (d *RemoteDevice) do(ctx context.Context, fn func(*modbus.Client) error) error {
	if d.closed.Load() {
		return ErrDeviceClosed
	}
	return d.pool.Do(ctx, fn)
}

// chunks calls fn for consecutive [addr, addr+n) ranges of at most size items.
func chunks(addr uint16, total, size int, fn func(addr uint16, off, n int) error) error {
	if int(addr)+total > modbus.MaxTableSize {
		return fmt.Errorf("%w: address range exceeds 65535", modbus.ErrInvalidAddress)
	}
	for off := 0; off < total; off += size {
		n := min(size, total-off)
		if err := fn(addr+uint16(off), off, n); err != nil {
			return err
		}
	}
	return nil
}

type remoteBits struct {
	dev   *RemoteDevice
	table modbus.Table
}

func (r remoteBits) Table() modbus.Table { return r.table }

func (r remoteBits) Count() int { return r.dev.sizes.Of(r.table) }

func (r remoteBits) Get(ctx context.Context, addr uint16) (bool, error) {
	v, err := r.Read(ctx, addr, 1)
	if err != nil {
		return false, err
	}
	return v[0], nil
}

func (r remoteBits) Set(ctx context.Context, addr uint16, value bool) error {
	if r.table != modbus.Coils {
		return modbus.ErrReadOnlyTable
	}
	return r.dev.do(ctx, func(c *modbus.Client) error {
		return c.WriteSingleCoil(ctx, addr, value)
	})
}

func (r remoteBits) Read(ctx context.Context, addr, count uint16) ([]bool, error) {
	if count == 0 {
		return nil, modbus.ErrInvalidQuantity
	}
	out := make([]bool, count)
	err := r.dev.do(ctx, func(c *modbus.Client) error {
		return chunks(addr, int(count), modbus.MaxQuantityBits, func(a uint16, off, n int) error {
			v, err := c.ReadBits(ctx, r.table, a, uint16(n))
			if err != nil {
				return err
			}
			copy(out[off:], v)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r remoteBits) Write(ctx context.Context, addr uint16, values []bool) error {
	if r.table != modbus.Coils {
		return modbus.ErrReadOnlyTable
	}
	switch len(values) {
	case 0:
		return modbus.ErrInvalidQuantity
	case 1:
		return r.Set(ctx, addr, values[0])
	}
	return r.dev.do(ctx, func(c *modbus.Client) error {
		return chunks(addr, len(values), modbus.MaxQuantityWriteBits, func(a uint16, off, n int) error {
			return c.WriteMultipleCoils(ctx, a, values[off:off+n])
		})
	})
}

type remoteRegisters struct {
	dev   *RemoteDevice
	table modbus.Table
}

func (r remoteRegisters) Table() modbus.Table { return r.table }

func (r remoteRegisters) Count() int { return r.dev.sizes.Of(r.table) }

func (r remoteRegisters) Get(ctx context.Context, addr uint16) (uint16, error) {
	v, err := r.Read(ctx, addr, 1)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

func (r remoteRegisters) Set(ctx context.Context, addr uint16, value uint16) error {
	if r.table != modbus.HoldingRegisters {
		return modbus.ErrReadOnlyTable
	}
	return r.dev.do(ctx, func(c *modbus.Client) error {
		return c.WriteSingleRegister(ctx, addr, value)
	})
}

func (r remoteRegisters) Read(ctx context.Context, addr, count uint16) ([]uint16, error) {
	if count == 0 {
		return nil, modbus.ErrInvalidQuantity
	}
	out := make([]uint16, count)
	err := r.dev.do(ctx, func(c *modbus.Client) error {
		return chunks(addr, int(count), modbus.MaxQuantityRegisters, func(a uint16, off, n int) error {
			v, err := c.ReadRegisters(ctx, r.table, a, uint16(n))
			if err != nil {
				return err
			}
			copy(out[off:], v)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r remoteRegisters) Write(ctx context.Context, addr uint16, values []uint16) error {
	if r.table != modbus.HoldingRegisters {
		return modbus.ErrReadOnlyTable
	}
	switch len(values) {
	case 0:
		return modbus.ErrInvalidQuantity
	case 1:
		return r.Set(ctx, addr, values[0])
	}
	return r.dev.do(ctx, func(c *modbus.Client) error {
		return chunks(addr, len(values), modbus.MaxQuantityWriteRegisters, func(a uint16, off, n int) error {
			return c.WriteMultipleRegisters(ctx, a, values[off:off+n])
		})
	})
}
