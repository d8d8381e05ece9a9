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
	"sync"
	"sync/atomic"

	"github.com/edgeo-scada/mbscript/modbus"
)

type memKey struct {
	project string
	memid   string
}

type sharedMemory struct {
	mem  *modbus.DeviceMemory
	refs int
}

// Local device memories are shared by every device opened with the same
// project and memid in this process, and released with the last handle.
var localMemories = struct {
	mu sync.Mutex
	m  map[memKey]*sharedMemory
}{m: make(map[memKey]*sharedMemory)}

func acquireMemory(key memKey, sizes modbus.Sizes) *modbus.DeviceMemory {
	localMemories.mu.Lock()
	defer localMemories.mu.Unlock()

	sm, ok := localMemories.m[key]
	if !ok {
		sm = &sharedMemory{mem: modbus.NewDeviceMemory(sizes)}
		localMemories.m[key] = sm
	}
	sm.refs++
	return sm.mem
}

func releaseMemory(key memKey) {
	localMemories.mu.Lock()
	defer localMemories.mu.Unlock()

	sm, ok := localMemories.m[key]
	if !ok {
		return
	}
	if sm.refs--; sm.refs <= 0 {
		delete(localMemories.m, key)
	}
}

// LocalDevice is a device backed by process-local memory.
type LocalDevice struct {
	id     string
	key    memKey
	mem    *modbus.DeviceMemory
	closed atomic.Bool
}

// OpenLocal opens the local memory for (project, memid). The first opener
// fixes the region sizes.
func OpenLocal(project, memid string, sizes modbus.Sizes) *LocalDevice {
	key := memKey{project: project, memid: memid}
	return &LocalDevice{
		id:  memid,
		key: key,
		mem: acquireMemory(key, sizes),
	}
}

func (d *LocalDevice) ID() string { return d.id }

// Memory returns the underlying memory, for serving it over Modbus TCP.
func (d *LocalDevice) Memory() *modbus.DeviceMemory { return d.mem }

func (d *LocalDevice) Mem0x() BitRegion { return localBits{d, modbus.Coils} }

func (d *LocalDevice) Mem1x() BitRegion { return localBits{d, modbus.DiscreteInputs} }

func (d *LocalDevice) Mem3x() RegisterRegion { return localRegisters{d, modbus.InputRegisters} }

func (d *LocalDevice) Mem4x() RegisterRegion { return localRegisters{d, modbus.HoldingRegisters} }

// Close releases the shared memory. It is safe to call more than once.
func (d *LocalDevice) Close() error {
	if d.closed.CompareAndSwap(false, true) {
		releaseMemory(d.key)
	}
	return nil
}

func (d *LocalDevice) check(ctx context.Context) error {
	if d.closed.Load() {
		return ErrDeviceClosed
	}
	return ctx.Err()
}

type localBits struct {
	dev   *LocalDevice
	table modbus.Table
}

func (r localBits) Table() modbus.Table { return r.table }

func (r localBits) Count() int { return r.dev.mem.Count(r.table) }

func (r localBits) Get(ctx context.Context, addr uint16) (bool, error) {
	v, err := r.Read(ctx, addr, 1)
	if err != nil {
		return false, err
	}
	return v[0], nil
}

func (r localBits) Set(ctx context.Context, addr uint16, value bool) error {
	return r.Write(ctx, addr, []bool{value})
}

func (r localBits) Read(ctx context.Context, addr, count uint16) ([]bool, error) {
	if err := r.dev.check(ctx); err != nil {
		return nil, err
	}
	return r.dev.mem.GetBits(r.table, addr, count)
}

func (r localBits) Write(ctx context.Context, addr uint16, values []bool) error {
	if err := r.dev.check(ctx); err != nil {
		return err
	}
	return r.dev.mem.SetBits(r.table, addr, values)
}

type localRegisters struct {
	dev   *LocalDevice
	table modbus.Table
}

func (r localRegisters) Table() modbus.Table { return r.table }

func (r localRegisters) Count() int { return r.dev.mem.Count(r.table) }

func (r localRegisters) Get(ctx context.Context, addr uint16) (uint16, error) {
	v, err := r.Read(ctx, addr, 1)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

func (r localRegisters) Set(ctx context.Context, addr uint16, value uint16) error {
	return r.Write(ctx, addr, []uint16{value})
}

func (r localRegisters) Read(ctx context.Context, addr, count uint16) ([]uint16, error) {
	if err := r.dev.check(ctx); err != nil {
		return nil, err
	}
	return r.dev.mem.GetRegisters(r.table, addr, count)
}

func (r localRegisters) Write(ctx context.Context, addr uint16, values []uint16) error {
	if err := r.dev.check(ctx); err != nil {
		return err
	}
	return r.dev.mem.SetRegisters(r.table, addr, values)
}
