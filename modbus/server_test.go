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

package modbus

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDeviceMemory_Bits(t *testing.T) {
	mem := NewDeviceMemory(DefaultSizes())

	if err := mem.SetBits(Coils, 20, []bool{true, false, true}); err != nil {
		t.Fatalf("SetBits failed: %v", err)
	}
	got, err := mem.GetBits(Coils, 20, 3)
	if err != nil {
		t.Fatalf("GetBits failed: %v", err)
	}
	if !got[0] || got[1] || !got[2] {
		t.Errorf("Unexpected coils %v", got)
	}

	if _, err := mem.GetBits(HoldingRegisters, 0, 1); err == nil {
		t.Error("GetBits on a register table should fail")
	}
}

func TestDeviceMemory_Registers(t *testing.T) {
	mem := NewDeviceMemory(Sizes{InputRegisters: 10, HoldingRegisters: 10})

	if err := mem.SetRegisters(InputRegisters, 8, []uint16{500, 600}); err != nil {
		t.Fatalf("SetRegisters failed: %v", err)
	}
	got, err := mem.GetRegisters(InputRegisters, 8, 2)
	if err != nil {
		t.Fatalf("GetRegisters failed: %v", err)
	}
	if got[0] != 500 || got[1] != 600 {
		t.Errorf("Unexpected registers %v", got)
	}

	// The returned slice is a copy.
	got[0] = 1
	again, _ := mem.GetRegisters(InputRegisters, 8, 1)
	if again[0] != 500 {
		t.Error("GetRegisters must not alias internal storage")
	}

	if _, err := mem.GetRegisters(InputRegisters, 9, 2); !IsIllegalDataAddress(err) {
		t.Errorf("Out of range: expected illegal data address, got %v", err)
	}
}

func TestDeviceMemory_Sizes(t *testing.T) {
	mem := NewDeviceMemory(Sizes{Coils: 100000, DiscreteInputs: -1, InputRegisters: 4, HoldingRegisters: 8})
	s := mem.Sizes()
	if s.Coils != MaxTableSize || s.DiscreteInputs != 0 || s.InputRegisters != 4 {
		t.Errorf("Unexpected sizes %+v", s)
	}
	if mem.Count(HoldingRegisters) != 8 {
		t.Errorf("Count: expected 8, got %d", mem.Count(HoldingRegisters))
	}
}

func TestDeviceMemory_HandlerReadOnlyTables(t *testing.T) {
	mem := NewDeviceMemory(DefaultSizes())

	err := mem.WriteRegisters(1, InputRegisters, 0, []uint16{1})
	if !IsException(err, ExceptionIllegalFunction) {
		t.Errorf("Expected illegal function, got %v", err)
	}
	err = mem.WriteBits(1, DiscreteInputs, 0, []bool{true})
	if !IsException(err, ExceptionIllegalFunction) {
		t.Errorf("Expected illegal function, got %v", err)
	}
}

func TestServerProcess(t *testing.T) {
	mem := NewDeviceMemory(Sizes{Coils: 16, DiscreteInputs: 16, InputRegisters: 16, HoldingRegisters: 16})
	mem.SetRegisters(HoldingRegisters, 0, []uint16{0x1234, 0x5678})
	mem.SetBits(DiscreteInputs, 0, []bool{true, true})
	server := NewServer(mem, WithServerLogger(quietLogger()))

	tests := []struct {
		name   string
		req    []byte
		expect []byte
	}{
		{"read holding", []byte{0x03, 0x00, 0x00, 0x00, 0x02}, []byte{0x03, 0x04, 0x12, 0x34, 0x56, 0x78}},
		{"read discrete", []byte{0x02, 0x00, 0x00, 0x00, 0x03}, []byte{0x02, 0x01, 0x03}},
		{"write coil", []byte{0x05, 0x00, 0x01, 0xFF, 0x00}, []byte{0x05, 0x00, 0x01, 0xFF, 0x00}},
		{"bad coil value", []byte{0x05, 0x00, 0x01, 0x12, 0x34}, []byte{0x85, 0x03}},
		{"out of range", []byte{0x03, 0x00, 0x0F, 0x00, 0x02}, []byte{0x83, 0x02}},
		{"zero quantity", []byte{0x04, 0x00, 0x00, 0x00, 0x00}, []byte{0x84, 0x03}},
		{"unknown function", []byte{0x2B, 0x0E}, []byte{0xAB, 0x01}},
		{"write registers", []byte{0x10, 0x00, 0x02, 0x00, 0x01, 0x02, 0xAB, 0xCD}, []byte{0x10, 0x00, 0x02, 0x00, 0x01}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := server.process(1, tt.req)
			if !bytes.Equal(got, tt.expect) {
				t.Errorf("Expected %x, got %x", tt.expect, got)
			}
		})
	}

	regs, _ := mem.GetRegisters(HoldingRegisters, 2, 1)
	if regs[0] != 0xABCD {
		t.Errorf("FC16 should have stored 0xABCD, got 0x%04X", regs[0])
	}
}

func startServer(t *testing.T, mem *DeviceMemory, opts ...ServerOption) (*Server, string) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	server := NewServer(mem, append([]ServerOption{WithServerLogger(quietLogger())}, opts...)...)
	go server.Serve(listener)
	t.Cleanup(func() { server.Close() })
	return server, listener.Addr().String()
}

func TestServerAddr(t *testing.T) {
	server := NewServer(NewDeviceMemory(DefaultSizes()))
	if server.Addr() != nil {
		t.Error("Addr should be nil before listening")
	}

	server, addr := startServer(t, NewDeviceMemory(DefaultSizes()))
	deadline := time.Now().Add(time.Second)
	for server.Addr() == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if server.Addr() == nil || server.Addr().String() != addr {
		t.Errorf("Addr mismatch: expected %s, got %v", addr, server.Addr())
	}
}

func TestServerCloseIdempotent(t *testing.T) {
	server, _ := startServer(t, NewDeviceMemory(DefaultSizes()))
	time.Sleep(10 * time.Millisecond)

	if err := server.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		t.Errorf("Close failed: %v", err)
	}
	if err := server.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}
}

func TestServerCloseBeforeServe(t *testing.T) {
	server := NewServer(NewDeviceMemory(DefaultSizes()), WithServerLogger(quietLogger()))
	if err := server.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- server.Serve(listener) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve after Close should return nil, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Close")
	}

	// The listener is released.
	if _, err := listener.Accept(); err == nil {
		t.Error("Listener should be closed")
	}
}
