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
	"testing"
	"time"
)

func TestCounter(t *testing.T) {
	var c Counter

	c.Add(5)
	c.Add(-2)
	if c.Value() != 3 {
		t.Errorf("Expected 3, got %d", c.Value())
	}

	c.Reset()
	if c.Value() != 0 {
		t.Errorf("After Reset: expected 0, got %d", c.Value())
	}
}

func TestLatencyHistogram(t *testing.T) {
	h := NewLatencyHistogram()

	h.Observe(500 * time.Microsecond)
	h.Observe(2 * time.Millisecond)
	h.Observe(100 * time.Millisecond)
	h.Observe(10 * time.Second)

	stats := h.Stats()
	if stats.Count != 4 {
		t.Errorf("Count: expected 4, got %d", stats.Count)
	}
	if stats.Min < 0.4 || stats.Min > 0.6 {
		t.Errorf("Min: expected ~0.5, got %.2f", stats.Min)
	}
	if stats.Buckets["1ms"] != 1 || stats.Buckets["5ms"] != 1 || stats.Buckets["100ms"] != 1 {
		t.Errorf("Unexpected buckets %v", stats.Buckets)
	}
	if stats.Buckets["5s+"] != 1 {
		t.Errorf("Overflow bucket: expected 1, got %d", stats.Buckets["5s+"])
	}

	h.Reset()
	if h.Stats().Count != 0 {
		t.Error("Count after reset should be 0")
	}
}

func TestMetricsCollect(t *testing.T) {
	m := NewMetrics()
	m.RequestsTotal.Add(10)
	m.RequestsErrors.Add(2)
	m.ForFunction(FuncReadCoils).Add(4)

	if m.ForFunction(FuncReadCoils).Value() != 4 {
		t.Error("ForFunction should return the same counter")
	}

	collected := m.Collect()
	if collected["requests_total"] != int64(10) {
		t.Errorf("requests_total: expected 10, got %v", collected["requests_total"])
	}
	funcs, ok := collected["functions"].(map[string]int64)
	if !ok || funcs["ReadCoils"] != 4 {
		t.Errorf("functions: got %v", collected["functions"])
	}

	m.Reset()
	if m.RequestsTotal.Value() != 0 || m.ForFunction(FuncReadCoils).Value() != 0 {
		t.Error("Reset should clear all counters")
	}
}

func TestTableString(t *testing.T) {
	tests := []struct {
		table  Table
		expect string
		bit    bool
	}{
		{Coils, "coils", true},
		{DiscreteInputs, "discrete-inputs", true},
		{InputRegisters, "input-registers", false},
		{HoldingRegisters, "holding-registers", false},
	}

	for _, tt := range tests {
		t.Run(tt.expect, func(t *testing.T) {
			if tt.table.String() != tt.expect {
				t.Errorf("Expected %s, got %s", tt.expect, tt.table.String())
			}
			if tt.table.IsBit() != tt.bit {
				t.Errorf("IsBit: expected %v", tt.bit)
			}
		})
	}
}
