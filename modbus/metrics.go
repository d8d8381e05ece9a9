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
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a simple atomic counter.
type Counter struct {
	v atomic.Int64
}

// Add adds delta to the counter.
func (c *Counter) Add(delta int64) { c.v.Add(delta) }

// Value returns the current counter value.
func (c *Counter) Value() int64 { return c.v.Load() }

// Reset resets the counter to zero.
func (c *Counter) Reset() { c.v.Store(0) }

// latencyBounds are bucket upper bounds in milliseconds; the last bucket
// also absorbs everything above it.
var latencyBounds = []struct {
	ms    float64
	label string
}{
	{1, "1ms"}, {5, "5ms"}, {10, "10ms"}, {25, "25ms"}, {50, "50ms"},
	{100, "100ms"}, {250, "250ms"}, {500, "500ms"}, {1000, "1s"}, {5000, "5s+"},
}

// LatencyHistogram tracks request latency distribution.
type LatencyHistogram struct {
	mu       sync.Mutex
	buckets  []int64
	sum      float64
	count    int64
	min, max float64
}

// NewLatencyHistogram creates a histogram with the default buckets.
func NewLatencyHistogram() *LatencyHistogram {
	return &LatencyHistogram{
		buckets: make([]int64, len(latencyBounds)),
		min:     -1,
		max:     -1,
	}
}

// Observe records one observation.
func (h *LatencyHistogram) Observe(d time.Duration) {
	ms := float64(d.Microseconds()) / 1000.0

	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += ms
	h.count++
	if h.min < 0 || ms < h.min {
		h.min = ms
	}
	if ms > h.max {
		h.max = ms
	}

	idx := len(latencyBounds) - 1
	for i, b := range latencyBounds {
		if ms <= b.ms {
			idx = i
			break
		}
	}
	h.buckets[idx]++
}

// LatencyStats is a snapshot of a LatencyHistogram.
type LatencyStats struct {
	Count   int64
	Sum     float64
	Avg     float64
	Min     float64
	Max     float64
	Buckets map[string]int64
}

// Stats returns a snapshot of the histogram.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := LatencyStats{
		Count:   h.count,
		Sum:     h.sum,
		Buckets: make(map[string]int64, len(h.buckets)),
	}
	if h.count > 0 {
		stats.Avg = h.sum / float64(h.count)
		stats.Min = h.min
		stats.Max = h.max
	}
	for i, n := range h.buckets {
		stats.Buckets[latencyBounds[i].label] = n
	}
	return stats
}

// Reset clears the histogram.
func (h *LatencyHistogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.buckets {
		h.buckets[i] = 0
	}
	h.sum, h.count = 0, 0
	h.min, h.max = -1, -1
}

// Metrics holds client metrics.
type Metrics struct {
	RequestsTotal   Counter
	RequestsSuccess Counter
	RequestsErrors  Counter
	Reconnections   Counter
	Latency         *LatencyHistogram

	perFunc sync.Map // FunctionCode -> *Counter
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{Latency: NewLatencyHistogram()}
}

// ForFunction returns the request counter for one function code.
func (m *Metrics) ForFunction(fc FunctionCode) *Counter {
	if v, ok := m.perFunc.Load(fc); ok {
		return v.(*Counter)
	}
	v, _ := m.perFunc.LoadOrStore(fc, new(Counter))
	return v.(*Counter)
}

// Collect returns all metrics as a map keyed by metric name.
func (m *Metrics) Collect() map[string]any {
	result := map[string]any{
		"requests_total":   m.RequestsTotal.Value(),
		"requests_success": m.RequestsSuccess.Value(),
		"requests_errors":  m.RequestsErrors.Value(),
		"reconnections":    m.Reconnections.Value(),
		"latency":          m.Latency.Stats(),
	}
	funcs := make(map[string]int64)
	m.perFunc.Range(func(k, v any) bool {
		funcs[k.(FunctionCode).String()] = v.(*Counter).Value()
		return true
	})
	if len(funcs) > 0 {
		result["functions"] = funcs
	}
	return result
}

// Reset resets all metrics.
func (m *Metrics) Reset() {
	m.RequestsTotal.Reset()
	m.RequestsSuccess.Reset()
	m.RequestsErrors.Reset()
	m.Reconnections.Reset()
	m.Latency.Reset()
	m.perFunc.Range(func(_, v any) bool {
		v.(*Counter).Reset()
		return true
	})
}

// ServerMetrics holds server-side metrics.
type ServerMetrics struct {
	RequestsTotal   Counter
	RequestsSuccess Counter
	Exceptions      Counter
	ActiveConns     Counter
	TotalConns      Counter
}
