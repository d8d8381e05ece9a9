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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/edgeo-scada/mbscript/modbus/internal/transport"
)

// Client is a Modbus TCP client bound to one unit ID.
type Client struct {
	addr   string
	unitID UnitID
	opts   *clientOptions

	transport *transport.TCPTransport
	txIDGen   TransactionIDGenerator

	mu      sync.Mutex
	state   ConnectionState
	closed  bool
	closeCh chan struct{}
	metrics *Metrics
	logger  *slog.Logger
}

// NewClient creates a new Modbus TCP client. It does not dial.
func NewClient(addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("modbus: address cannot be empty")
	}

	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	return &Client{
		addr:      addr,
		unitID:    options.unitID,
		opts:      options,
		transport: transport.NewTCPTransport(addr, options.timeout),
		state:     StateDisconnected,
		closeCh:   make(chan struct{}),
		metrics:   NewMetrics(),
		logger:    options.logger.With(slog.String("addr", addr)),
	}, nil
}

// Connect establishes a connection to the Modbus server.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	if err := c.transport.Connect(ctx); err != nil {
		c.setState(StateDisconnected)
		return err
	}
	c.setState(StateConnected)
	c.logger.Debug("connected")

	if c.opts.onConnect != nil {
		c.opts.onConnect()
	}
	return nil
}

// Close closes the client. A closed client cannot reconnect.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.closeCh)
	c.state = StateDisconnected
	c.mu.Unlock()

	c.logger.Debug("closing connection")
	return c.transport.Close()
}

func (c *Client) setState(s ConnectionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Metrics returns the client metrics.
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

// UnitID returns the unit ID requests are addressed to.
func (c *Client) UnitID() UnitID {
	return c.unitID
}

// Address returns the server address.
func (c *Client) Address() string {
	return c.addr
}

func (c *Client) send(ctx context.Context, pdu []byte) ([]byte, error) {
	attempts := 1
	if c.opts.autoReconnect && c.opts.maxRetries > 1 {
		attempts = c.opts.maxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying request",
				slog.Int("attempt", attempt+1),
				slog.Int("max", attempts))
			if err := c.reconnect(ctx, attempt); err != nil {
				if errors.Is(err, ErrConnectionClosed) || ctx.Err() != nil {
					return nil, err
				}
				lastErr = err
				continue
			}
		}

		resp, err := c.exchange(ctx, pdu)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !c.opts.autoReconnect || !isRetryable(err) {
			return nil, err
		}
		c.handleDisconnect(err)
	}
	return nil, fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, lastErr)
}

func (c *Client) exchange(ctx context.Context, pdu []byte) ([]byte, error) {
	if c.State() != StateConnected {
		return nil, ErrNotConnected
	}

	fc := FunctionCode(pdu[0])
	start := time.Now()
	c.metrics.RequestsTotal.Add(1)
	c.metrics.ForFunction(fc).Add(1)

	txID := c.txIDGen.Next()
	req := Frame{
		Header: MBAPHeader{TransactionID: txID, ProtocolID: ProtocolID, UnitID: c.unitID},
		PDU:    pdu,
	}

	resp, err := c.roundTrip(ctx, &req)
	if err != nil {
		c.metrics.RequestsErrors.Add(1)
		return nil, err
	}

	c.metrics.RequestsSuccess.Add(1)
	c.metrics.Latency.Observe(time.Since(start))
	c.logger.Debug("request complete",
		slog.Uint64("tx_id", uint64(txID)),
		slog.String("func", fc.String()),
		slog.Duration("duration", time.Since(start)))
	return resp.PDU, nil
}

func (c *Client) roundTrip(ctx context.Context, req *Frame) (*Frame, error) {
	raw, err := c.transport.Send(ctx, req.Encode())
	if err != nil {
		return nil, err
	}

	var resp Frame
	if err := resp.Decode(raw); err != nil {
		return nil, err
	}
	if resp.Header.TransactionID != req.Header.TransactionID {
		return nil, fmt.Errorf("%w: transaction ID mismatch (expected %d, got %d)",
			ErrInvalidResponse, req.Header.TransactionID, resp.Header.TransactionID)
	}
	if resp.Header.UnitID != req.Header.UnitID {
		return nil, fmt.Errorf("%w: unit ID mismatch (expected %d, got %d)",
			ErrInvalidResponse, req.Header.UnitID, resp.Header.UnitID)
	}
	if IsExceptionResponse(resp.PDU) {
		return nil, ParseExceptionResponse(resp.PDU)
	}
	if len(resp.PDU) == 0 || resp.PDU[0] != req.PDU[0] {
		return nil, fmt.Errorf("%w: function code mismatch", ErrInvalidResponse)
	}
	return &resp, nil
}

func (c *Client) handleDisconnect(err error) {
	c.setState(StateDisconnected)
	c.transport.Close()

	c.logger.Warn("disconnected", slog.String("error", err.Error()))
	if c.opts.onDisconnect != nil {
		c.opts.onDisconnect(err)
	}
}

// reconnect waits out the backoff for the given attempt and dials once.
func (c *Client) reconnect(ctx context.Context, attempt int) error {
	backoff := c.opts.reconnectBackoff << (attempt - 1)
	if backoff <= 0 || backoff > c.opts.maxReconnectTime {
		backoff = c.opts.maxReconnectTime
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closeCh:
		return ErrConnectionClosed
	case <-time.After(backoff):
	}

	c.metrics.Reconnections.Add(1)
	return c.Connect(ctx)
}

// isRetryable excludes exceptions and caller cancellation; everything else
// is treated as a transport failure.
func isRetryable(err error) bool {
	var modbusErr *ModbusError
	if errors.As(err, &modbusErr) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// ReadBits reads coils (FC01) or discrete inputs (FC02).
func (c *Client) ReadBits(ctx context.Context, t Table, addr, qty uint16) ([]bool, error) {
	if !t.IsBit() {
		return nil, fmt.Errorf("modbus: %s is not a bit table", t)
	}
	pdu, err := BuildReadPDU(t, addr, qty)
	if err != nil {
		return nil, err
	}
	resp, err := c.send(ctx, pdu)
	if err != nil {
		return nil, err
	}
	return ParseBitsResponse(resp, qty)
}

// ReadRegisters reads input registers (FC04) or holding registers (FC03).
func (c *Client) ReadRegisters(ctx context.Context, t Table, addr, qty uint16) ([]uint16, error) {
	if t.IsBit() {
		return nil, fmt.Errorf("modbus: %s is not a register table", t)
	}
	pdu, err := BuildReadPDU(t, addr, qty)
	if err != nil {
		return nil, err
	}
	resp, err := c.send(ctx, pdu)
	if err != nil {
		return nil, err
	}
	return ParseRegistersResponse(resp, qty)
}

// ReadCoils reads coils (FC01).
func (c *Client) ReadCoils(ctx context.Context, addr, qty uint16) ([]bool, error) {
	return c.ReadBits(ctx, Coils, addr, qty)
}

// ReadDiscreteInputs reads discrete inputs (FC02).
func (c *Client) ReadDiscreteInputs(ctx context.Context, addr, qty uint16) ([]bool, error) {
	return c.ReadBits(ctx, DiscreteInputs, addr, qty)
}

// ReadHoldingRegisters reads holding registers (FC03).
func (c *Client) ReadHoldingRegisters(ctx context.Context, addr, qty uint16) ([]uint16, error) {
	return c.ReadRegisters(ctx, HoldingRegisters, addr, qty)
}

// ReadInputRegisters reads input registers (FC04).
func (c *Client) ReadInputRegisters(ctx context.Context, addr, qty uint16) ([]uint16, error) {
	return c.ReadRegisters(ctx, InputRegisters, addr, qty)
}

// WriteSingleCoil writes a single coil (FC05).
func (c *Client) WriteSingleCoil(ctx context.Context, addr uint16, value bool) error {
	resp, err := c.send(ctx, BuildWriteSingleCoilPDU(addr, value))
	if err != nil {
		return err
	}
	want := CoilOff
	if value {
		want = CoilOn
	}
	return ParseEchoResponse(resp, addr, want)
}

// WriteSingleRegister writes a single holding register (FC06).
func (c *Client) WriteSingleRegister(ctx context.Context, addr, value uint16) error {
	resp, err := c.send(ctx, BuildWriteSingleRegisterPDU(addr, value))
	if err != nil {
		return err
	}
	return ParseEchoResponse(resp, addr, value)
}

// WriteMultipleCoils writes consecutive coils (FC15).
func (c *Client) WriteMultipleCoils(ctx context.Context, addr uint16, values []bool) error {
	pdu, err := BuildWriteMultipleCoilsPDU(addr, values)
	if err != nil {
		return err
	}
	resp, err := c.send(ctx, pdu)
	if err != nil {
		return err
	}
	return ParseEchoResponse(resp, addr, uint16(len(values)))
}

// WriteMultipleRegisters writes consecutive holding registers (FC16).
func (c *Client) WriteMultipleRegisters(ctx context.Context, addr uint16, values []uint16) error {
	pdu, err := BuildWriteMultipleRegistersPDU(addr, values)
	if err != nil {
		return err
	}
	resp, err := c.send(ctx, pdu)
	if err != nil {
		return err
	}
	return ParseEchoResponse(resp, addr, uint16(len(values)))
}
