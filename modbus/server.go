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
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Server is a Modbus TCP server exposing a Handler.
type Server struct {
	handler Handler
	opts    *serverOptions

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   atomic.Bool
	wg       sync.WaitGroup
	metrics  *ServerMetrics
}

// NewServer creates a new Modbus TCP server.
func NewServer(handler Handler, opts ...ServerOption) *Server {
	options := defaultServerOptions()
	for _, opt := range opts {
		opt(options)
	}

	return &Server{
		handler: handler,
		opts:    options,
		conns:   make(map[net.Conn]struct{}),
		metrics: &ServerMetrics{},
	}
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *ServerMetrics {
	return s.metrics
}

// ListenAndServe listens on addr and serves until ctx is done or Close is called.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	return s.Serve(listener)
}

// Serve accepts connections on listener until Close is called.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		listener.Close()
		return nil
	}
	s.listener = listener
	s.mu.Unlock()
	s.opts.logger.Info("server started", slog.String("addr", listener.Addr().String()))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.opts.logger.Error("accept error", slog.String("error", err.Error()))
			continue
		}

		s.mu.Lock()
		if len(s.conns) >= s.opts.maxConns {
			s.mu.Unlock()
			s.opts.logger.Warn("max connections reached, rejecting",
				slog.String("remote", conn.RemoteAddr().String()))
			conn.Close()
			continue
		}
		s.conns[conn] = struct{}{}
		s.metrics.ActiveConns.Add(1)
		s.metrics.TotalConns.Add(1)
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Close stops the listener, drops all connections and waits for handlers.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.opts.logger.Info("server stopped")
	return err
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ActiveConnections returns the number of open client connections.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) handleConn(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	defer func() {
		if r := recover(); r != nil {
			s.opts.logger.Error("panic in connection handler",
				slog.String("remote", remote),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}

		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.metrics.ActiveConns.Add(-1)
		s.mu.Unlock()
		s.wg.Done()
	}()

	s.opts.logger.Debug("connection accepted", slog.String("remote", remote))

	for !s.closed.Load() {
		if s.opts.readTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.opts.readTimeout))
		}

		req, err := ReadFrame(conn)
		if err != nil {
			var netErr net.Error
			quiet := errors.Is(err, io.EOF) || s.closed.Load() ||
				(errors.As(err, &netErr) && netErr.Timeout())
			if !quiet {
				s.opts.logger.Debug("read error",
					slog.String("remote", remote),
					slog.String("error", err.Error()))
			}
			return
		}

		s.metrics.RequestsTotal.Add(1)
		if !s.opts.anyUnit && req.Header.UnitID != s.opts.unitID {
			continue
		}

		resp := Frame{
			Header: MBAPHeader{
				TransactionID: req.Header.TransactionID,
				ProtocolID:    ProtocolID,
				UnitID:        req.Header.UnitID,
			},
			PDU: s.process(req.Header.UnitID, req.PDU),
		}
		if IsExceptionResponse(resp.PDU) {
			s.metrics.Exceptions.Add(1)
		}

		if s.opts.readTimeout > 0 {
			conn.SetWriteDeadline(time.Now().Add(s.opts.readTimeout))
		}
		if _, err := conn.Write(resp.Encode()); err != nil {
			s.opts.logger.Debug("write error",
				slog.String("remote", remote),
				slog.String("error", err.Error()))
			return
		}
		s.metrics.RequestsSuccess.Add(1)
	}
}

func exception(fc FunctionCode, ec ExceptionCode) []byte {
	return []byte{byte(fc) | 0x80, byte(ec)}
}

// process turns a request PDU into a response PDU; it never fails, errors
// are reported as exception responses.
func (s *Server) process(unitID UnitID, pdu []byte) []byte {
	fc := FunctionCode(pdu[0])

	s.opts.logger.Debug("processing request",
		slog.Uint64("unit_id", uint64(unitID)),
		slog.String("func", fc.String()))

	var (
		resp []byte
		err  error
	)
	switch fc {
	case FuncReadCoils:
		resp, err = s.readBits(unitID, Coils, pdu)
	case FuncReadDiscreteInputs:
		resp, err = s.readBits(unitID, DiscreteInputs, pdu)
	case FuncReadHoldingRegisters:
		resp, err = s.readRegisters(unitID, HoldingRegisters, pdu)
	case FuncReadInputRegisters:
		resp, err = s.readRegisters(unitID, InputRegisters, pdu)
	case FuncWriteSingleCoil:
		resp, err = s.writeSingleCoil(unitID, pdu)
	case FuncWriteSingleRegister:
		resp, err = s.writeSingleRegister(unitID, pdu)
	case FuncWriteMultipleCoils:
		resp, err = s.writeMultipleCoils(unitID, pdu)
	case FuncWriteMultipleRegisters:
		resp, err = s.writeMultipleRegisters(unitID, pdu)
	default:
		return exception(fc, ExceptionIllegalFunction)
	}
	if err == nil {
		return resp
	}

	var modbusErr *ModbusError
	if errors.As(err, &modbusErr) {
		return exception(fc, modbusErr.ExceptionCode)
	}
	s.opts.logger.Error("handler error",
		slog.String("func", fc.String()),
		slog.String("error", err.Error()))
	return exception(fc, ExceptionServerDeviceFailure)
}

// decodeRange validates the address/quantity pair common to reads and
// multiple writes.
func decodeRange(fc FunctionCode, pdu []byte, minLen, maxQty int) (addr, qty uint16, err error) {
	if len(pdu) < minLen {
		return 0, 0, NewModbusError(fc, ExceptionIllegalDataValue)
	}
	addr = binary.BigEndian.Uint16(pdu[1:3])
	qty = binary.BigEndian.Uint16(pdu[3:5])
	if qty < 1 || int(qty) > maxQty {
		return 0, 0, NewModbusError(fc, ExceptionIllegalDataValue)
	}
	if int(addr)+int(qty) > MaxTableSize {
		return 0, 0, NewModbusError(fc, ExceptionIllegalDataAddress)
	}
	return addr, qty, nil
}

func (s *Server) readBits(unitID UnitID, t Table, pdu []byte) ([]byte, error) {
	fc := ReadFunction(t)
	addr, qty, err := decodeRange(fc, pdu, 5, MaxQuantityBits)
	if err != nil {
		return nil, err
	}
	values, err := s.handler.ReadBits(unitID, t, addr, qty)
	if err != nil {
		return nil, err
	}
	if len(values) != int(qty) {
		return nil, NewModbusError(fc, ExceptionServerDeviceFailure)
	}
	packed := PackBits(values)
	return append([]byte{byte(fc), byte(len(packed))}, packed...), nil
}

func (s *Server) readRegisters(unitID UnitID, t Table, pdu []byte) ([]byte, error) {
	fc := ReadFunction(t)
	addr, qty, err := decodeRange(fc, pdu, 5, MaxQuantityRegisters)
	if err != nil {
		return nil, err
	}
	values, err := s.handler.ReadRegisters(unitID, t, addr, qty)
	if err != nil {
		return nil, err
	}
	if len(values) != int(qty) {
		return nil, NewModbusError(fc, ExceptionServerDeviceFailure)
	}
	resp := make([]byte, 2+2*len(values))
	resp[0] = byte(fc)
	resp[1] = byte(2 * len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(resp[2+2*i:], v)
	}
	return resp, nil
}

func (s *Server) writeSingleCoil(unitID UnitID, pdu []byte) ([]byte, error) {
	if len(pdu) < 5 {
		return nil, NewModbusError(FuncWriteSingleCoil, ExceptionIllegalDataValue)
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	var value bool
	switch binary.BigEndian.Uint16(pdu[3:5]) {
	case CoilOn:
		value = true
	case CoilOff:
	default:
		return nil, NewModbusError(FuncWriteSingleCoil, ExceptionIllegalDataValue)
	}
	if err := s.handler.WriteBits(unitID, Coils, addr, []bool{value}); err != nil {
		return nil, err
	}
	return append([]byte(nil), pdu[:5]...), nil
}

func (s *Server) writeSingleRegister(unitID UnitID, pdu []byte) ([]byte, error) {
	if len(pdu) < 5 {
		return nil, NewModbusError(FuncWriteSingleRegister, ExceptionIllegalDataValue)
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	value := binary.BigEndian.Uint16(pdu[3:5])
	if err := s.handler.WriteRegisters(unitID, HoldingRegisters, addr, []uint16{value}); err != nil {
		return nil, err
	}
	return append([]byte(nil), pdu[:5]...), nil
}

func (s *Server) writeMultipleCoils(unitID UnitID, pdu []byte) ([]byte, error) {
	addr, qty, err := decodeRange(FuncWriteMultipleCoils, pdu, 6, MaxQuantityWriteBits)
	if err != nil {
		return nil, err
	}
	byteCount := int(pdu[5])
	if byteCount != (int(qty)+7)/8 || len(pdu) < 6+byteCount {
		return nil, NewModbusError(FuncWriteMultipleCoils, ExceptionIllegalDataValue)
	}
	if err := s.handler.WriteBits(unitID, Coils, addr, UnpackBits(pdu[6:], int(qty))); err != nil {
		return nil, err
	}
	return append([]byte(nil), pdu[:5]...), nil
}

func (s *Server) writeMultipleRegisters(unitID UnitID, pdu []byte) ([]byte, error) {
	addr, qty, err := decodeRange(FuncWriteMultipleRegisters, pdu, 6, MaxQuantityWriteRegisters)
	if err != nil {
		return nil, err
	}
	byteCount := int(pdu[5])
	if byteCount != 2*int(qty) || len(pdu) < 6+byteCount {
		return nil, NewModbusError(FuncWriteMultipleRegisters, ExceptionIllegalDataValue)
	}
	values := make([]uint16, qty)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(pdu[6+2*i:])
	}
	if err := s.handler.WriteRegisters(unitID, HoldingRegisters, addr, values); err != nil {
		return nil, err
	}
	return append([]byte(nil), pdu[:5]...), nil
}
