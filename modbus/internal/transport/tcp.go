// Package transport carries raw Modbus TCP frames over a single connection.
package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// ErrNotConnected is returned by Send before Connect or after Close.
var ErrNotConnected = errors.New("transport: not connected")

const headerSize = 7

// TCPTransport serializes request/response exchanges on one TCP connection.
type TCPTransport struct {
	addr    string
	timeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

// NewTCPTransport creates a new TCP transport.
func NewTCPTransport(addr string, timeout time.Duration) *TCPTransport {
	return &TCPTransport{
		addr:    addr,
		timeout: timeout,
	}
}

// Connect dials the remote end unless already connected.
func (t *TCPTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}

	dialer := &net.Dialer{
		Timeout:   t.timeout,
		KeepAlive: 30 * time.Second,
	}
	conn, err := dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return fmt.Errorf("tcp connect: %w", err)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	t.conn = conn
	return nil
}

// Close closes the TCP connection.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

// IsConnected returns true if the transport holds a connection.
func (t *TCPTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Send writes one request frame and reads back one response frame.
// The lock is held for the whole exchange. Any I/O failure drops the
// connection so that the next Connect starts fresh.
func (t *TCPTransport) Send(ctx context.Context, data []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil, ErrNotConnected
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(t.timeout)
	}
	if err := t.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	if _, err := t.conn.Write(data); err != nil {
		t.dropLocked()
		return nil, fmt.Errorf("write: %w", err)
	}

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(t.conn, header); err != nil {
		t.dropLocked()
		return nil, fmt.Errorf("read header: %w", err)
	}
	if pid := binary.BigEndian.Uint16(header[2:4]); pid != 0 {
		t.dropLocked()
		return nil, fmt.Errorf("invalid protocol ID: %d", pid)
	}
	length := int(binary.BigEndian.Uint16(header[4:6]))
	if length < 1 || length > 254 {
		t.dropLocked()
		return nil, fmt.Errorf("invalid length: %d", length)
	}

	frame := make([]byte, headerSize+length-1)
	copy(frame, header)
	if _, err := io.ReadFull(t.conn, frame[headerSize:]); err != nil {
		t.dropLocked()
		return nil, fmt.Errorf("read pdu: %w", err)
	}
	return frame, nil
}

// dropLocked must be called with mu held.
func (t *TCPTransport) dropLocked() {
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
}
