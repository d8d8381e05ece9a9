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
	"log/slog"
	"time"
)

// Option is a functional option for configuring the client.
type Option func(*clientOptions)

type clientOptions struct {
	unitID  UnitID
	timeout time.Duration

	autoReconnect    bool
	reconnectBackoff time.Duration
	maxReconnectTime time.Duration
	maxRetries       int

	onConnect    func()
	onDisconnect func(error)

	logger *slog.Logger
}

func defaultOptions() *clientOptions {
	return &clientOptions{
		unitID:           1,
		timeout:          DefaultTimeout,
		reconnectBackoff: 100 * time.Millisecond,
		maxReconnectTime: 5 * time.Second,
		maxRetries:       3,
		logger:           slog.Default(),
	}
}

// WithUnitID sets the unit ID for requests.
func WithUnitID(id UnitID) Option {
	return func(o *clientOptions) {
		o.unitID = id
	}
}

// WithTimeout sets the dial and request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.timeout = d
	}
}

// WithAutoReconnect retries failed requests after reconnecting.
func WithAutoReconnect(enable bool) Option {
	return func(o *clientOptions) {
		o.autoReconnect = enable
	}
}

// WithReconnectBackoff sets the initial backoff between reconnection attempts.
func WithReconnectBackoff(d time.Duration) Option {
	return func(o *clientOptions) {
		o.reconnectBackoff = d
	}
}

// WithMaxReconnectTime caps the backoff between reconnection attempts.
func WithMaxReconnectTime(d time.Duration) Option {
	return func(o *clientOptions) {
		o.maxReconnectTime = d
	}
}

// WithMaxRetries sets the number of attempts per request when auto-reconnect is on.
func WithMaxRetries(n int) Option {
	return func(o *clientOptions) {
		o.maxRetries = n
	}
}

// WithOnConnect sets a callback run after each successful connect.
func WithOnConnect(fn func()) Option {
	return func(o *clientOptions) {
		o.onConnect = fn
	}
}

// WithOnDisconnect sets a callback run when the connection is dropped.
func WithOnDisconnect(fn func(error)) Option {
	return func(o *clientOptions) {
		o.onDisconnect = fn
	}
}

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// ServerOption is a functional option for configuring the server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	logger      *slog.Logger
	maxConns    int
	readTimeout time.Duration
	unitID      UnitID
	anyUnit     bool
}

func defaultServerOptions() *serverOptions {
	return &serverOptions{
		logger:      slog.Default(),
		maxConns:    16,
		readTimeout: 30 * time.Second,
		anyUnit:     true,
	}
}

// WithServerLogger sets the logger for the server.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(o *serverOptions) {
		o.logger = logger
	}
}

// WithMaxConnections sets the maximum number of concurrent connections.
func WithMaxConnections(n int) ServerOption {
	return func(o *serverOptions) {
		o.maxConns = n
	}
}

// WithReadTimeout sets the idle read timeout for client connections.
func WithReadTimeout(d time.Duration) ServerOption {
	return func(o *serverOptions) {
		o.readTimeout = d
	}
}

// WithServerUnitID restricts the server to a single unit ID. Requests for
// other units get no response, as a gateway without that target would.
func WithServerUnitID(id UnitID) ServerOption {
	return func(o *serverOptions) {
		o.unitID = id
		o.anyUnit = false
	}
}
