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

import "errors"

var (
	// ErrInvalidPeriod indicates a negative polling period.
	ErrInvalidPeriod = errors.New("mbscript: period must not be negative")

	// ErrUnexpectedArgs indicates positional arguments the head does not accept.
	ErrUnexpectedArgs = errors.New("mbscript: unrecognized arguments")

	// ErrNotFound indicates a file or module missing from the search path.
	ErrNotFound = errors.New("mbscript: not found")

	// ErrInvalidAddress indicates a malformed memory address.
	ErrInvalidAddress = errors.New("mbscript: invalid address")

	// ErrInvalidDevice indicates a malformed device URL or configuration.
	ErrInvalidDevice = errors.New("mbscript: invalid device")

	// ErrDeviceClosed is returned by region access after the device is closed.
	ErrDeviceClosed = errors.New("mbscript: device closed")

	// ErrStop may be returned by a loop body to end Loop without error.
	ErrStop = errors.New("mbscript: stop")
)
