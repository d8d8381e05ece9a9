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
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// SearchPath is an ordered list of directories used to locate projects and
// script modules. An empty entry stands for the working directory.
type SearchPath struct {
	fs afero.Fs

	mu   sync.RWMutex
	dirs []string
}

// NewSearchPath creates a search path over fs.
func NewSearchPath(fs afero.Fs, dirs ...string) *SearchPath {
	return &SearchPath{
		fs:   fs,
		dirs: append([]string(nil), dirs...),
	}
}

// Insert places dirs before position i. Out of range positions are clamped.
func (s *SearchPath) Insert(i int, dirs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i = max(0, min(i, len(s.dirs)))
	s.dirs = append(s.dirs[:i], append(append([]string(nil), dirs...), s.dirs[i:]...)...)
}

// Extend appends dirs, keeping their order.
func (s *SearchPath) Extend(dirs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirs = append(s.dirs, dirs...)
}

// Dirs returns a copy of the entries.
func (s *SearchPath) Dirs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.dirs...)
}

// Len returns the number of entries.
func (s *SearchPath) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.dirs)
}

func (s *SearchPath) String() string {
	return strings.Join(s.Dirs(), ImportPathSeparator)
}

// Find returns the first existing dir/name. Absolute names are checked as is.
func (s *SearchPath) Find(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrNotFound)
	}
	if filepath.IsAbs(name) {
		if ok, _ := afero.Exists(s.fs, name); ok {
			return filepath.Clean(name), nil
		}
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	for _, dir := range s.Dirs() {
		candidate := filepath.Join(dir, name)
		if ok, _ := afero.Exists(s.fs, candidate); ok {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s in %q", ErrNotFound, name, s.String())
}
