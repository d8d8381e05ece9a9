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
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// DefaultPeriod is the polling period in milliseconds used when -p is absent.
const DefaultPeriod = 100

// ImportPathSeparator separates fragments of the import path parameter.
const ImportPathSeparator = ";"

// Params holds the script parameters passed on the command line.
type Params struct {
	Project    string
	ImportPath string
	MemID      string
	Period     int
}

// DefaultParams returns the parameters in effect when no arguments are given.
func DefaultParams() Params {
	return Params{Period: DefaultPeriod}
}

// BindFlags registers the head flags on fs, using the current values of p
// as defaults. The multi-letter aliases -prj and -imp are handled by
// NormalizeArgs.
func BindFlags(fs *pflag.FlagSet, p *Params) {
	fs.StringVar(&p.Project, "project", p.Project, "project file or name (alias -prj)")
	fs.StringVar(&p.ImportPath, "importpath", p.ImportPath, "semicolon separated import path (alias -imp)")
	fs.StringVarP(&p.MemID, "memid", "i", p.MemID, "device memory identifier or tcp://host:port/unit")
	fs.VarP((*periodValue)(&p.Period), "period", "p", "polling period in milliseconds")
}

// ParsePeriod parses a polling period in decimal milliseconds. Leading zeros
// do not select octal and base prefixes are rejected.
func ParsePeriod(s string) (int, error) {
	ms, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid period %q: must be decimal milliseconds", s)
	}
	return ms, nil
}

// periodValue is an int flag parsed by ParsePeriod.
type periodValue int

func (v *periodValue) Set(s string) error {
	ms, err := ParsePeriod(s)
	if err != nil {
		return err
	}
	*v = periodValue(ms)
	return nil
}

func (v *periodValue) String() string { return strconv.Itoa(int(*v)) }

func (v *periodValue) Type() string { return "int" }

var longAliases = map[string]string{
	"-prj": "--project",
	"-imp": "--importpath",
}

// valueFlags take their value from the following argument unless written
// as flag=value.
var valueFlags = map[string]bool{
	"-prj": true, "--project": true,
	"-imp": true, "--importpath": true,
	"-i": true, "--memid": true,
	"-p": true, "--period": true,
}

// NormalizeArgs rewrites -prj and -imp to their long forms. Flag values and
// everything after "--" are left as is.
func NormalizeArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return append(out, args[i:]...)
		}

		name, value, hasValue := strings.Cut(arg, "=")
		if long, ok := longAliases[name]; ok {
			if hasValue {
				arg = long + "=" + value
			} else {
				arg = long
			}
		}
		out = append(out, arg)

		if valueFlags[name] && !hasValue && i+1 < len(args) {
			i++
			out = append(out, args[i])
		}
	}
	return out
}

// ParseParams parses the head flags from args (without the program name).
func ParseParams(args []string) (Params, error) {
	p := DefaultParams()

	fs := pflag.NewFlagSet("mbscript", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	BindFlags(fs, &p)

	if err := fs.Parse(NormalizeArgs(args)); err != nil {
		return Params{}, fmt.Errorf("mbscript: %w", err)
	}
	if fs.NArg() > 0 {
		return Params{}, fmt.Errorf("%w: %s", ErrUnexpectedArgs, strings.Join(fs.Args(), " "))
	}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Validate checks parameter values.
func (p Params) Validate() error {
	if p.Period < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPeriod, p.Period)
	}
	return nil
}

// ImportPaths splits the import path on semicolons. An empty import path
// yields a single empty fragment.
func (p Params) ImportPaths() []string {
	return strings.Split(p.ImportPath, ImportPathSeparator)
}

// PeriodSeconds returns the period in seconds.
func (p Params) PeriodSeconds() float64 {
	return float64(p.Period) / 1000
}

// PeriodDuration returns the period as a time.Duration.
func (p Params) PeriodDuration() time.Duration {
	return time.Duration(p.Period) * time.Millisecond
}
