// Package main provides the mbscript command line: the Modbus script head
// plus commands to inspect, drive and serve device memory.
package main

import (
	"os"

	"github.com/tebeka/atexit"

	"github.com/edgeo-scada/mbscript"
)

var version = "1.0.0"

func main() {
	rootCmd.SetArgs(mbscript.NormalizeArgs(os.Args[1:]))
	if err := rootCmd.Execute(); err != nil {
		outputError(os.Stderr, "%v", err)
		atexit.Exit(1)
	}
	atexit.Exit(0)
}
