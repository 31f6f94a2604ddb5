// Package main is the countertop command. It runs a Countertop built from
// a configuration file and inspects the topology that configuration
// produces.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/c360/countertop/errors"
)

// Build information
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "countertop"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
