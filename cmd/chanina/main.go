// Package main provides the chanina command, a runner for Chanina
// applications: it starts workers, enqueues libretti by identifier, and
// inspects the registry.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
