// Package main is the entry point of the Study-UP load generator.
package main

import (
	"fmt"
	"os"

	"github.com/alem-hub/studyup-loadgen/cmd/loadgen/cmd"
)

func main() {
	if err := cmd.RootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}
