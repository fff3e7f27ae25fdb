// Package main provides the entry point for the hybridrag CLI.
package main

import (
	"os"

	"github.com/hybridrag/hybridrag/cmd/hybridrag/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(cmd.ExitCode(err))
	}
}
