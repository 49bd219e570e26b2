// Package main is the entry point for the autonomy CLI.
package main

import (
	"os"

	"github.com/callcatcherops/autonomy/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
