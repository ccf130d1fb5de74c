// Package main provides the entry point for the orc-change CLI.
package main

import (
	"fmt"
	"os"

	"github.com/randalmurphal/orc-change/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitCode(err))
	}
}
