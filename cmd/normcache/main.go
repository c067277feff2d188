// Package main is the normcache command.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/normcache/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
