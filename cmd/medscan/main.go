// Package main provides the medscan command line tool.
package main

import (
	"fmt"
	"os"

	"github.com/medsnap/rxscan/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
