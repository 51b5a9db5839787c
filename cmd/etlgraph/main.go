// Package main provides the etlgraph CLI.
package main

import (
	"os"

	"github.com/leapstack-labs/etlgraph/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
