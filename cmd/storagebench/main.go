// Package main provides the storagebench CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/willibrandon/storagebench/cmd/storagebench/commands"
)

var version = "dev"

func main() {
	if err := commands.Execute(version); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
