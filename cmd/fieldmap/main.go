// Package main provides the fieldmap CLI entry point.
// fieldmap is the offline-first boundary mapping tool of AgriTrace.
package main

import (
	"fmt"
	"os"

	"github.com/agritrace/fieldmap/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
