// Package main provides the entry point for the vecdb CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/vecdb/cmd/vecdb/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
