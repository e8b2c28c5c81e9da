// Package main provides the entry point for the searchview CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/searchview/cmd/searchview/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
