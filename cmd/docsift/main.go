// Package main provides the entry point for the docsift CLI.
package main

import (
	"fmt"
	"os"

	"github.com/docsift/docsift/cmd/docsift/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
