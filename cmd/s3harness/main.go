// Package main is the entry point for the s3harness lifecycle orchestrator.
package main

import (
	"os"

	"github.com/kumasuke/s3harness/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
