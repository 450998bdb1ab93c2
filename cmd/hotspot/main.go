// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Command hotspot exercises the hotspot delete-tracking core from the
// command line: a micro-benchmark of the delete-count table's operations
// and a workload simulation against the in-memory test engine.
package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "hotspot [command] (flags)",
	Short: "hotspot delete-tracking benchmarking/introspection tool",
	Long:  ``,
}

func main() {
	log.SetFlags(0)

	cobra.EnableCommandSorting = false
	rootCmd.AddCommand(
		benchCmd,
		simulateCmd,
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
