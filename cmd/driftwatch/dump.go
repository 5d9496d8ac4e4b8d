package main

import (
	"os"

	"github.com/driftwatch/driftwatch/internal/miner"
)

// applyDumpMode reroutes the miner into its one-shot dump. The tree goes to
// stdout while the stdlib log keeps writing to stderr, so the output stays
// machine-readable.
func applyDumpMode(cfg *miner.Config) {
	cfg.Dump = true
	cfg.DumpTo = os.Stdout
}
