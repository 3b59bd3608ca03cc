// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spirali/orco"
	"github.com/spirali/orco/pkg/config"
)

var (
	// Global flags
	dbURL string

	rootCmd = &cobra.Command{
		Use:   "orco",
		Short: "Organized Computing: a persistent, dependency-aware computation cache",
		Long:  `orco plans, caches, and executes builder computations against a persistent store.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&dbURL, "db", "d", "", "store URL (env: ORCO_DB)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(computeCmd)
	rootCmd.AddCommand(dropCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(freeCmd)
	rootCmd.AddCommand(dropBuilderCmd)
}

// openRuntime opens a Runtime against the CLI's store URL. This binary
// registers no builders of its own (spec §6's CLI surface is described "so
// an implementer can write equivalent tooling" — the builders computed
// against are always the caller's own Go code, linked into a program that
// embeds orco.Runtime directly). Commands here that don't need a builder
// (serve, drop, archive, free, drop-builder) work unconditionally; compute
// succeeds only when the target key is already cached, and otherwise fails
// with the same "no builder registered" error a hand-rolled tool would hit.
func openRuntime() (*orco.Runtime, error) {
	cfg := config.NewDefault()
	cfg.Load()
	if dbURL != "" {
		cfg.StoreURL = dbURL
	}
	return orco.Open(cfg)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
