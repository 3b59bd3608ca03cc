// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/spirali/orco/internal/key"
	orcoctx "github.com/spirali/orco/pkg/context"
)

var dropUpstream, archiveUpstream, dropBuilderUpstream bool

func init() {
	dropCmd.Flags().BoolVar(&dropUpstream, "upstream", false, "also drop this job's dependency closure")
	archiveCmd.Flags().BoolVar(&archiveUpstream, "upstream", false, "also archive this job's dependency closure")
	dropBuilderCmd.Flags().BoolVar(&dropBuilderUpstream, "upstream", false, "also drop each dropped job's dependency closure")
}

var dropCmd = &cobra.Command{
	Use:   "drop <builder> <config-json5>",
	Short: "Drop a job (and optionally its upstream dependencies) from the store",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := parseConfig(args[1])
		if err != nil {
			return err
		}
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		k := key.Canonical(args[0], cfg)
		ctx, cancel := orcoctx.EnsureTimeout(context.Background(), orcoctx.DefaultLongTimeout)
		defer cancel()
		return rt.Store().DropKeys(ctx, []string{k}, dropUpstream)
	},
}

var archiveCmd = &cobra.Command{
	Use:   "archive <builder> <config-json5>",
	Short: "Archive a job (and optionally its upstream dependencies), keeping it out of future plans",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := parseConfig(args[1])
		if err != nil {
			return err
		}
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		k := key.Canonical(args[0], cfg)
		ctx, cancel := orcoctx.EnsureTimeout(context.Background(), orcoctx.DefaultLongTimeout)
		defer cancel()
		return rt.Store().ArchiveKeys(ctx, []string{k}, archiveUpstream)
	},
}

var freeCmd = &cobra.Command{
	Use:   "free <builder> <config-json5>",
	Short: "Free a Finished job's blobs while keeping its row (spec state Freed)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := parseConfig(args[1])
		if err != nil {
			return err
		}
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		k := key.Canonical(args[0], cfg)
		ctx, cancel := orcoctx.EnsureTimeout(context.Background(), orcoctx.DefaultLongTimeout)
		defer cancel()
		return rt.Store().FreeKeys(ctx, []string{k})
	},
}

var dropBuilderCmd = &cobra.Command{
	Use:   "drop-builder <name>",
	Short: "Drop every job of a builder from the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		ctx, cancel := orcoctx.EnsureTimeout(context.Background(), orcoctx.DefaultLongTimeout)
		defer cancel()
		return rt.Store().DropBuilder(ctx, args[0], dropBuilderUpstream)
	},
}
