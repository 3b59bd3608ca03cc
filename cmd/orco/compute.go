// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spirali/orco/internal/key"
	"github.com/spirali/orco/internal/value"
)

var computeCmd = &cobra.Command{
	Use:   "compute <builder> <config-json5>",
	Short: "Plan and compute a job, printing its resolved value",
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

		v, err := rt.Compute(context.Background(), args[0], cfg)
		if err != nil {
			return err
		}
		fmt.Printf("%-56s %s\n", key.Canonical(args[0], cfg), value.Encode(v))
		return nil
	},
}
