// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/spirali/orco/internal/httpapi"
)

var servePort int

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "port to listen on")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the browser REST surface",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		srv := httpapi.NewServer(rt.Store(), rt.Logger())
		addr := fmt.Sprintf(":%d", servePort)
		fmt.Printf("orco serving on %s\n", addr)
		return http.ListenAndServe(addr, srv)
	},
}
