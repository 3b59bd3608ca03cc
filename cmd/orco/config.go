// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import "github.com/spirali/orco/internal/value"

// parseConfig decodes a JSON5 config literal (spec §6 "JSON5 is accepted
// for configs") into a value.Value via internal/value.ParseJSON5, the
// store's own config-literal decoder.
func parseConfig(text string) (value.Value, error) {
	return value.ParseJSON5([]byte(text))
}
