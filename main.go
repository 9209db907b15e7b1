// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// tecstat - Thermoelectric Controller Protocol Tool
//
// A CLI tool for driving and monitoring thermoelectric controllers over
// their ASCII parameter protocol.

package main

import (
	"os"

	"github.com/Thermoquad/tecstat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
