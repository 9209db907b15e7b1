// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var paramsCmd = &cobra.Command{
	Use:   "params",
	Short: "List known parameters",
	Long: `List every parameter of the active registry with its protocol id,
value type and access mode.

The built-in set is used unless the configuration file defines a parameters
table.`,
	Args: cobra.NoArgs,
	RunE: runParams,
}

func init() {
	rootCmd.AddCommand(paramsCmd)
}

func runParams(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tID\tHEX\tTYPE\tACCESS")
	for _, p := range registry.Parameters() {
		fmt.Fprintf(w, "%s\t%d\t%04X\t%s\t%s\n", p.Name, p.ID, p.ID, p.Type, p.Access)
	}
	return w.Flush()
}
