// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/Thermoquad/tecstat/pkg/tec"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Refresh and print the device state",
	Long: `Run one refresh cycle (status, object, sink and target temperature) and
print the decoded state together with any anomalies.

Device errors on individual reads are reported but do not stop the cycle.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	session, err := OpenSession()
	if err != nil {
		return err
	}
	defer session.Close()

	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	state, refreshErr := session.Controller.Refresh(ctx, cfg.Instance())

	fmt.Printf("tecstat - Device Status\n")
	fmt.Printf("Connection: %s\n\n", session.Info)
	fmt.Print(tec.FormatState(state))

	for _, a := range tec.ValidateState(state) {
		fmt.Printf("\033[1;33mANOMALY:\033[0m %s\n", a.Message)
	}

	if refreshErr != nil {
		fmt.Printf("\n\033[1;31mIncomplete refresh:\033[0m\n%v\n", refreshErr)
		return fmt.Errorf("refresh incomplete")
	}
	return nil
}
