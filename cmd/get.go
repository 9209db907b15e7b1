// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Thermoquad/tecstat/pkg/tec"
	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get <param>",
	Short: "Read one parameter",
	Long: `Send a single read request and print the decoded value.

The parameter is given by name (see 'tecstat params').`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

var setCmd = &cobra.Command{
	Use:   "set <param> <value>",
	Short: "Write one parameter",
	Long: `Send a single write request and wait for the acknowledgment.

Integer parameters take whole numbers; float parameters take decimal values.
Writing auto_reset makes the controller re-read the device status.`,
	Args: cobra.ExactArgs(2),
	RunE: runSet,
}

func init() {
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(setCmd)
}

func runGet(cmd *cobra.Command, args []string) error {
	d, err := registry.Lookup(args[0])
	if err != nil {
		return err
	}

	session, err := OpenSession()
	if err != nil {
		return err
	}
	defer session.Close()

	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	v, err := session.Controller.Get(ctx, d.Name, cfg.Instance())
	if err != nil {
		return fmt.Errorf("read %s: %w", d.Name, err)
	}

	fmt.Printf("%s[%d] = %s\n", d.Name, cfg.Instance(), formatParamValue(d, v))
	return nil
}

func runSet(cmd *cobra.Command, args []string) error {
	d, err := registry.Lookup(args[0])
	if err != nil {
		return err
	}
	if !d.Writable() {
		return fmt.Errorf("%s: %w", d.Name, tec.ErrReadOnly)
	}

	x, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid value %q: %w", args[1], err)
	}
	if _, err := tec.NewValue(d.Type, x); err != nil {
		return err
	}

	session, err := OpenSession()
	if err != nil {
		return err
	}
	defer session.Close()

	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	if err := session.Controller.Set(ctx, d.Name, cfg.Instance(), x); err != nil {
		return fmt.Errorf("write %s: %w", d.Name, err)
	}

	// auto_reset chains a status read; wait for it so the state is current
	if err := session.Controller.WaitIdle(ctx); err != nil {
		return err
	}

	fmt.Printf("%s[%d] <- %s OK\n", d.Name, cfg.Instance(), args[1])
	if d.Name == tec.ParamAutoReset {
		fmt.Printf("status[%d] = %s\n", cfg.Instance(), session.Controller.State(cfg.Instance()).Status)
	}
	return nil
}

// commandContext bounds a one-shot command by a few response timeouts
func commandContext(parent context.Context) (context.Context, context.CancelFunc) {
	if cfg.Controller.ResponseTimeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, 4*cfg.Controller.ResponseTimeout+500*time.Millisecond)
}

func formatParamValue(d tec.ParameterDescriptor, v tec.Value) string {
	switch d.Name {
	case tec.ParamStatus:
		if st, err := tec.StatusFromInt(v.Int()); err == nil {
			return fmt.Sprintf("%d (%s)", v.Int(), st)
		}
	case tec.ParamOutput:
		return fmt.Sprintf("%d (%s)", v.Int(), onOff(v.Int() != 0))
	}
	if d.Type == tec.Float32 {
		return fmt.Sprintf("%.3f", v.Float())
	}
	return v.String()
}
