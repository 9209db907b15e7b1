// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/tecstat/pkg/controller"
	"github.com/Thermoquad/tecstat/pkg/tec"
	"github.com/spf13/cobra"
)

var (
	pingCount    int
	pingInterval time.Duration
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Test the link by reading the device status",
	Long: `Send status read requests and report the round-trip time of each reply.

This is useful for verifying:
  - The serial port or WebSocket bridge is reachable
  - HTTP Basic authentication works
  - The controller answers on the selected instance
  - Checksums survive the link

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	Args: cobra.NoArgs,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
	pingCmd.Flags().DurationVar(&pingInterval, "interval", 100*time.Millisecond, "Delay between pings")
}

func runPing(cmd *cobra.Command, args []string) error {
	session, err := OpenSession()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("tecstat - Ping Test\n")
	fmt.Printf("Connection: %s\n", session.Info)
	fmt.Printf("Instance: %d, timeout: %v per ping\n", cfg.Instance(), cfg.Controller.ResponseTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	ctrl := session.Controller
	successCount := 0
	var total time.Duration

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		res, err := pingOnce(cmd.Context(), ctrl)
		switch {
		case err == nil:
			st, _ := tec.StatusFromInt(res.Value.Int())
			fmt.Printf("status=%s rtt=%v\n", st, res.RoundTrip.Round(time.Microsecond))
			successCount++
			total += res.RoundTrip
		case errors.Is(err, controller.ErrResponseTimeout):
			fmt.Printf("TIMEOUT (no reply in %v)\n", cfg.Controller.ResponseTimeout)
		default:
			fmt.Printf("FAILED: %v\n", err)
		}

		if i < pingCount {
			time.Sleep(pingInterval)
		}
	}

	m := ctrl.Metrics()
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d replies received, %.0f%% loss\n",
		pingCount, successCount, float64(pingCount-successCount)/float64(pingCount)*100)
	if successCount > 0 {
		fmt.Printf("average rtt %v\n", (total / time.Duration(successCount)).Round(time.Microsecond))
	}
	fmt.Printf("checksum errors %d, malformed %d, flushes %d\n",
		m.ChecksumErrorCount.Load(), m.MalformedCount.Load(), m.FlushCount.Load())

	_ = session.Close()
	if successCount < pingCount {
		os.Exit(1)
	}
	return nil
}

func pingOnce(ctx context.Context, ctrl *controller.Controller) (controller.Result, error) {
	if err := ctrl.WaitIdle(ctx); err != nil {
		return controller.Result{}, err
	}
	p, err := ctrl.Read(tec.ParamStatus, cfg.Instance())
	if err != nil {
		return controller.Result{}, err
	}
	return p.Wait(ctx)
}
