// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/tecstat/pkg/tec"
	"github.com/spf13/cobra"
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw frame log in human-readable format",
	Long: `Continuously split and display protocol frames as they arrive.

Each frame is shown with timestamp, classification and raw text. Value replies
are printed with both their int32 and float32 interpretations because a
passive observer cannot know which parameter was requested. Command frames
sent by another host on the same link are shown as well.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
}

func runRawLog(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("tecstat - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	framer := tec.NewFramer()
	buf := make([]byte, 128)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			if errors.Is(err, ErrConnectionClosed) {
				log.Info("connection closed")
				return nil
			}
			return fmt.Errorf("read failed: %w", err)
		}

		frames, errs := framer.Decode(buf[:n])
		for _, ferr := range errs {
			fmt.Printf("[ERROR] %v\n", ferr)
		}
		for _, frame := range frames {
			fmt.Print(formatRawFrame(frame))
		}
	}
}

// formatRawFrame renders a reply with both value interpretations, or a
// command frame written by another host
func formatRawFrame(frame string) string {
	if len(frame) > 0 && frame[0] == tec.ReadPrefix[0] {
		return fmt.Sprintf("COMMAND len=%d %q checksum=%s\n", len(frame), frame, checksumStatus(frame))
	}

	reply, err := tec.ParseReply(frame, true)
	out := tec.FormatReply(reply, nil)
	if err != nil {
		out += fmt.Sprintf("  Error: %v\n", err)
	}
	return out
}

func checksumStatus(frame string) string {
	if tec.VerifyChecksum(frame) {
		return "OK"
	}
	return "BAD"
}
