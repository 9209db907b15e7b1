// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/tecstat/pkg/controller"
	"github.com/Thermoquad/tecstat/pkg/tec"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
	pollDevice    bool
)

var frameStatsCmd = &cobra.Command{
	Use:   "frame_stats",
	Short: "Track reply frame statistics, errors and anomalies",
	Long: `Track reply frames, malformed data and implausible device state with statistics.

This command classifies each reply frame and detects:
  - Malformed frames (unexpected length, non-hex value fields)
  - Checksum mismatches and oversized frames
  - Device error replies
  - Anomalous state (object temperature out of range, sink overheating)

By default the link is observed passively. With --poll the tool drives refresh
cycles itself so values can be decoded and validated.

By default, only errors are displayed. Use --show-all to display valid frames too.`,
	RunE: runFrameStats,
}

func init() {
	rootCmd.AddCommand(frameStatsCmd)
	frameStatsCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames (not just errors)")
	frameStatsCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds, text mode)")
	frameStatsCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
	frameStatsCmd.Flags().BoolVar(&pollDevice, "poll", false, "Poll the device with refresh cycles")
}

func runFrameStats(cmd *cobra.Command, args []string) error {
	events := make(chan tea.Msg, 64)
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var info string
	if pollDevice {
		session, err := OpenSession(controller.WithObserver(frameObserver(events)))
		if err != nil {
			return err
		}
		defer session.Close()
		info = session.Info
		go pollLoop(ctx, session.Controller, events)
	} else {
		conn, connInfo, err := OpenConnection()
		if err != nil {
			return err
		}
		defer conn.Close()
		info = connInfo
		go passiveReader(conn, events)
	}

	if useTUI {
		return runStatsTUI(info, events)
	}
	return runStatsText(ctx, info, events)
}

// frameObserver forwards reply events. It drops events the consumer cannot
// take so the receive path never blocks.
func frameObserver(events chan<- tea.Msg) controller.Observer {
	send := func(msg tea.Msg) {
		select {
		case events <- msg:
		default:
		}
	}
	synced := false
	return controller.ObserverFuncs{
		OnReply: func(reply *tec.Reply, cmd *tec.Command, err error) {
			if !synced && err == nil {
				synced = true
				send(syncMsg{})
			}
			send(frameMsg{reply: reply, cmd: cmd, err: err})
		},
	}
}

func pollLoop(ctx context.Context, ctrl *controller.Controller, events chan<- tea.Msg) {
	ticker := time.NewTicker(cfg.Controller.RefreshInterval)
	defer ticker.Stop()

	for {
		state, err := ctrl.Refresh(ctx, cfg.Instance())
		if err != nil {
			if errors.Is(err, controller.ErrClosed) || ctx.Err() != nil {
				return
			}
			log.WithError(err).Debug("refresh incomplete")
		}

		select {
		case events <- stateMsg(state):
		case <-ctx.Done():
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// passiveReader splits the raw stream into frames and classifies each one.
// Errors before the first valid reply are counted as skipped.
func passiveReader(conn Connection, events chan<- tea.Msg) {
	framer := tec.NewFramer()
	synchronized := false
	skipped := 0
	buf := make([]byte, 128)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			log.WithError(err).Warn("read failed, stopping")
			close(events)
			return
		}

		frames, framingErrs := framer.Decode(buf[:n])
		if synchronized {
			for _, ferr := range framingErrs {
				events <- frameMsg{framingErr: ferr}
			}
		}

		for _, frame := range frames {
			reply, perr := tec.ParseReply(frame, cfg.Controller.VerifyChecksum)
			if !synchronized {
				if perr != nil {
					skipped++
					continue
				}
				synchronized = true
				events <- syncMsg{skipped: skipped}
			}
			events <- frameMsg{reply: reply, err: perr}
		}
	}
}

func runStatsTUI(info string, events <-chan tea.Msg) error {
	p := tea.NewProgram(initialStatsModel(info, showAll))

	go func() {
		for msg := range events {
			p.Send(msg)
		}
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// runStatsText prints errors as they arrive and periodic summaries
func runStatsText(ctx context.Context, info string, events <-chan tea.Msg) error {
	fmt.Printf("tecstat - Frame Statistics\n")
	fmt.Printf("Connection: %s\n", info)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	stats := tec.NewStatistics()
	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case msg, ok := <-events:
			if !ok {
				fmt.Print(stats.String())
				return nil
			}
			printStatsEvent(stats, msg)

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()
		}
	}
}

func printStatsEvent(stats *tec.Statistics, msg tea.Msg) {
	timestamp := time.Now().Format("15:04:05.000")

	switch msg := msg.(type) {
	case syncMsg:
		if msg.skipped > 0 {
			fmt.Printf("[SYNC] Synchronized after skipping %d frames\n\n", msg.skipped)
		} else {
			fmt.Printf("[SYNC] Synchronized\n\n")
		}

	case frameMsg:
		if msg.framingErr != nil {
			stats.UpdateFramingError()
			fmt.Printf("[%s] \033[1;31mFRAMING ERROR:\033[0m %v\n\n", timestamp, msg.framingErr)
			return
		}

		parseErr := replyParseErr(msg.err)
		stats.Update(msg.reply, parseErr)

		switch {
		case parseErr != nil:
			fmt.Printf("[%s] \033[1;31mPROTOCOL ERROR:\033[0m %v\n", timestamp, parseErr)
			fmt.Printf("  >>> FRAME REJECTED <<<\n\n")
		case msg.reply.Kind == tec.ReplyDeviceError || showAll:
			fmt.Print(tec.FormatReply(msg.reply, msg.cmd))
		}

	case stateMsg:
		s := tec.DeviceState(msg)
		anomalies := tec.ValidateState(s)
		stats.UpdateAnomalies(anomalies)
		for i, a := range anomalies {
			fmt.Printf("[%s] \033[1;33mANOMALY %d:\033[0m instance %d: %s\n", timestamp, i+1, s.Instance, a.Message)
		}
		if len(anomalies) > 0 {
			fmt.Println()
		}
	}
}
