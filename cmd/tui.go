// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/tecstat/pkg/tec"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for notices
}

// statsModel is the frame statistics TUI
type statsModel struct {
	connInfo      string
	showAll       bool
	stats         *tec.Statistics
	eventLog      []eventLogEntry
	maxLogEntries int
	synchronized  bool
	skipped       int
	width         int
	height        int
	quitting      bool
	lastState     *tec.DeviceState
}

// Messages
type tickMsg time.Time

// frameMsg carries one received frame and the result of parsing it
type frameMsg struct {
	reply      *tec.Reply
	cmd        *tec.Command
	err        error
	framingErr error
}

type stateMsg tec.DeviceState

type syncMsg struct {
	skipped int
}

// formatDuration formats a duration as a human-friendly string
func formatDuration(d time.Duration) string {
	seconds := uint64(d / time.Second)
	if seconds == 0 {
		return "0 seconds"
	}

	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	plural := func(n uint64, unit string) string {
		if n == 1 {
			return "1 " + unit
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}

	parts := []string{}
	if days > 0 {
		parts = append(parts, plural(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if seconds > 0 {
		parts = append(parts, plural(seconds, "second"))
	}

	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}

func initialStatsModel(connInfo string, showAll bool) statsModel {
	return statsModel{
		connInfo:      connInfo,
		showAll:       showAll,
		stats:         tec.NewStatistics(),
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

func (m statsModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m statsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.stats.Reset()
			m.addLogEntry("Statistics reset", false)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.stats.CalculateRates()
		return m, tickCmd()

	case syncMsg:
		m.synchronized = true
		m.skipped = msg.skipped
		if msg.skipped > 0 {
			m.addLogEntry(fmt.Sprintf("Synchronized after skipping %d frames", msg.skipped), false)
		} else {
			m.addLogEntry("Synchronized", false)
		}

	case frameMsg:
		m.applyFrame(msg)

	case stateMsg:
		s := tec.DeviceState(msg)
		m.lastState = &s
		anomalies := tec.ValidateState(s)
		m.stats.UpdateAnomalies(anomalies)
		for _, a := range anomalies {
			m.addLogEntry(fmt.Sprintf("instance %d: %s", s.Instance, a.Message), true)
		}
	}

	return m, nil
}

func (m *statsModel) applyFrame(msg frameMsg) {
	if msg.framingErr != nil {
		m.stats.UpdateFramingError()
		m.addLogEntry(fmt.Sprintf("FRAMING ERROR: %v", msg.framingErr), true)
		return
	}
	if msg.reply == nil {
		return
	}

	parseErr := replyParseErr(msg.err)
	m.stats.Update(msg.reply, parseErr)

	switch {
	case parseErr != nil:
		m.addLogEntry(fmt.Sprintf("%s %q: %v", msg.reply.Kind, msg.reply.Frame, parseErr), true)
	case msg.reply.Kind == tec.ReplyDeviceError:
		m.addLogEntry(fmt.Sprintf("DEVICE ERROR 0x%02X (%s)", uint8(msg.reply.ErrorCode), msg.reply.ErrorCode), true)
	case m.showAll:
		if msg.cmd != nil {
			m.addLogEntry(fmt.Sprintf("%s for %s", msg.reply.Kind, msg.cmd), false)
		} else {
			m.addLogEntry(fmt.Sprintf("%s %q", msg.reply.Kind, msg.reply.Frame), false)
		}
	}
}

// replyParseErr keeps only errors that mean the frame itself was bad.
// Device errors and uncorrelated replies are well-formed frames.
func replyParseErr(err error) error {
	var devErr *tec.DeviceError
	if err == nil || errors.As(err, &devErr) || errors.Is(err, tec.ErrUncorrelated) {
		return nil
	}
	return err
}

func (m *statsModel) addLogEntry(message string, isError bool) {
	entry := eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.eventLog = append(m.eventLog, entry)

	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m statsModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder
	s.WriteString(titleStyle.Render("TECSTAT - FRAME STATISTICS"))
	s.WriteString("\n")
	mode := "Errors only"
	if m.showAll {
		mode = "All frames"
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Mode: %s | 'r' reset, 'q' quit", m.connInfo, mode)))
	s.WriteString("\n\n")

	if !m.synchronized {
		s.WriteString(warningStyle.Render("⏳ Waiting for first valid reply..."))
	} else {
		s.WriteString(statsValueStyle.Render("✓ Synchronized"))
		if m.skipped > 0 {
			s.WriteString(headerStyle.Render(fmt.Sprintf(" (skipped %d frames)", m.skipped)))
		}
	}
	s.WriteString("\n\n")

	m.stats.CalculateRates()
	st := m.stats
	valid := st.AckFrames + st.ValueFrames
	bad := st.MalformedFrames + st.ChecksumErrors + st.DeviceErrors
	var validPercent, errorPercent float64
	if st.TotalFrames > 0 {
		validPercent = float64(valid) * 100.0 / float64(st.TotalFrames)
		errorPercent = float64(bad) * 100.0 / float64(st.TotalFrames)
	}

	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", st.TotalFrames)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", valid, validPercent)),
		statsLabelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", bad, errorPercent)),
	))
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s\n",
		statsLabelStyle.Render("Ack:"), statsValueStyle.Render(fmt.Sprintf("%d", st.AckFrames)),
		statsLabelStyle.Render("Value:"), statsValueStyle.Render(fmt.Sprintf("%d", st.ValueFrames)),
	))

	if st.ChecksumErrors > 0 || st.MalformedFrames > 0 || st.FramingErrors > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
			statsLabelStyle.Render("Checksum:"), errorStyle.Render(fmt.Sprintf("%d", st.ChecksumErrors)),
			statsLabelStyle.Render("Malformed:"), errorStyle.Render(fmt.Sprintf("%d", st.MalformedFrames)),
			statsLabelStyle.Render("Framing:"), errorStyle.Render(fmt.Sprintf("%d", st.FramingErrors)),
		))
	}

	if st.DeviceErrors > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s\n",
			statsLabelStyle.Render("Device Errors:"), warningStyle.Render(fmt.Sprintf("%d", st.DeviceErrors)),
		))
	}

	if st.AnomalousStates > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s\n",
			statsLabelStyle.Render("Anomalies:"), warningStyle.Render(fmt.Sprintf("%d", st.AnomalousStates)),
		))
	}

	errRate := statsValueStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
	if st.ErrorRate > 0 {
		errRate = errorStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
	}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s",
		statsLabelStyle.Render("Frame Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f frames/s", st.FrameRate)),
		statsLabelStyle.Render("Error Rate:"), errRate,
		statsLabelStyle.Render("Running:"), statsValueStyle.Render(formatDuration(time.Since(st.StartTime))),
	))

	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	if m.lastState != nil {
		ls := m.lastState
		s.WriteString(statsLabelStyle.Render(fmt.Sprintf("Instance %d:", ls.Instance)))
		s.WriteString("\n")

		stateContent := strings.Builder{}
		errText := statsValueStyle.Render("no")
		if ls.Error {
			errText = errorStyle.Render(fmt.Sprintf("yes (0x%02X)", uint8(ls.LastErrorCode)))
		}
		stateContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
			statsLabelStyle.Render("Status:"), statsValueStyle.Render(ls.Status.String()),
			statsLabelStyle.Render("Output:"), statsValueStyle.Render(onOff(ls.Enabled)),
			statsLabelStyle.Render("Error:"), errText,
		))
		stateContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s",
			statsLabelStyle.Render("Object:"), statsValueStyle.Render(fmt.Sprintf("%.2f°C", ls.ObjectTemp)),
			statsLabelStyle.Render("Sink:"), statsValueStyle.Render(fmt.Sprintf("%.2f°C", ls.SinkTemp)),
			statsLabelStyle.Render("Target:"), statsValueStyle.Render(fmt.Sprintf("%.2f°C", ls.TargetTemp)),
		))

		s.WriteString(boxStyle.Render(stateContent.String()))
		s.WriteString("\n\n")
	}

	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - 17
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
