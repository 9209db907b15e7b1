// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/tecstat/pkg/tec"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

// Focus states
const (
	focusNone = iota
	focusTarget
	focusReset
	focusCount
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// controlModel is the Bubble Tea model for the control TUI
type controlModel struct {
	// Connection manager (for sending commands and reconnection)
	connMgr  *connectionManager
	connInfo string
	instance uint8

	// Device state as of the last refresh or write
	state tec.DeviceState
	busy  bool

	// Monitoring (reused from tui.go patterns)
	stats         *tec.Statistics
	eventLog      []eventLogEntry
	maxLogEntries int

	// Control
	targetInput  textinput.Model
	resetInput   textinput.Model
	focusedField int

	// UI state
	width          int
	height         int
	synchronized   bool
	quitting       bool
	connectionLost bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type controlTickMsg time.Time

type controlBatchMsg struct {
	frames []frameMsg
}

// controlStateMsg is the outcome of a refresh cycle
type controlStateMsg struct {
	state tec.DeviceState
	err   error
}

// controlWriteMsg is the outcome of a parameter write
type controlWriteMsg struct {
	name  string
	value float64
	err   error
	state tec.DeviceState
}

type connectionLostMsg struct {
	err error
}

type reconnectedMsg struct {
	connInfo string
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialControlModel(connMgr *connectionManager, connInfo string) controlModel {
	target := textinput.New()
	target.Placeholder = "25.0"
	target.CharLimit = 8
	target.Width = 10

	reset := textinput.New()
	reset.Placeholder = "5"
	reset.CharLimit = 5
	reset.Width = 10

	var instance uint8
	if connMgr != nil {
		instance = connMgr.instance
	}

	return controlModel{
		connMgr:       connMgr,
		connInfo:      connInfo,
		instance:      instance,
		state:         tec.NewDeviceState(instance),
		stats:         tec.NewStatistics(),
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		targetInput:   target,
		resetInput:    reset,
		focusedField:  focusNone,
		width:         80,
		height:        24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m controlModel) Init() tea.Cmd {
	return controlTickCmd()
}

func controlTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return controlTickMsg(t)
	})
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case controlTickMsg:
		m.stats.CalculateRates()
		return m, controlTickCmd()

	case controlBatchMsg:
		for _, f := range msg.frames {
			m.processFrame(f)
		}

	case controlStateMsg:
		m.busy = false
		m.applyState(msg.state)
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Refresh incomplete: %v", msg.err), true)
		}

	case controlWriteMsg:
		m.busy = false
		m.applyState(msg.state)
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Write %s failed: %v", msg.name, msg.err), true)
		} else {
			m.addLogEntry(fmt.Sprintf("Wrote %s = %s", msg.name, strconv.FormatFloat(msg.value, 'f', -1, 64)), false)
		}

	case connectionLostMsg:
		m.connectionLost = true
		m.busy = false
		m.synchronized = false
		m.state = tec.NewDeviceState(m.instance)
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Connection lost (%v) - reconnecting...", msg.err), true)
		} else {
			m.addLogEntry("Connection lost - reconnecting...", true)
		}

	case reconnectedMsg:
		m.connectionLost = false
		m.connInfo = msg.connInfo
		m.addLogEntry("Reconnected - refreshing", false)
	}

	return m.updateInputs(msg)
}

func (m controlModel) updateInputs(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.focusedField {
	case focusTarget:
		m.targetInput, cmd = m.targetInput.Update(msg)
	case focusReset:
		m.resetInput, cmd = m.resetInput.Update(msg)
	}
	return m, cmd
}

func (m controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "tab":
		return m.cycleFocus(1), nil

	case "shift+tab":
		return m.cycleFocus(-1), nil

	case "esc":
		m.focusedField = focusNone
		m.syncFocus()
		return m, nil

	case "enter":
		return m.handleEnter()
	}

	// Plain keys act as shortcuts only while no field has focus
	if m.focusedField == focusNone {
		switch msg.String() {
		case "q":
			m.quitting = true
			return m, tea.Quit
		case "o":
			return m.toggleOutput()
		case "r":
			return m.requestRefresh()
		}
		return m, nil
	}

	return m.updateInputs(msg)
}

func (m controlModel) cycleFocus(delta int) controlModel {
	m.focusedField = (m.focusedField + delta + focusCount) % focusCount
	m.syncFocus()
	return m
}

func (m *controlModel) syncFocus() {
	if m.focusedField == focusTarget {
		m.targetInput.Focus()
	} else {
		m.targetInput.Blur()
	}
	if m.focusedField == focusReset {
		m.resetInput.Focus()
	} else {
		m.resetInput.Blur()
	}
}

func (m controlModel) handleEnter() (tea.Model, tea.Cmd) {
	switch m.focusedField {
	case focusTarget:
		x, err := strconv.ParseFloat(strings.TrimSpace(m.targetInput.Value()), 64)
		if err != nil {
			m.addLogEntry(fmt.Sprintf("Invalid target %q", m.targetInput.Value()), true)
			return m, nil
		}
		m.targetInput.SetValue("")
		return m.sendWrite(tec.ParamTargetTemp, x)

	case focusReset:
		raw := strings.TrimSpace(m.resetInput.Value())
		if raw == "" {
			raw = m.resetInput.Placeholder
		}
		n, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || n < 0 {
			m.addLogEntry(fmt.Sprintf("Invalid reset delay %q", raw), true)
			return m, nil
		}
		m.resetInput.SetValue("")
		return m.sendWrite(tec.ParamAutoReset, float64(n))
	}
	return m, nil
}

func (m controlModel) toggleOutput() (tea.Model, tea.Cmd) {
	v := 1.0
	if m.state.Enabled {
		v = 0
	}
	return m.sendWrite(tec.ParamOutput, v)
}

func (m controlModel) requestRefresh() (tea.Model, tea.Cmd) {
	if m.connectionLost {
		m.addLogEntry("Cannot refresh: connection lost", true)
		return m, nil
	}
	if m.connMgr != nil && !m.connMgr.submit(controlRequest{refresh: true}) {
		m.addLogEntry("Busy, refresh not queued", true)
		return m, nil
	}
	m.busy = true
	return m, nil
}

func (m controlModel) sendWrite(name string, value float64) (tea.Model, tea.Cmd) {
	// Don't allow control commands while connection is lost
	if m.connectionLost {
		m.addLogEntry("Cannot send command: connection lost", true)
		return m, nil
	}

	if m.connMgr != nil {
		d, err := registry.Lookup(name)
		if err == nil {
			_, err = tec.NewValue(d.Type, value)
		}
		if err != nil {
			m.addLogEntry(fmt.Sprintf("Cannot write %s: %v", name, err), true)
			return m, nil
		}
		if !m.connMgr.submit(controlRequest{name: name, value: value}) {
			m.addLogEntry("Busy, command not queued", true)
			return m, nil
		}
	}

	m.busy = true
	m.addLogEntry(fmt.Sprintf("Sending %s = %s", name, strconv.FormatFloat(value, 'f', -1, 64)), false)
	return m, nil
}

//////////////////////////////////////////////////////////////
// Data Processing
//////////////////////////////////////////////////////////////

func (m *controlModel) processFrame(f frameMsg) {
	if f.reply == nil {
		return
	}

	parseErr := replyParseErr(f.err)
	m.stats.Update(f.reply, parseErr)

	if !m.synchronized && parseErr == nil {
		m.synchronized = true
		m.addLogEntry("Synchronized", false)
	}

	switch {
	case parseErr != nil:
		m.addLogEntry(fmt.Sprintf("%s %q: %v", f.reply.Kind, f.reply.Frame, parseErr), true)
	case f.reply.Kind == tec.ReplyDeviceError:
		target := "reply"
		if f.cmd != nil {
			target = f.cmd.String()
		}
		m.addLogEntry(fmt.Sprintf("DEVICE ERROR 0x%02X (%s) for %s", uint8(f.reply.ErrorCode), f.reply.ErrorCode, target), true)
	case errors.Is(f.err, tec.ErrUncorrelated):
		m.addLogEntry(fmt.Sprintf("Unexpected %s with no command pending", f.reply.Kind), true)
	}
}

func (m *controlModel) applyState(s tec.DeviceState) {
	m.state = s
	anomalies := tec.ValidateState(s)
	m.stats.UpdateAnomalies(anomalies)
	for _, a := range anomalies {
		m.addLogEntry("ANOMALY: "+a.Message, true)
	}
}

func (m *controlModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

func (m controlModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
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

	focusedBoxStyle := boxStyle.
		BorderForeground(lipgloss.Color("12"))

	// Header
	s.WriteString(titleStyle.Render("TECSTAT CONTROL"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = warningStyle.Render("RECONNECTING...")
	}
	help := "q=quit o=output r=refresh Tab=field"
	if m.focusedField != focusNone {
		help = "Enter=send Esc=back Tab=field"
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | instance %d | %s", connStatus, m.instance, help)))
	s.WriteString("\n\n")

	// Device state panel
	st := m.state
	statusText := valueStyle.Render(st.Status.String())
	if st.Status == tec.StatusError {
		statusText = errorStyle.Render(st.Status.String())
	}
	errText := valueStyle.Render("no")
	if st.Error {
		errText = errorStyle.Render(fmt.Sprintf("yes (0x%02X %s)", uint8(st.LastErrorCode), st.LastErrorCode))
	}
	updated := "never"
	if !st.UpdatedAt.IsZero() {
		updated = st.UpdatedAt.Format("15:04:05")
	}
	if m.busy {
		updated += " " + warningStyle.Render("(busy)")
	}

	stateContent := strings.Builder{}
	stateContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		labelStyle.Render("Status:"), statusText,
		labelStyle.Render("Output:"), valueStyle.Render(onOff(st.Enabled)),
		labelStyle.Render("Error:"), errText,
	))
	stateContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		labelStyle.Render("Object:"), valueStyle.Render(fmt.Sprintf("%.2f°C", st.ObjectTemp)),
		labelStyle.Render("Sink:"), valueStyle.Render(fmt.Sprintf("%.2f°C", st.SinkTemp)),
		labelStyle.Render("Target:"), valueStyle.Render(fmt.Sprintf("%.2f°C", st.TargetTemp)),
	))
	stateContent.WriteString(fmt.Sprintf("%s %s", labelStyle.Render("Updated:"), valueStyle.Render(updated)))

	// Control panel
	targetBox := boxStyle
	if m.focusedField == focusTarget {
		targetBox = focusedBoxStyle
	}
	resetBox := boxStyle
	if m.focusedField == focusReset {
		resetBox = focusedBoxStyle
	}
	controls := lipgloss.JoinHorizontal(lipgloss.Top,
		targetBox.Render(labelStyle.Render("Target °C")+"\n"+m.targetInput.View()),
		" ",
		resetBox.Render(labelStyle.Render("Auto reset s")+"\n"+m.resetInput.View()),
	)

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxStyle.Render(stateContent.String()), " ", controls))
	s.WriteString("\n\n")

	// Statistics bar
	m.stats.CalculateRates()
	stats := m.stats
	link := warningStyle.Render("waiting")
	if m.synchronized {
		link = valueStyle.Render("ok")
	}
	s.WriteString(boxStyle.Render(fmt.Sprintf("%s %s   %s %s   %s %s   %s %s   %s %s",
		labelStyle.Render("Link:"), link,
		labelStyle.Render("Replies:"), valueStyle.Render(fmt.Sprintf("%d", stats.TotalFrames)),
		labelStyle.Render("Bad:"), errorStyle.Render(fmt.Sprintf("%d", stats.MalformedFrames+stats.ChecksumErrors)),
		labelStyle.Render("Device Errors:"), warningStyle.Render(fmt.Sprintf("%d", stats.DeviceErrors)),
		labelStyle.Render("Rate:"), valueStyle.Render(fmt.Sprintf("%.1f/s", stats.FrameRate)),
	)))
	s.WriteString("\n\n")

	// Event log
	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - 16
	if logHeight < 5 {
		logHeight = 5
	}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	logContent := strings.Builder{}
	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	}
	for _, entry := range m.eventLog[startIdx:] {
		timestamp := entry.timestamp.Format("15:04:05.000")
		if entry.isError {
			logContent.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), errorStyle.Render("✗ "+entry.message)))
		} else {
			logContent.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), warningStyle.Render("ℹ "+entry.message)))
		}
	}
	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}
