// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/tecstat/pkg/tec"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0 seconds"},
		{time.Second, "1 second"},
		{61 * time.Second, "1 minute and 1 second"},
		{3661 * time.Second, "1 hour, 1 minute, and 1 second"},
		{2 * 24 * time.Hour, "2 days"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.d), tt.d.String())
	}
}

func TestFormatRawFrame(t *testing.T) {
	out := formatRawFrame("!0015AA412000000C90")
	assert.Contains(t, out, "VALUE")
	assert.Contains(t, out, "int32=1092616192")
	assert.Contains(t, out, "float32=10")
	assert.NotContains(t, out, "Error:")

	out = formatRawFrame("#0015AA?VR0BB801952F")
	assert.Contains(t, out, "COMMAND")
	assert.Contains(t, out, "checksum=OK")

	out = formatRawFrame("!0015AA412000000000")
	assert.Contains(t, out, "Error:")
}

func TestFormatParamValue(t *testing.T) {
	reg := tec.DefaultRegistry()

	status, err := reg.Lookup(tec.ParamStatus)
	require.NoError(t, err)
	assert.Equal(t, "2 (RUN)", formatParamValue(status, tec.IntValue(int32(tec.StatusRun))))

	output, err := reg.Lookup(tec.ParamOutput)
	require.NoError(t, err)
	assert.Equal(t, "1 (ON)", formatParamValue(output, tec.IntValue(1)))

	target, err := reg.Lookup(tec.ParamTargetTemp)
	require.NoError(t, err)
	assert.Equal(t, "25.500", formatParamValue(target, tec.FloatValue(25.5)))
}

func TestReplyParseErr(t *testing.T) {
	assert.NoError(t, replyParseErr(nil))
	assert.NoError(t, replyParseErr(&tec.DeviceError{Code: tec.DeviceErrorCode(5)}))
	assert.NoError(t, replyParseErr(tec.ErrUncorrelated))

	protoErr := &tec.ProtocolError{Frame: "x", Err: tec.ErrChecksum}
	assert.Equal(t, protoErr, replyParseErr(protoErr))
}

func TestStatsModel_ApplyFrame(t *testing.T) {
	m := initialStatsModel("test", false)

	good, err := tec.ParseReply("!0015AAE7E5", true)
	require.NoError(t, err)
	m.applyFrame(frameMsg{reply: good})

	bad, err := tec.ParseReply("!0015AA412000000000", true)
	require.Error(t, err)
	m.applyFrame(frameMsg{reply: bad, err: err})

	m.applyFrame(frameMsg{framingErr: errors.New("too long")})

	assert.Equal(t, uint64(2), m.stats.TotalFrames)
	assert.Equal(t, uint64(1), m.stats.AckFrames)
	assert.Equal(t, uint64(1), m.stats.ChecksumErrors)
	assert.Equal(t, uint64(1), m.stats.FramingErrors)
	// errors only; the ack is not logged
	assert.Len(t, m.eventLog, 2)
}

func TestStatsModel_ResetKey(t *testing.T) {
	m := initialStatsModel("test", true)
	ack, _ := tec.ParseReply("!0015AAE7E5", true)
	m.applyFrame(frameMsg{reply: ack})
	require.Equal(t, uint64(1), m.stats.TotalFrames)

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	assert.Equal(t, uint64(0), updated.(statsModel).stats.TotalFrames)
}

func TestControlModel_State(t *testing.T) {
	m := initialControlModel(nil, "test")

	st := tec.NewDeviceState(0)
	st.Status = tec.StatusRun
	st.ObjectTemp = 500
	updated, _ := m.Update(controlStateMsg{state: st})
	cm := updated.(controlModel)

	assert.Equal(t, tec.StatusRun, cm.state.Status)
	assert.Equal(t, uint64(1), cm.stats.AnomalousStates)
	require.NotEmpty(t, cm.eventLog)
	assert.Contains(t, cm.eventLog[0].message, "ANOMALY")
	assert.Contains(t, cm.View(), "RUN")
}

func TestControlModel_ConnectionLost(t *testing.T) {
	m := initialControlModel(nil, "test")
	m.state.Enabled = true

	updated, _ := m.Update(connectionLostMsg{})
	cm := updated.(controlModel)
	assert.True(t, cm.connectionLost)
	assert.False(t, cm.state.Enabled)
	assert.Contains(t, cm.View(), "RECONNECTING")

	updated, _ = cm.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("o")})
	cm = updated.(controlModel)
	assert.False(t, cm.busy)
	assert.Contains(t, cm.eventLog[len(cm.eventLog)-1].message, "connection lost")

	updated, _ = cm.Update(reconnectedMsg{connInfo: "other"})
	cm = updated.(controlModel)
	assert.False(t, cm.connectionLost)
	assert.Equal(t, "other", cm.connInfo)
}

func TestControlModel_FocusAndEnter(t *testing.T) {
	m := initialControlModel(nil, "test")

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	cm := updated.(controlModel)
	require.Equal(t, focusTarget, cm.focusedField)
	assert.True(t, cm.targetInput.Focused())

	// "q" is typed into the field rather than quitting
	updated, cmd := cm.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	cm = updated.(controlModel)
	assert.False(t, cm.quitting)
	_ = cmd

	cm.targetInput.SetValue("abc")
	updated, _ = cm.Update(tea.KeyMsg{Type: tea.KeyEnter})
	cm = updated.(controlModel)
	assert.False(t, cm.busy)
	assert.Contains(t, cm.eventLog[len(cm.eventLog)-1].message, "Invalid target")

	cm.targetInput.SetValue("25.5")
	updated, _ = cm.Update(tea.KeyMsg{Type: tea.KeyEnter})
	cm = updated.(controlModel)
	assert.True(t, cm.busy)
	assert.Equal(t, "", cm.targetInput.Value())

	updated, _ = cm.Update(tea.KeyMsg{Type: tea.KeyShiftTab})
	cm = updated.(controlModel)
	assert.Equal(t, focusNone, cm.focusedField)

	updated, cmd = cm.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.True(t, updated.(controlModel).quitting)
	assert.NotNil(t, cmd)
}

func TestControlModel_WriteResult(t *testing.T) {
	m := initialControlModel(nil, "test")
	m.busy = true

	st := tec.NewDeviceState(0)
	st.Enabled = true
	updated, _ := m.Update(controlWriteMsg{name: tec.ParamOutput, value: 1, state: st})
	cm := updated.(controlModel)
	assert.False(t, cm.busy)
	assert.True(t, cm.state.Enabled)
	assert.Equal(t, "Wrote output = 1", cm.eventLog[len(cm.eventLog)-1].message)

	updated, _ = cm.Update(controlWriteMsg{name: tec.ParamOutput, value: 0, err: errors.New("boom"), state: st})
	cm = updated.(controlModel)
	assert.True(t, cm.eventLog[len(cm.eventLog)-1].isError)
}

func TestControlModel_ProcessFrame(t *testing.T) {
	m := initialControlModel(nil, "test")

	devErr, err := tec.ParseReply("!0015AA+05DFB2", true)
	require.NoError(t, err)
	ack, err := tec.ParseReply("!0015AAE7E5", true)
	require.NoError(t, err)

	updated, _ := m.Update(controlBatchMsg{frames: []frameMsg{
		{reply: ack},
		{reply: devErr, err: &tec.DeviceError{Code: devErr.ErrorCode}},
	}})
	cm := updated.(controlModel)

	assert.True(t, cm.synchronized)
	assert.Equal(t, uint64(1), cm.stats.DeviceErrors)
	assert.Contains(t, cm.eventLog[len(cm.eventLog)-1].message, "DEVICE ERROR 0x05")
}

var upgrader = websocket.Upgrader{}

func wsServer(t *testing.T, handler func(*websocket.Conn, *http.Request)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		handler(c, r)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketConnection_ReadWrite(t *testing.T) {
	gotAuth := make(chan string, 1)
	got := make(chan string, 1)

	url := wsServer(t, func(c *websocket.Conn, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		gotAuth <- user + ":" + pass

		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		got <- string(data)

		_ = c.WriteMessage(websocket.TextMessage, []byte("!0015AA"))
		_ = c.WriteMessage(websocket.BinaryMessage, []byte("E7E5\r"))
		// wait for the client to close
		_, _, _ = c.ReadMessage()
	})

	conn, err := OpenWebSocketConnection(url, "admin", "secret", false)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "admin:secret", <-gotAuth)

	_, err = conn.Write([]byte("#0015AA?VR00680144AE\r"))
	require.NoError(t, err)
	assert.Equal(t, "#0015AA?VR00680144AE\r", <-got)

	var received []byte
	buf := make([]byte, 4)
	for len(received) < len("!0015AAE7E5\r") {
		n, err := conn.Read(buf)
		require.NoError(t, err)
		received = append(received, buf[:n]...)
	}
	assert.Equal(t, "!0015AAE7E5\r", string(received))
}

func TestWebSocketConnection_ResetInputBuffer(t *testing.T) {
	url := wsServer(t, func(c *websocket.Conn, r *http.Request) {
		_ = c.WriteMessage(websocket.TextMessage, []byte("garbage"))
		_ = c.WriteMessage(websocket.TextMessage, []byte("!0015AAE7E5\r"))
		_, _, _ = c.ReadMessage()
	})

	conn, err := OpenWebSocketConnection(url, "", "", false)
	require.NoError(t, err)
	defer conn.Close()

	buf := make([]byte, 3)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "gar", string(buf[:n]))

	require.NoError(t, conn.(*WebSocketConnection).ResetInputBuffer())

	n, err = conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "!00", string(buf[:n]))
}

func TestWebSocketConnection_ClosedByPeer(t *testing.T) {
	url := wsServer(t, func(c *websocket.Conn, r *http.Request) {})

	conn, err := OpenWebSocketConnection(url, "", "", false)
	require.NoError(t, err)
	defer conn.Close()

	buf := make([]byte, 8)
	_, err = conn.Read(buf)
	require.Error(t, err)

	_, err = conn.Read(buf)
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestOpenWebSocketConnection_BadScheme(t *testing.T) {
	_, err := OpenWebSocketConnection("http://localhost/ws", "", "", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported URL scheme")
}
