// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package monitor

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/tecstat/internal/logging"
	"github.com/Thermoquad/tecstat/pkg/controller"
	"github.com/Thermoquad/tecstat/pkg/tec"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func targetRead(t *testing.T) tec.Command {
	t.Helper()
	d, err := tec.DefaultRegistry().Lookup(tec.ParamTargetTemp)
	require.NoError(t, err)
	cmd, err := tec.NewReadCommand(d, 1)
	require.NoError(t, err)
	return cmd
}

func TestMonitor_CountsTraffic(t *testing.T) {
	m := New(logging.Discard(), 0)
	cmd := targetRead(t)

	m.FrameSent(cmd, "#0015AA?VR0BB801952F")

	reply, err := tec.ParseReply("!0015AA412000000C90", true)
	require.NoError(t, err)
	m.ReplyReceived(reply, &cmd, nil)

	bad, parseErr := tec.ParseReply("!0015AA412000000C91", true)
	m.ReplyReceived(bad, &cmd, parseErr)

	m.ReplyReceived(reply, nil, &tec.ProtocolError{Frame: reply.Frame, Err: tec.ErrUncorrelated})
	m.ReplyReceived(reply, &cmd, &tec.DeviceError{Code: tec.ErrCodeDeviceBusy})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesSent.WithLabelValues("read", "target")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.replies.WithLabelValues("VALUE", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.replies.WithLabelValues("VALUE", "checksum")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.replies.WithLabelValues("VALUE", "uncorrelated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.replies.WithLabelValues("VALUE", "device_error")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.roundTrip))
}

func TestMonitor_StateGauges(t *testing.T) {
	m := New(logging.Discard(), 0)

	m.StateChanged(tec.DeviceState{
		Instance:   2,
		Status:     tec.StatusRun,
		Enabled:    true,
		TargetTemp: 10,
		ObjectTemp: 12.5,
		SinkTemp:   30,
		Error:      true,
	})

	assert.Equal(t, 12.5, testutil.ToFloat64(m.objectTemp.WithLabelValues("2")))
	assert.Equal(t, 30.0, testutil.ToFloat64(m.sinkTemp.WithLabelValues("2")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.targetTemp.WithLabelValues("2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.enabled.WithLabelValues("2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deviceError.WithLabelValues("2")))
	assert.Equal(t, float64(tec.StatusRun), testutil.ToFloat64(m.status.WithLabelValues("2")))
}

func TestMonitor_Anomalies(t *testing.T) {
	m := New(logging.Discard(), 0)
	errs := tec.ValidateState(tec.DeviceState{Instance: 1, SinkTemp: 95, Status: tec.StatusError})
	m.RecordAnomalies(1, errs)
	assert.Equal(t, float64(len(errs)), testutil.ToFloat64(m.anomalies.WithLabelValues("1")))
}

func TestMonitor_ControllerMetrics(t *testing.T) {
	m := New(logging.Discard(), 0)
	var cm controller.Metrics
	cm.TimeoutCount.Add(3)
	cm.Inflight.Store(1)

	require.NoError(t, m.RegisterControllerMetrics(&cm))

	body := scrape(t, m)
	assert.Contains(t, body, "tecstat_controller_timeouts_total 3")
	assert.Contains(t, body, "tecstat_controller_inflight 1")

	assert.Error(t, m.RegisterControllerMetrics(&cm))
}

func TestMonitor_Health(t *testing.T) {
	m := New(logging.Discard(), time.Minute)
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	cmd := targetRead(t)
	m.FrameSent(cmd, "")
	reply, err := tec.ParseReply("!0015AAE7E5", true)
	require.NoError(t, err)
	m.ReplyReceived(reply, &cmd, nil)

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMonitor_NilReply(t *testing.T) {
	m := New(logging.Discard(), 0)
	assert.NotPanics(t, func() {
		m.ReplyReceived(nil, nil, errors.New("boom"))
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.replies.WithLabelValues("MALFORMED", "protocol_error")))
}

func scrape(t *testing.T, m *Monitor) string {
	t.Helper()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return strings.TrimSpace(string(data))
}
