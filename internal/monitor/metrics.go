// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package monitor exports controller traffic and device state as prometheus
// metrics.
package monitor

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Thermoquad/tecstat/pkg/controller"
	"github.com/Thermoquad/tecstat/pkg/tec"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "tecstat"

// Monitor collects metrics. It implements controller.Observer.
type Monitor struct {
	log      logrus.FieldLogger
	registry *prometheus.Registry

	framesSent  *prometheus.CounterVec
	replies     *prometheus.CounterVec
	roundTrip   prometheus.Histogram
	objectTemp  *prometheus.GaugeVec
	sinkTemp    *prometheus.GaugeVec
	targetTemp  *prometheus.GaugeVec
	enabled     *prometheus.GaugeVec
	deviceError *prometheus.GaugeVec
	status      *prometheus.GaugeVec
	anomalies   *prometheus.CounterVec

	mu         sync.Mutex
	sentAt     time.Time
	lastReply  time.Time
	staleAfter time.Duration
}

var _ controller.Observer = (*Monitor)(nil)

// New creates a monitor with its own prometheus registry. The health
// endpoint fails once no reply arrived for staleAfter; zero disables that.
func New(log logrus.FieldLogger, staleAfter time.Duration) *Monitor {
	instanceLabel := []string{"instance"}

	m := &Monitor{
		log:        log,
		registry:   prometheus.NewRegistry(),
		staleAfter: staleAfter,

		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Command frames written, by kind and parameter.",
		}, []string{"kind", "param"}),
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Reply frames received, by classification and outcome.",
		}, []string{"kind", "result"}),
		roundTrip: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_trip_seconds",
			Help:      "Time from command write to correlated reply.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		}),
		objectTemp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "object_temperature_celsius",
			Help:      "Last object temperature.",
		}, instanceLabel),
		sinkTemp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sink_temperature_celsius",
			Help:      "Last heat sink temperature.",
		}, instanceLabel),
		targetTemp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "target_temperature_celsius",
			Help:      "Last target temperature.",
		}, instanceLabel),
		enabled: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "output_enabled",
			Help:      "1 when the output stage is on.",
		}, instanceLabel),
		deviceError: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_error",
			Help:      "1 after a device error reply until the next acknowledgment.",
		}, instanceLabel),
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "status",
			Help:      "Device status code (0 INIT .. 5 RESETTING).",
		}, instanceLabel),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "State validation failures, by instance.",
		}, instanceLabel),
	}

	m.registry.MustRegister(
		m.framesSent,
		m.replies,
		m.roundTrip,
		m.objectTemp,
		m.sinkTemp,
		m.targetTemp,
		m.enabled,
		m.deviceError,
		m.status,
		m.anomalies,
	)

	return m
}

// Registry exposes the underlying prometheus registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterControllerMetrics exposes the controller session counters
func (m *Monitor) RegisterControllerMetrics(cm *controller.Metrics) error {
	counter := func(name, help string, load func() uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(load()) })
	}

	collectors := []prometheus.Collector{
		counter("flushes_total", "Receive buffer flushes.", cm.FlushCount.Load),
		counter("timeouts_total", "Commands abandoned after the response timeout.", cm.TimeoutCount.Load),
		counter("rejected_total", "Commands refused while another was pending.", cm.RejectedCount.Load),
		counter("uncorrelated_total", "Replies received with no command pending.", cm.UncorrelatedCount.Load),
		counter("framing_errors_total", "Oversized frames dropped by the framer.", cm.FramingErrorCount.Load),
		counter("chained_total", "Status reads issued after an auto reset write.", cm.ChainedCount.Load),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "inflight",
			Help:      "1 while a command awaits its reply.",
		}, func() float64 { return float64(cm.Inflight.Load()) }),
	}

	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// FrameSent implements controller.Observer
func (m *Monitor) FrameSent(cmd tec.Command, frame string) {
	m.mu.Lock()
	m.sentAt = time.Now()
	m.mu.Unlock()

	kind := "read"
	if cmd.Kind == tec.KindWrite {
		kind = "write"
	}
	m.framesSent.WithLabelValues(kind, cmd.Parameter.Name).Inc()
}

// ReplyReceived implements controller.Observer
func (m *Monitor) ReplyReceived(reply *tec.Reply, cmd *tec.Command, err error) {
	result := "ok"
	var devErr *tec.DeviceError
	switch {
	case err == nil:
	case errors.As(err, &devErr):
		result = "device_error"
	case errors.Is(err, tec.ErrChecksum):
		result = "checksum"
	case errors.Is(err, tec.ErrUncorrelated):
		result = "uncorrelated"
	default:
		result = "protocol_error"
	}

	kind := tec.ReplyMalformed.String()
	if reply != nil {
		kind = reply.Kind.String()
	}
	m.replies.WithLabelValues(kind, result).Inc()

	if cmd == nil || reply == nil {
		return
	}

	m.mu.Lock()
	m.lastReply = reply.Timestamp
	sentAt := m.sentAt
	m.mu.Unlock()

	if !sentAt.IsZero() {
		m.roundTrip.Observe(reply.Timestamp.Sub(sentAt).Seconds())
	}
}

// StateChanged implements controller.Observer
func (m *Monitor) StateChanged(s tec.DeviceState) {
	inst := strconv.Itoa(int(s.Instance))

	m.objectTemp.WithLabelValues(inst).Set(s.ObjectTemp)
	m.sinkTemp.WithLabelValues(inst).Set(s.SinkTemp)
	m.targetTemp.WithLabelValues(inst).Set(s.TargetTemp)
	m.enabled.WithLabelValues(inst).Set(boolToFloat(s.Enabled))
	m.deviceError.WithLabelValues(inst).Set(boolToFloat(s.Error))
	m.status.WithLabelValues(inst).Set(float64(s.Status))
}

// RecordAnomalies counts validation failures of a refreshed state
func (m *Monitor) RecordAnomalies(instance uint8, errs []tec.ValidationError) {
	if len(errs) == 0 {
		return
	}
	m.anomalies.WithLabelValues(strconv.Itoa(int(instance))).Add(float64(len(errs)))
	for _, e := range errs {
		m.log.WithField("instance", instance).Warn(e.Message)
	}
}

// Healthy reports whether a reply arrived recently enough
func (m *Monitor) Healthy() bool {
	if m.staleAfter <= 0 {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.lastReply.IsZero() && time.Since(m.lastReply) < m.staleAfter
}

// Handler serves /metrics and /health
func (m *Monitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if !m.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("STALE"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// Serve runs the metrics HTTP server until ctx ends
func (m *Monitor) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		m.log.WithField("addr", addr).Info("metrics server listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
