// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package controller drives a thermoelectric controller over a half-duplex
// link. It transmits one command at a time, correlates every reply with the
// command that is pending and keeps the decoded state of each instance.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/Thermoquad/tecstat/pkg/tec"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"
)

// Sentinel errors
var (
	ErrCommandPending  = errors.New("controller: a command is already awaiting its reply")
	ErrResponseTimeout = errors.New("controller: response timeout")
	ErrClosed          = errors.New("controller: closed")
)

// RefreshSequence is the parameter order of a refresh cycle
var RefreshSequence = []string{
	tec.ParamStatus,
	tec.ParamObjectTemp,
	tec.ParamSinkTemp,
	tec.ParamTargetTemp,
}

// Transport is the link to the device
type Transport interface {
	io.Reader
	io.Writer
}

// inputFlusher is implemented by transports that can drop unread input,
// such as serial.Port.
type inputFlusher interface {
	ResetInputBuffer() error
}

// Controller owns the correlation state, the pending command slot and the
// decoded device state of one connection.
type Controller struct {
	transport Transport
	registry  *tec.Registry
	opts      *options
	logger    logrus.FieldLogger

	mu      sync.Mutex
	pending *Pending
	last    *tec.Command
	closed  bool

	rxMu   sync.Mutex
	framer *tec.Framer

	states  *xsync.MapOf[uint8, tec.DeviceState]
	metrics Metrics
}

// New creates a controller on transport. A nil registry selects the
// built-in parameter set.
func New(transport Transport, registry *tec.Registry, opts ...Option) (*Controller, error) {
	if transport == nil {
		return nil, errors.New("controller: transport is nil")
	}
	if registry == nil {
		registry = tec.DefaultRegistry()
	}

	o := defaultOptions()
	for _, opt := range opts {
		if err := opt.apply(o); err != nil {
			return nil, err
		}
	}

	return &Controller{
		transport: transport,
		registry:  registry,
		opts:      o,
		logger:    o.logger,
		framer:    tec.NewFramer(),
		states:    xsync.NewMapOf[uint8, tec.DeviceState](),
	}, nil
}

// Registry returns the parameter registry in use
func (c *Controller) Registry() *tec.Registry {
	return c.registry
}

// Metrics returns the session counters
func (c *Controller) Metrics() *Metrics {
	return &c.metrics
}

// LastCommand returns the most recently transmitted command
func (c *Controller) LastCommand() (tec.Command, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.last == nil {
		return tec.Command{}, false
	}
	return *c.last, true
}

// Busy reports whether a command is awaiting its reply
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

// State returns the snapshot of instance
func (c *Controller) State(instance uint8) tec.DeviceState {
	if s, ok := c.states.Load(instance); ok {
		return s
	}
	return tec.NewDeviceState(instance)
}

// States returns every known instance snapshot ordered by instance
func (c *Controller) States() []tec.DeviceState {
	var all []tec.DeviceState
	c.states.Range(func(_ uint8, s tec.DeviceState) bool {
		all = append(all, s)
		return true
	})
	sort.Slice(all, func(i, j int) bool { return all[i].Instance < all[j].Instance })
	return all
}

// Send transmits cmd without waiting for the reply. It fails with
// ErrCommandPending while another command is unresolved.
func (c *Controller) Send(cmd tec.Command) (*Pending, error) {
	ev := &events{}

	c.mu.Lock()
	p, err := c.sendLocked(cmd, ev)
	c.mu.Unlock()

	c.dispatch(ev)
	return p, err
}

// Read sends a read of the named parameter
func (c *Controller) Read(name string, instance uint8) (*Pending, error) {
	d, err := c.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	cmd, err := tec.NewReadCommand(d, instance)
	if err != nil {
		return nil, err
	}
	return c.Send(cmd)
}

// Write sends a write of value to the named parameter
func (c *Controller) Write(name string, instance uint8, value float64) (*Pending, error) {
	d, err := c.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	cmd, err := tec.NewWriteCommand(d, instance, value)
	if err != nil {
		return nil, err
	}
	return c.Send(cmd)
}

// Get reads the named parameter and waits for its value
func (c *Controller) Get(ctx context.Context, name string, instance uint8) (tec.Value, error) {
	if err := c.WaitIdle(ctx); err != nil {
		return tec.Value{}, err
	}
	p, err := c.Read(name, instance)
	if err != nil {
		return tec.Value{}, err
	}
	res, err := p.Wait(ctx)
	if err != nil {
		return tec.Value{}, err
	}
	return res.Value, nil
}

// Set writes the named parameter and waits for the acknowledgment
func (c *Controller) Set(ctx context.Context, name string, instance uint8, value float64) error {
	if err := c.WaitIdle(ctx); err != nil {
		return err
	}
	p, err := c.Write(name, instance, value)
	if err != nil {
		return err
	}
	_, err = p.Wait(ctx)
	return err
}

// WaitIdle blocks until no command is pending
func (c *Controller) WaitIdle(ctx context.Context) error {
	for {
		c.mu.Lock()
		p := c.pending
		closed := c.closed
		c.mu.Unlock()

		if closed {
			return ErrClosed
		}
		if p == nil {
			return nil
		}

		select {
		case <-p.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Refresh reads status, object, sink and target temperature of instance in
// that order, each after the previous reply arrived. Device errors do not
// stop the cycle; they are joined into the returned error.
func (c *Controller) Refresh(ctx context.Context, instance uint8) (tec.DeviceState, error) {
	var errs []error
	for _, name := range RefreshSequence {
		_, err := c.Get(ctx, name, instance)
		if err == nil {
			continue
		}

		var devErr *tec.DeviceError
		var protoErr *tec.ProtocolError
		if errors.As(err, &devErr) || errors.As(err, &protoErr) || errors.Is(err, ErrResponseTimeout) {
			errs = append(errs, fmt.Errorf("refresh %s: %w", name, err))
			continue
		}
		return c.State(instance), fmt.Errorf("refresh %s: %w", name, err)
	}
	return c.State(instance), errors.Join(errs...)
}

// HandleFrame processes one received frame (terminator stripped). Decode
// problems never escape; they only update state, metrics and observers.
func (c *Controller) HandleFrame(frame string) {
	if c.handleFrame(frame) {
		c.flushInput()
	}
}

// Run reads the transport until ctx ends or the link fails, handing every
// complete frame to HandleFrame. Close the controller to unblock a read.
func (c *Controller) Run(ctx context.Context) error {
	buf := make([]byte, 128)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := c.transport.Read(buf)
		if n > 0 {
			c.feed(buf[:n])
		}
		if err != nil {
			if c.isClosed() {
				return ErrClosed
			}
			tErr := &tec.TransportError{Op: "read", Err: err}
			c.fail(tErr)
			return tErr
		}
	}
}

// Close resolves the pending command with ErrClosed, resets every instance
// to its defaults and closes the transport when it is an io.Closer.
func (c *Controller) Close() error {
	ev := &events{}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	err := c.teardownLocked(ErrClosed, ev)
	c.mu.Unlock()

	c.dispatch(ev)
	return err
}

// ResetState returns every known instance to its defaults
func (c *Controller) ResetState() {
	ev := &events{}

	c.mu.Lock()
	c.resetStatesLocked(ev)
	c.mu.Unlock()

	c.dispatch(ev)
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Controller) feed(data []byte) {
	c.rxMu.Lock()
	frames, errs := c.framer.Decode(data)
	c.rxMu.Unlock()

	for _, err := range errs {
		c.metrics.FramingErrorCount.Add(1)
		c.logger.WithError(err).Warn("dropping oversized frame")
	}

	for _, frame := range frames {
		if c.handleFrame(frame) {
			c.flushInput()
			return
		}
	}
}

func (c *Controller) flushInput() {
	c.rxMu.Lock()
	c.framer.Reset()
	c.rxMu.Unlock()

	c.metrics.FlushCount.Add(1)
	if f, ok := c.transport.(inputFlusher); ok {
		if err := f.ResetInputBuffer(); err != nil {
			c.logger.WithError(err).Warn("failed to flush input buffer")
		}
	}
}

func (c *Controller) fail(err error) {
	ev := &events{}

	c.mu.Lock()
	if !c.closed {
		_ = c.teardownLocked(err, ev)
	}
	c.mu.Unlock()

	c.dispatch(ev)
}

func (c *Controller) sendLocked(cmd tec.Command, ev *events) (*Pending, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if c.pending != nil {
		c.metrics.RejectedCount.Add(1)
		return nil, fmt.Errorf("%w: %s", ErrCommandPending, c.pending.cmd)
	}

	frame, err := tec.EncodeCommand(cmd)
	if err != nil {
		return nil, err
	}

	last := cmd
	c.last = &last

	if _, err := c.transport.Write([]byte(frame + string(tec.Terminator))); err != nil {
		tErr := &tec.TransportError{Op: "write", Err: err}
		c.logger.WithError(err).WithField("frame", frame).Error("transport write failed")
		_ = c.teardownLocked(tErr, ev)
		return nil, tErr
	}

	p := newPending(cmd, frame)
	c.pending = p
	c.metrics.FramesSent.Add(1)
	c.metrics.Inflight.Store(1)

	if d := c.opts.responseTimeout; d > 0 {
		p.timer = time.AfterFunc(d, func() { c.expire(p) })
	}

	c.logger.WithFields(logrus.Fields{
		"cmd":   cmd.String(),
		"frame": frame,
	}).Debug("command sent")
	ev.frameSent(cmd, frame)

	return p, nil
}

func (c *Controller) expire(p *Pending) {
	c.mu.Lock()
	if c.pending != p {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	c.metrics.Inflight.Store(0)
	c.metrics.TimeoutCount.Add(1)
	p.resolve(Result{Err: ErrResponseTimeout})
	c.mu.Unlock()

	c.logger.WithField("cmd", p.cmd.String()).Warn("response timeout")
	c.flushInput()
}

func (c *Controller) teardownLocked(cause error, ev *events) error {
	c.closed = true

	if p := c.pending; p != nil {
		c.pending = nil
		c.metrics.Inflight.Store(0)
		p.resolve(Result{Err: cause})
	}

	c.resetStatesLocked(ev)

	if closer, ok := c.transport.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("controller: close transport: %w", err)
		}
	}
	return nil
}

func (c *Controller) resetStatesLocked(ev *events) {
	c.states.Range(func(instance uint8, _ tec.DeviceState) bool {
		s := tec.NewDeviceState(instance)
		c.states.Store(instance, s)
		ev.stateChanged(s)
		return true
	})
}

// handleFrame reports whether the receive buffer must be flushed
func (c *Controller) handleFrame(frame string) bool {
	ev := &events{}

	c.mu.Lock()
	flush := c.handleFrameLocked(frame, ev)
	c.mu.Unlock()

	c.dispatch(ev)
	return flush
}

func (c *Controller) handleFrameLocked(frame string, ev *events) bool {
	c.metrics.FramesReceived.Add(1)

	reply, err := tec.ParseReply(frame, c.opts.verifyChecksum)
	p := c.pending

	var cmd *tec.Command
	if p != nil {
		cmd = &p.cmd
	}

	// an ack echoes the checksum of the request it answers
	if err == nil && p != nil && reply.Kind == tec.ReplyAck && c.opts.verifyChecksum && !tec.VerifyAckEcho(frame, p.frame) {
		err = &tec.ProtocolError{Frame: frame, Err: tec.ErrChecksum}
	}

	if err != nil {
		if errors.Is(err, tec.ErrChecksum) {
			c.metrics.ChecksumErrorCount.Add(1)
		} else {
			c.metrics.MalformedCount.Add(1)
		}
		c.logger.WithError(err).WithField("frame", frame).Warn("discarding reply")
		if p != nil {
			c.clearPendingLocked()
			p.resolve(Result{Reply: reply, Err: err})
		}
		ev.replyReceived(reply, cmd, err)
		return true
	}

	if p == nil {
		c.metrics.UncorrelatedCount.Add(1)
		err := &tec.ProtocolError{Frame: frame, Err: tec.ErrUncorrelated}
		c.logger.WithField("frame", frame).Warn("reply without pending command")
		ev.replyReceived(reply, nil, err)
		return false
	}

	c.clearPendingLocked()

	state := c.State(p.cmd.Instance)
	res := Result{Reply: reply}
	chain := false

	switch reply.Kind {
	case tec.ReplyAck:
		c.metrics.AckCount.Add(1)
		chain = c.applyAck(&state, p.cmd)

	case tec.ReplyDeviceError:
		c.metrics.DeviceErrorCount.Add(1)
		state.Error = true
		state.LastErrorCode = reply.ErrorCode
		res.Err = &tec.DeviceError{Code: reply.ErrorCode}
		c.logger.WithFields(logrus.Fields{
			"cmd":  p.cmd.String(),
			"code": reply.ErrorCode.String(),
		}).Warn("device error")

	case tec.ReplyValue:
		c.metrics.ValueCount.Add(1)
		v, err := c.applyValue(&state, p.cmd, reply)
		if err != nil {
			res.Err = &tec.ProtocolError{Frame: frame, Err: err}
			c.logger.WithError(err).WithField("cmd", p.cmd.String()).Warn("cannot apply value")
		}
		res.Value = v
	}

	state.UpdatedAt = reply.Timestamp
	c.states.Store(state.Instance, state)
	ev.stateChanged(state)

	p.resolve(res)
	ev.replyReceived(reply, cmd, res.Err)

	if chain {
		c.chainStatusReadLocked(p.cmd.Instance, ev)
	}

	return false
}

func (c *Controller) clearPendingLocked() {
	c.pending = nil
	c.metrics.Inflight.Store(0)
}

// applyAck updates state for an acknowledged write and reports whether a
// status read must follow.
func (c *Controller) applyAck(state *tec.DeviceState, cmd tec.Command) bool {
	state.Error = false
	state.LastErrorCode = 0

	if cmd.Kind != tec.KindWrite {
		return false
	}

	switch cmd.Parameter.Name {
	case tec.ParamOutput:
		state.Enabled = cmd.Payload.Int() != 0
	case tec.ParamTargetTemp:
		state.TargetTemp = cmd.Payload.Float()
	case tec.ParamAutoReset:
		state.AutoResetDelay = cmd.Payload.Int()
		return true
	}
	return false
}

func (c *Controller) applyValue(state *tec.DeviceState, cmd tec.Command, reply *tec.Reply) (tec.Value, error) {
	if cmd.Kind != tec.KindRead {
		return tec.Value{}, fmt.Errorf("value reply to %s", cmd)
	}

	v, err := reply.Value(cmd.Parameter.Type)
	if err != nil {
		return tec.Value{}, err
	}

	switch cmd.Parameter.Name {
	case tec.ParamStatus:
		st, err := tec.StatusFromInt(v.Int())
		if err != nil {
			return v, err
		}
		state.Status = st
		state.Enabled = st == tec.StatusRun
	case tec.ParamOutput:
		state.Enabled = v.Int() != 0
	case tec.ParamObjectTemp:
		state.ObjectTemp = v.Float()
	case tec.ParamSinkTemp:
		state.SinkTemp = v.Float()
	case tec.ParamTargetTemp:
		state.TargetTemp = v.Float()
	case tec.ParamAutoReset:
		state.AutoResetDelay = v.Int()
	}
	return v, nil
}

// chainStatusReadLocked issues the status read that follows an acknowledged
// auto reset write. It replaces the correlation state.
func (c *Controller) chainStatusReadLocked(instance uint8, ev *events) {
	d, err := c.registry.Lookup(tec.ParamStatus)
	if err != nil {
		c.logger.WithError(err).Warn("auto reset acknowledged but status parameter is not registered")
		return
	}
	cmd, err := tec.NewReadCommand(d, instance)
	if err != nil {
		c.logger.WithError(err).Warn("cannot build status read")
		return
	}
	if _, err := c.sendLocked(cmd, ev); err != nil {
		c.logger.WithError(err).Warn("status read after auto reset failed")
		return
	}
	c.metrics.ChainedCount.Add(1)
}

func (c *Controller) dispatch(ev *events) {
	for _, obs := range c.opts.observers {
		for _, s := range ev.sent {
			obs.FrameSent(s.cmd, s.frame)
		}
		for _, r := range ev.replies {
			obs.ReplyReceived(r.reply, r.cmd, r.err)
		}
		for _, s := range ev.states {
			obs.StateChanged(s)
		}
	}
}
