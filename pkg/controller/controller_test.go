// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package controller

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/tecstat/pkg/tec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Reply frames with valid checksums. Acks echo the checksum of the write
// they answer.
const (
	ackOutputOn     = "!0015AAFC7C"
	ackAutoReset5   = "!0015AA9A45"
	ackTarget10     = "!0015AA3BB8"
	value10Frame    = "!0015AA412000000C90"
	value25_5Frame  = "!0015AA41CC0000FFF8"
	value31_25Frame = "!0015AA41FA0000F87A"
	statusRunFrame  = "!0015AA00000002109E"
	statusBadFrame  = "!0015AA00000007403B"
	deviceErr5Frame = "!0015AA+05DFB2"

	readTargetFrame = "#0015AA?VR0BB801952F"
	readStatusFrame = "#0015AA?VR00680144AE"
	writeOutputOn   = "#0015AAVS07DA0100000001FC7C"
	writeAutoReset5 = "#0015AAVS18A601000000059A45"
	writeTarget10   = "#0015AAVS0BB801412000003BB8"
)

// ============================================================
// Test Helpers
// ============================================================

// fakeTransport records written frames and flushes. Reads block until
// the transport is closed.
type fakeTransport struct {
	mu       sync.Mutex
	writes   []string
	flushes  int
	closed   bool
	writeErr error

	written chan string
	done    chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		written: make(chan string, 64),
		done:    make(chan struct{}),
	}
}

func (f *fakeTransport) Read(p []byte) (int, error) {
	<-f.done
	return 0, io.EOF
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writeErr != nil {
		return 0, f.writeErr
	}
	frame := strings.TrimSuffix(string(p), "\r")
	f.writes = append(f.writes, frame)
	select {
	case f.written <- frame:
	default:
	}
	return len(p), nil
}

func (f *fakeTransport) ResetInputBuffer() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.done)
	}
	return nil
}

func (f *fakeTransport) Writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func (f *fakeTransport) Flushes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushes
}

func (f *fakeTransport) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newTestController(t *testing.T, opts ...Option) (*Controller, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	c, err := New(ft, nil, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, ft
}

func waitResult(t *testing.T, p *Pending) (Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return p.Wait(ctx)
}

// ============================================================
// Construction
// ============================================================

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)

	_, err = New(newFakeTransport(), nil, WithResponseTimeout(-time.Second))
	assert.Error(t, err)

	_, err = New(newFakeTransport(), nil, WithLogger(nil))
	assert.Error(t, err)

	c, err := New(newFakeTransport(), nil)
	require.NoError(t, err)
	assert.NotNil(t, c.Registry())
	assert.False(t, c.Busy())

	_, ok := c.LastCommand()
	assert.False(t, ok)
}

// ============================================================
// Command / Reply Correlation
// ============================================================

func TestRead_ValueUpdatesState(t *testing.T) {
	c, ft := newTestController(t)

	p, err := c.Read(tec.ParamTargetTemp, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{readTargetFrame}, ft.Writes())
	assert.True(t, c.Busy())

	c.HandleFrame(value10Frame)

	res, err := waitResult(t, p)
	require.NoError(t, err)
	assert.Equal(t, 10.0, res.Value.Float())
	assert.NotNil(t, res.Reply)

	s := c.State(1)
	assert.Equal(t, 10.0, s.TargetTemp)
	assert.False(t, s.Error)
	assert.False(t, s.UpdatedAt.IsZero())
	assert.False(t, c.Busy())
	assert.Equal(t, uint64(1), c.Metrics().ValueCount.Load())
}

func TestWrite_AckEnablesOutput(t *testing.T) {
	c, ft := newTestController(t)

	p, err := c.Write(tec.ParamOutput, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{writeOutputOn}, ft.Writes())

	c.HandleFrame(ackOutputOn)

	_, err = waitResult(t, p)
	require.NoError(t, err)
	assert.True(t, c.State(1).Enabled)
}

func TestWrite_AutoResetChainsStatusRead(t *testing.T) {
	c, ft := newTestController(t)

	p, err := c.Write(tec.ParamAutoReset, 1, 5)
	require.NoError(t, err)

	c.HandleFrame(ackAutoReset5)

	_, err = waitResult(t, p)
	require.NoError(t, err)

	assert.Equal(t, []string{writeAutoReset5, readStatusFrame}, ft.Writes())
	assert.Equal(t, int32(5), c.State(1).AutoResetDelay)
	assert.True(t, c.Busy())
	assert.Equal(t, uint64(1), c.Metrics().ChainedCount.Load())

	last, ok := c.LastCommand()
	require.True(t, ok)
	assert.Equal(t, tec.KindRead, last.Kind)
	assert.Equal(t, tec.ParamStatus, last.Parameter.Name)

	c.HandleFrame(statusRunFrame)
	s := c.State(1)
	assert.Equal(t, tec.StatusRun, s.Status)
	assert.True(t, s.Enabled)
	assert.False(t, c.Busy())
}

func TestSend_RejectsWhilePending(t *testing.T) {
	c, ft := newTestController(t)

	_, err := c.Read(tec.ParamTargetTemp, 1)
	require.NoError(t, err)

	_, err = c.Read(tec.ParamStatus, 1)
	assert.ErrorIs(t, err, ErrCommandPending)
	assert.Len(t, ft.Writes(), 1)
	assert.Equal(t, uint64(1), c.Metrics().RejectedCount.Load())

	last, ok := c.LastCommand()
	require.True(t, ok)
	assert.Equal(t, tec.ParamTargetTemp, last.Parameter.Name)
}

func TestSend_InvalidArguments(t *testing.T) {
	c, ft := newTestController(t)

	_, err := c.Read("bogus", 1)
	assert.ErrorIs(t, err, tec.ErrUnknownParameter)

	_, err = c.Read(tec.ParamStatus, 0)
	assert.ErrorIs(t, err, tec.ErrInvalidInstance)

	_, err = c.Write(tec.ParamObjectTemp, 1, 10)
	assert.ErrorIs(t, err, tec.ErrReadOnly)

	_, err = c.Write(tec.ParamOutput, 1, 0.5)
	assert.ErrorIs(t, err, tec.ErrInvalidValue)

	assert.Empty(t, ft.Writes())
	assert.False(t, c.Busy())
}

// ============================================================
// Malformed and Unexpected Replies
// ============================================================

func TestHandleFrame_MalformedFlushes(t *testing.T) {
	c, ft := newTestController(t)

	p, err := c.Read(tec.ParamTargetTemp, 1)
	require.NoError(t, err)

	assert.NotPanics(t, func() { c.HandleFrame("!0015AA") })

	_, err = waitResult(t, p)
	var protoErr *tec.ProtocolError
	require.True(t, errors.As(err, &protoErr))
	assert.ErrorIs(t, err, tec.ErrMalformed)

	assert.Equal(t, 1, ft.Flushes())
	assert.Equal(t, tec.NewDeviceState(1), c.State(1))
	assert.Empty(t, c.States())
	assert.False(t, c.Busy())
	assert.Equal(t, uint64(1), c.Metrics().MalformedCount.Load())
}

func TestHandleFrame_ChecksumMismatch(t *testing.T) {
	c, ft := newTestController(t)

	p, err := c.Read(tec.ParamTargetTemp, 1)
	require.NoError(t, err)

	c.HandleFrame("!0015AA412000000C91")

	_, err = waitResult(t, p)
	assert.ErrorIs(t, err, tec.ErrChecksum)
	assert.Equal(t, 1, ft.Flushes())
	assert.Zero(t, c.State(1).TargetTemp)
	assert.Equal(t, uint64(1), c.Metrics().ChecksumErrorCount.Load())
}

func TestHandleFrame_ChecksumVerificationDisabled(t *testing.T) {
	c, _ := newTestController(t, WithVerifyChecksum(false))

	p, err := c.Read(tec.ParamTargetTemp, 1)
	require.NoError(t, err)

	c.HandleFrame("!0015AA412000000C91")

	res, err := waitResult(t, p)
	require.NoError(t, err)
	assert.Equal(t, 10.0, res.Value.Float())
}

func TestHandleFrame_AckMustEchoWriteChecksum(t *testing.T) {
	c, ft := newTestController(t)

	p, err := c.Write(tec.ParamOutput, 1, 1)
	require.NoError(t, err)

	// checksum of the ack's own text, not of the write
	c.HandleFrame("!0015AAE7E5")

	_, err = waitResult(t, p)
	assert.ErrorIs(t, err, tec.ErrChecksum)
	assert.False(t, c.State(1).Enabled)
	assert.Equal(t, 1, ft.Flushes())
	assert.Equal(t, uint64(1), c.Metrics().ChecksumErrorCount.Load())

	p, err = c.Write(tec.ParamOutput, 1, 1)
	require.NoError(t, err)
	c.HandleFrame(ackOutputOn)

	_, err = waitResult(t, p)
	require.NoError(t, err)
	assert.True(t, c.State(1).Enabled)
}

func TestHandleFrame_AckEchoNotCheckedWhenDisabled(t *testing.T) {
	c, _ := newTestController(t, WithVerifyChecksum(false))

	p, err := c.Write(tec.ParamOutput, 1, 1)
	require.NoError(t, err)
	c.HandleFrame("!0015AAE7E5")

	_, err = waitResult(t, p)
	require.NoError(t, err)
	assert.True(t, c.State(1).Enabled)
}

func TestHandleFrame_Uncorrelated(t *testing.T) {
	var mu sync.Mutex
	var gotErr error
	obs := ObserverFuncs{OnReply: func(_ *tec.Reply, cmd *tec.Command, err error) {
		mu.Lock()
		defer mu.Unlock()
		assert.Nil(t, cmd)
		gotErr = err
	}}

	c, ft := newTestController(t, WithObserver(obs))
	c.HandleFrame(ackOutputOn)

	assert.Empty(t, c.States())
	assert.Zero(t, ft.Flushes())
	assert.Equal(t, uint64(1), c.Metrics().UncorrelatedCount.Load())

	mu.Lock()
	defer mu.Unlock()
	assert.ErrorIs(t, gotErr, tec.ErrUncorrelated)
}

func TestHandleFrame_DeviceError(t *testing.T) {
	c, _ := newTestController(t)

	p, err := c.Read(tec.ParamTargetTemp, 1)
	require.NoError(t, err)
	c.HandleFrame(deviceErr5Frame)

	_, err = waitResult(t, p)
	var devErr *tec.DeviceError
	require.True(t, errors.As(err, &devErr))
	assert.Equal(t, tec.ErrCodeParamNotAvailable, devErr.Code)

	s := c.State(1)
	assert.True(t, s.Error)
	assert.Equal(t, tec.ErrCodeParamNotAvailable, s.LastErrorCode)

	// a value reply leaves the error flag alone
	p, err = c.Read(tec.ParamTargetTemp, 1)
	require.NoError(t, err)
	c.HandleFrame(value10Frame)
	_, err = waitResult(t, p)
	require.NoError(t, err)
	assert.True(t, c.State(1).Error)

	// an ack clears it
	p, err = c.Write(tec.ParamOutput, 1, 1)
	require.NoError(t, err)
	c.HandleFrame(ackOutputOn)
	_, err = waitResult(t, p)
	require.NoError(t, err)

	s = c.State(1)
	assert.False(t, s.Error)
	assert.Zero(t, s.LastErrorCode)
}

func TestHandleFrame_ValueReplyToWrite(t *testing.T) {
	c, _ := newTestController(t)

	p, err := c.Write(tec.ParamOutput, 1, 1)
	require.NoError(t, err)
	c.HandleFrame(value10Frame)

	_, err = waitResult(t, p)
	var protoErr *tec.ProtocolError
	assert.True(t, errors.As(err, &protoErr))
	assert.False(t, c.State(1).Enabled)
}

func TestHandleFrame_StatusOutOfRange(t *testing.T) {
	c, _ := newTestController(t)

	p, err := c.Read(tec.ParamStatus, 1)
	require.NoError(t, err)
	c.HandleFrame(statusBadFrame)

	_, err = waitResult(t, p)
	assert.ErrorIs(t, err, tec.ErrInvalidValue)
	assert.Equal(t, tec.StatusInit, c.State(1).Status)
}

func TestHandleFrame_InstancesAreIndependent(t *testing.T) {
	c, _ := newTestController(t)

	p, err := c.Read(tec.ParamTargetTemp, 2)
	require.NoError(t, err)
	c.HandleFrame(value10Frame)
	_, err = waitResult(t, p)
	require.NoError(t, err)

	assert.Equal(t, 10.0, c.State(2).TargetTemp)
	assert.Zero(t, c.State(1).TargetTemp)

	states := c.States()
	require.Len(t, states, 1)
	assert.Equal(t, uint8(2), states[0].Instance)
}

// ============================================================
// Timeout, Close and Transport Failures
// ============================================================

func TestResponseTimeout(t *testing.T) {
	c, ft := newTestController(t, WithResponseTimeout(20*time.Millisecond))

	p, err := c.Read(tec.ParamTargetTemp, 1)
	require.NoError(t, err)

	_, err = waitResult(t, p)
	assert.ErrorIs(t, err, ErrResponseTimeout)
	assert.False(t, c.Busy())
	assert.Equal(t, uint64(1), c.Metrics().TimeoutCount.Load())
	assert.Eventually(t, func() bool { return ft.Flushes() == 1 }, time.Second, 5*time.Millisecond)

	// a late reply is uncorrelated
	c.HandleFrame(value10Frame)
	assert.Zero(t, c.State(1).TargetTemp)

	_, err = c.Read(tec.ParamStatus, 1)
	assert.NoError(t, err)
}

func TestClose(t *testing.T) {
	c, ft := newTestController(t)

	p, err := c.Write(tec.ParamOutput, 1, 1)
	require.NoError(t, err)
	c.HandleFrame(ackOutputOn)
	_, err = waitResult(t, p)
	require.NoError(t, err)
	require.True(t, c.State(1).Enabled)

	p, err = c.Read(tec.ParamTargetTemp, 1)
	require.NoError(t, err)

	require.NoError(t, c.Close())

	_, err = waitResult(t, p)
	assert.ErrorIs(t, err, ErrClosed)
	assert.True(t, ft.Closed())
	assert.Equal(t, tec.NewDeviceState(1), c.State(1))

	_, err = c.Read(tec.ParamStatus, 1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, c.Close())
}

func TestWriteFailureClosesController(t *testing.T) {
	c, ft := newTestController(t)
	ft.writeErr = errors.New("unplugged")

	_, err := c.Read(tec.ParamStatus, 1)
	var tErr *tec.TransportError
	require.True(t, errors.As(err, &tErr))
	assert.Equal(t, "write", tErr.Op)

	_, err = c.Read(tec.ParamStatus, 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestResetState(t *testing.T) {
	c, _ := newTestController(t)

	p, err := c.Read(tec.ParamTargetTemp, 1)
	require.NoError(t, err)
	c.HandleFrame(value10Frame)
	_, err = waitResult(t, p)
	require.NoError(t, err)

	c.ResetState()
	assert.Zero(t, c.State(1).TargetTemp)
	assert.Len(t, c.States(), 1)
}

// ============================================================
// Receive Task
// ============================================================

type pipeTransport struct {
	*io.PipeReader
	io.Writer
}

func (p pipeTransport) Close() error {
	return p.PipeReader.Close()
}

func TestRun_DeliversFrames(t *testing.T) {
	pr, pw := io.Pipe()
	ft := newFakeTransport()
	c, err := New(pipeTransport{PipeReader: pr, Writer: ft}, nil)
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(context.Background()) }()

	p, err := c.Read(tec.ParamTargetTemp, 1)
	require.NoError(t, err)

	// split across writes with a trailing line feed
	_, err = pw.Write([]byte("!0015AA4120"))
	require.NoError(t, err)
	_, err = pw.Write([]byte("00000C90\r\n"))
	require.NoError(t, err)

	res, err := waitResult(t, p)
	require.NoError(t, err)
	assert.Equal(t, 10.0, res.Value.Float())

	require.NoError(t, c.Close())
	select {
	case err := <-runErr:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestRun_ReadErrorFailsPending(t *testing.T) {
	pr, pw := io.Pipe()
	c, err := New(pipeTransport{PipeReader: pr, Writer: newFakeTransport()}, nil)
	require.NoError(t, err)

	p, err := c.Read(tec.ParamTargetTemp, 1)
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(context.Background()) }()

	pw.CloseWithError(errors.New("link lost"))

	var tErr *tec.TransportError
	select {
	case err := <-runErr:
		require.True(t, errors.As(err, &tErr))
		assert.Equal(t, "read", tErr.Op)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}

	_, err = waitResult(t, p)
	assert.True(t, errors.As(err, &tErr))
}

// ============================================================
// Blocking Helpers
// ============================================================

// respond answers every written frame with a canned reply
func respond(c *Controller, ft *fakeTransport, replies map[string]string) {
	go func() {
		for {
			select {
			case frame := <-ft.written:
				for key, reply := range replies {
					if strings.Contains(frame, key) {
						c.HandleFrame(reply)
						break
					}
				}
			case <-ft.done:
				return
			}
		}
	}()
}

func TestRefresh(t *testing.T) {
	c, ft := newTestController(t)
	respond(c, ft, map[string]string{
		"VR0068": statusRunFrame,
		"VR03E8": value25_5Frame,
		"VR03E9": deviceErr5Frame,
		"VR0BB8": value10Frame,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s, err := c.Refresh(ctx, 1)
	var devErr *tec.DeviceError
	require.True(t, errors.As(err, &devErr))
	assert.Contains(t, err.Error(), "refresh sink")

	assert.Equal(t, tec.StatusRun, s.Status)
	assert.True(t, s.Enabled)
	assert.Equal(t, 25.5, s.ObjectTemp)
	assert.Equal(t, 10.0, s.TargetTemp)
	assert.True(t, s.Error)

	writes := ft.Writes()
	require.Len(t, writes, 4)
	assert.Equal(t, readStatusFrame, writes[0])
	assert.Equal(t, readTargetFrame, writes[3])
}

func TestGetSet(t *testing.T) {
	c, ft := newTestController(t)
	respond(c, ft, map[string]string{
		"VR03E9": value31_25Frame,
		"VS0BB8": ackTarget10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	v, err := c.Get(ctx, tec.ParamSinkTemp, 1)
	require.NoError(t, err)
	assert.Equal(t, 31.25, v.Float())

	require.NoError(t, c.Set(ctx, tec.ParamTargetTemp, 1, 10))
	assert.Equal(t, 10.0, c.State(1).TargetTemp)
	assert.Equal(t, 31.25, c.State(1).SinkTemp)
}

func TestWaitIdle_ContextCancel(t *testing.T) {
	c, _ := newTestController(t, WithResponseTimeout(0))

	_, err := c.Read(tec.ParamStatus, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.WaitIdle(ctx), context.DeadlineExceeded)
}

// ============================================================
// Observers
// ============================================================

func TestObserver_CalledOutsideLock(t *testing.T) {
	var c *Controller
	var mu sync.Mutex
	var sent []string
	var states []tec.DeviceState

	obs := ObserverFuncs{
		OnFrameSent: func(_ tec.Command, frame string) {
			mu.Lock()
			defer mu.Unlock()
			sent = append(sent, frame)
		},
		OnStateChanged: func(s tec.DeviceState) {
			// would deadlock if called with the controller lock held
			_ = c.Busy()
			mu.Lock()
			defer mu.Unlock()
			states = append(states, s)
		},
	}

	c, _ = newTestController(t, WithObserver(obs))

	p, err := c.Write(tec.ParamTargetTemp, 1, 10)
	require.NoError(t, err)
	c.HandleFrame(ackTarget10)
	_, err = waitResult(t, p)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{writeTarget10}, sent)
	require.Len(t, states, 1)
	assert.Equal(t, 10.0, states[0].TargetTemp)
}
