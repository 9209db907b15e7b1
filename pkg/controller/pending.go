// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package controller

import (
	"context"
	"time"

	"github.com/Thermoquad/tecstat/pkg/tec"
)

// Result is the outcome of one command
type Result struct {
	Command   tec.Command
	Reply     *tec.Reply    // nil on timeout or close
	Value     tec.Value     // decoded value of a read
	RoundTrip time.Duration // send to reply
	Err       error         // *tec.DeviceError, *tec.ProtocolError, ErrResponseTimeout, ErrClosed
}

// Pending is the single in-flight command slot. It resolves exactly once.
type Pending struct {
	cmd    tec.Command
	frame  string
	sentAt time.Time
	timer  *time.Timer
	done   chan struct{}
	result Result
}

func newPending(cmd tec.Command, frame string) *Pending {
	return &Pending{
		cmd:    cmd,
		frame:  frame,
		sentAt: time.Now(),
		done:   make(chan struct{}),
	}
}

// Command returns the command awaiting its reply
func (p *Pending) Command() tec.Command {
	return p.cmd
}

// Frame returns the transmitted frame without terminator
func (p *Pending) Frame() string {
	return p.frame
}

// Done is closed once the command resolved
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Result returns the outcome. Only valid after Done is closed.
func (p *Pending) Result() Result {
	return p.result
}

// Wait blocks until the command resolves or ctx ends
func (p *Pending) Wait(ctx context.Context) (Result, error) {
	select {
	case <-p.done:
		return p.result, p.result.Err
	case <-ctx.Done():
		return Result{Command: p.cmd}, ctx.Err()
	}
}

// resolve must be called with the controller lock held
func (p *Pending) resolve(r Result) {
	if p.timer != nil {
		p.timer.Stop()
	}
	r.Command = p.cmd
	if r.Reply != nil {
		r.RoundTrip = r.Reply.Timestamp.Sub(p.sentAt)
	}
	p.result = r
	close(p.done)
}
