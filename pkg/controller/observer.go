// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package controller

import "github.com/Thermoquad/tecstat/pkg/tec"

// Observer receives controller events. Calls happen outside the controller
// lock, so observers may issue new commands.
type Observer interface {
	// FrameSent is called after a command frame was written
	FrameSent(cmd tec.Command, frame string)
	// ReplyReceived is called for every reply frame. cmd is the command the
	// reply was correlated with, nil if none was pending. err is non-nil for
	// protocol errors and device errors.
	ReplyReceived(reply *tec.Reply, cmd *tec.Command, err error)
	// StateChanged is called with the new snapshot after every mutation
	StateChanged(state tec.DeviceState)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnFrameSent    func(cmd tec.Command, frame string)
	OnReply        func(reply *tec.Reply, cmd *tec.Command, err error)
	OnStateChanged func(state tec.DeviceState)
}

var _ Observer = ObserverFuncs{}

func (f ObserverFuncs) FrameSent(cmd tec.Command, frame string) {
	if f.OnFrameSent != nil {
		f.OnFrameSent(cmd, frame)
	}
}

func (f ObserverFuncs) ReplyReceived(reply *tec.Reply, cmd *tec.Command, err error) {
	if f.OnReply != nil {
		f.OnReply(reply, cmd, err)
	}
}

func (f ObserverFuncs) StateChanged(state tec.DeviceState) {
	if f.OnStateChanged != nil {
		f.OnStateChanged(state)
	}
}

// events collects observer calls made while the controller lock is held
type events struct {
	sent    []sentEvent
	replies []replyEvent
	states  []tec.DeviceState
}

type sentEvent struct {
	cmd   tec.Command
	frame string
}

type replyEvent struct {
	reply *tec.Reply
	cmd   *tec.Command
	err   error
}

func (e *events) frameSent(cmd tec.Command, frame string) {
	e.sent = append(e.sent, sentEvent{cmd: cmd, frame: frame})
}

func (e *events) replyReceived(reply *tec.Reply, cmd *tec.Command, err error) {
	e.replies = append(e.replies, replyEvent{reply: reply, cmd: cmd, err: err})
}

func (e *events) stateChanged(s tec.DeviceState) {
	e.states = append(e.states, s)
}
