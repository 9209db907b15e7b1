// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tec

import (
	"fmt"
)

// CommandKind distinguishes parameter reads from writes
type CommandKind int

const (
	KindRead CommandKind = iota
	KindWrite
)

func (k CommandKind) String() string {
	if k == KindWrite {
		return "WRITE"
	}
	return "READ"
}

// Command is a single parameter read or write on one instance
type Command struct {
	Kind      CommandKind
	Parameter ParameterDescriptor
	Instance  uint8
	Payload   Value // writes only
}

// NewReadCommand builds a read of parameter d on instance
func NewReadCommand(d ParameterDescriptor, instance uint8) (Command, error) {
	if err := checkInstance(instance); err != nil {
		return Command{}, err
	}
	return Command{Kind: KindRead, Parameter: d, Instance: instance}, nil
}

// NewWriteCommand builds a write of value x to parameter d on instance
func NewWriteCommand(d ParameterDescriptor, instance uint8, x float64) (Command, error) {
	if err := checkInstance(instance); err != nil {
		return Command{}, err
	}
	if !d.Writable() {
		return Command{}, fmt.Errorf("%w: %s", ErrReadOnly, d)
	}
	v, err := NewValue(d.Type, x)
	if err != nil {
		return Command{}, fmt.Errorf("write %s: %w", d, err)
	}
	return Command{Kind: KindWrite, Parameter: d, Instance: instance, Payload: v}, nil
}

func checkInstance(instance uint8) error {
	if instance < MinInstance || instance > MaxInstance {
		return fmt.Errorf("%w: %d (valid %d-%d)", ErrInvalidInstance, instance, MinInstance, MaxInstance)
	}
	return nil
}

// Encode renders the command as a checksummed frame without terminator
func (c Command) Encode() (string, error) {
	return EncodeCommand(c)
}

func (c Command) String() string {
	if c.Kind == KindWrite {
		return fmt.Sprintf("%s %s[%d] = %s", c.Kind, c.Parameter.Name, c.Instance, c.Payload)
	}
	return fmt.Sprintf("%s %s[%d]", c.Kind, c.Parameter.Name, c.Instance)
}

// EncodeCommand renders c as a checksummed frame without terminator.
// Frames that do not come out at their fixed length are rejected.
func EncodeCommand(c Command) (string, error) {
	if err := checkInstance(c.Instance); err != nil {
		return "", err
	}

	var body string
	var want int
	switch c.Kind {
	case KindRead:
		body = fmt.Sprintf("%s%04X%02d", ReadPrefix, c.Parameter.ID, c.Instance)
		want = ReadFrameLen
	case KindWrite:
		if c.Payload.Type != c.Parameter.Type {
			return "", fmt.Errorf("%w: %s payload for %s parameter %s", ErrInvalidValue, c.Payload.Type, c.Parameter.Type, c.Parameter)
		}
		body = fmt.Sprintf("%s%04X%02d%s", WritePrefix, c.Parameter.ID, c.Instance, c.Payload.Hex())
		want = WriteFrameLen
	default:
		return "", fmt.Errorf("tec: unknown command kind %d", c.Kind)
	}

	frame := body + Checksum(body)
	if len(frame) != want {
		return "", fmt.Errorf("%w: %q is %d characters, want %d", ErrFrameLength, frame, len(frame), want)
	}
	return frame, nil
}
