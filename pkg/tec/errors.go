// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tec

import (
	"errors"
	"fmt"
)

// Sentinel errors
var (
	ErrUnknownParameter = errors.New("tec: unknown parameter")
	ErrDuplicateID      = errors.New("tec: duplicate parameter id")
	ErrDuplicateName    = errors.New("tec: duplicate parameter name")
	ErrInvalidInstance  = errors.New("tec: instance out of range")
	ErrInvalidValue     = errors.New("tec: invalid parameter value")
	ErrReadOnly         = errors.New("tec: parameter is read only")
	ErrFrameLength      = errors.New("tec: encoded frame has wrong length")
	ErrMalformed        = errors.New("tec: malformed frame")
	ErrChecksum         = errors.New("tec: checksum mismatch")
	ErrUncorrelated     = errors.New("tec: reply without pending command")
)

// TransportError is a failure of the underlying port. It ends the session.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("tec: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError is a reply that could not be interpreted. The session
// continues after it.
type ProtocolError struct {
	Frame string
	Err   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("tec: protocol error on %q: %v", e.Frame, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// DeviceError is a device error reply. The protocol does not identify which
// request caused it beyond the one that was pending.
type DeviceError struct {
	Code DeviceErrorCode
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("tec: device error 0x%02X (%s)", uint8(e.Code), e.Code)
}
