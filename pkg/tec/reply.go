// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tec

import (
	"fmt"
	"strconv"
	"time"
)

// ReplyKind classifies a reply frame by its length
type ReplyKind int

const (
	ReplyMalformed ReplyKind = iota
	ReplyAck
	ReplyDeviceError
	ReplyValue
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyAck:
		return "ACK"
	case ReplyDeviceError:
		return "DEVICE_ERROR"
	case ReplyValue:
		return "VALUE"
	default:
		return "MALFORMED"
	}
}

// ClassifyReply returns the reply kind implied by the frame length alone
func ClassifyReply(frame string) ReplyKind {
	switch len(frame) {
	case AckFrameLen:
		return ReplyAck
	case DeviceErrorFrameLen:
		return ReplyDeviceError
	case ValueFrameLen:
		return ReplyValue
	default:
		return ReplyMalformed
	}
}

// Reply is a classified reply frame. It does not know which parameter it
// answers; that comes from the pending command.
type Reply struct {
	Kind       ReplyKind
	Frame      string
	ValueField string          // Value replies
	ErrorCode  DeviceErrorCode // DeviceError replies
	Timestamp  time.Time
}

// Value decodes the value field as type t
func (r *Reply) Value(t ValueType) (Value, error) {
	if r.Kind != ReplyValue {
		return Value{}, fmt.Errorf("%w: %s reply carries no value", ErrMalformed, r.Kind)
	}
	return ParseValueField(r.ValueField, t)
}

// ParseReply classifies frame (terminator stripped) and extracts its fields.
// A malformed frame or, with verify set, a checksum mismatch is returned as
// a *ProtocolError alongside the partially filled reply. Ack frames are not
// verified here: their checksum echoes the request, see VerifyAckEcho.
func ParseReply(frame string, verify bool) (*Reply, error) {
	r := &Reply{
		Kind:      ClassifyReply(frame),
		Frame:     frame,
		Timestamp: time.Now(),
	}

	if r.Kind == ReplyMalformed {
		return r, &ProtocolError{Frame: frame, Err: fmt.Errorf("%w: length %d", ErrMalformed, len(frame))}
	}

	if verify && r.Kind != ReplyAck && !VerifyChecksum(frame) {
		return r, &ProtocolError{Frame: frame, Err: ErrChecksum}
	}

	body := frame[:len(frame)-checksumLen]
	switch r.Kind {
	case ReplyValue:
		field := body[len(body)-valueFieldLen:]
		if _, err := strconv.ParseUint(field, 16, 32); err != nil {
			return r, &ProtocolError{Frame: frame, Err: fmt.Errorf("%w: value field %q", ErrMalformed, field)}
		}
		r.ValueField = field
	case ReplyDeviceError:
		code, err := strconv.ParseUint(body[len(body)-2:], 16, 8)
		if err == nil {
			r.ErrorCode = DeviceErrorCode(code)
		}
	}

	return r, nil
}
