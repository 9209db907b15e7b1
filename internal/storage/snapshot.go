// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package storage

import (
	"fmt"

	"github.com/Thermoquad/tecstat/pkg/tec"
	"github.com/fxamacker/cbor/v2"
)

// MsgStateSnapshot tags a DeviceState message
const MsgStateSnapshot uint8 = 0x01

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("storage: cbor encoder: %v", err))
	}
}

// snapshot is the wire form: [msg_type, state]
type snapshot struct {
	_     struct{} `cbor:",toarray"`
	Type  uint8
	State tec.DeviceState
}

// EncodeState serializes a state snapshot as a CBOR [msg_type, state] array
func EncodeState(s tec.DeviceState) ([]byte, error) {
	data, err := encMode.Marshal(snapshot{Type: MsgStateSnapshot, State: s})
	if err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}
	return data, nil
}

// DecodeState parses a message produced by EncodeState
func DecodeState(data []byte) (tec.DeviceState, error) {
	if len(data) == 0 {
		return tec.DeviceState{}, fmt.Errorf("empty CBOR payload")
	}

	var msg snapshot
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return tec.DeviceState{}, fmt.Errorf("failed to decode CBOR: %w", err)
	}
	if msg.Type != MsgStateSnapshot {
		return tec.DeviceState{}, fmt.Errorf("unexpected message type 0x%02X", msg.Type)
	}
	return msg.State, nil
}
