// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tec

import (
	"fmt"
	"time"
)

// DeviceState is the decoded snapshot of one controller instance
type DeviceState struct {
	Instance       uint8           `cbor:"1,keyasint"`
	Status         Status          `cbor:"2,keyasint"`
	Enabled        bool            `cbor:"3,keyasint"`
	TargetTemp     float64         `cbor:"4,keyasint"`
	ObjectTemp     float64         `cbor:"5,keyasint"`
	SinkTemp       float64         `cbor:"6,keyasint"`
	Error          bool            `cbor:"7,keyasint"`
	LastErrorCode  DeviceErrorCode `cbor:"8,keyasint,omitempty"`
	AutoResetDelay int32           `cbor:"9,keyasint,omitempty"`
	UpdatedAt      time.Time       `cbor:"10,keyasint"`
}

// NewDeviceState returns the default state of an instance
func NewDeviceState(instance uint8) DeviceState {
	return DeviceState{Instance: instance, Status: StatusInit}
}

// StatusFromInt maps the status parameter value to a Status
func StatusFromInt(v int32) (Status, error) {
	if v < int32(StatusInit) || v > int32(StatusResetting) {
		return StatusError, fmt.Errorf("%w: status %d", ErrInvalidValue, v)
	}
	return Status(v), nil
}

func (s DeviceState) String() string {
	errStr := "no"
	if s.Error {
		errStr = "yes"
		if s.LastErrorCode != 0 {
			errStr = fmt.Sprintf("yes (0x%02X %s)", uint8(s.LastErrorCode), s.LastErrorCode)
		}
	}
	return fmt.Sprintf("instance %d: status=%s enabled=%t target=%.2f°C object=%.2f°C sink=%.2f°C error=%s",
		s.Instance, s.Status, s.Enabled, s.TargetTemp, s.ObjectTemp, s.SinkTemp, errStr)
}
