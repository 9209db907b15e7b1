// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tec

import "fmt"

// AnomalyType represents different types of state anomalies
type AnomalyType int

const (
	AnomalyInvalidTemp AnomalyType = iota
	AnomalySinkOverheat
	AnomalyDeviceError
	AnomalyTargetUnreachable
)

// Plausibility limits in °C
const (
	MinObjectTemp   = -50.0
	MaxObjectTemp   = 200.0
	MaxSinkTemp     = 80.0
	MaxTargetOffset = 100.0 // between target and sink
)

// ValidationError represents a state validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateState checks a decoded snapshot for implausible values.
// Returns a slice of validation errors (empty if the state looks sane).
func ValidateState(s DeviceState) []ValidationError {
	errors := []ValidationError{}

	if s.ObjectTemp < MinObjectTemp || s.ObjectTemp > MaxObjectTemp {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidTemp,
			Message: fmt.Sprintf("Object temperature out of range (%.1f°C, valid: %.0f to %.0f°C)", s.ObjectTemp, MinObjectTemp, MaxObjectTemp),
			Details: map[string]interface{}{"value": s.ObjectTemp, "min": MinObjectTemp, "max": MaxObjectTemp},
		})
	}

	if s.SinkTemp > MaxSinkTemp {
		errors = append(errors, ValidationError{
			Type:    AnomalySinkOverheat,
			Message: fmt.Sprintf("Heat sink overheating (%.1f°C, max %.0f°C)", s.SinkTemp, MaxSinkTemp),
			Details: map[string]interface{}{"value": s.SinkTemp, "max": MaxSinkTemp},
		})
	}

	if s.Status == StatusError {
		errors = append(errors, ValidationError{
			Type:    AnomalyDeviceError,
			Message: "Controller reports ERROR status",
			Details: map[string]interface{}{"status": s.Status.String()},
		})
	}

	if s.Enabled {
		offset := s.TargetTemp - s.SinkTemp
		if offset > MaxTargetOffset || offset < -MaxTargetOffset {
			errors = append(errors, ValidationError{
				Type:    AnomalyTargetUnreachable,
				Message: fmt.Sprintf("Target %.1f°C is %.1f°C away from sink", s.TargetTemp, offset),
				Details: map[string]interface{}{"target": s.TargetTemp, "sink": s.SinkTemp, "max_offset": MaxTargetOffset},
			})
		}
	}

	return errors
}
