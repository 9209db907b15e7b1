// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tec

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks reply frame statistics and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames     uint64
	AckFrames       uint64
	ValueFrames     uint64
	DeviceErrors    uint64
	MalformedFrames uint64
	ChecksumErrors  uint64
	FramingErrors   uint64
	AnomalousStates uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update records one reply and the error ParseReply returned for it
func (s *Statistics) Update(r *Reply, parseErr error) {
	s.TotalFrames++
	s.LastUpdateTime = time.Now()

	if parseErr != nil {
		if errors.Is(parseErr, ErrChecksum) {
			s.ChecksumErrors++
		} else {
			s.MalformedFrames++
		}
		return
	}

	switch r.Kind {
	case ReplyAck:
		s.AckFrames++
	case ReplyValue:
		s.ValueFrames++
	case ReplyDeviceError:
		s.DeviceErrors++
	default:
		s.MalformedFrames++
	}
}

// UpdateFramingError records a framer error (oversized frame)
func (s *Statistics) UpdateFramingError() {
	s.FramingErrors++
	s.LastUpdateTime = time.Now()
}

// UpdateAnomalies records state validation failures
func (s *Statistics) UpdateAnomalies(errs []ValidationError) {
	s.AnomalousStates += uint64(len(errs))
}

func (s *Statistics) errorCount() uint64 {
	return s.DeviceErrors + s.MalformedFrames + s.ChecksumErrors + s.FramingErrors
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.errorCount()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	percent := func(n uint64) float64 {
		if s.TotalFrames == 0 {
			return 0
		}
		return float64(n) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Ack Frames:      %8d (%.1f%%)\n", s.AckFrames, percent(s.AckFrames))
	result += fmt.Sprintf("Value Frames:    %8d (%.1f%%)\n", s.ValueFrames, percent(s.ValueFrames))

	if s.DeviceErrors > 0 {
		result += fmt.Sprintf("Device Errors:   %8d (%.1f%%)\n", s.DeviceErrors, percent(s.DeviceErrors))
	}
	if s.MalformedFrames > 0 {
		result += fmt.Sprintf("Malformed:       %8d (%.1f%%)\n", s.MalformedFrames, percent(s.MalformedFrames))
	}
	if s.ChecksumErrors > 0 {
		result += fmt.Sprintf("Checksum Errors: %8d (%.1f%%)\n", s.ChecksumErrors, percent(s.ChecksumErrors))
	}
	if s.FramingErrors > 0 {
		result += fmt.Sprintf("Framing Errors:  %8d\n", s.FramingErrors)
	}
	if s.AnomalousStates > 0 {
		result += fmt.Sprintf("Anomalies:       %8d\n", s.AnomalousStates)
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
