// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package controller

import "sync/atomic"

// Metrics contains atomic counters for a controller session.
// Values can back prometheus CounterFunc or GaugeFunc collectors.
type Metrics struct {
	FramesSent     atomic.Uint64
	FramesReceived atomic.Uint64

	AckCount         atomic.Uint64
	ValueCount       atomic.Uint64
	DeviceErrorCount atomic.Uint64

	MalformedCount     atomic.Uint64
	ChecksumErrorCount atomic.Uint64
	FramingErrorCount  atomic.Uint64
	UncorrelatedCount  atomic.Uint64
	FlushCount         atomic.Uint64

	TimeoutCount  atomic.Uint64
	RejectedCount atomic.Uint64
	ChainedCount  atomic.Uint64

	// Inflight is 1 while a command awaits its reply
	Inflight atomic.Int32
}
