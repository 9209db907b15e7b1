// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tec

import (
	"fmt"
)

// Framer splits a byte stream into terminator-delimited frames
type Framer struct {
	buffer     []byte
	discarding bool // skipping the rest of an oversized frame
}

// NewFramer creates a new frame splitter
func NewFramer() *Framer {
	return &Framer{
		buffer: make([]byte, 0, MaxFrameLen),
	}
}

// Reset drops any partially received frame
func (f *Framer) Reset() {
	f.buffer = f.buffer[:0]
	f.discarding = false
}

// Buffered returns the bytes of the frame received so far
func (f *Framer) Buffered() []byte {
	return f.buffer
}

// DecodeByte feeds one byte. It returns the completed frame without its
// terminator, or "" while a frame is incomplete. Line feeds and empty frames
// are ignored.
func (f *Framer) DecodeByte(b byte) (string, error) {
	switch b {
	case Terminator:
		if f.discarding {
			f.Reset()
			return "", nil
		}
		if len(f.buffer) == 0 {
			return "", nil
		}
		frame := string(f.buffer)
		f.Reset()
		return frame, nil

	case '\n':
		return "", nil
	}

	if f.discarding {
		return "", nil
	}

	if len(f.buffer) >= MaxFrameLen {
		n := len(f.buffer)
		f.buffer = f.buffer[:0]
		f.discarding = true
		return "", fmt.Errorf("%w: frame exceeds %d bytes (%d buffered)", ErrMalformed, MaxFrameLen, n)
	}

	f.buffer = append(f.buffer, b)
	return "", nil
}

// Decode feeds a chunk and returns every frame completed by it
func (f *Framer) Decode(data []byte) ([]string, []error) {
	var frames []string
	var errs []error
	for _, b := range data {
		frame, err := f.DecodeByte(b)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if frame != "" {
			frames = append(frames, frame)
		}
	}
	return frames, errs
}
