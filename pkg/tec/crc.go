// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sigurn/crc16"
)

var crcTable = crc16.MakeTable(crc16.CRC16_XMODEM)

// CalculateCRC computes the CRC-16/XMODEM checksum for the given data
func CalculateCRC(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}

// Checksum returns the frame checksum of s as four uppercase hex digits
func Checksum(s string) string {
	return fmt.Sprintf("%04X", CalculateCRC([]byte(s)))
}

// VerifyChecksum reports whether the trailing four hex digits of frame match
// the checksum of everything before them.
func VerifyChecksum(frame string) bool {
	if len(frame) <= checksumLen {
		return false
	}
	body := frame[:len(frame)-checksumLen]
	got, err := strconv.ParseUint(frame[len(frame)-checksumLen:], 16, 16)
	if err != nil {
		return false
	}
	return uint16(got) == CalculateCRC([]byte(body))
}

// VerifyAckEcho reports whether an ack frame carries the checksum of the
// command frame it acknowledges. An ack has no payload of its own; the
// device echoes the checksum of the request instead.
func VerifyAckEcho(ack, command string) bool {
	if len(ack) <= checksumLen || len(command) <= checksumLen {
		return false
	}
	return strings.EqualFold(ack[len(ack)-checksumLen:], command[len(command)-checksumLen:])
}
