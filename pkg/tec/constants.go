// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package tec implements the frame codec for thermoelectric (Peltier)
// temperature controllers speaking the checksummed ASCII parameter protocol.
//
// Commands read or write one typed parameter on one instance. Every frame
// carries a trailing CRC-16/XMODEM rendered as four uppercase hex digits.
// Replies do not name the parameter they answer; they are told apart only by
// their length, so a reply must be correlated with the command that caused it.
package tec

// Frame prefixes (address 00, sequence 15AA)
const (
	ReadPrefix  = "#0015AA?VR"
	WritePrefix = "#0015AAVS"
	ReplyPrefix = "!0015AA"
)

// Terminator ends every frame in both directions
const Terminator = '\r'

// Frame lengths, checksum included, terminator excluded
const (
	ReadFrameLen  = len(ReadPrefix) + 4 + 2 + checksumLen
	WriteFrameLen = len(WritePrefix) + 4 + 2 + valueFieldLen + checksumLen

	AckFrameLen         = 11
	DeviceErrorFrameLen = 14
	ValueFrameLen       = 19

	MaxFrameLen = 64
)

const (
	checksumLen   = 4
	valueFieldLen = 8
)

// Instance limits (rendered as two decimal digits)
const (
	MinInstance = 1
	MaxInstance = 99
)

// Built-in parameter names
const (
	ParamDeviceType    = "device_type"
	ParamHWVersion     = "hw_version"
	ParamFWVersion     = "fw_version"
	ParamSerialNumber  = "serial_number"
	ParamStatus        = "status"
	ParamErrorNumber   = "error_number"
	ParamObjectTemp    = "object"
	ParamSinkTemp      = "sink"
	ParamOutputCurrent = "output_current"
	ParamOutputVoltage = "output_voltage"
	ParamOutput        = "output"
	ParamTargetTemp    = "target"
	ParamAutoReset     = "auto_reset"
)

// ValueType is the wire type of a parameter value
type ValueType int

const (
	Float32 ValueType = iota
	Int32
)

func (t ValueType) String() string {
	switch t {
	case Float32:
		return "float32"
	case Int32:
		return "int32"
	default:
		return "unknown"
	}
}

// Access is the access mode of a parameter
type Access int

const (
	ReadOnly Access = iota
	ReadWrite
)

func (a Access) String() string {
	if a == ReadWrite {
		return "rw"
	}
	return "ro"
}

// Status is the controller status reported by the status parameter
type Status int

const (
	StatusInit Status = iota
	StatusReady
	StatusRun
	StatusError
	StatusBoot
	StatusResetting
)

func (s Status) String() string {
	switch s {
	case StatusInit:
		return "INIT"
	case StatusReady:
		return "READY"
	case StatusRun:
		return "RUN"
	case StatusError:
		return "ERROR"
	case StatusBoot:
		return "BOOT"
	case StatusResetting:
		return "RESETTING"
	default:
		return "UNKNOWN"
	}
}

// DeviceErrorCode is the code carried by a device error reply
type DeviceErrorCode uint8

// Device error codes
const (
	ErrCodeCmdNotAvailable      DeviceErrorCode = 0x01
	ErrCodeDeviceBusy           DeviceErrorCode = 0x02
	ErrCodeGeneralComm          DeviceErrorCode = 0x03
	ErrCodeFormat               DeviceErrorCode = 0x04
	ErrCodeParamNotAvailable    DeviceErrorCode = 0x05
	ErrCodeParamReadOnly        DeviceErrorCode = 0x06
	ErrCodeValueOutOfRange      DeviceErrorCode = 0x07
	ErrCodeInstanceNotAvailable DeviceErrorCode = 0x08
)

func (c DeviceErrorCode) String() string {
	switch c {
	case ErrCodeCmdNotAvailable:
		return "command not available"
	case ErrCodeDeviceBusy:
		return "device busy"
	case ErrCodeGeneralComm:
		return "general communication error"
	case ErrCodeFormat:
		return "format error"
	case ErrCodeParamNotAvailable:
		return "parameter not available"
	case ErrCodeParamReadOnly:
		return "parameter read only"
	case ErrCodeValueOutOfRange:
		return "value out of range"
	case ErrCodeInstanceNotAvailable:
		return "instance not available"
	default:
		return "unknown error"
	}
}
