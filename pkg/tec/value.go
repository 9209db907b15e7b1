// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tec

import (
	"fmt"
	"math"
	"strconv"
)

// Value is a 32-bit parameter value together with its wire type
type Value struct {
	Type ValueType
	bits uint32
}

// FloatValue wraps an IEEE-754 single precision value
func FloatValue(f float32) Value {
	return Value{Type: Float32, bits: math.Float32bits(f)}
}

// IntValue wraps a signed 32-bit integer
func IntValue(i int32) Value {
	return Value{Type: Int32, bits: uint32(i)}
}

// NewValue converts x to a value of type t. Int32 values must be integral
// and in range.
func NewValue(t ValueType, x float64) (Value, error) {
	switch t {
	case Float32:
		if math.IsNaN(x) || math.IsInf(x, 0) || math.Abs(x) > math.MaxFloat32 {
			return Value{}, fmt.Errorf("%w: %v is not a finite float32", ErrInvalidValue, x)
		}
		return FloatValue(float32(x)), nil
	case Int32:
		if x != math.Trunc(x) || x < math.MinInt32 || x > math.MaxInt32 {
			return Value{}, fmt.Errorf("%w: %v is not an int32", ErrInvalidValue, x)
		}
		return IntValue(int32(x)), nil
	default:
		return Value{}, fmt.Errorf("%w: unknown type %d", ErrInvalidValue, t)
	}
}

// ValueFromBits builds a value from its raw 32-bit pattern
func ValueFromBits(t ValueType, bits uint32) Value {
	return Value{Type: t, bits: bits}
}

// Bits returns the raw 32-bit pattern
func (v Value) Bits() uint32 {
	return v.bits
}

// Float returns the value widened to float64
func (v Value) Float() float64 {
	if v.Type == Float32 {
		return float64(math.Float32frombits(v.bits))
	}
	return float64(int32(v.bits))
}

// Int returns the value as an int32, truncating floats
func (v Value) Int() int32 {
	if v.Type == Float32 {
		return int32(math.Float32frombits(v.bits))
	}
	return int32(v.bits)
}

// Hex renders the 8 character value field
func (v Value) Hex() string {
	return fmt.Sprintf("%08X", v.bits)
}

func (v Value) String() string {
	if v.Type == Float32 {
		return strconv.FormatFloat(v.Float(), 'f', -1, 32)
	}
	return strconv.FormatInt(int64(v.Int()), 10)
}

// ParseValueField decodes an 8 character hex value field as type t
func ParseValueField(field string, t ValueType) (Value, error) {
	if len(field) != valueFieldLen {
		return Value{}, fmt.Errorf("%w: value field %q is not %d hex digits", ErrMalformed, field, valueFieldLen)
	}
	bits, err := strconv.ParseUint(field, 16, 32)
	if err != nil {
		return Value{}, fmt.Errorf("%w: value field %q: %v", ErrMalformed, field, err)
	}
	return Value{Type: t, bits: uint32(bits)}, nil
}

// EncodeFloat renders f as its IEEE-754 bit pattern in uppercase hex
func EncodeFloat(f float32) string {
	return FloatValue(f).Hex()
}

// DecodeFloat reinterprets an 8 character hex field as an IEEE-754 single
func DecodeFloat(field string) (float32, error) {
	v, err := ParseValueField(field, Float32)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v.bits), nil
}
