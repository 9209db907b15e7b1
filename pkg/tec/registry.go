// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tec

import (
	"fmt"
	"sort"
	"strings"
)

// ParameterDescriptor describes one protocol parameter
type ParameterDescriptor struct {
	ID     uint16
	Name   string
	Type   ValueType
	Access Access
}

// Writable reports whether the parameter accepts writes
func (d ParameterDescriptor) Writable() bool {
	return d.Access == ReadWrite
}

func (d ParameterDescriptor) String() string {
	return fmt.Sprintf("%s(%d)", d.Name, d.ID)
}

// Registry maps parameter names to protocol ids and back. It is immutable
// once built.
type Registry struct {
	ints   []ParameterDescriptor
	floats []ParameterDescriptor
	byName map[string]ParameterDescriptor
}

// NewRegistry builds a registry from an Int32 table and a Float32 table.
// An id may appear only once across both tables; each name only once.
func NewRegistry(ints, floats []ParameterDescriptor) (*Registry, error) {
	r := &Registry{
		ints:   append([]ParameterDescriptor(nil), ints...),
		floats: append([]ParameterDescriptor(nil), floats...),
		byName: make(map[string]ParameterDescriptor, len(ints)+len(floats)),
	}

	ids := make(map[uint16]string, len(ints)+len(floats))
	add := func(d ParameterDescriptor, want ValueType) error {
		if d.Type != want {
			return fmt.Errorf("tec: parameter %s is %s, listed in %s table", d, d.Type, want)
		}
		if d.ID == 0 {
			return fmt.Errorf("tec: parameter %q has id 0", d.Name)
		}
		if d.Name == "" {
			return fmt.Errorf("tec: parameter id %d has no name", d.ID)
		}
		if other, ok := ids[d.ID]; ok {
			return fmt.Errorf("%w: %d used by %q and %q", ErrDuplicateID, d.ID, other, d.Name)
		}
		if _, ok := r.byName[d.Name]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateName, d.Name)
		}
		ids[d.ID] = d.Name
		r.byName[d.Name] = d
		return nil
	}

	for _, d := range r.ints {
		if err := add(d, Int32); err != nil {
			return nil, err
		}
	}
	for _, d := range r.floats {
		if err := add(d, Float32); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// NewRegistryFromList splits descriptors by value type and builds a registry
func NewRegistryFromList(params []ParameterDescriptor) (*Registry, error) {
	var ints, floats []ParameterDescriptor
	for _, p := range params {
		switch p.Type {
		case Int32:
			ints = append(ints, p)
		case Float32:
			floats = append(floats, p)
		default:
			return nil, fmt.Errorf("tec: parameter %s has invalid type %d", p, p.Type)
		}
	}
	return NewRegistry(ints, floats)
}

// DefaultRegistry returns the built-in parameter set
func DefaultRegistry() *Registry {
	r, err := NewRegistry(defaultInts, defaultFloats)
	if err != nil {
		panic(fmt.Sprintf("tec: default registry: %v", err))
	}
	return r
}

var defaultInts = []ParameterDescriptor{
	{ID: 100, Name: ParamDeviceType, Type: Int32, Access: ReadOnly},
	{ID: 101, Name: ParamHWVersion, Type: Int32, Access: ReadOnly},
	{ID: 102, Name: ParamFWVersion, Type: Int32, Access: ReadOnly},
	{ID: 103, Name: ParamSerialNumber, Type: Int32, Access: ReadOnly},
	{ID: 104, Name: ParamStatus, Type: Int32, Access: ReadOnly},
	{ID: 105, Name: ParamErrorNumber, Type: Int32, Access: ReadOnly},
	{ID: 2010, Name: ParamOutput, Type: Int32, Access: ReadWrite},
	{ID: 6310, Name: ParamAutoReset, Type: Int32, Access: ReadWrite},
}

var defaultFloats = []ParameterDescriptor{
	{ID: 1000, Name: ParamObjectTemp, Type: Float32, Access: ReadOnly},
	{ID: 1001, Name: ParamSinkTemp, Type: Float32, Access: ReadOnly},
	{ID: 1020, Name: ParamOutputCurrent, Type: Float32, Access: ReadOnly},
	{ID: 1021, Name: ParamOutputVoltage, Type: Float32, Access: ReadOnly},
	{ID: 3000, Name: ParamTargetTemp, Type: Float32, Access: ReadWrite},
}

// Encode returns the protocol id for a parameter name
func (r *Registry) Encode(name string) (uint16, error) {
	d, err := r.Lookup(name)
	if err != nil {
		return 0, err
	}
	return d.ID, nil
}

// Lookup returns the descriptor registered under name
func (r *Registry) Lookup(name string) (ParameterDescriptor, error) {
	d, ok := r.byName[name]
	if !ok {
		return ParameterDescriptor{}, fmt.Errorf("%w: %q", ErrUnknownParameter, name)
	}
	return d, nil
}

// Decode returns the descriptor for a protocol id. The Int32 table is
// searched before the Float32 table.
func (r *Registry) Decode(id uint16) (ParameterDescriptor, error) {
	for _, d := range r.ints {
		if d.ID == id {
			return d, nil
		}
	}
	for _, d := range r.floats {
		if d.ID == id {
			return d, nil
		}
	}
	return ParameterDescriptor{}, fmt.Errorf("%w: id %d", ErrUnknownParameter, id)
}

// Parameters returns every descriptor ordered by id
func (r *Registry) Parameters() []ParameterDescriptor {
	all := make([]ParameterDescriptor, 0, len(r.ints)+len(r.floats))
	all = append(all, r.ints...)
	all = append(all, r.floats...)
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}

// ParseValueType parses "float32" or "int32"
func ParseValueType(s string) (ValueType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "float32", "float":
		return Float32, nil
	case "int32", "int":
		return Int32, nil
	default:
		return 0, fmt.Errorf("tec: unknown value type %q", s)
	}
}

// ParseAccess parses "ro"/"read-only" or "rw"/"read-write"
func ParseAccess(s string) (Access, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ro", "read-only", "readonly", "":
		return ReadOnly, nil
	case "rw", "read-write", "readwrite":
		return ReadWrite, nil
	default:
		return 0, fmt.Errorf("tec: unknown access mode %q", s)
	}
}
