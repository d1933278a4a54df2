// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package model

import (
	"fmt"

	"github.com/ffutop/modbus-sim/internal/codec"
)

// CoilValue is a tagged union: a coil either stores its own bit
// directly, or projects onto one bit of a register's serialized word
// stream. The YAML shape is {type: independent, value: bool} or
// {type: register_bit, register_addr: u16, bit_index: int}.
type CoilValue struct {
	Independent  bool
	RegisterBit  bool
	RegisterAddr uint16
	BitIndex     int
}

type coilValueWire struct {
	Type         string `yaml:"type"`
	Value        bool   `yaml:"value,omitempty"`
	RegisterAddr uint16 `yaml:"register_addr,omitempty"`
	BitIndex     int    `yaml:"bit_index,omitempty"`
}

// MarshalYAML implements yaml.Marshaler.
func (v CoilValue) MarshalYAML() (interface{}, error) {
	if v.RegisterBit {
		return coilValueWire{Type: "register_bit", RegisterAddr: v.RegisterAddr, BitIndex: v.BitIndex}, nil
	}
	return coilValueWire{Type: "independent", Value: v.Independent}, nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (v *CoilValue) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var wire coilValueWire
	if err := unmarshal(&wire); err != nil {
		return err
	}
	switch wire.Type {
	case "independent", "":
		*v = CoilValue{Independent: wire.Value}
	case "register_bit":
		*v = CoilValue{RegisterBit: true, RegisterAddr: wire.RegisterAddr, BitIndex: wire.BitIndex}
	default:
		return fmt.Errorf("model: unknown coil value type %q", wire.Type)
	}
	return nil
}

// CoilCell is one addressable bit of the coil database.
type CoilCell struct {
	Description     string         `yaml:"description,omitempty"`
	DataModelType   DataModelType  `yaml:"data_model_type"`
	DataAccessType  DataAccessType `yaml:"data_access_type,omitempty"`
	DataValue       CoilValue      `yaml:"data_value"`
	ExternalProgram string         `yaml:"external_program,omitempty"`
}

// CoilDatabase maps coil address to cell, with the same sparseness
// contract as RegisterDatabase.
type CoilDatabase map[uint16]*CoilCell

// ReadCoils walks count addresses starting at startAddr. rdb resolves
// RegisterBit projections; it may be nil if no coil in range uses one.
func (db CoilDatabase) ReadCoils(startAddr uint16, count int, fc FunctionCode, rdb RegisterDatabase, e codec.Endianness) ([]bool, error) {
	out := make([]bool, 0, count)
	for i := 0; i < count; i++ {
		addr := startAddr + uint16(i)
		cell, ok := db[addr]
		if !ok {
			return nil, except(IllegalDataAddress)
		}
		if !Allow(cell.DataAccessType, cell.DataModelType, fc) {
			return nil, except(IllegalFunction)
		}
		bit, err := resolveCoilBit(cell.DataValue, rdb, e)
		if err != nil {
			return nil, err
		}
		out = append(out, bit)
	}
	return out, nil
}

// UpdateCoils writes one bool per address starting at startAddr. A
// RegisterBit cell mutates the bit in place within its referenced
// register's current word stream and re-encodes it back to the
// register's textual value — the coil write mutates the register
// behind it.
func (db CoilDatabase) UpdateCoils(startAddr uint16, values []bool, fc FunctionCode, rdb RegisterDatabase, e codec.Endianness) error {
	for i, bit := range values {
		addr := startAddr + uint16(i)
		cell, ok := db[addr]
		if !ok {
			return except(IllegalDataAddress)
		}
		if !Allow(cell.DataAccessType, cell.DataModelType, fc) {
			return except(IllegalFunction)
		}
		if err := writeCoilBit(&cell.DataValue, rdb, e, bit); err != nil {
			return err
		}
	}
	return nil
}

func resolveCoilBit(v CoilValue, rdb RegisterDatabase, e codec.Endianness) (bool, error) {
	if !v.RegisterBit {
		return v.Independent, nil
	}
	lanes, _, err := rdb.lanesOf(v.RegisterAddr, e)
	if err != nil {
		return false, err
	}
	lane := v.BitIndex / 16
	bit := v.BitIndex % 16
	if lane >= len(lanes) {
		return false, except(IllegalDataValue)
	}
	return (lanes[lane]>>uint(bit))&1 == 1, nil
}

func writeCoilBit(v *CoilValue, rdb RegisterDatabase, e codec.Endianness, bit bool) error {
	if !v.RegisterBit {
		v.Independent = bit
		return nil
	}
	lanes, _, err := rdb.lanesOf(v.RegisterAddr, e)
	if err != nil {
		return err
	}
	lane := v.BitIndex / 16
	bitPos := v.BitIndex % 16
	if lane >= len(lanes) {
		return except(IllegalDataValue)
	}
	if bit {
		lanes[lane] |= 1 << uint(bitPos)
	} else {
		lanes[lane] &^= 1 << uint(bitPos)
	}
	return rdb.setLanes(v.RegisterAddr, lanes, e)
}
