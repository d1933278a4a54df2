// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package model

import (
	"github.com/ffutop/modbus-sim/internal/codec"
)

// RegisterCell is one addressable slot of the register database. Its
// value is kept as text so a single table can mix scalar kinds; the
// value is parsed against DataType at encode time and re-formatted at
// decode time.
type RegisterCell struct {
	Description    string         `yaml:"description,omitempty"`
	DataModelType  DataModelType  `yaml:"data_model_type"`
	DataAccessType DataAccessType `yaml:"data_access_type,omitempty"`
	DataType       codec.DataType `yaml:"data_type"`
	DataValue      string         `yaml:"data_value"`
}

// RegisterDatabase maps register address to cell. Addresses not
// present are holes: a walk stepping onto one terminates the request
// with IllegalDataAddress.
type RegisterDatabase map[uint16]*RegisterCell

// RequestRegisters walks the database starting at startAddr, producing
// wordCount words by serializing successive cells under endianness.
// See the dispatcher design for the walk's loop invariants: addr is
// the next cell to read, remaining the words still owed.
func (db RegisterDatabase) RequestRegisters(startAddr uint16, wordCount int, fc FunctionCode, e codec.Endianness) ([]uint16, error) {
	addr := startAddr
	remaining := wordCount
	var out []uint16

	for remaining > 0 {
		cell, ok := db[addr]
		if !ok {
			return nil, except(IllegalDataAddress)
		}
		if !Allow(cell.DataAccessType, cell.DataModelType, fc) {
			return nil, except(IllegalFunction)
		}
		words, err := codec.EncodeValue(cell.DataType, cell.DataValue, e)
		if err != nil {
			return nil, except(IllegalDataValue)
		}
		w := len(words)
		if remaining < w {
			return nil, except(IllegalDataValue)
		}
		out = append(out, words...)
		remaining -= w
		addr += uint16(w)
	}
	return out, nil
}

// UpdateRegisters walks the database starting at startAddr, consuming
// words from the front of the supplied slice one cell at a time.
// Returns the count of words actually consumed.
func (db RegisterDatabase) UpdateRegisters(startAddr uint16, words []uint16, fc FunctionCode, e codec.Endianness) (int, error) {
	addr := startAddr
	consumed := 0

	for consumed < len(words) {
		cell, ok := db[addr]
		if !ok {
			return 0, except(IllegalDataAddress)
		}
		if !Allow(cell.DataAccessType, cell.DataModelType, fc) {
			return 0, except(IllegalFunction)
		}
		w := cell.DataType.WordWidth()
		if consumed+w > len(words) {
			return 0, except(IllegalDataValue)
		}
		text, err := codec.DecodeValue(cell.DataType, words[consumed:consumed+w], e)
		if err != nil {
			return 0, except(IllegalDataValue)
		}
		cell.DataValue = text
		consumed += w
		addr += uint16(w)
	}
	return consumed, nil
}

// lanesOf serializes the register at addr into its 16-bit lanes, in
// lane order (lane[0] least significant), for a coil-as-register-bit
// projection to index into.
func (db RegisterDatabase) lanesOf(addr uint16, e codec.Endianness) ([]uint16, *RegisterCell, error) {
	cell, ok := db[addr]
	if !ok {
		return nil, nil, except(IllegalDataAddress)
	}
	wire, err := codec.EncodeValue(cell.DataType, cell.DataValue, e)
	if err != nil {
		return nil, nil, except(IllegalDataValue)
	}
	lanes := wire
	if e == codec.BigEndian {
		lanes = make([]uint16, len(wire))
		for i, w := range wire {
			lanes[len(wire)-1-i] = w
		}
	}
	return lanes, cell, nil
}

// setLanes re-encodes lanes (lane order) back into the register at
// addr's textual DataValue, respecting endianness.
func (db RegisterDatabase) setLanes(addr uint16, lanes []uint16, e codec.Endianness) error {
	cell := db[addr]
	wire := lanes
	if e == codec.BigEndian {
		wire = make([]uint16, len(lanes))
		for i, w := range lanes {
			wire[len(lanes)-1-i] = w
		}
	}
	text, err := codec.DecodeValue(cell.DataType, wire, e)
	if err != nil {
		return except(IllegalDataValue)
	}
	cell.DataValue = text
	return nil
}
