// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package model holds the typed register and coil databases, their
// per-cell access control, and the pure access matrix that decides
// which function code may touch which kind of cell.
package model

import (
	"fmt"

	"github.com/ffutop/modbus-sim/modbus"
)

// FunctionCode names the request kinds the dispatcher understands. It
// wraps the bit-exact modbus.FuncCode* values so that config YAML can
// name a function code by word instead of by number.
type FunctionCode byte

const (
	ReadCoils                  FunctionCode = FunctionCode(modbus.FuncCodeReadCoils)
	ReadDiscreteInputs         FunctionCode = FunctionCode(modbus.FuncCodeReadDiscreteInputs)
	ReadHoldingRegisters       FunctionCode = FunctionCode(modbus.FuncCodeReadHoldingRegisters)
	ReadInputRegisters         FunctionCode = FunctionCode(modbus.FuncCodeReadInputRegisters)
	WriteSingleCoil            FunctionCode = FunctionCode(modbus.FuncCodeWriteSingleCoil)
	WriteSingleRegister        FunctionCode = FunctionCode(modbus.FuncCodeWriteSingleRegister)
	WriteMultipleCoils         FunctionCode = FunctionCode(modbus.FuncCodeWriteMultipleCoils)
	WriteMultipleRegisters     FunctionCode = FunctionCode(modbus.FuncCodeWriteMultipleRegisters)
	ReadWriteMultipleRegisters FunctionCode = FunctionCode(modbus.FuncCodeReadWriteMultipleRegisters)
)

var functionCodeNames = map[FunctionCode]string{
	ReadCoils:                  "ReadCoils",
	ReadDiscreteInputs:         "ReadDiscreteInputs",
	ReadHoldingRegisters:       "ReadHoldingRegisters",
	ReadInputRegisters:         "ReadInputRegisters",
	WriteSingleCoil:            "WriteSingleCoil",
	WriteSingleRegister:        "WriteSingleRegister",
	WriteMultipleCoils:         "WriteMultipleCoils",
	WriteMultipleRegisters:     "WriteMultipleRegisters",
	ReadWriteMultipleRegisters: "ReadWriteMultipleRegisters",
}

func (fc FunctionCode) String() string {
	if s, ok := functionCodeNames[fc]; ok {
		return s
	}
	return fmt.Sprintf("FunctionCode(0x%02X)", byte(fc))
}

// ParseFunctionCode resolves a config string into a FunctionCode.
func ParseFunctionCode(s string) (FunctionCode, error) {
	for fc, name := range functionCodeNames {
		if name == s {
			return fc, nil
		}
	}
	return 0, fmt.Errorf("model: unknown function code %q", s)
}

// MarshalYAML implements yaml.Marshaler.
func (fc FunctionCode) MarshalYAML() (interface{}, error) {
	return fc.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (fc *FunctionCode) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseFunctionCode(s)
	if err != nil {
		return err
	}
	*fc = parsed
	return nil
}

// IsWriteFamily reports whether fc is one of the write-family function
// codes that trigger the external-mode post-write hook, including the
// write phase of ReadWriteMultipleRegisters.
func (fc FunctionCode) IsWriteFamily() bool {
	switch fc {
	case WriteSingleRegister, WriteMultipleRegisters, ReadWriteMultipleRegisters,
		WriteSingleCoil, WriteMultipleCoils:
		return true
	default:
		return false
	}
}

// ExceptionCode mirrors modbus.ExceptionCode under the model package's
// naming so config and dispatcher code need not import modbus directly.
type ExceptionCode = modbus.ExceptionCode

const (
	IllegalFunction    = modbus.ExceptionCodeIllegalFunction
	IllegalDataAddress = modbus.ExceptionCodeIllegalDataAddress
	IllegalDataValue   = modbus.ExceptionCodeIllegalDataValue
)

// Exception is the error type returned by database walks; it carries
// the Modbus exception code that should be reported to the requester.
type Exception struct {
	Code ExceptionCode
}

func (e *Exception) Error() string {
	switch e.Code {
	case IllegalFunction:
		return "illegal function"
	case IllegalDataAddress:
		return "illegal data address"
	case IllegalDataValue:
		return "illegal data value"
	default:
		return fmt.Sprintf("exception 0x%02X", byte(e.Code))
	}
}

func except(code ExceptionCode) error {
	return &Exception{Code: code}
}

// AsException extracts the Modbus exception code from err, if any.
func AsException(err error) (ExceptionCode, bool) {
	if e, ok := err.(*Exception); ok {
		return e.Code, true
	}
	return 0, false
}

// DataModelType tags the kind of data a cell holds, independent of its
// concrete scalar type: which family of function codes is even
// semantically meaningful against it.
type DataModelType int

const (
	DiscreteInputs DataModelType = iota
	Coils
	DiscreteInputsOrCoils
	InputRegister
	HoldingRegister
	HoldingOrInputRegister
	AllType
)

var dataModelTypeNames = map[DataModelType]string{
	DiscreteInputs:         "discrete_inputs",
	Coils:                  "coils",
	DiscreteInputsOrCoils:  "discrete_inputs_or_coils",
	InputRegister:          "input_register",
	HoldingRegister:        "holding_register",
	HoldingOrInputRegister: "holding_or_input_register",
	AllType:                "all_type",
}

func (d DataModelType) String() string {
	if s, ok := dataModelTypeNames[d]; ok {
		return s
	}
	return fmt.Sprintf("DataModelType(%d)", int(d))
}

// ParseDataModelType resolves a config string into a DataModelType.
func ParseDataModelType(s string) (DataModelType, error) {
	for d, name := range dataModelTypeNames {
		if name == s {
			return d, nil
		}
	}
	return 0, fmt.Errorf("model: unknown data model type %q", s)
}

// MarshalYAML implements yaml.Marshaler.
func (d DataModelType) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *DataModelType) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseDataModelType(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DataAccessType controls which function code families a cell accepts
// on top of what its DataModelType already implies. The zero value is
// ReadWrite, matching the "defaults to ReadWrite when unset" config
// contract: an omitted YAML field unmarshals to the zero value.
type DataAccessType int

const (
	ReadWrite DataAccessType = iota
	ReadOnly
	WriteOnly
)

var dataAccessTypeNames = map[DataAccessType]string{
	ReadWrite: "read_write",
	ReadOnly:  "read_only",
	WriteOnly: "write_only",
}

func (a DataAccessType) String() string {
	if s, ok := dataAccessTypeNames[a]; ok {
		return s
	}
	return fmt.Sprintf("DataAccessType(%d)", int(a))
}

// ParseDataAccessType resolves a config string into a DataAccessType.
func ParseDataAccessType(s string) (DataAccessType, error) {
	for a, name := range dataAccessTypeNames {
		if name == s {
			return a, nil
		}
	}
	return 0, fmt.Errorf("model: unknown data access type %q", s)
}

// MarshalYAML implements yaml.Marshaler.
func (a DataAccessType) MarshalYAML() (interface{}, error) {
	return a.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *DataAccessType) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseDataAccessType(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
