// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package model

// Allow is the access matrix (C4): a pure, total function deciding
// whether fc may touch a cell of the given model kind under the given
// access mode. Every combination not explicitly granted below is
// denied, which the caller turns into an IllegalFunction exception.
func Allow(access DataAccessType, dmt DataModelType, fc FunctionCode) bool {
	switch dmt {
	case InputRegister, HoldingRegister, HoldingOrInputRegister, AllType:
		return allowRegister(access, dmt, fc)
	case DiscreteInputs, Coils, DiscreteInputsOrCoils:
		return allowCoil(access, dmt, fc)
	default:
		return false
	}
}

func allowRegister(access DataAccessType, dmt DataModelType, fc FunctionCode) bool {
	read := dmt == InputRegister && fc == ReadInputRegisters ||
		dmt == HoldingRegister && fc == ReadHoldingRegisters ||
		dmt == HoldingOrInputRegister && (fc == ReadHoldingRegisters || fc == ReadInputRegisters) ||
		dmt == AllType && (fc == ReadHoldingRegisters || fc == ReadInputRegisters || fc == ReadDiscreteInputs || fc == ReadCoils)

	write := fc == WriteMultipleRegisters || fc == WriteSingleRegister ||
		dmt == AllType && (fc == WriteMultipleCoils || fc == WriteSingleCoil)

	switch access {
	case ReadOnly:
		return read
	case WriteOnly:
		return write
	case ReadWrite:
		if dmt == AllType {
			return true
		}
		rw := write
		if dmt == InputRegister {
			rw = rw || fc == ReadInputRegisters
		}
		if dmt == HoldingRegister {
			rw = rw || fc == ReadHoldingRegisters || fc == ReadWriteMultipleRegisters
		}
		if dmt == HoldingOrInputRegister {
			rw = rw || fc == ReadInputRegisters || fc == ReadHoldingRegisters || fc == ReadWriteMultipleRegisters
		}
		return rw
	default:
		return false
	}
}

func allowCoil(access DataAccessType, dmt DataModelType, fc FunctionCode) bool {
	read := dmt == DiscreteInputs && fc == ReadDiscreteInputs ||
		dmt == Coils && fc == ReadCoils ||
		(dmt == DiscreteInputsOrCoils || dmt == AllType) && (fc == ReadCoils || fc == ReadDiscreteInputs)

	write := fc == WriteMultipleCoils || fc == WriteSingleCoil

	switch access {
	case ReadOnly:
		return read
	case WriteOnly:
		return write
	case ReadWrite:
		if dmt == AllType {
			return true
		}
		rw := write
		switch dmt {
		case DiscreteInputs:
			rw = rw || fc == ReadDiscreteInputs
		case Coils:
			rw = rw || fc == ReadCoils
		case DiscreteInputsOrCoils:
			rw = rw || fc == ReadCoils || fc == ReadDiscreteInputs
		}
		return rw
	default:
		return false
	}
}
