// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package modbus defines the protocol-level types shared by every transport
// and by the dispatcher and client engine: the Protocol Data Unit, the
// function codes, and the exception codes.
package modbus

// ProtocolDataUnit is the function code plus payload, independent of the
// transport (TCP MBAP framing or RTU slave-id/CRC framing) carrying it.
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

// Function codes. Values are bit-exact: they are used both to route
// dispatch and to compute exception response function codes.
const (
	FuncCodeReadCoils                  byte = 0x01
	FuncCodeReadDiscreteInputs         byte = 0x02
	FuncCodeReadHoldingRegisters       byte = 0x03
	FuncCodeReadInputRegisters         byte = 0x04
	FuncCodeWriteSingleCoil            byte = 0x05
	FuncCodeWriteSingleRegister        byte = 0x06
	FuncCodeWriteMultipleCoils         byte = 0x0F
	FuncCodeWriteMultipleRegisters     byte = 0x10
	FuncCodeMaskWriteRegister          byte = 0x16
	FuncCodeReadWriteMultipleRegisters byte = 0x17
	FuncCodeReadFIFOQueue              byte = 0x18
	FuncCodeReadDeviceIdentification   byte = 0x2B
)

// Modbus exception codes, encoded as the single-byte payload of an
// exception response.
type ExceptionCode byte

const (
	ExceptionCodeIllegalFunction    ExceptionCode = 0x01
	ExceptionCodeIllegalDataAddress ExceptionCode = 0x02
	ExceptionCodeIllegalDataValue   ExceptionCode = 0x03
)

// ExceptionFunctionCode returns the function code of an exception response
// for the given request function code: the high bit set.
func ExceptionFunctionCode(fc byte) byte {
	return fc | 0x80
}

// Exception builds the PDU for an exception response to fc.
func Exception(fc byte, code ExceptionCode) ProtocolDataUnit {
	return ProtocolDataUnit{
		FunctionCode: ExceptionFunctionCode(fc),
		Data:         []byte{byte(code)},
	}
}
