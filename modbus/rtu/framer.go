// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package rtu scans and sizes Modbus RTU frames on the wire. It knows
// nothing about slave-side or client-side intent: it only tells a
// caller how many bytes a frame needs and hands back the raw bytes
// once a complete one has arrived.
//
// Only the function codes the simulator's dispatcher and client
// engine actually support (model.FunctionCode's nine values) are
// recognized here; diagnostics, file-record, and FIFO-queue codes are
// explicitly out of scope for this simulator and fall through to the
// "unsupported function code" error path.
package rtu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ffutop/modbus-sim/modbus"
)

// ErrRequestTimedOut is returned when no complete frame arrives before
// the caller's deadline.
var ErrRequestTimedOut = errors.New("modbus: request timed out")

// scanState steps the byte-at-a-time frame scanner in ReadResponse
// through slave id, function code, length, payload, and CRC.
type scanState int

const (
	scanSlaveID scanState = iota
	scanFunctionCode
	scanLength
	scanPayload
	scanCRC
)

// InvalidLengthError reports a length byte outside the valid range
// for a variable-length response (read-family function codes).
type InvalidLengthError struct {
	Length byte
}

func (e *InvalidLengthError) Error() string {
	return fmt.Sprintf("modbus: invalid length byte %d in response frame", e.Length)
}

// CalculateResponseLength returns how many bytes the response to adu
// (a full request ADU: slave id, function code, and payload) will
// occupy, so the client can size its read and its inter-frame delay.
func CalculateResponseLength(adu []byte) int {
	length := MinSize
	switch adu[1] {
	case modbus.FuncCodeReadCoils, modbus.FuncCodeReadDiscreteInputs:
		count := int(binary.BigEndian.Uint16(adu[4:]))
		length += 1 + count/8
		if count%8 != 0 {
			length++
		}
	case modbus.FuncCodeReadHoldingRegisters, modbus.FuncCodeReadInputRegisters,
		modbus.FuncCodeReadWriteMultipleRegisters:
		count := int(binary.BigEndian.Uint16(adu[4:]))
		length += 1 + count*2
	case modbus.FuncCodeWriteSingleCoil, modbus.FuncCodeWriteSingleRegister,
		modbus.FuncCodeWriteMultipleCoils, modbus.FuncCodeWriteMultipleRegisters:
		length += 4
	}
	return length
}

// CalculateRequestLength returns the expected total byte length of an
// RTU request ADU given its function code and however much of the
// header has been read so far: [SlaveID, Func, ...].
func CalculateRequestLength(funcCode byte, header []byte) (int, error) {
	switch funcCode {
	case modbus.FuncCodeReadCoils, modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadHoldingRegisters, modbus.FuncCodeReadInputRegisters,
		modbus.FuncCodeWriteSingleCoil, modbus.FuncCodeWriteSingleRegister:
		// [SlaveID, Func, Addr(2), Val(2), CRC(2)]
		return 8, nil
	case modbus.FuncCodeWriteMultipleCoils, modbus.FuncCodeWriteMultipleRegisters:
		// [SlaveID, Func, Addr(2), Quant(2), ByteCount(1), Data(N), CRC(2)];
		// ByteCount sits at header[6], so 7 bytes of header must be in hand.
		if len(header) < 7 {
			return 0, fmt.Errorf("modbus: need 7 header bytes to size fc 0x%02X, got %d", funcCode, len(header))
		}
		byteCount := int(header[6])
		return 7 + byteCount + 2, nil
	case modbus.FuncCodeReadWriteMultipleRegisters:
		// [SlaveID, Func, ReadAddr(2), ReadQuant(2), WriteAddr(2),
		// WriteQuant(2), ByteCount(1), Data(N), CRC(2)]; ByteCount sits
		// at header[10].
		if len(header) < 11 {
			return 0, fmt.Errorf("modbus: need 11 header bytes to size fc 0x%02X, got %d", funcCode, len(header))
		}
		byteCount := int(header[10])
		return 11 + byteCount + 2, nil
	default:
		return 0, fmt.Errorf("modbus: unsupported function code 0x%02X", funcCode)
	}
}

// ReadResponse reads one RTU frame from r byte by byte, validating
// that the slave id and function code match what was sent before
// trusting the rest of the frame, and returns the frame once its CRC
// bytes have both arrived.
func ReadResponse(slaveID, functionCode byte, r io.Reader, deadline time.Time) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("modbus: nil reader")
	}

	buf := make([]byte, 1)
	frame := make([]byte, MaxSize)

	state := scanSlaveID
	var remaining int
	var n, crcBytesSeen int

	for {
		if time.Now().After(deadline) {
			return nil, ErrRequestTimedOut
		}
		if _, err := io.ReadAtLeast(r, buf, 1); err != nil {
			return nil, err
		}

		switch state {
		case scanSlaveID:
			if buf[0] != slaveID {
				continue
			}
			state = scanFunctionCode
			frame[n] = buf[0]
			n++
			continue

		case scanFunctionCode:
			switch {
			case buf[0] == functionCode:
				switch functionCode {
				case modbus.FuncCodeReadCoils, modbus.FuncCodeReadDiscreteInputs,
					modbus.FuncCodeReadHoldingRegisters, modbus.FuncCodeReadInputRegisters,
					modbus.FuncCodeReadWriteMultipleRegisters:
					state = scanLength
				case modbus.FuncCodeWriteSingleCoil, modbus.FuncCodeWriteSingleRegister,
					modbus.FuncCodeWriteMultipleCoils, modbus.FuncCodeWriteMultipleRegisters:
					state = scanPayload
					remaining = 4
				default:
					return nil, fmt.Errorf("modbus: unsupported function code 0x%02X", functionCode)
				}
				frame[n] = buf[0]
				n++
				continue
			case buf[0] == functionCode|0x80:
				state = scanPayload
				remaining = 1
				frame[n] = buf[0]
				n++
				continue
			}

		case scanLength:
			length := buf[0]
			if length == 0 || int(length) > MaxSize-5 {
				return nil, &InvalidLengthError{Length: length}
			}
			remaining = int(length)
			frame[n] = length
			n++
			state = scanPayload

		case scanPayload:
			frame[n] = buf[0]
			n++
			remaining--
			if remaining == 0 {
				state = scanCRC
			}

		case scanCRC:
			frame[n] = buf[0]
			n++
			crcBytesSeen++
			if crcBytesSeen == 2 {
				return frame[:n], nil
			}
		}
	}
}
