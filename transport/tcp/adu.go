// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"fmt"

	"github.com/ffutop/modbus-sim/modbus"
)

const (
	mbapMinSize = 8
	mbapMaxSize = 260
)

// ApplicationDataUnit is a decoded Modbus TCP frame: the 7-byte MBAP
// header (transaction id, protocol id, length, unit id) plus the PDU
// it wraps. Length always counts the unit id byte, so it equals
// len(PDU.Data)+2.
type ApplicationDataUnit struct {
	TransactionID uint16
	ProtocolID    uint16
	Length        uint16
	SlaveID       byte
	PDU           modbus.ProtocolDataUnit
}

// Decode parses an MBAP header and PDU out of a raw TCP read.
func Decode(raw []byte) (*ApplicationDataUnit, error) {
	if len(raw) < mbapMinSize {
		return nil, fmt.Errorf("modbus: tcp frame length %d below minimum %d", len(raw), mbapMinSize)
	}

	adu := &ApplicationDataUnit{
		TransactionID: uint16(raw[0])<<8 | uint16(raw[1]),
		ProtocolID:    uint16(raw[2])<<8 | uint16(raw[3]),
		Length:        uint16(raw[4])<<8 | uint16(raw[5]),
		SlaveID:       raw[6],
	}
	adu.PDU.FunctionCode = raw[7]
	adu.PDU.Data = raw[8:]
	return adu, nil
}

// Encode serializes the MBAP header followed by the PDU.
func (adu *ApplicationDataUnit) Encode() ([]byte, error) {
	length := len(adu.PDU.Data) + mbapMinSize
	if length > mbapMaxSize {
		return nil, fmt.Errorf("modbus: tcp frame length %d exceeds maximum %d", length, mbapMaxSize)
	}

	raw := make([]byte, length)
	raw[0] = byte(adu.TransactionID >> 8)
	raw[1] = byte(adu.TransactionID)
	raw[2] = byte(adu.ProtocolID >> 8)
	raw[3] = byte(adu.ProtocolID)
	raw[4] = byte(adu.Length >> 8)
	raw[5] = byte(adu.Length)
	raw[6] = adu.SlaveID
	raw[7] = adu.PDU.FunctionCode
	copy(raw[8:], adu.PDU.Data)
	return raw, nil
}

// Verify checks that resp is a valid reply to req: same transaction,
// same Modbus protocol id (always 0, never a Modbus+ or gateway
// encapsulation).
func (req *ApplicationDataUnit) Verify(resp *ApplicationDataUnit) error {
	if resp.TransactionID != req.TransactionID {
		return fmt.Errorf("modbus: response transaction id %d does not match request %d", resp.TransactionID, req.TransactionID)
	}
	if resp.ProtocolID != req.ProtocolID {
		return fmt.Errorf("modbus: response protocol id %d does not match request %d", resp.ProtocolID, req.ProtocolID)
	}
	return nil
}
