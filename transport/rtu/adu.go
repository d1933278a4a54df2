// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"fmt"

	"github.com/ffutop/modbus-sim/modbus"
	"github.com/ffutop/modbus-sim/modbus/crc"
)

const (
	rtuMinSize = 4
	rtuMaxSize = 256
)

// ApplicationDataUnit is a decoded RTU frame: the slave address plus the
// PDU it wraps. The CRC is checked on Decode and appended on Encode but
// never carried around in decoded form.
type ApplicationDataUnit struct {
	SlaveID byte
	PDU     modbus.ProtocolDataUnit
}

// Decode parses and CRC-checks a raw RTU frame. The CRC travels low
// byte first, after the PDU.
func Decode(raw []byte) (*ApplicationDataUnit, error) {
	length := len(raw)
	if length < rtuMinSize {
		return nil, fmt.Errorf("modbus: rtu frame length %d below minimum %d", length, rtuMinSize)
	}

	var c crc.CRC
	c.Reset().PushBytes(raw[0 : length-2])
	checksum := uint16(raw[length-1])<<8 | uint16(raw[length-2])
	if checksum != c.Value() {
		return nil, fmt.Errorf("modbus: rtu crc %#04x does not match expected %#04x", checksum, c.Value())
	}

	return &ApplicationDataUnit{
		SlaveID: raw[0],
		PDU: modbus.ProtocolDataUnit{
			FunctionCode: raw[1],
			Data:         raw[2 : length-2],
		},
	}, nil
}

// Encode serializes the frame:
//
//	Slave Address   : 1 byte
//	Function        : 1 byte
//	Data            : 0 up to 252 bytes
//	CRC             : 2 bytes
func (adu *ApplicationDataUnit) Encode() ([]byte, error) {
	length := len(adu.PDU.Data) + 4
	if length > rtuMaxSize {
		return nil, fmt.Errorf("modbus: rtu frame length %d exceeds maximum %d", length, rtuMaxSize)
	}
	raw := make([]byte, length)

	raw[0] = adu.SlaveID
	raw[1] = adu.PDU.FunctionCode
	copy(raw[2:], adu.PDU.Data)

	var c crc.CRC
	c.Reset().PushBytes(raw[0 : length-2])
	checksum := c.Value()
	raw[length-1] = byte(checksum >> 8)
	raw[length-2] = byte(checksum)
	return raw, nil
}

// Verify checks that resp is a plausible reply to req: on a shared
// serial bus the only correlation available is the slave address.
func (req *ApplicationDataUnit) Verify(resp *ApplicationDataUnit) error {
	if req.SlaveID != resp.SlaveID {
		return fmt.Errorf("modbus: response slave id %d does not match request %d", resp.SlaveID, req.SlaveID)
	}
	return nil
}
