// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package dispatcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ffutop/modbus-sim/internal/codec"
	"github.com/ffutop/modbus-sim/internal/config"
	"github.com/ffutop/modbus-sim/internal/model"
	"github.com/ffutop/modbus-sim/internal/snapshot"
	"github.com/ffutop/modbus-sim/modbus"
)

func newTestDispatcher() *Dispatcher {
	sc := &config.ServerConfig{
		RegisterData: model.RegisterDatabase{
			100: &model.RegisterCell{DataModelType: model.InputRegister, DataAccessType: model.ReadOnly, DataType: codec.Float32, DataValue: "1.5"},
			200: &model.RegisterCell{DataModelType: model.HoldingRegister, DataAccessType: model.ReadWrite, DataType: codec.Uint16, DataValue: "0"},
		},
		CoilData: model.CoilDatabase{
			300: &model.CoilCell{DataModelType: model.Coils, DataAccessType: model.ReadWrite, DataValue: model.CoilValue{RegisterBit: true, RegisterAddr: 200, BitIndex: 3}},
		},
	}
	return New(sc, codec.LittleEndian, false)
}

func TestDispatchReadInputRegistersHappyPath(t *testing.T) {
	d := newTestDispatcher()
	req := modbus.ProtocolDataUnit{FunctionCode: byte(model.ReadInputRegisters), Data: []byte{0x00, 100, 0x00, 0x02}}

	resp, err := d.Handle(context.Background(), 1, req)
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	if resp.FunctionCode != byte(model.ReadInputRegisters) {
		t.Fatalf("unexpected exception response: %#v", resp)
	}
	if resp.Data[0] != 4 {
		t.Fatalf("expected byte count 4, got %d", resp.Data[0])
	}
}

func TestDispatchAccessDenialProducesException(t *testing.T) {
	d := newTestDispatcher()
	req := modbus.ProtocolDataUnit{FunctionCode: byte(model.ReadHoldingRegisters), Data: []byte{0x00, 100, 0x00, 0x02}}

	resp, err := d.Handle(context.Background(), 1, req)
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	if resp.FunctionCode != 0x83 {
		t.Fatalf("expected exception function code 0x83, got %#02x", resp.FunctionCode)
	}
	if resp.Data[0] != byte(model.IllegalFunction) {
		t.Fatalf("expected IllegalFunction payload, got %#v", resp.Data)
	}
}

func TestDispatchSparseAddressProducesException(t *testing.T) {
	d := New(&config.ServerConfig{}, codec.LittleEndian, false)
	req := modbus.ProtocolDataUnit{FunctionCode: byte(model.ReadInputRegisters), Data: []byte{0x00, 0x00, 0x00, 0x01}}

	resp, err := d.Handle(context.Background(), 1, req)
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	if resp.FunctionCode != 0x84 {
		t.Fatalf("expected exception function code 0x84, got %#02x", resp.FunctionCode)
	}
	if resp.Data[0] != byte(model.IllegalDataAddress) {
		t.Fatalf("expected IllegalDataAddress payload, got %#v", resp.Data)
	}
}

func TestDispatchWriteSingleCoilAsRegisterBit(t *testing.T) {
	d := newTestDispatcher()

	writeReq := modbus.ProtocolDataUnit{FunctionCode: byte(model.WriteSingleCoil), Data: []byte{0x01, 44, 0xFF, 0x00}}
	if _, err := d.Handle(context.Background(), 1, writeReq); err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	readReq := modbus.ProtocolDataUnit{FunctionCode: byte(model.ReadHoldingRegisters), Data: []byte{0x00, 200, 0x00, 0x01}}
	resp, err := d.Handle(context.Background(), 1, readReq)
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	if resp.Data[1] != 0x00 || resp.Data[2] != 0x08 {
		t.Fatalf("expected register 200 == 0x0008, got %#v", resp.Data)
	}
}

func TestDispatchUnimplementedFunctionCodeIsIllegalFunction(t *testing.T) {
	d := newTestDispatcher()
	req := modbus.ProtocolDataUnit{FunctionCode: 0x2B, Data: nil}

	resp, err := d.Handle(context.Background(), 1, req)
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	if resp.FunctionCode != 0xAB {
		t.Fatalf("expected exception function code 0xAB, got %#02x", resp.FunctionCode)
	}
	if resp.Data[0] != byte(model.IllegalFunction) {
		t.Fatalf("expected IllegalFunction payload, got %#v", resp.Data)
	}
}

// externalModeRegisters writes a single-cell holding-register file, the
// shape external-mode's pre-read hook loads before every request.
func externalModeRegisters(t *testing.T, path, value string) {
	t.Helper()
	registers := model.RegisterDatabase{
		100: &model.RegisterCell{DataModelType: model.HoldingRegister, DataAccessType: model.ReadWrite, DataType: codec.Uint16, DataValue: value},
	}
	if err := (snapshot.Store{RegisterDataFile: path}).Save(registers, model.CoilDatabase{}); err != nil {
		t.Fatalf("failed to seed register file: %v", err)
	}
}

// TestDispatchExternalModeRoundTripObservesFileMutation exercises the
// round trip: two successive ReadHoldingRegisters(100,1) requests, with
// the backing file rewritten between them (standing in for whatever an
// external program would have done), must observe the new value on the
// second request because external mode re-reads the file before every
// dispatch.
func TestDispatchExternalModeRoundTripObservesFileMutation(t *testing.T) {
	dir := t.TempDir()
	regFile := filepath.Join(dir, "registers.yaml")
	externalModeRegisters(t, regFile, "1")

	sc := &config.ServerConfig{RegisterDataFile: regFile}
	d := New(sc, codec.LittleEndian, true)

	readReq := modbus.ProtocolDataUnit{FunctionCode: byte(model.ReadHoldingRegisters), Data: []byte{0x00, 100, 0x00, 0x01}}

	first, err := d.Handle(context.Background(), 1, readReq)
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	firstValue := int(first.Data[1])<<8 | int(first.Data[2])
	if firstValue != 1 {
		t.Fatalf("expected register 100 == 1 before the external mutation, got %d", firstValue)
	}

	externalModeRegisters(t, regFile, "2")

	second, err := d.Handle(context.Background(), 1, readReq)
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	secondValue := int(second.Data[1])<<8 | int(second.Data[2])
	if secondValue != 2 {
		t.Fatalf("expected register 100 == 2 after the external mutation, got %d", secondValue)
	}
	if secondValue-firstValue != 1 {
		t.Fatalf("expected successive reads to differ by 1, got %d then %d", firstValue, secondValue)
	}
}

// TestDispatchExternalModeDisabledIgnoresDataFiles regression-tests the
// external_mode gate itself: a server section with register_data_file
// set but external_mode left off must never touch that file, so a
// mutation to it between two requests has no effect on the response.
func TestDispatchExternalModeDisabledIgnoresDataFiles(t *testing.T) {
	dir := t.TempDir()
	regFile := filepath.Join(dir, "registers.yaml")
	externalModeRegisters(t, regFile, "1")

	sc := &config.ServerConfig{
		RegisterDataFile: regFile,
		RegisterData: model.RegisterDatabase{
			100: &model.RegisterCell{DataModelType: model.HoldingRegister, DataAccessType: model.ReadWrite, DataType: codec.Uint16, DataValue: "9"},
		},
	}
	d := New(sc, codec.LittleEndian, false)

	externalModeRegisters(t, regFile, "2")

	readReq := modbus.ProtocolDataUnit{FunctionCode: byte(model.ReadHoldingRegisters), Data: []byte{0x00, 100, 0x00, 0x01}}
	resp, err := d.Handle(context.Background(), 1, readReq)
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	value := int(resp.Data[1])<<8 | int(resp.Data[2])
	if value != 9 {
		t.Fatalf("external_mode=false must ignore register_data_file entirely; expected in-memory value 9, got %d", value)
	}

	if _, err := os.Stat(regFile); err != nil {
		t.Fatalf("expected register file to remain untouched on disk: %v", err)
	}
}
