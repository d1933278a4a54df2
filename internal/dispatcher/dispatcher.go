// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package dispatcher turns an incoming Modbus PDU into a response or
// exception PDU against the configured register/coil databases,
// serializing every request behind one lock and driving the optional
// external-mode snapshot hook between the write and the response.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ffutop/modbus-sim/internal/codec"
	"github.com/ffutop/modbus-sim/internal/config"
	"github.com/ffutop/modbus-sim/internal/model"
	"github.com/ffutop/modbus-sim/internal/snapshot"
	"github.com/ffutop/modbus-sim/modbus"
)

// Dispatcher owns the live databases behind a single mutex, matching
// the coarse-lock design that keeps RegisterBitRef coil writes
// atomic with the registers they project onto.
type Dispatcher struct {
	mu         sync.Mutex
	registers  model.RegisterDatabase
	coils      model.CoilDatabase
	endianness codec.Endianness
	store      snapshot.Store
	counter    uint64
}

// New builds a Dispatcher from a loaded server config section. The
// snapshot store is only wired live when externalMode is set: the
// top-level --external-mode/external_mode switch is what turns the
// pre-read/post-write snapshot cycle on, not merely the presence of
// register_data_file/coil_data_file/external_program in the server
// section.
func New(sc *config.ServerConfig, endianness codec.Endianness, externalMode bool) *Dispatcher {
	registers := sc.RegisterData
	if registers == nil {
		registers = model.RegisterDatabase{}
	}
	coils := sc.CoilData
	if coils == nil {
		coils = model.CoilDatabase{}
	}
	d := &Dispatcher{
		registers:  registers,
		coils:      coils,
		endianness: endianness,
	}
	if externalMode {
		d.store = snapshot.Store{
			RegisterDataFile: sc.RegisterDataFile,
			CoilDataFile:     sc.CoilDataFile,
			ExternalProgram:  sc.ExternalProgram,
		}
	}
	return d
}

// Handle implements transport.RequestHandler. It never returns a
// non-nil error for protocol-level failures — those become exception
// PDUs — only for truly unrecoverable external-mode I/O failures.
func (d *Dispatcher) Handle(ctx context.Context, slaveID byte, req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Incremented under the lock so the printed lines totally order
	// the dispatch order across connections.
	d.counter++
	slog.Info(fmt.Sprintf("request #%04d", d.counter), "slave_id", slaveID, "function_code", req.FunctionCode)

	if d.store.Enabled() {
		if err := d.store.Load(&d.registers, &d.coils); err != nil {
			return modbus.ProtocolDataUnit{}, err
		}
	}

	fc := model.FunctionCode(req.FunctionCode)
	resp, ok := d.dispatch(fc, req.Data)

	if fc.IsWriteFamily() && ok {
		if err := d.store.PostWrite(ctx, &d.registers, &d.coils); err != nil {
			return modbus.ProtocolDataUnit{}, err
		}
	}

	return resp, nil
}

// dispatch routes req by function code and returns the response PDU
// plus whether the request succeeded without producing an exception
// (used to decide whether to run the external-mode post-write hook).
func (d *Dispatcher) dispatch(fc model.FunctionCode, data []byte) (modbus.ProtocolDataUnit, bool) {
	switch fc {
	case model.ReadCoils, model.ReadDiscreteInputs:
		return d.handleReadCoils(fc, data), false
	case model.ReadHoldingRegisters, model.ReadInputRegisters:
		return d.handleReadRegisters(fc, data), false
	case model.WriteSingleCoil:
		return d.handleWriteSingleCoil(data)
	case model.WriteSingleRegister:
		return d.handleWriteSingleRegister(data)
	case model.WriteMultipleCoils:
		return d.handleWriteMultipleCoils(data)
	case model.WriteMultipleRegisters:
		return d.handleWriteMultipleRegisters(data)
	case model.ReadWriteMultipleRegisters:
		return d.handleReadWriteMultipleRegisters(data)
	default:
		return modbus.Exception(byte(fc), model.IllegalFunction), false
	}
}

func exceptionOf(fc model.FunctionCode, err error) modbus.ProtocolDataUnit {
	code, ok := model.AsException(err)
	if !ok {
		code = model.IllegalDataValue
	}
	return modbus.Exception(byte(fc), code)
}

func be16(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }

func putBE16(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }

func (d *Dispatcher) handleReadRegisters(fc model.FunctionCode, data []byte) modbus.ProtocolDataUnit {
	if len(data) != 4 {
		return modbus.Exception(byte(fc), model.IllegalDataValue)
	}
	start := be16(data[0:2])
	qty := be16(data[2:4])

	words, err := d.registers.RequestRegisters(start, int(qty), fc, d.endianness)
	if err != nil {
		return exceptionOf(fc, err)
	}
	out := make([]byte, 1+2*len(words))
	out[0] = byte(2 * len(words))
	for i, w := range words {
		copy(out[1+2*i:], putBE16(w))
	}
	return modbus.ProtocolDataUnit{FunctionCode: byte(fc), Data: out}
}

func (d *Dispatcher) handleReadCoils(fc model.FunctionCode, data []byte) modbus.ProtocolDataUnit {
	if len(data) != 4 {
		return modbus.Exception(byte(fc), model.IllegalDataValue)
	}
	start := be16(data[0:2])
	qty := be16(data[2:4])

	bits, err := d.coils.ReadCoils(start, int(qty), fc, d.registers, d.endianness)
	if err != nil {
		return exceptionOf(fc, err)
	}
	byteCount := (len(bits) + 7) / 8
	out := make([]byte, 1+byteCount)
	out[0] = byte(byteCount)
	for i, b := range bits {
		if b {
			out[1+i/8] |= 1 << uint(i%8)
		}
	}
	return modbus.ProtocolDataUnit{FunctionCode: byte(fc), Data: out}
}

func (d *Dispatcher) handleWriteSingleRegister(data []byte) (modbus.ProtocolDataUnit, bool) {
	if len(data) != 4 {
		return modbus.Exception(byte(model.WriteSingleRegister), model.IllegalDataValue), false
	}
	addr := be16(data[0:2])
	value := be16(data[2:4])

	if _, err := d.registers.UpdateRegisters(addr, []uint16{value}, model.WriteSingleRegister, d.endianness); err != nil {
		return exceptionOf(model.WriteSingleRegister, err), false
	}
	return modbus.ProtocolDataUnit{FunctionCode: byte(model.WriteSingleRegister), Data: append([]byte{}, data...)}, true
}

func (d *Dispatcher) handleWriteSingleCoil(data []byte) (modbus.ProtocolDataUnit, bool) {
	if len(data) != 4 {
		return modbus.Exception(byte(model.WriteSingleCoil), model.IllegalDataValue), false
	}
	addr := be16(data[0:2])
	raw := be16(data[2:4])
	if raw != 0x0000 && raw != 0xFF00 {
		return modbus.Exception(byte(model.WriteSingleCoil), model.IllegalDataValue), false
	}
	value := raw == 0xFF00

	if err := d.coils.UpdateCoils(addr, []bool{value}, model.WriteSingleCoil, d.registers, d.endianness); err != nil {
		return exceptionOf(model.WriteSingleCoil, err), false
	}
	return modbus.ProtocolDataUnit{FunctionCode: byte(model.WriteSingleCoil), Data: append([]byte{}, data...)}, true
}

func (d *Dispatcher) handleWriteMultipleRegisters(data []byte) (modbus.ProtocolDataUnit, bool) {
	if len(data) < 5 {
		return modbus.Exception(byte(model.WriteMultipleRegisters), model.IllegalDataValue), false
	}
	addr := be16(data[0:2])
	qty := be16(data[2:4])
	byteCount := data[4]
	if len(data) != int(5+byteCount) || byteCount != byte(2*qty) {
		return modbus.Exception(byte(model.WriteMultipleRegisters), model.IllegalDataValue), false
	}
	words := make([]uint16, qty)
	for i := range words {
		words[i] = be16(data[5+2*i : 7+2*i])
	}

	if _, err := d.registers.UpdateRegisters(addr, words, model.WriteMultipleRegisters, d.endianness); err != nil {
		return exceptionOf(model.WriteMultipleRegisters, err), false
	}
	return modbus.ProtocolDataUnit{FunctionCode: byte(model.WriteMultipleRegisters), Data: append(putBE16(addr), putBE16(qty)...)}, true
}

func (d *Dispatcher) handleWriteMultipleCoils(data []byte) (modbus.ProtocolDataUnit, bool) {
	if len(data) < 5 {
		return modbus.Exception(byte(model.WriteMultipleCoils), model.IllegalDataValue), false
	}
	addr := be16(data[0:2])
	qty := be16(data[2:4])
	byteCount := data[4]
	if len(data) != int(5+byteCount) {
		return modbus.Exception(byte(model.WriteMultipleCoils), model.IllegalDataValue), false
	}
	bits := make([]bool, qty)
	for i := range bits {
		bits[i] = data[5+i/8]&(1<<uint(i%8)) != 0
	}

	if err := d.coils.UpdateCoils(addr, bits, model.WriteMultipleCoils, d.registers, d.endianness); err != nil {
		return exceptionOf(model.WriteMultipleCoils, err), false
	}
	return modbus.ProtocolDataUnit{FunctionCode: byte(model.WriteMultipleCoils), Data: append(putBE16(addr), putBE16(qty)...)}, true
}

// handleReadWriteMultipleRegisters runs the write phase first, same
// as the database it shares with WriteMultipleRegisters. A write
// failure is reported under WriteMultipleRegisters's exception code,
// not 0x97, preserving the source behavior the request was distilled
// from: the write is logically first even though the request's own
// function code is 0x17.
func (d *Dispatcher) handleReadWriteMultipleRegisters(data []byte) (modbus.ProtocolDataUnit, bool) {
	if len(data) < 9 {
		return modbus.Exception(byte(model.WriteMultipleRegisters), model.IllegalDataValue), false
	}
	readAddr := be16(data[0:2])
	readQty := be16(data[2:4])
	writeAddr := be16(data[4:6])
	writeQty := be16(data[6:8])
	byteCount := data[8]
	if len(data) != int(9+byteCount) || byteCount != byte(2*writeQty) {
		return modbus.Exception(byte(model.WriteMultipleRegisters), model.IllegalDataValue), false
	}
	writeWords := make([]uint16, writeQty)
	for i := range writeWords {
		writeWords[i] = be16(data[9+2*i : 11+2*i])
	}

	if _, err := d.registers.UpdateRegisters(writeAddr, writeWords, model.ReadWriteMultipleRegisters, d.endianness); err != nil {
		return exceptionOf(model.WriteMultipleRegisters, err), false
	}

	readWords, err := d.registers.RequestRegisters(readAddr, int(readQty), model.ReadWriteMultipleRegisters, d.endianness)
	if err != nil {
		// The write already landed, but the overall response is still
		// an exception: the post-write hook must not fire here even
		// though the write phase itself succeeded.
		return exceptionOf(model.ReadWriteMultipleRegisters, err), false
	}

	out := make([]byte, 1+2*len(readWords))
	out[0] = byte(2 * len(readWords))
	for i, w := range readWords {
		copy(out[1+2*i:], putBE16(w))
	}
	return modbus.ProtocolDataUnit{FunctionCode: byte(model.ReadWriteMultipleRegisters), Data: out}, true
}
