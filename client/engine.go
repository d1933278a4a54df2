// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package client implements the scripted request engine: a nested
// section/request/repeat loop that drives a Downstream transport,
// encoding and decoding values through the codec package.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ffutop/modbus-sim/internal/codec"
	"github.com/ffutop/modbus-sim/internal/config"
	"github.com/ffutop/modbus-sim/internal/model"
	"github.com/ffutop/modbus-sim/modbus"
	"github.com/ffutop/modbus-sim/transport"
)

// Printer receives one formatted result line per issued request; the
// default is slog but tests substitute a capturing func.
type Printer func(line string)

// Engine runs a ClientConfig's sections against a single Downstream
// transport.
type Engine struct {
	Downstream transport.Downstream
	SlaveID    byte
	Endianness codec.Endianness
	Print      Printer

	counter uint64
}

// NewEngine builds an Engine printing through slog.
func NewEngine(ds transport.Downstream, slaveID byte, e codec.Endianness) *Engine {
	return &Engine{
		Downstream: ds,
		SlaveID:    slaveID,
		Endianness: e,
		Print: func(line string) {
			slog.Info(line)
		},
	}
}

// RunSection executes one ClientSection's effective request list under
// its configured repeat count, stopping early if ctx is cancelled.
// shouldStop is polled before every iteration so tests/callers can
// bound otherwise-indefinite (0xFFFF) repeats; a nil value never stops
// early.
func (e *Engine) RunSection(ctx context.Context, section config.ClientSection, requests []config.ClientRequest, shouldStop func() bool) error {
	sectionRepeat := section.EffectiveRepeat()
	for i := uint16(0); sectionRepeat == config.Indefinite || i < sectionRepeat; i++ {
		if shouldStop != nil && shouldStop() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		for _, req := range requests {
			if err := e.runRequest(ctx, req, shouldStop); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) runRequest(ctx context.Context, req config.ClientRequest, shouldStop func() bool) error {
	repeat := req.EffectiveRepeat()
	for i := uint16(0); repeat == config.Indefinite || i < repeat; i++ {
		if shouldStop != nil && shouldStop() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if req.Delay > 0 {
			select {
			case <-time.After(time.Duration(req.Delay) * 100 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := e.issue(ctx, req); err != nil {
			e.Print(fmt.Sprintf("request failed: %v", err))
		}
	}
	return nil
}

func (e *Engine) issue(ctx context.Context, req config.ClientRequest) error {
	n := atomic.AddUint64(&e.counter, 1)
	slog.Debug(fmt.Sprintf("issuing request #%04d", n), "function_code", req.FunctionCode.String())

	pdu, err := buildRequestPDU(req, e.Endianness)
	if err != nil {
		return fmt.Errorf("client: building request #%04d: %w", n, err)
	}

	resp, err := e.Downstream.Send(ctx, e.SlaveID, pdu)
	if err != nil {
		return fmt.Errorf("client: request #%04d: %w", n, err)
	}

	if resp.FunctionCode&0x80 != 0 {
		e.Print(fmt.Sprintf("#%04d exception: fc=0x%02x code=0x%02x", n, resp.FunctionCode, firstByte(resp.Data)))
		return nil
	}

	line, err := formatResponse(req, resp, e.Endianness)
	if err != nil {
		return fmt.Errorf("client: decoding response #%04d: %w", n, err)
	}
	e.Print(fmt.Sprintf("#%04d %s", n, line))
	return nil
}

func firstByte(b []byte) byte {
	if len(b) == 0 {
		return 0
	}
	return b[0]
}

func be16(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }

func putBE16(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }

// buildRequestPDU encodes req into the wire PDU for its function
// code, running new_values through the codec when the function code
// carries write data.
func buildRequestPDU(req config.ClientRequest, e codec.Endianness) (modbus.ProtocolDataUnit, error) {
	fc := req.FunctionCode
	switch fc {
	case model.ReadCoils, model.ReadDiscreteInputs, model.ReadHoldingRegisters, model.ReadInputRegisters:
		data := append(putBE16(req.AccessStartAddress), putBE16(req.AccessQuantity)...)
		return modbus.ProtocolDataUnit{FunctionCode: byte(fc), Data: data}, nil

	case model.WriteSingleRegister:
		words, err := encodeNewValues(req, e)
		if err != nil {
			return modbus.ProtocolDataUnit{}, err
		}
		// A data_type wider than one word is truncated to the first
		// word of its encoded stream (the low lane under LittleEndian,
		// the high lane under BigEndian): WriteSingleRegister only ever
		// carries one word.
		data := append(putBE16(req.AccessStartAddress), putBE16(words[0])...)
		return modbus.ProtocolDataUnit{FunctionCode: byte(fc), Data: data}, nil

	case model.WriteSingleCoil:
		value := uint16(0x0000)
		if len(req.NewValues) > 0 && req.NewValues[0] == "true" {
			value = 0xFF00
		}
		data := append(putBE16(req.AccessStartAddress), putBE16(value)...)
		return modbus.ProtocolDataUnit{FunctionCode: byte(fc), Data: data}, nil

	case model.WriteMultipleRegisters:
		words, err := encodeNewValues(req, e)
		if err != nil {
			return modbus.ProtocolDataUnit{}, err
		}
		data := append(putBE16(req.AccessStartAddress), putBE16(uint16(len(words)))...)
		data = append(data, byte(2*len(words)))
		for _, w := range words {
			data = append(data, putBE16(w)...)
		}
		return modbus.ProtocolDataUnit{FunctionCode: byte(fc), Data: data}, nil

	case model.WriteMultipleCoils:
		bits := make([]bool, len(req.NewValues))
		for i, v := range req.NewValues {
			bits[i] = v == "true"
		}
		byteCount := (len(bits) + 7) / 8
		packed := make([]byte, byteCount)
		for i, b := range bits {
			if b {
				packed[i/8] |= 1 << uint(i%8)
			}
		}
		data := append(putBE16(req.AccessStartAddress), putBE16(uint16(len(bits)))...)
		data = append(data, byte(byteCount))
		data = append(data, packed...)
		return modbus.ProtocolDataUnit{FunctionCode: byte(fc), Data: data}, nil

	default:
		return modbus.ProtocolDataUnit{}, fmt.Errorf("client: unsupported function code %v", fc)
	}
}

func encodeNewValues(req config.ClientRequest, e codec.Endianness) ([]uint16, error) {
	if len(req.NewValues) == 0 {
		return nil, fmt.Errorf("new_values required for %v", req.FunctionCode)
	}
	var words []uint16
	for _, text := range req.NewValues {
		w, err := codec.EncodeValue(req.DataType, text, e)
		if err != nil {
			return nil, err
		}
		words = append(words, w...)
	}
	return words, nil
}

// formatResponse decodes resp for printing, per the request's
// data_type: Float32/Float64 through the codec, Uint32 combined from
// two words, Uint16 printed as hex and decimal, booleans as a list.
func formatResponse(req config.ClientRequest, resp modbus.ProtocolDataUnit, e codec.Endianness) (string, error) {
	switch req.FunctionCode {
	case model.ReadCoils, model.ReadDiscreteInputs:
		if len(resp.Data) < 1 {
			return "", fmt.Errorf("short coil response")
		}
		byteCount := int(resp.Data[0])
		bits := make([]bool, 0, 8*byteCount)
		for i := 0; i < byteCount; i++ {
			for b := 0; b < 8; b++ {
				bits = append(bits, resp.Data[1+i]&(1<<uint(b)) != 0)
			}
		}
		return fmt.Sprintf("%v", bits), nil

	case model.ReadHoldingRegisters, model.ReadInputRegisters:
		if len(resp.Data) < 1 {
			return "", fmt.Errorf("short register response")
		}
		byteCount := int(resp.Data[0])
		words := make([]uint16, byteCount/2)
		for i := range words {
			words[i] = be16(resp.Data[1+2*i : 3+2*i])
		}
		return formatWords(req.DataType, words, e)

	default:
		return fmt.Sprintf("% x", resp.Data), nil
	}
}

func formatWords(dt codec.DataType, words []uint16, e codec.Endianness) (string, error) {
	if dt == codec.Uint16 && len(words) >= 1 {
		return fmt.Sprintf("0x%04x (%d)", words[0], words[0]), nil
	}
	if len(words) < dt.WordWidth() || dt.WordWidth() == 0 {
		return fmt.Sprintf("%v", words), nil
	}
	return codec.DecodeValue(dt, words[:dt.WordWidth()], e)
}
