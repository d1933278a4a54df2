// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package client

import (
	"context"
	"testing"

	"github.com/ffutop/modbus-sim/internal/codec"
	"github.com/ffutop/modbus-sim/internal/config"
	"github.com/ffutop/modbus-sim/internal/model"
	"github.com/ffutop/modbus-sim/modbus"
)

type fakeDownstream struct {
	sends int
	value string
}

func (f *fakeDownstream) Send(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	f.sends++
	words, _ := codec.EncodeValue(codec.Float32, f.value, codec.LittleEndian)
	out := make([]byte, 1+2*len(words))
	out[0] = byte(2 * len(words))
	for i, w := range words {
		copy(out[1+2*i:], putBE16(w))
	}
	return modbus.ProtocolDataUnit{FunctionCode: pdu.FunctionCode, Data: out}, nil
}

func (f *fakeDownstream) Connect(ctx context.Context) error { return nil }
func (f *fakeDownstream) Close() error                      { return nil }

func TestIssueReadInputRegistersFormatsFloat(t *testing.T) {
	ds := &fakeDownstream{value: "1.5"}
	var lines []string
	e := &Engine{Downstream: ds, SlaveID: 1, Endianness: codec.LittleEndian, Print: func(s string) { lines = append(lines, s) }}

	req := config.ClientRequest{
		FunctionCode:       model.ReadInputRegisters,
		AccessStartAddress: 100,
		AccessQuantity:     2,
		DataType:           codec.Float32,
	}
	if err := e.issue(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("expected exactly one printed line, got %d", len(lines))
	}
	if lines[0] != "#0001 1.5" {
		t.Fatalf("got %q, want %q", lines[0], "#0001 1.5")
	}
}

func TestRunRequestIndefiniteRepeatStopsExternally(t *testing.T) {
	ds := &fakeDownstream{value: "1.5"}
	e := &Engine{Downstream: ds, SlaveID: 1, Endianness: codec.LittleEndian, Print: func(string) {}}

	req := config.ClientRequest{
		FunctionCode:       model.ReadInputRegisters,
		AccessStartAddress: 100,
		AccessQuantity:     2,
		DataType:           codec.Float32,
		RepeatTimes:        config.Indefinite,
	}

	const limit = 5
	count := 0
	stop := func() bool {
		count++
		return count > limit
	}
	if err := e.runRequest(context.Background(), req, stop); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ds.sends != limit {
		t.Fatalf("expected %d sends before external stop, got %d", limit, ds.sends)
	}
}

func TestBuildRequestPDUWriteSingleRegisterTruncatesWideType(t *testing.T) {
	req := config.ClientRequest{
		FunctionCode:       model.WriteSingleRegister,
		AccessStartAddress: 10,
		NewValues:          []string{"1.5"},
		DataType:           codec.Float32,
	}
	pdu, err := buildRequestPDU(req, codec.LittleEndian)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pdu.Data) != 4 {
		t.Fatalf("WriteSingleRegister must carry exactly one word, got %d bytes", len(pdu.Data))
	}
}
