// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package rtu

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ffutop/modbus-sim/modbus"
	"github.com/ffutop/modbus-sim/modbus/crc"
)

type mockPort struct {
	io.Reader
	io.Writer
}

func (m *mockPort) Close() error { return nil }

// syncBuffer is a locked bytes.Buffer: the scan loop writes responses
// from its own goroutine while the test polls Len.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func TestScanLoop(t *testing.T) {
	// ReadHoldingRegisters request: slave 01, func 03, addr 0000, qty 0001,
	// framed as slave + PDU + CRC (low byte then high byte).
	reqPDU := []byte{0x03, 0x00, 0x00, 0x00, 0x01}
	reqADU := []byte{0x01}
	reqADU = append(reqADU, reqPDU...)

	var c crc.CRC
	c.Reset().PushBytes(reqADU)
	sum := c.Value()
	reqADU = append(reqADU, byte(sum), byte(sum>>8))

	reader := bytes.NewReader(reqADU)
	writer := &syncBuffer{}

	port := &mockPort{Reader: reader, Writer: writer}

	s := &Server{}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	received := make(chan bool)

	handler := func(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
		if slaveID != 0x01 {
			t.Errorf("Handler got slaveID %v, want 1", slaveID)
		}
		if pdu.FunctionCode != 0x03 {
			t.Errorf("Handler got func %v, want 3", pdu.FunctionCode)
		}
		close(received)
		// Return dummy response
		return modbus.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0x02, 0x00, 0x00}}, nil
	}

	go s.scanLoop(ctx, port, handler)

	// Test Wait
	select {
	case <-received:
		// Success
	case <-time.After(300 * time.Millisecond):
		t.Error("Handler not called")
	}

	deadline := time.Now().Add(300 * time.Millisecond)
	for writer.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if writer.Len() == 0 {
		t.Error("Simulated response not written")
	}
}

func TestScanLoopHandlesFramesInArrivalOrder(t *testing.T) {
	frame := func(addr byte) []byte {
		adu := []byte{0x01, 0x03, 0x00, addr, 0x00, 0x01}
		var c crc.CRC
		c.Reset().PushBytes(adu)
		sum := c.Value()
		return append(adu, byte(sum), byte(sum>>8))
	}
	stream := append(frame(0x10), frame(0x20)...)

	reader := bytes.NewReader(stream)
	writer := &syncBuffer{}
	port := &mockPort{Reader: reader, Writer: writer}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	// Echo the requested start address back so the response order on
	// the wire can be checked against arrival order.
	handler := func(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
		return modbus.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0x02, 0x00, pdu.Data[1]}}, nil
	}

	s := &Server{}
	go s.scanLoop(ctx, port, handler)

	deadline := time.Now().Add(300 * time.Millisecond)
	for writer.Len() < 14 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	got := writer.Bytes()
	if len(got) < 14 {
		t.Fatalf("expected two 7-byte responses, got %d bytes", len(got))
	}
	if got[4] != 0x10 || got[11] != 0x20 {
		t.Fatalf("responses out of arrival order: % x", got)
	}
}

func TestServer_FunctionCodes(t *testing.T) {
	// Table driven test for various function codes to ensure loop handles them
	tests := []struct {
		name     string
		funcCode byte
		reqPDU   []byte // Just the PDU part (Func + Data)
		wantLen  int    // expected total ADU length (Slave + PDU + CRC)
	}{
		{"ReadCoils", 0x01, []byte{0x01, 0x00, 0x00, 0x00, 0x01}, 8},
		{"WriteSingleRegister", 0x06, []byte{0x06, 0x00, 0x00, 0xAA, 0xBB}, 8},
		// 0x10 Header: Func(1)+Addr(2)+Quant(2)+ByteCount(1) + Data(N)
		// 0x10 Write 2 Regs (4 bytes)
		{"WriteMultipleRegisters", 0x10, []byte{0x10, 0x00, 0x01, 0x00, 0x02, 0x04, 0x11, 0x22, 0x33, 0x44}, 1 + 1 + 2 + 2 + 1 + 4 + 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Construct ADU
			reqADU := []byte{0x01} // SlaveID
			reqADU = append(reqADU, tt.reqPDU...)

			// Append CRC
			var c crc.CRC
			c.Reset().PushBytes(reqADU)
			sum := c.Value()
			reqADU = append(reqADU, byte(sum), byte(sum>>8))

			// Write to mock
			reader := bytes.NewReader(reqADU)
			writer := &bytes.Buffer{}
			port := &mockPort{Reader: reader, Writer: writer}

			s := &Server{}
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()

			handled := make(chan bool)
			handler := func(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
				if pdu.FunctionCode != tt.funcCode {
					t.Errorf("Want func %d, got %d", tt.funcCode, pdu.FunctionCode)
				}
				close(handled)
				return modbus.ProtocolDataUnit{FunctionCode: tt.funcCode, Data: []byte{}}, nil
			}

			go s.scanLoop(ctx, port, handler)

			select {
			case <-handled:
			case <-time.After(150 * time.Millisecond):
				t.Error("Handler not called for", tt.name)
			}
		})
	}
}
