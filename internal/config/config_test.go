// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ffutop/modbus-sim/internal/model"
)

func TestCommonConfigValidateTCPRequiresIPAddress(t *testing.T) {
	c := CommonConfig{ProtocolType: TCP}
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for missing ip_address under tcp")
	}
	c.IPAddress = "127.0.0.1:502"
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCommonConfigValidateRTURequiresSerialFields(t *testing.T) {
	c := CommonConfig{ProtocolType: RTU}
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for missing serial_port/serial_baudrate under rtu")
	}
	c.SerialPort = "/dev/ttyUSB0"
	c.SerialBaudRate = 9600
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSerialFixupDefaultsTimeouts(t *testing.T) {
	c := CommonConfig{SerialParity: "n"}
	s := c.Serial()
	if s.Parity != "N" {
		t.Fatalf("expected parity uppercased to N, got %q", s.Parity)
	}
	if s.Timeout == 0 || s.RqstPause == 0 {
		t.Fatalf("expected default timeout/rqst_pause to be filled in, got %+v", s)
	}
}

func TestClientRequestEffectiveRepeatDefaultsToOne(t *testing.T) {
	r := ClientRequest{}
	if got := r.EffectiveRepeat(); got != 1 {
		t.Fatalf("expected default repeat of 1, got %d", got)
	}
	r.RepeatTimes = Indefinite
	if got := r.EffectiveRepeat(); got != Indefinite {
		t.Fatalf("expected indefinite repeat preserved, got %d", got)
	}
}

func TestClientSectionRequestsSkipsUnparseableFile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(good, []byte("function_code: ReadCoils\naccess_start_address: 1\naccess_quantity: 1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bad, []byte("not: [valid"), 0644); err != nil {
		t.Fatal(err)
	}

	var skipped []string
	s := ClientSection{RequestFiles: []string{good, bad}}
	reqs := s.Requests(func(format string, args ...interface{}) {
		skipped = append(skipped, format)
	})

	if len(reqs) != 1 {
		t.Fatalf("expected exactly the good file's request, got %d", len(reqs))
	}
	if len(skipped) != 1 {
		t.Fatalf("expected the bad file to be logged as skipped, got %d messages", len(skipped))
	}
}

func TestClientSectionRequestsAppendsInlineRequestLast(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "req.yaml")
	if err := os.WriteFile(file, []byte("function_code: ReadCoils\naccess_start_address: 1\naccess_quantity: 1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	inline := &ClientRequest{FunctionCode: model.ReadHoldingRegisters, AccessStartAddress: 5}
	s := ClientSection{RequestFiles: []string{file}, Request: inline}
	reqs := s.Requests(func(string, ...interface{}) {})

	if len(reqs) != 2 {
		t.Fatalf("expected file request + inline request, got %d", len(reqs))
	}
	if reqs[1].AccessStartAddress != 5 {
		t.Fatalf("expected inline request last, got %+v", reqs[1])
	}
}
