// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/ffutop/modbus-sim/internal/config"
	"github.com/ffutop/modbus-sim/modbus"
	framer "github.com/ffutop/modbus-sim/modbus/rtu"
	"github.com/ffutop/modbus-sim/transport"
	"github.com/grid-x/serial"
)

// Server implements a Modbus RTU Server (Upstream).
// It acts as a Slave on the serial bus, waiting for requests from an external Master.
type Server struct {
	Config config.SerialConfig
}

// NewServer creates a new RTU Server.
func NewServer(cfg config.SerialConfig) *Server {
	return &Server{
		Config: cfg,
	}
}

// Start starts the RTU server.
func (s *Server) Start(ctx context.Context, handler transport.RequestHandler) error {
	// 1. Open Serial Port
	spConfig := &serial.Config{
		Address:  s.Config.Device,
		BaudRate: s.Config.BaudRate,
		DataBits: s.Config.DataBits,
		StopBits: s.Config.StopBits,
		Parity:   s.Config.Parity,
		Timeout:  s.Config.Timeout, // Read timeout
	}

	port, err := serial.Open(spConfig)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.Config.Device, err)
	}
	defer port.Close()
	slog.Info("RTU Server listening", "device", s.Config.Device)

	// handle close
	go func() {
		<-ctx.Done()
		port.Close()
	}()

	// 2. Loop
	return s.scanLoop(ctx, port, handler)
}

func (s *Server) scanLoop(ctx context.Context, port io.ReadWriteCloser, handler transport.RequestHandler) error {
	buf := make([]byte, 260) // Max RTU size

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		// Robust Frame Scanning
		// Read 1 byte to unblock
		n, err := port.Read(buf[:1])
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		if n == 0 {
			continue
		}

		// Read header (attempt 7 bytes total to cover ByteCount for variable length functions)
		current := 1
		need := 7

		for current < need {
			n, err := port.Read(buf[current:need])
			if err != nil {
				break
			}
			current += n
		}

		if current < 2 {
			continue
		}

		functionCode := buf[1]

		// ReadWriteMultipleRegisters carries its byte count deeper into
		// the header than any other supported request.
		if functionCode == modbus.FuncCodeReadWriteMultipleRegisters {
			need = 11
			for current < need {
				n, err := port.Read(buf[current:need])
				if err != nil {
					break
				}
				current += n
			}
		}

		// Determine expected length
		expectedLen, err := framer.CalculateRequestLength(functionCode, buf[:current])
		if err != nil || expectedLen > framer.MaxSize {
			continue
		}

		// Read remaining
		for current < expectedLen {
			n, err := port.Read(buf[current:expectedLen])
			if err != nil {
				break
			}
			current += n
		}

		if current != expectedLen {
			continue
		}

		adu, err := Decode(buf[:expectedLen])
		if err != nil {
			// CRC mismatch or runt frame
			continue
		}

		// Dispatch synchronously: the serial bus is half-duplex and
		// carries one outstanding request at a time, so each response
		// must be on the wire before the next frame is scanned.
		respPDU, err := handler(ctx, adu.SlaveID, adu.PDU)
		if err != nil {
			slog.Error("Upstream handler failed", "err", err)
			continue
		}

		respADU := &ApplicationDataUnit{SlaveID: adu.SlaveID, PDU: respPDU}
		respBuf, err := respADU.Encode()
		if err != nil {
			slog.Error("Failed to encode RTU response", "err", err)
			continue
		}

		_, _ = port.Write(respBuf)
	}
}

func (s *Server) Close() error {
	return nil
}
