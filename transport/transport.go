// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"context"

	"github.com/ffutop/modbus-sim/modbus"
)

// RequestHandler turns a decoded request PDU, addressed to slaveID, into
// a response PDU. The transport strips its own framing (MBAP or RTU
// slave-id/CRC) before calling it and re-applies that framing to the
// result.
type RequestHandler func(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error)

// Upstream is a transport that accepts incoming requests and drives a
// RequestHandler against each one: the server role.
type Upstream interface {
	// Start runs the listen loop until ctx is cancelled or a fatal
	// transport error occurs.
	Start(ctx context.Context, handler RequestHandler) error
	Close() error
}

// Downstream is a transport that issues requests to a remote server:
// the client role.
type Downstream interface {
	Send(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error)
	Connect(ctx context.Context) error
	Close() error
}
