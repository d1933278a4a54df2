// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ffutop/modbus-sim/modbus"
)

const defaultClientTimeout = 10 * time.Second

// Client is a Modbus TCP client (Downstream): it dials a slave address
// lazily on first Send and keeps the connection open across requests,
// tagging each outgoing frame with a fresh transaction id. One request
// is outstanding at a time; a reply whose transaction id differs from
// the request's is rejected, not matched to another request.
type Client struct {
	Address string
	Timeout time.Duration

	mu            sync.Mutex
	conn          net.Conn
	transactionID uint32
}

// NewClient allocates a TCP client for the given address.
func NewClient(address string) *Client {
	return &Client{
		Address: address,
		Timeout: defaultClientTimeout,
	}
}

// Connect implements transport.Downstream.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connect()
}

// Close implements transport.Downstream.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnect()
	return nil
}

// Send wraps pdu in an MBAP frame, writes it, and waits for the
// matching reply. Any I/O error drops the connection so the next Send
// redials rather than reusing a socket in an unknown state; a reply
// that fails to decode or verify is returned as an error with the
// connection left open.
func (c *Client) Send(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(); err != nil {
		return modbus.ProtocolDataUnit{}, fmt.Errorf("modbus: failed to connect to %s: %w", c.Address, err)
	}

	req := &ApplicationDataUnit{
		TransactionID: uint16(atomic.AddUint32(&c.transactionID, 1)),
		Length:        uint16(2 + len(pdu.Data)),
		SlaveID:       slaveID,
		PDU:           pdu,
	}

	reqBytes, err := req.Encode()
	if err != nil {
		return modbus.ProtocolDataUnit{}, fmt.Errorf("modbus: failed to encode request frame: %w", err)
	}

	if err := c.conn.SetDeadline(time.Now().Add(c.Timeout)); err != nil {
		c.disconnect()
		return modbus.ProtocolDataUnit{}, err
	}

	respBytes, err := c.roundTrip(reqBytes)
	if err != nil {
		c.disconnect()
		return modbus.ProtocolDataUnit{}, err
	}

	resp, err := Decode(respBytes)
	if err != nil {
		return modbus.ProtocolDataUnit{}, fmt.Errorf("modbus: failed to decode response frame: %w", err)
	}
	if err := req.Verify(resp); err != nil {
		return modbus.ProtocolDataUnit{}, err
	}
	return resp.PDU, nil
}

// roundTrip writes a request frame and reads back exactly one MBAP
// frame, using the header's own length field to know how much payload
// follows — TCP gives no frame boundary otherwise.
func (c *Client) roundTrip(reqBytes []byte) ([]byte, error) {
	if _, err := c.conn.Write(reqBytes); err != nil {
		return nil, err
	}

	header := make([]byte, 6)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		return nil, err
	}
	payloadLen := int(header[4])<<8 | int(header[5])

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(c.conn, payload); err != nil {
		return nil, err
	}

	frame := make([]byte, 6+payloadLen)
	copy(frame, header)
	copy(frame[6:], payload)
	slog.Debug("recv from modbus tcp slave", "response", hex.EncodeToString(frame))
	return frame, nil
}

// connect requires c.mu to already be held.
func (c *Client) connect() error {
	if c.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("tcp", c.Address, c.Timeout)
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}

// disconnect requires c.mu to already be held.
func (c *Client) disconnect() {
	if c.conn == nil {
		return
	}
	c.conn.Close()
	c.conn = nil
}
