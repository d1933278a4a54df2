// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/grid-x/serial"
)

const (
	serialTimeout     = 5 * time.Second
	serialIdleTimeout = 60 * time.Second
)

// serialPort wraps the physical serial link of the RTU client
// transport. It opens the link lazily on first use and closes it again
// after IdleTimeout of silence. The RTU server does not use it: Server
// opens its own port in Start and keeps it open until ctx is done.
type serialPort struct {
	serial.Config

	IdleTimeout time.Duration

	mu           sync.Mutex
	port         io.ReadWriteCloser
	lastActivity time.Time
	closeTimer   *time.Timer
}

// Connect opens the link if it is not already open.
func (sp *serialPort) Connect(ctx context.Context) error {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.connect(ctx)
}

// connect requires sp.mu to already be held.
func (sp *serialPort) connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sp.port != nil {
		return nil
	}
	port, err := serial.Open(&sp.Config)
	if err != nil {
		return fmt.Errorf("rtu: could not open %s: %w", sp.Config.Address, err)
	}
	sp.port = port
	return nil
}

// Close tears down the link if it is open; safe to call repeatedly.
func (sp *serialPort) Close() error {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.close()
}

// close requires sp.mu to already be held.
func (sp *serialPort) close() error {
	if sp.port == nil {
		return nil
	}
	err := sp.port.Close()
	sp.port = nil
	return err
}

func (sp *serialPort) logf(format string, v ...interface{}) {
	slog.Debug(fmt.Sprintf(format, v...))
}

// startCloseTimer (re)arms the idle-close timer; a no-op when
// IdleTimeout is disabled.
func (sp *serialPort) startCloseTimer() {
	if sp.IdleTimeout <= 0 {
		return
	}
	if sp.closeTimer == nil {
		sp.closeTimer = time.AfterFunc(sp.IdleTimeout, sp.closeIdle)
		return
	}
	sp.closeTimer.Reset(sp.IdleTimeout)
}

// closeIdle fires from the timer goroutine and re-checks elapsed idle
// time under the lock before actually closing, since activity may have
// landed between the timer firing and the lock being acquired.
func (sp *serialPort) closeIdle() {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if sp.IdleTimeout <= 0 {
		return
	}
	if idle := time.Since(sp.lastActivity); idle >= sp.IdleTimeout {
		sp.logf("rtu: closing serial link after %v idle", idle)
		sp.close()
	}
}
