// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package wire

// Conn is the abstract framed duplex channel the gateway core depends on.
// It knows nothing about WebSocket, HTTP upgrade, or auth; those live in
// internal/wsconn. A Conn implementation must allow one concurrent sender
// and be safe to Close from any goroutine.
type Conn interface {
	// Send enqueues one structured message for delivery. It returns an
	// error only if the connection is already closed or the outbound
	// queue is full; it never blocks on the network.
	Send(v any) error

	// Recv returns the channel of raw inbound frames. It is closed when
	// the connection is torn down, after which no more sends succeed.
	Recv() <-chan []byte

	// Done is closed exactly once, when the connection is no longer
	// usable (peer closed it, a read/write error occurred, or Close was
	// called).
	Done() <-chan struct{}

	// ConnID is the per-connection identifier assigned at accept time.
	ConnID() string

	// Close tears down the connection. Safe to call more than once.
	Close() error
}
