// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Package wsconn implements internal/wire.Conn over a gorilla/websocket
// connection, adapted from sandbox/internal/ws/client.go's ReadPump/
// WritePump pair. Same ping/pong keepalive and write-deadline
// discipline, generalized from PTY byte streams to JSON invoke frames.
package wsconn

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hyper-ai-inc/node-gateway/internal/wire"
)

var errOutboundQueueFull = errors.New("wsconn: outbound queue full")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024 * 1024
	outboundBuffer = 256
	inboundBuffer  = 256
)

// Conn wraps a *websocket.Conn as a wire.Conn.
type Conn struct {
	connID string
	ws     *websocket.Conn

	out chan []byte
	in  chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

// New wraps an already-upgraded websocket connection. Call Run to start
// the read/write pumps.
func New(connID string, ws *websocket.Conn) *Conn {
	return &Conn{
		connID: connID,
		ws:     ws,
		out:    make(chan []byte, outboundBuffer),
		in:     make(chan []byte, inboundBuffer),
		done:   make(chan struct{}),
	}
}

// Run starts the read and write pumps. It blocks until the connection is
// torn down; callers that must not block invoke it as `go conn.Run()`.
func (c *Conn) Run() {
	go c.writePump()
	c.readPump()
}

func (c *Conn) ConnID() string       { return c.connID }
func (c *Conn) Recv() <-chan []byte  { return c.in }
func (c *Conn) Done() <-chan struct{} { return c.done }

// Send marshals v as JSON and enqueues it for delivery.
func (c *Conn) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return websocket.ErrCloseSent
	default:
	}
	select {
	case c.out <- data:
		return nil
	case <-c.done:
		return websocket.ErrCloseSent
	default:
		return errOutboundQueueFull
	}
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
	return nil
}

func (c *Conn) readPump() {
	defer func() {
		close(c.in)
		c.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[wsconn] %s: read error: %v", c.connID, err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		select {
		case c.in <- data:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case data, ok := <-c.out:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

var _ wire.Conn = (*Conn)(nil)
