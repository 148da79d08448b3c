// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Package execnode adapts an exechost.Client into a wire.Conn so the
// exec-host can be registered into the gateway's node registry as an
// ordinary node, rather than the invocation table needing a special
// case for it. Pending-approval frames from the exec-host are turned
// directly into Broker.ExtendInvokeTimeout calls; everything else flows
// through the same invoke/result path a real WebSocket node would use.
package execnode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hyper-ai-inc/node-gateway/internal/exechost"
	"github.com/hyper-ai-inc/node-gateway/internal/wire"
)

// extender is the subset of *gateway.Broker this package depends on.
type extender interface {
	ExtendInvokeTimeout(invokeID string, extendBy time.Duration) error
}

// Adapter is an in-process wire.Conn backed by an exechost.Client. It
// has no real network transport: Send delivers an invoke request by
// running it against the exec-host, and the eventual result is pushed
// back onto the same Recv() channel the broker reads from every node.
type Adapter struct {
	connID   string
	client   *exechost.Client
	extend   extender
	timeout  time.Duration

	in        chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// New creates an adapter. extend is normally the *gateway.Broker the
// adapter will be registered into.
func New(connID string, client *exechost.Client, extend extender, defaultTimeout time.Duration) *Adapter {
	return &Adapter{
		connID:  connID,
		client:  client,
		extend:  extend,
		timeout: defaultTimeout,
		in:      make(chan []byte, 16),
		done:    make(chan struct{}),
	}
}

func (a *Adapter) ConnID() string        { return a.connID }
func (a *Adapter) Recv() <-chan []byte   { return a.in }
func (a *Adapter) Done() <-chan struct{} { return a.done }

func (a *Adapter) Close() error {
	a.closeOnce.Do(func() { close(a.done) })
	return nil
}

// Send accepts only wire.InvokeRequest, the only frame type the broker
// ever sends to a node. Execution happens asynchronously; the result
// (or a translated error) arrives later on Recv().
func (a *Adapter) Send(v any) error {
	req, ok := v.(wire.InvokeRequest)
	if !ok {
		return fmt.Errorf("execnode: unexpected frame type %T", v)
	}
	go a.runInvoke(req)
	return nil
}

func (a *Adapter) runInvoke(req wire.InvokeRequest) {
	var spec exechost.ExecSpec
	if err := json.Unmarshal(req.ParamsJSON, &spec); err != nil {
		a.pushError(req, wire.CodeInvalidRequest, "invalid exec params: "+err.Error())
		return
	}

	timeout := a.timeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	res, err := a.client.Exec(ctx, spec, func(extendBy time.Duration) {
		if err := a.extend.ExtendInvokeTimeout(req.ID, extendBy); err != nil {
			log.Printf("[execnode] %s: extend timeout failed: %v", req.ID, err)
		}
	})
	if err != nil && !errors.Is(err, exechost.ErrDenied) {
		a.pushError(req, wire.CodeUnavailable, err.Error())
		return
	}

	payload, merr := json.Marshal(res)
	if merr != nil {
		a.pushError(req, wire.CodeUnavailable, merr.Error())
		return
	}

	a.push(wire.InvokeResult{
		Type:    wire.TypeInvokeResult,
		ID:      req.ID,
		NodeID:  req.NodeID,
		OK:      res.OK,
		Payload: payload,
	})
}

func (a *Adapter) pushError(req wire.InvokeRequest, code, message string) {
	a.push(wire.InvokeResult{
		Type:   wire.TypeInvokeResult,
		ID:     req.ID,
		NodeID: req.NodeID,
		OK:     false,
		Error:  &wire.Error{Code: code, Message: message},
	})
}

func (a *Adapter) push(res wire.InvokeResult) {
	data, err := json.Marshal(res)
	if err != nil {
		log.Printf("[execnode] %s: failed to marshal result: %v", res.ID, err)
		return
	}
	select {
	case a.in <- data:
	case <-a.done:
	}
}

var _ wire.Conn = (*Adapter)(nil)
