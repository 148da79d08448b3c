// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/hyper-ai-inc/node-gateway/internal/config"
	"github.com/hyper-ai-inc/node-gateway/internal/wire"
)

// ErrClosed is returned by Broker methods called after Stop.
var ErrClosed = errors.New("gateway: broker closed")

// ErrUnknownInvoke is returned by ExtendInvokeTimeout when the invoke id
// no longer names a pending call (already resolved or timed out).
var ErrUnknownInvoke = errors.New("gateway: unknown invoke id")

// command channel payloads. Every one of these travels through a single
// select loop in run(); nothing outside run() ever touches the registry,
// invoke, or transfer state directly. This generalizes pty.Hub.Run()'s
// register/unregister channel pair to the fuller set of operations this
// broker exposes.
type registerCmd struct {
	conn     wire.Conn
	hello    wire.Hello
	remoteIP string
	reply    chan registerReply
}

type registerReply struct {
	nodeID string
	err    error
}

type unregisterCmd struct {
	connID string
}

type frameCmd struct {
	connID string
	nodeID string
	raw    []byte
}

type getCmd struct {
	nodeID string
	reply  chan *Snapshot
}

type listCmd struct {
	reply chan []Snapshot
}

type sendEventCmd struct {
	nodeID string
	event  any
	reply  chan error
}

type invokeCmd struct {
	nodeID         string
	command        string
	paramsJSON     json.RawMessage
	timeout        time.Duration
	idempotencyKey string
	reply          chan Result
}

type timeoutCmd struct {
	invokeID string
}

type extendTimeoutCmd struct {
	invokeID string
	extendBy time.Duration
	reply    chan error
}

type setLimitsCmd struct {
	limits config.Limits
}

// Broker is the single coordinator for the node registry, invocation
// table, and chunked transfer engine. Every field below is read and
// written exclusively from the goroutine running run(); no other
// goroutine ever touches them.
type Broker struct {
	limits config.Limits

	byNodeID map[string]*NodeSession
	byConnID map[string]*NodeSession

	invokes map[string]*pendingInvoke

	inflightBytes int64

	registerCh   chan registerCmd
	unregisterCh chan unregisterCmd
	frameCh      chan frameCmd
	getCh        chan getCmd
	listCh       chan listCmd
	sendEventCh  chan sendEventCmd
	invokeCh     chan invokeCmd
	timeoutCh    chan timeoutCmd
	extendCh     chan extendTimeoutCmd
	limitsCh     chan setLimitsCmd

	stop     chan struct{}
	stopped  chan struct{}
}

// NewBroker creates a broker with the given limits and starts its
// coordinator loop in a background goroutine.
func NewBroker(limits config.Limits) *Broker {
	b := &Broker{
		limits:       limits,
		byNodeID:     make(map[string]*NodeSession),
		byConnID:     make(map[string]*NodeSession),
		invokes:      make(map[string]*pendingInvoke),
		registerCh:   make(chan registerCmd),
		unregisterCh: make(chan unregisterCmd),
		frameCh:      make(chan frameCmd, 256),
		getCh:        make(chan getCmd),
		listCh:       make(chan listCmd),
		sendEventCh:  make(chan sendEventCmd),
		invokeCh:     make(chan invokeCmd),
		timeoutCh:    make(chan timeoutCmd),
		extendCh:     make(chan extendTimeoutCmd),
		limitsCh:     make(chan setLimitsCmd),
		stop:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	go b.run()
	return b
}

// SetLimits updates the broker's limits. Intended to be wired to
// config.Watch's onChange callback for hot reload.
func (b *Broker) SetLimits(l config.Limits) {
	select {
	case b.limitsCh <- setLimitsCmd{limits: l}:
	case <-b.stopped:
	}
}

// Stop shuts the coordinator down. Safe to call once; calling it twice
// panics on a closed channel, since there is a single owner responsible
// for shutdown.
func (b *Broker) Stop() {
	close(b.stop)
	<-b.stopped
}

func (b *Broker) run() {
	defer close(b.stopped)
	log.Printf("[gateway] broker started")
	for {
		select {
		case cmd := <-b.registerCh:
			b.handleRegister(cmd)

		case cmd := <-b.unregisterCh:
			b.handleUnregister(cmd.connID)

		case cmd := <-b.frameCh:
			b.handleFrame(cmd)

		case cmd := <-b.getCh:
			cmd.reply <- b.getSnapshot(cmd.nodeID)

		case cmd := <-b.listCh:
			cmd.reply <- b.listSnapshots()

		case cmd := <-b.sendEventCh:
			cmd.reply <- b.sendEvent(cmd.nodeID, cmd.event)

		case cmd := <-b.limitsCh:
			b.limits = cmd.limits
			log.Printf("[gateway] limits updated: maxInflightBytes=%d maxInvokeResultBytes=%d", b.limits.MaxInflightBytes, b.limits.MaxInvokeResultBytes)

		case cmd := <-b.invokeCh:
			b.handleInvoke(cmd)

		case cmd := <-b.timeoutCh:
			b.handleInvokeTimeout(cmd.invokeID)

		case cmd := <-b.extendCh:
			cmd.reply <- b.handleExtendTimeout(cmd.invokeID, cmd.extendBy)

		case <-b.stop:
			b.shutdown()
			return
		}
	}
}

func (b *Broker) shutdown() {
	log.Printf("[gateway] broker shutting down: %d nodes, %d pending invokes", len(b.byNodeID), len(b.invokes))
	for id, inv := range b.invokes {
		b.finalizeInvoke(inv, Result{OK: false, Code: wire.CodeUnavailable, Message: "gateway shutting down"})
		delete(b.invokes, id)
	}
	for _, n := range b.byConnID {
		n.Conn.Close()
	}
}

// --- public API: each method builds a command, sends it in, and (for
// request/reply operations) blocks on a per-call reply channel, the
// same round-trip shape as pty.Hub's register/unregister calls, made
// generic across the broker's larger surface. ---

// Register derives a nodeId from the hello frame (device id, else client
// id, else a fresh uuid) and admits the connection into the registry. It
// also starts a forwarding goroutine that feeds inbound frames from conn
// into the coordinator loop, following hub.go's per-client readLoop ->
// shared-channel pattern.
func (b *Broker) Register(conn wire.Conn, hello wire.Hello, remoteIP string) (string, error) {
	reply := make(chan registerReply, 1)
	cmd := registerCmd{conn: conn, hello: hello, remoteIP: remoteIP, reply: reply}
	select {
	case b.registerCh <- cmd:
	case <-b.stopped:
		return "", ErrClosed
	}
	r := <-reply
	if r.err != nil {
		return "", r.err
	}

	go func() {
		for raw := range conn.Recv() {
			select {
			case b.frameCh <- frameCmd{connID: conn.ConnID(), nodeID: r.nodeID, raw: raw}:
			case <-b.stopped:
				return
			}
		}
		select {
		case b.unregisterCh <- unregisterCmd{connID: conn.ConnID()}:
		case <-b.stopped:
		}
	}()

	return r.nodeID, nil
}

// Unregister removes a connection from the registry. Normally called by
// the router's deferred cleanup; also invoked internally when a
// connection's Recv() channel closes.
func (b *Broker) Unregister(connID string) {
	select {
	case b.unregisterCh <- unregisterCmd{connID: connID}:
	case <-b.stopped:
	}
}

// Get returns a snapshot of the named node, or nil if it is not
// connected.
func (b *Broker) Get(nodeID string) *Snapshot {
	reply := make(chan *Snapshot, 1)
	select {
	case b.getCh <- getCmd{nodeID: nodeID, reply: reply}:
	case <-b.stopped:
		return nil
	}
	return <-reply
}

// ListConnected returns a snapshot of every currently connected node.
func (b *Broker) ListConnected() []Snapshot {
	reply := make(chan []Snapshot, 1)
	select {
	case b.listCh <- listCmd{reply: reply}:
	case <-b.stopped:
		return nil
	}
	return <-reply
}

// SendEvent delivers a best-effort out-of-band event to a connected
// node. Failure to deliver is logged by the coordinator and returned to
// the caller; the send itself never blocks, matching hub.go's broadcast
// "skip, don't block" default.
func (b *Broker) SendEvent(nodeID string, event any) error {
	reply := make(chan error, 1)
	select {
	case b.sendEventCh <- sendEventCmd{nodeID: nodeID, event: event, reply: reply}:
	case <-b.stopped:
		return ErrClosed
	}
	return <-reply
}

// Invoke sends an invoke request to nodeID and blocks until the node
// replies, the timeout elapses, or ctx is cancelled. This is the sole
// entry point into the invocation table.
func (b *Broker) Invoke(ctx context.Context, nodeID, command string, paramsJSON json.RawMessage, timeout time.Duration, idempotencyKey string) (Result, error) {
	if timeout <= 0 {
		timeout = b.limits.DefaultInvokeTimeout
	}
	reply := make(chan Result, 1)
	cmd := invokeCmd{
		nodeID:         nodeID,
		command:        command,
		paramsJSON:     paramsJSON,
		timeout:        timeout,
		idempotencyKey: idempotencyKey,
		reply:          reply,
	}
	select {
	case b.invokeCh <- cmd:
	case <-b.stopped:
		return Result{}, ErrClosed
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-b.stopped:
		return Result{}, ErrClosed
	}
}

// ExtendInvokeTimeout pushes an in-flight invoke's deadline out by
// extendBy, used by internal/execnode when an exec-host reports the
// command is still awaiting owner approval.
func (b *Broker) ExtendInvokeTimeout(invokeID string, extendBy time.Duration) error {
	reply := make(chan error, 1)
	select {
	case b.extendCh <- extendTimeoutCmd{invokeID: invokeID, extendBy: extendBy, reply: reply}:
	case <-b.stopped:
		return ErrClosed
	}
	return <-reply
}

func newInvokeID() string {
	return uuid.NewString()
}

// handleFrame dispatches an inbound node frame by its type discriminant.
// cmd.nodeID is the identity the connection registered under, not
// whatever the frame's own body claims; it is passed on as the
// authoritative source so handleInvokeResult/handleChunk/
// handleAbortTransfer can reject a frame that names someone else's
// invoke.
func (b *Broker) handleFrame(cmd frameCmd) {
	switch wire.ReadType(cmd.raw) {
	case wire.TypeInvokeResult:
		var res wire.InvokeResult
		if err := json.Unmarshal(cmd.raw, &res); err != nil {
			log.Printf("[gateway] %s: malformed invoke result: %v", cmd.connID, err)
			return
		}
		b.handleInvokeResult(cmd.nodeID, res)

	case wire.TypeInvokeResultChunk:
		var chunk wire.InvokeResultChunk
		if err := json.Unmarshal(cmd.raw, &chunk); err != nil {
			log.Printf("[gateway] %s: malformed invoke result chunk: %v", cmd.connID, err)
			return
		}
		b.handleChunk(cmd.nodeID, chunk)

	case wire.TypeInvokeAbort:
		var ab wire.InvokeAbort
		if err := json.Unmarshal(cmd.raw, &ab); err != nil {
			log.Printf("[gateway] %s: malformed invoke abort: %v", cmd.connID, err)
			return
		}
		b.handleAbortTransfer(cmd.nodeID, ab)

	default:
		// Unknown frame types are ignored; the wire protocol only defines
		// the invoke result, chunk, and abort frames as node -> gateway
		// traffic.
	}
}

func fmtNodeID(n *NodeSession) string {
	if n == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s@%s", n.NodeID, n.ConnID)
}
