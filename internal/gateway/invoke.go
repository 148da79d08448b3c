// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package gateway

import (
	"log"
	"time"

	"github.com/hyper-ai-inc/node-gateway/internal/wire"
)

// handleInvoke looks the target node up, sends the wire request, and
// parks a pendingInvoke keyed by a fresh invoke id. The timer posts back
// onto timeoutCh rather than mutating state directly, so the invoke
// table is never touched from outside the coordinator goroutine, the
// same discipline pty.Hub's turn-expiry timer follows.
func (b *Broker) handleInvoke(cmd invokeCmd) {
	n, ok := b.byNodeID[cmd.nodeID]
	if !ok {
		cmd.reply <- Result{OK: false, Code: wire.CodeNotConnected, Message: "node not connected"}
		return
	}

	id := newInvokeID()
	req := wire.InvokeRequest{
		Type:           wire.TypeInvokeRequest,
		ID:             id,
		NodeID:         cmd.nodeID,
		Command:        cmd.command,
		ParamsJSON:     cmd.paramsJSON,
		TimeoutMs:      int(cmd.timeout / time.Millisecond),
		IdempotencyKey: cmd.idempotencyKey,
	}

	if err := n.Conn.Send(req); err != nil {
		log.Printf("[invoke] %s: send to %s failed: %v", id, cmd.nodeID, err)
		cmd.reply <- Result{OK: false, Code: wire.CodeUnavailable, Message: "failed to deliver request to node"}
		return
	}

	inv := &pendingInvoke{
		id:      id,
		nodeID:  cmd.nodeID,
		replyCh: cmd.reply,
	}
	inv.timer = time.AfterFunc(cmd.timeout, func() {
		select {
		case b.timeoutCh <- timeoutCmd{invokeID: id}:
		case <-b.stopped:
		}
	})
	b.invokes[id] = inv

	log.Printf("[invoke] %s: sent %q to %s, timeout=%s", id, cmd.command, cmd.nodeID, cmd.timeout)
}

// handleInvokeTimeout fires when an invoke's timer elapses without a
// result. If the invoke has since resolved (result and timer firing
// raced), the map lookup simply misses and this is a no-op. The timer
// is not guaranteed to be stopped before a same-tick resolution.
func (b *Broker) handleInvokeTimeout(invokeID string) {
	inv, ok := b.invokes[invokeID]
	if !ok {
		return
	}
	log.Printf("[invoke] %s: timed out", invokeID)
	b.releaseTransfer(inv.transfer)
	delete(b.invokes, invokeID)
	b.finalizeInvoke(inv, Result{OK: false, Code: wire.CodeTimeout, Message: "invoke timed out"})
}

// handleExtendTimeout pushes an invoke's deadline out, used when an
// exec-host reports the underlying command is pending owner approval.
// The old timer is stopped and replaced; if it already fired and lost
// the race, the invoke is gone and this reports an error.
func (b *Broker) handleExtendTimeout(invokeID string, extendBy time.Duration) error {
	inv, ok := b.invokes[invokeID]
	if !ok {
		return ErrUnknownInvoke
	}
	inv.timer.Stop()
	id := invokeID
	inv.timer = time.AfterFunc(extendBy, func() {
		select {
		case b.timeoutCh <- timeoutCmd{invokeID: id}:
		case <-b.stopped:
		}
	})
	inv.extended = true
	log.Printf("[invoke] %s: timeout extended by %s (awaiting node approval)", invokeID, extendBy)
	return nil
}

// handleInvokeResult processes a direct or chunked-start reply from a
// node. A chunked-start result (PayloadTransfer set) does not resolve
// the invoke yet; it hands off to the transfer engine and waits for
// chunk frames. sourceNodeID is the authoritative node identity the
// frame arrived on, not the (self-reported) NodeID field in the
// payload; a mismatch against the invoke's owning node is rejected to
// prevent one node from resolving another node's pending call.
func (b *Broker) handleInvokeResult(sourceNodeID string, res wire.InvokeResult) {
	inv, ok := b.invokes[res.ID]
	if !ok {
		log.Printf("[invoke] result for unknown invoke id %s ignored", res.ID)
		return
	}
	if sourceNodeID != inv.nodeID {
		log.Printf("[invoke] %s: result from %s rejected, owned by %s", res.ID, sourceNodeID, inv.nodeID)
		return
	}

	if res.PayloadTransfer != nil {
		b.startTransfer(inv, res)
		return
	}

	inv.timer.Stop()
	delete(b.invokes, res.ID)

	if !res.OK {
		code, msg := wire.CodeInvalidRequest, ""
		if res.Error != nil {
			code, msg = res.Error.Code, res.Error.Message
		}
		b.finalizeInvoke(inv, Result{OK: false, Code: code, Message: msg})
		return
	}

	payload := res.Payload
	if payload == nil && res.PayloadJSON != "" {
		payload = []byte(res.PayloadJSON)
	}
	if int64(len(payload)) > b.limits.MaxInvokeResultBytes {
		b.finalizeInvoke(inv, Result{OK: false, Code: wire.CodeInvalidRequest, Message: ReasonPayloadTooLarge})
		return
	}

	b.finalizeInvoke(inv, Result{OK: true, Payload: payload})
}

// handleAbortTransfer implements the node-driven explicit abort: if a
// matching pending invoke owned by sourceNodeID exists, it resolves
// with the supplied error (default UNAVAILABLE/"node invoke aborted");
// any bytes its transfer had reserved are released either way.
func (b *Broker) handleAbortTransfer(sourceNodeID string, ab wire.InvokeAbort) bool {
	inv, ok := b.invokes[ab.ID]
	if !ok {
		return false
	}
	if sourceNodeID != inv.nodeID {
		log.Printf("[invoke] %s: abort from %s rejected, owned by %s", ab.ID, sourceNodeID, inv.nodeID)
		return false
	}

	code, msg := wire.CodeUnavailable, "node invoke aborted"
	if ab.Error != nil {
		if ab.Error.Code != "" {
			code = ab.Error.Code
		}
		if ab.Error.Message != "" {
			msg = ab.Error.Message
		}
	}

	b.releaseTransfer(inv.transfer)
	inv.timer.Stop()
	delete(b.invokes, ab.ID)
	b.finalizeInvoke(inv, Result{OK: false, Code: code, Message: msg})
	return true
}

// finalizeInvoke delivers the final result to the blocked Invoke caller.
// The reply channel is always buffered with capacity 1, so this never
// blocks even if the caller already gave up (e.g. its context was
// cancelled), the send lands in the buffer and is simply never read.
func (b *Broker) finalizeInvoke(inv *pendingInvoke, r Result) {
	if inv.resolved {
		return
	}
	inv.resolved = true
	inv.replyCh <- r
}
