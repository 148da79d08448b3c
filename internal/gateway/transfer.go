// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package gateway

import (
	"encoding/base64"
	"encoding/hex"
	"log"

	"github.com/hyper-ai-inc/node-gateway/internal/wire"
)

// startTransfer admits a chunked-reply announcement, grounded on
// gosend's inboundFileTransfer bookkeeping (NextChunk, BytesReceived, a
// target Checksum) adapted to update incrementally per chunk instead of
// once at the end. Acceptance reserves the full totalBytes against the
// inflight ceiling up front, not the bytes received so far, so two
// concurrently admitted transfers can never together exceed the ceiling
// no matter how slowly either one drains.
func (b *Broker) startTransfer(inv *pendingInvoke, res wire.InvokeResult) {
	pt := *res.PayloadTransfer

	if inv.transfer != nil {
		log.Printf("[transfer] %s: duplicate start, already has a transfer in progress", inv.id)
		b.abortTransfer(inv, ReasonChunkOutOfOrder)
		return
	}

	if n, ok := b.byNodeID[inv.nodeID]; ok && !n.Metadata.hasCapability(wire.FeatureChunkedResult) {
		log.Printf("[transfer] %s: node %s started a chunked result without advertising %s in its hello", inv.id, inv.nodeID, wire.FeatureChunkedResult)
	}

	if pt.TotalBytes > b.limits.MaxInvokeResultBytes {
		b.abortUnstarted(inv, ReasonPayloadTooLarge)
		return
	}
	if b.inflightBytes+pt.TotalBytes > b.limits.MaxInflightBytes {
		log.Printf("[transfer] %s: rejecting, inflight ceiling would be exceeded (%d + %d > %d)",
			inv.id, b.inflightBytes, pt.TotalBytes, b.limits.MaxInflightBytes)
		b.abortUnstarted(inv, ReasonPayloadTooLarge)
		return
	}

	b.inflightBytes += pt.TotalBytes
	inv.transfer = newPendingTransfer(inv.id, inv.nodeID, pt)
	log.Printf("[transfer] %s: started, totalBytes=%d chunkCount=%d format=%s", inv.id, pt.TotalBytes, pt.ChunkCount, pt.Format)
}

// handleChunk validates and appends one chunk to its owning transfer, in
// strict order: unknown invoke, then node ownership, then transfer
// existence, then ordering, then declared-vs-actual byte count, then the
// running size ceiling. A chunk naming an unknown invoke or arriving from
// a node that does not own the invoke is logged and dropped; any later
// failure resolves the owning invoke with an INVALID_REQUEST error
// carrying the reason as its message, so a caller never blocks past its
// timeout waiting on a malformed transfer.
func (b *Broker) handleChunk(sourceNodeID string, chunk wire.InvokeResultChunk) {
	inv, ok := b.invokes[chunk.ID]
	if !ok {
		log.Printf("[transfer] chunk for unknown invoke %s ignored", chunk.ID)
		return
	}
	if sourceNodeID != inv.nodeID {
		log.Printf("[transfer] %s: chunk from %s rejected, owned by %s", chunk.ID, sourceNodeID, inv.nodeID)
		return
	}
	if inv.transfer == nil {
		b.abortUnstarted(inv, ReasonUnknownInvokeID)
		return
	}
	t := inv.transfer

	if chunk.Index != t.nextIndex {
		b.abortTransfer(inv, ReasonChunkOutOfOrder)
		return
	}

	data, err := base64.StdEncoding.DecodeString(chunk.Data)
	if err != nil || len(data) != chunk.Bytes {
		b.abortTransfer(inv, ReasonChunkBytesMismatch)
		return
	}

	if t.received+int64(len(data)) > t.totalBytes {
		b.abortTransfer(inv, ReasonChunkBytesMismatch)
		return
	}

	t.buf = append(t.buf, data...)
	t.hasher.Write(data)
	t.received += int64(len(data))
	t.nextIndex++

	if t.nextIndex < t.chunkCount {
		return
	}

	b.finishTransfer(inv)
}

// finishTransfer runs once the declared chunk count has been received:
// release the transfer's reserved bytes, verify total size and hash,
// then resolve the owning invoke with the reassembled payload.
func (b *Broker) finishTransfer(inv *pendingInvoke) {
	t := inv.transfer
	b.releaseTransfer(t)

	if t.received != t.totalBytes {
		b.abortResolved(inv, ReasonChunkBytesMismatch)
		return
	}

	sum := hex.EncodeToString(t.hasher.Sum(nil))
	if sum != t.wantSHA256 {
		log.Printf("[transfer] %s: hash mismatch, want=%s got=%s", inv.id, t.wantSHA256, sum)
		b.abortResolved(inv, ReasonHashMismatch)
		return
	}

	log.Printf("[transfer] %s: complete, %d bytes verified", inv.id, t.received)
	inv.timer.Stop()
	delete(b.invokes, inv.id)
	b.finalizeInvoke(inv, Result{OK: true, Payload: t.buf})
}

// releaseTransfer frees a transfer's full reservation from the inflight
// counter. Teardown always releases totalBytes, the amount reserved at
// start, never bytesReceived, and the counter is floored at zero.
func (b *Broker) releaseTransfer(t *pendingTransfer) {
	if t == nil {
		return
	}
	b.inflightBytes -= t.totalBytes
	if b.inflightBytes < 0 {
		b.inflightBytes = 0
	}
}

// abortTransfer aborts a transfer that has already reserved bytes
// against the inflight ceiling, releasing that reservation before
// resolving the owning invoke.
func (b *Broker) abortTransfer(inv *pendingInvoke, reason string) {
	b.releaseTransfer(inv.transfer)
	log.Printf("[transfer] %s: aborted: %s", inv.id, reason)
	inv.timer.Stop()
	delete(b.invokes, inv.id)
	b.finalizeInvoke(inv, Result{OK: false, Code: wire.CodeInvalidRequest, Message: reason})
}

// abortUnstarted resolves an invoke that never reserved inflight bytes,
// either because start rejected the transfer outright or because a
// chunk arrived with no transfer to own it.
func (b *Broker) abortUnstarted(inv *pendingInvoke, reason string) {
	log.Printf("[transfer] %s: aborted before start: %s", inv.id, reason)
	inv.timer.Stop()
	delete(b.invokes, inv.id)
	b.finalizeInvoke(inv, Result{OK: false, Code: wire.CodeInvalidRequest, Message: reason})
}

// abortResolved finalizes an invoke whose transfer bytes have already
// been released by the caller, used by finishTransfer which releases
// before checking size and hash.
func (b *Broker) abortResolved(inv *pendingInvoke, reason string) {
	log.Printf("[transfer] %s: aborted after assembly: %s", inv.id, reason)
	inv.timer.Stop()
	delete(b.invokes, inv.id)
	b.finalizeInvoke(inv, Result{OK: false, Code: wire.CodeInvalidRequest, Message: reason})
}
