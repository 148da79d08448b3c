// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Package gateway implements the node registry, invocation table, and
// chunked transfer engine as a single coordinator goroutine, generalizing
// sandbox/internal/pty/hub.go's register/unregister/select-loop pattern
// from PTY sessions to RPC-shaped node invocations.
package gateway

import (
	"crypto/sha256"
	"encoding/json"
	"hash"
	"time"

	"github.com/hyper-ai-inc/node-gateway/internal/wire"
)

// Metadata carries the structured hello-frame fields a node advertises.
type Metadata struct {
	DisplayName       string
	Platform          string
	Version           string
	DeviceFingerprint string
	RemoteIP          string
	Capabilities      []string
	Commands          []string
	Permissions       map[string]bool
	PathEnv           string
}

// hasCapability reports whether the node advertised the given capability
// string in its hello frame.
func (m Metadata) hasCapability(c string) bool {
	for _, cap := range m.Capabilities {
		if cap == c {
			return true
		}
	}
	return false
}

// NodeSession is the registry's live record for one connected node.
type NodeSession struct {
	NodeID     string
	ConnID     string
	Conn       wire.Conn
	Metadata   Metadata
	ConnectedAt time.Time
}

// Snapshot is the read-only view of a NodeSession returned by Get and
// ListConnected; it never carries the live wire.Conn.
type Snapshot struct {
	NodeID      string    `json:"nodeId"`
	ConnID      string    `json:"connId"`
	DisplayName string    `json:"displayName,omitempty"`
	Platform    string    `json:"platform,omitempty"`
	Version     string    `json:"version,omitempty"`
	Commands    []string  `json:"commands,omitempty"`
	ConnectedAt time.Time `json:"connectedAt"`
}

func (n *NodeSession) snapshot() Snapshot {
	return Snapshot{
		NodeID:      n.NodeID,
		ConnID:      n.ConnID,
		DisplayName: n.Metadata.DisplayName,
		Platform:    n.Metadata.Platform,
		Version:     n.Metadata.Version,
		Commands:    n.Metadata.Commands,
		ConnectedAt: n.ConnectedAt,
	}
}

// Protocol-error reasons, used as the message text on an owning invoke's
// INVALID_REQUEST error.
const (
	ReasonUnknownInvokeID    = "unknown-invoke-id"
	ReasonChunkOutOfOrder    = "chunk-out-of-order"
	ReasonChunkBytesMismatch = "chunk-bytes-mismatch"
	ReasonPayloadTooLarge    = "payload-too-large"
	ReasonHashMismatch       = "hash-mismatch"
)

// Result is the caller-facing outcome of Invoke, distinct from
// wire.InvokeResult: it carries the fully reassembled payload rather than
// a chunk-transfer descriptor.
type Result struct {
	OK      bool
	Payload json.RawMessage
	Code    string
	Message string
}

// pendingInvoke is the coordinator's bookkeeping for one in-flight call.
type pendingInvoke struct {
	id        string
	nodeID    string
	replyCh   chan Result
	timer     *time.Timer
	transfer  *pendingTransfer
	resolved  bool
	extended  bool
}

// pendingTransfer tracks an in-progress chunked reply for one invoke.
type pendingTransfer struct {
	invokeID    string
	nodeID      string
	format      string
	encoding    string
	totalBytes  int64
	chunkCount  int
	wantSHA256  string
	nextIndex   int
	received    int64
	buf         []byte
	hasher      hash.Hash
}

func newPendingTransfer(invokeID, nodeID string, pt wire.PayloadTransfer) *pendingTransfer {
	return &pendingTransfer{
		invokeID:   invokeID,
		nodeID:     nodeID,
		format:     pt.Format,
		encoding:   pt.Encoding,
		totalBytes: pt.TotalBytes,
		chunkCount: pt.ChunkCount,
		wantSHA256: pt.SHA256,
		buf:        make([]byte, 0, pt.TotalBytes),
		hasher:     sha256.New(),
	}
}
