// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Package wire defines the JSON message schemas exchanged between the
// gateway and a connected node, and the envelope decoder that reads the
// discriminating "type" field before unmarshaling the full payload, the
// same shape as sandbox/cmd/server/control_ws.go's controlMessage switch.
package wire

import "encoding/json"

// Message type discriminants.
const (
	TypeHello             = "node.hello"
	TypeHelloAck          = "node.hello.ack"
	TypeInvokeRequest     = "node.invoke.request"
	TypeInvokeResult      = "node.invoke.result"
	TypeInvokeResultChunk = "node.invoke.result.chunk"
	TypeInvokeAbort       = "node.invoke.abort"
)

// Error codes carried on the wire.
const (
	CodeNotConnected        = "NOT_CONNECTED"
	CodeUnavailable         = "UNAVAILABLE"
	CodeTimeout             = "TIMEOUT"
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeAwaitingNodeApprove = "AWAITING_NODE_APPROVAL"
)

// FeatureChunkedResult is the capability string a node advertises in its
// hello frame to indicate it can stream oversized replies.
const FeatureChunkedResult = "node.invoke.result.chunk"

// Envelope carries only the type discriminant; callers decode payload with
// json.Unmarshal into a specific struct after checking Type.
type Envelope struct {
	Type string `json:"type"`
}

// ReadType extracts the "type" field from a raw JSON message without
// decoding the rest. Returns "" if the field is absent or the JSON is
// malformed.
func ReadType(raw []byte) string {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ""
	}
	return env.Type
}

// Hello is sent by a node immediately after the transport connects.
type Hello struct {
	Type              string          `json:"type"`
	DeviceID          string          `json:"deviceId,omitempty"`
	ClientID          string          `json:"clientId,omitempty"`
	DisplayName       string          `json:"displayName,omitempty"`
	Platform          string          `json:"platform,omitempty"`
	Version           string          `json:"version,omitempty"`
	DeviceFingerprint string          `json:"deviceFingerprint,omitempty"`
	Capabilities      []string        `json:"capabilities,omitempty"`
	Commands          []string        `json:"commands,omitempty"`
	Permissions       map[string]bool `json:"permissions,omitempty"`
	PathEnv           string          `json:"pathEnv,omitempty"`
}

// HelloAck acknowledges a hello and reports the assigned identifiers.
type HelloAck struct {
	Type   string `json:"type"`
	NodeID string `json:"nodeId"`
	ConnID string `json:"connId"`
}

// Error is the wire shape of a remote application or protocol error.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// InvokeRequest is the server -> node request frame.
type InvokeRequest struct {
	Type           string          `json:"type"`
	ID             string          `json:"id"`
	NodeID         string          `json:"nodeId"`
	Command        string          `json:"command"`
	ParamsJSON     json.RawMessage `json:"paramsJSON,omitempty"`
	TimeoutMs      int             `json:"timeoutMs,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
}

// PayloadTransfer describes an out-of-band chunked reply.
type PayloadTransfer struct {
	Format     string `json:"format"`
	Encoding   string `json:"encoding"`
	TotalBytes int64  `json:"totalBytes"`
	ChunkBytes int    `json:"chunkBytes,omitempty"`
	ChunkCount int    `json:"chunkCount"`
	SHA256     string `json:"sha256"`
}

// InvokeResult is the node -> server reply frame, in both its direct and
// chunked-start forms.
type InvokeResult struct {
	Type            string           `json:"type"`
	ID              string           `json:"id"`
	NodeID          string           `json:"nodeId"`
	OK              bool             `json:"ok"`
	Payload         json.RawMessage  `json:"payload,omitempty"`
	PayloadJSON     string           `json:"payloadJSON,omitempty"`
	PayloadTransfer *PayloadTransfer `json:"payloadTransfer,omitempty"`
	Error           *Error           `json:"error,omitempty"`
}

// InvokeResultChunk is one slice of a chunked reply.
type InvokeResultChunk struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	NodeID string `json:"nodeId"`
	Index  int    `json:"index"`
	Data   string `json:"data"`
	Bytes  int    `json:"bytes"`
}

// InvokeAbort is a node-driven explicit abort of an outstanding invoke
// or its in-progress transfer, distinct from a timeout or a direct
// failure result.
type InvokeAbort struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	NodeID string `json:"nodeId"`
	Error  *Error `json:"error,omitempty"`
}

// RecommendedChunkBytes implements the recommended sizing rule:
// min(256 KiB, ((maxPayloadBytes - 4KiB overhead) * 3) / 4) raw bytes.
func RecommendedChunkBytes(maxPayloadBytes int) int {
	const overhead = 4 * 1024
	const ceiling = 256 * 1024
	if maxPayloadBytes <= overhead {
		return 0
	}
	raw := ((maxPayloadBytes - overhead) * 3) / 4
	if raw > ceiling {
		return ceiling
	}
	if raw < 0 {
		return 0
	}
	return raw
}
