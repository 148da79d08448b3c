// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Package exechost implements the gateway's client side of the exec-host
// local socket protocol: a one-shot, newline-delimited
// JSON exchange over a Unix domain socket, authenticated with an
// HMAC-SHA256 signature the same way sandbox/internal/auth.go gates its
// HTTP surface with a shared secret, generalized here to a signed
// request rather than a bearer header because the socket has no natural
// place to carry one.
package exechost

import "encoding/json"

// Frame type discriminants exchanged over the socket.
const (
	FrameExecRequest = "exec.request"
	FrameExecPending = "exec.pending"
	FrameExecResult  = "exec.result"
)

// Request is the signed envelope sent to the exec-host for every call.
// The signature covers Nonce, TimestampUnix, and the raw Exec bytes so a
// captured frame cannot be replayed against a different command or
// replayed later than hmacSkewWindow allows.
type Request struct {
	Type          string          `json:"type"`
	Nonce         string          `json:"nonce"`
	TimestampUnix int64           `json:"ts"`
	Exec          json.RawMessage `json:"exec"`
	Signature     string          `json:"signature"`
}

// ExecSpec describes the command the exec-host should run, forwarded
// from an invoke's params.
type ExecSpec struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	WorkDir string   `json:"workDir,omitempty"`
	Env     []string `json:"env,omitempty"`
	Timeout int      `json:"timeoutMs,omitempty"`
}

// PendingFrame is sent by the exec-host when the command requires owner
// approval before it can run. The gateway extends the owning invoke's
// timeout by ExtendMs when the first one arrives; further pending frames
// for the same call are ignored.
type PendingFrame struct {
	Type      string `json:"type"`
	Reason    string `json:"reason,omitempty"`
	ExtendMs  int    `json:"extendMs"`
}

// ResultFrame is the exec-host's terminal reply: either a completed
// command's output, or a denial/error.
type ResultFrame struct {
	Type     string `json:"type"`
	OK       bool   `json:"ok"`
	ExitCode int    `json:"exitCode,omitempty"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	Error    string `json:"error,omitempty"`
}

type envelope struct {
	Type string `json:"type"`
}

func readType(raw []byte) string {
	var e envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return ""
	}
	return e.Type
}
