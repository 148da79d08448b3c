// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Command exechostd is a demonstration exec-host: a small Unix-domain-
// socket server that accepts signed exec requests, optionally holds a
// command pending simulated owner approval, and runs it via
// internal/exechost/localexec.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hyper-ai-inc/node-gateway/internal/exechost"
	"github.com/hyper-ai-inc/node-gateway/internal/exechost/localexec"
)

// REVISION: exechostd-v1-initial
const revision = "exechostd-v1-initial"

func init() {
	log.Printf("[exechostd] REVISION: %s loaded", revision)
}

func main() {
	socketPath := os.Getenv("EXECHOST_SOCKET_PATH")
	if socketPath == "" {
		socketPath = "/tmp/gateway-exechost.sock"
	}
	secret := os.Getenv("EXECHOST_HMAC_SECRET")
	if secret == "" {
		log.Fatalf("[exechostd] EXECHOST_HMAC_SECRET is required (fail-closed)")
	}
	skew := 60 * time.Second
	if v := os.Getenv("EXECHOST_HMAC_SKEW_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			skew = time.Duration(n) * time.Second
		}
	}
	approvalCommands := splitCSV(os.Getenv("EXECHOST_APPROVAL_REQUIRED_COMMANDS"))
	approvalGrace := 2 * time.Second
	if v := os.Getenv("EXECHOST_APPROVAL_GRACE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			approvalGrace = time.Duration(n) * time.Millisecond
		}
	}

	os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		log.Fatalf("[exechostd] listen %s: %v", socketPath, err)
	}
	defer ln.Close()
	log.Printf("[exechostd] listening on %s", socketPath)

	srv := &server{
		secret:           []byte(secret),
		skew:             skew,
		approvalCommands: approvalCommands,
		approvalGrace:    approvalGrace,
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Printf("[exechostd] accept error: %v", err)
			continue
		}
		go srv.handle(conn)
	}
}

func splitCSV(s string) map[string]bool {
	out := make(map[string]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out[part] = true
		}
	}
	return out
}

type server struct {
	secret           []byte
	skew             time.Duration
	approvalCommands map[string]bool
	approvalGrace    time.Duration
}

func (s *server) handle(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReaderSize(conn, 64*1024)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		log.Printf("[exechostd] read request: %v", err)
		return
	}

	var req exechost.Request
	if err := json.Unmarshal(line, &req); err != nil {
		log.Printf("[exechostd] malformed request: %v", err)
		return
	}

	if err := exechost.Verify(req, s.secret, s.skew); err != nil {
		log.Printf("[exechostd] %s: rejected: %v", req.Nonce, err)
		return
	}

	spec, err := exechost.DecodeExecSpec(req)
	if err != nil {
		log.Printf("[exechostd] %s: bad exec spec: %v", req.Nonce, err)
		return
	}

	if s.approvalCommands[spec.Command] {
		log.Printf("[exechostd] %s: %q requires owner approval, holding pending", req.Nonce, spec.Command)
		pending := exechost.PendingFrame{
			Type:     exechost.FrameExecPending,
			Reason:   "awaiting-owner-approval",
			ExtendMs: int(s.approvalGrace / time.Millisecond),
		}
		if err := writeFrame(conn, pending); err != nil {
			log.Printf("[exechostd] %s: pending frame write failed: %v", req.Nonce, err)
			return
		}
		// A real deployment wires this to an owner-facing approval channel,
		// the same async shape as secrets_broker.go's onApprovalNeeded
		// callback. This demonstration binary simulates the wait and then
		// auto-approves.
		time.Sleep(s.approvalGrace)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(spec.Timeout)*time.Millisecond+s.approvalGrace+30*time.Second)
	defer cancel()

	result := localexec.Run(ctx, spec)
	result.Type = exechost.FrameExecResult
	if err := writeFrame(conn, result); err != nil {
		log.Printf("[exechostd] %s: result frame write failed: %v", req.Nonce, err)
	}
}

func writeFrame(conn net.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = conn.Write(data)
	return err
}
