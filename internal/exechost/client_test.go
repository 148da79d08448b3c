// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package exechost

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"
)

func startFakeExecHost(t *testing.T, handle func(net.Conn)) string {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "exechost.sock")
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}()

	return socketPath
}

func writeLine(t *testing.T, conn net.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// TestExecDirectResult exercises the plain request/result round trip
// with no pending approval step.
func TestExecDirectResult(t *testing.T) {
	socketPath := startFakeExecHost(t, func(conn net.Conn) {
		reader := bufio.NewReader(conn)
		if _, err := reader.ReadBytes('\n'); err != nil {
			return
		}
		writeLine(t, conn, ResultFrame{Type: FrameExecResult, OK: true, Stdout: "hello\n"})
	})

	c := New(socketPath, []byte("secret"), time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := c.Exec(ctx, ExecSpec{Command: "echo", Args: []string{"hello"}}, nil)
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if !res.OK || res.Stdout != "hello\n" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

// S6-shaped: pending frame extends the caller's timeout before the
// final result arrives.
func TestExecPendingThenResult(t *testing.T) {
	socketPath := startFakeExecHost(t, func(conn net.Conn) {
		reader := bufio.NewReader(conn)
		if _, err := reader.ReadBytes('\n'); err != nil {
			return
		}
		writeLine(t, conn, PendingFrame{Type: FrameExecPending, Reason: "awaiting-owner-approval", ExtendMs: 400})
		time.Sleep(50 * time.Millisecond)
		writeLine(t, conn, ResultFrame{Type: FrameExecResult, OK: true, Stdout: "approved\n"})
	})

	c := New(socketPath, []byte("secret"), time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var pendingCalls int
	var lastExtend time.Duration
	res, err := c.Exec(ctx, ExecSpec{Command: "sensitive-op"}, func(extendBy time.Duration) {
		pendingCalls++
		lastExtend = extendBy
	})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if pendingCalls != 1 {
		t.Fatalf("expected onPending called once, got %d", pendingCalls)
	}
	if lastExtend != 400*time.Millisecond {
		t.Fatalf("expected extend of 400ms, got %s", lastExtend)
	}
	if !res.OK || res.Stdout != "approved\n" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

// TestExecSecondPendingFrameIgnored asserts that a second exec.pending
// frame while already Pending does not re-invoke onPending (idempotent,
// timer not re-extended).
func TestExecSecondPendingFrameIgnored(t *testing.T) {
	socketPath := startFakeExecHost(t, func(conn net.Conn) {
		reader := bufio.NewReader(conn)
		if _, err := reader.ReadBytes('\n'); err != nil {
			return
		}
		writeLine(t, conn, PendingFrame{Type: FrameExecPending, Reason: "awaiting-owner-approval", ExtendMs: 400})
		writeLine(t, conn, PendingFrame{Type: FrameExecPending, Reason: "awaiting-owner-approval", ExtendMs: 400})
		time.Sleep(50 * time.Millisecond)
		writeLine(t, conn, ResultFrame{Type: FrameExecResult, OK: true, Stdout: "approved\n"})
	})

	c := New(socketPath, []byte("secret"), time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var pendingCalls int
	res, err := c.Exec(ctx, ExecSpec{Command: "sensitive-op"}, func(extendBy time.Duration) {
		pendingCalls++
	})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if pendingCalls != 1 {
		t.Fatalf("expected onPending called once despite two pending frames, got %d", pendingCalls)
	}
	if !res.OK || res.Stdout != "approved\n" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

// TestExecPendingExtendsDeadlinePastBaseCtx proves a pending frame
// actually pushes the socket's own read deadline out: the caller's ctx
// carries a base deadline far shorter than when the result arrives, so
// without extending the connection's deadline (not just calling
// onPending) the read would time out before the result frame lands.
func TestExecPendingExtendsDeadlinePastBaseCtx(t *testing.T) {
	socketPath := startFakeExecHost(t, func(conn net.Conn) {
		reader := bufio.NewReader(conn)
		if _, err := reader.ReadBytes('\n'); err != nil {
			return
		}
		writeLine(t, conn, PendingFrame{Type: FrameExecPending, Reason: "awaiting-owner-approval", ExtendMs: 500})
		time.Sleep(200 * time.Millisecond)
		writeLine(t, conn, ResultFrame{Type: FrameExecResult, OK: true, Stdout: "approved\n"})
	})

	c := New(socketPath, []byte("secret"), time.Minute)
	// The base ctx deadline (100ms) is well short of when the result
	// arrives (~200ms); only the pending frame's extension keeps the
	// socket read alive long enough.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	res, err := c.Exec(ctx, ExecSpec{Command: "sensitive-op"}, func(extendBy time.Duration) {})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if !res.OK || res.Stdout != "approved\n" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestExecDenied(t *testing.T) {
	socketPath := startFakeExecHost(t, func(conn net.Conn) {
		reader := bufio.NewReader(conn)
		if _, err := reader.ReadBytes('\n'); err != nil {
			return
		}
		writeLine(t, conn, ResultFrame{Type: FrameExecResult, OK: false})
	})

	c := New(socketPath, []byte("secret"), time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := c.Exec(ctx, ExecSpec{Command: "rm"}, nil)
	if err != ErrDenied {
		t.Fatalf("expected ErrDenied, got %v", err)
	}
}
