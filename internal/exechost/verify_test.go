// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package exechost

import (
	"encoding/json"
	"testing"
	"time"
)

func signForTest(t *testing.T, c *Client, spec ExecSpec) Request {
	t.Helper()
	req, err := c.sign(spec)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return req
}

func TestVerifyAcceptsFreshSignedRequest(t *testing.T) {
	secret := []byte("test-secret")
	c := New("", secret, time.Minute)

	req := signForTest(t, c, ExecSpec{Command: "echo", Args: []string{"hi"}})

	if err := Verify(req, secret, time.Minute); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestVerifyRejectsBadSecret(t *testing.T) {
	c := New("", []byte("secret-a"), time.Minute)
	req := signForTest(t, c, ExecSpec{Command: "echo"})

	if err := Verify(req, []byte("secret-b"), time.Minute); err != ErrBadSignature {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	secret := []byte("test-secret")
	c := New("", secret, time.Minute)
	req := signForTest(t, c, ExecSpec{Command: "echo"})

	req.Exec = json.RawMessage(`{"command":"rm"}`)

	if err := Verify(req, secret, time.Minute); err != ErrBadSignature {
		t.Fatalf("expected ErrBadSignature for tampered payload, got %v", err)
	}
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	secret := []byte("test-secret")
	c := New("", secret, time.Minute)

	staleTS := time.Now().Add(-2 * time.Minute).Unix()
	req, err := c.signAt(ExecSpec{Command: "echo"}, staleTS)
	if err != nil {
		t.Fatalf("sign at: %v", err)
	}

	if err := Verify(req, secret, time.Minute); err != ErrStaleRequest {
		t.Fatalf("expected ErrStaleRequest, got %v", err)
	}
}
