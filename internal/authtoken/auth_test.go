// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package authtoken

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func newMiddlewareWithToken(t *testing.T, token string) *Middleware {
	t.Helper()
	t.Setenv("GATEWAY_INTERNAL_TOKEN", token)
	return NewMiddleware()
}

func TestRequireAuthRejectsWhenTokenUnset(t *testing.T) {
	m := newMiddlewareWithToken(t, "")
	if m.IsEnabled() {
		t.Fatal("expected middleware to be disabled with empty token")
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/nodes", nil)
	m.RequireAuthFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	})(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireAuthAcceptsBearerToken(t *testing.T) {
	m := newMiddlewareWithToken(t, "s3cr3t")

	called := false
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/nodes", nil)
	req.Header.Set("Authorization", "Bearer s3cr3t")

	m.RequireAuthFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})(rec, req)

	if !called {
		t.Fatal("expected handler to run with a valid bearer token")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRequireAuthAcceptsInternalTokenHeader(t *testing.T) {
	m := newMiddlewareWithToken(t, "s3cr3t")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/nodes", nil)
	req.Header.Set("X-Internal-Token", "s3cr3t")

	called := false
	m.RequireAuthFunc(func(w http.ResponseWriter, r *http.Request) { called = true })(rec, req)

	if !called {
		t.Fatal("expected handler to run with a valid X-Internal-Token header")
	}
}

func TestRequireAuthRejectsWrongToken(t *testing.T) {
	m := newMiddlewareWithToken(t, "s3cr3t")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/nodes", nil)
	req.Header.Set("Authorization", "Bearer wrong")

	m.RequireAuthFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	})(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireAuthRejectsMalformedAuthorizationHeader(t *testing.T) {
	m := newMiddlewareWithToken(t, "s3cr3t")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/nodes", nil)
	req.Header.Set("Authorization", "s3cr3t")

	m.RequireAuthFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	})(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
