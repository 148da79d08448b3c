// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes := s.broker.ListConnected()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"nodes": nodes})
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	nodeID := r.PathValue("nodeId")
	snap := s.broker.Get(nodeID)
	if snap == nil {
		http.Error(w, "E60201: node not connected", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

type invokeRequestBody struct {
	Command        string          `json:"command"`
	Params         json.RawMessage `json:"params,omitempty"`
	TimeoutMs      int             `json:"timeoutMs,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
}

type invokeResponseBody struct {
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	nodeID := r.PathValue("nodeId")

	var body invokeRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "E60202: invalid JSON body", http.StatusBadRequest)
		return
	}
	if body.Command == "" {
		http.Error(w, "E60203: command is required", http.StatusBadRequest)
		return
	}

	timeout := time.Duration(body.TimeoutMs) * time.Millisecond
	ctx, cancel := context.WithTimeout(r.Context(), timeoutOrDefault(timeout))
	defer cancel()

	result, err := s.broker.Invoke(ctx, nodeID, body.Command, body.Params, timeout, body.IdempotencyKey)
	if err != nil {
		http.Error(w, "E60204: "+err.Error(), http.StatusGatewayTimeout)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(invokeResponseBody{
		OK:      result.OK,
		Payload: result.Payload,
		Code:    result.Code,
		Message: result.Message,
	})
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 30 * time.Second
	}
	// A little headroom over the invoke's own timeout so the broker's
	// internal timeout fires and produces a proper TIMEOUT result before
	// the HTTP request context gets cancelled out from under it.
	return d + 5*time.Second
}
