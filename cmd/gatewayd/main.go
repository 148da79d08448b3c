// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hyper-ai-inc/node-gateway/internal/authtoken"
	"github.com/hyper-ai-inc/node-gateway/internal/config"
	"github.com/hyper-ai-inc/node-gateway/internal/exechost"
	"github.com/hyper-ai-inc/node-gateway/internal/execnode"
	"github.com/hyper-ai-inc/node-gateway/internal/gateway"
	"github.com/hyper-ai-inc/node-gateway/internal/wire"
	"github.com/hyper-ai-inc/node-gateway/internal/wsconn"
)

// execHostNodeID is the fixed nodeId the local exec-host registers under
// when GATEWAY_EXECHOST_SOCKET_PATH is configured. Callers invoke it
// like any other node.
const execHostNodeID = "exec-host"

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	limits := config.FromEnv()
	broker := gateway.NewBroker(limits)

	stopWatch := make(chan struct{})
	if path := os.Getenv("GATEWAY_LIMITS_FILE"); path != "" {
		if err := config.Watch(path, broker.SetLimits, stopWatch); err != nil {
			log.Printf("[gatewayd] limits file watch failed: %v", err)
		}
	}

	registerExecHost(broker, limits)

	server := NewServer(broker)

	httpServer := &http.Server{
		Addr:    ":" + port,
		Handler: server.Handler(),
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("[gatewayd] listening on :%s", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[gatewayd] server error: %v", err)
		}
	}()

	sig := <-shutdown
	log.Printf("[gatewayd] received signal %v, shutting down", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("[gatewayd] HTTP server shutdown error: %v", err)
	}
	close(stopWatch)
	broker.Stop()

	log.Println("[gatewayd] stopped")
}

// Server wires the node registry/invocation broker to the HTTP surface:
// a node-facing WebSocket upgrade endpoint and a server-facing internal
// API for triggering invokes and listing connected nodes.
type Server struct {
	broker   *gateway.Broker
	wsRouter *wsconn.Router
	auth     *authtoken.Middleware
}

// NewServer wires a Server around an already-running broker.
func NewServer(b *gateway.Broker) *Server {
	authMiddleware := authtoken.NewMiddleware()
	if !authMiddleware.IsEnabled() {
		log.Println("[gatewayd] WARNING: GATEWAY_INTERNAL_TOKEN not set - all internal requests will be rejected")
	}
	return &Server{
		broker:   b,
		wsRouter: wsconn.NewRouter(b),
		auth:     authMiddleware,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	// Node-facing: upgrades to a WebSocket and performs the hello
	// handshake. Not gated by the internal token; internal/wsconn only
	// requires the first frame to be a well-formed hello and does not
	// authenticate the node.
	mux.HandleFunc("GET /nodes/connect", s.wsRouter.HandleNodeWebSocket)

	// Server-facing internal API.
	mux.HandleFunc("GET /nodes", s.auth.RequireAuthFunc(s.handleListNodes))
	mux.HandleFunc("GET /nodes/{nodeId}", s.auth.RequireAuthFunc(s.handleGetNode))
	mux.HandleFunc("POST /nodes/{nodeId}/invoke", s.auth.RequireAuthFunc(s.handleInvoke))

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// registerExecHost wires a local exec-host into the registry as an
// ordinary node when GATEWAY_EXECHOST_SOCKET_PATH is configured. This is
// optional: a gateway with no exec-host still serves every other
// component fully.
func registerExecHost(broker *gateway.Broker, limits config.Limits) {
	socketPath := os.Getenv("GATEWAY_EXECHOST_SOCKET_PATH")
	if socketPath == "" {
		return
	}
	secret := os.Getenv("GATEWAY_EXECHOST_HMAC_SECRET")
	if secret == "" {
		log.Printf("[gatewayd] GATEWAY_EXECHOST_SOCKET_PATH set but GATEWAY_EXECHOST_HMAC_SECRET is empty, skipping exec-host registration")
		return
	}

	client := exechost.New(socketPath, []byte(secret), limits.HMACSkewWindow)
	adapter := execnode.New(execHostNodeID, client, broker, limits.DefaultInvokeTimeout)

	nodeID, err := broker.Register(adapter, wire.Hello{
		Type:         wire.TypeHello,
		DeviceID:     execHostNodeID,
		DisplayName:  "local exec-host",
		Platform:     "exechost",
		Capabilities: []string{"exec"},
	}, "127.0.0.1")
	if err != nil {
		log.Printf("[gatewayd] exec-host registration failed: %v", err)
		return
	}
	log.Printf("[gatewayd] registered exec-host as node %s (socket=%s)", nodeID, socketPath)
}
