// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package wsconn

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hyper-ai-inc/node-gateway/internal/wire"
)

// helloTimeout bounds how long a newly-upgraded connection has to send its
// hello frame before the router gives up and closes it.
const helloTimeout = 10 * time.Second

// Registrar is the subset of the gateway broker the router needs. It is
// defined here, not in internal/gateway, so wsconn has no dependency on
// the broker's internals.
type Registrar interface {
	Register(conn wire.Conn, hello wire.Hello, remoteIP string) (nodeID string, err error)
	Unregister(connID string)
}

// allowedOrigins returns the list of allowed WebSocket origins from
// environment, mirroring sandbox/internal/ws/router.go.
func allowedOrigins() []string {
	origins := os.Getenv("GATEWAY_ALLOWED_ORIGINS")
	if origins == "" {
		return nil
	}
	return strings.Split(origins, ",")
}

func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Node agents are not browsers; absence of Origin is expected and
		// allowed here (unlike the browser-facing sandbox router this was
		// adapted from).
		return true
	}
	allowed := allowedOrigins()
	if len(allowed) == 0 {
		return false
	}
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		if a == origin || a == "*" {
			return true
		}
	}
	return false
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     checkOrigin,
}

// Router upgrades incoming node connections and performs the hello
// handshake before handing the live connection to the registrar.
type Router struct {
	registrar Registrar
}

// NewRouter creates a router bound to the given registrar (normally a
// *gateway.Broker).
func NewRouter(r Registrar) *Router {
	return &Router{registrar: r}
}

// HandleNodeWebSocket upgrades the HTTP request, reads exactly one hello
// frame, registers the node, and then pumps frames until the connection
// closes, at which point it unregisters the node.
func (rt *Router) HandleNodeWebSocket(w http.ResponseWriter, r *http.Request) {
	wsc, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[wsconn] upgrade failed: %v", err)
		return
	}

	connID := uuid.NewString()
	conn := New(connID, wsc)

	wsc.SetReadDeadline(time.Now().Add(helloTimeout))
	_, raw, err := wsc.ReadMessage()
	if err != nil {
		log.Printf("[wsconn] %s: hello read failed: %v", connID, err)
		wsc.Close()
		return
	}
	if wire.ReadType(raw) != wire.TypeHello {
		log.Printf("[wsconn] %s: first frame was not a hello", connID)
		wsc.Close()
		return
	}
	var hello wire.Hello
	if err := json.Unmarshal(raw, &hello); err != nil {
		log.Printf("[wsconn] %s: invalid hello: %v", connID, err)
		wsc.Close()
		return
	}

	remoteIP := r.RemoteAddr
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		remoteIP = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}

	nodeID, err := rt.registrar.Register(conn, hello, remoteIP)
	if err != nil {
		log.Printf("[wsconn] %s: register failed: %v", connID, err)
		wsc.Close()
		return
	}

	if err := conn.Send(wire.HelloAck{Type: wire.TypeHelloAck, NodeID: nodeID, ConnID: connID}); err != nil {
		log.Printf("[wsconn] %s: hello ack send failed: %v", connID, err)
	}

	defer rt.registrar.Unregister(connID)
	conn.Run()
}
