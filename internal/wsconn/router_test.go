// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package wsconn

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hyper-ai-inc/node-gateway/internal/wire"
)

type fakeRegistrar struct {
	mu          sync.Mutex
	registered  []wire.Hello
	unregisters []string
	nodeID      string
	err         error
}

func (f *fakeRegistrar) Register(conn wire.Conn, hello wire.Hello, remoteIP string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.registered = append(f.registered, hello)
	if f.nodeID != "" {
		return f.nodeID, nil
	}
	return hello.DeviceID, nil
}

func (f *fakeRegistrar) Unregister(connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unregisters = append(f.unregisters, connID)
}

func wsURL(url string) string {
	return "ws" + strings.TrimPrefix(url, "http")
}

func TestHandleNodeWebSocketHelloHandshake(t *testing.T) {
	reg := &fakeRegistrar{nodeID: "node-42"}
	router := NewRouter(reg)

	srv := httptest.NewServer(http.HandlerFunc(router.HandleNodeWebSocket))
	defer srv.Close()

	dialer := websocket.DefaultDialer
	ws, _, err := dialer.Dial(wsURL(srv.URL), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteJSON(wire.Hello{Type: wire.TypeHello, DeviceID: "node-42", Platform: "linux"}); err != nil {
		t.Fatalf("write hello: %v", err)
	}

	var ack wire.HelloAck
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := ws.ReadJSON(&ack); err != nil {
		t.Fatalf("read hello ack: %v", err)
	}
	if ack.Type != wire.TypeHelloAck || ack.NodeID != "node-42" {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if len(reg.registered) != 1 || reg.registered[0].DeviceID != "node-42" {
		t.Fatalf("expected registrar to see the hello, got %+v", reg.registered)
	}
}

func TestHandleNodeWebSocketRejectsNonHelloFirstFrame(t *testing.T) {
	reg := &fakeRegistrar{}
	router := NewRouter(reg)

	srv := httptest.NewServer(http.HandlerFunc(router.HandleNodeWebSocket))
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	data, _ := json.Marshal(map[string]string{"type": "not.a.hello"})
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Fatal("expected connection to be closed after a non-hello first frame")
	}
}
