// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package gateway

import (
	"fmt"
	"log"
	"time"

	"github.com/hyper-ai-inc/node-gateway/internal/wire"
)

// deriveNodeID picks the node's identity: device id if present, else
// client id, else a fresh uuid. Never the connection id, so a
// reconnecting node can be recognized as the same logical node.
func deriveNodeID(hello wire.Hello) string {
	if hello.DeviceID != "" {
		return hello.DeviceID
	}
	if hello.ClientID != "" {
		return hello.ClientID
	}
	return newInvokeID()
}

// handleRegister admits a connection into the two-index registry
// (byNodeID, byConnID), generalizing sessions/manager.go's Create beyond
// a single map into the pair the invoke and event paths both need.
func (b *Broker) handleRegister(cmd registerCmd) {
	nodeID := deriveNodeID(cmd.hello)

	if existing, ok := b.byNodeID[nodeID]; ok {
		log.Printf("[registry] replacing %s with new connection %s", fmtNodeID(existing), cmd.conn.ConnID())
		b.evict(existing, "superseded by new connection")
	}

	session := &NodeSession{
		NodeID: nodeID,
		ConnID: cmd.conn.ConnID(),
		Conn:   cmd.conn,
		Metadata: Metadata{
			DisplayName:       cmd.hello.DisplayName,
			Platform:          cmd.hello.Platform,
			Version:           cmd.hello.Version,
			DeviceFingerprint: cmd.hello.DeviceFingerprint,
			RemoteIP:          cmd.remoteIP,
			Capabilities:      cmd.hello.Capabilities,
			Commands:          cmd.hello.Commands,
			Permissions:       cmd.hello.Permissions,
			PathEnv:           cmd.hello.PathEnv,
		},
		ConnectedAt: time.Now(),
	}

	b.byNodeID[nodeID] = session
	b.byConnID[session.ConnID] = session

	log.Printf("[registry] %s connected (connId=%s platform=%s version=%s)", nodeID, session.ConnID, session.Metadata.Platform, session.Metadata.Version)

	cmd.reply <- registerReply{nodeID: nodeID}
}

// evict removes a session from both indexes and closes its connection.
// Used both for explicit unregister and for displacement on reconnect.
func (b *Broker) evict(n *NodeSession, reason string) {
	delete(b.byNodeID, n.NodeID)
	delete(b.byConnID, n.ConnID)
	n.Conn.Close()

	for id, inv := range b.invokes {
		if inv.nodeID != n.NodeID {
			continue
		}
		log.Printf("[invoke] %s: aborting, node %s disconnected (%s)", id, n.NodeID, reason)
		b.releaseTransfer(inv.transfer)
		b.finalizeInvoke(inv, Result{OK: false, Code: wire.CodeNotConnected, Message: "node disconnected"})
		delete(b.invokes, id)
	}
}

func (b *Broker) handleUnregister(connID string) {
	n, ok := b.byConnID[connID]
	if !ok {
		return
	}
	log.Printf("[registry] %s disconnected (connId=%s)", n.NodeID, connID)
	b.evict(n, "disconnected")
}

func (b *Broker) getSnapshot(nodeID string) *Snapshot {
	n, ok := b.byNodeID[nodeID]
	if !ok {
		return nil
	}
	s := n.snapshot()
	return &s
}

func (b *Broker) listSnapshots() []Snapshot {
	out := make([]Snapshot, 0, len(b.byNodeID))
	for _, n := range b.byNodeID {
		out = append(out, n.snapshot())
	}
	return out
}

func (b *Broker) sendEvent(nodeID string, event any) error {
	n, ok := b.byNodeID[nodeID]
	if !ok {
		return fmt.Errorf("gateway: node %s not connected", nodeID)
	}
	if err := n.Conn.Send(event); err != nil {
		log.Printf("[registry] sendEvent to %s failed: %v", nodeID, err)
		return err
	}
	return nil
}
