package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/koretto/koretto/call"
	"github.com/koretto/koretto/container"
	"github.com/koretto/koretto/pubsub"
	"github.com/koretto/koretto/stream"
	"github.com/koretto/koretto/transport"
)

// frame is the outermost envelope carried over the websocket transport:
// a procedure name plus its raw JSON payload. The Format Selector handles
// everything inside Payload; this shape is the one thing the transport
// layer itself needs to know about.
type frame struct {
	Procedure string          `json:"procedure"`
	Payload   json.RawMessage `json:"payload"`
}

// connectionHandler bridges transport.Handler callbacks to the API
// Dispatcher, creating and disposing a Connection-tier container scope
// for the lifetime of each connection and aborting its streams and
// subscriptions on disconnect.
type connectionHandler struct {
	dispatcher *call.Dispatcher
	root       *container.Container
	pubsub     *pubsub.Manager
	streams    *stream.Registry

	mu    sync.Mutex
	conns map[string]*container.Container
}

func newConnectionHandler(dispatcher *call.Dispatcher, root *container.Container) *connectionHandler {
	return &connectionHandler{
		dispatcher: dispatcher,
		root:       root,
		pubsub:     pubsub.New(),
		streams:    stream.New(),
		conns:      make(map[string]*container.Container),
	}
}

func (h *connectionHandler) OnConnect(conn transport.Conn) {
	scope, err := h.root.CreateScope(container.Connection)
	if err != nil {
		slog.Error("koretto-api: creating connection scope", "conn", conn.ID(), "error", err)
		conn.Close()
		return
	}
	h.mu.Lock()
	h.conns[conn.ID()] = scope
	h.mu.Unlock()
}

func (h *connectionHandler) OnMessage(conn transport.Conn, data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		slog.Warn("koretto-api: malformed frame", "conn", conn.ID(), "error", err)
		return
	}

	h.mu.Lock()
	scope, ok := h.conns[conn.ID()]
	h.mu.Unlock()
	if !ok {
		return
	}

	out, err := h.dispatcher.Dispatch(context.Background(), scope, conn.ID(), f.Procedure, "application/json", f.Payload)
	if err != nil {
		slog.Warn("koretto-api: dispatch failed", "conn", conn.ID(), "procedure", f.Procedure, "error", err)
		return
	}
	if sendErr := conn.Send(out); sendErr != nil {
		slog.Warn("koretto-api: send failed", "conn", conn.ID(), "error", sendErr)
	}
}

func (h *connectionHandler) OnDisconnect(conn transport.Conn) {
	h.mu.Lock()
	scope, ok := h.conns[conn.ID()]
	delete(h.conns, conn.ID())
	h.mu.Unlock()

	h.streams.AbortConnection(conn.ID())
	h.pubsub.RemoveConnection(conn.ID())

	if ok {
		if err := scope.Dispose(context.Background()); err != nil {
			slog.Error("koretto-api: disposing connection scope", "conn", conn.ID(), "error", err)
		}
	}
}
