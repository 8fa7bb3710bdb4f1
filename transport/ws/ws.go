// Package ws is the reference transport.Transport implementation, backed
// by github.com/gorilla/websocket (the transport library the corpus's
// RPC-shaped repos reach for — also the teacher's one indirect
// dependency's neighbor in several of the pack's manifests).
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/koretto/koretto/transport"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Conn wraps one upgraded websocket connection.
type conn struct {
	id string
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) ID() string { return c.id }

func (c *conn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

func (c *conn) Close() error {
	return c.ws.Close()
}

var _ transport.Conn = (*conn)(nil)

// Transport serves a Handler over websocket connections at one HTTP path.
type Transport struct {
	Path   string
	Logger *slog.Logger

	nextID atomic32
}

// atomic32 is a tiny connection-ID counter guarded by a sync.Mutex.
type atomic32 struct {
	mu sync.Mutex
	n  uint64
}

func (a *atomic32) next() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.n++
	return a.n
}

// New builds a websocket Transport serving at path (default "/").
func New(path string) *Transport {
	if path == "" {
		path = "/"
	}
	return &Transport{Path: path, Logger: slog.Default()}
}

// Serve starts an HTTP server upgrading every request on Path to a
// websocket connection and drives h for its lifetime.
func (t *Transport) Serve(ctx context.Context, addr string, h transport.Handler) error {
	mux := http.NewServeMux()
	mux.HandleFunc(t.Path, func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logger.Error("ws: upgrade failed", "error", err)
			return
		}
		c := &conn{id: connID(t.nextID.next()), ws: wsConn}
		h.OnConnect(c)

		for {
			kind, data, err := wsConn.ReadMessage()
			if err != nil {
				break
			}
			if kind != websocket.BinaryMessage && kind != websocket.TextMessage {
				continue
			}
			h.OnMessage(c, data)
		}
		h.OnDisconnect(c)
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func connID(n uint64) string {
	const hex = "0123456789abcdef"
	if n == 0 {
		return "0"
	}
	buf := make([]byte, 0, 16)
	for n > 0 {
		buf = append([]byte{hex[n%16]}, buf...)
		n /= 16
	}
	return "conn-" + string(buf)
}
