// Package transport declares the boundary between a wire-level connection
// and the rest of koretto (dispatch, pub/sub, streams). Concrete
// transports (package transport/ws) implement Transport; the dispatch
// side only ever depends on this interface.
package transport

import "context"

// Conn is one live client connection, transport-agnostic.
type Conn interface {
	ID() string
	Send(data []byte) error
	Close() error
}

// Handler reacts to connection lifecycle and inbound frames. A
// transport calls these methods; it never interprets frame contents
// itself (that's the Format Selector's and the Dispatcher's job).
type Handler interface {
	OnConnect(conn Conn)
	OnMessage(conn Conn, data []byte)
	OnDisconnect(conn Conn)
}

// Transport accepts connections and drives a Handler for their lifetime
// until ctx is cancelled.
type Transport interface {
	Serve(ctx context.Context, addr string, h Handler) error
}
