// Package stream implements the Stream Registry from spec.md §4.7:
// per-connection upstream/downstream stream bookkeeping with monotonic
// per-direction IDs, credit-based flow control, and abort-on-disconnect.
//
// Grounded on the teacher's graph.go adjacency-list bookkeeping (per-node
// identity plus fast neighbor lookup), adapted here to per-connection
// stream maps, and on the DownstreamHandle/DownstreamSender pattern from
// the corpus's gravitational-teleport inventory code (a registry entry
// with an abort path tied to connection teardown).
package stream

import (
	"sync"
	"sync/atomic"

	"github.com/koretto/koretto/korerr"
)

// Direction distinguishes a stream flowing from the client to the server
// (Upstream) from one flowing server to client (Downstream); IDs are
// assigned independently per direction per connection (spec.md §4.7).
type Direction int

const (
	Upstream Direction = iota
	Downstream
)

// Stream is one open, credit-flow-controlled channel within a connection.
type Stream struct {
	ID           uint64
	ConnectionID string
	Direction    Direction

	credits atomic.Int64
	aborted atomic.Bool
}

// AddCredit grants n additional credits to the stream (spec.md §4.7
// "credit-based flow control").
func (s *Stream) AddCredit(n int64) {
	s.credits.Add(n)
}

// TryConsume attempts to spend n credits, succeeding only if enough are
// available and the stream hasn't been aborted.
func (s *Stream) TryConsume(n int64) (bool, error) {
	if s.aborted.Load() {
		return false, korerr.New(korerr.StreamAborted, "stream aborted")
	}
	for {
		cur := s.credits.Load()
		if cur < n {
			return false, nil
		}
		if s.credits.CompareAndSwap(cur, cur-n) {
			return true, nil
		}
	}
}

// Credits returns the currently available credit balance.
func (s *Stream) Credits() int64 { return s.credits.Load() }

// Aborted reports whether the stream has been aborted.
func (s *Stream) Aborted() bool { return s.aborted.Load() }

type connStreams struct {
	nextUpstreamID   atomic.Uint64
	nextDownstreamID atomic.Uint64
	upstream         map[uint64]*Stream
	downstream       map[uint64]*Stream
}

// Registry tracks open streams per connection.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*connStreams
}

// New creates an empty stream registry.
func New() *Registry {
	return &Registry{conns: make(map[string]*connStreams)}
}

func (r *Registry) connFor(connectionID string) *connStreams {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs, ok := r.conns[connectionID]
	if !ok {
		cs = &connStreams{
			upstream:   make(map[uint64]*Stream),
			downstream: make(map[uint64]*Stream),
		}
		r.conns[connectionID] = cs
	}
	return cs
}

// Open creates a new stream for connectionID in the given direction,
// assigning it the next monotonic ID for that (connection, direction)
// pair.
func (r *Registry) Open(connectionID string, dir Direction) *Stream {
	cs := r.connFor(connectionID)
	var id uint64
	if dir == Upstream {
		id = cs.nextUpstreamID.Add(1)
	} else {
		id = cs.nextDownstreamID.Add(1)
	}
	s := &Stream{ID: id, ConnectionID: connectionID, Direction: dir}

	r.mu.Lock()
	if dir == Upstream {
		cs.upstream[id] = s
	} else {
		cs.downstream[id] = s
	}
	r.mu.Unlock()
	return s
}

// Get looks up a stream by connection, direction, and ID.
func (r *Registry) Get(connectionID string, dir Direction, id uint64) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cs, ok := r.conns[connectionID]
	if !ok {
		return nil, false
	}
	if dir == Upstream {
		s, ok := cs.upstream[id]
		return s, ok
	}
	s, ok := cs.downstream[id]
	return s, ok
}

// Close removes one stream without marking it aborted (a clean, expected
// end-of-stream).
func (r *Registry) Close(connectionID string, dir Direction, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs, ok := r.conns[connectionID]
	if !ok {
		return
	}
	if dir == Upstream {
		delete(cs.upstream, id)
	} else {
		delete(cs.downstream, id)
	}
}

// AbortConnection marks every stream belonging to connectionID as aborted
// and removes the connection's bookkeeping (spec.md §4.7: disconnect
// aborts every still-open stream rather than leaving it half-open).
func (r *Registry) AbortConnection(connectionID string) {
	r.mu.Lock()
	cs, ok := r.conns[connectionID]
	delete(r.conns, connectionID)
	r.mu.Unlock()
	if !ok {
		return
	}
	for _, s := range cs.upstream {
		s.aborted.Store(true)
	}
	for _, s := range cs.downstream {
		s.aborted.Store(true)
	}
}
