// Package pubsub implements the Subscription Manager from spec.md §4.6:
// channel → subscriber fan-out with best-effort delivery (a message a slow
// or full subscriber rejects is dropped for that subscriber and counted;
// the subscription itself stays) and atomic removal of every subscription
// on disconnect.
//
// Grounded on the teacher's sync.Map-backed flat caches (scope.go) for the
// concurrent channel/subscriber bookkeeping, generalized from a
// provider-cache into a pub/sub registry.
package pubsub

import (
	"sync"
	"sync/atomic"
)

// Message is one published event.
type Message struct {
	Channel string
	Payload any
}

// Subscriber receives published messages. Send must not block
// indefinitely; implementations typically write to a small buffered
// channel and return an error when it is full (detected with a
// non-blocking select), which the Manager treats as a drop.
type Subscriber interface {
	ID() string
	Send(msg Message) error
}

// Filter decides whether a subscription should receive a given published
// payload (spec.md §3 "optional per-subscription filter"; §4.6 "evaluates
// the filter if present"). A nil Filter matches everything.
type Filter func(payload any) bool

type subscription struct {
	sub    Subscriber
	filter Filter
}

func (s subscription) matches(payload any) bool {
	return s.filter == nil || s.filter(payload)
}

// Manager fans out published messages to subscribers of a channel.
type Manager struct {
	mu      sync.RWMutex
	byChan  map[string]map[string]subscription
	byConn  map[string]map[string]struct{} // subscriberID -> set of channels, for O(1) disconnect cleanup
	dropped atomic.Int64
}

// New creates an empty subscription manager.
func New() *Manager {
	return &Manager{
		byChan: make(map[string]map[string]subscription),
		byConn: make(map[string]map[string]struct{}),
	}
}

// Subscribe registers sub to receive messages published on channel. filter
// may be nil, in which case every published message is delivered.
func (m *Manager) Subscribe(channel string, sub Subscriber, filter Filter) {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs, ok := m.byChan[channel]
	if !ok {
		subs = make(map[string]subscription)
		m.byChan[channel] = subs
	}
	subs[sub.ID()] = subscription{sub: sub, filter: filter}

	channels, ok := m.byConn[sub.ID()]
	if !ok {
		channels = make(map[string]struct{})
		m.byConn[sub.ID()] = channels
	}
	channels[channel] = struct{}{}
}

// Unsubscribe removes one subscriber from one channel.
func (m *Manager) Unsubscribe(channel, subscriberID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(channel, subscriberID)
}

// RemoveConnection atomically removes subscriberID from every channel it
// is subscribed to (spec.md §4.6: disconnect must not leave a window where
// a publish can still observe the closed connection).
func (m *Manager) RemoveConnection(subscriberID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for channel := range m.byConn[subscriberID] {
		m.removeLocked(channel, subscriberID)
	}
	delete(m.byConn, subscriberID)
}

func (m *Manager) removeLocked(channel, subscriberID string) {
	if subs, ok := m.byChan[channel]; ok {
		delete(subs, subscriberID)
		if len(subs) == 0 {
			delete(m.byChan, channel)
		}
	}
	if channels, ok := m.byConn[subscriberID]; ok {
		delete(channels, channel)
	}
}

// Publish delivers payload to every current subscriber of channel whose
// filter (if any) matches it, best-effort: a Send failure drops that
// subscriber's copy of the message and increments the drop counter, but
// never aborts delivery to the rest.
func (m *Manager) Publish(channel string, payload any) (delivered, droppedNow int) {
	m.mu.RLock()
	subs := make([]subscription, 0, len(m.byChan[channel]))
	for _, s := range m.byChan[channel] {
		subs = append(subs, s)
	}
	m.mu.RUnlock()

	msg := Message{Channel: channel, Payload: payload}
	for _, s := range subs {
		if !s.matches(payload) {
			continue
		}
		if err := s.sub.Send(msg); err != nil {
			m.dropped.Add(1)
			droppedNow++
			continue
		}
		delivered++
	}
	return delivered, droppedNow
}

// Dropped returns the cumulative count of messages dropped due to a
// subscriber rejecting delivery.
func (m *Manager) Dropped() int64 {
	return m.dropped.Load()
}

// SubscriberCount returns how many subscribers a channel currently has.
func (m *Manager) SubscriberCount(channel string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byChan[channel])
}
