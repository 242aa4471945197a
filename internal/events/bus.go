// Package events provides a publish/subscribe event bus carrying
// operational events about the client's connection lifecycle —
// status changes, recovery attempts, slowing detection — to any
// subscriber (diagnostics CLI, dashboards) without coupling the core
// packages to a specific consumer. The bus is nil-safe: calling
// Publish on a nil *Bus is a no-op, so components do not need guard
// checks.
package events

import (
	"sync"
	"time"
)

// Source identifies which layer of the client published the event.
const (
	// SourceSession identifies events from the server/stream session
	// state machines (§4.7/§4.8).
	SourceSession = "session"
	// SourceSubscription identifies events from the subscription engine
	// (§4.9).
	SourceSubscription = "subscription"
	// SourceMessage identifies events from the message manager (§4.10).
	SourceMessage = "message"
)

// Kind describes the type of event within a source.
const (
	// KindStatusChange signals a §6.3 client-status taxonomy
	// transition. Data: status, previous_status.
	KindStatusChange = "status_change"
	// KindReconnect signals a rebind/recreate attempt after a LOOP or
	// transport loss. Data: session_id, reason.
	KindReconnect = "reconnect"
	// KindRecoveryAttempt signals a recovery bind attempt (§4.8).
	// Data: data_notification_count, elapsed_ms.
	KindRecoveryAttempt = "recovery_attempt"
	// KindRecoveryFailed signals a recovery bind was rejected or timed
	// out and the client is falling back to a fresh session.
	KindRecoveryFailed = "recovery_failed"
	// KindSlowing signals the slowing detector (§4.7) judged the
	// current transport too slow. The client does not switch transport
	// in response. Data: mean_delay_ms.
	KindSlowing = "slowing"
	// KindSubscriptionStateChange signals a subscription's internal
	// state transition (§4.9). Data: subscription_id, state.
	KindSubscriptionStateChange = "subscription_state_change"
	// KindMessageOutcome signals a message manager outcome (§4.10).
	// Data: sequence, prog, outcome.
	KindMessageOutcome = "message_outcome"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs. This allows
	// Unsubscribe to accept <-chan Event (the caller's view) without
	// an illegal type conversion.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
