// Package eventbus implements the §6 "Event bus": topical events the
// orchestrator emits as it drives a run (run.started, run.progress,
// run.completed, run.failed, intervention.created, intervention.resolved)
// plus the supplemented circuit-breaker telemetry
// (session.circuit_opened/closed). The bus is advisory, not authoritative
// — Publish never blocks a run loop on a slow or absent subscriber,
// matching the donor's WebSocketManager register/unregister/broadcast
// channel pattern (internal/websocket/websocket.go), minus the campaign
// subscription filtering this domain doesn't need.
package eventbus

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Topic names the closed set of event types §6 enumerates.
type Topic string

const (
	TopicRunStarted          Topic = "run.started"
	TopicRunProgress         Topic = "run.progress"
	TopicRunCompleted        Topic = "run.completed"
	TopicRunFailed           Topic = "run.failed"
	TopicInterventionCreated Topic = "intervention.created"
	TopicInterventionResolved Topic = "intervention.resolved"
	TopicSessionCircuitOpened Topic = "session.circuit_opened"
	TopicSessionCircuitClosed Topic = "session.circuit_closed"
)

// Event is the small JSON object every topic carries: a type,
// identifiers, a timestamp, and kind-specific fields in Data.
type Event struct {
	Type      Topic          `json:"type"`
	JobID     uuid.UUID      `json:"job_id,omitempty"`
	RunID     uuid.UUID      `json:"run_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus fans events out to whichever subscribers are currently listening.
// Consumers are free to drop events (§6): a subscriber whose channel is
// full has the event silently skipped rather than blocking the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

// New builds an empty Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[chan Event]struct{})}
}

// Subscribe registers a new listener with the given channel buffer;
// callers must call the returned unsubscribe func when done.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subscribers[ch]; ok {
			delete(b.subscribers, ch)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// Publish stamps the event's timestamp and fans it out to every current
// subscriber without blocking on any of them.
func (b *Bus) Publish(e Event) {
	e.Timestamp = time.Now().UTC()
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
}

// Marshal renders an Event as a single JSON line, for consumers (e.g. the
// websocket fan-out below) that need bytes rather than the struct.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
