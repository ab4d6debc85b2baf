// Package events carries turn lifecycle events from the intake and the
// conversation engine to observers such as the MQTT forwarder.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceConversation identifies events from the orchestrator and
	// run driver.
	SourceConversation = "conversation"
	// SourceSlack identifies events from the inbound Slack surfaces
	// (Events API endpoint and Socket Mode listener).
	SourceSlack = "slack"
)

// Kind constants describe the type of event within a source.
const (
	// KindMentionReceived signals an accepted app mention.
	// Data: channel, ts, thread_ts, transport.
	KindMentionReceived = "mention_received"

	// KindTurnStart signals the beginning of a conversation turn.
	// Data: conversation_key, channel.
	KindTurnStart = "turn_start"
	// KindThreadCreated signals a new AI thread bound to a chat thread.
	// Data: conversation_key, thread_id, seed_messages.
	KindThreadCreated = "thread_created"
	// KindRunCreated signals a run was started on a thread.
	// Data: conversation_key, thread_id, run_id.
	KindRunCreated = "run_created"
	// KindRunStatus signals a polled run status change.
	// Data: run_id, status.
	KindRunStatus = "run_status"
	// KindToolCall signals the start of a tool execution.
	// Data: run_id, tool_call_id, tool.
	KindToolCall = "tool_call"
	// KindToolDone signals completion of a tool execution.
	// Data: run_id, tool_call_id, tool, ok, duration_ms.
	KindToolDone = "tool_done"
	// KindTurnComplete signals a reply was produced.
	// Data: conversation_key, thread_id, run_id, segments, elapsed_ms.
	KindTurnComplete = "turn_complete"
	// KindAlreadyRunning signals a turn skipped because the thread had
	// an active run.
	// Data: conversation_key, thread_id, run_id, status.
	KindAlreadyRunning = "already_running"
	// KindTurnFailed signals a turn that ended with the apology.
	// Data: conversation_key, error, elapsed_ms.
	KindTurnFailed = "turn_failed"
)

// Event is one step of a turn as seen by observers.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// subscriber is one buffered delivery channel.
type subscriber struct {
	ch      chan Event
	dropped atomic.Uint64
}

// Bus fans events out to subscribers without ever blocking the
// publisher. A subscriber whose buffer is full misses the event and
// its drop count goes up.
type Bus struct {
	mu   sync.RWMutex
	subs map[<-chan Event]*subscriber
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[<-chan Event]*subscriber)}
}

// Publish delivers e to every subscriber with room for it. A nil Bus
// discards events, so components hold an optional *Bus without checks.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
		}
	}
}

// Emit publishes an event stamped with the current time.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// Subscribe registers a subscriber with a buffer of size buf. Release
// it with Unsubscribe.
func (b *Bus) Subscribe(buf int) <-chan Event {
	s := &subscriber{ch: make(chan Event, buf)}
	b.mu.Lock()
	b.subs[s.ch] = s
	b.mu.Unlock()
	return s.ch
}

// Unsubscribe closes ch and stops delivery to it. Unknown channels are
// ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(s.ch)
	}
}

// Dropped reports how many events ch missed because its buffer was
// full. It is zero for unknown channels.
func (b *Bus) Dropped(ch <-chan Event) uint64 {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if s, ok := b.subs[ch]; ok {
		return s.dropped.Load()
	}
	return 0
}

// Subscribers returns the number of registered subscribers.
func (b *Bus) Subscribers() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
