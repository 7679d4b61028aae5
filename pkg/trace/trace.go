// Package trace implements the per-transaction/per-statement trace events
// gated by config.TraceExternalLog (spec §6). Grounded on an events
// package's in-memory, non-blocking pub/sub broadcast shape, retargeted
// from cluster lifecycle events (service/task/node/secret/volume) to the
// engine's own execution lifecycle (transaction, statement, task,
// durability, exchange).
package trace

import (
	"sync"
	"time"
)

// EventType is the closed set of trace points this engine emits when
// trace_external_log is enabled.
type EventType string

const (
	EventTxBegin            EventType = "tx.begin"
	EventTxCommit           EventType = "tx.commit"
	EventTxAbort            EventType = "tx.abort"
	EventStatementStart     EventType = "statement.start"
	EventStatementEnd       EventType = "statement.end"
	EventTaskScheduled      EventType = "task.scheduled"
	EventTaskCompleted      EventType = "task.completed"
	EventDurabilityWait     EventType = "durability.wait"
	EventDurabilityResolved EventType = "durability.resolved"
	EventExchangeFlush      EventType = "exchange.flush"
)

// Event is one trace point, carrying enough identity (job/tx/step/task ids
// via Metadata) for an external log consumer to reconstruct a request's
// timeline.
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// Subscriber is a channel that receives trace events.
type Subscriber chan *Event

// Broker distributes trace events to every current subscriber. Publish
// returns before any channel send when Enabled is false, so the hot path
// of an engine running with trace_external_log off pays only one
// read-locked bool check.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]bool
	eventCh     chan *Event
	stopCh      chan struct{}

	enabled bool
}

// NewBroker creates a trace event broker. enabled mirrors
// config.Config.TraceExternalLog.
func NewBroker(enabled bool) *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 256),
		stopCh:      make(chan struct{}),
		enabled:     enabled,
	}
}

// Start begins the broker's event distribution loop.
func (b *Broker) Start() { go b.run() }

// Stop stops the broker.
func (b *Broker) Stop() { close(b.stopCh) }

// Enabled reports whether Publish does any work.
func (b *Broker) Enabled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.enabled
}

// Subscribe creates a new subscription and returns its channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := make(Subscriber, 64)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish enqueues event for distribution, stamping its timestamp if
// unset. A disabled broker drops the event immediately.
func (b *Broker) Publish(event *Event) {
	if !b.Enabled() {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full: drop rather than block the publisher.
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
