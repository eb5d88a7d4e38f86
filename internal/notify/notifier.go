// Package notify decouples error notification from the retry/breaker
// core: producers publish onto a bounded channel and a single consumer
// goroutine logs each event and, when configured, republishes it to an
// NSQ topic for external consumers.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/umutsun/asemb/internal/asemberr"
)

// Event is one error notification.
type Event struct {
	Code     asemberr.Code     `json:"code"`
	Severity asemberr.Severity `json:"severity"`
	Message  string            `json:"message"`
	At       time.Time         `json:"at"`
}

// Producer is the slice of go-nsq's Producer the notifier needs.
type Producer interface {
	Publish(topic string, body []byte) error
}

const DefaultTopic = "asemb.errors"

// Notifier drains events to slog and an optional NSQ topic. Publishing
// never blocks the caller: when the queue is full the event is dropped
// and counted.
type Notifier struct {
	events   chan Event
	producer Producer
	topic    string
	dropped  atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

// New starts the notifier's consumer goroutine. producer may be nil, in
// which case events are only logged.
func New(buffer int, producer Producer, topic string) *Notifier {
	if buffer <= 0 {
		buffer = 256
	}
	if topic == "" {
		topic = DefaultTopic
	}
	n := &Notifier{
		events:   make(chan Event, buffer),
		producer: producer,
		topic:    topic,
		done:     make(chan struct{}),
	}
	go n.consume()
	return n
}

// Publish implements resilience.EventSink.
func (n *Notifier) Publish(_ context.Context, code asemberr.Code, severity asemberr.Severity, message string) {
	ev := Event{Code: code, Severity: severity, Message: message, At: time.Now().UTC()}
	select {
	case n.events <- ev:
	default:
		n.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded due to a full queue.
func (n *Notifier) Dropped() int64 {
	return n.dropped.Load()
}

// Close stops the consumer after draining queued events.
func (n *Notifier) Close() {
	n.closeOnce.Do(func() {
		close(n.events)
		<-n.done
	})
}

func (n *Notifier) consume() {
	defer close(n.done)
	for ev := range n.events {
		n.emit(ev)
	}
}

func (n *Notifier) emit(ev Event) {
	switch ev.Severity {
	case asemberr.SeverityCritical:
		slog.Error("dependency failure", "code", string(ev.Code), "message", ev.Message)
	case asemberr.SeverityWarning:
		slog.Warn("dependency degraded", "code", string(ev.Code), "message", ev.Message)
	default:
		slog.Error("operation failed", "code", string(ev.Code), "message", ev.Message)
	}

	if n.producer == nil {
		return
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := n.producer.Publish(n.topic, body); err != nil {
		slog.Warn("failed to publish error event", "topic", n.topic, "error", err)
	}
}
