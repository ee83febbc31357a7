// Package pubsub fans shim signals out to in-process listeners: log
// entries for the harness transcript and captured dock-sink invocations.
// Brokers never block a publisher; the replay variant hands the retained
// latest event to late subscribers, mirroring how the dock replay cache
// treats a freshly-ready page.
package pubsub

import (
	"context"
	"time"
)

// EventType identifies which shim signal an event carries.
type EventType string

const (
	// EventLogEntry is a structured log entry from internal/log.
	EventLogEntry EventType = "log_entry"
	// EventSinkCall is one JS invocation captured from the dock
	// executor bridge.
	EventSinkCall EventType = "sink_call"
	// EventPipeState is a connect/disconnect transition of the channel
	// pair.
	EventPipeState EventType = "pipe_state"
)

// Event is a published shim signal with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// SinkCall is the payload of an EventSinkCall: the dock bridge method
// that was invoked and the full JS text handed to the page.
type SinkCall struct {
	Method string
	JS     string
}

// PipeState is the payload of an EventPipeState.
type PipeState struct {
	Connected bool
	Reason    string
}

// Subscriber provides a subscription channel for events.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher allows publishing events with a typed payload.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}
