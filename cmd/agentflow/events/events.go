// Package events carries the typed event feed of a running execution
// from the scheduler to its subscribers: the SSE streaming endpoint,
// WebSocket watchers, and an optional Redis relay.
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// Kind names one of the five event types an execution emits.
type Kind string

const (
	KindExecutionStarted  Kind = "execution_started"
	KindNodeStart         Kind = "node_start"
	KindNodeComplete      Kind = "node_complete"
	KindExecutionComplete Kind = "execution_complete"
	KindError             Kind = "error"
)

// Event is one emission from a running execution. ExecutionID routes it
// to subscribers; Data is the wire payload for the kind.
type Event struct {
	ExecutionID uuid.UUID              `json:"-"`
	Kind        Kind                   `json:"event"`
	Data        map[string]interface{} `json:"data"`
}

// ExecutionStarted announces that an execution entered running.
func ExecutionStarted(executionID uuid.UUID, threadID string) *Event {
	return &Event{
		ExecutionID: executionID,
		Kind:        KindExecutionStarted,
		Data: map[string]interface{}{
			"execution_id": executionID.String(),
			"thread_id":    threadID,
		},
	}
}

// NodeStart announces that a node's step opened.
func NodeStart(executionID uuid.UUID, nodeID string) *Event {
	return &Event{
		ExecutionID: executionID,
		Kind:        KindNodeStart,
		Data:        map[string]interface{}{"node_id": nodeID},
	}
}

// NodeComplete carries a completed node's partial output.
func NodeComplete(executionID uuid.UUID, nodeID string, output interface{}) *Event {
	return &Event{
		ExecutionID: executionID,
		Kind:        KindNodeComplete,
		Data: map[string]interface{}{
			"node_id": nodeID,
			"output":  output,
		},
	}
}

// ExecutionComplete carries the final output of a successful run.
func ExecutionComplete(executionID uuid.UUID, output interface{}) *Event {
	return &Event{
		ExecutionID: executionID,
		Kind:        KindExecutionComplete,
		Data: map[string]interface{}{
			"execution_id": executionID.String(),
			"output":       output,
		},
	}
}

// Error announces a failed run.
func Error(executionID uuid.UUID, message string) *Event {
	return &Event{
		ExecutionID: executionID,
		Kind:        KindError,
		Data: map[string]interface{}{
			"execution_id": executionID.String(),
			"error":        message,
		},
	}
}

// Final reports whether this event terminates the stream. Cancelled
// runs end without a final event.
func (e *Event) Final() bool {
	return e.Kind == KindExecutionComplete || e.Kind == KindError
}

// SSE renders the event as one Server-Sent-Events frame:
// "event: <kind>\ndata: <json>\n\n".
func (e *Event) SSE() []byte {
	var b bytes.Buffer
	b.WriteString("event: ")
	b.WriteString(string(e.Kind))
	b.WriteString("\ndata: ")
	b.Write(marshalData(e.Data))
	b.WriteString("\n\n")
	return b.Bytes()
}

// Frame renders the event as a single JSON object for WebSocket and
// Redis subscribers: {"event": <kind>, "data": {...}}.
func (e *Event) Frame() []byte {
	frame, err := json.Marshal(e)
	if err != nil {
		return []byte(`{"event":"` + string(e.Kind) + `","data":{}}`)
	}
	return frame
}

func marshalData(data map[string]interface{}) []byte {
	payload, err := json.Marshal(data)
	if err != nil {
		return []byte("{}")
	}
	return payload
}

// Emitter receives execution events as they happen. Implementations
// must not block the scheduler.
type Emitter interface {
	Emit(ctx context.Context, ev *Event)
}

// Discard drops every event. Synchronous runs with no subscribers use it.
var Discard Emitter = discard{}

type discard struct{}

func (discard) Emit(context.Context, *Event) {}

// Multi fans one emission out to several emitters in order.
type Multi []Emitter

// Emit implements Emitter.
func (m Multi) Emit(ctx context.Context, ev *Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(ctx, ev)
		}
	}
}

// streamBuffer bounds how far a subscriber may lag before emissions
// are dropped.
const streamBuffer = 256

// Stream is a single-subscriber channel of events in emission order.
// The channel closes itself after a final event; cancelled runs emit no
// final event, so their owner calls Close once the run returns.
type Stream struct {
	ch chan *Event

	mu     sync.Mutex
	closed bool
}

// NewStream returns a buffered stream ready to subscribe.
func NewStream() *Stream {
	return &Stream{ch: make(chan *Event, streamBuffer)}
}

// Events returns the receive side of the stream.
func (s *Stream) Events() <-chan *Event { return s.ch }

// Emit implements Emitter. When the subscriber stops draining, events
// are dropped rather than blocking the scheduler.
func (s *Stream) Emit(_ context.Context, ev *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
	}
	if ev.Final() {
		s.closed = true
		close(s.ch)
	}
}

// Close ends the stream early. Safe to call after the stream already
// closed itself.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
