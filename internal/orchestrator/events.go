package orchestrator

import (
	"context"

	"github.com/leanscribe/internal/accounting"
)

// EventType identifies what a consumer should do with a message.
type EventType string

const (
	// EventAdd creates the message from the first chunk.
	EventAdd EventType = "add"
	// EventUpdate carries the cumulative text after a later chunk.
	EventUpdate EventType = "update"
	// EventReplace carries the final text and its accounting.
	EventReplace EventType = "replace"
)

// Event is one progress notification for a message.
type Event struct {
	Type      EventType                `json:"type"`
	MessageID string                   `json:"message_id"`
	Model     string                   `json:"model"`
	Text      string                   `json:"text"`
	Report    *accounting.OutputReport `json:"report,omitempty"`
	LogRef    string                   `json:"log_ref,omitempty"`
	Error     string                   `json:"error,omitempty"`
}

// Sink receives the events of a run in order.
type Sink interface {
	EmitEvent(ctx context.Context, event *Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event *Event) error

// EmitEvent calls f.
func (f SinkFunc) EmitEvent(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// Discard is a Sink that drops every event.
var Discard Sink = SinkFunc(func(context.Context, *Event) error { return nil })
