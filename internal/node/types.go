// Package node contains the two transport adapters: a push-stream client for
// the interactive inference node and a request/response client for the
// reasoning node. The dispatcher depends only on the interfaces here, never
// on transport detail, and the two nodes are never given each other's
// addresses.
package node

import (
	"context"
	"time"
)

// EventKind discriminates interactive stream events.
type EventKind string

const (
	EventPartialText EventKind = "partial"
	EventFinalText   EventKind = "final"
	EventToolCall    EventKind = "tool_call"
)

// StreamEvent is one event from the interactive node's live output stream.
type StreamEvent struct {
	Kind       EventKind `json:"kind"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"-"`
}

// ContextUpdate is a system context push to the interactive node.
type ContextUpdate struct {
	Text string `json:"text"`
}

// TaskResult is the reasoning node's terminal response for one task.
// Status is "success" or "error"; errors carry a human-readable message,
// never a raw stack trace.
type TaskResult struct {
	Status string `json:"status"`
	Output string `json:"output"`
}

// Interactive is the push-stream adapter for the conversational node.
type Interactive interface {
	// Send pushes a system context update. May be called at any time.
	Send(ctx context.Context, update ContextUpdate) error

	// Interrupt cancels the node's current utterance mid-stream.
	Interrupt(ctx context.Context) error

	// Events returns the live output stream. The channel stays open until
	// ctx is cancelled; the adapter reconnects with backoff on transport
	// failures and preserves per-connection ordering.
	Events(ctx context.Context) <-chan StreamEvent
}

// Reasoning is the request/response adapter for the tool-using node.
type Reasoning interface {
	// Submit dispatches one task with its composed context and blocks until
	// the node's terminal response or ctx cancellation.
	Submit(ctx context.Context, taskID, input, taskContext string) (TaskResult, error)

	// Cancel requests cooperative cancellation of a running task.
	Cancel(ctx context.Context, taskID string) error
}
