package dispatch

import "fmt"

// ErrorKind partitions turn failures. Every suspension point in the turn loop
// resolves to a success value or one of these; nothing fails silently.
type ErrorKind string

const (
	// ErrClassification means the classifier could not score the utterance.
	// The turn falls back to the chat route.
	ErrClassification ErrorKind = "classification_failure"

	// ErrAdapterUnreachable means a node adapter call failed at the
	// transport. The turn is aborted and the session stays Listening.
	ErrAdapterUnreachable ErrorKind = "adapter_unreachable"

	// ErrTaskTimeout means a reasoning task did not reach a terminal status
	// within the configured deadline.
	ErrTaskTimeout ErrorKind = "task_timeout"

	// ErrMemoryWrite means an episodic persist failed. Logged and dropped,
	// never blocks the turn.
	ErrMemoryWrite ErrorKind = "memory_write_failure"

	// ErrStateInvariant means a contract the dispatcher relies on was
	// broken, such as a second concurrent task. The session is forcibly
	// reset to Listening.
	ErrStateInvariant ErrorKind = "state_invariant_violation"
)

// TurnError is a typed turn-boundary failure. Notice is the human-readable
// fragment surfaced in-band to the user; Err is the underlying cause.
type TurnError struct {
	Kind   ErrorKind
	Notice string
	Err    error
}

func (e *TurnError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *TurnError) Unwrap() error {
	return e.Err
}

func turnErr(kind ErrorKind, notice string, err error) *TurnError {
	return &TurnError{Kind: kind, Notice: notice, Err: err}
}
