// Package memory implements the three-tier memory stack: the in-process turn
// window, the durable episodic store and the durable fact sheet.
package memory

import (
	"time"

	"sovereign/internal/logging"
)

// Speaker identifies who produced an utterance.
type Speaker string

const (
	SpeakerUser   Speaker = "user"
	SpeakerSystem Speaker = "system"
)

// Route is the classification label attached to an utterance.
type Route string

const (
	RouteChat   Route = "chat"
	RouteAction Route = "action"
)

// Utterance is an immutable record of one turn. Never mutated after creation;
// evicted from the window oldest-first once capacity is exceeded.
type Utterance struct {
	Speaker     Speaker
	Text        string
	Timestamp   time.Time
	Route       Route
	Interrupted bool // true when the utterance was cut off mid-stream
}

// estimateTokens is a rough count, runes / 4. Good enough for budgeting.
func estimateTokens(s string) int {
	n := len([]rune(s)) / 4
	if n == 0 && s != "" {
		n = 1
	}
	return n
}

// TurnWindow is the working memory tier: a bounded ordered sequence of
// utterances. Append-only; eviction on overflow by turn count or estimated
// token budget, oldest first.
type TurnWindow struct {
	turns       []Utterance
	maxTurns    int
	tokenBudget int
}

// NewTurnWindow creates a window bounded by turn count and token budget.
// A tokenBudget of zero disables the token bound.
func NewTurnWindow(maxTurns, tokenBudget int) *TurnWindow {
	if maxTurns <= 0 {
		maxTurns = 16
	}
	return &TurnWindow{
		turns:       make([]Utterance, 0, maxTurns),
		maxTurns:    maxTurns,
		tokenBudget: tokenBudget,
	}
}

// Append adds an utterance and evicts from the front until bounds hold.
func (w *TurnWindow) Append(u Utterance) {
	w.turns = append(w.turns, u)
	for len(w.turns) > w.maxTurns {
		w.turns = w.turns[1:]
	}
	if w.tokenBudget > 0 {
		for len(w.turns) > 1 && w.totalTokens() > w.tokenBudget {
			w.turns = w.turns[1:]
		}
	}
	logging.MemoryDebug("window append (%s, %d turns held)", u.Speaker, len(w.turns))
}

func (w *TurnWindow) totalTokens() int {
	total := 0
	for _, u := range w.turns {
		total += estimateTokens(u.Text)
	}
	return total
}

// Turns returns a copy of the current window, oldest first.
func (w *TurnWindow) Turns() []Utterance {
	out := make([]Utterance, len(w.turns))
	copy(out, w.turns)
	return out
}

// Len returns the number of utterances held.
func (w *TurnWindow) Len() int {
	return len(w.turns)
}

// Last returns the most recent utterance, or false when empty.
func (w *TurnWindow) Last() (Utterance, bool) {
	if len(w.turns) == 0 {
		return Utterance{}, false
	}
	return w.turns[len(w.turns)-1], true
}

// Truncate drops utterances from the end until n remain. Used for turn
// rollback after a failed turn; the window is otherwise append-only.
func (w *TurnWindow) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	if n < len(w.turns) {
		w.turns = w.turns[:n]
	}
}
