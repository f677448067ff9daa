package memory

import (
	"testing"
	"time"
)

func TestWindowEvictionOldestFirst(t *testing.T) {
	w := NewTurnWindow(3, 0)

	for _, text := range []string{"one", "two", "three", "four"} {
		w.Append(Utterance{Speaker: SpeakerUser, Text: text, Timestamp: time.Now()})
	}

	turns := w.Turns()
	if len(turns) != 3 {
		t.Fatalf("Expected 3 turns, got %d", len(turns))
	}
	if turns[0].Text != "two" {
		t.Errorf("Expected oldest turn 'two', got %q", turns[0].Text)
	}
	if turns[2].Text != "four" {
		t.Errorf("Expected newest turn 'four', got %q", turns[2].Text)
	}
}

func TestWindowTokenBudget(t *testing.T) {
	// Budget of 10 estimated tokens; each 40-rune text is ~10 tokens.
	w := NewTurnWindow(100, 10)
	long := make([]byte, 40)
	for i := range long {
		long[i] = 'a'
	}

	w.Append(Utterance{Speaker: SpeakerUser, Text: string(long)})
	w.Append(Utterance{Speaker: SpeakerUser, Text: string(long)})

	if w.Len() != 1 {
		t.Errorf("Expected token budget to evict down to 1 turn, got %d", w.Len())
	}
}

func TestWindowTruncate(t *testing.T) {
	w := NewTurnWindow(10, 0)
	w.Append(Utterance{Text: "a"})
	w.Append(Utterance{Text: "b"})
	w.Append(Utterance{Text: "c"})

	w.Truncate(1)
	if w.Len() != 1 {
		t.Fatalf("Expected 1 turn after truncate, got %d", w.Len())
	}
	if last, _ := w.Last(); last.Text != "a" {
		t.Errorf("Expected 'a' to survive truncate, got %q", last.Text)
	}
}

func TestWindowLastEmpty(t *testing.T) {
	w := NewTurnWindow(4, 0)
	if _, ok := w.Last(); ok {
		t.Error("Expected Last to report empty window")
	}
}
