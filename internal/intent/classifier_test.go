package intent

import (
	"testing"
	"time"

	"sovereign/internal/memory"
)

func TestClassifyChat(t *testing.T) {
	c := New(DefaultChatThreshold)

	chatInputs := []string{
		"what's the weather",
		"how are you feeling today?",
		"tell me about your day",
		"why is the sky blue?",
		"",
	}
	for _, input := range chatInputs {
		route, conf := c.Classify(input, nil)
		if route != memory.RouteChat {
			t.Errorf("Classify(%q) = %s, want chat", input, route)
		}
		if conf < DefaultChatThreshold {
			t.Errorf("Classify(%q) chat confidence %v below threshold", input, conf)
		}
	}
}

func TestClassifyAction(t *testing.T) {
	c := New(DefaultChatThreshold)

	actionInputs := []string{
		"scan the local network and report open ports",
		"restart the nginx service",
		"check disk usage and clean old logs",
		"run a backup of the database",
	}
	for _, input := range actionInputs {
		route, conf := c.Classify(input, nil)
		if route != memory.RouteAction {
			t.Errorf("Classify(%q) = %s (conf %v), want action", input, route, conf)
		}
		if conf < DefaultChatThreshold {
			t.Errorf("Classify(%q) action confidence %v below threshold", input, conf)
		}
	}
}

func TestThresholdConstant(t *testing.T) {
	// The fallback-to-chat threshold is an explicit contract, not an
	// implementation accident.
	if DefaultChatThreshold != 0.5 {
		t.Errorf("DefaultChatThreshold = %v, want 0.5", DefaultChatThreshold)
	}
	c := New(0) // invalid threshold falls back
	if c.Threshold() != DefaultChatThreshold {
		t.Errorf("Expected fallback threshold, got %v", c.Threshold())
	}
}

func TestFollowUpInheritsActionContext(t *testing.T) {
	c := New(DefaultChatThreshold)

	window := []memory.Utterance{
		{Speaker: memory.SpeakerUser, Text: "scan the network", Route: memory.RouteAction, Timestamp: time.Now()},
		{Speaker: memory.SpeakerSystem, Text: "Shall I go ahead?", Route: memory.RouteChat, Timestamp: time.Now()},
	}

	route, conf := c.Classify("do it", window)
	if route != memory.RouteAction {
		t.Errorf("Expected follow-up to route to action, got %s (conf %v)", route, conf)
	}

	// Without an action turn in the window the same words stay chat.
	route, _ = c.Classify("do it", nil)
	if route != memory.RouteChat {
		t.Errorf("Expected bare 'do it' to stay chat, got %s", route)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	c := New(DefaultChatThreshold)
	input := "search the logs for errors"

	r1, c1 := c.Classify(input, nil)
	r2, c2 := c.Classify(input, nil)
	if r1 != r2 || c1 != c2 {
		t.Errorf("Classification not deterministic: (%s, %v) vs (%s, %v)", r1, c1, r2, c2)
	}
}

func TestActionScoreBounds(t *testing.T) {
	inputs := []string{
		"scan scan scan scan network ports disk files",
		"why why why why?",
		"???",
		"do it",
	}
	for _, input := range inputs {
		score := ActionScore(input, nil)
		if score < 0 || score > 1 {
			t.Errorf("ActionScore(%q) = %v out of [0,1]", input, score)
		}
	}
}
