// Package intent routes incoming utterances: conversational text stays on the
// low-latency chat path, action-triggering text opens a reasoning task. The
// classifier is a pure lexical scorer so it runs well inside the per-turn
// latency budget and is independently testable.
package intent

import (
	"strings"

	"sovereign/internal/logging"
	"sovereign/internal/memory"
)

// DefaultChatThreshold routes to chat when action confidence falls below it.
// Chat is the safer, lower-latency route, so ties and weak signals go there.
const DefaultChatThreshold = 0.5

// actionVerbs are imperative verbs that usually open a tool-using task.
var actionVerbs = map[string]bool{
	"scan": true, "run": true, "execute": true, "install": true,
	"restart": true, "stop": true, "start": true, "kill": true,
	"search": true, "find": true, "download": true, "fetch": true,
	"fix": true, "repair": true, "update": true, "upgrade": true,
	"deploy": true, "build": true, "compile": true, "report": true,
	"check": true, "audit": true, "list": true, "show": true,
	"open": true, "read": true, "write": true, "create": true,
	"analyze": true, "monitor": true, "backup": true, "clean": true,
}

// actionNouns are objects that suggest the machine, not the conversation.
var actionNouns = map[string]bool{
	"network": true, "port": true, "ports": true, "file": true,
	"files": true, "disk": true, "process": true, "processes": true,
	"service": true, "services": true, "log": true, "logs": true,
	"cpu": true, "gpu": true, "memory": true, "ram": true,
	"server": true, "database": true, "container": true, "package": true,
}

// questionWords open conversational turns, not commands.
var questionWords = map[string]bool{
	"what": true, "whats": true, "who": true, "whos": true,
	"why": true, "how": true, "when": true, "where": true,
	"is": true, "are": true, "do": true, "does": true,
	"did": true, "can": true, "could": true, "would": true,
}

// followUps are short affirmations that inherit the pending action context.
var followUps = map[string]bool{
	"do it": true, "go ahead": true, "yes do that": true,
	"yes please": true, "sure do it": true, "proceed": true,
}

// Classifier scores utterances against a configured chat threshold.
type Classifier struct {
	threshold float64
}

// New creates a classifier. A non-positive threshold falls back to the
// default.
func New(threshold float64) *Classifier {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultChatThreshold
	}
	return &Classifier{threshold: threshold}
}

// Threshold returns the configured chat threshold.
func (c *Classifier) Threshold() float64 {
	return c.threshold
}

// Classify returns the route for the utterance and the confidence for that
// route. Pure function of its inputs: no hidden state, no I/O.
func (c *Classifier) Classify(text string, window []memory.Utterance) (memory.Route, float64) {
	score := ActionScore(text, window)
	if score >= c.threshold {
		logging.IntentDebug("route=action confidence=%.2f", score)
		return memory.RouteAction, score
	}
	logging.IntentDebug("route=chat confidence=%.2f", 1-score)
	return memory.RouteChat, 1 - score
}

// ActionScore computes how action-like an utterance is, in [0, 1].
func ActionScore(text string, window []memory.Utterance) float64 {
	normalized := normalize(text)
	if normalized == "" {
		return 0
	}

	// Short affirmations inherit action intent from a recent action turn.
	if followUps[normalized] && recentActionTurn(window) {
		return 0.9
	}

	tokens := strings.Fields(normalized)
	score := 0.2

	if actionVerbs[tokens[0]] {
		score += 0.35
	}
	if questionWords[tokens[0]] {
		score -= 0.35
	}
	if strings.HasSuffix(strings.TrimSpace(text), "?") {
		score -= 0.2
	}

	verbs, nouns := 0, 0
	for _, tok := range tokens[1:] {
		if actionVerbs[tok] {
			verbs++
		}
		if actionNouns[tok] {
			nouns++
		}
	}
	if verbs > 2 {
		verbs = 2
	}
	if nouns > 2 {
		nouns = 2
	}
	score += float64(verbs)*0.15 + float64(nouns)*0.1

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// recentActionTurn reports whether any of the last few utterances were
// routed to action.
func recentActionTurn(window []memory.Utterance) bool {
	start := len(window) - 4
	if start < 0 {
		start = 0
	}
	for _, u := range window[start:] {
		if u.Route == memory.RouteAction {
			return true
		}
	}
	return false
}

func normalize(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	var b strings.Builder
	for _, r := range text {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ':
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
