package reflection

import (
	"fmt"

	"sovereign/internal/affect"
)

// Proposal is a maintenance task the dreamer suggests. It is surfaced to the
// user as conversation and never dispatched without an explicit request.
type Proposal struct {
	Emotion affect.Emotion
	Task    string
}

// dreamTasks maps the dominant emotion to a maintenance suggestion. The
// unsettled emotions push toward checking on the machine; the settled ones
// toward tidying memory.
var dreamTasks = map[affect.Emotion]string{
	affect.Anger:        "check system load and see what is running hot",
	affect.Fear:         "audit recent error logs for anything unresolved",
	affect.Sorrow:       "review old conversations for threads left hanging",
	affect.Disgust:      "clean up stale files and old logs",
	affect.Surprise:     "verify recent configuration changes took effect",
	affect.Anticipation: "prepare a summary of pending topics",
}

// Dream proposes a maintenance task from the current affect state. Calm
// states (joy or acceptance dominant, or everything faint) propose nothing.
func Dream(engine *affect.Engine) (Proposal, bool) {
	if engine == nil {
		return Proposal{}, false
	}
	emotion, intensity := engine.Dominant()
	if intensity < 10 {
		return Proposal{}, false
	}
	task, ok := dreamTasks[emotion]
	if !ok {
		return Proposal{}, false
	}
	return Proposal{Emotion: emotion, Task: task}, true
}

// Render phrases the proposal for the interactive node.
func (p Proposal) Render() string {
	return fmt.Sprintf("A thought surfaced while idle: it might be worth asking me to %s.", p.Task)
}
