package dispatch

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"sovereign/internal/logging"
	"sovereign/internal/memory"
)

// buildTaskContext composes the context payload for a reasoning task: persona,
// current mood, the fact sheet, episodic recall for the task input, and the
// recent turn window. Recall and the fact snapshot are independent reads, so
// they run in parallel. Either failing degrades the context, never the turn.
func (d *Dispatcher) buildTaskContext(ctx context.Context, input string) string {
	var (
		episodes []memory.Episode
		facts    map[string]string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if d.store == nil {
			return nil
		}
		var err error
		episodes, err = d.store.Recall(gctx, input, d.cfg.RecallTopK)
		if err != nil {
			logging.DispatchDebug("recall for task context failed: %v", err)
			episodes = nil
		}
		return nil
	})
	g.Go(func() error {
		if d.store == nil {
			return nil
		}
		var err error
		facts, err = d.store.FactSnapshot()
		if err != nil {
			logging.DispatchDebug("fact snapshot for task context failed: %v", err)
			facts = nil
		}
		return nil
	})
	g.Wait()

	var b strings.Builder
	if d.persona != nil {
		b.WriteString(d.persona.Text())
		b.WriteString("\n\n")
	}
	if d.engine != nil {
		b.WriteString(d.engine.Render())
		b.WriteString("\n")
	}

	if len(facts) > 0 {
		b.WriteString("\nKnown facts:\n")
		for _, f := range memory.SortedFacts(facts) {
			fmt.Fprintf(&b, "- %s: %s\n", f.Name, f.Value)
		}
	}

	if len(episodes) > 0 {
		b.WriteString("\nRelevant memories:\n")
		for _, ep := range episodes {
			fmt.Fprintf(&b, "- %s\n", ep.Content)
		}
	}

	turns := d.session.Window.Turns()
	if len(turns) > 0 {
		b.WriteString("\nRecent conversation:\n")
		for _, u := range turns {
			fmt.Fprintf(&b, "[%s] %s\n", u.Speaker, u.Text)
		}
	}
	return b.String()
}

// chatContext is the lightweight per-turn push to the interactive node:
// persona plus the refreshed mood fragment. The interactive node already has
// the live utterance; this keeps its replies mood-modulated.
func (d *Dispatcher) chatContext() string {
	var b strings.Builder
	if d.persona != nil {
		b.WriteString(d.persona.Text())
		b.WriteString("\n\n")
	}
	if d.engine != nil {
		b.WriteString(d.engine.Render())
	}
	return b.String()
}

// factContext renders the fact sheet for periodic re-injection.
func (d *Dispatcher) factContext() (string, error) {
	if d.store == nil {
		return "", nil
	}
	facts, err := d.store.FactSnapshot()
	if err != nil {
		return "", fmt.Errorf("failed to snapshot facts: %w", err)
	}
	if len(facts) == 0 {
		return "", nil
	}
	var b strings.Builder
	b.WriteString("Known facts:\n")
	for _, f := range memory.SortedFacts(facts) {
		fmt.Fprintf(&b, "- %s: %s\n", f.Name, f.Value)
	}
	return b.String(), nil
}
