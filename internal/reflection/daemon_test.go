package reflection

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sovereign/internal/affect"
)

func newTestDaemon(t *testing.T, threshold time.Duration) (*Daemon, *affect.Engine, string) {
	t.Helper()
	engine := affect.New(affect.DefaultConfig())
	thoughts := filepath.Join(t.TempDir(), "thoughts.log")
	d := NewDaemon(Config{
		IdleThreshold: threshold,
		ThoughtsPath:  thoughts,
		RecallTopK:    3,
	}, engine, nil)
	return d, engine, thoughts
}

func TestTickBelowThresholdDoesNothing(t *testing.T) {
	d, _, thoughts := newTestDaemon(t, time.Hour)
	d.MarkActivity()

	if _, fired := d.Tick(context.Background()); fired {
		t.Error("Reflection fired below idle threshold")
	}
	if _, err := os.Stat(thoughts); !os.IsNotExist(err) {
		t.Error("Thoughts log written without a reflection")
	}
}

func TestTickFiresAfterIdle(t *testing.T) {
	d, engine, thoughts := newTestDaemon(t, 10*time.Millisecond)
	before := engine.Intensity(affect.Sorrow)

	time.Sleep(30 * time.Millisecond)
	thought, fired := d.Tick(context.Background())
	if !fired {
		t.Fatal("Reflection did not fire past idle threshold")
	}
	if thought == "" {
		t.Error("Fired reflection produced empty thought")
	}
	if engine.Intensity(affect.Sorrow) <= before {
		t.Error("Idle reflection did not raise sorrow")
	}

	data, err := os.ReadFile(thoughts)
	if err != nil {
		t.Fatalf("Thoughts log not written: %v", err)
	}
	if !strings.Contains(string(data), thought) {
		t.Error("Thoughts log missing the composed thought")
	}
}

func TestTickFiresOncePerWindow(t *testing.T) {
	d, _, _ := newTestDaemon(t, 20*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	if _, fired := d.Tick(context.Background()); !fired {
		t.Fatal("First reflection did not fire")
	}
	// Still idle, but within the same threshold window.
	if _, fired := d.Tick(context.Background()); fired {
		t.Error("Second reflection fired inside the same window")
	}
}

func TestMarkActivityResetsIdleClock(t *testing.T) {
	d, _, _ := newTestDaemon(t, 20*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	d.MarkActivity()
	if _, fired := d.Tick(context.Background()); fired {
		t.Error("Reflection fired right after activity")
	}
	if d.IdleFor() > 40*time.Millisecond {
		t.Errorf("IdleFor = %v after MarkActivity", d.IdleFor())
	}
}

func TestDreamCalmProposesNothing(t *testing.T) {
	engine := affect.New(affect.DefaultConfig())
	if _, ok := Dream(engine); ok {
		t.Error("Dream proposed a task from a faint affect state")
	}
}

func TestDreamJoyProposesNothing(t *testing.T) {
	engine := affect.New(affect.DefaultConfig())
	engine.Impulse(affect.Joy, 60)
	if p, ok := Dream(engine); ok {
		t.Errorf("Joy-dominant state proposed %q", p.Task)
	}
}

func TestDreamAngerProposesLoadCheck(t *testing.T) {
	engine := affect.New(affect.DefaultConfig())
	engine.Impulse(affect.Anger, 40)

	p, ok := Dream(engine)
	if !ok {
		t.Fatal("Anger-dominant state proposed nothing")
	}
	if p.Emotion != affect.Anger {
		t.Errorf("Proposal emotion = %s", p.Emotion)
	}
	if !strings.Contains(p.Render(), p.Task) {
		t.Error("Rendered proposal does not contain the task")
	}
}

func TestDreamNilEngine(t *testing.T) {
	if _, ok := Dream(nil); ok {
		t.Error("Dream with nil engine proposed a task")
	}
}
