// Package reflection gives the companion an inner life between turns: an
// idle daemon that turns silence into recorded thoughts, and a dreamer that
// proposes maintenance tasks from the current affect state. Both only ever
// produce text for the dispatcher to surface; neither dispatches anything
// itself.
package reflection

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"sovereign/internal/affect"
	"sovereign/internal/logging"
	"sovereign/internal/memory"
)

// Config configures the idle reflection daemon.
type Config struct {
	// IdleThreshold is how long without user activity before a reflection
	// fires.
	IdleThreshold time.Duration

	// ThoughtsPath is the append-only thoughts log. Empty disables the log
	// but not the reflections themselves.
	ThoughtsPath string

	// RecallTopK bounds how many episodes feed a reflection.
	RecallTopK int
}

// DefaultConfig returns reflection defaults.
func DefaultConfig() Config {
	return Config{
		IdleThreshold: 5 * time.Minute,
		ThoughtsPath:  "data/thoughts.log",
		RecallTopK:    3,
	}
}

// Daemon watches for idle stretches and composes internal thoughts from
// episodic memory and the current mood.
type Daemon struct {
	mu             sync.Mutex
	cfg            Config
	engine         *affect.Engine
	store          *memory.Store
	lastActivity   time.Time
	lastReflection time.Time
}

// NewDaemon creates the reflection daemon. The store may be nil; reflections
// then draw on mood alone.
func NewDaemon(cfg Config, engine *affect.Engine, store *memory.Store) *Daemon {
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = 5 * time.Minute
	}
	if cfg.RecallTopK <= 0 {
		cfg.RecallTopK = 3
	}
	return &Daemon{
		cfg:          cfg,
		engine:       engine,
		store:        store,
		lastActivity: time.Now(),
	}
}

// MarkActivity records user activity and resets the idle clock.
func (d *Daemon) MarkActivity() {
	d.mu.Lock()
	d.lastActivity = time.Now()
	d.mu.Unlock()
}

// IdleFor returns how long the user has been silent.
func (d *Daemon) IdleFor() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return time.Since(d.lastActivity)
}

// Tick checks the idle clock and, past the threshold, fires one reflection.
// At most one reflection per idle stretch per threshold window. Returns the
// composed thought and whether one fired.
func (d *Daemon) Tick(ctx context.Context) (string, bool) {
	d.mu.Lock()
	idle := time.Since(d.lastActivity)
	sinceLast := time.Since(d.lastReflection)
	if idle < d.cfg.IdleThreshold || sinceLast < d.cfg.IdleThreshold {
		d.mu.Unlock()
		return "", false
	}
	d.lastReflection = time.Now()
	d.mu.Unlock()

	if d.engine != nil {
		d.engine.OnIdle()
	}

	thought := d.compose(ctx, idle)
	d.record(thought)
	logging.Reflection("idle reflection fired after %s", idle.Round(time.Second))
	return thought, true
}

// compose builds the thought text from mood and recalled episodes.
func (d *Daemon) compose(ctx context.Context, idle time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "It has been quiet for %s.", idle.Round(time.Minute))

	if d.engine != nil {
		b.WriteString(" ")
		b.WriteString(d.engine.Render())
	}

	if d.store != nil {
		episodes, err := d.store.Recall(ctx, d.reflectionQuery(), d.cfg.RecallTopK)
		if err != nil {
			logging.ReflectionDebug("recall during reflection failed: %v", err)
		} else if len(episodes) > 0 {
			b.WriteString(" Something from earlier keeps coming back: ")
			b.WriteString(snippet(episodes[0].Content, 120))
		}
	}
	return b.String()
}

// reflectionQuery seeds recall with the current dominant feeling so idle
// thoughts drift toward emotionally relevant episodes.
func (d *Daemon) reflectionQuery() string {
	if d.engine == nil {
		return "recent conversation"
	}
	return "feeling " + d.engine.Mood()
}

// record appends the thought to the thoughts log. Failures are logged and
// swallowed; the diary is best effort.
func (d *Daemon) record(thought string) {
	if d.cfg.ThoughtsPath == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(d.cfg.ThoughtsPath), 0o755); err != nil {
		logging.ReflectionDebug("thoughts dir: %v", err)
		return
	}
	f, err := os.OpenFile(d.cfg.ThoughtsPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		logging.ReflectionDebug("thoughts log open: %v", err)
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "[%s] %s\n", time.Now().Format(time.RFC3339), thought)
}

func snippet(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
