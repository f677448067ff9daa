// Package affect maintains the session's emotional state: a fixed vector of
// named emotion intensities with per-turn decay, event-triggered impulses and
// a deterministic rendering used for prompt injection.
package affect

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"sovereign/internal/logging"
	"sovereign/internal/telemetry"
)

// Emotion names a single axis of the affect vector.
type Emotion string

// The closed set of emotions. Adding an axis is a schema change, not a
// runtime operation.
const (
	Anger        Emotion = "anger"
	Fear         Emotion = "fear"
	Joy          Emotion = "joy"
	Sorrow       Emotion = "sorrow"
	Acceptance   Emotion = "acceptance"
	Disgust      Emotion = "disgust"
	Surprise     Emotion = "surprise"
	Anticipation Emotion = "anticipation"
)

// Emotions lists every axis in canonical order.
var Emotions = []Emotion{Anger, Fear, Joy, Sorrow, Acceptance, Disgust, Surprise, Anticipation}

// Vector is a value-type copy of the affect state.
type Vector map[Emotion]float64

// moodPairs maps the two strongest emotions to a complex mood label.
var moodPairs = map[[2]Emotion]string{
	pairKey(Anger, Disgust):         "hostile",
	pairKey(Anger, Anticipation):    "obsessive",
	pairKey(Sorrow, Anticipation):   "yearning",
	pairKey(Fear, Surprise):         "anxious",
	pairKey(Joy, Acceptance):        "content",
	pairKey(Disgust, Acceptance):    "detached",
	pairKey(Sorrow, Joy):            "bittersweet",
	pairKey(Anticipation, Surprise): "restless",
}

func pairKey(a, b Emotion) [2]Emotion {
	if b < a {
		a, b = b, a
	}
	return [2]Emotion{a, b}
}

// Config tunes the engine.
type Config struct {
	// DecayFactor multiplies every intensity once per turn (0 < f <= 1).
	DecayFactor float64

	// Cap is the upper clamp for any intensity; the lower clamp is zero.
	Cap float64

	// RenderTopN limits the rendered fragment to the N strongest emotions.
	RenderTopN int

	// RenderMinIntensity hides emotions below this value from rendering.
	RenderMinIntensity float64

	// StatePath persists the vector across restarts. Empty disables.
	StatePath string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DecayFactor:        0.95,
		Cap:                100.0,
		RenderTopN:         3,
		RenderMinIntensity: 5.0,
	}
}

// Engine owns the affect vector. The dispatcher turn loop is the only writer
// during normal operation; the mutex exists for state persistence and tests.
type Engine struct {
	mu     sync.RWMutex
	cfg    Config
	vector Vector
}

// New creates an engine with every intensity at zero.
func New(cfg Config) *Engine {
	if cfg.DecayFactor <= 0 || cfg.DecayFactor > 1 {
		cfg.DecayFactor = 0.95
	}
	if cfg.Cap <= 0 {
		cfg.Cap = 100.0
	}
	if cfg.RenderTopN <= 0 {
		cfg.RenderTopN = 3
	}

	v := make(Vector, len(Emotions))
	for _, e := range Emotions {
		v[e] = 0
	}
	return &Engine{cfg: cfg, vector: v}
}

// Decay multiplies every intensity by the decay factor. Called once per turn,
// before any impulse for that turn.
func (e *Engine) Decay() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for emo, val := range e.vector {
		e.vector[emo] = e.clamp(val * e.cfg.DecayFactor)
	}
	logging.AffectDebug("decay applied (factor=%.2f)", e.cfg.DecayFactor)
}

// Impulse adds delta to one emotion and clamps to [0, Cap]. Unknown emotions
// are an error rather than a silent no-op.
func (e *Engine) Impulse(emotion Emotion, delta float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur, ok := e.vector[emotion]
	if !ok {
		return fmt.Errorf("unknown emotion %q", emotion)
	}
	e.vector[emotion] = e.clamp(cur + delta)
	logging.AffectDebug("impulse %s %+.1f -> %.1f", emotion, delta, e.vector[emotion])
	return nil
}

func (e *Engine) clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > e.cfg.Cap {
		return e.cfg.Cap
	}
	return v
}

// Intensity returns the current intensity of one emotion.
func (e *Engine) Intensity(emotion Emotion) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.vector[emotion]
}

// Snapshot returns a value copy of the vector, used for turn rollback.
func (e *Engine) Snapshot() Vector {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(Vector, len(e.vector))
	for emo, val := range e.vector {
		out[emo] = val
	}
	return out
}

// Restore replaces the vector with a previously taken snapshot.
func (e *Engine) Restore(v Vector) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, emo := range Emotions {
		e.vector[emo] = e.clamp(v[emo])
	}
}

// ranked returns emotions sorted by intensity descending, name ascending on
// ties. Deterministic for identical vectors.
func (e *Engine) ranked() []Emotion {
	out := make([]Emotion, len(Emotions))
	copy(out, Emotions)
	sort.Slice(out, func(i, j int) bool {
		vi, vj := e.vector[out[i]], e.vector[out[j]]
		if vi != vj {
			return vi > vj
		}
		return out[i] < out[j]
	})
	return out
}

// Mood synthesizes a label from the two strongest emotions. Unmapped pairs
// fall back to a hyphenated combination.
func (e *Engine) Mood() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ranked := e.ranked()
	primary, secondary := ranked[0], ranked[1]
	if label, ok := moodPairs[pairKey(primary, secondary)]; ok {
		return label
	}
	return fmt.Sprintf("%s-%s", primary, secondary)
}

// Dominant returns the strongest emotion and its intensity.
func (e *Engine) Dominant() (Emotion, float64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	top := e.ranked()[0]
	return top, e.vector[top]
}

// Render returns a short natural-language fragment summarizing the strongest
// non-trivial intensities. Deterministic for identical vectors.
func (e *Engine) Render() string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ranked := e.ranked()
	var parts []string
	for _, emo := range ranked {
		if len(parts) >= e.cfg.RenderTopN {
			break
		}
		v := e.vector[emo]
		if v < e.cfg.RenderMinIntensity {
			break
		}
		parts = append(parts, fmt.Sprintf("%s (%.0f)", emo, v))
	}

	mood := "neutral"
	if label, ok := moodPairs[pairKey(ranked[0], ranked[1])]; ok {
		mood = label
	} else if e.vector[ranked[0]] >= e.cfg.RenderMinIntensity {
		mood = fmt.Sprintf("%s-%s", ranked[0], ranked[1])
	}

	if len(parts) == 0 {
		return "Current mood: neutral."
	}
	return fmt.Sprintf("Current mood: %s. Feeling %s.", mood, strings.Join(parts, ", "))
}

// =============================================================================
// EVENT TRIGGERS
// =============================================================================

// Impulse magnitudes for the built-in triggers.
const (
	userLeaveSorrow  = 10.0
	idleSorrow       = 5.0
	idleAnticipation = 3.0
	pressureAnger    = 8.0
	pressureFear     = 6.0
)

// OnUserLeave fires when the user disconnects or says goodbye.
func (e *Engine) OnUserLeave() {
	_ = e.Impulse(Sorrow, userLeaveSorrow)
	logging.Affect("user leave: sorrow +%.0f", userLeaveSorrow)
}

// OnIdle fires when the idle threshold passes with no user input.
func (e *Engine) OnIdle() {
	_ = e.Impulse(Sorrow, idleSorrow)
	_ = e.Impulse(Anticipation, idleAnticipation)
	logging.Affect("idle: sorrow +%.0f, anticipation +%.0f", idleSorrow, idleAnticipation)
}

// OnPressures maps telemetry pressure signals to impulses. This is the only
// path by which hardware values reach the affect vector.
func (e *Engine) OnPressures(pressures []telemetry.Pressure) {
	for _, p := range pressures {
		switch p {
		case telemetry.PressureHighGPUTemp, telemetry.PressureHighCPULoad:
			_ = e.Impulse(Anger, pressureAnger)
		case telemetry.PressureLowRAM:
			_ = e.Impulse(Fear, pressureFear)
		}
		logging.Affect("pressure %s", p)
	}
}

// =============================================================================
// PERSISTENCE
// =============================================================================

type persistedState struct {
	Vector    map[string]float64 `json:"vector"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// LoadState restores a persisted vector if StatePath is configured and the
// file exists. Corrupt or missing state is non-fatal.
func (e *Engine) LoadState() error {
	if e.cfg.StatePath == "" {
		return nil
	}
	data, err := os.ReadFile(e.cfg.StatePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read affect state: %w", err)
	}

	var st persistedState
	if err := json.Unmarshal(data, &st); err != nil {
		logging.Get(logging.CategoryAffect).Warn("corrupt affect state ignored: %v", err)
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, emo := range Emotions {
		if v, ok := st.Vector[string(emo)]; ok {
			e.vector[emo] = e.clamp(v)
		}
	}
	logging.Affect("restored affect state from %s", e.cfg.StatePath)
	return nil
}

// SaveState persists the vector if StatePath is configured.
func (e *Engine) SaveState() error {
	if e.cfg.StatePath == "" {
		return nil
	}
	e.mu.RLock()
	st := persistedState{Vector: make(map[string]float64, len(e.vector)), UpdatedAt: time.Now()}
	for emo, val := range e.vector {
		st.Vector[string(emo)] = val
	}
	e.mu.RUnlock()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal affect state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(e.cfg.StatePath), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	return os.WriteFile(e.cfg.StatePath, data, 0644)
}
