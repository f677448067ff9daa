// Package dispatch is the orchestrator core: one session, one turn loop, one
// ordered event queue. The two inference nodes never talk to each other; every
// route decision, task dispatch, interrupt, and context injection passes
// through here. Session state is mutated only by the turn loop, so the state
// machine and at-most-one-task invariants hold without locks.
package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"sovereign/internal/affect"
	"sovereign/internal/intent"
	"sovereign/internal/logging"
	"sovereign/internal/memory"
	"sovereign/internal/node"
	"sovereign/internal/reflection"
	"sovereign/internal/telemetry"
)

// State is the session's position in the turn state machine.
type State string

const (
	StateIdle           State = "idle"
	StateListening      State = "listening"
	StateDispatching    State = "dispatching"
	StateAwaitingAction State = "awaiting_action"
	StateInjecting      State = "injecting"
)

// Session is one active conversational context. Owned exclusively by the
// dispatcher turn loop; destroyed on shutdown or idle-timeout eviction.
type Session struct {
	ID           string
	CreatedAt    time.Time
	LastActivity time.Time
	State        State
	Task         *ReasoningTask
	Pending      *pendingRequest
	Window       *memory.TurnWindow
}

// Config tunes the dispatcher.
type Config struct {
	// TaskTimeout bounds a reasoning task; past it the task is failed with
	// kind timeout regardless of what the adapter later says.
	TaskTimeout time.Duration

	// IdleTimeout evicts the session after this much silence.
	IdleTimeout time.Duration

	// InterruptConfidence is the minimum action confidence for a
	// mid-utterance interrupt while a task is in flight.
	InterruptConfidence float64

	// RecallTopK bounds episodic recall during task context assembly.
	RecallTopK int

	// WindowTurns and WindowTokenBudget size the turn window.
	WindowTurns       int
	WindowTokenBudget int

	// Cron specs for the periodic jobs. Empty disables a job.
	ReflectionSpec   string
	FactReinjectSpec string
	TelemetrySpec    string
	IdleCheckSpec    string
}

// DefaultConfig returns dispatcher defaults.
func DefaultConfig() Config {
	return Config{
		TaskTimeout:         120 * time.Second,
		IdleTimeout:         30 * time.Minute,
		InterruptConfidence: 0.75,
		RecallTopK:          3,
		WindowTurns:         16,
		WindowTokenBudget:   8000,
		ReflectionSpec:      "@every 1m",
		FactReinjectSpec:    "@every 10m",
		TelemetrySpec:       "@every 30s",
		IdleCheckSpec:       "@every 1m",
	}
}

// Deps are the dispatcher's collaborators. Interactive and Reasoning are
// required; everything else degrades gracefully when nil.
type Deps struct {
	Affect      *affect.Engine
	Store       *memory.Store
	Writer      *memory.EpisodicWriter
	Persona     *memory.Persona
	Classifier  *intent.Classifier
	Interactive node.Interactive
	Reasoning   node.Reasoning
	Collector   telemetry.Collector
	Thresholds  telemetry.Thresholds
	Reflection  *reflection.Daemon
}

// Events feeding the single ordered queue. One type per producer; the turn
// loop consumes them one at a time.
type event interface{ isEvent() }

type userInput struct{ text string }

type taskDone struct {
	taskID   string
	result   node.TaskResult
	err      error
	timedOut bool
}

type nodeOutput struct{ ev node.StreamEvent }

type telemetryReading struct{ snap telemetry.Snapshot }

type reflectionTick struct{}

type factReinject struct{}

type idleCheck struct{}

type stateQuery struct{ reply chan State }

func (userInput) isEvent()        {}
func (taskDone) isEvent()         {}
func (nodeOutput) isEvent()       {}
func (telemetryReading) isEvent() {}
func (reflectionTick) isEvent()   {}
func (factReinject) isEvent()     {}
func (idleCheck) isEvent()        {}
func (stateQuery) isEvent()       {}

// Dispatcher ties the components together. All session mutation happens on
// the Run goroutine.
type Dispatcher struct {
	cfg Config

	engine      *affect.Engine
	store       *memory.Store
	writer      *memory.EpisodicWriter
	persona     *memory.Persona
	classifier  *intent.Classifier
	interactive node.Interactive
	reasoning   node.Reasoning
	collector   telemetry.Collector
	thresholds  telemetry.Thresholds
	reflector   *reflection.Daemon

	events  chan event
	session *Session

	// partial accumulates the interactive node's in-progress utterance so
	// an interrupt can preserve it as a truncated turn.
	partial string

	// lastInjected makes result injection idempotent.
	lastInjected string
}

// New creates a dispatcher.
func New(cfg Config, deps Deps) *Dispatcher {
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 120 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.InterruptConfidence <= 0 || cfg.InterruptConfidence > 1 {
		cfg.InterruptConfidence = 0.75
	}
	if cfg.RecallTopK <= 0 {
		cfg.RecallTopK = 3
	}
	if cfg.WindowTurns <= 0 {
		cfg.WindowTurns = 16
	}
	classifier := deps.Classifier
	if classifier == nil {
		classifier = intent.New(intent.DefaultChatThreshold)
	}
	return &Dispatcher{
		cfg:         cfg,
		engine:      deps.Affect,
		store:       deps.Store,
		writer:      deps.Writer,
		persona:     deps.Persona,
		classifier:  classifier,
		interactive: deps.Interactive,
		reasoning:   deps.Reasoning,
		collector:   deps.Collector,
		thresholds:  deps.Thresholds,
		reflector:   deps.Reflection,
		events:      make(chan event, 64),
	}
}

// Submit feeds one user utterance into the turn loop. Non-blocking; input
// arriving faster than the loop can drain is dropped with a log entry.
func (d *Dispatcher) Submit(text string) {
	d.enqueue(userInput{text: text})
}

// CurrentState reports the session state as seen by the turn loop. Intended
// for observability and tests; Idle when no session exists. ok is false when
// the loop did not answer in time, so a dead loop is never mistaken for an
// idle one.
func (d *Dispatcher) CurrentState() (State, bool) {
	q := stateQuery{reply: make(chan State, 1)}
	select {
	case d.events <- q:
	case <-time.After(2 * time.Second):
		return StateIdle, false
	}
	select {
	case s := <-q.reply:
		return s, true
	case <-time.After(2 * time.Second):
		return StateIdle, false
	}
}

func (d *Dispatcher) enqueue(ev event) {
	select {
	case d.events <- ev:
	default:
		logging.Get(logging.CategoryDispatch).Warn("event queue full, dropping %T", ev)
	}
}

// Run starts the turn loop and blocks until ctx is cancelled. The interactive
// stream reader and the periodic jobs are the only other producers; they all
// feed the same queue.
func (d *Dispatcher) Run(ctx context.Context) error {
	logging.Session("dispatcher starting")
	d.ensureSession()

	go d.readStream(ctx)

	c := cron.New()
	d.schedule(c, ctx)
	c.Start()
	defer func() { <-c.Stop().Done() }()

	for {
		select {
		case <-ctx.Done():
			d.shutdown()
			return ctx.Err()
		case ev := <-d.events:
			d.handle(ctx, ev)
		}
	}
}

func (d *Dispatcher) readStream(ctx context.Context) {
	if d.interactive == nil {
		return
	}
	for ev := range d.interactive.Events(ctx) {
		d.enqueue(nodeOutput{ev: ev})
	}
}

func (d *Dispatcher) schedule(c *cron.Cron, ctx context.Context) {
	add := func(spec string, ev event) {
		if spec == "" {
			return
		}
		if _, err := c.AddFunc(spec, func() { d.enqueue(ev) }); err != nil {
			logging.Get(logging.CategoryDispatch).Error("bad cron spec %q: %v", spec, err)
		}
	}
	add(d.cfg.ReflectionSpec, reflectionTick{})
	add(d.cfg.FactReinjectSpec, factReinject{})
	add(d.cfg.IdleCheckSpec, idleCheck{})

	if d.cfg.TelemetrySpec != "" && d.collector != nil {
		_, err := c.AddFunc(d.cfg.TelemetrySpec, func() {
			go d.pollTelemetry(ctx)
		})
		if err != nil {
			logging.Get(logging.CategoryDispatch).Error("bad telemetry spec %q: %v", d.cfg.TelemetrySpec, err)
		}
	}
}

func (d *Dispatcher) pollTelemetry(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	snap, err := d.collector.Collect(cctx)
	if err != nil {
		logging.TelemetryDebug("collect failed: %v", err)
		return
	}
	d.enqueue(telemetryReading{snap: snap})
}

func (d *Dispatcher) handle(ctx context.Context, ev event) {
	switch e := ev.(type) {
	case userInput:
		d.handleUserInput(ctx, e.text)
	case taskDone:
		d.handleTaskDone(ctx, e)
	case nodeOutput:
		d.handleNodeOutput(e.ev)
	case telemetryReading:
		d.handleTelemetry(e.snap)
	case reflectionTick:
		d.handleReflectionTick(ctx)
	case factReinject:
		d.handleFactReinject(ctx)
	case idleCheck:
		d.handleIdleCheck(ctx)
	case stateQuery:
		if d.session == nil {
			e.reply <- StateIdle
		} else {
			e.reply <- d.session.State
		}
	}
}

// ensureSession creates the session on first input after start or eviction.
func (d *Dispatcher) ensureSession() *Session {
	if d.session != nil {
		return d.session
	}
	d.session = &Session{
		ID:           uuid.New().String(),
		CreatedAt:    time.Now(),
		LastActivity: time.Now(),
		State:        StateListening,
		Window:       memory.NewTurnWindow(d.cfg.WindowTurns, d.cfg.WindowTokenBudget),
	}
	logging.Session("session %s started", d.session.ID)
	return d.session
}

// handleUserInput is one full turn: decay, classify, route, persist. Failures
// roll affect and the window back to pre-turn values and leave the session
// Listening.
func (d *Dispatcher) handleUserInput(ctx context.Context, text string) {
	s := d.ensureSession()
	s.LastActivity = time.Now()
	if d.reflector != nil {
		d.reflector.MarkActivity()
	}

	var affectSnap affect.Vector
	if d.engine != nil {
		affectSnap = d.engine.Snapshot()
		d.engine.Decay()
	}
	windowLen := s.Window.Len()

	route, conf := d.classifier.Classify(text, s.Window.Turns())
	logging.Dispatch("turn: route=%s confidence=%.2f state=%s", route, conf, s.State)

	// High-confidence action input while a task is in flight interrupts the
	// node mid-utterance. The running task is not cancelled; its result
	// folds in later as a context update.
	if s.State == StateAwaitingAction && route == memory.RouteAction && conf >= d.cfg.InterruptConfidence {
		d.interruptUtterance(ctx, s)
	}

	s.Window.Append(memory.Utterance{
		Speaker:   memory.SpeakerUser,
		Text:      text,
		Timestamp: time.Now(),
		Route:     route,
	})

	switch route {
	case memory.RouteChat:
		if err := d.pushContext(ctx, d.chatContext()); err != nil {
			d.rollback(s, affectSnap, windowLen, err)
			return
		}
	case memory.RouteAction:
		if s.Task != nil && !s.Task.Terminal() {
			s.Pending = &pendingRequest{Input: text, ReceivedAt: time.Now()}
			logging.Dispatch("action queued behind task %s (slot replaced)", s.Task.ID)
		} else {
			d.startTask(ctx, s, text)
		}
	}

	// Episodic write happens only once the turn completed; a rolled-back
	// turn leaves no durable trace.
	d.persistEpisode(s.ID, "user: "+text)
}

// startTask opens the reasoning task. A non-terminal task already present is
// a broken contract, not a queue miss: logged at highest severity and the
// session is reset to Listening instead of spawning a second task.
func (d *Dispatcher) startTask(ctx context.Context, s *Session, input string) {
	if s.Task != nil && !s.Task.Terminal() {
		logging.Get(logging.CategoryDispatch).Error(
			"invariant violation: second concurrent task requested while %s is %s", s.Task.ID, s.Task.Status)
		s.State = StateListening
		return
	}

	task := newTask(input)
	s.Task = task
	s.State = StateDispatching
	logging.Dispatch("task %s dispatching: %q", task.ID, input)

	taskContext := d.buildTaskContext(ctx, input)
	task.Status = TaskRunning
	s.State = StateAwaitingAction

	go func() {
		tctx, cancel := context.WithTimeout(ctx, d.cfg.TaskTimeout)
		defer cancel()
		result, err := d.reasoning.Submit(tctx, task.ID, input, taskContext)
		d.enqueue(taskDone{
			taskID:   task.ID,
			result:   result,
			err:      err,
			timedOut: tctx.Err() == context.DeadlineExceeded,
		})
	}()
}

// handleTaskDone marks the task terminal, injects the result, and dispatches
// any queued request.
func (d *Dispatcher) handleTaskDone(ctx context.Context, ev taskDone) {
	s := d.session
	if s == nil || s.Task == nil || s.Task.ID != ev.taskID {
		logging.Dispatch("stale task result %s ignored", ev.taskID)
		return
	}
	task := s.Task
	if task.Terminal() {
		logging.Dispatch("task %s already terminal (%s), late result ignored", task.ID, task.Status)
		return
	}

	switch {
	case ev.timedOut:
		task.Status = TaskFailed
		task.Failure = FailureTimeout
		logging.Get(logging.CategoryDispatch).Warn("task %s timed out after %s", task.ID, d.cfg.TaskTimeout)
		go d.cancelTask(task.ID)
	case ev.err != nil:
		task.Status = TaskFailed
		task.Failure = FailureAdapter
		logging.Get(logging.CategoryDispatch).Warn("task %s adapter failure: %v", task.ID, ev.err)
	case ev.result.Status == "error":
		task.Status = TaskFailed
		task.Failure = FailureNode
		task.Result = &ev.result
	default:
		task.Status = TaskSucceeded
		task.Result = &ev.result
	}

	d.inject(ctx, s, task)

	if s.Pending != nil {
		req := s.Pending
		s.Pending = nil
		logging.Dispatch("dispatching queued action: %q", req.Input)
		d.startTask(ctx, s, req.Input)
	}
}

// inject folds a terminal task's result and refreshed affect into the
// interactive context. Replaying the same task id is a no-op so duplicate
// terminal events never double-append to the window.
func (d *Dispatcher) inject(ctx context.Context, s *Session, task *ReasoningTask) {
	s.State = StateInjecting
	defer func() { s.State = StateListening }()

	if task.ID == d.lastInjected {
		logging.Dispatch("duplicate injection of task %s suppressed", task.ID)
		return
	}

	fragment := resultFragment(task)
	update := fragment
	if d.engine != nil {
		update = fragment + "\n" + d.engine.Render()
	}
	if err := d.pushContext(ctx, update); err != nil {
		logging.Get(logging.CategoryDispatch).Warn("result injection push failed: %v", err)
	}

	s.Window.Append(memory.Utterance{
		Speaker:   memory.SpeakerSystem,
		Text:      fragment,
		Timestamp: time.Now(),
		Route:     memory.RouteChat,
	})
	d.persistEpisode(s.ID, "system: "+fragment)
	d.lastInjected = task.ID
}

// resultFragment phrases the terminal status for the user. Failures are
// honest; the window records what happened, never a fabricated success.
func resultFragment(task *ReasoningTask) string {
	switch {
	case task.Status == TaskSucceeded:
		return "Task finished: " + task.Result.Output
	case task.Failure == FailureTimeout:
		return "The action did not complete in time. I've stopped waiting on it."
	case task.Failure == FailureNode && task.Result != nil:
		return "The action failed: " + task.Result.Output
	case task.Status == TaskCancelled:
		return "The action was cancelled."
	default:
		return "The action could not be completed."
	}
}

// interruptUtterance cuts the node off mid-utterance and preserves whatever
// was already spoken as a truncated turn.
func (d *Dispatcher) interruptUtterance(ctx context.Context, s *Session) {
	if d.interactive != nil {
		if err := d.interactive.Interrupt(ctx); err != nil {
			logging.Get(logging.CategoryDispatch).Warn("interrupt signal failed: %v", err)
		}
	}
	if d.partial != "" {
		s.Window.Append(memory.Utterance{
			Speaker:     memory.SpeakerSystem,
			Text:        d.partial,
			Timestamp:   time.Now(),
			Route:       memory.RouteChat,
			Interrupted: true,
		})
		d.partial = ""
	}
	s.State = StateListening
	logging.Dispatch("utterance interrupted, back to listening")
}

// handleNodeOutput folds the interactive node's live stream into the window.
func (d *Dispatcher) handleNodeOutput(ev node.StreamEvent) {
	s := d.session
	if s == nil {
		return
	}
	switch ev.Kind {
	case node.EventPartialText:
		d.partial += ev.Text
	case node.EventFinalText:
		d.partial = ""
		if ev.Text == "" {
			return
		}
		s.Window.Append(memory.Utterance{
			Speaker:   memory.SpeakerSystem,
			Text:      ev.Text,
			Timestamp: time.Now(),
			Route:     memory.RouteChat,
		})
		d.persistEpisode(s.ID, "system: "+ev.Text)
	case node.EventToolCall:
		// Tool execution belongs to the reasoning node's own layer.
		logging.Dispatch("interactive node requested a tool call; not relayed")
	}
}

func (d *Dispatcher) handleTelemetry(snap telemetry.Snapshot) {
	if d.engine == nil {
		return
	}
	pressures := snap.Pressures(d.thresholds)
	if len(pressures) == 0 {
		return
	}
	logging.Telemetry("pressure signals: %v", pressures)
	d.engine.OnPressures(pressures)
}

func (d *Dispatcher) handleReflectionTick(ctx context.Context) {
	if d.reflector == nil || d.session == nil {
		return
	}
	thought, fired := d.reflector.Tick(ctx)
	if !fired {
		return
	}
	if err := d.pushContext(ctx, thought); err != nil {
		logging.ReflectionDebug("thought push failed: %v", err)
	}
	if proposal, ok := reflection.Dream(d.engine); ok {
		if err := d.pushContext(ctx, proposal.Render()); err != nil {
			logging.ReflectionDebug("dream push failed: %v", err)
		}
	}
}

func (d *Dispatcher) handleFactReinject(ctx context.Context) {
	if d.session == nil {
		return
	}
	text, err := d.factContext()
	if err != nil {
		logging.DispatchDebug("fact reinject skipped: %v", err)
		return
	}
	if text == "" {
		return
	}
	if err := d.pushContext(ctx, text); err != nil {
		logging.DispatchDebug("fact reinject push failed: %v", err)
	}
}

func (d *Dispatcher) handleIdleCheck(ctx context.Context) {
	s := d.session
	if s == nil {
		return
	}
	if time.Since(s.LastActivity) < d.cfg.IdleTimeout {
		return
	}
	d.evictSession(s)
}

// evictSession destroys the session on idle timeout. A non-terminal task is
// cancelled cooperatively.
func (d *Dispatcher) evictSession(s *Session) {
	if s.Task != nil && !s.Task.Terminal() {
		s.Task.Status = TaskCancelled
		go d.cancelTask(s.Task.ID)
	}
	if d.engine != nil {
		d.engine.OnUserLeave()
		if err := d.engine.SaveState(); err != nil {
			logging.AffectDebug("state save on eviction failed: %v", err)
		}
	}
	logging.Session("session %s evicted after idle timeout", s.ID)
	d.session = nil
	// Per-session buffers must not bleed into the next session.
	d.partial = ""
	d.lastInjected = ""
}

func (d *Dispatcher) cancelTask(taskID string) {
	if d.reasoning == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.reasoning.Cancel(ctx, taskID); err != nil {
		logging.DispatchDebug("cancel of task %s failed: %v", taskID, err)
	}
}

// pushContext sends a context update to the interactive node, mapping
// transport failure to the adapter-unreachable turn error.
func (d *Dispatcher) pushContext(ctx context.Context, text string) error {
	if d.interactive == nil || text == "" {
		return nil
	}
	if err := d.interactive.Send(ctx, node.ContextUpdate{Text: text}); err != nil {
		return turnErr(ErrAdapterUnreachable, "I couldn't reach my voice just now.", err)
	}
	return nil
}

// rollback undoes a failed turn's affect and window mutations and records the
// failure visibly.
func (d *Dispatcher) rollback(s *Session, affectSnap affect.Vector, windowLen int, err error) {
	if d.engine != nil && affectSnap != nil {
		d.engine.Restore(affectSnap)
	}
	s.Window.Truncate(windowLen)
	s.State = StateListening
	logging.Get(logging.CategoryDispatch).Error("turn aborted, state rolled back: %v", err)
}

// persistEpisode hands the turn to the async episodic writer. Never blocks
// and never fails the turn.
func (d *Dispatcher) persistEpisode(sessionID, content string) {
	if d.writer == nil {
		return
	}
	d.writer.Enqueue(sessionID, content)
}

// shutdown runs on loop exit: cancel anything in flight, persist affect.
func (d *Dispatcher) shutdown() {
	if d.session != nil && d.session.Task != nil && !d.session.Task.Terminal() {
		d.session.Task.Status = TaskCancelled
		d.cancelTask(d.session.Task.ID)
	}
	if d.engine != nil {
		if err := d.engine.SaveState(); err != nil {
			logging.AffectDebug("state save on shutdown failed: %v", err)
		}
	}
	logging.Session("dispatcher stopped")
}
