package memory

import (
	"context"
	"sync"
	"time"

	"sovereign/internal/logging"
)

// EpisodicWriter persists episodes asynchronously so the user-visible turn
// never waits on storage. Failures are retried with bounded backoff, then
// dropped with a log entry; a dropped record must never fail the turn.
type EpisodicWriter struct {
	store   *Store
	retries int
	backoff time.Duration

	pending chan writeRequest
	wg      sync.WaitGroup
	once    sync.Once

	mu      sync.Mutex
	dropped int64
}

type writeRequest struct {
	sessionID string
	content   string
}

// NewEpisodicWriter starts the background writer goroutine.
func NewEpisodicWriter(store *Store, retries int, backoff time.Duration) *EpisodicWriter {
	if retries < 0 {
		retries = 0
	}
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	w := &EpisodicWriter{
		store:   store,
		retries: retries,
		backoff: backoff,
		pending: make(chan writeRequest, 64),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// Enqueue submits a record for asynchronous persistence. Never blocks the
// caller: when the queue is full the record is dropped and logged.
func (w *EpisodicWriter) Enqueue(sessionID, content string) {
	select {
	case w.pending <- writeRequest{sessionID: sessionID, content: content}:
	default:
		w.recordDrop("queue full", sessionID)
	}
}

func (w *EpisodicWriter) loop() {
	defer w.wg.Done()
	for req := range w.pending {
		w.write(req)
	}
}

func (w *EpisodicWriter) write(req writeRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= w.retries; attempt++ {
		if attempt > 0 {
			time.Sleep(w.backoff * time.Duration(attempt))
		}
		seq, err := w.store.NextSeq(req.sessionID)
		if err != nil {
			lastErr = err
			continue
		}
		if err := w.store.AppendEpisode(ctx, req.sessionID, seq, req.content); err != nil {
			lastErr = err
			continue
		}
		return
	}
	logging.Get(logging.CategoryMemory).Warn("episodic write dropped after %d attempts: %v", w.retries+1, lastErr)
	w.recordDrop("write failed", req.sessionID)
}

func (w *EpisodicWriter) recordDrop(reason, sessionID string) {
	w.mu.Lock()
	w.dropped++
	w.mu.Unlock()
	logging.Get(logging.CategoryMemory).Warn("episodic record dropped (%s, session=%s)", reason, sessionID)
}

// Dropped returns how many records have been dropped since start.
func (w *EpisodicWriter) Dropped() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

// Close drains the queue and stops the background goroutine.
func (w *EpisodicWriter) Close() {
	w.once.Do(func() {
		close(w.pending)
	})
	w.wg.Wait()
}
