package node

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sovereign/internal/logging"
)

// InteractiveClient talks to the interactive node over HTTP: JSON pushes for
// context updates and interrupts, a server-sent event stream for live output.
type InteractiveClient struct {
	baseURL          string
	client           *http.Client
	streamClient     *http.Client // no timeout: the stream is long-lived
	reconnectBackoff time.Duration
}

// InteractiveConfig holds configuration for the interactive adapter.
type InteractiveConfig struct {
	BaseURL          string
	Timeout          time.Duration
	ReconnectBackoff time.Duration
}

// NewInteractiveClient creates the adapter.
func NewInteractiveClient(cfg InteractiveConfig) *InteractiveClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = 2 * time.Second
	}
	return &InteractiveClient{
		baseURL:          strings.TrimRight(cfg.BaseURL, "/"),
		client:           &http.Client{Timeout: cfg.Timeout},
		streamClient:     &http.Client{},
		reconnectBackoff: cfg.ReconnectBackoff,
	}
}

// Send pushes a system context update.
func (c *InteractiveClient) Send(ctx context.Context, update ContextUpdate) error {
	return c.post(ctx, "/context", update)
}

// Interrupt cancels the node's current utterance mid-stream.
func (c *InteractiveClient) Interrupt(ctx context.Context) error {
	logging.Adapter("interrupt sent to interactive node")
	return c.post(ctx, "/interrupt", struct{}{})
}

func (c *InteractiveClient) post(ctx context.Context, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("interactive node unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("interactive node returned status %d", resp.StatusCode)
	}
	return nil
}

// Events returns the live output stream. The adapter reconnects with backoff
// on transport failures; events are ordered within each connection. The
// channel closes only when ctx is cancelled.
func (c *InteractiveClient) Events(ctx context.Context) <-chan StreamEvent {
	out := make(chan StreamEvent, 16)

	go func() {
		defer close(out)
		for {
			if err := c.streamOnce(ctx, out); err != nil {
				if ctx.Err() != nil {
					return
				}
				logging.Get(logging.CategoryAdapter).Warn("interactive stream dropped, reconnecting: %v", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.reconnectBackoff):
			}
		}
	}()
	return out
}

// streamOnce holds one connection open and forwards its events.
func (c *InteractiveClient) streamOnce(ctx context.Context, out chan<- StreamEvent) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/events", nil)
	if err != nil {
		return fmt.Errorf("failed to create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("stream connect failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream endpoint returned status %d", resp.StatusCode)
	}
	logging.Adapter("interactive stream connected")

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}

		var ev StreamEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			logging.Get(logging.CategoryAdapter).Warn("malformed stream event skipped: %v", err)
			continue
		}
		ev.ReceivedAt = time.Now()

		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read failed: %w", err)
	}
	return fmt.Errorf("stream closed by peer")
}
