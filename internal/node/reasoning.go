package node

import (
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

// ReasoningClient talks to the reasoning node: one POST per task, blocking
// until the node's terminal response, plus a best-effort cancel endpoint.
type ReasoningClient struct {
	baseURL string
	client  *http.Client
}

// ReasoningConfig holds configuration for the reasoning adapter.
type ReasoningConfig struct {
	BaseURL string
	Timeout time.Duration
}

// NewReasoningClient creates the adapter.
func NewReasoningClient(cfg ReasoningConfig) *ReasoningClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 180 * time.Second
	}
	return &ReasoningClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

type taskRequest struct {
	TaskID  string `json:"task_id"`
	Input   string `json:"input"`
	Context string `json:"context"`
}

type cancelRequest struct {
	TaskID string `json:"task_id"`
}

// Submit dispatches one task and blocks until the terminal response.
func (c *ReasoningClient) Submit(ctx context.Context, taskID, input, taskContext string) (TaskResult, error) {
	timer := logging.StartTimer(logging.CategoryAdapter, "reasoning.Submit")
	defer timer.Stop()

	body, err := json.Marshal(taskRequest{TaskID: taskID, Input: input, Context: taskContext})
	if err != nil {
		return TaskResult{}, fmt.Errorf("failed to marshal task: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/task", bytes.NewReader(body))
	if err != nil {
		return TaskResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return TaskResult{}, fmt.Errorf("reasoning node unreachable: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return TaskResult{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return TaskResult{}, fmt.Errorf("reasoning node returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result TaskResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return TaskResult{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if result.Status != "success" && result.Status != "error" {
		return TaskResult{}, fmt.Errorf("reasoning node returned unknown status %q", result.Status)
	}

	logging.Adapter("task %s completed: status=%s", taskID, result.Status)
	return result, nil
}

// Cancel requests cooperative cancellation of a running task. The caller
// treats the task as failed on its own timeout regardless of this result.
func (c *ReasoningClient) Cancel(ctx context.Context, taskID string) error {
	body, err := json.Marshal(cancelRequest{TaskID: taskID})
	if err != nil {
		return fmt.Errorf("failed to marshal cancel: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/cancel", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("cancel request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("cancel returned status %d", resp.StatusCode)
	}
	logging.Adapter("cancel requested for task %s", taskID)
	return nil
}
