package dispatch

import (
	"time"

	"github.com/google/uuid"

	"sovereign/internal/node"
)

// TaskStatus is the lifecycle of one reasoning task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// FailureKind qualifies a failed task.
type FailureKind string

const (
	FailureNone    FailureKind = ""
	FailureTimeout FailureKind = "timeout"
	FailureAdapter FailureKind = "adapter"
	FailureNode    FailureKind = "node"
)

// ReasoningTask is one dispatched action. Owned by the dispatcher turn loop;
// at most one non-terminal task exists per session.
type ReasoningTask struct {
	ID        string
	Input     string
	Status    TaskStatus
	Failure   FailureKind
	Result    *node.TaskResult
	CreatedAt time.Time
}

func newTask(input string) *ReasoningTask {
	return &ReasoningTask{
		ID:        uuid.New().String(),
		Input:     input,
		Status:    TaskPending,
		CreatedAt: time.Now(),
	}
}

// Terminal reports whether the task has reached a final status.
func (t *ReasoningTask) Terminal() bool {
	switch t.Status {
	case TaskSucceeded, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

// pendingRequest is the single-slot queue for action input arriving while a
// task is non-terminal. Last request wins; older queued requests are
// replaced, never accumulated.
type pendingRequest struct {
	Input      string
	ReceivedAt time.Time
}
