// Package models provides data models for the agent gateway.
package models

import "time"

// TaskStatus represents the current state of a task on the upstream
// Agents API.
type TaskStatus string

const (
	// TaskStatusQueued indicates the task is waiting for an agent.
	TaskStatusQueued TaskStatus = "queued"
	// TaskStatusRunning indicates an agent is working on the task.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusAwaitingInput indicates the agent asked a question and
	// is blocked until the caller replies.
	TaskStatusAwaitingInput TaskStatus = "awaiting_input"
	// TaskStatusSucceeded indicates the task finished successfully.
	TaskStatusSucceeded TaskStatus = "succeeded"
	// TaskStatusFailed indicates the task finished with an error.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was cancelled by the caller.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Task represents a background coding task on the upstream Agents API.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title,omitempty"`
	Prompt      string     `json:"prompt,omitempty"`
	Repository  string     `json:"repository,omitempty"`
	Branch      string     `json:"branch,omitempty"`
	Model       string     `json:"model,omitempty"`
	Status      TaskStatus `json:"status"`
	Summary     string     `json:"summary,omitempty"`
	PullRequest string     `json:"pull_request_url,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// TaskMessage represents one entry in a task's conversation transcript.
type TaskMessage struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Message roles used in task transcripts.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// IsTerminal returns true if the task will not change state again.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusSucceeded, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// IsValid returns true if the task status is a known status.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusQueued, TaskStatusRunning, TaskStatusAwaitingInput,
		TaskStatusSucceeded, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// String returns the string representation of the task status.
func (s TaskStatus) String() string {
	return string(s)
}

// ValidTaskStatuses returns all valid task statuses.
func ValidTaskStatuses() []TaskStatus {
	return []TaskStatus{
		TaskStatusQueued,
		TaskStatusRunning,
		TaskStatusAwaitingInput,
		TaskStatusSucceeded,
		TaskStatusFailed,
		TaskStatusCancelled,
	}
}
