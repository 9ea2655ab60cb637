package models

import "time"

// Invocation represents one journaled tool call. The journal stores
// the credential provenance label, never the credential itself.
type Invocation struct {
	ID         string    `json:"id"`
	Tool       string    `json:"tool"`
	TaskID     string    `json:"task_id,omitempty"`
	Provenance string    `json:"provenance"`
	Outcome    string    `json:"outcome"`
	Detail     string    `json:"detail,omitempty"`
	Duration   int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Invocation outcomes.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)
