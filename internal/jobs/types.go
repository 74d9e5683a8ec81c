package jobs

import "time"

type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Terminal reports whether the job will not run again.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

type EnqueueRequest struct {
	Source  string
	UserID  int64
	Payload JobPayload
}

type JobPayload struct {
	FileID string `json:"file_id"`
	Path   string `json:"path"`
}

// Outcome is what an executor reports for a successful job.
type Outcome struct {
	OutputPath string `json:"output_path"`
	EntryCount int    `json:"entry_count"`
}

type Job struct {
	ID        string     `json:"id"`
	Source    string     `json:"source"`
	UserID    int64      `json:"user_id"`
	DedupeKey string     `json:"dedupe_key"`
	Payload   JobPayload `json:"payload"`
	Status    Status     `json:"status"`
	Outcome   Outcome    `json:"outcome"`
	Error     string     `json:"error,omitempty"`
	ErrorCode string     `json:"error_code,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
