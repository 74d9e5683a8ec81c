package persistence

import "time"

type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Run is one pipeline execution for one uploaded file.
type Run struct {
	ID             string    `json:"id"`
	UserID         int64     `json:"user_id"`
	FileID         string    `json:"file_id"`
	Filename       string    `json:"filename"`
	TargetLanguage string    `json:"target_language"`
	SourceLanguage string    `json:"source_language,omitempty"`
	EntryCount     int       `json:"entry_count"`
	Status         RunStatus `json:"status"`
	ErrorCode      string    `json:"error_code,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}
