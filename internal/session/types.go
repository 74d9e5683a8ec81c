package session

import (
	"time"
)

type Status string

const (
	StatusPreparing   Status = "preparing"
	StatusDownloading Status = "downloading"
	StatusDownloaded  Status = "downloaded"
	StatusProcessing  Status = "processing"
	StatusCompleted   Status = "completed"
)

// Busy reports whether a session in this status blocks a new upload and natural cleanup.
func (s Status) Busy() bool {
	return s == StatusDownloading || s == StatusProcessing
}

// Session is a snapshot of one user's in-flight file. Mutations go through the Registry.
type Session struct {
	UserID           int64  `json:"user_id"`
	FileID           string `json:"file_id"`
	OriginalFilename string `json:"original_filename"`
	Path             string `json:"path"`
	DeclaredSize     int64  `json:"declared_size"`
	ActualSize       int64  `json:"actual_size"`
	Status           Status `json:"status"`
	OutputPath       string `json:"output_path,omitempty"`

	CreatedAt             time.Time  `json:"created_at"`
	DownloadStartedAt     *time.Time `json:"download_started_at,omitempty"`
	DownloadCompletedAt   *time.Time `json:"download_completed_at,omitempty"`
	ProcessingStartedAt   *time.Time `json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time `json:"processing_completed_at,omitempty"`
}

func (s *Session) clone() Session {
	out := *s
	out.DownloadStartedAt = cloneTime(s.DownloadStartedAt)
	out.DownloadCompletedAt = cloneTime(s.DownloadCompletedAt)
	out.ProcessingStartedAt = cloneTime(s.ProcessingStartedAt)
	out.ProcessingCompletedAt = cloneTime(s.ProcessingCompletedAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// CleanupResult is what Cleanup did.
type CleanupResult string

const (
	CleanupCleaned CleanupResult = "cleaned"
	// CleanupSkipped means a natural cleanup found the session busy.
	CleanupSkipped CleanupResult = "skipped"
	// CleanupNone means there was no session.
	CleanupNone CleanupResult = "none"
)

// Config drives the registry's limits and timers.
type Config struct {
	BaseDir     string
	OutputDir   string
	MaxFileSize int64

	// ProcessingTimeout arms the forced safety-net cleanup when processing starts.
	ProcessingTimeout time.Duration
	// RetentionDelay arms the natural cleanup after completion.
	RetentionDelay time.Duration
	// StaleAfter is the absolute age after which any session or untracked file is reaped.
	StaleAfter    time.Duration
	SweepInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		BaseDir:           "./temp",
		OutputDir:         "./output",
		MaxFileSize:       50 * 1024 * 1024,
		ProcessingTimeout: 30 * time.Minute,
		RetentionDelay:    5 * time.Minute,
		StaleAfter:        2 * time.Hour,
		SweepInterval:     time.Hour,
	}
}

// SweepReport counts what one background sweep reclaimed.
type SweepReport struct {
	StaleSessions int
	Locks         int
	Timers        int
	Files         int
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	ActiveSessions int            `json:"active_sessions"`
	ByStatus       map[Status]int `json:"by_status"`
	TotalBytes     int64          `json:"total_bytes"`
	Locks          int            `json:"locks"`
	Timers         int            `json:"timers"`
	NextSweep      time.Time      `json:"next_sweep,omitempty"`
	LastSweep      time.Time      `json:"last_sweep,omitempty"`
}
