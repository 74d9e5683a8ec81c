package session

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/subrelay/internal/apperr"
	"github.com/MimeLyc/subrelay/internal/metrics"
	"github.com/MimeLyc/subrelay/pkg/file"
	"github.com/MimeLyc/subrelay/pkg/icron"
	"github.com/MimeLyc/subrelay/pkg/log"
)

const (
	lockFileName    = ".subrelay.lock"
	userDirPrefix   = "user_"
	maxFilenameSize = 255
)

type userLock struct {
	mu   sync.Mutex
	refs int
}

type userTimer struct {
	timer *time.Timer
	token uint64
	force bool
}

// Registry tracks at most one session per user and owns the files behind it.
type Registry struct {
	cfg    Config
	now    func() time.Time
	stat   func(string) (os.FileInfo, error)
	logger *log.Logger

	mu        sync.Mutex
	sessions  map[int64]*Session
	locks     map[int64]*userLock
	timers    map[int64]*userTimer
	nextToken uint64

	cron     *cron.Cron
	sweepID  cron.EntryID
	sweepCfg string
	flock    *flock.Flock
	sweeps   singleflight.Group
	started  bool
	closed   bool
}

type Option func(*Registry)

// WithClock replaces time.Now for session ages and timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

func WithLogger(l *log.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

func NewRegistry(cfg Config, opts ...Option) *Registry {
	def := DefaultConfig()
	if cfg.BaseDir == "" {
		cfg.BaseDir = def.BaseDir
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = def.OutputDir
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = def.MaxFileSize
	}
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = def.ProcessingTimeout
	}
	if cfg.RetentionDelay <= 0 {
		cfg.RetentionDelay = def.RetentionDelay
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}

	r := &Registry{
		cfg:      cfg,
		now:      time.Now,
		stat:     os.Stat,
		sessions: make(map[int64]*Session),
		locks:    make(map[int64]*userLock),
		timers:   make(map[int64]*userTimer),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = log.GetLogger()
	}
	return r
}

func (r *Registry) Config() Config {
	return r.cfg
}

// acquire blocks until the caller holds userID's lock. The returned func releases it.
func (r *Registry) acquire(userID int64) func() {
	r.mu.Lock()
	ul, ok := r.locks[userID]
	if !ok {
		ul = &userLock{}
		r.locks[userID] = ul
	}
	ul.refs++
	r.mu.Unlock()

	ul.mu.Lock()

	return func() {
		ul.mu.Unlock()

		r.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			if _, has := r.sessions[userID]; !has && r.locks[userID] == ul {
				delete(r.locks, userID)
			}
		}
		r.mu.Unlock()
	}
}

// CanUpload is false while the user's file is downloading or processing.
func (r *Registry) CanUpload(userID int64) bool {
	unlock := r.acquire(userID)
	defer unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	return !ok || !s.Status.Busy()
}

// PrepareUpload registers a new session and creates the user's working directory.
func (r *Registry) PrepareUpload(userID int64, filename string, size int64) (Session, error) {
	if err := r.validateUpload(userID, filename, size); err != nil {
		return Session{}, err
	}

	unlock := r.acquire(userID)
	defer unlock()

	r.mu.Lock()
	existing, ok := r.sessions[userID]
	busy := ok && existing.Status.Busy()
	r.mu.Unlock()

	if busy {
		return Session{}, apperr.New(apperr.KindBusy, apperr.CodeBusy,
			"a file is already being processed").
			WithContext("user_id", userID)
	}
	if ok {
		r.logger.Info("Clearing previous session %s for user %d", existing.FileID, userID)
		r.cleanupLocked(userID, true)
	}

	now := r.now()
	sum := md5.Sum([]byte(fmt.Sprintf("%d_%s_%d", userID, filename, now.UnixNano())))
	fileID := hex.EncodeToString(sum[:])[:12]

	userDir := filepath.Join(r.cfg.BaseDir, userDirName(userID))
	path := filepath.Join(userDir, fileID+"_"+file.SanitizeName(filename, ".srt"))
	if !file.Within(userDir, path) {
		return Session{}, apperr.New(apperr.KindValidation, apperr.CodePathEscape,
			"file path escapes the user directory").
			WithContext("user_id", userID)
	}
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		return Session{}, apperr.Wrap(err, apperr.KindFileProcessing, apperr.CodeIOFailed,
			"failed to create working directory")
	}

	s := &Session{
		UserID:           userID,
		FileID:           fileID,
		OriginalFilename: filename,
		Path:             path,
		DeclaredSize:     size,
		Status:           StatusPreparing,
		CreatedAt:        now,
	}

	r.mu.Lock()
	r.sessions[userID] = s
	snapshot := s.clone()
	r.mu.Unlock()

	metrics.SessionsPreparedTotal.Inc()
	metrics.ActiveSessions.Inc()
	r.logger.Info("Prepared upload %s for user %d (%d bytes)", fileID, userID, size)
	return snapshot, nil
}

func (r *Registry) validateUpload(userID int64, filename string, size int64) error {
	if userID <= 0 {
		return apperr.New(apperr.KindValidation, apperr.CodeInvalidUserID, "user id must be positive").
			WithContext("user_id", userID)
	}
	if strings.TrimSpace(filename) == "" {
		return apperr.New(apperr.KindValidation, apperr.CodeInvalidFilename, "filename is empty")
	}
	if len(filename) > maxFilenameSize {
		return apperr.Newf(apperr.KindValidation, apperr.CodeInvalidFilename,
			"filename exceeds %d bytes", maxFilenameSize)
	}
	if strings.ContainsFunc(filename, unicode.IsControl) {
		return apperr.New(apperr.KindValidation, apperr.CodeInvalidFilename,
			"filename contains control characters")
	}
	if size <= 0 {
		return apperr.New(apperr.KindValidation, apperr.CodeInvalidSize, "file size must be positive").
			WithContext("size", size)
	}
	if size > r.cfg.MaxFileSize {
		return apperr.Newf(apperr.KindValidation, apperr.CodeFileTooLarge,
			"file exceeds the %d byte limit", r.cfg.MaxFileSize).
			WithContext("size", size)
	}
	return nil
}

// StartDownload moves a preparing session to downloading.
func (r *Registry) StartDownload(userID int64) (Session, error) {
	return r.transition(userID, StatusPreparing, func(s *Session, now time.Time) error {
		s.Status = StatusDownloading
		s.DownloadStartedAt = &now
		return nil
	})
}

// CompleteDownload records the size of the file now present at the session path.
// The stat runs under the user lock only.
func (r *Registry) CompleteDownload(userID int64) (Session, error) {
	unlock := r.acquire(userID)
	defer unlock()

	r.mu.Lock()
	current, err := r.expectLocked(userID, StatusDownloading)
	var path string
	if err == nil {
		path = current.Path
	}
	r.mu.Unlock()
	if err != nil {
		return Session{}, err
	}

	info, statErr := r.stat(path)
	return r.applyUserLocked(userID, StatusDownloading, func(s *Session, now time.Time) error {
		if statErr != nil {
			return apperr.Wrap(statErr, apperr.KindFileProcessing, apperr.CodeFileMissing,
				"downloaded file is missing").
				WithContext("file_id", s.FileID)
		}
		if info.Size() != s.DeclaredSize {
			r.logger.Warn("Size mismatch for %s: declared %d, actual %d",
				s.FileID, s.DeclaredSize, info.Size())
		}
		s.ActualSize = info.Size()
		s.Status = StatusDownloaded
		s.DownloadCompletedAt = &now
		return nil
	})
}

// StartProcessing arms the forced safety-net cleanup.
func (r *Registry) StartProcessing(userID int64) (Session, error) {
	return r.StartProcessingFile(userID, "")
}

// StartProcessingFile is StartProcessing for a known file. It refuses when the
// user's session now holds a different file; fileID "" matches any.
func (r *Registry) StartProcessingFile(userID int64, fileID string) (Session, error) {
	return r.transition(userID, StatusDownloaded, func(s *Session, now time.Time) error {
		if fileID != "" && s.FileID != fileID {
			return apperr.New(apperr.KindState, apperr.CodeInvalidState,
				"session was replaced by a newer upload").
				WithContext("user_id", userID).
				WithContext("file_id", fileID)
		}
		s.Status = StatusProcessing
		s.ProcessingStartedAt = &now
		r.armTimerLocked(userID, r.cfg.ProcessingTimeout, true)
		return nil
	})
}

// CompleteProcessing records the output and replaces the safety-net timer with the retention timer.
func (r *Registry) CompleteProcessing(userID int64, outputPath string) (Session, error) {
	return r.transition(userID, StatusProcessing, func(s *Session, now time.Time) error {
		if !file.Within(r.cfg.OutputDir, outputPath) {
			return apperr.New(apperr.KindValidation, apperr.CodePathEscape,
				"output path escapes the output directory").
				WithContext("output_path", outputPath)
		}
		s.Status = StatusCompleted
		s.OutputPath = outputPath
		s.ProcessingCompletedAt = &now
		r.armTimerLocked(userID, r.cfg.RetentionDelay, false)
		return nil
	})
}

// transition runs apply under the user lock and r.mu when the session is in the from state.
func (r *Registry) transition(userID int64, from Status, apply func(*Session, time.Time) error) (Session, error) {
	unlock := r.acquire(userID)
	defer unlock()
	return r.applyUserLocked(userID, from, apply)
}

// applyUserLocked requires the caller to hold the user lock but not r.mu.
func (r *Registry) applyUserLocked(userID int64, from Status, apply func(*Session, time.Time) error) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.expectLocked(userID, from)
	if err != nil {
		return Session{}, err
	}
	if err := apply(s, r.now()); err != nil {
		return Session{}, err
	}
	r.logger.Debug("Session %s for user %d is now %s", s.FileID, userID, s.Status)
	return s.clone(), nil
}

// expectLocked returns the user's session if it is in status want. r.mu must be held.
func (r *Registry) expectLocked(userID int64, want Status) (*Session, error) {
	s, ok := r.sessions[userID]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, apperr.CodeNoSession, "no active session").
			WithContext("user_id", userID)
	}
	if s.Status != want {
		return nil, apperr.Newf(apperr.KindState, apperr.CodeInvalidState,
			"session is %s, expected %s", s.Status, want).
			WithContext("user_id", userID)
	}
	return s, nil
}

// Snapshot returns a copy of the user's session.
func (r *Registry) Snapshot(userID int64) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	if !ok {
		return Session{}, false
	}
	return s.clone(), true
}

// Cleanup removes the session and its files. A natural cleanup skips busy sessions.
func (r *Registry) Cleanup(userID int64, force bool) CleanupResult {
	unlock := r.acquire(userID)
	defer unlock()
	return r.cleanupLocked(userID, force)
}

// cleanupLocked requires the caller to hold the user lock but not r.mu.
func (r *Registry) cleanupLocked(userID int64, force bool) CleanupResult {
	r.mu.Lock()
	s, ok := r.sessions[userID]
	if !ok {
		r.cancelTimerLocked(userID)
		r.mu.Unlock()
		metrics.CleanupsTotal.WithLabelValues(string(CleanupNone)).Inc()
		return CleanupNone
	}
	if !force && s.Status.Busy() {
		r.mu.Unlock()
		r.logger.Info("Skipping cleanup for user %d: session is %s", userID, s.Status)
		metrics.CleanupsTotal.WithLabelValues(string(CleanupSkipped)).Inc()
		return CleanupSkipped
	}
	delete(r.sessions, userID)
	r.cancelTimerLocked(userID)
	snapshot := s.clone()
	r.mu.Unlock()

	metrics.ActiveSessions.Dec()
	r.removeFiles(snapshot)
	metrics.CleanupsTotal.WithLabelValues(string(CleanupCleaned)).Inc()
	r.logger.Info("Cleaned up session %s for user %d (force=%t)", snapshot.FileID, userID, force)
	return CleanupCleaned
}

func (r *Registry) removeFiles(s Session) {
	for _, path := range []string{s.Path, s.OutputPath} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			r.logger.Warn("Failed to remove %s: %v", path, err)
		}
	}

	for _, dir := range []string{
		filepath.Join(r.cfg.BaseDir, userDirName(s.UserID)),
		filepath.Join(r.cfg.OutputDir, userDirName(s.UserID)),
	} {
		if _, err := file.RemoveIfEmpty(dir); err != nil {
			r.logger.Warn("Failed to remove directory %s: %v", dir, err)
		}
	}
}

// armTimerLocked replaces any timer of userID. Caller holds r.mu.
func (r *Registry) armTimerLocked(userID int64, d time.Duration, force bool) {
	r.cancelTimerLocked(userID)
	if r.closed {
		return
	}

	r.nextToken++
	token := r.nextToken
	r.timers[userID] = &userTimer{
		token: token,
		force: force,
		timer: time.AfterFunc(d, func() { r.onTimer(userID, token) }),
	}
}

// cancelTimerLocked is a no-op when no timer is armed. Caller holds r.mu.
func (r *Registry) cancelTimerLocked(userID int64) {
	if ut, ok := r.timers[userID]; ok {
		ut.timer.Stop()
		delete(r.timers, userID)
	}
}

func (r *Registry) onTimer(userID int64, token uint64) {
	unlock := r.acquire(userID)
	defer unlock()

	r.mu.Lock()
	ut, ok := r.timers[userID]
	if !ok || ut.token != token {
		// replaced or cancelled after firing
		r.mu.Unlock()
		return
	}
	delete(r.timers, userID)
	force := ut.force
	r.mu.Unlock()

	if force {
		r.logger.Warn("Processing timeout reached for user %d, forcing cleanup", userID)
	}
	r.cleanupLocked(userID, force)
}

// Stats reports the registry's current load.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	st := Stats{
		ActiveSessions: len(r.sessions),
		ByStatus:       make(map[Status]int),
		Locks:          len(r.locks),
		Timers:         len(r.timers),
	}
	for _, s := range r.sessions {
		st.ByStatus[s.Status]++
		size := s.ActualSize
		if size == 0 {
			size = s.DeclaredSize
		}
		st.TotalBytes += size
	}
	c, id, expr := r.cron, r.sweepID, r.sweepCfg
	r.mu.Unlock()

	if c != nil {
		info := icron.FromEntry(expr, c.Entry(id), r.now())
		st.NextSweep = info.Next
		st.LastSweep = info.Last
	}
	return st
}

func userDirName(userID int64) string {
	return fmt.Sprintf("%s%d", userDirPrefix, userID)
}
