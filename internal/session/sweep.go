package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"

	"github.com/MimeLyc/subrelay/internal/apperr"
	"github.com/MimeLyc/subrelay/internal/metrics"
	"github.com/MimeLyc/subrelay/pkg/file"
	"github.com/MimeLyc/subrelay/pkg/icron"
)

// Start claims the working area for this process and schedules the background sweep.
func (r *Registry) Start() error {
	r.mu.Lock()
	if r.started || r.closed {
		r.mu.Unlock()
		return apperr.New(apperr.KindState, apperr.CodeInvalidState, "registry already started")
	}
	r.mu.Unlock()

	for _, dir := range []string{r.cfg.BaseDir, r.cfg.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	lock := flock.New(filepath.Join(r.cfg.BaseDir, lockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return apperr.New(apperr.KindBusy, apperr.CodeBusy,
			"working directory is in use by another process").
			WithContext("dir", r.cfg.BaseDir)
	}

	expr := icron.Every(r.cfg.SweepInterval)
	c := cron.New()
	id, err := c.AddFunc(expr, func() { r.Sweep() })
	if err != nil {
		_ = lock.Unlock()
		return fmt.Errorf("schedule sweep: %w", err)
	}

	r.mu.Lock()
	r.flock = lock
	r.cron = c
	r.sweepID = id
	r.sweepCfg = expr
	r.started = true
	r.mu.Unlock()

	// files left behind by a previous process
	report := r.Sweep()
	r.logger.Info("Registry started in %s (sweep %s, reclaimed %d files)", r.cfg.BaseDir, expr, report.Files)

	c.Start()
	return nil
}

// Close stops the sweep, cancels every timer and releases the working-area lock.
// Sessions and files are left in place for the next process to reap.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	c := r.cron
	lock := r.flock
	for userID := range r.timers {
		r.cancelTimerLocked(userID)
	}
	r.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	if lock != nil {
		if err := lock.Unlock(); err != nil {
			r.logger.Warn("Failed to release lock %s: %v", lock.Path(), err)
			return err
		}
	}
	return nil
}

// Sweep runs every reaper once. Concurrent calls share a single run.
func (r *Registry) Sweep() SweepReport {
	v, _, _ := r.sweeps.Do("sweep", func() (any, error) {
		var report SweepReport
		report.StaleSessions = r.ReapStale()
		report.Locks, report.Timers = r.ReapOrphans()
		report.Files = r.ReapFiles()
		if report != (SweepReport{}) {
			r.logger.Info("Sweep reclaimed %d stale sessions, %d locks, %d timers, %d files",
				report.StaleSessions, report.Locks, report.Timers, report.Files)
		}
		return report, nil
	})
	return v.(SweepReport)
}

// ReapStale force-cleans sessions older than StaleAfter, whatever their status.
func (r *Registry) ReapStale() int {
	cutoff := r.now().Add(-r.cfg.StaleAfter)

	r.mu.Lock()
	var candidates []int64
	for userID, s := range r.sessions {
		if s.CreatedAt.Before(cutoff) {
			candidates = append(candidates, userID)
		}
	}
	r.mu.Unlock()

	reaped := 0
	for _, userID := range candidates {
		unlock := r.acquire(userID)
		r.mu.Lock()
		s, ok := r.sessions[userID]
		stale := ok && s.CreatedAt.Before(cutoff)
		r.mu.Unlock()

		if stale && r.cleanupLocked(userID, true) == CleanupCleaned {
			reaped++
			r.logger.Warn("Reaped stale session for user %d", userID)
		}
		unlock()
	}
	metrics.ReapedTotal.WithLabelValues("stale_session").Add(float64(reaped))
	return reaped
}

// ReapOrphans drops idle locks and timers that belong to users without a session.
func (r *Registry) ReapOrphans() (locks, timers int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for userID, ul := range r.locks {
		if _, has := r.sessions[userID]; has || ul.refs > 0 {
			continue
		}
		delete(r.locks, userID)
		locks++
	}
	for userID := range r.timers {
		if _, has := r.sessions[userID]; has {
			continue
		}
		r.cancelTimerLocked(userID)
		timers++
	}

	metrics.ReapedTotal.WithLabelValues("lock").Add(float64(locks))
	metrics.ReapedTotal.WithLabelValues("timer").Add(float64(timers))
	return locks, timers
}

// ReapFiles removes untracked files older than StaleAfter from the user_* directories
// of the working and output roots. Anything else under the roots is left alone.
func (r *Registry) ReapFiles() int {
	cutoff := r.now().Add(-r.cfg.StaleAfter)

	r.mu.Lock()
	active := make(map[string]struct{}, len(r.sessions)*2)
	for _, s := range r.sessions {
		active[filepath.Clean(s.Path)] = struct{}{}
		if s.OutputPath != "" {
			active[filepath.Clean(s.OutputPath)] = struct{}{}
		}
	}
	r.mu.Unlock()

	removed := 0
	for _, root := range []string{r.cfg.BaseDir, r.cfg.OutputDir} {
		for _, dir := range r.userDirs(root) {
			stale, err := file.FindModifiedBefore(dir, cutoff)
			if err != nil {
				r.logger.Warn("Failed to scan %s: %v", dir, err)
				continue
			}
			for _, path := range stale {
				if _, ok := active[filepath.Clean(path)]; ok {
					continue
				}
				if err := os.Remove(path); err != nil {
					if !errors.Is(err, fs.ErrNotExist) {
						r.logger.Warn("Failed to remove stale file %s: %v", path, err)
					}
					continue
				}
				removed++
			}
		}
		r.removeEmptyUserDirs(root)
	}

	metrics.ReapedTotal.WithLabelValues("file").Add(float64(removed))
	return removed
}

// userDirs lists the user_* directories directly under root.
func (r *Registry) userDirs(root string) []string {
	entries, err := os.ReadDir(root)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			r.logger.Warn("Failed to scan %s: %v", root, err)
		}
		return nil
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), userDirPrefix) {
			dirs = append(dirs, filepath.Join(root, e.Name()))
		}
	}
	return dirs
}

func (r *Registry) removeEmptyUserDirs(root string) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}

	r.mu.Lock()
	owned := make(map[string]struct{}, len(r.sessions))
	for userID := range r.sessions {
		owned[userDirName(userID)] = struct{}{}
	}
	r.mu.Unlock()

	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), userDirPrefix) {
			continue
		}
		if _, ok := owned[e.Name()]; ok {
			continue
		}
		if _, err := file.RemoveIfEmpty(filepath.Join(root, e.Name())); err != nil {
			r.logger.Warn("Failed to remove directory %s: %v", e.Name(), err)
		}
	}
}
