package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MimeLyc/subrelay/internal/apperr"
	"github.com/MimeLyc/subrelay/pkg/log"
)

// CodeInterrupted marks jobs that were pending or running when the previous process stopped.
const CodeInterrupted = "interrupted"

type Executor func(ctx context.Context, job *Job) (Outcome, error)

type Queue struct {
	workerCount int
	maxJobs     int
	store       Store

	mu         sync.RWMutex
	jobs       map[string]*Job
	dedupe     map[string]string
	started    bool
	pendingIDs chan string
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

type Option func(*Queue)

// WithMaxJobs bounds how many jobs are kept; the oldest terminal jobs are pruned first.
func WithMaxJobs(n int) Option {
	return func(q *Queue) {
		q.maxJobs = n
	}
}

func NewQueue(workerCount int, store Store, opts ...Option) *Queue {
	if workerCount <= 0 {
		workerCount = 1
	}
	q := &Queue{
		workerCount: workerCount,
		maxJobs:     1000,
		store:       store,
		jobs:        make(map[string]*Job),
		dedupe:      make(map[string]string),
		pendingIDs:  make(chan string, 1024),
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.hydrateFromStore(context.Background())
	return q
}

func dedupeKey(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

// Enqueue adds a job unless the user already has one pending or running, in which case
// that job is returned with created=false.
func (q *Queue) Enqueue(req EnqueueRequest) (*Job, bool) {
	now := time.Now()
	key := dedupeKey(req.UserID)

	q.mu.Lock()
	if id, ok := q.dedupe[key]; ok {
		if existing, exists := q.jobs[id]; exists {
			snapshot := cloneJob(existing)
			q.mu.Unlock()
			return snapshot, false
		}
		delete(q.dedupe, key)
	}

	job := &Job{
		ID:        uuid.NewString(),
		Source:    req.Source,
		UserID:    req.UserID,
		DedupeKey: key,
		Payload:   req.Payload,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	q.jobs[job.ID] = job
	q.dedupe[key] = job.ID
	started := q.started
	snapshot := cloneJob(job)
	q.mu.Unlock()

	q.persistJob(snapshot)
	if started {
		q.enqueuePendingID(job.ID)
	}
	log.Debug("Enqueued job %s for user %d", job.ID, req.UserID)
	return snapshot, true
}

func (q *Queue) Get(id string) (*Job, bool) {
	q.mu.RLock()
	job, ok := q.jobs[id]
	q.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return cloneJob(job), true
}

// Active returns the user's pending or running job.
func (q *Queue) Active(userID int64) (*Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	id, ok := q.dedupe[dedupeKey(userID)]
	if !ok {
		return nil, false
	}
	job, ok := q.jobs[id]
	if !ok || job.Status.Terminal() {
		return nil, false
	}
	return cloneJob(job), true
}

// List returns every known job, newest first.
func (q *Queue) List() []*Job {
	q.mu.RLock()
	ret := make([]*Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		ret = append(ret, cloneJob(job))
	}
	q.mu.RUnlock()

	sort.Slice(ret, func(i, j int) bool {
		return ret[i].CreatedAt.After(ret[j].CreatedAt)
	})
	return ret
}

// Counts returns the number of jobs per status.
func (q *Queue) Counts() map[Status]int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	counts := make(map[Status]int)
	for _, job := range q.jobs {
		counts[job.Status]++
	}
	return counts
}

func (q *Queue) Start(exec Executor) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true

	pending := make([]string, 0)
	for id, job := range q.jobs {
		if job.Status == StatusPending {
			pending = append(pending, id)
		}
	}
	q.mu.Unlock()

	for _, id := range pending {
		q.enqueuePendingID(id)
	}

	for range q.workerCount {
		q.wg.Add(1)
		go q.worker(exec)
	}
}

// Stop waits for running jobs to finish. Pending jobs stay pending.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
		q.wg.Wait()
	})
}

func (q *Queue) worker(exec Executor) {
	defer q.wg.Done()

	for {
		select {
		case <-q.stopCh:
			return
		case id := <-q.pendingIDs:
			job, ok := q.markRunning(id)
			if !ok {
				continue
			}

			outcome, err := q.run(exec, job)
			if err != nil {
				q.markFailed(id, err)
				continue
			}
			q.markSuccess(id, outcome)
		}
	}
}

func (q *Queue) run(exec Executor, job *Job) (outcome Outcome, err error) {
	err = apperr.SafeExecute(func() error {
		var execErr error
		outcome, execErr = exec(context.Background(), job)
		return execErr
	})
	return outcome, err
}

func (q *Queue) enqueuePendingID(id string) {
	select {
	case q.pendingIDs <- id:
	default:
		go func() { q.pendingIDs <- id }()
	}
}

func (q *Queue) markRunning(id string) (*Job, bool) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok || job.Status != StatusPending {
		q.mu.Unlock()
		return nil, false
	}
	job.Status = StatusRunning
	job.UpdatedAt = time.Now()
	snapshot := cloneJob(job)
	q.mu.Unlock()

	q.persistJob(snapshot)
	return snapshot, true
}

func (q *Queue) markSuccess(id string, outcome Outcome) {
	q.finish(id, func(job *Job) {
		job.Status = StatusSuccess
		job.Outcome = outcome
		job.Error = ""
		job.ErrorCode = ""
	})
}

func (q *Queue) markFailed(id string, err error) {
	q.finish(id, func(job *Job) {
		job.Status = StatusFailed
		if err != nil {
			job.Error = apperr.UserMessage(err)
			job.ErrorCode = apperr.CodeOf(err)
			log.Error("Job %s for user %d failed: %v", job.ID, job.UserID, err)
		}
	})
}

func (q *Queue) finish(id string, apply func(*Job)) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	apply(job)
	job.UpdatedAt = time.Now()
	q.releaseDedupeLocked(job)
	pruned := q.pruneTerminalJobsLocked()
	snapshot := cloneJob(job)
	q.mu.Unlock()

	q.persistJob(snapshot)
	q.deleteJobsFromStore(pruned)
}

func (q *Queue) releaseDedupeLocked(job *Job) {
	if job == nil || job.DedupeKey == "" {
		return
	}
	if id, ok := q.dedupe[job.DedupeKey]; ok && id == job.ID {
		delete(q.dedupe, job.DedupeKey)
	}
}

func (q *Queue) pruneTerminalJobsLocked() []string {
	if q.maxJobs <= 0 || len(q.jobs) <= q.maxJobs {
		return nil
	}

	type candidate struct {
		id        string
		updatedAt time.Time
	}
	terminal := make([]candidate, 0, len(q.jobs))
	for id, job := range q.jobs {
		if job == nil || !job.Status.Terminal() {
			continue
		}
		terminal = append(terminal, candidate{id: id, updatedAt: job.UpdatedAt})
	}
	if len(terminal) == 0 {
		return nil
	}

	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].updatedAt.Before(terminal[j].updatedAt)
	})

	toRemove := min(len(q.jobs)-q.maxJobs, len(terminal))
	pruned := make([]string, 0, toRemove)
	for i := range toRemove {
		id := terminal[i].id
		if job := q.jobs[id]; job != nil {
			q.releaseDedupeLocked(job)
		}
		delete(q.jobs, id)
		pruned = append(pruned, id)
	}
	return pruned
}

func (q *Queue) deleteJobsFromStore(ids []string) {
	if q.store == nil || len(ids) == 0 {
		return
	}
	for _, id := range ids {
		if err := q.store.DeleteJob(context.Background(), id); err != nil {
			log.Error("Failed to delete pruned job %s from store: %v", id, err)
		}
	}
}

// hydrateFromStore loads earlier jobs. Sessions do not survive a restart, so jobs that
// were still pending or running are marked failed instead of being run again.
func (q *Queue) hydrateFromStore(ctx context.Context) {
	if q.store == nil {
		return
	}
	loaded, err := q.store.LoadJobs(ctx)
	if err != nil {
		log.Error("Failed to load jobs from store: %v", err)
		return
	}

	now := time.Now()
	toPersist := make([]*Job, 0)
	q.mu.Lock()
	for _, raw := range loaded {
		if raw == nil || raw.ID == "" {
			continue
		}
		job := cloneJob(raw)
		if !job.Status.Terminal() {
			job.Status = StatusFailed
			job.Error = "interrupted by restart"
			job.ErrorCode = CodeInterrupted
			job.UpdatedAt = now
			toPersist = append(toPersist, cloneJob(job))
		}
		q.jobs[job.ID] = job
	}
	pruned := q.pruneTerminalJobsLocked()
	q.mu.Unlock()

	for _, job := range toPersist {
		q.persistJob(job)
	}
	q.deleteJobsFromStore(pruned)
	if len(toPersist) > 0 {
		log.Warn("Marked %d interrupted jobs as failed", len(toPersist))
	}
}

func (q *Queue) persistJob(job *Job) {
	if q.store == nil || job == nil {
		return
	}
	if err := q.store.UpsertJob(context.Background(), job); err != nil {
		log.Error("Failed to persist job %s: %v", job.ID, err)
	}
}

func cloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	tmp := *job
	return &tmp
}
