package jobs

import "context"

// Store persists job states so a restarted process can report on earlier jobs.
type Store interface {
	LoadJobs(ctx context.Context) ([]*Job, error)
	UpsertJob(ctx context.Context, job *Job) error
	DeleteJob(ctx context.Context, jobID string) error
}
