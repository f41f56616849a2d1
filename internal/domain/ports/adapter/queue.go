package adapter

import (
	"context"
	"encoding/json"
	"time"

	"media-pipeline/internal/domain/model"
)

// EnqueueOptions overrides the per-type retry policy.
type EnqueueOptions struct {
	Attempts int
	Backoff  model.BackoffPolicy
	Delay    time.Duration
}

// JobQueue is the durable at-least-once task queue.
type JobQueue interface {
	Enqueue(ctx context.Context, p model.Payload, opts *EnqueueOptions) (*model.Job, error)
	Status(ctx context.Context, id string) (*model.JobStatus, error)
	Remove(ctx context.Context, id string) error

	// Reserve blocks up to wait for a ready job and marks it active.
	// It returns domain.ErrNotFound when nothing became ready.
	Reserve(ctx context.Context, wait time.Duration) (*model.Job, error)
	Complete(ctx context.Context, job *model.Job, result json.RawMessage) error
	// Fail records a failed attempt. It reschedules the job with backoff
	// unless attempts are exhausted or cause is permanent; retried reports which.
	Fail(ctx context.Context, job *model.Job, cause error) (retried bool, err error)
	// RecoverStalled counts an attempt against every job reserved longer
	// than olderThan ago and retries or fails it like Fail would.
	RecoverStalled(ctx context.Context, olderThan time.Duration) (int, error)
	// Counts reports how many jobs sit in each state.
	Counts(ctx context.Context) (map[model.JobState]int, error)
}
