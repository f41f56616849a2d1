package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"media-pipeline/internal/domain"
	"media-pipeline/internal/domain/model"
	"media-pipeline/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.JobQueue = (*MemoryQueue)(nil)

// MemoryQueue is the single-process backend used in development and tests.
// It has the same retry, delay and retention semantics as RedisQueue but
// loses everything on restart.
type MemoryQueue struct {
	mu      sync.Mutex
	jobs    map[string]*model.Job
	waiting []string
	wake    chan struct{}
	done    chan struct{}
	closed  bool

	policy    Policy
	retention Retention
	now       func() time.Time
	log       *zerolog.Logger
}

func NewMemoryQueue(policy Policy, retention Retention, logger *zerolog.Logger) *MemoryQueue {
	l := logger.With().Str("component", "MemoryQueue").Logger()
	return &MemoryQueue{
		jobs:      make(map[string]*model.Job),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		policy:    policy,
		retention: retention,
		now:       time.Now,
		log:       &l,
	}
}

func (q *MemoryQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, p model.Payload, opts *adapter.EnqueueOptions) (*model.Job, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, domain.ErrQueueClosed
	}
	job := newJob(p, raw, opts, q.policy, q.now())
	q.jobs[job.ID] = job
	if job.State == model.JobWaiting {
		q.waiting = append(q.waiting, job.ID)
	}
	q.signal()
	q.log.Debug().Str("job_id", job.ID).Str("type", string(job.Type)).Msg("job enqueued")
	return cloneJob(job), nil
}

func (q *MemoryQueue) Status(ctx context.Context, id string) (*model.JobStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return job.Status(), nil
}

func (q *MemoryQueue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.jobs[id]; !ok {
		return domain.ErrNotFound
	}
	delete(q.jobs, id)
	q.dropWaiting(id)
	return nil
}

func (q *MemoryQueue) dropWaiting(id string) {
	for i, w := range q.waiting {
		if w == id {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			return
		}
	}
}

// promote moves due delayed jobs to the wait list and returns the earliest
// remaining run time, or zero.
func (q *MemoryQueue) promote(now time.Time) time.Time {
	var next time.Time
	var due []*model.Job
	for _, j := range q.jobs {
		if j.State != model.JobDelayed {
			continue
		}
		if !j.RunAt.After(now) {
			due = append(due, j)
			continue
		}
		if next.IsZero() || j.RunAt.Before(next) {
			next = j.RunAt
		}
	}
	sort.Slice(due, func(a, b int) bool { return due[a].RunAt.Before(due[b].RunAt) })
	for _, j := range due {
		j.State = model.JobWaiting
		q.waiting = append(q.waiting, j.ID)
	}
	return next
}

func (q *MemoryQueue) Reserve(ctx context.Context, wait time.Duration) (*model.Job, error) {
	deadline := time.Now().Add(wait)
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, domain.ErrQueueClosed
		}
		now := q.now()
		next := q.promote(now)
		if len(q.waiting) > 0 {
			id := q.waiting[0]
			q.waiting = q.waiting[1:]
			job := q.jobs[id]
			job.State = model.JobActive
			job.ProcessedAt = &now
			q.mu.Unlock()
			return cloneJob(job), nil
		}
		q.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, domain.ErrNotFound
		}
		if !next.IsZero() {
			if d := next.Sub(now); d < remaining {
				remaining = d
			}
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.wake:
			timer.Stop()
		case <-q.done:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (q *MemoryQueue) active(job *model.Job) (*model.Job, error) {
	stored, ok := q.jobs[job.ID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if stored.State != model.JobActive {
		return nil, fmt.Errorf("%w: job %s is %s", domain.ErrInvalidArgument, job.ID, stored.State)
	}
	return stored, nil
}

func (q *MemoryQueue) Complete(ctx context.Context, job *model.Job, result json.RawMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	stored, err := q.active(job)
	if err != nil {
		return err
	}
	applyComplete(stored, result, q.now())
	*job = *cloneJob(stored)
	q.prune(model.JobCompleted, q.retention.CompletedAge, q.retention.CompletedCount)
	return nil
}

func (q *MemoryQueue) Fail(ctx context.Context, job *model.Job, cause error) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	stored, err := q.active(job)
	if err != nil {
		return false, err
	}
	retried := applyFailure(stored, cause, q.now())
	*job = *cloneJob(stored)
	if retried {
		q.signal()
	} else {
		q.prune(model.JobFailed, q.retention.FailedAge, q.retention.FailedCount)
	}
	return retried, nil
}

func (q *MemoryQueue) RecoverStalled(ctx context.Context, olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	cutoff := now.Add(-olderThan)
	n, dead := 0, 0
	for _, j := range q.jobs {
		if j.State != model.JobActive || j.ProcessedAt == nil || j.ProcessedAt.After(cutoff) {
			continue
		}
		if !applyFailure(j, errStalled, now) {
			dead++
		}
		n++
	}
	if n > 0 {
		q.signal()
	}
	if dead > 0 {
		q.prune(model.JobFailed, q.retention.FailedAge, q.retention.FailedCount)
	}
	return n, nil
}

func (q *MemoryQueue) Counts(ctx context.Context) (map[model.JobState]int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := map[model.JobState]int{
		model.JobWaiting: 0, model.JobDelayed: 0, model.JobActive: 0,
		model.JobCompleted: 0, model.JobFailed: 0,
	}
	for _, j := range q.jobs {
		out[j.State]++
	}
	return out, nil
}

// Close stops handing out jobs; blocked Reserve calls return ErrQueueClosed.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
}

// prune drops finished jobs of state older than maxAge and beyond maxCount,
// oldest first.
func (q *MemoryQueue) prune(state model.JobState, maxAge time.Duration, maxCount int) {
	var finished []*model.Job
	for _, j := range q.jobs {
		if j.State == state && j.FinishedAt != nil {
			finished = append(finished, j)
		}
	}
	sort.Slice(finished, func(a, b int) bool { return finished[a].FinishedAt.After(*finished[b].FinishedAt) })
	cutoff := q.now().Add(-maxAge)
	for i, j := range finished {
		if (maxCount > 0 && i >= maxCount) || (maxAge > 0 && j.FinishedAt.Before(cutoff)) {
			delete(q.jobs, j.ID)
		}
	}
}

func cloneJob(j *model.Job) *model.Job {
	c := *j
	if j.ProcessedAt != nil {
		t := *j.ProcessedAt
		c.ProcessedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}
