package queue

import (
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"media-pipeline/internal/domain"
	"media-pipeline/internal/domain/model"
	"media-pipeline/internal/domain/ports/adapter"
)

// ClassPolicy is the retry policy of one class of jobs.
type ClassPolicy struct {
	Attempts int
	Backoff  model.BackoffPolicy
}

// Policy maps job types onto retry classes. Text jobs are cheap and retried
// quickly; video jobs wait on slow providers and back off longer.
type Policy struct {
	Text  ClassPolicy
	Media ClassPolicy
	Video ClassPolicy
}

// Retention bounds how many finished jobs are kept and for how long.
type Retention struct {
	CompletedAge   time.Duration
	CompletedCount int
	FailedAge      time.Duration
	FailedCount    int
}

func DefaultPolicy() Policy {
	return Policy{
		Text:  ClassPolicy{Attempts: 3, Backoff: model.BackoffPolicy{Base: 2 * time.Second, Max: time.Minute}},
		Media: ClassPolicy{Attempts: 3, Backoff: model.BackoffPolicy{Base: 5 * time.Second, Max: 2 * time.Minute}},
		Video: ClassPolicy{Attempts: 3, Backoff: model.BackoffPolicy{Base: 10 * time.Second, Max: 5 * time.Minute}},
	}
}

func DefaultRetention() Retention {
	return Retention{
		CompletedAge:   24 * time.Hour,
		CompletedCount: 1000,
		FailedAge:      7 * 24 * time.Hour,
		FailedCount:    5000,
	}
}

// For returns the class policy of t.
func (p Policy) For(t model.JobType) ClassPolicy {
	s := string(t)
	switch {
	case strings.HasSuffix(s, ".script"):
		return p.Text
	case strings.HasPrefix(s, string(model.KindVideo)+"."):
		return p.Video
	default:
		return p.Media
	}
}

func newJob(p model.Payload, raw []byte, opts *adapter.EnqueueOptions, pol Policy, now time.Time) *model.Job {
	cp := pol.For(p.JobType())
	var delay time.Duration
	if opts != nil {
		if opts.Attempts > 0 {
			cp.Attempts = opts.Attempts
		}
		if opts.Backoff.Base > 0 {
			cp.Backoff = opts.Backoff
		}
		delay = opts.Delay
	}
	if cp.Attempts <= 0 {
		cp.Attempts = 1
	}
	state := model.JobWaiting
	if delay > 0 {
		state = model.JobDelayed
	}
	return &model.Job{
		ID:          ulid.Make().String(),
		Type:        p.JobType(),
		Payload:     raw,
		State:       state,
		MaxAttempts: cp.Attempts,
		Backoff:     cp.Backoff,
		CreatedAt:   now,
		RunAt:       now.Add(delay),
	}
}

// errStalled is recorded on a job whose worker stopped reporting. A stall
// uses up an attempt so a job that crashes its worker cannot loop forever.
var errStalled = errors.New("job stalled: worker stopped reporting")

// applyFailure records a failed attempt on job and reports whether it will
// run again. Permanent causes skip the remaining attempts.
func applyFailure(job *model.Job, cause error, now time.Time) bool {
	job.AttemptsMade++
	if cause != nil {
		job.FailedReason = cause.Error()
	}
	if !domain.IsPermanent(cause) && job.AttemptsMade < job.MaxAttempts {
		job.State = model.JobDelayed
		job.RunAt = now.Add(job.Backoff.Delay(job.AttemptsMade))
		return true
	}
	job.State = model.JobFailed
	job.FinishedAt = &now
	return false
}

func applyComplete(job *model.Job, result []byte, now time.Time) {
	job.AttemptsMade++
	job.State = model.JobCompleted
	job.Result = result
	job.Progress = 100
	job.FinishedAt = &now
}
