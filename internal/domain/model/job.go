package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"media-pipeline/internal/domain"
)

type JobType string

const (
	jobSuffixScript = ".script"
	jobSuffixMedia  = ".media"

	JobVideoPostProcess JobType = "video.postprocess"
	JobVideoComplete    JobType = "video.complete"
)

// ScriptJobType is the script-generation tag for kind, e.g. "audio.script".
func ScriptJobType(k MediaKind) JobType { return JobType(string(k) + jobSuffixScript) }

// MediaJobType is the media-generation tag for kind, e.g. "video.media".
func MediaJobType(k MediaKind) JobType { return JobType(string(k) + jobSuffixMedia) }

type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobDelayed   JobState = "delayed"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// BackoffPolicy is exponential: delay(n) = Base * 2^(n-1), capped at Max.
type BackoffPolicy struct {
	Base time.Duration `json:"base"`
	Max  time.Duration `json:"max,omitempty"`
}

// Delay returns the wait before the attempt following attemptsMade failures.
func (b BackoffPolicy) Delay(attemptsMade int) time.Duration {
	if b.Base <= 0 || attemptsMade <= 0 {
		return 0
	}
	d := b.Base
	for i := 1; i < attemptsMade; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// Job is the queue's record of one unit of work. Payloads carry ids only.
type Job struct {
	ID           string          `json:"id"`
	Type         JobType         `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	State        JobState        `json:"state"`
	AttemptsMade int             `json:"attempts_made"`
	MaxAttempts  int             `json:"max_attempts"`
	Backoff      BackoffPolicy   `json:"backoff"`
	Progress     int             `json:"progress"`
	Result       json.RawMessage `json:"result,omitempty"`
	FailedReason string          `json:"failed_reason,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	RunAt        time.Time       `json:"run_at"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
}

// Attempt describes which delivery of a job is running.
type Attempt struct {
	Number int // 1-based
	Max    int
}

// Final reports whether a failure now exhausts the job.
func (a Attempt) Final() bool { return a.Max <= 0 || a.Number >= a.Max }

// Attempt returns the attempt the worker is about to run.
func (j *Job) Attempt() Attempt {
	return Attempt{Number: j.AttemptsMade + 1, Max: j.MaxAttempts}
}

// JobStatus is the externally visible job view.
type JobStatus struct {
	ID           string          `json:"id"`
	Type         JobType         `json:"type"`
	State        JobState        `json:"state"`
	Progress     int             `json:"progress"`
	AttemptsMade int             `json:"attempts_made"`
	Result       json.RawMessage `json:"result,omitempty"`
	FailedReason string          `json:"failed_reason,omitempty"`
}

func (j *Job) Status() *JobStatus {
	return &JobStatus{
		ID:           j.ID,
		Type:         j.Type,
		State:        j.State,
		Progress:     j.Progress,
		AttemptsMade: j.AttemptsMade,
		Result:       j.Result,
		FailedReason: j.FailedReason,
	}
}

// Payload is the closed set of job payloads. Only types in this package
// implement it.
type Payload interface {
	JobType() JobType
	isPayload()
}

type GenerateScriptPayload struct {
	Kind      MediaKind `json:"kind"`
	OutputID  string    `json:"output_id"`
	ArticleID string    `json:"article_id"`
	Language  string    `json:"language"`
}

type GenerateMediaPayload struct {
	Kind          MediaKind      `json:"kind"`
	OutputID      string         `json:"output_id"`
	Customization *Customization `json:"customization,omitempty"`
}

// PostProcessPayload asks for the FFmpeg bumper/music pass on a video.
type PostProcessPayload struct {
	OutputID string `json:"output_id"`
}

// CompleteVideoPayload hands a webhook-reported artifact to a worker.
type CompleteVideoPayload struct {
	Provider      string           `json:"provider"`
	Field         CorrelationField `json:"field"`
	CorrelationID string           `json:"correlation_id"`
	ResultURL     string           `json:"result_url"`
}

func (p GenerateScriptPayload) JobType() JobType { return ScriptJobType(p.Kind) }
func (p GenerateMediaPayload) JobType() JobType  { return MediaJobType(p.Kind) }
func (PostProcessPayload) JobType() JobType      { return JobVideoPostProcess }
func (CompleteVideoPayload) JobType() JobType    { return JobVideoComplete }

func (GenerateScriptPayload) isPayload() {}
func (GenerateMediaPayload) isPayload()  {}
func (PostProcessPayload) isPayload()    {}
func (CompleteVideoPayload) isPayload()  {}

// DecodePayload restores the typed payload of a job from its tag.
func DecodePayload(t JobType, raw json.RawMessage) (Payload, error) {
	var p Payload
	s := string(t)
	switch {
	case t == JobVideoPostProcess:
		var v PostProcessPayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", t, err)
		}
		p = v
	case t == JobVideoComplete:
		var v CompleteVideoPayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", t, err)
		}
		p = v
	case strings.HasSuffix(s, jobSuffixScript):
		var v GenerateScriptPayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", t, err)
		}
		p = v
	case strings.HasSuffix(s, jobSuffixMedia):
		var v GenerateMediaPayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", t, err)
		}
		p = v
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownJobType, t)
	}
	if p.JobType() != t {
		return nil, fmt.Errorf("%w: payload kind does not match tag %s", domain.ErrUnknownJobType, t)
	}
	return p, nil
}
