package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"media-pipeline/internal/domain"
	"media-pipeline/internal/domain/model"
	"media-pipeline/internal/domain/ports/adapter"
	"media-pipeline/internal/domain/ports/repository"
	"media-pipeline/internal/domain/ports/usecase"
	"media-pipeline/internal/infra/metrics"
)

type DispatcherOptions struct {
	// PollWait is how long one Reserve call blocks.
	PollWait time.Duration
	// JobTimeout bounds a single attempt.
	JobTimeout time.Duration
	// StallTimeout is how long a job may stay active before its attempt is written off.
	StallTimeout time.Duration
	// MaintenanceInterval is the period of stall recovery and depth metrics.
	MaintenanceInterval time.Duration
}

// Dispatcher pulls jobs off the queue and routes them to stage services by
// payload type. Failures go back to the queue, which owns retries.
type Dispatcher struct {
	queue      adapter.JobQueue
	stages     usecase.StageRunner
	aggregator usecase.StatusAggregator
	outputs    repository.OutputRepository
	opts       DispatcherOptions
	log        *zerolog.Logger
}

func NewDispatcher(
	queue adapter.JobQueue,
	stages usecase.StageRunner,
	aggregator usecase.StatusAggregator,
	outputs repository.OutputRepository,
	opts DispatcherOptions,
	log *zerolog.Logger,
) *Dispatcher {
	l := log.With().Str("component", "Dispatcher").Logger()
	if opts.PollWait <= 0 {
		opts.PollWait = 5 * time.Second
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 15 * time.Minute
	}
	if opts.StallTimeout <= 0 {
		opts.StallTimeout = opts.JobTimeout + time.Minute
	}
	if opts.MaintenanceInterval <= 0 {
		opts.MaintenanceInterval = time.Minute
	}
	return &Dispatcher{
		queue:      queue,
		stages:     stages,
		aggregator: aggregator,
		outputs:    outputs,
		opts:       opts,
		log:        &l,
	}
}

// Start runs the worker loops on pool and the maintenance loop. It returns
// immediately; cancel ctx and call pool.Wait to stop.
func (d *Dispatcher) Start(ctx context.Context, pool *Pool) {
	d.log.Info().Int("workers", pool.Size()).Msg("dispatcher started")
	pool.Start(ctx, d.Next)
	go d.maintain(ctx)
}

// Next reserves one job and processes it. Idle polls return nil.
func (d *Dispatcher) Next(ctx context.Context) error {
	job, err := d.queue.Reserve(ctx, d.opts.PollWait)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, domain.ErrQueueClosed) {
			<-ctx.Done()
			return nil
		}
		return fmt.Errorf("reserve job: %w", err)
	}
	_ = d.ProcessJob(ctx, job)
	return nil
}

// ProcessJob runs one attempt of job and reports the outcome to the queue.
// The stage error is returned for callers that want it; it has already been
// logged and recorded.
func (d *Dispatcher) ProcessJob(ctx context.Context, job *model.Job) error {
	l := d.log.With().Str("job_id", job.ID).Str("type", string(job.Type)).Int("attempt", job.Attempt().Number).Logger()
	start := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, d.opts.JobTimeout)
	err := d.safeRoute(runCtx, job)
	cancel()

	// Bookkeeping must land even when the worker is shutting down.
	bk, bkCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer bkCancel()

	if err == nil {
		if cerr := d.queue.Complete(bk, job, json.RawMessage(`{"ok":true}`)); cerr != nil {
			l.Error().Err(cerr).Msg("mark job completed")
		}
		metrics.ObserveJob(string(job.Type), "completed", time.Since(start))
		l.Info().Dur("took", time.Since(start)).Msg("job completed")
		return nil
	}

	retried, ferr := d.queue.Fail(bk, job, err)
	if ferr != nil {
		l.Error().Err(ferr).Msg("record job failure")
	}
	outcome := "dead"
	if retried {
		outcome = "retried"
	}
	metrics.ObserveJob(string(job.Type), outcome, time.Since(start))
	ev := l.Warn()
	if !retried {
		ev = l.Error()
	}
	ev.Err(err).Str("outcome", outcome).Bool("permanent", domain.IsPermanent(err)).Msg("job failed")
	return err
}

// safeRoute turns a panicking stage into an ordinary failed attempt so the
// queue still counts it.
func (d *Dispatcher) safeRoute(ctx context.Context, job *model.Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.IncWorkerPanic()
			d.log.Error().Str("job_id", job.ID).Interface("panic", rec).Bytes("stack", debug.Stack()).Msg("stage panicked")
			err = domain.Transient("route job", fmt.Errorf("panic: %v", rec))
		}
	}()
	return d.route(ctx, job)
}

func (d *Dispatcher) route(ctx context.Context, job *model.Job) error {
	payload, err := model.DecodePayload(job.Type, job.Payload)
	if err != nil {
		return domain.Precondition("decode payload", err)
	}
	attempt := job.Attempt()

	switch p := payload.(type) {
	case model.GenerateScriptPayload:
		if err := d.stages.GenerateScript(ctx, p, attempt); err != nil {
			return err
		}
		d.recompute(ctx, p.Kind, p.OutputID)
	case model.GenerateMediaPayload:
		if err := d.stages.GenerateMediaFromScript(ctx, p, attempt); err != nil {
			return err
		}
		d.recompute(ctx, p.Kind, p.OutputID)
	case model.PostProcessPayload:
		return d.stages.PostProcess(ctx, p, attempt)
	case model.CompleteVideoPayload:
		return d.stages.CompleteVideo(ctx, p, attempt)
	default:
		return domain.Precondition("route job", fmt.Errorf("%w: %T", domain.ErrUnknownJobType, payload))
	}
	return nil
}

// recompute refreshes the owning submission after a stage success. Video
// media jobs end in PROCESSING, which the submission reflects too.
func (d *Dispatcher) recompute(ctx context.Context, kind model.MediaKind, outputID string) {
	if d.aggregator == nil || d.outputs == nil {
		return
	}
	o, err := d.outputs.FindByID(ctx, repository.NoTX, kind, outputID)
	if err != nil {
		d.log.Error().Err(err).Str("output_id", outputID).Msg("load output for aggregation")
		return
	}
	if _, err := d.aggregator.Recompute(ctx, o.SubmissionID); err != nil {
		d.log.Error().Err(err).Str("submission_id", o.SubmissionID).Msg("recompute submission status")
	}
}

func (d *Dispatcher) maintain(ctx context.Context) {
	ticker := time.NewTicker(d.opts.MaintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("dispatcher stopping")
			return
		case <-ticker.C:
			d.Maintain(ctx)
		}
	}
}

// Maintain recovers stalled jobs and publishes queue depth.
func (d *Dispatcher) Maintain(ctx context.Context) {
	n, err := d.queue.RecoverStalled(ctx, d.opts.StallTimeout)
	if err != nil {
		d.log.Error().Err(err).Msg("recover stalled jobs")
	} else if n > 0 {
		metrics.IncStalledRecovered(n)
		d.log.Warn().Int("count", n).Msg("stalled jobs recovered")
	}
	counts, err := d.queue.Counts(ctx)
	if err != nil {
		d.log.Error().Err(err).Msg("queue counts")
		return
	}
	byState := make(map[string]int, len(counts))
	for s, c := range counts {
		byState[string(s)] = c
	}
	metrics.SetQueueDepth(byState)
}
