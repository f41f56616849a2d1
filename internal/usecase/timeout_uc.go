package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"media-pipeline/internal/domain"
	"media-pipeline/internal/domain/model"
	"media-pipeline/internal/domain/ports/adapter"
	"media-pipeline/internal/domain/ports/repository"
	ports "media-pipeline/internal/domain/ports/usecase"
	"media-pipeline/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ ports.Reclaimer = (*reclaimerUC)(nil)

// ReclaimOptions configure the stuck-output sweep.
type ReclaimOptions struct {
	// Threshold is how long an output may sit in PROCESSING untouched.
	Threshold time.Duration
	// PerKind overrides Threshold for individual kinds.
	PerKind map[model.MediaKind]time.Duration
	// BatchSize caps rows fetched per kind per sweep.
	BatchSize int
}

type reclaimerUC struct {
	outputs    repository.OutputRepository
	aggregator ports.StatusAggregator
	notifier   adapter.Notifier
	bestEffort *BestEffort
	opts       ReclaimOptions
	now        func() time.Time
	log        *zerolog.Logger
}

func NewReclaimerUseCase(
	outputs repository.OutputRepository,
	aggregator ports.StatusAggregator,
	notifier adapter.Notifier,
	bestEffort *BestEffort,
	opts ReclaimOptions,
	logger *zerolog.Logger,
) *reclaimerUC {
	l := logger.With().Str("component", "Reclaimer").Logger()
	if opts.Threshold <= 0 {
		opts.Threshold = 30 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 200
	}
	if bestEffort == nil {
		bestEffort = NewBestEffort(logger, 30*time.Second)
	}
	return &reclaimerUC{
		outputs:    outputs,
		aggregator: aggregator,
		notifier:   notifier,
		bestEffort: bestEffort,
		opts:       opts,
		now:        time.Now,
		log:        &l,
	}
}

func (r *reclaimerUC) threshold(kind model.MediaKind) time.Duration {
	if d, ok := r.opts.PerKind[kind]; ok && d > 0 {
		return d
	}
	return r.opts.Threshold
}

// ReclaimStale fails every output stuck in PROCESSING past its threshold and
// recomputes each affected submission once. Per-row problems are counted in
// the report rather than aborting the sweep.
func (r *reclaimerUC) ReclaimStale(ctx context.Context) (*model.SweepReport, error) {
	report := &model.SweepReport{}
	seen := make(map[string]struct{})
	now := r.now()

	for _, kind := range model.AllKinds {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		limit := r.threshold(kind)
		stale, err := r.outputs.ListStale(ctx, repository.NoTX, kind, now.Add(-limit), r.opts.BatchSize)
		if err != nil {
			r.log.Error().Err(err).Str("kind", string(kind)).Msg("list stale outputs")
			report.Errors++
			continue
		}
		for _, o := range stale {
			reason := diagnose(o, limit)
			prev := o.Status
			if err := o.Fail(reason, now); err != nil {
				report.Errors++
				continue
			}
			if err := r.outputs.Update(ctx, repository.NoTX, o, prev); err != nil {
				if errors.Is(err, domain.ErrStaleState) {
					// a webhook or worker wrote the row after it was listed
					continue
				}
				r.log.Error().Err(err).Str("kind", string(kind)).Str("output_id", o.ID).Msg("fail stale output")
				report.Errors++
				continue
			}
			r.log.Warn().Str("kind", string(kind)).Str("output_id", o.ID).Str("reason", reason).Msg("reclaimed stuck output")
			metrics.IncReclaimed(string(kind))
			report.Reclaimed = append(report.Reclaimed, model.ReclaimedOutput{
				Kind:         kind,
				OutputID:     o.ID,
				SubmissionID: o.SubmissionID,
				Reason:       reason,
			})
			if o.SubmissionID != "" {
				if _, ok := seen[o.SubmissionID]; !ok {
					seen[o.SubmissionID] = struct{}{}
					report.Submissions = append(report.Submissions, o.SubmissionID)
				}
			}
		}
	}

	for _, id := range report.Submissions {
		if r.aggregator == nil {
			break
		}
		if _, err := r.aggregator.Recompute(ctx, id); err != nil {
			r.log.Error().Err(err).Str("submission_id", id).Msg("recompute after sweep")
			report.Errors++
		}
	}

	if len(report.Reclaimed) > 0 && r.notifier != nil {
		text := alertText(report)
		r.bestEffort.Run(ctx, "reclaim_alert", func(ctx context.Context) error {
			return r.notifier.Notify(ctx, text)
		})
	}
	return report, nil
}

// diagnose names the upstream step that most likely never answered.
func diagnose(o *model.Output, limit time.Duration) string {
	prefix := fmt.Sprintf("timed out after %s in PROCESSING", limit)
	if o.Kind == model.KindVideo {
		switch {
		case o.CaptionJobID != nil:
			return fmt.Sprintf("%s: caption webhook never arrived (caption job %s)", prefix, *o.CaptionJobID)
		case o.Stage == model.StagePostProcessing:
			return prefix + ": post-processing job never finished"
		case o.Stage == model.StageFinalizing:
			return prefix + ": finalization never finished"
		case o.RenderJobID != nil:
			return fmt.Sprintf("%s: render webhook never arrived (render job %s)", prefix, *o.RenderJobID)
		default:
			return prefix + ": render request likely never succeeded (no render job id)"
		}
	}
	stage := o.Stage
	if stage == model.StageNone {
		stage = "unknown"
	}
	return fmt.Sprintf("%s during %s stage: worker likely crashed or provider never responded", prefix, stage)
}

func alertText(rep *model.SweepReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Timeout sweep reclaimed %d output(s) across %d submission(s)\n", len(rep.Reclaimed), len(rep.Submissions))
	for i, ro := range rep.Reclaimed {
		if i == 10 {
			fmt.Fprintf(&b, "... and %d more\n", len(rep.Reclaimed)-i)
			break
		}
		fmt.Fprintf(&b, "- %s %s: %s\n", ro.Kind, ro.OutputID, ro.Reason)
	}
	return b.String()
}
