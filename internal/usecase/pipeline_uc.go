package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"media-pipeline/internal/domain"
	"media-pipeline/internal/domain/model"
	"media-pipeline/internal/domain/ports/adapter"
	"media-pipeline/internal/domain/ports/repository"
	ports "media-pipeline/internal/domain/ports/usecase"
)

// Compile-time check
var _ PipelineUseCase = (*pipelineUC)(nil)

// PipelineUseCase is the API-facing entry point: it creates work and reads
// state, while stage services do the actual generation on workers.
type PipelineUseCase interface {
	CreateSubmission(ctx context.Context, in CreateSubmissionInput) (*SubmissionView, error)
	GetSubmission(ctx context.Context, id string) (*SubmissionView, error)
	GetOutput(ctx context.Context, kind model.MediaKind, id string) (*model.Output, error)
	// UpdateScript replaces the reviewed script of a SCRIPT_READY output.
	UpdateScript(ctx context.Context, kind model.MediaKind, id, script string) (*model.Output, error)
	// RequestMedia stores customization and enqueues the media phase.
	RequestMedia(ctx context.Context, kind model.MediaKind, id string, c *model.Customization) (*model.Job, error)
	// Regenerate resets a finished output to SCRIPT_READY and re-runs media only.
	Regenerate(ctx context.Context, kind model.MediaKind, id string) (*model.Job, error)
	JobStatus(ctx context.Context, id string) (*model.JobStatus, error)
	RemoveJob(ctx context.Context, id string) error
}

type CreateSubmissionInput struct {
	OrganizationID string
	ArticleID      string
	Language       string
	Kinds          []model.MediaKind
}

type SubmissionView struct {
	Submission *model.Submission
	Outputs    []*model.Output
}

type pipelineUC struct {
	tm          repository.TransactionManager
	submissions repository.SubmissionRepository
	outputs     repository.OutputRepository
	articles    repository.ArticleRepository
	queue       adapter.JobQueue
	aggregator  ports.StatusAggregator
	now         func() time.Time
	log         *zerolog.Logger
}

func NewPipelineUseCase(
	tm repository.TransactionManager,
	submissions repository.SubmissionRepository,
	outputs repository.OutputRepository,
	articles repository.ArticleRepository,
	queue adapter.JobQueue,
	aggregator ports.StatusAggregator,
	logger *zerolog.Logger,
) *pipelineUC {
	l := logger.With().Str("component", "Pipeline").Logger()
	return &pipelineUC{
		tm:          tm,
		submissions: submissions,
		outputs:     outputs,
		articles:    articles,
		queue:       queue,
		aggregator:  aggregator,
		now:         time.Now,
		log:         &l,
	}
}

func (u *pipelineUC) CreateSubmission(ctx context.Context, in CreateSubmissionInput) (*SubmissionView, error) {
	if strings.TrimSpace(in.ArticleID) == "" {
		return nil, fmt.Errorf("%w: article_id is required", domain.ErrInvalidArgument)
	}
	if len(in.Kinds) == 0 {
		return nil, fmt.Errorf("%w: at least one kind is required", domain.ErrInvalidArgument)
	}
	kinds := make([]model.MediaKind, 0, len(in.Kinds))
	seen := make(map[model.MediaKind]struct{}, len(in.Kinds))
	for _, k := range in.Kinds {
		if _, ok := model.ParseMediaKind(string(k)); !ok {
			return nil, fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidArgument, k)
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		kinds = append(kinds, k)
	}

	article, err := u.articles.FindByID(ctx, repository.NoTX, in.ArticleID)
	if err != nil {
		return nil, err
	}
	if in.OrganizationID != "" && article.OrganizationID != "" && article.OrganizationID != in.OrganizationID {
		return nil, domain.ErrNotFound
	}

	now := u.now()
	sub := &model.Submission{
		ID:             uuid.NewString(),
		OrganizationID: article.OrganizationID,
		ArticleID:      article.ID,
		Language:       in.Language,
		Status:         model.SubmissionPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	outputs := make([]*model.Output, 0, len(kinds))
	for _, k := range kinds {
		outputs = append(outputs, &model.Output{
			ID:             uuid.NewString(),
			SubmissionID:   sub.ID,
			OrganizationID: sub.OrganizationID,
			ArticleID:      sub.ArticleID,
			Kind:           k,
			Language:       sub.Language,
			Status:         model.OutputPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}

	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := u.submissions.Create(ctx, tx, sub); err != nil {
			return err
		}
		for _, o := range outputs {
			if err := u.outputs.Create(ctx, tx, o); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create submission: %w", err)
	}

	// Jobs carry ids only, so they are enqueued after the rows are committed.
	failed := 0
	for _, o := range outputs {
		_, err := u.queue.Enqueue(ctx, model.GenerateScriptPayload{
			Kind:      o.Kind,
			OutputID:  o.ID,
			ArticleID: o.ArticleID,
			Language:  o.Language,
		}, nil)
		if err == nil {
			continue
		}
		failed++
		u.log.Error().Err(err).Str("output_id", o.ID).Str("kind", string(o.Kind)).Msg("enqueue script job")
		prev := o.Status
		if ferr := o.Fail("enqueue script job: "+err.Error(), u.now()); ferr == nil {
			if uerr := u.outputs.Update(ctx, repository.NoTX, o, prev); uerr != nil {
				u.log.Error().Err(uerr).Str("output_id", o.ID).Msg("persist enqueue failure")
			}
		}
	}
	if failed > 0 {
		if st, err := u.aggregator.Recompute(ctx, sub.ID); err == nil {
			sub.Status = st
		}
	}
	u.log.Info().Str("submission_id", sub.ID).Int("outputs", len(outputs)).Msg("submission created")
	return &SubmissionView{Submission: sub, Outputs: outputs}, nil
}

func (u *pipelineUC) GetSubmission(ctx context.Context, id string) (*SubmissionView, error) {
	sub, err := u.submissions.FindByID(ctx, repository.NoTX, id)
	if err != nil {
		return nil, err
	}
	outs, err := u.outputs.ListBySubmission(ctx, repository.NoTX, id)
	if err != nil {
		return nil, err
	}
	return &SubmissionView{Submission: sub, Outputs: outs}, nil
}

func (u *pipelineUC) GetOutput(ctx context.Context, kind model.MediaKind, id string) (*model.Output, error) {
	return u.outputs.FindByID(ctx, repository.NoTX, kind, id)
}

func (u *pipelineUC) UpdateScript(ctx context.Context, kind model.MediaKind, id, script string) (*model.Output, error) {
	script = strings.TrimSpace(script)
	if script == "" {
		return nil, domain.ErrEmptyScript
	}
	if jsonScript(kind) {
		script = extractJSON(script)
	}
	if err := validateScript(kind, script); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	o, err := u.outputs.FindByID(ctx, repository.NoTX, kind, id)
	if err != nil {
		return nil, err
	}
	if o.Status != model.OutputScriptReady {
		return nil, fmt.Errorf("%w: script can only be edited in %s, output is %s", domain.ErrInvalidTransition, model.OutputScriptReady, o.Status)
	}
	o.Script = script
	o.UpdatedAt = u.now()
	if err := u.outputs.Update(ctx, repository.NoTX, o, model.OutputScriptReady); err != nil {
		return nil, err
	}
	return o, nil
}

func (u *pipelineUC) RequestMedia(ctx context.Context, kind model.MediaKind, id string, c *model.Customization) (*model.Job, error) {
	o, err := u.outputs.FindByID(ctx, repository.NoTX, kind, id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(o.Script) == "" {
		return nil, domain.ErrEmptyScript
	}
	if _, err := model.Transition(o.Status, model.EventBeginMedia); err != nil {
		return nil, err
	}
	if kind == model.KindVideo {
		eff := o.Customization
		if c != nil {
			eff = *c
		}
		if eff.AvatarID == "" {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, domain.ErrMissingAvatar)
		}
		if eff.VoiceID == "" {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, domain.ErrMissingVoice)
		}
	}
	if c != nil {
		o.Customization = *c
		o.UpdatedAt = u.now()
		if err := u.outputs.Update(ctx, repository.NoTX, o, o.Status); err != nil {
			return nil, err
		}
	}
	return u.queue.Enqueue(ctx, model.GenerateMediaPayload{Kind: kind, OutputID: id, Customization: c}, nil)
}

func (u *pipelineUC) Regenerate(ctx context.Context, kind model.MediaKind, id string) (*model.Job, error) {
	o, err := u.outputs.FindByID(ctx, repository.NoTX, kind, id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(o.Script) == "" {
		return nil, domain.ErrEmptyScript
	}
	prev := o.Status
	if err := o.Apply(model.EventRegenerate, u.now()); err != nil {
		return nil, err
	}
	if err := u.outputs.Update(ctx, repository.NoTX, o, prev); err != nil {
		return nil, err
	}
	if _, err := u.aggregator.Recompute(ctx, o.SubmissionID); err != nil {
		u.log.Error().Err(err).Str("submission_id", o.SubmissionID).Msg("recompute after regenerate")
	}
	job, err := u.queue.Enqueue(ctx, model.GenerateMediaPayload{Kind: kind, OutputID: id}, nil)
	if err != nil {
		return nil, fmt.Errorf("enqueue media job: %w", err)
	}
	u.log.Info().Str("output_id", id).Str("kind", string(kind)).Str("from", string(prev)).Str("job_id", job.ID).Msg("output regenerating")
	return job, nil
}

func (u *pipelineUC) JobStatus(ctx context.Context, id string) (*model.JobStatus, error) {
	return u.queue.Status(ctx, id)
}

func (u *pipelineUC) RemoveJob(ctx context.Context, id string) error {
	return u.queue.Remove(ctx, id)
}
