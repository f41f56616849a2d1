package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"media-pipeline/internal/domain"
	"media-pipeline/internal/domain/model"
	"media-pipeline/internal/domain/ports/adapter"
	"media-pipeline/internal/domain/ports/repository"
	ports "media-pipeline/internal/domain/ports/usecase"

	"github.com/rs/zerolog"
)

// Compile-time checks
var (
	_ ports.StageRunner       = (*stageUC)(nil)
	_ ports.CompletionHandler = (*stageUC)(nil)
)

// StageOptions are the tunables of the stage services.
type StageOptions struct {
	MaxArticleTokens int
	DefaultVoiceID   string
	GuestVoiceID     string
	TextModel        string
	WorkDir          string
}

// StageDeps lists every collaborator a stage service may call.
type StageDeps struct {
	Outputs     repository.OutputRepository
	Articles    repository.ArticleRepository
	Queue       adapter.JobQueue
	Text        adapter.TextGenerator
	Tokenizer   adapter.Tokenizer
	Speech      adapter.SpeechSynthesizer
	Avatar      adapter.AvatarRenderer
	Captions    adapter.Captioner
	Transcriber adapter.Transcriber
	Storage     adapter.BlobStorage
	Post        adapter.PostProcessor
	Aggregator  ports.StatusAggregator
	BestEffort  *BestEffort
	Now         func() time.Time
}

// stageUC implements the script, media, post-processing and completion stages.
// All of them share the same output bookkeeping, so they live on one type.
type stageUC struct {
	StageDeps
	opts StageOptions
	log  *zerolog.Logger
}

func NewStageUseCase(deps StageDeps, opts StageOptions, logger *zerolog.Logger) *stageUC {
	l := logger.With().Str("component", "Stages").Logger()
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.BestEffort == nil {
		deps.BestEffort = NewBestEffort(logger, time.Minute)
	}
	if opts.MaxArticleTokens <= 0 {
		opts.MaxArticleTokens = 6000
	}
	return &stageUC{StageDeps: deps, opts: opts, log: &l}
}

func (s *stageUC) outputLog(o *model.Output) *zerolog.Logger {
	l := s.log.With().Str("output_id", o.ID).Str("kind", string(o.Kind)).Str("submission_id", o.SubmissionID).Logger()
	return &l
}

// load fetches an output, classifying a missing row as a precondition failure.
func (s *stageUC) load(ctx context.Context, op string, kind model.MediaKind, id string) (*model.Output, error) {
	o, err := s.Outputs.FindByID(ctx, repository.NoTX, kind, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.Precondition(op, fmt.Errorf("output %s/%s: %w", kind, id, err))
		}
		return nil, domain.Transient(op, err)
	}
	return o, nil
}

// advance applies ev and persists the row conditioned on the prior status.
func (s *stageUC) advance(ctx context.Context, o *model.Output, ev model.Event) error {
	prev := o.Status
	if err := o.Apply(ev, s.Now()); err != nil {
		return err
	}
	return s.Outputs.Update(ctx, repository.NoTX, o, prev)
}

// persist writes content fields without a status change.
func (s *stageUC) persist(ctx context.Context, o *model.Output) error {
	o.UpdatedAt = s.Now()
	return s.Outputs.Update(ctx, repository.NoTX, o, o.Status)
}

// settle records a stage failure on the output and returns cause.
//
// Permanent causes and failures on the final attempt move the output to
// FAILED with the error text. Otherwise the output is returned to the entry
// state of the stage (retry event) so the next delivery passes its
// precondition. An empty retry event leaves a PROCESSING output as is.
func (s *stageUC) settle(ctx context.Context, o *model.Output, retry model.Event, attempt model.Attempt, cause error) error {
	l := s.outputLog(o)
	if errors.Is(cause, domain.ErrStaleState) {
		l.Info().Err(cause).Msg("output moved underneath the stage; dropping job")
		return domain.Precondition("stage", cause)
	}

	cur, err := s.Outputs.FindByID(ctx, repository.NoTX, o.Kind, o.ID)
	if err != nil {
		l.Error().Err(err).Msg("reload output after stage failure")
		return cause
	}
	prev := cur.Status
	if prev.Terminal() {
		return cause
	}

	if domain.IsPermanent(cause) || attempt.Final() {
		if err := cur.Fail(cause.Error(), s.Now()); err != nil {
			l.Error().Err(err).Msg("fail transition rejected")
			return cause
		}
		if err := s.Outputs.Update(ctx, repository.NoTX, cur, prev); err != nil {
			l.Error().Err(err).Msg("persist failed output")
			return cause
		}
		l.Warn().Err(cause).Int("attempt", attempt.Number).Msg("output failed")
		s.aggregate(ctx, cur.SubmissionID)
		return cause
	}

	if retry == "" || prev != model.OutputProcessing {
		return cause
	}
	if err := cur.Apply(retry, s.Now()); err != nil {
		l.Error().Err(err).Msg("retry transition rejected")
		return cause
	}
	if err := s.Outputs.Update(ctx, repository.NoTX, cur, prev); err != nil {
		l.Error().Err(err).Msg("persist retry state")
		return cause
	}
	l.Info().Err(cause).Int("attempt", attempt.Number).Int("max_attempts", attempt.Max).Msg("stage failed; will retry")
	return cause
}

func (s *stageUC) aggregate(ctx context.Context, submissionID string) {
	if s.Aggregator == nil || submissionID == "" {
		return
	}
	if _, err := s.Aggregator.Recompute(ctx, submissionID); err != nil {
		s.log.Error().Err(err).Str("submission_id", submissionID).Msg("recompute submission status")
	}
}

// storageKey scopes artifacts by organization and content.
func storageKey(o *model.Output, name string) string {
	org := o.OrganizationID
	if org == "" {
		org = "default"
	}
	return path.Join("orgs", org, string(o.Kind), o.ID, name)
}

func (s *stageUC) upload(ctx context.Context, o *model.Output, name, contentType string, data []byte) (string, error) {
	url, err := s.Storage.Put(ctx, storageKey(o, name), contentType, bytes.NewReader(data))
	if err != nil {
		return "", domain.Transient("upload "+name, err)
	}
	return url, nil
}

// rehost downloads an external artifact and stores it under our key space.
func (s *stageUC) rehost(ctx context.Context, o *model.Output, srcURL, name, contentType string) (string, error) {
	rc, err := s.Storage.Fetch(ctx, srcURL)
	if err != nil {
		return "", domain.Transient("download artifact", err)
	}
	defer rc.Close()
	url, err := s.Storage.Put(ctx, storageKey(o, name), contentType, rc)
	if err != nil {
		return "", domain.Transient("store artifact", err)
	}
	return url, nil
}
