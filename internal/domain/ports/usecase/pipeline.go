package usecase

import (
	"context"

	"media-pipeline/internal/domain/model"
)

// StatusAggregator recomputes a submission's derived status.
type StatusAggregator interface {
	Recompute(ctx context.Context, submissionID string) (model.SubmissionStatus, error)
}

// StageRunner is what the worker dispatcher routes jobs to.
type StageRunner interface {
	GenerateScript(ctx context.Context, p model.GenerateScriptPayload, attempt model.Attempt) error
	GenerateMediaFromScript(ctx context.Context, p model.GenerateMediaPayload, attempt model.Attempt) error
	PostProcess(ctx context.Context, p model.PostProcessPayload, attempt model.Attempt) error
	CompleteVideo(ctx context.Context, p model.CompleteVideoPayload, attempt model.Attempt) error
}

// CompletionHandler translates provider webhooks into output transitions.
// Both methods return false when no PROCESSING output matches.
type CompletionHandler interface {
	HandleCompletion(ctx context.Context, field model.CorrelationField, correlationID, resultURL string) (bool, error)
	HandleFailure(ctx context.Context, field model.CorrelationField, correlationID, message string) (bool, error)
}

// Reclaimer fails outputs stuck in PROCESSING.
type Reclaimer interface {
	ReclaimStale(ctx context.Context) (*model.SweepReport, error)
}
