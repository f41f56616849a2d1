package usecase

import (
	"context"
	"fmt"

	"media-pipeline/internal/domain/model"
	"media-pipeline/internal/domain/ports/repository"
	ports "media-pipeline/internal/domain/ports/usecase"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ ports.StatusAggregator = (*aggregatorUC)(nil)

type aggregatorUC struct {
	outputs     repository.OutputRepository
	submissions repository.SubmissionRepository
	log         *zerolog.Logger
}

func NewAggregatorUseCase(outputs repository.OutputRepository, submissions repository.SubmissionRepository, logger *zerolog.Logger) *aggregatorUC {
	l := logger.With().Str("component", "Aggregator").Logger()
	return &aggregatorUC{outputs: outputs, submissions: submissions, log: &l}
}

// Recompute reads every child status and persists the derived status.
// Calling it again without an output change writes the same value.
func (a *aggregatorUC) Recompute(ctx context.Context, submissionID string) (model.SubmissionStatus, error) {
	statuses, err := a.outputs.ListStatusesBySubmission(ctx, repository.NoTX, submissionID)
	if err != nil {
		return "", fmt.Errorf("list output statuses: %w", err)
	}
	status := model.AggregateStatus(statuses)
	if err := a.submissions.UpdateStatus(ctx, repository.NoTX, submissionID, status); err != nil {
		return "", fmt.Errorf("update submission status: %w", err)
	}
	a.log.Debug().Str("submission_id", submissionID).Str("status", string(status)).Int("outputs", len(statuses)).Msg("submission status recomputed")
	return status, nil
}
