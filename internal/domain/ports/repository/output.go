package repository

import (
	"context"
	"time"

	"media-pipeline/internal/domain/model"
)

// OutputRepository persists outputs, one table per media kind.
//
// Update is conditional: the row is written only while its stored status
// still equals expect and its stored version still equals o.Version,
// otherwise domain.ErrStaleState is returned and nothing changes. A
// successful write bumps o.Version, so a caller may keep writing through
// the same copy. Any other write in between makes that copy stale.
type OutputRepository interface {
	Create(ctx context.Context, tx Tx, o *model.Output) error
	FindByID(ctx context.Context, tx Tx, kind model.MediaKind, id string) (*model.Output, error)
	Update(ctx context.Context, tx Tx, o *model.Output, expect model.OutputStatus) error

	// FindProcessingByCorrelation returns the PROCESSING output of kind whose
	// correlation field equals id, or domain.ErrNotFound.
	FindProcessingByCorrelation(ctx context.Context, tx Tx, kind model.MediaKind, field model.CorrelationField, id string) (*model.Output, error)

	// ListStale returns PROCESSING outputs of kind last updated before cutoff.
	ListStale(ctx context.Context, tx Tx, kind model.MediaKind, cutoff time.Time, limit int) ([]*model.Output, error)

	// ListStatusesBySubmission returns the status of every output of every kind.
	ListStatusesBySubmission(ctx context.Context, tx Tx, submissionID string) ([]model.OutputStatus, error)
	ListBySubmission(ctx context.Context, tx Tx, submissionID string) ([]*model.Output, error)
}
