// Package memory is a process-local implementation of the repository ports.
// It backs dev runs without Postgres and the usecase and API tests, and
// honours the same conditional-update contract as the Postgres repos.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	"media-pipeline/internal/domain"
	"media-pipeline/internal/domain/model"
	"media-pipeline/internal/domain/ports/repository"
)

// Compile-time checks
var (
	_ repository.OutputRepository     = (*OutputRepo)(nil)
	_ repository.SubmissionRepository = (*SubmissionRepo)(nil)
	_ repository.ArticleRepository    = (*ArticleRepo)(nil)
	_ repository.TransactionManager   = (*TxManager)(nil)
)

// Store holds every table behind one lock.
type Store struct {
	mu          sync.Mutex
	outputs     map[string]*model.Output
	submissions map[string]*model.Submission
	articles    map[string]*model.Article
	now         func() time.Time
}

func NewStore() *Store {
	return &Store{
		outputs:     make(map[string]*model.Output),
		submissions: make(map[string]*model.Submission),
		articles:    make(map[string]*model.Article),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the clock used to stamp updated_at.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Store) Outputs() *OutputRepo         { return &OutputRepo{s} }
func (s *Store) Submissions() *SubmissionRepo { return &SubmissionRepo{s} }
func (s *Store) Articles() *ArticleRepo       { return &ArticleRepo{s} }
func (s *Store) TxManager() *TxManager        { return &TxManager{s} }

// PutArticle seeds or replaces an article.
func (s *Store) PutArticle(a *model.Article) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.articles[a.ID] = &cp
}

// TxManager runs fn directly. Writes are not rolled back on error.
type TxManager struct{ s *Store }

func (t *TxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, repository.NoTX)
}

type OutputRepo struct{ s *Store }

func outputKey(kind model.MediaKind, id string) string { return string(kind) + "/" + id }

func (r *OutputRepo) Create(ctx context.Context, _ repository.Tx, o *model.Output) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	now := r.s.now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	o.Version = 0
	key := outputKey(o.Kind, o.ID)
	if _, ok := r.s.outputs[key]; ok {
		return domain.ErrAlreadyExists
	}
	if err := r.s.checkCorrelation(o); err != nil {
		return err
	}
	r.s.outputs[key] = cloneOutput(o)
	return nil
}

func (r *OutputRepo) FindByID(ctx context.Context, _ repository.Tx, kind model.MediaKind, id string) (*model.Output, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.outputs[outputKey(kind, id)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneOutput(o), nil
}

func (r *OutputRepo) Update(ctx context.Context, _ repository.Tx, o *model.Output, expect model.OutputStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := outputKey(o.Kind, o.ID)
	cur, ok := r.s.outputs[key]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Status != expect || cur.Version != o.Version {
		return fmt.Errorf("%w: %s %s is %s v%d, expected %s v%d", domain.ErrStaleState, o.Kind, o.ID, cur.Status, cur.Version, expect, o.Version)
	}
	if err := r.s.checkCorrelation(o); err != nil {
		return err
	}
	o.UpdatedAt = r.s.now()
	o.Version++
	r.s.outputs[key] = cloneOutput(o)
	return nil
}

// checkCorrelation mirrors the partial unique indexes on correlation ids.
func (s *Store) checkCorrelation(o *model.Output) error {
	if o.Status != model.OutputProcessing {
		return nil
	}
	for _, other := range s.outputs {
		if other.Kind != o.Kind || other.ID == o.ID || other.Status != model.OutputProcessing {
			continue
		}
		if sameRef(other.RenderJobID, o.RenderJobID) || sameRef(other.CaptionJobID, o.CaptionJobID) {
			return domain.ErrAlreadyExists
		}
	}
	return nil
}

func sameRef(a, b *string) bool { return a != nil && b != nil && *a == *b }

func correlation(o *model.Output, field model.CorrelationField) *string {
	switch field {
	case model.CorrelationRender:
		return o.RenderJobID
	case model.CorrelationCaption:
		return o.CaptionJobID
	}
	return nil
}

func (r *OutputRepo) FindProcessingByCorrelation(ctx context.Context, _ repository.Tx, kind model.MediaKind, field model.CorrelationField, id string) (*model.Output, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, o := range r.s.outputs {
		if o.Kind != kind || o.Status != model.OutputProcessing {
			continue
		}
		if ref := correlation(o, field); ref != nil && *ref == id {
			return cloneOutput(o), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *OutputRepo) ListStale(ctx context.Context, _ repository.Tx, kind model.MediaKind, cutoff time.Time, limit int) ([]*model.Output, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if limit <= 0 {
		limit = 200
	}
	var out []*model.Output
	for _, o := range r.s.outputs {
		if o.Kind == kind && o.Status == model.OutputProcessing && o.UpdatedAt.Before(cutoff) {
			out = append(out, cloneOutput(o))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].UpdatedAt.Before(out[b].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *OutputRepo) ListStatusesBySubmission(ctx context.Context, _ repository.Tx, submissionID string) ([]model.OutputStatus, error) {
	outs, err := r.ListBySubmission(ctx, repository.NoTX, submissionID)
	if err != nil {
		return nil, err
	}
	statuses := make([]model.OutputStatus, 0, len(outs))
	for _, o := range outs {
		statuses = append(statuses, o.Status)
	}
	return statuses, nil
}

func (r *OutputRepo) ListBySubmission(ctx context.Context, _ repository.Tx, submissionID string) ([]*model.Output, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Output
	for _, o := range r.s.outputs {
		if o.SubmissionID == submissionID {
			out = append(out, cloneOutput(o))
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Kind != out[b].Kind {
			return out[a].Kind < out[b].Kind
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out, nil
}

type SubmissionRepo struct{ s *Store }

func (r *SubmissionRepo) Create(ctx context.Context, _ repository.Tx, sub *model.Submission) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if _, ok := r.s.submissions[sub.ID]; ok {
		return domain.ErrAlreadyExists
	}
	cp := *sub
	r.s.submissions[sub.ID] = &cp
	return nil
}

func (r *SubmissionRepo) FindByID(ctx context.Context, _ repository.Tx, id string) (*model.Submission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.s.submissions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (r *SubmissionRepo) UpdateStatus(ctx context.Context, _ repository.Tx, id string, status model.SubmissionStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.s.submissions[id]
	if !ok {
		return domain.ErrNotFound
	}
	if sub.Status != status {
		sub.Status = status
		sub.UpdatedAt = r.s.now()
	}
	return nil
}

type ArticleRepo struct{ s *Store }

func (r *ArticleRepo) FindByID(ctx context.Context, _ repository.Tx, id string) (*model.Article, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.articles[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func cloneOutput(o *model.Output) *model.Output {
	c := *o
	c.Error = clonePtr(o.Error)
	c.RenderJobID = clonePtr(o.RenderJobID)
	c.CaptionJobID = clonePtr(o.CaptionJobID)
	c.Words = append([]model.WordTiming(nil), o.Words...)
	c.Questions = append([]model.Question(nil), o.Questions...)
	c.Tags = append([]string(nil), o.Tags...)
	if o.Segments != nil {
		c.Segments = make([]model.Segment, len(o.Segments))
		for i, s := range o.Segments {
			c.Segments[i] = s
			if s.Question != nil {
				q := *s.Question
				c.Segments[i].Question = &q
			}
		}
	}
	return &c
}

func clonePtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
