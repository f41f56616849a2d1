//go:build !integration

package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"media-pipeline/internal/domain"
	"media-pipeline/internal/domain/model"
	"media-pipeline/internal/domain/ports/repository"
)

func TestOutputRepo(t *testing.T) {
	ctx := context.Background()

	newOutput := func(s *Store, status model.OutputStatus) *model.Output {
		o := &model.Output{Kind: model.KindVideo, SubmissionID: "sub-1", Status: status}
		if err := s.Outputs().Create(ctx, repository.NoTX, o); err != nil {
			t.Fatalf("Create: %v", err)
		}
		return o
	}

	t.Run("should reject updates whose expected status is stale", func(t *testing.T) {
		s := NewStore()
		o := newOutput(s, model.OutputProcessing)
		o.Status = model.OutputCompleted
		if err := s.Outputs().Update(ctx, repository.NoTX, o, model.OutputScriptReady); !errors.Is(err, domain.ErrStaleState) {
			t.Fatalf("expected ErrStaleState, got %v", err)
		}
		got, _ := s.Outputs().FindByID(ctx, repository.NoTX, model.KindVideo, o.ID)
		if got.Status != model.OutputProcessing {
			t.Fatalf("stale update must not write, got %s", got.Status)
		}
	})

	t.Run("should reject an older copy even when the status matches", func(t *testing.T) {
		s := NewStore()
		o := newOutput(s, model.OutputProcessing)
		older, _ := s.Outputs().FindByID(ctx, repository.NoTX, model.KindVideo, o.ID)

		o.RenderJobID = model.StrPtr("render-2")
		if err := s.Outputs().Update(ctx, repository.NoTX, o, model.OutputProcessing); err != nil {
			t.Fatalf("Update: %v", err)
		}
		if o.Version != 1 {
			t.Fatalf("expected version 1 after one write, got %d", o.Version)
		}
		older.RenderJobID = model.StrPtr("render-1")
		if err := s.Outputs().Update(ctx, repository.NoTX, older, model.OutputProcessing); !errors.Is(err, domain.ErrStaleState) {
			t.Fatalf("expected ErrStaleState, got %v", err)
		}
		got, _ := s.Outputs().FindByID(ctx, repository.NoTX, model.KindVideo, o.ID)
		if *got.RenderJobID != "render-2" {
			t.Fatalf("older copy overwrote the row: %s", *got.RenderJobID)
		}
	})

	t.Run("should isolate stored copies from callers", func(t *testing.T) {
		s := NewStore()
		o := newOutput(s, model.OutputPending)
		o.Tags = append(o.Tags, "leak")
		got, _ := s.Outputs().FindByID(ctx, repository.NoTX, model.KindVideo, o.ID)
		if len(got.Tags) != 0 {
			t.Fatal("caller mutation leaked into the store")
		}
	})

	t.Run("should find processing outputs by correlation only", func(t *testing.T) {
		s := NewStore()
		o := newOutput(s, model.OutputProcessing)
		o.RenderJobID = model.StrPtr("r-1")
		_ = s.Outputs().Update(ctx, repository.NoTX, o, model.OutputProcessing)

		got, err := s.Outputs().FindProcessingByCorrelation(ctx, repository.NoTX, model.KindVideo, model.CorrelationRender, "r-1")
		if err != nil || got.ID != o.ID {
			t.Fatalf("expected %s, got %v / %v", o.ID, got, err)
		}
		dup := newOutput(s, model.OutputProcessing)
		dup.RenderJobID = model.StrPtr("r-1")
		if err := s.Outputs().Update(ctx, repository.NoTX, dup, model.OutputProcessing); !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists for a duplicate correlation id, got %v", err)
		}

		_ = o.Apply(model.EventComplete, time.Now())
		_ = s.Outputs().Update(ctx, repository.NoTX, o, model.OutputProcessing)
		if _, err := s.Outputs().FindProcessingByCorrelation(ctx, repository.NoTX, model.KindVideo, model.CorrelationRender, "r-1"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound once completed, got %v", err)
		}
	})

	t.Run("should list stale processing outputs oldest first", func(t *testing.T) {
		s := NewStore()
		base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		clock := base
		s.SetClock(func() time.Time { return clock })
		a := newOutput(s, model.OutputProcessing)
		clock = base.Add(time.Minute)
		b := newOutput(s, model.OutputProcessing)
		newOutput(s, model.OutputScriptReady)

		got, _ := s.Outputs().ListStale(ctx, repository.NoTX, model.KindVideo, base.Add(time.Hour), 10)
		if len(got) != 2 || got[0].ID != a.ID || got[1].ID != b.ID {
			t.Fatalf("unexpected stale list %+v", got)
		}
		got, _ = s.Outputs().ListStale(ctx, repository.NoTX, model.KindVideo, base.Add(30*time.Second), 10)
		if len(got) != 1 {
			t.Fatalf("expected only the older output, got %d", len(got))
		}
	})
}

func TestSubmissionRepo(t *testing.T) {
	ctx := context.Background()

	t.Run("should touch updated_at only when the status changes", func(t *testing.T) {
		s := NewStore()
		clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		s.SetClock(func() time.Time { return clock })
		sub := &model.Submission{ID: "sub-1", Status: model.SubmissionPending, UpdatedAt: clock}
		_ = s.Submissions().Create(ctx, repository.NoTX, sub)

		clock = clock.Add(time.Hour)
		_ = s.Submissions().UpdateStatus(ctx, repository.NoTX, "sub-1", model.SubmissionPending)
		got, _ := s.Submissions().FindByID(ctx, repository.NoTX, "sub-1")
		if !got.UpdatedAt.Equal(sub.UpdatedAt) {
			t.Fatal("no-op status write must not touch updated_at")
		}
		_ = s.Submissions().UpdateStatus(ctx, repository.NoTX, "sub-1", model.SubmissionProcessing)
		got, _ = s.Submissions().FindByID(ctx, repository.NoTX, "sub-1")
		if got.Status != model.SubmissionProcessing || !got.UpdatedAt.Equal(clock) {
			t.Fatalf("unexpected submission %+v", got)
		}
	})

	t.Run("should return ErrNotFound for unknown ids", func(t *testing.T) {
		s := NewStore()
		if err := s.Submissions().UpdateStatus(ctx, repository.NoTX, "nope", model.SubmissionFailed); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if _, err := s.Articles().FindByID(ctx, repository.NoTX, "nope"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}
