//go:build !integration

package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"media-pipeline/internal/domain/model"
	"media-pipeline/internal/domain/ports/adapter"
	"media-pipeline/internal/domain/ports/repository"
	"media-pipeline/internal/infra/db/memory"
	"media-pipeline/internal/infra/queue"
	uc "media-pipeline/internal/usecase"
)

type downText struct {
	mu    sync.Mutex
	calls int
}

func (f *downText) Generate(ctx context.Context, req adapter.TextRequest) (string, adapter.Usage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return "", adapter.Usage{}, errors.New("provider 503")
}

func (f *downText) Provider() string { return "down" }

func TestDispatcherExhaustsScriptRetries(t *testing.T) {
	ctx := context.Background()
	l := zerolog.Nop()

	store := memory.NewStore()
	store.PutArticle(&model.Article{ID: "art-1", OrganizationID: "org-1", Title: "Tides", Content: "The moon pulls the oceans."})
	q := queue.NewMemoryQueue(fastPolicy(), queue.DefaultRetention(), &l)
	t.Cleanup(q.Close)

	text := &downText{}
	agg := uc.NewAggregatorUseCase(store.Outputs(), store.Submissions(), &l)
	stages := uc.NewStageUseCase(uc.StageDeps{
		Outputs:    store.Outputs(),
		Articles:   store.Articles(),
		Queue:      q,
		Text:       text,
		Aggregator: agg,
	}, uc.StageOptions{TextModel: "test-model"}, &l)
	pipeline := uc.NewPipelineUseCase(store.TxManager(), store.Submissions(), store.Outputs(), store.Articles(), q, agg, &l)
	d := NewDispatcher(q, stages, agg, store.Outputs(), DispatcherOptions{PollWait: 50 * time.Millisecond, JobTimeout: time.Second}, &l)

	view, err := pipeline.CreateSubmission(ctx, uc.CreateSubmissionInput{
		OrganizationID: "org-1",
		ArticleID:      "art-1",
		Language:       "en",
		Kinds:          []model.MediaKind{model.KindAudio},
	})
	if err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}
	out := view.Outputs[0]

	for i := 0; i < 4; i++ {
		if err := d.Next(ctx); err != nil {
			t.Fatalf("Next %d: %v", i+1, err)
		}
	}

	if text.calls != 3 {
		t.Fatalf("expected 3 provider calls and no 4th attempt, got %d", text.calls)
	}
	got, err := store.Outputs().FindByID(ctx, repository.NoTX, out.Kind, out.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.Status != model.OutputFailed || !strings.Contains(got.ErrorText(), "provider 503") {
		t.Fatalf("expected FAILED with the last error, got %s %q", got.Status, got.ErrorText())
	}
	sub, _ := store.Submissions().FindByID(ctx, repository.NoTX, out.SubmissionID)
	if sub.Status != model.SubmissionFailed {
		t.Fatalf("expected submission FAILED, got %s", sub.Status)
	}
	counts, _ := q.Counts(ctx)
	if counts[model.JobFailed] != 1 || counts[model.JobDelayed]+counts[model.JobWaiting] != 0 {
		t.Fatalf("expected one dead job and nothing pending, got %v", counts)
	}
}
