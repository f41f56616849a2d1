//go:build !integration

package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
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
)

// --- fakes ---

type fakeText struct {
	mu    sync.Mutex
	calls []adapter.TextRequest
	reply func(req adapter.TextRequest) (string, error)
}

func (f *fakeText) Generate(ctx context.Context, req adapter.TextRequest) (string, adapter.Usage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.reply == nil {
		return "A short narration about the article.", adapter.Usage{PromptTokens: 10, CompletionTokens: 7}, nil
	}
	text, err := f.reply(req)
	return text, adapter.Usage{}, err
}

func (f *fakeText) Provider() string { return "fake" }

func (f *fakeText) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSpeech struct {
	mu     sync.Mutex
	voices []string
	err    error
}

func (f *fakeSpeech) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.voices = append(f.voices, voiceID)
	if f.err != nil {
		return nil, f.err
	}
	return []byte("mp3:" + text), nil
}

type fakeAvatar struct {
	calls []adapter.RenderRequest
	id    string
	err   error
}

func (f *fakeAvatar) SubmitRender(ctx context.Context, req adapter.RenderRequest) (string, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return "", f.err
	}
	return f.id, nil
}

type fakeCaptions struct {
	calls []adapter.CaptionRequest
	id    string
}

func (f *fakeCaptions) SubmitCaptions(ctx context.Context, req adapter.CaptionRequest) (string, error) {
	f.calls = append(f.calls, req)
	return f.id, nil
}

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	fetched []string
	// onFetch runs once, before the next Fetch returns.
	onFetch func()
}

func newFakeStorage() *fakeStorage { return &fakeStorage{objects: make(map[string][]byte)} }

func (f *fakeStorage) Put(ctx context.Context, key, contentType string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return "/media/" + key, nil
}

func (f *fakeStorage) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, url)
	hook := f.onFetch
	f.onFetch = nil
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if strings.Contains(url, "unreachable") {
		return nil, errors.New("dial tcp: connection refused")
	}
	return io.NopCloser(bytes.NewReader([]byte("video-bytes"))), nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) Notify(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	return nil
}

// --- harness ---

type harness struct {
	store     *memory.Store
	queue     *queue.MemoryQueue
	stages    *stageUC
	agg       *aggregatorUC
	reclaimer *reclaimerUC
	pipeline  *pipelineUC

	text     *fakeText
	speech   *fakeSpeech
	avatar   *fakeAvatar
	captions *fakeCaptions
	storage  *fakeStorage
	notifier *fakeNotifier

	clock time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	l := zerolog.Nop()
	h := &harness{
		store:    memory.NewStore(),
		text:     &fakeText{},
		speech:   &fakeSpeech{},
		avatar:   &fakeAvatar{id: "render-1"},
		captions: &fakeCaptions{id: "caption-1"},
		storage:  newFakeStorage(),
		notifier: &fakeNotifier{},
		clock:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	now := func() time.Time { return h.clock }
	h.store.SetClock(now)
	h.queue = queue.NewMemoryQueue(queue.DefaultPolicy(), queue.DefaultRetention(), &l)
	t.Cleanup(h.queue.Close)

	h.agg = NewAggregatorUseCase(h.store.Outputs(), h.store.Submissions(), &l)
	h.stages = NewStageUseCase(StageDeps{
		Outputs:    h.store.Outputs(),
		Articles:   h.store.Articles(),
		Queue:      h.queue,
		Text:       h.text,
		Speech:     h.speech,
		Avatar:     h.avatar,
		Captions:   h.captions,
		Storage:    h.storage,
		Aggregator: h.agg,
		Now:        now,
	}, StageOptions{DefaultVoiceID: "narrator", GuestVoiceID: "guest", TextModel: "test-model"}, &l)
	h.reclaimer = NewReclaimerUseCase(h.store.Outputs(), h.agg, h.notifier, nil, ReclaimOptions{
		Threshold: 30 * time.Minute,
		PerKind:   map[model.MediaKind]time.Duration{model.KindVideo: time.Hour},
	}, &l)
	h.reclaimer.now = now
	h.pipeline = NewPipelineUseCase(h.store.TxManager(), h.store.Submissions(), h.store.Outputs(), h.store.Articles(), h.queue, h.agg, &l)
	h.pipeline.now = now

	h.store.PutArticle(&model.Article{ID: "art-1", OrganizationID: "org-1", Title: "Tides", Content: "The moon pulls the oceans."})
	return h
}

func (h *harness) advance(d time.Duration) { h.clock = h.clock.Add(d) }

// seed creates a submission with one output of kind in status.
func (h *harness) seed(t *testing.T, kind model.MediaKind, status model.OutputStatus, mutate func(o *model.Output)) *model.Output {
	t.Helper()
	ctx := context.Background()
	sub := &model.Submission{ID: "sub-" + string(kind), OrganizationID: "org-1", ArticleID: "art-1", Language: "en", Status: model.SubmissionPending}
	if _, err := h.store.Submissions().FindByID(ctx, repository.NoTX, sub.ID); err != nil {
		if err := h.store.Submissions().Create(ctx, repository.NoTX, sub); err != nil {
			t.Fatalf("create submission: %v", err)
		}
	}
	o := &model.Output{
		SubmissionID:   sub.ID,
		OrganizationID: "org-1",
		ArticleID:      "art-1",
		Kind:           kind,
		Language:       "en",
		Status:         status,
	}
	if mutate != nil {
		mutate(o)
	}
	if err := h.store.Outputs().Create(ctx, repository.NoTX, o); err != nil {
		t.Fatalf("create output: %v", err)
	}
	return o
}

func (h *harness) load(t *testing.T, o *model.Output) *model.Output {
	t.Helper()
	got, err := h.store.Outputs().FindByID(context.Background(), repository.NoTX, o.Kind, o.ID)
	if err != nil {
		t.Fatalf("load output: %v", err)
	}
	return got
}

func (h *harness) submissionStatus(t *testing.T, id string) model.SubmissionStatus {
	t.Helper()
	sub, err := h.store.Submissions().FindByID(context.Background(), repository.NoTX, id)
	if err != nil {
		t.Fatalf("load submission: %v", err)
	}
	return sub.Status
}

var (
	firstOfOne   = model.Attempt{Number: 1, Max: 1}
	firstOfThree = model.Attempt{Number: 1, Max: 3}
	lastOfThree  = model.Attempt{Number: 3, Max: 3}
)

func videoReady(o *model.Output) {
	o.Script = "Welcome to the tides explainer."
	o.Customization = model.Customization{AvatarID: "avatar-1", VoiceID: "voice-1"}
}
