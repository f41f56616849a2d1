//go:build !integration

package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"media-pipeline/internal/application"
	"media-pipeline/internal/domain/model"
	"media-pipeline/internal/domain/ports/repository"
	"media-pipeline/internal/infra/db/memory"
	"media-pipeline/internal/infra/queue"
	"media-pipeline/internal/usecase"
)

type cliEnv struct {
	ctx   *commandContext
	store *memory.Store
	queue *queue.MemoryQueue
	clock time.Time
}

func setupCLI(t *testing.T) *cliEnv {
	t.Helper()
	l := zerolog.Nop()
	env := &cliEnv{store: memory.NewStore(), clock: time.Now().Add(-2 * time.Hour)}
	env.store.SetClock(func() time.Time { return env.clock })
	env.queue = queue.NewMemoryQueue(queue.DefaultPolicy(), queue.DefaultRetention(), &l)

	agg := usecase.NewAggregatorUseCase(env.store.Outputs(), env.store.Submissions(), &l)
	c := &application.Container{
		Queue:       env.queue,
		TxManager:   env.store.TxManager(),
		Outputs:     env.store.Outputs(),
		Submissions: env.store.Submissions(),
		Articles:    env.store.Articles(),
		Aggregator:  agg,
		Reclaimer:   usecase.NewReclaimerUseCase(env.store.Outputs(), agg, nil, nil, usecase.ReclaimOptions{Threshold: time.Hour}, &l),
		Pipeline:    usecase.NewPipelineUseCase(env.store.TxManager(), env.store.Submissions(), env.store.Outputs(), env.store.Articles(), env.queue, agg, &l),
	}
	env.ctx = &commandContext{container: c}
	return env
}

func runCLI(t *testing.T, env *cliEnv, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(env.ctx)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func requireContains(t *testing.T, out, want string) {
	t.Helper()
	if !strings.Contains(out, want) {
		t.Fatalf("expected output to contain %q, got:\n%s", want, out)
	}
}

func (env *cliEnv) seedStuckVideo(t *testing.T) *model.Output {
	t.Helper()
	ctx := context.Background()
	_ = env.store.Submissions().Create(ctx, repository.NoTX, &model.Submission{ID: "sub-1", Status: model.SubmissionProcessing})
	o := &model.Output{
		SubmissionID: "sub-1", Kind: model.KindVideo, Status: model.OutputProcessing,
		Stage: model.StageRendering, RenderJobID: model.StrPtr("render-9"),
	}
	if err := env.store.Outputs().Create(ctx, repository.NoTX, o); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return o
}

func TestOutputsStale(t *testing.T) {
	env := setupCLI(t)
	o := env.seedStuckVideo(t)

	out, err := runCLI(t, env, "outputs", "stale", "--older-than", "1h")
	if err != nil {
		t.Fatalf("outputs stale: %v", err)
	}
	requireContains(t, out, o.ID)
	requireContains(t, out, "render:render-9")

	out, err = runCLI(t, env, "outputs", "stale", "--kind", "audio")
	if err != nil {
		t.Fatalf("outputs stale --kind: %v", err)
	}
	requireContains(t, out, "No stale outputs")

	if _, err := runCLI(t, env, "outputs", "stale", "--kind", "hologram"); err == nil {
		t.Fatal("expected unknown kind to fail")
	}
}

func TestSweepAndRecompute(t *testing.T) {
	env := setupCLI(t)
	o := env.seedStuckVideo(t)
	env.clock = time.Now()

	out, err := runCLI(t, env, "sweep")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	requireContains(t, out, o.ID)
	requireContains(t, out, "render webhook never arrived")

	got, _ := env.store.Outputs().FindByID(context.Background(), repository.NoTX, model.KindVideo, o.ID)
	if got.Status != model.OutputFailed {
		t.Fatalf("expected FAILED, got %s", got.Status)
	}

	out, err = runCLI(t, env, "recompute", "sub-1")
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	requireContains(t, out, string(model.SubmissionFailed))

	out, err = runCLI(t, env, "sweep")
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	requireContains(t, out, "No stuck outputs")
}

func TestJobCommands(t *testing.T) {
	env := setupCLI(t)
	job, err := env.queue.Enqueue(context.Background(), model.GenerateScriptPayload{Kind: model.KindAudio, OutputID: "o-1"}, nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	out, err := runCLI(t, env, "job", "status", job.ID)
	if err != nil {
		t.Fatalf("job status: %v", err)
	}
	requireContains(t, out, string(model.JobWaiting))
	requireContains(t, out, "audio.script")

	out, err = runCLI(t, env, "--json", "job", "status", job.ID)
	if err != nil {
		t.Fatalf("job status --json: %v", err)
	}
	requireContains(t, out, `"state": "waiting"`)

	out, _ = runCLI(t, env, "job", "remove", job.ID, "missing")
	requireContains(t, out, "Job "+job.ID+" removed")
	requireContains(t, out, "Job missing:")
}
