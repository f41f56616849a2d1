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

	"media-pipeline/internal/domain"
	"media-pipeline/internal/domain/model"
	"media-pipeline/internal/infra/queue"
)

type fakeStages struct {
	mu       sync.Mutex
	attempts []model.Attempt
	scriptFn func(attempt model.Attempt) error
	media    int
	post     int
	complete int
}

func (f *fakeStages) GenerateScript(ctx context.Context, p model.GenerateScriptPayload, attempt model.Attempt) error {
	f.mu.Lock()
	f.attempts = append(f.attempts, attempt)
	fn := f.scriptFn
	f.mu.Unlock()
	if fn != nil {
		return fn(attempt)
	}
	return nil
}

func (f *fakeStages) GenerateMediaFromScript(ctx context.Context, p model.GenerateMediaPayload, attempt model.Attempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.media++
	return nil
}

func (f *fakeStages) PostProcess(ctx context.Context, p model.PostProcessPayload, attempt model.Attempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.post++
	return nil
}

func (f *fakeStages) CompleteVideo(ctx context.Context, p model.CompleteVideoPayload, attempt model.Attempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.complete++
	return nil
}

func (f *fakeStages) scriptAttempts() []model.Attempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Attempt(nil), f.attempts...)
}

func fastPolicy() queue.Policy {
	c := queue.ClassPolicy{Attempts: 3, Backoff: model.BackoffPolicy{Base: time.Millisecond, Max: 5 * time.Millisecond}}
	return queue.Policy{Text: c, Media: c, Video: c}
}

func newTestDispatcher(t *testing.T, stages *fakeStages) (*Dispatcher, *queue.MemoryQueue) {
	t.Helper()
	l := zerolog.Nop()
	q := queue.NewMemoryQueue(fastPolicy(), queue.DefaultRetention(), &l)
	t.Cleanup(q.Close)
	d := NewDispatcher(q, stages, nil, nil, DispatcherOptions{PollWait: 20 * time.Millisecond, JobTimeout: time.Second}, &l)
	return d, q
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestDispatcher(t *testing.T) {
	ctx := context.Background()
	script := model.GenerateScriptPayload{Kind: model.KindAudio, OutputID: "o1"}

	t.Run("should route each payload type to its stage", func(t *testing.T) {
		stages := &fakeStages{}
		d, q := newTestDispatcher(t, stages)
		payloads := []model.Payload{
			script,
			model.GenerateMediaPayload{Kind: model.KindVideo, OutputID: "o2"},
			model.PostProcessPayload{OutputID: "o2"},
			model.CompleteVideoPayload{Field: model.CorrelationRender, CorrelationID: "r1", ResultURL: "u"},
		}
		for _, p := range payloads {
			if _, err := q.Enqueue(ctx, p, nil); err != nil {
				t.Fatalf("Enqueue: %v", err)
			}
		}
		for range payloads {
			if err := d.Next(ctx); err != nil {
				t.Fatalf("Next: %v", err)
			}
		}
		if len(stages.scriptAttempts()) != 1 || stages.media != 1 || stages.post != 1 || stages.complete != 1 {
			t.Fatalf("unexpected routing %+v", stages)
		}
		counts, _ := q.Counts(ctx)
		if counts[model.JobCompleted] != 4 {
			t.Fatalf("expected 4 completed jobs, got %v", counts)
		}
	})

	t.Run("should stop after three attempts", func(t *testing.T) {
		stages := &fakeStages{scriptFn: func(model.Attempt) error { return errors.New("provider 503") }}
		d, q := newTestDispatcher(t, stages)
		job, _ := q.Enqueue(ctx, script, nil)

		l := zerolog.Nop()
		pool := NewPool(2, &l)
		runCtx, cancel := context.WithCancel(ctx)
		d.Start(runCtx, pool)
		waitFor(t, func() bool {
			st, err := q.Status(ctx, job.ID)
			return err == nil && st.State == model.JobFailed
		})
		// give a wrongly scheduled fourth attempt the chance to run
		time.Sleep(50 * time.Millisecond)
		cancel()
		pool.Wait()

		attempts := stages.scriptAttempts()
		if len(attempts) != 3 {
			t.Fatalf("expected 3 attempts, got %d", len(attempts))
		}
		for i, a := range attempts {
			if a.Number != i+1 || a.Max != 3 {
				t.Fatalf("attempt %d: unexpected %+v", i, a)
			}
		}
		if !attempts[2].Final() {
			t.Fatal("third attempt should be final")
		}
		st, _ := q.Status(ctx, job.ID)
		if st.AttemptsMade != 3 || st.FailedReason != "provider 503" {
			t.Fatalf("unexpected status %+v", st)
		}
	})

	t.Run("should count a panicking stage as a failed attempt", func(t *testing.T) {
		stages := &fakeStages{scriptFn: func(model.Attempt) error { panic("nil article") }}
		d, q := newTestDispatcher(t, stages)
		job, _ := q.Enqueue(ctx, script, nil)

		for i := 0; i < 3; i++ {
			if err := d.Next(ctx); err != nil {
				t.Fatalf("Next %d: %v", i+1, err)
			}
		}
		st, _ := q.Status(ctx, job.ID)
		if st.State != model.JobFailed || st.AttemptsMade != 3 || !strings.Contains(st.FailedReason, "panic: nil article") {
			t.Fatalf("expected failed after three panics, got %+v", st)
		}
		if err := d.Next(ctx); err != nil {
			t.Fatalf("Next: %v", err)
		}
		if n := len(stages.scriptAttempts()); n != 3 {
			t.Fatalf("expected 3 deliveries, got %d", n)
		}
	})

	t.Run("should not retry a permanent failure", func(t *testing.T) {
		stages := &fakeStages{scriptFn: func(model.Attempt) error {
			return domain.Precondition("generate script", domain.ErrInvalidTransition)
		}}
		d, q := newTestDispatcher(t, stages)
		job, _ := q.Enqueue(ctx, script, nil)

		if err := d.Next(ctx); err != nil {
			t.Fatalf("Next: %v", err)
		}
		st, _ := q.Status(ctx, job.ID)
		if st.State != model.JobFailed || st.AttemptsMade != 1 {
			t.Fatalf("expected failed after one attempt, got %+v", st)
		}
	})

	t.Run("should fail a job whose payload does not decode", func(t *testing.T) {
		stages := &fakeStages{}
		d, q := newTestDispatcher(t, stages)
		job, _ := q.Enqueue(ctx, script, nil)
		reserved, err := q.Reserve(ctx, time.Millisecond)
		if err != nil {
			t.Fatalf("Reserve: %v", err)
		}
		reserved.Payload = []byte(`{"kind":`)

		if err := d.ProcessJob(ctx, reserved); !domain.IsPermanent(err) {
			t.Fatalf("expected permanent decode error, got %v", err)
		}
		st, _ := q.Status(ctx, job.ID)
		if st.State != model.JobFailed {
			t.Fatalf("expected failed, got %s", st.State)
		}
		if len(stages.scriptAttempts()) != 0 {
			t.Fatal("stage ran with an undecodable payload")
		}
	})

	t.Run("should treat an idle poll as success", func(t *testing.T) {
		d, _ := newTestDispatcher(t, &fakeStages{})
		if err := d.Next(ctx); err != nil {
			t.Fatalf("expected nil on idle poll, got %v", err)
		}
	})
}

func TestPoolRecoversPanics(t *testing.T) {
	l := zerolog.Nop()
	p := NewPool(1, &l)
	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	calls := 0
	p.Start(ctx, func(ctx context.Context) error {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			panic("bad job")
		}
		cancel()
		return nil
	})
	p.Wait()
	if calls < 2 {
		t.Fatalf("expected the worker to keep running after a panic, got %d calls", calls)
	}
}
