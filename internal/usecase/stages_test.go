//go:build !integration

package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"media-pipeline/internal/domain"
	"media-pipeline/internal/domain/model"
	"media-pipeline/internal/domain/ports/adapter"
)

func TestGenerateScript(t *testing.T) {
	ctx := context.Background()

	t.Run("should draft a script and stop at review", func(t *testing.T) {
		h := newHarness(t)
		o := h.seed(t, model.KindAudio, model.OutputPending, nil)

		err := h.stages.GenerateScript(ctx, model.GenerateScriptPayload{Kind: o.Kind, OutputID: o.ID, ArticleID: "art-1", Language: "en"}, firstOfThree)
		if err != nil {
			t.Fatalf("GenerateScript: %v", err)
		}
		got := h.load(t, o)
		if got.Status != model.OutputScriptReady || got.Script == "" || got.Stage != model.StageNone {
			t.Fatalf("unexpected output %+v", got)
		}
		if len(h.speech.voices) != 0 {
			t.Fatal("script phase must not call the speech provider")
		}
		if req := h.text.calls[0]; !strings.Contains(req.Prompt, "The moon pulls the oceans.") || req.Model != "test-model" {
			t.Fatalf("unexpected text request %+v", req)
		}
	})

	t.Run("should return the output to PENDING on a retryable failure", func(t *testing.T) {
		h := newHarness(t)
		h.text.reply = func(adapter.TextRequest) (string, error) { return "", errors.New("provider 503") }
		o := h.seed(t, model.KindAudio, model.OutputPending, nil)

		err := h.stages.GenerateScript(ctx, model.GenerateScriptPayload{Kind: o.Kind, OutputID: o.ID}, firstOfThree)
		if err == nil || domain.IsPermanent(err) {
			t.Fatalf("expected transient error, got %v", err)
		}
		if got := h.load(t, o); got.Status != model.OutputPending || got.Error != nil {
			t.Fatalf("expected PENDING without error text, got %s %q", got.Status, got.ErrorText())
		}
	})

	t.Run("should fail the output on the last attempt", func(t *testing.T) {
		h := newHarness(t)
		h.text.reply = func(adapter.TextRequest) (string, error) { return "", errors.New("provider 503") }
		o := h.seed(t, model.KindAudio, model.OutputPending, nil)

		if err := h.stages.GenerateScript(ctx, model.GenerateScriptPayload{Kind: o.Kind, OutputID: o.ID}, lastOfThree); err == nil {
			t.Fatal("expected error")
		}
		got := h.load(t, o)
		if got.Status != model.OutputFailed || !strings.Contains(got.ErrorText(), "provider 503") {
			t.Fatalf("expected FAILED with reason, got %s %q", got.Status, got.ErrorText())
		}
		if st := h.submissionStatus(t, o.SubmissionID); st != model.SubmissionFailed {
			t.Fatalf("expected submission FAILED, got %s", st)
		}
	})

	t.Run("should fail immediately when the article is missing", func(t *testing.T) {
		h := newHarness(t)
		o := h.seed(t, model.KindAudio, model.OutputPending, nil)

		err := h.stages.GenerateScript(ctx, model.GenerateScriptPayload{Kind: o.Kind, OutputID: o.ID, ArticleID: "gone"}, firstOfThree)
		if !domain.IsPermanent(err) {
			t.Fatalf("expected permanent error, got %v", err)
		}
		if got := h.load(t, o); got.Status != model.OutputFailed {
			t.Fatalf("expected FAILED, got %s", got.Status)
		}
		if h.text.count() != 0 {
			t.Fatal("text provider called without an article")
		}
	})

	t.Run("should reject an output that already left PENDING without touching it", func(t *testing.T) {
		h := newHarness(t)
		o := h.seed(t, model.KindAudio, model.OutputCompleted, func(o *model.Output) { o.Script = "done" })
		before := h.load(t, o)
		h.advance(1)

		err := h.stages.GenerateScript(ctx, model.GenerateScriptPayload{Kind: o.Kind, OutputID: o.ID}, firstOfThree)
		if !domain.IsPermanent(err) || !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("expected permanent invalid transition, got %v", err)
		}
		after := h.load(t, o)
		if after.Status != before.Status || !after.UpdatedAt.Equal(before.UpdatedAt) || after.Script != "done" {
			t.Fatalf("output mutated: %+v", after)
		}
	})

	t.Run("should retry a malformed quiz draft", func(t *testing.T) {
		h := newHarness(t)
		h.text.reply = func(adapter.TextRequest) (string, error) { return "not json at all", nil }
		o := h.seed(t, model.KindQuiz, model.OutputPending, nil)

		err := h.stages.GenerateScript(ctx, model.GenerateScriptPayload{Kind: o.Kind, OutputID: o.ID}, firstOfThree)
		if err == nil || domain.IsPermanent(err) {
			t.Fatalf("expected retryable error, got %v", err)
		}
		if !h.text.calls[0].JSON {
			t.Fatal("quiz drafts should request JSON output")
		}
	})
}

func TestGenerateMediaFromScript(t *testing.T) {
	ctx := context.Background()

	t.Run("should complete audio synchronously", func(t *testing.T) {
		h := newHarness(t)
		o := h.seed(t, model.KindAudio, model.OutputScriptReady, func(o *model.Output) {
			o.Script = "one two three four five"
		})

		if err := h.stages.GenerateMediaFromScript(ctx, model.GenerateMediaPayload{Kind: o.Kind, OutputID: o.ID}, firstOfThree); err != nil {
			t.Fatalf("GenerateMediaFromScript: %v", err)
		}
		got := h.load(t, o)
		if got.Status != model.OutputCompleted {
			t.Fatalf("expected COMPLETED, got %s (%s)", got.Status, got.ErrorText())
		}
		want := "/media/orgs/org-1/audio/" + o.ID + "/narration.mp3"
		if got.MediaURL != want || got.DurationSeconds != 2 {
			t.Fatalf("unexpected media %q %.1fs", got.MediaURL, got.DurationSeconds)
		}
		if len(h.speech.voices) != 1 || h.speech.voices[0] != "narrator" {
			t.Fatalf("expected default narrator voice, got %v", h.speech.voices)
		}
	})

	t.Run("should voice podcast speakers separately", func(t *testing.T) {
		h := newHarness(t)
		o := h.seed(t, model.KindPodcast, model.OutputScriptReady, func(o *model.Output) {
			o.Script = "HOST: Welcome back.\nGUEST: Glad to be here.\nHOST: Let's begin."
		})

		if err := h.stages.GenerateMediaFromScript(ctx, model.GenerateMediaPayload{Kind: o.Kind, OutputID: o.ID}, firstOfThree); err != nil {
			t.Fatalf("GenerateMediaFromScript: %v", err)
		}
		got := h.load(t, o)
		if got.Status != model.OutputCompleted || len(got.Segments) != 3 {
			t.Fatalf("unexpected output %s with %d segments", got.Status, len(got.Segments))
		}
		if v := h.speech.voices; len(v) != 3 || v[0] != "narrator" || v[1] != "guest" || v[2] != "narrator" {
			t.Fatalf("unexpected voices %v", v)
		}
	})

	t.Run("should turn an accepted quiz into questions without speech", func(t *testing.T) {
		h := newHarness(t)
		o := h.seed(t, model.KindQuiz, model.OutputScriptReady, func(o *model.Output) {
			o.Script = `{"questions":[{"prompt":"What pulls the tides?","options":["The moon","The wind"],"answer":0}]}`
		})

		if err := h.stages.GenerateMediaFromScript(ctx, model.GenerateMediaPayload{Kind: o.Kind, OutputID: o.ID}, firstOfThree); err != nil {
			t.Fatalf("GenerateMediaFromScript: %v", err)
		}
		got := h.load(t, o)
		if got.Status != model.OutputCompleted || len(got.Questions) != 1 {
			t.Fatalf("unexpected output %s with %d questions", got.Status, len(got.Questions))
		}
		if len(h.speech.voices) != 0 {
			t.Fatal("quiz must not call the speech provider")
		}
	})

	t.Run("should reject an empty script without touching the output", func(t *testing.T) {
		h := newHarness(t)
		o := h.seed(t, model.KindAudio, model.OutputScriptReady, nil)
		before := h.load(t, o)
		h.advance(1)

		err := h.stages.GenerateMediaFromScript(ctx, model.GenerateMediaPayload{Kind: o.Kind, OutputID: o.ID}, firstOfThree)
		if !errors.Is(err, domain.ErrEmptyScript) || !domain.IsPermanent(err) {
			t.Fatalf("expected permanent ErrEmptyScript, got %v", err)
		}
		after := h.load(t, o)
		if after.Status != model.OutputScriptReady || !after.UpdatedAt.Equal(before.UpdatedAt) {
			t.Fatalf("output mutated: %+v", after)
		}
		if len(h.speech.voices) != 0 {
			t.Fatal("provider called for empty script")
		}
	})

	t.Run("should fail a video without an avatar before calling any provider", func(t *testing.T) {
		h := newHarness(t)
		o := h.seed(t, model.KindVideo, model.OutputScriptReady, func(o *model.Output) {
			o.Script = "hello"
			o.Customization.VoiceID = "voice-1"
		})

		err := h.stages.GenerateMediaFromScript(ctx, model.GenerateMediaPayload{Kind: o.Kind, OutputID: o.ID}, firstOfThree)
		if !errors.Is(err, domain.ErrMissingAvatar) {
			t.Fatalf("expected ErrMissingAvatar, got %v", err)
		}
		if got := h.load(t, o); got.Status != model.OutputFailed {
			t.Fatalf("expected FAILED, got %s", got.Status)
		}
		if len(h.speech.voices) != 0 || len(h.avatar.calls) != 0 {
			t.Fatal("provider called with unresolved customization")
		}
	})

	t.Run("should put the output back to SCRIPT_READY when speech fails transiently", func(t *testing.T) {
		h := newHarness(t)
		h.speech.err = errors.New("elevenlabs 429")
		o := h.seed(t, model.KindAudio, model.OutputScriptReady, func(o *model.Output) { o.Script = "hello there" })

		err := h.stages.GenerateMediaFromScript(ctx, model.GenerateMediaPayload{Kind: o.Kind, OutputID: o.ID}, firstOfThree)
		if err == nil || domain.IsPermanent(err) {
			t.Fatalf("expected transient error, got %v", err)
		}
		if got := h.load(t, o); got.Status != model.OutputScriptReady {
			t.Fatalf("expected SCRIPT_READY for the next attempt, got %s", got.Status)
		}
	})
}

func TestVideoCompletion(t *testing.T) {
	ctx := context.Background()

	submit := func(t *testing.T, h *harness, mutate func(o *model.Output)) *model.Output {
		t.Helper()
		o := h.seed(t, model.KindVideo, model.OutputScriptReady, func(o *model.Output) {
			videoReady(o)
			if mutate != nil {
				mutate(o)
			}
		})
		if err := h.stages.GenerateMediaFromScript(ctx, model.GenerateMediaPayload{Kind: o.Kind, OutputID: o.ID}, firstOfThree); err != nil {
			t.Fatalf("GenerateMediaFromScript: %v", err)
		}
		return o
	}

	t.Run("should stay PROCESSING until the render webhook arrives", func(t *testing.T) {
		h := newHarness(t)
		o := submit(t, h, nil)

		got := h.load(t, o)
		if got.Status != model.OutputProcessing || got.Stage != model.StageRendering {
			t.Fatalf("expected PROCESSING/rendering, got %s/%s", got.Status, got.Stage)
		}
		if got.RenderJobID == nil || *got.RenderJobID != "render-1" {
			t.Fatalf("expected render job id, got %v", got.RenderJobID)
		}
		if req := h.avatar.calls[0]; req.AvatarID != "avatar-1" || !strings.HasSuffix(req.AudioURL, "voiceover.mp3") {
			t.Fatalf("unexpected render request %+v", req)
		}

		ok, err := h.stages.HandleCompletion(ctx, model.CorrelationRender, "render-1", "https://provider.example/out.mp4")
		if err != nil || !ok {
			t.Fatalf("HandleCompletion: ok=%v err=%v", ok, err)
		}
		got = h.load(t, o)
		if got.Status != model.OutputCompleted {
			t.Fatalf("expected COMPLETED, got %s (%s)", got.Status, got.ErrorText())
		}
		if got.MediaURL != "/media/orgs/org-1/video/"+o.ID+"/render.mp4" {
			t.Fatalf("expected rehosted media, got %q", got.MediaURL)
		}
		if st := h.submissionStatus(t, o.SubmissionID); st != model.SubmissionCompleted {
			t.Fatalf("expected submission COMPLETED, got %s", st)
		}
	})

	t.Run("should ignore duplicate and late deliveries", func(t *testing.T) {
		h := newHarness(t)
		o := submit(t, h, nil)
		if ok, err := h.stages.HandleCompletion(ctx, model.CorrelationRender, "render-1", "https://provider.example/out.mp4"); !ok || err != nil {
			t.Fatalf("first delivery: ok=%v err=%v", ok, err)
		}
		done := h.load(t, o)
		fetches := len(h.storage.fetched)

		ok, err := h.stages.HandleCompletion(ctx, model.CorrelationRender, "render-1", "https://provider.example/other.mp4")
		if ok || err != nil {
			t.Fatalf("duplicate delivery should be a no-op, got ok=%v err=%v", ok, err)
		}
		if ok, _ := h.stages.HandleFailure(ctx, model.CorrelationRender, "render-1", "late failure"); ok {
			t.Fatal("late failure must not touch a completed output")
		}
		after := h.load(t, o)
		if after.Status != model.OutputCompleted || after.MediaURL != done.MediaURL || len(h.storage.fetched) != fetches {
			t.Fatalf("completed output changed: %+v", after)
		}
	})

	t.Run("should ignore unknown correlation ids", func(t *testing.T) {
		h := newHarness(t)
		ok, err := h.stages.HandleCompletion(ctx, model.CorrelationRender, "nobody", "https://provider.example/out.mp4")
		if ok || err != nil {
			t.Fatalf("expected no-op, got ok=%v err=%v", ok, err)
		}
	})

	t.Run("should fail the output on a provider failure", func(t *testing.T) {
		h := newHarness(t)
		o := submit(t, h, nil)

		ok, err := h.stages.HandleFailure(ctx, model.CorrelationRender, "render-1", "avatar not found")
		if err != nil || !ok {
			t.Fatalf("HandleFailure: ok=%v err=%v", ok, err)
		}
		got := h.load(t, o)
		if got.Status != model.OutputFailed || !strings.Contains(got.ErrorText(), "avatar not found") {
			t.Fatalf("unexpected output %s %q", got.Status, got.ErrorText())
		}
	})

	t.Run("should hand the render to captioning when requested", func(t *testing.T) {
		h := newHarness(t)
		o := submit(t, h, func(o *model.Output) { o.Customization.Captions = true })

		if ok, err := h.stages.HandleCompletion(ctx, model.CorrelationRender, "render-1", "https://provider.example/raw.mp4"); !ok || err != nil {
			t.Fatalf("render completion: ok=%v err=%v", ok, err)
		}
		got := h.load(t, o)
		if got.Status != model.OutputProcessing || got.Stage != model.StageCaptioning || got.CaptionJobID == nil {
			t.Fatalf("expected PROCESSING/captioning, got %s/%s", got.Status, got.Stage)
		}
		if ok, err := h.stages.HandleCompletion(ctx, model.CorrelationCaption, "caption-1", "https://captions.example/final.mp4"); !ok || err != nil {
			t.Fatalf("caption completion: ok=%v err=%v", ok, err)
		}
		got = h.load(t, o)
		if got.Status != model.OutputCompleted || !strings.HasSuffix(got.MediaURL, "captioned.mp4") {
			t.Fatalf("unexpected output %s %q", got.Status, got.MediaURL)
		}
	})

	t.Run("should queue post-processing when an overlay is requested", func(t *testing.T) {
		h := newHarness(t)
		o := submit(t, h, func(o *model.Output) { o.Customization.BumperURL = "https://cdn.example/bumper.mp4" })

		if ok, err := h.stages.HandleCompletion(ctx, model.CorrelationRender, "render-1", "https://provider.example/raw.mp4"); !ok || err != nil {
			t.Fatalf("render completion: ok=%v err=%v", ok, err)
		}
		got := h.load(t, o)
		if got.Status != model.OutputProcessing || got.Stage != model.StagePostProcessing {
			t.Fatalf("expected PROCESSING/post_processing, got %s/%s", got.Status, got.Stage)
		}
		job, err := h.queue.Reserve(ctx, 0)
		if err != nil {
			t.Fatalf("Reserve: %v", err)
		}
		if job.Type != model.JobVideoPostProcess {
			t.Fatalf("expected post-process job, got %s", job.Type)
		}
	})

	t.Run("should fail the output when a queued completion gives up", func(t *testing.T) {
		h := newHarness(t)
		o := submit(t, h, nil)

		p := model.CompleteVideoPayload{Provider: "heygen", Field: model.CorrelationRender, CorrelationID: "render-1", ResultURL: "https://unreachable.example/out.mp4"}
		if err := h.stages.CompleteVideo(ctx, p, firstOfThree); err == nil {
			t.Fatal("expected download error")
		}
		if got := h.load(t, o); got.Status != model.OutputProcessing {
			t.Fatalf("expected PROCESSING while retries remain, got %s", got.Status)
		}
		if err := h.stages.CompleteVideo(ctx, p, lastOfThree); err == nil {
			t.Fatal("expected download error")
		}
		if got := h.load(t, o); got.Status != model.OutputFailed {
			t.Fatalf("expected FAILED after the last attempt, got %s", got.Status)
		}
	})
}

func TestPostProcessPreconditions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o := h.seed(t, model.KindVideo, model.OutputCompleted, videoReady)

	err := h.stages.PostProcess(ctx, model.PostProcessPayload{OutputID: o.ID}, firstOfOne)
	if !domain.IsPermanent(err) {
		t.Fatalf("expected permanent error for a completed output, got %v", err)
	}
	if got := h.load(t, o); got.Status != model.OutputCompleted {
		t.Fatalf("output mutated to %s", got.Status)
	}
}
