package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"media-pipeline/internal/domain"
	"media-pipeline/internal/domain/model"
	"media-pipeline/internal/domain/ports/adapter"
	"media-pipeline/internal/domain/ports/repository"
	"media-pipeline/internal/infra/metrics"
)

// HandleCompletion advances the PROCESSING video whose correlation field
// matches. A miss (unknown id, or the output already left PROCESSING) is
// reported as false without error, which keeps duplicate and late webhooks
// harmless.
func (s *stageUC) HandleCompletion(ctx context.Context, field model.CorrelationField, correlationID, resultURL string) (bool, error) {
	o, err := s.Outputs.FindProcessingByCorrelation(ctx, repository.NoTX, model.KindVideo, field, correlationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.log.Info().Str("field", string(field)).Str("correlation_id", correlationID).Msg("no processing output for webhook; ignoring")
			return false, nil
		}
		return false, domain.Transient("find output by correlation", err)
	}
	if resultURL == "" {
		return false, domain.Precondition("handle completion", fmt.Errorf("%w: empty result url", domain.ErrInvalidArgument))
	}

	name := "render.mp4"
	if field == model.CorrelationCaption {
		name = "captioned.mp4"
	}
	url, err := s.rehost(ctx, o, resultURL, name, "video/mp4")
	if err != nil {
		return false, err
	}
	o.MediaURL = url

	if field == model.CorrelationRender && o.Customization.Captions && s.Captions != nil {
		err = s.submitCaptions(ctx, o)
	} else {
		err = s.afterRender(ctx, o)
	}
	if errors.Is(err, domain.ErrStaleState) {
		s.outputLog(o).Info().Msg("output left PROCESSING while handling webhook; dropping")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// HandleFailure is terminal: the provider already gave up, so there is no
// local retry.
func (s *stageUC) HandleFailure(ctx context.Context, field model.CorrelationField, correlationID, message string) (bool, error) {
	o, err := s.Outputs.FindProcessingByCorrelation(ctx, repository.NoTX, model.KindVideo, field, correlationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.log.Info().Str("field", string(field)).Str("correlation_id", correlationID).Msg("no processing output for failure webhook; ignoring")
			return false, nil
		}
		return false, domain.Transient("find output by correlation", err)
	}
	if message == "" {
		message = "unknown error"
	}
	prev := o.Status
	if err := o.Fail("video provider reported failure: "+message, s.Now()); err != nil {
		return false, nil
	}
	if err := s.Outputs.Update(ctx, repository.NoTX, o, prev); err != nil {
		if errors.Is(err, domain.ErrStaleState) {
			return false, nil
		}
		return false, domain.Transient("persist failed output", err)
	}
	s.outputLog(o).Warn().Str("field", string(field)).Str("reason", message).Msg("provider reported failure")
	s.aggregate(ctx, o.SubmissionID)
	return true, nil
}

// CompleteVideo runs a webhook-reported completion on a worker. When the
// completion cannot be applied on the last attempt the output is failed
// here so it never waits for the timeout sweep.
func (s *stageUC) CompleteVideo(ctx context.Context, p model.CompleteVideoPayload, attempt model.Attempt) error {
	ok, err := s.HandleCompletion(ctx, p.Field, p.CorrelationID, p.ResultURL)
	if err != nil {
		if domain.IsPermanent(err) || attempt.Final() {
			if _, ferr := s.HandleFailure(ctx, p.Field, p.CorrelationID, err.Error()); ferr != nil {
				s.log.Error().Err(ferr).Str("correlation_id", p.CorrelationID).Msg("fail output after completion error")
			}
		}
		return err
	}
	if !ok {
		s.log.Debug().Str("provider", p.Provider).Str("correlation_id", p.CorrelationID).Msg("completion was a no-op")
	}
	return nil
}

func (s *stageUC) submitCaptions(ctx context.Context, o *model.Output) error {
	start := time.Now()
	id, err := s.Captions.SubmitCaptions(ctx, adapter.CaptionRequest{
		VideoURL: o.MediaURL,
		Language: o.Language,
		Title:    o.ID,
	})
	metrics.ObserveProviderCall("captions", time.Since(start), err == nil)
	if err != nil {
		return domain.Transient("submit captions", err)
	}
	o.CaptionJobID = &id
	o.Stage = model.StageCaptioning
	if err := s.persist(ctx, o); err != nil {
		return err
	}
	s.outputLog(o).Info().Str("caption_job_id", id).Msg("captions submitted; awaiting webhook")
	return nil
}

// afterRender queues the FFmpeg pass when requested, otherwise finalizes.
func (s *stageUC) afterRender(ctx context.Context, o *model.Output) error {
	if !o.Customization.NeedsPostProcessing() {
		return s.finalizeVideo(ctx, o)
	}
	o.Stage = model.StagePostProcessing
	if err := s.persist(ctx, o); err != nil {
		return err
	}
	job, err := s.Queue.Enqueue(ctx, model.PostProcessPayload{OutputID: o.ID}, nil)
	if err != nil {
		return domain.Transient("enqueue post-processing", err)
	}
	s.outputLog(o).Info().Str("job_id", job.ID).Msg("post-processing queued")
	return nil
}

// finalizeVideo transcribes the final media, derives questions and
// completes the output. Transcript and questions are enrichment; their
// failure is logged and does not keep the video from completing.
func (s *stageUC) finalizeVideo(ctx context.Context, o *model.Output) error {
	o.Stage = model.StageFinalizing
	if err := s.persist(ctx, o); err != nil {
		return err
	}
	l := s.outputLog(o)

	if s.Transcriber != nil {
		start := time.Now()
		tr, err := s.Transcriber.Transcribe(ctx, o.MediaURL, o.Language)
		metrics.ObserveProviderCall("transcription", time.Since(start), err == nil)
		if err != nil {
			l.Warn().Err(err).Msg("transcription failed; completing without transcript")
		} else {
			o.Transcript = tr.Text
			o.Words = tr.Words
			o.DurationSeconds = tr.Duration
		}
	}
	if o.DurationSeconds == 0 {
		o.DurationSeconds = estimateDuration(o.Script)
	}
	if o.Transcript != "" {
		text, err := s.generate(ctx, adapter.TextRequest{
			Model:    s.opts.TextModel,
			Guidance: questionGuidance,
			Prompt:   o.Transcript,
			Language: o.Language,
			JSON:     true,
		})
		if err == nil {
			if qs, perr := parseQuestions(text); perr == nil {
				o.Questions = qs
			} else {
				l.Warn().Err(perr).Msg("discarding generated questions")
			}
		} else {
			l.Warn().Err(err).Msg("question generation failed")
		}
	}

	if err := s.advance(ctx, o, model.EventComplete); err != nil {
		return err
	}
	metrics.ObserveStage(string(o.Kind), "finalize", time.Since(o.CreatedAt))
	l.Info().Str("media_url", o.MediaURL).Float64("duration_s", o.DurationSeconds).Msg("video completed")
	s.aggregate(ctx, o.SubmissionID)
	s.autoTag(ctx, o)
	return nil
}

// PostProcess applies the bumper/music overlay to a rendered video.
func (s *stageUC) PostProcess(ctx context.Context, p model.PostProcessPayload, attempt model.Attempt) error {
	const op = "post-process"
	o, err := s.load(ctx, op, model.KindVideo, p.OutputID)
	if err != nil {
		return err
	}
	if o.Status != model.OutputProcessing {
		return domain.Precondition(op, fmt.Errorf("%w: output is %s", domain.ErrInvalidTransition, o.Status))
	}
	if o.MediaURL == "" {
		return s.settle(ctx, o, "", attempt, domain.Precondition(op, errors.New("no rendered media to post-process")))
	}

	if err := s.overlay(ctx, o); err != nil {
		return s.settle(ctx, o, "", attempt, err)
	}
	if err := s.finalizeVideo(ctx, o); err != nil {
		if errors.Is(err, domain.ErrStaleState) {
			return domain.Precondition(op, err)
		}
		return s.settle(ctx, o, "", attempt, err)
	}
	return nil
}

func (s *stageUC) overlay(ctx context.Context, o *model.Output) error {
	dir, err := os.MkdirTemp(s.opts.WorkDir, "postprocess-"+o.ID+"-")
	if err != nil {
		return domain.Transient("create work dir", err)
	}
	defer os.RemoveAll(dir)

	in := adapter.PostProcessInput{
		VideoPath:  filepath.Join(dir, "input.mp4"),
		OutputPath: filepath.Join(dir, "final.mp4"),
	}
	if err := s.download(ctx, o.MediaURL, in.VideoPath); err != nil {
		return err
	}
	if u := o.Customization.BumperURL; u != "" {
		in.BumperPath = filepath.Join(dir, "bumper.mp4")
		if err := s.download(ctx, u, in.BumperPath); err != nil {
			return err
		}
	}
	if u := o.Customization.MusicURL; u != "" {
		in.MusicPath = filepath.Join(dir, "music.mp3")
		if err := s.download(ctx, u, in.MusicPath); err != nil {
			return err
		}
	}

	start := time.Now()
	err = s.Post.Process(ctx, in)
	metrics.ObserveProviderCall("ffmpeg", time.Since(start), err == nil)
	if err != nil {
		return domain.Transient("ffmpeg", err)
	}

	f, err := os.Open(in.OutputPath)
	if err != nil {
		return domain.Transient("open processed video", err)
	}
	defer f.Close()
	url, err := s.Storage.Put(ctx, storageKey(o, "final.mp4"), "video/mp4", f)
	if err != nil {
		return domain.Transient("upload final.mp4", err)
	}
	o.MediaURL = url
	return nil
}

func (s *stageUC) download(ctx context.Context, url, dst string) error {
	rc, err := s.Storage.Fetch(ctx, url)
	if err != nil {
		return domain.Transient("download "+filepath.Base(dst), err)
	}
	defer rc.Close()
	f, err := os.Create(dst)
	if err != nil {
		return domain.Transient("create "+filepath.Base(dst), err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return domain.Transient("write "+filepath.Base(dst), err)
	}
	return f.Close()
}
