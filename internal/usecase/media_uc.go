package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"media-pipeline/internal/domain"
	"media-pipeline/internal/domain/model"
	"media-pipeline/internal/domain/ports/adapter"
	"media-pipeline/internal/domain/ports/repository"
	"media-pipeline/internal/infra/metrics"
)

// GenerateMediaFromScript renders the costly media from an accepted script.
//
// Ineligible status or an empty script is rejected without touching the row.
// Unresolvable customization fails the output before any provider call.
// Video returns while still PROCESSING; the render webhook completes it.
func (s *stageUC) GenerateMediaFromScript(ctx context.Context, p model.GenerateMediaPayload, attempt model.Attempt) error {
	const op = "generate media"
	o, err := s.load(ctx, op, p.Kind, p.OutputID)
	if err != nil {
		return err
	}
	l := s.outputLog(o)

	if strings.TrimSpace(o.Script) == "" {
		return domain.Precondition(op, domain.ErrEmptyScript)
	}
	if _, err := model.Transition(o.Status, model.EventBeginMedia); err != nil {
		return domain.Precondition(op, err)
	}
	if p.Customization != nil {
		o.Customization = *p.Customization
	}
	if err := s.resolveCustomization(o); err != nil {
		return s.settle(ctx, o, model.EventRetryMedia, attempt, domain.Precondition(op, err))
	}

	if err := s.advanceTo(ctx, o, model.EventBeginMedia, model.StageSynthesis); err != nil {
		return err
	}

	start := time.Now()
	switch o.Kind {
	case model.KindAudio:
		err = s.renderNarration(ctx, o)
	case model.KindPodcast:
		err = s.renderPodcast(ctx, o)
	case model.KindInteractivePodcast:
		err = s.renderInteractive(ctx, o)
	case model.KindQuiz:
		err = s.renderQuiz(o)
	case model.KindVideo:
		err = s.submitVideo(ctx, o)
	default:
		err = domain.Precondition(op, fmt.Errorf("unsupported kind %q", o.Kind))
	}
	if err != nil {
		return s.settle(ctx, o, model.EventRetryMedia, attempt, err)
	}
	if o.Kind.Async() {
		l.Info().Str("render_job_id", deref(o.RenderJobID)).Msg("render submitted; awaiting webhook")
		return nil
	}

	if err := s.advance(ctx, o, model.EventComplete); err != nil {
		return s.settle(ctx, o, model.EventRetryMedia, attempt, err)
	}
	metrics.ObserveStage(string(o.Kind), "media", time.Since(start))
	l.Info().Str("media_url", o.MediaURL).Float64("duration_s", o.DurationSeconds).Msg("media completed")
	s.autoTag(ctx, o)
	return nil
}

// advanceTo applies ev, sets the PROCESSING sub-stage and persists.
func (s *stageUC) advanceTo(ctx context.Context, o *model.Output, ev model.Event, stage model.Stage) error {
	prev := o.Status
	if err := o.Apply(ev, s.Now()); err != nil {
		return domain.Precondition("transition", err)
	}
	o.Stage = stage
	if err := s.Outputs.Update(ctx, repository.NoTX, o, prev); err != nil {
		if errors.Is(err, domain.ErrStaleState) {
			return domain.Precondition("transition", err)
		}
		return domain.Transient("transition", err)
	}
	return nil
}

func (s *stageUC) resolveCustomization(o *model.Output) error {
	c := &o.Customization
	switch o.Kind {
	case model.KindVideo:
		if strings.TrimSpace(c.AvatarID) == "" {
			return domain.ErrMissingAvatar
		}
		if strings.TrimSpace(c.VoiceID) == "" {
			return domain.ErrMissingVoice
		}
	case model.KindAudio, model.KindPodcast, model.KindInteractivePodcast:
		if c.VoiceID == "" {
			c.VoiceID = s.opts.DefaultVoiceID
		}
		if c.VoiceID == "" {
			return domain.ErrMissingVoice
		}
		if c.SecondVoiceID == "" {
			c.SecondVoiceID = s.opts.GuestVoiceID
		}
		if c.SecondVoiceID == "" {
			c.SecondVoiceID = c.VoiceID
		}
	}
	return nil
}

func (s *stageUC) synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	start := time.Now()
	audio, err := s.Speech.Synthesize(ctx, text, voiceID)
	metrics.ObserveProviderCall("speech", time.Since(start), err == nil)
	if err != nil {
		return nil, domain.Transient("speech synthesis", err)
	}
	if len(audio) == 0 {
		return nil, domain.Transient("speech synthesis", errors.New("provider returned no audio"))
	}
	return audio, nil
}

func (s *stageUC) renderNarration(ctx context.Context, o *model.Output) error {
	audio, err := s.synthesize(ctx, o.Script, o.Customization.VoiceID)
	if err != nil {
		return err
	}
	url, err := s.upload(ctx, o, "narration.mp3", "audio/mpeg", audio)
	if err != nil {
		return err
	}
	o.MediaURL = url
	o.DurationSeconds = estimateDuration(o.Script)
	return nil
}

func (s *stageUC) voiceFor(o *model.Output, speaker string, first string) string {
	if speaker == first || first == "" {
		return o.Customization.VoiceID
	}
	return o.Customization.SecondVoiceID
}

// renderPodcast synthesizes each turn and concatenates the mp3 frames.
func (s *stageUC) renderPodcast(ctx context.Context, o *model.Output) error {
	segments, err := parseDialogue(o.Script)
	if err != nil {
		return domain.Precondition("parse podcast script", err)
	}
	var audio []byte
	var total float64
	first := segments[0].Speaker
	for i := range segments {
		chunk, err := s.synthesize(ctx, segments[i].Text, s.voiceFor(o, segments[i].Speaker, first))
		if err != nil {
			return err
		}
		audio = append(audio, chunk...)
		segments[i].Duration = estimateDuration(segments[i].Text)
		total += segments[i].Duration
	}
	url, err := s.upload(ctx, o, "podcast.mp3", "audio/mpeg", audio)
	if err != nil {
		return err
	}
	o.Segments = segments
	o.MediaURL = url
	o.DurationSeconds = total
	return nil
}

// renderInteractive stores one clip per segment plus a manifest tying
// questions to timeline offsets.
func (s *stageUC) renderInteractive(ctx context.Context, o *model.Output) error {
	segments, err := parseInteractive(o.Script)
	if err != nil {
		return domain.Precondition("parse interactive script", err)
	}
	var questions []model.Question
	var offset float64
	first := segments[0].Speaker
	for i := range segments {
		seg := &segments[i]
		chunk, err := s.synthesize(ctx, seg.Text, s.voiceFor(o, seg.Speaker, first))
		if err != nil {
			return err
		}
		url, err := s.upload(ctx, o, fmt.Sprintf("segment-%03d.mp3", i), "audio/mpeg", chunk)
		if err != nil {
			return err
		}
		seg.AudioURL = url
		seg.Duration = estimateDuration(seg.Text)
		offset += seg.Duration
		if seg.Question != nil {
			seg.Question.AtSecond = offset
			questions = append(questions, *seg.Question)
		}
	}
	manifest, err := json.Marshal(struct {
		Segments []model.Segment `json:"segments"`
	}{segments})
	if err != nil {
		return domain.Precondition("encode manifest", err)
	}
	url, err := s.upload(ctx, o, "manifest.json", "application/json", manifest)
	if err != nil {
		return err
	}
	o.Segments = segments
	o.Questions = questions
	o.MediaURL = url
	o.DurationSeconds = offset
	return nil
}

// renderQuiz has no media; the accepted script is the quiz.
func (s *stageUC) renderQuiz(o *model.Output) error {
	questions, err := parseQuestions(o.Script)
	if err != nil {
		return domain.Precondition("parse quiz", err)
	}
	o.Questions = questions
	return nil
}

// submitVideo voices the script, hands the audio to the avatar renderer and
// stores the render job id. It never waits for the render.
func (s *stageUC) submitVideo(ctx context.Context, o *model.Output) error {
	audio, err := s.synthesize(ctx, o.Script, o.Customization.VoiceID)
	if err != nil {
		return err
	}
	audioURL, err := s.upload(ctx, o, "voiceover.mp3", "audio/mpeg", audio)
	if err != nil {
		return err
	}
	o.Stage = model.StageRendering
	if err := s.persist(ctx, o); err != nil {
		return err
	}

	start := time.Now()
	renderID, err := s.Avatar.SubmitRender(ctx, adapter.RenderRequest{
		AudioURL: audioURL,
		Script:   o.Script,
		AvatarID: o.Customization.AvatarID,
		VoiceID:  o.Customization.VoiceID,
		Title:    o.ID,
	})
	metrics.ObserveProviderCall("avatar", time.Since(start), err == nil)
	if err != nil {
		return domain.Transient("submit render", err)
	}
	o.RenderJobID = &renderID
	return s.persist(ctx, o)
}

func (s *stageUC) autoTag(ctx context.Context, o *model.Output) {
	s.BestEffort.Run(ctx, "auto_tag", func(ctx context.Context) error {
		source := o.Transcript
		if source == "" {
			source = o.Script
		}
		if s.Tokenizer != nil {
			source = s.Tokenizer.Truncate(source, 2000)
		}
		text, err := s.generate(ctx, adapter.TextRequest{
			Model:    s.opts.TextModel,
			Guidance: tagGuidance,
			Prompt:   source,
			Language: o.Language,
			JSON:     true,
		})
		if err != nil {
			return err
		}
		tags := parseTags(text)
		if len(tags) == 0 {
			return nil
		}
		cur, err := s.Outputs.FindByID(ctx, repository.NoTX, o.Kind, o.ID)
		if err != nil {
			return err
		}
		if cur.Status != model.OutputCompleted {
			return nil
		}
		cur.Tags = tags
		return s.persist(ctx, cur)
	})
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
