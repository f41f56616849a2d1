package usecase

import (
	"context"
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

// GenerateScript is the cheap draft phase: it only calls the text provider.
// PENDING -> PROCESSING -> SCRIPT_READY, or back to PENDING / FAILED on error.
func (s *stageUC) GenerateScript(ctx context.Context, p model.GenerateScriptPayload, attempt model.Attempt) error {
	const op = "generate script"
	o, err := s.load(ctx, op, p.Kind, p.OutputID)
	if err != nil {
		return err
	}
	l := s.outputLog(o)

	prev := o.Status
	if err := o.Apply(model.EventBeginScript, s.Now()); err != nil {
		return domain.Precondition(op, err)
	}
	o.Stage = model.StageScript
	if err := s.Outputs.Update(ctx, repository.NoTX, o, prev); err != nil {
		if errors.Is(err, domain.ErrStaleState) {
			return domain.Precondition(op, err)
		}
		return domain.Transient(op, err)
	}

	articleID := p.ArticleID
	if articleID == "" {
		articleID = o.ArticleID
	}
	language := p.Language
	if language == "" {
		language = o.Language
	}

	script, err := s.writeScript(ctx, o.Kind, articleID, language)
	if err != nil {
		return s.settle(ctx, o, model.EventRetryScript, attempt, err)
	}

	o.Script = script
	if err := s.advance(ctx, o, model.EventScriptReady); err != nil {
		return s.settle(ctx, o, model.EventRetryScript, attempt, err)
	}
	l.Info().Int("chars", len(script)).Msg("script ready")
	return nil
}

func (s *stageUC) writeScript(ctx context.Context, kind model.MediaKind, articleID, language string) (string, error) {
	article, err := s.Articles.FindByID(ctx, repository.NoTX, articleID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", domain.Precondition("load article", fmt.Errorf("article %s: %w", articleID, err))
		}
		return "", domain.Transient("load article", err)
	}
	content := strings.TrimSpace(article.Content)
	if content == "" {
		return "", domain.Precondition("load article", fmt.Errorf("article %s has no content", articleID))
	}
	if s.Tokenizer != nil {
		content = s.Tokenizer.Truncate(content, s.opts.MaxArticleTokens)
	}

	req := adapter.TextRequest{
		Model:    s.opts.TextModel,
		Guidance: guidanceFor(kind, language),
		Prompt:   "Title: " + article.Title + "\n\n" + content,
		Language: language,
		JSON:     jsonScript(kind),
	}
	text, err := s.generate(ctx, req)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if jsonScript(kind) {
		text = extractJSON(text)
	}
	// A malformed draft is worth another attempt.
	if err := validateScript(kind, text); err != nil {
		return "", domain.Transient("validate script", err)
	}
	return text, nil
}

// generate calls the text provider and records usage metrics.
func (s *stageUC) generate(ctx context.Context, req adapter.TextRequest) (string, error) {
	start := time.Now()
	text, usage, err := s.Text.Generate(ctx, req)
	latency := time.Since(start)
	metrics.ObserveTextGeneration(s.Text.Provider(), req.Model, usage.PromptTokens, usage.CompletionTokens, latency, err == nil)
	if err != nil {
		return "", domain.Transient("text generation", err)
	}
	return text, nil
}
