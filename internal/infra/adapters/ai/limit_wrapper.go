package ai

import (
	"context"
	"errors"

	"media-pipeline/internal/domain/ports/adapter"
)

var errNoProvider = errors.New("no text provider configured")

// Compile-time checks
var (
	_ adapter.TextGenerator     = (*limitedText)(nil)
	_ adapter.SpeechSynthesizer = (*limitedSpeech)(nil)
)

// semaphore bounds concurrent provider calls. Acquire gives up when ctx ends.
type semaphore chan struct{}

func (s semaphore) acquire(ctx context.Context) error {
	select {
	case s <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s semaphore) release() { <-s }

type limitedText struct {
	inner adapter.TextGenerator
	sem   semaphore
}

func NewLimitedText(inner adapter.TextGenerator, maxConcurrent int) adapter.TextGenerator {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedText{inner: inner, sem: make(semaphore, maxConcurrent)}
}

func (l *limitedText) Provider() string { return l.inner.Provider() }

func (l *limitedText) Generate(ctx context.Context, req adapter.TextRequest) (string, adapter.Usage, error) {
	if err := l.sem.acquire(ctx); err != nil {
		return "", adapter.Usage{}, err
	}
	defer l.sem.release()
	return l.inner.Generate(ctx, req)
}

type limitedSpeech struct {
	inner adapter.SpeechSynthesizer
	sem   semaphore
}

// NewLimitedSpeech caps concurrent synthesis calls; speech vendors enforce
// per-account concurrency.
func NewLimitedSpeech(inner adapter.SpeechSynthesizer, maxConcurrent int) adapter.SpeechSynthesizer {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedSpeech{inner: inner, sem: make(semaphore, maxConcurrent)}
}

func (l *limitedSpeech) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	if err := l.sem.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.sem.release()
	return l.inner.Synthesize(ctx, text, voiceID)
}
