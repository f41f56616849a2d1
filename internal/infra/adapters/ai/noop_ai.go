package ai

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"media-pipeline/internal/domain/ports/adapter"
)

var (
	_ adapter.TextGenerator = (*NoopTextAdapter)(nil)
	_ adapter.Transcriber   = (*NoopTranscriber)(nil)
	_ adapter.Tokenizer     = (*RuneTokenizer)(nil)
)

// NoopTextAdapter returns canned responses for local runs without API keys.
type NoopTextAdapter struct {
	log *zerolog.Logger
}

func NewNoopTextAdapter(logger *zerolog.Logger) *NoopTextAdapter {
	l := logger.With().Str("component", "NoopText").Logger()
	return &NoopTextAdapter{log: &l}
}

func (a *NoopTextAdapter) Provider() string { return "noop" }

func (a *NoopTextAdapter) Generate(ctx context.Context, req adapter.TextRequest) (string, adapter.Usage, error) {
	select {
	case <-time.After(50 * time.Millisecond):
	case <-ctx.Done():
		return "", adapter.Usage{}, ctx.Err()
	}
	a.log.Debug().Str("model", req.Model).Int("prompt_chars", len(req.Prompt)).Msg("noop generation")
	if !req.JSON {
		return "HOST: This is a noop script generated for local development.\nGUEST: It reads fine as narration too.", adapter.Usage{}, nil
	}
	// One document that satisfies every JSON consumer.
	doc := map[string]interface{}{
		"segments": []map[string]interface{}{
			{"speaker": "HOST", "text": "Welcome to the show."},
			{"speaker": "GUEST", "text": "Glad to be here.", "question": map[string]interface{}{
				"prompt": "Who is the guest?", "options": []string{"A listener", "The author"}, "answer": 1,
			}},
		},
		"questions": []map[string]interface{}{
			{"prompt": "What was discussed?", "options": []string{"The article", "Nothing"}, "answer": 0},
		},
		"tags": []string{"noop"},
	}
	b, _ := json.Marshal(doc)
	return string(b), adapter.Usage{}, nil
}

// NoopTranscriber returns an empty transcript.
type NoopTranscriber struct{}

func (NoopTranscriber) Transcribe(ctx context.Context, mediaURL, language string) (*adapter.Transcription, error) {
	return &adapter.Transcription{}, nil
}

// RuneTokenizer approximates tokens as four characters each. It is used when
// no tiktoken encoding can be loaded.
type RuneTokenizer struct{}

func (RuneTokenizer) Count(text string) int { return (len([]rune(text)) + 3) / 4 }

func (RuneTokenizer) Truncate(text string, maxTokens int) string {
	r := []rune(text)
	if maxTokens <= 0 || len(r) <= maxTokens*4 {
		return text
	}
	return strings.TrimSpace(string(r[:maxTokens*4]))
}
