package media

import (
	"context"
	"errors"
	"net/url"
	"time"

	"media-pipeline/internal/domain"
	"media-pipeline/internal/domain/ports/adapter"
)

var _ adapter.SpeechSynthesizer = (*ElevenLabsSpeech)(nil)

// ElevenLabsSpeech implements adapter.SpeechSynthesizer over the
// text-to-speech REST endpoint.
type ElevenLabsSpeech struct {
	http    httpClient
	modelID string
}

func NewElevenLabsSpeech(apiKey, baseURL, modelID string) (*ElevenLabsSpeech, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs api key empty")
	}
	if baseURL == "" {
		baseURL = "https://api.elevenlabs.io"
	}
	if modelID == "" {
		modelID = "eleven_multilingual_v2"
	}
	return &ElevenLabsSpeech{
		http:    newHTTPClient("elevenlabs", baseURL, map[string]string{"xi-api-key": apiKey}, 2*time.Minute),
		modelID: modelID,
	}, nil
}

func (s *ElevenLabsSpeech) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	if voiceID == "" {
		return nil, domain.Precondition("synthesize", domain.ErrMissingVoice)
	}
	body := map[string]interface{}{
		"text":     text,
		"model_id": s.modelID,
	}
	audio, err := s.http.post(ctx, "/v1/text-to-speech/"+url.PathEscape(voiceID)+"?output_format=mp3_44100_128", "audio/mpeg", body)
	if err != nil {
		return nil, classify("synthesize", err)
	}
	return audio, nil
}
