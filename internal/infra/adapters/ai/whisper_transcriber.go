package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"media-pipeline/internal/domain/model"
	"media-pipeline/internal/domain/ports/adapter"
)

var _ adapter.Transcriber = (*WhisperTranscriber)(nil)

// WhisperTranscriber transcribes rendered media with word-level timestamps.
// It downloads the media through the blob storage so private URLs work.
type WhisperTranscriber struct {
	client  openai.Client
	model   string
	storage adapter.BlobStorage
}

func NewWhisperTranscriber(apiKey, baseURL, model string, storage adapter.BlobStorage) (*WhisperTranscriber, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	if model == "" {
		model = string(openai.AudioModelWhisper1)
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &WhisperTranscriber{client: openai.NewClient(opts...), model: model, storage: storage}, nil
}

// verboseTranscript is the verbose_json body; the SDK type only exposes text.
type verboseTranscript struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
	Words    []struct {
		Word  string  `json:"word"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"words"`
}

func (w *WhisperTranscriber) Transcribe(ctx context.Context, mediaURL, language string) (*adapter.Transcription, error) {
	rc, err := w.storage.Fetch(ctx, mediaURL)
	if err != nil {
		return nil, fmt.Errorf("fetch media: %w", err)
	}
	defer rc.Close()

	name := path.Base(mediaURL)
	if name == "" || name == "." || name == "/" {
		name = "media.mp4"
	}
	params := openai.AudioTranscriptionNewParams{
		File:                   openai.File(rc, name, "video/mp4"),
		Model:                  openai.AudioModel(w.model),
		ResponseFormat:         openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []string{"word"},
	}
	if language != "" {
		params.Language = openai.String(language)
	}
	resp, err := w.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, err
	}

	var v verboseTranscript
	if raw := resp.RawJSON(); raw != "" {
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode transcript: %w", err)
		}
	}
	if v.Text == "" {
		v.Text = resp.Text
	}
	out := &adapter.Transcription{Text: v.Text, Duration: v.Duration}
	for _, wd := range v.Words {
		out.Words = append(out.Words, model.WordTiming{Word: wd.Word, Start: wd.Start, End: wd.End})
	}
	if out.Duration == 0 && len(out.Words) > 0 {
		out.Duration = out.Words[len(out.Words)-1].End
	}
	return out, nil
}
