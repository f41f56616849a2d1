package adapter

import (
	"context"
	"io"

	"media-pipeline/internal/domain/model"
)

// SpeechSynthesizer turns text into encoded audio (mp3).
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
}

// RenderRequest asks an avatar provider for a talking-head video.
type RenderRequest struct {
	AudioURL string
	Script   string
	AvatarID string
	VoiceID  string
	Title    string
}

// AvatarRenderer submits asynchronous video renders. The returned id is the
// correlation id the provider echoes back in its webhook.
type AvatarRenderer interface {
	SubmitRender(ctx context.Context, req RenderRequest) (string, error)
}

// CaptionRequest asks a captioning provider to burn subtitles into a video.
type CaptionRequest struct {
	VideoURL string
	Language string
	Title    string
}

// Captioner submits asynchronous caption jobs, also answered by webhook.
type Captioner interface {
	SubmitCaptions(ctx context.Context, req CaptionRequest) (string, error)
}

// Transcription is a transcript with word-level timings.
type Transcription struct {
	Text     string
	Words    []model.WordTiming
	Duration float64
}

type Transcriber interface {
	Transcribe(ctx context.Context, mediaURL, language string) (*Transcription, error)
}

// BlobStorage is durable storage for generated artifacts.
type BlobStorage interface {
	// Put stores r under key and returns a URL the providers can fetch.
	Put(ctx context.Context, key, contentType string, r io.Reader) (string, error)
	// Fetch downloads a URL (ours or a provider's) for re-hosting.
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// PostProcessInput is the black-box FFmpeg contract.
type PostProcessInput struct {
	VideoPath  string
	BumperPath string
	MusicPath  string
	OutputPath string
}

type PostProcessor interface {
	Process(ctx context.Context, in PostProcessInput) error
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}
