package media

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"media-pipeline/internal/domain/ports/adapter"
)

var (
	_ adapter.SpeechSynthesizer = (*NoopSpeech)(nil)
	_ adapter.AvatarRenderer    = (*NoopRenderer)(nil)
	_ adapter.Captioner         = (*NoopRenderer)(nil)
)

// silentFrame is one MPEG-1 Layer III frame of silence.
var silentFrame = append([]byte{0xFF, 0xFB, 0x90, 0x64}, make([]byte, 413)...)

// NoopSpeech returns a short silent mp3 for local runs without API keys.
type NoopSpeech struct{}

func (NoopSpeech) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	out := make([]byte, 0, len(silentFrame)*10)
	for i := 0; i < 10; i++ {
		out = append(out, silentFrame...)
	}
	return out, nil
}

// NoopRenderer accepts renders and caption jobs and never calls back; the
// timeout monitor or a manual webhook completes them.
type NoopRenderer struct {
	log       *zerolog.Logger
	submitted atomic.Int64
}

func NewNoopRenderer(logger *zerolog.Logger) *NoopRenderer {
	l := logger.With().Str("component", "NoopRenderer").Logger()
	return &NoopRenderer{log: &l}
}

func (r *NoopRenderer) SubmitRender(ctx context.Context, req adapter.RenderRequest) (string, error) {
	id := "noop-render-" + uuid.NewString()
	r.submitted.Add(1)
	r.log.Info().Str("render_job_id", id).Str("avatar_id", req.AvatarID).Msg("render accepted")
	return id, nil
}

func (r *NoopRenderer) SubmitCaptions(ctx context.Context, req adapter.CaptionRequest) (string, error) {
	id := "noop-caption-" + uuid.NewString()
	r.submitted.Add(1)
	r.log.Info().Str("caption_job_id", id).Msg("caption job accepted")
	return id, nil
}
