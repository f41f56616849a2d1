package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"media-pipeline/internal/domain/model"
	"media-pipeline/internal/domain/ports/adapter"
	"media-pipeline/internal/domain/ports/usecase"
	"media-pipeline/internal/infra/logging"
	"media-pipeline/internal/infra/metrics"
)

const maxBody = 1 << 20

// Deduper remembers deliveries already handed to the queue.
type Deduper interface {
	FirstSeen(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

type provider struct {
	name   string
	field  model.CorrelationField
	secret string
	parse  func(map[string]any) event
}

// Secrets holds the per-provider HMAC keys. Empty disables verification.
type Secrets struct {
	HeyGen   string
	Submagic string
}

// Handler receives provider callbacks. It always answers 200 so providers do
// not retry deliveries we chose to ignore.
type Handler struct {
	completions usecase.CompletionHandler
	queue       adapter.JobQueue
	dedupe      Deduper
	heygen      provider
	submagic    provider
	log         *zerolog.Logger
}

func NewHandler(
	completions usecase.CompletionHandler,
	queue adapter.JobQueue,
	dedupe Deduper,
	secrets Secrets,
	logger *zerolog.Logger,
) *Handler {
	l := logger.With().Str("component", "Webhooks").Logger()
	return &Handler{
		completions: completions,
		queue:       queue,
		dedupe:      dedupe,
		heygen:      provider{name: "heygen", field: model.CorrelationRender, secret: secrets.HeyGen, parse: parseHeyGen},
		submagic:    provider{name: "submagic", field: model.CorrelationCaption, secret: secrets.Submagic, parse: parseSubmagic},
		log:         &l,
	}
}

// Register mounts the receivers on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/heygen", h.serve(h.heygen))
	r.Post("/submagic", h.serve(h.submagic))
	r.Options("/heygen", preflight)
	r.Options("/submagic", preflight)
}

func preflight(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) serve(p provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l := logging.With(r.Context(), h.log).With().Str("provider", p.name).Logger()
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
		if err != nil {
			l.Warn().Err(err).Msg("read webhook body")
			ack(w, "ignored")
			return
		}
		if !verify(p.secret, r, body) {
			metrics.IncWebhook(p.name, "bad_signature")
			l.Warn().Msg("webhook signature mismatch; ignoring")
			ack(w, "ignored")
			return
		}
		doc, err := decode(body)
		if err != nil {
			metrics.IncWebhook(p.name, "bad_json")
			l.Warn().Err(err).Msg("webhook body is not a json object")
			ack(w, "ignored")
			return
		}
		ev := p.parse(doc)
		l = l.With().Str("correlation_id", ev.correlationID).Str("event", ev.raw).Logger()
		if ev.correlationID == "" || ev.outcome == outcomeUnknown {
			metrics.IncWebhook(p.name, "ignored")
			l.Info().Msg("unrecognised webhook; acknowledged")
			ack(w, "ignored")
			return
		}

		// Webhook handling outlives the provider's connection.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 30*time.Second)
		defer cancel()

		switch ev.outcome {
		case outcomeFailed:
			applied, err := h.completions.HandleFailure(ctx, p.field, ev.correlationID, ev.message)
			if err != nil {
				l.Error().Err(err).Msg("apply provider failure")
			}
			result := "failed"
			if !applied {
				result = "ignored"
			}
			metrics.IncWebhook(p.name, result)
			ack(w, result)
		case outcomeCompleted:
			ack(w, h.complete(ctx, &l, p, ev))
		}
	}
}

// complete hands a successful render to the queue so the response is
// immediate. When the queue refuses, the completion runs inline.
func (h *Handler) complete(ctx context.Context, l *zerolog.Logger, p provider, ev event) string {
	key := p.name + ":" + ev.correlationID
	if h.dedupe != nil {
		first, err := h.dedupe.FirstSeen(ctx, key)
		if err != nil {
			l.Warn().Err(err).Msg("webhook dedupe unavailable")
		} else if !first {
			metrics.IncWebhook(p.name, "duplicate")
			l.Info().Msg("duplicate completion; ignoring")
			return "duplicate"
		}
	}

	job, err := h.queue.Enqueue(ctx, model.CompleteVideoPayload{
		Provider:      p.name,
		Field:         p.field,
		CorrelationID: ev.correlationID,
		ResultURL:     ev.resultURL,
	}, nil)
	if err == nil {
		metrics.IncWebhook(p.name, "completed")
		l.Info().Str("job_id", job.ID).Msg("completion queued")
		return "queued"
	}

	l.Warn().Err(err).Msg("enqueue completion failed; handling inline")
	applied, herr := h.completions.HandleCompletion(ctx, p.field, ev.correlationID, ev.resultURL)
	if herr != nil {
		l.Error().Err(herr).Msg("handle completion inline")
		if h.dedupe != nil {
			if ferr := h.dedupe.Forget(ctx, key); ferr != nil {
				l.Warn().Err(ferr).Msg("forget delivery key")
			}
		}
		metrics.IncWebhook(p.name, "error")
		return "error"
	}
	if !applied {
		metrics.IncWebhook(p.name, "ignored")
		return "ignored"
	}
	metrics.IncWebhook(p.name, "completed")
	return "completed"
}

func ack(w http.ResponseWriter, result string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"received": true, "result": result})
}
