package ai

import (
	"context"
	"strings"

	"media-pipeline/internal/domain/ports/adapter"
)

var _ adapter.TextGenerator = (*MultiTextAdapter)(nil)

// MultiTextAdapter routes each request to a provider by model name, so one
// deployment can draft scripts with one vendor and tag with another.
type MultiTextAdapter struct {
	defaultProvider string
	byProvider      map[string]adapter.TextGenerator
	modelToProvider map[string]string
}

func NewMultiTextAdapter(
	defaultProvider string,
	byProvider map[string]adapter.TextGenerator,
	modelToProvider map[string]string,
) *MultiTextAdapter {
	return &MultiTextAdapter{
		defaultProvider: strings.ToLower(defaultProvider),
		byProvider:      byProvider,
		modelToProvider: modelToProvider,
	}
}

func (m *MultiTextAdapter) resolveProvider(model string) string {
	if p := m.modelToProvider[model]; p != "" {
		return strings.ToLower(p)
	}
	l := strings.ToLower(model)
	switch {
	case strings.HasPrefix(l, "gemini"):
		return "gemini"
	case strings.HasPrefix(l, "gpt"), strings.HasPrefix(l, "o1"), strings.HasPrefix(l, "o3"), strings.HasPrefix(l, "o4"):
		return "openai"
	default:
		return m.defaultProvider
	}
}

func (m *MultiTextAdapter) pick(model string) adapter.TextGenerator {
	if a := m.byProvider[m.resolveProvider(model)]; a != nil {
		return a
	}
	if a := m.byProvider[m.defaultProvider]; a != nil {
		return a
	}
	for _, a := range m.byProvider {
		if a != nil {
			return a
		}
	}
	return nil
}

func (m *MultiTextAdapter) Provider() string {
	if a := m.pick(""); a != nil {
		return a.Provider()
	}
	return m.defaultProvider
}

func (m *MultiTextAdapter) Generate(ctx context.Context, req adapter.TextRequest) (string, adapter.Usage, error) {
	a := m.pick(req.Model)
	if a == nil {
		return "", adapter.Usage{}, errNoProvider
	}
	return a.Generate(ctx, req)
}
