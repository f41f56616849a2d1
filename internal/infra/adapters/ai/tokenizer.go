package ai

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"media-pipeline/internal/domain/ports/adapter"
)

var _ adapter.Tokenizer = (*TiktokenTokenizer)(nil)

// TiktokenTokenizer budgets article text before it is sent to the model.
type TiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTokenizer picks the encoding of model, falling back to cl100k_base for
// models tiktoken does not know (gemini and custom deployments).
func NewTokenizer(model string) (*TiktokenTokenizer, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("load tokenizer: %w", err)
		}
	}
	return &TiktokenTokenizer{enc: enc}, nil
}

func (t *TiktokenTokenizer) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

func (t *TiktokenTokenizer) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	tokens := t.enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return t.enc.Decode(tokens[:maxTokens])
}
