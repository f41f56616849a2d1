package adapter

import "context"

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// Usage for a single generation call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// TextRequest is what stage services send to a text provider.
type TextRequest struct {
	Model    string
	Guidance string // system instruction
	Prompt   string
	Language string
	// JSON asks the provider for a JSON object response.
	JSON bool
}

// TextGenerator is the port for LLM text generation.
type TextGenerator interface {
	Generate(ctx context.Context, req TextRequest) (string, Usage, error)
	Provider() string
}

// Tokenizer counts and trims prompt tokens.
type Tokenizer interface {
	Count(text string) int
	Truncate(text string, maxTokens int) string
}
