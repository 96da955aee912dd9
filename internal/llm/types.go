package llm

import (
	"context"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one ordered entry of a chat completion request.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Tokenizer counts tokens for a piece of text using the adapter's encoding.
type Tokenizer func(text string) int

// ContextHandle is the opaque result of PrepareContextForModel. Adapters that
// support provider-side context caching put their cache token here; adapters
// that do not simply carry the formatted message prefix.
type ContextHandle struct {
	ServiceName string        `json:"service_name"`
	CacheToken  string        `json:"cache_token,omitempty"`
	Messages    []ChatMessage `json:"messages,omitempty"`
	TTLSeconds  int           `json:"ttl_seconds,omitempty"`
}

// PrepareOptions controls context pre-caching behavior.
type PrepareOptions struct {
	EnableCache bool
	TTLSeconds  int
}

// ModelAdapter is the uniform capability interface to a language model
// family. One concrete adapter exists per provider; everything above this
// layer (planning, CWC updates, synthesis, summarization) talks only to this
// interface.
type ModelAdapter interface {
	// GenerateText runs a single-prompt text generation.
	GenerateText(ctx context.Context, prompt string, params CallParams) (string, error)

	// CompleteChat runs a chat completion over an ordered message sequence.
	CompleteChat(ctx context.Context, messages []ChatMessage, params CallParams) (string, error)

	// GetTokenizer returns the token counting function for this model.
	GetTokenizer() Tokenizer

	// GetMaxContextTokens returns the model's maximum context window.
	GetMaxContextTokens() int

	// GetServiceName identifies the adapter (e.g. "openai", "anthropic").
	GetServiceName() string

	// PrepareContextForModel optionally pre-stages context parts with the
	// provider. Adapters without provider-side caching return a handle that
	// just carries the formatted messages.
	PrepareContextForModel(ctx context.Context, contextParts []string, opts PrepareOptions) (*ContextHandle, error)
}
