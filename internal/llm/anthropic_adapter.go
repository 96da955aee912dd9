package llm

import (
	"context"
	"fmt"

	"task-orchestrator/internal/utils"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
)

const defaultAnthropicModel = "claude-3-5-sonnet-20241022"

// AnthropicAdapter implements ModelAdapter over the Anthropic messages API.
type AnthropicAdapter struct {
	model     llms.Model
	modelID   string
	tokenizer Tokenizer
	logger    utils.ExtendedLogger
}

// NewAnthropicAdapter creates an adapter for the given model id. The API key
// is read from ANTHROPIC_API_KEY by the underlying client.
func NewAnthropicAdapter(modelID string, logger utils.ExtendedLogger) (*AnthropicAdapter, error) {
	if modelID == "" {
		modelID = defaultAnthropicModel
	}

	client, err := anthropic.New(anthropic.WithModel(modelID))
	if err != nil {
		return nil, fmt.Errorf("failed to create Anthropic client: %w", err)
	}

	logger.Infof("Initialized Anthropic adapter - model_id: %s", modelID)
	return &AnthropicAdapter{
		model:     client,
		modelID:   modelID,
		tokenizer: NewTokenizer(),
		logger:    logger,
	}, nil
}

// GenerateText runs a single-prompt generation with retry on transient errors.
func (a *AnthropicAdapter) GenerateText(ctx context.Context, prompt string, params CallParams) (string, error) {
	messages := []ChatMessage{}
	if params.SystemInstruction != "" {
		messages = append(messages, ChatMessage{Role: RoleSystem, Content: params.SystemInstruction})
	}
	messages = append(messages, ChatMessage{Role: RoleUser, Content: prompt})
	return a.CompleteChat(ctx, messages, params)
}

// CompleteChat runs a chat completion with retry on transient errors.
func (a *AnthropicAdapter) CompleteChat(ctx context.Context, messages []ChatMessage, params CallParams) (string, error) {
	content := buildMessageContent(messages, params)
	opts := buildCallOptions(a.modelID, params)

	return withRetries(ctx, a.logger, "anthropic chat completion", func() (string, error) {
		resp, err := a.model.GenerateContent(ctx, content, opts...)
		if err != nil {
			return "", err
		}
		return firstChoice(resp)
	})
}

// GetTokenizer returns the token counter. Anthropic uses its own tokenizer
// server-side; cl100k_base is close enough for budgeting purposes.
func (a *AnthropicAdapter) GetTokenizer() Tokenizer {
	return a.tokenizer
}

// GetMaxContextTokens returns the context window for the configured model.
func (a *AnthropicAdapter) GetMaxContextTokens() int {
	return 200000
}

// GetServiceName identifies this adapter.
func (a *AnthropicAdapter) GetServiceName() string {
	return "anthropic"
}

// PrepareContextForModel formats context parts as a message prefix and marks
// the handle cacheable so later calls can reuse the provider's prompt cache.
func (a *AnthropicAdapter) PrepareContextForModel(ctx context.Context, contextParts []string, opts PrepareOptions) (*ContextHandle, error) {
	handle := &ContextHandle{
		ServiceName: a.GetServiceName(),
		Messages:    contextPartsAsMessages(contextParts),
		TTLSeconds:  opts.TTLSeconds,
	}
	if opts.EnableCache {
		handle.CacheToken = "ephemeral"
	}
	return handle, nil
}
