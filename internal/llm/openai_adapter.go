package llm

import (
	"context"
	"fmt"

	"task-orchestrator/internal/utils"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const defaultOpenAIModel = "gpt-4.1"

// openAIContextWindows maps known model prefixes to their context window.
var openAIContextWindows = map[string]int{
	"gpt-4.1":     1047576,
	"gpt-4o":      128000,
	"gpt-4-turbo": 128000,
	"o3":          200000,
	"o4":          200000,
}

// OpenAIAdapter implements ModelAdapter over the OpenAI chat API.
type OpenAIAdapter struct {
	model     llms.Model
	modelID   string
	tokenizer Tokenizer
	logger    utils.ExtendedLogger
}

// NewOpenAIAdapter creates an adapter for the given model id. The API key is
// read from OPENAI_API_KEY by the underlying client.
func NewOpenAIAdapter(modelID string, logger utils.ExtendedLogger) (*OpenAIAdapter, error) {
	if modelID == "" {
		modelID = defaultOpenAIModel
	}

	client, err := openai.New(openai.WithModel(modelID))
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
	}

	logger.Infof("Initialized OpenAI adapter - model_id: %s", modelID)
	return &OpenAIAdapter{
		model:     client,
		modelID:   modelID,
		tokenizer: NewTokenizer(),
		logger:    logger,
	}, nil
}

// GenerateText runs a single-prompt generation with retry on transient errors.
func (a *OpenAIAdapter) GenerateText(ctx context.Context, prompt string, params CallParams) (string, error) {
	messages := []ChatMessage{}
	if params.SystemInstruction != "" {
		messages = append(messages, ChatMessage{Role: RoleSystem, Content: params.SystemInstruction})
	}
	messages = append(messages, ChatMessage{Role: RoleUser, Content: prompt})
	return a.CompleteChat(ctx, messages, params)
}

// CompleteChat runs a chat completion with retry on transient errors.
func (a *OpenAIAdapter) CompleteChat(ctx context.Context, messages []ChatMessage, params CallParams) (string, error) {
	content := buildMessageContent(messages, params)
	opts := buildCallOptions(a.modelID, params)

	return withRetries(ctx, a.logger, "openai chat completion", func() (string, error) {
		resp, err := a.model.GenerateContent(ctx, content, opts...)
		if err != nil {
			return "", err
		}
		return firstChoice(resp)
	})
}

// GetTokenizer returns the cl100k_base token counter.
func (a *OpenAIAdapter) GetTokenizer() Tokenizer {
	return a.tokenizer
}

// GetMaxContextTokens returns the context window for the configured model.
func (a *OpenAIAdapter) GetMaxContextTokens() int {
	return contextWindowFor(a.modelID, openAIContextWindows, 128000)
}

// GetServiceName identifies this adapter.
func (a *OpenAIAdapter) GetServiceName() string {
	return "openai"
}

// PrepareContextForModel formats context parts as a message prefix. OpenAI
// caches prompt prefixes server-side automatically, so no explicit cache
// token is produced.
func (a *OpenAIAdapter) PrepareContextForModel(ctx context.Context, contextParts []string, opts PrepareOptions) (*ContextHandle, error) {
	return &ContextHandle{
		ServiceName: a.GetServiceName(),
		Messages:    contextPartsAsMessages(contextParts),
		TTLSeconds:  opts.TTLSeconds,
	}, nil
}
