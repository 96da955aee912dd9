package llm

import (
	"fmt"
	"strings"

	"task-orchestrator/internal/utils"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// Provider represents the available LLM providers.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// Config holds configuration for adapter initialization.
type Config struct {
	Provider    Provider
	ModelID     string
	Temperature float64

	// Per-purpose model overrides. Empty values fall back to ModelID.
	PlanningModel      string
	CWCUpdateModel     string
	SynthesisModel     string
	SummarizationModel string

	MaxTokens int
	Logger    utils.ExtendedLogger
}

// ModelForPurpose resolves the model id to use for a named purpose.
func (c Config) ModelForPurpose(purpose string) string {
	var model string
	switch purpose {
	case "planning":
		model = c.PlanningModel
	case "cwc_update":
		model = c.CWCUpdateModel
	case "synthesis":
		model = c.SynthesisModel
	case "summarization":
		model = c.SummarizationModel
	}
	if model == "" {
		model = c.ModelID
	}
	return model
}

// ValidateProvider parses a provider string.
func ValidateProvider(provider string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(provider))) {
	case ProviderOpenAI:
		return ProviderOpenAI, nil
	case ProviderAnthropic:
		return ProviderAnthropic, nil
	default:
		return "", fmt.Errorf("unsupported LLM provider: %s", provider)
	}
}

// GetDefaultModel returns the default model id for a provider.
func GetDefaultModel(provider Provider) string {
	switch provider {
	case ProviderOpenAI:
		return defaultOpenAIModel
	case ProviderAnthropic:
		return defaultAnthropicModel
	default:
		return ""
	}
}

// InitializeAdapter creates the ModelAdapter for the configured provider.
func InitializeAdapter(config Config) (ModelAdapter, error) {
	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAIAdapter(config.ModelID, config.Logger)
	case ProviderAnthropic:
		return NewAnthropicAdapter(config.ModelID, config.Logger)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", config.Provider)
	}
}

// buildMessageContent converts adapter messages (plus any cached context
// prefix and system instruction) into langchaingo message content.
func buildMessageContent(messages []ChatMessage, params CallParams) []llms.MessageContent {
	var all []ChatMessage
	if params.CacheHandle != nil {
		all = append(all, params.CacheHandle.Messages...)
	}
	if params.SystemInstruction != "" && !hasSystemMessage(messages) {
		all = append(all, ChatMessage{Role: RoleSystem, Content: params.SystemInstruction})
	}
	all = append(all, messages...)

	content := make([]llms.MessageContent, 0, len(all))
	for _, msg := range all {
		content = append(content, llms.TextParts(chatMessageType(msg.Role), msg.Content))
	}
	return content
}

func hasSystemMessage(messages []ChatMessage) bool {
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			return true
		}
	}
	return false
}

func chatMessageType(role Role) schema.ChatMessageType {
	switch role {
	case RoleSystem:
		return schema.ChatMessageTypeSystem
	case RoleAssistant:
		return schema.ChatMessageTypeAI
	default:
		return schema.ChatMessageTypeHuman
	}
}

// buildCallOptions translates CallParams into langchaingo call options.
func buildCallOptions(defaultModel string, params CallParams) []llms.CallOption {
	model := params.Model
	if model == "" {
		model = defaultModel
	}

	opts := []llms.CallOption{llms.WithModel(model)}
	if params.TemperatureSet {
		opts = append(opts, llms.WithTemperature(params.Temperature))
	}
	if params.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(params.MaxTokens))
	}
	if len(params.StopSequences) > 0 {
		opts = append(opts, llms.WithStopWords(params.StopSequences))
	}
	return opts
}

// firstChoice extracts the text of the first completion choice.
func firstChoice(resp *llms.ContentResponse) (string, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("model returned no completion choices")
	}
	return resp.Choices[0].Content, nil
}

// contextPartsAsMessages wraps assembled context parts as user messages.
func contextPartsAsMessages(contextParts []string) []ChatMessage {
	messages := make([]ChatMessage, 0, len(contextParts))
	for _, part := range contextParts {
		if part == "" {
			continue
		}
		messages = append(messages, ChatMessage{Role: RoleUser, Content: part})
	}
	return messages
}

// contextWindowFor finds the context window for a model id by prefix match.
func contextWindowFor(modelID string, windows map[string]int, fallback int) int {
	for prefix, window := range windows {
		if strings.HasPrefix(modelID, prefix) {
			return window
		}
	}
	return fallback
}
