package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"task-orchestrator/internal/utils"
)

// ConditionalResponse represents a true/false response with reasoning.
type ConditionalResponse struct {
	Result bool   `json:"result"`
	Reason string `json:"reason"`
}

// GetResult returns the boolean result.
func (cr *ConditionalResponse) GetResult() bool {
	return cr.Result
}

// ConditionalDecider provides a simple true/false decision service on top of
// a model adapter. The replanner uses it to judge whether a revised plan is
// materially different from the plan that failed.
type ConditionalDecider struct {
	adapter ModelAdapter
	logger  utils.ExtendedLogger
}

// NewConditionalDecider creates a decider bound to the given adapter.
func NewConditionalDecider(adapter ModelAdapter, logger utils.ExtendedLogger) *ConditionalDecider {
	return &ConditionalDecider{
		adapter: adapter,
		logger:  logger,
	}
}

// Decide makes a true/false decision based on context and question.
func (cd *ConditionalDecider) Decide(ctx context.Context, decisionContext, question string) (*ConditionalResponse, error) {
	cd.logger.Infof("Making conditional decision: %s", question)

	prompt := conditionalPrompt(decisionContext, question)
	output, err := cd.adapter.GenerateText(ctx, prompt, CallParams{MaxTokens: 512})
	if err != nil {
		return nil, fmt.Errorf("failed to make conditional decision: %w", err)
	}

	var result ConditionalResponse
	if err := json.Unmarshal([]byte(StripCodeFences(output)), &result); err != nil {
		return nil, fmt.Errorf("failed to parse conditional response: %w", err)
	}

	cd.logger.Infof("Conditional decision made: result=%t, reason=%s", result.Result, result.Reason)
	return &result, nil
}

// StripCodeFences removes a surrounding markdown code fence (``` or
// ```json) from model output, leaving the inner content intact.
func StripCodeFences(content string) string {
	cleaned := strings.TrimSpace(content)
	if !strings.Contains(cleaned, "```") {
		return cleaned
	}

	startIdx := strings.Index(cleaned, "```")
	contentStart := startIdx + 3
	if newlineIdx := strings.Index(cleaned[contentStart:], "\n"); newlineIdx != -1 {
		contentStart += newlineIdx + 1
	}
	endIdx := strings.LastIndex(cleaned, "```")
	if endIdx > contentStart {
		cleaned = cleaned[contentStart:endIdx]
	}
	return strings.TrimSpace(cleaned)
}

func conditionalPrompt(decisionContext, question string) string {
	return `You are a decision assistant. Analyze the context and return a true/false decision with reasoning.

Context: ` + decisionContext + `

Question: ` + question + `

Instructions:
1. Determine the answer to the question from the context.
2. Yes = true, No = false
3. Provide clear reasoning for your decision

Return ONLY valid JSON: {"result": true/false, "reason": "your reasoning here"}`
}
