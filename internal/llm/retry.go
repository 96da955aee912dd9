package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"task-orchestrator/internal/utils"
)

const (
	maxAttempts       = 3
	initialRetryDelay = 1 * time.Second
)

// transientPhrases are provider phrasings treated as retryable. Providers
// surface these inside error strings rather than typed errors, so
// classification is substring-based.
var transientPhrases = []string{
	"rate limit", "rate_limit", "overloaded", "too many requests",
	"service unavailable", "internal server error",
}

// transientStatusPattern matches retryable status codes only when anchored to
// a status phrase, so incidental numbers in provider messages (model names,
// token counts) do not trigger retries.
var transientStatusPattern = regexp.MustCompile(`status(?: code)?[: ]+(429|500|502|503|504)\b`)

// IsTransientError reports whether an error should be retried with backoff.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range transientPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return transientStatusPattern.MatchString(msg)
}

// withRetries runs op with exponential backoff on transient failures:
// 3 attempts total, 1s initial delay, doubling. Non-transient errors
// propagate immediately.
func withRetries(ctx context.Context, logger utils.ExtendedLogger, operation string, op func() (string, error)) (string, error) {
	delay := initialRetryDelay
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := op()
		if err == nil {
			return result, nil
		}
		if !IsTransientError(err) {
			return "", err
		}

		lastErr = err
		if attempt == maxAttempts {
			break
		}

		logger.Warnf("Transient %s failure (attempt %d/%d), retrying in %s: %v", operation, attempt, maxAttempts, delay, err)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return "", fmt.Errorf("model unavailable after %d attempts: %w", maxAttempts, lastErr)
}
