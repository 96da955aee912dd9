package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"task-orchestrator/internal/llm"
)

// DefaultSummaryPromptTemplate is used when the caller supplies no template.
// The literal {text_to_summarize} token is replaced with the content.
const DefaultSummaryPromptTemplate = `Summarize the following content concisely, preserving all key facts, names, numbers and decisions:

{text_to_summarize}`

const summaryPlaceholder = "{text_to_summarize}"

// SummarizeOptions controls GetSummarizedMemory and GetSummarizedRecords.
type SummarizeOptions struct {
	// MaxOriginalLength is the size gate in bytes: content at or below it
	// is returned raw.
	MaxOriginalLength int

	// ForceSummarize skips the size gate.
	ForceSummarize bool

	// PromptTemplate overrides DefaultSummaryPromptTemplate.
	PromptTemplate string

	// CacheSummary persists the generated summary and its meta record.
	CacheSummary bool

	// DefaultValue is returned when the underlying file is absent and
	// HasDefault is set.
	DefaultValue string
	HasDefault   bool

	// Model and MaxSummaryTokens are passed to the adapter.
	Model            string
	MaxSummaryTokens int
}

// SummaryMeta is the cache-validity record stored alongside each summary.
// Validity is determined solely by hash equality; the timestamp is
// informational.
type SummaryMeta struct {
	OriginalContentHash       string    `json:"originalContentHash"`
	SummaryGeneratedTimestamp time.Time `json:"summaryGeneratedTimestamp"`
}

// SummaryRecord is one input to a combined summarization: either inline
// content or a memory-bank-relative path to load.
type SummaryRecord struct {
	Content string
	Path    string
}

// ContentHash returns the hex SHA-256 of content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// summaryName maps a memory name to its summary file name, e.g.
// "task_definition.md" -> "task_definition_summary.md".
func summaryName(name string) string {
	base := name
	if idx := strings.LastIndex(base, "."); idx > 0 {
		base = base[:idx]
	}
	return base + "_summary.md"
}

func summaryMetaName(name string) string {
	return summaryName(name) + ".meta.json"
}

// GetSummarizedMemory returns memory content, summarized when it exceeds the
// size gate. A cached summary is reused if and only if its recorded content
// hash equals the SHA-256 of the current content.
func (s *Store) GetSummarizedMemory(ctx context.Context, taskDir, name string, adapter llm.ModelAdapter, opts SummarizeOptions) (string, error) {
	content, err := s.Load(taskDir, name)
	if err != nil {
		if IsNotFound(err) && opts.HasDefault {
			return opts.DefaultValue, nil
		}
		return "", err
	}

	if !opts.ForceSummarize && len(content) <= opts.MaxOriginalLength {
		return content, nil
	}

	currentHash := ContentHash(content)
	if cached, ok := s.cachedSummary(taskDir, name, currentHash); ok {
		s.logger.Debugf("Summary cache hit for %s", name)
		return cached, nil
	}

	summary, err := s.summarize(ctx, adapter, content, opts)
	if err != nil {
		return "", err
	}

	if opts.CacheSummary {
		if err := s.writeSummaryCache(taskDir, name, summary, currentHash); err != nil {
			// Cache persistence is best effort; the summary itself is good.
			s.logger.Warnf("Failed to persist summary cache for %s: %v", name, err)
		}
	}
	return summary, nil
}

// GetSummarizedRecords concatenates a heterogeneous record list (inline
// content and path references) and summarizes the whole in one call.
func (s *Store) GetSummarizedRecords(ctx context.Context, taskDir string, records []SummaryRecord, adapter llm.ModelAdapter, opts SummarizeOptions) (string, error) {
	var parts []string
	for _, record := range records {
		if record.Path != "" {
			content, err := s.LoadWithDefault(taskDir, record.Path, "")
			if err != nil {
				return "", err
			}
			if content != "" {
				parts = append(parts, content)
			}
			continue
		}
		if record.Content != "" {
			parts = append(parts, record.Content)
		}
	}

	combined := strings.Join(parts, "\n\n---\n\n")
	if combined == "" {
		return opts.DefaultValue, nil
	}
	if !opts.ForceSummarize && len(combined) <= opts.MaxOriginalLength {
		return combined, nil
	}
	return s.summarize(ctx, adapter, combined, opts)
}

// cachedSummary returns the cached summary when its meta hash matches.
func (s *Store) cachedSummary(taskDir, name, currentHash string) (string, bool) {
	var meta SummaryMeta
	if err := s.LoadJSON(taskDir, summaryMetaName(name), &meta); err != nil {
		return "", false
	}
	if meta.OriginalContentHash != currentHash {
		return "", false
	}
	summary, err := s.Load(taskDir, summaryName(name))
	if err != nil {
		return "", false
	}
	return summary, true
}

func (s *Store) writeSummaryCache(taskDir, name, summary, contentHash string) error {
	if err := s.Overwrite(taskDir, summaryName(name), summary); err != nil {
		return err
	}
	return s.OverwriteJSON(taskDir, summaryMetaName(name), SummaryMeta{
		OriginalContentHash:       contentHash,
		SummaryGeneratedTimestamp: time.Now().UTC(),
	})
}

func (s *Store) summarize(ctx context.Context, adapter llm.ModelAdapter, content string, opts SummarizeOptions) (string, error) {
	if adapter == nil {
		return "", fmt.Errorf("summarization requested but no model adapter provided")
	}

	template := opts.PromptTemplate
	if template == "" {
		template = DefaultSummaryPromptTemplate
	}
	prompt := strings.ReplaceAll(template, summaryPlaceholder, content)

	params := llm.CallParams{Model: opts.Model}
	if opts.MaxSummaryTokens > 0 {
		params.MaxTokens = opts.MaxSummaryTokens
	}

	summary, err := adapter.GenerateText(ctx, prompt, params)
	if err != nil {
		return "", fmt.Errorf("summarization call failed: %w", err)
	}
	return strings.TrimSpace(summary), nil
}
