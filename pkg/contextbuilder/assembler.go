package contextbuilder

import (
	"fmt"
	"strings"

	"task-orchestrator/internal/llm"
	"task-orchestrator/internal/utils"
	"task-orchestrator/pkg/memory"
)

// Section tags recognized in PriorityOrder.
const (
	SectionSystemPrompt           = "systemPrompt"
	SectionTaskDefinition         = "taskDefinition"
	SectionOriginalUserTask       = "originalUserTask"
	SectionCurrentProgressSummary = "currentProgressSummary"
	SectionCurrentNextObjective   = "currentNextObjective"
	SectionUploadedFiles          = "uploadedFiles"
	SectionSummarizedKeyFindings  = "summarizedKeyFindings"
	SectionKeyFindings            = "keyFindings"
	SectionRecentErrorsSummary    = "recentErrorsSummary"
	SectionExecutionContext       = "executionContext"
	SectionChatHistory            = "chatHistory"
	SectionExecutionSuccess       = "overallExecutionSuccess"
)

// DefaultPriorityOrder is the section order used when the caller supplies
// none: identity and objective first, bulky history last.
var DefaultPriorityOrder = []string{
	SectionSystemPrompt,
	SectionOriginalUserTask,
	SectionTaskDefinition,
	SectionCurrentProgressSummary,
	SectionCurrentNextObjective,
	SectionUploadedFiles,
	SectionSummarizedKeyFindings,
	SectionKeyFindings,
	SectionRecentErrorsSummary,
	SectionExecutionContext,
	SectionExecutionSuccess,
	SectionChatHistory,
}

const (
	defaultRecordSeparator  = "\n\n"
	defaultFindingSeparator = "\n---\n"
)

// ContextSpecification describes what to pull into one mega-context string.
type ContextSpecification struct {
	SystemPrompt          string
	IncludeTaskDefinition bool
	UploadedFilePaths     []string

	MaxLatestKeyFindings                   int
	IncludeRawContentForReferencedFindings bool

	ChatHistory []llm.ChatMessage

	// MaxTokenLimit is the hard budget; required and positive.
	MaxTokenLimit int

	PriorityOrder []string

	CustomPreamble   string
	CustomPostamble  string
	RecordSeparator  string
	FindingSeparator string

	// Free-form named slots.
	OriginalUserTask          string
	CurrentProgressSummary    string
	CurrentNextObjective      string
	SummarizedKeyFindingsText string
	RecentErrorsSummary       string
	OverallExecutionSuccess   *bool
	ExecutionContext          string

	// Cache-control hints passed through to the adapter untouched.
	EnableMegaContextCache     bool
	MegaContextCacheTTLSeconds int
}

// AssembledContext is the result of a successful assembly.
type AssembledContext struct {
	ContextString string
	TokenCount    int

	// Cache hints copied from the specification for the adapter layer.
	EnableCache     bool
	CacheTTLSeconds int
}

// AssemblyError is the hard failure of context assembly: the budget cannot
// accommodate the framing or a critical section.
type AssemblyError struct {
	Reason string
}

func (e *AssemblyError) Error() string {
	return "context assembly failed: " + e.Reason
}

// Assembler builds bounded-token mega-context strings from a task's memory
// bank plus caller-supplied fields.
type Assembler struct {
	store  *memory.Store
	logger utils.ExtendedLogger
}

// NewAssembler creates a context assembler over the given memory store.
func NewAssembler(store *memory.Store, logger utils.ExtendedLogger) *Assembler {
	return &Assembler{store: store, logger: logger}
}

// Assemble builds the mega-context for taskDir according to spec, counting
// tokens with tokenizer. Sections are added greedily in priority order; a
// section that would overrun the remaining budget is skipped whole, never
// truncated mid-record. The system prompt is critical: failure to fit it is
// an error.
func (a *Assembler) Assemble(taskDir string, spec ContextSpecification, tokenizer llm.Tokenizer) (*AssembledContext, error) {
	if spec.MaxTokenLimit <= 0 {
		return nil, &AssemblyError{Reason: "maxTokenLimit must be a positive integer"}
	}
	if tokenizer == nil {
		return nil, &AssemblyError{Reason: "tokenizer is required"}
	}

	recordSep := spec.RecordSeparator
	if recordSep == "" {
		recordSep = defaultRecordSeparator
	}
	priorityOrder := spec.PriorityOrder
	if len(priorityOrder) == 0 {
		priorityOrder = DefaultPriorityOrder
	}

	frameCost := tokenizer(spec.CustomPreamble) + tokenizer(spec.CustomPostamble)
	if frameCost > spec.MaxTokenLimit {
		return nil, &AssemblyError{Reason: fmt.Sprintf("preamble and postamble cost %d tokens, exceeding the %d token limit", frameCost, spec.MaxTokenLimit)}
	}

	sepCost := tokenizer(recordSep)
	budget := spec.MaxTokenLimit - frameCost

	var parts []string
	fits := func(part string) bool {
		cost := tokenizer(part)
		if len(parts) > 0 {
			cost += sepCost
		}
		return cost <= budget
	}
	addPart := func(part string) bool {
		if part == "" {
			return true
		}
		if !fits(part) {
			return false
		}
		cost := tokenizer(part)
		if len(parts) > 0 {
			cost += sepCost
		}
		parts = append(parts, part)
		budget -= cost
		return true
	}

	for _, tag := range priorityOrder {
		switch tag {
		case SectionSystemPrompt:
			if spec.SystemPrompt == "" {
				continue
			}
			if !addPart(spec.SystemPrompt) {
				return nil, &AssemblyError{Reason: "system prompt does not fit within the token limit"}
			}

		case SectionTaskDefinition:
			if !spec.IncludeTaskDefinition {
				continue
			}
			definition, err := a.store.LoadWithDefault(taskDir, memory.TaskDefinitionFile, "")
			if err != nil {
				return nil, err
			}
			if definition != "" && !addPart("## Task Definition\n"+definition) {
				a.logger.Debugf("Skipping task definition: over budget")
			}

		case SectionOriginalUserTask:
			if spec.OriginalUserTask != "" && !addPart("## Original User Task\n"+spec.OriginalUserTask) {
				a.logger.Debugf("Skipping original user task: over budget")
			}

		case SectionCurrentProgressSummary:
			if spec.CurrentProgressSummary != "" && !addPart("## Current Progress\n"+spec.CurrentProgressSummary) {
				a.logger.Debugf("Skipping progress summary: over budget")
			}

		case SectionCurrentNextObjective:
			if spec.CurrentNextObjective != "" && !addPart("## Next Objective\n"+spec.CurrentNextObjective) {
				a.logger.Debugf("Skipping next objective: over budget")
			}

		case SectionUploadedFiles:
			for _, relPath := range spec.UploadedFilePaths {
				content, err := a.store.LoadWithDefault(taskDir, relPath, "")
				if err != nil {
					return nil, err
				}
				if content == "" {
					continue
				}
				if !addPart(fmt.Sprintf("## Uploaded File: %s\n%s", relPath, content)) {
					a.logger.Debugf("Skipping uploaded file %s: over budget", relPath)
				}
			}

		case SectionSummarizedKeyFindings:
			if spec.SummarizedKeyFindingsText != "" && !addPart("## Summarized Key Findings\n"+spec.SummarizedKeyFindingsText) {
				a.logger.Debugf("Skipping summarized key findings: over budget")
			}

		case SectionKeyFindings:
			if spec.MaxLatestKeyFindings <= 0 {
				continue
			}
			findings, err := a.store.GetLatestKeyFindings(taskDir, spec.MaxLatestKeyFindings)
			if err != nil {
				return nil, err
			}
			a.addFindings(taskDir, spec, findings, fits, addPart)

		case SectionRecentErrorsSummary:
			if spec.RecentErrorsSummary != "" && !addPart("## Recent Errors\n"+spec.RecentErrorsSummary) {
				a.logger.Debugf("Skipping recent errors: over budget")
			}

		case SectionExecutionContext:
			if spec.ExecutionContext != "" && !addPart("## Execution Context\n"+spec.ExecutionContext) {
				a.logger.Debugf("Skipping execution context: over budget")
			}

		case SectionExecutionSuccess:
			if spec.OverallExecutionSuccess == nil {
				continue
			}
			status := "failed"
			if *spec.OverallExecutionSuccess {
				status = "succeeded"
			}
			addPart("## Execution Status\nThe previous execution " + status + ".")

		case SectionChatHistory:
			a.addChatHistory(spec, fits, addPart)

		default:
			a.logger.Warnf("Unknown context section tag %q ignored", tag)
		}
	}

	assembled := spec.CustomPreamble + strings.Join(parts, recordSep) + spec.CustomPostamble
	tokenCount := tokenizer(assembled)
	if tokenCount > spec.MaxTokenLimit {
		return nil, &AssemblyError{Reason: fmt.Sprintf("assembled context is %d tokens, exceeding the %d token limit", tokenCount, spec.MaxTokenLimit)}
	}

	return &AssembledContext{
		ContextString:   assembled,
		TokenCount:      tokenCount,
		EnableCache:     spec.EnableMegaContextCache,
		CacheTTLSeconds: spec.MegaContextCacheTTLSeconds,
	}, nil
}

// addFindings renders key findings newest-first and stops at the first one
// that does not fit.
func (a *Assembler) addFindings(taskDir string, spec ContextSpecification, findings []memory.KeyFinding, fits func(string) bool, addPart func(string) bool) {
	findingSep := spec.FindingSeparator
	if findingSep == "" {
		findingSep = defaultFindingSeparator
	}

	// Grow the section newest-first; the walk stops at the first finding
	// that would push the section over budget, rather than skipping it and
	// trying older ones.
	var kept []string
	for i := len(findings) - 1; i >= 0; i-- {
		finding := findings[i]
		body := a.findingBody(taskDir, spec, finding)
		item := fmt.Sprintf("[%s via %s] %s", finding.SourceStepNarrative, finding.SourceToolName, body)
		candidate := "## Recent Key Findings (newest first)\n" + strings.Join(append(append([]string{}, kept...), item), findingSep)
		if !fits(candidate) {
			a.logger.Debugf("Stopping key-finding inclusion at %s: over budget", finding.ID)
			break
		}
		kept = append(kept, item)
	}
	if len(kept) > 0 {
		addPart("## Recent Key Findings (newest first)\n" + strings.Join(kept, findingSep))
	}
}

// findingBody resolves a finding to prompt text, loading referenced raw
// content when requested and falling back to the preview on failure.
func (a *Assembler) findingBody(taskDir string, spec ContextSpecification, finding memory.KeyFinding) string {
	ref, isRef := finding.AsReference()
	if !isRef || !spec.IncludeRawContentForReferencedFindings {
		return finding.DataString()
	}
	raw, err := a.store.LoadWithDefault(taskDir, ref.RawContentPath, "")
	if err != nil || raw == "" {
		a.logger.Debugf("Falling back to preview for referenced finding %s", finding.ID)
		return finding.DataString()
	}
	return raw
}

// addChatHistory adds chat messages newest-first, stopping at the first one
// that does not fit.
func (a *Assembler) addChatHistory(spec ContextSpecification, fits func(string) bool, addPart func(string) bool) {
	var kept []string
	for i := len(spec.ChatHistory) - 1; i >= 0; i-- {
		msg := spec.ChatHistory[i]
		item := fmt.Sprintf("%s: %s", msg.Role, msg.Content)
		candidate := "## Chat History (newest first)\n" + strings.Join(append(append([]string{}, kept...), item), "\n")
		if !fits(candidate) {
			break
		}
		kept = append(kept, item)
	}
	if len(kept) > 0 {
		addPart("## Chat History (newest first)\n" + strings.Join(kept, "\n"))
	}
}
