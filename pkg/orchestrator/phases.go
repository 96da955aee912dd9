package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"task-orchestrator/internal/llm"
	"task-orchestrator/pkg/contextbuilder"
	"task-orchestrator/pkg/executor"
	"task-orchestrator/pkg/journal"
	"task-orchestrator/pkg/memory"
)

const cwcUpdateSystemPrompt = `You maintain the working context of a long-running task.
Given the task, its progress and the latest execution results, respond with ONLY a JSON object of this shape:
{
  "summaryOfProgress": "...",
  "nextObjective": "...",
  "confidenceScore": 0.0,
  "identifiedEntities": ["..."],
  "pendingQuestions": ["..."]
}
Do not include any prose outside the JSON.`

const synthesisSystemPrompt = `You are the final synthesis component of a multi-agent task orchestrator.
Using the task and the execution results below, write the final answer for the user.
Answer directly and completely; do not describe the execution process unless the user asked for it.`

// updateWorkingContext refreshes the CWC from the latest execution results.
// Model or parse failures degrade to a mechanical summary rather than
// failing the task.
func (o *Orchestrator) updateWorkingContext(ctx context.Context, run *taskRun, execResult *executor.Result) {
	success := execResult.Success
	prompt := o.assembleOrDegrade(run, contextbuilder.ContextSpecification{
		SystemPrompt:            cwcUpdateSystemPrompt,
		IncludeTaskDefinition:   true,
		OriginalUserTask:        run.state.OriginalTask,
		MaxLatestKeyFindings:    latestRecordsWindow,
		ExecutionContext:        renderExecutionContext(execResult.ExecutionContext),
		OverallExecutionSuccess: &success,
		MaxTokenLimit:           o.contextBudget(),
	}, "cwc_update")

	cwc := o.generateCWC(ctx, run, prompt, execResult)
	cwc.LastUpdatedAt = time.Now().UTC()
	run.state.CurrentWorkingContext = cwc

	if err := o.store.OverwriteJSON(run.taskDir, memory.CWCJSONFile, cwc); err != nil {
		o.logger.Warnf("Failed to persist CWC JSON: %v", err)
	}
	if err := o.store.Overwrite(run.taskDir, memory.CWCMarkdownFile, renderCWCMarkdown(cwc)); err != nil {
		o.logger.Warnf("Failed to persist CWC markdown: %v", err)
	}
	o.journalEvent(run, journal.New(journal.TypeCWCUpdated, "Working context updated"))
}

// generateCWC calls the model for a structured CWC, falling back to a
// mechanical snapshot derived from the outcomes.
func (o *Orchestrator) generateCWC(ctx context.Context, run *taskRun, prompt string, execResult *executor.Result) *memory.CurrentWorkingContext {
	response, err := o.adapter.GenerateText(ctx, prompt, llm.CallParams{
		Model: o.llmConfig.ModelForPurpose("cwc_update"),
	})
	if err == nil {
		var cwc memory.CurrentWorkingContext
		if parseErr := json.Unmarshal([]byte(llm.StripCodeFences(response)), &cwc); parseErr == nil {
			return &cwc
		}
		o.logger.Warnf("CWC response did not parse; using mechanical summary")
	} else {
		o.logger.Warnf("CWC model call failed: %v", err)
	}
	o.journalEvent(run, journal.New(journal.TypeCWCUpdateDegraded, "Working context update degraded to mechanical summary"))

	completed := 0
	for _, outcome := range execResult.ExecutionContext {
		if outcome.Status == "COMPLETED" {
			completed++
		}
	}
	cwc := &memory.CurrentWorkingContext{
		SummaryOfProgress: fmt.Sprintf("Executed %d step(s), %d completed.", len(execResult.ExecutionContext), completed),
		NextObjective:     "Synthesize the final answer.",
	}
	if !execResult.Success {
		cwc.NextObjective = "Recover from the failed step."
	}
	return cwc
}

// synthesisPhase produces the final answer. When the plan already produced
// one, the orchestrator's own synthesis call is skipped.
func (o *Orchestrator) synthesisPhase(ctx context.Context, run *taskRun, execResult *executor.Result) (string, error) {
	if execResult.FinalAnswerSynthesized {
		o.journalEvent(run, journal.New(journal.TypeSynthesisSkipped, "Plan produced its own final answer; skipping synthesis"))
		o.archiveFinalAnswer(run, execResult.FinalAnswer)
		return execResult.FinalAnswer, nil
	}

	o.journalEvent(run, journal.New(journal.TypeSynthesisStarted, "Synthesis started"))
	answer, err := o.synthesizeFromContext(ctx, run, run.state.ExecutionContext, execResult.Success)
	if err != nil {
		o.journalEvent(run, journal.New(journal.TypeSynthesisFailed, fmt.Sprintf("Synthesis failed: %v", err)))
		return "", err
	}

	o.journalEvent(run, journal.New(journal.TypeSynthesisCompleted, "Synthesis completed"))
	o.archiveFinalAnswer(run, answer)
	return answer, nil
}

// synthesizeFromContext runs one synthesis model call over an execution
// context.
func (o *Orchestrator) synthesizeFromContext(ctx context.Context, run *taskRun, outcomes []executor.StepOutcome, success bool) (string, error) {
	prompt := o.assembleOrDegrade(run, contextbuilder.ContextSpecification{
		SystemPrompt:            synthesisSystemPrompt,
		IncludeTaskDefinition:   true,
		OriginalUserTask:        run.state.OriginalTask,
		MaxLatestKeyFindings:    latestRecordsWindow,
		ExecutionContext:        renderExecutionContext(outcomes),
		OverallExecutionSuccess: &success,
		MaxTokenLimit:           o.contextBudget(),
	}, "synthesis")

	answer, err := o.adapter.GenerateText(ctx, prompt, llm.CallParams{
		Model: o.llmConfig.ModelForPurpose("synthesis"),
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(answer), nil
}

// archiveFinalAnswer records the answer in the memory bank surfaces: the
// answer archive, the execution log summary and the chat history.
func (o *Orchestrator) archiveFinalAnswer(run *taskRun, answer string) {
	if answer == "" {
		return
	}
	entry := fmt.Sprintf("## %s\n\n%s\n", time.Now().UTC().Format(time.RFC3339), answer)
	if err := o.store.Append(run.taskDir, memory.FinalAnswerArchiveFile, entry); err != nil {
		o.logger.Warnf("Failed to archive final answer: %v", err)
	}
	summary := "# Execution Log\n\n" + renderExecutionContext(run.state.ExecutionContext)
	if err := o.store.Overwrite(run.taskDir, memory.ExecutionLogSummaryFile, summary); err != nil {
		o.logger.Warnf("Failed to write execution log summary: %v", err)
	}
	if err := o.store.AppendChatMessage(run.taskDir, "assistant", answer); err != nil {
		o.logger.Warnf("Failed to append assistant chat message: %v", err)
	}
}

// synthesizeOnly re-synthesizes a final answer from a saved task's execution
// context without mutating that context. A completed task stays completed.
func (o *Orchestrator) synthesizeOnly(ctx context.Context, run *taskRun) *Response {
	if len(run.state.ExecutionContext) == 0 {
		return &Response{
			Success: false,
			Message: fmt.Sprintf("task %s has no execution context to synthesize from", run.taskID),
			TaskID:  run.taskID,
			Status:  run.state.Status,
		}
	}

	o.journalEvent(run, journal.New(journal.TypeSynthesisStarted, "Re-synthesis of saved task started"))
	wasSuccessful := run.state.Status == StatusCompleted
	answer, err := o.synthesizeFromContext(ctx, run, run.state.ExecutionContext, wasSuccessful)
	if err != nil {
		o.journalEvent(run, journal.New(journal.TypeSynthesisFailed, fmt.Sprintf("Synthesis failed: %v", err)))
		return &Response{
			Success:      false,
			Message:      fmt.Sprintf("synthesis failed: %v", err),
			TaskID:       run.taskID,
			OriginalTask: run.state.OriginalTask,
			Status:       run.state.Status,
		}
	}

	o.journalEvent(run, journal.New(journal.TypeSynthesisCompleted, "Re-synthesis completed"))
	o.archiveFinalAnswer(run, answer)
	run.state.FinalAnswer = answer
	o.persistTerminal(run)

	return &Response{
		Success:               true,
		Message:               "final answer re-synthesized",
		TaskID:                run.taskID,
		OriginalTask:          run.state.OriginalTask,
		Status:                run.state.Status,
		ExecutedPlan:          run.state.Plan,
		FinalAnswer:           answer,
		CurrentWorkingContext: run.state.CurrentWorkingContext,
	}
}

// renderCWCMarkdown renders the CWC's markdown surface (cwc.md).
func renderCWCMarkdown(cwc *memory.CurrentWorkingContext) string {
	var b strings.Builder
	b.WriteString("# Current Working Context\n\n")
	b.WriteString("Last updated: " + cwc.LastUpdatedAt.Format(time.RFC3339) + "\n\n")
	b.WriteString("## Progress\n" + cwc.SummaryOfProgress + "\n\n")
	b.WriteString("## Next objective\n" + cwc.NextObjective + "\n")
	if cwc.ConfidenceScore > 0 {
		b.WriteString(fmt.Sprintf("\nConfidence: %.2f\n", cwc.ConfidenceScore))
	}
	if len(cwc.IdentifiedEntities) > 0 {
		b.WriteString("\n## Identified entities\n")
		for _, entity := range cwc.IdentifiedEntities {
			b.WriteString("- " + entity + "\n")
		}
	}
	if len(cwc.PendingQuestions) > 0 {
		b.WriteString("\n## Pending questions\n")
		for _, question := range cwc.PendingQuestions {
			b.WriteString("- " + question + "\n")
		}
	}
	return b.String()
}
