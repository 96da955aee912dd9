package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"task-orchestrator/internal/llm"
	"task-orchestrator/internal/utils"
	"task-orchestrator/pkg/capabilities"
	"task-orchestrator/pkg/contextbuilder"
	"task-orchestrator/pkg/database"
	"task-orchestrator/pkg/dispatch"
	"task-orchestrator/pkg/executor"
	"task-orchestrator/pkg/logger"
	"task-orchestrator/pkg/memory"
	"task-orchestrator/pkg/orchestrator"
	"task-orchestrator/pkg/plan"
)

// runtime bundles the wired collaborators behind one CLI invocation.
type runtime struct {
	logger       utils.ExtendedLogger
	orchestrator *orchestrator.Orchestrator
	workers      *dispatch.WorkerRegistry
	index        *database.TaskIndex
}

// buildRuntime wires the full stack from viper configuration: logger, model
// adapter, capabilities, templates, channels, workers, and the orchestrator.
func buildRuntime(ctx context.Context) (*runtime, error) {
	level := viper.GetString("log-level")
	if viper.GetBool("debug") {
		level = "debug"
	}
	log, err := logger.CreateLogger(viper.GetString("log-file"), level, viper.GetString("log-format"), viper.GetString("log-file") == "")
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	llmConfig := llm.Config{
		Provider:    llm.Provider(viper.GetString("provider")),
		ModelID:     viper.GetString("model"),
		Temperature: viper.GetFloat64("temperature"),
		Logger:      log,
	}
	adapter, err := llm.InitializeAdapter(llmConfig)
	if err != nil {
		return nil, fmt.Errorf("initialize model adapter: %w", err)
	}

	registry, err := capabilities.LoadRegistry(viper.GetString("capabilities"))
	if err != nil {
		return nil, err
	}
	templates, err := plan.LoadTemplates(viper.GetString("templates-dir"))
	if err != nil {
		return nil, err
	}

	store := memory.NewStore(log)
	assembler := contextbuilder.NewAssembler(store, log)
	planManager := plan.NewManager(adapter, registry, templates, log)

	dispatcher := dispatch.NewDispatcher(0, log)
	var execOpts []executor.Option
	if timeout := viper.GetDuration("sub-task-timeout"); timeout > 0 {
		execOpts = append(execOpts, executor.WithWaiterTimeout(timeout))
	}
	exec := executor.NewExecutor(dispatcher, store, log, execOpts...)

	workers := dispatch.NewWorkerRegistry(dispatcher, log)
	for _, role := range registry.RoleNames() {
		workers.RegisterWorkers(ctx, role, 2, modelBackedWorker(adapter, log))
	}

	var index *database.TaskIndex
	if dbPath := viper.GetString("task-index"); dbPath != "" {
		index, err = database.OpenTaskIndex(dbPath)
		if err != nil {
			log.Warnf("Task index unavailable: %v", err)
			index = nil
		}
	}

	orch, err := orchestrator.New(
		orchestrator.Config{
			SavedTasksBase: viper.GetString("saved-tasks-base"),
			MaxRevisions:   viper.GetInt("max-revisions"),
		},
		orchestrator.Dependencies{
			Store:       store,
			Assembler:   assembler,
			Adapter:     adapter,
			LLMConfig:   llmConfig,
			PlanManager: planManager,
			Executor:    exec,
			Index:       index,
			Logger:      log,
		},
	)
	if err != nil {
		return nil, err
	}

	return &runtime{logger: log, orchestrator: orch, workers: workers, index: index}, nil
}

// close stops workers and releases the index and the log file.
func (r *runtime) close() {
	r.workers.Stop()
	if r.index != nil {
		if err := r.index.Close(); err != nil {
			r.logger.Warnf("Failed to close task index: %v", err)
		}
	}
	if err := r.logger.Close(); err != nil {
		fmt.Println("Failed to close logger:", err)
	}
}

// modelBackedWorker is the built-in worker: it services any sub-task by
// prompting the model with the tool name and input. Deployments with real
// tool integrations replace it via the dispatch API.
func modelBackedWorker(adapter llm.ModelAdapter, log utils.ExtendedLogger) dispatch.WorkerFunc {
	return func(ctx context.Context, msg dispatch.SubTaskMessage) dispatch.SubTaskResult {
		var b strings.Builder
		b.WriteString("You are a worker agent acting as tool " + msg.Definition.ToolName + ".\n")
		b.WriteString("Step: " + msg.Definition.NarrativeStep + "\n")
		if len(msg.Definition.SubTaskInput) > 0 {
			b.WriteString("Input:\n")
			for key, value := range msg.Definition.SubTaskInput {
				b.WriteString(fmt.Sprintf("  %s: %v\n", key, value))
			}
		}
		b.WriteString("Produce the tool's output, and nothing else.\n")

		callCtx, cancel := context.WithTimeout(ctx, 90*time.Second)
		defer cancel()
		output, err := adapter.GenerateText(callCtx, b.String(), llm.CallParams{})
		if err != nil {
			log.Warnf("Worker %s/%s failed: %v", msg.Definition.AssignedAgentRole, msg.Definition.ToolName, err)
			return dispatch.SubTaskResult{Status: dispatch.StatusFailed, ErrorDetails: err.Error()}
		}
		return dispatch.SubTaskResult{Status: dispatch.StatusCompleted, ResultData: output}
	}
}
