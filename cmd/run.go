package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"task-orchestrator/pkg/orchestrator"
)

var (
	runMode         string
	runTaskToLoad   string
	runParentTaskID string
	runUploadFiles  []string
)

var runCmd = &cobra.Command{
	Use:   "run [task]",
	Short: "Run a task through the orchestrator",
	Long: `Run a task through the orchestrator in one of its four modes:

  PLAN_ONLY             generate and persist a plan, then stop
  EXECUTE_FULL_PLAN     plan, execute, update context, synthesize
  EXECUTE_PLANNED_TASK  execute a previously saved plan (--task-to-load)
  SYNTHESIZE_ONLY       re-synthesize a saved task's final answer (--task-to-load)`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTask,
}

func init() {
	runCmd.Flags().StringVar(&runMode, "mode", string(orchestrator.ModeExecuteFullPlan), "execution mode")
	runCmd.Flags().StringVar(&runTaskToLoad, "task-to-load", "", "saved task id for load-based modes")
	runCmd.Flags().StringVar(&runParentTaskID, "parent-task-id", "", "parent task id for nested invocations")
	runCmd.Flags().StringArrayVar(&runUploadFiles, "file", nil, "file to upload into task memory (repeatable)")
	rootCmd.AddCommand(runCmd)
}

func runTask(cmd *cobra.Command, args []string) error {
	var userTask string
	if len(args) > 0 {
		userTask = args[0]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	uploads, err := readUploads(runUploadFiles)
	if err != nil {
		return err
	}

	response := rt.orchestrator.HandleUserTask(ctx, orchestrator.Request{
		UserTaskString: userTask,
		UploadedFiles:  uploads,
		ParentTaskID:   runParentTaskID,
		TaskToLoad:     runTaskToLoad,
		Mode:           orchestrator.Mode(runMode),
	})

	output, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	fmt.Println(string(output))

	if !response.Success {
		return fmt.Errorf("task did not complete: %s", response.Message)
	}
	return nil
}

func readUploads(paths []string) ([]orchestrator.UploadedFile, error) {
	var uploads []orchestrator.UploadedFile
	for _, path := range paths {
		//nolint:gosec // G304: paths come from CLI flags
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read upload %s: %w", path, err)
		}
		uploads = append(uploads, orchestrator.UploadedFile{
			Name:    filepath.Base(path),
			Content: content,
		})
	}
	return uploads, nil
}
