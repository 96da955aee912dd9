package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"task-orchestrator/pkg/database"
	"task-orchestrator/pkg/orchestrator"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect saved tasks",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexed tasks, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := openIndex()
		if err != nil {
			return err
		}
		defer index.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		records, total, err := index.ListTasks(context.Background(), limit, 0)
		if err != nil {
			return err
		}

		fmt.Printf("%d task(s) indexed\n", total)
		for _, record := range records {
			fmt.Printf("%s  %-18s %-20s %s\n", record.CreatedAt.Format("2006-01-02 15:04"), record.Status, record.Mode, truncate(record.OriginalTask, 60))
			fmt.Printf("    id: %s\n", record.TaskID)
		}
		return nil
	},
}

var tasksShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show a saved task's state file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := openIndex()
		if err != nil {
			return err
		}
		defer index.Close()

		record, err := index.GetTask(context.Background(), args[0])
		if err != nil {
			return err
		}

		//nolint:gosec // G304: path comes from the task index
		data, err := os.ReadFile(filepath.Join(record.TaskDir, orchestrator.TaskStateFile))
		if err != nil {
			return fmt.Errorf("read task state: %w", err)
		}
		var pretty json.RawMessage = data
		out, err := json.MarshalIndent(pretty, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	tasksListCmd.Flags().Int("limit", 20, "maximum tasks to list")
	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksShowCmd)
	rootCmd.AddCommand(tasksCmd)
}

func openIndex() (*database.TaskIndex, error) {
	dbPath := viper.GetString("task-index")
	if dbPath == "" {
		return nil, fmt.Errorf("task index is disabled (set --task-index)")
	}
	return database.OpenTaskIndex(dbPath)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
