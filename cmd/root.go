package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "task-orchestrator",
	Short: "Multi-agent task orchestrator",
	Long: `A multi-agent task orchestrator that turns a single user task into a
multi-stage plan of tool invocations, dispatches them to worker agents,
repairs failing plans, and synthesizes a final answer.

Every task keeps a durable memory bank on disk, so work can be paused,
resumed, replayed, or re-synthesized.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.task-orchestrator.yaml)")
	rootCmd.PersistentFlags().String("provider", "openai", "model provider (openai, anthropic)")
	rootCmd.PersistentFlags().String("model", "", "model id (defaults to the provider's default)")
	rootCmd.PersistentFlags().Float64("temperature", 0.2, "model temperature")
	rootCmd.PersistentFlags().String("saved-tasks-base", "saved_tasks", "base directory for task storage")
	rootCmd.PersistentFlags().String("capabilities", "config/capabilities.json", "capabilities JSON file")
	rootCmd.PersistentFlags().String("templates-dir", "config/plan_templates", "plan templates directory")
	rootCmd.PersistentFlags().String("task-index", "saved_tasks/tasks.db", "sqlite task index path (empty to disable)")
	rootCmd.PersistentFlags().Int("max-revisions", 2, "maximum plan revisions after a failed execution")
	rootCmd.PersistentFlags().Duration("sub-task-timeout", 0, "per-sub-task wait deadline (default 2m)")

	// Logging flags
	rootCmd.PersistentFlags().String("log-file", "", "log file path (optional)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	// Bind flags to viper
	viper.BindPFlag("provider", rootCmd.PersistentFlags().Lookup("provider"))
	viper.BindPFlag("model", rootCmd.PersistentFlags().Lookup("model"))
	viper.BindPFlag("temperature", rootCmd.PersistentFlags().Lookup("temperature"))
	viper.BindPFlag("saved-tasks-base", rootCmd.PersistentFlags().Lookup("saved-tasks-base"))
	viper.BindPFlag("capabilities", rootCmd.PersistentFlags().Lookup("capabilities"))
	viper.BindPFlag("templates-dir", rootCmd.PersistentFlags().Lookup("templates-dir"))
	viper.BindPFlag("task-index", rootCmd.PersistentFlags().Lookup("task-index"))
	viper.BindPFlag("max-revisions", rootCmd.PersistentFlags().Lookup("max-revisions"))
	viper.BindPFlag("sub-task-timeout", rootCmd.PersistentFlags().Lookup("sub-task-timeout"))
	viper.BindPFlag("log-file", rootCmd.PersistentFlags().Lookup("log-file"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	// Load .env file first (if present)
	if err := godotenv.Load(".env"); err != nil {
		if err := godotenv.Load("../.env"); err != nil {
			fmt.Fprintln(os.Stderr, "No .env file found, using system environment variables")
		}
	}

	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".task-orchestrator" (without extension).
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".task-orchestrator")
	}

	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
