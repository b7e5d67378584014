package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/imkarma/taskpilot/internal/state"
)

var rootCmd = &cobra.Command{
	Use:   "taskpilot",
	Short: "Drive a coding agent from a goal to merged PRs",
	Long: `taskpilot plans a goal into PR-sized groups of tasks, works through them
one session at a time with a coding agent, and shepherds each group's PR
through CI and review. Runs survive restarts: state lives in .taskpilot/.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Commands that finish a run report a
// non-zero outcome as an *ExitError.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("state-dir", state.DirName, "directory holding the run state")
	rootCmd.PersistentFlags().String("log-level", "", "log level for run logs (debug, info, warn, error)")
	_ = viper.BindPFlag("state_dir", rootCmd.PersistentFlags().Lookup("state-dir"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(progressCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(mailboxCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(cleanCmd)
}

func initConfig() {
	viper.SetDefault("state_dir", state.DirName)

	// TASKPILOT_STATE_DIR, TASKPILOT_LOG_LEVEL
	viper.SetEnvPrefix("TASKPILOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}
