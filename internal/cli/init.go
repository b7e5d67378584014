package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize taskpilot in the current directory",
	Long:  "Creates the state directory with a default config.yaml and the mailbox database.",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	states := openStates()
	created, err := ensureStateDir(states)
	if err != nil {
		return err
	}
	if !created {
		return fmt.Errorf("taskpilot already initialized in %s", states.Dir())
	}

	fmt.Printf("Initialized taskpilot in %s/\n", states.Dir())
	fmt.Println("")
	fmt.Println("Next steps:")
	fmt.Printf("  1. Edit %s/config.yaml to pick your agent and hosting\n", states.Dir())
	fmt.Println("  2. Run: taskpilot start \"your goal\" --criteria \"tests pass\"")
	fmt.Println("  3. Run: taskpilot watch")
	return nil
}
