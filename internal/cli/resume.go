package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newResumeCmd is an explicit alias for run against an existing incomplete
// change (SPEC_FULL.md §4.9): the engine's own load_or_init/resume-prompt
// logic (spec.md §4.1 step 2) does the actual work either way.
func newResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume an incomplete change's workflow",
		RunE:  runResume,
	}
	addChangeFlags(cmd)
	return cmd
}

func runResume(cmd *cobra.Command, args []string) error {
	changeID, _ := cmd.Flags().GetString("change-id")
	if changeID == "" {
		return fmt.Errorf("resume: --change-id is required")
	}
	result, err := execChange(cmd)
	printSummary(result, err)
	return err
}
