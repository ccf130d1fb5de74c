package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/orc-change/internal/statetrack"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the current status.json for a change",
		RunE:  runStatus,
	}
	cmd.Flags().String("change-id", "", "change slug (required)")
	_ = cmd.MarkFlagRequired("change-id")
	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	changeID, _ := cmd.Flags().GetString("change-id")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	tracker := statetrack.New(cfg.CheckpointsDir(changeID))
	status, _, err := tracker.LoadOrInit(changeID, "")
	if err != nil {
		return err
	}

	if jsonOut {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("%s  lane=%s  state=%s  current_step=%d\n", status.ChangeID, status.Lane, status.State, status.CurrentStep)
	fmt.Printf("  completed: %v\n", status.CompletedSteps)
	if len(status.FailedSteps) > 0 {
		fmt.Printf("  failed: %v\n", status.FailedSteps)
	}
	for idx := 0; idx < 13; idx++ {
		entry, ok := status.Stages[idx]
		if !ok {
			continue
		}
		fmt.Printf("  stage %2d: %-10s attempts=%d\n", idx, entry.Status, entry.Attempts)
	}
	return nil
}
