package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/randalmurphal/orc-change/internal/config"
	"github.com/randalmurphal/orc-change/internal/engine"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the 13-step workflow for a change",
		RunE:  runRun,
	}
	addChangeFlags(cmd)
	return cmd
}

// addChangeFlags registers the flag surface shared by run and resume
// (spec.md §6).
func addChangeFlags(cmd *cobra.Command) {
	cmd.Flags().String("change-id", "", "change slug (required)")
	cmd.Flags().String("title", "", "change title")
	cmd.Flags().String("owner", "", "change owner identity")
	cmd.Flags().String("lane", "", "docs|standard|heavy (optional; router decides otherwise)")
	cmd.Flags().IntSlice("step", nil, "restrict to this stage index (repeatable; partial run)")
	cmd.Flags().String("release-type", "patch", "major|minor|patch")
	cmd.Flags().Bool("dry-run", false, "write no artifacts; status, checkpoints and journal go to shadow files")
	cmd.Flags().Bool("skip-quality-gates", false, "skip quality gate evaluation (non-docs lanes only)")
	cmd.Flags().Bool("enable-checkpoints", true, "allow resuming from a prior incomplete run")
	cmd.Flags().Bool("breaking-change", false, "flag this change as breaking (forces heavy lane)")
	cmd.Flags().Bool("heavy", false, "request the heavy lane")
	cmd.Flags().StringSlice("file", nil, "changed file path (repeatable; drives lane classification)")
	cmd.Flags().Int("workers", 3, "parallel worker count (1..8)")
	_ = cmd.MarkFlagRequired("change-id")
}

func runRun(cmd *cobra.Command, args []string) error {
	result, err := execChange(cmd)
	printSummary(result, err)
	return err
}

// execChange loads config, assembles the Change, and drives the Engine.
// Shared by run and resume: resume against an existing incomplete change is
// equivalent to run (SPEC_FULL.md §4.9).
func execChange(cmd *cobra.Command) (*engine.Result, error) {
	changeID, _ := cmd.Flags().GetString("change-id")
	title, _ := cmd.Flags().GetString("title")
	owner, _ := cmd.Flags().GetString("owner")
	laneStr, _ := cmd.Flags().GetString("lane")
	steps, _ := cmd.Flags().GetIntSlice("step")
	releaseType, _ := cmd.Flags().GetString("release-type")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	skipGates, _ := cmd.Flags().GetBool("skip-quality-gates")
	enableCheckpoints, _ := cmd.Flags().GetBool("enable-checkpoints")
	breaking, _ := cmd.Flags().GetBool("breaking-change")
	heavy, _ := cmd.Flags().GetBool("heavy")
	files, _ := cmd.Flags().GetStringSlice("file")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	cfg.EnableCheckpoints = enableCheckpoints

	var explicitLane *config.Lane
	if laneStr != "" {
		l := config.Lane(laneStr)
		explicitLane = &l
	}

	interactive := !cfg.NonInteractive
	e := buildEngine(cfg, changeID, interactive)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\ninterrupt received, pausing workflow...")
		cancel()
	}()
	defer signal.Stop(sigCh)

	change := engine.Change{
		ChangeID:       changeID,
		Title:          title,
		Owner:          owner,
		ExplicitLane:   explicitLane,
		ReleaseType:    config.ReleaseType(releaseType),
		Files:          files,
		BreakingChange: breaking,
		HeavyRequested: heavy,
		Flags: engine.Flags{
			DryRun:            dryRun,
			SkipQualityGates:  skipGates,
			EnableCheckpoints: enableCheckpoints,
			Interactive:       interactive,
			Steps:             steps,
		},
	}

	return e.Run(ctx, change)
}

var summaryStyle = lipgloss.NewStyle().Bold(true)

// printSummary emits the single-line run summary spec.md §7 requires: lane,
// stages completed, gate status, and exit code, followed by the absolute
// path of status.json and, on failure, the last 10 lines of the failing
// stage's log excerpt. Called on both the success and failure paths of run
// and resume, since err carries the exit code even when result is nil (a
// pre-flight failure never reached the stage loop).
func printSummary(r *engine.Result, err error) {
	code := ExitCode(err)
	if r == nil {
		fmt.Fprintf(os.Stderr, "%s (exit_code=%d)\n", err, code)
		return
	}

	style := summaryStyle
	switch r.FinalState {
	case "completed":
		style = style.Foreground(lipgloss.Color("2"))
	case "failed":
		style = style.Foreground(lipgloss.Color("1"))
	case "paused":
		style = style.Foreground(lipgloss.Color("3"))
	}
	fmt.Println(style.Render(fmt.Sprintf("%s: %s (lane=%s, exit_code=%d)", r.ChangeID, r.FinalState, r.Lane, code)))
	fmt.Printf("  completed steps: %v\n", r.CompletedSteps)
	if len(r.FailedSteps) > 0 {
		fmt.Printf("  failed steps: %v\n", r.FailedSteps)
	}
	if r.QualityMetrics != nil {
		fmt.Printf("  quality gate: %s\n", r.QualityMetrics.AggregateResult)
		if len(r.QualityMetrics.Reasons) > 0 {
			fmt.Printf("  reasons: %v\n", r.QualityMetrics.Reasons)
		}
	}
	if r.StatusPath != "" {
		if abs, aerr := filepath.Abs(r.StatusPath); aerr == nil {
			fmt.Println(abs)
		} else {
			fmt.Println(r.StatusPath)
		}
	}
	if err != nil && r.FailedLogExcerpt != "" {
		fmt.Println("  log excerpt:")
		for _, line := range lastLines(r.FailedLogExcerpt, 10) {
			fmt.Printf("    %s\n", line)
		}
	}
}

// lastLines returns at most n trailing lines of s, ignoring trailing
// newlines; empty lines before those are kept.
func lastLines(s string, n int) []string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
