package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/randalmurphal/orc-change/internal/config"
	"github.com/randalmurphal/orc-change/internal/handler"
	"github.com/randalmurphal/orc-change/internal/layout"
	"github.com/randalmurphal/orc-change/internal/stage"
	"github.com/randalmurphal/orc-change/internal/statetrack"
)

type fakePrompter struct {
	resume      bool
	switchLanes bool
}

func (f *fakePrompter) ConfirmResume(changeID string) (bool, error)       { return f.resume, nil }
func (f *fakePrompter) ConfirmLaneSwitch(p config.Lane, files []string) (bool, error) {
	return f.switchLanes, nil
}

func registryFor(changeDir string) *stage.Registry {
	reg := stage.NewRegistry()
	handler.RegisterBuiltins(reg, layout.New(changeDir))
	return reg
}

func TestRunDocsLaneCompletesEnabledStages(t *testing.T) {
	home := t.TempDir()
	cfg := config.Default()
	cfg.WorkflowHome = home
	cfg.RequiredTools = nil
	cfg.Normalize()

	changeID := "fix-typo"
	e := &Engine{
		Config:        cfg,
		Registry:      registryFor(cfg.ChangeDir(changeID)),
		GitAvailable:  true,
		WorkingTreeOK: true,
	}

	docsLane := config.LaneDocs
	result, err := e.Run(context.Background(), Change{
		ChangeID:     changeID,
		Owner:        "alice",
		ExplicitLane: &docsLane,
		Files:        []string{"README.md"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.FinalState != statetrack.WorkflowCompleted {
		t.Fatalf("FinalState = %v, want completed", result.FinalState)
	}
	want := []int{0, 2, 3, 4, 9, 10, 11, 12}
	if len(result.CompletedSteps) != len(want) {
		t.Errorf("CompletedSteps = %v, want %v", result.CompletedSteps, want)
	}
}

func TestRunStandardLaneWithSkippedGates(t *testing.T) {
	home := t.TempDir()
	cfg := config.Default()
	cfg.WorkflowHome = home
	cfg.RequiredTools = nil
	cfg.Normalize()

	changeID := "add-widgets"
	e := &Engine{
		Config:        cfg,
		Registry:      registryFor(cfg.ChangeDir(changeID)),
		GitAvailable:  true,
		WorkingTreeOK: true,
	}

	standardLane := config.LaneStandard
	result, err := e.Run(context.Background(), Change{
		ChangeID:     changeID,
		Owner:        "alice",
		ExplicitLane: &standardLane,
		Files:        []string{"internal/widgets/widgets.go"},
		Flags:        Flags{SkipQualityGates: true},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.FinalState != statetrack.WorkflowCompleted {
		t.Fatalf("FinalState = %v, want completed", result.FinalState)
	}
	if result.QualityMetrics == nil {
		t.Fatal("expected quality metrics to be populated")
	}
	if len(result.QualityMetrics.Reasons) != 1 || result.QualityMetrics.Reasons[0] != "operator_skip" {
		t.Errorf("Reasons = %v, want [operator_skip]", result.QualityMetrics.Reasons)
	}
	if len(result.CompletedSteps) != stage.Count {
		t.Errorf("CompletedSteps = %v, want all %d stages", result.CompletedSteps, stage.Count)
	}
}

func TestRunLaneMismatchNonInteractiveErrors(t *testing.T) {
	home := t.TempDir()
	cfg := config.Default()
	cfg.WorkflowHome = home
	cfg.Normalize()

	changeID := "docs-with-code"
	e := &Engine{
		Config:        cfg,
		Registry:      registryFor(cfg.ChangeDir(changeID)),
		GitAvailable:  true,
		WorkingTreeOK: true,
	}

	docsLane := config.LaneDocs
	_, err := e.Run(context.Background(), Change{
		ChangeID:     changeID,
		Owner:        "alice",
		ExplicitLane: &docsLane,
		Files:        []string{"internal/foo/foo.go"},
	})
	if err == nil {
		t.Fatal("expected lane mismatch error")
	}
}

func TestRunDryRunWritesShadowStatusNotDurable(t *testing.T) {
	home := t.TempDir()
	cfg := config.Default()
	cfg.WorkflowHome = home
	cfg.RequiredTools = nil
	cfg.Normalize()

	changeID := "dry-run-change"
	e := &Engine{
		Config:        cfg,
		Registry:      registryFor(cfg.ChangeDir(changeID)),
		GitAvailable:  true,
		WorkingTreeOK: true,
	}

	docsLane := config.LaneDocs
	result, err := e.Run(context.Background(), Change{
		ChangeID:     changeID,
		Owner:        "alice",
		ExplicitLane: &docsLane,
		Files:        []string{"README.md"},
		Flags:        Flags{DryRun: true},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.FinalState != statetrack.WorkflowCompleted {
		t.Fatalf("FinalState = %v, want completed", result.FinalState)
	}

	checkpointsDir := cfg.CheckpointsDir(changeID)
	if _, statErr := os.Stat(filepath.Join(checkpointsDir, "status.json")); !os.IsNotExist(statErr) {
		t.Errorf("status.json should not exist after a dry run (stat err = %v)", statErr)
	}
	if _, statErr := os.Stat(filepath.Join(checkpointsDir, "status.shadow.json")); statErr != nil {
		t.Errorf("status.shadow.json should exist after a dry run: %v", statErr)
	}
	entries, readErr := os.ReadDir(checkpointsDir)
	if readErr != nil {
		t.Fatalf("read checkpoints dir: %v", readErr)
	}
	for _, ent := range entries {
		if strings.HasPrefix(ent.Name(), "checkpoint-") {
			t.Errorf("found durable checkpoint file %q after a dry run", ent.Name())
		}
	}
}

func TestRunCancelPausesWorkflow(t *testing.T) {
	home := t.TempDir()
	cfg := config.Default()
	cfg.WorkflowHome = home
	cfg.RequiredTools = nil
	cfg.Normalize()

	changeID := "will-cancel"
	e := &Engine{
		Config:        cfg,
		Registry:      registryFor(cfg.ChangeDir(changeID)),
		GitAvailable:  true,
		WorkingTreeOK: true,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	docsLane := config.LaneDocs
	result, err := e.Run(ctx, Change{
		ChangeID:     changeID,
		Owner:        "alice",
		ExplicitLane: &docsLane,
		Files:        []string{"README.md"},
	})
	if err == nil {
		t.Fatal("expected context canceled error")
	}
	if result.FinalState != statetrack.WorkflowPaused {
		t.Errorf("FinalState = %v, want paused", result.FinalState)
	}
}
