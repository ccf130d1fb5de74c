package statetrack

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/randalmurphal/orc-change/internal/config"
)

func TestLoadOrInitFresh(t *testing.T) {
	tr := New(t.TempDir())
	status, incomplete, err := tr.LoadOrInit("add-widgets", config.LaneStandard)
	if err != nil {
		t.Fatalf("LoadOrInit: %v", err)
	}
	if incomplete {
		t.Error("a fresh status should not be incomplete")
	}
	if status.State != WorkflowInitialized {
		t.Errorf("State = %v, want initialized", status.State)
	}
	if status.SchemaVersion != CurrentSchemaVersion {
		t.Errorf("SchemaVersion = %d, want %d", status.SchemaVersion, CurrentSchemaVersion)
	}
}

func TestSaveAndReloadDetectsIncomplete(t *testing.T) {
	dir := t.TempDir()
	tr := New(dir)
	status, _, err := tr.LoadOrInit("add-widgets", config.LaneStandard)
	if err != nil {
		t.Fatal(err)
	}
	status.State = WorkflowRunning
	status.CurrentStep = 4
	if err := tr.Save(status); err != nil {
		t.Fatalf("Save: %v", err)
	}

	tr2 := New(dir)
	reloaded, incomplete, err := tr2.LoadOrInit("add-widgets", config.LaneStandard)
	if err != nil {
		t.Fatalf("reload LoadOrInit: %v", err)
	}
	if !incomplete {
		t.Error("expected incomplete for current_step < 12 and state running")
	}
	if reloaded.CurrentStep != 4 {
		t.Errorf("CurrentStep = %d, want 4", reloaded.CurrentStep)
	}
}

func TestRecordStageTracksCompletedAndJournal(t *testing.T) {
	dir := t.TempDir()
	tr := New(dir)
	status, _, err := tr.LoadOrInit("add-widgets", config.LaneStandard)
	if err != nil {
		t.Fatal(err)
	}

	if err := tr.RecordStage(status, 3, StageEntry{Status: StageCompleted, DurationMs: 120}); err != nil {
		t.Fatalf("RecordStage: %v", err)
	}
	if len(status.CompletedSteps) != 1 || status.CompletedSteps[0] != 3 {
		t.Errorf("CompletedSteps = %v, want [3]", status.CompletedSteps)
	}
	if status.CurrentStep != 3 {
		t.Errorf("CurrentStep = %d, want 3", status.CurrentStep)
	}

	if _, err := os.Stat(filepath.Join(dir, "journal.log")); err != nil {
		t.Errorf("journal.log should exist: %v", err)
	}
}

func TestCheckpointIsAppendOnlyFile(t *testing.T) {
	dir := t.TempDir()
	tr := New(dir)
	status, _, _ := tr.LoadOrInit("add-widgets", config.LaneStandard)

	if err := tr.Checkpoint(status, 3, nil, "", 50*time.Millisecond); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "checkpoint-03-*.json"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one checkpoint file, got %v (err=%v)", matches, err)
	}
}

func TestMarkWorkflowPersists(t *testing.T) {
	dir := t.TempDir()
	tr := New(dir)
	status, _, _ := tr.LoadOrInit("add-widgets", config.LaneStandard)

	if err := tr.MarkWorkflow(status, WorkflowCompleted); err != nil {
		t.Fatalf("MarkWorkflow: %v", err)
	}

	tr2 := New(dir)
	reloaded, incomplete, err := tr2.LoadOrInit("add-widgets", config.LaneStandard)
	if err != nil {
		t.Fatal(err)
	}
	if incomplete {
		t.Error("completed workflow should not be incomplete")
	}
	if reloaded.State != WorkflowCompleted {
		t.Errorf("State = %v, want completed", reloaded.State)
	}
}
