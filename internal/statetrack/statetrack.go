// Package statetrack implements Status Tracker & Checkpoints (spec.md
// §4.6): durable, crash-safe persistence of workflow state, append-only
// checkpoints and journal, and detection/resumption of incomplete runs.
package statetrack

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/orc-change/internal/config"
	orcerrors "github.com/randalmurphal/orc-change/internal/errors"
	"github.com/randalmurphal/orc-change/internal/layout"
)

// CurrentSchemaVersion is the schema_version this tracker writes.
const CurrentSchemaVersion = 1

// StageState is one stage's recorded lifecycle (spec.md §3).
type StageState string

const (
	StagePending   StageState = "pending"
	StageRunning   StageState = "running"
	StageCompleted StageState = "completed"
	StageFailed    StageState = "failed"
	StageSkipped   StageState = "skipped"
)

// StageEntry is status.json's per-stage record (spec.md §3).
type StageEntry struct {
	Status     StageState `json:"status"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	DurationMs int64      `json:"duration_ms"`
	Attempts   int        `json:"attempts"`
	Error      string     `json:"error,omitempty"`
	// LogExcerpt carries a handler's tail output forward onto the stage
	// record so a failing run's CLI summary can print it (spec.md §7).
	LogExcerpt string `json:"log_excerpt,omitempty"`
}

// WorkflowState is the top-level lifecycle state (spec.md §4.1 state
// machine: initialized → running → (paused | failed | completed)).
type WorkflowState string

const (
	WorkflowInitialized WorkflowState = "initialized"
	WorkflowRunning     WorkflowState = "running"
	WorkflowPaused      WorkflowState = "paused"
	WorkflowFailed      WorkflowState = "failed"
	WorkflowCompleted   WorkflowState = "completed"
)

// Status is the status.json document (spec.md §3).
type Status struct {
	SchemaVersion  int                  `json:"schema_version"`
	ChangeID       string               `json:"change_id"`
	RunID          uuid.UUID            `json:"run_id"`
	Lane           config.Lane          `json:"lane"`
	State          WorkflowState        `json:"workflow_state"`
	StartedAt      time.Time            `json:"started_at"`
	LastUpdatedAt  time.Time            `json:"last_updated_at"`
	CurrentStep    int                  `json:"current_step"`
	CompletedSteps []int                `json:"completed_steps"`
	FailedSteps    []int                `json:"failed_steps"`
	Stages         map[int]*StageEntry  `json:"stages"`
	ParallelGroup  []int                `json:"parallel_group,omitempty"`
	Environment    map[string]any       `json:"environment,omitempty"`
	// ArtifactManifest accumulates every artifact committed by a completed
	// stage in this run, in commit order, so commitStageResult can rehash
	// earlier stages' outputs before accepting a new one (spec.md §4.1 edge
	// case c, §4.8: "drift aborts with ArtifactConflict").
	ArtifactManifest []layout.ArtifactRef `json:"artifact_manifest,omitempty"`
}

// Checkpoint is one completed-stage snapshot (spec.md §3).
type Checkpoint struct {
	StepIndex        int                     `json:"step_index"`
	Timestamp        time.Time               `json:"timestamp"`
	StatusSnapshot   Status                  `json:"status_snapshot"`
	ArtifactManifest []layout.ArtifactRef    `json:"artifact_manifest"`
	VCSRef           string                  `json:"vcs_ref,omitempty"`
	DurationMs       int64                   `json:"duration_ms"`
}

// Tracker owns status.json, checkpoint files, and journal.log under one
// change's checkpoint directory.
type Tracker struct {
	dir    string
	dryRun bool
}

// New returns a Tracker rooted at checkpointDir (".checkpoints/<change_id>").
func New(checkpointDir string) *Tracker {
	return &Tracker{dir: checkpointDir}
}

// NewDryRun returns a Tracker whose writes never touch the durable
// status.json, checkpoint, or journal files (spec.md §4.1 edge case b: dry
// run "computes the same state transitions without writing status.json to
// durable storage — it writes to a shadow path"). Reads (LoadOrInit) still
// consult the real, durable status so resume detection is accurate.
func NewDryRun(checkpointDir string) *Tracker {
	return &Tracker{dir: checkpointDir, dryRun: true}
}

func (t *Tracker) statusPath() string { return filepath.Join(t.dir, "status.json") }

// StatusPath returns the durable status.json path regardless of dry-run
// mode, for callers (the CLI summary, spec.md §7) that need to report where
// the real file lives or will live.
func (t *Tracker) StatusPath() string { return t.statusPath() }

// ShadowStatusPath returns the path a dry run writes its status snapshot
// to instead of status.json (spec.md §4.1 edge case b).
func (t *Tracker) ShadowStatusPath() string { return filepath.Join(t.dir, "status.shadow.json") }

// writeStatusPath is the path Save actually writes to: the shadow path in
// dry-run mode, the real status.json otherwise.
func (t *Tracker) writeStatusPath() string {
	if t.dryRun {
		return t.ShadowStatusPath()
	}
	return t.statusPath()
}

func (t *Tracker) journalPath() string {
	if t.dryRun {
		return filepath.Join(t.dir, "journal.shadow.log")
	}
	return filepath.Join(t.dir, "journal.log")
}

// LoadOrInit implements spec.md §4.6 load_or_init: returns the existing
// status if present, or a freshly initialized one. incomplete reports
// whether an existing status was found with current_step < 12 and
// workflow_state != completed.
func (t *Tracker) LoadOrInit(changeID string, lane config.Lane) (status *Status, incomplete bool, err error) {
	data, err := os.ReadFile(t.statusPath())
	if os.IsNotExist(err) {
		now := time.Now()
		fresh := &Status{
			SchemaVersion: CurrentSchemaVersion,
			ChangeID:      changeID,
			RunID:         uuid.New(),
			Lane:          lane,
			State:         WorkflowInitialized,
			StartedAt:     now,
			LastUpdatedAt: now,
			Stages:        make(map[int]*StageEntry),
		}
		return fresh, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("statetrack: read status: %w", err)
	}

	var existing Status
	if jerr := json.Unmarshal(data, &existing); jerr != nil {
		return nil, false, &orcerrors.StatusCorruption{Path: t.statusPath(), Cause: jerr}
	}
	if existing.SchemaVersion != CurrentSchemaVersion {
		migrated, merr := migrate(existing)
		if merr != nil {
			return nil, false, &orcerrors.StatusCorruption{Path: t.statusPath(), Cause: merr}
		}
		existing = migrated
	}

	// Resumption rule (spec.md §4.6): current_step < 12 and
	// workflow_state != completed means incomplete.
	incomplete = existing.CurrentStep < 12 && existing.State != WorkflowCompleted
	return &existing, incomplete, nil
}

// Save atomically writes status to status.json, or to the shadow status
// path in dry-run mode (write-to-temp + fsync + rename, spec.md §4.6, §4.1
// edge case b).
func (t *Tracker) Save(status *Status) error {
	status.LastUpdatedAt = time.Now()
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("statetrack: marshal status: %w", err)
	}
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return fmt.Errorf("statetrack: create checkpoint dir: %w", err)
	}
	if err := atomicWrite(t.writeStatusPath(), data); err != nil {
		return fmt.Errorf("statetrack: write status: %w", err)
	}
	return nil
}

// RecordStage updates status.Stages[index] and appends a journal entry, to
// journal.log or, in dry-run mode, journal.shadow.log (spec.md §4.6
// record_stage).
func (t *Tracker) RecordStage(status *Status, index int, entry StageEntry) error {
	status.Stages[index] = &entry
	switch entry.Status {
	case StageCompleted:
		status.CompletedSteps = appendSortedUnique(status.CompletedSteps, index)
	case StageFailed:
		status.FailedSteps = appendSortedUnique(status.FailedSteps, index)
	}
	if index > status.CurrentStep {
		status.CurrentStep = index
	}
	return t.appendJournal(status.RunID, index, entry)
}

// Checkpoint writes checkpoint-<NN>-<timestamp>.json for a completed
// stage (spec.md §3, §4.6). Checkpoints are append-only: never rewritten.
// In dry-run mode the checkpoint goes to a "shadow-" prefixed file instead
// of the durable checkpoint sequence (spec.md §4.1 edge case b, §8 round
// trip property).
func (t *Tracker) Checkpoint(status *Status, index int, manifest []layout.ArtifactRef, vcsRef string, duration time.Duration) error {
	now := time.Now()
	cp := Checkpoint{
		StepIndex:        index,
		Timestamp:        now,
		StatusSnapshot:   *status,
		ArtifactManifest: manifest,
		VCSRef:           vcsRef,
		DurationMs:       duration.Milliseconds(),
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("statetrack: marshal checkpoint: %w", err)
	}
	prefix := "checkpoint"
	if t.dryRun {
		prefix = "shadow-checkpoint"
	}
	name := fmt.Sprintf("%s-%02d-%d.json", prefix, index, now.UnixNano())
	if err := atomicWrite(filepath.Join(t.dir, name), data); err != nil {
		return fmt.Errorf("statetrack: write checkpoint: %w", err)
	}
	return nil
}

// MarkWorkflow transitions the top-level workflow state (spec.md §4.6
// mark_workflow) and persists it.
func (t *Tracker) MarkWorkflow(status *Status, state WorkflowState) error {
	status.State = state
	return t.Save(status)
}

// appendJournal appends one JSON line to journal.log (spec.md §4.6:
// "an append-only journal.log of transitions"), strictly monotone in
// timestamp per spec.md §8.
func (t *Tracker) appendJournal(runID uuid.UUID, index int, entry StageEntry) error {
	line := struct {
		RunID     uuid.UUID  `json:"run_id"`
		Timestamp time.Time  `json:"timestamp"`
		Stage     int        `json:"stage_index"`
		Status    StageState `json:"status"`
	}{RunID: runID, Timestamp: time.Now(), Stage: index, Status: entry.Status}

	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("statetrack: marshal journal entry: %w", err)
	}
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return fmt.Errorf("statetrack: create checkpoint dir: %w", err)
	}
	f, err := os.OpenFile(t.journalPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("statetrack: open journal: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("statetrack: append journal: %w", err)
	}
	return f.Sync()
}

func appendSortedUnique(s []int, v int) []int {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	s = append(s, v)
	sort.Ints(s)
	return s
}

// atomicWrite writes data to path via a temp file, fsync, and rename
// (spec.md §4.6: "All writes are atomic").
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// migrate applies registered schema migrations. No migrations are
// registered yet; an unknown version is always an error (spec.md §4.6:
// "Loading an unknown version is an error unless a migration is
// registered").
func migrate(s Status) (Status, error) {
	return Status{}, fmt.Errorf("unknown status schema_version %d, no migration registered", s.SchemaVersion)
}
