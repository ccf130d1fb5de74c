// Package engine implements the Engine / Orchestrator (spec.md §4.1): the
// single state machine that drives the fixed 13-step pipeline for one
// Change, wiring together the Lane Router, Stage Registry, Parallel
// Executor, Quality Gates, Status Tracker, Environment Validator, and
// Change Layout.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/randalmurphal/orc-change/internal/config"
	"github.com/randalmurphal/orc-change/internal/environment"
	orcerrors "github.com/randalmurphal/orc-change/internal/errors"
	"github.com/randalmurphal/orc-change/internal/lane"
	"github.com/randalmurphal/orc-change/internal/layout"
	"github.com/randalmurphal/orc-change/internal/lock"
	"github.com/randalmurphal/orc-change/internal/parallel"
	"github.com/randalmurphal/orc-change/internal/quality"
	"github.com/randalmurphal/orc-change/internal/stage"
	"github.com/randalmurphal/orc-change/internal/statetrack"
)

// Flags are the per-invocation behavior switches (spec.md §3).
type Flags struct {
	DryRun            bool
	SkipQualityGates  bool
	EnableCheckpoints bool
	Interactive       bool
	// Steps restricts execution to this subset of [0,12], nil means "all
	// enabled stages" (spec.md §4.1 "inputs").
	Steps []int
}

// Change is the unit of work (spec.md §3).
type Change struct {
	ChangeID       string
	Title          string
	Owner          string
	ExplicitLane   *config.Lane
	ReleaseType    config.ReleaseType
	Flags          Flags
	Files          []string
	BreakingChange bool
	HeavyRequested bool
}

// Prompter is the interactive-mode collaborator boundary (spec.md §4.1);
// the cli package supplies a huh-backed implementation, and tests supply
// a scripted fake.
type Prompter interface {
	ConfirmResume(changeID string) (resume bool, err error)
	ConfirmLaneSwitch(proposed config.Lane, codeFiles []string) (proceed bool, err error)
}

// Result is what Run returns (spec.md §4.1 "run(change, inputs) → Result").
type Result struct {
	ChangeID       string
	FinalState     statetrack.WorkflowState
	Lane           config.Lane
	CompletedSteps []int
	FailedSteps    []int
	QualityMetrics *quality.Metrics
	// StatusPath is the path of status.json under WorkflowHome (relative
	// when WorkflowHome is); the CLI summary prints it made absolute,
	// regardless of outcome (spec.md §7).
	StatusPath string
	// FailedLogExcerpt is the tail output of the highest-index failed
	// stage, if any, for the CLI's on-failure summary (spec.md §7).
	FailedLogExcerpt string
}

// Engine wires the components above into the algorithm of spec.md §4.1.
type Engine struct {
	Config   *config.EngineConfig
	Registry *stage.Registry
	Adapters []quality.ToolAdapter
	Prompt   Prompter
	// GitAvailable/WorkingTreeOK are supplied by the caller's VCS probe;
	// the engine has no VCS client of its own (out of scope per spec.md §1).
	GitAvailable   bool
	WorkingTreeOK  bool
}

// Run drives Change through the fixed 13-stage pipeline (spec.md §4.1
// Algorithm, steps 1-6).
func (e *Engine) Run(ctx context.Context, change Change) (*Result, error) {
	checkpointsDir := e.Config.CheckpointsDir(change.ChangeID)
	changeDir := e.Config.ChangeDir(change.ChangeID)

	l := lock.New(checkpointsDir)
	if err := l.Acquire(); err != nil {
		return nil, err
	}
	defer l.Release()

	var tracker *statetrack.Tracker
	if change.Flags.DryRun {
		tracker = statetrack.NewDryRun(checkpointsDir)
	} else {
		tracker = statetrack.New(checkpointsDir)
	}
	lay := layout.New(changeDir)

	// Step 1: lane resolution first, so the Environment Validator can
	// decide whether quality-tool presence is fatal (spec.md §4.7 table).
	laneResult, err := lane.Classify(lane.Inputs{
		ExplicitLane:   change.ExplicitLane,
		ChangeID:       change.ChangeID,
		Files:          change.Files,
		BreakingChange: change.BreakingChange,
		HeavyRequested: change.HeavyRequested,
	})
	if err != nil {
		return nil, err
	}
	resolvedLane, err := e.resolveLaneMismatch(laneResult, change.Flags.Interactive)
	if err != nil {
		return nil, err
	}
	profile := e.Config.Profile(resolvedLane)
	if profile == nil {
		return nil, fmt.Errorf("engine: no lane profile for %q", resolvedLane)
	}

	// Step 2 (environment validation; spec.md numbers it (1), done here so
	// the resolved lane is known).
	snap, warnings, err := environment.Validate(e.Config, change.Owner, changeDir, checkpointsDir, profile.QualityGatesEnabled, e.GitAvailable, e.WorkingTreeOK)
	if err != nil {
		return nil, err
	}
	_ = warnings // Warning-kind results are dropped here; only Fatal ones stop the run

	// Step 3: load-or-create status; prompt resume vs fresh on an
	// incomplete prior run (spec.md §4.1 step 2).
	status, incomplete, err := tracker.LoadOrInit(change.ChangeID, resolvedLane)
	if err != nil {
		return nil, err
	}
	if incomplete && !change.Flags.EnableCheckpoints {
		// EnableCheckpoints=false forbids resume (spec.md §6): an
		// incomplete prior run is discarded rather than continued.
		status.CompletedSteps = nil
		status.FailedSteps = nil
		status.Stages = make(map[int]*statetrack.StageEntry)
		status.CurrentStep = 0
		incomplete = false
	}
	if incomplete && change.Flags.Interactive && e.Prompt != nil {
		resume, perr := e.Prompt.ConfirmResume(change.ChangeID)
		if perr != nil {
			return nil, perr
		}
		if !resume {
			status, _, err = tracker.LoadOrInit(change.ChangeID, resolvedLane)
			if err != nil {
				return nil, err
			}
			status.CompletedSteps = nil
			status.FailedSteps = nil
			status.Stages = make(map[int]*statetrack.StageEntry)
			status.CurrentStep = 0
		}
	}
	// incomplete && !interactive: resume by default (spec.md §4.1 step 2) —
	// no action needed, status as loaded already reflects that.

	// spec.md §3: the environment snapshot is "captured once at workflow
	// start" and recorded on status.environment.
	status.Environment = snapshotToMap(snap)

	status.State = statetrack.WorkflowRunning
	if err := tracker.Save(status); err != nil {
		return nil, err
	}

	// Step 4: enabled stage set for the resolved lane, intersected with an
	// explicit partial-run --step selection.
	enabled := profile.EnabledSet()
	if len(change.Flags.Steps) > 0 {
		if err := validatePartialRun(status, change.Flags.Steps); err != nil {
			return nil, err
		}
		only := make(map[int]bool, len(change.Flags.Steps))
		for _, s := range change.Flags.Steps {
			only[s] = true
		}
		for idx := range enabled {
			enabled[idx] = enabled[idx] && only[idx]
		}
	}

	sla := profile.SLABudget
	startedAt := time.Now()

	var gateMetrics *quality.Metrics

	// Step 5: iterate stages in index order, grouping the parallel window.
	idx := 0
	for idx < stage.Count {
		select {
		case <-ctx.Done():
			status.State = statetrack.WorkflowPaused
			_ = tracker.Save(status)
			// spec.md §6: a canceled run maps to its own dedicated exit
			// code (130), so the raw stdlib context error is joined with
			// the package's Coded sentinel rather than returned bare.
			return e.result(tracker, status, gateMetrics), errors.Join(orcerrors.ErrCanceled, ctx.Err())
		default:
		}

		if !enabled[idx] {
			e.markSkipped(tracker, status, idx)
			idx++
			continue
		}
		if already, ok := status.Stages[idx]; ok && already.Status == statetrack.StageCompleted {
			idx++
			continue
		}

		group := e.collectParallelGroup(idx, enabled, status)
		remaining := sla - time.Since(startedAt)

		if len(group) > 1 {
			results := e.runGroup(ctx, group, change, resolvedLane, changeDir, remaining)
			for _, r := range results {
				if err := e.commitStageResult(tracker, lay, status, r.Index, r.Result, r.Err, r.Outcome); err != nil {
					return e.result(tracker, status, gateMetrics), err
				}
				if r.Err != nil || (r.Result != nil && r.Result.Status == stage.StatusFailed) {
					status.State = statetrack.WorkflowFailed
					_ = tracker.Save(status)
					// spec.md §4.4/§8: a deadline-exceeded task is reported
					// HANDLER_TIMEOUT, not the generic HANDLER_FATAL code.
					kind := orcerrors.HandlerFatal
					if r.Outcome == parallel.OutcomeTimeout {
						kind = orcerrors.HandlerTimeout
					}
					return e.result(tracker, status, gateMetrics), &orcerrors.HandlerError{StageIndex: r.Index, Kind: kind, Cause: r.Err}
				}
				if profile.QualityGatesEnabled && r.Index == profile.GateBearingStage {
					m, gerr := e.runGates(ctx, changeDir, profile, change.Flags.SkipQualityGates)
					if gerr != nil {
						return e.result(tracker, status, gateMetrics), gerr
					}
					gateMetrics = &m
					if m.AggregateResult == quality.ResultFail {
						status.State = statetrack.WorkflowFailed
						_ = tracker.Save(status)
						return e.result(tracker, status, gateMetrics), &orcerrors.QualityGateFailure{Reasons: m.Reasons}
					}
				}
			}
			idx = group[len(group)-1] + 1
			continue
		}

		h := e.Registry.Get(idx)
		if h == nil {
			idx++
			continue
		}
		sctx := e.stageContext(change, resolvedLane, idx, changeDir, remaining)
		stageCtx := ctx
		var cancelStage context.CancelFunc
		if !sctx.Deadline.IsZero() {
			// Mirror runGroup's 2s grace period (spec.md §4.4) so a serial
			// stage gets the same TIMEOUT-vs-FAILED distinction a parallel
			// one does.
			stageCtx, cancelStage = context.WithDeadline(ctx, sctx.Deadline.Add(2*time.Second))
		}
		result, herr := h.Execute(stageCtx, sctx)
		var stageCtxErr error
		if cancelStage != nil {
			stageCtxErr = stageCtx.Err()
			cancelStage()
		}
		outcome := classifyOutcome(result, herr, stageCtxErr)
		if err := e.commitStageResult(tracker, lay, status, idx, result, herr, outcome); err != nil {
			return e.result(tracker, status, gateMetrics), err
		}
		if herr != nil || (result != nil && result.Status == stage.StatusFailed) {
			status.State = statetrack.WorkflowFailed
			_ = tracker.Save(status)
			kind := orcerrors.HandlerFatal
			if outcome == parallel.OutcomeTimeout {
				kind = orcerrors.HandlerTimeout
			}
			return e.result(tracker, status, gateMetrics), &orcerrors.HandlerError{StageIndex: idx, Kind: kind, Cause: herr}
		}

		if profile.QualityGatesEnabled && idx == profile.GateBearingStage {
			m, gerr := e.runGates(ctx, changeDir, profile, change.Flags.SkipQualityGates)
			if gerr != nil {
				return e.result(tracker, status, gateMetrics), gerr
			}
			gateMetrics = &m
			if m.AggregateResult == quality.ResultFail {
				status.State = statetrack.WorkflowFailed
				_ = tracker.Save(status)
				return e.result(tracker, status, gateMetrics), &orcerrors.QualityGateFailure{Reasons: m.Reasons}
			}
		}

		idx++
	}

	// Step 6: all enabled stages completed or skipped.
	status.State = statetrack.WorkflowCompleted
	if err := tracker.MarkWorkflow(status, statetrack.WorkflowCompleted); err != nil {
		return e.result(tracker, status, gateMetrics), err
	}
	return e.result(tracker, status, gateMetrics), nil
}

func (e *Engine) result(tracker *statetrack.Tracker, status *statetrack.Status, metrics *quality.Metrics) *Result {
	r := &Result{
		ChangeID:       status.ChangeID,
		FinalState:     status.State,
		Lane:           status.Lane,
		CompletedSteps: status.CompletedSteps,
		FailedSteps:    status.FailedSteps,
		QualityMetrics: metrics,
		StatusPath:     tracker.StatusPath(),
	}
	if len(status.FailedSteps) > 0 {
		if entry, ok := status.Stages[status.FailedSteps[len(status.FailedSteps)-1]]; ok {
			r.FailedLogExcerpt = entry.LogExcerpt
		}
	}
	return r
}

// snapshotToMap converts the Environment Snapshot into the plain
// map[string]any status.environment expects (spec.md §3), round-tripping
// through its own json tags so the field names on disk match the
// Snapshot's documented schema.
func snapshotToMap(snap environment.Snapshot) map[string]any {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

// resolveLaneMismatch honors the explicit/proposed lane from the router,
// prompting on a detected docs-lane mismatch when interactive and
// aborting with LaneMismatchError otherwise (spec.md §4.1 step 3).
func (e *Engine) resolveLaneMismatch(r *lane.Result, interactive bool) (config.Lane, error) {
	if !r.Mismatch {
		return r.Lane, nil
	}
	if interactive && e.Prompt != nil {
		switchLanes, err := e.Prompt.ConfirmLaneSwitch(config.LaneStandard, r.DetectedCodeFiles)
		if err != nil {
			return "", err
		}
		if switchLanes {
			return config.LaneStandard, nil
		}
		return r.Lane, nil
	}
	return "", r.AsLaneMismatchError()
}

// markSkipped records a non-enabled stage as skipped (spec.md §3: "skipped
// stages are recorded as skipped, not completed").
func (e *Engine) markSkipped(tracker *statetrack.Tracker, status *statetrack.Status, idx int) {
	_ = tracker.RecordStage(status, idx, statetrack.StageEntry{Status: statetrack.StageSkipped})
}

// collectParallelGroup returns the contiguous run of enabled, independent,
// not-yet-completed stage indices starting at idx within the parallel
// window [2,6] (spec.md §4.1 step 5, §4.3).
func (e *Engine) collectParallelGroup(idx int, enabled map[int]bool, status *statetrack.Status) []int {
	if !stage.InParallelWindow(idx) {
		return []int{idx}
	}
	var handlers []stage.Handler
	var indices []int
	for i := idx; i <= stage.ParallelWindowEnd; i++ {
		if !enabled[i] {
			break
		}
		if already, ok := status.Stages[i]; ok && already.Status == statetrack.StageCompleted {
			break
		}
		h := e.Registry.Get(i)
		if h == nil || !h.IsIndependent() {
			break
		}
		handlers = append(handlers, h)
		indices = append(indices, i)
	}
	if len(indices) < 2 {
		return []int{idx}
	}
	independent, _ := stage.VerifyIndependence(handlers)
	if !independent {
		return []int{idx}
	}
	// spec.md §9: the engine builds a directed graph on each run and
	// validates acyclicity before dispatching the parallel group; a cycle
	// downgrades the group to serial execution of just its head stage.
	if err := stage.CheckAcyclic(handlers); err != nil {
		return []int{idx}
	}
	return indices
}

func (e *Engine) runGroup(ctx context.Context, indices []int, change Change, resolvedLane config.Lane, changeDir string, remaining time.Duration) []parallel.TaskResult {
	tasks := make([]parallel.Task, 0, len(indices))
	for _, i := range indices {
		h := e.Registry.Get(i)
		tasks = append(tasks, parallel.Task{
			Handler: h,
			Context: e.stageContext(change, resolvedLane, i, changeDir, remaining),
		})
	}
	return parallel.Run(ctx, tasks, parallel.Options{
		Workers:            e.Config.Parallel.Workers,
		GracePeriod:        2 * time.Second,
		CancelOnFirstError: e.Config.Parallel.CancelOnFirstErr,
	})
}

func (e *Engine) stageContext(change Change, resolvedLane config.Lane, idx int, changeDir string, remaining time.Duration) stage.Context {
	timeout := stage.DefaultTimeouts[idx]
	if remaining > 0 && remaining < timeout {
		timeout = remaining
	}
	return stage.Context{
		ChangeID:    change.ChangeID,
		Lane:        resolvedLane,
		StageIndex:  idx,
		ChangeDir:   changeDir,
		Deadline:    time.Now().Add(timeout),
		DryRun:      change.Flags.DryRun,
		ReleaseType: change.ReleaseType,
	}
}

// classifyOutcome maps a handler's raw (result, error) pair plus the
// per-task context's own error onto the executor-level Outcome taxonomy:
// a handler timing out surfaces ctxErr=context.DeadlineExceeded alongside
// a non-nil herr (spec.md §4.4, §8 "a handler that exceeds its timeout by
// <= grace period is still marked TIMEOUT, not COMPLETED").
func classifyOutcome(result *stage.Result, herr, ctxErr error) parallel.Outcome {
	switch {
	case herr != nil && errors.Is(ctxErr, context.DeadlineExceeded):
		return parallel.OutcomeTimeout
	case herr != nil:
		return parallel.OutcomeFailed
	case result != nil && result.Status == stage.StatusFailed:
		return parallel.OutcomeFailed
	default:
		return parallel.OutcomeOK
	}
}

// commitStageResult records a stage's outcome into status and, on success,
// writes a checkpoint with the artifact manifest (spec.md §4.1 step 5,
// §4.6). Dry-run results are recorded but never checkpointed to durable
// storage (spec.md §4.1 edge case b). Before accepting a new stage's own
// outputs it rehashes every artifact committed by earlier stages in this
// run, aborting with ArtifactConflict on drift (spec.md §4.1 edge case c,
// §4.8).
func (e *Engine) commitStageResult(tracker *statetrack.Tracker, lay *layout.Layout, status *statetrack.Status, idx int, result *stage.Result, herr error, outcome parallel.Outcome) error {
	entry := statetrack.StageEntry{Attempts: 1}
	if result != nil {
		entry.LogExcerpt = result.LogExcerpt
	}

	switch outcome {
	case parallel.OutcomeSkipped:
		entry.Status = statetrack.StageSkipped
		if herr != nil {
			entry.Error = herr.Error()
		}
		return tracker.RecordStage(status, idx, entry)
	case parallel.OutcomeTimeout:
		entry.Status = statetrack.StageFailed
		if herr != nil {
			entry.Error = herr.Error()
		} else {
			entry.Error = "stage exceeded its timeout"
		}
		return tracker.RecordStage(status, idx, entry)
	}

	if herr != nil {
		entry.Status = statetrack.StageFailed
		entry.Error = herr.Error()
		return tracker.RecordStage(status, idx, entry)
	}
	if result == nil {
		entry.Status = statetrack.StageFailed
		entry.Error = "handler returned no result"
		return tracker.RecordStage(status, idx, entry)
	}
	if result.Status == stage.StatusFailed {
		entry.Status = statetrack.StageFailed
		if result.Error != nil {
			entry.Error = result.Error.Error()
		}
		return tracker.RecordStage(status, idx, entry)
	}

	if ok, drifted, verr := lay.VerifyManifest(status.ArtifactManifest); verr != nil {
		return fmt.Errorf("engine: verify manifest: %w", verr)
	} else if !ok {
		d := drifted[0]
		entry.Status = statetrack.StageFailed
		entry.Error = fmt.Sprintf("artifact conflict at %q", d.Path)
		_ = tracker.RecordStage(status, idx, entry)
		return &orcerrors.ArtifactConflict{Path: d.Path, ExpectedHash: expectedHash(status.ArtifactManifest, d.Path), ActualHash: d.SHA256}
	}

	entry.Status = statetrack.StageCompleted
	if err := tracker.RecordStage(status, idx, entry); err != nil {
		return err
	}

	var manifest []layout.ArtifactRef
	for _, out := range result.Outputs {
		ref, err := lay.HashArtifact(out)
		if err != nil {
			return fmt.Errorf("engine: hash artifact %q: %w", out, err)
		}
		manifest = append(manifest, ref)
	}
	status.ArtifactManifest = append(status.ArtifactManifest, manifest...)
	return tracker.Checkpoint(status, idx, manifest, "", 0)
}

func expectedHash(manifest []layout.ArtifactRef, path string) string {
	for _, ref := range manifest {
		if ref.Path == path {
			return ref.SHA256
		}
	}
	return ""
}

// runGates invokes Quality Gates at the gate-bearing stage (spec.md §4.1
// step 5, §4.5).
func (e *Engine) runGates(ctx context.Context, changeDir string, profile *config.LaneProfile, skip bool) (quality.Metrics, error) {
	return quality.Run(ctx, e.Adapters, changeDir, e.Config.ToolTimeout, profile, skip), nil
}

// validatePartialRun enforces spec.md §4.1 edge case (a): a --step run
// requires every index below the lowest requested step to already be
// completed.
func validatePartialRun(status *statetrack.Status, steps []int) error {
	minStep := steps[0]
	for _, s := range steps {
		if s < minStep {
			minStep = s
		}
	}
	for i := 0; i < minStep; i++ {
		entry, ok := status.Stages[i]
		if !ok || (entry.Status != statetrack.StageCompleted && entry.Status != statetrack.StageSkipped) {
			return fmt.Errorf("engine: partial run requires stages [0,%d) already completed; stage %d is not", minStep, i)
		}
	}
	return nil
}
