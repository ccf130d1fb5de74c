// Package config defines the engine's configuration value and the lane
// profile table (spec.md §3). There is no module-level mutable state here
// (spec.md §9): every call site is handed an explicit *EngineConfig.
package config

import (
	"path/filepath"
	"time"
)

// Lane is one of the three routing lanes (spec.md §3, Lane Router §4.2).
type Lane string

const (
	LaneDocs     Lane = "docs"
	LaneStandard Lane = "standard"
	LaneHeavy    Lane = "heavy"
)

// ReleaseType is the opaque stage-1 input named in spec.md §9 (Open
// Questions): it affects stage 1 handler behavior but is not otherwise
// modeled by the engine.
type ReleaseType string

const (
	ReleaseMajor ReleaseType = "major"
	ReleaseMinor ReleaseType = "minor"
	ReleasePatch ReleaseType = "patch"
)

// Op is the comparator a Threshold applies to a quality metric (spec.md §4.5).
type Op string

const (
	OpLTE Op = "<="
	OpGTE Op = ">="
	OpEQ  Op = "=="
)

// Threshold names a metric, a comparator, and the value it must satisfy.
type Threshold struct {
	Metric string  `yaml:"metric"`
	Op     Op      `yaml:"op"`
	Value  float64 `yaml:"value"`
}

// Evaluate reports whether actual satisfies this threshold.
func (t Threshold) Evaluate(actual float64) bool {
	switch t.Op {
	case OpLTE:
		return actual <= t.Value
	case OpGTE:
		return actual >= t.Value
	case OpEQ:
		return actual == t.Value
	default:
		return false
	}
}

// LaneProfile is the routing profile for one lane (spec.md §3).
type LaneProfile struct {
	Lane                Lane          `yaml:"lane"`
	StagesEnabled       []int         `yaml:"stages_enabled"`
	SLABudget           time.Duration `yaml:"sla_budget"`
	QualityGatesEnabled bool          `yaml:"quality_gates_enabled"`
	Thresholds          []Threshold   `yaml:"thresholds,omitempty"`
	// GateBearingStage resolves the spec.md §9 Open Question: which stage
	// index quality gates evaluate against. Zero value (with
	// QualityGatesEnabled=false) means no stage is gate-bearing.
	GateBearingStage int `yaml:"gate_bearing_stage"`
}

// EnabledSet returns StagesEnabled as a lookup set.
func (p *LaneProfile) EnabledSet() map[int]bool {
	set := make(map[int]bool, len(p.StagesEnabled))
	for _, idx := range p.StagesEnabled {
		set[idx] = true
	}
	return set
}

// DefaultLaneProfiles returns the three built-in lane profiles exactly as
// specified in spec.md §3.
func DefaultLaneProfiles() map[Lane]*LaneProfile {
	allStages := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	docsStages := []int{0, 2, 3, 4, 9, 10, 11, 12}

	return map[Lane]*LaneProfile{
		LaneDocs: {
			Lane:                LaneDocs,
			StagesEnabled:       docsStages,
			SLABudget:           300 * time.Second,
			QualityGatesEnabled: false,
		},
		LaneStandard: {
			Lane:                LaneStandard,
			StagesEnabled:       allStages,
			SLABudget:           900 * time.Second,
			QualityGatesEnabled: true,
			GateBearingStage:    6,
			Thresholds: []Threshold{
				{Metric: "ruff.errors", Op: OpLTE, Value: 0},
				{Metric: "mypy.errors", Op: OpLTE, Value: 0},
				{Metric: "pytest.pass_rate", Op: OpGTE, Value: 0.80},
				{Metric: "pytest.coverage_percent", Op: OpGTE, Value: 70},
				{Metric: "bandit.high", Op: OpLTE, Value: 0},
			},
		},
		LaneHeavy: {
			Lane:                LaneHeavy,
			StagesEnabled:       allStages,
			SLABudget:           1200 * time.Second,
			QualityGatesEnabled: true,
			GateBearingStage:    6,
			Thresholds: []Threshold{
				{Metric: "ruff.errors", Op: OpLTE, Value: 0},
				{Metric: "mypy.errors", Op: OpLTE, Value: 0},
				{Metric: "pytest.pass_rate", Op: OpEQ, Value: 1.0},
				{Metric: "pytest.coverage_percent", Op: OpGTE, Value: 85},
				{Metric: "bandit.high", Op: OpLTE, Value: 0},
			},
		},
	}
}

// ParallelConfig bounds the Parallel Executor (spec.md §4.4).
type ParallelConfig struct {
	Workers           int           `yaml:"workers"`
	PerTaskTimeout    time.Duration `yaml:"per_task_timeout"`
	CancelOnFirstErr  bool          `yaml:"cancel_on_first_error"`
}

// EngineConfig is the single explicit configuration value threaded through
// every component (spec.md §9: "Replace [global mutable state] with an
// explicit EngineConfig value passed through call sites").
type EngineConfig struct {
	// WorkflowHome is the base directory containing .checkpoints/ and
	// openspec/ (WORKFLOW_HOME, spec.md §6).
	WorkflowHome string `yaml:"workflow_home"`

	// ToolTimeout bounds a single quality-tool invocation (spec.md §4.5,
	// default 120s; WORKFLOW_TOOL_TIMEOUT_MS).
	ToolTimeout time.Duration `yaml:"tool_timeout"`

	// NonInteractive disables prompts (WORKFLOW_NONINTERACTIVE); resume is
	// the default action for an incomplete workflow when true.
	NonInteractive bool `yaml:"non_interactive"`

	// EnableCheckpoints false forbids resume (spec.md §6 CLI surface).
	EnableCheckpoints bool `yaml:"enable_checkpoints"`

	Parallel ParallelConfig `yaml:"parallel"`

	LaneProfiles map[Lane]*LaneProfile `yaml:"-"`

	// MinRuntimeVersion is the minimum required runtime version checked by
	// the Environment Validator (spec.md §4.7).
	MinRuntimeVersion string `yaml:"min_runtime_version"`

	// RequiredTools is the list of quality-tool binaries the Environment
	// Validator checks for presence of (spec.md §4.7).
	RequiredTools []string `yaml:"required_tools"`
}

// Default returns the engine's default configuration.
func Default() *EngineConfig {
	return &EngineConfig{
		WorkflowHome:      ".",
		ToolTimeout:       120 * time.Second,
		NonInteractive:    false,
		EnableCheckpoints: true,
		Parallel: ParallelConfig{
			Workers:          3,
			PerTaskTimeout:   300 * time.Second,
			CancelOnFirstErr: true,
		},
		LaneProfiles:      DefaultLaneProfiles(),
		MinRuntimeVersion: "1.24.0",
		RequiredTools:     []string{"ruff", "mypy", "pytest", "bandit"},
	}
}

// Normalize clamps fields to the ranges the rest of the engine assumes,
// per spec.md §6 (--workers <1..8>).
func (c *EngineConfig) Normalize() {
	if c.Parallel.Workers < 1 {
		c.Parallel.Workers = 1
	}
	if c.Parallel.Workers > 8 {
		c.Parallel.Workers = 8
	}
	if c.Parallel.PerTaskTimeout <= 0 {
		c.Parallel.PerTaskTimeout = 300 * time.Second
	}
}

// Profile returns the lane profile for lane, or nil if unknown.
func (c *EngineConfig) Profile(lane Lane) *LaneProfile {
	return c.LaneProfiles[lane]
}

// CheckpointsDir returns ".checkpoints/<change_id>" under WorkflowHome.
func (c *EngineConfig) CheckpointsDir(changeID string) string {
	return filepath.Join(c.WorkflowHome, ".checkpoints", changeID)
}

// ChangeDir returns "openspec/changes/<change_id>" under WorkflowHome.
func (c *EngineConfig) ChangeDir(changeID string) string {
	return filepath.Join(c.WorkflowHome, "openspec", "changes", changeID)
}
