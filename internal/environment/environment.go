// Package environment implements the Environment Validator (spec.md
// §4.7): pre-flight checks before any stage runs, producing the
// Environment Snapshot recorded in status.environment.
package environment

import (
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/randalmurphal/orc-change/internal/config"
	orcerrors "github.com/randalmurphal/orc-change/internal/errors"
)

// FailureKind classifies a check's severity (spec.md §4.7 table).
type FailureKind string

const (
	Fatal   FailureKind = "fatal"
	Warning FailureKind = "warning"
)

// CheckResult is one pre-flight check's outcome.
type CheckResult struct {
	Name string
	Kind FailureKind
	Err  error
}

// Snapshot is the Environment Snapshot (spec.md §3).
type Snapshot struct {
	RuntimeVersion  string            `json:"runtime_version"`
	ToolVersions    map[string]string `json:"tool_versions"`
	HostOS          string            `json:"host_os"`
	WorkingDir      string            `json:"working_directory"`
	GitClean        bool              `json:"git_clean"`
	WritablePaths   []string          `json:"writable_paths"`
	InteractiveTTY  bool              `json:"-"`
}

// recognizedOS lists platforms the engine has been validated on (spec.md
// §4.7: "Platform/OS recognized | Warning").
var recognizedOS = map[string]bool{"linux": true, "darwin": true, "windows": true}

// Validate runs every pre-flight check in spec.md §4.7's table and
// returns the Environment Snapshot plus the first Fatal failure, if any,
// as an *errors.EnvironmentError. Warning-kind failures never abort; they
// are returned in warnings for the caller to log.
func Validate(cfg *config.EngineConfig, owner, changeDir, checkpointsDir string, requireTools, gitAvailable, workingTreeRecognized bool) (snap Snapshot, warnings []CheckResult, err error) {
	wd, _ := os.Getwd()
	snap = Snapshot{
		RuntimeVersion: runtime.Version(),
		ToolVersions:   make(map[string]string),
		HostOS:         runtime.GOOS,
		WorkingDir:     wd,
		InteractiveTTY: isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()),
	}

	if !meetsMinVersion(runtime.Version(), cfg.MinRuntimeVersion) {
		return snap, warnings, &orcerrors.EnvironmentError{
			Check: "runtime_version",
			Why:   "runtime " + runtime.Version() + " below minimum " + cfg.MinRuntimeVersion,
		}
	}

	// Tool presence is fatal unless quality gates are disabled for the
	// resolved lane (spec.md §4.7 table: "Fatal (unless quality gates
	// disabled)").
	if requireTools {
		for _, tool := range cfg.RequiredTools {
			path, lookErr := exec.LookPath(tool)
			if lookErr != nil {
				return snap, warnings, &orcerrors.EnvironmentError{
					Check: "tool_presence:" + tool,
					Why:   tool + " not found on PATH",
					Cause: lookErr,
				}
			}
			snap.ToolVersions[tool] = path
		}
	}

	if !gitAvailable {
		return snap, warnings, &orcerrors.EnvironmentError{Check: "vcs_available", Why: "no VCS detected in working tree"}
	}
	snap.GitClean = workingTreeRecognized

	for _, dir := range []string{changeDir, checkpointsDir} {
		if dir == "" {
			continue
		}
		if err := writable(dir); err != nil {
			return snap, warnings, &orcerrors.EnvironmentError{Check: "writable_paths", Why: dir + " is not writable", Cause: err}
		}
		snap.WritablePaths = append(snap.WritablePaths, dir)
	}

	if strings.TrimSpace(owner) == "" {
		return snap, warnings, &orcerrors.EnvironmentError{Check: "owner_identity", Why: "owner must be non-empty"}
	}

	if !recognizedOS[runtime.GOOS] {
		warnings = append(warnings, CheckResult{Name: "os_recognized", Kind: Warning, Err: nil})
	}

	return snap, warnings, nil
}

// writable reports whether dir (creating it if absent) can be written to.
func writable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	probe := dir + "/.write-probe"
	if err := os.WriteFile(probe, []byte("x"), 0o644); err != nil {
		return err
	}
	return os.Remove(probe)
}

// meetsMinVersion compares "go1.X.Y"-style runtime.Version() output
// against a "1.X.Y" minimum, loosely: only the minor version is compared,
// matching how the teacher's bootstrap version check operates.
func meetsMinVersion(actual, min string) bool {
	actualMinor := minorOf(strings.TrimPrefix(actual, "go"))
	minMinor := minorOf(min)
	return actualMinor >= minMinor
}

func minorOf(v string) int {
	parts := strings.Split(v, ".")
	if len(parts) < 2 {
		return 0
	}
	n, _ := strconv.Atoi(parts[1])
	return n
}
