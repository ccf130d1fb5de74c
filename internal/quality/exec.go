package quality

import (
	"bytes"
	"context"
	"os/exec"
	"time"
)

// runTool executes name with args under workDir, bounded by timeout,
// grounded in the teacher's runCommand
// (internal/executor/quality_checks.go): exec.CommandContext with a
// per-invocation timeout, separate stdout/stderr capture, and a
// LookPath-first check so a missing binary reports ToolError rather than
// an opaque exec error (spec.md §4.5: "a tool that fails to execute...
// is reported with tool_error=true").
func runTool(ctx context.Context, workDir string, timeout time.Duration, name string, args ...string) (RawResult, error) {
	if _, err := exec.LookPath(name); err != nil {
		return RawResult{ToolError: true}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	}

	// A non-zero exit for a linter/test-runner is a normal "findings
	// present" outcome, not a tool_error; only a startup failure (binary
	// resolved above but exec still failed with no ExitError) is
	// fail-closed here.
	if runErr != nil {
		if _, ok := runErr.(*exec.ExitError); !ok {
			return RawResult{ToolError: true, DurationMs: duration.Milliseconds()}, nil
		}
	}

	return RawResult{
		ExitCode:   exitCode,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: duration.Milliseconds(),
	}, nil
}
