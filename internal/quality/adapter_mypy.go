package quality

import (
	"context"
	"strings"
	"time"
)

// MypyAdapter drives `mypy --no-error-summary <path>` (spec.md §4.5,
// SPEC_FULL.md §4.10). mypy has no first-class JSON mode in the pinned
// tool version assumed here, so this is the one adapter that legitimately
// falls back to text scanning rather than a structured parser (see
// DESIGN.md).
type MypyAdapter struct{}

func (MypyAdapter) Name() string { return "mypy" }

func (MypyAdapter) Invoke(ctx context.Context, workDir string, timeout time.Duration) (RawResult, error) {
	return runTool(ctx, workDir, timeout, "mypy", "--no-error-summary", ".")
}

func (MypyAdapter) Parse(raw RawResult) (ToolSummary, error) {
	count := 0
	for _, line := range strings.Split(raw.Stdout, "\n") {
		if strings.Contains(line, "error:") {
			count++
		}
	}
	return ToolSummary{Tool: "mypy", Errors: count}, nil
}
