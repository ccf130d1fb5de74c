package quality

import (
	"context"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// RuffAdapter drives `ruff check --output-format=json` (spec.md §4.5,
// SPEC_FULL.md §4.10).
type RuffAdapter struct{}

func (RuffAdapter) Name() string { return "ruff" }

func (RuffAdapter) Invoke(ctx context.Context, workDir string, timeout time.Duration) (RawResult, error) {
	return runTool(ctx, workDir, timeout, "ruff", "check", "--output-format=json", ".")
}

func (RuffAdapter) Parse(raw RawResult) (ToolSummary, error) {
	if !gjson.Valid(raw.Stdout) {
		return ToolSummary{}, fmt.Errorf("ruff: invalid JSON output")
	}
	results := gjson.Parse(raw.Stdout)
	return ToolSummary{Tool: "ruff", Errors: int(results.Get("#").Int())}, nil
}
