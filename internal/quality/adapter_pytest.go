package quality

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/gjson"
)

// PytestAdapter drives `pytest --json-report --json-report-file=-`
// (spec.md §4.5, SPEC_FULL.md §4.10), reading pass/fail counts from the
// report and a coverage percentage from a sibling coverage.json when
// present. Invoke records workDir so the later Parse call (made generically
// through the ToolAdapter interface) can locate coverage.json without a
// wider interface change.
type PytestAdapter struct {
	workDir string
}

func NewPytestAdapter() *PytestAdapter { return &PytestAdapter{} }

func (PytestAdapter) Name() string { return "pytest" }

func (a *PytestAdapter) Invoke(ctx context.Context, workDir string, timeout time.Duration) (RawResult, error) {
	a.workDir = workDir
	return runTool(ctx, workDir, timeout, "pytest", "--json-report", "--json-report-file=-", "-q")
}

func (a *PytestAdapter) Parse(raw RawResult) (ToolSummary, error) {
	if !gjson.Valid(raw.Stdout) {
		return ToolSummary{}, fmt.Errorf("pytest: invalid JSON output")
	}
	report := gjson.Parse(raw.Stdout)
	summary := report.Get("summary")

	passed := int(summary.Get("passed").Int())
	failed := int(summary.Get("failed").Int())
	total := int(summary.Get("total").Int())

	rate := 0.0
	if passed+failed > 0 {
		// pass_rate = passed / (passed + failed), ignoring skipped tests
		// (spec.md §4.5 Normalization).
		rate = float64(passed) / float64(passed+failed)
	}

	result := ToolSummary{
		Tool:     "pytest",
		Passed:   passed,
		Failed:   failed,
		Total:    total,
		PassRate: rate,
	}

	if data, err := os.ReadFile(filepath.Join(a.workDir, "coverage.json")); err == nil {
		var cov struct {
			Totals struct {
				PercentCovered float64 `json:"percent_covered"`
			} `json:"totals"`
		}
		if json.Unmarshal(data, &cov) == nil {
			result.CoveragePercent = cov.Totals.PercentCovered
		}
	}

	return result, nil
}
