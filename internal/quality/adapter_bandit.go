package quality

import (
	"context"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// BanditAdapter drives `bandit -r -f json` (spec.md §4.5, SPEC_FULL.md
// §4.10), bucketing results[].issue_severity into high/medium/low.
type BanditAdapter struct{}

func (BanditAdapter) Name() string { return "bandit" }

func (BanditAdapter) Invoke(ctx context.Context, workDir string, timeout time.Duration) (RawResult, error) {
	return runTool(ctx, workDir, timeout, "bandit", "-r", "-f", "json", ".")
}

func (BanditAdapter) Parse(raw RawResult) (ToolSummary, error) {
	if !gjson.Valid(raw.Stdout) {
		return ToolSummary{}, fmt.Errorf("bandit: invalid JSON output")
	}
	summary := ToolSummary{Tool: "bandit"}
	for _, issue := range gjson.Parse(raw.Stdout).Get("results").Array() {
		switch issue.Get("issue_severity").String() {
		case "HIGH":
			summary.High++
		case "MEDIUM":
			summary.Medium++
		case "LOW":
			summary.Low++
		}
	}
	return summary, nil
}
