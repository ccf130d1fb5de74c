// Package quality implements Quality Gates (spec.md §4.5): driving
// external code-quality tools, normalizing their output, and evaluating
// the lane's threshold policy against the result.
package quality

import (
	"context"
	"time"

	"github.com/randalmurphal/orc-change/internal/config"
)

// RawResult is a tool invocation's unparsed output (spec.md §4.5).
type RawResult struct {
	ExitCode   int
	Stdout     string
	Stderr     string
	DurationMs int64
	// ToolError marks a tool that failed to execute at all (binary
	// missing, non-zero startup): treated as gate FAIL fail-closed
	// (spec.md §4.5) regardless of threshold evaluation.
	ToolError bool
}

// ToolSummary is one tool's normalized contribution to quality_metrics.json
// (spec.md §3). Only the fields relevant to the tool are populated; the
// rest are left at their zero value.
type ToolSummary struct {
	Tool            string
	Errors          int
	PassRate        float64
	CoveragePercent float64
	Total           int
	Passed          int
	Failed          int
	High            int
	Medium          int
	Low             int
}

// metric returns the named threshold metric's value from this summary.
func (s ToolSummary) metric(name string) (float64, bool) {
	switch name {
	case s.Tool + ".errors":
		return float64(s.Errors), true
	case s.Tool + ".pass_rate":
		return s.PassRate, true
	case s.Tool + ".coverage_percent":
		return s.CoveragePercent, true
	case s.Tool + ".high":
		return float64(s.High), true
	default:
		return 0, false
	}
}

// ToolAdapter drives one external quality tool (spec.md §4.5 Tool contract),
// grounded in the teacher's QualityCheckRunner
// (internal/executor/quality_checks.go) pattern of shelling a command under
// a timeout and capturing its stdout and stderr.
type ToolAdapter interface {
	Name() string
	Invoke(ctx context.Context, workDir string, timeout time.Duration) (RawResult, error)
	Parse(RawResult) (ToolSummary, error)
}

// AggregateResult is the overall gate outcome (spec.md §3).
type AggregateResult string

const (
	ResultPass    AggregateResult = "PASS"
	ResultFail    AggregateResult = "FAIL"
	ResultSkipped AggregateResult = "SKIPPED"
)

// Metrics is the full quality_metrics.json document (spec.md §3).
type Metrics struct {
	Lane            config.Lane              `json:"lane"`
	GatesEnabled    bool                     `json:"gates_enabled"`
	Tools           map[string]ToolSummary   `json:"tools"`
	AggregateResult AggregateResult          `json:"aggregate_result"`
	Reasons         []string                 `json:"reasons"`
}

// Skipped builds the disabled/skipped-gates metrics document (spec.md §3:
// "when gates_enabled=false, aggregate_result=SKIPPED and all tool entries
// are null").
func Skipped(lane config.Lane, reasons ...string) Metrics {
	return Metrics{
		Lane:            lane,
		GatesEnabled:    false,
		Tools:           nil,
		AggregateResult: ResultSkipped,
		Reasons:         reasons,
	}
}

// Run invokes every adapter, parses its output, and evaluates the lane's
// thresholds against the combined tool summaries (spec.md §4.5). A tool
// invocation error or RawResult.ToolError forces AggregateResult=FAIL
// (fail-closed) regardless of threshold values, unless skipGates is true.
func Run(ctx context.Context, adapters []ToolAdapter, workDir string, toolTimeout time.Duration, profile *config.LaneProfile, skipGates bool) Metrics {
	if !profile.QualityGatesEnabled {
		return Skipped(profile.Lane)
	}
	if skipGates {
		m := Skipped(profile.Lane, "operator_skip")
		m.GatesEnabled = true
		return m
	}

	tools := make(map[string]ToolSummary, len(adapters))
	var reasons []string
	toolError := false

	for _, a := range adapters {
		raw, err := a.Invoke(ctx, workDir, toolTimeout)
		if err != nil || raw.ToolError {
			toolError = true
			reasons = append(reasons, a.Name()+": tool_error")
			continue
		}
		summary, perr := a.Parse(raw)
		if perr != nil {
			toolError = true
			reasons = append(reasons, a.Name()+": parse_error: "+perr.Error())
			continue
		}
		tools[a.Name()] = summary
	}

	result := ResultPass
	if toolError {
		result = ResultFail
	}
	for _, th := range profile.Thresholds {
		tool, _, _ := splitMetric(th.Metric)
		summary, ok := tools[tool]
		if !ok {
			continue
		}
		actual, ok := summary.metric(th.Metric)
		if !ok {
			continue
		}
		if !th.Evaluate(actual) {
			result = ResultFail
			reasons = append(reasons, th.Metric+" failed threshold")
		}
	}

	return Metrics{
		Lane:            profile.Lane,
		GatesEnabled:    true,
		Tools:           tools,
		AggregateResult: result,
		Reasons:         reasons,
	}
}

// splitMetric splits "tool.metric" into its tool prefix; used only to
// index into the per-tool summary map before calling ToolSummary.metric.
func splitMetric(metric string) (tool, rest string, ok bool) {
	for i := 0; i < len(metric); i++ {
		if metric[i] == '.' {
			return metric[:i], metric[i+1:], true
		}
	}
	return metric, "", false
}
