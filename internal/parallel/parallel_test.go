package parallel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/randalmurphal/orc-change/internal/stage"
)

type slowHandler struct {
	index int
	delay time.Duration
	fail  bool
}

func (h *slowHandler) Execute(ctx context.Context, sctx stage.Context) (*stage.Result, error) {
	select {
	case <-time.After(h.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if h.fail {
		return &stage.Result{Status: stage.StatusFailed}, errors.New("boom")
	}
	return &stage.Result{Status: stage.StatusOK}, nil
}
func (h *slowHandler) Describe() stage.Metadata { return stage.Metadata{Index: h.index} }
func (h *slowHandler) IsIndependent() bool      { return true }

func TestRunOrdersResultsByStageIndex(t *testing.T) {
	tasks := []Task{
		{Handler: &slowHandler{index: 6, delay: 5 * time.Millisecond}, Context: stage.Context{StageIndex: 6}},
		{Handler: &slowHandler{index: 2, delay: 20 * time.Millisecond}, Context: stage.Context{StageIndex: 2}},
		{Handler: &slowHandler{index: 4, delay: 1 * time.Millisecond}, Context: stage.Context{StageIndex: 4}},
	}

	results := Run(context.Background(), tasks, Options{Workers: 3})
	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	for i, r := range results {
		want := []int{2, 4, 6}[i]
		if r.Index != want {
			t.Errorf("results[%d].Index = %d, want %d", i, r.Index, want)
		}
	}
}

func TestRunCancelOnFirstError(t *testing.T) {
	tasks := []Task{
		{Handler: &slowHandler{index: 2, delay: time.Millisecond, fail: true}, Context: stage.Context{StageIndex: 2}},
		{Handler: &slowHandler{index: 3, delay: 200 * time.Millisecond}, Context: stage.Context{StageIndex: 3}},
	}

	results := Run(context.Background(), tasks, Options{Workers: 2, CancelOnFirstError: true})
	if !AnyFailed(results) {
		t.Fatal("expected at least one failed result")
	}
}

func TestRunRespectsDeadline(t *testing.T) {
	tasks := []Task{
		{
			Handler: &slowHandler{index: 2, delay: 50 * time.Millisecond},
			Context: stage.Context{StageIndex: 2, Deadline: time.Now().Add(5 * time.Millisecond)},
		},
	}
	results := Run(context.Background(), tasks, Options{Workers: 1})
	if results[0].Err == nil {
		t.Error("expected deadline-exceeded error")
	}
}

// TestRunDistinguishesTimeoutFromFailure ensures a handler that errors
// because its own deadline expired is classified OutcomeTimeout, never
// OutcomeFailed, while a handler that errors for any other reason within
// its deadline is OutcomeFailed (spec.md §4.4, §8).
func TestRunDistinguishesTimeoutFromFailure(t *testing.T) {
	tasks := []Task{
		{
			Handler: &slowHandler{index: 2, delay: 50 * time.Millisecond},
			Context: stage.Context{StageIndex: 2, Deadline: time.Now().Add(5 * time.Millisecond)},
		},
		{
			Handler: &slowHandler{index: 3, delay: time.Millisecond, fail: true},
			Context: stage.Context{StageIndex: 3},
		},
	}
	results := Run(context.Background(), tasks, Options{Workers: 2})
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if results[0].Outcome != OutcomeTimeout {
		t.Errorf("results[0].Outcome = %v, want %v", results[0].Outcome, OutcomeTimeout)
	}
	if results[1].Outcome != OutcomeFailed {
		t.Errorf("results[1].Outcome = %v, want %v", results[1].Outcome, OutcomeFailed)
	}
}

// TestRunWorkersExceedTaskCount confirms a pool sized larger than the
// number of tasks dispatches all of them without deadlock or duplication
// (spec.md §4.4: Workers clamps to [1,8] independent of task count).
func TestRunWorkersExceedTaskCount(t *testing.T) {
	tasks := []Task{
		{Handler: &slowHandler{index: 1, delay: time.Millisecond}, Context: stage.Context{StageIndex: 1}},
		{Handler: &slowHandler{index: 2, delay: time.Millisecond}, Context: stage.Context{StageIndex: 2}},
	}
	results := Run(context.Background(), tasks, Options{Workers: 8})
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	for _, r := range results {
		if r.Outcome != OutcomeOK {
			t.Errorf("results[index=%d].Outcome = %v, want %v", r.Index, r.Outcome, OutcomeOK)
		}
	}
}

// TestRunSingleWorkerMatchesSerialOrder confirms Workers: 1 still dispatches
// every task and preserves stage-index ordering in the result, the same
// guarantee the pool makes at any worker count (spec.md §8 round trip).
func TestRunSingleWorkerMatchesSerialOrder(t *testing.T) {
	tasks := []Task{
		{Handler: &slowHandler{index: 5, delay: 3 * time.Millisecond}, Context: stage.Context{StageIndex: 5}},
		{Handler: &slowHandler{index: 1, delay: time.Millisecond}, Context: stage.Context{StageIndex: 1}},
		{Handler: &slowHandler{index: 3, delay: 2 * time.Millisecond}, Context: stage.Context{StageIndex: 3}},
	}
	results := Run(context.Background(), tasks, Options{Workers: 1})
	want := []int{1, 3, 5}
	if len(results) != len(want) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(want))
	}
	for i, r := range results {
		if r.Index != want[i] {
			t.Errorf("results[%d].Index = %d, want %d", i, r.Index, want[i])
		}
		if r.Outcome != OutcomeOK {
			t.Errorf("results[%d].Outcome = %v, want %v", i, r.Outcome, OutcomeOK)
		}
	}
}

// countingHandler records whether Execute was ever invoked, so a test can
// assert a SKIPPED task's handler never ran at all (spec.md §4.4:
// cancel_on_first_error marks queued-but-not-started tasks SKIPPED without
// calling into them).
type countingHandler struct {
	index int
	delay time.Duration
	fail  bool
	ran   *int32
}

func (h *countingHandler) Execute(ctx context.Context, sctx stage.Context) (*stage.Result, error) {
	if h.ran != nil {
		atomic.AddInt32(h.ran, 1)
	}
	select {
	case <-time.After(h.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if h.fail {
		return &stage.Result{Status: stage.StatusFailed}, errors.New("boom")
	}
	return &stage.Result{Status: stage.StatusOK}, nil
}
func (h *countingHandler) Describe() stage.Metadata { return stage.Metadata{Index: h.index} }
func (h *countingHandler) IsIndependent() bool      { return true }

// TestRunCancelOnFirstErrorSkipsQueuedTasks pins a single worker so the
// failing task runs to completion and cancels gctx before the next queued
// task ever gets its turn; that task must come back SKIPPED, with its
// handler never invoked (spec.md §4.4).
func TestRunCancelOnFirstErrorSkipsQueuedTasks(t *testing.T) {
	var ran int32
	tasks := []Task{
		{Handler: &countingHandler{index: 1, delay: time.Millisecond, fail: true, ran: &ran}, Context: stage.Context{StageIndex: 1}},
		{Handler: &countingHandler{index: 2, delay: time.Millisecond, ran: &ran}, Context: stage.Context{StageIndex: 2}},
		{Handler: &countingHandler{index: 3, delay: time.Millisecond, ran: &ran}, Context: stage.Context{StageIndex: 3}},
	}
	results := Run(context.Background(), tasks, Options{Workers: 1, CancelOnFirstError: true})
	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	if results[0].Outcome != OutcomeFailed {
		t.Errorf("results[0].Outcome = %v, want %v", results[0].Outcome, OutcomeFailed)
	}
	for _, r := range results[1:] {
		if r.Outcome != OutcomeSkipped {
			t.Errorf("results[index=%d].Outcome = %v, want %v", r.Index, r.Outcome, OutcomeSkipped)
		}
	}
	if got := atomic.LoadInt32(&ran); got != 1 {
		t.Errorf("handlers invoked = %d, want 1 (only the failing task)", got)
	}
}
