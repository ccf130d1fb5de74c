// Package parallel implements the Parallel Executor (spec.md §4.4): a
// bounded worker pool that dispatches a candidate parallel group of stage
// tasks concurrently via golang.org/x/sync/errgroup, while preserving the
// engine's stage-index commit ordering regardless of completion order.
package parallel

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/orc-change/internal/stage"
)

// Task is one stage dispatched to the pool.
type Task struct {
	Handler stage.Handler
	Context stage.Context
}

// Outcome classifies a task's result from the executor's point of view,
// distinct from stage.HandlerStatus: TIMEOUT and SKIPPED are imposed by the
// pool, not reported by the handler itself (spec.md §4.4).
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeFailed  Outcome = "failed"
	OutcomeTimeout Outcome = "timeout"
	OutcomeSkipped Outcome = "skipped"
)

// TaskResult pairs a Task's stage index with its outcome, so the caller
// can commit checkpoints in stage-index order after Run returns (spec.md
// §4.4: "commit order follows stage index, not completion order").
type TaskResult struct {
	Index   int
	Result  *stage.Result
	Err     error
	Outcome Outcome
}

// Options bounds pool behavior (spec.md §4.4 and §3 EngineConfig.Parallel).
type Options struct {
	// Workers is the pool size, clamped to [1,8] by config.Normalize.
	Workers int
	// GracePeriod is added to each task's deadline before hard
	// cancellation, giving a handler a chance to return a partial result
	// (spec.md §4.4: "per-task timeout with a grace period, default 2s").
	GracePeriod time.Duration
	// CancelOnFirstError stops dispatching further tasks and cancels the
	// in-flight ones as soon as one task fails (spec.md §4.4).
	CancelOnFirstError bool
}

// Run dispatches tasks across a bounded worker pool and returns their
// results sorted by stage index (spec.md §4.4, §9: "ordered commit despite
// unordered completion"). Tasks must already have been verified independent
// by stage.VerifyIndependence; Run does not re-check that invariant.
func Run(ctx context.Context, tasks []Task, opts Options) []TaskResult {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var mu sync.Mutex
	results := make([]TaskResult, 0, len(tasks))

	for _, t := range tasks {
		t := t
		g.Go(func() error {
			// A sibling's failure may have already canceled gctx before this
			// task's turn came up under the worker limit; such a task never
			// runs at all and is recorded SKIPPED, not FAILED (spec.md §4.4:
			// "cancel_on_first_error=true marks remaining queued tasks
			// SKIPPED").
			if opts.CancelOnFirstError && gctx.Err() != nil {
				mu.Lock()
				results = append(results, TaskResult{Index: t.Context.StageIndex, Err: gctx.Err(), Outcome: OutcomeSkipped})
				mu.Unlock()
				return nil
			}

			taskCtx := gctx
			var cancel context.CancelFunc
			if !t.Context.Deadline.IsZero() {
				deadline := t.Context.Deadline
				if opts.GracePeriod > 0 {
					deadline = deadline.Add(opts.GracePeriod)
				}
				taskCtx, cancel = context.WithDeadline(gctx, deadline)
				defer cancel()
			}

			res, err := t.Handler.Execute(taskCtx, t.Context)

			outcome := OutcomeOK
			switch {
			case err != nil && errors.Is(taskCtx.Err(), context.DeadlineExceeded):
				// A handler that exceeds its timeout by <= grace period
				// still reports here as an error from Execute returning; it
				// is TIMEOUT, never COMPLETED (spec.md §8).
				outcome = OutcomeTimeout
			case err != nil:
				outcome = OutcomeFailed
			case res != nil && res.Status == stage.StatusFailed:
				outcome = OutcomeFailed
			}

			mu.Lock()
			results = append(results, TaskResult{Index: t.Context.StageIndex, Result: res, Err: err, Outcome: outcome})
			mu.Unlock()

			if opts.CancelOnFirstError && outcome != OutcomeOK {
				if err != nil {
					return err
				}
				return errors.New("stage reported failed")
			}
			return nil
		})
	}

	// errgroup's first returned error cancels gctx for remaining workers;
	// the error itself is already captured per-task in results above, so
	// it is discarded here rather than propagated a second time.
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	return results
}

// AnyFailed reports whether any result in results failed.
func AnyFailed(results []TaskResult) bool {
	for _, r := range results {
		if r.Err != nil || (r.Result != nil && r.Result.Status == stage.StatusFailed) {
			return true
		}
	}
	return false
}
