// Package stage defines the fixed 13-stage registry and the external
// stage-handler contract (spec.md §4.3, §6). The engine treats handlers
// opaquely: it only relies on the capability set {Execute, Describe,
// IsIndependent} and the declared input/output paths used for dependency
// and independence analysis (spec.md §9).
package stage

import (
	"context"
	"time"

	"github.com/randalmurphal/orc-change/internal/config"
)

// Count is the fixed number of stages (spec.md §3: index ∈ [0,12]).
const Count = 13

// ParallelWindowStart and ParallelWindowEnd bound the indices that may
// participate in a parallel group (spec.md §4.3: "Only handlers in the
// index range [2..6] may claim independence").
const (
	ParallelWindowStart = 2
	ParallelWindowEnd   = 6
)

// InParallelWindow reports whether idx is eligible for parallel dispatch.
func InParallelWindow(idx int) bool {
	return idx >= ParallelWindowStart && idx <= ParallelWindowEnd
}

// Names are the 13 fixed, stable stage names (spec.md §4.3).
var Names = [Count]string{
	0:  "initialize-todos",
	1:  "version-bump",
	2:  "proposal-review",
	3:  "capability-spec",
	4:  "task-breakdown",
	5:  "implementation-checklist",
	6:  "script-generation",
	7:  "document-review",
	8:  "implement",
	9:  "validate",
	10: "integration-test",
	11: "final-verification",
	12: "archive-finalize",
}

// DefaultTimeouts gives each stage a sensible per-stage timeout, bounded
// further by the lane's remaining SLA budget at dispatch time (spec.md
// §4.1: "Deadline = min(stage_timeout, remaining_sla_budget)").
var DefaultTimeouts = [Count]time.Duration{
	0: 30 * time.Second, 1: 30 * time.Second,
	2: 120 * time.Second, 3: 180 * time.Second, 4: 120 * time.Second,
	5: 120 * time.Second, 6: 240 * time.Second,
	7: 120 * time.Second, 8: 300 * time.Second, 9: 300 * time.Second,
	10: 300 * time.Second, 11: 180 * time.Second, 12: 60 * time.Second,
}

// Context is the value every handler is invoked with (spec.md §6).
type Context struct {
	ChangeID    string
	Lane        config.Lane
	StageIndex  int
	ChangeDir   string
	Deadline    time.Time
	DryRun      bool
	ReleaseType config.ReleaseType
	Recoverable bool // marks a Recoverable pre-step hook failure; the engine runs no pre-step hooks and never sets it
}

// HandlerStatus is the handler-reported outcome (spec.md §6).
type HandlerStatus string

const (
	StatusOK     HandlerStatus = "ok"
	StatusFailed HandlerStatus = "failed"
)

// Result is what a handler returns (spec.md §6).
type Result struct {
	Status     HandlerStatus
	Error      error
	Outputs    []string
	LogExcerpt string
}

// Metadata describes a handler's declared contract surface, used for
// acyclicity checking and independence verification (spec.md §9).
type Metadata struct {
	Index   int
	Name    string
	Timeout time.Duration
	// Inputs are paths this handler reads beyond change.dir/change.meta:
	// outputs of earlier stages it depends on.
	Inputs []string
	// Outputs are paths this handler writes under ctx.ChangeDir.
	Outputs []string
}

// Handler is the capability set every stage handler implements (spec.md
// §4.3). Handlers are external collaborators in the full system (e.g. a
// markdown template renderer); the engine only depends on this interface.
type Handler interface {
	Execute(ctx context.Context, sctx Context) (*Result, error)
	Describe() Metadata
	// IsIndependent reports whether this handler claims independence from
	// its siblings in the same parallel group (spec.md §4.3). Only
	// meaningful for indices in the parallel window; the engine verifies
	// the claim against declared inputs/outputs before trusting it.
	IsIndependent() bool
}

// Registry holds the fixed, ordered vector of handlers indexed by stage
// index (spec.md §9: "dynamic dispatch over 13 heterogeneous handlers...
// the registry is an ordered vector indexed by stage index").
type Registry struct {
	handlers [Count]Handler
}

// NewRegistry builds an empty registry; Register must be called once per
// index before the registry is used.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register installs h at its declared index. Panics on a duplicate or
// out-of-range registration: this is a programmer error, not a runtime
// condition (spec.md §9: "panics reserved for programmer errors").
func (r *Registry) Register(h Handler) {
	idx := h.Describe().Index
	if idx < 0 || idx >= Count {
		panic("stage: handler index out of range")
	}
	if r.handlers[idx] != nil {
		panic("stage: duplicate handler registration for index")
	}
	r.handlers[idx] = h
}

// Get returns the handler at idx, or nil if unregistered.
func (r *Registry) Get(idx int) Handler {
	if idx < 0 || idx >= Count {
		return nil
	}
	return r.handlers[idx]
}

// Complete reports whether every index [0,Count) has a registered handler.
func (r *Registry) Complete() bool {
	for _, h := range r.handlers {
		if h == nil {
			return false
		}
	}
	return true
}

// All returns the handlers in index order.
func (r *Registry) All() []Handler {
	out := make([]Handler, 0, Count)
	for _, h := range r.handlers {
		if h != nil {
			out = append(out, h)
		}
	}
	return out
}
