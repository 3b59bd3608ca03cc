// Package exec implements the executor core (spec §4.E): a single-threaded
// cooperative dispatch loop over a Plan's nodes, submitting ready work to a
// named Runner and reaping completions to release waiting consumers.
// Grounded on original_source/orco/executor.py and
// original_source/orco/localexecutor.py for the exclusivity/reaping control
// flow, and on other_examples/manifests/steveyegge-beads for the
// golang.org/x/sync/semaphore-bounded worker pool idiom.
package exec

import (
	"context"

	"github.com/spirali/orco/internal/builder"
	"github.com/spirali/orco/internal/plan"
	"github.com/spirali/orco/internal/store"
	"github.com/spirali/orco/pkg/logging"
	"golang.org/x/sync/semaphore"
)

// WorkItem is one ready PlanNode handed to a Runner.
type WorkItem struct {
	Node *plan.PlanNode
}

// WorkResult is a Runner's report of one WorkItem's outcome (spec §4.E
// "Runner.submit(...) -> future", resolved here instead of
// Error(exception, traceback)/Timeout(seconds) as a single Err field typed
// via pkg/errors.Kind).
type WorkResult struct {
	Key      string
	JobID    int64
	Err      error
	CompTime float64
}

// Runner dispatches WorkItems to workers and reports their outcome on the
// returned channel. The channel is always buffered so Submit never blocks
// the dispatch loop (spec §5 "the loop never blocks on a single job"), and
// exactly one value is always sent on it.
type Runner interface {
	Name() string
	Submit(ctx context.Context, item WorkItem) <-chan WorkResult
}

// LocalRunner is the default "local" runner (spec §4.E paragraph 1): an
// in-process goroutine pool standing in for the original's OS process
// pool. Builders here are in-process Go functions rather than externally
// pickled callables, so there is no cross-process value-passing boundary
// for a process pool to cross — documented as an Open Question resolution
// in DESIGN.md. Non-exclusive concurrency is bounded by a weighted
// semaphore; exclusive nodes are never handed to more than one LocalRunner
// worker at a time by construction (the Dispatcher only ever submits one
// exclusive node while exclusiveMode is set).
type LocalRunner struct {
	Store    store.Store
	Registry *builder.Registry
	Logger   logging.Logger
	sem      *semaphore.Weighted
}

// NewLocalRunner builds a LocalRunner with the given non-exclusive
// concurrency capacity (spec §5: "default: host CPU count").
func NewLocalRunner(st store.Store, reg *builder.Registry, logger logging.Logger, capacity int) *LocalRunner {
	if capacity < 1 {
		capacity = 1
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &LocalRunner{Store: st, Registry: reg, Logger: logger, sem: semaphore.NewWeighted(int64(capacity))}
}

func (r *LocalRunner) Name() string { return "local" }

func (r *LocalRunner) Submit(ctx context.Context, item WorkItem) <-chan WorkResult {
	out := make(chan WorkResult, 1)
	go func() {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			out <- WorkResult{Key: item.Node.Key, Err: err}
			return
		}
		defer r.sem.Release(1)
		out <- runWorker(ctx, r.Store, r.Registry, r.Logger, item.Node)
	}()
	return out
}
