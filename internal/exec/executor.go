package exec

import (
	"context"
	"fmt"
	"time"

	"github.com/spirali/orco/internal/plan"
	"github.com/spirali/orco/internal/store"
	orcoctx "github.com/spirali/orco/pkg/context"
	orcoerr "github.com/spirali/orco/pkg/errors"
	"github.com/spirali/orco/pkg/logging"
	"github.com/spirali/orco/pkg/metrics"
)

// abortCleanupTimeout bounds the UnannouncePlan call abort issues against a
// fresh context after the caller's own context may already be cancelled.
const abortCleanupTimeout = 5 * time.Second

// RunResult is the outcome of running every new node in a Plan: resolved
// ids for every key that reached Finished (including the plan's
// pre-existing predecessors), and, in continue-on-error mode, the set of
// keys that failed or were skipped because a dependency failed (spec §7
// "continue_on_error... downstream jobs dependent on it are not
// scheduled").
type RunResult struct {
	ResolvedIDs map[string]int64
	ErrorKeys   map[string]bool
}

// Dispatcher runs the single-threaded cooperative dispatch loop of spec
// §4.E over one Plan, submitting ready nodes to the Runner named by each
// node's job_setup.runner (default "local").
type Dispatcher struct {
	Store   store.Store
	Runners map[string]Runner
	Logger  logging.Logger
	// Metrics records job start/finish/error counts and durations (spec's
	// domain-stack metrics section); defaults to a no-op collector.
	Metrics metrics.Collector
}

// NewDispatcher wires runners keyed by name; a plan whose nodes don't name
// a runner uses "local".
func NewDispatcher(st store.Store, runners map[string]Runner, logger logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Dispatcher{Store: st, Runners: runners, Logger: logger, Metrics: metrics.NoOpCollector{}}
}

// Run executes p's new nodes to completion, or to first failure if
// continueOnError is false, per spec §4.D's plan-lifecycle "execute" step
// and §4.E's dispatch/reap loop.
func (d *Dispatcher) Run(ctx context.Context, p *plan.Plan, continueOnError bool) (*RunResult, error) {
	nodesByKey := p.Nodes
	result := &RunResult{
		ResolvedIDs: make(map[string]int64, len(p.ExistingJobIDs)+len(nodesByKey)),
		ErrorKeys:   make(map[string]bool),
	}
	for k, id := range p.ExistingJobIDs {
		result.ResolvedIDs[k] = id
	}
	if len(nodesByKey) == 0 {
		return result, nil
	}

	// Seed consumers/waitingDeps from each node's in-plan dependency edges
	// (spec §4.E dispatch-loop state).
	consumers := make(map[string][]string, len(nodesByKey))
	waitingDeps := make(map[string]int, len(nodesByKey))
	hasFailedDep := make(map[string]bool)
	for k, n := range nodesByKey {
		waitingDeps[k] = len(n.DependencyKeys)
		for _, dk := range n.DependencyKeys {
			consumers[dk] = append(consumers[dk], k)
		}
	}

	var unprocessed, unprocessedExclusives []*plan.PlanNode
	enqueue := func(n *plan.PlanNode) {
		if n.JobSetup.Exclusive {
			unprocessedExclusives = append(unprocessedExclusives, n)
		} else {
			unprocessed = append(unprocessed, n)
		}
	}
	for k, n := range nodesByKey {
		if waitingDeps[k] == 0 {
			enqueue(n)
		}
	}

	resultCh := make(chan WorkResult)
	inFlight := make(map[string]bool)
	exclusiveMode := false

	submit := func(n *plan.PlanNode) {
		inFlight[n.Key] = true
		d.Metrics.RecordJobStart(n.Builder)
		runnerName := n.JobSetup.Runner
		if runnerName == "" {
			runnerName = "local"
		}
		runner, ok := d.Runners[runnerName]
		if !ok {
			go func() {
				resultCh <- WorkResult{Key: n.Key, Err: orcoerr.New(orcoerr.KindInvalidConfig, fmt.Sprintf("no runner registered as %q", runnerName))}
			}()
			return
		}
		ch := runner.Submit(ctx, WorkItem{Node: n})
		go func() { resultCh <- <-ch }()
	}

	// dispatch realizes spec §4.E's exclusivity policy: while a node is
	// exclusive, nothing else is dispatched; when idle and the exclusive
	// queue is non-empty, exactly one exclusive node is dispatched and the
	// loop enters exclusive mode until it completes.
	dispatch := func() {
		if exclusiveMode {
			return
		}
		if len(unprocessedExclusives) > 0 && len(inFlight) == 0 {
			n := unprocessedExclusives[0]
			unprocessedExclusives = unprocessedExclusives[1:]
			submit(n)
			exclusiveMode = true
			return
		}
		for len(unprocessed) > 0 {
			n := unprocessed[0]
			unprocessed = unprocessed[1:]
			submit(n)
		}
	}

	// processSettled releases a settled node's consumers, propagating
	// hasFailedDep transitively so that every transitive dependent of a
	// failed key is marked as an error key rather than dispatched (spec §8
	// P6).
	var processSettled func(key string, failed bool)
	processSettled = func(key string, failed bool) {
		for _, c := range consumers[key] {
			if failed {
				hasFailedDep[c] = true
			}
			waitingDeps[c]--
			if waitingDeps[c] == 0 {
				if hasFailedDep[c] {
					result.ErrorKeys[c] = true
					processSettled(c, true)
				} else {
					enqueue(nodesByKey[c])
				}
			}
		}
	}

	dispatch()
	for len(inFlight) > 0 {
		r := <-resultCh
		delete(inFlight, r.Key)
		n := nodesByKey[r.Key]
		if n.JobSetup.Exclusive {
			exclusiveMode = false
		}
		if r.Err != nil {
			d.Metrics.RecordJobError(n.Builder, r.Err)
			if !continueOnError {
				d.abort(p, result)
				return nil, orcoerr.Wrap(orcoerr.KindJobFailed, fmt.Sprintf("job %s failed", r.Key), r.Err)
			}
			result.ErrorKeys[r.Key] = true
			processSettled(r.Key, true)
		} else {
			d.Metrics.RecordJobFinished(n.Builder, time.Duration(r.CompTime*float64(time.Second)))
			result.ResolvedIDs[r.Key] = r.JobID
			processSettled(r.Key, false)
		}
		dispatch()
	}
	return result, nil
}

// abort unannounces every node that never reached a terminal state, per
// spec §4.D's "except: store.unannounce_plan(plan)" handler (runs against
// a fresh context since ctx may be the caller's already-cancelled one;
// in-flight workers are abandoned rather than cooperatively cancelled, see
// internal/exec/worker.go).
func (d *Dispatcher) abort(p *plan.Plan, result *RunResult) {
	cleanupCtx, cancel := orcoctx.EnsureTimeout(context.Background(), abortCleanupTimeout)
	defer cancel()
	var pending []int64
	for k, n := range p.Nodes {
		if _, ok := result.ResolvedIDs[k]; ok {
			continue
		}
		if result.ErrorKeys[k] {
			continue // SetError already removed its announcement
		}
		pending = append(pending, n.ID)
	}
	if len(pending) == 0 {
		return
	}
	if err := d.Store.UnannouncePlan(cleanupCtx, pending); err != nil {
		wrapped := orcoctx.WrapContextError(err, "unannounce_plan", abortCleanupTimeout)
		logging.LogError(d.Logger, wrapped, "unannounce_plan")
	}
}
