// Package orco is the facade spec.md calls a Runtime: it wires the builder
// registry, the persistent store, the planner, and the executor core into
// the single-threaded compute/compute_many API of spec §4.D. Grounded on
// original_source/orco/api.py's Runtime/compute/compute_many shape, with
// the 1-second "lost the announce race" backoff realized via
// github.com/cenkalti/backoff/v4 (SPEC_FULL.md §4.D) instead of a bare
// time.Sleep.
package orco

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/spirali/orco/internal/builder"
	"github.com/spirali/orco/internal/exec"
	"github.com/spirali/orco/internal/key"
	"github.com/spirali/orco/internal/plan"
	"github.com/spirali/orco/internal/store"
	"github.com/spirali/orco/internal/value"
	"github.com/spirali/orco/pkg/config"
	orcoerr "github.com/spirali/orco/pkg/errors"
	"github.com/spirali/orco/pkg/logging"
	"github.com/spirali/orco/pkg/metrics"
)

// Runtime owns one store connection, one builder registry, and the named
// Runners compute/compute_many dispatch work to (spec §4.E "a compute
// session owns one Executor; the Executor owns a map of named Runners").
// A Runtime is not safe for concurrent compute/compute_many calls from
// multiple goroutines (spec §5: "users serialize at the Runtime").
type Runtime struct {
	store    store.Store
	registry *builder.Registry
	runners  map[string]exec.Runner
	logger   logging.Logger
	metrics  metrics.Collector
	cfg      *config.Config
}

// Option configures a Runtime at Open time.
type Option func(*Runtime)

// WithLogger overrides the Runtime's logger (default: NewLogger from cfg).
func WithLogger(l logging.Logger) Option {
	return func(rt *Runtime) { rt.logger = l }
}

// WithMetricsCollector overrides the Runtime's metrics collector (default:
// metrics.NoOpCollector).
func WithMetricsCollector(c metrics.Collector) Option {
	return func(rt *Runtime) { rt.metrics = c }
}

// WithRunner registers an additional named Runner (spec §4.E "Additional
// runners (e.g., cluster submission) may be registered under other
// names"). Passing name "local" replaces the default local runner.
func WithRunner(name string, r exec.Runner) Option {
	return func(rt *Runtime) { rt.runners[name] = r }
}

// Open opens the store at cfg.StoreURL, initializes its schema, drops any
// rows left Announced/Running by a crashed peer, and returns a ready
// Runtime. drop_unfinished_jobs runs unconditionally here rather than on
// separate operator request (Open Question resolution, DESIGN.md).
func Open(cfg *config.Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.NewLogger(&logging.Config{
		Level:   cfg.LogLevel,
		Format:  logging.FormatText,
		Output:  os.Stdout,
		Version: "dev",
	})

	st, err := store.Open(cfg.StoreURL, logger)
	if err != nil {
		return nil, err
	}
	ctx := context.Background()
	if err := st.Init(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	dropped, err := st.DropUnfinishedJobs(ctx)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	if dropped > 0 {
		logger.Info("dropped unfinished jobs from a prior crash", "count", dropped)
	}

	rt := &Runtime{
		store:    st,
		registry: builder.NewRegistry(),
		runners:  make(map[string]exec.Runner),
		logger:   logger,
		metrics:  metrics.NoOpCollector{},
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(rt)
	}
	if _, ok := rt.runners["local"]; !ok {
		poolSize := cfg.PoolSize
		if poolSize <= 0 {
			poolSize = runtime.NumCPU()
		}
		rt.runners["local"] = exec.NewLocalRunner(st, rt.registry, logger, poolSize)
	}
	return rt, nil
}

// Close releases the Runtime's store connection.
func (rt *Runtime) Close() error { return rt.store.Close() }

// Registry returns the builder registry builders are registered against.
func (rt *Runtime) Registry() *builder.Registry { return rt.registry }

// Register binds name to b in this Runtime's registry (spec §4.C).
func (rt *Runtime) Register(name string, b builder.Builder, opts ...builder.Option) {
	rt.registry.Register(name, b, opts...)
}

// Metrics exposes the Runtime's metrics collector for reporting surfaces.
func (rt *Runtime) Metrics() metrics.Collector { return rt.metrics }

// Logger exposes the Runtime's logger for reporting surfaces (e.g. the
// serve command's httpapi.Server).
func (rt *Runtime) Logger() logging.Logger { return rt.logger }

// Store exposes the underlying Store for callers needing the read-only
// surfaces of spec §4.B/§6 (drop/archive/free/drop-builder, REST/CLI
// reporting) without routing them through compute.
func (rt *Runtime) Store() store.Store { return rt.store }

// Job names one compute request: a builder invoked with a config (spec
// §4.D "Jobs built by calling registered builders outside any active
// context").
type Job struct {
	Builder string
	Config  value.Value
}

// Result is one compute_many outcome (spec §8 scenario 3's Ok/Err result
// vector).
type Result struct {
	Key   string
	ID    int64
	Value value.Value
	Err   error
}

// Compute resolves a single job to its value, recomputing only if
// necessary (spec §4.D/§8 P1 idempotence). It is compute_many with one job
// and continue_on_error=false, so a job failure is returned directly
// (spec's JobFailedException).
func (rt *Runtime) Compute(ctx context.Context, builderName string, cfg value.Value) (value.Value, error) {
	results, err := rt.ComputeMany(ctx, []Job{{Builder: builderName, Config: cfg}}, false)
	if err != nil {
		return value.Value{}, err
	}
	return results[0].Value, results[0].Err
}

// ComputeMany runs the plan lifecycle of spec §4.D to completion for every
// job in jobs: build, announce, execute, retrying on lost announce races
// or unresolved peer conflicts until a round produces neither new work nor
// conflicts. In continueOnError mode a job that transitively depends on a
// failure is reported as an Err result rather than aborting the others
// (spec §8 P6); otherwise the first job failure aborts the whole call.
func (rt *Runtime) ComputeMany(ctx context.Context, jobs []Job, continueOnError bool) ([]Result, error) {
	requests := make([]plan.JobRequest, len(jobs))
	for i, j := range jobs {
		requests[i] = plan.JobRequest{Builder: j.Builder, Config: j.Config}
	}

	resolvedIDs := make(map[string]int64)
	erroredKeys := make(map[string]bool)
	pl := plan.NewPlanner(rt.store, rt.registry, rt.logger)
	bo := backoff.NewConstantBackOff(time.Second)

	for {
		pl.KnownErrors = erroredKeys
		p, err := pl.Build(ctx, requests)
		if err != nil {
			return nil, err
		}
		for k, id := range p.ExistingJobIDs {
			if _, seen := resolvedIDs[k]; !seen {
				rt.metrics.RecordCacheHit(k)
			}
			resolvedIDs[k] = id
		}
		for k := range p.Nodes {
			rt.metrics.RecordCacheMiss(k)
		}

		if p.IsEmpty() {
			if len(p.Conflicts) == 0 {
				break
			}
			if err := sleepBackoff(ctx, bo); err != nil {
				return nil, err
			}
			continue
		}

		ids, ok, err := rt.store.AnnouncePlan(ctx, p.AnnounceNodes())
		if err != nil {
			return nil, err
		}
		if !ok {
			rt.logger.Debug("lost announce race, retrying plan")
			if err := sleepBackoff(ctx, bo); err != nil {
				return nil, err
			}
			continue
		}
		p.AssignIDs(ids)

		dispatcher := exec.NewDispatcher(rt.store, rt.runners, rt.logger)
		dispatcher.Metrics = rt.metrics
		res, err := dispatcher.Run(ctx, p, continueOnError)
		if err != nil {
			// The dispatcher has already unannounced this plan's pending
			// nodes (internal/exec/executor.go abort); existing_job_ids
			// resolved before the failure remain valid (spec §4.D
			// "plan.reattach_existing_ids(); re-raise").
			return nil, err
		}
		for k, id := range res.ResolvedIDs {
			resolvedIDs[k] = id
		}
		for k := range res.ErrorKeys {
			erroredKeys[k] = true
		}

		if len(p.Conflicts) == 0 {
			break
		}
		if err := sleepBackoff(ctx, bo); err != nil {
			return nil, err
		}
	}

	out := make([]Result, len(jobs))
	for i, req := range requests {
		k := key.Canonical(req.Builder, req.Config)
		out[i].Key = k

		if erroredKeys[k] {
			out[i].Err = orcoerr.New(orcoerr.KindJobFailed, fmt.Sprintf("job %s failed or depends on a failed job", k))
			continue
		}
		id, ok := resolvedIDs[k]
		if !ok {
			out[i].Err = orcoerr.New(orcoerr.KindUnknown, fmt.Sprintf("job %s did not resolve to a final state", k))
			continue
		}
		out[i].ID = id
		blob, err := rt.store.GetBlob(ctx, id, nil)
		if err != nil {
			out[i].Err = err
			continue
		}
		if blob == nil {
			continue // no primary value recorded for this job
		}
		v, err := value.DecodeGob(blob.Data)
		if err != nil {
			out[i].Err = err
			continue
		}
		out[i].Value = v
	}

	if !continueOnError {
		for _, r := range out {
			if r.Err != nil {
				return out, r.Err
			}
		}
	}
	return out, nil
}

// sleepBackoff waits one backoff interval, or returns ctx's error if it is
// cancelled first (spec §4.D "sleep 1s; continue", bounded by the caller's
// context rather than a fixed retry count).
func sleepBackoff(ctx context.Context, bo backoff.BackOff) error {
	d := bo.NextBackOff()
	if d == backoff.Stop {
		return orcoerr.New(orcoerr.KindAnnounceConflict, "backoff exhausted waiting for a peer to resolve a conflicting job")
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
