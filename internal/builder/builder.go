// Package builder implements the builder registry (spec §4.C): named
// producers of values, re-specified per the spec's Design Note as an
// explicit two-method interface (Dependencies/Compute) with an explicit
// DepContext replacing the original's thread-local "on-new-job" hook.
// Grounded on original_source/orco/builder.py (job_setup derivation rules)
// and original_source/orco/jobfunctions.py (attach_object/attach_text/
// attach_file/attach_directory naming), re-expressed without pickling or
// generator-suspension sugar.
package builder

import (
	"github.com/spirali/orco/internal/store"
	"github.com/spirali/orco/internal/value"
)

// JobRef names a dependency: another builder invoked with a config.
type JobRef struct {
	Builder string
	Config  value.Value
}

// Handle is a resolved dependency as seen from inside Compute. The concrete
// implementation (backed by the store) is supplied by internal/exec at
// dispatch time; this package only depends on the shape.
type Handle interface {
	Key() string
	JobID() int64
	Value() (value.Value, error)
	AttachedNames() ([]string, error)
	Attached(name string) (data []byte, mime string, err error)
}

// Builder is the two-phase protocol of spec §4.C/§9: Dependencies runs
// first and may only emit JobRefs through ctx; Compute then runs with the
// resolved Handles for every emitted ref.
type Builder interface {
	// Dependencies declares this job's predecessors. Must not perform
	// side effects beyond ctx.Emit.
	Dependencies(cfg value.Value, ctx *DepContext) error

	// Compute runs the job's full computation. resolved is keyed by each
	// emitted JobRef's canonical key (internal/key.Canonical(ref.Builder,
	// ref.Config)).
	Compute(cfg value.Value, resolved map[string]Handle, cctx *ComputeContext) (value.Value, error)
}

// DepContext collects JobRefs emitted during the dependency phase (spec
// §9: "explicit context object... no hidden global state").
type DepContext struct {
	refs []JobRef
}

// Emit records a dependency on another builder's job.
func (c *DepContext) Emit(ref JobRef) {
	c.refs = append(c.refs, ref)
}

// Refs returns the emitted references in emission order.
func (c *DepContext) Refs() []JobRef {
	return c.refs
}

// JobSetupFunc derives a job_setup descriptor from a job's config, for
// builders that vary runner/timeout/exclusivity/relay per invocation.
type JobSetupFunc func(cfg value.Value) (store.JobSetup, error)

// Registration is one entry of the Registry.
type Registration struct {
	Name     string
	Builder  Builder // nil for a Frozen builder
	setup    store.JobSetup
	setupFn  JobSetupFunc
}

// Frozen reports whether this registration has no callable: the planner
// must find an existing Finished job for it, per spec §4.C ("Frozen
// builders have no callable").
func (r *Registration) Frozen() bool {
	return r.Builder == nil
}

// JobSetup derives this registration's job_setup for the given config
// (spec §4.C "job_setup derivation": static descriptor, callable returning
// a descriptor, or plain runner name — the plain-runner-name case is
// handled by callers constructing a Registration with WithRunner, which
// sets a static descriptor with only Runner populated).
func (r *Registration) JobSetup(cfg value.Value) (store.JobSetup, error) {
	if r.setupFn != nil {
		return r.setupFn(cfg)
	}
	return r.setup, nil
}
