// Package plan implements the planner (spec §4.D): given a set of
// requested jobs, it builds a DAG of not-yet-computed PlanNodes by walking
// each job's dependency phase, reconciling against the store's current
// state. Grounded on original_source/orco/internals/plan.py (PlanNode
// shape) and the visit() algorithm of spec.md §4.D.
package plan

import (
	"context"
	"fmt"

	"github.com/spirali/orco/internal/builder"
	"github.com/spirali/orco/internal/key"
	"github.com/spirali/orco/internal/store"
	"github.com/spirali/orco/internal/value"
	orcoerr "github.com/spirali/orco/pkg/errors"
	"github.com/spirali/orco/pkg/logging"
)

// JobRequest names a job by builder name and config, as built by calling a
// registered builder outside any active context (spec §4.D "Input").
type JobRequest struct {
	Builder string
	Config  value.Value
}

// PlanNode is one entry of not-yet-computed work (spec §4.D, grounded on
// original_source/orco/internals/plan.py's PlanNode).
type PlanNode struct {
	Builder          string
	Key              string
	Config           value.Value
	ConfigBytes      []byte
	JobSetup         store.JobSetup
	DependencyKeys   []string // edges to other nodes in this same plan
	DependencyJobIDs []int64  // edges to already-finished jobs outside the plan
	ID               int64    // assigned by AnnouncePlan once announced; 0 until then
}

// RequestResult is the resolution of one top-level JobRequest after
// Build(): either an already-finished job id, a new PlanNode, or neither
// (the key is in conflict or in the error set — the caller must retry).
type RequestResult struct {
	Key      string
	ID       int64     // > 0 if resolved to an existing Finished job
	Node     *PlanNode // non-nil if this is new work in the plan
	Resolved bool      // false if neither ID nor Node is set (conflict/error)
}

// Plan is the DAG built by one Build() call.
type Plan struct {
	Nodes          map[string]*PlanNode // by key
	ExistingJobIDs map[string]int64     // key -> id, already-finished predecessors
	Conflicts      map[string]bool      // keys found Announced/Running elsewhere
	ErrorKeys      map[string]bool      // keys that errored under continue_on_error
	Requests       []RequestResult      // resolution of the top-level requests, in request order
}

// IsEmpty reports whether the plan has no new work to announce.
func (p *Plan) IsEmpty() bool { return len(p.Nodes) == 0 }

// NodeOrder returns the plan's nodes in dependency order (predecessors
// before dependents), computed via a simple topological pass. Used by
// AnnounceNodes and by the executor to seed waiting_deps counts.
func (p *Plan) NodeOrder() []*PlanNode {
	visited := make(map[string]bool, len(p.Nodes))
	order := make([]*PlanNode, 0, len(p.Nodes))
	var visit func(n *PlanNode)
	visit = func(n *PlanNode) {
		if visited[n.Key] {
			return
		}
		visited[n.Key] = true
		for _, depKey := range n.DependencyKeys {
			if dep, ok := p.Nodes[depKey]; ok {
				visit(dep)
			}
		}
		order = append(order, n)
	}
	for _, n := range p.Nodes {
		visit(n)
	}
	return order
}

// AnnounceNodes renders the plan's nodes as store.AnnounceNode values, in
// dependency order, for Store.AnnouncePlan.
func (p *Plan) AnnounceNodes() []store.AnnounceNode {
	order := p.NodeOrder()
	out := make([]store.AnnounceNode, 0, len(order))
	for _, n := range order {
		out = append(out, store.AnnounceNode{
			Builder:          n.Builder,
			Key:              n.Key,
			ConfigBytes:      n.ConfigBytes,
			JobSetup:         n.JobSetup,
			DependencyKeys:   n.DependencyKeys,
			DependencyJobIDs: n.DependencyJobIDs,
		})
	}
	return out
}

// AssignIDs copies ids (keyed by node key, as returned by
// Store.AnnouncePlan) onto the plan's nodes.
func (p *Plan) AssignIDs(ids map[string]int64) {
	for k, n := range p.Nodes {
		if id, ok := ids[k]; ok {
			n.ID = id
		}
	}
}

// Planner builds Plans against a Store and a Registry.
type Planner struct {
	Store    store.Store
	Registry *builder.Registry
	Logger   logging.Logger

	// KnownErrors seeds each Build() call's error_set with keys a caller
	// already knows failed in an earlier round of the same compute_many
	// call (spec §4.D visit()'s "job.key ∈ ... error_set"): without it, an
	// errored key's store row is no longer Active and a later round's
	// traversal would otherwise fall through to recomputing it rather than
	// treating it as settled-failed (spec §8 P6).
	KnownErrors map[string]bool
}

// NewPlanner constructs a Planner; logger may be nil (NoOpLogger is used).
func NewPlanner(st store.Store, reg *builder.Registry, logger logging.Logger) *Planner {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Planner{Store: st, Registry: reg, Logger: logger}
}

type visitOutcome struct {
	id       int64
	node     *PlanNode
	resolved bool
}

// Build runs the visit() traversal of spec §4.D over requests and returns
// the resulting Plan.
func (pl *Planner) Build(ctx context.Context, requests []JobRequest) (*Plan, error) {
	p := &Plan{
		Nodes:          make(map[string]*PlanNode),
		ExistingJobIDs: make(map[string]int64),
		Conflicts:      make(map[string]bool),
		ErrorKeys:      make(map[string]bool, len(pl.KnownErrors)),
	}
	for k := range pl.KnownErrors {
		p.ErrorKeys[k] = true
	}
	visiting := make(map[string]bool)

	for _, req := range requests {
		k := key.Canonical(req.Builder, req.Config)
		out, err := pl.visit(ctx, p, req, visiting)
		if err != nil {
			return nil, err
		}
		rr := RequestResult{Key: k, Resolved: out.resolved}
		if out.resolved {
			if out.node != nil {
				rr.Node = out.node
			} else {
				rr.ID = out.id
			}
		}
		p.Requests = append(p.Requests, rr)
	}
	return p, nil
}

func (pl *Planner) visit(ctx context.Context, p *Plan, req JobRequest, visiting map[string]bool) (visitOutcome, error) {
	k := key.Canonical(req.Builder, req.Config)

	if id, ok := p.ExistingJobIDs[k]; ok {
		return visitOutcome{id: id, resolved: true}, nil
	}
	if p.Conflicts[k] || p.ErrorKeys[k] {
		return visitOutcome{resolved: false}, nil
	}
	if node, ok := p.Nodes[k]; ok {
		return visitOutcome{node: node, resolved: true}, nil
	}
	if visiting[k] {
		return visitOutcome{}, orcoerr.New(orcoerr.KindCyclicDependency, fmt.Sprintf("cyclic dependency reentry on key %s", k))
	}
	visiting[k] = true
	defer delete(visiting, k)

	id, state, found, err := pl.Store.GetActiveJobIDAndState(ctx, k)
	if err != nil {
		return visitOutcome{}, err
	}
	if found {
		switch state {
		case store.StateFinished:
			p.ExistingJobIDs[k] = id
			return visitOutcome{id: id, resolved: true}, nil
		case store.StateAnnounced, store.StateRunning:
			p.Conflicts[k] = true
			pl.Logger.Debug("plan: conflict on key", "key", k, "builder", req.Builder)
			return visitOutcome{resolved: false}, nil
		case store.StateFreed:
			return visitOutcome{}, orcoerr.New(orcoerr.KindStaleFreed, fmt.Sprintf("dependency %s is Freed", k))
		default:
			// Error/Archived*: not active, fall through to recompute.
		}
	}

	reg, ok := pl.Registry.Lookup(req.Builder)
	if !ok {
		return visitOutcome{}, orcoerr.New(orcoerr.KindInvalidConfig, fmt.Sprintf("no builder registered as %q", req.Builder))
	}
	if reg.Frozen() {
		return visitOutcome{}, orcoerr.New(orcoerr.KindMissingValue, fmt.Sprintf("frozen builder %q has no stored value for key %s", req.Builder, k))
	}

	depCtx := &builder.DepContext{}
	if err := reg.Builder.Dependencies(req.Config, depCtx); err != nil {
		return visitOutcome{}, err
	}

	var depKeys []string
	var depIDs []int64
	anyUnresolved := false
	for _, ref := range depCtx.Refs() {
		dres, err := pl.visit(ctx, p, JobRequest{Builder: ref.Builder, Config: ref.Config}, visiting)
		if err != nil {
			return visitOutcome{}, err
		}
		if !dres.resolved {
			anyUnresolved = true
			continue
		}
		if dres.node != nil {
			depKeys = append(depKeys, dres.node.Key)
		} else {
			depIDs = append(depIDs, dres.id)
		}
	}
	if anyUnresolved {
		return visitOutcome{resolved: false}, nil
	}

	setup, err := reg.JobSetup(req.Config)
	if err != nil {
		return visitOutcome{}, err
	}
	configBytes, err := value.EncodeGob(req.Config)
	if err != nil {
		return visitOutcome{}, err
	}

	node := &PlanNode{
		Builder:          req.Builder,
		Key:              k,
		Config:           req.Config,
		ConfigBytes:      configBytes,
		JobSetup:         setup,
		DependencyKeys:   depKeys,
		DependencyJobIDs: depIDs,
	}
	p.Nodes[k] = node
	pl.Logger.Debug("plan: new node", "key", k, "builder", req.Builder, "deps", len(depKeys)+len(depIDs))
	return visitOutcome{node: node, resolved: true}, nil
}
