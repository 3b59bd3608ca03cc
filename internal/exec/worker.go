package exec

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spirali/orco/internal/builder"
	"github.com/spirali/orco/internal/key"
	"github.com/spirali/orco/internal/plan"
	"github.com/spirali/orco/internal/store"
	"github.com/spirali/orco/internal/value"
	orcoerr "github.com/spirali/orco/pkg/errors"
	"github.com/spirali/orco/pkg/logging"
)

// runWorker runs one PlanNode to completion: Announced->Running (via
// Store.SetRunning), the builder's full computation, then either
// SetFinished or SetError. Grounded on the worker contract of spec §4.E
// ("the worker opens its own store handle, transitions Announced->Running,
// runs the builder's full phase... commits either set_finished or
// set_error").
func runWorker(ctx context.Context, st store.Store, reg *builder.Registry, logger logging.Logger, node *plan.PlanNode) WorkResult {
	start := time.Now()
	logger = logging.LogOperation(logger, "run_job", "builder", node.Builder, "key", node.Key, "job_id", node.ID)

	setup, configBytes, deps, err := st.SetRunning(ctx, node.ID)
	if err != nil {
		logging.LogError(logger, err, "set_running")
		return WorkResult{Key: node.Key, Err: fmt.Errorf("set_running: %w", err)}
	}

	cfg, err := value.DecodeGob(configBytes)
	if err != nil {
		msg := fmt.Sprintf("decode config: %v", err)
		_ = st.SetError(ctx, node.ID, msg, 0, nil)
		wrapped := orcoerr.Wrap(orcoerr.KindStoreIntegrity, msg, err)
		logging.LogError(logger, wrapped, "decode_config")
		return WorkResult{Key: node.Key, Err: wrapped}
	}

	regEntry, ok := reg.Lookup(node.Builder)
	if !ok || regEntry.Frozen() {
		msg := fmt.Sprintf("builder %q not available at execution time", node.Builder)
		_ = st.SetError(ctx, node.ID, msg, 0, nil)
		newErr := orcoerr.New(orcoerr.KindJobError, msg)
		logging.LogError(logger, newErr, "lookup_builder")
		return WorkResult{Key: node.Key, Err: newErr}
	}

	// Re-run the dependency phase and verify it still emits exactly the
	// predecessor keys the planner recorded (spec §4.E "deterministic
	// dependency requirement"; mismatch is InconsistentDeps).
	depCtx := &builder.DepContext{}
	if err := regEntry.Builder.Dependencies(cfg, depCtx); err != nil {
		msg := fmt.Sprintf("dependency phase: %v", err)
		compTime := time.Since(start).Seconds()
		_ = st.SetError(ctx, node.ID, msg, compTime, nil)
		wrapped := orcoerr.Wrap(orcoerr.KindJobError, msg, err)
		logging.LogError(logger, wrapped, "dependency_phase")
		return WorkResult{Key: node.Key, Err: wrapped, CompTime: compTime}
	}
	emitted := make(map[string]bool, len(depCtx.Refs()))
	for _, ref := range depCtx.Refs() {
		emitted[key.Canonical(ref.Builder, ref.Config)] = true
	}
	recorded := make(map[string]bool, len(deps))
	resolved := make(map[string]builder.Handle, len(deps))
	for _, d := range deps {
		recorded[d.Key] = true
		resolved[d.Key] = &storeHandle{store: st, ctx: ctx, key: d.Key, jobID: d.ID}
	}
	if !sameKeySet(emitted, recorded) {
		msg := "dependencies inconsistent"
		compTime := time.Since(start).Seconds()
		_ = st.SetError(ctx, node.ID, msg, compTime, nil)
		newErr := orcoerr.New(orcoerr.KindInconsistentDeps, msg)
		logging.LogError(logger, newErr, "verify_dependencies")
		return WorkResult{Key: node.Key, Err: newErr, CompTime: compTime}
	}

	workDir, err := os.MkdirTemp("", "orco-job-*")
	if err != nil {
		msg := fmt.Sprintf("create work dir: %v", err)
		compTime := time.Since(start).Seconds()
		_ = st.SetError(ctx, node.ID, msg, compTime, nil)
		wrapped := orcoerr.Wrap(orcoerr.KindJobError, msg, err)
		logging.LogError(logger, wrapped, "create_work_dir")
		return WorkResult{Key: node.Key, Err: wrapped, CompTime: compTime}
	}
	defer os.RemoveAll(workDir)

	cctx := builder.NewComputeContext(workDir)
	cctx.Relay = setup.Relay

	type computeOutcome struct {
		val value.Value
		err error
	}
	done := make(chan computeOutcome, 1)
	go func() {
		v, cerr := regEntry.Builder.Compute(cfg, resolved, cctx)
		done <- computeOutcome{val: v, err: cerr}
	}()

	var outcome computeOutcome
	timedOut := false
	if setup.Timeout > 0 {
		select {
		case outcome = <-done:
		case <-time.After(setup.Timeout):
			// Spec §4.E: record Timeout without waiting for the inner
			// goroutine; it writes into its own buffered channel and is
			// abandoned, not cancelled (no cooperative cancellation model
			// for in-process builders, see SPEC_FULL.md §4.E).
			timedOut = true
		}
	} else {
		outcome = <-done
	}

	compTime := time.Since(start).Seconds()
	output := cctx.CapturedOutput()

	if timedOut {
		msg := fmt.Sprintf("job exceeded timeout of %s", setup.Timeout)
		_ = st.SetError(ctx, node.ID, msg, compTime, output)
		newErr := orcoerr.New(orcoerr.KindJobTimeout, msg)
		logging.LogError(logger, newErr, "compute")
		return WorkResult{Key: node.Key, Err: newErr, CompTime: compTime}
	}
	if outcome.err != nil {
		msg := outcome.err.Error()
		_ = st.SetError(ctx, node.ID, msg, compTime, output)
		wrapped := orcoerr.Wrap(orcoerr.KindJobError, msg, outcome.err)
		logging.LogError(logger, wrapped, "compute")
		return WorkResult{Key: node.Key, Err: wrapped, CompTime: compTime}
	}

	// value.Value has no unit/None variant to signal "no result" (spec
	// invariant 3's "non-unit value" distinction); every successful
	// Compute call persists a primary blob (Open Question resolution,
	// DESIGN.md).
	primaryBytes, err := value.EncodeGob(outcome.val)
	if err != nil {
		msg := fmt.Sprintf("encode result: %v", err)
		_ = st.SetError(ctx, node.ID, msg, compTime, output)
		wrapped := orcoerr.Wrap(orcoerr.KindStoreIntegrity, msg, err)
		logging.LogError(logger, wrapped, "encode_result")
		return WorkResult{Key: node.Key, Err: wrapped, CompTime: compTime}
	}
	if err := st.SetFinished(ctx, node.ID, primaryBytes, value.MimeGob, "", true, compTime, output); err != nil {
		logging.LogError(logger, err, "set_finished")
		return WorkResult{Key: node.Key, Err: fmt.Errorf("set_finished: %w", err), CompTime: compTime}
	}
	for _, a := range cctx.Attachments() {
		name := a.Name
		if err := st.InsertBlob(ctx, node.ID, &name, a.Data, a.Mime, reprPtr(a.Repr)); err != nil {
			logger.Warn("failed to persist attachment", "name", a.Name, "err", err)
		}
	}
	logging.LogDuration(logger, start, "run_job")
	return WorkResult{Key: node.Key, JobID: node.ID, CompTime: compTime}
}

// storeHandle is the Handle implementation backing Compute's resolved map,
// reading a predecessor's value/attachments lazily from the store.
type storeHandle struct {
	store store.Store
	ctx   context.Context
	key   string
	jobID int64
}

func (h *storeHandle) Key() string  { return h.key }
func (h *storeHandle) JobID() int64 { return h.jobID }

func (h *storeHandle) Value() (value.Value, error) {
	b, err := h.store.GetBlob(h.ctx, h.jobID, nil)
	if err != nil {
		return value.Value{}, err
	}
	if b == nil {
		return value.Value{}, orcoerr.New(orcoerr.KindStoreIntegrity, fmt.Sprintf("job %d has no primary value", h.jobID))
	}
	return value.DecodeGob(b.Data)
}

func (h *storeHandle) AttachedNames() ([]string, error) {
	return h.store.GetBlobNames(h.ctx, h.jobID)
}

func (h *storeHandle) Attached(name string) ([]byte, string, error) {
	b, err := h.store.GetBlob(h.ctx, h.jobID, &name)
	if err != nil {
		return nil, "", err
	}
	if b == nil {
		return nil, "", orcoerr.New(orcoerr.KindStoreIntegrity, fmt.Sprintf("job %d has no blob %q", h.jobID, name))
	}
	return b.Data, b.Mime, nil
}

func sameKeySet(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func reprPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
