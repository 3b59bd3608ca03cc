package plan_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spirali/orco/internal/builder"
	"github.com/spirali/orco/internal/key"
	"github.com/spirali/orco/internal/plan"
	"github.com/spirali/orco/internal/store"
	"github.com/spirali/orco/internal/value"
	orcoerr "github.com/spirali/orco/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type addBuilder struct{}

func (addBuilder) Dependencies(cfg value.Value, ctx *builder.DepContext) error { return nil }
func (addBuilder) Compute(cfg value.Value, resolved map[string]builder.Handle, cctx *builder.ComputeContext) (value.Value, error) {
	a, _ := cfg.MustField("a").AsInt()
	b, _ := cfg.MustField("b").AsInt()
	return value.Int(a + b), nil
}

type sumRangeBuilder struct{ n int64 }

func (b sumRangeBuilder) Dependencies(cfg value.Value, ctx *builder.DepContext) error {
	n, _ := cfg.MustField("n").AsInt()
	for i := int64(0); i < n; i++ {
		ctx.Emit(builder.JobRef{Builder: "add", Config: value.Map(map[string]value.Value{
			"a": value.Int(i), "b": value.Int(i + 1),
		})})
	}
	return nil
}
func (sumRangeBuilder) Compute(cfg value.Value, resolved map[string]builder.Handle, cctx *builder.ComputeContext) (value.Value, error) {
	return value.Int(0), nil
}

func openTestStore(t *testing.T) store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, st.Init(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestBuildSimpleJob(t *testing.T) {
	st := openTestStore(t)
	reg := builder.NewRegistry()
	reg.Register("add", addBuilder{})

	pl := plan.NewPlanner(st, reg, nil)
	p, err := pl.Build(context.Background(), []plan.JobRequest{
		{Builder: "add", Config: value.Map(map[string]value.Value{"a": value.Int(1), "b": value.Int(2)})},
	})
	require.NoError(t, err)
	assert.Len(t, p.Nodes, 1)
	require.Len(t, p.Requests, 1)
	assert.True(t, p.Requests[0].Resolved)
	assert.NotNil(t, p.Requests[0].Node)
}

func TestBuildExpandsDependencyPhase(t *testing.T) {
	st := openTestStore(t)
	reg := builder.NewRegistry()
	reg.Register("add", addBuilder{})
	reg.Register("sum_range", sumRangeBuilder{})

	pl := plan.NewPlanner(st, reg, nil)
	p, err := pl.Build(context.Background(), []plan.JobRequest{
		{Builder: "sum_range", Config: value.Map(map[string]value.Value{"n": value.Int(3)})},
	})
	require.NoError(t, err)
	// 3 add jobs + 1 sum_range job
	assert.Len(t, p.Nodes, 4)
}

func TestBuildFrozenBuilderMissingValue(t *testing.T) {
	st := openTestStore(t)
	reg := builder.NewRegistry()
	reg.Frozen("precomputed")

	pl := plan.NewPlanner(st, reg, nil)
	_, err := pl.Build(context.Background(), []plan.JobRequest{
		{Builder: "precomputed", Config: value.Int(1)},
	})
	require.Error(t, err)
	assert.True(t, orcoerr.Is(err, orcoerr.KindMissingValue))
}

func TestBuildDetectsConflict(t *testing.T) {
	st := openTestStore(t)
	reg := builder.NewRegistry()
	reg.Register("add", addBuilder{})

	cfg := value.Map(map[string]value.Value{"a": value.Int(1), "b": value.Int(2)})

	pl := plan.NewPlanner(st, reg, nil)
	p, err := pl.Build(context.Background(), []plan.JobRequest{{Builder: "add", Config: cfg}})
	require.NoError(t, err)
	ids, ok, err := st.AnnouncePlan(context.Background(), p.AnnounceNodes())
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, ids, 1)

	// A second planner sees the key as Announced: a conflict, not a new node.
	p2, err := pl.Build(context.Background(), []plan.JobRequest{{Builder: "add", Config: cfg}})
	require.NoError(t, err)
	assert.Empty(t, p2.Nodes)
	assert.False(t, p2.Requests[0].Resolved)
	assert.Len(t, p2.Conflicts, 1)
}

func TestBuildStaleFreedFails(t *testing.T) {
	st := openTestStore(t)
	reg := builder.NewRegistry()
	reg.Register("add", addBuilder{})

	cfg := value.Map(map[string]value.Value{"a": value.Int(1), "b": value.Int(2)})
	ok, err := st.CreateJobWithValue(context.Background(), "add", keyFor(t, "add", cfg), nil, []byte("3"), "application/x-gob", "")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, st.FreeKeys(context.Background(), []string{keyFor(t, "add", cfg)}))

	pl := plan.NewPlanner(st, reg, nil)
	_, err = pl.Build(context.Background(), []plan.JobRequest{{Builder: "add", Config: cfg}})
	require.Error(t, err)
	assert.True(t, orcoerr.Is(err, orcoerr.KindStaleFreed))
}

func keyFor(t *testing.T, builderName string, cfg value.Value) string {
	t.Helper()
	return key.Canonical(builderName, cfg)
}
