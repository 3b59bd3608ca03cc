package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spirali/orco/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	require.NoError(t, st.Init(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// TestAnnouncePlanSingleWriter grounds property P3 (spec §8): the
// Announcement(key) unique index lets at most one Announced/Running row
// exist per key at any instant. A second AnnouncePlan for the same key,
// while the first is still active, must fail the whole batch.
func TestAnnouncePlanSingleWriter(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	ids, ok, err := st.AnnouncePlan(ctx, []store.AnnounceNode{
		{Builder: "sleep", Key: "key-a", ConfigBytes: []byte("cfg")},
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, ids, "key-a")

	_, ok, err = st.AnnouncePlan(ctx, []store.AnnounceNode{
		{Builder: "sleep", Key: "key-a", ConfigBytes: []byte("cfg")},
	})
	require.NoError(t, err)
	assert.False(t, ok, "a second announcement for an already-active key must be rejected")

	state, found, err := st.GetActiveState(ctx, "key-a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, store.StateAnnounced, state)
}

// TestAnnouncePlanRollsBackWholeBatchOnConflict asserts the batch is
// all-or-nothing: a conflict on the second of three nodes must leave
// neither of the others announced either, so a caller can safely retry the
// whole plan without partial state to reconcile.
func TestAnnouncePlanRollsBackWholeBatchOnConflict(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, ok, err := st.AnnouncePlan(ctx, []store.AnnounceNode{
		{Builder: "sleep", Key: "taken", ConfigBytes: []byte("cfg")},
	})
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = st.AnnouncePlan(ctx, []store.AnnounceNode{
		{Builder: "sleep", Key: "free-1", ConfigBytes: []byte("cfg")},
		{Builder: "sleep", Key: "taken", ConfigBytes: []byte("cfg")},
		{Builder: "sleep", Key: "free-2", ConfigBytes: []byte("cfg")},
	})
	require.NoError(t, err)
	assert.False(t, ok)

	_, found, err := st.GetActiveState(ctx, "free-1")
	require.NoError(t, err)
	assert.False(t, found, "free-1 must not have been left announced by the rolled-back batch")
}

// TestDropKeysRemovesDownstreamClosureOnly grounds P4: drop(k,
// include_upstream=false) removes k and everything that (transitively)
// depends on k, but not k's own upstream dependencies.
func TestDropKeysRemovesDownstreamClosureOnly(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	ids, ok, err := st.AnnouncePlan(ctx, []store.AnnounceNode{
		{Builder: "leaf", Key: "upstream", ConfigBytes: []byte("cfg")},
		{Builder: "mid", Key: "middle", ConfigBytes: []byte("cfg"), DependencyKeys: []string{"upstream"}},
		{Builder: "top", Key: "downstream", ConfigBytes: []byte("cfg"), DependencyKeys: []string{"middle"}},
	})
	require.NoError(t, err)
	require.True(t, ok)
	for _, k := range []string{"upstream", "middle", "downstream"} {
		require.NoError(t, st.SetFinished(ctx, ids[k], []byte{1}, "application/x-gob", "", true, 0, nil))
	}

	require.NoError(t, st.DropKeys(ctx, []string{"middle"}, false))

	_, _, found, err := st.GetActiveJobIDAndState(ctx, "middle")
	require.NoError(t, err)
	assert.False(t, found, "middle itself must be dropped")
	_, _, found, err = st.GetActiveJobIDAndState(ctx, "downstream")
	require.NoError(t, err)
	assert.False(t, found, "downstream, which depends on middle, must be dropped too")
	_, _, found, err = st.GetActiveJobIDAndState(ctx, "upstream")
	require.NoError(t, err)
	assert.True(t, found, "upstream must survive a non-upstream drop of middle")
}

// TestDropKeysIncludeUpstreamRemovesBoth grounds the include_upstream=true
// branch of P4's closure: both directions are removed when requested.
func TestDropKeysIncludeUpstreamRemovesBoth(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	ids, ok, err := st.AnnouncePlan(ctx, []store.AnnounceNode{
		{Builder: "leaf", Key: "upstream", ConfigBytes: []byte("cfg")},
		{Builder: "mid", Key: "middle", ConfigBytes: []byte("cfg"), DependencyKeys: []string{"upstream"}},
	})
	require.NoError(t, err)
	require.True(t, ok)
	for _, k := range []string{"upstream", "middle"} {
		require.NoError(t, st.SetFinished(ctx, ids[k], []byte{1}, "application/x-gob", "", true, 0, nil))
	}

	require.NoError(t, st.DropKeys(ctx, []string{"middle"}, true))

	_, _, found, err := st.GetActiveJobIDAndState(ctx, "upstream")
	require.NoError(t, err)
	assert.False(t, found, "include_upstream=true must also drop middle's dependency")
}

// TestDropUnfinishedJobsRestoresInvariant grounds P5: after a simulated
// crash (rows left Announced/Running), DropUnfinishedJobs removes exactly
// those rows, restoring invariant 1 (no job is in Announced or Running).
func TestDropUnfinishedJobsRestoresInvariant(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	ids, ok, err := st.AnnouncePlan(ctx, []store.AnnounceNode{
		{Builder: "sleep", Key: "stuck-announced", ConfigBytes: []byte("cfg")},
		{Builder: "sleep", Key: "stuck-running", ConfigBytes: []byte("cfg")},
		{Builder: "sleep", Key: "finished", ConfigBytes: []byte("cfg")},
	})
	require.NoError(t, err)
	require.True(t, ok)
	_, _, _, err = st.SetRunning(ctx, ids["stuck-running"])
	require.NoError(t, err)
	require.NoError(t, st.SetFinished(ctx, ids["finished"], []byte{1}, "application/x-gob", "", true, 0, nil))

	dropped, err := st.DropUnfinishedJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), dropped)

	for _, k := range []string{"stuck-announced", "stuck-running"} {
		_, _, found, err := st.GetActiveJobIDAndState(ctx, k)
		require.NoError(t, err)
		assert.False(t, found, "%s must no longer be active after recovery", k)
	}
	state, found, err := st.GetActiveState(ctx, "finished")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, store.StateFinished, state)
}
