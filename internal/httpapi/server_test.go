package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spirali/orco/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "httpapi.db"), nil)
	require.NoError(t, err)
	require.NoError(t, st.Init(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestHandleBuildersReportsCountsAndBytes(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ok, err := st.CreateJobWithValue(ctx, "square", "key-1", []byte("cfg"), []byte("\x04"), "application/x-gob", "4")
	require.NoError(t, err)
	require.True(t, ok)

	srv := NewServer(st, nil)
	req := httptest.NewRequest(http.MethodGet, "/builders", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var out []builderSummaryDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "square", out[0].Builder)
	assert.Equal(t, int64(1), out[0].Counts["finished"])
}

func TestHandleJobsForBuilderListsJobs(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	_, err := st.CreateJobWithValue(ctx, "square", "key-1", []byte("cfg"), []byte("\x04"), "application/x-gob", "4")
	require.NoError(t, err)

	srv := NewServer(st, nil)
	req := httptest.NewRequest(http.MethodGet, "/jobs/square", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var out []jobDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "finished", out[0].State)
	assert.Equal(t, "key-1", out[0].Key)
}

func TestHandleBlobsForJobIncludesTextPreview(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ok, err := st.CreateJobWithValue(ctx, "square", "key-1", []byte("cfg"), []byte("\x04"), "application/x-gob", "4")
	require.NoError(t, err)
	require.True(t, ok)
	jobs, err := st.JobsForBuilder(ctx, "square")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	name := "notes"
	require.NoError(t, st.InsertBlob(ctx, jobs[0].ID, &name, []byte("hello"), "text/plain", nil))

	srv := NewServer(st, nil)
	req := httptest.NewRequest(http.MethodGet, "/blobs/1", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var out []blobDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	var found bool
	for _, b := range out {
		if b.Name == "notes" {
			found = true
			assert.Equal(t, "hello", b.Preview)
		}
	}
	assert.True(t, found)
}

func TestHandleStatusAggregatesCounts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	_, err := st.CreateJobWithValue(ctx, "square", "key-1", []byte("cfg"), []byte("\x04"), "application/x-gob", "4")
	require.NoError(t, err)

	srv := NewServer(st, nil)
	req := httptest.NewRequest(http.MethodGet, "/status/", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var out statusDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, int64(1), out.Finished)
}

func TestHandleBlobsForJobRejectsNonNumericID(t *testing.T) {
	st := newTestStore(t)
	srv := NewServer(st, nil)
	req := httptest.NewRequest(http.MethodGet, "/blobs/not-a-number", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
