// Package httpapi implements the read-only browser REST surface of spec
// §6: GET /builders, GET /jobs/{builder}, GET /blobs/{job_id}, GET
// /status/. Grounded on jontk-slurm-client's tests/mocks/server.go (gorilla/
// mux router, logging middleware, writeJSONResponse/writeErrorResponse
// helpers) — the teacher's own mock SLURM REST server is the closest thing
// in the pack to a gorilla/mux HTTP server, so its shape is reused here
// rather than reinvented.
package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/spirali/orco/internal/store"
	orcoctx "github.com/spirali/orco/pkg/context"
	"github.com/spirali/orco/pkg/logging"
)

// Server answers the browser REST surface against one Store.
type Server struct {
	store    store.Store
	logger   logging.Logger
	router   *mux.Router
	timeouts *orcoctx.TimeoutConfig
}

// NewServer builds a Server with its routes wired. logger may be nil
// (logging.NoOpLogger is used).
func NewServer(st store.Store, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	s := &Server{store: st, logger: logger, timeouts: orcoctx.DefaultTimeoutConfig()}
	s.router = mux.NewRouter().StrictSlash(false)
	s.router.Use(s.loggingMiddleware)
	s.router.HandleFunc("/builders", s.handleBuilders).Methods("GET")
	s.router.HandleFunc("/jobs/{builder}", s.handleJobsForBuilder).Methods("GET")
	s.router.HandleFunc("/blobs/{job_id}", s.handleBlobsForJob).Methods("GET")
	s.router.HandleFunc("/status/", s.handleStatus).Methods("GET")
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// sanitizeForLog strips characters a request path could use for log
// injection, same approach as the teacher's mock server.
func sanitizeForLog(v string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return ' '
		}
		return r
	}, v)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("http request", "method", sanitizeForLog(r.Method), "path", sanitizeForLog(r.URL.Path))
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// builderSummaryDTO flattens store.BuilderSummary's State-keyed map to a
// JSON-friendly shape.
type builderSummaryDTO struct {
	Builder    string           `json:"builder"`
	Counts     map[string]int64 `json:"counts"`
	TotalBytes int64            `json:"total_bytes"`
}

func (s *Server) handleBuilders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := orcoctx.WithTimeout(r.Context(), orcoctx.OpList, s.timeouts)
	defer cancel()
	summaries, err := s.store.BuilderSummaries(ctx)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]builderSummaryDTO, 0, len(summaries))
	for _, b := range summaries {
		counts := make(map[string]int64, len(b.Counts))
		for state, n := range b.Counts {
			counts[string(state)] = n
		}
		out = append(out, builderSummaryDTO{Builder: b.Builder, Counts: counts, TotalBytes: b.TotalBytes})
	}
	s.writeJSON(w, http.StatusOK, out)
}

type jobDTO struct {
	ID              int64   `json:"id"`
	State           string  `json:"state"`
	Builder         string  `json:"builder"`
	Key             string  `json:"key"`
	CreatedAt       string  `json:"created_date"`
	FinishedAt      *string `json:"finished_date,omitempty"`
	ComputationTime *float64 `json:"computation_time,omitempty"`
}

func toJobDTO(j store.Job) jobDTO {
	dto := jobDTO{
		ID:              j.ID,
		State:           string(j.State),
		Builder:         j.Builder,
		Key:             j.Key,
		CreatedAt:       j.CreatedAt.Format(timeFormat),
		ComputationTime: j.ComputationTime,
	}
	if j.FinishedAt != nil {
		f := j.FinishedAt.Format(timeFormat)
		dto.FinishedAt = &f
	}
	return dto
}

const timeFormat = "2006-01-02T15:04:05Z07:00"

func (s *Server) handleJobsForBuilder(w http.ResponseWriter, r *http.Request) {
	builder := mux.Vars(r)["builder"]
	ctx, cancel := orcoctx.WithTimeout(r.Context(), orcoctx.OpList, s.timeouts)
	defer cancel()
	jobs, err := s.store.JobsForBuilder(ctx, builder)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]jobDTO, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobDTO(j))
	}
	s.writeJSON(w, http.StatusOK, out)
}

// blobDTO carries an inline preview for text/plain and small payloads of
// any mime (spec §6 "includes inline preview for text and small images");
// larger or non-previewable blobs report only their size.
type blobDTO struct {
	Name    string `json:"name"`
	Mime    string `json:"mime"`
	Repr    string `json:"repr,omitempty"`
	Size    int    `json:"size"`
	Preview string `json:"preview,omitempty"`
}

// previewLimit bounds inline preview size; larger blobs are reported by
// size only, left for a dedicated blob-download route to serve in full
// (not part of this read-mostly summary surface).
const previewLimit = 64 * 1024

func (s *Server) handleBlobsForJob(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["job_id"]
	jobID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid job_id")
		return
	}

	ctx, cancel := orcoctx.WithTimeout(r.Context(), orcoctx.OpRead, s.timeouts)
	defer cancel()

	names, err := s.store.GetBlobNames(ctx, jobID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]blobDTO, 0, len(names))
	for _, name := range names {
		var namePtr *string
		if name != "" {
			n := name
			namePtr = &n
		}
		blob, err := s.store.GetBlob(ctx, jobID, namePtr)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if blob == nil {
			continue
		}
		dto := blobDTO{Name: name, Mime: blob.Mime, Size: len(blob.Data)}
		if blob.Repr != nil {
			dto.Repr = *blob.Repr
		}
		if len(blob.Data) <= previewLimit {
			switch {
			case blob.Mime == "text/plain":
				dto.Preview = string(blob.Data)
			case isImagePreviewMime(blob.Mime):
				dto.Preview = base64.StdEncoding.EncodeToString(blob.Data)
			}
		}
		out = append(out, dto)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func isImagePreviewMime(mime string) bool {
	return strings.HasPrefix(mime, "image/")
}

type statusDTO struct {
	Announced    int64    `json:"announced"`
	Running      int64    `json:"running"`
	Finished     int64    `json:"finished"`
	RecentErrors []jobDTO `json:"recent_errors"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := orcoctx.WithTimeout(r.Context(), orcoctx.OpRead, s.timeouts)
	defer cancel()
	summary, err := s.store.StatusSummary(ctx)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	dto := statusDTO{Announced: summary.Announced, Running: summary.Running, Finished: summary.Finished}
	for _, j := range summary.RecentErrors {
		dto.RecentErrors = append(dto.RecentErrors, toJobDTO(j))
	}
	s.writeJSON(w, http.StatusOK, dto)
}
