// Package store implements the persistent job store (spec §4.B): a
// transactional catalog of jobs, their states, their value blobs, and their
// dependency edges, backed by a relational store. Grounded on
// original_source/orco/db.py and original_source/orco/internals/db.py
// (entries/deps schema, announce-via-unique-index arbitration, recursive
// dependency-closure queries), rendered against modernc.org/sqlite +
// jmoiron/sqlx per SPEC_FULL.md §2.
package store

import "time"

// State is a Job's position in the lifecycle state machine (spec §3.3).
type State string

const (
	StateAnnounced        State = "announced"
	StateRunning          State = "running"
	StateFinished         State = "finished"
	StateError            State = "error"
	StateFreed            State = "freed"
	StateArchivedFinished State = "archived_finished"
	StateArchivedFreed    State = "archived_freed"
)

// Active reports whether s is one of the ACTIVE states from spec invariant
// 1: Announced, Running, Finished, Freed.
func (s State) Active() bool {
	switch s {
	case StateAnnounced, StateRunning, StateFinished, StateFreed:
		return true
	default:
		return false
	}
}

// JobSetup is the per-job runner/timeout/exclusivity/output-relay
// descriptor (spec §3.1).
type JobSetup struct {
	Runner    string        `json:"runner"`
	Timeout   time.Duration `json:"timeout,omitempty"` // 0 means unset
	Exclusive bool          `json:"exclusive"`
	Relay     bool          `json:"relay"`
}

// DefaultJobSetup is used when a builder declares no job_setup.
func DefaultJobSetup() JobSetup {
	return JobSetup{Runner: "local"}
}

// Job is a persisted row of the jobs table (spec §3.1).
type Job struct {
	ID              int64
	State           State
	Builder         string
	Key             string
	ConfigBytes     []byte // gob-encoded value.Value, see blob encoding note
	JobSetup        JobSetup
	CreatedAt       time.Time
	FinishedAt      *time.Time
	ComputationTime *float64
}

// Blob is a named byte payload attached to a job (spec §3.1). Name == nil
// denotes the job's primary result.
type Blob struct {
	JobID int64
	Name  *string
	Data  []byte
	Mime  string
	Repr  *string
}

// AnnounceNode is one entry of a Plan handed to AnnouncePlan: a new job row
// to insert plus its dependency edges, expressed as keys (plan-internal
// deps resolve to ids only after the whole plan is announced together).
type AnnounceNode struct {
	Builder            string
	Key                string
	ConfigBytes        []byte
	JobSetup           JobSetup
	DependencyKeys     []string // edges to other nodes in this same plan
	DependencyJobIDs   []int64  // edges to already-finished jobs outside the plan
}

// DepRef names one resolved predecessor of a Running job, as returned by
// SetRunning.
type DepRef struct {
	Key string
	ID  int64
}

// Metadata is the read_metadata(id) result (spec §4.B op 19).
type Metadata struct {
	Builder         string
	CreatedAt       time.Time
	FinishedAt      *time.Time
	ComputationTime *float64
	JobSetup        JobSetup
}

// RunStats is the get_run_stats(builder) result (spec §4.B op 20).
type RunStats struct {
	Builder      string
	Count        int64
	MeanSeconds  float64
	StddevSeconds float64
}

// BuilderSummary is one row of the /builders REST surface and CLI report
// (spec §6).
type BuilderSummary struct {
	Builder    string
	Counts     map[State]int64
	TotalBytes int64
}

// StatusSummary backs GET /status/ (spec §6): aggregated counts across the
// currently-running window plus the five most recent errors.
type StatusSummary struct {
	Announced   int64
	Running     int64
	Finished    int64
	RecentErrors []Job
}
