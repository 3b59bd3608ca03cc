package store

import "context"

// Store is the persistence interface the planner and executor drive (spec
// §4.B). Each method is a single transaction unless its doc says otherwise.
// The unique index backing Announcement(key) is the sole arbiter of
// single-writer-per-key (invariant 1, property P3); every write path here
// goes through it.
type Store interface {
	Init(ctx context.Context) error
	Close() error

	// DropUnfinishedJobs removes all rows in Announced or Running, used at
	// startup to recover from a crashed peer (spec op 2, property P5).
	DropUnfinishedJobs(ctx context.Context) (int64, error)

	GetActiveState(ctx context.Context, key string) (state State, found bool, err error)
	GetActiveJobIDAndState(ctx context.Context, key string) (id int64, state State, found bool, err error)
	GetStates(ctx context.Context, ids []int64) (map[int64]State, error)

	// AnnouncePlan atomically inserts every node's row, one Announcement
	// per node, and all declared dependency edges. On the first uniqueness
	// violation the whole transaction rolls back and ok is false (spec op
	// 6).
	AnnouncePlan(ctx context.Context, nodes []AnnounceNode) (ids map[string]int64, ok bool, err error)

	// UnannouncePlan deletes announced/running rows by id, used by the
	// executor to undo a plan on fatal abort (spec op 7).
	UnannouncePlan(ctx context.Context, ids []int64) error

	// SetRunning atomically moves Announced -> Running and returns the
	// node's job_setup, raw config bytes, and resolved immediate
	// predecessor (key, id) pairs (spec op 8).
	SetRunning(ctx context.Context, id int64) (setup JobSetup, configBytes []byte, deps []DepRef, err error)

	// SetFinished atomically moves Running -> Finished, stamping
	// finished_date/computation_time and inserting the primary blob (if
	// any, primaryMime/"" selects its presence) plus an optional captured
	// !output blob (spec op 9).
	SetFinished(ctx context.Context, id int64, primary []byte, primaryMime, primaryRepr string, hasPrimary bool, compTime float64, output []byte) error

	// SetError moves Running/Announced -> Error, deletes the announcement
	// row (freeing the key), and attaches !message (and optional !output)
	// blobs (spec op 10).
	SetError(ctx context.Context, id int64, message string, compTime float64, output []byte) error

	InsertBlob(ctx context.Context, jobID int64, name *string, data []byte, mime string, repr *string) error
	GetBlob(ctx context.Context, jobID int64, name *string) (*Blob, error)
	GetBlobNames(ctx context.Context, jobID int64) ([]string, error)

	// CreateJobWithValue inserts an Announcement and a Finished row in one
	// transaction, for externally-inserted values (spec op 13). ok is
	// false if the key is already actively announced.
	CreateJobWithValue(ctx context.Context, builder, key string, configBytes, data []byte, mime, repr string) (ok bool, err error)

	ArchiveKeys(ctx context.Context, keys []string, includeUpstream bool) error
	DropKeys(ctx context.Context, keys []string, includeUpstream bool) error
	DropBuilder(ctx context.Context, builderName string, includeUpstream bool) error
	FreeKeys(ctx context.Context, keys []string) error

	ReadJobs(ctx context.Context, key string) ([]Job, error)
	ReadMetadata(ctx context.Context, id int64) (*Metadata, error)
	GetRunStats(ctx context.Context, builder string) (*RunStats, error)
	UpgradeBuilder(ctx context.Context, mapping map[string]string) error

	BuilderSummaries(ctx context.Context) ([]BuilderSummary, error)
	JobsForBuilder(ctx context.Context, builder string) ([]Job, error)
	StatusSummary(ctx context.Context) (*StatusSummary, error)
}
