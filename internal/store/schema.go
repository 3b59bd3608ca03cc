package store

// schema is the logical schema of spec §6, plus the expansion's append-only
// run_log table (SPEC_FULL.md §4.B) used for run-stats reporting. Rendered
// as SQLite DDL; recursive CTEs over job_deps implement the dependency
// closures used by archive/drop (grounded on original_source/orco/db.py's
// RECURSIVE_CONSUMERS).
const schema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS jobs (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	state            TEXT NOT NULL,
	builder          TEXT NOT NULL,
	key              TEXT NOT NULL,
	config           BLOB NOT NULL,
	job_setup        BLOB,
	created_date     TEXT NOT NULL,
	finished_date    TEXT,
	computation_time REAL
);
CREATE INDEX IF NOT EXISTS idx_jobs_builder ON jobs(builder);
CREATE INDEX IF NOT EXISTS idx_jobs_key ON jobs(key);
CREATE INDEX IF NOT EXISTS idx_jobs_finished_date ON jobs(finished_date);

CREATE TABLE IF NOT EXISTS announcements (
	key    TEXT NOT NULL UNIQUE,
	job_id INTEGER NOT NULL REFERENCES jobs(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_announcements_job_id ON announcements(job_id);

CREATE TABLE IF NOT EXISTS job_deps (
	source_id INTEGER NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	target_id INTEGER NOT NULL REFERENCES jobs(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_job_deps_source ON job_deps(source_id);
CREATE INDEX IF NOT EXISTS idx_job_deps_target ON job_deps(target_id);

CREATE TABLE IF NOT EXISTS blobs (
	job_id INTEGER NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	name   TEXT,
	data   BLOB NOT NULL,
	mime   TEXT NOT NULL,
	repr   TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_blobs_job_name ON blobs(job_id, name);

-- (expansion, SPEC_FULL.md §4.B) append-only worker run log, feeding
-- get_run_stats/status reporting without requiring heartbeat leasing.
CREATE TABLE IF NOT EXISTS run_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id      INTEGER NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	builder     TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	finished_at TEXT,
	outcome     TEXT -- finished|error|timeout, null while in flight
);
`

// recursiveDownstream selects the reflexive-transitive closure of jobs
// reachable by following job_deps from a seed set of job ids.
const recursiveDownstream = `
WITH RECURSIVE closure(id) AS (
	SELECT id FROM jobs WHERE id IN (?)
	UNION
	SELECT jd.target_id FROM job_deps jd JOIN closure c ON jd.source_id = c.id
)
SELECT id FROM closure
`

// recursiveUpstream is the mirror image: predecessors of the seed set.
const recursiveUpstream = `
WITH RECURSIVE closure(id) AS (
	SELECT id FROM jobs WHERE id IN (?)
	UNION
	SELECT jd.source_id FROM job_deps jd JOIN closure c ON jd.target_id = c.id
)
SELECT id FROM closure
`
