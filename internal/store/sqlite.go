package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	orcoerr "github.com/spirali/orco/pkg/errors"
	"github.com/spirali/orco/pkg/logging"
)

// SQLiteStore is the Store implementation backed by modernc.org/sqlite +
// jmoiron/sqlx, grounded on original_source/orco/db.py's schema and query
// shapes (SPEC_FULL.md §4.B, §2).
type SQLiteStore struct {
	db     *sqlx.DB
	logger logging.Logger
}

var _ Store = (*SQLiteStore)(nil)

// Open opens (and does not yet initialize) a SQLite-backed store at path.
// An in-memory DSN is rejected: the store must survive process restart
// (spec §6).
func Open(path string, logger logging.Logger) (*SQLiteStore, error) {
	if path == "" || path == ":memory:" || strings.Contains(path, "mode=memory") {
		return nil, orcoerr.New(orcoerr.KindStoreIntegrity, "in-memory store is forbidden; the store must survive process restart")
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer connection; modernc.org/sqlite serializes writes anyway
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	s.logger.Debug("store initialized")
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func nowString() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func (s *SQLiteStore) DropUnfinishedJobs(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE state IN (?, ?)`, StateAnnounced, StateRunning)
	if err != nil {
		return 0, fmt.Errorf("drop unfinished jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("dropped unfinished jobs", "count", n)
	}
	return n, nil
}

func (s *SQLiteStore) GetActiveState(ctx context.Context, key string) (State, bool, error) {
	var state State
	err := s.db.GetContext(ctx, &state, `
		SELECT j.state FROM jobs j
		JOIN announcements a ON a.job_id = j.id
		WHERE a.key = ?`, key)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get active state: %w", err)
	}
	return state, true, nil
}

func (s *SQLiteStore) GetActiveJobIDAndState(ctx context.Context, key string) (int64, State, bool, error) {
	row := struct {
		ID    int64 `db:"id"`
		State State `db:"state"`
	}{}
	err := s.db.GetContext(ctx, &row, `
		SELECT j.id, j.state FROM jobs j
		JOIN announcements a ON a.job_id = j.id
		WHERE a.key = ?`, key)
	if err == sql.ErrNoRows {
		return 0, "", false, nil
	}
	if err != nil {
		return 0, "", false, fmt.Errorf("get active job id and state: %w", err)
	}
	return row.ID, row.State, true, nil
}

func (s *SQLiteStore) GetStates(ctx context.Context, ids []int64) (map[int64]State, error) {
	out := make(map[int64]State, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT id, state FROM jobs WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get states: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var st State
		if err := rows.Scan(&id, &st); err != nil {
			return nil, err
		}
		out[id] = st
	}
	return out, rows.Err()
}

func encodeJobSetup(js JobSetup) ([]byte, error) { return json.Marshal(js) }

func decodeJobSetup(data []byte) (JobSetup, error) {
	if len(data) == 0 {
		return DefaultJobSetup(), nil
	}
	var js JobSetup
	if err := json.Unmarshal(data, &js); err != nil {
		return JobSetup{}, err
	}
	return js, nil
}

func (s *SQLiteStore) AnnouncePlan(ctx context.Context, nodes []AnnounceNode) (map[string]int64, bool, error) {
	if len(nodes) == 0 {
		return map[string]int64{}, true, nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("announce plan: begin: %w", err)
	}
	rollback := true
	defer func() {
		if rollback {
			_ = tx.Rollback()
		}
	}()

	ids := make(map[string]int64, len(nodes))
	now := nowString()
	for _, n := range nodes {
		setupBytes, err := encodeJobSetup(n.JobSetup)
		if err != nil {
			return nil, false, fmt.Errorf("encode job_setup: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO jobs(state, builder, key, config, job_setup, created_date)
			VALUES (?, ?, ?, ?, ?, ?)`,
			StateAnnounced, n.Builder, n.Key, n.ConfigBytes, setupBytes, now)
		if err != nil {
			return nil, false, fmt.Errorf("insert job row: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, false, err
		}
		ids[n.Key] = id

		if _, err := tx.ExecContext(ctx, `INSERT INTO announcements(key, job_id) VALUES (?, ?)`, n.Key, id); err != nil {
			// UNIQUE(key) violation: someone else announced this key first.
			s.logger.Debug("announce_plan lost the race", "key", n.Key)
			return nil, false, nil
		}
	}
	for _, n := range nodes {
		targetID := ids[n.Key]
		for _, depKey := range n.DependencyKeys {
			sourceID, ok := ids[depKey]
			if !ok {
				return nil, false, orcoerr.New(orcoerr.KindStoreIntegrity, "plan dependency key not found in this plan: "+depKey)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO job_deps(source_id, target_id) VALUES (?, ?)`, sourceID, targetID); err != nil {
				return nil, false, fmt.Errorf("insert plan-internal dep edge: %w", err)
			}
		}
		for _, sourceID := range n.DependencyJobIDs {
			if _, err := tx.ExecContext(ctx, `INSERT INTO job_deps(source_id, target_id) VALUES (?, ?)`, sourceID, targetID); err != nil {
				return nil, false, fmt.Errorf("insert preexisting dep edge: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("announce plan: commit: %w", err)
	}
	rollback = false
	s.logger.Debug("announced plan", "nodes", len(nodes))
	return ids, true, nil
}

func (s *SQLiteStore) UnannouncePlan(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM jobs WHERE id IN (?) AND state IN (?, ?)`, ids, StateAnnounced, StateRunning)
	if err != nil {
		return err
	}
	query = s.db.Rebind(query)
	_, err = s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("unannounce plan: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetRunning(ctx context.Context, id int64) (JobSetup, []byte, []DepRef, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return JobSetup{}, nil, nil, err
	}
	rollback := true
	defer func() {
		if rollback {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `UPDATE jobs SET state = ? WHERE id = ? AND state = ?`, StateRunning, id, StateAnnounced)
	if err != nil {
		return JobSetup{}, nil, nil, fmt.Errorf("set running: %w", err)
	}
	n, _ := res.RowsAffected()
	if n != 1 {
		return JobSetup{}, nil, nil, orcoerr.New(orcoerr.KindStoreIntegrity, fmt.Sprintf("job %d was not Announced", id))
	}

	var row struct {
		Config   []byte `db:"config"`
		JobSetup []byte `db:"job_setup"`
	}
	if err := tx.GetContext(ctx, &row, `SELECT config, job_setup FROM jobs WHERE id = ?`, id); err != nil {
		return JobSetup{}, nil, nil, err
	}
	setup, err := decodeJobSetup(row.JobSetup)
	if err != nil {
		return JobSetup{}, nil, nil, err
	}

	var deps []DepRef
	drows, err := tx.QueryContext(ctx, `
		SELECT j2.key, jd.source_id FROM job_deps jd
		JOIN jobs j2 ON j2.id = jd.source_id
		WHERE jd.target_id = ?`, id)
	if err != nil {
		return JobSetup{}, nil, nil, err
	}
	for drows.Next() {
		var d DepRef
		if err := drows.Scan(&d.Key, &d.ID); err != nil {
			drows.Close()
			return JobSetup{}, nil, nil, err
		}
		deps = append(deps, d)
	}
	drows.Close()
	if err := drows.Err(); err != nil {
		return JobSetup{}, nil, nil, err
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO run_log(job_id, builder, started_at) SELECT id, builder, ? FROM jobs WHERE id = ?`, nowString(), id); err != nil {
		return JobSetup{}, nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return JobSetup{}, nil, nil, err
	}
	rollback = false
	return setup, row.Config, deps, nil
}

func (s *SQLiteStore) SetFinished(ctx context.Context, id int64, primary []byte, primaryMime, primaryRepr string, hasPrimary bool, compTime float64, output []byte) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	rollback := true
	defer func() {
		if rollback {
			_ = tx.Rollback()
		}
	}()

	now := nowString()
	res, err := tx.ExecContext(ctx, `
		UPDATE jobs SET state = ?, finished_date = ?, computation_time = ?
		WHERE id = ? AND state = ?`, StateFinished, now, compTime, id, StateRunning)
	if err != nil {
		return fmt.Errorf("set finished: %w", err)
	}
	n, _ := res.RowsAffected()
	if n != 1 {
		return orcoerr.New(orcoerr.KindStoreIntegrity, fmt.Sprintf("job %d was not Running", id))
	}

	if hasPrimary {
		var repr *string
		if primaryRepr != "" {
			repr = &primaryRepr
		}
		if err := insertBlobTx(ctx, tx, id, nil, primary, primaryMime, repr); err != nil {
			return err
		}
	}
	if output != nil {
		name := "!output"
		if err := insertBlobTx(ctx, tx, id, &name, output, "text/plain", nil); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE run_log SET finished_at = ?, outcome = 'finished' WHERE job_id = ? AND finished_at IS NULL`, now, id); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	rollback = false
	return nil
}

func (s *SQLiteStore) SetError(ctx context.Context, id int64, message string, compTime float64, output []byte) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	rollback := true
	defer func() {
		if rollback {
			_ = tx.Rollback()
		}
	}()

	now := nowString()
	res, err := tx.ExecContext(ctx, `
		UPDATE jobs SET state = ?, finished_date = ?, computation_time = ?
		WHERE id = ? AND state IN (?, ?)`, StateError, now, compTime, id, StateRunning, StateAnnounced)
	if err != nil {
		return fmt.Errorf("set error: %w", err)
	}
	n, _ := res.RowsAffected()
	if n != 1 {
		return orcoerr.New(orcoerr.KindStoreIntegrity, fmt.Sprintf("job %d was not Announced/Running", id))
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM announcements WHERE job_id = ?`, id); err != nil {
		return err
	}

	msgName := "!message"
	if err := insertBlobTx(ctx, tx, id, &msgName, []byte(message), "text/plain", nil); err != nil {
		return err
	}
	if output != nil {
		outName := "!output"
		if err := insertBlobTx(ctx, tx, id, &outName, output, "text/plain", nil); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE run_log SET finished_at = ?, outcome = 'error' WHERE job_id = ? AND finished_at IS NULL`, now, id); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	rollback = false
	return nil
}

func insertBlobTx(ctx context.Context, tx *sqlx.Tx, jobID int64, name *string, data []byte, mime string, repr *string) error {
	var existing int
	err := tx.GetContext(ctx, &existing, `SELECT COUNT(*) FROM blobs WHERE job_id = ? AND name IS ?`, jobID, name)
	if err != nil {
		return fmt.Errorf("check blob uniqueness: %w", err)
	}
	if existing > 0 {
		return orcoerr.New(orcoerr.KindStoreIntegrity, fmt.Sprintf("duplicate blob name for job %d", jobID))
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO blobs(job_id, name, data, mime, repr) VALUES (?, ?, ?, ?, ?)`, jobID, name, data, mime, repr)
	if err != nil {
		return fmt.Errorf("insert blob: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertBlob(ctx context.Context, jobID int64, name *string, data []byte, mime string, repr *string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := insertBlobTx(ctx, tx, jobID, name, data, mime, repr); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetBlob(ctx context.Context, jobID int64, name *string) (*Blob, error) {
	var row struct {
		Data []byte  `db:"data"`
		Mime string  `db:"mime"`
		Repr *string `db:"repr"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT data, mime, repr FROM blobs WHERE job_id = ? AND name IS ?`, jobID, name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get blob: %w", err)
	}
	return &Blob{JobID: jobID, Name: name, Data: row.Data, Mime: row.Mime, Repr: row.Repr}, nil
}

func (s *SQLiteStore) GetBlobNames(ctx context.Context, jobID int64) ([]string, error) {
	var names []sql.NullString
	if err := s.db.SelectContext(ctx, &names, `SELECT name FROM blobs WHERE job_id = ?`, jobID); err != nil {
		return nil, fmt.Errorf("get blob names: %w", err)
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n.Valid {
			out = append(out, n.String)
		} else {
			out = append(out, "")
		}
	}
	return out, nil
}

func (s *SQLiteStore) CreateJobWithValue(ctx context.Context, builder, key string, configBytes, data []byte, mime, repr string) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	rollback := true
	defer func() {
		if rollback {
			_ = tx.Rollback()
		}
	}()

	now := nowString()
	setupBytes, _ := encodeJobSetup(DefaultJobSetup())
	res, err := tx.ExecContext(ctx, `
		INSERT INTO jobs(state, builder, key, config, job_setup, created_date, finished_date, computation_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		StateFinished, builder, key, configBytes, setupBytes, now, now, 0.0)
	if err != nil {
		return false, fmt.Errorf("create job with value: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO announcements(key, job_id) VALUES (?, ?)`, key, id); err != nil {
		return false, nil // unique violation: key already actively announced
	}
	var reprPtr *string
	if repr != "" {
		reprPtr = &repr
	}
	if err := insertBlobTx(ctx, tx, id, nil, data, mime, reprPtr); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	rollback = false
	return true, nil
}

func (s *SQLiteStore) closure(ctx context.Context, seeds []int64, includeUpstream bool) ([]int64, error) {
	ids := map[int64]bool{}
	for _, q := range []string{recursiveDownstream} {
		rows, err := s.inQuery(ctx, q, seeds)
		if err != nil {
			return nil, err
		}
		for _, id := range rows {
			ids[id] = true
		}
	}
	if includeUpstream {
		rows, err := s.inQuery(ctx, recursiveUpstream, seeds)
		if err != nil {
			return nil, err
		}
		for _, id := range rows {
			ids[id] = true
		}
	}
	out := make([]int64, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	return out, nil
}

func (s *SQLiteStore) inQuery(ctx context.Context, query string, seeds []int64) ([]int64, error) {
	if len(seeds) == 0 {
		return nil, nil
	}
	q, args, err := sqlx.In(query, seeds)
	if err != nil {
		return nil, err
	}
	q = s.db.Rebind(q)
	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, q, args...); err != nil {
		return nil, fmt.Errorf("closure query: %w", err)
	}
	return ids, nil
}

func (s *SQLiteStore) idsForKeys(ctx context.Context, keys []string) ([]int64, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	q, args, err := sqlx.In(`SELECT id FROM jobs WHERE key IN (?)`, keys)
	if err != nil {
		return nil, err
	}
	q = s.db.Rebind(q)
	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, q, args...); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *SQLiteStore) idsForBuilder(ctx context.Context, builderName string) ([]int64, error) {
	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, `SELECT id FROM jobs WHERE builder = ?`, builderName); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *SQLiteStore) ArchiveKeys(ctx context.Context, keys []string, includeUpstream bool) error {
	seeds, err := s.idsForKeys(ctx, keys)
	if err != nil {
		return err
	}
	return s.archiveIDs(ctx, seeds, includeUpstream)
}

func (s *SQLiteStore) archiveIDs(ctx context.Context, seeds []int64, includeUpstream bool) error {
	ids, err := s.closure(ctx, seeds, includeUpstream)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	rollback := true
	defer func() {
		if rollback {
			_ = tx.Rollback()
		}
	}()

	q, args, err := sqlx.In(`UPDATE jobs SET state = ? WHERE id IN (?) AND state = ?`, StateArchivedFinished, ids, StateFinished)
	if err == nil {
		q = tx.Rebind(q)
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return err
		}
	}
	q, args, err = sqlx.In(`UPDATE jobs SET state = ? WHERE id IN (?) AND state = ?`, StateArchivedFreed, ids, StateFreed)
	if err == nil {
		q = tx.Rebind(q)
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return err
		}
	}
	q, args, err = sqlx.In(`UPDATE jobs SET state = ? WHERE id IN (?) AND state IN (?, ?)`, StateError, ids, StateAnnounced, StateRunning)
	if err == nil {
		q = tx.Rebind(q)
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return err
		}
	}
	q, args, err = sqlx.In(`DELETE FROM announcements WHERE job_id IN (?)`, ids)
	if err != nil {
		return err
	}
	q = tx.Rebind(q)
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	rollback = false
	return nil
}

func (s *SQLiteStore) DropKeys(ctx context.Context, keys []string, includeUpstream bool) error {
	seeds, err := s.idsForKeys(ctx, keys)
	if err != nil {
		return err
	}
	return s.dropIDs(ctx, seeds, includeUpstream)
}

func (s *SQLiteStore) dropIDs(ctx context.Context, seeds []int64, includeUpstream bool) error {
	ids, err := s.closure(ctx, seeds, includeUpstream)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	q, args, err := sqlx.In(`DELETE FROM jobs WHERE id IN (?)`, ids)
	if err != nil {
		return err
	}
	q = s.db.Rebind(q)
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("drop keys: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DropBuilder(ctx context.Context, builderName string, includeUpstream bool) error {
	seeds, err := s.idsForBuilder(ctx, builderName)
	if err != nil {
		return err
	}
	return s.dropIDs(ctx, seeds, includeUpstream)
}

func (s *SQLiteStore) FreeKeys(ctx context.Context, keys []string) error {
	ids, err := s.idsForKeys(ctx, keys)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	rollback := true
	defer func() {
		if rollback {
			_ = tx.Rollback()
		}
	}()

	q, args, err := sqlx.In(`UPDATE jobs SET state = ? WHERE id IN (?) AND state = ?`, StateFreed, ids, StateFinished)
	if err != nil {
		return err
	}
	q = tx.Rebind(q)
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return err
	}
	q, args, err = sqlx.In(`DELETE FROM blobs WHERE job_id IN (?) AND name IS NULL`, ids)
	if err != nil {
		return err
	}
	q = tx.Rebind(q)
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	rollback = false
	return nil
}

func (s *SQLiteStore) ReadJobs(ctx context.Context, key string) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, state, builder, key, config, job_setup, created_date, finished_date, computation_time
		FROM jobs WHERE key = ? ORDER BY id`, key)
	if err != nil {
		return nil, fmt.Errorf("read jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func scanJobs(rows *sql.Rows) ([]Job, error) {
	var out []Job
	for rows.Next() {
		var j Job
		var setupBytes []byte
		var finished sql.NullString
		var compTime sql.NullFloat64
		var created string
		if err := rows.Scan(&j.ID, &j.State, &j.Builder, &j.Key, &j.ConfigBytes, &setupBytes, &created, &finished, &compTime); err != nil {
			return nil, err
		}
		j.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		if finished.Valid {
			t, _ := time.Parse(time.RFC3339Nano, finished.String)
			j.FinishedAt = &t
		}
		if compTime.Valid {
			v := compTime.Float64
			j.ComputationTime = &v
		}
		setup, err := decodeJobSetup(setupBytes)
		if err != nil {
			return nil, err
		}
		j.JobSetup = setup
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ReadMetadata(ctx context.Context, id int64) (*Metadata, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, state, builder, key, config, job_setup, created_date, finished_date, computation_time
		FROM jobs WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	j := jobs[0]
	return &Metadata{
		Builder:         j.Builder,
		CreatedAt:       j.CreatedAt,
		FinishedAt:      j.FinishedAt,
		ComputationTime: j.ComputationTime,
		JobSetup:        j.JobSetup,
	}, nil
}

func (s *SQLiteStore) GetRunStats(ctx context.Context, builder string) (*RunStats, error) {
	var times []float64
	err := s.db.SelectContext(ctx, &times, `
		SELECT computation_time FROM jobs
		WHERE builder = ? AND state IN (?, ?, ?, ?) AND computation_time IS NOT NULL`,
		builder, StateFinished, StateFreed, StateArchivedFinished, StateArchivedFreed)
	if err != nil {
		return nil, fmt.Errorf("get run stats: %w", err)
	}
	stats := &RunStats{Builder: builder, Count: int64(len(times))}
	if len(times) == 0 {
		return stats, nil
	}
	var sum float64
	for _, t := range times {
		sum += t
	}
	mean := sum / float64(len(times))
	var variance float64
	for _, t := range times {
		variance += (t - mean) * (t - mean)
	}
	variance /= float64(len(times))
	stats.MeanSeconds = mean
	stats.StddevSeconds = sqrtApprox(variance)
	return stats, nil
}

// sqrtApprox avoids importing math just for one call site elsewhere in the
// package; kept local since it is only needed for stddev reporting.
func sqrtApprox(x float64) float64 {
	if x <= 0 {
		return 0
	}
	z := x
	for i := 0; i < 40; i++ {
		z -= (z*z - x) / (2 * z)
	}
	return z
}

func (s *SQLiteStore) UpgradeBuilder(ctx context.Context, mapping map[string]string) error {
	// Collision check: no "to" key may already be present among existing keys.
	tos := make([]string, 0, len(mapping))
	for _, to := range mapping {
		tos = append(tos, to)
	}
	existing, err := s.idsForKeys(ctx, tos)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return orcoerr.New(orcoerr.KindStoreIntegrity, "upgrade_builder: destination key already present")
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	rollback := true
	defer func() {
		if rollback {
			_ = tx.Rollback()
		}
	}()
	for from, to := range mapping {
		if _, err := tx.ExecContext(ctx, `UPDATE jobs SET key = ? WHERE key = ?`, to, from); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE announcements SET key = ? WHERE key = ?`, to, from); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	rollback = false
	return nil
}

func (s *SQLiteStore) BuilderSummaries(ctx context.Context) ([]BuilderSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT builder, state, COUNT(*), COALESCE(SUM(LENGTH(config)), 0)
		FROM jobs GROUP BY builder, state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	byBuilder := map[string]*BuilderSummary{}
	var order []string
	for rows.Next() {
		var builder string
		var state State
		var count, bytes int64
		if err := rows.Scan(&builder, &state, &count, &bytes); err != nil {
			return nil, err
		}
		b, ok := byBuilder[builder]
		if !ok {
			b = &BuilderSummary{Builder: builder, Counts: map[State]int64{}}
			byBuilder[builder] = b
			order = append(order, builder)
		}
		b.Counts[state] = count
		b.TotalBytes += bytes
	}
	out := make([]BuilderSummary, 0, len(order))
	for _, name := range order {
		out = append(out, *byBuilder[name])
	}
	return out, rows.Err()
}

func (s *SQLiteStore) JobsForBuilder(ctx context.Context, builder string) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, state, builder, key, config, job_setup, created_date, finished_date, computation_time
		FROM jobs WHERE builder = ? ORDER BY id`, builder)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (s *SQLiteStore) StatusSummary(ctx context.Context) (*StatusSummary, error) {
	summary := &StatusSummary{}
	counts := map[State]int64{}
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var st State
		var c int64
		if err := rows.Scan(&st, &c); err != nil {
			rows.Close()
			return nil, err
		}
		counts[st] = c
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	summary.Announced = counts[StateAnnounced]
	summary.Running = counts[StateRunning]
	summary.Finished = counts[StateFinished]

	errRows, err := s.db.QueryContext(ctx, `
		SELECT id, state, builder, key, config, job_setup, created_date, finished_date, computation_time
		FROM jobs WHERE state = ? ORDER BY finished_date DESC LIMIT 5`, StateError)
	if err != nil {
		return nil, err
	}
	defer errRows.Close()
	jobs, err := scanJobs(errRows)
	if err != nil {
		return nil, err
	}
	summary.RecentErrors = jobs
	return summary, nil
}
