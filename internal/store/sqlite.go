package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kiranshivaraju/jobledger/internal/apperrors"
	"github.com/kiranshivaraju/jobledger/pkg/models"
)

// SQLiteStore implements the Store interface on modernc.org/sqlite (CGO-free).
// It holds a single connection, so transactions are serialized and Lock*
// reads need no row locking. Use ":memory:" for an in-memory database.
type SQLiteStore struct {
	db *sql.DB
}

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQLiteStore opens the SQLite database at path and creates the schema.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", p, err)
	}
	// An in-memory database lives exactly as long as its connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	s := &SQLiteStore{db: db}
	for _, pragma := range []string{"PRAGMA busy_timeout=3000;", "PRAGMA foreign_keys=ON;"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", pragma, err)
		}
	}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure sqlite schema: %w", err)
	}
	return s, nil
}

// EnsureSchema creates the job tables when they are missing.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS job_requests(
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			user_name TEXT NOT NULL,
			version TEXT NOT NULL,
			command_args TEXT NOT NULL DEFAULT '',
			tags TEXT NULL,
			cluster_criteria TEXT NOT NULL DEFAULT '[]',
			command_criteria TEXT NULL,
			application_ids TEXT NULL,
			cpu INTEGER NULL,
			memory INTEGER NULL,
			timeout_seconds INTEGER NULL,
			created TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_job_requests_created ON job_requests(created);`,
		`CREATE TABLE IF NOT EXISTS job_request_metadata(
			id TEXT PRIMARY KEY REFERENCES job_requests(id) ON DELETE CASCADE,
			client_host TEXT NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT '',
			num_attachments INTEGER NOT NULL DEFAULT 0,
			total_size_of_attachments INTEGER NOT NULL DEFAULT 0,
			created TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS jobs(
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			user_name TEXT NOT NULL,
			version TEXT NOT NULL,
			command_args TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			status_msg TEXT NOT NULL,
			cluster_id TEXT NULL,
			command_id TEXT NULL,
			application_ids TEXT NULL,
			started TIMESTAMP NULL,
			finished TIMESTAMP NULL,
			created TIMESTAMP NOT NULL,
			updated TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);`,
		`CREATE TABLE IF NOT EXISTS job_executions(
			id TEXT PRIMARY KEY REFERENCES jobs(id) ON DELETE CASCADE,
			host_name TEXT NOT NULL,
			process_id INTEGER NULL,
			check_delay INTEGER NULL,
			timeout TIMESTAMP NULL,
			exit_code INTEGER NULL,
			final_status TEXT NULL,
			created TIMESTAMP NOT NULL,
			updated TIMESTAMP NOT NULL
		);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return classifySQLiteError("store.ping", s.db.PingContext(ctx))
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifySQLiteError("store.begin", err)
	}
	if err := fn(&sqliteTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return classifySQLiteError("store.tx", err)
	}
	if err := tx.Commit(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return apperrors.Unavailable("store.commit", ctxErr)
		}
		return classifySQLiteError("store.commit", err)
	}
	return nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	return sqliteGetJob(ctx, s.db, id)
}

func (s *SQLiteStore) GetJobExecution(ctx context.Context, id string) (*models.JobExecution, error) {
	return sqliteGetJobExecution(ctx, s.db, id)
}

func (s *SQLiteStore) GetJobRequest(ctx context.Context, id string) (*models.JobRequest, error) {
	return sqliteGetJobRequest(ctx, s.db, id)
}

func (s *SQLiteStore) GetJobRequestMetadata(ctx context.Context, id string) (*models.JobRequestMetadata, error) {
	var md models.JobRequestMetadata
	err := s.db.QueryRowContext(ctx,
		`SELECT `+jobMetadataColumns+` FROM job_request_metadata WHERE id = ?`, id,
	).Scan(&md.ID, &md.ClientHost, &md.UserAgent, &md.NumAttachments, &md.TotalSizeOfAttachments, &md.Created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound(ResourceJobMetadata, id)
	}
	if err != nil {
		return nil, classifySQLiteError("store.getJobRequestMetadata", err)
	}
	md.Created = md.Created.UTC()
	return &md, nil
}

func (s *SQLiteStore) ListJobIDsCreatedBefore(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]string, error) {
	return sqliteListIDs(ctx, s.db, "store.listJobIDsCreatedBefore",
		`SELECT id FROM jobs WHERE created < ? AND id > ? ORDER BY id LIMIT ?`,
		cutoff.UTC(), afterID, limit)
}

func (s *SQLiteStore) ListOrphanedJobRequestIDs(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]string, error) {
	return sqliteListIDs(ctx, s.db, "store.listOrphanedJobRequestIDs",
		`SELECT r.id FROM job_requests r
		 WHERE r.created < ? AND r.id > ?
		   AND NOT EXISTS (SELECT 1 FROM jobs j WHERE j.id = r.id)
		 ORDER BY r.id LIMIT ?`,
		cutoff.UTC(), afterID, limit)
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) CreateJobRequest(ctx context.Context, req *models.JobRequest, md *models.JobRequestMetadata) error {
	tags, err := encodeList(req.Tags)
	if err != nil {
		return apperrors.Internal("store.createJobRequest", err)
	}
	criteria := req.ClusterCriteria
	if criteria == nil {
		criteria = []models.ClusterCriterion{}
	}
	clusterCriteria, err := json.Marshal(criteria)
	if err != nil {
		return apperrors.Internal("store.createJobRequest", err)
	}
	commandCriteria, err := encodeList(req.CommandCriteria)
	if err != nil {
		return apperrors.Internal("store.createJobRequest", err)
	}
	appIDs, err := encodeList(req.ApplicationIDs)
	if err != nil {
		return apperrors.Internal("store.createJobRequest", err)
	}

	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO job_requests (`+jobRequestColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.Name, req.User, req.Version, req.CommandArgs, tags, string(clusterCriteria),
		commandCriteria, appIDs, req.CPU, req.Memory, req.TimeoutSeconds, req.Created.UTC())
	if err != nil {
		if isSQLiteDuplicateKey(err) {
			return apperrors.DuplicateID(ResourceJobRequest, req.ID)
		}
		return classifySQLiteError("store.createJobRequest", err)
	}

	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO job_request_metadata (`+jobMetadataColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		md.ID, md.ClientHost, md.UserAgent, md.NumAttachments, md.TotalSizeOfAttachments, md.Created.UTC())
	if err != nil {
		if isSQLiteDuplicateKey(err) {
			return apperrors.DuplicateID(ResourceJobMetadata, md.ID)
		}
		return classifySQLiteError("store.createJobRequestMetadata", err)
	}
	return nil
}

func (t *sqliteTx) CreateJob(ctx context.Context, job *models.Job) error {
	appIDs, err := encodeList(job.ApplicationIDs)
	if err != nil {
		return apperrors.Internal("store.createJob", err)
	}
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, job.User, job.Version, job.CommandArgs, string(job.Status), job.StatusMessage,
		job.ClusterID, job.CommandID, appIDs, nullTime(job.Started), nullTime(job.Finished),
		job.Created.UTC(), job.Updated.UTC())
	if err != nil {
		if isSQLiteDuplicateKey(err) {
			return apperrors.DuplicateID(ResourceJob, job.ID)
		}
		return classifySQLiteError("store.createJob", err)
	}
	return nil
}

func (t *sqliteTx) CreateJobExecution(ctx context.Context, exec *models.JobExecution) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO job_executions (`+jobExecutionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.HostName, exec.ProcessID, exec.CheckDelay, nullTime(exec.Timeout), exec.ExitCode,
		statusPtr(exec.FinalStatus), exec.Created.UTC(), exec.Updated.UTC())
	if err != nil {
		if isSQLiteDuplicateKey(err) {
			return apperrors.DuplicateID(ResourceJobExecution, exec.ID)
		}
		return classifySQLiteError("store.createJobExecution", err)
	}
	return nil
}

func (t *sqliteTx) LockJob(ctx context.Context, id string) (*models.Job, error) {
	return sqliteGetJob(ctx, t.tx, id)
}

func (t *sqliteTx) LockJobExecution(ctx context.Context, id string) (*models.JobExecution, error) {
	return sqliteGetJobExecution(ctx, t.tx, id)
}

func (t *sqliteTx) LockJobRequest(ctx context.Context, id string) (*models.JobRequest, error) {
	return sqliteGetJobRequest(ctx, t.tx, id)
}

func (t *sqliteTx) UpdateJob(ctx context.Context, job *models.Job) error {
	appIDs, err := encodeList(job.ApplicationIDs)
	if err != nil {
		return apperrors.Internal("store.updateJob", err)
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, status_msg = ?, cluster_id = ?, command_id = ?,
		 application_ids = ?, started = ?, finished = ?, updated = ?
		 WHERE id = ?`,
		string(job.Status), job.StatusMessage, job.ClusterID, job.CommandID,
		appIDs, nullTime(job.Started), nullTime(job.Finished), job.Updated.UTC(), job.ID)
	if err != nil {
		return classifySQLiteError("store.updateJob", err)
	}
	return requireAffected(res, ResourceJob, job.ID)
}

func (t *sqliteTx) UpdateJobExecution(ctx context.Context, exec *models.JobExecution) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE job_executions SET process_id = ?, check_delay = ?, timeout = ?,
		 exit_code = ?, final_status = ?, updated = ?
		 WHERE id = ?`,
		exec.ProcessID, exec.CheckDelay, nullTime(exec.Timeout), exec.ExitCode,
		statusPtr(exec.FinalStatus), exec.Updated.UTC(), exec.ID)
	if err != nil {
		return classifySQLiteError("store.updateJobExecution", err)
	}
	return requireAffected(res, ResourceJobExecution, exec.ID)
}

func (t *sqliteTx) DeleteJob(ctx context.Context, id string) (bool, error) {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM job_executions WHERE id = ?`, id); err != nil {
		return false, classifySQLiteError("store.deleteJobExecution", err)
	}
	res, err := t.tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, classifySQLiteError("store.deleteJob", err)
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM job_request_metadata WHERE id = ?`, id); err != nil {
		return false, classifySQLiteError("store.deleteJobRequestMetadata", err)
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM job_requests WHERE id = ?`, id); err != nil {
		return false, classifySQLiteError("store.deleteJobRequest", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classifySQLiteError("store.deleteJob", err)
	}
	return n > 0, nil
}

// --- Shared row access ---

func sqliteGetJob(ctx context.Context, q sqlQuerier, id string) (*models.Job, error) {
	var (
		j                    models.Job
		status               string
		clusterID, commandID sql.NullString
		appIDs               sql.NullString
		started, finished    sql.NullTime
	)
	err := q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id).Scan(
		&j.ID, &j.Name, &j.User, &j.Version, &j.CommandArgs, &status, &j.StatusMessage,
		&clusterID, &commandID, &appIDs, &started, &finished, &j.Created, &j.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound(ResourceJob, id)
	}
	if err != nil {
		return nil, classifySQLiteError("store.getJob", err)
	}

	j.Status = models.JobStatus(status)
	j.ClusterID = stringPtr(clusterID)
	j.CommandID = stringPtr(commandID)
	if j.ApplicationIDs, err = decodeList(appIDs); err != nil {
		return nil, apperrors.Internal("store.getJob", err)
	}
	j.Started = timePtr(started)
	j.Finished = timePtr(finished)
	normalizeJob(&j)
	return &j, nil
}

func sqliteGetJobExecution(ctx context.Context, q sqlQuerier, id string) (*models.JobExecution, error) {
	var (
		e                   models.JobExecution
		processID, exitCode sql.NullInt64
		checkDelay          sql.NullInt64
		timeout             sql.NullTime
		finalStatus         sql.NullString
	)
	err := q.QueryRowContext(ctx, `SELECT `+jobExecutionColumns+` FROM job_executions WHERE id = ?`, id).Scan(
		&e.ID, &e.HostName, &processID, &checkDelay, &timeout, &exitCode,
		&finalStatus, &e.Created, &e.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound(ResourceJobExecution, id)
	}
	if err != nil {
		return nil, classifySQLiteError("store.getJobExecution", err)
	}

	e.ProcessID = intPtr(processID)
	if checkDelay.Valid {
		v := checkDelay.Int64
		e.CheckDelay = &v
	}
	e.Timeout = timePtr(timeout)
	e.ExitCode = intPtr(exitCode)
	if finalStatus.Valid {
		st := models.JobStatus(finalStatus.String)
		e.FinalStatus = &st
	}
	normalizeJobExecution(&e)
	return &e, nil
}

func sqliteGetJobRequest(ctx context.Context, q sqlQuerier, id string) (*models.JobRequest, error) {
	var (
		r                             models.JobRequest
		tags, commandCriteria, appIDs sql.NullString
		clusterCriteria               string
		cpu, memory, timeoutSeconds   sql.NullInt64
	)
	err := q.QueryRowContext(ctx, `SELECT `+jobRequestColumns+` FROM job_requests WHERE id = ?`, id).Scan(
		&r.ID, &r.Name, &r.User, &r.Version, &r.CommandArgs, &tags, &clusterCriteria,
		&commandCriteria, &appIDs, &cpu, &memory, &timeoutSeconds, &r.Created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound(ResourceJobRequest, id)
	}
	if err != nil {
		return nil, classifySQLiteError("store.getJobRequest", err)
	}

	if r.Tags, err = decodeList(tags); err != nil {
		return nil, apperrors.Internal("store.getJobRequest", err)
	}
	if err := json.Unmarshal([]byte(clusterCriteria), &r.ClusterCriteria); err != nil {
		return nil, apperrors.Internal("store.getJobRequest", err)
	}
	if r.CommandCriteria, err = decodeList(commandCriteria); err != nil {
		return nil, apperrors.Internal("store.getJobRequest", err)
	}
	if r.ApplicationIDs, err = decodeList(appIDs); err != nil {
		return nil, apperrors.Internal("store.getJobRequest", err)
	}
	r.CPU = intPtr(cpu)
	r.Memory = intPtr(memory)
	r.TimeoutSeconds = intPtr(timeoutSeconds)
	r.Created = r.Created.UTC()
	return &r, nil
}

func sqliteListIDs(ctx context.Context, q sqlQuerier, op, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifySQLiteError(op, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classifySQLiteError(op, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classifySQLiteError(op, err)
	}
	return ids, nil
}

func requireAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return classifySQLiteError("store.rowsAffected", err)
	}
	if n == 0 {
		return apperrors.NotFound(resource, id)
	}
	return nil
}

// encodeList stores a string list as JSON text. A nil list stays NULL.
func encodeList(list []string) (any, error) {
	if list == nil {
		return nil, nil
	}
	b, err := json.Marshal(list)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeList(s sql.NullString) ([]string, error) {
	if !s.Valid {
		return nil, nil
	}
	list := []string{}
	if err := json.Unmarshal([]byte(s.String), &list); err != nil {
		return nil, err
	}
	return list, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
