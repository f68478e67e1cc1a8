package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/jobledger/internal/apperrors"
	"github.com/kiranshivaraju/jobledger/pkg/models"
)

const (
	jobColumns = `id, name, user_name, version, command_args, status, status_msg,
		cluster_id, command_id, application_ids, started, finished, created, updated`
	jobExecutionColumns = `id, host_name, process_id, check_delay, timeout, exit_code,
		final_status, created, updated`
	jobRequestColumns = `id, name, user_name, version, command_args, tags, cluster_criteria,
		command_criteria, application_ids, cpu, memory, timeout_seconds, created`
	jobMetadataColumns = `id, client_host, user_agent, num_attachments, total_size_of_attachments, created`
)

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithLockTimeout bounds how long a transaction waits for a row lock before
// failing with ConcurrentUpdate. Zero waits indefinitely.
func WithLockTimeout(d time.Duration) PostgresOption {
	return func(s *PostgresStore) {
		s.lockTimeout = d
	}
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{pool: pool}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return classifyPgError("store.ping", s.pool.Ping(ctx))
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// InTx runs fn in a READ COMMITTED transaction. Row locks taken through
// Tx.Lock* serialize writers on the same job.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		if s.lockTimeout > 0 {
			// SET cannot take bind parameters.
			stmt := fmt.Sprintf("SET LOCAL lock_timeout = %d", s.lockTimeout.Milliseconds())
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return classifyPgError("store.setLockTimeout", err)
			}
		}
		return fn(&pgTx{tx: tx})
	})
	return classifyPgError("store.tx", err)
}

// --- Reads ---

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	return getJob(ctx, s.pool, id, false)
}

func (s *PostgresStore) GetJobExecution(ctx context.Context, id string) (*models.JobExecution, error) {
	return getJobExecution(ctx, s.pool, id, false)
}

func (s *PostgresStore) GetJobRequest(ctx context.Context, id string) (*models.JobRequest, error) {
	return getJobRequest(ctx, s.pool, id, false)
}

func (s *PostgresStore) GetJobRequestMetadata(ctx context.Context, id string) (*models.JobRequestMetadata, error) {
	var md models.JobRequestMetadata
	err := s.pool.QueryRow(ctx,
		`SELECT `+jobMetadataColumns+` FROM job_request_metadata WHERE id = $1`, id,
	).Scan(&md.ID, &md.ClientHost, &md.UserAgent, &md.NumAttachments, &md.TotalSizeOfAttachments, &md.Created)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound(ResourceJobMetadata, id)
	}
	if err != nil {
		return nil, classifyPgError("store.getJobRequestMetadata", err)
	}
	md.Created = md.Created.UTC()
	return &md, nil
}

// --- Retention scans ---

func (s *PostgresStore) ListJobIDsCreatedBefore(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM jobs WHERE created < $1 AND id > $2 ORDER BY id LIMIT $3`,
		cutoff.UTC(), afterID, limit)
	if err != nil {
		return nil, classifyPgError("store.listJobIDsCreatedBefore", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, classifyPgError("store.listJobIDsCreatedBefore", err)
	}
	return ids, nil
}

func (s *PostgresStore) ListOrphanedJobRequestIDs(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT r.id FROM job_requests r
		 WHERE r.created < $1 AND r.id > $2
		   AND NOT EXISTS (SELECT 1 FROM jobs j WHERE j.id = r.id)
		 ORDER BY r.id LIMIT $3`,
		cutoff.UTC(), afterID, limit)
	if err != nil {
		return nil, classifyPgError("store.listOrphanedJobRequestIDs", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, classifyPgError("store.listOrphanedJobRequestIDs", err)
	}
	return ids, nil
}

// pgTx implements Tx on a pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) CreateJobRequest(ctx context.Context, req *models.JobRequest, md *models.JobRequestMetadata) error {
	criteria := req.ClusterCriteria
	if criteria == nil {
		criteria = []models.ClusterCriterion{}
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO job_requests (`+jobRequestColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		req.ID, req.Name, req.User, req.Version, req.CommandArgs, req.Tags, criteria,
		req.CommandCriteria, req.ApplicationIDs, req.CPU, req.Memory, req.TimeoutSeconds, req.Created.UTC())
	if err != nil {
		if isDuplicateKeyError(err) {
			return apperrors.DuplicateID(ResourceJobRequest, req.ID)
		}
		return classifyPgError("store.createJobRequest", err)
	}

	_, err = t.tx.Exec(ctx,
		`INSERT INTO job_request_metadata (`+jobMetadataColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		md.ID, md.ClientHost, md.UserAgent, md.NumAttachments, md.TotalSizeOfAttachments, md.Created.UTC())
	if err != nil {
		if isDuplicateKeyError(err) {
			return apperrors.DuplicateID(ResourceJobMetadata, md.ID)
		}
		return classifyPgError("store.createJobRequestMetadata", err)
	}
	return nil
}

func (t *pgTx) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		job.ID, job.Name, job.User, job.Version, job.CommandArgs, string(job.Status), job.StatusMessage,
		job.ClusterID, job.CommandID, job.ApplicationIDs, utcPtr(job.Started), utcPtr(job.Finished),
		job.Created.UTC(), job.Updated.UTC())
	if err != nil {
		if isDuplicateKeyError(err) {
			return apperrors.DuplicateID(ResourceJob, job.ID)
		}
		return classifyPgError("store.createJob", err)
	}
	return nil
}

func (t *pgTx) CreateJobExecution(ctx context.Context, exec *models.JobExecution) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO job_executions (`+jobExecutionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		exec.ID, exec.HostName, exec.ProcessID, exec.CheckDelay, utcPtr(exec.Timeout), exec.ExitCode,
		statusPtr(exec.FinalStatus), exec.Created.UTC(), exec.Updated.UTC())
	if err != nil {
		if isDuplicateKeyError(err) {
			return apperrors.DuplicateID(ResourceJobExecution, exec.ID)
		}
		return classifyPgError("store.createJobExecution", err)
	}
	return nil
}

func (t *pgTx) LockJob(ctx context.Context, id string) (*models.Job, error) {
	return getJob(ctx, t.tx, id, true)
}

func (t *pgTx) LockJobExecution(ctx context.Context, id string) (*models.JobExecution, error) {
	return getJobExecution(ctx, t.tx, id, true)
}

func (t *pgTx) LockJobRequest(ctx context.Context, id string) (*models.JobRequest, error) {
	return getJobRequest(ctx, t.tx, id, true)
}

func (t *pgTx) UpdateJob(ctx context.Context, job *models.Job) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE jobs SET status = $2, status_msg = $3, cluster_id = $4, command_id = $5,
		 application_ids = $6, started = $7, finished = $8, updated = $9
		 WHERE id = $1`,
		job.ID, string(job.Status), job.StatusMessage, job.ClusterID, job.CommandID,
		job.ApplicationIDs, utcPtr(job.Started), utcPtr(job.Finished), job.Updated.UTC())
	if err != nil {
		return classifyPgError("store.updateJob", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound(ResourceJob, job.ID)
	}
	return nil
}

func (t *pgTx) UpdateJobExecution(ctx context.Context, exec *models.JobExecution) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE job_executions SET process_id = $2, check_delay = $3, timeout = $4,
		 exit_code = $5, final_status = $6, updated = $7
		 WHERE id = $1`,
		exec.ID, exec.ProcessID, exec.CheckDelay, utcPtr(exec.Timeout), exec.ExitCode,
		statusPtr(exec.FinalStatus), exec.Updated.UTC())
	if err != nil {
		return classifyPgError("store.updateJobExecution", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound(ResourceJobExecution, exec.ID)
	}
	return nil
}

func (t *pgTx) DeleteJob(ctx context.Context, id string) (bool, error) {
	if _, err := t.tx.Exec(ctx, `DELETE FROM job_executions WHERE id = $1`, id); err != nil {
		return false, classifyPgError("store.deleteJobExecution", err)
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return false, classifyPgError("store.deleteJob", err)
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM job_request_metadata WHERE id = $1`, id); err != nil {
		return false, classifyPgError("store.deleteJobRequestMetadata", err)
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM job_requests WHERE id = $1`, id); err != nil {
		return false, classifyPgError("store.deleteJobRequest", err)
	}
	return tag.RowsAffected() > 0, nil
}

// --- Shared row access ---

func getJob(ctx context.Context, q pgQuerier, id string, forUpdate bool) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var j models.Job
	var status string
	err := q.QueryRow(ctx, query, id).Scan(
		&j.ID, &j.Name, &j.User, &j.Version, &j.CommandArgs, &status, &j.StatusMessage,
		&j.ClusterID, &j.CommandID, &j.ApplicationIDs, &j.Started, &j.Finished, &j.Created, &j.Updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound(ResourceJob, id)
	}
	if err != nil {
		return nil, classifyPgError("store.getJob", err)
	}
	j.Status = models.JobStatus(status)
	normalizeJob(&j)
	return &j, nil
}

func getJobExecution(ctx context.Context, q pgQuerier, id string, forUpdate bool) (*models.JobExecution, error) {
	query := `SELECT ` + jobExecutionColumns + ` FROM job_executions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var e models.JobExecution
	var finalStatus *string
	err := q.QueryRow(ctx, query, id).Scan(
		&e.ID, &e.HostName, &e.ProcessID, &e.CheckDelay, &e.Timeout, &e.ExitCode,
		&finalStatus, &e.Created, &e.Updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound(ResourceJobExecution, id)
	}
	if err != nil {
		return nil, classifyPgError("store.getJobExecution", err)
	}
	if finalStatus != nil {
		st := models.JobStatus(*finalStatus)
		e.FinalStatus = &st
	}
	normalizeJobExecution(&e)
	return &e, nil
}

func getJobRequest(ctx context.Context, q pgQuerier, id string, forUpdate bool) (*models.JobRequest, error) {
	query := `SELECT ` + jobRequestColumns + ` FROM job_requests WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var r models.JobRequest
	err := q.QueryRow(ctx, query, id).Scan(
		&r.ID, &r.Name, &r.User, &r.Version, &r.CommandArgs, &r.Tags, &r.ClusterCriteria,
		&r.CommandCriteria, &r.ApplicationIDs, &r.CPU, &r.Memory, &r.TimeoutSeconds, &r.Created)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound(ResourceJobRequest, id)
	}
	if err != nil {
		return nil, classifyPgError("store.getJobRequest", err)
	}
	r.Created = r.Created.UTC()
	return &r, nil
}

func normalizeJob(j *models.Job) {
	j.Started = utcPtr(j.Started)
	j.Finished = utcPtr(j.Finished)
	j.Created = j.Created.UTC()
	j.Updated = j.Updated.UTC()
}

func normalizeJobExecution(e *models.JobExecution) {
	e.Timeout = utcPtr(e.Timeout)
	e.Created = e.Created.UTC()
	e.Updated = e.Updated.UTC()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func statusPtr(s *models.JobStatus) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}
