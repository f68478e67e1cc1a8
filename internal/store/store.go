package store

import (
	"context"
	"time"

	"github.com/kiranshivaraju/jobledger/pkg/models"
)

// Store is the persistence gateway. All database operations go through here.
// Errors are *apperrors.Error values: NotFound for missing rows, DuplicateID
// for key collisions, ConcurrentUpdate for lost races and Unavailable for
// timeouts or connectivity failures.
type Store interface {
	Ping(ctx context.Context) error
	Close() error

	// InTx runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise, so no partial write survives.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	GetJob(ctx context.Context, id string) (*models.Job, error)
	GetJobExecution(ctx context.Context, id string) (*models.JobExecution, error)
	GetJobRequest(ctx context.Context, id string) (*models.JobRequest, error)
	GetJobRequestMetadata(ctx context.Context, id string) (*models.JobRequestMetadata, error)

	// ListJobIDsCreatedBefore pages through ids of jobs created strictly
	// before cutoff, ordered by id and starting after afterID.
	ListJobIDsCreatedBefore(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]string, error)
	// ListOrphanedJobRequestIDs pages through ids of requests created strictly
	// before cutoff that have no job.
	ListOrphanedJobRequestIDs(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]string, error)
}

// Tx is the set of operations available inside a transaction. Lock* methods
// read a row and hold it against concurrent writers until the transaction ends.
type Tx interface {
	CreateJobRequest(ctx context.Context, req *models.JobRequest, md *models.JobRequestMetadata) error
	CreateJob(ctx context.Context, job *models.Job) error
	CreateJobExecution(ctx context.Context, exec *models.JobExecution) error

	LockJob(ctx context.Context, id string) (*models.Job, error)
	LockJobExecution(ctx context.Context, id string) (*models.JobExecution, error)
	LockJobRequest(ctx context.Context, id string) (*models.JobRequest, error)

	// UpdateJob writes the mutable job columns: status, message, runtime
	// environment, started, finished and updated.
	UpdateJob(ctx context.Context, job *models.Job) error
	// UpdateJobExecution writes the mutable telemetry columns.
	UpdateJobExecution(ctx context.Context, exec *models.JobExecution) error

	// DeleteJob removes the job, its execution, request and request metadata.
	// It reports whether a job row was removed.
	DeleteJob(ctx context.Context, id string) (bool, error)
}

const (
	ResourceJob          = "job"
	ResourceJobExecution = "job_execution"
	ResourceJobRequest   = "job_request"
	ResourceJobMetadata  = "job_request_metadata"
)
