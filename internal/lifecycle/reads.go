package lifecycle

import (
	"context"
	"time"

	"github.com/kiranshivaraju/jobledger/internal/cache"
	"github.com/kiranshivaraju/jobledger/pkg/models"
)

// GetJob returns the job with the given id.
func (s *Service) GetJob(ctx context.Context, id string) (job *models.Job, err error) {
	start := time.Now()
	defer func() { s.finish(ctx, OpGetJob, id, start, err) }()

	if err := requireID("id", id); err != nil {
		return nil, err
	}
	err = s.read(ctx, func(ctx context.Context) error {
		var err error
		job, err = s.store.GetJob(ctx, id)
		return err
	})
	return job, err
}

// GetJobExecution returns the execution record of the job with the given id.
func (s *Service) GetJobExecution(ctx context.Context, id string) (exec *models.JobExecution, err error) {
	if err := requireID("id", id); err != nil {
		return nil, err
	}
	err = s.read(ctx, func(ctx context.Context) error {
		var err error
		exec, err = s.store.GetJobExecution(ctx, id)
		return err
	})
	return exec, err
}

// GetJobRequest returns the request a job was created from.
func (s *Service) GetJobRequest(ctx context.Context, id string) (req *models.JobRequest, err error) {
	if err := requireID("id", id); err != nil {
		return nil, err
	}
	err = s.read(ctx, func(ctx context.Context) error {
		var err error
		req, err = s.store.GetJobRequest(ctx, id)
		return err
	})
	return req, err
}

// GetJobRequestMetadata returns the submission metadata of a request.
func (s *Service) GetJobRequestMetadata(ctx context.Context, id string) (md *models.JobRequestMetadata, err error) {
	if err := requireID("id", id); err != nil {
		return nil, err
	}
	err = s.read(ctx, func(ctx context.Context) error {
		var err error
		md, err = s.store.GetJobRequestMetadata(ctx, id)
		return err
	})
	return md, err
}

// GetJobStatus returns a job's status and message, from the cache when
// present. Cache failures and tombstones fall through to the store. The
// refill carries the job's update time, so it never replaces an entry
// written by a later commit.
func (s *Service) GetJobStatus(ctx context.Context, id string) (status models.JobStatus, message string, err error) {
	start := time.Now()
	defer func() { s.finish(ctx, OpGetJobStatus, id, start, err) }()

	if err := requireID("id", id); err != nil {
		return "", "", err
	}

	if s.cache != nil {
		entry, ok, err := s.cache.GetJobStatus(ctx, id)
		if err != nil {
			s.logger.Warn("read cached job status failed", "job_id", id, "error", err)
		} else if ok && !entry.Deleted {
			return entry.Status, entry.Message, nil
		}
	}

	var job *models.Job
	err = s.read(ctx, func(ctx context.Context) error {
		var err error
		job, err = s.store.GetJob(ctx, id)
		return err
	})
	if err != nil {
		return "", "", err
	}

	if s.cache != nil {
		entry := cache.StatusEntry{Status: job.Status, Message: job.StatusMessage, UpdatedAt: job.Updated}
		if err := s.cache.SetJobStatus(ctx, id, entry, s.statusTTL); err != nil {
			s.logger.Warn("cache job status failed", "job_id", id, "error", err)
		}
	}
	return job.Status, job.StatusMessage, nil
}

// Ping reports whether the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.read(ctx, s.store.Ping)
}
