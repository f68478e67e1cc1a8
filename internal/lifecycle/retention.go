package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/kiranshivaraju/jobledger/internal/apperrors"
	"github.com/kiranshivaraju/jobledger/internal/cache"
	"github.com/kiranshivaraju/jobledger/internal/history"
	"github.com/kiranshivaraju/jobledger/internal/store"
)

// DeleteAllJobsCreatedBeforeDate deletes every job created strictly before
// cutoff together with its execution, request and request metadata, and
// returns the number of jobs deleted. Jobs are deleted regardless of status.
//
// Each job is removed in its own transaction. A job that is locked by another
// writer past the retry budget is skipped and left intact for the next
// sweep. Requests that never got a job are removed too but not counted.
func (s *Service) DeleteAllJobsCreatedBeforeDate(ctx context.Context, cutoff time.Time) (deleted int64, err error) {
	start := time.Now()
	defer func() { s.finish(ctx, OpDeleteJobsBefore, "", start, err) }()

	if cutoff.IsZero() {
		return 0, apperrors.Validation("cutoff", "cutoff is required")
	}
	cutoff = cutoff.UTC()

	deleted, err = s.sweep(ctx, cutoff, s.store.ListJobIDsCreatedBefore, s.deleteJob)
	if err != nil {
		s.recordReaped(ctx, deleted, 0)
		return deleted, err
	}

	orphans, err := s.sweep(ctx, cutoff, s.store.ListOrphanedJobRequestIDs, s.deleteOrphanedRequest)
	s.recordReaped(ctx, deleted, orphans)
	if err != nil {
		return deleted, err
	}

	if deleted > 0 || orphans > 0 {
		s.logger.Info("retention sweep finished", "cutoff", cutoff, "jobs_deleted", deleted, "requests_deleted", orphans)
	}
	return deleted, nil
}

type listFunc func(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]string, error)

type deleteFunc func(ctx context.Context, id string, cutoff time.Time) (bool, error)

// sweep pages through candidate ids and deletes each in its own transaction.
func (s *Service) sweep(ctx context.Context, cutoff time.Time, list listFunc, del deleteFunc) (int64, error) {
	var count int64
	afterID := ""
	for {
		var page []string
		err := s.read(ctx, func(ctx context.Context) error {
			var err error
			page, err = list(ctx, cutoff, afterID, s.batchSize)
			return err
		})
		if err != nil {
			return count, err
		}

		for _, id := range page {
			ok, err := del(ctx, id, cutoff)
			switch {
			case err == nil:
				if ok {
					count++
				}
			case errors.Is(err, apperrors.ErrConcurrentUpdate):
				s.logger.Warn("skipping locked record during retention sweep", "id", id, "error", err)
			default:
				return count, err
			}
		}

		if len(page) < s.batchSize {
			return count, nil
		}
		afterID = page[len(page)-1]
	}
}

// deleteJob removes one job if it still exists and is still older than cutoff.
func (s *Service) deleteJob(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	var removed bool
	var lastUpdated time.Time
	err := s.mutate(ctx, OpDeleteJobsBefore, func(ctx context.Context, tx store.Tx) error {
		removed = false
		job, err := tx.LockJob(ctx, id)
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !job.Created.Before(cutoff) {
			return nil
		}
		lastUpdated = job.Updated
		removed, err = tx.DeleteJob(ctx, id)
		return err
	})
	if err != nil || !removed {
		return false, err
	}

	s.forget(ctx, id, history.EventDeleted, lastUpdated)
	return true, nil
}

// deleteOrphanedRequest removes a request older than cutoff that has no job.
func (s *Service) deleteOrphanedRequest(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	var removed bool
	err := s.mutate(ctx, OpDeleteJobsBefore, func(ctx context.Context, tx store.Tx) error {
		removed = false
		req, err := tx.LockJobRequest(ctx, id)
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !req.Created.Before(cutoff) {
			return nil
		}
		// A job created since the scan makes this request live again.
		if _, err := tx.LockJob(ctx, id); !errors.Is(err, apperrors.ErrNotFound) {
			return err
		}
		if _, err := tx.DeleteJob(ctx, id); err != nil {
			return err
		}
		removed = true
		return nil
	})
	if err != nil || !removed {
		return false, err
	}

	s.forget(ctx, id, history.EventRequestDeleted, time.Time{})
	return true, nil
}

// forget publishes the removal of id. A deleted job's cached status is
// replaced by a tombstone newer than its last update, so a status read that
// raced the delete cannot put the job back in the cache.
func (s *Service) forget(ctx context.Context, id string, eventType history.EventType, lastUpdated time.Time) {
	now := s.timestamp()
	out := &outcome{events: []history.Event{{
		Type:       eventType,
		JobID:      id,
		OccurredAt: now,
	}}}
	if eventType == history.EventDeleted {
		out.status = &cache.StatusEntry{Deleted: true, UpdatedAt: nextUpdated(lastUpdated, now)}
	}
	s.afterCommit(ctx, id, out)
}

func (s *Service) recordReaped(ctx context.Context, jobs, requests int64) {
	if s.metrics != nil {
		s.metrics.RecordReaped(ctx, jobs, requests)
	}
}
