package lifecycle

import (
	"context"
	"time"

	"github.com/kiranshivaraju/jobledger/internal/apperrors"
	"github.com/kiranshivaraju/jobledger/internal/history"
	"github.com/kiranshivaraju/jobledger/internal/store"
	"github.com/kiranshivaraju/jobledger/pkg/models"
)

// UpdateJobStatus moves a job to status along a legal edge of the state
// machine and records message with it. Re-applying the job's current
// terminal status succeeds without writing. RUNNING is only reachable here
// once the execution carries running information; otherwise the job would
// read as RUNNING without a process.
func (s *Service) UpdateJobStatus(ctx context.Context, id string, status models.JobStatus, message string) (err error) {
	start := time.Now()
	defer func() { s.finish(ctx, OpUpdateJobStatus, id, start, err) }()

	if err := requireID("id", id); err != nil {
		return err
	}
	if err := validateStatus(status); err != nil {
		return err
	}
	if err := validateStatusMessage(message); err != nil {
		return err
	}

	var out outcome
	err = s.mutate(ctx, OpUpdateJobStatus, func(ctx context.Context, tx store.Tx) error {
		out.reset()
		job, err := tx.LockJob(ctx, id)
		if err != nil {
			return err
		}
		if models.IsNoOpTransition(job.Status, status) {
			return nil
		}
		from := job.Status
		if err := applyStatus(job, status, message, s.timestamp()); err != nil {
			return err
		}
		if status == models.StatusRunning {
			exec, err := tx.LockJobExecution(ctx, id)
			if err != nil {
				return err
			}
			if !exec.HasRunningInformation() {
				return apperrors.InvalidState(store.ResourceJobExecution, id,
					"RUNNING requires running information, use SetJobRunningInformation")
			}
		}
		if err := tx.UpdateJob(ctx, job); err != nil {
			return err
		}
		out.recordStatus(job)
		out.recordTransition(from, status)
		out.addEvent(history.Event{
			Type:       history.EventStatusChanged,
			JobID:      id,
			FromStatus: from,
			ToStatus:   status,
			Message:    message,
			OccurredAt: job.Updated,
		})
		return nil
	})
	if err != nil {
		return err
	}

	s.afterCommit(ctx, id, &out)
	return nil
}

// applyStatus sets status and message on job when the edge is legal,
// stamping started on the first move to RUNNING and finished on a terminal
// status.
func applyStatus(job *models.Job, status models.JobStatus, message string, now time.Time) error {
	if !models.CanTransition(job.Status, status) {
		return apperrors.InvalidTransition(job.ID, job.Status.String(), status.String())
	}
	job.Status = status
	job.StatusMessage = message
	job.Updated = nextUpdated(job.Updated, now)
	if status == models.StatusRunning && job.Started == nil {
		job.Started = &now
	}
	if status.IsTerminal() && job.Finished == nil {
		job.Finished = &now
	}
	return nil
}

// nextUpdated returns now, or one microsecond past prev when the clock has
// not moved beyond it. Updates of one job are serialized by its row lock, so
// a job's update time strictly increases with every write.
func nextUpdated(prev, now time.Time) time.Time {
	if now.After(prev) {
		return now
	}
	return prev.Add(time.Microsecond)
}
