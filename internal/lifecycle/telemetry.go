package lifecycle

import (
	"context"
	"time"

	"github.com/kiranshivaraju/jobledger/internal/apperrors"
	"github.com/kiranshivaraju/jobledger/internal/history"
	"github.com/kiranshivaraju/jobledger/internal/store"
	"github.com/kiranshivaraju/jobledger/pkg/models"
)

// SetJobRunningInformation records the process id, check delay (ms) and
// timeout deadline of a launched job and moves the job to RUNNING. The job
// and execution rows change in one transaction. Repeating the call with the
// same values is a no-op.
func (s *Service) SetJobRunningInformation(ctx context.Context, id string, processID int, checkDelay int64, timeout time.Time) (err error) {
	start := time.Now()
	defer func() { s.finish(ctx, OpSetRunningInformation, id, start, err) }()

	if err := validateRunningInformation(id, processID, checkDelay, timeout); err != nil {
		return err
	}
	deadline := timeout.UTC().Truncate(time.Microsecond)

	var out outcome
	err = s.mutate(ctx, OpSetRunningInformation, func(ctx context.Context, tx store.Tx) error {
		out.reset()
		// Job before execution, always, so writers on the same job queue
		// behind one lock order.
		job, err := tx.LockJob(ctx, id)
		if err != nil {
			return err
		}
		if job.Status != models.StatusAccepted && job.Status != models.StatusRunning {
			return apperrors.InvalidState(store.ResourceJob, id,
				"running information requires ACCEPTED or RUNNING, job is "+job.Status.String())
		}
		exec, err := tx.LockJobExecution(ctx, id)
		if err != nil {
			return err
		}
		if exec.HasRunningInformation() {
			if job.Status == models.StatusRunning && exec.RunningInformationEquals(processID, checkDelay, deadline) {
				return nil
			}
			return apperrors.InvalidState(store.ResourceJobExecution, id, "running information already recorded")
		}

		now := s.timestamp()
		pid, delay := processID, checkDelay
		exec.ProcessID = &pid
		exec.CheckDelay = &delay
		exec.Timeout = &deadline
		exec.Updated = now

		from := job.Status
		if from != models.StatusRunning {
			if err := applyStatus(job, models.StatusRunning, models.DefaultRunningMessage, now); err != nil {
				return err
			}
			if err := tx.UpdateJob(ctx, job); err != nil {
				return err
			}
			out.recordStatus(job)
			out.recordTransition(from, models.StatusRunning)
		}
		if err := tx.UpdateJobExecution(ctx, exec); err != nil {
			return err
		}
		out.addEvent(history.Event{
			Type:       history.EventRunning,
			JobID:      id,
			FromStatus: from,
			ToStatus:   job.Status,
			Message:    job.StatusMessage,
			OccurredAt: now,
		})
		return nil
	})
	if err != nil {
		return err
	}

	s.afterCommit(ctx, id, &out)
	return nil
}

// SetJobCompletionInformation records the exit code and final status of a
// job's process and moves the job to status under the same legality rule as
// UpdateJobStatus. Either both rows change or neither does. Repeating the
// call with the same values is a no-op.
func (s *Service) SetJobCompletionInformation(ctx context.Context, id string, exitCode int, status models.JobStatus, message string) (err error) {
	start := time.Now()
	defer func() { s.finish(ctx, OpSetCompletionInformation, id, start, err) }()

	if err := validateCompletion(id, exitCode, status, message); err != nil {
		return err
	}

	var out outcome
	err = s.mutate(ctx, OpSetCompletionInformation, func(ctx context.Context, tx store.Tx) error {
		out.reset()
		job, err := tx.LockJob(ctx, id)
		if err != nil {
			return err
		}
		exec, err := tx.LockJobExecution(ctx, id)
		if err != nil {
			return err
		}
		if exec.HasCompletionInformation() {
			if exec.CompletionInformationEquals(exitCode, status) {
				return nil
			}
			return apperrors.InvalidState(store.ResourceJobExecution, id, "completion information already recorded")
		}

		now := s.timestamp()
		from := job.Status
		if from != status {
			if err := applyStatus(job, status, message, now); err != nil {
				return err
			}
			if err := tx.UpdateJob(ctx, job); err != nil {
				return err
			}
			out.recordStatus(job)
			out.recordTransition(from, status)
		}

		code, final := exitCode, status
		exec.ExitCode = &code
		exec.FinalStatus = &final
		exec.Updated = now
		if err := tx.UpdateJobExecution(ctx, exec); err != nil {
			return err
		}
		out.addEvent(history.Event{
			Type:       history.EventCompleted,
			JobID:      id,
			FromStatus: from,
			ToStatus:   status,
			Message:    message,
			OccurredAt: now,
		})
		return nil
	})
	if err != nil {
		return err
	}

	s.afterCommit(ctx, id, &out)
	return nil
}
