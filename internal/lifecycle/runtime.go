package lifecycle

import (
	"context"
	"time"

	"github.com/kiranshivaraju/jobledger/internal/apperrors"
	"github.com/kiranshivaraju/jobledger/internal/history"
	"github.com/kiranshivaraju/jobledger/internal/store"
)

// UpdateJobWithRuntimeEnvironment binds the cluster, command and ordered
// application ids a job runs with. A job is bound at most once.
func (s *Service) UpdateJobWithRuntimeEnvironment(ctx context.Context, jobID, clusterID, commandID string, applicationIDs []string) (err error) {
	start := time.Now()
	defer func() { s.finish(ctx, OpBindRuntimeEnvironment, jobID, start, err) }()

	if err := validateRuntimeEnvironment(jobID, clusterID, commandID, applicationIDs); err != nil {
		return err
	}
	apps := make([]string, len(applicationIDs))
	copy(apps, applicationIDs)

	var out outcome
	err = s.mutate(ctx, OpBindRuntimeEnvironment, func(ctx context.Context, tx store.Tx) error {
		out.reset()
		job, err := tx.LockJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job.HasRuntimeEnvironment() {
			return apperrors.AlreadyBound(jobID)
		}

		cluster, command := clusterID, commandID
		job.ClusterID = &cluster
		job.CommandID = &command
		job.ApplicationIDs = apps
		job.Updated = nextUpdated(job.Updated, s.timestamp())
		if err := tx.UpdateJob(ctx, job); err != nil {
			return err
		}
		out.addEvent(history.Event{
			Type:       history.EventRuntimeBound,
			JobID:      jobID,
			FromStatus: job.Status,
			ToStatus:   job.Status,
			Message:    cluster + "/" + command,
			OccurredAt: job.Updated,
		})
		return nil
	})
	if err != nil {
		return err
	}

	s.afterCommit(ctx, jobID, &out)
	s.logger.Info("runtime environment bound", "job_id", jobID, "cluster_id", clusterID, "command_id", commandID, "applications", len(apps))
	return nil
}
