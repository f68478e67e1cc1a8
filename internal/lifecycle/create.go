package lifecycle

import (
	"context"
	"time"

	"github.com/kiranshivaraju/jobledger/internal/history"
	"github.com/kiranshivaraju/jobledger/internal/store"
	"github.com/kiranshivaraju/jobledger/pkg/models"
)

// CreateJobRequest stores an immutable job request together with its
// metadata. A blank request id is replaced by a generated UUID. The stored
// request is returned; the arguments are not modified.
func (s *Service) CreateJobRequest(ctx context.Context, req *models.JobRequest, md *models.JobRequestMetadata) (result *models.JobRequest, err error) {
	start := time.Now()
	defer func() {
		id := ""
		if result != nil {
			id = result.ID
		}
		s.finish(ctx, OpCreateJobRequest, id, start, err)
	}()

	if err := validateJobRequest(req, md); err != nil {
		return nil, err
	}

	stored := cloneRequest(req)
	storedMD := *md
	if isBlank(stored.ID) {
		if !isBlank(md.ID) {
			stored.ID = md.ID
		} else {
			stored.ID = s.newID()
		}
	}
	storedMD.ID = stored.ID

	created := s.timestamp()
	stored.Created = created
	storedMD.Created = created

	err = s.mutate(ctx, OpCreateJobRequest, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateJobRequest(ctx, stored, &storedMD)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("job request created", "request_id", stored.ID, "user", stored.User)
	return stored, nil
}

// CreateJobAndJobExecution stores a new job in INIT together with its
// execution record, in one transaction. The job's status, message and
// timestamps are filled in on success.
func (s *Service) CreateJobAndJobExecution(ctx context.Context, job *models.Job, exec *models.JobExecution) (err error) {
	start := time.Now()
	defer func() {
		id := ""
		if job != nil {
			id = job.ID
		}
		s.finish(ctx, OpCreateJob, id, start, err)
	}()

	if err := validateNewJob(job, exec); err != nil {
		return err
	}

	now := s.timestamp()
	storedJob := job.Clone()
	storedJob.Status = models.StatusInit
	if storedJob.StatusMessage == "" {
		storedJob.StatusMessage = models.DefaultInitMessage
	}
	storedJob.Created = now
	storedJob.Updated = now

	storedExec := exec.Clone()
	storedExec.ID = job.ID
	storedExec.Created = now
	storedExec.Updated = now

	var out outcome
	err = s.mutate(ctx, OpCreateJob, func(ctx context.Context, tx store.Tx) error {
		out.reset()
		if err := tx.CreateJob(ctx, storedJob); err != nil {
			return err
		}
		if err := tx.CreateJobExecution(ctx, storedExec); err != nil {
			return err
		}
		out.recordStatus(storedJob)
		out.addEvent(history.Event{
			Type:       history.EventCreated,
			JobID:      storedJob.ID,
			ToStatus:   storedJob.Status,
			Message:    storedJob.StatusMessage,
			OccurredAt: now,
		})
		return nil
	})
	if err != nil {
		return err
	}

	*job = *storedJob
	*exec = *storedExec
	s.afterCommit(ctx, job.ID, &out)
	s.logger.Info("job created", "job_id", job.ID, "host", exec.HostName)
	return nil
}

func cloneRequest(req *models.JobRequest) *models.JobRequest {
	c := *req
	c.Tags = cloneStrings(req.Tags)
	c.CommandCriteria = cloneStrings(req.CommandCriteria)
	c.ApplicationIDs = cloneStrings(req.ApplicationIDs)
	if req.ClusterCriteria != nil {
		c.ClusterCriteria = make([]models.ClusterCriterion, len(req.ClusterCriteria))
		for i, criterion := range req.ClusterCriteria {
			c.ClusterCriteria[i] = models.ClusterCriterion{Tags: cloneStrings(criterion.Tags)}
		}
	}
	for _, p := range []**int{&c.CPU, &c.Memory, &c.TimeoutSeconds} {
		if *p != nil {
			v := **p
			*p = &v
		}
	}
	return &c
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}
