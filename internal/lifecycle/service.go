// Package lifecycle is the job lifecycle persistence service: the single
// authority for creating jobs, moving them through the status state machine,
// binding their runtime environment, recording execution telemetry and
// removing them when they age out.
//
// Every mutation is one transaction against the store. Per-job writers are
// serialized through row locks; a writer that loses a race is retried with
// backoff and finally surfaces apperrors.ErrConcurrentUpdate.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobledger/internal/apperrors"
	"github.com/kiranshivaraju/jobledger/internal/cache"
	"github.com/kiranshivaraju/jobledger/internal/config"
	"github.com/kiranshivaraju/jobledger/internal/history"
	"github.com/kiranshivaraju/jobledger/internal/store"
	"github.com/kiranshivaraju/jobledger/pkg/backoff"
	"github.com/kiranshivaraju/jobledger/pkg/models"
)

// Operation names used in logs and metrics.
const (
	OpCreateJobRequest         = "create_job_request"
	OpCreateJob                = "create_job_and_job_execution"
	OpUpdateJobStatus          = "update_job_status"
	OpBindRuntimeEnvironment   = "update_job_with_runtime_environment"
	OpSetRunningInformation    = "set_job_running_information"
	OpSetCompletionInformation = "set_job_completion_information"
	OpDeleteJobsBefore         = "delete_all_jobs_created_before_date"
	OpGetJob                   = "get_job"
	OpGetJobStatus             = "get_job_status"
)

const (
	defaultTxTimeout      = 5 * time.Second
	defaultMaxAttempts    = 3
	defaultStatusTTL      = 30 * time.Minute
	defaultBatchSize      = 500
	defaultPublishTimeout = 2 * time.Second
)

// Recorder receives operation metrics. *observability.Metrics implements it.
type Recorder interface {
	RecordOperation(ctx context.Context, op string, err error, d time.Duration)
	RecordTransition(ctx context.Context, from, to models.JobStatus)
	RecordReaped(ctx context.Context, jobs, requests int64)
}

// Service implements the lifecycle operations on top of a store.Store.
type Service struct {
	store   store.Store
	cache   cache.Cache
	sink    history.Sink
	metrics Recorder
	logger  *slog.Logger

	now   func() time.Time
	newID func() string

	txTimeout   time.Duration
	maxAttempts int
	backoff     backoff.Config
	statusTTL   time.Duration
	batchSize   int
}

// Option configures a Service.
type Option func(*Service)

// WithCache stores each committed status in c for ttl.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		if ttl > 0 {
			s.statusTTL = ttl
		}
	}
}

// WithHistory publishes lifecycle events to sink after commit.
func WithHistory(sink history.Sink) Option {
	return func(s *Service) { s.sink = sink }
}

// WithMetrics records operation metrics on r.
func WithMetrics(r Recorder) Option {
	return func(s *Service) { s.metrics = r }
}

// WithLogger replaces slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock replaces time.Now for timestamps written to the store.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator replaces the UUID generator used for blank request ids.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

// WithTxTimeout bounds each transaction attempt.
func WithTxTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.txTimeout = d
		}
	}
}

// WithRetry sets how often a transaction that lost a race is attempted.
func WithRetry(maxAttempts int, cfg backoff.Config) Option {
	return func(s *Service) {
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
		s.backoff = cfg
	}
}

// WithBatchSize sets the page size of retention scans.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithConfig applies the lifecycle and retention settings from cfg.
func WithConfig(lc config.LifecycleConfig, rc config.RetentionConfig) Option {
	return func(s *Service) {
		WithTxTimeout(lc.TxTimeout)(s)
		WithRetry(lc.MaxAttempts, backoff.Config{Initial: lc.BackoffInitial, Max: lc.BackoffMax})(s)
		WithBatchSize(rc.BatchSize)(s)
	}
}

// New creates a Service backed by st.
func New(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:       st,
		logger:      slog.Default(),
		now:         time.Now,
		newID:       uuid.NewString,
		txTimeout:   defaultTxTimeout,
		maxAttempts: defaultMaxAttempts,
		statusTTL:   defaultStatusTTL,
		batchSize:   defaultBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// timestamp returns the current time as stored: UTC, microsecond precision.
func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// outcome carries the after-commit effects of one transaction.
type outcome struct {
	events     []history.Event
	status     *cache.StatusEntry
	transition *[2]models.JobStatus
}

func (o *outcome) reset() { *o = outcome{} }

// mutate runs fn in a transaction. Each attempt is bounded by the tx
// timeout; attempts that lose a race are retried with exponential backoff.
// fn must not keep state across attempts.
func (s *Service) mutate(ctx context.Context, op string, fn func(ctx context.Context, tx store.Tx) error) error {
	return backoff.Retry(ctx, s.maxAttempts, &s.backoff, isConcurrentUpdate, func(attempt int) error {
		attemptCtx, cancel := context.WithTimeout(ctx, s.txTimeout)
		defer cancel()

		err := s.store.InTx(attemptCtx, func(tx store.Tx) error {
			return fn(attemptCtx, tx)
		})
		if err != nil && isConcurrentUpdate(err) {
			s.logger.Warn("transaction lost a race", "operation", op, "attempt", attempt, "error", err)
		}
		return err
	})
}

// read runs a single store read under the tx timeout.
func (s *Service) read(ctx context.Context, fn func(ctx context.Context) error) error {
	readCtx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()
	return fn(readCtx)
}

func isConcurrentUpdate(err error) bool {
	return errors.Is(err, apperrors.ErrConcurrentUpdate)
}

// finish records metrics and logs the result of op.
func (s *Service) finish(ctx context.Context, op, jobID string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordOperation(ctx, op, err, time.Since(start))
	}
	if err == nil {
		return
	}
	if apperrors.IsRetryable(err) || errors.Is(err, apperrors.ErrInternal) {
		s.logger.Warn("lifecycle operation failed", "operation", op, "job_id", jobID, "kind", apperrors.Kind(err), "error", err)
		return
	}
	s.logger.Debug("lifecycle operation rejected", "operation", op, "job_id", jobID, "kind", apperrors.Kind(err), "error", err)
}

// afterCommit applies the cache, metric and history effects of a committed
// transaction. Failures here are logged and never change the result.
func (s *Service) afterCommit(ctx context.Context, jobID string, out *outcome) {
	detached := context.WithoutCancel(ctx)

	if out.status != nil && s.cache != nil {
		if err := s.cache.SetJobStatus(detached, jobID, *out.status, s.statusTTL); err != nil {
			s.logger.Warn("cache job status failed", "job_id", jobID, "error", err)
		}
	}

	if out.transition != nil {
		s.logger.Info("job status changed", "job_id", jobID, "from", out.transition[0], "to", out.transition[1])
		if s.metrics != nil {
			s.metrics.RecordTransition(ctx, out.transition[0], out.transition[1])
		}
	}

	if s.sink == nil {
		return
	}
	for _, e := range out.events {
		pubCtx, cancel := context.WithTimeout(detached, defaultPublishTimeout)
		if err := s.sink.Send(pubCtx, e); err != nil {
			s.logger.Warn("publish lifecycle event failed", "job_id", e.JobID, "type", e.Type, "error", err)
		}
		cancel()
	}
}

func (o *outcome) recordStatus(job *models.Job) {
	o.status = &cache.StatusEntry{Status: job.Status, Message: job.StatusMessage, UpdatedAt: job.Updated}
}

func (o *outcome) recordTransition(from, to models.JobStatus) {
	o.transition = &[2]models.JobStatus{from, to}
}

func (o *outcome) addEvent(e history.Event) {
	o.events = append(o.events, e)
}
