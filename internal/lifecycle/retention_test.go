package lifecycle_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kiranshivaraju/jobledger/internal/apperrors"
	"github.com/kiranshivaraju/jobledger/internal/config"
	"github.com/kiranshivaraju/jobledger/internal/history"
	"github.com/kiranshivaraju/jobledger/internal/lifecycle"
	"github.com/kiranshivaraju/jobledger/internal/store"
	"github.com/kiranshivaraju/jobledger/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeleteAllJobsCreatedBeforeDate(t *testing.T) {
	f := newFixture(t, lifecycle.WithBatchSize(2))
	ctx := context.Background()

	// Five old jobs in different states, two recent ones.
	for i := 0; i < 5; i++ {
		f.clock.Set(baseTime.Add(time.Duration(i) * time.Minute))
		id := fmt.Sprintf("old-%d", i)
		req, md := newRequest(id)
		_, err := f.svc.CreateJobRequest(ctx, req, md)
		require.NoError(t, err)
		f.createJob(t, id)
	}
	require.NoError(t, f.svc.UpdateJobStatus(ctx, "old-1", models.StatusAccepted, "scheduled"))
	require.NoError(t, f.svc.UpdateJobStatus(ctx, "old-2", models.StatusFailed, "failed"))

	f.clock.Set(baseTime.Add(24 * time.Hour))
	f.createJob(t, "new-1")
	f.createJob(t, "new-2")

	cutoff := baseTime.Add(time.Hour)
	n, err := f.svc.DeleteAllJobsCreatedBeforeDate(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("old-%d", i)
		_, err := f.store.GetJob(ctx, id)
		assert.ErrorIs(t, err, apperrors.ErrNotFound, id)
		_, err = f.store.GetJobExecution(ctx, id)
		assert.ErrorIs(t, err, apperrors.ErrNotFound, id)
		_, err = f.store.GetJobRequest(ctx, id)
		assert.ErrorIs(t, err, apperrors.ErrNotFound, id)
		_, err = f.store.GetJobRequestMetadata(ctx, id)
		assert.ErrorIs(t, err, apperrors.ErrNotFound, id)
		entry, cached := f.cache.entry(id)
		require.True(t, cached, id)
		assert.True(t, entry.Deleted, id)
	}
	assert.Equal(t, models.StatusInit, f.job(t, "new-1").Status)
	assert.Equal(t, models.StatusInit, f.job(t, "new-2").Status)
	assert.Equal(t, int64(5), f.recorder.reapedJobs)

	var deleted int
	for _, typ := range f.sink.types() {
		if typ == history.EventDeleted {
			deleted++
		}
	}
	assert.Equal(t, 5, deleted)

	n, err = f.svc.DeleteAllJobsCreatedBeforeDate(ctx, cutoff)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeleteAllJobsCreatedBeforeDate_NothingOlder(t *testing.T) {
	f := newFixture(t)
	f.createJob(t, "j1")
	f.createJob(t, "j2")

	n, err := f.svc.DeleteAllJobsCreatedBeforeDate(context.Background(), baseTime.Add(-time.Second))
	require.NoError(t, err)
	assert.Zero(t, n)
	f.job(t, "j1")
	f.job(t, "j2")
}

func TestDeleteAllJobsCreatedBeforeDate_CutoffIsExclusive(t *testing.T) {
	f := newFixture(t)
	f.createJob(t, "edge")

	n, err := f.svc.DeleteAllJobsCreatedBeforeDate(context.Background(), baseTime)
	require.NoError(t, err)
	assert.Zero(t, n)
	f.job(t, "edge")
}

func TestDeleteAllJobsCreatedBeforeDate_RemovesOrphanedRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, md := newRequest("orphan")
	_, err := f.svc.CreateJobRequest(ctx, req, md)
	require.NoError(t, err)

	n, err := f.svc.DeleteAllJobsCreatedBeforeDate(ctx, baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n, "orphaned requests are not counted as jobs")

	_, err = f.store.GetJobRequest(ctx, "orphan")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, int64(1), f.recorder.reapedReqs)
	assert.Contains(t, f.sink.types(), history.EventRequestDeleted)
}

func TestDeleteAllJobsCreatedBeforeDate_SkipsLockedJobs(t *testing.T) {
	base := newSQLiteStore(t)
	st := &faultStore{Store: base, wrap: func(tx store.Tx) store.Tx {
		return &faultTx{Tx: tx, lockJob: func(ctx context.Context, id string) (*models.Job, error) {
			if id == "busy" {
				return nil, apperrors.ConcurrentUpdate("store.lockJob", errors.New("could not obtain lock"))
			}
			return tx.LockJob(ctx, id)
		}}
	}}
	f := newFixtureWithStore(t, st)
	f.createJob(t, "busy")
	f.createJob(t, "idle")

	n, err := f.svc.DeleteAllJobsCreatedBeforeDate(context.Background(), baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	f.job(t, "busy")
}

func TestDeleteAllJobsCreatedBeforeDate_StopsOnStoreFailure(t *testing.T) {
	base := newSQLiteStore(t)
	st := &faultStore{Store: base, wrap: func(tx store.Tx) store.Tx {
		return &faultTx{Tx: tx, lockJob: func(ctx context.Context, id string) (*models.Job, error) {
			return nil, apperrors.Unavailable("store.lockJob", errors.New("connection reset"))
		}}
	}}
	f := newFixtureWithStore(t, st)
	f.createJob(t, "j1")

	n, err := f.svc.DeleteAllJobsCreatedBeforeDate(context.Background(), baseTime.Add(time.Hour))
	assert.ErrorIs(t, err, apperrors.ErrUnavailable)
	assert.Zero(t, n)
}

func TestDeleteAllJobsCreatedBeforeDate_ZeroCutoff(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.DeleteAllJobsCreatedBeforeDate(context.Background(), time.Time{})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestReaper_Sweep(t *testing.T) {
	f := newFixture(t)
	f.createJob(t, "stale")

	f.clock.Set(baseTime.Add(10 * 24 * time.Hour))
	f.createJob(t, "fresh")

	reaper := lifecycle.NewReaper(f.svc, config.RetentionConfig{MaxAge: 7 * 24 * time.Hour, Interval: time.Hour})
	n, err := reaper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	f.job(t, "fresh")
}

func TestReaper_RunStopsWithContext(t *testing.T) {
	f := newFixture(t)
	f.createJob(t, "stale")
	f.clock.Set(baseTime.Add(48 * time.Hour))

	reaper := lifecycle.NewReaper(f.svc, config.RetentionConfig{MaxAge: time.Hour, Interval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reaper.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, err := f.store.GetJob(context.Background(), "stale")
		return errors.Is(err, apperrors.ErrNotFound)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reaper did not stop")
	}
}
