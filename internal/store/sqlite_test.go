package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kiranshivaraju/jobledger/internal/apperrors"
	"github.com/kiranshivaraju/jobledger/internal/config"
	"github.com/kiranshivaraju/jobledger/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore(t *testing.T) {
	runGatewaySuite(t, newSQLiteStore)
}

func TestSQLiteStore_EmptyPath(t *testing.T) {
	_, err := store.NewSQLiteStore(context.Background(), "  ")
	assert.Error(t, err)
}

func TestSQLiteStore_FilePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jobs.db")

	s, err := store.NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	seed(t, s, "durable", baseTime)
	require.NoError(t, s.Close())

	s, err = store.NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	job, err := s.GetJob(ctx, "durable")
	require.NoError(t, err)
	assert.Equal(t, "nightly-etl", job.Name)
}

func TestSQLiteStore_CancelledContextIsUnavailable(t *testing.T) {
	s := newSQLiteStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.InTx(ctx, func(tx store.Tx) error { return nil })
	assert.ErrorIs(t, err, apperrors.ErrUnavailable)
}

func TestOpen_SelectsGateway(t *testing.T) {
	ctx := context.Background()

	s, err := store.Open(ctx, config.DatabaseConfig{URL: ":memory:"}, config.LifecycleConfig{})
	require.NoError(t, err)
	assert.IsType(t, &store.SQLiteStore{}, s)
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Close())

	path := filepath.Join(t.TempDir(), "jobs.db")
	s, err = store.Open(ctx, config.DatabaseConfig{URL: "sqlite://" + path}, config.LifecycleConfig{})
	require.NoError(t, err)
	assert.IsType(t, &store.SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = store.Open(ctx, config.DatabaseConfig{URL: "mysql://localhost/jobs"}, config.LifecycleConfig{})
	assert.Error(t, err)

	_, err = store.Open(ctx, config.DatabaseConfig{URL: ""}, config.LifecycleConfig{})
	assert.Error(t, err)
}

func TestIsPostgres(t *testing.T) {
	assert.True(t, store.IsPostgres("postgres://localhost/jobs"))
	assert.True(t, store.IsPostgres("PostgreSQL://localhost/jobs"))
	assert.False(t, store.IsPostgres("sqlite:///tmp/jobs.db"))
	assert.False(t, store.IsPostgres(":memory:"))
}

func TestSQLiteStore_TimesComeBackUTC(t *testing.T) {
	s := newSQLiteStore(t)
	local := time.Date(2024, 3, 1, 14, 30, 0, 0, time.FixedZone("CET", 3600))
	seed(t, s, "tz", local)

	job, err := s.GetJob(context.Background(), "tz")
	require.NoError(t, err)
	assert.True(t, local.Equal(job.Created))
	assert.Equal(t, time.UTC, job.Created.Location())
}
