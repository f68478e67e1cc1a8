package lifecycle_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/jobledger/internal/cache"
	"github.com/kiranshivaraju/jobledger/internal/history"
	"github.com/kiranshivaraju/jobledger/internal/lifecycle"
	"github.com/kiranshivaraju/jobledger/internal/store"
	"github.com/kiranshivaraju/jobledger/pkg/backoff"
	"github.com/kiranshivaraju/jobledger/pkg/models"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// --- Fakes ---

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]cache.StatusEntry
	failSet bool
	gets    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]cache.StatusEntry)}
}

func (c *fakeCache) Ping(ctx context.Context) error { return nil }

func (c *fakeCache) SetJobStatus(ctx context.Context, jobID string, entry cache.StatusEntry, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSet {
		return errors.New("redis: connection refused")
	}
	if cur, ok := c.entries[jobID]; ok && cur.Version() >= entry.Version() {
		return nil
	}
	c.entries[jobID] = entry
	return nil
}

func (c *fakeCache) GetJobStatus(ctx context.Context, jobID string) (cache.StatusEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	e, ok := c.entries[jobID]
	return e, ok, nil
}

// evict drops an entry the way a ttl expiry would.
func (c *fakeCache) evict(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, jobID)
}

func (c *fakeCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	return 1, nil
}

func (c *fakeCache) entry(id string) (cache.StatusEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	return e, ok
}

type fakeSink struct {
	mu     sync.Mutex
	events []history.Event
	fail   bool
}

func (s *fakeSink) Send(ctx context.Context, e history.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("clickhouse: unreachable")
	}
	s.events = append(s.events, e)
	return nil
}

func (s *fakeSink) types() []history.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]history.EventType, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

type fakeRecorder struct {
	mu          sync.Mutex
	operations  map[string]int
	failures    map[string]int
	transitions [][2]models.JobStatus
	reapedJobs  int64
	reapedReqs  int64
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{operations: map[string]int{}, failures: map[string]int{}}
}

func (r *fakeRecorder) RecordOperation(ctx context.Context, op string, err error, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operations[op]++
	if err != nil {
		r.failures[op]++
	}
}

func (r *fakeRecorder) RecordTransition(ctx context.Context, from, to models.JobStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, [2]models.JobStatus{from, to})
}

func (r *fakeRecorder) RecordReaped(ctx context.Context, jobs, requests int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reapedJobs += jobs
	r.reapedReqs += requests
}

// faultStore wraps a real store and lets a test intercept transaction steps.
type faultStore struct {
	store.Store
	wrap func(tx store.Tx) store.Tx
}

func (s *faultStore) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.Store.InTx(ctx, func(tx store.Tx) error {
		return fn(s.wrap(tx))
	})
}

type faultTx struct {
	store.Tx
	lockJob            func(ctx context.Context, id string) (*models.Job, error)
	updateJobExecution func(ctx context.Context, exec *models.JobExecution) error
}

func (t *faultTx) LockJob(ctx context.Context, id string) (*models.Job, error) {
	if t.lockJob != nil {
		return t.lockJob(ctx, id)
	}
	return t.Tx.LockJob(ctx, id)
}

func (t *faultTx) UpdateJobExecution(ctx context.Context, exec *models.JobExecution) error {
	if t.updateJobExecution != nil {
		return t.updateJobExecution(ctx, exec)
	}
	return t.Tx.UpdateJobExecution(ctx, exec)
}

// --- Fixtures ---

type fixture struct {
	store    store.Store
	svc      *lifecycle.Service
	cache    *fakeCache
	sink     *fakeSink
	recorder *fakeRecorder
	clock    *clock
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newSQLiteStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLiteStore(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newFixture(t *testing.T, opts ...lifecycle.Option) *fixture {
	t.Helper()
	return newFixtureWithStore(t, newSQLiteStore(t), opts...)
}

func newFixtureWithStore(t *testing.T, st store.Store, opts ...lifecycle.Option) *fixture {
	t.Helper()
	f := &fixture{
		store:    st,
		cache:    newFakeCache(),
		sink:     &fakeSink{},
		recorder: newFakeRecorder(),
		clock:    &clock{now: baseTime},
	}
	all := []lifecycle.Option{
		lifecycle.WithCache(f.cache, time.Minute),
		lifecycle.WithHistory(f.sink),
		lifecycle.WithMetrics(f.recorder),
		lifecycle.WithClock(f.clock.Now),
		lifecycle.WithRetry(3, backoff.Config{Initial: time.Millisecond, Max: 2 * time.Millisecond}),
	}
	f.svc = lifecycle.New(st, append(all, opts...)...)
	return f
}

func newJob(id string) (*models.Job, *models.JobExecution) {
	return &models.Job{
			ID:          id,
			Name:        "nightly-etl",
			User:        "etl-bot",
			Version:     "1.4.2",
			CommandArgs: "--date 2024-06-01",
		}, &models.JobExecution{
			HostName: "genie-node-7",
		}
}

func newRequest(id string) (*models.JobRequest, *models.JobRequestMetadata) {
	return &models.JobRequest{
			ID:              id,
			Name:            "nightly-etl",
			User:            "etl-bot",
			Version:         "1.4.2",
			CommandArgs:     "--date 2024-06-01",
			Tags:            []string{"team:data"},
			ClusterCriteria: []models.ClusterCriterion{{Tags: []string{"sched:adhoc", "type:yarn"}}, {Tags: []string{"type:yarn"}}},
			CommandCriteria: []string{"type:spark"},
		}, &models.JobRequestMetadata{
			ClientHost: "10.0.0.12",
			UserAgent:  "genie-client/4.0",
		}
}

// createJob stores a job in INIT, created at the fixture clock's time.
func (f *fixture) createJob(t *testing.T, id string) {
	t.Helper()
	job, exec := newJob(id)
	require.NoError(t, f.svc.CreateJobAndJobExecution(context.Background(), job, exec))
}

// createAcceptedJob stores a bound job in ACCEPTED.
func (f *fixture) createAcceptedJob(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	f.createJob(t, id)
	require.NoError(t, f.svc.UpdateJobWithRuntimeEnvironment(ctx, id, "clusterA", "cmdB", []string{"app1"}))
	require.NoError(t, f.svc.UpdateJobStatus(ctx, id, models.StatusAccepted, "scheduled"))
}

// createRunningJob stores a job in RUNNING with process information.
func (f *fixture) createRunningJob(t *testing.T, id string) {
	t.Helper()
	f.createAcceptedJob(t, id)
	require.NoError(t, f.svc.SetJobRunningInformation(context.Background(), id, 4821, 5000, baseTime.Add(time.Hour)))
}

func (f *fixture) job(t *testing.T, id string) *models.Job {
	t.Helper()
	job, err := f.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func (f *fixture) execution(t *testing.T, id string) *models.JobExecution {
	t.Helper()
	exec, err := f.store.GetJobExecution(context.Background(), id)
	require.NoError(t, err)
	return exec
}
