package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/jobledger/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("JOBLEDGER_DATABASE_URL", "sqlite://"+filepath.Join(t.TempDir(), "jobledger.db"))
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

// ─── command tree ───────────────────────────────────────────────────────────

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "migrate", "reap"}, names)
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestRootCommand_ConfigErrorsSurface(t *testing.T) {
	t.Setenv("JOBLEDGER_DATABASE_URL", "mysql://nope")

	root := newRootCommand()
	root.SetArgs([]string{"migrate"})
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

// ─── reap ───────────────────────────────────────────────────────────────────

func TestReapCutoff(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		flags   ReapFlags
		maxAge  time.Duration
		want    time.Time
		wantErr bool
	}{
		{name: "before wins", flags: ReapFlags{Before: "2024-05-01T00:00:00Z"}, maxAge: time.Hour, want: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		{name: "older than", flags: ReapFlags{OlderThan: 24 * time.Hour}, maxAge: time.Hour, want: now.Add(-24 * time.Hour)},
		{name: "falls back to max age", maxAge: 720 * time.Hour, want: now.Add(-720 * time.Hour)},
		{name: "bad timestamp", flags: ReapFlags{Before: "yesterday"}, wantErr: true},
		{name: "negative duration", flags: ReapFlags{OlderThan: -time.Hour}, wantErr: true},
		{name: "no cutoff at all", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := reapCutoff(now, &tt.flags, tt.maxAge)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestReapCommand(t *testing.T) {
	t.Setenv("JOBLEDGER_DATABASE_URL", "sqlite://"+filepath.Join(t.TempDir(), "jobledger.db"))
	t.Setenv("JOBLEDGER_LOG_LEVEL", "error")

	var out bytes.Buffer
	root := newRootCommand()
	root.SetArgs([]string{"reap", "--older-than", "1h"})
	root.SetOut(&out)

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "deleted 0 jobs")
}

func TestReapCommand_FlagsAreExclusive(t *testing.T) {
	t.Setenv("JOBLEDGER_DATABASE_URL", ":memory:")

	root := newRootCommand()
	root.SetArgs([]string{"reap", "--older-than", "1h", "--before", "2024-05-01T00:00:00Z"})
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)

	assert.Error(t, root.Execute())
}

// ─── app wiring ─────────────────────────────────────────────────────────────

func TestApp_SQLiteRouter(t *testing.T) {
	cfg := sqliteConfig(t)

	a, err := newApp(t.Context(), cfg, discardLogger(), true)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	router := a.Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	services := body["data"].(map[string]any)["services"].(map[string]any)
	assert.Equal(t, "ok", services["database"])
	assert.Equal(t, "disabled", services["cache"])

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestApp_WithoutMetrics(t *testing.T) {
	cfg := sqliteConfig(t)

	a, err := newApp(t.Context(), cfg, discardLogger(), false)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestApp_UnreachableRedisFails(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.Redis.URL = "redis://127.0.0.1:1/0"

	_, err := newApp(t.Context(), cfg, discardLogger(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping redis")
}

// ─── serve ──────────────────────────────────────────────────────────────────

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestServe_StopsReaperBeforeReturning(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.Server.Port = 0
	cfg.Retention.Enabled = true
	cfg.Retention.MaxAge = time.Hour
	cfg.Retention.Interval = time.Hour

	var logs lockedBuffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))

	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		defer cancel()
		deadline := time.Now().Add(10 * time.Second)
		for time.Now().Before(deadline) && !strings.Contains(logs.String(), `"msg":"server listening"`) {
			time.Sleep(10 * time.Millisecond)
		}
	}()

	require.NoError(t, serve(ctx, cfg, logger))

	out := logs.String()
	assert.Equal(t, 1, strings.Count(out, `"msg":"retention reaper started"`))
	assert.Equal(t, 1, strings.Count(out, `"msg":"retention reaper stopped"`))
	assert.Less(t, strings.Index(out, `"msg":"retention reaper stopped"`), strings.Index(out, `"msg":"server stopped gracefully"`))
}
