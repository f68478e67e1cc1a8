// Package main is the entrypoint for the jobledger API server and its
// maintenance commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kiranshivaraju/jobledger/internal/config"
	"github.com/kiranshivaraju/jobledger/internal/lifecycle"
	"github.com/kiranshivaraju/jobledger/internal/logging"
	"github.com/kiranshivaraju/jobledger/internal/store"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCommand().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// ReapFlags holds flags for the reap command.
type ReapFlags struct {
	OlderThan time.Duration
	Before    string
}

func newRootCommand() *cobra.Command {
	flags := &GlobalFlags{}

	root := &cobra.Command{
		Use:   "jobledger",
		Short: "Job lifecycle persistence service",
		Long: `jobledger stores job requests, jobs and their executions and guards
every status change behind a single transactional state machine.

Examples:
  jobledger serve --config=jobledger.yaml
  jobledger migrate
  jobledger reap --older-than=720h`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to a TOML, YAML or JSON config file (optional)")

	root.AddCommand(
		newServeCommand(flags),
		newMigrateCommand(flags),
		newReapCommand(flags),
	)
	return root
}

func newServeCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, closeLog, err := setup(flags)
			if err != nil {
				return err
			}
			defer closeLog.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := serve(ctx, cfg, logger); err != nil {
				logger.Error("server failed", "error", err)
				return err
			}
			return nil
		},
	}
}

func newMigrateCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, closeLog, err := setup(flags)
			if err != nil {
				return err
			}
			defer closeLog.Close()

			if store.IsPostgres(cfg.Database.URL) {
				if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
					return fmt.Errorf("run migrations: %w", err)
				}
				logger.Info("database migrations applied", "dir", cfg.Database.MigrationsDir)
				return nil
			}

			// The SQLite gateway creates its schema on open.
			st, err := store.Open(cmd.Context(), cfg.Database, cfg.Lifecycle)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()
			logger.Info("database schema ensured")
			return nil
		},
	}
}

func newReapCommand(flags *GlobalFlags) *cobra.Command {
	reapFlags := &ReapFlags{}

	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Delete jobs created before a cutoff and exit",
		Long: `reap runs one retention sweep. The cutoff is --before when given,
otherwise now minus --older-than, otherwise now minus retention.max_age.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, closeLog, err := setup(flags)
			if err != nil {
				return err
			}
			defer closeLog.Close()

			cutoff, err := reapCutoff(time.Now(), reapFlags, cfg.Retention.MaxAge)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, logger, false)
			if err != nil {
				return err
			}
			defer a.Close()

			deleted, err := a.svc.DeleteAllJobsCreatedBeforeDate(cmd.Context(), cutoff)
			if err != nil {
				return fmt.Errorf("reap jobs: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %d jobs created before %s\n", deleted, cutoff.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().DurationVar(&reapFlags.OlderThan, "older-than", 0, "delete jobs older than this duration, e.g. 720h")
	cmd.Flags().StringVar(&reapFlags.Before, "before", "", "delete jobs created before this RFC3339 timestamp")
	cmd.MarkFlagsMutuallyExclusive("older-than", "before")
	return cmd
}

// setup loads config and installs the configured logger as the default.
func setup(flags *GlobalFlags) (*config.Config, *slog.Logger, io.Closer, error) {
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logging: %w", err)
	}
	slog.SetDefault(logger)
	logger.Info("config loaded", "env", cfg.Server.Env)
	return cfg, logger, closer, nil
}

func reapCutoff(now time.Time, flags *ReapFlags, maxAge time.Duration) (time.Time, error) {
	switch {
	case flags.Before != "":
		cutoff, err := time.Parse(time.RFC3339, flags.Before)
		if err != nil {
			return time.Time{}, fmt.Errorf("--before must be an RFC3339 timestamp: %w", err)
		}
		return cutoff, nil
	case flags.OlderThan < 0:
		return time.Time{}, errors.New("--older-than must not be negative")
	case flags.OlderThan > 0:
		return now.Add(-flags.OlderThan), nil
	case maxAge > 0:
		return now.Add(-maxAge), nil
	default:
		return time.Time{}, errors.New("no cutoff: pass --before or --older-than, or set retention.max_age")
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := newApp(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.Close()

	// Background work stops and is joined before the app closes its connections.
	ctx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer stop()

	if cfg.Retention.Enabled {
		reaper := lifecycle.NewReaper(a.svc, cfg.Retention)
		wg.Add(1)
		go func() {
			defer wg.Done()
			reaper.Run(ctx)
		}()
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      a.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	stop()
	wg.Wait()

	logger.Info("server stopped gracefully")
	return nil
}
