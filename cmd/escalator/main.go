package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"collabhub/internal/config"
	"collabhub/pkg/db"
	"collabhub/pkg/logger"
	"collabhub/pkg/rbac"
	"collabhub/pkg/util"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	store string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "escalator",
		Short:         "Deadline escalation engine and external progress reporting",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.store, "store", "", "override the configured store (postgres or memory)")

	root.AddCommand(
		newServeCmd(opts),
		newTickCmd(opts),
		newSweepCmd(opts),
		newMigrateCmd(opts),
		newTokenCmd(),
	)
	return root
}

// setup loads config and builds the logger; the caller must Sync it.
func (o *rootOptions) setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if o.store != "" {
		cfg.Store = o.store
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}
	return cfg, logger.NewLogger(cfg.Debug), nil
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var fixturesPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the escalation ticker and the cleanup sweep",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.setup()
			if err != nil {
				return err
			}
			defer log.Sync()
			return serve(cmd.Context(), cfg, log, fixturesPath)
		},
	}
	cmd.Flags().StringVar(&fixturesPath, "fixtures", "", "YAML file seeding the memory store")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger, fixturesPath string) error {
	log.Info("Starting escalator...",
		zap.String("store", cfg.Store),
		zap.String("port", cfg.Server.Port),
		zap.Duration("tick_interval", cfg.Escalation.TickInterval),
	)

	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	if fixturesPath != "" {
		if a.mem == nil {
			return errors.New("--fixtures requires the memory store")
		}
		rules, err := loadFixtures(fixturesPath, a.mem)
		if err != nil {
			return err
		}
		for _, r := range rules {
			if _, err := a.rules.Create(ctx, r); err != nil {
				return fmt.Errorf("seed rule %q: %w", r.Name, err)
			}
		}
		log.Info("Fixtures loaded", zap.String("path", fixturesPath), zap.Int("rules", len(rules)))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 后台任务须在 a.close() 关闭连接池之前退出
	var workers sync.WaitGroup

	if a.outboxDispatcher != nil {
		workers.Add(1)
		go func() {
			defer workers.Done()
			a.outboxDispatcher.Start(runCtx)
		}()
	}

	// Escalation ticker
	workers.Add(1)
	go func() {
		defer workers.Done()
		ticker := time.NewTicker(cfg.Escalation.TickInterval)
		defer ticker.Stop()

		// Run immediately on startup
		if _, err := a.scheduler.Tick(runCtx); err != nil {
			log.Error("Escalation tick failed", zap.Error(err))
		}
		for {
			select {
			case <-runCtx.Done():
				log.Info("Escalation ticker stopped")
				return
			case <-ticker.C:
				if _, err := a.scheduler.Tick(runCtx); err != nil {
					log.Error("Escalation tick failed", zap.Error(err))
				}
			}
		}
	}()

	// Cleanup sweep
	workers.Add(1)
	go func() {
		defer workers.Done()
		ticker := time.NewTicker(cfg.Escalation.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				log.Info("Cleanup sweep stopped")
				return
			case <-ticker.C:
				a.sweep(runCtx)
			}
		}
	}()

	srv := a.router().Server(cfg.Server.Port)
	serveErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	log.Info("escalator is fully initialized and running")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		cancel()
		waitWorkers(&workers, 30*time.Second, log)
		return fmt.Errorf("http server: %w", err)
	}

	log.Info("Shutting down escalator gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	if deadline, ok := shutdownCtx.Deadline(); ok {
		waitWorkers(&workers, time.Until(deadline), log)
	}

	log.Info("escalator shutdown complete")
	return nil
}

// waitWorkers blocks until wg is done or timeout passes.
func waitWorkers(wg *sync.WaitGroup, timeout time.Duration, log *zap.Logger) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		log.Info("Background workers stopped")
		return true
	case <-timer.C:
		log.Warn("Timed out waiting for background workers", zap.Duration("timeout", timeout))
		return false
	}
}

func newTickCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one escalation tick and print its summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			a, err := buildApp(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.scheduler.Tick(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}

func newSweepCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Purge expired reports and fail stale pending escalations once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			a, err := buildApp(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.close()

			a.sweep(cmd.Context())
			return nil
		},
	}
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			if cfg.Store != config.StorePostgres {
				return fmt.Errorf("migrate needs store %q, got %q", config.StorePostgres, cfg.Store)
			}
			pool, err := db.NewConnection(cmd.Context(), cfg.DB, log)
			if err != nil {
				return err
			}
			defer pool.Close()
			return db.Migrate(cmd.Context(), pool, log)
		},
	}
}

// newTokenCmd mints an admin API token for operators and local testing.
func newTokenCmd() *cobra.Command {
	var (
		userID int64
		role   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed admin API token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			switch role {
			case rbac.RoleUser, rbac.RoleReviewer, rbac.RoleAdmin:
			default:
				return fmt.Errorf("unknown role %q", role)
			}
			tok, err := util.GenerateJWT(userID, role, cfg.JWT.Secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 1, "user id carried in the token")
	cmd.Flags().StringVar(&role, "role", rbac.RoleAdmin, "user, reviewer or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}
