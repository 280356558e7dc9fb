package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/codevault/internal/health"
	"github.com/p-blackswan/codevault/internal/mgmt"
)

// NewServeCommand runs the HTTP API until SIGINT or SIGTERM.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve the versioning engine over HTTP. Configuration comes from the environment
(DB_PATH, LISTEN_ADDR, AUTH_MODE, API_KEY, REDIS_ADDR, OTEL_EXPORTER, ...).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if listenAddr != "" {
				cfg.ListenAddr = listenAddr
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			logger := newLogger(os.Stdout, cfg, opts.Verbose)
			logger.Info().
				Str("environment", cfg.Environment).
				Str("listen_addr", cfg.ListenAddr).
				Str("db_path", cfg.DBPath).
				Bool("redis_enabled", cfg.RedisEnabled()).
				Msg("starting codevault")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := openRuntime(ctx, cfg, logger, true)
			if err != nil {
				return err
			}
			defer rt.Close(context.Background())
			logger.Info().
				Dur("version_window", rt.engine.VersionWindow()).
				Bool("shared_session_tier", rt.redis != nil).
				Msg("engine ready")

			checker := health.NewChecker(logger)
			checker.Register("store", health.Required(rt.store))
			if rt.redis != nil {
				checker.Register("redis", health.Optional(rt.redis))
			}

			roles := make(map[string]mgmt.Role)
			for _, key := range cfg.ReadOnlyKeyList() {
				roles[key] = mgmt.RoleReadOnly
			}

			server := mgmt.NewServer(mgmt.ServerConfig{
				ListenAddr: cfg.ListenAddr,
				AuthConfig: mgmt.AuthConfig{
					Mode:   cfg.AuthMode,
					APIKey: cfg.APIKey,
					Roles:  roles,
				},
				RateLimit: mgmt.RateLimitConfig{
					RPS:   cfg.RateLimitRPS,
					Burst: cfg.RateLimitBurst,
				},
				CORSOrigins: cfg.CORSOriginList(),
				BodyLimit:   cfg.BodyLimitBytes,
			}, rt.engine, checker, rt.metrics, logger)

			go runMaintenance(ctx, rt, cfg.MaintenanceInterval)

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Start()
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("API server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info().Msg("shutting down gracefully")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("API server shutdown error")
			}
			logger.Info().Msg("codevault stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (overrides LISTEN_ADDR)")
	return cmd
}
