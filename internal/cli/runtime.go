package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/codevault/internal/config"
	"github.com/p-blackswan/codevault/internal/engine"
	"github.com/p-blackswan/codevault/internal/metrics"
	"github.com/p-blackswan/codevault/internal/observability"
	"github.com/p-blackswan/codevault/internal/sessioncache"
	"github.com/p-blackswan/codevault/internal/store"
)

// runtime is the wired engine plus everything that must be closed with it.
type runtime struct {
	cfg     *config.Config
	logger  zerolog.Logger
	store   *store.Store
	engine  *engine.Engine
	metrics *metrics.Metrics
	tracing *observability.Provider
	redis   *sessioncache.RedisTier
}

// newLogger mirrors the service logging setup: JSON with unix timestamps, a
// console writer in development, and the global level from LOG_LEVEL.
func newLogger(w io.Writer, cfg *config.Config, verbose bool) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(w).With().Timestamp().Caller().Logger()
	if cfg.Environment == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: w})
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	return logger.Level(level)
}

func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if opts.DBPath != "" {
		cfg.DBPath = opts.DBPath
	}
	return cfg, nil
}

// openRuntime opens the store and builds the engine with the optional shared
// session tier, tracing and metrics.
func openRuntime(ctx context.Context, cfg *config.Config, logger zerolog.Logger, withMetrics bool) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger}

	ds, err := store.New(cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	rt.store = ds

	tp, err := observability.Init(ctx, observability.Config{
		ServiceVersion: Version,
		ExporterType:   cfg.OTELExporter,
		Endpoint:       cfg.OTELEndpoint,
		Insecure:       cfg.OTELInsecure,
		SampleRatio:    cfg.OTELSampleRatio,
	}, logger)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	rt.tracing = tp

	opts := []engine.Option{engine.WithTracing(tp)}
	if withMetrics {
		rt.metrics = metrics.New()
		opts = append(opts, engine.WithMetrics(rt.metrics))
	}

	if cfg.RedisEnabled() {
		tier, err := sessioncache.NewRedisTier(sessioncache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
			TTL:      cfg.SessionCacheTTL,
		})
		if err != nil {
			// The shared tier is an optimization; run without it.
			logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("shared session cache unavailable")
		} else {
			rt.redis = tier
			opts = append(opts, engine.WithSharedTier(tier))
		}
	}

	rt.engine = engine.New(ds, engine.Config{
		OpTimeout:     cfg.OpTimeout,
		ReadRetries:   cfg.ReadRetries,
		VersionWindow: cfg.VersionWindow,
		SessionCache:  sessioncache.Config{Size: cfg.SessionCacheSize, TTL: cfg.SessionCacheTTL},
	}, logger, opts...)

	return rt, nil
}

// Close releases the store, the Redis client and flushes spans.
func (rt *runtime) Close(ctx context.Context) {
	if rt.tracing != nil {
		if err := rt.tracing.Shutdown(ctx); err != nil {
			rt.logger.Warn().Err(err).Msg("failed to flush spans")
		}
	}
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			rt.logger.Warn().Err(err).Msg("failed to close redis client")
		}
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.logger.Warn().Err(err).Msg("failed to close store")
		}
	}
}
