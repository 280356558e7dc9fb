// Package engine is the versioning engine's single entry point. Every exposed
// operation gets a bounded timeout, a span, and operation metrics. Only reads
// are retried.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/p-blackswan/codevault/internal/deploy"
	perrors "github.com/p-blackswan/codevault/internal/errors"
	"github.com/p-blackswan/codevault/internal/history"
	"github.com/p-blackswan/codevault/internal/metrics"
	"github.com/p-blackswan/codevault/internal/observability"
	"github.com/p-blackswan/codevault/internal/project"
	"github.com/p-blackswan/codevault/internal/requestid"
	"github.com/p-blackswan/codevault/internal/retry"
	"github.com/p-blackswan/codevault/internal/sessioncache"
	"github.com/p-blackswan/codevault/internal/store"
	"github.com/p-blackswan/codevault/internal/version"
)

// Config holds engine tuning.
type Config struct {
	OpTimeout     time.Duration
	ReadRetries   int
	VersionWindow time.Duration
	SessionCache  sessioncache.Config
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		OpTimeout:     10 * time.Second,
		ReadRetries:   3,
		VersionWindow: version.DefaultWindow,
		SessionCache:  sessioncache.Config{Size: 4096, TTL: 30 * time.Minute},
	}
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	metrics *metrics.Metrics
	tracer  trace.Tracer
	shared  sessioncache.SharedTier
	now     func() time.Time
	backoff time.Duration
}

// WithMetrics records operation metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracing records a span per operation.
func WithTracing(p *observability.Provider) Option {
	return func(o *options) { o.tracer = p.Tracer("codevault/engine") }
}

// WithSharedTier adds a cross-process session binding cache.
func WithSharedTier(tier sessioncache.SharedTier) Option {
	return func(o *options) { o.shared = tier }
}

// WithClock overrides the wall clock for commit and project timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithRetryBaseDelay overrides the first read retry delay.
func WithRetryBaseDelay(d time.Duration) Option {
	return func(o *options) { o.backoff = d }
}

// Engine wires the registry, commit store, reconstructor, aggregator, session
// cache and deployment recorder over one store.
type Engine struct {
	ds        *store.Store
	registry  *project.Registry
	commits   *history.CommitStore
	files     *history.Reconstructor
	versions  *version.Aggregator
	sessions  *sessioncache.Resolver
	deploys   *deploy.Recorder
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	timeout   time.Duration
	readRetry retry.Config
	logger    zerolog.Logger
}

// New builds an engine over ds.
func New(ds *store.Store, cfg Config, logger zerolog.Logger, opts ...Option) *Engine {
	o := options{now: time.Now, tracer: noop.NewTracerProvider().Tracer("codevault/engine")}
	for _, opt := range opts {
		opt(&o)
	}

	commits := history.NewCommitStore(ds, logger, history.WithClock(o.now))
	registry := project.NewRegistry(ds, commits, logger, project.WithClock(o.now))
	files := history.NewReconstructor(commits)

	var resolverOpts []sessioncache.Option
	if o.shared != nil {
		resolverOpts = append(resolverOpts, sessioncache.WithSharedTier(o.shared))
	}
	var recorderOpts []deploy.Option
	if o.metrics != nil {
		m := o.metrics
		resolverOpts = append(resolverOpts, sessioncache.WithObserver(func(s sessioncache.Source) { m.RecordResolve(string(s)) }))
		recorderOpts = append(recorderOpts, deploy.WithResultHook(m.RecordDeployment))
	}

	readRetry := retry.DefaultConfig()
	if cfg.ReadRetries > 0 {
		readRetry.MaxAttempts = cfg.ReadRetries
	}
	if o.backoff > 0 {
		readRetry.BaseDelay = o.backoff
	}
	timeout := cfg.OpTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().OpTimeout
	}
	cacheCfg := cfg.SessionCache
	if cacheCfg.FillTimeout <= 0 {
		cacheCfg.FillTimeout = timeout
	}

	return &Engine{
		ds:        ds,
		registry:  registry,
		commits:   commits,
		files:     files,
		versions:  version.NewAggregator(commits, registry, logger, version.WithWindow(cfg.VersionWindow)),
		sessions:  sessioncache.New(registry, cacheCfg, logger, resolverOpts...),
		deploys:   deploy.NewRecorder(registry, files, logger, recorderOpts...),
		metrics:   o.metrics,
		tracer:    o.tracer,
		timeout:   timeout,
		readRetry: readRetry,
		logger:    logger.With().Str("component", "engine").Logger(),
	}
}

// Ping checks the backing store.
func (e *Engine) Ping(ctx context.Context) error {
	return e.ds.Ping(ctx)
}

// Outcome classifies an error for metrics and logs.
func Outcome(err error) string {
	var uv *perrors.UnknownVersionError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &uv):
		return "unknown_version"
	case errors.Is(err, perrors.ErrNotFound):
		return "not_found"
	case errors.Is(err, perrors.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, perrors.ErrConflict):
		return "conflict"
	case errors.Is(err, perrors.ErrMissingSession):
		return "missing_session"
	case errors.Is(err, perrors.ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		return "unavailable"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

// call runs one write under the operation timeout. Writes are never retried.
func call[T any](e *Engine, ctx context.Context, op string, attrs []attribute.KeyValue, fn func(ctx context.Context) (T, error)) (T, error) {
	return observe(e, ctx, op, attrs, fn)
}

// read runs one read under the operation timeout, retrying store outages.
func read[T any](e *Engine, ctx context.Context, op string, attrs []attribute.KeyValue, fn func(ctx context.Context) (T, error)) (T, error) {
	return observe(e, ctx, op, attrs, func(ctx context.Context) (T, error) {
		attempt := 0
		return retry.Read(ctx, e.readRetry, func(ctx context.Context) (T, error) {
			if attempt > 0 && e.metrics != nil {
				e.metrics.RecordRetry(op)
			}
			attempt++
			return fn(ctx)
		})
	})
}

// observe applies the timeout, span, log line and metrics shared by every operation.
func observe[T any](e *Engine, ctx context.Context, op string, attrs []attribute.KeyValue, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	ctx, span := e.tracer.Start(ctx, "engine."+op, trace.WithAttributes(attrs...))

	start := time.Now()
	val, err := fn(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%s: %w: %w", op, perrors.ErrStoreUnavailable, err)
	}
	outcome := Outcome(err)
	observability.EndSpan(span, err)
	if e.metrics != nil {
		e.metrics.RecordOperation(op, outcome, time.Since(start).Seconds())
	}

	logger := requestid.Logger(ctx, e.logger)
	if err != nil && outcome != "not_found" && outcome != "unknown_version" && outcome != "invalid" && outcome != "canceled" {
		logger.Warn().Err(err).Str("operation", op).Str("outcome", outcome).Msg("operation failed")
	} else {
		logger.Debug().Str("operation", op).Str("outcome", outcome).Dur("elapsed", time.Since(start)).Msg("operation")
	}
	return val, err
}
