// Package sessioncache maps chat sessions to their active project.
//
// Lookups go local LRU, then the optional shared tier, then the project
// registry. Both cache tiers are optimizations: every answer is reproducible
// from the registry alone.
package sessioncache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	perrors "github.com/p-blackswan/codevault/internal/errors"
	"github.com/p-blackswan/codevault/internal/project"
	"github.com/p-blackswan/codevault/lru"
)

// Source reports which tier answered a resolve.
type Source string

const (
	SourceLocal    Source = "local"
	SourceShared   Source = "shared"
	SourceRegistry Source = "registry"
	SourceCreated  Source = "created"
)

// Registry is the persisted side of session bindings.
type Registry interface {
	FindActiveProjectForSession(ctx context.Context, sessionID, userID string) (*project.Project, error)
	CreateProject(ctx context.Context, in project.CreateInput) (*project.Created, error)
}

type binding struct {
	sessionID string
	userID    string
}

// Config controls the local tier.
type Config struct {
	Size int
	TTL  time.Duration

	// FillTimeout bounds one shared registry round trip. Waiting callers give
	// up on their own context; the round trip itself is not tied to any of them.
	FillTimeout time.Duration
}

// DefaultFillTimeout bounds a registry round trip when Config.FillTimeout is unset.
const DefaultFillTimeout = 10 * time.Second

// Option configures a Resolver.
type Option func(*Resolver)

// WithSharedTier adds a cross-process cache tier.
func WithSharedTier(tier SharedTier) Option {
	return func(r *Resolver) {
		r.shared = tier
	}
}

// WithObserver registers a callback invoked with the answering tier of every
// successful resolve or lookup.
func WithObserver(fn func(Source)) Option {
	return func(r *Resolver) {
		r.observe = fn
	}
}

// Resolver resolves sessions to projects, creating one when a session has none.
type Resolver struct {
	registry Registry
	local    *lru.Cache[binding, string]
	shared   SharedTier
	group    singleflight.Group
	timeout  time.Duration
	observe  func(Source)
	logger   zerolog.Logger
}

// New creates a resolver.
func New(registry Registry, cfg Config, logger zerolog.Logger, opts ...Option) *Resolver {
	size := cfg.Size
	if size <= 0 {
		size = 1024
	}
	timeout := cfg.FillTimeout
	if timeout <= 0 {
		timeout = DefaultFillTimeout
	}
	r := &Resolver{
		registry: registry,
		timeout:  timeout,
		local:    lru.New[binding, string](size, lru.WithTTL[binding, string](cfg.TTL)),
		observe:  func(Source) {},
		logger:   logger.With().Str("component", "sessioncache").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type outcome struct {
	projectID string
	source    Source
}

// Resolve returns the session's active project, creating it if none exists.
// Concurrent calls for one binding in this process share a single registry
// round trip; across processes the loser of a creation race adopts the winner.
func (r *Resolver) Resolve(ctx context.Context, sessionID, userID string) (string, error) {
	return r.resolve(ctx, sessionID, userID, true)
}

// Lookup returns the session's active project without creating one. A session
// without a project yields ErrNotFound.
func (r *Resolver) Lookup(ctx context.Context, sessionID, userID string) (string, error) {
	return r.resolve(ctx, sessionID, userID, false)
}

func (r *Resolver) resolve(ctx context.Context, sessionID, userID string, create bool) (string, error) {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(userID) == "" {
		return "", perrors.Invalid("session id and user id are required")
	}

	key := binding{sessionID: sessionID, userID: userID}
	if id, ok := r.local.Get(key); ok {
		r.observe(SourceLocal)
		return id, nil
	}

	flight := "lookup\x00" + sessionID + "\x00" + userID
	if create {
		flight = "resolve\x00" + sessionID + "\x00" + userID
	}
	ch := r.group.DoChan(flight, func() (any, error) {
		fillCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.fill(fillCtx, key, create)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		out := res.Val.(outcome)
		r.observe(out.source)
		return out.projectID, nil
	}
}

func (r *Resolver) fill(ctx context.Context, key binding, create bool) (outcome, error) {
	if r.shared != nil {
		id, ok, err := r.shared.Get(ctx, key.sessionID, key.userID)
		if err != nil {
			r.logger.Warn().Err(err).Str("session_id", key.sessionID).Msg("shared tier read failed")
		} else if ok {
			r.local.Put(key, id)
			return outcome{projectID: id, source: SourceShared}, nil
		}
	}

	p, err := r.registry.FindActiveProjectForSession(ctx, key.sessionID, key.userID)
	if err != nil {
		return outcome{}, err
	}
	if p != nil {
		r.remember(ctx, key, p.ID)
		return outcome{projectID: p.ID, source: SourceRegistry}, nil
	}
	if !create {
		return outcome{}, perrors.NotFound("project for session", key.sessionID)
	}

	created, err := r.registry.CreateProject(ctx, project.CreateInput{SessionID: key.sessionID, UserID: key.userID})
	if errors.Is(err, perrors.ErrConflict) {
		p, findErr := r.registry.FindActiveProjectForSession(ctx, key.sessionID, key.userID)
		if findErr != nil {
			return outcome{}, findErr
		}
		if p == nil {
			return outcome{}, err
		}
		r.logger.Info().Str("session_id", key.sessionID).Str("project_id", p.ID).Msg("adopted concurrently created project")
		r.remember(ctx, key, p.ID)
		return outcome{projectID: p.ID, source: SourceRegistry}, nil
	}
	if err != nil {
		return outcome{}, err
	}

	r.remember(ctx, key, created.ProjectID)
	return outcome{projectID: created.ProjectID, source: SourceCreated}, nil
}

func (r *Resolver) remember(ctx context.Context, key binding, projectID string) {
	r.local.Put(key, projectID)
	if r.shared == nil {
		return
	}
	if err := r.shared.Set(ctx, key.sessionID, key.userID, projectID); err != nil {
		r.logger.Warn().Err(err).Str("session_id", key.sessionID).Msg("shared tier write failed")
	}
}

// Invalidate drops the session's cached bindings for every user. Persisted
// projects are untouched.
func (r *Resolver) Invalidate(ctx context.Context, sessionID string) error {
	for _, key := range r.local.Keys() {
		if key.sessionID == sessionID {
			r.local.Delete(key)
		}
	}
	if r.shared != nil {
		if err := r.shared.Delete(ctx, sessionID); err != nil {
			return err
		}
	}
	r.logger.Debug().Str("session_id", sessionID).Msg("session binding invalidated")
	return nil
}

// Stats returns the local tier's counters.
func (r *Resolver) Stats() lru.Metrics {
	return r.local.Metrics()
}
