package version

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/codevault/internal/history"
	"github.com/p-blackswan/codevault/internal/project"
	"github.com/p-blackswan/codevault/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	commits  *history.CommitStore
	registry *project.Registry
	agg      *Aggregator
	clock    *fakeClock
}

func setup(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	ds, err := store.New(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })

	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	commits := history.NewCommitStore(ds, logger, history.WithClock(clock.Now))
	registry := project.NewRegistry(ds, commits, logger, project.WithClock(clock.Now))
	return &fixture{
		commits:  commits,
		registry: registry,
		agg:      NewAggregator(commits, registry, logger, opts...),
		clock:    clock,
	}
}

func (f *fixture) newProject(t *testing.T, initial ...string) string {
	t.Helper()
	created, err := f.registry.CreateProject(context.Background(), project.CreateInput{
		SessionID:    "sess-1",
		UserID:       "user-1",
		InitialFiles: files(initial...),
	})
	require.NoError(t, err)
	return created.ProjectID
}

func (f *fixture) commit(t *testing.T, projectID string, in ...history.FileInput) *history.Commit {
	t.Helper()
	c, err := f.commits.Create(context.Background(), history.CommitInput{ProjectID: projectID, Files: in})
	require.NoError(t, err)
	return c
}

func files(names ...string) []history.FileInput {
	out := make([]history.FileInput, 0, len(names))
	for _, n := range names {
		out = append(out, history.FileInput{Filename: n, Content: "// " + n})
	}
	return out
}

func deleted(name string) history.FileInput {
	return history.FileInput{Filename: name, ChangeType: history.ChangeDeleted}
}

func names(records []*history.FileRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Filename
	}
	return out
}
