package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/p-blackswan/codevault/internal/deploy"
	perrors "github.com/p-blackswan/codevault/internal/errors"
	"github.com/p-blackswan/codevault/internal/history"
	"github.com/p-blackswan/codevault/internal/metrics"
	"github.com/p-blackswan/codevault/internal/observability"
	"github.com/p-blackswan/codevault/internal/project"
	"github.com/p-blackswan/codevault/internal/sessioncache"
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

func setupEngine(t *testing.T, opts ...Option) (*Engine, *fakeClock) {
	t.Helper()
	logger := zerolog.Nop()
	ds, err := store.New(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })

	clock := &fakeClock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now), WithRetryBaseDelay(time.Millisecond)}, opts...)
	return New(ds, DefaultConfig(), logger, opts...), clock
}

func files(names ...string) []history.FileInput {
	out := make([]history.FileInput, 0, len(names))
	for _, n := range names {
		out = append(out, history.FileInput{Filename: n, Content: "// " + n})
	}
	return out
}

func names(records []*history.FileRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Filename
	}
	return out
}

func TestAddFilesToSessionProject_CreatesOnceAndCommits(t *testing.T) {
	e, clock := setupEngine(t)
	ctx := context.Background()

	first, err := e.AddFilesToSessionProject(ctx, "sess-1", "user-1", files("a.ts", "b.ts", "c.ts"), "")
	require.NoError(t, err)
	clock.Advance(30 * time.Second)
	second, err := e.AddFilesToSessionProject(ctx, "sess-1", "user-1", files("d.ts", "e.ts"), "more")
	require.NoError(t, err)
	assert.Equal(t, first.ProjectID, second.ProjectID)

	commits, err := e.ListCommits(ctx, first.ProjectID)
	require.NoError(t, err)
	require.Len(t, commits, 3)
	assert.Equal(t, history.CommitInitial, commits[0].Type)
	assert.Equal(t, history.CommitAIEdit, commits[1].Type)
	assert.Equal(t, "Updated 3 files", commits[1].Message)
	assert.Equal(t, "more", commits[2].Message)

	p, err := e.GetProject(ctx, first.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, 5, p.TotalFiles)
	assert.Equal(t, 3, p.TotalCommits)

	list, err := e.ListVersions(ctx, "sess-1", "user-1")
	require.NoError(t, err)
	require.Len(t, list.Versions, 2)
	assert.Equal(t, "v2", list.CurrentVersion)
	assert.Equal(t, 5, list.Versions[0].FileCount)
	assert.Equal(t, 0, list.Versions[1].FileCount)
}

func TestListVersions_DoesNotCreateProject(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	_, err := e.ListVersions(ctx, "fresh", "user-1")
	assert.ErrorIs(t, err, perrors.ErrNotFound)

	_, err = e.GetVersionFiles(ctx, "fresh", "user-1", "v1")
	assert.ErrorIs(t, err, perrors.ErrNotFound)

	projects, err := e.ListProjects(ctx, "user-1", "")
	require.NoError(t, err)
	assert.Empty(t, projects)
}

func TestGetVersionFiles_UnknownLabelListsValid(t *testing.T) {
	e, clock := setupEngine(t)
	ctx := context.Background()

	_, err := e.AddFilesToSessionProject(ctx, "sess-1", "user-1", files("a.ts"), "")
	require.NoError(t, err)
	clock.Advance(5 * time.Minute)
	_, err = e.AddFilesToSessionProject(ctx, "sess-1", "user-1", files("b.ts"), "")
	require.NoError(t, err)

	got, err := e.GetVersionFiles(ctx, "sess-1", "user-1", "v2")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.ts"}, names(got))

	got, err = e.GetVersionFiles(ctx, "sess-1", "user-1", "3")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.ts", "b.ts"}, names(got))

	_, err = e.GetVersionFiles(ctx, "sess-1", "user-1", "v9")
	var uv *perrors.UnknownVersionError
	require.ErrorAs(t, err, &uv)
	assert.Equal(t, []string{"v1", "v2", "v3"}, uv.Valid)
	assert.Equal(t, "unknown_version", Outcome(err))
}

func TestCommitFiles_And_FilesAsOf(t *testing.T) {
	e, clock := setupEngine(t)
	ctx := context.Background()

	created, err := e.CreateProject(ctx, project.CreateInput{SessionID: "sess-1", UserID: "user-1", InitialFiles: files("index.html")})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	first, err := e.CommitFiles(ctx, CommitRequest{ProjectID: created.ProjectID, UserID: "user-1", Files: files("app.ts")})
	require.NoError(t, err)
	assert.Equal(t, history.CommitAIEdit, first.Type)

	clock.Advance(time.Minute)
	_, err = e.CommitFiles(ctx, CommitRequest{
		ProjectID: created.ProjectID,
		Type:      history.CommitManual,
		Files:     []history.FileInput{{Filename: "index.html", ChangeType: history.ChangeDeleted}},
	})
	require.NoError(t, err)

	current, err := e.GetCurrentFiles(ctx, created.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, []string{"app.ts"}, names(current))

	past, err := e.GetFilesAsOf(ctx, created.ProjectID, first.CreatedAt)
	require.NoError(t, err)
	assert.Equal(t, []string{"app.ts", "index.html"}, names(past))

	_, err = e.GetCurrentFiles(ctx, "missing")
	assert.ErrorIs(t, err, perrors.ErrNotFound)
}

func TestResolveProjectForSession_IdempotentAcrossInvalidation(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	id, err := e.ResolveProjectForSession(ctx, "sess-1", "user-1")
	require.NoError(t, err)
	require.NoError(t, e.InvalidateSession(ctx, "sess-1"))

	again, err := e.ResolveProjectForSession(ctx, "sess-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestResolveProjectForSession_SharedTier(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	tier := sessioncache.NewRedisTierFromClient(client, "test:", time.Hour)

	e, _ := setupEngine(t, WithSharedTier(tier))
	id, err := e.ResolveProjectForSession(context.Background(), "sess-1", "user-1")
	require.NoError(t, err)

	got, ok, err := tier.Get(context.Background(), "sess-1", "user-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, got)
}

func TestArchiveProject_NextWriteStartsFreshProject(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	first, err := e.AddFilesToSessionProject(ctx, "sess-1", "user-1", files("a.ts"), "")
	require.NoError(t, err)
	require.NoError(t, e.ArchiveProject(ctx, first.ProjectID))

	second, err := e.AddFilesToSessionProject(ctx, "sess-1", "user-1", files("b.ts"), "")
	require.NoError(t, err)
	assert.NotEqual(t, first.ProjectID, second.ProjectID)

	err = e.ArchiveProject(ctx, first.ProjectID)
	assert.ErrorIs(t, err, perrors.ErrInvalidInput)
}

func TestRecordDeployment_MarksDefiningVersion(t *testing.T) {
	e, clock := setupEngine(t)
	ctx := context.Background()

	added, err := e.AddFilesToSessionProject(ctx, "sess-1", "user-1", files("a.ts"), "")
	require.NoError(t, err)

	assert.True(t, e.RecordDeployment(ctx, added.ProjectID, "https://one.example.app", "ready"))
	assert.False(t, e.RecordDeployment(ctx, "missing", "https://x", "ready"))

	clock.Advance(10 * time.Minute)
	_, err = e.AddFilesToSessionProject(ctx, "sess-1", "user-1", files("b.ts"), "")
	require.NoError(t, err)

	list, err := e.ListVersions(ctx, "sess-1", "user-1")
	require.NoError(t, err)
	require.Len(t, list.Versions, 3)
	var deployed []string
	for _, v := range list.Versions {
		if v.Deployed {
			deployed = append(deployed, v.Label)
			assert.Equal(t, "https://one.example.app", v.DeploymentURL)
		}
	}
	assert.Equal(t, []string{"v2"}, deployed)
}

func TestDeploy_UsesTrigger(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	added, err := e.AddFilesToSessionProject(ctx, "sess-1", "user-1", files("a.ts", "b.ts"), "")
	require.NoError(t, err)

	var seen []string
	d, err := e.Deploy(ctx, added.ProjectID, deploy.TriggerFunc(func(_ context.Context, _ string, fs []*history.FileRecord) (deploy.Result, error) {
		seen = names(fs)
		return deploy.Result{URL: "https://built.example.app", Status: "ready"}, nil
	}))
	require.NoError(t, err)
	assert.Equal(t, added.CommitID, d.CommitID)
	assert.Equal(t, []string{"a.ts", "b.ts"}, seen)

	p, err := e.GetProject(ctx, added.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, "https://built.example.app", p.DeploymentURL)
	assert.Equal(t, added.CommitID, p.DeployedCommitID)

	_, err = e.Deploy(ctx, added.ProjectID, deploy.TriggerFunc(func(context.Context, string, []*history.FileRecord) (deploy.Result, error) {
		return deploy.Result{}, errors.New("builder offline")
	}))
	assert.Error(t, err)
}

func TestMetricsAndSpans(t *testing.T) {
	m := metrics.New()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	e, _ := setupEngine(t, WithMetrics(m), WithTracing(observability.NewProvider(tp)))
	ctx := context.Background()

	_, err := e.AddFilesToSessionProject(ctx, "sess-1", "user-1", files("a.ts"), "")
	require.NoError(t, err)
	_, err = e.GetCurrentFiles(ctx, "missing")
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("commit_files", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("get_current_files", "not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionResolvesTotal.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommitsTotal.WithLabelValues("ai_edit")))

	var spans []string
	for _, s := range exp.GetSpans() {
		spans = append(spans, s.Name)
	}
	assert.Contains(t, spans, "engine.resolve_project")
	assert.Contains(t, spans, "engine.commit_files")
	assert.Contains(t, spans, "engine.get_current_files")
}

func TestOutcome(t *testing.T) {
	cases := map[string]error{
		"ok":              nil,
		"not_found":       perrors.NotFound("project", "p"),
		"invalid":         perrors.Invalid("bad"),
		"conflict":        perrors.ErrConflict,
		"missing_session": perrors.ErrMissingSession,
		"unavailable":     perrors.ErrStoreUnavailable,
		"error":           errors.New("boom"),
		"canceled":        fmt.Errorf("query: %w", context.Canceled),
		"unknown_version": &perrors.UnknownVersionError{ProjectID: "p", Label: "v9"},
	}
	for want, err := range cases {
		assert.Equal(t, want, Outcome(err), want)
	}
}

func TestRestoreProject_ConflictsWithNewerActiveProject(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	first, err := e.ResolveProjectForSession(ctx, "sess-1", "user-1")
	require.NoError(t, err)
	require.NoError(t, e.ArchiveProject(ctx, first))
	second, err := e.ResolveProjectForSession(ctx, "sess-1", "user-1")
	require.NoError(t, err)

	err = e.RestoreProject(ctx, first)
	assert.ErrorIs(t, err, perrors.ErrConflict)

	require.NoError(t, e.DeleteProject(ctx, second))
	require.NoError(t, e.RestoreProject(ctx, first))

	again, err := e.ResolveProjectForSession(ctx, "sess-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, first, again)

	_, err = e.CommitFiles(ctx, CommitRequest{ProjectID: second, Files: files("x.ts")})
	assert.ErrorIs(t, err, perrors.ErrInvalidInput)
}

func TestResolveProjectForSession_OtherUserConflicts(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	_, err := e.ResolveProjectForSession(ctx, "sess-1", "alice")
	require.NoError(t, err)

	_, err = e.ResolveProjectForSession(ctx, "sess-1", "bob")
	assert.ErrorIs(t, err, perrors.ErrConflict)
	_, err = e.AddFilesToSessionProject(ctx, "sess-1", "bob", files("a.ts"), "")
	assert.ErrorIs(t, err, perrors.ErrConflict)
}

func TestDescribeSession(t *testing.T) {
	e, clock := setupEngine(t)
	ctx := context.Background()

	added, err := e.AddFilesToSessionProject(ctx, "sess-1", "user-1", files("a.ts", "b.ts"), "first")
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = e.AddFilesToSessionProject(ctx, "sess-1", "user-1", files("c.ts"), "second")
	require.NoError(t, err)

	d, err := e.DescribeSession(ctx, "sess-1", added.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, added.ProjectID, d.ProjectID)
	assert.True(t, d.Placeholder)
	require.NotNil(t, d.LastCommit)
	assert.Equal(t, "second", d.LastCommit.Message)
	assert.Equal(t, 1, d.LastCommit.FileCount())

	d, err = e.DescribeSession(ctx, "sess-unknown", "p-unknown")
	require.NoError(t, err)
	assert.Empty(t, d.Title)
	assert.Nil(t, d.LastCommit)
}

func TestSessionCacheStats(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := e.ResolveProjectForSession(ctx, "sess-1", "user-1")
		require.NoError(t, err)
	}

	stats := e.SessionCacheStats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}
