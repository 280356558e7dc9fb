package deploy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/codevault/internal/errors"
	"github.com/p-blackswan/codevault/internal/history"
	"github.com/p-blackswan/codevault/internal/project"
	"github.com/p-blackswan/codevault/internal/store"
)

type fixture struct {
	registry *project.Registry
	commits  *history.CommitStore
	recorder *Recorder
	results  []bool
}

func setup(t *testing.T) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	ds, err := store.New(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		now = now.Add(time.Second)
		return now
	}

	f := &fixture{commits: history.NewCommitStore(ds, logger, history.WithClock(clock))}
	f.registry = project.NewRegistry(ds, f.commits, logger)
	f.recorder = NewRecorder(f.registry, history.NewReconstructor(f.commits), logger,
		WithResultHook(func(ok bool) { f.results = append(f.results, ok) }))
	return f
}

type failingWriter struct{}

func (failingWriter) UpdateDeployment(context.Context, string, project.Deployment) error {
	return perrors.ErrStoreUnavailable
}

func TestRecord_WritesThrough(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	created, err := f.registry.CreateProject(ctx, project.CreateInput{SessionID: "s1", UserID: "u1"})
	require.NoError(t, err)

	ok := f.recorder.Record(ctx, created.ProjectID, project.Deployment{URL: "https://x.example.app", Status: "ready"})
	assert.True(t, ok)
	assert.Equal(t, []bool{true}, f.results)

	p, err := f.registry.GetProject(ctx, created.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, "https://x.example.app", p.DeploymentURL)
	assert.Equal(t, created.CommitID, p.DeployedCommitID)
}

func TestRecord_SwallowsFailures(t *testing.T) {
	var results []bool
	r := NewRecorder(failingWriter{}, nil, zerolog.Nop(), WithResultHook(func(ok bool) { results = append(results, ok) }))

	assert.False(t, r.Record(context.Background(), "p1", project.Deployment{URL: "u"}))
	assert.Equal(t, []bool{false}, results)

	f := setup(t)
	assert.False(t, f.recorder.Record(context.Background(), "missing", project.Deployment{URL: "u"}))
}

func TestDeploy_HandsFilesToTriggerAndRecordsHead(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	created, err := f.registry.CreateProject(ctx, project.CreateInput{
		SessionID:    "s1",
		UserID:       "u1",
		InitialFiles: []history.FileInput{{Filename: "index.html", Content: "<html></html>"}},
	})
	require.NoError(t, err)
	head, err := f.commits.Create(ctx, history.CommitInput{
		ProjectID: created.ProjectID,
		Files:     []history.FileInput{{Filename: "app.js", Content: "run()"}},
	})
	require.NoError(t, err)

	var handed []string
	trigger := TriggerFunc(func(_ context.Context, projectID string, files []*history.FileRecord) (Result, error) {
		for _, rec := range files {
			handed = append(handed, rec.Filename)
		}
		return Result{URL: "https://" + projectID[:8] + ".example.app", Status: "building"}, nil
	})

	d, err := f.recorder.Deploy(ctx, created.ProjectID, trigger)
	require.NoError(t, err)
	assert.Equal(t, []string{"app.js", "index.html"}, handed)
	assert.Equal(t, head.ID, d.CommitID)
	assert.Equal(t, "building", d.Status)

	p, err := f.registry.GetProject(ctx, created.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, head.ID, p.DeployedCommitID)
	assert.Equal(t, d.URL, p.DeploymentURL)
}

func TestDeploy_TriggerErrorIsReturned(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	created, err := f.registry.CreateProject(ctx, project.CreateInput{SessionID: "s1", UserID: "u1"})
	require.NoError(t, err)

	boom := errors.New("provider down")
	_, err = f.recorder.Deploy(ctx, created.ProjectID, TriggerFunc(func(context.Context, string, []*history.FileRecord) (Result, error) {
		return Result{}, boom
	}))
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, f.results)

	p, err := f.registry.GetProject(ctx, created.ProjectID)
	require.NoError(t, err)
	assert.Empty(t, p.DeploymentURL)
}

func TestDeploy_UnknownProject(t *testing.T) {
	f := setup(t)
	_, err := f.recorder.Deploy(context.Background(), "missing", TriggerFunc(nil))
	assert.ErrorIs(t, err, perrors.ErrNotFound)
}
