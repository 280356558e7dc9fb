package project

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/codevault/internal/errors"
	"github.com/p-blackswan/codevault/internal/history"
	"github.com/p-blackswan/codevault/internal/store"
)

func setupTestRegistry(t *testing.T, opts ...Option) (*Registry, *store.Store) {
	t.Helper()
	logger := zerolog.Nop()
	ds, err := store.New(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })
	return NewRegistry(ds, history.NewCommitStore(ds, logger), logger, opts...), ds
}

// lyingDirectory claims every session exists, so the first insert hits the
// foreign key and exercises the heal path.
type lyingDirectory struct {
	ds     *store.Store
	heal   bool
	mu     sync.Mutex
	ensure int
}

func (d *lyingDirectory) SessionExists(context.Context, string) (bool, error) {
	return true, nil
}

func (d *lyingDirectory) EnsurePlaceholderSession(ctx context.Context, id, userID string) (bool, error) {
	d.mu.Lock()
	d.ensure++
	d.mu.Unlock()
	if !d.heal {
		return false, nil
	}
	return d.ds.EnsurePlaceholderSession(ctx, id, userID)
}

func TestCreateProject_WithInitialFiles(t *testing.T) {
	r, ds := setupTestRegistry(t)
	ctx := context.Background()

	created, err := r.CreateProject(ctx, CreateInput{
		SessionID: "sess-1",
		UserID:    "user-1",
		Meta:      Meta{Name: "Landing Page", Framework: "react"},
		InitialFiles: []history.FileInput{
			{Filename: "App.tsx", Content: "export default function App() {}"},
			{Filename: "index.css", Content: "body {}"},
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ProjectID)
	assert.NotEmpty(t, created.CommitID)
	assert.Equal(t, 2, created.Project.TotalFiles)
	assert.Equal(t, 1, created.Project.TotalCommits)

	got, err := r.GetProject(ctx, created.ProjectID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Landing Page", got.Name)
	assert.Equal(t, "react", got.Framework)
	assert.Equal(t, StatusActive, got.Status)
	assert.Equal(t, 2, got.TotalFiles)
	assert.Equal(t, 1, got.TotalCommits)

	sess, err := ds.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.True(t, sess.Placeholder)

	commits, err := history.NewCommitStore(ds, zerolog.Nop()).List(ctx, created.ProjectID)
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, history.CommitInitial, commits[0].Type)
	assert.Equal(t, created.CommitID, commits[0].ID)
}

func TestCreateProject_EmptyInitialCommit(t *testing.T) {
	r, _ := setupTestRegistry(t)

	created, err := r.CreateProject(context.Background(), CreateInput{SessionID: "sess-1", UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, 0, created.Project.TotalFiles)
	assert.Equal(t, 1, created.Project.TotalCommits)
	assert.Equal(t, "Project sess-1", created.Project.Name)
}

func TestCreateProject_ExistingSessionIsKept(t *testing.T) {
	r, ds := setupTestRegistry(t)
	ctx := context.Background()
	_, err := ds.DB().ExecContext(ctx,
		`INSERT INTO chat_sessions (id, user_id, title, placeholder, created_at) VALUES ('sess-1', 'user-1', 'Chat', 0, 1)`)
	require.NoError(t, err)

	_, err = r.CreateProject(ctx, CreateInput{SessionID: "sess-1", UserID: "user-1"})
	require.NoError(t, err)

	sess, err := ds.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "Chat", sess.Title)
	assert.False(t, sess.Placeholder)
}

func TestCreateProject_HealsMissingSessionOnce(t *testing.T) {
	dir := &lyingDirectory{heal: true}
	r, ds := setupTestRegistry(t, WithSessionDirectory(dir))
	dir.ds = ds

	created, err := r.CreateProject(context.Background(), CreateInput{SessionID: "sess-1", UserID: "user-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ProjectID)
	assert.Equal(t, 1, dir.ensure)
}

func TestCreateProject_MissingSessionAfterRetry(t *testing.T) {
	dir := &lyingDirectory{heal: false}
	r, ds := setupTestRegistry(t, WithSessionDirectory(dir))
	dir.ds = ds

	_, err := r.CreateProject(context.Background(), CreateInput{SessionID: "sess-1", UserID: "user-1"})
	assert.ErrorIs(t, err, perrors.ErrMissingSession)
	assert.Equal(t, 1, dir.ensure)

	projects, err := r.ListProjects(context.Background(), "", "")
	require.NoError(t, err)
	assert.Empty(t, projects)
}

func TestCreateProject_RejectsInvalidInput(t *testing.T) {
	r, _ := setupTestRegistry(t)
	ctx := context.Background()

	_, err := r.CreateProject(ctx, CreateInput{UserID: "user-1"})
	assert.ErrorIs(t, err, perrors.ErrInvalidInput)

	_, err = r.CreateProject(ctx, CreateInput{SessionID: "sess-1"})
	assert.ErrorIs(t, err, perrors.ErrInvalidInput)

	// A bad initial file rolls back the project row too.
	_, err = r.CreateProject(ctx, CreateInput{
		SessionID:    "sess-1",
		UserID:       "user-1",
		InitialFiles: []history.FileInput{{Filename: "a.ts"}, {Filename: "a.ts"}},
	})
	assert.ErrorIs(t, err, perrors.ErrInvalidInput)

	p, err := r.FindActiveProjectForSession(ctx, "sess-1", "user-1")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestCreateProject_OneActivePerSession(t *testing.T) {
	r, _ := setupTestRegistry(t)
	ctx := context.Background()

	_, err := r.CreateProject(ctx, CreateInput{SessionID: "sess-1", UserID: "user-1"})
	require.NoError(t, err)

	_, err = r.CreateProject(ctx, CreateInput{SessionID: "sess-1", UserID: "user-1"})
	assert.ErrorIs(t, err, perrors.ErrConflict)
}

func TestCreateProject_SecondUserOnSessionConflicts(t *testing.T) {
	r, _ := setupTestRegistry(t)
	ctx := context.Background()

	_, err := r.CreateProject(ctx, CreateInput{SessionID: "sess-1", UserID: "alice"})
	require.NoError(t, err)

	_, err = r.CreateProject(ctx, CreateInput{SessionID: "sess-1", UserID: "bob"})
	assert.ErrorIs(t, err, perrors.ErrConflict)

	active, err := r.ListProjects(ctx, "", StatusActive)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestFindActiveProjectForSession(t *testing.T) {
	r, _ := setupTestRegistry(t)
	ctx := context.Background()

	p, err := r.FindActiveProjectForSession(ctx, "sess-1", "user-1")
	require.NoError(t, err)
	assert.Nil(t, p)

	created, err := r.CreateProject(ctx, CreateInput{SessionID: "sess-1", UserID: "user-1"})
	require.NoError(t, err)

	p, err = r.FindActiveProjectForSession(ctx, "sess-1", "user-1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, created.ProjectID, p.ID)

	p, err = r.FindActiveProjectForSession(ctx, "sess-1", "someone-else")
	assert.ErrorIs(t, err, perrors.ErrConflict)
	assert.Nil(t, p)

	require.NoError(t, r.Archive(ctx, created.ProjectID))
	p, err = r.FindActiveProjectForSession(ctx, "sess-1", "user-1")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestUpdateDeployment(t *testing.T) {
	r, ds := setupTestRegistry(t)
	ctx := context.Background()
	commits := history.NewCommitStore(ds, zerolog.Nop())

	created, err := r.CreateProject(ctx, CreateInput{SessionID: "sess-1", UserID: "user-1"})
	require.NoError(t, err)
	second, err := commits.Create(ctx, history.CommitInput{
		ProjectID: created.ProjectID,
		Files:     []history.FileInput{{Filename: "a.ts", Content: "x"}},
	})
	require.NoError(t, err)

	require.NoError(t, r.UpdateDeployment(ctx, created.ProjectID, Deployment{URL: "https://a.example.app", Status: "ready"}))
	p, err := r.GetProject(ctx, created.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, "https://a.example.app", p.DeploymentURL)
	assert.Equal(t, "ready", p.DeploymentStatus)
	assert.Equal(t, second.ID, p.DeployedCommitID)
	assert.NotZero(t, p.DeployedAt)

	require.NoError(t, r.UpdateDeployment(ctx, created.ProjectID, Deployment{URL: "https://b.example.app", Status: "ready", CommitID: created.CommitID}))
	p, err = r.GetProject(ctx, created.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, created.CommitID, p.DeployedCommitID)
	assert.Equal(t, "https://b.example.app", p.DeploymentURL)

	err = r.UpdateDeployment(ctx, created.ProjectID, Deployment{URL: "x", CommitID: "not-a-commit"})
	assert.ErrorIs(t, err, perrors.ErrNotFound)

	err = r.UpdateDeployment(ctx, "missing", Deployment{URL: "x"})
	assert.ErrorIs(t, err, perrors.ErrNotFound)
}

func TestStatusTransitions(t *testing.T) {
	r, _ := setupTestRegistry(t)
	ctx := context.Background()

	first, err := r.CreateProject(ctx, CreateInput{SessionID: "sess-1", UserID: "user-1"})
	require.NoError(t, err)

	require.NoError(t, r.Archive(ctx, first.ProjectID))
	assert.ErrorIs(t, r.Archive(ctx, first.ProjectID), perrors.ErrInvalidInput)

	second, err := r.CreateProject(ctx, CreateInput{SessionID: "sess-1", UserID: "user-1"})
	require.NoError(t, err)

	assert.ErrorIs(t, r.Restore(ctx, first.ProjectID), perrors.ErrConflict)

	require.NoError(t, r.MarkDeleted(ctx, second.ProjectID))
	require.NoError(t, r.Restore(ctx, first.ProjectID))

	p, err := r.GetProject(ctx, second.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, StatusDeleted, p.Status)

	assert.ErrorIs(t, r.Archive(ctx, "missing"), perrors.ErrNotFound)
}

func TestListProjects(t *testing.T) {
	r, _ := setupTestRegistry(t)
	ctx := context.Background()

	a, err := r.CreateProject(ctx, CreateInput{SessionID: "sess-a", UserID: "user-1"})
	require.NoError(t, err)
	_, err = r.CreateProject(ctx, CreateInput{SessionID: "sess-b", UserID: "user-2"})
	require.NoError(t, err)
	require.NoError(t, r.Archive(ctx, a.ProjectID))

	all, err := r.ListProjects(ctx, "", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := r.ListProjects(ctx, "user-1", "")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, a.ProjectID, mine[0].ID)

	active, err := r.ListProjects(ctx, "", StatusActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "user-2", active[0].UserID)
}
