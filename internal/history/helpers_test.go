package history

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/codevault/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
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

func setupCommitStore(t *testing.T, dbPath string) (*CommitStore, *store.Store, *fakeClock) {
	t.Helper()
	ds, err := store.New(dbPath, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })

	clock := newFakeClock()
	return NewCommitStore(ds, zerolog.Nop(), WithClock(clock.Now)), ds, clock
}

func seedProject(t *testing.T, ds *store.Store, id string) {
	t.Helper()
	ctx := context.Background()
	_, err := ds.EnsurePlaceholderSession(ctx, "sess-"+id, "user-1")
	require.NoError(t, err)
	_, err = ds.DB().Exec(
		`INSERT INTO projects (id, session_id, user_id, name, created_at, updated_at) VALUES (?, ?, 'user-1', ?, 1, 1)`,
		id, "sess-"+id, "project "+id,
	)
	require.NoError(t, err)
}

func files(names ...string) []FileInput {
	out := make([]FileInput, 0, len(names))
	for _, n := range names {
		out = append(out, FileInput{Filename: n, Content: "// " + n})
	}
	return out
}

func counters(t *testing.T, ds *store.Store, projectID string) (totalFiles, totalCommits int) {
	t.Helper()
	err := ds.ReadDB().QueryRow(`SELECT total_files, total_commits FROM projects WHERE id = ?`, projectID).
		Scan(&totalFiles, &totalCommits)
	require.NoError(t, err)
	return totalFiles, totalCommits
}
