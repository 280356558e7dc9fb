package history

import (
	"context"

	perrors "github.com/p-blackswan/codevault/internal/errors"
)

// Reconstructor rebuilds a project's file set from its file records.
type Reconstructor struct {
	commits *CommitStore
}

// NewReconstructor creates a reconstructor over the commit store.
func NewReconstructor(commits *CommitStore) *Reconstructor {
	return &Reconstructor{commits: commits}
}

// CurrentFiles returns the live file set including the newest commit.
func (r *Reconstructor) CurrentFiles(ctx context.Context, projectID string) ([]*FileRecord, error) {
	return r.FilesAsOf(ctx, projectID, NoCutoff)
}

// FilesAsOf returns the file set as of cutoff (unix millis, inclusive): one record per
// filename, the latest at or before cutoff, with deleted files dropped.
func (r *Reconstructor) FilesAsOf(ctx context.Context, projectID string, cutoff int64) ([]*FileRecord, error) {
	ok, err := r.commits.ProjectExists(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, perrors.NotFound("project", projectID)
	}

	records, err := r.commits.Records(ctx, projectID, cutoff)
	if err != nil {
		return nil, err
	}
	return Collapse(records, cutoff), nil
}

// Snapshot returns the newest commit and the file set as of that commit, read
// from one consistent view. The commit is nil when the project has no history.
func (r *Reconstructor) Snapshot(ctx context.Context, projectID string) (*Commit, []*FileRecord, error) {
	ok, err := r.commits.ProjectExists(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, perrors.NotFound("project", projectID)
	}

	log, err := r.commits.Log(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	if len(log.Commits) == 0 {
		return nil, nil, nil
	}
	head := log.Commits[len(log.Commits)-1]
	return head, Collapse(log.Records, head.CreatedAt), nil
}
