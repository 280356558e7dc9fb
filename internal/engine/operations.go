package engine

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/p-blackswan/codevault/internal/deploy"
	perrors "github.com/p-blackswan/codevault/internal/errors"
	"github.com/p-blackswan/codevault/internal/history"
	"github.com/p-blackswan/codevault/internal/observability"
	"github.com/p-blackswan/codevault/internal/project"
	"github.com/p-blackswan/codevault/internal/version"
	"github.com/p-blackswan/codevault/lru"
)

// SessionCommit identifies a commit appended through a session binding.
type SessionCommit struct {
	ProjectID string `json:"project_id"`
	CommitID  string `json:"commit_id"`
}

// CommitRequest is the input of CommitFiles.
type CommitRequest struct {
	ProjectID string              `json:"project_id"`
	UserID    string              `json:"user_id"`
	Message   string              `json:"message"`
	Files     []history.FileInput `json:"files"`
	Type      history.CommitType  `json:"type,omitempty"`
	Agent     string              `json:"agent,omitempty"`
	Prompt    string              `json:"prompt,omitempty"`
}

func projectAttrs(projectID string) []attribute.KeyValue {
	return []attribute.KeyValue{observability.ProjectAttr(projectID)}
}

func sessionAttrs(sessionID string) []attribute.KeyValue {
	return []attribute.KeyValue{observability.SessionAttr(sessionID)}
}

// CreateProject creates a project bound to the session together with its
// initial commit.
func (e *Engine) CreateProject(ctx context.Context, in project.CreateInput) (*project.Created, error) {
	created, err := call(e, ctx, "create_project", sessionAttrs(in.SessionID), func(ctx context.Context) (*project.Created, error) {
		return e.registry.CreateProject(ctx, in)
	})
	if err == nil {
		e.recordCommit(history.CommitInitial, in.InitialFiles)
	}
	return created, err
}

// CommitFiles appends one commit to the project and returns it.
func (e *Engine) CommitFiles(ctx context.Context, req CommitRequest) (*history.Commit, error) {
	c, err := call(e, ctx, "commit_files", projectAttrs(req.ProjectID), func(ctx context.Context) (*history.Commit, error) {
		return e.commits.Create(ctx, history.CommitInput{
			ProjectID: req.ProjectID,
			UserID:    req.UserID,
			Message:   req.Message,
			Files:     req.Files,
			Type:      req.Type,
			Agent:     req.Agent,
			Prompt:    req.Prompt,
		})
	})
	if err == nil && e.metrics != nil {
		e.metrics.RecordCommit(string(c.Type), c.FilesAdded, c.FilesModified, c.FilesDeleted)
	}
	return c, err
}

// GetCurrentFiles returns the project's live file set.
func (e *Engine) GetCurrentFiles(ctx context.Context, projectID string) ([]*history.FileRecord, error) {
	return read(e, ctx, "get_current_files", projectAttrs(projectID), func(ctx context.Context) ([]*history.FileRecord, error) {
		return e.files.CurrentFiles(ctx, projectID)
	})
}

// GetFilesAsOf returns the project's file set as of cutoff, in unix millis.
func (e *Engine) GetFilesAsOf(ctx context.Context, projectID string, cutoff int64) ([]*history.FileRecord, error) {
	return read(e, ctx, "get_files_as_of", projectAttrs(projectID), func(ctx context.Context) ([]*history.FileRecord, error) {
		return e.files.FilesAsOf(ctx, projectID, cutoff)
	})
}

// ResolveProjectForSession returns the session's active project, creating one
// on first use.
func (e *Engine) ResolveProjectForSession(ctx context.Context, sessionID, userID string) (string, error) {
	return call(e, ctx, "resolve_project", sessionAttrs(sessionID), func(ctx context.Context) (string, error) {
		return e.sessions.Resolve(ctx, sessionID, userID)
	})
}

// AddFilesToSessionProject resolves the session's project and appends an
// ai_edit commit with files.
func (e *Engine) AddFilesToSessionProject(ctx context.Context, sessionID, userID string, files []history.FileInput, message string) (*SessionCommit, error) {
	projectID, err := e.ResolveProjectForSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(message) == "" {
		message = "Updated " + plural(len(files), "file")
	}

	c, err := e.CommitFiles(ctx, CommitRequest{
		ProjectID: projectID,
		UserID:    userID,
		Message:   message,
		Files:     files,
		Type:      history.CommitAIEdit,
	})
	if err != nil {
		return nil, err
	}
	return &SessionCommit{ProjectID: projectID, CommitID: c.ID}, nil
}

// ListVersions groups the session's project history into versions. A session
// without a project yields ErrNotFound; nothing is created.
func (e *Engine) ListVersions(ctx context.Context, sessionID, userID string) (*version.VersionList, error) {
	return read(e, ctx, "list_versions", sessionAttrs(sessionID), func(ctx context.Context) (*version.VersionList, error) {
		projectID, err := e.sessions.Lookup(ctx, sessionID, userID)
		if err != nil {
			return nil, err
		}
		return e.versions.List(ctx, projectID)
	})
}

// ListProjectVersions groups a project's history into versions.
func (e *Engine) ListProjectVersions(ctx context.Context, projectID string) (*version.VersionList, error) {
	return read(e, ctx, "list_versions", projectAttrs(projectID), func(ctx context.Context) (*version.VersionList, error) {
		return e.versions.List(ctx, projectID)
	})
}

// GetVersionFiles returns the cumulative file set of one version of the
// session's project. Unknown labels yield *perrors.UnknownVersionError.
func (e *Engine) GetVersionFiles(ctx context.Context, sessionID, userID, label string) ([]*history.FileRecord, error) {
	return read(e, ctx, "get_version_files", sessionAttrs(sessionID), func(ctx context.Context) ([]*history.FileRecord, error) {
		projectID, err := e.sessions.Lookup(ctx, sessionID, userID)
		if err != nil {
			return nil, err
		}
		return e.versions.Files(ctx, projectID, label)
	})
}

// RecordDeployment records a deployment URL and status against the project's
// latest commit. Failures are logged and swallowed; the result reports
// whether the record landed.
func (e *Engine) RecordDeployment(ctx context.Context, projectID, url, status string) bool {
	ok, _ := call(e, ctx, "record_deployment", projectAttrs(projectID), func(ctx context.Context) (bool, error) {
		return e.deploys.Record(ctx, projectID, project.Deployment{URL: url, Status: status}), nil
	})
	return ok
}

// Deploy hands the project's current files to trigger and records the result.
func (e *Engine) Deploy(ctx context.Context, projectID string, trigger deploy.Trigger) (project.Deployment, error) {
	return call(e, ctx, "deploy", projectAttrs(projectID), func(ctx context.Context) (project.Deployment, error) {
		return e.deploys.Deploy(ctx, projectID, trigger)
	})
}

// GetProject returns the project or ErrNotFound.
func (e *Engine) GetProject(ctx context.Context, projectID string) (*project.Project, error) {
	return read(e, ctx, "get_project", projectAttrs(projectID), func(ctx context.Context) (*project.Project, error) {
		p, err := e.registry.GetProject(ctx, projectID)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, perrors.NotFound("project", projectID)
		}
		return p, nil
	})
}

// ListProjects returns a user's projects, optionally filtered by status.
func (e *Engine) ListProjects(ctx context.Context, userID string, status project.Status) ([]*project.Project, error) {
	return read(e, ctx, "list_projects", nil, func(ctx context.Context) ([]*project.Project, error) {
		return e.registry.ListProjects(ctx, userID, status)
	})
}

// ListCommits returns the project's commits, oldest first.
func (e *Engine) ListCommits(ctx context.Context, projectID string) ([]*history.Commit, error) {
	return read(e, ctx, "list_commits", projectAttrs(projectID), func(ctx context.Context) ([]*history.Commit, error) {
		ok, err := e.commits.ProjectExists(ctx, projectID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, perrors.NotFound("project", projectID)
		}
		return e.commits.List(ctx, projectID)
	})
}

// ArchiveProject archives an active project and drops its session binding so
// the next write through the session starts a fresh project.
func (e *Engine) ArchiveProject(ctx context.Context, projectID string) error {
	return e.setStatus(ctx, "archive_project", projectID, e.registry.Archive)
}

// RestoreProject reactivates an archived project. It fails with ErrConflict
// while the session has another active project.
func (e *Engine) RestoreProject(ctx context.Context, projectID string) error {
	return e.setStatus(ctx, "restore_project", projectID, e.registry.Restore)
}

// DeleteProject retires a project. Its history stays readable.
func (e *Engine) DeleteProject(ctx context.Context, projectID string) error {
	return e.setStatus(ctx, "delete_project", projectID, e.registry.MarkDeleted)
}

func (e *Engine) setStatus(ctx context.Context, op, projectID string, apply func(context.Context, string) error) error {
	_, err := call(e, ctx, op, projectAttrs(projectID), func(ctx context.Context) (struct{}, error) {
		if err := apply(ctx, projectID); err != nil {
			return struct{}{}, err
		}
		p, err := e.registry.GetProject(ctx, projectID)
		if err != nil || p == nil {
			return struct{}{}, err
		}
		if err := e.sessions.Invalidate(ctx, p.SessionID); err != nil {
			e.logger.Warn().Err(err).Str("session_id", p.SessionID).Msg("failed to drop shared session binding")
		}
		return struct{}{}, nil
	})
	return err
}

// InvalidateSession drops cached bindings for the session. Persisted data is
// untouched.
func (e *Engine) InvalidateSession(ctx context.Context, sessionID string) error {
	_, err := call(e, ctx, "invalidate_session", sessionAttrs(sessionID), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.sessions.Invalidate(ctx, sessionID)
	})
	return err
}

// SessionDetail describes a session record and the newest commit of its project.
type SessionDetail struct {
	SessionID   string          `json:"session_id"`
	ProjectID   string          `json:"project_id"`
	Title       string          `json:"title,omitempty"`
	Placeholder bool            `json:"placeholder"`
	LastCommit  *history.Commit `json:"last_commit,omitempty"`
}

// DescribeSession reads the session record and the project's latest commit. A
// session with no record reports an empty title.
func (e *Engine) DescribeSession(ctx context.Context, sessionID, projectID string) (*SessionDetail, error) {
	return read(e, ctx, "describe_session", sessionAttrs(sessionID), func(ctx context.Context) (*SessionDetail, error) {
		d := &SessionDetail{SessionID: sessionID, ProjectID: projectID}
		sess, err := e.ds.GetSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if sess != nil {
			d.Title = sess.Title
			d.Placeholder = sess.Placeholder
		}
		d.LastCommit, err = e.commits.Latest(ctx, projectID)
		if err != nil {
			return nil, err
		}
		return d, nil
	})
}

// SessionCacheStats returns the in-process session cache counters.
func (e *Engine) SessionCacheStats() lru.Metrics {
	return e.sessions.Stats()
}

// VersionWindow reports the grouping window in use.
func (e *Engine) VersionWindow() time.Duration {
	return e.versions.Window()
}

func (e *Engine) recordCommit(t history.CommitType, files []history.FileInput) {
	if e.metrics != nil {
		e.metrics.RecordCommit(string(t), len(files), 0, 0)
	}
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return strconv.Itoa(n) + " " + noun + "s"
}
