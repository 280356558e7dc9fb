package project

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/codevault/internal/errors"
	"github.com/p-blackswan/codevault/internal/history"
	"github.com/p-blackswan/codevault/internal/store"
)

// SessionDirectory is the slice of the chat session lifecycle the registry needs:
// probe a session and seed a placeholder when it is missing.
type SessionDirectory interface {
	SessionExists(ctx context.Context, id string) (bool, error)
	EnsurePlaceholderSession(ctx context.Context, id, userID string) (bool, error)
}

// Registry handles project rows: creation, session lookup, lifecycle and deployment metadata.
type Registry struct {
	ds       *store.Store
	sessions SessionDirectory
	commits  *history.CommitStore
	logger   zerolog.Logger
	now      func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithSessionDirectory replaces the store-backed session directory.
func WithSessionDirectory(dir SessionDirectory) Option {
	return func(r *Registry) {
		r.sessions = dir
	}
}

// WithClock overrides the wall clock used for project timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates a new project registry.
func NewRegistry(ds *store.Store, commits *history.CommitStore, logger zerolog.Logger, opts ...Option) *Registry {
	r := &Registry{
		ds:       ds,
		sessions: ds,
		commits:  commits,
		logger:   logger.With().Str("component", "project.registry").Logger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateProject creates the project row and its initial commit in one transaction.
//
// The session is probed first and seeded with a placeholder if missing. If the
// insert still trips the session reference, the placeholder is created again and
// the insert retried exactly once before the failure is surfaced.
func (r *Registry) CreateProject(ctx context.Context, in CreateInput) (*Created, error) {
	if strings.TrimSpace(in.SessionID) == "" {
		return nil, perrors.Invalid("session id is required")
	}
	if strings.TrimSpace(in.UserID) == "" {
		return nil, perrors.Invalid("user id is required")
	}

	if err := r.ensureSession(ctx, in.SessionID, in.UserID); err != nil {
		return nil, err
	}

	created, err := r.insert(ctx, in)
	if errors.Is(err, perrors.ErrMissingSession) {
		r.logger.Warn().Str("session_id", in.SessionID).Msg("session vanished before project insert; healing once")
		if _, healErr := r.sessions.EnsurePlaceholderSession(ctx, in.SessionID, in.UserID); healErr != nil {
			return nil, healErr
		}
		created, err = r.insert(ctx, in)
	}
	if err != nil {
		return nil, err
	}

	r.logger.Info().
		Str("project_id", created.ProjectID).
		Str("session_id", in.SessionID).
		Int("initial_files", len(in.InitialFiles)).
		Msg("project created")
	return created, nil
}

func (r *Registry) ensureSession(ctx context.Context, sessionID, userID string) error {
	ok, err := r.sessions.SessionExists(ctx, sessionID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	_, err = r.sessions.EnsurePlaceholderSession(ctx, sessionID, userID)
	return err
}

func (r *Registry) insert(ctx context.Context, in CreateInput) (*Created, error) {
	now := r.now().UnixMilli()
	p := &Project{
		ID:        uuid.New().String(),
		SessionID: in.SessionID,
		UserID:    in.UserID,
		Name:      strings.TrimSpace(in.Meta.Name),
		Framework: in.Meta.Framework,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if p.Name == "" {
		p.Name = defaultName(in.SessionID)
	}

	var commit *history.Commit
	err := r.ds.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO projects (id, session_id, user_id, name, framework, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.SessionID, p.UserID, p.Name, p.Framework, string(p.Status), p.CreatedAt, p.UpdatedAt,
		)
		switch {
		case store.IsForeignKeyViolation(err):
			return fmt.Errorf("session %s: %w", in.SessionID, perrors.ErrMissingSession)
		case store.IsUniqueViolation(err):
			return fmt.Errorf("session %s already has an active project: %w", in.SessionID, perrors.ErrConflict)
		case err != nil:
			return store.Classify(fmt.Errorf("failed to create project: %w", err))
		}

		commit, err = r.commits.CreateTx(ctx, tx, history.CommitInput{
			ProjectID: p.ID,
			UserID:    in.UserID,
			Message:   "Initial commit",
			Files:     in.InitialFiles,
			Type:      history.CommitInitial,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	p.TotalCommits = 1
	p.TotalFiles = commit.FilesAdded
	p.UpdatedAt = commit.CreatedAt
	return &Created{ProjectID: p.ID, CommitID: commit.ID, Project: p}, nil
}

func defaultName(sessionID string) string {
	short := sessionID
	if len(short) > 8 {
		short = short[:8]
	}
	return "Project " + short
}

// projectColumns is the standard column list for project queries.
const projectColumns = `id, session_id, user_id, name, framework, status, total_files, total_commits, deployment_url, deployment_status, deployed_commit_id, deployed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*Project, error) {
	p := &Project{}
	var status string
	var url, deployStatus, deployedCommit sql.NullString
	var deployedAt sql.NullInt64

	err := row.Scan(
		&p.ID, &p.SessionID, &p.UserID, &p.Name, &p.Framework, &status,
		&p.TotalFiles, &p.TotalCommits, &url, &deployStatus, &deployedCommit, &deployedAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = Status(status)
	if url.Valid {
		p.DeploymentURL = url.String
	}
	if deployStatus.Valid {
		p.DeploymentStatus = deployStatus.String
	}
	if deployedCommit.Valid {
		p.DeployedCommitID = deployedCommit.String
	}
	if deployedAt.Valid {
		p.DeployedAt = deployedAt.Int64
	}
	return p, nil
}

func (r *Registry) queryOne(ctx context.Context, query string, args ...any) (*Project, error) {
	p, err := scanProject(r.ds.ReadDB().QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, store.Classify(fmt.Errorf("failed to get project: %w", err))
	}
	return p, nil
}

// GetProject retrieves a project by ID. Returns nil, nil when absent.
func (r *Registry) GetProject(ctx context.Context, id string) (*Project, error) {
	return r.queryOne(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
}

// FindActiveProjectForSession returns the session's active project, or nil, nil
// when there is none. A session holds at most one active project; if it
// belongs to another user the lookup fails with ErrConflict.
func (r *Registry) FindActiveProjectForSession(ctx context.Context, sessionID, userID string) (*Project, error) {
	p, err := r.queryOne(ctx, `SELECT `+projectColumns+` FROM projects
		WHERE session_id = ? AND status = 'active'
		ORDER BY created_at DESC LIMIT 1`, sessionID)
	if err != nil || p == nil {
		return p, err
	}
	if p.UserID != userID {
		return nil, fmt.Errorf("session %s is bound to another user's project: %w", sessionID, perrors.ErrConflict)
	}
	return p, nil
}

// ListProjects lists projects with optional filters, newest first.
func (r *Registry) ListProjects(ctx context.Context, userID string, status Status) ([]*Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE 1=1`
	var args []any

	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.ds.ReadDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.Classify(fmt.Errorf("failed to list projects: %w", err))
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, store.Classify(rows.Err())
}

// UpdateDeployment records the deployment URL and status against a commit of the
// project. An empty CommitID selects the project's latest commit.
func (r *Registry) UpdateDeployment(ctx context.Context, projectID string, d Deployment) error {
	return r.ds.WithTx(ctx, func(tx *sql.Tx) error {
		commitID := d.CommitID
		var err error
		if commitID == "" {
			err = tx.QueryRowContext(ctx,
				`SELECT id FROM commits WHERE project_id = ? ORDER BY created_at DESC LIMIT 1`, projectID,
			).Scan(&commitID)
		} else {
			err = tx.QueryRowContext(ctx,
				`SELECT id FROM commits WHERE id = ? AND project_id = ?`, commitID, projectID,
			).Scan(&commitID)
		}
		if err == sql.ErrNoRows {
			if d.CommitID != "" {
				return perrors.NotFound("commit", d.CommitID)
			}
			return perrors.NotFound("project", projectID)
		}
		if err != nil {
			return store.Classify(fmt.Errorf("failed to resolve deployed commit: %w", err))
		}

		now := r.now().UnixMilli()
		result, err := tx.ExecContext(ctx, `
		UPDATE projects SET deployment_url = ?, deployment_status = ?, deployed_commit_id = ?, deployed_at = ?, updated_at = ?
		WHERE id = ?`,
			d.URL, d.Status, commitID, now, now, projectID,
		)
		if err != nil {
			return store.Classify(fmt.Errorf("failed to update deployment: %w", err))
		}
		rows, _ := result.RowsAffected()
		if rows == 0 {
			return perrors.NotFound("project", projectID)
		}
		return nil
	})
}

// Archive moves an active project to archived.
func (r *Registry) Archive(ctx context.Context, projectID string) error {
	return r.transition(ctx, projectID, StatusArchived, StatusActive)
}

// Restore reactivates an archived project. Fails with ErrConflict if the session
// already has another active project.
func (r *Registry) Restore(ctx context.Context, projectID string) error {
	return r.transition(ctx, projectID, StatusActive, StatusArchived)
}

// MarkDeleted retires a project. History rows are kept.
func (r *Registry) MarkDeleted(ctx context.Context, projectID string) error {
	return r.transition(ctx, projectID, StatusDeleted, StatusActive, StatusArchived)
}

func (r *Registry) transition(ctx context.Context, projectID string, to Status, from ...Status) error {
	placeholders := make([]string, len(from))
	args := []any{string(to), r.now().UnixMilli(), projectID}
	for i, s := range from {
		placeholders[i] = "?"
		args = append(args, string(s))
	}

	result, err := r.ds.DB().ExecContext(ctx,
		`UPDATE projects SET status = ?, updated_at = ? WHERE id = ? AND status IN (`+strings.Join(placeholders, ", ")+`)`,
		args...,
	)
	if store.IsUniqueViolation(err) {
		return fmt.Errorf("project %s cannot become %s: %w", projectID, to, perrors.ErrConflict)
	}
	if err != nil {
		return store.Classify(fmt.Errorf("failed to set project status: %w", err))
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		p, err := r.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		if p == nil {
			return perrors.NotFound("project", projectID)
		}
		return perrors.Invalid("project %s is %s", projectID, p.Status)
	}

	r.logger.Info().Str("project_id", projectID).Str("status", string(to)).Msg("project status changed")
	return nil
}
