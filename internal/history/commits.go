package history

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/codevault/internal/errors"
	"github.com/p-blackswan/codevault/internal/store"
)

// NoCutoff reconstructs against every committed record.
const NoCutoff int64 = math.MaxInt64

// CommitStore appends commits and their file records.
type CommitStore struct {
	ds     *store.Store
	logger zerolog.Logger
	now    func() time.Time
}

// Option configures a CommitStore.
type Option func(*CommitStore)

// WithClock overrides the wall clock used to stamp commits.
func WithClock(now func() time.Time) Option {
	return func(s *CommitStore) {
		s.now = now
	}
}

// NewCommitStore creates a new commit store.
func NewCommitStore(ds *store.Store, logger zerolog.Logger, opts ...Option) *CommitStore {
	s := &CommitStore{
		ds:     ds,
		logger: logger.With().Str("component", "history.commits").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create appends a commit in its own transaction.
func (s *CommitStore) Create(ctx context.Context, in CommitInput) (*Commit, error) {
	var c *Commit
	err := s.ds.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		c, err = s.CreateTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// CreateTx appends a commit inside tx. The commit row, every file record and the
// project counter update land together or not at all.
func (s *CommitStore) CreateTx(ctx context.Context, tx *sql.Tx, in CommitInput) (*Commit, error) {
	if in.Type == "" {
		in.Type = CommitAIEdit
	}
	if !in.Type.Valid() {
		return nil, perrors.Invalid("unknown commit type %q", in.Type)
	}

	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM projects WHERE id = ?`, in.ProjectID).Scan(&status)
	if err == sql.ErrNoRows {
		return nil, perrors.NotFound("project", in.ProjectID)
	}
	if err != nil {
		return nil, store.Classify(fmt.Errorf("failed to load project: %w", err))
	}
	if status == "deleted" {
		return nil, perrors.Invalid("project %s is deleted", in.ProjectID)
	}

	var last int64
	var count int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(created_at), 0), COUNT(*) FROM commits WHERE project_id = ?`, in.ProjectID,
	).Scan(&last, &count)
	if err != nil {
		return nil, store.Classify(fmt.Errorf("failed to read commit head: %w", err))
	}
	if in.Type == CommitInitial && count > 0 {
		return nil, perrors.Invalid("project %s already has an initial commit", in.ProjectID)
	}

	live, err := liveState(ctx, tx, in.ProjectID)
	if err != nil {
		return nil, err
	}

	ts := s.now().UnixMilli()
	if ts <= last {
		ts = last + 1
	}

	c := &Commit{
		ID:        uuid.New().String(),
		ProjectID: in.ProjectID,
		Message:   in.Message,
		Type:      in.Type,
		Agent:     in.Agent,
		Prompt:    in.Prompt,
		CreatedAt: ts,
	}

	records, err := normalize(c, in.Files, live)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO commits (id, project_id, message, type, agent, prompt, files_added, files_modified, files_deleted, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ProjectID, c.Message, string(c.Type),
		sql.NullString{String: c.Agent, Valid: c.Agent != ""},
		sql.NullString{String: c.Prompt, Valid: c.Prompt != ""},
		c.FilesAdded, c.FilesModified, c.FilesDeleted, c.CreatedAt,
	)
	if err != nil {
		return nil, store.Classify(fmt.Errorf("failed to insert commit: %w", err))
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO file_records (id, project_id, commit_id, filename, previous_filename, content, language, file_type, change_type, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, store.Classify(fmt.Errorf("failed to prepare file insert: %w", err))
	}
	defer stmt.Close()

	for _, rec := range records {
		_, err := stmt.ExecContext(ctx,
			rec.ID, rec.ProjectID, rec.CommitID, rec.Filename,
			sql.NullString{String: rec.PreviousFilename, Valid: rec.PreviousFilename != ""},
			rec.Content, rec.Language, rec.FileType, string(rec.ChangeType), rec.CreatedAt,
		)
		if err != nil {
			return nil, store.Classify(fmt.Errorf("failed to insert file record %q: %w", rec.Filename, err))
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE projects SET total_commits = total_commits + 1, total_files = total_files + ?, updated_at = ? WHERE id = ?`,
		c.FilesAdded-c.FilesDeleted, ts, c.ProjectID,
	)
	if err != nil {
		return nil, store.Classify(fmt.Errorf("failed to update project counters: %w", err))
	}

	s.logger.Debug().
		Str("project_id", c.ProjectID).
		Str("commit_id", c.ID).
		Str("type", string(c.Type)).
		Int("added", c.FilesAdded).
		Int("modified", c.FilesModified).
		Int("deleted", c.FilesDeleted).
		Msg("commit appended")

	return c, nil
}

// liveState replays the project's change log without contents.
func liveState(ctx context.Context, tx *sql.Tx, projectID string) (*Replay, error) {
	rows, err := tx.QueryContext(ctx, `
	SELECT filename, COALESCE(previous_filename, ''), change_type
	FROM file_records WHERE project_id = ? ORDER BY created_at ASC, seq ASC`, projectID)
	if err != nil {
		return nil, store.Classify(fmt.Errorf("failed to load live state: %w", err))
	}
	defer rows.Close()

	r := NewReplay()
	for rows.Next() {
		rec := &FileRecord{}
		var change string
		if err := rows.Scan(&rec.Filename, &rec.PreviousFilename, &change); err != nil {
			return nil, fmt.Errorf("failed to scan live state: %w", err)
		}
		rec.ChangeType = ChangeType(change)
		r.Apply(rec)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Classify(err)
	}
	return r, nil
}

// normalize validates the commit's file inputs against the live state, assigns
// each one its effective change kind, and fills in the commit's per-kind counts.
func normalize(c *Commit, files []FileInput, live *Replay) ([]*FileRecord, error) {
	seen := make(map[string]struct{}, len(files))
	records := make([]*FileRecord, 0, len(files))

	for _, f := range files {
		name := strings.TrimSpace(f.Filename)
		if name == "" {
			return nil, perrors.Invalid("file entry without a filename")
		}
		if _, dup := seen[name]; dup {
			return nil, perrors.Invalid("file %q appears twice in one commit", name)
		}
		seen[name] = struct{}{}
		if !f.ChangeType.Valid() {
			return nil, perrors.Invalid("file %q has unknown change type %q", name, f.ChangeType)
		}

		rec := &FileRecord{
			ID:        uuid.New().String(),
			ProjectID: c.ProjectID,
			CommitID:  c.ID,
			Filename:  name,
			Content:   f.Content,
			Language:  f.Language,
			FileType:  f.FileType,
			CreatedAt: c.CreatedAt,
		}
		if rec.FileType == "" || rec.Language == "" {
			fileType, language := Classify(name)
			if rec.FileType == "" {
				rec.FileType = fileType
			}
			if rec.Language == "" {
				rec.Language = language
			}
		}

		switch f.ChangeType {
		case ChangeDeleted:
			if !live.Has(name) {
				return nil, perrors.Invalid("cannot delete %q: file does not exist", name)
			}
			rec.ChangeType = ChangeDeleted
			c.FilesDeleted++
		case ChangeRenamed:
			prev := strings.TrimSpace(f.PreviousFilename)
			if prev == "" || !live.Has(prev) {
				return nil, perrors.Invalid("cannot rename to %q: previous file %q does not exist", name, prev)
			}
			if prev != name && live.Has(name) {
				return nil, perrors.Invalid("cannot rename %q to %q: target already exists", prev, name)
			}
			rec.ChangeType = ChangeRenamed
			rec.PreviousFilename = prev
			c.FilesModified++
		default:
			if live.Has(name) {
				rec.ChangeType = ChangeModified
				c.FilesModified++
			} else {
				rec.ChangeType = ChangeAdded
				c.FilesAdded++
			}
		}

		live.Apply(rec)
		records = append(records, rec)
	}
	return records, nil
}

// Get retrieves a commit by ID. Returns nil, nil when absent.
func (s *CommitStore) Get(ctx context.Context, commitID string) (*Commit, error) {
	row := s.ds.ReadDB().QueryRowContext(ctx, `SELECT `+commitColumns+` FROM commits WHERE id = ?`, commitID)
	c, err := scanCommit(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, store.Classify(fmt.Errorf("failed to get commit: %w", err))
	}
	return c, nil
}

// Latest returns the newest commit of a project. Returns nil, nil when the project
// has no commits.
func (s *CommitStore) Latest(ctx context.Context, projectID string) (*Commit, error) {
	row := s.ds.ReadDB().QueryRowContext(ctx,
		`SELECT `+commitColumns+` FROM commits WHERE project_id = ? ORDER BY created_at DESC LIMIT 1`, projectID)
	c, err := scanCommit(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, store.Classify(fmt.Errorf("failed to get latest commit: %w", err))
	}
	return c, nil
}

// List returns a project's commits, oldest first.
func (s *CommitStore) List(ctx context.Context, projectID string) ([]*Commit, error) {
	return listCommits(ctx, s.ds.ReadDB(), projectID)
}

// Records returns a project's file records with created_at <= cutoff, oldest first.
func (s *CommitStore) Records(ctx context.Context, projectID string, cutoff int64) ([]*FileRecord, error) {
	return listRecords(ctx, s.ds.ReadDB(), projectID, cutoff)
}

// Log reads commits and file records from one snapshot.
func (s *CommitStore) Log(ctx context.Context, projectID string) (*Log, error) {
	log := &Log{}
	err := s.ds.WithReadTx(ctx, func(tx *sql.Tx) error {
		var err error
		if log.Commits, err = listCommits(ctx, tx, projectID); err != nil {
			return err
		}
		log.Records, err = listRecords(ctx, tx, projectID, NoCutoff)
		return err
	})
	if err != nil {
		return nil, err
	}
	return log, nil
}

// ProjectExists reports whether a project row exists.
func (s *CommitStore) ProjectExists(ctx context.Context, projectID string) (bool, error) {
	var n int
	err := s.ds.ReadDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM projects WHERE id = ?`, projectID).Scan(&n)
	if err != nil {
		return false, store.Classify(fmt.Errorf("failed to probe project: %w", err))
	}
	return n > 0, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

const commitColumns = `id, project_id, message, type, agent, prompt, files_added, files_modified, files_deleted, created_at`

func scanCommit(row rowScanner) (*Commit, error) {
	c := &Commit{}
	var commitType string
	var agent, prompt sql.NullString
	err := row.Scan(&c.ID, &c.ProjectID, &c.Message, &commitType, &agent, &prompt,
		&c.FilesAdded, &c.FilesModified, &c.FilesDeleted, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.Type = CommitType(commitType)
	if agent.Valid {
		c.Agent = agent.String
	}
	if prompt.Valid {
		c.Prompt = prompt.String
	}
	return c, nil
}

func listCommits(ctx context.Context, q querier, projectID string) ([]*Commit, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+commitColumns+` FROM commits WHERE project_id = ? ORDER BY created_at ASC`, projectID)
	if err != nil {
		return nil, store.Classify(fmt.Errorf("failed to list commits: %w", err))
	}
	defer rows.Close()

	var commits []*Commit
	for rows.Next() {
		c, err := scanCommit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan commit: %w", err)
		}
		commits = append(commits, c)
	}
	return commits, store.Classify(rows.Err())
}

func listRecords(ctx context.Context, q querier, projectID string, cutoff int64) ([]*FileRecord, error) {
	rows, err := q.QueryContext(ctx, `
	SELECT id, project_id, commit_id, filename, COALESCE(previous_filename, ''), content, language, file_type, change_type, created_at
	FROM file_records WHERE project_id = ? AND created_at <= ?
	ORDER BY created_at ASC, seq ASC`, projectID, cutoff)
	if err != nil {
		return nil, store.Classify(fmt.Errorf("failed to list file records: %w", err))
	}
	defer rows.Close()

	var records []*FileRecord
	for rows.Next() {
		rec := &FileRecord{}
		var change string
		if err := rows.Scan(&rec.ID, &rec.ProjectID, &rec.CommitID, &rec.Filename, &rec.PreviousFilename,
			&rec.Content, &rec.Language, &rec.FileType, &change, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan file record: %w", err)
		}
		rec.ChangeType = ChangeType(change)
		records = append(records, rec)
	}
	return records, store.Classify(rows.Err())
}
