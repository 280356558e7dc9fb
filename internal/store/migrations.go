package store

import (
	"fmt"
	"strconv"
)

// migrations after v1, indexed by the schema version they produce minus two.
var migrations = []func(*Store) error{
	(*Store).migrateV2,
	(*Store).migrateV3,
}

func (s *Store) migrate() error {
	if err := s.migrateV1(); err != nil {
		return err
	}

	version, err := s.schemaVersionNumber()
	if err != nil {
		return err
	}
	for i, m := range migrations {
		target := i + 2
		if version >= target {
			continue
		}
		if err := m(s); err != nil {
			return err
		}
		if err := s.setSchemaVersion(target); err != nil {
			return err
		}
		version = target
	}
	return nil
}

func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chat_sessions (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL DEFAULT '',
		title       TEXT NOT NULL DEFAULT '',
		placeholder INTEGER NOT NULL DEFAULT 0,
		created_at  INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS projects (
		id                 TEXT PRIMARY KEY,
		session_id         TEXT NOT NULL REFERENCES chat_sessions(id),
		user_id            TEXT NOT NULL,
		name               TEXT NOT NULL,
		framework          TEXT NOT NULL DEFAULT '',
		status             TEXT NOT NULL DEFAULT 'active',
		total_files        INTEGER NOT NULL DEFAULT 0,
		total_commits      INTEGER NOT NULL DEFAULT 0,
		deployment_url     TEXT,
		deployment_status  TEXT,
		deployed_commit_id TEXT,
		deployed_at        INTEGER,
		created_at         INTEGER NOT NULL,
		updated_at         INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_projects_session ON projects(session_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_projects_user ON projects(user_id, created_at);

	CREATE TABLE IF NOT EXISTS commits (
		id             TEXT PRIMARY KEY,
		project_id     TEXT NOT NULL REFERENCES projects(id),
		message        TEXT NOT NULL DEFAULT '',
		type           TEXT NOT NULL,
		agent          TEXT,
		prompt         TEXT,
		files_added    INTEGER NOT NULL DEFAULT 0,
		files_modified INTEGER NOT NULL DEFAULT 0,
		files_deleted  INTEGER NOT NULL DEFAULT 0,
		created_at     INTEGER NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_commits_project_created ON commits(project_id, created_at);

	CREATE TABLE IF NOT EXISTS file_records (
		seq         INTEGER PRIMARY KEY AUTOINCREMENT,
		id          TEXT NOT NULL UNIQUE,
		project_id  TEXT NOT NULL REFERENCES projects(id),
		commit_id   TEXT NOT NULL REFERENCES commits(id),
		filename    TEXT NOT NULL,
		content     TEXT NOT NULL DEFAULT '',
		language    TEXT NOT NULL DEFAULT '',
		file_type   TEXT NOT NULL DEFAULT '',
		change_type TEXT NOT NULL,
		created_at  INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_file_records_project ON file_records(project_id, created_at, seq);
	CREATE INDEX IF NOT EXISTS idx_file_records_commit ON file_records(commit_id);

	CREATE TRIGGER IF NOT EXISTS commits_no_update BEFORE UPDATE ON commits
	BEGIN SELECT RAISE(ABORT, 'commits are append-only'); END;
	CREATE TRIGGER IF NOT EXISTS commits_no_delete BEFORE DELETE ON commits
	BEGIN SELECT RAISE(ABORT, 'commits are append-only'); END;
	CREATE TRIGGER IF NOT EXISTS file_records_no_update BEFORE UPDATE ON file_records
	BEGIN SELECT RAISE(ABORT, 'file records are append-only'); END;
	CREATE TRIGGER IF NOT EXISTS file_records_no_delete BEFORE DELETE ON file_records
	BEGIN SELECT RAISE(ABORT, 'file records are append-only'); END;

	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO meta(key, value) VALUES ('schema_version', '1');
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v1: %w", err)
	}
	return nil
}

func (s *Store) migrateV2() error {
	// Renames retire the previous filename during reconstruction.
	if _, err := s.db.Exec(`ALTER TABLE file_records ADD COLUMN previous_filename TEXT`); err != nil {
		return fmt.Errorf("failed to execute migration v2: %w", err)
	}
	return nil
}

func (s *Store) migrateV3() error {
	// A session holds at most one active project, whoever its user is.
	schema := `
	DROP INDEX IF EXISTS idx_projects_active_session;
	CREATE UNIQUE INDEX idx_projects_active_session ON projects(session_id) WHERE status = 'active';
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v3: %w", err)
	}
	return nil
}

func (s *Store) schemaVersionNumber() (int, error) {
	raw, err := s.SchemaVersion()
	if err != nil {
		return 0, err
	}
	version, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid schema version %q: %w", raw, err)
	}
	return version, nil
}

func (s *Store) setSchemaVersion(version int) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', ?)`, strconv.Itoa(version))
	if err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}
	return nil
}

// SchemaVersion returns the applied schema version.
func (s *Store) SchemaVersion() (string, error) {
	var version string
	if err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version); err != nil {
		return "", fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}
