package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Store manages the SQLite database.
//
// Writes go through a single connection opened with BEGIN IMMEDIATE transactions,
// so every write transaction in the process is serialized. Reads use a separate
// pool unless the database is in-memory, in which case both share one connection.
type Store struct {
	db     *sql.DB
	readDB *sql.DB
	logger zerolog.Logger
	mu     sync.RWMutex
	closed bool
}

// New opens (or creates) the SQLite database and runs migrations.
func New(dbPath string, logger zerolog.Logger) (*Store, error) {
	memory := dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory")

	db, err := sql.Open("sqlite", dsn(dbPath, memory, true))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	readDB := db
	if !memory {
		readDB, err = sql.Open("sqlite", dsn(dbPath, memory, false))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to open read pool: %w", err)
		}
		readDB.SetMaxOpenConns(4)
		readDB.SetMaxIdleConns(4)
	}

	s := &Store{
		db:     db,
		readDB: readDB,
		logger: logger.With().Str("component", "store").Logger(),
	}

	if err := s.migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	s.logger.Info().Str("path", dbPath).Msg("store initialized")
	return s, nil
}

// dsn applies connection-level pragmas through the driver so that every pooled
// connection gets them, not only the first one. Only the writer takes the
// reserved lock at BEGIN.
func dsn(path string, memory, writer bool) string {
	params := []string{
		"_pragma=busy_timeout(5000)",
		"_pragma=foreign_keys(1)",
	}
	if writer {
		params = append(params, "_txlock=immediate")
	}
	if !memory {
		params = append(params, "_pragma=journal_mode(WAL)")
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(params, "&")
}

// Close closes both connection pools.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if s.readDB != nil && s.readDB != s.db {
		err = s.readDB.Close()
	}
	if s.db != nil {
		if cerr := s.db.Close(); cerr != nil {
			err = cerr
		}
	}
	return err
}

// DB returns the writer connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// ReadDB returns the reader pool.
func (s *Store) ReadDB() *sql.DB {
	return s.readDB
}

// Ping verifies the backing store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Classify(sql.ErrConnDone)
	}
	return Classify(s.readDB.PingContext(ctx))
}

// WithTx runs fn inside a write transaction. The transaction is rolled back if fn
// returns an error or panics, so a partially applied write is never visible.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return Classify(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// WithReadTx runs fn inside a transaction on the reader pool so that multi-query
// reads observe a single consistent snapshot.
func (s *Store) WithReadTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.readDB.BeginTx(ctx, nil)
	if err != nil {
		return Classify(fmt.Errorf("failed to begin read transaction: %w", err))
	}
	defer tx.Rollback()
	return fn(tx)
}
