package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Maintain checkpoints the WAL back into the main database file and refreshes
// the query planner statistics. History is append-only, so nothing is deleted.
func (s *Store) Maintain(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Classify(sql.ErrConnDone)
	}

	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return Classify(fmt.Errorf("failed to checkpoint wal: %w", err))
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return Classify(fmt.Errorf("failed to optimize: %w", err))
	}
	return nil
}

// DBSizeBytes returns the database size in bytes.
func (s *Store) DBSizeBytes(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, Classify(sql.ErrConnDone)
	}

	var pageCount, pageSize int64
	if err := s.readDB.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, Classify(fmt.Errorf("failed to get page count: %w", err))
	}
	if err := s.readDB.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, Classify(fmt.Errorf("failed to get page size: %w", err))
	}
	return pageCount * pageSize, nil
}
