package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Session is a chat session row. Session lifecycle belongs to the chat product;
// the engine only probes for existence and seeds placeholders.
type Session struct {
	ID          string
	UserID      string
	Title       string
	Placeholder bool
	CreatedAt   int64
}

// GetSession retrieves a session by ID. Returns nil, nil when absent.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	sess := &Session{}
	err := s.readDB.QueryRowContext(ctx,
		`SELECT id, user_id, title, placeholder, created_at FROM chat_sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.Placeholder, &sess.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, Classify(fmt.Errorf("failed to get session: %w", err))
	}
	return sess, nil
}

// SessionExists reports whether a session record exists.
func (s *Store) SessionExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.readDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_sessions WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, Classify(fmt.Errorf("failed to probe session: %w", err))
	}
	return n > 0, nil
}

// EnsurePlaceholderSession creates a minimal placeholder record when the session is
// missing. Returns true if a placeholder was inserted.
func (s *Store) EnsurePlaceholderSession(ctx context.Context, id, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO chat_sessions (id, user_id, title, placeholder, created_at) VALUES (?, ?, '', 1, ?)`,
		id, userID, time.Now().UnixMilli(),
	)
	if err != nil {
		return false, Classify(fmt.Errorf("failed to create placeholder session: %w", err))
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		s.logger.Warn().Str("session_id", id).Msg("seeded placeholder session")
	}
	return rows > 0, nil
}
