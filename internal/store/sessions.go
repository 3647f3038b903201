package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"aicore/internal/logging"
	"aicore/internal/session"
	"aicore/internal/types"
)

// SaveSession writes the session and replaces its message rows.
func (s *SQLiteStore) SaveSession(ctx context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save session: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at, updated_at, total_tokens, cached_tokens, title)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   updated_at = excluded.updated_at,
		   total_tokens = excluded.total_tokens,
		   cached_tokens = excluded.cached_tokens,
		   title = excluded.title`,
		sess.ID, sess.CreatedAt.UnixNano(), sess.UpdatedAt.UnixNano(),
		sess.CacheStats.TotalTokens, sess.CacheStats.CachedTokens, session.Title(sess.Messages),
	)
	if err != nil {
		logging.StoreError("failed to save session %s: %v", sess.ID, err)
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM session_messages WHERE session_id = ?", sess.ID); err != nil {
		return fmt.Errorf("clear messages of %s: %w", sess.ID, err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO session_messages (session_id, position, role, content, tool_calls, tool_call_id)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare message insert: %w", err)
	}
	defer stmt.Close()

	for i, m := range sess.Messages {
		var calls sql.NullString
		if len(m.ToolCalls) > 0 {
			data, err := json.Marshal(m.ToolCalls)
			if err != nil {
				return fmt.Errorf("encode tool calls: %w", err)
			}
			calls = sql.NullString{String: string(data), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, sess.ID, i, string(m.Role), m.Content, calls, m.ToolCallID); err != nil {
			return fmt.Errorf("insert message %d of %s: %w", i, sess.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session %s: %w", sess.ID, err)
	}
	logging.StoreDebug("saved session %s (%d messages)", sess.ID, len(sess.Messages))
	return nil
}

// LoadSession reads a session. Unknown ids yield session.ErrSessionNotFound.
func (s *SQLiteStore) LoadSession(ctx context.Context, id string) (*session.Session, error) {
	timer := logging.StartTimer(logging.CategoryStore, "LoadSession")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var created, updated int64
	sess := &session.Session{ID: id}
	err := s.db.QueryRowContext(ctx,
		"SELECT created_at, updated_at, total_tokens, cached_tokens FROM sessions WHERE id = ?", id,
	).Scan(&created, &updated, &sess.CacheStats.TotalTokens, &sess.CacheStats.CachedTokens)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", session.ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	sess.CreatedAt = time.Unix(0, created)
	sess.UpdatedAt = time.Unix(0, updated)

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, tool_calls, tool_call_id FROM session_messages
		 WHERE session_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("load messages of %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var role string
		var content, calls, callID sql.NullString
		if err := rows.Scan(&role, &content, &calls, &callID); err != nil {
			return nil, fmt.Errorf("scan message of %s: %w", id, err)
		}
		m := types.Message{Role: types.Role(role), Content: content.String, ToolCallID: callID.String}
		if calls.Valid && calls.String != "" {
			if err := json.Unmarshal([]byte(calls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls of %s: %w", id, err)
			}
		}
		sess.Messages = append(sess.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sess, nil
}

// ListSessions returns session summaries, most recently updated first.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]session.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.title, s.created_at, s.updated_at, COUNT(m.position)
		 FROM sessions s LEFT JOIN session_messages m ON m.session_id = s.id
		 GROUP BY s.id
		 ORDER BY s.updated_at DESC, s.id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []session.Summary
	for rows.Next() {
		var sum session.Summary
		var created, updated int64
		if err := rows.Scan(&sum.ID, &sum.Title, &created, &updated, &sum.Messages); err != nil {
			return nil, fmt.Errorf("scan session summary: %w", err)
		}
		sum.CreatedAt = time.Unix(0, created)
		sum.UpdatedAt = time.Unix(0, updated)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and its messages. Unknown ids are ignored.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete session: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM session_messages WHERE session_id = ?", id); err != nil {
		return fmt.Errorf("delete messages of %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return tx.Commit()
}
