package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"aicore/internal/logging"
	"aicore/internal/subagent"
	"aicore/internal/types"
)

// SaveRun upserts a subagent run.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *subagent.Run) error {
	data, err := json.Marshal(run.Messages)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", run.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO subagent_runs (id, profile, messages, last_used_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   profile = excluded.profile,
		   messages = excluded.messages,
		   last_used_at = excluded.last_used_at`,
		run.ID, run.Profile, string(data), run.LastUsedAt.UnixNano(),
	)
	if err != nil {
		logging.StoreError("failed to save run %s: %v", run.ID, err)
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	logging.StoreDebug("saved run %s (%s, %d messages)", run.ID, run.Profile, len(run.Messages))
	return nil
}

// LoadRun reads a run. Unknown ids yield subagent.ErrUnknownRun.
func (s *SQLiteStore) LoadRun(ctx context.Context, id string) (*subagent.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT id, profile, messages, last_used_at FROM subagent_runs WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", subagent.ErrUnknownRun, id)
	}
	return run, err
}

// ListRuns returns up to limit runs, most recently used first. A
// non-positive limit means 50.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*subagent.Run, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, profile, messages, last_used_at FROM subagent_runs ORDER BY last_used_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*subagent.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*subagent.Run, error) {
	var run subagent.Run
	var data string
	var lastUsed int64
	if err := sc.Scan(&run.ID, &run.Profile, &data, &lastUsed); err != nil {
		return nil, err
	}
	var msgs []types.Message
	if err := json.Unmarshal([]byte(data), &msgs); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", run.ID, err)
	}
	run.Messages = msgs
	run.LastUsedAt = time.Unix(0, lastUsed)
	return &run, nil
}
