package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aicore/internal/session"
	"aicore/internal/subagent"
	"aicore/internal/types"
)

func openTemp(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "aicore.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSessionRoundTrip(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	created := time.Unix(1700000000, 123)
	sess := &session.Session{
		ID: "session-1",
		Messages: []types.Message{
			types.SystemMessage("sys"),
			types.UserMessage("read the file please"),
			{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{{ID: "c1", Type: "function", Function: types.FunctionCall{Name: "read_file", Arguments: `{"path":"a.go"}`}}}},
			{Role: types.RoleTool, Content: "package a", ToolCallID: "c1"},
		},
		CreatedAt:  created,
		UpdatedAt:  created.Add(time.Minute),
		CacheStats: session.CacheStats{TotalTokens: 300, CachedTokens: 120},
	}
	require.NoError(t, s.SaveSession(ctx, sess))

	got, err := s.LoadSession(ctx, "session-1")
	require.NoError(t, err)
	if diff := cmp.Diff(sess.Messages, got.Messages); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, sess.CacheStats, got.CacheStats)
	assert.True(t, sess.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, sess.UpdatedAt.Equal(got.UpdatedAt))

	// Saving a shorter history replaces the rows.
	sess.Messages = sess.Messages[:2]
	require.NoError(t, s.SaveSession(ctx, sess))
	got, err = s.LoadSession(ctx, "session-1")
	require.NoError(t, err)
	assert.Len(t, got.Messages, 2)
}

func TestLoadSession_NotFound(t *testing.T) {
	_, err := openTemp(t).LoadSession(context.Background(), "nope")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestListAndDeleteSessions(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.SaveSession(ctx, &session.Session{
			ID:        id,
			Messages:  []types.Message{types.UserMessage("question " + id)},
			CreatedAt: base,
			UpdatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	list, err := s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "c", list[0].ID)
	assert.Equal(t, "question c", list[0].Title)
	assert.Equal(t, 1, list[0].Messages)

	require.NoError(t, s.DeleteSession(ctx, "b"))
	require.NoError(t, s.DeleteSession(ctx, "missing"))
	list, err = s.ListSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	var orphans int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM session_messages WHERE session_id = 'b'").Scan(&orphans))
	assert.Zero(t, orphans)
}

func TestSessionStoreIntegration(t *testing.T) {
	db := openTemp(t)
	first := session.NewStore(nil, session.WithPersister(db))
	sess := first.CreateSession("sys")
	require.NoError(t, first.AddMessage(sess.ID, types.UserMessage("hello")))

	second := session.NewStore(nil, session.WithPersister(db))
	loaded, err := second.Load(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, []types.Message{types.SystemMessage("sys"), types.UserMessage("hello")}, loaded.Messages)

	second.ClearSession(sess.ID)
	_, err = db.LoadSession(context.Background(), sess.ID)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestRunRoundTrip(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	run := &subagent.Run{
		ID:         "sa_1",
		Profile:    "planning-agent",
		Messages:   []types.Message{types.SystemMessage("p"), types.UserMessage("t"), types.AssistantMessage("r")},
		LastUsedAt: time.Unix(1700000000, 5),
	}
	require.NoError(t, s.SaveRun(ctx, run))

	got, err := s.LoadRun(ctx, "sa_1")
	require.NoError(t, err)
	assert.Equal(t, run.Profile, got.Profile)
	assert.Equal(t, run.Messages, got.Messages)
	assert.True(t, run.LastUsedAt.Equal(got.LastUsedAt))

	run.Messages = append(run.Messages, types.UserMessage("more"))
	run.LastUsedAt = run.LastUsedAt.Add(time.Hour)
	require.NoError(t, s.SaveRun(ctx, run))
	require.NoError(t, s.SaveRun(ctx, &subagent.Run{ID: "sa_0", Profile: "quick-responder", LastUsedAt: time.Unix(1600000000, 0)}))

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "sa_1", runs[0].ID)
	assert.Len(t, runs[0].Messages, 4)

	_, err = s.LoadRun(ctx, "sa_missing")
	assert.ErrorIs(t, err, subagent.ErrUnknownRun)
}

func TestMigrationsAddColumnsToOldSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = raw.Exec(`CREATE TABLE sessions (id TEXT PRIMARY KEY, created_at INTEGER NOT NULL, updated_at INTEGER NOT NULL, total_tokens INTEGER DEFAULT 0)`)
	require.NoError(t, err)
	require.False(t, columnExists(raw, "sessions", "cached_tokens"))
	require.NoError(t, raw.Close())

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()
	assert.True(t, columnExists(s.db, "sessions", "cached_tokens"))
	assert.True(t, columnExists(s.db, "sessions", "title"))
	require.NoError(t, RunMigrations(s.db), "second run is a no-op")
}
