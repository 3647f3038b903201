package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"aicore/internal/gateway"
	"aicore/internal/stream"
	"aicore/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeStreamer replays scripted events and records each call's input.
type fakeStreamer struct {
	mu     sync.Mutex
	events []stream.Event
	usage  *stream.Usage
	calls  [][]types.Message
	opts   []gateway.Options
	block  bool
}

func (f *fakeStreamer) StreamChatWithContinuation(ctx context.Context, messages []types.Message, _ types.ChatContext, opts gateway.Options, _ int) <-chan stream.Event {
	f.mu.Lock()
	f.calls = append(f.calls, messages)
	f.opts = append(f.opts, opts)
	f.mu.Unlock()

	out := make(chan stream.Event)
	go func() {
		defer close(out)
		if f.usage != nil && opts.OnUsage != nil {
			opts.OnUsage(*f.usage)
		}
		for _, ev := range f.events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
		if f.block {
			<-ctx.Done()
		}
	}()
	return out
}

type memPersister struct {
	mu       sync.Mutex
	sessions map[string]*Session
	deleted  []string
}

func newMemPersister() *memPersister { return &memPersister{sessions: make(map[string]*Session)} }

func (p *memPersister) SaveSession(_ context.Context, s *Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[s.ID] = s.Clone()
	return nil
}

func (p *memPersister) LoadSession(_ context.Context, id string) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (p *memPersister) ListSessions(context.Context) ([]Summary, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Summary
	for _, s := range p.sessions {
		out = append(out, Summary{ID: s.ID, Messages: len(s.Messages), UpdatedAt: s.UpdatedAt})
	}
	return out, nil
}

func (p *memPersister) DeleteSession(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, id)
	p.deleted = append(p.deleted, id)
	return nil
}

func drain(ch <-chan stream.Event) []stream.Event {
	var out []stream.Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestStore_CreateAndCurrent(t *testing.T) {
	s := NewStore(nil)
	_, ok := s.CurrentSession()
	assert.False(t, ok)

	sess := s.CreateSession("be helpful")
	require.Len(t, sess.Messages, 1)
	assert.Equal(t, types.RoleSystem, sess.Messages[0].Role)

	cur, ok := s.CurrentSession()
	require.True(t, ok)
	assert.Equal(t, sess.ID, cur.ID)

	other := s.CreateSession("")
	assert.Empty(t, other.Messages)
	cur, _ = s.CurrentSession()
	assert.Equal(t, other.ID, cur.ID)
	require.NoError(t, s.SetCurrent(sess.ID))
	assert.ErrorIs(t, s.SetCurrent("nope"), ErrSessionNotFound)
}

func TestStore_AddMessageUnknownSession(t *testing.T) {
	s := NewStore(nil)
	err := s.AddMessage("missing", types.UserMessage("x"))
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = s.Messages("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStore_MessagesIsDefensiveCopy(t *testing.T) {
	s := NewStore(nil)
	sess := s.CreateSession("sys")
	require.NoError(t, s.AddMessage(sess.ID, types.Message{
		Role:      types.RoleAssistant,
		ToolCalls: []types.ToolCall{{ID: "c1", Function: types.FunctionCall{Name: "read_file"}}},
	}))

	got, err := s.Messages(sess.ID)
	require.NoError(t, err)
	got[0].Content = "tampered"
	got[1].ToolCalls[0].ID = "tampered"
	got = append(got, types.UserMessage("extra"))

	again, err := s.Messages(sess.ID)
	require.NoError(t, err)
	require.Len(t, again, 2)
	assert.Equal(t, "sys", again[0].Content)
	assert.Equal(t, "c1", again[1].ToolCalls[0].ID)

	snap, _ := s.Session(sess.ID)
	snap.Messages[0].Content = "tampered"
	again, _ = s.Messages(sess.ID)
	assert.Equal(t, "sys", again[0].Content)
}

func TestStore_AddMessageTrims(t *testing.T) {
	s := NewStore(nil, WithLimits(Limits{MaxMessages: 5, MaxTokens: 100000, MinKept: 2}))
	sess := s.CreateSession("sys")
	for i := 0; i < 20; i++ {
		require.NoError(t, s.AddMessage(sess.ID, types.UserMessage("hi")))
	}
	msgs, _ := s.Messages(sess.ID)
	assert.Len(t, msgs, 5)
	assert.Equal(t, "sys", msgs[0].Content)
}

func TestStore_ClearSession(t *testing.T) {
	p := newMemPersister()
	s := NewStore(nil, WithPersister(p))
	a := s.CreateSession("a")
	b := s.CreateSession("b")

	s.ClearSession("")
	_, ok := s.CurrentSession()
	assert.False(t, ok)
	_, ok = s.Session(b.ID)
	assert.False(t, ok)

	s.ClearSession(a.ID)
	_, ok = s.Session(a.ID)
	assert.False(t, ok)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, p.deleted)

	s.ClearSession("")
}

func TestStore_CacheStats(t *testing.T) {
	s := NewStore(nil)
	sess := s.CreateSession("")
	s.RecordUsage(sess.ID, stream.Usage{PromptTokens: 100, PromptTokensDetails: &stream.PromptTokensDetails{CachedTokens: 85}})
	s.RecordUsage(sess.ID, stream.Usage{PromptTokens: 100})
	s.RecordUsage("unknown", stream.Usage{PromptTokens: 1})

	stats := s.CacheStats("")
	assert.Equal(t, CacheStats{TotalTokens: 200, CachedTokens: 85}, stats)
	assert.Equal(t, "42.5%", stats.SavingsString())
	assert.Equal(t, "0.0%", CacheStats{}.SavingsString())
	assert.Equal(t, CacheStats{}, s.CacheStats("unknown"))
}

func TestStore_StreamChatWithSession_RecordsTurn(t *testing.T) {
	fs := &fakeStreamer{
		events: []stream.Event{
			stream.Thinking{Text: stream.ThinkingMarker, Start: true},
			stream.Thinking{Text: "hmm"},
			stream.Content{Text: stream.ThinkingSeparator},
			stream.Content{Text: "Hello"},
			stream.Notice{Text: gateway.ContinuationMarker},
			stream.Content{Text: " world"},
			stream.Done{},
		},
		usage: &stream.Usage{PromptTokens: 10, PromptTokensDetails: &stream.PromptTokensDetails{CachedTokens: 5}},
	}
	s := NewStore(fs, WithSystemPrompt(func(types.ChatContext) string { return "generated system" }))

	events := drain(s.StreamChatWithSession(context.Background(), "hi", types.ChatContext{}, gateway.Options{}))
	assert.Len(t, events, 7)

	cur, ok := s.CurrentSession()
	require.True(t, ok)
	require.Len(t, cur.Messages, 3)
	assert.Equal(t, types.SystemMessage("generated system"), cur.Messages[0])
	assert.Equal(t, types.UserMessage("hi"), cur.Messages[1])
	assert.Equal(t, types.AssistantMessage("Hello world"), cur.Messages[2])
	assert.Equal(t, CacheStats{TotalTokens: 10, CachedTokens: 5}, cur.CacheStats)

	require.Len(t, fs.calls, 1)
	assert.Len(t, fs.calls[0], 2, "history sent includes system and user")
	assert.Equal(t, cur.ID, fs.opts[0].SessionID)

	// Second turn reuses the current session and sends the full history.
	drain(s.StreamChatWithSession(context.Background(), "again", types.ChatContext{}, gateway.Options{}))
	require.Len(t, fs.calls, 2)
	assert.Len(t, fs.calls[1], 4)
}

func TestStore_StreamChatWithSession_ErrorDoesNotPersistReply(t *testing.T) {
	fs := &fakeStreamer{events: []stream.Event{
		stream.Content{Text: "partial"},
		stream.Error{Message: "API error (500): boom"},
	}}
	s := NewStore(fs)
	sess := s.CreateSession("")

	drain(s.StreamChatWithSession(context.Background(), "q", types.ChatContext{}, gateway.Options{SessionID: sess.ID}))
	msgs, _ := s.Messages(sess.ID)
	assert.Equal(t, []types.Message{types.UserMessage("q")}, msgs)
}

func TestStore_StreamChatWithSession_Cancelled(t *testing.T) {
	fs := &fakeStreamer{events: []stream.Event{stream.Content{Text: "partial"}}, block: true}
	s := NewStore(fs)
	sess := s.CreateSession("")

	ctx, cancel := context.WithCancel(context.Background())
	events := s.StreamChatWithSession(ctx, "q", types.ChatContext{}, gateway.Options{})
	assert.Equal(t, stream.Content{Text: "partial"}, <-events)
	cancel()
	drain(events)

	msgs, _ := s.Messages(sess.ID)
	assert.Len(t, msgs, 1)
}

func TestStore_StreamChatWithSession_UnknownNamedSessionStartsFresh(t *testing.T) {
	fs := &fakeStreamer{events: []stream.Event{stream.Content{Text: "ok"}, stream.Done{}}}
	s := NewStore(fs)
	drain(s.StreamChatWithSession(context.Background(), "q", types.ChatContext{}, gateway.Options{SessionID: "gone"}))

	cur, ok := s.CurrentSession()
	require.True(t, ok)
	assert.NotEqual(t, "gone", cur.ID)
	assert.Len(t, cur.Messages, 2)
}

func TestStore_NoStreamer(t *testing.T) {
	s := NewStore(nil)
	events := drain(s.StreamChatWithSession(context.Background(), "q", types.ChatContext{}, gateway.Options{}))
	require.Len(t, events, 1)
	assert.Equal(t, stream.Error{Message: ErrNoStreamer.Error()}, events[0])
}

func TestStore_PersistAndLoad(t *testing.T) {
	p := newMemPersister()
	first := NewStore(nil, WithPersister(p))
	sess := first.CreateSession("sys")
	require.NoError(t, first.AddMessage(sess.ID, types.UserMessage("remember me")))

	second := NewStore(nil, WithPersister(p))
	loaded, err := second.Load(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Messages, 2)
	cur, ok := second.CurrentSession()
	require.True(t, ok)
	assert.Equal(t, sess.ID, cur.ID)

	_, err = second.Load(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrSessionNotFound))

	list, err := second.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].Messages)
}
