// Package session owns per-conversation message history. It bounds each
// history by message count and estimated tokens, tracks provider cache
// accounting, and drives a chat turn end to end.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"aicore/internal/gateway"
	"aicore/internal/logging"
	"aicore/internal/stream"
	"aicore/internal/types"
)

// ErrSessionNotFound is returned for an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

// CacheStats accumulates prompt tokens and the share served from cache.
type CacheStats struct {
	TotalTokens  int `json:"total_tokens"`
	CachedTokens int `json:"cached_tokens"`
}

// Savings is the cached share of prompt tokens as a percentage.
func (c CacheStats) Savings() float64 {
	if c.TotalTokens <= 0 {
		return 0
	}
	return float64(c.CachedTokens) / float64(c.TotalTokens) * 100
}

// SavingsString formats Savings with one decimal, e.g. "42.5%".
func (c CacheStats) SavingsString() string {
	return fmt.Sprintf("%.1f%%", c.Savings())
}

// Session is one conversation.
type Session struct {
	ID         string          `json:"id"`
	Messages   []types.Message `json:"messages"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	CacheStats CacheStats      `json:"cache_stats"`
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	c := *s
	c.Messages = types.CloneMessages(s.Messages)
	return &c
}

// Summary describes a stored session without its messages.
type Summary struct {
	ID        string
	Title     string
	Messages  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

const titleLimit = 60

// Title labels a history by its first user message, shortened to one line.
func Title(msgs []types.Message) string {
	for _, m := range msgs {
		if m.Role != types.RoleUser {
			continue
		}
		line, _, _ := strings.Cut(strings.TrimSpace(m.Content), "\n")
		if r := []rune(line); len(r) > titleLimit {
			return string(r[:titleLimit]) + "..."
		}
		return line
	}
	return ""
}

// Streamer issues a chat call with bounded continuation.
type Streamer interface {
	StreamChatWithContinuation(ctx context.Context, messages []types.Message, chatCtx types.ChatContext, opts gateway.Options, maxContinuations int) <-chan stream.Event
}

// Persister saves sessions outside the process.
type Persister interface {
	SaveSession(ctx context.Context, s *Session) error
	LoadSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context) ([]Summary, error)
	DeleteSession(ctx context.Context, id string) error
}

// Store holds sessions and the current-session pointer. It is safe for
// concurrent use, but a single session is expected to have one writer.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	current  string

	streamer         Streamer
	persister        Persister
	limits           Limits
	maxContinuations int
	systemPrompt     func(types.ChatContext) string
	now              func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithPersister saves every mutation through p.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithLimits overrides the history bounds.
func WithLimits(l Limits) Option {
	return func(s *Store) { s.limits = l }
}

// WithMaxContinuations sets the continuation bound for chat turns.
func WithMaxContinuations(n int) Option {
	return func(s *Store) { s.maxContinuations = n }
}

// WithSystemPrompt sets the prompt builder used when a chat turn has to
// create its session.
func WithSystemPrompt(fn func(types.ChatContext) string) Option {
	return func(s *Store) { s.systemPrompt = fn }
}

// NewStore creates an empty store. streamer may be nil when the store is only
// used for history bookkeeping.
func NewStore(streamer Streamer, opts ...Option) *Store {
	s := &Store{
		sessions:         make(map[string]*Session),
		streamer:         streamer,
		limits:           DefaultLimits(),
		maxContinuations: gateway.DefaultMaxContinuations,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession starts a session, optionally seeded with a system prompt,
// and makes it current.
func (s *Store) CreateSession(systemPrompt string) *Session {
	now := s.now()
	sess := &Session{
		ID:        "session-" + uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if systemPrompt != "" {
		sess.Messages = append(sess.Messages, types.SystemMessage(systemPrompt))
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.current = sess.ID
	snapshot := sess.Clone()
	s.mu.Unlock()

	logging.Session("created session %s", sess.ID)
	s.save(snapshot)
	return snapshot
}

// CurrentSession returns a copy of the current session.
func (s *Store) CurrentSession() (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[s.current]
	if !ok {
		return nil, false
	}
	return sess.Clone(), true
}

// Session returns a copy of the named session.
func (s *Store) Session(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return sess.Clone(), true
}

// SetCurrent makes id the current session.
func (s *Store) SetCurrent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.current = id
	return nil
}

// ClearSession deletes the named session, or the current one when id is
// empty. Clearing the current session leaves no current session.
func (s *Store) ClearSession(id string) {
	s.mu.Lock()
	if id == "" {
		id = s.current
	}
	if id == "" {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, id)
	if s.current == id {
		s.current = ""
	}
	s.mu.Unlock()

	logging.Session("cleared session %s", id)
	if s.persister != nil {
		if err := s.persister.DeleteSession(context.Background(), id); err != nil {
			logging.SessionWarn("failed to delete persisted session %s: %v", id, err)
		}
	}
}

// AddMessage appends msg and trims the history.
func (s *Store) AddMessage(id string, msg types.Message) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sess.Messages = append(sess.Messages, msg.Clone())
	sess.UpdatedAt = s.now()

	before := len(sess.Messages)
	sess.Messages = Trim(sess.Messages, s.limits)
	if after := len(sess.Messages); after != before {
		logging.SessionDebug("trimmed session %s from %d to %d messages (~%d tokens)", id, before, after, EstimateTokens(sess.Messages))
	}
	snapshot := sess.Clone()
	s.mu.Unlock()

	s.save(snapshot)
	return nil
}

// Messages returns a copy of the session history.
func (s *Store) Messages(id string) ([]types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return types.CloneMessages(sess.Messages), nil
}

// RecordUsage adds provider accounting to the session's cache stats.
func (s *Store) RecordUsage(id string, u stream.Usage) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	sess.CacheStats.TotalTokens += u.PromptTokens
	sess.CacheStats.CachedTokens += u.CachedTokens()
	s.mu.Unlock()

	if cached := u.CachedTokens(); cached > 0 {
		logging.SessionDebug("cache hit: %d tokens cached (session %s)", cached, id)
	}
}

// CacheStats returns the cache accounting for id, or the current session
// when id is empty. Unknown sessions report zeros.
func (s *Store) CacheStats(id string) CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" {
		id = s.current
	}
	if sess, ok := s.sessions[id]; ok {
		return sess.CacheStats
	}
	return CacheStats{}
}

// Load restores a persisted session and makes it current.
func (s *Store) Load(ctx context.Context, id string) (*Session, error) {
	if sess, ok := s.Session(id); ok {
		_ = s.SetCurrent(id)
		return sess, nil
	}
	if s.persister == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sess, err := s.persister.LoadSession(ctx, id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess.Clone()
	s.current = sess.ID
	s.mu.Unlock()

	logging.Session("loaded session %s (%d messages)", sess.ID, len(sess.Messages))
	return sess, nil
}

// List returns summaries of in-memory and persisted sessions, most recently
// updated first.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	byID := make(map[string]Summary)
	if s.persister != nil {
		persisted, err := s.persister.ListSessions(ctx)
		if err != nil {
			return nil, err
		}
		for _, sum := range persisted {
			byID[sum.ID] = sum
		}
	}

	s.mu.Lock()
	for id, sess := range s.sessions {
		byID[id] = Summary{ID: id, Title: Title(sess.Messages), Messages: len(sess.Messages), CreatedAt: sess.CreatedAt, UpdatedAt: sess.UpdatedAt}
	}
	s.mu.Unlock()

	out := make([]Summary, 0, len(byID))
	for _, sum := range byID {
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *Store) save(snapshot *Session) {
	if s.persister == nil {
		return
	}
	if err := s.persister.SaveSession(context.Background(), snapshot); err != nil {
		logging.SessionWarn("failed to persist session %s: %v", snapshot.ID, err)
	}
}
