package subagent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aicore/internal/gateway"
	"aicore/internal/routing"
	"aicore/internal/stream"
	"aicore/internal/types"
)

type fakeStreamer struct {
	mu    sync.Mutex
	reply []stream.Event
	calls [][]types.Message
	opts  []gateway.Options
}

func (f *fakeStreamer) StreamChatWithContinuation(_ context.Context, messages []types.Message, _ types.ChatContext, opts gateway.Options, _ int) <-chan stream.Event {
	f.mu.Lock()
	f.calls = append(f.calls, messages)
	f.opts = append(f.opts, opts)
	events := f.reply
	f.mu.Unlock()

	out := make(chan stream.Event, len(events))
	for _, ev := range events {
		out <- ev
	}
	close(out)
	return out
}

func (f *fakeStreamer) lastCall() ([]types.Message, gateway.Options) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1], f.opts[len(f.opts)-1]
}

type memRuns struct {
	mu   sync.Mutex
	runs map[string]*Run
}

func (m *memRuns) SaveRun(_ context.Context, r *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs == nil {
		m.runs = make(map[string]*Run)
	}
	m.runs[r.ID] = r.Clone()
	return nil
}

func (m *memRuns) LoadRun(_ context.Context, id string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, ErrUnknownRun
	}
	return r.Clone(), nil
}

func reply(text string) []stream.Event {
	return []stream.Event{stream.Content{Text: text}, stream.Done{}}
}

func TestParseCommand(t *testing.T) {
	cases := []struct {
		in   string
		want Command
		ok   bool
	}{
		{"/planning-agent design a cache", Command{Kind: Invoke, Name: "planning-agent", Task: "design a cache"}, true},
		{"  /Quick-Responder  ", Command{Kind: Invoke, Name: "quick-responder"}, true},
		{"/resume sa_123abc keep going", Command{Kind: Resume, RunID: "sa_123abc", Task: "keep going"}, true},
		{"/RESUME sa_1", Command{Kind: Resume, RunID: "sa_1"}, true},
		{"resume agent sa_9 and finish", Command{Kind: Resume, RunID: "sa_9", Task: "and finish"}, true},
		{"/implementation-agent line one\nline two", Command{Kind: Invoke, Name: "implementation-agent", Task: "line one\nline two"}, true},
		{"please resume agent sa_1", Command{}, false},
		{"hello", Command{}, false},
		{"", Command{}, false},
		{"/", Command{}, false},
	}
	for _, tc := range cases {
		got, ok := ParseCommand(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestParseProfile(t *testing.T) {
	p, ok := ParseProfile([]byte("---\r\nname: Reviewer\r\ndescription: reviews code\r\nmodel: glm-4.7\r\nreadonly: true\r\nis_background: false\r\n---\r\n\r\nReview carefully.\r\n"))
	require.True(t, ok)
	assert.Equal(t, Profile{Name: "reviewer", Description: "reviews code", Model: "glm-4.7", ReadOnly: true, Prompt: "Review carefully."}, p)

	p, ok = ParseProfile([]byte("---\nname: bare\n---\n"))
	require.True(t, ok)
	assert.Equal(t, InheritModel, p.Model)
	assert.Equal(t, "No description provided.", p.Description)
	assert.Empty(t, p.Prompt)

	for _, bad := range []string{
		"no front matter",
		"---\nname: x\n", // unterminated
		"---\ndescription: nameless\n---\nbody",
		"---\nname: [unclosed\n---\nbody",
		"",
	} {
		_, ok := ParseProfile([]byte(bad))
		assert.False(t, ok, bad)
	}
}

func TestDefaultProfilesRender(t *testing.T) {
	for _, def := range DefaultProfiles() {
		data, err := def.Render()
		require.NoError(t, err)
		parsed, ok := ParseProfile(data)
		require.True(t, ok, def.Name)
		assert.Equal(t, def, parsed)
	}
}

func TestSystemPrompt(t *testing.T) {
	ro := Profile{Name: "a", Description: "d", ReadOnly: true, Prompt: "body"}.SystemPrompt()
	assert.Contains(t, ro, "Subagent name: a")
	assert.Contains(t, ro, "Responsibility: d")
	assert.Contains(t, ro, "read-only")
	assert.True(t, strings.HasSuffix(ro, "\nbody"))

	rw := Profile{Name: "b"}.SystemPrompt()
	assert.NotContains(t, rw, "read-only")
}

func TestEnsureDefaults(t *testing.T) {
	ws := t.TempDir()
	o := New(ws, nil)
	require.NoError(t, o.EnsureDefaults())

	profiles, err := o.Profiles()
	require.NoError(t, err)
	var names []string
	for _, p := range profiles {
		names = append(names, p.Name)
		assert.Equal(t, filepath.Join(ws, ".agents", "agents", p.Name+".md"), p.Path)
	}
	assert.Equal(t, []string{"implementation-agent", "planning-agent", "quick-responder"}, names)

	// An edited directory is left alone.
	dir := filepath.Join(ws, ".agents", "agents")
	require.NoError(t, os.Remove(filepath.Join(dir, "planning-agent.md")))
	o.Invalidate()
	require.NoError(t, o.EnsureDefaults())
	profiles, err = o.Profiles()
	require.NoError(t, err)
	assert.Len(t, profiles, 2)
}

func TestEnsureDefaults_KeepsCustomProfiles(t *testing.T) {
	ws := t.TempDir()
	dir := filepath.Join(ws, ".cursor", "agents")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mine.md"), []byte("---\nname: mine\n---\nhi\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.md"), []byte("no header"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("---\nname: txt\n---\n"), 0o644))

	o := New(ws, nil)
	root, err := o.Root()
	require.NoError(t, err)
	assert.Equal(t, dir, root)

	require.NoError(t, o.EnsureDefaults())
	profiles, err := o.Profiles()
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "mine", profiles[0].Name)
}

func TestNoWorkspace(t *testing.T) {
	o := New("", &fakeStreamer{})
	_, err := o.RunExplicit(context.Background(), Command{Kind: Invoke, Name: "quick-responder"}, types.ChatContext{}, RunOptions{})
	assert.ErrorIs(t, err, ErrNoWorkspace)
}

func TestRunExplicit_InvokeAndResume(t *testing.T) {
	fs := &fakeStreamer{reply: reply("first answer")}
	o := New(t.TempDir(), fs)

	res, err := o.RunExplicit(context.Background(), Command{Kind: Invoke, Name: "planning-agent", Task: "plan it"}, types.ChatContext{}, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, "planning-agent", res.Agent)
	assert.Equal(t, "first answer", res.Content)
	assert.True(t, strings.HasPrefix(res.RunID, "sa_"))

	msgs, opts := fs.lastCall()
	require.Len(t, msgs, 2)
	assert.Equal(t, types.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "planning-agent")
	assert.Equal(t, types.UserMessage("plan it"), msgs[1])
	assert.True(t, opts.EnableThinking)
	assert.True(t, opts.EnableWebSearch)
	assert.Equal(t, 16384, opts.MaxTokens)
	assert.Empty(t, opts.Model, "inherit leaves the model to the gateway")
	assert.Equal(t, res.RunID, opts.SessionID)

	fs.reply = reply("second answer")
	res2, err := o.RunExplicit(context.Background(), Command{Kind: Resume, RunID: res.RunID}, types.ChatContext{}, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, res.RunID, res2.RunID)

	msgs, _ = fs.lastCall()
	require.Len(t, msgs, 4)
	assert.Equal(t, types.AssistantMessage("first answer"), msgs[2])
	assert.Equal(t, types.UserMessage(resumeTask), msgs[3])

	runs := o.Runs()
	require.Len(t, runs, 1)
	assert.Len(t, runs[0].Messages, 5)
}

func TestRunExplicit_UnknownRunAndProfile(t *testing.T) {
	o := New(t.TempDir(), &fakeStreamer{reply: reply("x")})
	_, err := o.RunExplicit(context.Background(), Command{Kind: Resume, RunID: "sa_missing"}, types.ChatContext{}, RunOptions{})
	assert.ErrorIs(t, err, ErrUnknownRun)

	_, err = o.RunExplicit(context.Background(), Command{Kind: Invoke, Name: "nobody"}, types.ChatContext{}, RunOptions{})
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestRun_StreamErrorNotRecorded(t *testing.T) {
	fs := &fakeStreamer{reply: []stream.Event{stream.Content{Text: "half"}, stream.Error{Message: "API error (500): boom"}}}
	o := New(t.TempDir(), fs)

	var seen []stream.Event
	_, err := o.RunExplicit(context.Background(), Command{Kind: Invoke, Name: "quick-responder", Task: "q"}, types.ChatContext{}, RunOptions{
		OnEvent: func(ev stream.Event) { seen = append(seen, ev) },
	})
	var se *stream.StreamError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "API error (500): boom", se.Message)
	assert.Len(t, seen, 2)
	assert.Empty(t, o.Runs())
}

func TestRun_EmptyReplyPlaceholder(t *testing.T) {
	o := New(t.TempDir(), &fakeStreamer{reply: []stream.Event{stream.Done{}}})
	res, err := o.RunExplicit(context.Background(), Command{Kind: Invoke, Name: "quick-responder"}, types.ChatContext{}, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, emptyReply, res.Content)
}

func TestRunRouted(t *testing.T) {
	fs := &fakeStreamer{reply: reply("ok")}
	o := New(t.TempDir(), fs)

	off := false
	cases := map[routing.Delegate]string{
		routing.PlanningAgent:       "planning-agent",
		routing.ImplementationAgent: "implementation-agent",
		routing.QuickResponder:      "quick-responder",
		routing.Delegate("other"):   "quick-responder",
	}
	for delegate, profile := range cases {
		res, err := o.RunRouted(context.Background(), delegate, "task", types.ChatContext{}, RunOptions{
			Model: "glm-5", EnableThinking: &off, MaxTokens: 32768,
		})
		require.NoError(t, err)
		assert.Equal(t, profile, res.Agent)
		_, opts := fs.lastCall()
		assert.Equal(t, "glm-5", opts.Model)
		assert.False(t, opts.EnableThinking)
		assert.True(t, opts.EnableWebSearch)
		assert.Equal(t, 32768, opts.MaxTokens)
	}
}

func TestRun_ProfileModelUsed(t *testing.T) {
	ws := t.TempDir()
	dir := filepath.Join(ws, ".agents", "agents")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fast.md"), []byte("---\nname: fast\nmodel: glm-4.7-flash\n---\nbe quick\n"), 0o644))

	fs := &fakeStreamer{reply: reply("ok")}
	o := New(ws, fs)
	_, err := o.RunExplicit(context.Background(), Command{Kind: Invoke, Name: "fast", Task: "go"}, types.ChatContext{}, RunOptions{})
	require.NoError(t, err)
	_, opts := fs.lastCall()
	assert.Equal(t, "glm-4.7-flash", opts.Model)
}

func TestResumeFromRunStore(t *testing.T) {
	ws := t.TempDir()
	store := &memRuns{}
	fs := &fakeStreamer{reply: reply("one")}

	first := New(ws, fs, WithRunStore(store))
	res, err := first.RunExplicit(context.Background(), Command{Kind: Invoke, Name: "quick-responder", Task: "a"}, types.ChatContext{}, RunOptions{})
	require.NoError(t, err)

	second := New(ws, fs, WithRunStore(store))
	_, err = second.RunExplicit(context.Background(), Command{Kind: Resume, RunID: res.RunID, Task: "b"}, types.ChatContext{}, RunOptions{})
	require.NoError(t, err)
	msgs, _ := fs.lastCall()
	assert.Len(t, msgs, 4)
}

func TestRun_Cancelled(t *testing.T) {
	o := New(t.TempDir(), &fakeStreamer{reply: reply("late")})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.RunExplicit(ctx, Command{Kind: Invoke, Name: "quick-responder"}, types.ChatContext{}, RunOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, o.Runs())
}

func TestWatcherInvalidatesCache(t *testing.T) {
	ws := t.TempDir()
	o := New(ws, nil)
	require.NoError(t, o.EnsureDefaults())
	_, err := o.Profile("late-arrival")
	require.ErrorIs(t, err, ErrProfileNotFound)

	w, err := o.Watch(context.Background())
	require.NoError(t, err)
	defer w.Stop()

	root, _ := o.Root()
	require.NoError(t, os.WriteFile(filepath.Join(root, "late-arrival.md"), []byte("---\nname: late-arrival\n---\nhello\n"), 0o644))

	require.Eventually(t, func() bool {
		_, err := o.Profile("late-arrival")
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)
	assert.GreaterOrEqual(t, w.Reloads(), 1)
}
