package routing

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aicore/internal/types"
)

type fakeCompleter struct {
	reply string
	err   error

	calls  int
	model  string
	prompt string
	max    int
}

func (f *fakeCompleter) CompleteWithModel(_ context.Context, model, _, user string, maxTokens int) (string, error) {
	f.calls++
	f.model = model
	f.prompt = user
	f.max = maxTokens
	return f.reply, f.err
}

func TestRoute_DisabledAlwaysFixedMedium(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auto = false
	fc := &fakeCompleter{reply: `{"complexity":"hard"}`}
	r := New(cfg, fc)

	inputs := []string{
		"",
		"hi",
		"design the architecture and roadmap for the whole system",
		strings.Repeat("long text ", 200),
		"look at this screenshot image.png",
	}
	want := r.FixedPlan()
	for _, in := range inputs {
		plan := r.Route(context.Background(), in, types.ChatContext{Files: []types.ContextFile{{Path: "a.png"}}}, types.ChatModeVibe, true, false)
		assert.Equal(t, want, plan, "input %q", in)
	}
	assert.Equal(t, Medium, want.Complexity)
	assert.Equal(t, ImplementationAgent, want.Delegate)
	assert.Equal(t, MediumBudget, want.MaxTokens)
	assert.Equal(t, 1.0, want.Confidence)
	assert.Zero(t, fc.calls, "classifier is never consulted")
}

func TestRoute_DisabledButForced(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auto = false
	fc := &fakeCompleter{reply: `{"complexity":"hard","subAgent":"planning_agent","reason":"big","confidence":0.9}`}
	plan := New(cfg, fc).Route(context.Background(), "x", types.ChatContext{}, types.ChatModeSpec, false, true)
	assert.Equal(t, 1, fc.calls)
	assert.Equal(t, Hard, plan.Complexity)
}

func TestRoute_ClassifierVerdict(t *testing.T) {
	fc := &fakeCompleter{reply: "Sure! Here you go:\n```json\n{\"complexity\":\"simple\",\"subAgent\":\"quick_responder\",\"requiresVision\":false,\"reason\":\"greeting\",\"confidence\":0.93}\n```"}
	r := New(DefaultConfig(), fc)
	plan := r.Route(context.Background(), "hello", types.ChatContext{Files: []types.ContextFile{{Path: "a.go"}}}, types.ChatModeVibe, true, false)

	assert.Equal(t, Plan{
		Complexity: Simple,
		Delegate:   QuickResponder,
		Model:      "glm-4.7-flash",
		MaxTokens:  SimpleBudget,
		Reason:     "greeting",
		Confidence: 0.93,
	}, plan)
	assert.Equal(t, "glm-5", fc.model)
	assert.Equal(t, 300, fc.max)
	assert.Contains(t, fc.prompt, "AttachedFiles: 1")
	assert.Contains(t, fc.prompt, "AgentMode: true")
	assert.Contains(t, fc.prompt, "UserMessage: hello")
}

func TestRoute_VerdictDefaults(t *testing.T) {
	fc := &fakeCompleter{reply: `{"complexity":"bogus"}`}
	plan := New(DefaultConfig(), fc).Route(context.Background(), "x", types.ChatContext{}, types.ChatModeVibe, false, false)
	assert.Equal(t, Medium, plan.Complexity)
	assert.Equal(t, ImplementationAgent, plan.Delegate)
	assert.Equal(t, 0.7, plan.Confidence)
	assert.True(t, plan.EnableThinking)
	assert.True(t, plan.EnableWebSearch)

	fc.reply = `{"complexity":"hard","confidence":7}`
	plan = New(DefaultConfig(), fc).Route(context.Background(), "x", types.ChatContext{}, types.ChatModeVibe, false, false)
	assert.Equal(t, PlanningAgent, plan.Delegate)
	assert.Equal(t, 1.0, plan.Confidence)
	assert.Equal(t, HardBudget, plan.MaxTokens)
}

func TestRoute_FallsBackToHeuristic(t *testing.T) {
	cases := map[string]*fakeCompleter{
		"transport error": {err: errors.New("API error (503): busy")},
		"no json":         {reply: "I think this is easy."},
	}
	for name, fc := range cases {
		t.Run(name, func(t *testing.T) {
			r := New(DefaultConfig(), fc)
			plan := r.Route(context.Background(), "please refactor the parser", types.ChatContext{}, types.ChatModeVibe, false, false)
			assert.Equal(t, Medium, plan.Complexity)
			assert.Equal(t, 0.58, plan.Confidence)
		})
	}

	plan := New(DefaultConfig(), nil).Route(context.Background(), "hi", types.ChatContext{}, types.ChatModeVibe, false, false)
	assert.Equal(t, Simple, plan.Complexity)
}

func TestHeuristic(t *testing.T) {
	r := New(DefaultConfig(), nil)
	cases := []struct {
		msg        string
		complexity Complexity
		delegate   Delegate
		confidence float64
	}{
		{"what time is it", Simple, QuickResponder, 0.55},
		{"fix this bug in main.go", Medium, ImplementationAgent, 0.58},
		{"请帮我重构这个模块", Medium, ImplementationAgent, 0.58},
		{strings.Repeat("a", 121), Medium, ImplementationAgent, 0.58},
		{"we need a trade-off analysis", Hard, PlanningAgent, 0.62},
		{"给出系统方案", Hard, PlanningAgent, 0.62},
		{strings.Repeat("a", 501), Hard, PlanningAgent, 0.62},
	}
	for _, tc := range cases {
		plan := r.Heuristic(tc.msg, types.ChatContext{})
		assert.Equal(t, tc.complexity, plan.Complexity, tc.msg)
		assert.Equal(t, tc.delegate, plan.Delegate, tc.msg)
		assert.Equal(t, tc.confidence, plan.Confidence, tc.msg)
		assert.Equal(t, BudgetFor(tc.complexity), plan.MaxTokens)
		assert.Equal(t, tc.complexity != Simple, plan.EnableThinking)
		assert.Equal(t, tc.complexity != Simple, plan.EnableWebSearch)
	}
}

func TestRoute_VisionUpgrade(t *testing.T) {
	fc := &fakeCompleter{reply: `{"complexity":"simple","requiresVision":false}`}
	r := New(DefaultConfig(), fc)

	plan := r.Route(context.Background(), "what is in this?", types.ChatContext{Files: []types.ContextFile{{Path: "shots/Screen.PNG"}}}, types.ChatModeVibe, false, false)
	assert.True(t, plan.RequiresVision)
	assert.Equal(t, "glm-4.6v-flash", plan.Model)
	assert.Contains(t, fc.prompt, "HasVisionInputs: true")

	fc.reply = `{"complexity":"hard","requiresVision":true}`
	plan = r.Route(context.Background(), "plain text", types.ChatContext{}, types.ChatModeVibe, false, false)
	assert.True(t, plan.RequiresVision)
	assert.Equal(t, "glm-4.6v", plan.Model)

	cfg := DefaultConfig()
	cfg.Vision = false
	plan = New(cfg, fc).Route(context.Background(), "describe the image", types.ChatContext{}, types.ChatModeVibe, false, false)
	assert.False(t, plan.RequiresVision)
	assert.Equal(t, "glm-5", plan.Model)
}

func TestHasVisualInputs(t *testing.T) {
	assert.True(t, HasVisualInputs("", types.ChatContext{Files: []types.ContextFile{{Path: "doc.pdf"}}}))
	assert.True(t, HasVisualInputs("", types.ChatContext{Files: []types.ContextFile{{Path: "blob", Language: "binary"}}}))
	assert.True(t, HasVisualInputs("run OCR on it", types.ChatContext{}))
	assert.True(t, HasVisualInputs("看图说话", types.ChatContext{}))
	assert.False(t, HasVisualInputs("refactor main.go", types.ChatContext{Files: []types.ContextFile{{Path: "main.go"}}}))
}

func TestModelOverrides(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Models.Medium = "custom-medium"
	cfg.VisionModels.Hard = "custom-eyes"
	r := New(cfg, nil)

	assert.Equal(t, "custom-medium", r.Heuristic("debug this", types.ChatContext{}).Model)
	assert.Equal(t, "glm-4.7-flash", r.Heuristic("hi", types.ChatContext{}).Model)
	assert.Equal(t, "custom-eyes", r.Heuristic("plan the architecture from this image", types.ChatContext{}).Model)
}

func TestEscalate(t *testing.T) {
	r := New(DefaultConfig(), nil)
	base := r.Heuristic("hi", types.ChatContext{})
	up := r.Escalate(base)

	require.NotEqual(t, base, up)
	assert.Equal(t, Hard, up.Complexity)
	assert.Equal(t, "glm-5", up.Model)
	assert.True(t, up.EnableThinking)
	assert.True(t, up.EnableWebSearch)
	assert.Equal(t, HardBudget, up.MaxTokens)
	assert.Equal(t, QuickResponder, up.Delegate, "delegate is kept")

	base.MaxTokens = 65536
	assert.Equal(t, 65536, r.Escalate(base).MaxTokens)

	base.RequiresVision = true
	assert.Equal(t, "glm-4.6v", r.Escalate(base).Model)
}
