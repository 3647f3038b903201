package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"aicore/internal/extract"
	"aicore/internal/logging"
	"aicore/internal/types"
)

// Completer issues a single non-streaming completion.
type Completer interface {
	CompleteWithModel(ctx context.Context, model, systemPrompt, userPrompt string, maxTokens int) (string, error)
}

const (
	classifierMaxTokens = 300
	classifierSystem    = "You are a careful task difficulty assessor. Your output must be valid JSON."
	classifierPrompt    = `You are a task router. Assess the difficulty of the user request and reply with JSON only.
Complexity options: simple | medium | hard
Delegate options: quick_responder | implementation_agent | planning_agent
Vision model needed: requiresVision=true|false
Return exactly this JSON shape:
{"complexity":"simple|medium|hard","subAgent":"quick_responder|implementation_agent|planning_agent","requiresVision":true,"reason":"short reason","confidence":0.0}

ChatMode: %s
AgentMode: %t
AttachedFiles: %d
HasVisionInputs: %t
UserMessage: %s`
)

var (
	visualExtension = regexp.MustCompile(`(?i)\.(png|jpg|jpeg|webp|gif|bmp|svg|mp4|mov|avi|mkv|webm|pdf)$`)
	visualIntent    = regexp.MustCompile(`(?i)图片|图像|看图|识图|截图|视频|多模态|视觉|ocr|pdf|文档解析|image|video|vision|screenshot`)
	codeIntent      = regexp.MustCompile(`(?i)代码|修复|调试|实现|重构|架构|设计|性能|bug|error|refactor|implement|debug|fix`)
	planningIntent  = regexp.MustCompile(`(?i)方案|架构|设计|规划|spec|需求|任务分解|trade-?off|architecture|roadmap|design doc`)
)

// verdict is the classifier's JSON answer.
type verdict struct {
	Complexity     Complexity `json:"complexity"`
	SubAgent       Delegate   `json:"subAgent"`
	RequiresVision bool       `json:"requiresVision"`
	Reason         string     `json:"reason"`
	Confidence     *float64   `json:"confidence"`
}

// Router produces routing plans.
type Router struct {
	cfg       Config
	completer Completer
}

// New creates a router. completer may be nil, in which case every routed
// request uses the heuristic.
func New(cfg Config, completer Completer) *Router {
	if cfg.ClassifierModel == "" {
		cfg.ClassifierModel = DefaultConfig().ClassifierModel
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultConfig().DefaultModel
	}
	return &Router{cfg: cfg, completer: completer}
}

// Route classifies message. With automatic routing off and force unset it
// returns the fixed medium plan without looking at the input. Classifier
// failures of any kind fall back to the heuristic; Route itself never fails.
func (r *Router) Route(ctx context.Context, message string, chatCtx types.ChatContext, mode types.ChatMode, isAgentMode, force bool) Plan {
	if !r.cfg.Auto && !force {
		return r.FixedPlan()
	}

	vision := r.cfg.Vision && HasVisualInputs(message, chatCtx)
	if r.completer == nil {
		return r.heuristic(message, vision)
	}

	timer := logging.StartTimer(logging.CategoryRouting, "Route")
	defer timer.Stop()

	prompt := fmt.Sprintf(classifierPrompt, mode, isAgentMode, len(chatCtx.Files), vision, message)
	reply, err := r.completer.CompleteWithModel(ctx, r.cfg.ClassifierModel, classifierSystem, prompt, classifierMaxTokens)
	if err != nil {
		logging.RoutingWarn("router model failed, falling back to heuristic: %v", err)
		return r.heuristic(message, vision)
	}

	raw, ok := extract.Object(reply)
	if !ok {
		logging.RoutingWarn("router JSON not found, falling back to heuristic")
		return r.heuristic(message, vision)
	}
	var v verdict
	if err := json.Unmarshal(raw, &v); err != nil {
		logging.RoutingWarn("router JSON unusable, falling back to heuristic: %v", err)
		return r.heuristic(message, vision)
	}

	plan := r.fromVerdict(v, vision)
	logging.Routing("routing plan: complexity=%s delegate=%s vision=%t model=%s confidence=%.2f",
		plan.Complexity, plan.Delegate, plan.RequiresVision, plan.Model, plan.Confidence)
	return plan
}

// FixedPlan is the plan used when automatic routing is off.
func (r *Router) FixedPlan() Plan {
	return Plan{
		Complexity:      Medium,
		Delegate:        ImplementationAgent,
		Model:           r.cfg.DefaultModel,
		EnableThinking:  r.cfg.DefaultThinking,
		EnableWebSearch: true,
		MaxTokens:       MediumBudget,
		Reason:          "automatic routing disabled, using default configuration",
		Confidence:      1,
	}
}

func (r *Router) fromVerdict(v verdict, vision bool) Plan {
	complexity := v.Complexity
	if !complexity.valid() {
		complexity = Medium
	}
	delegate := v.SubAgent
	if !delegate.valid() {
		delegate = DelegateFor(complexity)
	}
	confidence := 0.7
	if v.Confidence != nil {
		confidence = min(max(*v.Confidence, 0), 1)
	}
	reason := v.Reason
	if reason == "" {
		reason = "classifier verdict"
	}
	needsVision := (v.RequiresVision && r.cfg.Vision) || vision
	return r.plan(complexity, delegate, needsVision, reason, confidence)
}

// Heuristic is the deterministic fallback classifier.
func (r *Router) Heuristic(message string, chatCtx types.ChatContext) Plan {
	return r.heuristic(message, r.cfg.Vision && HasVisualInputs(message, chatCtx))
}

func (r *Router) heuristic(message string, vision bool) Plan {
	n := len([]rune(message))
	switch {
	case planningIntent.MatchString(message) || n > 500:
		return r.plan(Hard, PlanningAgent, vision, "heuristic: complex planning task", 0.62)
	case codeIntent.MatchString(message) || n > 120:
		return r.plan(Medium, ImplementationAgent, vision, "heuristic: implementation task", 0.58)
	default:
		return r.plan(Simple, QuickResponder, vision, "heuristic: simple question", 0.55)
	}
}

func (r *Router) plan(c Complexity, d Delegate, vision bool, reason string, confidence float64) Plan {
	model := r.cfg.Models.For(c, DefaultModels())
	if vision {
		model = r.cfg.VisionModels.For(c, DefaultVisionModels())
	}
	return Plan{
		Complexity:      c,
		Delegate:        d,
		Model:           model,
		RequiresVision:  vision,
		EnableThinking:  c != Simple,
		EnableWebSearch: c != Simple,
		MaxTokens:       BudgetFor(c),
		Reason:          reason,
		Confidence:      confidence,
	}
}

// Escalate derives the strongest plan from p: the hard model (or hard vision
// model), thinking and search on, and at least the hard budget.
func (r *Router) Escalate(p Plan) Plan {
	p.Complexity = Hard
	p.Model = r.cfg.Models.For(Hard, DefaultModels())
	if p.RequiresVision {
		p.Model = r.cfg.VisionModels.For(Hard, DefaultVisionModels())
	}
	p.EnableThinking = true
	p.EnableWebSearch = true
	p.MaxTokens = max(p.MaxTokens, HardBudget)
	p.Reason = "escalated: " + p.Reason
	return p
}

// HasVisualInputs reports whether the request carries images, video, or
// documents, either as attached files or by textual cue.
func HasVisualInputs(message string, chatCtx types.ChatContext) bool {
	for _, f := range chatCtx.Files {
		if f.Language == "binary" || visualExtension.MatchString(strings.TrimSpace(f.Path)) {
			return true
		}
	}
	return visualIntent.MatchString(message)
}
