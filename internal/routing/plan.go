// Package routing classifies a request's difficulty and turns the verdict
// into a model choice, token budget, and delegate profile.
package routing

// Complexity is the difficulty bucket assigned to a request.
type Complexity string

const (
	Simple Complexity = "simple"
	Medium Complexity = "medium"
	Hard   Complexity = "hard"
)

func (c Complexity) valid() bool {
	return c == Simple || c == Medium || c == Hard
}

// Delegate names the kind of subagent suited to a request.
type Delegate string

const (
	QuickResponder      Delegate = "quick_responder"
	ImplementationAgent Delegate = "implementation_agent"
	PlanningAgent       Delegate = "planning_agent"
)

func (d Delegate) valid() bool {
	return d == QuickResponder || d == ImplementationAgent || d == PlanningAgent
}

// DelegateFor is the delegate paired with a complexity when the classifier
// does not name one.
func DelegateFor(c Complexity) Delegate {
	switch c {
	case Simple:
		return QuickResponder
	case Hard:
		return PlanningAgent
	default:
		return ImplementationAgent
	}
}

// Token budgets per complexity.
const (
	SimpleBudget = 8192
	MediumBudget = 16384
	HardBudget   = 32768
)

// BudgetFor maps a complexity to its max-token budget.
func BudgetFor(c Complexity) int {
	switch c {
	case Simple:
		return SimpleBudget
	case Hard:
		return HardBudget
	default:
		return MediumBudget
	}
}

// Plan is the routing decision for one request. It is a value; callers that
// need a different plan derive a new one.
type Plan struct {
	Complexity      Complexity `json:"complexity"`
	Delegate        Delegate   `json:"delegate"`
	Model           string     `json:"model"`
	RequiresVision  bool       `json:"requires_vision"`
	EnableThinking  bool       `json:"enable_thinking"`
	EnableWebSearch bool       `json:"enable_web_search"`
	MaxTokens       int        `json:"max_tokens"`
	Reason          string     `json:"reason"`
	Confidence      float64    `json:"confidence"`
}

// Models assigns a model to each complexity.
type Models struct {
	Simple string `mapstructure:"simple" yaml:"simple"`
	Medium string `mapstructure:"medium" yaml:"medium"`
	Hard   string `mapstructure:"hard" yaml:"hard"`
}

// For returns the model for c, falling back to def for empty entries.
func (m Models) For(c Complexity, def Models) string {
	pick := func(v, d string) string {
		if v != "" {
			return v
		}
		return d
	}
	switch c {
	case Simple:
		return pick(m.Simple, def.Simple)
	case Hard:
		return pick(m.Hard, def.Hard)
	default:
		return pick(m.Medium, def.Medium)
	}
}

// DefaultModels are the text models per complexity.
func DefaultModels() Models {
	return Models{Simple: "glm-4.7-flash", Medium: "glm-4.7", Hard: "glm-5"}
}

// DefaultVisionModels are the vision-capable models per complexity.
func DefaultVisionModels() Models {
	return Models{Simple: "glm-4.6v-flash", Medium: "glm-4.6v-flashx", Hard: "glm-4.6v"}
}

// Config controls routing.
type Config struct {
	Auto            bool   // classify requests; when false only forced routing classifies
	Vision          bool   // allow vision-model upgrades
	DefaultModel    string // model of the fixed plan used when routing is off
	DefaultThinking bool   // thinking flag of the fixed plan
	ClassifierModel string
	Models          Models
	VisionModels    Models
}

// DefaultConfig enables automatic and vision routing.
func DefaultConfig() Config {
	return Config{
		Auto:            true,
		Vision:          true,
		DefaultModel:    "glm-4.7",
		DefaultThinking: true,
		ClassifierModel: "glm-5",
		Models:          DefaultModels(),
		VisionModels:    DefaultVisionModels(),
	}
}
