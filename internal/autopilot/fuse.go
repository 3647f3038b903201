package autopilot

import (
	"strings"
	"sync"

	"aicore/internal/logging"
	"aicore/internal/types"
)

// FuseThreshold is the number of unproductive nudges that trips the fuse.
const FuseThreshold = 2

// Signal is what a classifier reads from one user message.
type Signal struct {
	Nudge    bool // asks to continue executing
	Takeover bool // asks for immediate execution, e.g. reports a failure
	Stuck    bool // says the conversation is looping
}

// Classifier reads intent signals from a user message.
type Classifier interface {
	Classify(message string) Signal
}

// KeywordClassifier matches case-insensitive keywords. Latin keywords must
// stand as whole words, so "fix" does not fire on "prefix"; CJK keywords
// match anywhere since the script has no word separators.
type KeywordClassifier struct {
	Nudge    []string
	Takeover []string
	Stuck    []string
}

// DefaultClassifier recognizes English and Chinese phrasing.
func DefaultClassifier() KeywordClassifier {
	return KeywordClassifier{
		Nudge: []string{
			"继续", "继续执行", "往下执行", "自动往下", "直接执行", "不要问",
			"continue", "keep going", "go on", "execute all", "auto execute",
		},
		Takeover: []string{
			"运行", "启动", "报错", "错误", "修复", "卡住", "失败",
			"run", "start", "dev", "npm", "error", "errors", "fix", "failed", "fails", "broken",
		},
		Stuck: []string{"循环", "卡住", "反复", "拉扯", "愚蠢", "stuck", "loop", "repeat"},
	}
}

// Classify implements Classifier.
func (k KeywordClassifier) Classify(message string) Signal {
	text := strings.ToLower(message)
	return Signal{
		Nudge:    containsAny(text, k.Nudge),
		Takeover: containsAny(text, k.Takeover),
		Stuck:    containsAny(text, k.Stuck),
	}
}

func containsAny(text string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && containsWord(text, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// containsWord reports whether word occurs in text without an ASCII letter,
// digit or underscore directly on either side.
func containsWord(text, word string) bool {
	for from := 0; from < len(text); {
		i := strings.Index(text[from:], word)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(word)
		if (start == 0 || !isWordByte(text[start-1])) && (end == len(text) || !isWordByte(text[end])) {
			return true
		}
		from = start + 1
	}
	return false
}

func isWordByte(c byte) bool {
	return c == '_' || ('0' <= c && c <= '9') || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

// Verdict is the fuse's decision for one message.
type Verdict struct {
	Signal
	NudgeCount int
	Triggered  bool // NudgeCount reached the threshold
}

// Execute reports whether the message asks the autopilot to take over.
func (v Verdict) Execute() bool { return v.Nudge || v.Takeover }

// ForceStrongest reports whether the batch must run on the strongest model.
func (v Verdict) ForceStrongest() bool { return v.Triggered || v.Stuck || v.Takeover }

type fuseState struct {
	nudges    int
	pending   int
	completed int
}

// Fuse counts, per conversation key, consecutive nudges that produced no
// task progress. Progress is more completed tasks or fewer open ones since
// the previous evaluation; a progressing turn resets the count to zero.
type Fuse struct {
	mu         sync.Mutex
	classifier Classifier
	state      map[string]fuseState
}

// NewFuse creates a fuse. A nil classifier uses DefaultClassifier.
func NewFuse(c Classifier) *Fuse {
	if c == nil {
		c = DefaultClassifier()
	}
	return &Fuse{classifier: c, state: make(map[string]fuseState)}
}

// Evaluate classifies message and updates the count for key against the
// current task list.
func (f *Fuse) Evaluate(key, message string, tasks []types.Task) Verdict {
	pending, completed := 0, 0
	for _, t := range tasks {
		switch {
		case t.Open():
			pending++
		case t.Status == types.TaskCompleted:
			completed++
		}
	}
	sig := f.classifier.Classify(message)

	f.mu.Lock()
	defer f.mu.Unlock()

	prev, seen := f.state[key]
	if !seen {
		prev = fuseState{pending: pending, completed: completed}
	}
	progressed := completed > prev.completed || pending < prev.pending

	count := prev.nudges
	switch {
	case progressed:
		count = 0
	case sig.Nudge:
		count++
	}
	f.state[key] = fuseState{nudges: count, pending: pending, completed: completed}

	v := Verdict{Signal: sig, NudgeCount: count, Triggered: count >= FuseThreshold}
	if v.Triggered {
		logging.AutopilotWarn("fuse tripped for %s after %d nudges without progress", key, count)
	} else if sig.Nudge {
		logging.AutopilotDebug("fuse nudge=%d for %s, waiting for the next confirmation", count, key)
	}
	return v
}

// Reset forgets key.
func (f *Fuse) Reset(key string) {
	f.mu.Lock()
	delete(f.state, key)
	f.mu.Unlock()
}

// Count returns the current nudge count for key.
func (f *Fuse) Count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state[key].nudges
}
