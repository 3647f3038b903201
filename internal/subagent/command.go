package subagent

import (
	"regexp"
	"strings"
)

// CommandKind distinguishes invoking a profile from resuming a run.
type CommandKind int

const (
	Invoke CommandKind = iota + 1
	Resume
)

func (k CommandKind) String() string {
	switch k {
	case Invoke:
		return "invoke"
	case Resume:
		return "resume"
	}
	return "unknown"
}

// Command is an explicit subagent request typed by the user.
type Command struct {
	Kind  CommandKind
	Name  string // profile name, for Invoke
	RunID string // run id, for Resume
	Task  string
}

var (
	slashResume = regexp.MustCompile(`(?is)^/resume\s+([a-zA-Z0-9_-]+)\s*(.*)$`)
	textResume  = regexp.MustCompile(`(?is)^resume agent\s+([a-zA-Z0-9_-]+)\s*(.*)$`)
	slashInvoke = regexp.MustCompile(`(?is)^/([a-z0-9-]+)\s*(.*)$`)
)

// ParseCommand recognizes "/name task", "/resume id task", and
// "resume agent id task". Anything else is not a command.
func ParseCommand(text string) (Command, bool) {
	msg := strings.TrimSpace(text)
	if msg == "" {
		return Command{}, false
	}
	if m := slashResume.FindStringSubmatch(msg); m != nil {
		return Command{Kind: Resume, RunID: m[1], Task: strings.TrimSpace(m[2])}, true
	}
	if m := textResume.FindStringSubmatch(msg); m != nil {
		return Command{Kind: Resume, RunID: m[1], Task: strings.TrimSpace(m[2])}, true
	}
	if m := slashInvoke.FindStringSubmatch(msg); m != nil {
		return Command{Kind: Invoke, Name: strings.ToLower(m[1]), Task: strings.TrimSpace(m[2])}, true
	}
	return Command{}, false
}
