// Package subagent runs named, independently prompted sub-conversations.
// Profiles live as Markdown files with YAML front matter in the workspace;
// each run keeps its own history, separate from the main session.
package subagent

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"aicore/internal/logging"
)

// InheritModel in a profile means "use the caller's model".
const InheritModel = "inherit"

// Profile is one subagent definition.
type Profile struct {
	Name        string
	Description string
	Model       string
	ReadOnly    bool
	Background  bool
	Prompt      string
	Path        string
}

type frontMatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Model       string `yaml:"model"`
	ReadOnly    bool   `yaml:"readonly"`
	Background  bool   `yaml:"is_background"`
}

var fenceLine = []byte("---")

// ParseProfile reads a profile file. It reports false when the front matter
// is missing, unparsable, or has no name.
func ParseProfile(content []byte) (Profile, bool) {
	content = bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	first, rest, ok := bytes.Cut(content, []byte("\n"))
	if !ok || !bytes.Equal(bytes.TrimSpace(first), fenceLine) {
		return Profile{}, false
	}

	var header []byte
	var body []byte
	found := false
	for len(rest) > 0 {
		var line []byte
		line, rest, _ = bytes.Cut(rest, []byte("\n"))
		if bytes.Equal(bytes.TrimSpace(line), fenceLine) {
			body = rest
			found = true
			break
		}
		header = append(header, line...)
		header = append(header, '\n')
	}
	if !found {
		return Profile{}, false
	}

	var fm frontMatter
	if err := yaml.Unmarshal(header, &fm); err != nil {
		return Profile{}, false
	}
	name := strings.ToLower(strings.TrimSpace(fm.Name))
	if name == "" {
		return Profile{}, false
	}

	p := Profile{
		Name:        name,
		Description: strings.TrimSpace(fm.Description),
		Model:       strings.TrimSpace(fm.Model),
		ReadOnly:    fm.ReadOnly,
		Background:  fm.Background,
		Prompt:      strings.TrimSpace(string(body)),
	}
	if p.Description == "" {
		p.Description = "No description provided."
	}
	if p.Model == "" {
		p.Model = InheritModel
	}
	return p, true
}

// Render formats p as a profile file.
func (p Profile) Render() ([]byte, error) {
	header, err := yaml.Marshal(frontMatter{
		Name:        p.Name,
		Description: p.Description,
		Model:       p.Model,
		ReadOnly:    p.ReadOnly,
		Background:  p.Background,
	})
	if err != nil {
		return nil, fmt.Errorf("encode front matter for %s: %w", p.Name, err)
	}
	var b bytes.Buffer
	b.WriteString("---\n")
	b.Write(header)
	b.WriteString("---\n\n")
	b.WriteString(strings.TrimSpace(p.Prompt))
	b.WriteString("\n")
	return b.Bytes(), nil
}

// SystemPrompt describes the profile to the model.
func (p Profile) SystemPrompt() string {
	constraint := "You may propose implementation changes, but prefer the smallest change that works."
	if p.ReadOnly {
		constraint = "This subagent is read-only: do not write files or suggest destructive commands."
	}
	return strings.Join([]string{
		"You are a subagent delegated by the main agent.",
		"Subagent name: " + p.Name,
		"Responsibility: " + p.Description,
		"Follow this responsibility strictly and return structured, directly reusable results.",
		constraint,
		"",
		p.Prompt,
	}, "\n")
}

// loadProfiles reads every *.md file under dir. Unreadable or unparsable
// files are skipped with a warning. A missing directory yields no profiles.
func loadProfiles(dir string) (map[string]Profile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Profile{}, nil
		}
		return nil, fmt.Errorf("read profile directory: %w", err)
	}

	profiles := make(map[string]Profile, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".md") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			logging.SubagentWarn("failed loading subagent %s: %v", e.Name(), err)
			continue
		}
		p, ok := ParseProfile(data)
		if !ok {
			logging.SubagentWarn("skipping %s: missing or invalid front matter", e.Name())
			continue
		}
		p.Path = path
		profiles[p.Name] = p
	}
	return profiles, nil
}

// DefaultProfiles are written to an empty profile directory.
func DefaultProfiles() []Profile {
	return []Profile{
		{
			Name:        "quick-responder",
			Description: "Fast responder for simple questions, short tasks, and low-complexity requests. Use proactively.",
			Model:       InheritModel,
			ReadOnly:    true,
			Prompt: `You are the quick-responder subagent.
Goal: finish simple tasks quickly, accurately, and concisely.

Rules:
1. Give the direct answer first; do not over-elaborate.
2. If information is missing, list the minimal assumptions, then answer.
3. Structure: conclusion, key evidence, next step.`,
		},
		{
			Name:        "implementation-agent",
			Description: "Implementation subagent for writing code, refactoring, fixes, and engineering changes. Use proactively.",
			Model:       InheritModel,
			Prompt: `You are the implementation-agent subagent.
Goal: complete implementation tasks without compromising quality.

Rules:
1. Start with the change plan and its impact.
2. Prefer minimal, compatible changes.
3. Output implementation steps, key changes, verification advice, and risks.`,
		},
		{
			Name:        "planning-agent",
			Description: "Planning subagent for complex requirements, architecture decisions, task breakdown, and milestones. Use proactively.",
			Model:       InheritModel,
			ReadOnly:    true,
			Prompt: `You are the planning-agent subagent.
Goal: produce an actionable, high-quality plan.

Rules:
1. Define goals, constraints, and acceptance criteria first.
2. Offer two or three options with their trade-offs.
3. Output a phased plan, a risk list, and a rollback strategy.`,
		},
	}
}
