package gateway

import (
	"fmt"
	"path"
	"strings"

	"aicore/internal/types"
)

const (
	specModePrompt = `You are a specification-driven programming assistant working in Spec mode.

## How you work
Guide the user through these phases:

### Phase 1: Understand the requirement
- Identify the core need and clarify anything ambiguous

### Phase 2: User stories
Break the requirement into user stories, each with:
- Title and description (As a... I want... So that...)
- Acceptance criteria (at least three)
- Priority (high/medium/low)

### Phase 3: Technical design
- Architecture overview
- Component design
- Data flow
- Test strategy

### Phase 4: Task breakdown
Turn the stories and design into an executable task list

### Phase 5: Execution
Execute tasks one at a time and report progress after each

Answer in structured Markdown.

`

	agentModePrompt = `You are a fast, iterative programming assistant working in Vibe mode.

## Style
- Respond quickly and work while you talk
- Give solutions and code directly
- Improve iteratively based on feedback

## Tools
- Read and analyze files (read_file)
- Create and modify files (write_file), which the user confirms

## Important
- Do not claim you cannot open links; search results are provided when available
- Stay concise

`

	chatModePrompt = "You are a professional programming assistant who excels at code analysis and technical explanation.\n\n"
)

// BuildSystemPrompt returns the system prompt for a conversation: a persona
// chosen by mode, the attached files, and any web search results.
func BuildSystemPrompt(chatCtx types.ChatContext, agent bool, mode types.ChatMode) string {
	var b strings.Builder
	switch {
	case mode == types.ChatModeSpec:
		b.WriteString(specModePrompt)
	case agent:
		b.WriteString(agentModePrompt)
	default:
		b.WriteString(chatModePrompt)
	}

	if len(chatCtx.Files) > 0 {
		b.WriteString("## Code context provided by the user\n\n")
		for _, f := range chatCtx.Files {
			name := path.Base(strings.ReplaceAll(f.Path, "\\", "/"))
			if f.LineRange != "" {
				name += ":" + f.LineRange
			}
			fmt.Fprintf(&b, "### %s\n\n```%s\n%s\n```\n\n", name, f.Language, f.Content)
		}
	}

	b.WriteString(SearchResultsSection(chatCtx.WebSearchResults))
	return b.String()
}

// SearchResultsSection renders search results for inclusion in a system
// prompt. It returns "" when there are none.
func SearchResultsSection(results []types.WebSearchResult) string {
	if len(results) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Web search results\n\n")
	b.WriteString("The material below was retrieved for you; you do not need to open these links. Answer from it and cite the sources you use.\n\n")
	for _, r := range results {
		fmt.Fprintf(&b, "### %s\n- Link: %s\n", r.Title, r.Link)
		if r.Media != "" {
			fmt.Fprintf(&b, "- Source: %s\n", r.Media)
		}
		if r.Content != "" {
			fmt.Fprintf(&b, "- Summary: %s\n", r.Content)
		}
		b.WriteString("\n")
	}
	b.WriteString("Combine these results with your own knowledge to give a complete answer.\n\n")
	return b.String()
}

// InjectSearchResults returns msgs with the results appended to the first
// system message, or with a new leading system message when there is none.
// The system entry is modified in place, so callers pass a private copy.
func InjectSearchResults(msgs []types.Message, results []types.WebSearchResult) []types.Message {
	section := SearchResultsSection(results)
	if section == "" {
		return msgs
	}
	for i := range msgs {
		if msgs[i].Role == types.RoleSystem {
			content := msgs[i].Content
			if content != "" && !strings.HasSuffix(content, "\n") {
				content += "\n\n"
			}
			msgs[i].Content = content + section
			return msgs
		}
	}
	return append([]types.Message{types.SystemMessage(section)}, msgs...)
}
