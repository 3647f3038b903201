// Package ui holds the terminal styling for the aicore CLI.
package ui

import (
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// Palette
var (
	Primary     = lipgloss.Color("#8BC34A")
	Accent      = lipgloss.Color("#2196F3")
	Muted       = lipgloss.Color("#6b7280")
	Warning     = lipgloss.Color("#FFC107")
	Destructive = lipgloss.Color("#e53935")
)

// Styles groups the styles used when printing a response stream.
type Styles struct {
	Title    lipgloss.Style
	Prompt   lipgloss.Style
	Thinking lipgloss.Style
	Notice   lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Tool     lipgloss.Style
	Muted    lipgloss.Style
	Label    lipgloss.Style
}

// NewStyles builds the default styles. NO_COLOR disables all coloring.
func NewStyles() Styles {
	if os.Getenv("NO_COLOR") != "" {
		plain := lipgloss.NewStyle()
		return Styles{plain, plain, plain, plain, plain, plain, plain, plain, plain}
	}
	return Styles{
		Title: lipgloss.NewStyle().
			Foreground(Primary).
			Bold(true),

		Prompt: lipgloss.NewStyle().
			Foreground(Accent).
			Bold(true),

		Thinking: lipgloss.NewStyle().
			Foreground(Muted).
			Italic(true),

		Notice: lipgloss.NewStyle().
			Foreground(Accent),

		Warning: lipgloss.NewStyle().
			Foreground(Warning).
			Bold(true),

		Error: lipgloss.NewStyle().
			Foreground(Destructive).
			Bold(true),

		Tool: lipgloss.NewStyle().
			Foreground(Primary).
			PaddingLeft(2),

		Muted: lipgloss.NewStyle().
			Foreground(Muted),

		Label: lipgloss.NewStyle().
			Foreground(Primary).
			Width(18),
	}
}

// Markdown renders an answer for the terminal. Rendering failures fall back
// to the raw text.
type Markdown struct {
	renderer *glamour.TermRenderer
}

// NewMarkdown creates a renderer wrapping at width columns. plain disables
// rendering.
func NewMarkdown(width int, plain bool) *Markdown {
	if plain || os.Getenv("NO_COLOR") != "" {
		return &Markdown{}
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return &Markdown{}
	}
	return &Markdown{renderer: r}
}

// Render returns text ready for printing.
func (m *Markdown) Render(text string) string {
	if m.renderer == nil {
		return text
	}
	out, err := m.renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n") + "\n"
}
