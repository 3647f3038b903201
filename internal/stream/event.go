// Package stream decodes the provider's server-sent event stream into typed
// events.
package stream

import "aicore/internal/types"

// Event is one item of a streamed response. The set of variants is closed;
// consumers switch over the concrete types below.
type Event interface {
	isEvent()
}

// Thinking carries reasoning text. Start marks the phase-start marker that
// precedes the first reasoning delta of a response.
type Thinking struct {
	Text  string
	Start bool
}

// Content carries answer text.
type Content struct {
	Text string
}

// ToolCall is a function call requested by the model.
type ToolCall struct {
	Call types.ToolCall
}

// ToolResult reports the outcome of an executed tool call.
type ToolResult struct {
	ID      string
	Output  string
	Success bool
}

// WebSearch reports search progress or results.
type WebSearch struct {
	Summary string
	Results []types.WebSearchResult
}

// Truncated signals that the provider stopped early.
type Truncated struct {
	Reason string
}

// Notice is a user-visible status line that is not part of the answer, such
// as a continuation marker. Warning is set when generation was cut short.
type Notice struct {
	Text    string
	Warning bool
}

// Done marks normal completion.
type Done struct{}

// Error is terminal; nothing follows it.
type Error struct {
	Message string
}

func (Thinking) isEvent()   {}
func (Content) isEvent()    {}
func (ToolCall) isEvent()   {}
func (ToolResult) isEvent() {}
func (WebSearch) isEvent()  {}
func (Truncated) isEvent()  {}
func (Notice) isEvent()     {}
func (Done) isEvent()       {}
func (Error) isEvent()      {}

// Text markers emitted around reasoning output.
const (
	ThinkingMarker    = "Thinking...\n"
	ThinkingSeparator = "\n\n---\n\n"
	SearchingMarker   = "Searching the web..."
)

// Usage is the provider's token accounting for one response.
type Usage struct {
	PromptTokens        int                  `json:"prompt_tokens"`
	CompletionTokens    int                  `json:"completion_tokens"`
	TotalTokens         int                  `json:"total_tokens"`
	PromptTokensDetails *PromptTokensDetails `json:"prompt_tokens_details,omitempty"`
}

// PromptTokensDetails carries cache accounting.
type PromptTokensDetails struct {
	CachedTokens int `json:"cached_tokens"`
}

// CachedTokens returns the number of prompt tokens served from cache.
func (u Usage) CachedTokens() int {
	if u.PromptTokensDetails == nil {
		return 0
	}
	return u.PromptTokensDetails.CachedTokens
}

// Collect drains events and returns the concatenated content, or the first
// error message.
func Collect(events <-chan Event) (string, error) {
	var content []byte
	var failure error
	for ev := range events {
		switch e := ev.(type) {
		case Content:
			content = append(content, e.Text...)
		case Error:
			if failure == nil {
				failure = &StreamError{Message: e.Message}
			}
		case Thinking, ToolCall, ToolResult, WebSearch, Truncated, Notice, Done:
		}
	}
	return string(content), failure
}

// StreamError wraps an Error event as a Go error.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string { return e.Message }
