package gateway

import (
	"context"
	"strings"

	"aicore/internal/logging"
	"aicore/internal/stream"
	"aicore/internal/types"
)

// DefaultMaxContinuations bounds automatic re-requests after a length cutoff.
const DefaultMaxContinuations = 3

const (
	// ContinuePrompt is the synthetic user turn that asks for more output.
	ContinuePrompt = "Please continue your answer from where you stopped."

	// ContinuationMarker separates continued segments in the visible output.
	ContinuationMarker = "\n\n*[continuing...]*\n\n"

	// ContinuationLimitWarning ends a response that was still truncated after
	// the last allowed continuation.
	ContinuationLimitWarning = "\n\nThe response is too long and reached the continuation limit."
)

// StreamChatWithContinuation wraps StreamChat and re-issues the request when
// the provider stops at its length limit. Each truncated segment is appended
// as an assistant turn followed by ContinuePrompt. At most maxContinuations+1
// requests are made; if the last one is still truncated the stream ends with
// a warning Notice instead of Done.
//
// Truncated events are consumed here and never forwarded. Web search runs at
// most once, on the first request; its results are carried into the
// continued requests.
func (c *Client) StreamChatWithContinuation(ctx context.Context, messages []types.Message, chatCtx types.ChatContext, opts Options, maxContinuations int) <-chan stream.Event {
	if maxContinuations < 0 {
		maxContinuations = 0
	}
	out := make(chan stream.Event, 64)

	go func() {
		defer close(out)

		current := types.CloneMessages(messages)
		cc := chatCtx.Clone()

		for call := 0; ; call++ {
			truncated, ok := c.forwardSegment(ctx, &current, &cc, opts, out)
			if !ok || !truncated {
				return
			}

			if call >= maxContinuations {
				logging.StreamWarn("still truncated after %d continuations, giving up", maxContinuations)
				send(ctx, out, stream.Notice{Text: ContinuationLimitWarning, Warning: true})
				return
			}

			logging.StreamInfo("continuation %d/%d", call+1, maxContinuations)
			if !send(ctx, out, stream.Notice{Text: ContinuationMarker}) {
				return
			}
			opts.EnableWebSearch = false
		}
	}()
	return out
}

// forwardSegment runs one request, forwarding its events. It reports whether
// the segment was truncated and whether the stream may continue (no error,
// no cancellation). On truncation the segment's answer text, if any, is
// appended to current.
func (c *Client) forwardSegment(ctx context.Context, current *[]types.Message, cc *types.ChatContext, opts Options, out chan<- stream.Event) (truncated bool, ok bool) {
	var segment strings.Builder
	failed := false

	events := c.StreamChat(ctx, *current, *cc, opts)
	for ev := range events {
		switch e := ev.(type) {
		case stream.Content:
			segment.WriteString(e.Text)
		case stream.Truncated:
			truncated = true
			continue
		case stream.Done:
			if truncated {
				continue
			}
		case stream.Error:
			failed = true
		case stream.WebSearch:
			if len(e.Results) > 0 && len(cc.WebSearchResults) == 0 {
				cc.WebSearchResults = e.Results
				*current = InjectSearchResults(*current, e.Results)
			}
		case stream.Thinking, stream.ToolCall, stream.ToolResult, stream.Notice:
		}

		if !send(ctx, out, ev) {
			for range events {
			}
			return truncated, false
		}
	}

	if failed || ctx.Err() != nil {
		return truncated, false
	}
	if truncated {
		// A segment cut off while still thinking has no answer text to replay.
		if text := strings.TrimPrefix(segment.String(), stream.ThinkingSeparator); strings.TrimSpace(text) != "" {
			*current = append(*current, types.AssistantMessage(text))
		}
		*current = append(*current, types.UserMessage(ContinuePrompt))
	}
	return truncated, true
}
