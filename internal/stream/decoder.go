package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"aicore/internal/logging"
	"aicore/internal/types"
)

const doneSentinel = "[DONE]"

// chunk is one SSE payload of a streamed chat completion.
type chunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
			ToolCalls        []struct {
				ID       string `json:"id"`
				Type     string `json:"type"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Decode reads "data: <json>" lines from body and emits events on the
// returned channel, which is closed when the stream ends. onUsage, if non-nil,
// receives every usage record the provider reports.
//
// Cancelling ctx closes body; no further events are emitted and no Error is
// reported for the cancellation. Callers that stop reading early must cancel
// ctx.
func Decode(ctx context.Context, body io.ReadCloser, onUsage func(Usage)) <-chan Event {
	out := make(chan Event, 64)
	go func() {
		defer close(out)
		defer body.Close()
		stop := context.AfterFunc(ctx, func() { body.Close() })
		defer stop()

		d := &decoder{ctx: ctx, out: out, onUsage: onUsage}
		d.run(bufio.NewReader(body))
	}()
	return out
}

type decoder struct {
	ctx        context.Context
	out        chan<- Event
	onUsage    func(Usage)
	inThinking bool
	stopped    bool
}

func (d *decoder) run(r *bufio.Reader) {
	for !d.stopped {
		line, err := r.ReadString('\n')
		if line != "" {
			d.handleLine(line)
		}
		if d.stopped {
			return
		}
		if err != nil {
			if d.ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				d.emit(Done{})
				return
			}
			d.emit(Error{Message: "stream read failed: " + err.Error()})
			return
		}
	}
}

func (d *decoder) handleLine(line string) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "data:") {
		return
	}
	data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if data == doneSentinel {
		d.emit(Done{})
		d.stopped = true
		return
	}

	var c chunk
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		logging.StreamDebug("skipping malformed chunk: %v", err)
		return
	}

	if c.Error != nil {
		d.emit(Error{Message: "API error: " + c.Error.Message})
		d.stopped = true
		return
	}
	if c.Usage != nil && d.onUsage != nil {
		d.onUsage(*c.Usage)
	}
	if len(c.Choices) == 0 {
		return
	}

	choice := c.Choices[0]
	delta := choice.Delta

	if delta.ReasoningContent != "" {
		if !d.inThinking {
			d.inThinking = true
			d.emit(Thinking{Text: ThinkingMarker, Start: true})
		}
		d.emit(Thinking{Text: delta.ReasoningContent})
	}

	for _, tc := range delta.ToolCalls {
		if tc.Type == "web_browser" || tc.Type == "web_search" {
			d.emit(WebSearch{Summary: SearchingMarker})
			continue
		}
		d.emit(ToolCall{Call: types.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: types.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		}})
	}

	if delta.Content != "" {
		if d.inThinking {
			d.inThinking = false
			d.emit(Content{Text: ThinkingSeparator})
		}
		d.emit(Content{Text: delta.Content})
	}

	if choice.FinishReason == "length" {
		logging.StreamWarn("response truncated by token limit")
		d.emit(Truncated{Reason: "length"})
	}
}

// emit delivers ev unless the context is done, in which case decoding stops.
func (d *decoder) emit(ev Event) {
	if d.stopped {
		return
	}
	if d.ctx.Err() != nil {
		d.stopped = true
		return
	}
	select {
	case d.out <- ev:
	case <-d.ctx.Done():
		d.stopped = true
	}
}
