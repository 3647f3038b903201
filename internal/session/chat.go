package session

import (
	"context"
	"errors"
	"strings"

	"aicore/internal/gateway"
	"aicore/internal/logging"
	"aicore/internal/stream"
	"aicore/internal/types"
)

// ErrNoStreamer is reported when a chat turn is requested from a store built
// without a Streamer.
var ErrNoStreamer = errors.New("session store has no chat streamer")

// StreamChatWithSession runs one conversational turn. It resolves the session
// named by opts.SessionID (or the current one, creating a session when there
// is none), appends the user message, streams a reply over the trimmed
// history, and appends the accumulated reply as one assistant message.
//
// The reply is recorded only when the stream finished without an error or
// cancellation; partial output is never persisted.
func (s *Store) StreamChatWithSession(ctx context.Context, userMessage string, chatCtx types.ChatContext, opts gateway.Options) <-chan stream.Event {
	out := make(chan stream.Event, 64)
	go func() {
		defer close(out)
		if s.streamer == nil {
			send(ctx, out, stream.Error{Message: ErrNoStreamer.Error()})
			return
		}

		id := s.resolve(opts.SessionID, chatCtx)
		if err := s.AddMessage(id, types.UserMessage(userMessage)); err != nil {
			send(ctx, out, stream.Error{Message: err.Error()})
			return
		}
		msgs, err := s.Messages(id)
		if err != nil {
			send(ctx, out, stream.Error{Message: err.Error()})
			return
		}
		logging.SessionDebug("sending chat with %d messages (session %s)", len(msgs), id)

		opts.SessionID = id
		hook := opts.OnUsage
		opts.OnUsage = func(u stream.Usage) {
			s.RecordUsage(id, u)
			if hook != nil {
				hook(u)
			}
		}

		var reply strings.Builder
		failed := false
		events := s.streamer.StreamChatWithContinuation(ctx, msgs, chatCtx, opts, s.maxContinuations)
		for ev := range events {
			switch e := ev.(type) {
			case stream.Content:
				reply.WriteString(e.Text)
			case stream.Error:
				failed = true
			case stream.Thinking, stream.ToolCall, stream.ToolResult, stream.WebSearch, stream.Truncated, stream.Notice, stream.Done:
			}
			if !send(ctx, out, ev) {
				for range events {
				}
				return
			}
		}

		content := strings.TrimPrefix(reply.String(), stream.ThinkingSeparator)
		if failed || ctx.Err() != nil || content == "" {
			return
		}
		if err := s.AddMessage(id, types.AssistantMessage(content)); err != nil {
			logging.SessionWarn("session %s vanished before the reply was recorded: %v", id, err)
			return
		}
		logging.SessionDebug("added assistant reply to session %s (%d chars)", id, len(content))
	}()
	return out
}

// resolve returns the session for a turn, creating one when needed.
func (s *Store) resolve(id string, chatCtx types.ChatContext) string {
	if id != "" {
		if _, ok := s.Session(id); ok {
			return id
		}
		if s.persister != nil {
			if sess, err := s.Load(context.Background(), id); err == nil {
				return sess.ID
			}
		}
		logging.SessionWarn("session %s not found, starting a new one", id)
	} else if cur, ok := s.CurrentSession(); ok {
		return cur.ID
	}

	prompt := ""
	if s.systemPrompt != nil {
		prompt = s.systemPrompt(chatCtx)
	}
	return s.CreateSession(prompt).ID
}

func send(ctx context.Context, out chan<- stream.Event, ev stream.Event) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
