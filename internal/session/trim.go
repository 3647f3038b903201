package session

import (
	"unicode/utf8"

	"aicore/internal/types"
)

// Limits bound a session's history.
type Limits struct {
	MaxMessages int // total messages, system included
	MaxTokens   int // estimated tokens
	MinKept     int // non-system messages the token pass never goes below
}

// DefaultLimits returns the standard history bounds.
func DefaultLimits() Limits {
	return Limits{MaxMessages: 50, MaxTokens: 100000, MinKept: 2}
}

// EstimateTokens approximates the token count of msgs at three characters
// per token, rounded up.
func EstimateTokens(msgs []types.Message) int {
	chars := 0
	for _, m := range msgs {
		chars += utf8.RuneCountInString(m.Content)
	}
	return tokensFor(chars)
}

func tokensFor(chars int) int { return (chars + 2) / 3 }

// Trim evicts the oldest non-system messages until msgs fits the limits.
// System messages are never evicted and relative order is preserved, so
// trimming an already trimmed history changes nothing.
func Trim(msgs []types.Message, l Limits) []types.Message {
	var nonSystem []int
	chars := 0
	for i, m := range msgs {
		if m.Role != types.RoleSystem {
			nonSystem = append(nonSystem, i)
		}
		chars += utf8.RuneCountInString(m.Content)
	}

	drop := 0
	if l.MaxMessages > 0 && len(msgs) > l.MaxMessages {
		drop = min(len(msgs)-l.MaxMessages, len(nonSystem))
	}
	for _, i := range nonSystem[:drop] {
		chars -= utf8.RuneCountInString(msgs[i].Content)
	}

	if l.MaxTokens > 0 {
		for len(nonSystem)-drop > l.MinKept && tokensFor(chars) > l.MaxTokens {
			chars -= utf8.RuneCountInString(msgs[nonSystem[drop]].Content)
			drop++
		}
	}

	if drop == 0 {
		return msgs
	}
	cut := make(map[int]bool, drop)
	for _, i := range nonSystem[:drop] {
		cut[i] = true
	}
	out := make([]types.Message, 0, len(msgs)-drop)
	for i, m := range msgs {
		if !cut[i] {
			out = append(out, m)
		}
	}
	return out
}
