// Package extract recovers structured data from free-form model output.
package extract

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNotFound is returned when no strategy yields valid JSON.
var ErrNotFound = errors.New("no structured data found")

var fencedBlock = regexp.MustCompile("(?s)```(?:json|JSON)?[ \\t]*\\r?\\n?(.*?)```")

// Find returns the first valid JSON document recoverable from text.
// Strategies run in order and the first success wins: the whole text, then
// each balanced object/array span in position order (as is, then repaired),
// and finally the contents of a fenced code block.
func Find(text string) (json.RawMessage, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, false
	}

	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed), true
	}

	// Each span is repaired before a later one is tried, so a valid array
	// nested in a broken object never wins over the object.
	for _, span := range candidateSpans(trimmed) {
		if json.Valid([]byte(span)) {
			return json.RawMessage(span), true
		}
		if fixed := Repair(span); json.Valid([]byte(fixed)) {
			return json.RawMessage(fixed), true
		}
	}

	if m := fencedBlock.FindStringSubmatch(trimmed); m != nil {
		inner := strings.TrimSpace(m[1])
		if json.Valid([]byte(inner)) {
			return json.RawMessage(inner), true
		}
		if fixed := Repair(inner); json.Valid([]byte(fixed)) {
			return json.RawMessage(fixed), true
		}
	}

	return nil, false
}

// Value returns the recovered JSON as a generic value.
func Value(text string) (any, bool) {
	raw, ok := Find(text)
	if !ok {
		return nil, false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return v, true
}

// Decode recovers JSON from text and unmarshals it into v.
func Decode(text string, v any) error {
	raw, ok := Find(text)
	if !ok {
		return ErrNotFound
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Join(ErrNotFound, err)
	}
	return nil
}

// Object is like Find but only accepts a JSON object.
func Object(text string) (json.RawMessage, bool) {
	raw, ok := Find(text)
	if ok && len(raw) > 0 && raw[0] == '{' {
		return raw, true
	}
	for _, span := range candidateSpans(strings.TrimSpace(text)) {
		if !strings.HasPrefix(span, "{") {
			continue
		}
		if json.Valid([]byte(span)) {
			return json.RawMessage(span), true
		}
		if fixed := Repair(span); json.Valid([]byte(fixed)) {
			return json.RawMessage(fixed), true
		}
	}
	return nil, false
}

// candidateSpans locates the first object span and the first array span,
// ordered by position in text.
func candidateSpans(text string) []string {
	var spans []string
	obj, objAt := span(text, '{', '}')
	arr, arrAt := span(text, '[', ']')
	switch {
	case objAt >= 0 && (arrAt < 0 || objAt <= arrAt):
		spans = append(spans, obj)
		if arrAt >= 0 {
			spans = append(spans, arr)
		}
	case arrAt >= 0:
		spans = append(spans, arr)
		if objAt >= 0 {
			spans = append(spans, obj)
		}
	}

	// Greedy spans catch brackets hidden inside single-quoted strings,
	// which the balanced scan does not understand.
	for _, delims := range [][2]byte{{'{', '}'}, {'[', ']'}} {
		start := strings.IndexByte(text, delims[0])
		end := strings.LastIndexByte(text, delims[1])
		if start < 0 || end <= start {
			continue
		}
		greedy := text[start : end+1]
		seen := false
		for _, s := range spans {
			if s == greedy {
				seen = true
				break
			}
		}
		if !seen {
			spans = append(spans, greedy)
		}
	}
	return spans
}

// span returns the text from the first open delimiter to its matching close,
// skipping delimiters inside double-quoted strings. When the brackets never
// balance it falls back to the last close delimiter in text.
func span(text string, open, close byte) (string, int) {
	start := strings.IndexByte(text, open)
	if start < 0 {
		return "", -1
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[start : i+1], start
			}
		}
	}

	end := strings.LastIndexByte(text, close)
	if end <= start {
		return "", -1
	}
	return text[start : end+1], start
}
