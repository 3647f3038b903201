package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrFormat marks model output that could not be parsed into the expected
// structure. It is retried like a transport failure.
var ErrFormat = errors.New("response format error")

// Category is the error taxonomy used when deciding how a failure surfaces.
type Category string

const (
	CategoryTransport Category = "transport"
	CategoryFormat    Category = "format"
	CategoryConfig    Category = "config"
	CategoryCancelled Category = "cancelled"
	CategoryUnknown   Category = "unknown"
)

var transportHints = []string{
	"network", "Failed to fetch", "timeout", "connection", "EOF",
	"401", "403", "429", "500", "502", "503",
}

// Classify sorts err into a Category. Permanent errors are configuration
// problems; everything else is judged by sentinel, then by message.
func Classify(err error) Category {
	switch {
	case err == nil:
		return CategoryUnknown
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CategoryCancelled
	case errors.Is(err, ErrFormat):
		return CategoryFormat
	case isPermanent(err):
		return CategoryConfig
	}

	msg := err.Error()
	if strings.Contains(msg, "SyntaxError") || strings.Contains(msg, "JSON") || strings.Contains(msg, "json") {
		return CategoryFormat
	}
	for _, hint := range transportHints {
		if strings.Contains(msg, hint) {
			return CategoryTransport
		}
	}
	return CategoryUnknown
}

// friendlyMessages is matched in order; the first substring found wins.
var friendlyMessages = []struct {
	substr  string
	message string
}{
	{"SyntaxError", "The response format was off, retrying..."},
	{"JSON", "The response format was off, retrying..."},
	{ErrFormat.Error(), "The response format was off, retrying..."},
	{"network", "Network connection is unstable, retrying..."},
	{"Failed to fetch", "Could not reach the server, retrying..."},
	{"timeout", "The request timed out, retrying..."},
	{"deadline exceeded", "The request timed out, retrying..."},
	{"abort", "The request was cancelled."},
	{"context canceled", "The request was cancelled."},
	{"401", "The API key is invalid or has expired."},
	{"403", "Access denied. Check your API permissions."},
	{"429", "Too many requests, waiting before retrying..."},
	{"500", "The server hit an internal error, retrying..."},
	{"502", "The server gateway failed, retrying..."},
	{"503", "The service is temporarily unavailable, retrying..."},
}

const defaultFriendlyMessage = "The task hit a problem, retrying..."

// FriendlyMessage returns a short sentence describing err for end users. It
// is advisory text only.
func FriendlyMessage(err error) string {
	if err == nil {
		return defaultFriendlyMessage
	}
	msg := err.Error()
	for _, fm := range friendlyMessages {
		if strings.Contains(msg, fm.substr) {
			return fm.message
		}
	}
	return defaultFriendlyMessage
}

// FinalMessage is FriendlyMessage for a failure that will not be retried
// again. The retry hint is replaced by the number of retries spent.
func FinalMessage(err error, retries int) string {
	msg := FriendlyMessage(err)
	for _, suffix := range []string{", waiting before retrying...", ", retrying..."} {
		if strings.HasSuffix(msg, suffix) {
			msg = strings.TrimSuffix(msg, suffix)
			break
		}
	}
	msg = strings.TrimSuffix(msg, ".")
	if retries <= 0 {
		return msg + "."
	}
	noun := "retries"
	if retries == 1 {
		noun = "retry"
	}
	return fmt.Sprintf("%s (gave up after %d %s).", msg, retries, noun)
}
