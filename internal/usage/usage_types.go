package usage

import "time"

// UsageData is the persisted document.
type UsageData struct {
	Version   string          `json:"version"`
	Aggregate AggregatedStats `json:"aggregate"`
}

// UsageEvent is a single provider call.
type UsageEvent struct {
	Timestamp    time.Time `json:"timestamp"`
	Model        string    `json:"model"`
	Provider     string    `json:"provider"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CachedTokens int       `json:"cached_tokens"`
	Delegate     string    `json:"delegate"`  // subagent profile, or "main"
	SessionID    string    `json:"session_id"`
	Operation    string    `json:"operation"` // chat, route, search, autopilot
}

// AggregatedStats holds counters broken down by various dimensions.
type AggregatedStats struct {
	TotalProject TokenCounts            `json:"total_project"`
	ByProvider   map[string]TokenCounts `json:"by_provider"`
	ByModel      map[string]TokenCounts `json:"by_model"`
	ByDelegate   map[string]TokenCounts `json:"by_delegate"`
	ByOperation  map[string]TokenCounts `json:"by_operation"`
	BySession    map[string]TokenCounts `json:"by_session"`
}

// TokenCounts holds input/output sums.
type TokenCounts struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
	Cached int64 `json:"cached"`
	Total  int64 `json:"total"`
	Calls  int64 `json:"calls"`
}

func (tc *TokenCounts) Add(input, output, cached int) {
	tc.Input += int64(input)
	tc.Output += int64(output)
	tc.Cached += int64(cached)
	tc.Total += int64(input + output)
	tc.Calls++
}

// CacheHitRate is the share of input tokens served from the provider cache,
// as a percentage.
func (tc TokenCounts) CacheHitRate() float64 {
	if tc.Input == 0 {
		return 0
	}
	return float64(tc.Cached) / float64(tc.Input) * 100
}
