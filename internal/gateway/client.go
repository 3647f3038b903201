// Package gateway talks to the GLM chat-completions API: streamed chat with
// optional web search, bounded continuation of truncated answers, and the
// non-streaming calls used for routing and search.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"aicore/internal/logging"
	"aicore/internal/stream"
	"aicore/internal/types"
	"aicore/internal/usage"
)

// ErrNoAPIKey is returned when the client has no credentials.
var ErrNoAPIKey = errors.New("API key not configured")

// ProviderConcurrency is the provider's limit on simultaneous requests.
const ProviderConcurrency = 3

// Config configures a Client.
type Config struct {
	APIKey             string
	BaseURL            string
	Model              string // default chat model
	SearchModel        string // model used for web search calls
	SearchEngine       string // search_std, search_pro, search_pro_sogou, search_pro_quark
	Timeout            time.Duration
	Temperature        float64
	MaxTokens          int
	ThinkingBudget     int
	MaxConcurrent      int
	MinRequestInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:             apiKey,
		BaseURL:            "https://open.bigmodel.cn/api/paas/v4",
		Model:              "glm-4.7",
		SearchModel:        "glm-4.7",
		SearchEngine:       "search_pro",
		Timeout:            10 * time.Minute,
		Temperature:        0.7,
		MaxTokens:          32768,
		ThinkingBudget:     4096,
		MaxConcurrent:      ProviderConcurrency,
		MinRequestInterval: 600 * time.Millisecond,
	}
}

// Options control a single chat call. Zero values fall back to the client
// configuration.
type Options struct {
	Model           string
	Temperature     float64
	MaxTokens       int
	Tools           []types.ToolDefinition
	EnableThinking  bool
	EnableWebSearch bool
	SessionID       string

	// OnUsage receives the provider's token accounting. It is called from
	// the decoding goroutine.
	OnUsage func(stream.Usage)
}

// Client issues requests to the provider. It is safe for concurrent use.
type Client struct {
	cfg         Config
	httpClient  *http.Client
	sem         chan struct{}
	mu          sync.Mutex
	lastRequest time.Time
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client. Missing configuration values take their defaults.
func New(cfg Config, opts ...ClientOption) *Client {
	def := DefaultConfig(cfg.APIKey)
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.SearchModel == "" {
		cfg.SearchModel = cfg.Model
	}
	if cfg.SearchEngine == "" {
		cfg.SearchEngine = def.SearchEngine
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = def.Temperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.ThinkingBudget <= 0 {
		cfg.ThinkingBudget = def.ThinkingBudget
	}
	if cfg.MaxConcurrent <= 0 || cfg.MaxConcurrent > ProviderConcurrency {
		cfg.MaxConcurrent = ProviderConcurrency
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		sem:        make(chan struct{}, cfg.MaxConcurrent),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the default chat model.
func (c *Client) Model() string { return c.cfg.Model }

type thinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatRequest struct {
	Model         string                 `json:"model"`
	Messages      []types.Message        `json:"messages"`
	Temperature   *float64               `json:"temperature,omitempty"`
	MaxTokens     int                    `json:"max_tokens,omitempty"`
	Stream        bool                   `json:"stream"`
	StreamOptions *streamOptions         `json:"stream_options,omitempty"`
	Thinking      *thinking              `json:"thinking,omitempty"`
	Tools         []types.ToolDefinition `json:"tools,omitempty"`
	ToolChoice    string                 `json:"tool_choice,omitempty"`
}

type apiError struct {
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// acquire takes a concurrency slot and enforces the minimum spacing between
// requests. The returned func releases the slot.
func (c *Client) acquire(ctx context.Context) (func(), error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	release := func() { <-c.sem }

	c.mu.Lock()
	wait := c.cfg.MinRequestInterval - time.Since(c.lastRequest)
	c.lastRequest = time.Now().Add(max(wait, 0))
	c.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			release()
			return nil, ctx.Err()
		}
	}
	return release, nil
}

// post sends body to the chat-completions endpoint. A non-2xx response is
// returned as an error carrying the status and provider message.
func (c *Client) post(ctx context.Context, body chatRequest) (*http.Response, error) {
	if c.cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	logging.APIDebug("POST model=%s messages=%d stream=%v tools=%d", body.Model, len(body.Messages), body.Stream, len(body.Tools))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		msg := http.StatusText(resp.StatusCode)
		var ae apiError
		if json.Unmarshal(raw, &ae) == nil && ae.Error != nil && ae.Error.Message != "" {
			msg = ae.Error.Message
		}
		logging.APIWarn("request failed: status=%d model=%s: %s", resp.StatusCode, body.Model, msg)
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}
	return resp, nil
}

// StatusError is a non-2xx provider response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// StreamChat issues one streamed completion and returns its events. The
// channel is closed after Done, Error, or cancellation. The caller's
// messages and chat context are never modified. Callers that stop reading
// early must cancel ctx.
func (c *Client) StreamChat(ctx context.Context, messages []types.Message, chatCtx types.ChatContext, opts Options) <-chan stream.Event {
	out := make(chan stream.Event, 64)
	go func() {
		defer close(out)
		c.streamChat(ctx, messages, chatCtx, opts, out)
	}()
	return out
}

func (c *Client) streamChat(ctx context.Context, messages []types.Message, chatCtx types.ChatContext, opts Options, out chan<- stream.Event) {
	msgs := types.CloneMessages(messages)
	cc := chatCtx.Clone()
	model := c.modelFor(opts)

	if opts.EnableWebSearch && len(cc.WebSearchResults) == 0 {
		if query := lastUserContent(msgs); query != "" {
			if !send(ctx, out, stream.WebSearch{Summary: stream.SearchingMarker}) {
				return
			}
			results, err := c.WebSearch(ctx, query)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logging.APIWarn("web search failed, continuing without results: %v", err)
			}
			if len(results) > 0 {
				cc.WebSearchResults = results
				msgs = InjectSearchResults(msgs, results)
				summary := fmt.Sprintf("Found %d relevant results", len(results))
				if !send(ctx, out, stream.WebSearch{Summary: summary, Results: results}) {
					return
				}
			}
		}
	}

	body := chatRequest{
		Model:         model,
		Messages:      msgs,
		Temperature:   ptr(c.temperatureFor(opts)),
		MaxTokens:     c.maxTokensFor(opts),
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	}
	if opts.EnableThinking {
		body.Thinking = &thinking{Type: "enabled", BudgetTokens: c.cfg.ThinkingBudget}
	}

	tools := append([]types.ToolDefinition(nil), opts.Tools...)
	if opts.EnableWebSearch && len(cc.WebSearchResults) == 0 {
		tools = append(tools, c.webSearchTool())
	}
	if len(tools) > 0 {
		body.Tools = tools
		body.ToolChoice = "auto"
	}

	release, err := c.acquire(ctx)
	if err != nil {
		return
	}
	defer release()

	timer := logging.StartTimer(logging.CategoryAPI, "stream "+model)
	defer timer.Stop()

	resp, err := c.post(ctx, body)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		send(ctx, out, stream.Error{Message: err.Error()})
		return
	}

	onUsage := func(u stream.Usage) {
		if opts.OnUsage != nil {
			opts.OnUsage(u)
		}
		if tracker := usage.FromContext(ctx); tracker != nil {
			tracker.Track(ctx, usage.UsageEvent{
				Model:        model,
				Provider:     "zai",
				InputTokens:  u.PromptTokens,
				OutputTokens: u.CompletionTokens,
				CachedTokens: u.CachedTokens(),
				SessionID:    opts.SessionID,
			})
		}
	}

	events := stream.Decode(ctx, resp.Body, onUsage)
	for ev := range events {
		if !send(ctx, out, ev) {
			for range events {
			}
			return
		}
	}
}

func (c *Client) webSearchTool() types.ToolDefinition {
	return types.ToolDefinition{
		Type: "web_search",
		WebSearch: &types.WebSearchSpec{
			Enable:       true,
			SearchEngine: c.cfg.SearchEngine,
			SearchResult: true,
		},
	}
}

func (c *Client) modelFor(opts Options) string {
	if opts.Model != "" {
		return opts.Model
	}
	return c.cfg.Model
}

func (c *Client) temperatureFor(opts Options) float64 {
	if opts.Temperature > 0 {
		return opts.Temperature
	}
	return c.cfg.Temperature
}

func (c *Client) maxTokensFor(opts Options) int {
	if opts.MaxTokens > 0 {
		return opts.MaxTokens
	}
	return c.cfg.MaxTokens
}

func lastUserContent(msgs []types.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == types.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

// send delivers ev unless ctx is done.
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

func ptr[T any](v T) *T { return &v }
