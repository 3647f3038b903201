package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"

	"aicore/internal/logging"
	"aicore/internal/types"
	"aicore/internal/usage"
)

type searchHit struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	URL     string `json:"url"`
	Content string `json:"content"`
	Snippet string `json:"snippet"`
	Media   string `json:"media"`
	Icon    string `json:"icon"`
}

func (h searchHit) result() types.WebSearchResult {
	link := h.Link
	if link == "" {
		link = h.URL
	}
	content := h.Content
	if content == "" {
		content = h.Snippet
	}
	return types.WebSearchResult{
		Title:   flattenHTML(h.Title),
		Link:    link,
		Content: flattenHTML(content),
		Media:   h.Media,
		Icon:    h.Icon,
	}
}

type searchResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Type       string `json:"type"`
				WebBrowser *struct {
					Outputs []searchHit `json:"outputs"`
				} `json:"web_browser"`
				WebSearch *struct {
					SearchResult []searchHit `json:"search_result"`
				} `json:"web_search"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	WebSearch []searchHit `json:"web_search"`
	Usage     *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// WebSearch runs the provider's search tool for query and returns the hits.
// Results may arrive as web_browser outputs, web_search tool results, or a
// top-level web_search array; all three are collected.
func (c *Client) WebSearch(ctx context.Context, query string) ([]types.WebSearchResult, error) {
	logging.API("web search %q using %s", truncate(query, 80), c.cfg.SearchEngine)

	release, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	resp, err := c.post(ctx, chatRequest{
		Model:    c.cfg.SearchModel,
		Messages: []types.Message{types.UserMessage(query)},
		Tools:    []types.ToolDefinition{c.webSearchTool()},
	})
	if err != nil {
		return nil, fmt.Errorf("web search: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("web search: failed to read response: %w", err)
	}
	var sr searchResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return nil, fmt.Errorf("web search: failed to parse response: %w", err)
	}

	if sr.Usage != nil {
		if tracker := usage.FromContext(ctx); tracker != nil {
			tracker.Track(ctx, usage.UsageEvent{
				Model:        c.cfg.SearchModel,
				Provider:     "zai",
				InputTokens:  sr.Usage.PromptTokens,
				OutputTokens: sr.Usage.CompletionTokens,
				Operation:    "search",
			})
		}
	}

	var results []types.WebSearchResult
	if len(sr.Choices) > 0 {
		for _, tc := range sr.Choices[0].Message.ToolCalls {
			if tc.Type == "web_browser" && tc.WebBrowser != nil {
				for _, h := range tc.WebBrowser.Outputs {
					results = append(results, h.result())
				}
			}
			if tc.Type == "web_search" && tc.WebSearch != nil {
				for _, h := range tc.WebSearch.SearchResult {
					results = append(results, h.result())
				}
			}
		}
	}
	for _, h := range sr.WebSearch {
		results = append(results, h.result())
	}

	logging.API("web search returned %d results", len(results))
	return results, nil
}

// flattenHTML reduces markup in a search snippet to its text.
func flattenHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	var parts []string
	z := html.NewTokenizer(strings.NewReader(s))
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
		case html.StartTagToken:
			if name, _ := z.TagName(); string(name) == "script" || string(name) == "style" {
				skip++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); (string(name) == "script" || string(name) == "style") && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				parts = append(parts, string(z.Text()))
			}
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
