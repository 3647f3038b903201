package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"aicore/internal/logging"
	"aicore/internal/types"
	"aicore/internal/usage"
)

// ErrEmptyCompletion is returned when the provider answers without choices.
var ErrEmptyCompletion = errors.New("no completion returned")

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// CompleteWithModel sends a non-streaming request with a low temperature,
// suited to structured verdicts. An empty model uses the default.
func (c *Client) CompleteWithModel(ctx context.Context, model, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	if model == "" {
		model = c.cfg.Model
	}

	var msgs []types.Message
	if strings.TrimSpace(systemPrompt) != "" {
		msgs = append(msgs, types.SystemMessage(systemPrompt))
	}
	msgs = append(msgs, types.UserMessage(userPrompt))

	release, err := c.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	resp, err := c.post(ctx, chatRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: ptr(0.1),
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	var cr completionResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if cr.Error != nil {
		return "", fmt.Errorf("API error: %s", cr.Error.Message)
	}
	if len(cr.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	if cr.Usage != nil {
		if tracker := usage.FromContext(ctx); tracker != nil {
			tracker.Track(ctx, usage.UsageEvent{
				Model:        model,
				Provider:     "zai",
				InputTokens:  cr.Usage.PromptTokens,
				OutputTokens: cr.Usage.CompletionTokens,
			})
		}
	}
	return strings.TrimSpace(cr.Choices[0].Message.Content), nil
}

// TestConnection sends a minimal request to verify credentials and reachability.
func (c *Client) TestConnection(ctx context.Context) error {
	release, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	resp, err := c.post(ctx, chatRequest{
		Model:     c.cfg.Model,
		Messages:  []types.Message{types.UserMessage("Hello")},
		MaxTokens: 10,
	})
	if err != nil {
		logging.APIError("connection test failed: %v", err)
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	logging.API("connection test successful")
	return nil
}
