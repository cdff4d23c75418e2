package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/groundtruth-ai/restaurant-chat/internal/config"
)

// Turn is one prior message sent as context
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Prompt is everything a responder sees. All user text in it is masked.
type Prompt struct {
	SystemContext string `json:"systemContext,omitempty"`
	History       []Turn `json:"history"`
	Message       string `json:"message"`
}

// Responder produces the assistant reply for a prompt
type Responder interface {
	Respond(ctx context.Context, prompt Prompt) (string, error)
}

// ResponderFunc adapts a function to the Responder interface
type ResponderFunc func(ctx context.Context, prompt Prompt) (string, error)

func (f ResponderFunc) Respond(ctx context.Context, prompt Prompt) (string, error) {
	return f(ctx, prompt)
}

// HTTPResponder relays prompts as JSON to a text-generation endpoint that
// answers with {"response": "..."}.
type HTTPResponder struct {
	url    string
	apiKey string
	client *http.Client
}

// NewHTTPResponder creates a responder posting to cfg.ChatURL
func NewHTTPResponder(cfg config.UpstreamConfig) *HTTPResponder {
	return &HTTPResponder{
		url:    cfg.ChatURL,
		apiKey: cfg.APIKey,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type relayResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

func (r *HTTPResponder) Respond(ctx context.Context, prompt Prompt) (string, error) {
	body, err := json.Marshal(prompt)
	if err != nil {
		return "", fmt.Errorf("failed to encode prompt: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("responder request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read responder reply: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("rate limit exceeded, please wait a moment before trying again")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("responder returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var reply relayResponse
	if err := json.Unmarshal(data, &reply); err != nil {
		return "", fmt.Errorf("failed to decode responder reply: %w", err)
	}
	if reply.Error != "" {
		return "", fmt.Errorf("responder error: %s", reply.Error)
	}

	return reply.Response, nil
}
