package procmon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	DefaultModel   = "claude-3-5-haiku-20241022"
	DefaultBaseURL = "https://api.anthropic.com/v1"

	anthropicVersion = "2023-06-01"
)

// Turn is one conversation message.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ModelClient is the hosted-model surface the chat and translation
// layers depend on. Tests substitute a fake.
type ModelClient interface {
	Complete(ctx context.Context, system string, turns []Turn, maxTokens int) (string, error)
}

type anthropicRequest struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	System    string `json:"system,omitempty"`
	Messages  []Turn `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// AnthropicClient calls the Anthropic Messages API. Calls are single
// attempt; rate limits and transport failures surface as
// ModelRequestError and the caller decides whether to re-issue.
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewAnthropicClient(cfg ModelConfig) (*AnthropicClient, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("environment variable %s is not set", cfg.APIKeyEnv)
	}
	return &AnthropicClient{
		apiKey:     key,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		model:      cfg.Name,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

func (c *AnthropicClient) Complete(ctx context.Context, system string, turns []Turn, maxTokens int) (string, error) {
	body, err := json.Marshal(anthropicRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  turns,
	})
	if err != nil {
		return "", &ModelRequestError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", &ModelRequestError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &ModelRequestError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ModelRequestError{Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &ModelRequestError{Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &ModelRequestError{Status: resp.StatusCode, Err: err}
	}
	if parsed.Error != nil {
		return "", &ModelRequestError{Status: resp.StatusCode, Body: parsed.Error.Message}
	}

	var b strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", &ModelRequestError{Status: resp.StatusCode, Body: "response contained no text content"}
	}
	return b.String(), nil
}
