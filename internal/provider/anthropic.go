package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// AnthropicConfig holds the settings for the hosted Messages API backend.
type AnthropicConfig struct {
	Endpoint    string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// AnthropicBackend calls the Claude Messages API. Its only time bound is
// the HTTP client timeout.
type AnthropicBackend struct {
	config AnthropicConfig
	client *http.Client
	logger *zap.Logger
}

// NewAnthropicBackend creates the hosted backend. An empty API key or
// model is rejected here rather than on the first call.
func NewAnthropicBackend(cfg AnthropicConfig, logger *zap.Logger) (*AnthropicBackend, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, newError(ErrMissingParam, 0, "api key is empty", nil)
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, newError(ErrMissingParam, 0, "model is empty", nil)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.anthropic.com/v1"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}
	return &AnthropicBackend{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

func (b *AnthropicBackend) Name() string { return "anthropic" }

type anthropicRequest struct {
	Model       string         `json:"model"`
	Messages    []anthropicMsg `json:"messages"`
	System      string         `json:"system,omitempty"`
	MaxTokens   int            `json:"max_tokens"`
	Temperature float64        `json:"temperature"`
}

type anthropicMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Execute sends one non-streaming Messages request.
func (b *AnthropicBackend) Execute(ctx context.Context, systemPrompt, userMessage string, opts Options) (*Response, error) {
	req := b.buildRequest(systemPrompt, userMessage, opts)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, newError(ErrUnknown, 0, "marshal request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.config.Endpoint+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, newError(ErrUnknown, 0, "create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", b.config.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		b.logger.Error("anthropic request failed", zap.Error(err))
		return nil, newError(ErrConnection, 0, "check your network connection", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, b.classify(resp.StatusCode, respBody)
	}

	var apiResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, newError(ErrUnknown, 0, "decode response", err)
	}
	return convertResponse(&apiResp), nil
}

func (b *AnthropicBackend) buildRequest(systemPrompt, userMessage string, opts Options) *anthropicRequest {
	req := &anthropicRequest{
		Model:       ResolveModel(b.config.Model),
		System:      systemPrompt,
		MaxTokens:   b.config.MaxTokens,
		Temperature: b.config.Temperature,
		Messages:    []anthropicMsg{{Role: "user", Content: userMessage}},
	}
	if opts.Model != "" {
		req.Model = ResolveModel(opts.Model)
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	return req
}

func (b *AnthropicBackend) classify(status int, body []byte) error {
	var apiErr anthropicError
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
		msg = apiErr.Error.Message
	}
	b.logger.Warn("anthropic api error", zap.Int("status", status), zap.String("message", msg))

	switch {
	case status == http.StatusTooManyRequests:
		return newError(ErrRateLimited, status, "wait before retrying: "+msg, nil)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return newError(ErrAuthentication, status, "check your API key: "+msg, nil)
	case status >= 400:
		return newError(ErrAPI, status, msg, nil)
	default:
		return newError(ErrUnknown, status, msg, errors.New("unexpected status"))
	}
}

func convertResponse(resp *anthropicResponse) *Response {
	var parts []string
	for _, c := range resp.Content {
		if c.Type == "text" {
			parts = append(parts, c.Text)
		}
	}
	return &Response{
		Content:      strings.Join(parts, "\n"),
		InputTokens:  max(resp.Usage.InputTokens, 0),
		OutputTokens: max(resp.Usage.OutputTokens, 0),
		Model:        resp.Model,
		StopReason:   resp.StopReason,
	}
}
