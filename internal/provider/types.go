package provider

import (
	"context"
)

// Backend generates text for a system prompt and user message. It is
// chosen once from configuration; callers never branch on the concrete
// type.
type Backend interface {
	Name() string
	Execute(ctx context.Context, systemPrompt, userMessage string, opts Options) (*Response, error)
}

// Options override the backend defaults for one call. Zero values mean
// "use the default".
type Options struct {
	Model       string
	MaxTokens   int
	Temperature *float64
}

// Response is the generated text plus token usage. Token counts are
// never negative; StopReason is empty when the backend does not report one.
type Response struct {
	Content      string `json:"content"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Model        string `json:"model"`
	StopReason   string `json:"stop_reason,omitempty"`
}

// TotalTokens is input plus output tokens.
func (r *Response) TotalTokens() int { return r.InputTokens + r.OutputTokens }

// Model aliases accepted in configuration, mapped to API model ids.
var modelAliases = map[string]string{
	"sonnet": "claude-sonnet-4-20250514",
	"opus":   "claude-opus-4-20250514",
	"haiku":  "claude-3-5-haiku-20241022",
}

// ResolveModel expands a configured alias to a full model id. Unknown
// names are returned unchanged.
func ResolveModel(name string) string {
	if id, ok := modelAliases[name]; ok {
		return id
	}
	return name
}
