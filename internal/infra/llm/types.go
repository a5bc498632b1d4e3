package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Provider names an upstream LLM vendor.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGoogle    Provider = "google"
)

var (
	ErrUnknownProvider        = errors.New("unknown llm provider")
	ErrProviderNotImplemented = errors.New("llm provider not implemented")
	ErrProviderNotConfigured  = errors.New("llm provider not configured")
	ErrRateLimited            = errors.New("llm rate limit exceeded")
)

// ParseProvider resolves a provider name and its aliases.
func ParseProvider(name string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "openai", "gpt":
		return ProviderOpenAI, nil
	case "anthropic", "claude":
		return ProviderAnthropic, nil
	case "google", "gemini":
		return ProviderGoogle, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
}

// DefaultModel returns the model used when a request names none.
func DefaultModel(provider Provider) string {
	switch provider {
	case ProviderAnthropic:
		return "claude-3-5-haiku-latest"
	case ProviderGoogle:
		return "gemini-1.5-flash"
	default:
		return "gpt-4o-mini"
	}
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-neutral completion request.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Usage reports token consumption.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is a completed generation.
type Response struct {
	Content    string `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason,omitempty"`
	Usage      Usage  `json:"usage"`
}

// TotalTokens returns input plus output tokens.
func (r Response) TotalTokens() int {
	return r.Usage.InputTokens + r.Usage.OutputTokens
}

// ChunkHandler receives streamed text deltas. Returning an error aborts the stream.
type ChunkHandler func(chunk string) error

// Client is implemented by every provider.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
	Stream(ctx context.Context, req Request, onChunk ChunkHandler) (Response, error)
	Model() string
}
