package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	sharederrors "nexus/internal/shared/errors"
	jsonx "nexus/internal/shared/json"
)

const (
	defaultAnthropicBaseURL   = "https://api.anthropic.com/v1"
	defaultAnthropicVersion   = "2023-06-01"
	anthropicVersionHeaderKey = "anthropic-version"
	anthropicAPIKeyHeader     = "x-api-key"
	anthropicMessagesPath     = "/messages"
	defaultAnthropicMaxTokens = 1024
)

type anthropicClient struct {
	baseClient
}

// NewAnthropicClient builds a messages-API client.
func NewAnthropicClient(model string, config Config) (Client, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, fmt.Errorf("%w: anthropic api key missing", ErrProviderNotConfigured)
	}
	return &anthropicClient{baseClient: newBaseClient(model, config, defaultAnthropicBaseURL, "llm.anthropic")}, nil
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string          `json:"stop_reason"`
	Usage      anthropicUsage  `json:"usage"`
	Error      *anthropicError `json:"error"`
}

type anthropicStreamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		Model string         `json:"model"`
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
	Delta *struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage *anthropicUsage `json:"usage"`
	Error *anthropicError `json:"error"`
}

// convertAnthropicMessages folds system turns into the top-level system prompt.
func convertAnthropicMessages(req Request) ([]anthropicMessage, string) {
	var systemParts []string
	if system := strings.TrimSpace(req.System); system != "" {
		systemParts = append(systemParts, system)
	}
	messages := make([]anthropicMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		role := strings.ToLower(strings.TrimSpace(msg.Role))
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		if role == RoleSystem {
			systemParts = append(systemParts, msg.Content)
			continue
		}
		messages = append(messages, anthropicMessage{Role: role, Content: msg.Content})
	}
	return messages, strings.Join(systemParts, "\n\n")
}

func (c *anthropicClient) buildPayload(req Request, stream bool) map[string]any {
	messages, system := convertAnthropicMessages(req)
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	payload := map[string]any{
		"model":      c.resolveModel(req),
		"max_tokens": maxTokens,
		"messages":   messages,
	}
	if system != "" {
		payload["system"] = system
	}
	if req.Temperature > 0 {
		payload["temperature"] = req.Temperature
	}
	if stream {
		payload["stream"] = true
	}
	return payload
}

func (c *anthropicClient) setAuth(header http.Header) {
	header.Set(anthropicAPIKeyHeader, c.apiKey)
	header.Set(anthropicVersionHeaderKey, defaultAnthropicVersion)
}

func (c *anthropicClient) Complete(ctx context.Context, req Request) (Response, error) {
	prefix := c.logPrefix(ctx)
	body, err := jsonx.Marshal(c.buildPayload(req, false))
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}
	endpoint := c.baseURL + anthropicMessagesPath
	c.logger.Debug("%sPOST %s model=%s", prefix, endpoint, c.resolveModel(req))

	resp, err := c.post(ctx, endpoint, body, c.setAuth)
	if err != nil {
		c.logger.Debug("%sHTTP request failed: %v", prefix, err)
		return Response{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Response{}, readErrorResponse(ProviderAnthropic, resp)
	}
	respBody, err := readResponseBody(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	var apiResp anthropicResponse
	if err := jsonx.Unmarshal(respBody, &apiResp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	if apiResp.Error != nil && apiResp.Error.Message != "" {
		return Response{}, streamError(apiResp.Error)
	}

	var content strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	result := Response{
		Content:    content.String(),
		Model:      firstNonEmpty(apiResp.Model, c.resolveModel(req)),
		StopReason: apiResp.StopReason,
		Usage:      Usage{InputTokens: apiResp.Usage.InputTokens, OutputTokens: apiResp.Usage.OutputTokens},
	}
	c.logger.Debug("%sUsage: %d input + %d output tokens", prefix, result.Usage.InputTokens, result.Usage.OutputTokens)
	return result, nil
}

// Stream consumes the messages event stream. Input usage arrives with
// message_start and output usage with message_delta.
func (c *anthropicClient) Stream(ctx context.Context, req Request, onChunk ChunkHandler) (Response, error) {
	prefix := c.logPrefix(ctx)
	body, err := jsonx.Marshal(c.buildPayload(req, true))
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}
	endpoint := c.baseURL + anthropicMessagesPath
	c.logger.Debug("%sPOST %s model=%s (stream)", prefix, endpoint, c.resolveModel(req))

	resp, err := c.post(ctx, endpoint, body, func(h http.Header) {
		c.setAuth(h)
		h.Set("Accept", "text/event-stream")
	})
	if err != nil {
		return Response{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Response{}, readErrorResponse(ProviderAnthropic, resp)
	}

	result := Response{Model: c.resolveModel(req)}
	var content strings.Builder
	events := newSSEReader(resp.Body)
scan:
	for events.Next() {
		payload := events.Event().Data

		var event anthropicStreamEvent
		if err := jsonx.Unmarshal([]byte(payload), &event); err != nil {
			c.logger.Debug("%sFailed to decode stream event: %v", prefix, err)
			continue
		}
		switch event.Type {
		case "message_start":
			if event.Message != nil {
				result.Usage.InputTokens = event.Message.Usage.InputTokens
				result.Usage.OutputTokens = event.Message.Usage.OutputTokens
				if event.Message.Model != "" {
					result.Model = event.Message.Model
				}
			}
		case "content_block_delta":
			if event.Delta == nil || event.Delta.Text == "" {
				continue
			}
			content.WriteString(event.Delta.Text)
			if onChunk != nil {
				if err := onChunk(event.Delta.Text); err != nil {
					return Response{}, err
				}
			}
		case "message_delta":
			if event.Usage != nil {
				result.Usage.OutputTokens = event.Usage.OutputTokens
			}
			if event.Delta != nil && event.Delta.StopReason != "" {
				result.StopReason = event.Delta.StopReason
			}
		case "message_stop":
			break scan
		case "error":
			return Response{}, streamError(event.Error)
		}
	}
	if err := events.Err(); err != nil {
		return Response{}, fmt.Errorf("read response stream: %w", err)
	}

	result.Content = content.String()
	return result, nil
}

func streamError(apiErr *anthropicError) error {
	if apiErr == nil {
		return sharederrors.FromHTTPStatus(http.StatusBadGateway, fmt.Errorf("anthropic stream error"), "anthropic stream failed")
	}
	status := http.StatusBadGateway
	switch apiErr.Type {
	case "overloaded_error":
		status = http.StatusServiceUnavailable
	case "rate_limit_error":
		status = http.StatusTooManyRequests
	case "invalid_request_error":
		status = http.StatusBadRequest
	case "authentication_error":
		status = http.StatusUnauthorized
	}
	return sharederrors.FromHTTPStatus(status, fmt.Errorf("anthropic %s: %s", apiErr.Type, apiErr.Message), "anthropic request failed")
}
