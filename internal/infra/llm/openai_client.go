package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	jsonx "nexus/internal/shared/json"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

type openaiClient struct {
	baseClient
}

// NewOpenAIClient builds a chat-completions client.
func NewOpenAIClient(model string, config Config) (Client, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, fmt.Errorf("%w: openai api key missing", ErrProviderNotConfigured)
	}
	return &openaiClient{baseClient: newBaseClient(model, config, defaultOpenAIBaseURL, "llm.openai")}, nil
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openaiResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      openaiMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage openaiUsage `json:"usage"`
}

type openaiStreamChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openaiUsage `json:"usage"`
}

func (c *openaiClient) buildPayload(req Request, stream bool) map[string]any {
	messages := make([]openaiMessage, 0, len(req.Messages)+1)
	if system := strings.TrimSpace(req.System); system != "" {
		messages = append(messages, openaiMessage{Role: RoleSystem, Content: system})
	}
	for _, msg := range req.Messages {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		messages = append(messages, openaiMessage{Role: msg.Role, Content: msg.Content})
	}
	payload := map[string]any{
		"model":    c.resolveModel(req),
		"messages": messages,
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		payload["temperature"] = req.Temperature
	}
	if stream {
		payload["stream"] = true
		payload["stream_options"] = map[string]any{"include_usage": true}
	}
	return payload
}

func (c *openaiClient) setAuth(header http.Header) {
	header.Set("Authorization", "Bearer "+c.apiKey)
}

func (c *openaiClient) Complete(ctx context.Context, req Request) (Response, error) {
	prefix := c.logPrefix(ctx)
	body, err := jsonx.Marshal(c.buildPayload(req, false))
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}
	endpoint := c.baseURL + "/chat/completions"
	c.logger.Debug("%sPOST %s model=%s", prefix, endpoint, c.resolveModel(req))

	resp, err := c.post(ctx, endpoint, body, c.setAuth)
	if err != nil {
		c.logger.Debug("%sHTTP request failed: %v", prefix, err)
		return Response{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Response{}, readErrorResponse(ProviderOpenAI, resp)
	}
	respBody, err := readResponseBody(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	var apiResp openaiResponse
	if err := jsonx.Unmarshal(respBody, &apiResp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return Response{}, fmt.Errorf("openai returned no choices")
	}
	result := Response{
		Content:    apiResp.Choices[0].Message.Content,
		Model:      firstNonEmpty(apiResp.Model, c.resolveModel(req)),
		StopReason: apiResp.Choices[0].FinishReason,
		Usage: Usage{
			InputTokens:  apiResp.Usage.PromptTokens,
			OutputTokens: apiResp.Usage.CompletionTokens,
		},
	}
	c.logger.Debug("%sUsage: %d prompt + %d completion tokens", prefix, result.Usage.InputTokens, result.Usage.OutputTokens)
	return result, nil
}

// Stream reads server-sent events until [DONE], forwarding content deltas.
func (c *openaiClient) Stream(ctx context.Context, req Request, onChunk ChunkHandler) (Response, error) {
	prefix := c.logPrefix(ctx)
	body, err := jsonx.Marshal(c.buildPayload(req, true))
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}
	endpoint := c.baseURL + "/chat/completions"
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
		return Response{}, readErrorResponse(ProviderOpenAI, resp)
	}

	result := Response{Model: c.resolveModel(req)}
	var content strings.Builder
	events := newSSEReader(resp.Body)
	for events.Next() {
		payload := strings.TrimSpace(events.Event().Data)
		if payload == "[DONE]" {
			break
		}

		var chunk openaiStreamChunk
		if err := jsonx.Unmarshal([]byte(payload), &chunk); err != nil {
			c.logger.Debug("%sFailed to decode stream chunk: %v", prefix, err)
			continue
		}
		if chunk.Model != "" {
			result.Model = chunk.Model
		}
		if chunk.Usage != nil {
			result.Usage = Usage{InputTokens: chunk.Usage.PromptTokens, OutputTokens: chunk.Usage.CompletionTokens}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			result.StopReason = *choice.FinishReason
		}
		if text := choice.Delta.Content; text != "" {
			content.WriteString(text)
			if onChunk != nil {
				if err := onChunk(text); err != nil {
					return Response{}, err
				}
			}
		}
	}
	if err := events.Err(); err != nil {
		return Response{}, fmt.Errorf("read response stream: %w", err)
	}

	result.Content = content.String()
	return result, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
