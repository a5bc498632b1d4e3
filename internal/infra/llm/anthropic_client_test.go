package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	sharederrors "nexus/internal/shared/errors"
)

func TestAnthropicClientComplete(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/messages", r.URL.Path)
		require.Equal(t, "sk-ant", r.Header.Get("x-api-key"))
		require.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{"id":"msg_1","model":"claude-3-5-haiku-latest","content":[{"type":"text","text":"Hi "},{"type":"text","text":"there"}],"stop_reason":"end_turn","usage":{"input_tokens":20,"output_tokens":5}}`))
	}))
	defer server.Close()

	client, err := NewAnthropicClient("claude-3-5-haiku-latest", Config{APIKey: "sk-ant", BaseURL: server.URL})
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), Request{
		System: "persona",
		Messages: []Message{
			{Role: RoleSystem, Content: "extra rules"},
			{Role: RoleUser, Content: "hello"},
			{Role: RoleAssistant, Content: ""},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "Hi there", resp.Content)
	require.Equal(t, Usage{InputTokens: 20, OutputTokens: 5}, resp.Usage)

	require.Equal(t, "persona\n\nextra rules", captured["system"])
	require.Equal(t, float64(defaultAnthropicMaxTokens), captured["max_tokens"])
	require.Len(t, captured["messages"], 1)
}

func TestAnthropicClientStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		events := []struct{ name, data string }{
			{"message_start", `{"type":"message_start","message":{"model":"claude-3-5-sonnet-latest","usage":{"input_tokens":11,"output_tokens":1}}}`},
			{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
			{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Good"}}`},
			{"ping", `{"type":"ping"}`},
			{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" day"}}`},
			{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":4}}`},
			{"message_stop", `{"type":"message_stop"}`},
			{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"ignored"}}`},
		}
		for _, event := range events {
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.name, event.data)
		}
	}))
	defer server.Close()

	client, err := NewAnthropicClient("claude-3-5-sonnet-latest", Config{APIKey: "sk-ant", BaseURL: server.URL})
	require.NoError(t, err)

	var chunks []string
	resp, err := client.Stream(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}}, func(chunk string) error {
		chunks = append(chunks, chunk)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"Good", " day"}, chunks)
	require.Equal(t, "Good day", resp.Content)
	require.Equal(t, Usage{InputTokens: 11, OutputTokens: 4}, resp.Usage)
	require.Equal(t, "end_turn", resp.StopReason)
}

func TestAnthropicClientStreamErrorEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n")
	}))
	defer server.Close()

	client, err := NewAnthropicClient("claude-3-5-haiku-latest", Config{APIKey: "sk-ant", BaseURL: server.URL})
	require.NoError(t, err)
	_, err = client.Stream(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}}, nil)
	require.True(t, sharederrors.IsTransient(err))
	require.Equal(t, http.StatusServiceUnavailable, sharederrors.StatusCode(err))
}

func TestAnthropicClientMapsBadRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`, http.StatusBadRequest)
	}))
	defer server.Close()

	client, err := NewAnthropicClient("claude-3-5-haiku-latest", Config{APIKey: "sk-ant", BaseURL: server.URL})
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.True(t, sharederrors.IsPermanent(err))
	require.Equal(t, http.StatusBadRequest, sharederrors.StatusCode(err))
}
