package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	sharederrors "nexus/internal/shared/errors"
)

func TestOpenAIClientComplete(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"gpt-4o","choices":[{"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15}}`))
	}))
	defer server.Close()

	client, err := NewOpenAIClient("gpt-4o", Config{APIKey: "sk-test", BaseURL: server.URL})
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), Request{
		System:    "be brief",
		Messages:  []Message{{Role: RoleUser, Content: "hi"}},
		MaxTokens: 64,
	})
	require.NoError(t, err)
	require.Equal(t, "hello", resp.Content)
	require.Equal(t, 15, resp.TotalTokens())
	require.Equal(t, "stop", resp.StopReason)

	messages := captured["messages"].([]any)
	require.Len(t, messages, 2)
	require.Equal(t, "system", messages[0].(map[string]any)["role"])
	require.Equal(t, float64(64), captured["max_tokens"])
	require.NotContains(t, captured, "stream")
}

func TestOpenAIClientStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, true, body["stream"])
		require.Equal(t, map[string]any{"include_usage": true}, body["stream_options"])

		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range []string{
			`{"choices":[{"delta":{"role":"assistant"}}]}`,
			`{"choices":[{"delta":{"content":"Hel"}}]}`,
			`not-json`,
			`{"choices":[{"delta":{"content":"lo"},"finish_reason":"stop"}]}`,
			`{"choices":[],"usage":{"prompt_tokens":7,"completion_tokens":2,"total_tokens":9}}`,
			`[DONE]`,
		} {
			fmt.Fprintf(w, "data: %s\n\n", line)
		}
	}))
	defer server.Close()

	client, err := NewOpenAIClient("gpt-4o-mini", Config{APIKey: "sk-test", BaseURL: server.URL})
	require.NoError(t, err)

	var chunks []string
	resp, err := client.Stream(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}}, func(chunk string) error {
		chunks = append(chunks, chunk)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"Hel", "lo"}, chunks)
	require.Equal(t, "Hello", resp.Content)
	require.Equal(t, Usage{InputTokens: 7, OutputTokens: 2}, resp.Usage)
}

func TestOpenAIClientStreamAbortsOnHandlerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n\n")
	}))
	defer server.Close()

	client, err := NewOpenAIClient("gpt-4o", Config{APIKey: "sk", BaseURL: server.URL})
	require.NoError(t, err)
	stop := errors.New("client gone")
	_, err = client.Stream(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}}, func(string) error { return stop })
	require.ErrorIs(t, err, stop)
}

func TestOpenAIClientMapsHTTPErrors(t *testing.T) {
	status := http.StatusTooManyRequests
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
	}))
	defer server.Close()

	client, err := NewOpenAIClient("gpt-4o", Config{APIKey: "sk", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	require.True(t, sharederrors.IsTransient(err))
	var transient *sharederrors.TransientError
	require.ErrorAs(t, err, &transient)
	require.Equal(t, 3, transient.RetryAfter)
	require.Equal(t, http.StatusTooManyRequests, sharederrors.StatusCode(err))

	status = http.StatusUnauthorized
	_, err = client.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	require.True(t, sharederrors.IsPermanent(err))
	require.True(t, sharederrors.IsUpstream(err))
}

func TestNewOpenAIClientRequiresKey(t *testing.T) {
	_, err := NewOpenAIClient("gpt-4o", Config{})
	require.ErrorIs(t, err, ErrProviderNotConfigured)
}
