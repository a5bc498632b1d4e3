package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	sharederrors "nexus/internal/shared/errors"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Config{
		ClientID:     "cid",
		ClientSecret: "secret",
		RedirectURL:  "https://nexus.example/api/github/callback",
		TokenURL:     server.URL + "/login/oauth/access_token",
		APIURL:       server.URL,
		HTTPClient:   server.Client(),
	})
}

func TestAuthorizeURLCarriesStateAndScopes(t *testing.T) {
	client := NewClient(Config{ClientID: "cid", ClientSecret: "secret", RedirectURL: "https://nexus.example/cb"})
	raw, err := client.AuthorizeURL("state-123")
	require.NoError(t, err)

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "github.com", parsed.Host)
	q := parsed.Query()
	require.Equal(t, "cid", q.Get("client_id"))
	require.Equal(t, "state-123", q.Get("state"))
	require.Equal(t, "repo read:user", q.Get("scope"))

	_, err = NewClient(Config{}).AuthorizeURL("s")
	require.ErrorIs(t, err, ErrOAuthNotConfigured)
}

func TestExchangeCode(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "application/json", r.Header.Get("Accept"))
		if r.PostForm.Get("code") == "bad" {
			_, _ = w.Write([]byte(`{"error":"bad_verification_code","error_description":"The code passed is incorrect or expired."}`))
			return
		}
		require.Equal(t, "secret", r.PostForm.Get("client_secret"))
		_, _ = w.Write([]byte(`{"access_token":"gho_abc","token_type":"bearer","scope":"repo,read:user"}`))
	}))

	token, err := client.ExchangeCode(context.Background(), "good")
	require.NoError(t, err)
	require.Equal(t, "gho_abc", token.AccessToken)
	require.Equal(t, []string{"repo", "read:user"}, token.Scopes)

	_, err = client.ExchangeCode(context.Background(), "bad")
	require.True(t, sharederrors.IsPermanent(err))
}

func TestGetUserSendsBearerAndVersionHeaders(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/user", r.URL.Path)
		require.Equal(t, "Bearer gho_abc", r.Header.Get("Authorization"))
		require.Equal(t, apiVersion, r.Header.Get("X-GitHub-Api-Version"))
		_, _ = w.Write([]byte(`{"id":42,"login":"octocat","name":"Mona"}`))
	}))

	user, err := client.GetUser(context.Background(), "gho_abc")
	require.NoError(t, err)
	require.Equal(t, int64(42), user.ID)
	require.Equal(t, "octocat", user.Login)
}

func TestGetContentsDecodesFilesAndListsDirectories(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/octo/site/contents/docs/readme.md":
			require.Equal(t, "feature", r.URL.Query().Get("ref"))
			encoded := base64.StdEncoding.EncodeToString([]byte("# Hello\n"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"type": "file", "name": "readme.md", "path": "docs/readme.md", "sha": "abc",
				"encoding": "base64", "content": encoded[:4] + "\n" + encoded[4:],
			})
		case "/repos/octo/site/contents/docs":
			_, _ = w.Write([]byte(`[{"type":"file","name":"readme.md","path":"docs/readme.md","sha":"abc"},{"type":"dir","name":"img","path":"docs/img","sha":"def"}]`))
		default:
			http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
		}
	}))
	ctx := context.Background()

	file, err := client.GetContents(ctx, "t", "octo", "site", "/docs/readme.md", "feature")
	require.NoError(t, err)
	require.Equal(t, "# Hello\n", file.Content)
	require.Equal(t, "abc", file.SHA)

	dir, err := client.GetContents(ctx, "t", "octo", "site", "docs", "")
	require.NoError(t, err)
	require.Equal(t, "dir", dir.Type)
	require.Len(t, dir.Entries, 2)

	_, err = client.GetContents(ctx, "t", "octo", "site", "missing.txt", "")
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, http.StatusNotFound, sharederrors.StatusCode(err))
}

func TestPutFileEncodesBodyAndSHA(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/repos/octo/site/contents/src/main.go", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		decoded, err := base64.StdEncoding.DecodeString(body["content"])
		require.NoError(t, err)
		require.Equal(t, "package main\n", string(decoded))
		require.Equal(t, "nexus/1234abcd", body["branch"])
		require.Equal(t, "old-sha", body["sha"])
		_, _ = w.Write([]byte(`{"content":{"sha":"blob"},"commit":{"sha":"commit-1"}}`))
	}))

	result, err := client.PutFile(context.Background(), "t", "octo", "site", PutFileRequest{
		Path: "src/main.go", Branch: "nexus/1234abcd", Message: "update", Content: "package main\n", SHA: "old-sha",
	})
	require.NoError(t, err)
	require.Equal(t, "commit-1", result.CommitSHA)
}

func TestServerErrorsAreTransient(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Server Error"}`, http.StatusBadGateway)
	}))

	_, err := client.CreatePullRequest(context.Background(), "t", "octo", "site", PullRequestInput{Title: "x", Head: "h", Base: "main"})
	require.True(t, sharederrors.IsTransient(err))
	require.True(t, sharederrors.IsUpstream(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "Server Error", apiErr.Message)
}
