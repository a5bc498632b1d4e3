package github

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"nexus/internal/infra/httpclient"
	"nexus/internal/infra/observability"
	sharederrors "nexus/internal/shared/errors"
	jsonx "nexus/internal/shared/json"
	"nexus/internal/shared/logging"
)

const (
	defaultAuthURL   = "https://github.com/login/oauth/authorize"
	defaultTokenURL  = "https://github.com/login/oauth/access_token"
	defaultAPIURL    = "https://api.github.com"
	apiVersion       = "2022-11-28"
	githubTimeout    = 20 * time.Second
	maxErrorBody     = int64(1 << 20)
	maxResponseBody  = int64(16 << 20)
	reposPerPage     = 100
	maxRepoPages     = 10
	userAgent        = "nexus-server"
	acceptGitHubJSON = "application/vnd.github+json"
)

// ErrNotFound is wrapped by errors for GitHub 404 responses.
var ErrNotFound = errors.New("github resource not found")

// ErrOAuthNotConfigured is returned when client id, secret or redirect are missing.
var ErrOAuthNotConfigured = errors.New("github oauth is not configured")

// Config configures the OAuth app and REST endpoint.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	APIURL       string
	Scopes       []string
	HTTPClient   *http.Client
	Tracer       *observability.TracerProvider
}

// Client talks to GitHub's OAuth and REST endpoints on behalf of a user token.
type Client struct {
	cfg        Config
	httpClient *http.Client
	tracer     *observability.TracerProvider
	logger     logging.Logger
}

// NewClient normalises cfg and applies GitHub defaults.
func NewClient(cfg Config) *Client {
	client := cfg.HTTPClient
	if client == nil {
		client = httpclient.New(httpclient.Options{Timeout: githubTimeout})
	}
	normalized := Config{
		ClientID:     strings.TrimSpace(cfg.ClientID),
		ClientSecret: strings.TrimSpace(cfg.ClientSecret),
		RedirectURL:  strings.TrimSpace(cfg.RedirectURL),
		AuthURL:      strings.TrimSpace(cfg.AuthURL),
		TokenURL:     strings.TrimSpace(cfg.TokenURL),
		APIURL:       strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/"),
		Scopes:       cfg.Scopes,
	}
	if normalized.AuthURL == "" {
		normalized.AuthURL = defaultAuthURL
	}
	if normalized.TokenURL == "" {
		normalized.TokenURL = defaultTokenURL
	}
	if normalized.APIURL == "" {
		normalized.APIURL = defaultAPIURL
	}
	if len(normalized.Scopes) == 0 {
		normalized.Scopes = []string{"repo", "read:user"}
	}
	return &Client{
		cfg:        normalized,
		httpClient: client,
		tracer:     cfg.Tracer,
		logger:     logging.NewComponentLogger("GitHubClient"),
	}
}

// Configured reports whether the OAuth app credentials are present.
func (c *Client) Configured() bool {
	return c.cfg.ClientID != "" && c.cfg.ClientSecret != "" && c.cfg.RedirectURL != ""
}

// AuthorizeURL builds the consent URL carrying state.
func (c *Client) AuthorizeURL(state string) (string, error) {
	if !c.Configured() {
		return "", ErrOAuthNotConfigured
	}
	u, err := url.Parse(c.cfg.AuthURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("client_id", c.cfg.ClientID)
	q.Set("redirect_uri", c.cfg.RedirectURL)
	q.Set("scope", strings.Join(c.cfg.Scopes, " "))
	q.Set("state", state)
	q.Set("allow_signup", "false")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	Scope            string `json:"scope"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// ExchangeCode trades an authorization code for an access token.
func (c *Client) ExchangeCode(ctx context.Context, code string) (Token, error) {
	if !c.Configured() {
		return Token{}, ErrOAuthNotConfigured
	}
	form := url.Values{}
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", c.cfg.RedirectURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Token{}, sharederrors.NewTransientError(err, "github: token exchange request failed")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return Token{}, readAPIError(resp)
	}

	var token tokenResponse
	if err := jsonx.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&token); err != nil {
		return Token{}, fmt.Errorf("github: decode token response: %w", err)
	}
	// GitHub reports a bad code as 200 with an error field.
	if token.Error != "" {
		return Token{}, sharederrors.NewPermanentError(
			fmt.Errorf("github: %s: %s", token.Error, token.ErrorDescription),
			"github authorization failed",
		)
	}
	if token.AccessToken == "" {
		return Token{}, fmt.Errorf("github: token response missing access_token")
	}
	return Token{
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
		Scopes:      splitScopes(token.Scope),
	}, nil
}

func splitScopes(raw string) []string {
	var scopes []string
	for _, scope := range strings.Split(raw, ",") {
		if scope = strings.TrimSpace(scope); scope != "" {
			scopes = append(scopes, scope)
		}
	}
	return scopes
}

// do issues an authenticated REST call and decodes a JSON response into out.
func (c *Client) do(ctx context.Context, token, method, path string, body any, out any) error {
	ctx, span := c.tracer.StartSpan(ctx, observability.SpanGitHubRequest,
		attribute.String("http.method", method),
		attribute.String("github.path", path),
	)
	defer span.End()

	var reader io.Reader
	if body != nil {
		payload, err := jsonx.Marshal(body)
		if err != nil {
			return fmt.Errorf("github: marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", acceptGitHubJSON)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	observability.InjectTraceContext(ctx, req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		observability.FailSpan(span, err, "request failed")
		if errors.Is(err, context.Canceled) {
			return err
		}
		return sharederrors.NewTransientError(err, "github request failed")
	}
	defer func() { _ = resp.Body.Close() }()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := readAPIError(resp)
		observability.FailSpan(span, apiErr, "github error response")
		c.logger.Debug("%s %s -> %d", method, path, resp.StatusCode)
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := jsonx.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(out); err != nil {
		return fmt.Errorf("github: decode %s response: %w", path, err)
	}
	return nil
}

// APIError is a non-2xx GitHub response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github: status %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	message := strings.TrimSpace(string(raw))
	var parsed struct {
		Message string `json:"message"`
	}
	if jsonx.Unmarshal(raw, &parsed) == nil && parsed.Message != "" {
		message = parsed.Message
	}
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: message}
	return sharederrors.FromHTTPStatus(resp.StatusCode, apiErr, "github request failed")
}

func escapePath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

func repoPath(owner, repo string) string {
	return "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo)
}
