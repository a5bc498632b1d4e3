package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"nexus/internal/infra/httpclient"
	"nexus/internal/infra/observability"
	sharederrors "nexus/internal/shared/errors"
	"nexus/internal/shared/logging"
	id "nexus/internal/shared/utils/id"
)

const (
	maxResponseBodyBytes  = 8 << 20
	maxErrorBodyBytes     = 1 << 20
	defaultRequestTimeout = 120 * time.Second
)

// Config configures an HTTP provider client.
type Config struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	Headers    map[string]string
	HTTPClient *http.Client
}

// baseClient holds fields and helpers shared by the HTTP provider clients.
type baseClient struct {
	model      string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     logging.Logger
	headers    map[string]string
}

func newBaseClient(model string, config Config, defaultBaseURL, component string) baseClient {
	baseURL := strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = defaultRequestTimeout
		}
		httpClient = httpclient.New(httpclient.Options{Timeout: timeout})
	}
	return baseClient{
		model:      model,
		apiKey:     config.APIKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logging.NewComponentLogger(component),
		headers:    config.Headers,
	}
}

// Model returns the model name used by this client.
func (c *baseClient) Model() string {
	return c.model
}

func (c *baseClient) resolveModel(req Request) string {
	if model := strings.TrimSpace(req.Model); model != "" {
		return model
	}
	return c.model
}

// logPrefix builds the structured prefix used across request logging.
func (c *baseClient) logPrefix(ctx context.Context) string {
	logID := id.LogIDFromContext(ctx)
	requestID := id.NewRequestIDWithLogID(logID)
	return fmt.Sprintf("[req:%s] ", requestID)
}

// post sends body with JSON headers; setAuth adds provider credentials.
// Caller is responsible for closing resp.Body.
func (c *baseClient) post(ctx context.Context, endpoint string, body []byte, setAuth func(http.Header)) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if setAuth != nil {
		setAuth(httpReq.Header)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	observability.InjectTraceContext(ctx, httpReq.Header)
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, wrapRequestError(err)
	}
	return resp, nil
}

func readResponseBody(body io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, maxResponseBodyBytes))
	if err != nil {
		return nil, err
	}
	return data, nil
}

// mapHTTPError classifies a non-2xx upstream response.
func mapHTTPError(provider Provider, status int, body []byte, header http.Header) error {
	message := strings.TrimSpace(string(body))
	if len(message) > 512 {
		message = message[:512] + "..."
	}
	base := fmt.Errorf("%s returned HTTP %d: %s", provider, status, message)
	err := sharederrors.FromHTTPStatus(status, base, fmt.Sprintf("%s request failed (HTTP %d)", provider, status))
	var transient *sharederrors.TransientError
	if errors.As(err, &transient) {
		transient.RetryAfter = parseRetryAfter(header.Get("Retry-After"))
	}
	return err
}

func readErrorResponse(provider Provider, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return mapHTTPError(provider, resp.StatusCode, body, resp.Header)
}

func parseRetryAfter(value string) int {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	var seconds int
	if _, err := fmt.Sscanf(value, "%d", &seconds); err == nil && seconds > 0 {
		return seconds
	}
	if at, err := http.ParseTime(value); err == nil {
		if wait := time.Until(at); wait > 0 {
			return int(wait.Seconds())
		}
	}
	return 0
}

// wrapRequestError marks transport failures as transient unless the caller
// cancelled the request.
func wrapRequestError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return sharederrors.NewTransientError(err, fmt.Sprintf("llm request failed: %v", err))
}
