package llm

import (
	"context"
	"errors"

	sharederrors "nexus/internal/shared/errors"
	"nexus/internal/shared/logging"
)

// retryClient retries transient upstream failures with exponential backoff.
type retryClient struct {
	underlying  Client
	retryConfig sharederrors.RetryConfig
	logger      logging.Logger
}

// WrapWithRetry wraps client with retry logic.
func WrapWithRetry(client Client, config sharederrors.RetryConfig) Client {
	return &retryClient{
		underlying:  client,
		retryConfig: config,
		logger:      logging.NewComponentLogger("llm-retry"),
	}
}

func (c *retryClient) Model() string {
	return c.underlying.Model()
}

func (c *retryClient) Complete(ctx context.Context, req Request) (Response, error) {
	return sharederrors.RetryWithResult(ctx, c.retryConfig, func(ctx context.Context) (Response, error) {
		return c.underlying.Complete(ctx, req)
	}, c.logger)
}

// Stream retries only while no chunk has reached the caller; a stream that
// already emitted text fails as is.
func (c *retryClient) Stream(ctx context.Context, req Request, onChunk ChunkHandler) (Response, error) {
	emitted := false
	forward := func(chunk string) error {
		emitted = true
		if onChunk == nil {
			return nil
		}
		return onChunk(chunk)
	}
	return sharederrors.RetryWithResult(ctx, c.retryConfig, func(ctx context.Context) (Response, error) {
		resp, err := c.underlying.Stream(ctx, req, forward)
		if err != nil && emitted && sharederrors.IsTransient(err) {
			return Response{}, &sharederrors.PermanentError{
				Err:        errors.New(err.Error()),
				StatusCode: sharederrors.StatusCode(err),
				Message:    "stream interrupted after partial output",
			}
		}
		return resp, err
	}, c.logger)
}
