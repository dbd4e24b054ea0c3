package streamclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/narrately/novelgraph/internal/stream"
	"go.uber.org/zap"
)

// Consumer receives decoded chunks in stream order. OnReplayStart is called
// before the first chunk of every connection attempt so the consumer can
// reset derived state: a fresh connection replays the full history, which is
// authoritative and supersedes anything accumulated before a reconnect.
type Consumer interface {
	OnReplayStart()
	OnChunk(chunk stream.Chunk) error
}

// Client follows a job's event stream over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger

	// retryWait separates reconnection attempts.
	retryWait time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryWait sets the pause between reconnection attempts.
func WithRetryWait(d time.Duration) Option {
	return func(c *Client) { c.retryWait = d }
}

// NewClient returns a Client targeting the service at baseURL
// (e.g. "http://localhost:8080").
func NewClient(baseURL string, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		logger:     logger,
		retryWait:  2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Follow streams the job's chunks into consumer until the stream ends
// cleanly, the context is canceled, or the consumer returns an error. A
// connection dropped before the end-of-stream sentinel is retried after
// retryWait; each retry replays from the beginning via OnReplayStart.
func (c *Client) Follow(ctx context.Context, jobID string, consumer Consumer) error {
	for {
		err := c.followOnce(ctx, jobID, consumer)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		}
		var cerr *consumerError
		if errors.As(err, &cerr) {
			return cerr.err
		}
		c.logger.Warn("stream interrupted, reconnecting",
			zap.String("job_id", jobID),
			zap.Duration("wait", c.retryWait),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryWait):
		}
	}
}

// Stream opens a single connection to the job's event stream and delivers
// its chunks on the returned channel. The channel is closed when the stream
// ends (cleanly or not) or the context is canceled; callers needing
// reconnection semantics should use Follow.
func (c *Client) Stream(ctx context.Context, jobID string) (<-chan stream.Chunk, error) {
	out := make(chan stream.Chunk)
	go func() {
		defer close(out)
		err := c.followOnce(ctx, jobID, chanConsumer{ctx: ctx, out: out})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn("stream closed", zap.String("job_id", jobID), zap.Error(err))
		}
	}()
	return out, nil
}

type chanConsumer struct {
	ctx context.Context
	out chan<- stream.Chunk
}

func (c chanConsumer) OnReplayStart() {}

func (c chanConsumer) OnChunk(chunk stream.Chunk) error {
	select {
	case c.out <- chunk:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

// consumerError marks errors originating in the consumer, which must not be
// retried.
type consumerError struct{ err error }

func (e *consumerError) Error() string { return e.err.Error() }

func (c *Client) followOnce(ctx context.Context, jobID string, consumer Consumer) error {
	endpoint := fmt.Sprintf("%s/v1/jobs/%s/events", c.baseURL, url.PathEscape(jobID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("building stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("opening stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream endpoint returned %s", resp.Status)
	}

	consumer.OnReplayStart()
	dec := NewDecoder(resp.Body)
	for {
		chunk, err := dec.Next()
		switch {
		case errors.Is(err, ErrStreamDone):
			return nil
		case errors.Is(err, io.EOF):
			return fmt.Errorf("stream ended before completion sentinel")
		case err != nil:
			return fmt.Errorf("decoding stream: %w", err)
		}
		if err := consumer.OnChunk(chunk); err != nil {
			return &consumerError{err: err}
		}
	}
}
