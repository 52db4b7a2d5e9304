package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hjongc/simple-llm-chat/internal/config"
	"github.com/hjongc/simple-llm-chat/internal/redact"
	"github.com/hjongc/simple-llm-chat/internal/types"
)

// Client talks to the single configured chat-completions endpoint. Each call is
// one HTTP exchange; retries belong to the caller.
type Client struct {
	url       string
	apiKey    string
	userAgent string

	transport *http.Transport
	blocking  *http.Client
	streaming *http.Client
	breaker   *CircuitBreaker
	redactor  *redact.Redactor
	logger    *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithCircuitBreaker guards every call with cb.
func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

// NewClient builds a client with one transport shared by the blocking and
// streaming paths.
func NewClient(cfg config.UpstreamConfig, logger *slog.Logger, opts ...Option) *Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxConnsPerHost:     cfg.MaxConnections,
		MaxIdleConns:        cfg.MaxIdleConnections,
		MaxIdleConnsPerHost: cfg.MaxIdleConnections,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	c := &Client{
		url:       cfg.URL,
		apiKey:    cfg.APIKey,
		userAgent: cfg.UserAgent,
		transport: transport,
		blocking:  &http.Client{Timeout: cfg.Timeout, Transport: transport},
		streaming: &http.Client{Timeout: cfg.StreamTimeout, Transport: transport},
		redactor:  redact.New(cfg.APIKey),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Breaker returns the circuit breaker, or nil when none is configured.
func (c *Client) Breaker() *CircuitBreaker { return c.breaker }

// Close drops idle pooled connections.
func (c *Client) Close() {
	c.transport.CloseIdleConnections()
}

// Send performs one blocking completion call and returns the 2xx body.
func (c *Client) Send(ctx context.Context, payload *types.UpstreamPayload) ([]byte, error) {
	resp, err := c.do(ctx, c.blocking, payload, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		err = classify(ctx, "read", err)
		c.record(err)
		return nil, err
	}
	c.record(nil)
	return body, nil
}

// OpenStream performs one streaming call and hands back the open 2xx body as a
// *Stream. The stream timeout keeps running while the caller reads; the caller
// must close the body.
func (c *Client) OpenStream(ctx context.Context, payload *types.UpstreamPayload) (io.ReadCloser, error) {
	resp, err := c.do(ctx, c.streaming, payload, true)
	if err != nil {
		return nil, err
	}
	return &Stream{ReadCloser: resp.Body, client: c}, nil
}

// Stream is an open upstream event stream. A 2xx status only means the stream
// started, so the breaker hears about it once the caller reports the end.
type Stream struct {
	io.ReadCloser
	client *Client
	once   sync.Once
}

// Finish records how the stream ended: nil once the terminator arrived, the
// failure otherwise. Only the first call counts.
func (s *Stream) Finish(err error) {
	s.once.Do(func() { s.client.record(err) })
}

// Close closes the body. A stream closed without Finish counts neither way.
func (s *Stream) Close() error {
	s.once.Do(s.client.release)
	return s.ReadCloser.Close()
}

// do sends the request and converts transport failures and non-2xx statuses
// into package errors. On success the response body is open.
func (c *Client) do(ctx context.Context, hc *http.Client, payload *types.UpstreamPayload, stream bool) (*http.Response, error) {
	if c.breaker != nil && !c.breaker.Allow() {
		return nil, ErrCircuitOpen
	}

	data, err := json.Marshal(payload)
	if err != nil {
		c.release()
		return nil, fmt.Errorf("marshal upstream payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		c.release()
		return nil, fmt.Errorf("create upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("User-Agent", c.userAgent)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	op := "request"
	if stream {
		op = "stream"
	}

	resp, err := hc.Do(req)
	if err != nil {
		err = classify(ctx, op, err)
		c.record(err)
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		herr := &HTTPError{StatusCode: resp.StatusCode, Body: c.redactor.Redact(string(snippet))}
		attrs := []any{"status", resp.StatusCode, "stream", stream, "body", herr.Body}
		if masked := c.redactor.Detect(string(snippet)); len(masked) > 0 {
			attrs = append(attrs, "redacted", masked)
		}
		c.logger.Warn("upstream returned error status", attrs...)
		c.record(herr)
		return nil, herr
	}
	return resp, nil
}

// record feeds the outcome of one call to the breaker.
func (c *Client) record(err error) {
	if c.breaker == nil {
		return
	}
	var he *HTTPError
	switch {
	case err == nil:
		c.breaker.RecordSuccess()
	case errors.Is(err, context.Canceled):
		c.breaker.Abandon()
	case errors.As(err, &he) && he.StatusCode < 500:
		c.breaker.RecordSuccess()
	default:
		c.breaker.RecordFailure()
	}
}

func (c *Client) release() {
	if c.breaker != nil {
		c.breaker.Abandon()
	}
}
