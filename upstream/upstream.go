// Package upstream is the boundary for server-to-server HTTP calls.
//
// Calls never return a bare error. Every outcome is a tagged Result so callers
// branch on Kind and Status instead of probing error strings.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	HeaderCorrelationID = "x-correlation-id"

	// DefaultTimeout bounds every server-to-server call.
	DefaultTimeout = 10 * time.Second

	maxResponseBody = 1 << 20
)

// Kind tags the outcome of an upstream call.
type Kind int

const (
	KindOK Kind = iota
	KindNetworkError
	KindHTTPError
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindNetworkError:
		return "network_error"
	case KindHTTPError:
		return "http_error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result is the outcome of a call. Status, Header and Body are set for KindOK and
// KindHTTPError; Err is set for KindNetworkError.
type Result struct {
	Kind   Kind
	Status int
	Header http.Header
	Body   []byte
	Err    error
}

// OK reports whether the call returned a 2xx status.
func (r Result) OK() bool {
	return r.Kind == KindOK
}

// DecodeJSON unmarshals the response body into v.
func (r Result) DecodeJSON(v any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("empty response body")
	}
	return json.Unmarshal(r.Body, v)
}

// Request describes one call.
type Request struct {
	Method      string
	URL         string
	BearerToken string
	Header      http.Header
	// JSON is marshalled as the request body when non-nil.
	JSON any
}

// Client performs upstream calls.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	logger     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.timeout = d }
}

// WithLogger sets the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: http.DefaultClient,
		timeout:    DefaultTimeout,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do performs req. The call is detached from ctx cancellation and bounded by the
// client timeout, so a client that disconnects mid-login does not abort it.
func (c *Client) Do(ctx context.Context, req Request) Result {
	callCtx, cancel := Detach(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if req.JSON != nil {
		payload, err := json.Marshal(req.JSON)
		if err != nil {
			return Result{Kind: KindNetworkError, Err: fmt.Errorf("encode request body: %w", err)}
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(callCtx, req.Method, req.URL, body)
	if err != nil {
		return Result{Kind: KindNetworkError, Err: fmt.Errorf("build request: %w", err)}
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if req.BearerToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.BearerToken)
	}
	if id := CorrelationID(ctx); id != "" {
		httpReq.Header.Set(HeaderCorrelationID, id)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Debug().Err(err).Str("method", req.Method).Str("url", req.URL).Msg("upstream call failed")
		return Result{Kind: KindNetworkError, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return Result{Kind: KindNetworkError, Err: fmt.Errorf("read response body: %w", err)}
	}

	result := Result{Kind: KindOK, Status: resp.StatusCode, Header: resp.Header, Body: respBody}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		result.Kind = KindHTTPError
	}
	c.logger.Debug().Str("method", req.Method).Str("url", req.URL).Int("status", resp.StatusCode).Msg("upstream call")
	return result
}

// Detach returns a context that keeps ctx's values but not its cancellation,
// bounded by timeout.
func Detach(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

type correlationKey struct{}

// WithCorrelationID stores the inbound correlation id for propagation.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the correlation id stored in ctx, if any.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
