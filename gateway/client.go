// Package gateway is the single choke point for protected API calls. It
// attaches the session's access token to outbound requests and, when a
// request comes back 401 with a token attached, refreshes the session and
// retries the request exactly once with the new token.
package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-auth-client/metrics"
	"github.com/jrsteele09/go-auth-client/refresh"
	"github.com/jrsteele09/go-auth-client/session"
)

const (
	defaultTimeout      = 10 * time.Second
	authorizationHeader = "Authorization"
	bearerPrefix        = "Bearer "
	requestIDHeader     = "X-Request-ID"
	drainLimit          = 4096
)

// Refresher supplies a fresh access token after an authorization failure.
// *refresh.Coordinator satisfies it.
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

var _ Refresher = (*refresh.Coordinator)(nil)

// Client wraps outbound requests with bearer authentication and transparent
// token repair. It holds no request state of its own; the session store is
// the only thing it mutates, and only through the refresher.
type Client struct {
	store      *session.Store
	refresher  Refresher
	httpClient *http.Client
}

// ClientOption defines a function type to modify the Client instance.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the timeout on the underlying HTTP client.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// New creates a gateway over the given session store and refresher.
func New(store *session.Store, refresher Refresher, options ...ClientOption) *Client {
	client := &Client{
		store:      store,
		refresher:  refresher,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, option := range options {
		option(client)
	}
	return client
}

// Request describes one outbound API call. The body is held as bytes so a
// request that needs to be retried after a refresh can always be replayed.
type Request struct {
	Method string      // HTTP method, defaults to GET
	URL    string      // absolute target URL
	Header http.Header // optional extra headers
	Body   []byte      // optional request body
}

// Send builds and issues a request from the descriptor. A request ID header
// is added when the caller did not set one, and the same ID rides on the
// retry so both attempts correlate in server logs.
func (c *Client) Send(ctx context.Context, request Request) (*http.Response, error) {
	method := request.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(request.Body) > 0 {
		body = bytes.NewReader(request.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, request.URL, body)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Send]")
	}
	for key, values := range request.Header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if req.Header.Get(requestIDHeader) == "" {
		req.Header.Set(requestIDHeader, uuid.NewString())
	}
	return c.Do(req)
}

// Do issues the request with the current access token attached as a bearer
// credential. A 401 received while a token was attached triggers one refresh
// and one retry with the refreshed token; the retried response is returned
// whatever its outcome. If the refresh is rejected the original 401 comes
// back untouched, the session having already been logged out by the
// refresher. Every other response passes through unmodified.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	accessToken := c.store.Current().AccessToken

	attempt := req
	if accessToken != "" {
		attempt = authorized(req, accessToken)
	}

	resp, err := c.httpClient.Do(attempt)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Do]")
	}
	if resp.StatusCode != http.StatusUnauthorized || accessToken == "" {
		metrics.GatewayRequestsTotal.WithLabelValues(statusClass(resp.StatusCode)).Inc()
		return resp, nil
	}

	// The attached token was rejected. The retry must carry the token this
	// refresh settles on, never a value re-read from the store.
	newToken, refreshErr := c.refresher.Refresh(req.Context())
	if refreshErr != nil {
		log.Debug().Err(refreshErr).Msg("Refresh failed, returning original response")
		metrics.GatewayRequestsTotal.WithLabelValues(statusClass(resp.StatusCode)).Inc()
		return resp, nil
	}

	if req.Body != nil && req.GetBody == nil {
		// The body was consumed by the first attempt and cannot be
		// rebuilt. The session is repaired but this call stays failed.
		log.Debug().Msg("Request body is not replayable, returning original response")
		metrics.GatewayRequestsTotal.WithLabelValues(statusClass(resp.StatusCode)).Inc()
		return resp, nil
	}

	closeBody(resp)
	metrics.GatewayRetriesTotal.Inc()

	retry, err := replay(req)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Do] replay request")
	}
	retry.Header.Set(authorizationHeader, bearerPrefix+newToken)

	retryResp, err := c.httpClient.Do(retry)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Do] retry")
	}
	metrics.GatewayRequestsTotal.WithLabelValues(statusClass(retryResp.StatusCode)).Inc()
	return retryResp, nil
}

// authorized clones the request with the bearer header set, leaving the
// caller's request untouched.
func authorized(req *http.Request, accessToken string) *http.Request {
	clone := req.Clone(req.Context())
	clone.Header.Set(authorizationHeader, bearerPrefix+accessToken)
	return clone
}

// replay rebuilds the request for the retry, restoring the body from GetBody
// when one was sent.
func replay(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		clone.Body = body
	}
	return clone, nil
}

// closeBody drains a response being discarded so the underlying connection
// can be reused for the retry.
func closeBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))
	_ = resp.Body.Close()
}

func statusClass(statusCode int) string {
	return fmt.Sprintf("%dxx", statusCode/100)
}
