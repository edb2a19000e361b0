package token

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	defaultTimeout = 10 * time.Second

	requestIDHeader = "X-Request-ID"
)

// Endpoints holds the paths (or absolute URLs) of the issuance endpoints.
// The defaults match a stock simplejwt deployment with the magic-link
// extension mounted alongside it.
type Endpoints struct {
	Obtain           string
	Refresh          string
	Verify           string
	Blacklist        string
	MagicLinkRequest string
	MagicLinkVerify  string
}

func defaultEndpoints() Endpoints {
	return Endpoints{
		Obtain:           "/api/auth/token/",
		Refresh:          "/api/auth/token/refresh/",
		Verify:           "/api/auth/token/verify/",
		Blacklist:        "/api/auth/token/blacklist/",
		MagicLinkRequest: "/auth/magic/request",
		MagicLinkVerify:  "/auth/magic/verify",
	}
}

// wireDialect selects how requests are encoded: JSON bodies for simplejwt
// style servers, form encoding for RFC 6749 token endpoints found through
// OIDC discovery.
type wireDialect int

const (
	jsonWire wireDialect = iota
	oauth2Wire
)

// Client talks to the token-issuance endpoints: obtaining, refreshing,
// verifying and revoking token pairs. Tokens pass through as opaque strings.
type Client struct {
	baseURL    string
	endpoints  Endpoints
	wire       wireDialect
	httpClient *http.Client
	userAgent  string
}

// ClientOption defines a function type to modify the Client instance.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client used for all calls.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the per-call timeout (default 10s). Ignored when a custom
// HTTP client is supplied.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithEndpoints overrides the endpoint paths.
func WithEndpoints(endpoints Endpoints) ClientOption {
	return func(c *Client) {
		c.endpoints = endpoints
	}
}

// WithUserAgent sets the User-Agent header sent with every call.
func WithUserAgent(userAgent string) ClientOption {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// New creates a client for a JSON-dialect issuance server rooted at baseURL.
func New(baseURL string, options ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, MissingBaseURLErr
	}

	client := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		endpoints:  defaultEndpoints(),
		wire:       jsonWire,
		httpClient: &http.Client{Timeout: defaultTimeout},
		userAgent:  "go-auth-client",
	}
	for _, option := range options {
		option(client)
	}
	return client, nil
}

// ObtainPair exchanges username/password credentials for a token pair. The
// returned grant carries a user record only when the server includes one.
func (c *Client) ObtainPair(ctx context.Context, username, password string) (*Grant, error) {
	if username == "" || password == "" {
		return nil, MissingCredentialsErr
	}

	var reply tokenReply
	var err error
	switch c.wire {
	case oauth2Wire:
		form := url.Values{}
		form.Set("grant_type", "password")
		form.Set("username", username)
		form.Set("password", password)
		err = c.postForm(ctx, c.endpoints.Obtain, form, &reply)
	default:
		err = c.postJSON(ctx, c.endpoints.Obtain, obtainRequest{Username: username, Password: password}, &reply)
	}
	if err != nil {
		return nil, errors.Wrap(err, "[Client.ObtainPair]")
	}

	pair := reply.pair()
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		return nil, MalformedResponseErr
	}
	return &Grant{Pair: pair, User: reply.User.toUser()}, nil
}

// Refresh exchanges a refresh token for a new access token. The returned
// pair's RefreshToken is non-empty only when the server rotated it.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Pair, error) {
	if refreshToken == "" {
		return nil, MissingTokenErr
	}

	var reply tokenReply
	var err error
	switch c.wire {
	case oauth2Wire:
		form := url.Values{}
		form.Set("grant_type", "refresh_token")
		form.Set("refresh_token", refreshToken)
		err = c.postForm(ctx, c.endpoints.Refresh, form, &reply)
	default:
		err = c.postJSON(ctx, c.endpoints.Refresh, refreshRequest{Refresh: refreshToken}, &reply)
	}
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Refresh]")
	}

	pair := reply.pair()
	if pair.AccessToken == "" {
		return nil, MalformedResponseErr
	}
	return &pair, nil
}

// Verify asks the server whether a token is still valid. A nil error means
// the token was accepted.
func (c *Client) Verify(ctx context.Context, token string) error {
	if token == "" {
		return MissingTokenErr
	}
	if c.wire != jsonWire {
		return EndpointUnavailableErr
	}
	if err := c.postJSON(ctx, c.endpoints.Verify, verifyRequest{Token: token}, nil); err != nil {
		return errors.Wrap(err, "[Client.Verify]")
	}
	return nil
}

// Blacklist revokes a refresh token server-side. Used on logout so a stolen
// copy of a cleared refresh token cannot mint new sessions.
func (c *Client) Blacklist(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return MissingTokenErr
	}

	var err error
	switch c.wire {
	case oauth2Wire:
		if c.endpoints.Blacklist == "" {
			return EndpointUnavailableErr
		}
		form := url.Values{}
		form.Set("token", refreshToken)
		form.Set("token_type_hint", "refresh_token")
		err = c.postForm(ctx, c.endpoints.Blacklist, form, nil)
	default:
		err = c.postJSON(ctx, c.endpoints.Blacklist, blacklistRequest{Refresh: refreshToken}, nil)
	}
	if err != nil {
		return errors.Wrap(err, "[Client.Blacklist]")
	}
	return nil
}

// RequestMagicLink asks the server to mail a one-time sign-in link.
func (c *Client) RequestMagicLink(ctx context.Context, email string) error {
	if email == "" {
		return MissingEmailErr
	}
	if c.wire != jsonWire {
		return EndpointUnavailableErr
	}
	if err := c.postJSON(ctx, c.endpoints.MagicLinkRequest, magicLinkRequest{Email: email}, nil); err != nil {
		return errors.Wrap(err, "[Client.RequestMagicLink]")
	}
	return nil
}

// VerifyMagicLink exchanges a mailed magic-link token for a full grant.
func (c *Client) VerifyMagicLink(ctx context.Context, token string) (*Grant, error) {
	if token == "" {
		return nil, MissingTokenErr
	}
	if c.wire != jsonWire {
		return nil, EndpointUnavailableErr
	}

	var reply tokenReply
	if err := c.postJSON(ctx, c.endpoints.MagicLinkVerify, magicLinkVerify{Token: token}, &reply); err != nil {
		return nil, errors.Wrap(err, "[Client.VerifyMagicLink]")
	}

	pair := reply.pair()
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		return nil, MalformedResponseErr
	}
	return &Grant{Pair: pair, User: reply.User.toUser()}, nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}
	return c.post(ctx, endpoint, "application/json", body, out)
}

func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values, out any) error {
	return c.post(ctx, endpoint, "application/x-www-form-urlencoded", []byte(form.Encode()), out)
}

func (c *Client) post(ctx context.Context, endpoint, contentType string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL(endpoint), bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(requestIDHeader, uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.apiError(resp)
	}

	if out == nil {
		// Drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return MalformedResponseErr
	}
	return nil
}

// apiError turns a non-2xx response into an APIError, keeping the server's
// detail message when the body is decodable.
func (c *Client) apiError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var reply errorReply
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&reply); err == nil {
		apiErr.Detail = reply.Detail
	}
	log.Debug().Int("status", resp.StatusCode).Str("detail", apiErr.Detail).Msg("Issuance endpoint rejected request")
	return apiErr
}

func (c *Client) endpointURL(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return c.baseURL + endpoint
}
