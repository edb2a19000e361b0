package gateway

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
)

// Transport returns an http.RoundTripper view of the gateway so it can sit
// inside a standard *http.Client. Requests gain the same bearer attachment
// and refresh-and-retry behaviour as Do; the caller's request is never
// mutated.
func (c *Client) Transport() http.RoundTripper {
	return roundTripper{client: c}
}

type roundTripper struct {
	client *Client
}

func (rt roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return rt.client.Do(req)
}

// TokenSource exposes the session as an oauth2.TokenSource for libraries
// built on golang.org/x/oauth2. The source returns the current access token
// while a session is held and otherwise asks the refresher, which fails with
// refresh.NoSessionErr when logged out. Tokens carry no expiry, so callers
// needing refresh-on-401 should use Do or Transport instead.
func (c *Client) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, client: c}
}

type tokenSource struct {
	ctx    context.Context
	client *Client
}

var _ oauth2.TokenSource = (*tokenSource)(nil)

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	snapshot := ts.client.store.Current()
	if snapshot.AccessToken != "" {
		return &oauth2.Token{AccessToken: snapshot.AccessToken, TokenType: "Bearer"}, nil
	}

	accessToken, err := ts.client.refresher.Refresh(ts.ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}, nil
}
