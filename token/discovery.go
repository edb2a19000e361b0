package token

import (
	"context"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
)

// discoveredEndpoints are the extra endpoints an issuer may advertise beyond
// what go-oidc surfaces directly.
type discoveredEndpoints struct {
	RevocationEndpoint string `json:"revocation_endpoint"`
}

// NewFromIssuer builds a client for an OAuth2/OIDC issuer by reading its
// discovery document. The resulting client speaks RFC 6749 form encoding to
// the advertised token endpoint; refresh-token revocation is available only
// when the issuer advertises a revocation endpoint. JSON-only operations
// (verify, magic links) report EndpointUnavailableErr.
func NewFromIssuer(ctx context.Context, issuerURL string, options ...ClientOption) (*Client, error) {
	if issuerURL == "" {
		return nil, MissingBaseURLErr
	}

	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, errors.Wrap(err, "[NewFromIssuer] discover issuer")
	}

	var extra discoveredEndpoints
	if err := provider.Claims(&extra); err != nil {
		return nil, errors.Wrap(err, "[NewFromIssuer] read discovery document")
	}

	tokenURL := provider.Endpoint().TokenURL
	if tokenURL == "" {
		return nil, errors.New("[NewFromIssuer] issuer advertises no token endpoint")
	}

	client, err := New(issuerURL, options...)
	if err != nil {
		return nil, err
	}
	client.wire = oauth2Wire
	client.endpoints = Endpoints{
		Obtain:    tokenURL,
		Refresh:   tokenURL,
		Blacklist: extra.RevocationEndpoint,
	}
	return client, nil
}
