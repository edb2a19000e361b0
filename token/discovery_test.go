package token_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-auth-client/token"
)

// fakeIssuer runs an OIDC issuer serving a discovery document plus form
// encoded token and revocation endpoints
func fakeIssuer(t *testing.T, withRevocation bool) (issuerURL string) {
	t.Helper()

	var issuer string
	mux := http.NewServeMux()

	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		doc := fmt.Sprintf(`{
			"issuer": %q,
			"authorization_endpoint": %q,
			"token_endpoint": %q,
			"jwks_uri": %q`, issuer, issuer+"/oauth2/authorize", issuer+"/oauth2/token", issuer+"/oauth2/keys")
		if withRevocation {
			doc += fmt.Sprintf(`, "revocation_endpoint": %q`, issuer+"/oauth2/revoke")
		}
		doc += "}"
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, doc)
	})

	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())

		switch r.PostFormValue("grant_type") {
		case "refresh_token":
			require.Equal(t, testRefreshToken, r.PostFormValue("refresh_token"))
		case "password":
			require.Equal(t, testUsername, r.PostFormValue("username"))
			require.Equal(t, testPassword, r.PostFormValue("password"))
		default:
			t.Errorf("unexpected grant_type %q", r.PostFormValue("grant_type"))
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":%q,"refresh_token":%q,"token_type":"bearer","expires_in":900}`,
			newAccessToken, newRefreshToken)
	})

	mux.HandleFunc("/oauth2/revoke", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, testRefreshToken, r.PostFormValue("token"))
		require.Equal(t, "refresh_token", r.PostFormValue("token_type_hint"))
		w.WriteHeader(http.StatusOK)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	issuer = server.URL
	return issuer
}

// TestNewFromIssuer_RefreshUsesDiscoveredTokenEndpoint tests that refresh
// speaks RFC 6749 form encoding to the advertised token endpoint
func TestNewFromIssuer_RefreshUsesDiscoveredTokenEndpoint(t *testing.T) {
	issuer := fakeIssuer(t, true)

	client, err := token.NewFromIssuer(context.Background(), issuer)
	require.NoError(t, err)

	pair, err := client.Refresh(context.Background(), testRefreshToken)
	require.NoError(t, err)
	require.Equal(t, newAccessToken, pair.AccessToken)
	require.Equal(t, newRefreshToken, pair.RefreshToken)
}

// TestNewFromIssuer_ObtainUsesPasswordGrant tests the password grant encoding
func TestNewFromIssuer_ObtainUsesPasswordGrant(t *testing.T) {
	issuer := fakeIssuer(t, true)

	client, err := token.NewFromIssuer(context.Background(), issuer)
	require.NoError(t, err)

	grant, err := client.ObtainPair(context.Background(), testUsername, testPassword)
	require.NoError(t, err)
	require.Equal(t, newAccessToken, grant.AccessToken)
	require.Equal(t, newRefreshToken, grant.RefreshToken)
}

// TestNewFromIssuer_BlacklistUsesRevocationEndpoint tests RFC 7009 revocation
func TestNewFromIssuer_BlacklistUsesRevocationEndpoint(t *testing.T) {
	issuer := fakeIssuer(t, true)

	client, err := token.NewFromIssuer(context.Background(), issuer)
	require.NoError(t, err)

	require.NoError(t, client.Blacklist(context.Background(), testRefreshToken))
}

// TestNewFromIssuer_WithoutRevocationEndpoint tests that revocation is
// reported unavailable when the issuer does not advertise it
func TestNewFromIssuer_WithoutRevocationEndpoint(t *testing.T) {
	issuer := fakeIssuer(t, false)

	client, err := token.NewFromIssuer(context.Background(), issuer)
	require.NoError(t, err)

	err = client.Blacklist(context.Background(), testRefreshToken)
	require.ErrorIs(t, err, token.EndpointUnavailableErr)
}

// TestNewFromIssuer_JSONOnlyOperationsUnavailable tests that verify and magic
// links are not offered on an OAuth2 issuer
func TestNewFromIssuer_JSONOnlyOperationsUnavailable(t *testing.T) {
	issuer := fakeIssuer(t, true)

	client, err := token.NewFromIssuer(context.Background(), issuer)
	require.NoError(t, err)

	require.ErrorIs(t, client.Verify(context.Background(), testAccessToken), token.EndpointUnavailableErr)
	require.ErrorIs(t, client.RequestMagicLink(context.Background(), "alice@example.com"), token.EndpointUnavailableErr)

	_, err = client.VerifyMagicLink(context.Background(), "magic-token-1")
	require.ErrorIs(t, err, token.EndpointUnavailableErr)
}
