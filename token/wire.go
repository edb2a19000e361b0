package token

import (
	"fmt"

	"github.com/jrsteele09/go-auth-client/session"
)

// Pair is one issued access/refresh token pair. Both tokens are opaque bearer
// strings; this package never inspects their contents.
type Pair struct {
	// AccessToken is the short-lived credential for protected calls.
	// Usage: sent as "Authorization: Bearer <access_token>".
	AccessToken string

	// RefreshToken is the long-lived credential exchanged for new access
	// tokens. Empty after a refresh when the server chose not to rotate it.
	RefreshToken string
}

// Grant is a successful authentication result: the issued pair plus the user
// record when the endpoint returns one (magic-link verification does, the
// plain password grant does not).
type Grant struct {
	Pair
	User *session.User
}

// obtainRequest is the password-grant request body.
type obtainRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// refreshRequest asks for a fresh access token.
type refreshRequest struct {
	Refresh string `json:"refresh"`
}

// verifyRequest asks whether a token is still valid.
type verifyRequest struct {
	Token string `json:"token"`
}

// blacklistRequest revokes a refresh token server-side.
type blacklistRequest struct {
	Refresh string `json:"refresh"`
}

// magicLinkRequest asks the server to mail a sign-in link.
type magicLinkRequest struct {
	Email string `json:"email"`
}

// magicLinkVerify exchanges a mailed token for a session.
type magicLinkVerify struct {
	Token string `json:"token"`
}

// tokenReply decodes every token-bearing response the supported issuance
// endpoints produce. Servers disagree on key names ("access" vs
// "access_token"), so both spellings are accepted.
type tokenReply struct {
	Access       *string   `json:"access,omitempty"`
	AccessToken  *string   `json:"access_token,omitempty"`
	Refresh      *string   `json:"refresh,omitempty"`
	RefreshToken *string   `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresIn    int       `json:"expires_in,omitempty"`
	User         *wireUser `json:"user,omitempty"`
}

// pair normalises the reply into a Pair regardless of key spelling.
func (r tokenReply) pair() Pair {
	var pair Pair
	if r.Access != nil {
		pair.AccessToken = *r.Access
	} else if r.AccessToken != nil {
		pair.AccessToken = *r.AccessToken
	}
	if r.Refresh != nil {
		pair.RefreshToken = *r.Refresh
	} else if r.RefreshToken != nil {
		pair.RefreshToken = *r.RefreshToken
	}
	return pair
}

// wireUser tolerates the user shapes the supported endpoints return. IDs
// arrive as strings or numbers depending on the server.
type wireUser struct {
	ID       any    `json:"id,omitempty"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
}

func (u *wireUser) toUser() *session.User {
	if u == nil {
		return nil
	}
	user := &session.User{
		Username: u.Username,
		Email:    u.Email,
		Name:     u.Name,
	}
	if u.ID != nil {
		user.ID = fmt.Sprint(u.ID)
	}
	return user
}

// errorReply is the error body shape shared by the supported endpoints.
type errorReply struct {
	Detail string `json:"detail,omitempty"`
	Code   string `json:"code,omitempty"`
}
