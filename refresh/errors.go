package refresh

import "errors"

var (
	// NoSessionErr means refresh was attempted with no refresh token
	// present. Not a user-visible failure: the caller is simply already
	// logged out.
	NoSessionErr = errors.New("no session")

	// RefreshRejectedErr means the issuance endpoint refused the refresh
	// token (or the exchange failed outright). The session is logged out
	// before this error is returned; the user must re-authenticate.
	RefreshRejectedErr = errors.New("refresh rejected")
)
