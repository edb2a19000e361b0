package token

import (
	"errors"
	"fmt"
)

var (
	MissingBaseURLErr     = errors.New("missing base URL")
	MissingCredentialsErr = errors.New("missing credentials")
	MissingTokenErr       = errors.New("missing token")
	MissingEmailErr       = errors.New("missing email")
	MalformedResponseErr  = errors.New("malformed token response")

	// EndpointUnavailableErr is returned for operations the configured
	// issuer does not expose (e.g. magic links on an OAuth2 issuer).
	EndpointUnavailableErr = errors.New("endpoint not available for this issuer")
)

// APIError is a non-2xx reply from the issuance endpoint. Detail carries the
// server's explanation when the body was decodable.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("issuance endpoint returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("issuance endpoint returned status %d: %s", e.StatusCode, e.Detail)
}

// StatusOf returns the HTTP status of an APIError, or zero when the error is
// not an issuance-endpoint rejection.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
