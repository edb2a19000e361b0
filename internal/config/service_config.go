package config

import "time"

const (
	baseURLVar   = "AUTH_BASE_URL"
	issuerURLVar = "AUTH_ISSUER_URL"
)

// ServiceConfig describes how to reach the token-issuance service.
type ServiceConfig interface {
	GetBaseURL() string
	GetIssuerURL() string
	GetRequestTimeout() time.Duration
}

type Service struct{}

var _ ServiceConfig = Service{}

// GetBaseURL returns the base URL of the token service (e.g., "https://api.example.com")
// All fixed token endpoints are resolved relative to it
func (Service) GetBaseURL() string {
	return GetEnv(baseURLVar, "http://localhost:8000")
}

// GetIssuerURL returns the OIDC issuer to discover endpoints from. When empty
// the fixed JSON endpoints under the base URL are used instead.
func (Service) GetIssuerURL() string {
	return GetEnv(issuerURLVar, "")
}

func (Service) GetRequestTimeout() time.Duration {
	return 10 * time.Second
}
