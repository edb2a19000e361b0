// Package authtest provides an in-process token service and protected
// resource for exercising session, refresh and gateway behaviour over real
// HTTP. Access tokens are HS256 JWTs validated against an injectable clock,
// so tests expire them by advancing time instead of sleeping.
package authtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	defaultAccessTTL = 5 * time.Minute

	obtainPath    = "/api/auth/token/"
	refreshPath   = "/api/auth/token/refresh/"
	verifyPath    = "/api/auth/token/verify/"
	blacklistPath = "/api/auth/token/blacklist/"

	// ProtectedPath is the bearer-guarded resource endpoint.
	ProtectedPath = "/api/protected/"

	contentTypeJSON = "application/json"
)

// Server simulates a token-issuing backend: password login, refresh with
// optional rotation, verification, revocation and one protected resource.
// Refresh tokens are opaque strings tracked server-side; access tokens are
// short-lived JWTs.
type Server struct {
	clock      clockwork.Clock
	signingKey []byte
	accessTTL  time.Duration
	httpServer *httptest.Server

	mu            sync.Mutex
	passwords     map[string]string // username -> password
	refreshTokens map[string]string // refresh token -> username
	rotate        bool
	refreshDown   bool
	refreshCalls  int
}

// Option defines a function type to modify the Server instance.
type Option func(*Server)

// WithClock sets the clock used for token expiry. Pass a fake clock and
// advance it to expire issued access tokens.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Server) {
		s.clock = clock
	}
}

// WithAccessTTL sets the lifetime of issued access tokens.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Server) {
		s.accessTTL = ttl
	}
}

// WithRotation makes every successful refresh rotate the refresh token,
// invalidating the presented one.
func WithRotation() Option {
	return func(s *Server) {
		s.rotate = true
	}
}

// WithUser registers a username and password accepted by the obtain endpoint.
func WithUser(username, password string) Option {
	return func(s *Server) {
		s.passwords[username] = password
	}
}

// New starts the server. Callers own its lifecycle and should arrange for
// Close, typically via t.Cleanup.
func New(options ...Option) *Server {
	server := &Server{
		clock:         clockwork.NewRealClock(),
		signingKey:    []byte(uuid.NewString()),
		accessTTL:     defaultAccessTTL,
		passwords:     map[string]string{},
		refreshTokens: map[string]string{},
	}
	for _, option := range options {
		option(server)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+obtainPath, server.obtainHandler)
	mux.HandleFunc("POST "+refreshPath, server.refreshHandler)
	mux.HandleFunc("POST "+verifyPath, server.verifyHandler)
	mux.HandleFunc("POST "+blacklistPath, server.blacklistHandler)
	mux.HandleFunc(ProtectedPath, server.protectedHandler)

	server.httpServer = httptest.NewServer(mux)
	return server
}

// Close shuts the server down.
func (s *Server) Close() {
	s.httpServer.Close()
}

// URL returns the server's base URL.
func (s *Server) URL() string {
	return s.httpServer.URL
}

// ProtectedURL returns the full URL of the protected resource.
func (s *Server) ProtectedURL() string {
	return s.httpServer.URL + ProtectedPath
}

// RefreshCalls reports how many times the refresh endpoint has been hit.
func (s *Server) RefreshCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCalls
}

// FailRefresh makes the refresh endpoint reject every request from now on,
// as a backend would after revoking all refresh tokens.
func (s *Server) FailRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshDown = true
}

// RevokeRefreshToken invalidates a single refresh token.
func (s *Server) RevokeRefreshToken(refreshToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.refreshTokens, refreshToken)
}

// Seed mints a valid token pair for the user without going through the
// obtain endpoint, for tests starting from a logged-in state.
func (s *Server) Seed(username string) (accessToken, refreshToken string) {
	return s.issue(username)
}

func (s *Server) issue(username string) (accessToken, refreshToken string) {
	accessToken = s.mintAccessToken(username)
	refreshToken = uuid.NewString()
	s.mu.Lock()
	s.refreshTokens[refreshToken] = username
	s.mu.Unlock()
	return accessToken, refreshToken
}

func (s *Server) mintAccessToken(username string) string {
	now := s.clock.Now()
	claims := jwtlib.MapClaims{
		"iss": s.httpServer.URL,
		"sub": username,
		"iat": now.Unix(),
		"exp": now.Add(s.accessTTL).Unix(),
		"jti": uuid.NewString(),
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		panic(err)
	}
	return signed
}

// verifyAccessToken checks signature and expiry against the server clock and
// returns the subject.
func (s *Server) verifyAccessToken(rawToken string) (string, bool) {
	parsed, err := jwtlib.ParseWithClaims(rawToken, jwtlib.MapClaims{}, func(t *jwtlib.Token) (any, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, jwtlib.ErrSignatureInvalid
		}
		return s.signingKey, nil
	}, jwtlib.WithTimeFunc(s.clock.Now))
	if err != nil || !parsed.Valid {
		return "", false
	}

	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return "", false
	}
	username, _ := claims["sub"].(string)
	return username, true
}

func (s *Server) obtainHandler(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, "parse_error", "Malformed request body")
		return
	}

	s.mu.Lock()
	password, known := s.passwords[request.Username]
	s.mu.Unlock()
	if !known || password != request.Password {
		writeError(w, http.StatusUnauthorized, "authentication_failed", "No active account found with the given credentials")
		return
	}

	accessToken, refreshToken := s.issue(request.Username)
	writeJSON(w, http.StatusOK, map[string]string{"access": accessToken, "refresh": refreshToken})
}

func (s *Server) refreshHandler(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Refresh string `json:"refresh"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, "parse_error", "Malformed request body")
		return
	}

	s.mu.Lock()
	s.refreshCalls++
	username, known := s.refreshTokens[request.Refresh]
	accepted := known && !s.refreshDown
	if accepted && s.rotate {
		delete(s.refreshTokens, request.Refresh)
	}
	rotate := s.rotate
	s.mu.Unlock()

	if !accepted {
		writeError(w, http.StatusUnauthorized, "token_not_valid", "Token is invalid or expired")
		return
	}

	reply := map[string]string{"access": s.mintAccessToken(username)}
	if rotate {
		rotated := uuid.NewString()
		s.mu.Lock()
		s.refreshTokens[rotated] = username
		s.mu.Unlock()
		reply["refresh"] = rotated
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) verifyHandler(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, "parse_error", "Malformed request body")
		return
	}

	if _, ok := s.verifyAccessToken(request.Token); !ok {
		writeError(w, http.StatusUnauthorized, "token_not_valid", "Token is invalid or expired")
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) blacklistHandler(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Refresh string `json:"refresh"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, "parse_error", "Malformed request body")
		return
	}

	s.mu.Lock()
	delete(s.refreshTokens, request.Refresh)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) protectedHandler(w http.ResponseWriter, r *http.Request) {
	rawToken := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	username, ok := s.verifyAccessToken(rawToken)
	if !ok {
		writeError(w, http.StatusUnauthorized, "token_not_valid", "Token is invalid or expired")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "user": username})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail, "code": code})
}
