package session

import "time"

// User is the opaque identity record attached to an authenticated session.
// The fields mirror what the issuance endpoint returns on login; the client
// never derives authorisation decisions from them.
type User struct {
	ID       string `json:"id,omitempty"`       // Server-side identifier
	Username string `json:"username,omitempty"` // Unique username
	Email    string `json:"email,omitempty"`    // User's email address
	Name     string `json:"name,omitempty"`     // Display name
}

// Snapshot is the complete record of the current authentication state. A
// snapshot is either fully populated (user and both tokens present) or fully
// empty; no partial snapshot is ever observable or persisted. Tokens are
// opaque bearer strings, never parsed by this package.
type Snapshot struct {
	User         *User     `json:"user,omitempty"`         // Present iff authenticated
	AccessToken  string    `json:"accessToken,omitempty"`  // Short-lived bearer credential
	RefreshToken string    `json:"refreshToken,omitempty"` // Long-lived credential, used only to refresh
	SavedAt      time.Time `json:"savedAt,omitzero"`       // When the snapshot was last written
}

// Authenticated reports whether the snapshot represents a logged-in user.
// Always derived, never stored, so it cannot drift from the tokens.
func (s Snapshot) Authenticated() bool {
	return s.User != nil && s.AccessToken != ""
}

// Complete reports whether every field a stored session needs is present.
// Loaders treat any stored record that is neither complete nor empty as
// corrupt.
func (s Snapshot) Complete() bool {
	return s.User != nil && s.AccessToken != "" && s.RefreshToken != ""
}

// Empty reports whether the snapshot carries no session at all.
func (s Snapshot) Empty() bool {
	return s.User == nil && s.AccessToken == "" && s.RefreshToken == ""
}

// clone returns a copy that shares no pointers with the receiver.
func (s Snapshot) clone() Snapshot {
	if s.User == nil {
		return s
	}
	user := *s.User
	s.User = &user
	return s
}
