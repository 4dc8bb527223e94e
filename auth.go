package nexusconsumer

import (
	"crypto/subtle"
	"strings"
)

// AuthGate checks the private api key header against the configured secret.
type AuthGate struct {
	apiKey string
}

// NewAuthGate returns a gate accepting apiKey, compared case-insensitively.
func NewAuthGate(apiKey string) AuthGate {
	return AuthGate{apiKey: strings.ToLower(apiKey)}
}

// Messages reported to the platform for rejected api keys.
const (
	missingAPIKeyMessage = "Missing private api key in request"
	invalidAPIKeyMessage = "Invalid private api key in request"
)

// Authenticate returns an *AuthError when the header is absent, blank or wrong.
func (g AuthGate) Authenticate(headers Headers) error {
	if !headers.Has(HeaderAPIKey) {
		return &AuthError{Err: ErrMissingAPIKey, Message: missingAPIKeyMessage}
	}
	values := headers.Values(HeaderAPIKey)
	if len(values) == 0 || strings.TrimSpace(values[0]) == "" {
		return invalidAPIKey()
	}
	if subtle.ConstantTimeCompare([]byte(strings.ToLower(values[0])), []byte(g.apiKey)) != 1 {
		return invalidAPIKey()
	}
	return nil
}

func invalidAPIKey() *AuthError {
	return &AuthError{Err: ErrInvalidAPIKey, Message: invalidAPIKeyMessage}
}
