// Package auth compares bearer tokens in constant time, for the two
// static tokens (consumer and admin) the broker accepts.
package auth

import (
	"crypto/subtle"
	"strings"
)

// Role is which token class a request authenticated as.
type Role string

const (
	RoleNone  Role = ""
	RoleAPI   Role = "api"
	RoleAdmin Role = "admin"
)

// Authenticator holds the two configured static tokens and classifies an
// incoming Authorization header against them.
type Authenticator struct {
	apiToken   string
	adminToken string
}

// New creates an Authenticator. An empty token disables that role
// entirely (no header value will ever match an empty configured token).
func New(apiToken, adminToken string) *Authenticator {
	return &Authenticator{apiToken: apiToken, adminToken: adminToken}
}

// Authenticate extracts a bearer token from an Authorization header value
// and reports which role it matches, if any.
func (a *Authenticator) Authenticate(authorizationHeader string) Role {
	token, ok := bearerToken(authorizationHeader)
	if !ok {
		return RoleNone
	}

	if a.adminToken != "" && constantTimeEqual(token, a.adminToken) {
		return RoleAdmin
	}
	if a.apiToken != "" && constantTimeEqual(token, a.apiToken) {
		return RoleAPI
	}
	return RoleNone
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	return strings.TrimPrefix(header, prefix), true
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
