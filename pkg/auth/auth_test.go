package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthenticateAdminToken(t *testing.T) {
	a := New("api-token", "admin-token")
	assert.Equal(t, RoleAdmin, a.Authenticate("Bearer admin-token"))
}

func TestAuthenticateAPIToken(t *testing.T) {
	a := New("api-token", "admin-token")
	assert.Equal(t, RoleAPI, a.Authenticate("Bearer api-token"))
}

func TestAuthenticateRejectsUnknownToken(t *testing.T) {
	a := New("api-token", "admin-token")
	assert.Equal(t, RoleNone, a.Authenticate("Bearer wrong-token"))
}

func TestAuthenticateRejectsMissingBearerPrefix(t *testing.T) {
	a := New("api-token", "admin-token")
	assert.Equal(t, RoleNone, a.Authenticate("api-token"))
}

func TestAuthenticateEmptyConfiguredTokenNeverMatches(t *testing.T) {
	a := New("", "admin-token")
	assert.Equal(t, RoleNone, a.Authenticate("Bearer "))
}
