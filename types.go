package goAccount

import (
	"time"

	"github.com/MrEthical07/goAccount/internal/audit"
)

// TokenTypeBearer is the SessionResult.TokenType of every issued session.
const TokenTypeBearer = "Bearer"

// Credentials is a local email and password pair.
type Credentials struct {
	Email    string
	Password string
}

// SessionResult is returned by every successful login or refresh. The
// refresh token travels only in the cookie set on the RequestContext.
type SessionResult struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	// TwoFactorRequired is set when the account has two-factor enabled and
	// the session came from a password-only login.
	TwoFactorRequired bool      `json:"two_factor_required"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// Signup is the input of Engine.Signup.
type Signup struct {
	Name     string
	Email    string
	Password string
}

// ProfileUpdate is the input of Engine.UpdateProfile. Both fields carry the
// desired values; unchanged fields are left alone.
type ProfileUpdate struct {
	Name  string
	Email string
}

// PasswordReset is the input of Engine.ResetPassword.
type PasswordReset struct {
	Email       string
	Token       string
	NewPassword string
}

// AuditEvent and AuditSink let callers plug in their own audit destination.
type (
	AuditEvent = audit.Event
	AuditSink  = audit.Sink
)
