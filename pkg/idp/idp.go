// Package idp wraps the external identity provider behind a uniform
// session-exchange capability. The rest of the system only ever sees
// Session and user.User values; raw provider payload shapes stay in
// this package.
package idp

import (
	"context"
	"time"

	"github.com/nimbleslab/chatgate/pkg/user"
)

// Session is the provider-issued token pair plus its projection of the
// authenticated user. At most one valid session exists per browser
// context; the tokens themselves never leave httpOnly cookies.
type Session struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	TokenType    string     `json:"token_type,omitempty"`
	ExpiresAt    time.Time  `json:"expires_at"`
	User         *user.User `json:"user,omitempty"`
}

// Expired reports whether the access token is past its expiry. A
// session without an expiry never expires locally; the provider is
// still free to reject it.
func (s *Session) Expired() bool {
	return !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt)
}

// One-time code flavors understood by VerifyOTP.
const (
	OTPTypeRecovery = "recovery"
	OTPTypeSignup   = "signup"
)

type SignUpParams struct {
	Email    string
	Password string
	Nickname string
	Gender   user.Gender
}

// Client is the session-exchange interface against the identity
// provider.
//
// GetSession and RefreshSession fail closed: provider outages and
// invalid tokens collapse to a nil session with a logged diagnostic,
// never an error the caller has to branch on. The sign-in family
// returns *AuthError so the UI can render the distinct failure kinds.
type Client interface {
	// GetSession validates the access token against the provider and
	// returns the session with its user projection, or nil if the
	// token is not (or no longer) good for anything.
	GetSession(ctx context.Context, accessToken string) (*Session, error)

	// RefreshSession exchanges a refresh token for a fresh session.
	// A nil session means the refresh token is dead and the caller
	// must treat the user as signed out.
	RefreshSession(ctx context.Context, refreshToken string) (*Session, error)

	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)

	// SignUpWithPassword registers a new account. When the provider
	// requires email confirmation the returned session carries the
	// user but no tokens.
	SignUpWithPassword(ctx context.Context, params SignUpParams) (*Session, error)

	// AuthCodeURL builds the provider authorization URL for a
	// redirect-based OAuth login with PKCE.
	AuthCodeURL(state, verifier string) string

	// ExchangeOAuthCode completes the redirect handshake. A replayed
	// code fails with an AuthError, never a crash.
	ExchangeOAuthCode(ctx context.Context, code, verifier string) (*Session, error)

	// ResetPasswordForEmail starts password recovery by mailing a
	// one-time code. Unknown addresses are not an error, so callers
	// cannot probe which accounts exist.
	ResetPasswordForEmail(ctx context.Context, email string) error

	// VerifyOTP exchanges an emailed one-time code for a session.
	// otpType is OTPTypeRecovery for password resets and
	// OTPTypeSignup for email confirmation.
	VerifyOTP(ctx context.Context, email, token, otpType string) (*Session, error)

	// UpdatePassword sets a new password for the session's account
	// and returns the updated user.
	UpdatePassword(ctx context.Context, accessToken, newPassword string) (*user.User, error)

	// ResendVerification re-sends the signup confirmation code.
	ResendVerification(ctx context.Context, email string) error

	// SignOut revokes the session at the provider. Revoking an
	// already dead session is not an error.
	SignOut(ctx context.Context, accessToken string) error

	// OnAuthStateChange registers a push listener. The returned
	// function unsubscribes and must be called on teardown.
	OnAuthStateChange(fn Listener) (unsubscribe func())
}
