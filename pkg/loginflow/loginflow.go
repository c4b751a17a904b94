// Package loginflow tracks redirect-based login attempts between the
// authorize redirect and the provider callback. Each flow binds the
// OAuth state to its PKCE verifier and the destination the user
// originally asked for.
package loginflow

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/ksuid"
	"golang.org/x/oauth2"
)

// ErrNotFound covers unknown, expired and already redeemed states, so
// a replayed callback cannot tell the three apart.
var ErrNotFound = errors.New("login flow not found")

const DefaultTTL = 10 * time.Minute

type Flow struct {
	ID         string    `json:"id"`
	State      string    `json:"state"`
	Verifier   string    `json:"verifier"`
	RedirectTo string    `json:"redirect_to,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// New mints a flow with a fresh state and PKCE verifier.
func New(redirectTo string) *Flow {
	return &Flow{
		ID:         ksuid.New().String(),
		State:      ksuid.New().String(),
		Verifier:   oauth2.GenerateVerifier(),
		RedirectTo: redirectTo,
		CreatedAt:  time.Now().UTC(),
	}
}

// Store persists pending flows. Redeem atomically consumes the flow
// for a state: a second redeem of the same state returns ErrNotFound,
// which is what stops an authorization code from being replayed.
type Store interface {
	Save(ctx context.Context, flow *Flow) error
	Redeem(ctx context.Context, state string) (*Flow, error)
}
