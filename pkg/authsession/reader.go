// Package authsession resolves the current user from request cookies.
// It is the single validation path shared by the edge guard and the
// auth API, so the two can never disagree about who is signed in.
package authsession

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nimbleslab/chatgate/pkg/idp"
	"github.com/nimbleslab/chatgate/pkg/sessioncookie"
	"github.com/nimbleslab/chatgate/pkg/user"
)

// Result is the outcome of resolving a request. A nil User means the
// request is unauthenticated; RefreshedCookie, when set, must be
// forwarded on the response so the browser picks up rotated tokens.
type Result struct {
	User            *user.User
	Session         *idp.Session
	RefreshedCookie *http.Cookie
}

type Reader struct {
	codec  *sessioncookie.Codec
	jar    *sessioncookie.Jar
	client idp.Client
}

func NewReader(codec *sessioncookie.Codec, jar *sessioncookie.Jar, client idp.Client) *Reader {
	return &Reader{codec: codec, jar: jar, client: client}
}

// EncodeCookie packs a session into a ready-to-set cookie.
func (r *Reader) EncodeCookie(session *idp.Session) (*http.Cookie, error) {
	value, err := r.codec.Encode(session)
	if err != nil {
		return nil, err
	}
	return r.jar.New(value), nil
}

// ExpiredCookie returns the cookie that clears the session.
func (r *Reader) ExpiredCookie() *http.Cookie {
	return r.jar.Expired()
}

// Resolve determines the current user for the request. It never fails:
// malformed cookies, dead refresh tokens and provider outages all
// degrade to an unauthenticated result.
func (r *Reader) Resolve(ctx context.Context, req *http.Request) *Result {
	value, ok := r.jar.Read(req)
	if !ok {
		return &Result{}
	}

	var session idp.Session
	if err := r.codec.Decode(value, &session); err != nil {
		if errors.Is(err, sessioncookie.ErrMalformed) {
			slog.Debug("dropping malformed session cookie")
		}
		return &Result{}
	}

	if session.Expired() {
		return r.refresh(ctx, &session)
	}

	if session.User == nil {
		// Cookie from before the user projection was embedded; ask
		// the provider once and treat rejection as signed out.
		full, err := r.client.GetSession(ctx, session.AccessToken)
		if err != nil || full == nil || full.User == nil {
			return &Result{}
		}
		session.User = full.User
	}

	return &Result{User: session.User, Session: &session}
}

func (r *Reader) refresh(ctx context.Context, session *idp.Session) *Result {
	refreshed, err := r.client.RefreshSession(ctx, session.RefreshToken)
	if err != nil || refreshed == nil {
		slog.Info("expired session could not be refreshed, treating as signed out")
		return &Result{}
	}

	if refreshed.User == nil {
		refreshed.User = session.User
	}
	if refreshed.User == nil {
		return &Result{}
	}

	cookie, err := r.EncodeCookie(refreshed)
	if err != nil {
		slog.Error("failed to re-encode refreshed session", "error", err)
		return &Result{}
	}

	return &Result{User: refreshed.User, Session: refreshed, RefreshedCookie: cookie}
}
