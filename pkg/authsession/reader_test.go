package authsession_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nimbleslab/chatgate/pkg/authsession"
	"github.com/nimbleslab/chatgate/pkg/idp"
	"github.com/nimbleslab/chatgate/pkg/sessioncookie"
	"github.com/nimbleslab/chatgate/pkg/user"
	"github.com/stretchr/testify/assert"
)

func newReader(t *testing.T, mock *idp.Mock) *authsession.Reader {
	t.Helper()
	codec, err := sessioncookie.NewCodec(sessioncookie.GenerateKey(256), sessioncookie.GenerateKey(256))
	if err != nil {
		t.Fatal(err)
	}
	return authsession.NewReader(codec, sessioncookie.NewJar("chat_session", false), mock)
}

func requestWithCookie(t *testing.T, reader *authsession.Reader, session *idp.Session) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/chat", nil)
	cookie, err := reader.EncodeCookie(session)
	if err != nil {
		t.Fatal(err)
	}
	req.AddCookie(cookie)
	return req
}

func TestResolveNoCookie(t *testing.T) {
	reader := newReader(t, idp.NewMock(nil))

	res := reader.Resolve(context.Background(), httptest.NewRequest(http.MethodGet, "/chat", nil))
	assert.Nil(t, res.User)
	assert.Nil(t, res.RefreshedCookie)
}

func TestResolveMalformedCookie(t *testing.T) {
	reader := newReader(t, idp.NewMock(nil))

	req := httptest.NewRequest(http.MethodGet, "/chat", nil)
	req.AddCookie(&http.Cookie{Name: "chat_session", Value: "not-a-session"})

	res := reader.Resolve(context.Background(), req)
	assert.Nil(t, res.User)
}

func TestResolveValidSession(t *testing.T) {
	mock := idp.NewMock(nil)
	mock.AddAccount("mia@example.com", "pw", "mia", user.GenderFemale)
	session, err := mock.SignInWithPassword(context.Background(), "mia@example.com", "pw")
	assert.NoError(t, err)

	reader := newReader(t, mock)
	res := reader.Resolve(context.Background(), requestWithCookie(t, reader, session))

	assert.NotNil(t, res.User)
	assert.Equal(t, "mia@example.com", res.User.Email)
	assert.Nil(t, res.RefreshedCookie, "fresh session needs no cookie rotation")
}

func TestResolveExpiredSessionRefreshes(t *testing.T) {
	mock := idp.NewMock(nil)
	mock.AddAccount("mia@example.com", "pw", "mia", user.GenderFemale)
	session, err := mock.SignInWithPassword(context.Background(), "mia@example.com", "pw")
	assert.NoError(t, err)

	// Age the cookie copy past its expiry; the refresh token is still
	// good at the provider.
	stale := *session
	stale.ExpiresAt = time.Now().Add(-time.Minute)

	reader := newReader(t, mock)
	res := reader.Resolve(context.Background(), requestWithCookie(t, reader, &stale))

	assert.NotNil(t, res.User)
	assert.NotNil(t, res.RefreshedCookie, "refresh must rotate the cookie")
	assert.NotEqual(t, session.AccessToken, res.Session.AccessToken)
}

func TestResolveDeadRefreshTokenSignsOut(t *testing.T) {
	mock := idp.NewMock(nil)
	mock.AddAccount("mia@example.com", "pw", "mia", user.GenderFemale)

	stale := &idp.Session{
		AccessToken:  "at-gone",
		RefreshToken: "rt-gone",
		ExpiresAt:    time.Now().Add(-time.Minute),
		User:         &user.User{ID: "u-1", Email: "mia@example.com"},
	}

	reader := newReader(t, mock)
	res := reader.Resolve(context.Background(), requestWithCookie(t, reader, stale))

	assert.Nil(t, res.User)
	assert.Nil(t, res.RefreshedCookie)
}
