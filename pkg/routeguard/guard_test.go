package routeguard_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nimbleslab/chatgate/pkg/authsession"
	"github.com/nimbleslab/chatgate/pkg/idp"
	"github.com/nimbleslab/chatgate/pkg/routeguard"
	"github.com/nimbleslab/chatgate/pkg/sessioncookie"
	"github.com/nimbleslab/chatgate/pkg/user"
	"github.com/stretchr/testify/assert"
)

type guardFixture struct {
	echo   *echo.Echo
	reader *authsession.Reader
	mock   *idp.Mock
}

func newGuardFixture(t *testing.T) *guardFixture {
	t.Helper()

	codec, err := sessioncookie.NewCodec(sessioncookie.GenerateKey(256), sessioncookie.GenerateKey(256))
	if err != nil {
		t.Fatal(err)
	}
	mock := idp.NewMock(nil)
	reader := authsession.NewReader(codec, sessioncookie.NewJar("chat_session", false), mock)
	guard := routeguard.NewGuard(routeguard.DefaultClassifier(), reader)

	e := echo.New()
	e.Use(guard.Middleware())
	handler := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }
	e.GET("/", handler)
	e.GET("/chat", handler)
	e.GET("/chat/room/:id", handler)
	e.GET("/sign-in", handler)
	e.GET("/api/auth/callback", handler)

	return &guardFixture{echo: e, reader: reader, mock: mock}
}

func (f *guardFixture) signIn(t *testing.T) *http.Cookie {
	t.Helper()
	f.mock.AddAccount("mia@example.com", "pw", "mia", user.GenderFemale)
	session, err := f.mock.SignInWithPassword(context.Background(), "mia@example.com", "pw")
	if err != nil {
		t.Fatal(err)
	}
	cookie, err := f.reader.EncodeCookie(session)
	if err != nil {
		t.Fatal(err)
	}
	return cookie
}

func (f *guardFixture) do(target string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	f.echo.ServeHTTP(rec, req)
	return rec
}

func TestProtectedWithoutSessionRedirects(t *testing.T) {
	f := newGuardFixture(t)

	rec := f.do("/chat")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/sign-in?redirectTo=%2Fchat", rec.Header().Get("Location"))
}

func TestProtectedRedirectKeepsQuery(t *testing.T) {
	f := newGuardFixture(t)

	rec := f.do("/chat/room/7?tab=files")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/sign-in?redirectTo=%2Fchat%2Froom%2F7%3Ftab%3Dfiles", rec.Header().Get("Location"))
}

func TestProtectedWithSessionPasses(t *testing.T) {
	f := newGuardFixture(t)
	cookie := f.signIn(t)

	rec := f.do("/chat", cookie)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthOnlyWithSessionRedirectsAway(t *testing.T) {
	f := newGuardFixture(t)
	cookie := f.signIn(t)

	rec := f.do("/sign-in", cookie)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestAuthOnlyHonorsRedirectTo(t *testing.T) {
	f := newGuardFixture(t)
	cookie := f.signIn(t)

	rec := f.do("/sign-in?redirectTo=%2Fchat%2Froom%2F7", cookie)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/chat/room/7", rec.Header().Get("Location"))
}

func TestAuthOnlyRejectsForeignRedirect(t *testing.T) {
	f := newGuardFixture(t)
	cookie := f.signIn(t)

	for _, target := range []string{
		"/sign-in?redirectTo=https%3A%2F%2Fevil.example",
		"/sign-in?redirectTo=%2F%2Fevil.example",
	} {
		rec := f.do(target, cookie)
		assert.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "/", rec.Header().Get("Location"), target)
	}
}

func TestAuthOnlyRedirectForwardsRefreshedCookie(t *testing.T) {
	f := newGuardFixture(t)

	// Expired access token, live refresh token.
	f.mock.SessionTTL = -time.Minute
	stale := f.signIn(t)
	f.mock.SessionTTL = time.Hour

	rec := f.do("/sign-in", stale)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))

	// Resolution rotated the refresh token at the provider, so the
	// redirect must carry the replacement cookie or the browser is
	// left holding a dead session.
	var rotated *http.Cookie
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == "chat_session" {
			rotated = cookie
		}
	}
	assert.NotNil(t, rotated, "refreshed cookie dropped on redirect")
	assert.NotEqual(t, stale.Value, rotated.Value)

	assert.Equal(t, http.StatusOK, f.do("/chat", rotated).Code)
}

func TestAuthOnlyWithoutSessionPasses(t *testing.T) {
	f := newGuardFixture(t)

	rec := f.do("/sign-in")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExemptNeverRedirects(t *testing.T) {
	f := newGuardFixture(t)
	cookie := f.signIn(t)

	// Signed in, signed out and garbage cookie all pass through.
	for _, cookies := range [][]*http.Cookie{
		nil,
		{cookie},
		{{Name: "chat_session", Value: "garbage"}},
	} {
		rec := f.do("/api/auth/callback", cookies...)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestMalformedCookieDegradesToSignedOut(t *testing.T) {
	f := newGuardFixture(t)

	rec := f.do("/chat", &http.Cookie{Name: "chat_session", Value: "garbage"})
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/sign-in?redirectTo=%2Fchat", rec.Header().Get("Location"))
}

func TestPublicPassesEitherWay(t *testing.T) {
	f := newGuardFixture(t)
	cookie := f.signIn(t)

	assert.Equal(t, http.StatusOK, f.do("/").Code)
	assert.Equal(t, http.StatusOK, f.do("/", cookie).Code)
}
