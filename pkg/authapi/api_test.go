package authapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/nimbleslab/chatgate/pkg/authapi"
	"github.com/nimbleslab/chatgate/pkg/authsession"
	"github.com/nimbleslab/chatgate/pkg/idp"
	"github.com/nimbleslab/chatgate/pkg/loginflow"
	"github.com/nimbleslab/chatgate/pkg/sessioncookie"
	"github.com/nimbleslab/chatgate/pkg/user"
	"github.com/stretchr/testify/assert"
)

type apiFixture struct {
	echo   *echo.Echo
	mock   *idp.Mock
	reader *authsession.Reader
	jar    *sessioncookie.Jar
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	codec, err := sessioncookie.NewCodec(sessioncookie.GenerateKey(256), sessioncookie.GenerateKey(256))
	if err != nil {
		t.Fatal(err)
	}
	jar := sessioncookie.NewJar("chat_session", false)
	mock := idp.NewMock(nil)
	reader := authsession.NewReader(codec, jar, mock)
	api := authapi.New(mock, reader, loginflow.NewMemoryStore(0))

	e := echo.New()
	api.MountRoutes(e.Group("/api/auth"))

	return &apiFixture{echo: e, mock: mock, reader: reader, jar: jar}
}

func (f *apiFixture) post(target, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	f.echo.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) get(target string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	f.echo.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestSignInSuccessSetsCookie(t *testing.T) {
	f := newAPIFixture(t)
	f.mock.AddAccount("mia@example.com", "correct-horse", "mia", user.GenderFemale)

	rec := f.post("/api/auth/signin", `{"email":"mia@example.com","password":"correct-horse"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody[map[string]*user.User](t, rec)
	assert.NotNil(t, body["user"])
	assert.Equal(t, "mia@example.com", body["user"].Email)

	cookie := sessionCookie(t, rec, "chat_session")
	assert.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	// The cookie authenticates follow-up session resolution.
	sessionRec := f.get("/api/auth/session", cookie)
	assert.Equal(t, http.StatusOK, sessionRec.Code)
	sessionBody := decodeBody[map[string]*user.User](t, sessionRec)
	assert.NotNil(t, sessionBody["user"])
}

func TestSignInWrongPassword(t *testing.T) {
	f := newAPIFixture(t)
	f.mock.AddAccount("mia@example.com", "correct-horse", "mia", user.GenderFemale)

	rec := f.post("/api/auth/signin", `{"email":"mia@example.com","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	body := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "invalid_credentials", body["error"])
	assert.Nil(t, sessionCookie(t, rec, "chat_session"))
}

func TestSignInUnverifiedEmail(t *testing.T) {
	f := newAPIFixture(t)
	f.mock.AddUnverifiedAccount("new@example.com", "pw")

	rec := f.post("/api/auth/signin", `{"email":"new@example.com","password":"pw"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "email_not_verified", decodeBody[map[string]string](t, rec)["error"])
}

func TestSignInMissingFields(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.post("/api/auth/signin", `{"email":"mia@example.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionWithoutCookie(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.get("/api/auth/session")
	assert.Equal(t, http.StatusOK, rec.Code, "absence of a user is not an error")
	body := decodeBody[map[string]*user.User](t, rec)
	assert.Nil(t, body["user"])
}

func TestMeWithoutCookie(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.get("/api/auth/me")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSignOutIsIdempotent(t *testing.T) {
	f := newAPIFixture(t)
	f.mock.AddAccount("mia@example.com", "pw", "mia", user.GenderFemale)

	signInRec := f.post("/api/auth/signin", `{"email":"mia@example.com","password":"pw"}`)
	cookie := sessionCookie(t, signInRec, "chat_session")
	assert.NotNil(t, cookie)

	first := f.post("/api/auth/signout", "", cookie)
	assert.Equal(t, http.StatusOK, first.Code)
	assert.True(t, decodeBody[map[string]bool](t, first)["success"])
	cleared := sessionCookie(t, first, "chat_session")
	assert.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)

	// Again, with the now dead cookie, and once with none at all.
	second := f.post("/api/auth/signout", "", cookie)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.True(t, decodeBody[map[string]bool](t, second)["success"])

	third := f.post("/api/auth/signout", "")
	assert.Equal(t, http.StatusOK, third.Code)
	assert.True(t, decodeBody[map[string]bool](t, third)["success"])
}

func TestSignUpPendingConfirmation(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.post("/api/auth/signup", `{"email":"new@example.com","password":"pw","nickname":"newbie","gender":"other"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, true, body["pending"])
	assert.Nil(t, sessionCookie(t, rec, "chat_session"), "no cookie before confirmation")
}

func TestPasswordRecoveryRoundTrip(t *testing.T) {
	f := newAPIFixture(t)
	f.mock.AddAccount("mia@example.com", "old-pw", "mia", user.GenderFemale)

	rec := f.post("/api/auth/forgot-password", `{"email":"mia@example.com"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[map[string]bool](t, rec)["success"])

	code := f.mock.LastOTP("mia@example.com")
	assert.NotEmpty(t, code)

	verifyRec := f.post("/api/auth/verify-otp",
		`{"email":"mia@example.com","token":"`+code+`","type":"recovery"}`)
	assert.Equal(t, http.StatusOK, verifyRec.Code)
	cookie := sessionCookie(t, verifyRec, "chat_session")
	assert.NotNil(t, cookie, "verified code yields a session cookie")

	updateRec := f.post("/api/auth/update-password", `{"password":"new-pw"}`, cookie)
	assert.Equal(t, http.StatusOK, updateRec.Code)

	// The old password is dead, the new one works.
	assert.Equal(t, http.StatusUnauthorized,
		f.post("/api/auth/signin", `{"email":"mia@example.com","password":"old-pw"}`).Code)
	assert.Equal(t, http.StatusOK,
		f.post("/api/auth/signin", `{"email":"mia@example.com","password":"new-pw"}`).Code)
}

func TestForgotPasswordUnknownEmail(t *testing.T) {
	f := newAPIFixture(t)

	// Same answer as for a known account.
	rec := f.post("/api/auth/forgot-password", `{"email":"nobody@example.com"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[map[string]bool](t, rec)["success"])
}

func TestVerifyOTPWrongCode(t *testing.T) {
	f := newAPIFixture(t)
	f.mock.AddAccount("mia@example.com", "pw", "mia", user.GenderFemale)
	f.post("/api/auth/forgot-password", `{"email":"mia@example.com"}`)

	rec := f.post("/api/auth/verify-otp", `{"email":"mia@example.com","token":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_credentials", decodeBody[map[string]string](t, rec)["error"])
	assert.Nil(t, sessionCookie(t, rec, "chat_session"))
}

func TestUpdatePasswordWithoutSession(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.post("/api/auth/update-password", `{"password":"new-pw"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "session_expired", decodeBody[map[string]string](t, rec)["error"])
}

func TestResendVerificationConfirmsAccount(t *testing.T) {
	f := newAPIFixture(t)
	f.mock.AddUnverifiedAccount("new@example.com", "pw")

	assert.Equal(t, http.StatusUnauthorized,
		f.post("/api/auth/signin", `{"email":"new@example.com","password":"pw"}`).Code)

	rec := f.post("/api/auth/resend-verification", `{"email":"new@example.com"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	code := f.mock.LastOTP("new@example.com")
	assert.NotEmpty(t, code)

	verifyRec := f.post("/api/auth/verify-otp",
		`{"email":"new@example.com","token":"`+code+`","type":"signup"}`)
	assert.Equal(t, http.StatusOK, verifyRec.Code)
	assert.NotNil(t, sessionCookie(t, verifyRec, "chat_session"))

	// The confirmed account can sign in with its password.
	assert.Equal(t, http.StatusOK,
		f.post("/api/auth/signin", `{"email":"new@example.com","password":"pw"}`).Code)
}

func TestOAuthRoundTrip(t *testing.T) {
	f := newAPIFixture(t)
	f.mock.AddAccount("mia@example.com", "pw", "mia", user.GenderFemale)

	authorizeRec := f.get("/api/auth/authorize?redirectTo=%2Fchat")
	assert.Equal(t, http.StatusFound, authorizeRec.Code)

	authURL, err := url.Parse(authorizeRec.Header().Get("Location"))
	assert.NoError(t, err)
	state := authURL.Query().Get("state")
	assert.NotEmpty(t, state)

	code := f.mock.IssueCode("mia@example.com")
	callbackRec := f.get("/api/auth/callback?code=" + code + "&state=" + state)
	assert.Equal(t, http.StatusFound, callbackRec.Code)
	assert.Equal(t, "/chat", callbackRec.Header().Get("Location"))
	assert.NotNil(t, sessionCookie(t, callbackRec, "chat_session"))
}

func TestOAuthCallbackReplay(t *testing.T) {
	f := newAPIFixture(t)
	f.mock.AddAccount("mia@example.com", "pw", "mia", user.GenderFemale)

	authorizeRec := f.get("/api/auth/authorize")
	authURL, _ := url.Parse(authorizeRec.Header().Get("Location"))
	state := authURL.Query().Get("state")
	code := f.mock.IssueCode("mia@example.com")

	first := f.get("/api/auth/callback?code=" + code + "&state=" + state)
	assert.Equal(t, http.StatusFound, first.Code)

	// Replaying the same callback fails with a redirect, not a crash.
	replay := f.get("/api/auth/callback?code=" + code + "&state=" + state)
	assert.Equal(t, http.StatusFound, replay.Code)
	location, _ := url.Parse(replay.Header().Get("Location"))
	assert.Equal(t, "/auth/callback", location.Path)
	assert.Equal(t, "invalid_state", location.Query().Get("error"))
	assert.Nil(t, sessionCookie(t, replay, "chat_session"))
}

func TestOAuthCallbackProviderError(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.get("/api/auth/callback?error=access_denied&error_description=user+cancelled")
	assert.Equal(t, http.StatusFound, rec.Code)
	location, _ := url.Parse(rec.Header().Get("Location"))
	assert.Equal(t, "access_denied", location.Query().Get("error"))
}

func TestRefreshRotatesSession(t *testing.T) {
	f := newAPIFixture(t)
	f.mock.AddAccount("mia@example.com", "pw", "mia", user.GenderFemale)

	signInRec := f.post("/api/auth/signin", `{"email":"mia@example.com","password":"pw"}`)
	cookie := sessionCookie(t, signInRec, "chat_session")

	refreshRec := f.post("/api/auth/refresh", "", cookie)
	assert.Equal(t, http.StatusOK, refreshRec.Code)
	rotated := sessionCookie(t, refreshRec, "chat_session")
	assert.NotNil(t, rotated)
	assert.NotEqual(t, cookie.Value, rotated.Value)
}

func TestRefreshWithoutSession(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.post("/api/auth/refresh", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSignOutStoreInteraction(t *testing.T) {
	// Sign-out twice leaves the client store signed out both times.
	f := newAPIFixture(t)
	f.mock.AddAccount("mia@example.com", "pw", "mia", user.GenderFemale)

	session, err := f.mock.SignInWithPassword(context.Background(), "mia@example.com", "pw")
	assert.NoError(t, err)

	var events []idp.Event
	f.mock.OnAuthStateChange(func(event idp.Event, _ *idp.Session) {
		events = append(events, event)
	})

	cookie, err := f.reader.EncodeCookie(session)
	assert.NoError(t, err)
	f.post("/api/auth/signout", "", cookie)
	f.post("/api/auth/signout", "", cookie)

	assert.Equal(t, []idp.Event{idp.EventSignedOut, idp.EventSignedOut}, events)
}
