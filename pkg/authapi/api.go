// Package authapi exposes the JSON auth endpoints the browser consumes
// and bridges them to the identity provider: sign-in, sign-up,
// sign-out, session resolution, refresh and the OAuth callback.
package authapi

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/nimbleslab/chatgate/pkg/authsession"
	"github.com/nimbleslab/chatgate/pkg/idp"
	"github.com/nimbleslab/chatgate/pkg/loginflow"
	"github.com/nimbleslab/chatgate/pkg/user"
)

type API struct {
	client idp.Client
	reader *authsession.Reader
	flows  loginflow.Store

	// callbackErrorPath is where browser-facing OAuth failures land;
	// the page renders the error query parameters.
	callbackErrorPath string
}

func New(client idp.Client, reader *authsession.Reader, flows loginflow.Store) *API {
	return &API{
		client:            client,
		reader:            reader,
		flows:             flows,
		callbackErrorPath: "/auth/callback",
	}
}

// MountRoutes registers the auth API on the given group, typically
// /api/auth. The whole group is exempt from the edge guard.
func (a *API) MountRoutes(group *echo.Group) {
	group.GET("/session", a.Session)
	group.GET("/me", a.Me)
	group.POST("/signin", a.SignIn)
	group.POST("/signup", a.SignUp)
	group.POST("/signout", a.SignOut)
	group.POST("/refresh", a.Refresh)
	group.POST("/forgot-password", a.ForgotPassword)
	group.POST("/verify-otp", a.VerifyOTP)
	group.POST("/update-password", a.UpdatePassword)
	group.POST("/resend-verification", a.ResendVerification)
	group.GET("/authorize", a.Authorize)
	group.GET("/callback", a.Callback)
}

type errorBody struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func respondAuthError(c echo.Context, err error) error {
	kind := idp.KindOf(err)
	body := errorBody{Code: string(kind)}

	var authErr *idp.AuthError
	if errors.As(err, &authErr) {
		body.Description = authErr.Description
	}

	return c.JSON(kind.HTTPStatus(), body)
}

// Session resolves the current user from the request cookies.
// Absence of a user is not an error: the response is always 200 with
// user null, so the client store can initialize either way.
func (a *API) Session(c echo.Context) error {
	result := a.reader.Resolve(c.Request().Context(), c.Request())
	if result.RefreshedCookie != nil {
		c.SetCookie(result.RefreshedCookie)
	}
	return c.JSON(http.StatusOK, map[string]*user.User{"user": result.User})
}

// Me is the strict variant of Session for API callers that want an
// explicit 401 instead of a null user.
func (a *API) Me(c echo.Context) error {
	result := a.reader.Resolve(c.Request().Context(), c.Request())
	if result.User == nil {
		return c.JSON(http.StatusUnauthorized, errorBody{Code: string(idp.KindSessionExpired)})
	}
	if result.RefreshedCookie != nil {
		c.SetCookie(result.RefreshedCookie)
	}
	return c.JSON(http.StatusOK, map[string]*user.User{"user": result.User})
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) SignIn(c echo.Context) error {
	var req signInRequest
	if err := c.Bind(&req); err != nil || req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, errorBody{Code: "invalid_request", Description: "email and password are required"})
	}

	session, err := a.client.SignInWithPassword(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		signIns.WithLabelValues("failure").Inc()
		return respondAuthError(c, err)
	}

	cookie, err := a.reader.EncodeCookie(session)
	if err != nil {
		slog.Error("failed to encode session cookie", "error", err)
		return c.JSON(http.StatusInternalServerError, errorBody{Code: "internal_error"})
	}
	c.SetCookie(cookie)

	signIns.WithLabelValues("success").Inc()
	return c.JSON(http.StatusOK, map[string]*user.User{"user": session.User})
}

type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Nickname string `json:"nickname"`
	Gender   string `json:"gender"`
}

func (a *API) SignUp(c echo.Context) error {
	var req signUpRequest
	if err := c.Bind(&req); err != nil || req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, errorBody{Code: "invalid_request", Description: "email and password are required"})
	}

	session, err := a.client.SignUpWithPassword(c.Request().Context(), idp.SignUpParams{
		Email:    req.Email,
		Password: req.Password,
		Nickname: req.Nickname,
		Gender:   user.ParseGender(req.Gender),
	})
	if err != nil {
		return respondAuthError(c, err)
	}

	// No tokens yet: the account exists but email confirmation is
	// still pending, so no cookie is set.
	if session.AccessToken == "" {
		return c.JSON(http.StatusOK, map[string]any{"user": session.User, "pending": true})
	}

	cookie, err := a.reader.EncodeCookie(session)
	if err != nil {
		slog.Error("failed to encode session cookie", "error", err)
		return c.JSON(http.StatusInternalServerError, errorBody{Code: "internal_error"})
	}
	c.SetCookie(cookie)

	return c.JSON(http.StatusOK, map[string]any{"user": session.User})
}

// SignOut is idempotent: it always clears the cookie and always
// answers success, whether or not a session existed.
func (a *API) SignOut(c echo.Context) error {
	result := a.reader.Resolve(c.Request().Context(), c.Request())
	if result.Session != nil {
		if err := a.client.SignOut(c.Request().Context(), result.Session.AccessToken); err != nil {
			slog.Warn("provider sign-out failed", "error", err)
		}
	}

	c.SetCookie(a.reader.ExpiredCookie())
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

// Refresh rotates the session from the cookie's refresh token.
func (a *API) Refresh(c echo.Context) error {
	result := a.reader.Resolve(c.Request().Context(), c.Request())
	if result.Session == nil {
		c.SetCookie(a.reader.ExpiredCookie())
		return c.JSON(http.StatusUnauthorized, errorBody{Code: string(idp.KindSessionExpired)})
	}

	refreshed, err := a.client.RefreshSession(c.Request().Context(), result.Session.RefreshToken)
	if err != nil || refreshed == nil {
		c.SetCookie(a.reader.ExpiredCookie())
		return c.JSON(http.StatusUnauthorized, errorBody{Code: string(idp.KindSessionExpired)})
	}
	if refreshed.User == nil {
		refreshed.User = result.User
	}

	cookie, err := a.reader.EncodeCookie(refreshed)
	if err != nil {
		slog.Error("failed to encode session cookie", "error", err)
		return c.JSON(http.StatusInternalServerError, errorBody{Code: "internal_error"})
	}
	c.SetCookie(cookie)

	return c.JSON(http.StatusOK, map[string]*user.User{"user": refreshed.User})
}

type emailRequest struct {
	Email string `json:"email"`
}

// ForgotPassword asks the provider to mail a recovery code. The answer
// is success whether or not the address has an account, so the endpoint
// cannot be used to enumerate accounts.
func (a *API) ForgotPassword(c echo.Context) error {
	var req emailRequest
	if err := c.Bind(&req); err != nil || req.Email == "" {
		return c.JSON(http.StatusBadRequest, errorBody{Code: "invalid_request", Description: "email is required"})
	}

	if err := a.client.ResetPasswordForEmail(c.Request().Context(), req.Email); err != nil {
		return respondAuthError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

type verifyOTPRequest struct {
	Email string `json:"email"`
	Token string `json:"token"`
	Type  string `json:"type"`
}

// VerifyOTP exchanges an emailed one-time code for a session cookie.
// Recovery codes sign the user in just far enough to set a new
// password; signup codes confirm the address.
func (a *API) VerifyOTP(c echo.Context) error {
	var req verifyOTPRequest
	if err := c.Bind(&req); err != nil || req.Email == "" || req.Token == "" {
		return c.JSON(http.StatusBadRequest, errorBody{Code: "invalid_request", Description: "email and token are required"})
	}
	if req.Type == "" {
		req.Type = idp.OTPTypeRecovery
	}

	session, err := a.client.VerifyOTP(c.Request().Context(), req.Email, req.Token, req.Type)
	if err != nil {
		return respondAuthError(c, err)
	}

	cookie, err := a.reader.EncodeCookie(session)
	if err != nil {
		slog.Error("failed to encode session cookie", "error", err)
		return c.JSON(http.StatusInternalServerError, errorBody{Code: "internal_error"})
	}
	c.SetCookie(cookie)

	return c.JSON(http.StatusOK, map[string]*user.User{"user": session.User})
}

type updatePasswordRequest struct {
	Password string `json:"password"`
}

// UpdatePassword sets a new password for the signed-in account.
func (a *API) UpdatePassword(c echo.Context) error {
	var req updatePasswordRequest
	if err := c.Bind(&req); err != nil || req.Password == "" {
		return c.JSON(http.StatusBadRequest, errorBody{Code: "invalid_request", Description: "password is required"})
	}

	result := a.reader.Resolve(c.Request().Context(), c.Request())
	if result.Session == nil {
		return c.JSON(http.StatusUnauthorized, errorBody{Code: string(idp.KindSessionExpired)})
	}

	updated, err := a.client.UpdatePassword(c.Request().Context(), result.Session.AccessToken, req.Password)
	if err != nil {
		return respondAuthError(c, err)
	}

	// The cookie keeps its tokens but carries the fresh user
	// projection.
	result.Session.User = updated
	cookie, err := a.reader.EncodeCookie(result.Session)
	if err != nil {
		slog.Error("failed to encode session cookie", "error", err)
		return c.JSON(http.StatusInternalServerError, errorBody{Code: "internal_error"})
	}
	c.SetCookie(cookie)

	return c.JSON(http.StatusOK, map[string]*user.User{"user": updated})
}

// ResendVerification re-sends the signup confirmation code, with the
// same enumeration-safe always-success contract as ForgotPassword.
func (a *API) ResendVerification(c echo.Context) error {
	var req emailRequest
	if err := c.Bind(&req); err != nil || req.Email == "" {
		return c.JSON(http.StatusBadRequest, errorBody{Code: "invalid_request", Description: "email is required"})
	}

	if err := a.client.ResendVerification(c.Request().Context(), req.Email); err != nil {
		return respondAuthError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

// Authorize starts a redirect-based OAuth login: it persists a login
// flow keyed by a fresh state and sends the browser to the provider.
func (a *API) Authorize(c echo.Context) error {
	flow := loginflow.New(sanitizeRedirect(c.QueryParam("redirectTo")))
	if err := a.flows.Save(c.Request().Context(), flow); err != nil {
		slog.Error("failed to save login flow", "error", err)
		return c.JSON(http.StatusInternalServerError, errorBody{Code: "internal_error"})
	}

	return c.Redirect(http.StatusFound, a.client.AuthCodeURL(flow.State, flow.Verifier))
}

// Callback completes the OAuth handshake. Every failure path is a
// redirect carrying error parameters; this endpoint never renders an
// error page of its own.
func (a *API) Callback(c echo.Context) error {
	if errCode := c.QueryParam("error"); errCode != "" {
		return a.redirectWithError(c, errCode, c.QueryParam("error_description"))
	}

	code := c.QueryParam("code")
	state := c.QueryParam("state")
	if code == "" || state == "" {
		return a.redirectWithError(c, "invalid_request", "missing code or state")
	}

	flow, err := a.flows.Redeem(c.Request().Context(), state)
	if err != nil {
		// Unknown or replayed state: the verifier is gone, so the
		// code cannot be exchanged a second time.
		return a.redirectWithError(c, "invalid_state", "login flow not found or already used")
	}

	session, err := a.client.ExchangeOAuthCode(c.Request().Context(), code, flow.Verifier)
	if err != nil {
		return a.redirectWithError(c, string(idp.KindOf(err)), "code exchange failed")
	}

	cookie, err := a.reader.EncodeCookie(session)
	if err != nil {
		slog.Error("failed to encode session cookie", "error", err)
		return a.redirectWithError(c, "internal_error", "")
	}
	c.SetCookie(cookie)

	return c.Redirect(http.StatusFound, sanitizeRedirect(flow.RedirectTo))
}

func (a *API) redirectWithError(c echo.Context, code, description string) error {
	params := url.Values{}
	params.Set("error", code)
	if description != "" {
		params.Set("error_description", description)
	}
	return c.Redirect(http.StatusFound, a.callbackErrorPath+"?"+params.Encode())
}

func sanitizeRedirect(target string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") {
		return "/"
	}
	return target
}
