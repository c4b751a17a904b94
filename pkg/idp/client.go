package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nimbleslab/chatgate/pkg/user"
	"golang.org/x/oauth2"
)

// Config describes the remote identity provider. The provider speaks a
// GoTrue-style REST API: password and refresh grants on /token, user
// lookup on /user and revocation on /logout, plus a standard OAuth
// authorization code flow for social logins.
type Config struct {
	BaseURL      string `yaml:"base_url" validate:"required_if=Mock false"`
	APIKey       string `yaml:"api_key"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURI  string `yaml:"redirect_uri"`

	// Mock replaces the remote provider with the in-process mock.
	Mock bool `yaml:"mock"`
}

type httpClient struct {
	cfg    Config
	http   *http.Client
	oauth  *oauth2.Config
	events *Events
}

// NewClient returns a Client for the configured remote provider.
func NewClient(cfg Config, events *Events) Client {
	if events == nil {
		events = NewEvents()
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	cfg.BaseURL = base
	return &httpClient{
		cfg:  cfg,
		http: &http.Client{Timeout: 10 * time.Second},
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  base + "/authorize",
				TokenURL: base + "/token",
			},
			RedirectURL: cfg.RedirectURI,
		},
		events: events,
	}
}

// tokenResponse is the raw provider token payload. The user claims are
// kept as a map and projected exactly once, in session().
type tokenResponse struct {
	AccessToken  string         `json:"access_token"`
	TokenType    string         `json:"token_type"`
	ExpiresIn    int            `json:"expires_in"`
	RefreshToken string         `json:"refresh_token"`
	User         map[string]any `json:"user"`
}

func (t *tokenResponse) session() *Session {
	s := &Session{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		User:         user.FromClaims(t.User),
	}
	if t.ExpiresIn > 0 {
		s.ExpiresAt = time.Now().Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	return s
}

type providerError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
	Message     string `json:"msg"`
}

func (e *providerError) text() string {
	if e.Description != "" {
		return e.Description
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

// mapProviderError translates a provider error response into the auth
// error taxonomy.
func mapProviderError(status int, body []byte) *AuthError {
	if status == http.StatusTooManyRequests {
		return NewAuthError(KindRateLimited, "too many attempts, try again later")
	}
	if status >= http.StatusInternalServerError {
		return NewAuthError(KindProviderUnavailable, fmt.Sprintf("provider returned status %d", status))
	}

	perr := new(providerError)
	if err := json.Unmarshal(body, perr); err != nil {
		return NewAuthError(KindUnknown, fmt.Sprintf("provider returned status %d", status))
	}

	text := perr.text()
	switch {
	case strings.Contains(text, "Invalid login credentials"), perr.Code == "invalid_grant":
		return NewAuthError(KindInvalidCredentials, "email or password is incorrect")
	case strings.Contains(text, "Email not confirmed"):
		return NewAuthError(KindEmailNotVerified, "email address has not been verified")
	default:
		return NewAuthError(KindUnknown, text)
	}
}

// postJSON returns the decoded token envelope plus the raw body, for
// endpoints that answer something other than a token response.
func (c *httpClient) postJSON(ctx context.Context, url string, body any, bearer string) (*tokenResponse, []byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("apikey", c.cfg.APIKey)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, NewAuthError(KindProviderUnavailable, err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, NewAuthError(KindProviderUnavailable, err.Error())
	}

	if resp.StatusCode != http.StatusOK {
		return nil, nil, mapProviderError(resp.StatusCode, respBody)
	}

	token := new(tokenResponse)
	if err := json.Unmarshal(respBody, token); err != nil {
		return nil, nil, fmt.Errorf("decode token response: %w", err)
	}
	return token, respBody, nil
}

func (c *httpClient) GetSession(ctx context.Context, accessToken string) (*Session, error) {
	if accessToken == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/user", nil)
	if err != nil {
		return nil, nil
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if c.cfg.APIKey != "" {
		req.Header.Set("apikey", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Error("provider unreachable during session lookup", "error", err)
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Debug("provider rejected access token", "status", resp.StatusCode)
		return nil, nil
	}

	claims := map[string]any{}
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		slog.Error("undecodable user payload from provider", "error", err)
		return nil, nil
	}

	u := user.FromClaims(claims)
	if u == nil {
		return nil, nil
	}

	return &Session{AccessToken: accessToken, User: u}, nil
}

func (c *httpClient) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	if refreshToken == "" {
		return nil, nil
	}

	token, _, err := c.postJSON(ctx, c.cfg.BaseURL+"/token?grant_type=refresh_token",
		map[string]string{"refresh_token": refreshToken}, "")
	if err != nil {
		// Fail closed: a dead refresh token means signed out.
		slog.Info("session refresh failed", "error", err)
		return nil, nil
	}
	return token.session(), nil
}

func (c *httpClient) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	token, _, err := c.postJSON(ctx, c.cfg.BaseURL+"/token?grant_type=password",
		map[string]string{"email": email, "password": password}, "")
	if err != nil {
		return nil, err
	}

	session := token.session()
	c.events.Emit(EventSignedIn, session)
	return session, nil
}

func (c *httpClient) SignUpWithPassword(ctx context.Context, params SignUpParams) (*Session, error) {
	token, raw, err := c.postJSON(ctx, c.cfg.BaseURL+"/signup", map[string]any{
		"email":    params.Email,
		"password": params.Password,
		"data": map[string]any{
			"nickname": params.Nickname,
			"gender":   string(params.Gender),
		},
	}, "")
	if err != nil {
		return nil, err
	}

	session := token.session()
	if session.User == nil {
		// Confirmation pending: the provider answers a bare top-level
		// user object instead of a token envelope.
		claims := map[string]any{}
		if json.Unmarshal(raw, &claims) == nil {
			session.User = user.FromClaims(claims)
		}
	}
	if session.AccessToken != "" {
		c.events.Emit(EventSignedIn, session)
	}
	return session, nil
}

func (c *httpClient) ResetPasswordForEmail(ctx context.Context, email string) error {
	_, _, err := c.postJSON(ctx, c.cfg.BaseURL+"/recover", map[string]string{"email": email}, "")
	return err
}

func (c *httpClient) VerifyOTP(ctx context.Context, email, token, otpType string) (*Session, error) {
	resp, _, err := c.postJSON(ctx, c.cfg.BaseURL+"/verify",
		map[string]string{"type": otpType, "email": email, "token": token}, "")
	if err != nil {
		return nil, err
	}

	session := resp.session()
	if session.User == nil {
		if full, _ := c.GetSession(ctx, session.AccessToken); full != nil {
			session.User = full.User
		}
	}

	if otpType == OTPTypeRecovery {
		c.events.Emit(EventPasswordRecovery, session)
	} else {
		c.events.Emit(EventSignedIn, session)
	}
	return session, nil
}

func (c *httpClient) UpdatePassword(ctx context.Context, accessToken, newPassword string) (*user.User, error) {
	data, err := json.Marshal(map[string]string{"password": newPassword})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.cfg.BaseURL+"/user", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if c.cfg.APIKey != "" {
		req.Header.Set("apikey", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, NewAuthError(KindProviderUnavailable, err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewAuthError(KindProviderUnavailable, err.Error())
	}
	if resp.StatusCode != http.StatusOK {
		return nil, mapProviderError(resp.StatusCode, respBody)
	}

	claims := map[string]any{}
	if err := json.Unmarshal(respBody, &claims); err != nil {
		return nil, fmt.Errorf("decode user response: %w", err)
	}
	u := user.FromClaims(claims)
	if u == nil {
		return nil, NewAuthError(KindUnknown, "provider returned no user after password update")
	}

	c.events.Emit(EventUserUpdated, &Session{AccessToken: accessToken, User: u})
	return u, nil
}

func (c *httpClient) ResendVerification(ctx context.Context, email string) error {
	_, _, err := c.postJSON(ctx, c.cfg.BaseURL+"/resend",
		map[string]string{"type": OTPTypeSignup, "email": email}, "")
	return err
}

func (c *httpClient) AuthCodeURL(state, verifier string) string {
	return c.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

func (c *httpClient) ExchangeOAuthCode(ctx context.Context, code, verifier string) (*Session, error) {
	token, err := c.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		slog.Error("code exchange failed", "error", err)
		return nil, NewAuthError(KindUnknown, "authorization code could not be exchanged")
	}

	session := &Session{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		ExpiresAt:    token.Expiry,
	}
	if claims, ok := token.Extra("user").(map[string]any); ok {
		session.User = user.FromClaims(claims)
	}
	if session.User == nil {
		if full, _ := c.GetSession(ctx, token.AccessToken); full != nil {
			session.User = full.User
		}
	}

	c.events.Emit(EventSignedIn, session)
	return session, nil
}

func (c *httpClient) SignOut(ctx context.Context, accessToken string) error {
	defer c.events.Emit(EventSignedOut, nil)

	if accessToken == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/logout", nil)
	if err != nil {
		return nil
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if c.cfg.APIKey != "" {
		req.Header.Set("apikey", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Revocation is best effort; the cookie is gone either way.
		slog.Warn("provider sign-out failed", "error", err)
		return nil
	}
	resp.Body.Close()
	return nil
}

func (c *httpClient) OnAuthStateChange(fn Listener) func() {
	return c.events.OnAuthStateChange(fn)
}
