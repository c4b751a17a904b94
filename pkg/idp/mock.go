package idp

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nimbleslab/chatgate/pkg/user"
	"github.com/segmentio/ksuid"
)

// Mock is an in-process identity provider for tests and local
// development. It hands out real-looking token pairs and honors the
// same failure taxonomy as the remote client.
type Mock struct {
	mu            sync.Mutex
	accounts      map[string]*mockAccount // by email
	accessTokens  map[string]*Session     // by access token
	refreshTokens map[string]string       // refresh token -> email
	codes         map[string]string       // auth code -> email
	otps          map[string]string       // email -> one-time code
	events        *Events

	// SessionTTL bounds issued access tokens. Zero means one hour.
	SessionTTL time.Duration
}

type mockAccount struct {
	password string
	verified bool
	user     *user.User
}

func NewMock(events *Events) *Mock {
	if events == nil {
		events = NewEvents()
	}
	return &Mock{
		accounts:      map[string]*mockAccount{},
		accessTokens:  map[string]*Session{},
		refreshTokens: map[string]string{},
		codes:         map[string]string{},
		otps:          map[string]string{},
		events:        events,
	}
}

// AddAccount seeds a verified account and returns its user.
func (m *Mock) AddAccount(email, password, nickname string, gender user.Gender) *user.User {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	u := &user.User{
		ID:        uuid.NewString(),
		Email:     email,
		Nickname:  nickname,
		Gender:    gender,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.accounts[email] = &mockAccount{password: password, verified: true, user: u}
	return u
}

// AddUnverifiedAccount seeds an account that has not confirmed its
// email yet.
func (m *Mock) AddUnverifiedAccount(email, password string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	m.accounts[email] = &mockAccount{
		password: password,
		user: &user.User{
			ID:        uuid.NewString(),
			Email:     email,
			Gender:    user.GenderOther,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

// IssueCode mints a one-time authorization code for email, as the
// provider would after a completed social login.
func (m *Mock) IssueCode(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	code := ksuid.New().String()
	m.codes[code] = email
	return code
}

func (m *Mock) issueSessionLocked(account *mockAccount) *Session {
	ttl := m.SessionTTL
	if ttl == 0 {
		ttl = time.Hour
	}

	session := &Session{
		AccessToken:  "at-" + ksuid.New().String(),
		RefreshToken: "rt-" + ksuid.New().String(),
		TokenType:    "bearer",
		ExpiresAt:    time.Now().Add(ttl),
		User:         account.user,
	}
	m.accessTokens[session.AccessToken] = session
	m.refreshTokens[session.RefreshToken] = account.user.Email
	return session
}

func (m *Mock) GetSession(ctx context.Context, accessToken string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.accessTokens[accessToken]
	if !ok || session.Expired() {
		return nil, nil
	}
	return session, nil
}

func (m *Mock) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	email, ok := m.refreshTokens[refreshToken]
	if !ok {
		return nil, nil
	}
	account, ok := m.accounts[email]
	if !ok {
		return nil, nil
	}

	// Refresh tokens rotate on use.
	delete(m.refreshTokens, refreshToken)
	return m.issueSessionLocked(account), nil
}

func (m *Mock) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	m.mu.Lock()
	account, ok := m.accounts[email]
	if !ok || account.password != password {
		m.mu.Unlock()
		return nil, NewAuthError(KindInvalidCredentials, "email or password is incorrect")
	}
	if !account.verified {
		m.mu.Unlock()
		return nil, NewAuthError(KindEmailNotVerified, "email address has not been verified")
	}
	session := m.issueSessionLocked(account)
	m.mu.Unlock()

	m.events.Emit(EventSignedIn, session)
	return session, nil
}

func (m *Mock) SignUpWithPassword(ctx context.Context, params SignUpParams) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.accounts[params.Email]; exists {
		return nil, NewAuthError(KindUnknown, "account already registered")
	}

	now := time.Now().UTC()
	account := &mockAccount{
		password: params.Password,
		user: &user.User{
			ID:        uuid.NewString(),
			Email:     params.Email,
			Nickname:  params.Nickname,
			Gender:    params.Gender,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	m.accounts[params.Email] = account

	// Confirmation pending: user but no tokens.
	return &Session{User: account.user}, nil
}

func (m *Mock) AuthCodeURL(state, verifier string) string {
	query := url.Values{}
	query.Set("state", state)
	query.Set("response_type", "code")
	return fmt.Sprintf("https://idp.invalid/authorize?%s", query.Encode())
}

func (m *Mock) ExchangeOAuthCode(ctx context.Context, code, verifier string) (*Session, error) {
	m.mu.Lock()
	email, ok := m.codes[code]
	if !ok {
		m.mu.Unlock()
		return nil, NewAuthError(KindUnknown, "authorization code could not be exchanged")
	}
	delete(m.codes, code)

	account, ok := m.accounts[email]
	if !ok {
		m.mu.Unlock()
		return nil, NewAuthError(KindUnknown, "account vanished during exchange")
	}
	session := m.issueSessionLocked(account)
	m.mu.Unlock()

	m.events.Emit(EventSignedIn, session)
	return session, nil
}

// LastOTP returns the pending one-time code for email, standing in for
// reading the recovery mail in tests and local development.
func (m *Mock) LastOTP(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.otps[email]
}

func (m *Mock) ResetPasswordForEmail(ctx context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Unknown addresses get no code and no error.
	if _, ok := m.accounts[email]; ok {
		m.otps[email] = ksuid.New().String()
	}
	return nil
}

func (m *Mock) VerifyOTP(ctx context.Context, email, token, otpType string) (*Session, error) {
	m.mu.Lock()
	code, ok := m.otps[email]
	if !ok || code != token {
		m.mu.Unlock()
		return nil, NewAuthError(KindInvalidCredentials, "code is invalid or expired")
	}
	delete(m.otps, email)

	account := m.accounts[email]
	if account == nil {
		m.mu.Unlock()
		return nil, NewAuthError(KindInvalidCredentials, "code is invalid or expired")
	}
	if otpType == OTPTypeSignup {
		account.verified = true
	}
	session := m.issueSessionLocked(account)
	m.mu.Unlock()

	if otpType == OTPTypeRecovery {
		m.events.Emit(EventPasswordRecovery, session)
	} else {
		m.events.Emit(EventSignedIn, session)
	}
	return session, nil
}

func (m *Mock) UpdatePassword(ctx context.Context, accessToken, newPassword string) (*user.User, error) {
	m.mu.Lock()
	session, ok := m.accessTokens[accessToken]
	if !ok || session.Expired() {
		m.mu.Unlock()
		return nil, NewAuthError(KindSessionExpired, "session is no longer valid")
	}
	account := m.accounts[session.User.Email]
	if account == nil {
		m.mu.Unlock()
		return nil, NewAuthError(KindSessionExpired, "account no longer exists")
	}
	account.password = newPassword
	account.user.UpdatedAt = time.Now().UTC()
	u := account.user
	m.mu.Unlock()

	m.events.Emit(EventUserUpdated, &Session{AccessToken: accessToken, User: u})
	return u, nil
}

func (m *Mock) ResendVerification(ctx context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if account, ok := m.accounts[email]; ok && !account.verified {
		m.otps[email] = ksuid.New().String()
	}
	return nil
}

func (m *Mock) SignOut(ctx context.Context, accessToken string) error {
	m.mu.Lock()
	if session, ok := m.accessTokens[accessToken]; ok {
		delete(m.accessTokens, accessToken)
		delete(m.refreshTokens, session.RefreshToken)
	}
	m.mu.Unlock()

	m.events.Emit(EventSignedOut, nil)
	return nil
}

func (m *Mock) OnAuthStateChange(fn Listener) func() {
	return m.events.OnAuthStateChange(fn)
}
