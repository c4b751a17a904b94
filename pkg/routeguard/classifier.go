// Package routeguard classifies request paths into access-control
// buckets and enforces them as middleware before anything is rendered.
package routeguard

import "strings"

type Classification int

const (
	// Public paths render for everyone.
	Public Classification = iota
	// Protected paths require a session.
	Protected
	// AuthOnly paths (sign-in, sign-up) bounce authenticated users
	// back into the app.
	AuthOnly
	// Exempt paths bypass the guard entirely: provider callbacks,
	// static assets and API routes that make their own auth decisions.
	Exempt
)

func (c Classification) String() string {
	switch c {
	case Protected:
		return "protected"
	case AuthOnly:
		return "auth_only"
	case Exempt:
		return "exempt"
	default:
		return "public"
	}
}

// Classifier matches paths by prefix against three static lists. The
// lists are fixed for the process lifetime.
type Classifier struct {
	protected []string
	authOnly  []string
	exempt    []string
}

func NewClassifier(protected, authOnly, exempt []string) *Classifier {
	return &Classifier{protected: protected, authOnly: authOnly, exempt: exempt}
}

// Default route lists for the chat application. Whether "/" itself is
// protected is a deployment choice; by default it is public so the
// landing page renders for signed-out visitors.
var (
	DefaultProtected = []string{"/chat", "/settings", "/profile"}
	DefaultAuthOnly  = []string{"/sign-in", "/sign-up", "/login", "/register", "/forgot-password", "/verify-otp"}
	DefaultExempt    = []string{"/api/auth/callback", "/api/", "/static/", "/assets/", "/favicon.ico", "/healthz", "/metrics"}
)

func DefaultClassifier() *Classifier {
	return NewClassifier(DefaultProtected, DefaultAuthOnly, DefaultExempt)
}

// Classify buckets a path. Exempt wins over everything else so that a
// callback path that happens to share a protected prefix can never
// deadlock the login flow.
func (c *Classifier) Classify(path string) Classification {
	if matchesPrefix(c.exempt, path) {
		return Exempt
	}
	if matchesPrefix(c.protected, path) {
		return Protected
	}
	if matchesPrefix(c.authOnly, path) {
		return AuthOnly
	}
	return Public
}

func matchesPrefix(prefixes []string, path string) bool {
	for _, prefix := range prefixes {
		if prefix == "/" {
			if path == "/" {
				return true
			}
			continue
		}
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
