package sessioncookie

import (
	"fmt"
	"net/http"
	"time"
)

const DefaultMaxAge = 20 * 24 * time.Hour

// Jar is the cookie template for the session cookie. In production
// mode the cookie gets the __Host- prefix, the Secure flag and is
// otherwise locked down; in development it stays plain so local HTTP
// works.
type Jar struct {
	Name       string
	Production bool
	MaxAge     time.Duration
}

func NewJar(name string, production bool) *Jar {
	return &Jar{Name: name, Production: production, MaxAge: DefaultMaxAge}
}

// CookieName returns the effective cookie name including the __Host-
// prefix in production mode.
func (j *Jar) CookieName() string {
	if j.Production {
		return fmt.Sprintf("__Host-%s", j.Name)
	}
	return j.Name
}

func (j *Jar) template() *http.Cookie {
	return &http.Cookie{
		Name:     j.CookieName(),
		Path:     "/",
		HttpOnly: true,
		Secure:   j.Production,
		SameSite: http.SameSiteLaxMode,
	}
}

// New returns a session cookie carrying value.
func (j *Jar) New(value string) *http.Cookie {
	cookie := j.template()
	cookie.Value = value
	maxAge := j.MaxAge
	if maxAge == 0 {
		maxAge = DefaultMaxAge
	}
	cookie.MaxAge = int(maxAge.Seconds())
	return cookie
}

// Expired returns a cookie that instructs the browser to drop the
// session cookie.
func (j *Jar) Expired() *http.Cookie {
	cookie := j.template()
	cookie.MaxAge = -1
	cookie.Expires = time.Unix(0, 0)
	return cookie
}

// Read extracts the raw session cookie value from the request.
func (j *Jar) Read(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(j.CookieName())
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}
