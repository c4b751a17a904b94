package routeguard

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/nimbleslab/chatgate/pkg/authsession"
)

const redirectToParam = "redirectTo"

// Guard is the per-request interception layer. It resolves the session
// cookie, classifies the route and either passes the request through
// or answers with a redirect before any body is produced.
type Guard struct {
	classifier *Classifier
	reader     *authsession.Reader
	signInPath string
}

func NewGuard(classifier *Classifier, reader *authsession.Reader) *Guard {
	return &Guard{
		classifier: classifier,
		reader:     reader,
		signInPath: "/sign-in",
	}
}

// Middleware returns the echo middleware enforcing the route map.
func (g *Guard) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path

			classification := g.classifier.Classify(path)
			if classification == Exempt {
				guardDecisions.WithLabelValues("exempt").Inc()
				return next(c)
			}

			result := g.resolve(c)

			// The rotated cookie must reach the browser even when the
			// answer is a redirect; resolution has already consumed the
			// old refresh token at the provider.
			if result.RefreshedCookie != nil {
				c.SetCookie(result.RefreshedCookie)
			}

			switch classification {
			case Protected:
				if result.User == nil {
					guardDecisions.WithLabelValues("redirect_sign_in").Inc()
					return c.Redirect(http.StatusFound, g.signInURL(req))
				}
			case AuthOnly:
				if result.User != nil {
					guardDecisions.WithLabelValues("redirect_away").Inc()
					return c.Redirect(http.StatusFound, sanitizeRedirect(req.URL.Query().Get(redirectToParam)))
				}
			}

			guardDecisions.WithLabelValues("pass").Inc()
			if result.User != nil {
				c.Set("user", result.User)
			}
			return next(c)
		}
	}
}

// resolve never lets a session failure escape: whatever goes wrong,
// the request continues as unauthenticated and downstream guards
// re-check.
func (g *Guard) resolve(c echo.Context) (result *authsession.Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("session resolution panicked, continuing unauthenticated", "panic", r)
			result = &authsession.Result{}
		}
	}()
	return g.reader.Resolve(c.Request().Context(), c.Request())
}

func (g *Guard) signInURL(req *http.Request) string {
	target := req.URL.Path
	if req.URL.RawQuery != "" {
		target += "?" + req.URL.RawQuery
	}

	query := url.Values{}
	query.Set(redirectToParam, target)
	return g.signInPath + "?" + query.Encode()
}

// sanitizeRedirect keeps post-login redirects on this origin. Anything
// that is not a plain relative path collapses to the application root.
func sanitizeRedirect(target string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") {
		return "/"
	}
	return target
}
