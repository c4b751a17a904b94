// Package server assembles the edge: route guard, session endpoints
// and the server-rendered pages, behind one echo instance.
package server

import (
	"context"
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nimbleslab/chatgate/pkg/authapi"
	"github.com/nimbleslab/chatgate/pkg/authsession"
	"github.com/nimbleslab/chatgate/pkg/idp"
	"github.com/nimbleslab/chatgate/pkg/loginflow"
	"github.com/nimbleslab/chatgate/pkg/routeguard"
	"github.com/nimbleslab/chatgate/pkg/sessioncookie"
	"github.com/nimbleslab/chatgate/pkg/user"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

//go:embed templates/*.html
var templatesFS embed.FS

type Server struct {
	config    *Config
	root      *echo.Echo
	events    *idp.Events
	client    idp.Client
	reader    *authsession.Reader
	templates *template.Template
}

func New(config *Config) (*Server, error) {
	codec, err := sessioncookie.NewCodecFromBase64(config.Cookie.EncryptKey, config.Cookie.SignKey)
	if err != nil {
		return nil, err
	}

	jar := sessioncookie.NewJar(config.Cookie.Name, config.Production())
	if config.Cookie.MaxAge > 0 {
		jar.MaxAge = config.Cookie.MaxAge.Std()
	}

	events := idp.NewEvents()
	var client idp.Client
	if config.Provider.Mock {
		mock := idp.NewMock(events)
		mock.AddAccount("demo@chatgate.local", "demo-password", "demo", user.GenderOther)
		slog.Warn("running against the mock identity provider", "account", "demo@chatgate.local")
		client = mock
	} else {
		client = idp.NewClient(config.Provider, events)
	}

	flowTTL := config.LoginFlowTTL.Std()
	if flowTTL <= 0 {
		flowTTL = loginflow.DefaultTTL
	}
	var flows loginflow.Store
	if config.Redis.Address != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     config.Redis.Address,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		flows = loginflow.NewRedisStore(rdb, "", flowTTL)
		slog.Info("login flows stored in redis", "address", config.Redis.Address)
	} else {
		flows = loginflow.NewMemoryStore(flowTTL)
	}

	reader := authsession.NewReader(codec, jar, client)

	s := &Server{
		config:    config,
		events:    events,
		client:    client,
		reader:    reader,
		templates: template.Must(template.ParseFS(templatesFS, "templates/*.html")),
	}

	root := echo.New()
	root.HideBanner = true
	root.HidePort = true
	root.Use(middleware.Logger())
	root.Use(middleware.Recover())
	root.Use(s.guard(reader).Middleware())

	api := authapi.New(client, reader, flows)
	api.MountRoutes(root.Group("/api/auth"))

	root.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	root.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	root.GET("/", s.page("home.html"))
	root.GET("/chat", s.page("chat.html"))
	root.GET("/settings", s.page("settings.html"))
	root.GET("/profile", s.page("profile.html"))
	root.GET("/sign-in", s.page("sign_in.html"))
	root.GET("/sign-up", s.page("sign_up.html"))
	root.GET("/forgot-password", s.page("forgot_password.html"))
	root.GET("/verify-otp", s.page("forgot_password.html"))

	s.root = root
	return s, nil
}

func (s *Server) guard(reader *authsession.Reader) *routeguard.Guard {
	protected := s.config.Routes.Protected
	if len(protected) == 0 {
		protected = routeguard.DefaultProtected
	}
	authOnly := s.config.Routes.AuthOnly
	if len(authOnly) == 0 {
		authOnly = routeguard.DefaultAuthOnly
	}
	exempt := s.config.Routes.Exempt
	if len(exempt) == 0 {
		exempt = routeguard.DefaultExempt
	}
	return routeguard.NewGuard(routeguard.NewClassifier(protected, authOnly, exempt), reader)
}

type pageData struct {
	User *user.User
}

// page renders a template with the user the guard resolved, if any.
// Protected pages never reach this handler signed out.
func (s *Server) page(name string) echo.HandlerFunc {
	return func(c echo.Context) error {
		data := pageData{}
		if u, ok := c.Get("user").(*user.User); ok {
			data.User = u
		}
		c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
		return s.templates.ExecuteTemplate(c.Response(), name, data)
	}
}

// ListenAndServe blocks until the listener fails or ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.config.Address,
		Handler:      s.root,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	slog.Info("listening", "address", s.config.Address, "environment", s.config.Environment)
	return server.ListenAndServe()
}

// Handler exposes the assembled routes for tests.
func (s *Server) Handler() http.Handler {
	return s.root
}
