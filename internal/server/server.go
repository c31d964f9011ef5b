package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/cliff-de-tech/Post-Bot/internal/auth"
	"github.com/cliff-de-tech/Post-Bot/internal/config"
	"github.com/cliff-de-tech/Post-Bot/internal/domain"
)

const (
	sessionName          = "postbot_session"
	sessionKeyOAuthState = "oauth_state"
	sessionMaxAge        = 10 * time.Minute // only bridges the OAuth redirect

	// TenantHeader carries the tenant id set by the upstream identity proxy.
	TenantHeader = "X-Post-Bot-User"
)

// postgresHealthChecker is the minimal pool surface the readiness probe needs.
type postgresHealthChecker interface {
	Ping(ctx context.Context) error
}

type Server struct {
	echo         *echo.Echo
	config       *config.Config
	flow         *auth.Service
	validator    *auth.Validator
	accounts     domain.AccountRepository
	sessionStore *sessions.CookieStore
	db           postgresHealthChecker
	startTime    time.Time
}

func New(cfg *config.Config, flow *auth.Service, validator *auth.Validator, accounts domain.AccountRepository, db postgresHealthChecker) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	sessionStore := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	sessionStore.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(sessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   !cfg.IsDevelopment(),
		SameSite: http.SameSiteLaxMode,
	}

	srv := &Server{
		echo:         e,
		config:       cfg,
		flow:         flow,
		validator:    validator,
		accounts:     accounts,
		sessionStore: sessionStore,
		db:           db,
		startTime:    time.Now(),
	}

	srv.registerRoutes()
	return srv
}

func (s *Server) Start() error {
	slog.Info("starting server", "port", s.config.Port)
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// requireTenant extracts the tenant id injected by the identity proxy. A
// request without it never made it through the proxy and is rejected.
func (s *Server) requireTenant(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID := c.Request().Header.Get(TenantHeader)
		if userID == "" {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing tenant identity"})
		}
		c.Set("userID", userID)
		return next(c)
	}
}

func tenantID(c echo.Context) string {
	userID, _ := c.Get("userID").(string)
	return userID
}
