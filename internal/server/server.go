package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/nfrund/watchparty/internal/config"
	"github.com/nfrund/watchparty/internal/metrics"
	"github.com/nfrund/watchparty/internal/middleware"
	"github.com/nfrund/watchparty/internal/module"
	"github.com/nfrund/watchparty/internal/registry"
)

// Dependencies holds everything the server needs to be constructed.
type Dependencies struct {
	Config  *config.Config
	Metrics *metrics.Metrics
	// Verifier authenticates websocket callers. Nil means the caller-supplied
	// userId is trusted.
	Verifier middleware.TokenVerifier
	// Echo is optional; tests may pass their own instance.
	Echo *echo.Echo
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	E        *echo.Echo
	Cfg      *config.Config
	metrics  *metrics.Metrics
	verifier middleware.TokenVerifier
	modules  []module.Module
	onStop   []func(context.Context)
}

// New creates a new Server instance.
func New(deps Dependencies) (*Server, error) {
	if deps.Config == nil {
		return nil, errors.New("server: config is required")
	}
	if deps.Metrics == nil {
		return nil, errors.New("server: metrics are required")
	}
	if deps.Config.TokenAuth() && deps.Verifier == nil {
		return nil, errors.New("server: token auth mode requires a verifier")
	}

	e := deps.Echo
	if e == nil {
		e = echo.New()
	}
	e.HideBanner = true
	e.HidePort = true
	e.Validator = middleware.NewValidator()

	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(slog.Default()))
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			logger := middleware.FromContext(c.Request().Context())
			if v.Error != nil {
				logger.Info("Request failed", "method", v.Method, "uri", v.URI, "status", v.Status, "error", v.Error)
				return nil
			}
			logger.Debug("Request", "method", v.Method, "uri", v.URI, "status", v.Status)
			return nil
		},
	}))
	e.Use(echomw.Recover())
	setupErrorHandling(e)

	if !deps.Config.TokenAuth() {
		slog.Warn("Websocket identities are not verified; callers may claim any userId", "auth_mode", deps.Config.AuthMode)
	}

	return &Server{
		E:        e,
		Cfg:      deps.Config,
		metrics:  deps.Metrics,
		verifier: deps.Verifier,
	}, nil
}

// setupErrorHandling logs unhandled errors with a stack trace before
// delegating to echo's default error response.
func setupErrorHandling(e *echo.Echo) {
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		var he *echo.HTTPError
		if !errors.As(err, &he) || he.Code >= http.StatusInternalServerError {
			middleware.FromContext(c.Request().Context()).Error("Internal Server Error (Unhandled)",
				"error", err,
				"path", c.Request().URL.Path,
				"stack_trace", string(debug.Stack()),
			)
		}
		e.DefaultHTTPErrorHandler(err, c)
	}
}

// InitModules starts modules under /ws, behind the connect rate limit and,
// in token mode, the identity check. ctx bounds the modules' background work.
func (s *Server) InitModules(ctx context.Context, modules []module.Module, reg *registry.Registry) error {
	ws := s.E.Group("/ws", middleware.RateLimiter(s.Cfg.ConnectRate))
	if s.verifier != nil {
		ws.Use(middleware.Identity(s.verifier))
	}

	// Modules that registered are shut down even if a later one fails to boot.
	s.modules = modules
	return module.Start(ctx, ws, reg, modules)
}

// OnStop registers fn to run after the modules have shut down, e.g. to
// close the bus or flush traces.
func (s *Server) OnStop(fn func(context.Context)) {
	s.onStop = append(s.onStop, fn)
}
