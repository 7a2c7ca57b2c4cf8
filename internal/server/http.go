package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	appconfig "github.com/chengjon/taskmaster-pro-sub002/config"
)

// Server wraps the Echo server.
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// New creates the HTTP server with the full middleware stack and routes.
func New(handler *Handler, cfg appconfig.ServerConfig, auth AuthConfig) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	auth.SkipPaths = append(auth.SkipPaths, "/health")
	if cfg.MetricsEnabled {
		auth.SkipPaths = append(auth.SkipPaths, "/metrics")
	}

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	bodyLimit := cfg.BodySizeLimit
	if bodyLimit <= 0 {
		bodyLimit = appconfig.DefaultBodySizeLimit
	}
	e.Use(middleware.BodyLimit(strconv.FormatInt(bodyLimit, 10)))

	if cfg.RateLimit > 0 {
		e.Use(middleware.RateLimiter(
			middleware.NewRateLimiterMemoryStore(rate.Limit(cfg.RateLimit))))
	}

	e.Use(DecompressMiddleware())
	e.Use(AuthMiddleware(auth))

	e.GET("/health", handler.Health)
	if cfg.MetricsEnabled {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	e.GET("/v1/providers", handler.ListProviders)
	e.GET("/v1/providers/:name/status", handler.ProviderStatus)
	e.POST("/v1/generate", handler.Generate)
	e.POST("/v1/generate/stream", handler.GenerateStream)

	e.POST("/v1/tasks", handler.CreateTask)
	e.GET("/v1/tasks", handler.ListTasks)
	e.GET("/v1/tasks/:id", handler.GetTask)
	e.PATCH("/v1/tasks/:id", handler.UpdateTask)
	e.DELETE("/v1/tasks/:id", handler.DeleteTask)
	e.POST("/v1/tasks/:id/subtasks", handler.AddSubTask)
	e.POST("/v1/tasks/:id/expand", handler.ExpandTask)

	return &Server{echo: e, handler: handler}
}

// Start starts the HTTP server on the given address.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements http.Handler so the server can be driven by httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
