// Package adminsrv exposes the narrow operational HTTP surface the observe
// and consume daemons carry alongside their main loop: a liveness probe and
// a stats snapshot. Adapted from the teacher's http/server.go, which built
// full API servers with CORS/API-key middleware this daemon has no need
// for — trimmed down to logging, recovery, and rate limiting.
package adminsrv

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// Config controls the admin surface's listener and rate limit.
type Config struct {
	Port            int
	RateLimit       float64 // requests/sec; 0 disables limiting
	ShutdownTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Port:            8090,
		RateLimit:       10,
		ShutdownTimeout: 10 * time.Second,
	}
}

// StatsFunc reports a point-in-time snapshot for GET /stats.
type StatsFunc func() map[string]interface{}

// Server is the admin HTTP surface for one running daemon (observe|consume).
type Server struct {
	echo   *echo.Echo
	config Config
}

// New builds the admin server. serviceName/version populate /healthz;
// stats populates /stats (nil omits the field entirely).
func New(config Config, serviceName, version string, stats StatsFunc) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(requestIDMiddleware)
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "[${time_rfc3339}] ${id} ${status} ${method} ${uri} (${latency_human})\n",
	}))
	e.Use(middleware.Recover())
	if config.RateLimit > 0 {
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(config.RateLimit))))
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": serviceName,
			"version": version,
		})
	})
	e.GET("/stats", func(c echo.Context) error {
		if stats == nil {
			return c.JSON(http.StatusOK, map[string]interface{}{})
		}
		return c.JSON(http.StatusOK, stats())
	})

	return &Server{echo: e, config: config}
}

// requestIDMiddleware stamps every request with a short correlation ID,
// the same "take the caller's header or generate one" shape the
// teacher's tracing middleware uses for its correlation/operation IDs,
// generalized from that one traced endpoint to every admin route.
func requestIDMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Request().Header.Get(echo.HeaderXRequestID)
		if id == "" {
			id = "req-" + uuid.New().String()[:8]
		}
		c.Response().Header().Set(echo.HeaderXRequestID, id)
		return next(c)
	}
}

// Start runs the server; call from a goroutine, it blocks until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	err := s.echo.Start(addr)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}
