// Package httpapi wires the relay's plain HTTP surface (spec §6): minting
// pairs, health, the root banner, Prometheus metrics, and delegating the
// /connect upgrade to the ws package.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clipsync/internal/pairing"
	"clipsync/internal/session"
	"clipsync/internal/ws"
)

// Server is the Echo application exposing the relay's HTTP surface.
type Server struct {
	echo      *echo.Echo
	registry  *session.Registry
	mintTTL   time.Duration
	startedAt time.Time
}

// New constructs the Echo app and registers every route. gatherer is the
// Prometheus registry /metrics serves; pass a dedicated *prometheus.Registry
// rather than the global default so tests don't collide across runs.
func New(reg *session.Registry, wsHandler *ws.Handler, mintTTL time.Duration, gatherer prometheus.Gatherer) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(requestLogger())

	defaultErrorHandler := e.DefaultHTTPErrorHandler
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		var he *echo.HTTPError
		if errors.As(err, &he) && (he.Code == http.StatusNotFound || he.Code == http.StatusMethodNotAllowed) {
			if !c.Response().Committed {
				_ = c.String(http.StatusNotFound, "Not found")
			}
			return
		}
		defaultErrorHandler(err, c)
	}

	s := &Server{echo: e, registry: reg, mintTTL: mintTTL, startedAt: time.Now()}
	s.registerRoutes(wsHandler, gatherer)
	return s
}

// requestLogger returns Echo middleware that logs each HTTP request via slog.
func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			path := req.URL.Path

			if path == "/connect" || path == "/health" || path == "/metrics" {
				slog.Debug("http request",
					"method", req.Method,
					"path", path,
					"status", c.Response().Status,
					"duration_ms", time.Since(start).Milliseconds(),
				)
			} else {
				slog.Info("http request",
					"method", req.Method,
					"path", path,
					"status", c.Response().Status,
					"duration_ms", time.Since(start).Milliseconds(),
					"remote", c.RealIP(),
				)
			}
			return nil
		}
	}
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes(wsHandler *ws.Handler, gatherer prometheus.Gatherer) {
	s.echo.GET("/pair", s.handlePair)
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/", s.handleRoot)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	wsHandler.Register(s.echo)
}

// shutdownGrace bounds how long in-flight requests and websocket upgrades
// get to drain once ctx is canceled before Shutdown forcibly closes them.
const shutdownGrace = 5 * time.Second

// Run starts Echo in the foreground and blocks until it exits. A background
// watcher triggers a graceful Shutdown as soon as ctx is canceled, so the
// caller only needs to cancel ctx and wait for Run to return.
func (s *Server) Run(ctx context.Context, addr string) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		slog.Info("shutting down http server")
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := s.echo.Shutdown(shutCtx); err != nil {
			slog.Error("http server shutdown error", "err", err)
		}
		slog.Info("http server stopped")
	}()

	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handlePair(c echo.Context) error {
	creds, err := pairing.Mint(s.registry, s.mintTTL)
	if err != nil {
		slog.Error("mint pair failed", "err", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to mint pair")
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return c.JSON(http.StatusOK, creds)
}

type healthResponse struct {
	OK     bool  `json:"ok"`
	Uptime int64 `json:"uptime"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		OK:     true,
		Uptime: int64(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleRoot(c echo.Context) error {
	return c.String(http.StatusOK, "ClipSync relay running")
}
