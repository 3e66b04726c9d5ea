package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"beam/relay/internal/core"
	"beam/relay/internal/protocol"
	"beam/relay/internal/ws"
)

// Server is the Echo application: room lifecycle REST plus the websocket
// transport.
type Server struct {
	echo     *echo.Echo
	registry *core.Registry
	owners   *core.OwnershipLimiter
}

// New constructs an Echo app with websocket + REST routes.
func New(registry *core.Registry, owners *core.OwnershipLimiter, frames ws.FrameLimit) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Debug("request", "method", v.Method, "uri", v.URI, "status", v.Status)
			return nil
		},
	}))

	s := &Server{echo: e, registry: registry, owners: owners}
	s.registerRoutes(frames)
	return s
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes(frames ws.FrameLimit) {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/inspect", s.handleInspect)
	s.echo.POST("/beam/:version/server", s.handleCreate)
	s.echo.DELETE("/beam/:version/server", s.handleClose)
	ws.NewHandler(s.registry, frames).Register(s.echo)
}

// Run starts Echo and blocks until ctx cancellation or startup failure.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		return nil
	}
}

type createResponse struct {
	Code  string `json:"code"`
	Token string `json:"token"`
}

// handleCreate allocates a room. The response carries only the random
// part of the code; a caller that supplied a prefix already knows it.
func (s *Server) handleCreate(c echo.Context) error {
	if c.Param("version") != protocol.Version {
		return echo.NewHTTPError(http.StatusBadRequest, "unsupported protocol version")
	}

	ip := requestIP(c)
	if s.owners.AtCap(ip) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "room limit reached for this address")
	}

	capacity := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be an integer")
		}
		capacity = n
	}
	prefix := c.QueryParam("prefix")

	room := s.registry.Create(capacity, prefix, ip)
	return c.JSON(http.StatusCreated, createResponse{
		Code:  strings.TrimPrefix(room.Code(), prefix),
		Token: room.OwnerSecret(),
	})
}

// handleClose tears a room down on the owner's request. The owner secret
// doubles as the close credential.
func (s *Server) handleClose(c echo.Context) error {
	if c.Param("version") != protocol.Version {
		return echo.NewHTTPError(http.StatusBadRequest, "unsupported protocol version")
	}

	code := c.QueryParam("code")
	room := s.registry.Lookup(code)
	if room == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no such room")
	}
	if c.QueryParam("token") != room.OwnerSecret() {
		return echo.NewHTTPError(http.StatusUnauthorized, "owner token mismatch")
	}

	s.registry.Teardown(room)
	slog.Info("room closed by owner", "room", code)
	return c.NoContent(http.StatusOK)
}

type healthResponse struct {
	Status string `json:"status"`
	Rooms  int    `json:"rooms"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status: "ok",
		Rooms:  s.registry.Count(),
	})
}

type inspectResponse struct {
	Rooms []core.Snapshot `json:"rooms"`
}

func (s *Server) handleInspect(c echo.Context) error {
	rooms := s.registry.Snapshots()
	if rooms == nil {
		rooms = []core.Snapshot{}
	}
	return c.JSON(http.StatusOK, inspectResponse{Rooms: rooms})
}

func requestIP(c echo.Context) string {
	if ip := c.RealIP(); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(c.Request().RemoteAddr)
	if err != nil {
		return c.Request().RemoteAddr
	}
	return host
}
