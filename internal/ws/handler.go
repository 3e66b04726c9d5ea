package ws

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"beam/relay/internal/core"
	"beam/relay/internal/protocol"
)

// FrameLimit tunes the per-connection inbound frame token bucket. This
// guards the read loop against a single chatty connection; it is
// independent of the per-room registration strike limiter.
type FrameLimit struct {
	PerSecond rate.Limit
	Burst     int
}

// DefaultFrameLimit allows 100 frames per second with a burst of 200.
func DefaultFrameLimit() FrameLimit {
	return FrameLimit{PerSecond: 100, Burst: 200}
}

// Handler owns the websocket transport. Each upgraded connection is
// wrapped as a core.Channel and handed to admission exactly once; after
// that the read loop feeds frames to the session until disconnect.
type Handler struct {
	registry *core.Registry
	limit    FrameLimit
	upgrader websocket.Upgrader
}

// NewHandler creates a websocket handler bound to the room registry.
func NewHandler(registry *core.Registry, limit FrameLimit) *Handler {
	return &Handler{
		registry: registry,
		limit:    limit,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
}

// Register binds the websocket route on an Echo router.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/ws/:version", h.HandleWebSocket)
}

// HandleWebSocket upgrades one request and serves it until disconnect.
// Admission failures are delivered as close codes, which requires the
// upgrade to happen before any validation.
func (h *Handler) HandleWebSocket(c echo.Context) error {
	wsConn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("upgrade websocket: %w", err)
	}
	h.serveConn(wsConn, c)
	return nil
}

func (h *Handler) serveConn(wsConn *websocket.Conn, c echo.Context) {
	wsConn.SetReadLimit(maxFrameBytes)
	ch := newConn(wsConn)

	if c.Param("version") != protocol.Version {
		_ = ch.Close(protocol.CodeVersionGone)
		return
	}

	q := c.Request().URL.Query()
	params := core.Params{
		Code:    q.Get("code"),
		Name:    q.Get("name"),
		HasName: q.Has("name"),
		Token:   q.Get("token"),
	}

	sess, err := core.Admit(h.registry, params, clientIP(c), ch)
	if err != nil {
		var rej *core.Rejection
		if errors.As(err, &rej) {
			_ = ch.Close(rej.Code)
		} else {
			_ = ch.Close(protocol.CloseCode(websocket.CloseInternalServerErr))
		}
		return
	}

	limiter := rate.NewLimiter(h.limit.PerSecond, h.limit.Burst)

	_ = wsConn.SetReadDeadline(time.Now().Add(readTimeout))
	wsConn.SetPongHandler(func(string) error {
		return wsConn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			sess.Disconnect(ch.issuedCloseCode(err))
			_ = ch.Close(protocol.CloseCode(websocket.CloseNormalClosure))
			return
		}
		_ = wsConn.SetReadDeadline(time.Now().Add(readTimeout))

		if !limiter.Allow() {
			_ = ch.Close(protocol.CloseCode(websocket.ClosePolicyViolation))
			sess.Disconnect(protocol.CloseCode(websocket.ClosePolicyViolation))
			return
		}
		sess.HandleFrame(data)
	}
}

// clientIP prefers the proxy-aware address and falls back to the socket
// peer. Rate limiting and ownership caps key on this value.
func clientIP(c echo.Context) string {
	if ip := c.RealIP(); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(c.Request().RemoteAddr)
	if err != nil {
		return c.Request().RemoteAddr
	}
	return host
}
