package httptransport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/venkatesh-gg/streamchain-audit-pipeline/internal/broadcast"
	"github.com/venkatesh-gg/streamchain-audit-pipeline/internal/platform/middleware"
	"github.com/venkatesh-gg/streamchain-audit-pipeline/pkg/requestcontext"
)

const (
	readLimit    = 4096
	echoTimeout  = 5 * time.Second
	pingDeadline = 5 * time.Second
)

// LiveHandler upgrades connections and registers them as live subscribers.
type LiveHandler struct {
	registry  *broadcast.Registry
	upgrader  websocket.Upgrader
	keepAlive time.Duration
	logger    *slog.Logger
}

// NewLiveHandler creates the websocket endpoint handler. A non-positive
// keepAlive disables pings and idle timeouts.
func NewLiveHandler(registry *broadcast.Registry, keepAlive time.Duration, logger *slog.Logger) *LiveHandler {
	return &LiveHandler{
		registry: registry,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 5 * time.Second,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
		keepAlive: keepAlive,
		logger:    logger,
	}
}

// HandleConnect handles GET /ws. The connection receives every broadcast
// until it disconnects; client text frames are echoed back.
func (h *LiveHandler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		h.logger.DebugContext(ctx, "websocket upgrade failed", "error", err)
		return
	}

	// a peer that misses two pings in a row is considered gone
	idle := 2 * h.keepAlive
	conn.SetReadLimit(readLimit)
	if idle > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(idle))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(idle))
		})
	}

	ws := broadcast.NewWSConn(conn)
	handle := h.registry.Register(ws)
	device := middleware.DeviceFromContext(ctx)
	h.logger.InfoContext(ctx, "live subscriber connected",
		"connection_id", handle.ID(),
		"request_id", requestcontext.RequestID(ctx),
		"client_ip", requestcontext.ClientIP(ctx),
		"browser", device.Browser,
		"os", device.OS,
	)

	stop := make(chan struct{})
	if h.keepAlive > 0 {
		go h.pingLoop(ws, handle, stop)
	}

	h.readLoop(ctx, ws, idle)
	close(stop)
	h.registry.Unregister(handle)
	h.logger.InfoContext(ctx, "live subscriber disconnected", "connection_id", handle.ID())
}

// readLoop runs until the peer goes away or the registry closes the
// connection after a failed broadcast.
func (h *LiveHandler) readLoop(ctx context.Context, ws *broadcast.WSConn, idle time.Duration) {
	for {
		msgType, data, err := ws.Read(idle)
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		sendCtx, cancel := context.WithTimeout(ctx, echoTimeout)
		err = ws.Send(sendCtx, []byte(fmt.Sprintf("Message received: %s", data)))
		cancel()
		if err != nil {
			return
		}
	}
}

func (h *LiveHandler) pingLoop(ws *broadcast.WSConn, handle *broadcast.Handle, stop <-chan struct{}) {
	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := ws.Ping(pingDeadline); err != nil {
				h.registry.Unregister(handle)
				return
			}
		}
	}
}
