package handlers

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/nazim05-hub/MessengerX/config"
	"github.com/nazim05-hub/MessengerX/metrics"
	"github.com/nazim05-hub/MessengerX/middleware"
	"github.com/nazim05-hub/MessengerX/services"
	"github.com/nazim05-hub/MessengerX/utils"
)

// WSConfig holds the per-connection transport limits
type WSConfig struct {
	WriteTimeout    time.Duration
	PongWait        time.Duration
	PingInterval    time.Duration
	MaxMessageBytes int64
}

// WSConfigFrom copies the transport settings out of cfg
func WSConfigFrom(cfg *config.Config) WSConfig {
	return WSConfig{
		WriteTimeout:    cfg.WSWriteTimeout,
		PongWait:        cfg.WSPongWait,
		PingInterval:    cfg.WSPingInterval,
		MaxMessageBytes: cfg.WSMaxMessageBytes,
	}
}

func (c *WSConfig) norm() {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
}

type WebSocketHandler struct {
	hub      *services.Hub
	router   *services.Router
	gate     *services.SessionGate
	conf     WSConfig
	upgrader websocket.Upgrader
	logger   *utils.Logger
	metrics  *metrics.Metrics
}

func NewWebSocketHandler(hub *services.Hub, router *services.Router, gate *services.SessionGate, conf WSConfig, logger *utils.Logger, m *metrics.Metrics) *WebSocketHandler {
	conf.norm()
	return &WebSocketHandler{
		hub:    hub,
		router: router,
		gate:   gate,
		conf:   conf,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Clients authenticate with a token, not cookies
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger.With("component", "websocket"),
		metrics: m,
	}
}

// requestToken looks at the path, then the query, then the bearer header
func requestToken(c *gin.Context) string {
	if token := strings.TrimSpace(c.Param("token")); token != "" {
		return token
	}
	return middleware.ExtractToken(c.Request)
}

// Serve upgrades the request and runs the connection until either side
// closes it
func (h *WebSocketHandler) Serve(c *gin.Context) {
	token := requestToken(c)

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already answered with an HTTP error
		h.logger.Debug("WebSocket upgrade failed", "error", err)
		return
	}

	ctx := c.Request.Context()
	user, err := h.gate.Authenticate(ctx, token)
	if err != nil {
		h.metrics.AuthRejected()
		h.logger.Info("Rejected live connection", "error", err)
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.conf.WriteTimeout))
		_ = ws.Close()
		return
	}

	conn := newWSConnection(ws, h.conf.WriteTimeout)
	h.hub.Connect(ctx, user.ID, conn)

	var once sync.Once
	disconnect := func() {
		once.Do(func() {
			h.hub.Disconnect(context.WithoutCancel(ctx), user.ID, conn)
			_ = conn.Close()
		})
	}
	defer disconnect()

	ws.SetReadLimit(h.conf.MaxMessageBytes)
	_ = ws.SetReadDeadline(time.Now().Add(h.conf.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.conf.PongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go conn.keepalive(done, h.conf.PingInterval)

	client := services.Client{UserID: user.ID, Username: user.Username, Conn: conn}
	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				h.logger.Debug("Connection closed unexpectedly", "user_id", user.ID, "conn_id", conn.ID(), "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		_ = ws.SetReadDeadline(time.Now().Add(h.conf.PongWait))
		h.router.Dispatch(ctx, client, data)
	}
}
