package websocket

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"geochat/internal/hub"
	"geochat/internal/registry"
	"geochat/pkg/types"
)

var upgrader = websocket.Upgrader{
	// Origin checking is left to the deployment's reverse proxy.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Handler upgrades HTTP requests and pumps inbound events into the hub.
type Handler struct {
	registry     *registry.Registry
	hub          *hub.Hub
	log          *zap.Logger
	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
	sendBuffer   int
}

type Options struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
}

func NewHandler(reg *registry.Registry, h *hub.Hub, opts Options, log *zap.Logger) *Handler {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 60 * time.Second
	}
	return &Handler{
		registry:     reg,
		hub:          h,
		log:          log,
		pingInterval: opts.PingInterval,
		readTimeout:  opts.ReadTimeout,
		writeTimeout: opts.WriteTimeout,
		sendBuffer:   opts.SendBuffer,
	}
}

// HandleWebSocket upgrades the request, greets the client and runs the
// read loop until the peer goes away.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	wsConn := NewConnection(conn, h.sendBuffer, h.writeTimeout)
	h.registry.Add(wsConn)
	h.log.Info("client connected", zap.String("conn", wsConn.ID()))

	greeting := types.OutboundEvent{
		Event: types.EventResponse,
		Data:  map[string]string{"message": "Connected to WebSocket!"},
	}
	if err := wsConn.WriteJSON(greeting); err != nil {
		h.log.Warn("greeting failed", zap.String("conn", wsConn.ID()), zap.Error(err))
	}

	go h.readLoop(wsConn)
}

func (h *Handler) readLoop(conn *Connection) {
	defer func() {
		if err := h.hub.Submit(hub.Event{Conn: conn, Gone: true}); err != nil {
			// Hub is down, clean up the registry directly.
			h.registry.Drop(conn)
			h.registry.UnregisterByHandle(conn)
		}
		_ = conn.Close()
		h.log.Info("client disconnected", zap.String("conn", conn.ID()))
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(h.readTimeout)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	})

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.Ping(); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("read failed", zap.String("conn", conn.ID()), zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var event types.InboundEvent
		if err := json.Unmarshal(data, &event); err != nil || event.Event == "" {
			h.writeError(conn, "invalid event payload")
			continue
		}

		if err := h.hub.Submit(hub.Event{Conn: conn, Kind: event.Event, Data: event.Data}); err != nil {
			h.log.Warn("event dropped",
				zap.String("conn", conn.ID()),
				zap.String("event", event.Event),
				zap.Error(err))
			h.writeError(conn, "server is busy, event dropped")
		}
	}
}

func (h *Handler) writeError(conn *Connection, message string) {
	out := types.OutboundEvent{
		Event: types.EventResponse,
		Data:  map[string]string{"error": message},
	}
	if err := conn.WriteJSON(out); err != nil {
		h.log.Warn("error write failed", zap.String("conn", conn.ID()), zap.Error(err))
	}
}
