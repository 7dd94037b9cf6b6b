package watch

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	chatHandler "github.com/zhouzirui/genchat/backend/internal/handler/chat"
	"github.com/zhouzirui/genchat/backend/internal/logging"
	"github.com/zhouzirui/genchat/backend/internal/service/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Handler pushes session view snapshots over a WebSocket.
type Handler struct {
	resolver *chatHandler.Resolver
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// New 创建视图订阅处理器
func New(resolver *chatHandler.Resolver, logger *zap.Logger) *Handler {
	return &Handler{
		resolver: resolver,
		logger:   logging.OrNop(logger).Named("watch"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterViewRoutes 注册单个视图下的订阅路由
func (h *Handler) RegisterViewRoutes(r chi.Router) {
	r.Get("/watch", h.handleWatch)
}

type outgoingMessage struct {
	Type      string       `json:"type"`
	Data      session.View `json:"data"`
	Timestamp int64        `json:"timestamp"`
}

func (h *Handler) handleWatch(w http.ResponseWriter, r *http.Request) {
	handle, _, err := h.resolver.Resolve(r)
	if err != nil {
		chatHandler.RespondResolveError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	updates, unsubscribe := handle.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.readLoop(conn, cancel)

	h.logger.Debug("watcher connected", zap.String("key", handle.Key()))
	if err := h.send(conn, handle.View()); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("watcher disconnected", zap.String("key", handle.Key()))
			return
		case view, ok := <-updates:
			if !ok {
				return
			}
			if err := h.send(conn, view); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// readLoop only drains control frames; watchers never send data.
func (h *Handler) readLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("read error", zap.Error(err))
			}
			return
		}
	}
}

func (h *Handler) send(conn *websocket.Conn, view session.View) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := conn.WriteJSON(outgoingMessage{Type: "view", Data: view, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		h.logger.Debug("write failed", zap.Error(err))
	}
	return err
}
