package stream

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	chatHandler "github.com/zhouzirui/genchat/backend/internal/handler/chat"
	"github.com/zhouzirui/genchat/backend/internal/logging"
	"github.com/zhouzirui/genchat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/genchat/backend/internal/service/chat"
	"github.com/zhouzirui/genchat/backend/internal/service/session"
	"github.com/zhouzirui/genchat/backend/pkg/utils"
)

// Runner executes one turn for a view. Runners that prepare the session
// first must pass opts through to SubmitTurn.
type Runner func(ctx context.Context, handle *chatService.Chat, text string, opts ...chatService.TurnOption) error

func submit(ctx context.Context, handle *chatService.Chat, text string, opts ...chatService.TurnOption) error {
	return handle.SubmitTurn(ctx, text, opts...)
}

// Handler runs chat turns and streams their progress via Server-Sent Events.
type Handler struct {
	resolver *chatHandler.Resolver
	runners  map[string]Runner
	logger   *zap.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New creates a new stream handler. runners maps view IDs to the Runner for
// that view; other views submit the text as is.
func New(resolver *chatHandler.Resolver, runners map[string]Runner, logger *zap.Logger) *Handler {
	return &Handler{
		resolver: resolver,
		runners:  runners,
		logger:   logging.OrNop(logger).Named("stream"),
		inflight: make(map[string]struct{}),
	}
}

// RegisterViewRoutes 注册单个视图下的流式路由
func (h *Handler) RegisterViewRoutes(r chi.Router) {
	r.Post("/turns", h.handleTurn)
}

// TurnEvent is the payload of every SSE event of a turn.
type TurnEvent struct {
	Key          string             `json:"key,omitempty"`
	Content      string             `json:"content,omitempty"`
	Message      *chat.Message      `json:"message,omitempty"`
	Conversation *chat.Conversation `json:"conversation,omitempty"`
	Error        string             `json:"error,omitempty"`
}

func (h *Handler) handleTurn(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}
	if _, ok := w.(http.Flusher); !ok {
		utils.RespondError(w, http.StatusInternalServerError, utils.ErrStreamingUnsupported.Error())
		return
	}

	handle, p, err := h.resolver.Resolve(r)
	if err != nil {
		chatHandler.RespondResolveError(w, err)
		return
	}

	key := handle.Key()
	if !h.acquire(key) {
		utils.RespondError(w, http.StatusConflict, "a turn is already in progress")
		return
	}
	if handle.Loading() {
		h.release(key)
		utils.RespondError(w, http.StatusConflict, "a turn is already in progress")
		return
	}

	run, ok := h.runners[p.ID]
	if !ok {
		run = submit
	}

	updates, unsubscribe := handle.Subscribe()
	defer unsubscribe()

	// 客户端断开不会中止本轮对话
	started := make(chan session.Turn, 1)
	done := make(chan error, 1)
	go func() {
		defer h.release(key)
		done <- run(context.WithoutCancel(r.Context()), handle, payload.Text,
			chatService.OnTurnStart(func(turn session.Turn) {
				select {
				case started <- turn:
				default:
				}
			}))
	}()

	sse, err := utils.NewSSEWriter(w)
	if err != nil {
		h.logger.Error("failed to open event stream", zap.Error(err))
		return
	}
	_ = sse.Event("start", TurnEvent{Key: key})

	// Unknown until the turn is appended to the session.
	replyIndex := -1
	sent := 0
	emit := func(view session.View) {
		if replyIndex < 0 || len(view.Messages) <= replyIndex {
			return
		}
		reply := view.Messages[replyIndex]
		if reply.Role != chat.RoleAssistant || len(reply.Content) <= sent {
			return
		}
		if err := sse.Event("delta", TurnEvent{Content: reply.Content[sent:]}); err != nil {
			h.logger.Debug("failed to write delta", zap.Error(err))
		}
		sent = len(reply.Content)
	}

	for {
		select {
		case turn := <-started:
			replyIndex = turn.Reply
			emit(handle.View())
		case view, ok := <-updates:
			if ok {
				emit(view)
			}
		case turnErr := <-done:
			select {
			case turn := <-started:
				replyIndex = turn.Reply
			default:
			}
			final := handle.View()
			emit(final)
			if turnErr != nil {
				h.logger.Warn("turn failed", zap.String("key", key), zap.Error(turnErr))
				_ = sse.Event("error", TurnEvent{Key: key, Error: turnErr.Error()})
				return
			}
			if replyIndex >= 0 && len(final.Messages) > replyIndex {
				reply := final.Messages[replyIndex]
				_ = sse.Event("message", TurnEvent{Key: key, Message: &reply, Conversation: final.Conversation})
			}
			_ = sse.Event("end", TurnEvent{Key: key})
			h.logger.Info("turn completed", zap.String("key", key))
			return
		case <-r.Context().Done():
			h.logger.Info("client disconnected, turn continues", zap.String("key", key))
			return
		}
	}
}

func (h *Handler) acquire(key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, busy := h.inflight[key]; busy {
		return false
	}
	h.inflight[key] = struct{}{}
	return true
}

func (h *Handler) release(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.inflight, key)
}
