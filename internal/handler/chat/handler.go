package chat

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/genchat/backend/internal/logging"
	"github.com/zhouzirui/genchat/backend/internal/model/chat"
	"github.com/zhouzirui/genchat/backend/internal/service/conversation"
	"github.com/zhouzirui/genchat/backend/pkg/utils"
)

// Handler 聊天视图的HTTP处理器
type Handler struct {
	resolver *Resolver
	logger   *zap.Logger
}

// New 创建聊天处理器
func New(resolver *Resolver, logger *zap.Logger) *Handler {
	return &Handler{
		resolver: resolver,
		logger:   logging.OrNop(logger).Named("view"),
	}
}

// RegisterViewRoutes 注册单个视图下的路由，由调用方挂载在 /views/{view} 及其会话子路由下
func (h *Handler) RegisterViewRoutes(r chi.Router) {
	r.Get("/", h.handleGetView)
	r.Post("/clear", h.handleClear)
	r.Put("/system", h.handleUpdateSystem)
	r.Post("/messages", h.handlePushMessage)
	r.Delete("/messages/last", h.handlePopMessage)
	r.Post("/feedback", h.handleFeedback)
}

func (h *Handler) handleGetView(w http.ResponseWriter, r *http.Request) {
	handle, _, err := h.resolver.Resolve(r)
	if err != nil {
		RespondResolveError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, handle.View())
}

// handleClear 以预设的系统提示重新开始会话
func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	handle, p, err := h.resolver.Resolve(r)
	if err != nil {
		RespondResolveError(w, err)
		return
	}
	handle.Clear(p.SystemContext)
	h.logger.Info("session cleared", zap.String("key", handle.Key()))
	utils.RespondJSON(w, http.StatusOK, handle.View())
}

func (h *Handler) handleUpdateSystem(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SystemContext string `json:"systemContext"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.SystemContext) == "" {
		utils.RespondError(w, http.StatusBadRequest, "systemContext is required")
		return
	}

	handle, _, err := h.resolver.Resolve(r)
	if err != nil {
		RespondResolveError(w, err)
		return
	}
	handle.UpdateSystemContext(payload.SystemContext)
	utils.RespondJSON(w, http.StatusOK, handle.View())
}

// handlePushMessage 直接追加消息，不经过对话流程
func (h *Handler) handlePushMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Role    chat.Role `json:"role"`
		Content string    `json:"content"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !payload.Role.Valid() {
		utils.RespondError(w, http.StatusBadRequest, "role must be system, user or assistant")
		return
	}

	handle, _, err := h.resolver.Resolve(r)
	if err != nil {
		RespondResolveError(w, err)
		return
	}
	if err := handle.PushMessage(payload.Role, payload.Content); err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusCreated, handle.View())
}

func (h *Handler) handlePopMessage(w http.ResponseWriter, r *http.Request) {
	handle, _, err := h.resolver.Resolve(r)
	if err != nil {
		RespondResolveError(w, err)
		return
	}
	msg, ok := handle.PopMessage()
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "no message to remove")
		return
	}
	utils.RespondJSON(w, http.StatusOK, msg)
}

// handleFeedback 为指定时间创建的消息记录反馈
func (h *Handler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		CreatedAt time.Time `json:"createdAt"`
		Feedback  string    `json:"feedback"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.CreatedAt.IsZero() {
		utils.RespondError(w, http.StatusBadRequest, "createdAt is required")
		return
	}

	handle, _, err := h.resolver.Resolve(r)
	if err != nil {
		RespondResolveError(w, err)
		return
	}
	if err := handle.SendFeedback(r.Context(), payload.CreatedAt, payload.Feedback); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, conversation.ErrMessageNotFound) {
			status = http.StatusNotFound
		}
		h.logger.Warn("feedback failed", zap.String("key", handle.Key()), zap.Error(err))
		utils.RespondError(w, status, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, handle.View())
}
