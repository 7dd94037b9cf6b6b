package conversation

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/genchat/backend/internal/service/conversation"
	"github.com/zhouzirui/genchat/backend/pkg/utils"
)

// Handler 会话记录的只读HTTP处理器
type Handler struct {
	conversations *conversation.Service
}

// New 创建会话记录处理器
func New(conversations *conversation.Service) *Handler {
	return &Handler{conversations: conversations}
}

// RegisterRoutes 注册会话记录相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/conversations", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Get("/{conversationID}", h.handleGet)
		r.Get("/{conversationID}/messages", h.handleMessages)
		r.Delete("/{conversationID}", h.handleDelete)
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	convs, err := h.conversations.ListConversations(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, convs)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	conv, err := h.conversations.FindConversation(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		respondLookupError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, conv)
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.conversations.ListMessages(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		respondLookupError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, messages)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.conversations.DeleteConversation(r.Context(), chi.URLParam(r, "conversationID")); err != nil {
		respondLookupError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func respondLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, conversation.ErrConversationNotFound) {
		utils.RespondError(w, http.StatusNotFound, "conversation not found")
		return
	}
	utils.RespondError(w, http.StatusInternalServerError, err.Error())
}
