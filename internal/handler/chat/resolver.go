package chat

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/genchat/backend/internal/model/preset"
	chatService "github.com/zhouzirui/genchat/backend/internal/service/chat"
	"github.com/zhouzirui/genchat/backend/internal/service/conversation"
	"github.com/zhouzirui/genchat/backend/pkg/utils"
)

// ErrUnknownView is returned for a view id without a preset.
var ErrUnknownView = errors.New("unknown view")

// SessionKey derives the session key from the route. Every view, and every
// conversation opened in a view, gets its own session.
func SessionKey(view, conversationID string) string {
	if conversationID == "" {
		return "/" + view
	}
	return "/" + view + "/" + conversationID
}

// Resolver maps view routes to chat handles, creating the session on first
// access.
type Resolver struct {
	presets preset.Store
	engine  *chatService.Engine
}

// NewResolver 创建会话解析器
func NewResolver(presets preset.Store, engine *chatService.Engine) *Resolver {
	return &Resolver{presets: presets, engine: engine}
}

// Resolve returns the handle for the request's view. A view without a
// conversation starts from its preset system context; a view with one is
// hydrated from the backend history.
func (rv *Resolver) Resolve(r *http.Request) (*chatService.Chat, preset.Preset, error) {
	viewID := chi.URLParam(r, "view")
	p, ok := rv.presets.FindByID(viewID)
	if !ok {
		return nil, preset.Preset{}, ErrUnknownView
	}

	conversationID := chi.URLParam(r, "conversationID")
	handle := rv.engine.Chat(SessionKey(viewID, conversationID))
	if rv.engine.Store().Exists(handle.Key()) {
		return handle, p, nil
	}

	if conversationID == "" {
		handle.Init(p.SystemContext)
		return handle, p, nil
	}
	if err := handle.Load(r.Context(), conversationID); err != nil {
		return nil, preset.Preset{}, err
	}
	return handle, p, nil
}

// RespondResolveError writes the HTTP error for a failed Resolve.
func RespondResolveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnknownView):
		utils.RespondError(w, http.StatusNotFound, "view not found")
	case errors.Is(err, conversation.ErrConversationNotFound):
		utils.RespondError(w, http.StatusNotFound, "conversation not found")
	default:
		utils.RespondError(w, http.StatusBadGateway, err.Error())
	}
}
