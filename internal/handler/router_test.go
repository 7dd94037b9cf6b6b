package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/zhouzirui/genchat/backend/internal/model/preset"
	chatService "github.com/zhouzirui/genchat/backend/internal/service/chat"
	"github.com/zhouzirui/genchat/backend/internal/service/conversation"
	"github.com/zhouzirui/genchat/backend/internal/service/session"
	"github.com/zhouzirui/genchat/backend/internal/transport"
)

func newTestRouter(t *testing.T) http.Handler {
	backend := conversation.NewService()
	adapter := transport.New(nil, backend, nil)
	engine := chatService.NewEngine(session.NewStore(), adapter)
	t.Cleanup(engine.Wait)

	return NewRouter(Deps{
		Presets:           preset.NewMemoryStore(preset.Seed()),
		Engine:            engine,
		Conversations:     backend,
		Predictor:         adapter,
		ExtractRetryLimit: 2,
		AllowedOrigins:    []string{"*"},
		Logger:            zaptest.NewLogger(t),
	})
}

func TestRouterMountsRoutes(t *testing.T) {
	r := newTestRouter(t)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/healthz", http.StatusOK},
		{http.MethodGet, "/api/presets", http.StatusOK},
		{http.MethodGet, "/api/conversations", http.StatusOK},
		{http.MethodGet, "/api/views/chat", http.StatusOK},
		{http.MethodGet, "/api/views/translate", http.StatusOK},
		{http.MethodGet, "/api/views/chat/conversations/unknown", http.StatusNotFound},
		{http.MethodDelete, "/api/views/editorial/messages/last", http.StatusOK},
		{http.MethodGet, "/api/views/interpreter/code", http.StatusNotFound},
		{http.MethodPost, "/api/views/interpreter/test-data", http.StatusServiceUnavailable},
		{http.MethodGet, "/api/views/rag", http.StatusOK},
		{http.MethodGet, "/api/unknown", http.StatusNotFound},
	}

	for _, tt := range tests {
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, httptest.NewRequest(tt.method, tt.path, nil))
		assert.Equal(t, tt.want, resp.Code, "%s %s", tt.method, tt.path)
	}
}

func TestRouterAppliesCORS(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/presets", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	assert.Equal(t, "*", resp.Header().Get("Access-Control-Allow-Origin"))
}
