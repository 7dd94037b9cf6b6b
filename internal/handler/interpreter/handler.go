package interpreter

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	chatHandler "github.com/zhouzirui/genchat/backend/internal/handler/chat"
	"github.com/zhouzirui/genchat/backend/internal/logging"
	"github.com/zhouzirui/genchat/backend/internal/service/interpreter"
	"github.com/zhouzirui/genchat/backend/internal/transport"
	"github.com/zhouzirui/genchat/backend/pkg/utils"
)

// Handler 代码生成视图的HTTP处理器
type Handler struct {
	resolver *chatHandler.Resolver
	service  *interpreter.Service
	logger   *zap.Logger
}

func New(resolver *chatHandler.Resolver, service *interpreter.Service, logger *zap.Logger) *Handler {
	return &Handler{
		resolver: resolver,
		service:  service,
		logger:   logging.OrNop(logger).Named("interpreter"),
	}
}

// RegisterViewRoutes 注册代码提取与测试数据路由
func (h *Handler) RegisterViewRoutes(r chi.Router) {
	r.Get("/code", h.handleCode)
	r.Post("/test-data", h.handleTestData)
}

type codeResponse struct {
	Code string `json:"code"`
}

type testDataResponse struct {
	Code     string `json:"code"`
	TestData string `json:"testData"`
}

func (h *Handler) handleCode(w http.ResponseWriter, r *http.Request) {
	handle, _, err := h.resolver.Resolve(r)
	if err != nil {
		chatHandler.RespondResolveError(w, err)
		return
	}
	code, err := interpreter.LatestCode(handle.Messages())
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, codeResponse{Code: code})
}

// handleTestData 基于当前会话为最新代码生成一份测试输入
func (h *Handler) handleTestData(w http.ResponseWriter, r *http.Request) {
	if !h.service.Ready() {
		utils.RespondError(w, http.StatusServiceUnavailable, transport.ErrModelUnavailable.Error())
		return
	}

	handle, _, err := h.resolver.Resolve(r)
	if err != nil {
		chatHandler.RespondResolveError(w, err)
		return
	}
	if handle.Loading() {
		utils.RespondError(w, http.StatusConflict, "a turn is in progress")
		return
	}
	code, err := interpreter.LatestCode(handle.Messages())
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}

	data, err := h.service.TestData(r.Context(), handle.Transcript())
	if err != nil {
		if errors.Is(err, transport.ErrModelUnavailable) {
			utils.RespondError(w, http.StatusServiceUnavailable, transport.ErrModelUnavailable.Error())
			return
		}
		utils.RespondError(w, http.StatusBadGateway, err.Error())
		return
	}
	h.logger.Info("test data generated", zap.String("key", handle.Key()))
	utils.RespondJSON(w, http.StatusOK, testDataResponse{Code: code, TestData: data})
}
